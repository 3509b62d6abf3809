package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/goliatone/go-esim/core"
)

// Delivery is one inbound webhook request.
type Delivery struct {
	Body      []byte
	Signature string
}

// Result is what the HTTP layer writes back to the payment processor.
// StatusCode 5xx asks the processor to redeliver.
type Result struct {
	StatusCode   int
	Acknowledged bool
	Processor    core.PaymentMethod
	EventID      string
	EventType    string
	OrderID      string
	Deduped      bool
	Ignored      bool
	Unverified   bool
	ErrorCode    string
	Message      string
	Order        *core.Order
	Metadata     map[string]any
}

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	return min(delay, maximum)
}

// Processor runs verify -> dedupe -> orchestrate for one payment processor.
type Processor struct {
	Verifier         *EventVerifier
	Secret           SecretSource
	Ledger           DeliveryLedger
	Fulfiller        core.OrderFulfiller
	Burst            BurstController
	RetryPolicy      RetryPolicy
	Observer         *core.Observer
	RejectUnverified bool
	ClaimLease       time.Duration
	MaxAttempts      int
	Now              func() time.Time
}

func NewProcessor(verifier *EventVerifier, secret SecretSource, ledger DeliveryLedger, fulfiller core.OrderFulfiller) *Processor {
	return &Processor{
		Verifier:         verifier,
		Secret:           secret,
		Ledger:           ledger,
		Fulfiller:        fulfiller,
		RetryPolicy:      ExponentialRetryPolicy{},
		RejectUnverified: true,
		ClaimLease:       time.Minute,
		MaxAttempts:      10,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (p *Processor) Process(ctx context.Context, delivery Delivery) (result Result, err error) {
	startedAt := time.Now()
	defer func() {
		if p == nil {
			return
		}
		p.Observer.ObserveOperation(ctx, startedAt, "process_webhook", err, map[string]any{
			"payment_method": string(result.Processor),
			"event_id":       result.EventID,
			"payment_event":  result.EventType,
			"order_id":       result.OrderID,
			"http_status":    result.StatusCode,
			"deduped":        result.Deduped,
			"ignored":        result.Ignored,
		})
	}()

	if p == nil || p.Verifier == nil || p.Fulfiller == nil || p.Ledger == nil {
		return Result{StatusCode: http.StatusInternalServerError}, core.NewError(core.ErrorInternal, "webhooks: processor requires verifier, ledger and fulfiller", nil)
	}
	result.Processor = p.Verifier.Processor

	secret := ""
	if p.Secret != nil {
		secret, err = p.Secret.Secret(ctx)
		if err != nil {
			return p.reject(result, http.StatusInternalServerError, err), err
		}
	}

	event, err := p.Verifier.Verify(delivery.Body, delivery.Signature, secret)
	if err != nil {
		return p.reject(result, http.StatusBadRequest, err), err
	}
	result.EventID = firstNonEmpty(event.EventID, bodyDigest(delivery.Body))
	result.EventType = event.EventType
	result.OrderID = event.OrderID
	result.Unverified = event.Unverified

	if event.Unverified {
		if p.RejectUnverified {
			err = core.NewError(core.ErrorUnverifiedEventRejected, "webhooks: no signing secret is configured", map[string]any{
				"processor": string(event.Processor),
			})
			return p.reject(result, http.StatusBadRequest, err), err
		}
		p.Observer.Log(ctx, "warn", "accepting unverified webhook event", map[string]any{
			"payment_method": string(event.Processor),
			"event_id":       result.EventID,
		})
	}

	if event.Outcome == core.PaymentOutcomeIgnored {
		result.StatusCode = http.StatusOK
		result.Acknowledged = true
		result.Ignored = true
		result.Message = "event acknowledged"
		return result, nil
	}

	record, claimed, err := p.Ledger.Claim(ctx, string(event.Processor), result.EventID, delivery.Body, p.claimLease())
	if err != nil {
		return p.reject(result, http.StatusInternalServerError, err), err
	}
	if !claimed {
		result.StatusCode = http.StatusOK
		result.Acknowledged = true
		result.Deduped = true
		result.Message = "event already received"
		result.Metadata = map[string]any{"delivery_status": record.Status}
		return result, nil
	}

	// A redelivery already passed the burst check on its first attempt.
	if p.Burst != nil && record.Attempts <= 1 {
		decision, burstErr := p.Burst.Allow(ctx, event)
		if burstErr != nil {
			p.fail(ctx, record, burstErr)
			return p.reject(result, http.StatusInternalServerError, burstErr), burstErr
		}
		if !decision.Allow {
			if err = p.Ledger.Complete(ctx, record.ClaimID); err != nil {
				return p.reject(result, http.StatusInternalServerError, err), err
			}
			result.StatusCode = http.StatusOK
			result.Acknowledged = true
			result.Deduped = true
			result.Message = "event coalesced"
			result.Metadata = decision.Metadata
			return result, nil
		}
	}

	order, err := p.Fulfiller.Fulfill(ctx, event)
	if order.ID != "" {
		result.Order = &order
	}
	if err != nil {
		if core.IsRetryable(err) {
			if p.Burst != nil {
				p.Burst.Forget(ctx, event)
			}
			p.fail(ctx, record, err)
			return p.reject(result, http.StatusInternalServerError, err), err
		}
		// Terminal failures are acknowledged so the processor stops redelivering.
		if completeErr := p.Ledger.Complete(ctx, record.ClaimID); completeErr != nil {
			return p.reject(result, http.StatusInternalServerError, completeErr), completeErr
		}
		result = p.reject(result, http.StatusOK, err)
		result.Acknowledged = true
		return result, err
	}

	if err = p.Ledger.Complete(ctx, record.ClaimID); err != nil {
		return p.reject(result, http.StatusInternalServerError, err), err
	}
	result.StatusCode = http.StatusOK
	result.Acknowledged = true
	result.Message = "event processed"
	return result, nil
}

func (p *Processor) reject(result Result, status int, err error) Result {
	result.StatusCode = status
	result.Acknowledged = false
	result.ErrorCode = core.TextCode(core.ToServiceError(err))
	result.Message = UserMessage(err)
	return result
}

func (p *Processor) fail(ctx context.Context, record DeliveryRecord, cause error) {
	nextAttemptAt := p.now().Add(p.retryPolicy().NextDelay(record.Attempts))
	if err := p.Ledger.Fail(ctx, record.ClaimID, cause, nextAttemptAt, p.maxAttempts()); err != nil {
		p.Observer.Log(ctx, "error", "record webhook delivery failure", map[string]any{
			"processor":   record.Processor,
			"delivery_id": record.DeliveryID,
			"error":       err.Error(),
		})
	}
}

// UserMessage maps an error onto text that is safe to return to callers.
// Provider response bodies never appear here.
func UserMessage(err error) string {
	switch core.TextCode(core.ToServiceError(err)) {
	case core.ErrorSignatureInvalid:
		return "invalid signature"
	case core.ErrorMalformedPayload:
		return "malformed payload"
	case core.ErrorUnverifiedEventRejected:
		return "unverified events are not accepted"
	case core.ErrorValidationFailed:
		return "order is missing required information"
	case core.ErrorCredentialsNotConfigured, core.ErrorAccountTerminated:
		return "order could not be fulfilled; support has been notified"
	case core.ErrorProviderTimeout, core.ErrorRateLimited:
		return "provider temporarily unavailable"
	case core.ErrorOrderNotFound:
		return "order not found"
	case core.ErrorInternal:
		return "internal error"
	default:
		return "order fulfillment failed"
	}
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return ExponentialRetryPolicy{}
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return time.Minute
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 10
}

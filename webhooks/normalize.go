package webhooks

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/goliatone/go-esim/core"
)

// Normalizer parses a verified body into a VerifiedEvent. Event types the
// pipeline does not act on come back with PaymentOutcomeIgnored.
type Normalizer func(body []byte) (core.VerifiedEvent, error)

const (
	StripeCheckoutCompleted           = "checkout.session.completed"
	StripeCheckoutAsyncPaymentSuccess = "checkout.session.async_payment_succeeded"
	StripeCheckoutAsyncPaymentFailed  = "checkout.session.async_payment_failed"
	StripeCheckoutExpired             = "checkout.session.expired"

	CoinbaseChargeConfirmed = "charge:confirmed"
	CoinbaseChargeResolved  = "charge:resolved"
	CoinbaseChargeFailed    = "charge:failed"
	CoinbaseChargeExpired   = "charge:expired"
)

type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID              string            `json:"id"`
			CustomerEmail   string            `json:"customer_email"`
			AmountTotal     int64             `json:"amount_total"`
			Currency        string            `json:"currency"`
			PaymentStatus   string            `json:"payment_status"`
			Metadata        map[string]string `json:"metadata"`
			CustomerDetails struct {
				Email string `json:"email"`
				Name  string `json:"name"`
			} `json:"customer_details"`
		} `json:"object"`
	} `json:"data"`
}

// NormalizeStripe reads checkout session events. The order id falls back to
// the session id when metadata carries none.
func NormalizeStripe(body []byte) (core.VerifiedEvent, error) {
	var envelope stripeEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return core.VerifiedEvent{}, malformed(err, core.PaymentMethodStripe)
	}
	if strings.TrimSpace(envelope.Type) == "" {
		return core.VerifiedEvent{}, malformed(nil, core.PaymentMethodStripe)
	}
	session := envelope.Data.Object
	metadata := session.Metadata
	event := core.VerifiedEvent{
		Processor:        core.PaymentMethodStripe,
		EventID:          strings.TrimSpace(envelope.ID),
		EventType:        strings.TrimSpace(envelope.Type),
		ExternalChargeID: strings.TrimSpace(session.ID),
		OrderID:          firstNonEmpty(metadata["order_id"], session.ID),
		PlanID:           strings.TrimSpace(metadata["plan_id"]),
		UserID:           strings.TrimSpace(metadata["user_id"]),
		CustomerEmail:    firstNonEmpty(session.CustomerEmail, metadata["email"], session.CustomerDetails.Email),
		CustomerName:     firstNonEmpty(metadata["name"], session.CustomerDetails.Name),
		AmountMinorUnits: session.AmountTotal,
		Currency:         strings.ToLower(strings.TrimSpace(session.Currency)),
	}

	switch event.EventType {
	case StripeCheckoutCompleted:
		event.Outcome = core.PaymentOutcomeConfirmed
		if status := strings.TrimSpace(session.PaymentStatus); status == "unpaid" {
			// Delayed payment methods confirm later through async_payment_succeeded.
			event.Outcome = core.PaymentOutcomeIgnored
		}
	case StripeCheckoutAsyncPaymentSuccess:
		event.Outcome = core.PaymentOutcomeConfirmed
	case StripeCheckoutAsyncPaymentFailed, StripeCheckoutExpired:
		event.Outcome = core.PaymentOutcomeFailed
	default:
		event.Outcome = core.PaymentOutcomeIgnored
	}
	return event, nil
}

type coinbaseEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type coinbaseCharge struct {
	ID       string            `json:"id"`
	Code     string            `json:"code"`
	Metadata map[string]string `json:"metadata"`
	Pricing  struct {
		Local struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"local"`
	} `json:"pricing"`
}

// NormalizeCoinbase reads charge events, either bare or wrapped in the
// {"event": {...}} delivery envelope.
func NormalizeCoinbase(body []byte) (core.VerifiedEvent, error) {
	var wrapper struct {
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return core.VerifiedEvent{}, malformed(err, core.PaymentMethodCoinbase)
	}
	raw := body
	if inner := bytes.TrimSpace(wrapper.Event); len(inner) > 0 && !bytes.Equal(inner, []byte("null")) {
		raw = inner
	}
	var event coinbaseEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return core.VerifiedEvent{}, malformed(err, core.PaymentMethodCoinbase)
	}
	if strings.TrimSpace(event.Type) == "" {
		return core.VerifiedEvent{}, malformed(nil, core.PaymentMethodCoinbase)
	}

	var charge coinbaseCharge
	if data := bytes.TrimSpace(event.Data); len(data) > 0 && !bytes.Equal(data, []byte("null")) {
		if err := json.Unmarshal(data, &charge); err != nil {
			return core.VerifiedEvent{}, malformed(err, core.PaymentMethodCoinbase)
		}
	}

	metadata := charge.Metadata
	verified := core.VerifiedEvent{
		Processor:        core.PaymentMethodCoinbase,
		EventID:          strings.TrimSpace(event.ID),
		EventType:        strings.TrimSpace(event.Type),
		ExternalChargeID: firstNonEmpty(charge.Code, charge.ID),
		OrderID:          strings.TrimSpace(metadata["order_id"]),
		PlanID:           strings.TrimSpace(metadata["plan_id"]),
		UserID:           strings.TrimSpace(metadata["user_id"]),
		CustomerEmail:    firstNonEmpty(metadata["customer_email"], metadata["email"]),
		CustomerName:     firstNonEmpty(metadata["customer_name"], metadata["name"]),
		AmountMinorUnits: minorUnits(charge.Pricing.Local.Amount),
		Currency:         strings.ToLower(strings.TrimSpace(charge.Pricing.Local.Currency)),
	}
	switch verified.EventType {
	case CoinbaseChargeConfirmed, CoinbaseChargeResolved:
		verified.Outcome = core.PaymentOutcomeConfirmed
	case CoinbaseChargeFailed, CoinbaseChargeExpired:
		verified.Outcome = core.PaymentOutcomeFailed
	default:
		verified.Outcome = core.PaymentOutcomeIgnored
	}
	return verified, nil
}

// minorUnits converts a decimal amount string such as "12.99" to 1299.
func minorUnits(amount string) int64 {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0
	}
	value, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(value * 100))
}

func malformed(cause error, processor core.PaymentMethod) error {
	metadata := map[string]any{"processor": string(processor)}
	if cause == nil {
		return core.NewError(core.ErrorMalformedPayload, "webhooks: event type is missing", metadata)
	}
	return core.WrapError(cause, core.ErrorMalformedPayload, "webhooks: payload is not valid json", metadata)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

package webhooks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
)

const (
	StripeSignatureHeader   = "Stripe-Signature"
	CoinbaseSignatureHeader = "X-CC-Webhook-Signature"
)

// EventVerifier authenticates one processor's webhooks and normalizes the
// body. With no secret configured the event passes through flagged
// Unverified.
type EventVerifier struct {
	Processor core.PaymentMethod
	Header    string
	Scheme    SignatureScheme
	Normalize Normalizer
	Now       func() time.Time
}

func NewStripeVerifier(tolerance time.Duration) *EventVerifier {
	return &EventVerifier{
		Processor: core.PaymentMethodStripe,
		Header:    StripeSignatureHeader,
		Scheme:    TimestampedScheme{Tolerance: tolerance},
		Normalize: NormalizeStripe,
	}
}

func NewCoinbaseVerifier() *EventVerifier {
	return &EventVerifier{
		Processor: core.PaymentMethodCoinbase,
		Header:    CoinbaseSignatureHeader,
		Scheme:    HMACScheme{Encoding: "hex"},
		Normalize: NormalizeCoinbase,
	}
}

func (v *EventVerifier) Verify(rawBody []byte, signatureHeader string, secret string) (core.VerifiedEvent, error) {
	if v == nil || v.Normalize == nil {
		return core.VerifiedEvent{}, core.NewError(core.ErrorInternal, "webhooks: verifier is not configured", nil)
	}
	secret = strings.TrimSpace(secret)
	unverified := secret == ""
	if !unverified {
		if v.Scheme == nil {
			return core.VerifiedEvent{}, core.NewError(core.ErrorInternal, "webhooks: signature scheme is not configured", nil)
		}
		if err := v.Scheme.Verify(rawBody, signatureHeader, secret, v.now()); err != nil {
			return core.VerifiedEvent{}, err
		}
	}
	event, err := v.Normalize(rawBody)
	if err != nil {
		return core.VerifiedEvent{}, err
	}
	event.Processor = v.Processor
	event.Unverified = unverified
	return event, nil
}

func (v *EventVerifier) now() time.Time {
	if v != nil && v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

// SecretSource yields the signing secret for a processor at delivery time.
type SecretSource interface {
	Secret(ctx context.Context) (string, error)
}

type StaticSecret string

func (s StaticSecret) Secret(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// ConfigSecret reads webhook_secret from the processor's configuration
// document, falling back to Fallback when the document has none.
type ConfigSecret struct {
	Store    core.ProviderConfigStore
	Provider string
	Fallback string
}

func (s ConfigSecret) Secret(ctx context.Context) (string, error) {
	if s.Store != nil {
		doc, err := s.Store.GetProviderConfig(ctx, s.Provider)
		switch {
		case err == nil && strings.TrimSpace(doc.WebhookSecret) != "":
			return strings.TrimSpace(doc.WebhookSecret), nil
		case err != nil && !errors.Is(err, core.ErrProviderConfigNotFound):
			return "", err
		}
	}
	return strings.TrimSpace(s.Fallback), nil
}

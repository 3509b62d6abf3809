package command

import (
	"strings"

	"github.com/goliatone/go-esim/core"
)

const (
	TypeFulfillOrder      = "esim.command.order.fulfill"
	TypeDispatchLifecycle = "esim.command.lifecycle.dispatch"
	TypePutProviderConfig = "esim.command.provider_config.put"
)

// FulfillOrderMessage carries a verified payment event into the orchestrator.
type FulfillOrderMessage struct {
	Event core.VerifiedEvent
}

func (FulfillOrderMessage) Type() string { return TypeFulfillOrder }

func (m FulfillOrderMessage) Validate() error {
	if strings.TrimSpace(m.Event.OrderID) == "" {
		return core.NewFieldError("command", "order_id", "order id is required")
	}
	switch m.Event.Processor {
	case core.PaymentMethodStripe, core.PaymentMethodCoinbase:
	default:
		return core.NewFieldError("command", "processor", "processor must be stripe or coinbase")
	}
	if m.Event.Outcome == core.PaymentOutcomeIgnored || m.Event.Outcome == "" {
		return core.NewFieldError("command", "outcome", "event outcome does not affect orders")
	}
	return nil
}

type DispatchLifecycleMessage struct {
	BatchSize int
}

func (DispatchLifecycleMessage) Type() string { return TypeDispatchLifecycle }

func (m DispatchLifecycleMessage) Validate() error {
	if m.BatchSize < 0 {
		return core.NewFieldError("command", "batch_size", "batch size must be >= 0")
	}
	return nil
}

type PutProviderConfigMessage struct {
	Document core.ProviderConfigDocument
}

func (PutProviderConfigMessage) Type() string { return TypePutProviderConfig }

func (m PutProviderConfigMessage) Validate() error {
	return core.WrapValidationError(m.Document.Validate(), "command: invalid provider config")
}

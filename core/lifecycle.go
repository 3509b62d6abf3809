package core

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const LifecycleSource = "esim.orchestrator"

// LifecycleProjectorRegistry holds named projectors and hands them out in
// name order, so dispatch order does not depend on registration order.
// Registering an existing name replaces its projector.
type LifecycleProjectorRegistry struct {
	mu      sync.RWMutex
	entries []namedProjector
}

type namedProjector struct {
	name    string
	handler LifecycleEventHandler
}

func NewLifecycleProjectorRegistry() *LifecycleProjectorRegistry {
	return &LifecycleProjectorRegistry{}
}

func (r *LifecycleProjectorRegistry) Register(name string, handler LifecycleEventHandler) {
	name = strings.TrimSpace(name)
	if r == nil || handler == nil || name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	at, found := slices.BinarySearchFunc(r.entries, name, func(entry namedProjector, target string) int {
		return strings.Compare(entry.name, target)
	})
	if found {
		r.entries[at].handler = handler
		return
	}
	r.entries = slices.Insert(r.entries, at, namedProjector{name: name, handler: handler})
}

func (r *LifecycleProjectorRegistry) Handlers() []LifecycleEventHandler {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LifecycleEventHandler, len(r.entries))
	for i, entry := range r.entries {
		out[i] = entry.handler
	}
	return out
}

// NewOrderEvent snapshots the order into a lifecycle event payload. The
// activation artifact is never copied into the payload.
func NewOrderEvent(name string, order Order, occurredAt time.Time) LifecycleEvent {
	payload := map[string]any{
		"order_id":           order.ID,
		"plan_id":            order.PlanID,
		"payment_method":     string(order.PaymentMethod),
		"payment_status":     string(order.PaymentStatus),
		"fulfillment_status": string(order.FulfillmentStatus),
	}
	for key, value := range map[string]string{
		"provider_order_id": order.ProviderOrderID,
		"iccid":             order.ICCID,
		"last_error":        order.LastError,
		"last_error_code":   order.LastErrorCode,
	} {
		if value != "" {
			payload[key] = value
		}
	}
	return LifecycleEvent{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(name),
		OrderID:    order.ID,
		Source:     LifecycleSource,
		OccurredAt: occurredAt.UTC(),
		Payload:    payload,
		Metadata:   map[string]any{},
	}
}

var _ ProjectorRegistry = (*LifecycleProjectorRegistry)(nil)

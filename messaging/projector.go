package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
	glog "github.com/goliatone/go-logger/glog"
)

const RoutingKeyPrefix = "esim."

// Envelope is the JSON body published for every lifecycle event.
type Envelope struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	OrderID    string         `json:"orderId"`
	Source     string         `json:"source"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// LifecycleProjector forwards outbox events to the broker. Publish errors are
// returned so the outbox dispatcher schedules a retry.
type LifecycleProjector struct {
	publisher Publisher
	logger    glog.Logger
}

type ProjectorOption func(*LifecycleProjector)

func WithLogger(logger glog.Logger) ProjectorOption {
	return func(p *LifecycleProjector) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewLifecycleProjector(publisher Publisher, opts ...ProjectorOption) (*LifecycleProjector, error) {
	if publisher == nil {
		return nil, fmt.Errorf("messaging: publisher is required")
	}
	projector := &LifecycleProjector{publisher: publisher, logger: glog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(projector)
		}
	}
	return projector, nil
}

func (p *LifecycleProjector) Handle(ctx context.Context, event core.LifecycleEvent) error {
	body, err := json.Marshal(Envelope{
		ID:         event.ID,
		Name:       event.Name,
		OrderID:    event.OrderID,
		Source:     event.Source,
		OccurredAt: event.OccurredAt.UTC(),
		Payload:    publicPayload(event.Payload),
	})
	if err != nil {
		return fmt.Errorf("messaging: encode lifecycle event %q: %w", event.ID, err)
	}

	msg := Message{
		RoutingKey: RoutingKey(event.Name),
		ID:         event.ID,
		Type:       event.Name,
		Body:       body,
		Headers: map[string]any{
			"order_id": event.OrderID,
			"source":   event.Source,
		},
		Timestamp: event.OccurredAt,
	}
	if err := p.publisher.Publish(ctx, msg); err != nil {
		p.logger.Warn("lifecycle publish failed",
			"event_id", event.ID,
			"event_name", event.Name,
			"order_id", event.OrderID,
			"error", err.Error(),
		)
		return err
	}
	p.logger.Debug("lifecycle event published",
		"event_id", event.ID,
		"event_name", event.Name,
		"routing_key", msg.RoutingKey,
	)
	return nil
}

// RoutingKey maps order.completed to esim.order.completed.
func RoutingKey(eventName string) string {
	name := strings.ToLower(strings.TrimSpace(eventName))
	if name == "" {
		name = "unknown"
	}
	return RoutingKeyPrefix + name
}

// publicPayload drops underscore-prefixed bookkeeping keys.
func publicPayload(payload map[string]any) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		if strings.HasPrefix(key, "_") {
			continue
		}
		out[key] = value
	}
	return out
}

var _ core.LifecycleEventHandler = (*LifecycleProjector)(nil)

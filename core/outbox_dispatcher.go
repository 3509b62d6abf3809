package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const MetadataKeyOutboxAttempts = "_outbox_attempts"

type OutboxDispatcherConfig struct {
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Interval is the Run tick used when Run is given no interval.
	Interval time.Duration
}

func DefaultOutboxDispatcherConfig() OutboxDispatcherConfig {
	return OutboxDispatcherConfig{
		BatchSize:      50,
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
		Interval:       2 * time.Second,
	}
}

func (c OutboxDispatcherConfig) withDefaults() OutboxDispatcherConfig {
	d := DefaultOutboxDispatcherConfig()
	if c.BatchSize > 0 {
		d.BatchSize = c.BatchSize
	}
	if c.MaxAttempts > 0 {
		d.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoff > 0 {
		d.InitialBackoff = c.InitialBackoff
	}
	if c.MaxBackoff > 0 {
		d.MaxBackoff = c.MaxBackoff
	}
	if c.Interval > 0 {
		d.Interval = c.Interval
	}
	return d
}

// OutboxDispatcher drains order lifecycle events to the registered
// projectors. An event is acknowledged only once every projector accepted
// it; otherwise it is rescheduled with exponential backoff until
// MaxAttempts, after which the store marks it failed.
type OutboxDispatcher struct {
	store    OutboxStore
	registry ProjectorRegistry
	config   OutboxDispatcherConfig
	observer *Observer
	now      func() time.Time
}

func NewOutboxDispatcher(
	store OutboxStore,
	registry ProjectorRegistry,
	config OutboxDispatcherConfig,
	observer *Observer,
) (*OutboxDispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("core: outbox store is required")
	}
	return &OutboxDispatcher{
		store:    store,
		registry: registry,
		config:   config.withDefaults(),
		observer: observer,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (d *OutboxDispatcher) DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error) {
	if d == nil || d.store == nil {
		return DispatchStats{}, fmt.Errorf("core: outbox dispatcher is not configured")
	}
	if batchSize <= 0 {
		batchSize = d.config.BatchSize
	}
	events, err := d.store.ClaimBatch(ctx, batchSize)
	if err != nil {
		return DispatchStats{}, err
	}

	stats := DispatchStats{Claimed: len(events)}
	var errs []error
	for _, event := range events {
		id := strings.TrimSpace(event.ID)
		cause := d.project(ctx, event)
		if cause == nil {
			if err := d.store.Ack(ctx, id); err != nil {
				errs = append(errs, err)
				continue
			}
			stats.Delivered++
			continue
		}

		errs = append(errs, cause)
		attempt := outboxAttempts(event) + 1
		next := time.Time{}
		if attempt < d.config.MaxAttempts {
			next = d.now().Add(d.backoff(attempt))
			stats.Retried++
		} else {
			stats.Failed++
			d.observer.Log(ctx, "error", "outbox event dead lettered", map[string]any{
				"event_id":   event.ID,
				"event_name": event.Name,
				"order_id":   event.OrderID,
				"attempts":   attempt,
				"error":      cause.Error(),
			})
		}
		if err := d.store.Retry(ctx, id, cause, next); err != nil {
			errs = append(errs, err)
		}
	}
	return stats, errors.Join(errs...)
}

// Run dispatches on every tick until ctx is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = d.config.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		stats, err := d.DispatchPending(ctx, 0)
		if err == nil {
			continue
		}
		d.observer.Log(ctx, "warn", "outbox dispatch incomplete", map[string]any{
			"claimed":   stats.Claimed,
			"delivered": stats.Delivered,
			"retried":   stats.Retried,
			"failed":    stats.Failed,
			"error":     err.Error(),
		})
	}
}

// project hands the event to each projector in registration order and stops
// at the first refusal.
func (d *OutboxDispatcher) project(ctx context.Context, event LifecycleEvent) error {
	if d.registry == nil {
		return nil
	}
	for i, handler := range d.registry.Handlers() {
		if handler == nil {
			continue
		}
		if err := handler.Handle(ctx, event); err != nil {
			return fmt.Errorf("core: lifecycle projector %d failed for event %q: %w", i, event.ID, err)
		}
	}
	return nil
}

// backoff is InitialBackoff doubled per prior attempt, capped at MaxBackoff.
func (d *OutboxDispatcher) backoff(attempt int) time.Duration {
	delay := d.config.InitialBackoff
	for i := 1; i < attempt; i++ {
		if delay >= d.config.MaxBackoff/2 {
			return d.config.MaxBackoff
		}
		delay *= 2
	}
	return min(delay, d.config.MaxBackoff)
}

// outboxAttempts reads the attempt count stores attach to claimed events.
func outboxAttempts(event LifecycleEvent) int {
	var n int
	switch v := event.Metadata[MetadataKeyOutboxAttempts].(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		n = int(v)
	case string:
		n, _ = strconv.Atoi(strings.TrimSpace(v))
	}
	return max(n, 0)
}

var _ LifecycleDispatcher = (*OutboxDispatcher)(nil)

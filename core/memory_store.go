package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryOrderStore is an OrderStore backed by a map. It applies the same
// completed latch and conditional activation write as the SQL store.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]Order
	Now    func() time.Time
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders: map[string]Order{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryOrderStore) GetOrCreate(_ context.Context, seed Order) (Order, bool, error) {
	id := strings.TrimSpace(seed.ID)
	if id == "" {
		return Order{}, false, NewError(ErrorValidationFailed, "order id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.orders[id]; ok {
		return cloneOrder(existing), false, nil
	}
	now := s.now()
	seed.ID = id
	if seed.CreatedAt.IsZero() {
		seed.CreatedAt = now
	}
	seed.UpdatedAt = now
	if seed.FulfillmentStatus == "" {
		seed.FulfillmentStatus = FulfillmentStatusUnprocessed
	}
	if seed.PaymentStatus == "" {
		seed.PaymentStatus = PaymentStatusPending
	}
	s.orders[id] = cloneOrder(seed)
	return cloneOrder(seed), true, nil
}

func (s *MemoryOrderStore) Get(_ context.Context, orderID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[strings.TrimSpace(orderID)]
	if !ok {
		return Order{}, orderNotFound(orderID)
	}
	return cloneOrder(order), nil
}

func (s *MemoryOrderStore) FindByICCID(_ context.Context, iccid string) (Order, error) {
	iccid = strings.TrimSpace(iccid)
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if iccid != "" && s.orders[id].ICCID == iccid {
			return cloneOrder(s.orders[id]), nil
		}
	}
	return Order{}, NewError(ErrorOrderNotFound, fmt.Sprintf("no order for iccid %q", iccid), nil)
}

func (s *MemoryOrderStore) Save(_ context.Context, order Order) (Order, error) {
	id := strings.TrimSpace(order.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orders[id]
	if !ok {
		return Order{}, orderNotFound(id)
	}
	if existing.IsCompleted() && !order.IsCompleted() {
		return cloneOrder(existing), nil
	}
	if existing.Activation != nil {
		order.Activation = existing.Activation
	}
	order.CreatedAt = existing.CreatedAt
	order.UpdatedAt = s.now()
	s.orders[id] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (s *MemoryOrderStore) ClaimForFulfillment(_ context.Context, order Order, staleBefore time.Time) (Order, bool, error) {
	id := strings.TrimSpace(order.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orders[id]
	if !ok {
		return Order{}, false, orderNotFound(id)
	}
	if !existing.ClaimableForFulfillment(staleBefore) {
		return cloneOrder(existing), false, nil
	}
	order.ID = id
	order.ProviderOrderID = ""
	order.FulfillmentStatus = FulfillmentStatusProcessing
	order.Activation = existing.Activation
	order.CreatedAt = existing.CreatedAt
	order.UpdatedAt = s.now()
	s.orders[id] = cloneOrder(order)
	return cloneOrder(order), true, nil
}

func (s *MemoryOrderStore) SaveActivation(_ context.Context, orderID string, artifact ActivationArtifact) (Order, bool, error) {
	id := strings.TrimSpace(orderID)
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orders[id]
	if !ok {
		return Order{}, false, orderNotFound(id)
	}
	if existing.Activation != nil {
		return cloneOrder(existing), false, nil
	}
	stored := artifact
	existing.Activation = &stored
	if artifact.ICCID != "" {
		existing.ICCID = artifact.ICCID
	}
	if existing.FulfillmentStatus == FulfillmentStatusProcessing {
		existing.FulfillmentStatus = FulfillmentStatusCompleted
	}
	existing.UpdatedAt = s.now()
	s.orders[id] = existing
	return cloneOrder(existing), true, nil
}

func (s *MemoryOrderStore) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

func cloneOrder(order Order) Order {
	if order.Activation != nil {
		activation := *order.Activation
		order.Activation = &activation
	}
	if order.PaymentConfirmedAt != nil {
		confirmedAt := *order.PaymentConfirmedAt
		order.PaymentConfirmedAt = &confirmedAt
	}
	return order
}

func orderNotFound(orderID string) error {
	return NewError(ErrorOrderNotFound, fmt.Sprintf("order %q not found", strings.TrimSpace(orderID)), map[string]any{
		MetadataKeyOrderID: strings.TrimSpace(orderID),
	})
}

// MemoryOutboxStore keeps lifecycle events in insertion order.
type MemoryOutboxStore struct {
	mu     sync.Mutex
	events []outboxEntry
	Now    func() time.Time
}

type outboxEntry struct {
	event         LifecycleEvent
	status        string
	attempts      int
	nextAttemptAt time.Time
	lastError     string
}

func NewMemoryOutboxStore() *MemoryOutboxStore {
	return &MemoryOutboxStore{Now: func() time.Time { return time.Now().UTC() }}
}

func (s *MemoryOutboxStore) Enqueue(_ context.Context, event LifecycleEvent) error {
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("core: outbox event id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, outboxEntry{event: event, status: "pending"})
	return nil
}

func (s *MemoryOutboxStore) ClaimBatch(_ context.Context, limit int) ([]LifecycleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	out := []LifecycleEvent{}
	for i := range s.events {
		if limit > 0 && len(out) >= limit {
			break
		}
		entry := &s.events[i]
		if entry.status != "pending" || entry.nextAttemptAt.After(now) {
			continue
		}
		entry.status = "processing"
		event := entry.event
		event.Metadata = cloneFields(event.Metadata)
		event.Metadata[MetadataKeyOutboxAttempts] = entry.attempts
		out = append(out, event)
	}
	return out, nil
}

func (s *MemoryOutboxStore) Ack(_ context.Context, eventID string) error {
	return s.update(eventID, func(entry *outboxEntry) {
		entry.status = "delivered"
	})
}

func (s *MemoryOutboxStore) Retry(_ context.Context, eventID string, cause error, nextAttemptAt time.Time) error {
	return s.update(eventID, func(entry *outboxEntry) {
		entry.attempts++
		if cause != nil {
			entry.lastError = cause.Error()
		}
		if nextAttemptAt.IsZero() {
			entry.status = "failed"
			return
		}
		entry.status = "pending"
		entry.nextAttemptAt = nextAttemptAt
	})
}

// Events returns every enqueued event in insertion order.
func (s *MemoryOutboxStore) Events() []LifecycleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LifecycleEvent, 0, len(s.events))
	for _, entry := range s.events {
		out = append(out, entry.event)
	}
	return out
}

func (s *MemoryOutboxStore) update(eventID string, apply func(entry *outboxEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].event.ID == strings.TrimSpace(eventID) {
			apply(&s.events[i])
			return nil
		}
	}
	return fmt.Errorf("core: outbox event %q not found", eventID)
}

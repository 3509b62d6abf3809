package webhooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

// DeliveryRecord tracks one (processor, event id) delivery.
type DeliveryRecord struct {
	ID             string
	ClaimID        string
	Processor      string
	DeliveryID     string
	Status         string
	Attempts       int
	LastError      string
	NextAttemptAt  *time.Time
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Claimable reports whether a delivery in this state may be claimed again.
// A processing record is only reclaimable once its lease has lapsed.
func (r DeliveryRecord) Claimable(now time.Time) bool {
	switch r.Status {
	case DeliveryStatusRetryReady:
		return true
	case DeliveryStatusProcessing:
		return r.LeaseExpiresAt == nil || !now.Before(*r.LeaseExpiresAt)
	default:
		return false
	}
}

// DeliveryLedger deduplicates deliveries. Claim returns claimed=false for a
// delivery that was already processed, is dead, or is held by another worker.
type DeliveryLedger interface {
	Claim(
		ctx context.Context,
		processor string,
		deliveryID string,
		payload []byte,
		lease time.Duration,
	) (DeliveryRecord, bool, error)
	Get(ctx context.Context, processor string, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

type deliveryKey struct {
	processor string
	id        string
}

func newDeliveryKey(processor, deliveryID string) deliveryKey {
	return deliveryKey{processor: strings.TrimSpace(processor), id: strings.TrimSpace(deliveryID)}
}

// MemoryDeliveryLedger is a process-local DeliveryLedger.
type MemoryDeliveryLedger struct {
	mu      sync.Mutex
	records map[deliveryKey]DeliveryRecord
	claims  map[string]deliveryKey
	Now     func() time.Time
}

func NewMemoryDeliveryLedger() *MemoryDeliveryLedger {
	return &MemoryDeliveryLedger{
		records: make(map[deliveryKey]DeliveryRecord),
		claims:  make(map[string]deliveryKey),
	}
}

func (l *MemoryDeliveryLedger) Claim(
	_ context.Context,
	processor string,
	deliveryID string,
	_ []byte,
	lease time.Duration,
) (DeliveryRecord, bool, error) {
	key := newDeliveryKey(processor, deliveryID)
	if key.processor == "" || key.id == "" {
		return DeliveryRecord{}, false, fmt.Errorf("webhooks: processor and delivery id are required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	record, seen := l.records[key]
	switch {
	case seen && !record.Claimable(now):
		return record, false, nil
	case !seen:
		record = DeliveryRecord{
			ID:         uuid.NewString(),
			Processor:  key.processor,
			DeliveryID: key.id,
			CreatedAt:  now,
		}
	}
	if record.ClaimID != "" {
		delete(l.claims, record.ClaimID)
	}
	until := now.Add(lease)
	record.ClaimID = uuid.NewString()
	record.Status = DeliveryStatusProcessing
	record.Attempts++
	record.LeaseExpiresAt = &until
	record.UpdatedAt = now
	l.records[key] = record
	l.claims[record.ClaimID] = key
	return record, true, nil
}

func (l *MemoryDeliveryLedger) Get(_ context.Context, processor string, deliveryID string) (DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if record, ok := l.records[newDeliveryKey(processor, deliveryID)]; ok {
		return record, nil
	}
	return DeliveryRecord{}, fmt.Errorf("webhooks: delivery %q for %q not found", deliveryID, processor)
}

func (l *MemoryDeliveryLedger) Complete(_ context.Context, claimID string) error {
	return l.release(claimID, func(record *DeliveryRecord) {
		record.Status = DeliveryStatusProcessed
		record.NextAttemptAt = nil
	})
}

// Fail parks the delivery for retry at nextAttemptAt, or marks it dead once
// maxAttempts is reached. maxAttempts <= 0 never dead-letters.
func (l *MemoryDeliveryLedger) Fail(_ context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error {
	return l.release(claimID, func(record *DeliveryRecord) {
		if cause != nil {
			record.LastError = cause.Error()
		}
		record.retry(nextAttemptAt, maxAttempts)
	})
}

func (r *DeliveryRecord) retry(at time.Time, maxAttempts int) {
	if maxAttempts > 0 && r.Attempts >= maxAttempts {
		r.Status = DeliveryStatusDead
		r.NextAttemptAt = nil
		return
	}
	at = at.UTC()
	r.Status = DeliveryStatusRetryReady
	r.NextAttemptAt = &at
}

// release ends a live claim. Claims superseded by a later Claim are rejected.
func (l *MemoryDeliveryLedger) release(claimID string, apply func(record *DeliveryRecord)) error {
	claimID = strings.TrimSpace(claimID)
	l.mu.Lock()
	defer l.mu.Unlock()
	key, ok := l.claims[claimID]
	if !ok {
		return fmt.Errorf("webhooks: claim %q not found", claimID)
	}
	delete(l.claims, claimID)
	record := l.records[key]
	apply(&record)
	record.LeaseExpiresAt = nil
	record.UpdatedAt = l.now()
	l.records[key] = record
	return nil
}

func (l *MemoryDeliveryLedger) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}

var _ DeliveryLedger = (*MemoryDeliveryLedger)(nil)

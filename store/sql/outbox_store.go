package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

const (
	outboxStatusPending    = "pending"
	outboxStatusProcessing = "processing"
	outboxStatusDelivered  = "delivered"
	outboxStatusFailed     = "failed"

	// DefaultOutboxClaimLease is how long a claimed event may stay in
	// processing before another dispatcher may take it over.
	DefaultOutboxClaimLease = 5 * time.Minute
)

// OutboxStore is the durable lifecycle outbox. Events are enqueued in the
// same database as the order they describe and drained by
// core.OutboxDispatcher.
type OutboxStore struct {
	db    *bun.DB
	repo  repository.Repository[*lifecycleOutboxRecord]
	lease time.Duration
	now   func() time.Time
}

func NewOutboxStore(db *bun.DB) (*OutboxStore, error) {
	repo, err := newRepository(db, "outbox", func() *lifecycleOutboxRecord { return &lifecycleOutboxRecord{} }, "event_id")
	if err != nil {
		return nil, err
	}
	return &OutboxStore{
		db:    db,
		repo:  repo,
		lease: DefaultOutboxClaimLease,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClaimLease overrides DefaultOutboxClaimLease.
func (s *OutboxStore) SetClaimLease(lease time.Duration) {
	if s != nil && lease > 0 {
		s.lease = lease
	}
}

func (s *OutboxStore) Enqueue(ctx context.Context, event core.LifecycleEvent) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: outbox store is not configured")
	}
	record, err := newOutboxRecord(event, s.now())
	if err != nil {
		return err
	}
	_, err = s.repo.Create(ctx, record)
	return err
}

// ClaimBatch moves up to limit due events to processing, oldest first. An
// event left in processing longer than the claim lease, for example by a
// dispatcher that crashed before acking, is due again.
func (s *OutboxStore) ClaimBatch(ctx context.Context, limit int) ([]core.LifecycleEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: outbox store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now := s.now()
	staleBefore := now.Add(-s.lease)

	var records []lifecycleOutboxRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var ids []string
		due := tx.NewSelect().
			Model((*lifecycleOutboxRecord)(nil)).
			Column("id").
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.
					WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
						return q.Where("status = ?", outboxStatusPending).
							Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now)
					}).
					WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
						return q.Where("status = ?", outboxStatusProcessing).
							Where("updated_at <= ?", staleBefore)
					})
			}).
			OrderExpr("occurred_at ASC").
			Limit(limit)
		if s.db.Dialect().Name() == dialect.PG {
			due = due.For("UPDATE SKIP LOCKED")
		}
		err := due.Scan(ctx, &ids)
		if err != nil || len(ids) == 0 {
			return err
		}
		_, err = tx.NewUpdate().
			Model((*lifecycleOutboxRecord)(nil)).
			Set("status = ?", outboxStatusProcessing).
			Set("updated_at = ?", now).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return err
		}
		return tx.NewSelect().
			Model(&records).
			Where("id IN (?)", bun.In(ids)).
			OrderExpr("occurred_at ASC").
			Scan(ctx)
	})
	if err != nil {
		return nil, err
	}

	events := make([]core.LifecycleEvent, 0, len(records))
	for _, record := range records {
		events = append(events, record.toEvent())
	}
	return events, nil
}

func (s *OutboxStore) Ack(ctx context.Context, eventID string) error {
	return s.transition(ctx, eventID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("status = ?", outboxStatusDelivered).
			Set("last_error = ?", "").
			Set("next_attempt_at = NULL")
	})
}

// Retry schedules another attempt; a zero nextAttemptAt parks the event as
// failed.
func (s *OutboxStore) Retry(ctx context.Context, eventID string, cause error, nextAttemptAt time.Time) error {
	status, next := outboxStatusFailed, (*time.Time)(nil)
	if !nextAttemptAt.IsZero() {
		at := nextAttemptAt.UTC()
		status, next = outboxStatusPending, &at
	}
	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}
	return s.transition(ctx, eventID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("status = ?", status).
			Set("attempts = attempts + 1").
			Set("next_attempt_at = ?", next).
			Set("last_error = ?", lastError)
	})
}

// Backlog counts events per status.
func (s *OutboxStore) Backlog(ctx context.Context) (map[string]int, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: outbox store is not configured")
	}
	var rows []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	err := s.db.NewSelect().
		Model((*lifecycleOutboxRecord)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (s *OutboxStore) transition(ctx context.Context, eventID string, apply func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: outbox store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	q := s.db.NewUpdate().
		Model((*lifecycleOutboxRecord)(nil)).
		Set("updated_at = ?", s.now()).
		Where("event_id = ?", eventID)
	res, err := apply(q).Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("sqlstore: outbox event %q not found", eventID)
	}
	return nil
}

func newOutboxRecord(event core.LifecycleEvent, now time.Time) (*lifecycleOutboxRecord, error) {
	required := map[string]string{
		"event id":   event.ID,
		"event name": event.Name,
		"order id":   event.OrderID,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("sqlstore: outbox %s is required", field)
		}
	}
	occurredAt := event.OccurredAt.UTC()
	if event.OccurredAt.IsZero() {
		occurredAt = now
	}
	return &lifecycleOutboxRecord{
		ID:         uuid.NewString(),
		EventID:    strings.TrimSpace(event.ID),
		EventName:  strings.TrimSpace(event.Name),
		OrderID:    strings.TrimSpace(event.OrderID),
		Source:     strings.TrimSpace(event.Source),
		Payload:    copyAnyMap(event.Payload),
		Metadata:   copyAnyMap(event.Metadata),
		Status:     outboxStatusPending,
		OccurredAt: occurredAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (r lifecycleOutboxRecord) toEvent() core.LifecycleEvent {
	event := core.LifecycleEvent{
		ID:         r.EventID,
		Name:       r.EventName,
		OrderID:    r.OrderID,
		Source:     r.Source,
		Payload:    copyAnyMap(r.Payload),
		Metadata:   copyAnyMap(r.Metadata),
		OccurredAt: r.OccurredAt,
	}
	event.Metadata[core.MetadataKeyOutboxAttempts] = r.Attempts
	return event
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-esim/webhooks"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WebhookDeliveryStore is the durable webhooks.DeliveryLedger. The
// (processor, delivery_id) pair is unique, so concurrent first deliveries
// race on the insert and exactly one wins the claim.
type WebhookDeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookDeliveryRecord]
	now  func() time.Time
}

func NewWebhookDeliveryStore(db *bun.DB) (*WebhookDeliveryStore, error) {
	repo, err := newRepository(db, "webhook delivery", func() *webhookDeliveryRecord { return &webhookDeliveryRecord{} }, "id")
	if err != nil {
		return nil, err
	}
	return &WebhookDeliveryStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Claim inserts the delivery on first sight. A known delivery is claimed
// again only when it is retry_ready or its processing lease has lapsed; the
// returned bool reports whether this caller now holds the claim.
func (s *WebhookDeliveryStore) Claim(
	ctx context.Context,
	processor string,
	deliveryID string,
	payload []byte,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	if err := s.ready(); err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	processor, deliveryID = strings.TrimSpace(processor), strings.TrimSpace(deliveryID)
	if processor == "" || deliveryID == "" {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: processor and delivery id are required")
	}

	now := s.now()
	leaseUntil := now.Add(lease)
	claimID := uuid.NewString()
	created, err := s.repo.Create(ctx, &webhookDeliveryRecord{
		ID:             uuid.NewString(),
		ClaimID:        claimID,
		Processor:      processor,
		DeliveryID:     deliveryID,
		Status:         webhooks.DeliveryStatusProcessing,
		Attempts:       1,
		LeaseExpiresAt: &leaseUntil,
		Payload:        append([]byte(nil), payload...),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	switch {
	case err == nil:
		return created.toDomain(), true, nil
	case !isUniqueViolation(err):
		return webhooks.DeliveryRecord{}, false, err
	}

	res, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("claim_id = ?", claimID).
		Set("status = ?", webhooks.DeliveryStatusProcessing).
		Set("attempts = attempts + 1").
		Set("lease_expires_at = ?", leaseUntil).
		Set("updated_at = ?", now).
		Where("processor = ?", processor).
		Where("delivery_id = ?", deliveryID).
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.
				Where("status = ?", webhooks.DeliveryStatusRetryReady).
				WhereOr("status = ? AND (lease_expires_at IS NULL OR lease_expires_at <= ?)",
					webhooks.DeliveryStatusProcessing, now)
		}).
		Exec(ctx)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	current, err := s.Get(ctx, processor, deliveryID)
	return current, err == nil && affected > 0, err
}

func (s *WebhookDeliveryStore) Get(
	ctx context.Context,
	processor string,
	deliveryID string,
) (webhooks.DeliveryRecord, error) {
	if err := s.ready(); err != nil {
		return webhooks.DeliveryRecord{}, err
	}
	record := &webhookDeliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.processor = ?", strings.TrimSpace(processor)).
		Where("?TableAlias.delivery_id = ?", strings.TrimSpace(deliveryID)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return webhooks.DeliveryRecord{}, fmt.Errorf(
			"sqlstore: webhook delivery not found for processor %q delivery %q", processor, deliveryID)
	}
	if err != nil {
		return webhooks.DeliveryRecord{}, err
	}
	return record.toDomain(), nil
}

func (s *WebhookDeliveryStore) Complete(ctx context.Context, claimID string) error {
	return s.release(ctx, claimID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("status = ?", webhooks.DeliveryStatusProcessed).
			Set("next_attempt_at = NULL")
	})
}

// Fail releases the claim. The delivery becomes retry_ready, or dead once
// attempts reached maxAttempts. A non-positive maxAttempts never dead-letters.
func (s *WebhookDeliveryStore) Fail(
	ctx context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}
	return s.release(ctx, claimID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		q = q.Set("last_error = ?", lastError)
		if maxAttempts <= 0 {
			return q.
				Set("status = ?", webhooks.DeliveryStatusRetryReady).
				Set("next_attempt_at = ?", nextAttemptAt.UTC())
		}
		return q.
			Set("status = CASE WHEN attempts >= ? THEN ? ELSE ? END",
				maxAttempts, webhooks.DeliveryStatusDead, webhooks.DeliveryStatusRetryReady).
			Set("next_attempt_at = CASE WHEN attempts >= ? THEN NULL ELSE ? END",
				maxAttempts, nextAttemptAt.UTC())
	})
}

// release ends the processing claim held under claimID, applying the
// status columns set by apply.
func (s *WebhookDeliveryStore) release(
	ctx context.Context,
	claimID string,
	apply func(*bun.UpdateQuery) *bun.UpdateQuery,
) error {
	if err := s.ready(); err != nil {
		return err
	}
	claimID = strings.TrimSpace(claimID)
	query := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("lease_expires_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("claim_id = ?", claimID).
		Where("status = ?", webhooks.DeliveryStatusProcessing)
	res, err := apply(query).Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("sqlstore: webhook claim %q is no longer current", claimID)
	}
	return nil
}

func (s *WebhookDeliveryStore) ready() error {
	if s == nil || s.db == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	return nil
}

func (r *webhookDeliveryRecord) toDomain() webhooks.DeliveryRecord {
	if r == nil {
		return webhooks.DeliveryRecord{}
	}
	return webhooks.DeliveryRecord{
		ID:             r.ID,
		ClaimID:        r.ClaimID,
		Processor:      r.Processor,
		DeliveryID:     r.DeliveryID,
		Status:         r.Status,
		Attempts:       r.Attempts,
		LastError:      r.LastError,
		NextAttemptAt:  cloneTimePointer(r.NextAttemptAt),
		LeaseExpiresAt: cloneTimePointer(r.LeaseExpiresAt),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// OrderStore keeps one row per storefront order id. Writes never move a
// completed order to another fulfillment status, and the activation artifact
// is written at most once (guarded by activation_retrieved_at IS NULL).
type OrderStore struct {
	db   *bun.DB
	repo repository.Repository[*orderRecord]
	now  func() time.Time
}

func NewOrderStore(db *bun.DB) (*OrderStore, error) {
	repo, err := newRepository(db, "order", func() *orderRecord { return &orderRecord{} }, "order_id")
	if err != nil {
		return nil, err
	}
	return &OrderStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *OrderStore) GetOrCreate(ctx context.Context, seed core.Order) (core.Order, bool, error) {
	if s == nil || s.repo == nil {
		return core.Order{}, false, fmt.Errorf("sqlstore: order store is not configured")
	}
	seed.ID = strings.TrimSpace(seed.ID)
	if seed.ID == "" {
		return core.Order{}, false, core.NewError(core.ErrorValidationFailed, "order id is required", nil)
	}
	if existing, err := s.Get(ctx, seed.ID); err == nil {
		return existing, false, nil
	} else if !core.HasTextCode(err, core.ErrorOrderNotFound) {
		return core.Order{}, false, err
	}

	now := s.now()
	if seed.FulfillmentStatus == "" {
		seed.FulfillmentStatus = core.FulfillmentStatusUnprocessed
	}
	if seed.PaymentStatus == "" {
		seed.PaymentStatus = core.PaymentStatusPending
	}
	record := newOrderRecord(seed, now)
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.Get(ctx, seed.ID)
			if getErr != nil {
				return core.Order{}, false, getErr
			}
			return existing, false, nil
		}
		return core.Order{}, false, err
	}
	return created.toDomain(), true, nil
}

func (s *OrderStore) Get(ctx context.Context, orderID string) (core.Order, error) {
	record, err := s.findOne(ctx, repository.SelectBy("order_id", "=", strings.TrimSpace(orderID)))
	if err != nil {
		return core.Order{}, err
	}
	if record == nil {
		return core.Order{}, orderNotFound(orderID)
	}
	return record.toDomain(), nil
}

func (s *OrderStore) FindByICCID(ctx context.Context, iccid string) (core.Order, error) {
	iccid = strings.TrimSpace(iccid)
	if iccid == "" {
		return core.Order{}, core.NewError(core.ErrorOrderNotFound, "no order for empty iccid", nil)
	}
	record, err := s.findOne(ctx, repository.SelectBy("iccid", "=", iccid))
	if err != nil {
		return core.Order{}, err
	}
	if record == nil {
		return core.Order{}, core.NewError(core.ErrorOrderNotFound, fmt.Sprintf("no order for iccid %q", iccid), nil)
	}
	return record.toDomain(), nil
}

// Save patches every mutable column. The activation artifact goes through
// SaveActivation so an artifact already stored is never replaced. When the
// stored order is already completed and the incoming one is not, the stored
// row wins and is returned unchanged.
func (s *OrderStore) Save(ctx context.Context, order core.Order) (core.Order, error) {
	if s == nil || s.db == nil {
		return core.Order{}, fmt.Errorf("sqlstore: order store is not configured")
	}
	order.ID = strings.TrimSpace(order.ID)
	record := newOrderRecord(order, s.now())

	_, err := s.db.NewUpdate().
		Model(record).
		ExcludeColumn("id", "order_id", "activation", "activation_retrieved_at", "created_at").
		Where("order_id = ?", order.ID).
		Where("(fulfillment_status <> ? OR ? = ?)",
			string(core.FulfillmentStatusCompleted),
			record.FulfillmentStatus,
			string(core.FulfillmentStatusCompleted),
		).
		Exec(ctx)
	if err != nil {
		return core.Order{}, err
	}
	if order.Activation != nil && order.Activation.HasActivationData() {
		saved, _, err := s.SaveActivation(ctx, order.ID, *order.Activation)
		return saved, err
	}
	// No row updated means the order is missing or the completed latch held.
	// Either way the stored row is the answer.
	return s.Get(ctx, order.ID)
}

// ClaimForFulfillment is a conditional update: the row must have no provider
// order id and be unprocessed, failed, or processing since staleBefore.
func (s *OrderStore) ClaimForFulfillment(ctx context.Context, order core.Order, staleBefore time.Time) (core.Order, bool, error) {
	if s == nil || s.db == nil {
		return core.Order{}, false, fmt.Errorf("sqlstore: order store is not configured")
	}
	order.ID = strings.TrimSpace(order.ID)
	order.ProviderOrderID = ""
	order.FulfillmentStatus = core.FulfillmentStatusProcessing
	record := newOrderRecord(order, s.now())

	res, err := s.db.NewUpdate().
		Model(record).
		ExcludeColumn("id", "order_id", "provider_order_id", "activation", "activation_retrieved_at", "created_at").
		Where("order_id = ?", order.ID).
		Where("provider_order_id = ''").
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.
				Where("fulfillment_status IN (?)", bun.In([]string{
					string(core.FulfillmentStatusUnprocessed),
					string(core.FulfillmentStatusFailed),
				})).
				WhereOr("fulfillment_status = ? AND updated_at <= ?",
					string(core.FulfillmentStatusProcessing),
					staleBefore.UTC(),
				)
		}).
		Exec(ctx)
	if err != nil {
		return core.Order{}, false, err
	}
	affected, _ := res.RowsAffected()
	stored, err := s.Get(ctx, order.ID)
	if err != nil {
		return core.Order{}, false, err
	}
	return stored, affected > 0, nil
}

// SaveActivation stores the artifact only when none was stored before and
// completes an order that was processing. The boolean reports whether this
// call performed the write.
func (s *OrderStore) SaveActivation(ctx context.Context, orderID string, artifact core.ActivationArtifact) (core.Order, bool, error) {
	if s == nil || s.db == nil {
		return core.Order{}, false, fmt.Errorf("sqlstore: order store is not configured")
	}
	orderID = strings.TrimSpace(orderID)
	encoded, err := json.Marshal(artifact)
	if err != nil {
		return core.Order{}, false, fmt.Errorf("sqlstore: encode activation artifact: %w", err)
	}
	retrievedAt := artifact.RetrievedAt.UTC()
	if retrievedAt.IsZero() {
		retrievedAt = s.now()
	}

	res, err := s.db.NewUpdate().
		Model((*orderRecord)(nil)).
		Set("activation = ?", string(encoded)).
		Set("activation_retrieved_at = ?", retrievedAt).
		Set("iccid = CASE WHEN ? <> '' THEN ? ELSE iccid END", artifact.ICCID, artifact.ICCID).
		Set("fulfillment_status = CASE WHEN fulfillment_status = ? THEN ? ELSE fulfillment_status END",
			string(core.FulfillmentStatusProcessing),
			string(core.FulfillmentStatusCompleted),
		).
		Set("updated_at = ?", s.now()).
		Where("order_id = ?", orderID).
		Where("activation_retrieved_at IS NULL").
		Exec(ctx)
	if err != nil {
		return core.Order{}, false, err
	}
	affected, _ := res.RowsAffected()
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return core.Order{}, false, err
	}
	return order, affected > 0, nil
}

func (s *OrderStore) findOne(ctx context.Context, criteria ...repository.SelectCriteria) (*orderRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: order store is not configured")
	}
	criteria = append(criteria,
		repository.OrderBy("created_at ASC"),
		repository.SelectPaginate(1, 0),
	)
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func newOrderRecord(order core.Order, now time.Time) *orderRecord {
	createdAt := order.CreatedAt.UTC()
	if order.CreatedAt.IsZero() {
		createdAt = now
	}
	record := &orderRecord{
		ID:                uuid.NewString(),
		OrderID:           strings.TrimSpace(order.ID),
		PlanID:            strings.TrimSpace(order.PlanID),
		CustomerEmail:     strings.TrimSpace(order.CustomerEmail),
		CustomerName:      strings.TrimSpace(order.CustomerName),
		CustomerUserID:    strings.TrimSpace(order.CustomerUserID),
		PaymentMethod:     string(order.PaymentMethod),
		PaymentStatus:     string(order.PaymentStatus),
		ExternalChargeID:  strings.TrimSpace(order.ExternalChargeID),
		AmountMinorUnits:  order.AmountMinorUnits,
		Currency:          strings.TrimSpace(order.Currency),
		ProviderOrderID:   strings.TrimSpace(order.ProviderOrderID),
		ICCID:             strings.TrimSpace(order.ICCID),
		FulfillmentStatus: string(order.FulfillmentStatus),
		LastError:         order.LastError,
		LastErrorCode:     strings.TrimSpace(order.LastErrorCode),
		CreatedAt:         createdAt,
		UpdatedAt:         now,
	}
	if order.PaymentConfirmedAt != nil {
		value := order.PaymentConfirmedAt.UTC()
		record.PaymentConfirmedAt = &value
	}
	return record
}

func (r *orderRecord) toDomain() core.Order {
	if r == nil {
		return core.Order{}
	}
	order := core.Order{
		ID:                r.OrderID,
		PlanID:            r.PlanID,
		CustomerEmail:     r.CustomerEmail,
		CustomerName:      r.CustomerName,
		CustomerUserID:    r.CustomerUserID,
		PaymentMethod:     core.PaymentMethod(r.PaymentMethod),
		PaymentStatus:     core.PaymentStatus(r.PaymentStatus),
		ExternalChargeID:  r.ExternalChargeID,
		AmountMinorUnits:  r.AmountMinorUnits,
		Currency:          r.Currency,
		ProviderOrderID:   r.ProviderOrderID,
		ICCID:             r.ICCID,
		FulfillmentStatus: core.FulfillmentStatus(r.FulfillmentStatus),
		LastError:         r.LastError,
		LastErrorCode:     r.LastErrorCode,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.Activation != nil && r.ActivationRetrievedAt != nil {
		artifact := *r.Activation
		order.Activation = &artifact
	}
	if r.PaymentConfirmedAt != nil {
		value := *r.PaymentConfirmedAt
		order.PaymentConfirmedAt = &value
	}
	return order
}

func orderNotFound(orderID string) error {
	orderID = strings.TrimSpace(orderID)
	return core.NewError(core.ErrorOrderNotFound, fmt.Sprintf("order %q not found", orderID), map[string]any{
		core.MetadataKeyOrderID: orderID,
	})
}

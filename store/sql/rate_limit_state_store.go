package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/ratelimit"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// rateLimitMutableColumns are overwritten when a bucket row already exists.
var rateLimitMutableColumns = []string{
	"request_limit",
	"remaining",
	"reset_at",
	"retry_after_ms",
	"throttled_until",
	"last_status",
	"attempts",
	"window_started_at",
	"window_calls",
	"metadata",
	"updated_at",
}

// RateLimitStateStore keeps one row per (provider, scope, bucket) so a
// throttled ICCID and its call budget survive restarts and are shared by
// every process pointed at the same database.
type RateLimitStateStore struct {
	db   *bun.DB
	repo repository.Repository[*rateLimitStateRecord]
}

func NewRateLimitStateStore(db *bun.DB) (*RateLimitStateStore, error) {
	repo, err := newRepository(db, "rate-limit state", func() *rateLimitStateRecord { return &rateLimitStateRecord{} }, "id")
	if err != nil {
		return nil, err
	}
	return &RateLimitStateStore{db: db, repo: repo}, nil
}

func (s *RateLimitStateStore) Get(ctx context.Context, key core.RateLimitKey) (ratelimit.State, error) {
	if s == nil || s.repo == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	key, err := checkedRateLimitKey(key)
	if err != nil {
		return ratelimit.State{}, err
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider_id", "=", key.ProviderID),
		repository.SelectBy("scope_type", "=", key.ScopeType),
		repository.SelectBy("scope_id", "=", key.ScopeID),
		repository.SelectBy("bucket_key", "=", key.BucketKey),
		repository.SelectPaginate(1, 0),
	)
	switch {
	case err != nil:
		return ratelimit.State{}, err
	case len(records) == 0:
		return ratelimit.State{}, ratelimit.ErrStateNotFound
	}
	return records[0].toDomain(), nil
}

// Upsert inserts the bucket or overwrites its mutable columns in place.
func (s *RateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	key, err := checkedRateLimitKey(state.Key)
	if err != nil {
		return err
	}
	state.Key = key
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	query := s.db.NewInsert().
		Model(newRateLimitStateRecord(state)).
		On("CONFLICT (provider_id, scope_type, scope_id, bucket_key) DO UPDATE")
	for _, column := range rateLimitMutableColumns {
		query = query.Set(column + " = EXCLUDED." + column)
	}
	_, err = query.Exec(ctx)
	return err
}

func newRateLimitStateRecord(state ratelimit.State) *rateLimitStateRecord {
	stamp := state.UpdatedAt.UTC()
	record := &rateLimitStateRecord{
		ID:              uuid.NewString(),
		ProviderID:      state.Key.ProviderID,
		ScopeType:       state.Key.ScopeType,
		ScopeID:         state.Key.ScopeID,
		BucketKey:       state.Key.BucketKey,
		Limit:           state.Limit,
		Remaining:       state.Remaining,
		ResetAt:         cloneTimePointer(state.ResetAt),
		ThrottledUntil:  cloneTimePointer(state.ThrottledUntil),
		LastStatus:      state.LastStatus,
		Attempts:        state.Attempts,
		WindowStartedAt: cloneTimePointer(state.WindowStart),
		WindowCalls:     state.WindowCalls,
		Metadata:        copyAnyMap(state.Metadata),
		CreatedAt:       stamp,
		UpdatedAt:       stamp,
	}
	if state.RetryAfter != nil && *state.RetryAfter > 0 {
		ms := state.RetryAfter.Milliseconds()
		record.RetryAfterMS = &ms
	}
	return record
}

func (r *rateLimitStateRecord) toDomain() ratelimit.State {
	if r == nil {
		return ratelimit.State{}
	}
	var retryAfter *time.Duration
	if r.RetryAfterMS != nil && *r.RetryAfterMS > 0 {
		value := time.Duration(*r.RetryAfterMS) * time.Millisecond
		retryAfter = &value
	}
	return ratelimit.State{
		Key: core.RateLimitKey{
			ProviderID: r.ProviderID,
			ScopeType:  r.ScopeType,
			ScopeID:    r.ScopeID,
			BucketKey:  r.BucketKey,
		},
		Limit:          r.Limit,
		Remaining:      r.Remaining,
		ResetAt:        cloneTimePointer(r.ResetAt),
		RetryAfter:     retryAfter,
		ThrottledUntil: cloneTimePointer(r.ThrottledUntil),
		LastStatus:     r.LastStatus,
		Attempts:       r.Attempts,
		WindowStart:    cloneTimePointer(r.WindowStartedAt),
		WindowCalls:    r.WindowCalls,
		UpdatedAt:      r.UpdatedAt,
		Metadata:       copyAnyMap(r.Metadata),
	}
}

// checkedRateLimitKey lowercases the identifying parts of a key, except the
// scope id which is an ICCID, and rejects keys with missing parts.
func checkedRateLimitKey(key core.RateLimitKey) (core.RateLimitKey, error) {
	key = core.RateLimitKey{
		ProviderID: strings.ToLower(strings.TrimSpace(key.ProviderID)),
		ScopeType:  strings.ToLower(strings.TrimSpace(key.ScopeType)),
		ScopeID:    strings.TrimSpace(key.ScopeID),
		BucketKey:  strings.ToLower(strings.TrimSpace(key.BucketKey)),
	}
	var missing []string
	if key.ProviderID == "" {
		missing = append(missing, "provider id")
	}
	if key.ScopeType == "" || key.ScopeID == "" {
		missing = append(missing, "scope")
	}
	if key.BucketKey == "" {
		missing = append(missing, "bucket key")
	}
	if len(missing) > 0 {
		return key, fmt.Errorf("sqlstore: rate-limit %s required", strings.Join(missing, ", "))
	}
	return key, nil
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

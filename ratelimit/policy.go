package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-esim/core"
)

// ThrottledError is returned by BeforeCall while a bucket is closed.
type ThrottledError struct {
	ProviderID string
	ScopeID    string
	BucketKey  string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: provider %q bucket %q throttled for %s", e.ProviderID, e.BucketKey, e.RetryAfter)
}

// ToServiceError converts the throttle into ESIM_RATE_LIMITED.
func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		core.MetadataKeyProvider: e.ProviderID,
		"bucket_key":             e.BucketKey,
	}
	if e.BucketKey == BucketSIMUsage && e.ScopeID != "" {
		metadata["iccid"] = e.ScopeID
	}
	return core.NewRateLimitedError(e.Error(), e.RetryAfter, metadata)
}

// AdaptivePolicy keeps SIM usage reads inside the partner's limits. Before a
// call it refuses while a backoff, an exhausted partner window or a spent
// local budget is in force. After a call it records the partner's window
// headers; a 429 without Retry-After backs off exponentially from
// InitialBackoff up to MaxBackoff.
type AdaptivePolicy struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Budgets maps bucket keys to local call budgets. Buckets without an
	// entry are only limited by what the partner reports.
	Budgets map[string]Budget
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		Budgets:        DefaultBudgets(),
	}
}

func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key core.RateLimitKey) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	state, err := p.load(ctx, key)
	if err != nil {
		return err
	}
	now := p.now()
	budget := p.Budgets[key.BucketKey]
	if wait, blocked := state.blockedFor(now, budget); blocked {
		return ThrottledError{
			ProviderID: key.ProviderID,
			ScopeID:    key.ScopeID,
			BucketKey:  key.BucketKey,
			RetryAfter: wait,
		}
	}
	if budget.Calls <= 0 {
		return nil
	}
	state.spend(now, budget)
	state.UpdatedAt = now
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) AfterCall(ctx context.Context, key core.RateLimitKey, res core.ProviderResponseMeta) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	state, err := p.load(ctx, key)
	if err != nil {
		return err
	}
	now := p.now()
	window := readWindowHeaders(res, now)

	state.LastStatus = res.StatusCode
	state.UpdatedAt = now
	for k, v := range res.Metadata {
		state.Metadata[k] = v
	}
	if window.hasLimit {
		state.Limit = window.limit
	}
	if window.hasRemaining {
		state.Remaining = window.remaining
	}
	if window.hasResetAt {
		resetAt := window.resetAt
		state.ResetAt = &resetAt
	}
	state.RetryAfter = nil
	if window.hasRetry {
		retryAfter := window.retryAfter
		state.RetryAfter = &retryAfter
	}

	exhausted := state.Remaining == 0 && window.any()
	if res.StatusCode == 429 || (res.StatusCode < 500 && exhausted) {
		state.Attempts++
		delay := window.retryAfter
		if !window.hasRetry {
			delay = p.backoff(state.Attempts)
		}
		until := now.Add(delay)
		state.ThrottledUntil = &until
	} else {
		state.Attempts = 0
		state.ThrottledUntil = nil
	}
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) load(ctx context.Context, key core.RateLimitKey) (State, error) {
	state, err := p.Store.Get(ctx, key)
	if errors.Is(err, ErrStateNotFound) {
		return State{Key: key, Metadata: map[string]any{}}, nil
	}
	if err != nil {
		return State{}, err
	}
	state.Key = key
	return state.clone(), nil
}

func (p *AdaptivePolicy) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// backoff doubles InitialBackoff per consecutive throttled attempt.
func (p *AdaptivePolicy) backoff(attempt int) time.Duration {
	initial, ceiling := p.InitialBackoff, p.MaxBackoff
	if initial <= 0 {
		initial = time.Second
	}
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	delay := initial
	for i := 1; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	return min(delay, ceiling)
}

var _ core.RateLimitPolicy = (*AdaptivePolicy)(nil)

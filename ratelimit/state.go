package ratelimit

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
)

const (
	ScopeICCID     = "iccid"
	BucketSIMUsage = "sim_usage"

	// UsageCallsPerMin is the documented SIM usage limit per ICCID.
	UsageCallsPerMin = 100
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State is what the policy remembers about one bucket: the partner's last
// reported window, any backoff in force, and the local call budget.
type State struct {
	Key            core.RateLimitKey
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	WindowStart    *time.Time
	WindowCalls    int
	UpdatedAt      time.Time
	Metadata       map[string]any
}

type StateStore interface {
	Get(ctx context.Context, key core.RateLimitKey) (State, error)
	Upsert(ctx context.Context, state State) error
}

// Budget caps calls per window before the partner has to say so.
type Budget struct {
	Calls  int
	Window time.Duration
}

// DefaultBudgets paces SIM usage reads to the partner's per-ICCID limit.
func DefaultBudgets() map[string]Budget {
	return map[string]Budget{
		BucketSIMUsage: {Calls: UsageCallsPerMin, Window: time.Minute},
	}
}

// UsageKey is the bucket for SIM usage reads, which the provider limits per ICCID.
func UsageKey(provider string, iccid string) core.RateLimitKey {
	return core.RateLimitKey{
		ProviderID: provider,
		ScopeType:  ScopeICCID,
		ScopeID:    iccid,
		BucketKey:  BucketSIMUsage,
	}
}

// StateKey flattens a key into the form used by stores and caches.
func StateKey(key core.RateLimitKey) string {
	key = normalizeKey(key)
	return strings.Join([]string{key.ProviderID, key.ScopeType, key.ScopeID, key.BucketKey}, "|")
}

// blockedFor reports how long calls must wait, preferring an explicit
// backoff over an exhausted partner window over a spent local budget.
func (s State) blockedFor(now time.Time, budget Budget) (time.Duration, bool) {
	if s.ThrottledUntil != nil && now.Before(*s.ThrottledUntil) {
		return s.ThrottledUntil.Sub(now), true
	}
	if s.Remaining == 0 && s.ResetAt != nil && now.Before(*s.ResetAt) {
		return s.ResetAt.Sub(now), true
	}
	if budget.Calls > 0 && s.windowOpen(now, budget) && s.WindowCalls >= budget.Calls {
		return s.WindowStart.Add(budget.Window).Sub(now), true
	}
	return 0, false
}

func (s State) windowOpen(now time.Time, budget Budget) bool {
	return s.WindowStart != nil && now.Before(s.WindowStart.Add(budget.Window))
}

// spend counts one call against the local budget, opening a new window when
// the previous one has lapsed.
func (s *State) spend(now time.Time, budget Budget) {
	if !s.windowOpen(now, budget) {
		start := now
		s.WindowStart = &start
		s.WindowCalls = 0
	}
	s.WindowCalls++
}

func (s State) clone() State {
	s.Metadata = cloneMetadata(s.Metadata)
	return s
}

func normalizeKey(key core.RateLimitKey) core.RateLimitKey {
	return core.RateLimitKey{
		ProviderID: strings.ToLower(strings.TrimSpace(key.ProviderID)),
		ScopeType:  strings.ToLower(strings.TrimSpace(key.ScopeType)),
		ScopeID:    strings.TrimSpace(key.ScopeID),
		BucketKey:  strings.ToLower(strings.TrimSpace(key.BucketKey)),
	}
}

func cloneMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	maps.Copy(out, in)
	return out
}

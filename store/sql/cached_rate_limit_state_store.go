package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/ratelimit"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const rateLimitStateCacheKeyPrefix = "go-esim::ratelimit_state::v1"

// CachedRateLimitStateStore puts a read-through cache in front of a
// StateStore. Storefronts poll usage for the same ICCID repeatedly, so the
// pre-call check is served from cache; every Upsert drops the cached entry.
type CachedRateLimitStateStore struct {
	base  ratelimit.StateStore
	cache repositorycache.CacheService
}

func NewCachedRateLimitStateStore(
	base ratelimit.StateStore,
	cacheService repositorycache.CacheService,
) (*CachedRateLimitStateStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base rate-limit state store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: rate-limit cache service is required")
	}
	return &CachedRateLimitStateStore{base: base, cache: cacheService}, nil
}

// NewRateLimitCacheService builds the cache used by CachedRateLimitStateStore.
func NewRateLimitCacheService(ttl time.Duration) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if ttl > 0 {
		config.TTL = ttl
	}
	return repositorycache.NewCacheService(config)
}

// RateLimitStateCacheKey builds
// go-esim::ratelimit_state::v1::<provider>::<bucket>::<scope_type>::<scope_id>
// from the normalized key, each segment path-escaped.
func RateLimitStateCacheKey(key core.RateLimitKey) (string, error) {
	key, err := checkedRateLimitKey(key)
	if err != nil {
		return "", err
	}
	segments := []string{rateLimitStateCacheKeyPrefix}
	for _, part := range []string{key.ProviderID, key.BucketKey, key.ScopeType, key.ScopeID} {
		segments = append(segments, url.PathEscape(part))
	}
	return strings.Join(segments, "::"), nil
}

func (s *CachedRateLimitStateStore) Get(ctx context.Context, key core.RateLimitKey) (ratelimit.State, error) {
	if err := s.ready(); err != nil {
		return ratelimit.State{}, err
	}
	key, cacheKey, err := cacheAddress(key)
	if err != nil {
		return ratelimit.State{}, err
	}
	state, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (ratelimit.State, error) {
		return s.base.Get(ctx, key)
	})
	if err != nil {
		return ratelimit.State{}, err
	}
	return detachState(state), nil
}

// Upsert writes through to the base store and evicts the cached bucket.
func (s *CachedRateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if err := s.ready(); err != nil {
		return err
	}
	key, cacheKey, err := cacheAddress(state.Key)
	if err != nil {
		return err
	}
	state.Key = key
	if err := s.base.Upsert(ctx, detachState(state)); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func (s *CachedRateLimitStateStore) ready() error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached rate-limit state store is not configured")
	}
	return nil
}

func cacheAddress(key core.RateLimitKey) (core.RateLimitKey, string, error) {
	key, err := checkedRateLimitKey(key)
	if err != nil {
		return key, "", err
	}
	cacheKey, err := RateLimitStateCacheKey(key)
	return key, cacheKey, err
}

// detachState copies the reference fields so callers never mutate a cached value.
func detachState(state ratelimit.State) ratelimit.State {
	state.Metadata = copyAnyMap(state.Metadata)
	state.ResetAt = cloneTimePointer(state.ResetAt)
	state.ThrottledUntil = cloneTimePointer(state.ThrottledUntil)
	state.WindowStart = cloneTimePointer(state.WindowStart)
	if state.RetryAfter != nil {
		value := *state.RetryAfter
		state.RetryAfter = &value
	}
	return state
}

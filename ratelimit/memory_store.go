package ratelimit

import (
	"context"
	"sync"

	"github.com/goliatone/go-esim/core"
)

// MemoryStateStore keeps bucket state in process. It suits tests and
// single-instance deployments.
type MemoryStateStore struct {
	mu      sync.Mutex
	buckets map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{buckets: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key core.RateLimitKey) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.buckets[StateKey(key)]; ok {
		return state.clone(), nil
	}
	return State{}, ErrStateNotFound
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	state.Key = normalizeKey(state.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[StateKey(state.Key)] = state.clone()
	return nil
}

// Reset forgets a bucket, reopening it immediately.
func (s *MemoryStateStore) Reset(key core.RateLimitKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, StateKey(key))
}

var _ StateStore = (*MemoryStateStore)(nil)

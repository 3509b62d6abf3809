package core

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrOrderLocked = errors.New("core: order is already being processed")

// MemoryOrderLocker hands out one lock per order id. Waiters block until the
// holder releases or ctx is done.
type MemoryOrderLocker struct {
	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	ch      chan struct{}
	waiters int
}

func NewMemoryOrderLocker() *MemoryOrderLocker {
	return &MemoryOrderLocker{locks: map[string]*orderLock{}}
}

func (l *MemoryOrderLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	key := strings.TrimSpace(orderID)

	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*orderLock{}
	}
	lock, ok := l.locks[key]
	if !ok {
		lock = &orderLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.waiters++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lock, false)
		return nil, errors.Join(ErrOrderLocked, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, lock, true) })
	}, nil
}

func (l *MemoryOrderLocker) release(key string, lock *orderLock, held bool) {
	if held {
		<-lock.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.waiters--
	if lock.waiters <= 0 {
		delete(l.locks, key)
	}
}

var _ OrderLocker = (*MemoryOrderLocker)(nil)

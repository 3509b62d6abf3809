package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryOrderLocker_SerializesSameOrder(t *testing.T) {
	locker := NewMemoryOrderLocker()
	unlock, err := locker.Lock(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "ord_1"); !errors.Is(err, ErrOrderLocked) {
		t.Fatalf("expected ErrOrderLocked while held, got %v", err)
	}

	other, err := locker.Lock(context.Background(), "ord_2")
	if err != nil {
		t.Fatalf("expected independent order lock, got %v", err)
	}
	other()

	unlock()
	unlock()
	again, err := locker.Lock(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	again()
	if len(locker.locks) != 0 {
		t.Fatalf("expected lock table to be empty, got %d", len(locker.locks))
	}
}

package sessions_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentoven/huddle/internal/sessions"
)

func TestPassLock_Serializes(t *testing.T) {
	pl := sessions.NewPassLock()
	ctx := context.Background()

	unlock, err := pl.Lock(ctx, "s")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := pl.Lock(ctx, "s")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock() acquired while the first was held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second Lock() never acquired")
	}
}

func TestPassLock_IndependentSessions(t *testing.T) {
	pl := sessions.NewPassLock()
	ctx := context.Background()

	u1, err := pl.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("Lock(a) error = %v", err)
	}
	defer u1()

	tctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	u2, err := pl.Lock(tctx, "b")
	if err != nil {
		t.Fatalf("Lock(b) error = %v", err)
	}
	u2()
}

func TestPassLock_ContextCancel(t *testing.T) {
	pl := sessions.NewPassLock()
	unlock, _ := pl.Lock(context.Background(), "s")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := pl.Lock(ctx, "s"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Lock() error = %v, want DeadlineExceeded", err)
	}

	unlock()
	unlock() // second call is a no-op
	if n := pl.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount() = %d, want 0", n)
	}
}

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/zoom/pkg/backend/membackend"
	"github.com/cuemby/zoom/pkg/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.RootKey = "/zoom-lock-test"
	cfg.LockTimeout = 200 * time.Millisecond
	return cfg
}

func TestAcquireUncontendedSucceedsImmediately(t *testing.T) {
	be := membackend.New()
	tl := NewTopologyLock(be, testConfig())

	lease, err := tl.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestAcquireWaitsForHolderToRelease(t *testing.T) {
	ctx := context.Background()
	be := membackend.New()
	cfg := testConfig()
	cfg.LockTimeout = 2 * time.Second
	tl := NewTopologyLock(be, cfg)

	first, err := tl.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	done := make(chan struct{})
	go func() {
		second, err := tl.Acquire(ctx)
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			close(done)
			return
		}
		second.Release(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := first.Release(ctx); err != nil {
		t.Fatalf("first Release: %v", err)
	}

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("second Acquire never unblocked after first Release")
	}
}

func TestAcquireTimesOutWhenHeldTooLong(t *testing.T) {
	ctx := context.Background()
	be := membackend.New()
	tl := NewTopologyLock(be, testConfig())

	held, err := tl.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release(ctx)

	_, err = tl.Acquire(ctx)
	if err == nil {
		t.Fatal("expected Acquire to time out while the lock is held")
	}
}

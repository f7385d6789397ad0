package lock

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/zoom/pkg/backend/membackend"
	"github.com/cuemby/zoom/pkg/codec"
	"github.com/cuemby/zoom/pkg/config"
	"github.com/cuemby/zoom/pkg/registry"
	"github.com/cuemby/zoom/pkg/txn"
	"github.com/cuemby/zoom/pkg/zoomerr"
)

type widget struct {
	ID    string
	Count int
}

func retryCatalog(t *testing.T) *registry.Catalog {
	t.Helper()
	c := registry.NewCatalog()
	d, err := registry.NewReflectDescriptor("Widget", &widget{}, "ID")
	if err != nil {
		t.Fatalf("NewReflectDescriptor: %v", err)
	}
	if err := c.Register("Widget", d, codec.JSON{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := c.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return c
}

func retryConfig() config.Config {
	cfg := config.Default()
	cfg.RootKey = "/zoom-retry-test"
	cfg.LockTimeout = 2 * time.Second
	cfg.TransactionAttempts = 3
	return cfg
}

func TestRetrySucceedsOnFirstAttempt(t *testing.T) {
	ctx := context.Background()
	be := membackend.New()
	catalog := retryCatalog(t)
	cfg := retryConfig()
	tl := NewTopologyLock(be, cfg)

	err := Retry(ctx, be, catalog, cfg, tl, "tester", func(tx *txn.Transaction) error {
		return tx.Create(ctx, "Widget", &widget{ID: "w1", Count: 1})
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
}

func TestRetryRecoversFromConcurrentModification(t *testing.T) {
	ctx := context.Background()
	be := membackend.New()
	catalog := retryCatalog(t)
	cfg := retryConfig()
	tl := NewTopologyLock(be, cfg)

	setup, err := txn.Open(ctx, be, catalog, cfg, "setup")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := setup.Create(ctx, "Widget", &widget{ID: "w1", Count: 0}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := setup.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// A competing writer commits after Retry's first transaction is opened
	// and before that transaction reads w1, forcing exactly one retry.
	attempts := 0
	err = Retry(ctx, be, catalog, cfg, tl, "tester", func(tx *txn.Transaction) error {
		attempts++
		if attempts == 1 {
			other, oerr := txn.Open(ctx, be, catalog, cfg, "interloper")
			if oerr != nil {
				t.Fatalf("interloper Open: %v", oerr)
			}
			if uerr := other.Update(ctx, "Widget", "w1", func(obj any) error {
				obj.(*widget).Count++
				return nil
			}); uerr != nil {
				t.Fatalf("interloper Update: %v", uerr)
			}
			if cerr := other.Commit(ctx); cerr != nil {
				t.Fatalf("interloper Commit: %v", cerr)
			}
		}
		return tx.Update(ctx, "Widget", "w1", func(obj any) error {
			obj.(*widget).Count += 10
			return nil
		})
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}

	verify, err := txn.Open(ctx, be, catalog, cfg, "verify")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	obj, err := verify.Get(ctx, "Widget", "w1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := obj.(*widget).Count; got != 11 {
		t.Errorf("Count = %d, want 11", got)
	}
	verify.Cancel(ctx)
}

func TestRetryDoesNotRetryNonConcurrentFailure(t *testing.T) {
	ctx := context.Background()
	be := membackend.New()
	catalog := retryCatalog(t)
	cfg := retryConfig()
	tl := NewTopologyLock(be, cfg)

	attempts := 0
	err := Retry(ctx, be, catalog, cfg, tl, "tester", func(tx *txn.Transaction) error {
		attempts++
		if err := tx.Create(ctx, "Widget", &widget{ID: "dup"}); err != nil {
			return err
		}
		return tx.Create(ctx, "Widget", &widget{ID: "dup"})
	})
	if err == nil {
		t.Fatal("expected Retry to surface the body's error")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (non-retriable failure must not retry)", attempts)
	}
}

func TestRetryGivesUpAfterConfiguredAttempts(t *testing.T) {
	ctx := context.Background()
	be := membackend.New()
	catalog := retryCatalog(t)
	cfg := retryConfig()
	cfg.TransactionAttempts = 2
	tl := NewTopologyLock(be, cfg)

	setup, _ := txn.Open(ctx, be, catalog, cfg, "setup")
	setup.Create(ctx, "Widget", &widget{ID: "w1"})
	setup.Commit(ctx)

	attempts := 0
	err := Retry(ctx, be, catalog, cfg, tl, "tester", func(tx *txn.Transaction) error {
		attempts++
		// Force every attempt to race a concurrent committer so Retry
		// always observes ConcurrentModification and exhausts its budget.
		other, _ := txn.Open(ctx, be, catalog, cfg, "interloper")
		other.Update(ctx, "Widget", "w1", func(obj any) error { return nil })
		other.Commit(ctx)
		return tx.Update(ctx, "Widget", "w1", func(obj any) error { return nil })
	})
	if err == nil {
		t.Fatal("expected Retry to give up and return an error")
	}
	if _, ok := err.(*zoomerr.ConcurrentModificationError); !ok {
		t.Fatalf("err = %v (%T), want *zoomerr.ConcurrentModificationError", err, err)
	}
	if attempts != cfg.TransactionAttempts {
		t.Fatalf("attempts = %d, want %d", attempts, cfg.TransactionAttempts)
	}
}

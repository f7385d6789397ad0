package state

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/zoom/pkg/backend/membackend"
	"github.com/cuemby/zoom/pkg/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.RootKey = "/zoom-state-test"
	return cfg
}

func TestAddValueThenGetKey(t *testing.T) {
	ctx := context.Background()
	s := New(membackend.New(), testConfig())

	if err := s.AddValue(ctx, "ns", "Bridge", "b1", "tags", "a"); err != nil {
		t.Fatalf("AddValue: %v", err)
	}
	if err := s.AddValue(ctx, "ns", "Bridge", "b1", "tags", "b"); err != nil {
		t.Fatalf("AddValue: %v", err)
	}

	values, err := s.GetKey(ctx, "ns", "Bridge", "b1", "tags")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("values = %v, want 2 entries", values)
	}
}

func TestGetKeyMissingReturnsEmptySet(t *testing.T) {
	ctx := context.Background()
	s := New(membackend.New(), testConfig())

	values, err := s.GetKey(ctx, "ns", "Bridge", "missing", "tags")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("values = %v, want empty", values)
	}
}

func TestRemoveValue(t *testing.T) {
	ctx := context.Background()
	s := New(membackend.New(), testConfig())

	s.AddValue(ctx, "ns", "Bridge", "b1", "tags", "a")
	s.AddValue(ctx, "ns", "Bridge", "b1", "tags", "b")
	if err := s.RemoveValue(ctx, "ns", "Bridge", "b1", "tags", "a"); err != nil {
		t.Fatalf("RemoveValue: %v", err)
	}

	values, err := s.GetKey(ctx, "ns", "Bridge", "b1", "tags")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if len(values) != 1 || values[0] != "b" {
		t.Fatalf("values = %v, want [b]", values)
	}
}

func TestKeyObservableEmitsCurrentThenChanges(t *testing.T) {
	ctx := context.Background()
	s := New(membackend.New(), testConfig())
	s.AddValue(ctx, "ns", "Bridge", "b1", "tags", "a")

	ch, unsub := s.KeyObservable(ctx, "ns", "Bridge", "b1", "tags")
	defer unsub()

	select {
	case first := <-ch:
		if len(first) != 1 || first[0] != "a" {
			t.Fatalf("first = %v, want [a]", first)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial value")
	}

	if err := s.AddValue(ctx, "ns", "Bridge", "b1", "tags", "b"); err != nil {
		t.Fatalf("AddValue: %v", err)
	}

	select {
	case second := <-ch:
		if len(second) != 2 {
			t.Fatalf("second = %v, want 2 entries", second)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

func TestCachedGetKeyServesFromSnapshotAfterWrite(t *testing.T) {
	ctx := context.Background()
	base := New(membackend.New(), testConfig())
	cached := NewCached(base)

	if err := cached.AddValue(ctx, "ns", "Bridge", "b1", "tags", "a"); err != nil {
		t.Fatalf("AddValue: %v", err)
	}

	values, err := cached.GetKey(ctx, "ns", "Bridge", "b1", "tags")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if len(values) != 1 || values[0] != "a" {
		t.Fatalf("values = %v, want [a]", values)
	}
}

func TestDynamicKeyObservableSwitchesNamespace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(membackend.New(), testConfig())
	s.AddValue(ctx, "ns1", "Bridge", "b1", "tags", "one")
	s.AddValue(ctx, "ns2", "Bridge", "b1", "tags", "two")

	namespaces := make(chan string, 2)
	out := s.DynamicKeyObservable(ctx, namespaces, "Bridge", "b1", "tags")

	namespaces <- "ns1"
	select {
	case v := <-out:
		if len(v) != 1 || v[0] != "one" {
			t.Fatalf("v = %v, want [one]", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ns1 value")
	}

	namespaces <- "ns2"
	select {
	case v := <-out:
		if len(v) != 1 || v[0] != "two" {
			t.Fatalf("v = %v, want [two]", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ns2 value")
	}
}

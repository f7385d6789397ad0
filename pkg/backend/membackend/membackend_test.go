package membackend

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/zoom/pkg/backend"
)

func TestCreateAndGet(t *testing.T) {
	m := New()
	ctx := context.Background()
	if _, err := m.Create(ctx, "/zoom/bridges/b1", []byte("data"), backend.Persistent); err != nil {
		t.Fatalf("Create: %v", err)
	}
	data, version, err := m.Get(ctx, "/zoom/bridges/b1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "data" || version != 0 {
		t.Errorf("Get = (%q, %d), want (data, 0)", data, version)
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	m := New()
	ctx := context.Background()
	if _, err := m.Create(ctx, "/a", nil, backend.Persistent); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(ctx, "/a", nil, backend.Persistent); !errors.Is(err, backend.ErrNodeExists) {
		t.Fatalf("Create duplicate = %v, want ErrNodeExists", err)
	}
}

func TestSetDataChecksVersion(t *testing.T) {
	m := New()
	ctx := context.Background()
	m.Create(ctx, "/a", []byte("v0"), backend.Persistent)
	if _, err := m.SetData(ctx, "/a", []byte("v1"), 5); !errors.Is(err, backend.ErrBadVersion) {
		t.Fatalf("SetData with wrong version = %v, want ErrBadVersion", err)
	}
	v, err := m.SetData(ctx, "/a", []byte("v1"), 0)
	if err != nil || v != 1 {
		t.Fatalf("SetData = (%d, %v), want (1, nil)", v, err)
	}
}

func TestDeleteRejectsNonEmpty(t *testing.T) {
	m := New()
	ctx := context.Background()
	m.Create(ctx, "/a", nil, backend.Persistent)
	m.Create(ctx, "/a/b", nil, backend.Persistent)
	if err := m.Delete(ctx, "/a", 0); !errors.Is(err, backend.ErrNotEmpty) {
		t.Fatalf("Delete non-empty = %v, want ErrNotEmpty", err)
	}
}

func TestChildren(t *testing.T) {
	m := New()
	ctx := context.Background()
	m.Create(ctx, "/a", nil, backend.Persistent)
	m.Create(ctx, "/a/x", nil, backend.Persistent)
	m.Create(ctx, "/a/y", nil, backend.Persistent)
	children, err := m.Children(ctx, "/a")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 2 {
		t.Errorf("Children = %v, want 2 entries", children)
	}
}

func TestMultiAppliesAtomically(t *testing.T) {
	m := New()
	ctx := context.Background()
	m.Create(ctx, "/a", []byte("v0"), backend.Persistent)

	ops := []backend.Op{
		{Kind: backend.OpSetData, Path: "/a", Data: []byte("v1"), ExpectedVersion: 0},
		{Kind: backend.OpCreate, Path: "/b", Data: []byte("new")},
	}
	results, err := m.Multi(ctx, ops)
	if err != nil {
		t.Fatalf("Multi: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	data, _, _ := m.Get(ctx, "/a")
	if string(data) != "v1" {
		t.Errorf("/a data = %q, want v1", data)
	}
	if exists, _, _ := m.Exists(ctx, "/b"); !exists {
		t.Error("/b should exist after Multi")
	}
}

func TestMultiFailsAtomicallyLeavesNoPartialState(t *testing.T) {
	m := New()
	ctx := context.Background()
	m.Create(ctx, "/a", []byte("v0"), backend.Persistent)

	ops := []backend.Op{
		{Kind: backend.OpCreate, Path: "/b", Data: []byte("new")},
		{Kind: backend.OpSetData, Path: "/a", Data: []byte("v1"), ExpectedVersion: 99},
	}
	if _, err := m.Multi(ctx, ops); !errors.Is(err, backend.ErrBadVersion) {
		t.Fatalf("Multi = %v, want ErrBadVersion", err)
	}
	if exists, _, _ := m.Exists(ctx, "/b"); exists {
		t.Error("/b should not exist after a failed Multi batch")
	}
	data, version, _ := m.Get(ctx, "/a")
	if string(data) != "v0" || version != 0 {
		t.Errorf("/a = (%q, %d), want (v0, 0) after rollback", data, version)
	}
}

func TestCloseEvictsOwnEphemeralNodes(t *testing.T) {
	m := New()
	ctx := context.Background()
	clone := m.Clone()
	if _, err := clone.Create(ctx, "/zoomlocks/lock-1", nil, backend.Ephemeral); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := clone.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if exists, _, _ := m.Exists(ctx, "/zoomlocks/lock-1"); exists {
		t.Error("ephemeral node should be gone after its session closed")
	}
}

func TestWatchDataFiresOnSetData(t *testing.T) {
	m := New()
	ctx := context.Background()
	m.Create(ctx, "/a", []byte("v0"), backend.Persistent)
	w, err := m.WatchData("/a")
	if err != nil {
		t.Fatalf("WatchData: %v", err)
	}
	m.SetData(ctx, "/a", []byte("v1"), 0)
	ev, ok := <-w.C()
	if !ok {
		t.Fatal("watch channel closed without delivering an event")
	}
	if ev.Path != "/a" || ev.Type != backend.EventNodeDataChanged {
		t.Errorf("event = %+v, want data-changed on /a", ev)
	}
}

func TestWatchChildrenFiresOnCreate(t *testing.T) {
	m := New()
	ctx := context.Background()
	m.Create(ctx, "/a", nil, backend.Persistent)
	w, err := m.WatchChildren("/a")
	if err != nil {
		t.Fatalf("WatchChildren: %v", err)
	}
	m.Create(ctx, "/a/child", nil, backend.Persistent)
	ev, ok := <-w.C()
	if !ok {
		t.Fatal("watch channel closed without delivering an event")
	}
	if ev.Path != "/a" {
		t.Errorf("event path = %q, want /a", ev.Path)
	}
}

func TestCreateSequentialAssignsIncreasingSuffixes(t *testing.T) {
	m := New()
	ctx := context.Background()
	p1, _, err := m.CreateSequential(ctx, "/zoomlocks/lock", nil)
	if err != nil {
		t.Fatalf("CreateSequential: %v", err)
	}
	p2, _, err := m.CreateSequential(ctx, "/zoomlocks/lock", nil)
	if err != nil {
		t.Fatalf("CreateSequential: %v", err)
	}
	if p1 == p2 {
		t.Errorf("sequential paths should differ: %q == %q", p1, p2)
	}
}

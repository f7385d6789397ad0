package boltraft

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/cuemby/zoom/pkg/backend"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	if testing.Short() {
		t.Skip("boltraft integration test requires a real raft+bbolt bootstrap")
	}
	dir := t.TempDir()
	port := freePort(t)
	b, err := New(Config{
		NodeID:    "node-1",
		BindAddr:  fmt.Sprintf("127.0.0.1:%d", port),
		DataDir:   dir,
		Bootstrap: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.WaitForLeader(ctx); err != nil {
		t.Fatalf("WaitForLeader: %v", err)
	}
	return b
}

func TestBoltraftCreateAndGet(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if _, err := b.Create(ctx, "/zoom/bridges/b1", []byte("payload"), backend.Persistent); err != nil {
		t.Fatalf("Create: %v", err)
	}
	data, version, err := b.Get(ctx, "/zoom/bridges/b1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "payload" || version != 0 {
		t.Errorf("Get = (%q, %d), want (payload, 0)", data, version)
	}
}

func TestBoltraftPingSucceedsOnceLeaderIsKnown(t *testing.T) {
	b := newTestBackend(t)

	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	var _ backend.Pinger = b
}

func TestBoltraftSetDataRejectsStaleVersion(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	b.Create(ctx, "/a", []byte("v0"), backend.Persistent)

	if _, err := b.SetData(ctx, "/a", []byte("v1"), 7); !errors.Is(err, backend.ErrBadVersion) {
		t.Fatalf("SetData = %v, want ErrBadVersion", err)
	}
}

func TestBoltraftMultiIsAtomic(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	b.Create(ctx, "/a", []byte("v0"), backend.Persistent)

	ops := []backend.Op{
		{Kind: backend.OpCreate, Path: "/b", Data: []byte("new")},
		{Kind: backend.OpSetData, Path: "/a", Data: []byte("v1"), ExpectedVersion: 99},
	}
	if _, err := b.Multi(ctx, ops); !errors.Is(err, backend.ErrBadVersion) {
		t.Fatalf("Multi = %v, want ErrBadVersion", err)
	}
	if exists, _, _ := b.Exists(ctx, "/b"); exists {
		t.Error("/b should not exist after a failed Multi batch")
	}
}

func TestBoltraftWatchDataFires(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	b.Create(ctx, "/a", []byte("v0"), backend.Persistent)

	w, err := b.WatchData("/a")
	if err != nil {
		t.Fatalf("WatchData: %v", err)
	}
	if _, err := b.SetData(ctx, "/a", []byte("v1"), 0); err != nil {
		t.Fatalf("SetData: %v", err)
	}

	select {
	case ev := <-w.C():
		if ev.Path != "/a" {
			t.Errorf("event path = %q, want /a", ev.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data watch")
	}
}

func TestBoltraftCloseEvictsEphemeralNodes(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	if _, err := b.Create(ctx, "/zoomlocks/lock-1", nil, backend.Ephemeral); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

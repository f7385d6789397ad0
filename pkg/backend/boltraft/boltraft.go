package boltraft

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/cuemby/zoom/pkg/backend"
	zlog "github.com/cuemby/zoom/pkg/log"
)

// Config configures a single raft voter backing one Backend handle.
type Config struct {
	// NodeID is this voter's raft server ID.
	NodeID string
	// BindAddr is the host:port the raft transport listens on.
	BindAddr string
	// DataDir holds the raft log/stable store, snapshots and the bbolt
	// data file.
	DataDir string
	// Bootstrap starts a fresh single-voter cluster with this node as the
	// only member. Set false when joining an existing cluster via
	// AddVoter on the current leader instead.
	Bootstrap bool
	// ApplyTimeout bounds how long a mutating call waits for its command
	// to be committed and applied.
	ApplyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 5 * time.Second
	}
	return c
}

// Backend is the durable, raft-replicated backend.Backend.
type Backend struct {
	raft      *raft.Raft
	fsm       *fsm
	hub       *hub
	transport *raft.NetworkTransport
	boltStore *raftboltdb.BoltStore
	dataDB    *bbolt.DB
	sessionID string
	cfg       Config
	log       zerolog.Logger
	closeOnce sync.Once
	closeErr  error
}

var _ backend.Backend = (*Backend)(nil)

// New opens (or initializes) a raft voter at cfg.DataDir and, if
// cfg.Bootstrap is set, bootstraps a new single-voter cluster.
func New(cfg Config) (*Backend, error) {
	cfg = cfg.withDefaults()
	log := zlog.WithComponent("boltraft").With().Str("node_id", cfg.NodeID).Logger()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("boltraft: create data dir: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("boltraft: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("boltraft: create transport: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("boltraft: create snapshot store: %w", err)
	}

	logStorePath := filepath.Join(cfg.DataDir, "raft-log.db")
	logStore, err := raftboltdb.NewBoltStore(logStorePath)
	if err != nil {
		return nil, fmt.Errorf("boltraft: create log store: %w", err)
	}

	dataPath := filepath.Join(cfg.DataDir, "data.db")
	dataDB, err := bbolt.Open(dataPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltraft: open data db: %w", err)
	}

	h := newHub()
	machine, err := newFSM(dataDB, h, log)
	if err != nil {
		return nil, fmt.Errorf("boltraft: init fsm: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	r, err := raft.NewRaft(raftCfg, machine, logStore, logStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("boltraft: start raft: %w", err)
	}

	if cfg.Bootstrap {
		future := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
		})
		if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("boltraft: bootstrap cluster: %w", err)
		}
	}

	return &Backend{
		raft:      r,
		fsm:       machine,
		hub:       h,
		transport: transport,
		boltStore: logStore,
		dataDB:    dataDB,
		sessionID: uuid.NewString(),
		cfg:       cfg,
		log:       log,
	}, nil
}

// WaitForLeader blocks until this voter observes a leader (possibly
// itself) or ctx is done.
func (b *Backend) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.raft.Leader() != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsLeader reports whether this voter currently believes it is the raft
// leader.
func (b *Backend) IsLeader() bool {
	return b.raft.State() == raft.Leader
}

// Ping reports the raft node's liveness by checking it has a known
// leader (itself or a peer). It never touches the FSM or the log.
func (b *Backend) Ping(_ context.Context) error {
	if b.raft.Leader() == "" {
		return fmt.Errorf("boltraft: no known leader")
	}
	return nil
}

func (b *Backend) apply(ctx context.Context, ops []backend.Op) ([]backend.OpResult, error) {
	cmd := command{Ops: ops, SessionID: b.sessionID}
	data, err := encodeCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("boltraft: encode command: %w", err)
	}

	timeout := b.cfg.ApplyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	future := b.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("boltraft: apply: %w", err)
	}
	resp, ok := future.Response().(fsmResponse)
	if !ok {
		return nil, fmt.Errorf("boltraft: unexpected fsm response type %T", future.Response())
	}
	if resp.Err != nil {
		return resp.Results, resp.Err
	}
	return resp.Results, nil
}

func (b *Backend) Get(_ context.Context, p string) ([]byte, int64, error) {
	p = clean(p)
	var data []byte
	var version int64
	err := b.dataDB.View(func(tx *bbolt.Tx) error {
		e, ok := getEnvelope(tx, p)
		if !ok {
			return backend.ErrNoNode
		}
		data = append([]byte(nil), e.Data...)
		version = e.Version
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return data, version, nil
}

func (b *Backend) Create(ctx context.Context, p string, data []byte, mode backend.NodeMode) (int64, error) {
	results, err := b.apply(ctx, []backend.Op{{Kind: backend.OpCreate, Path: p, Data: data, Mode: mode}})
	if err != nil {
		return 0, err
	}
	return results[0].Version, nil
}

func (b *Backend) CreateSequential(ctx context.Context, prefix string, data []byte) (string, int64, error) {
	p := fmt.Sprintf("%s-%s", clean(prefix), uuid.NewString())
	v, err := b.Create(ctx, p, data, backend.EphemeralSequential)
	if err != nil {
		return "", 0, err
	}
	return p, v, nil
}

func (b *Backend) SetData(ctx context.Context, p string, data []byte, expectedVersion int64) (int64, error) {
	results, err := b.apply(ctx, []backend.Op{{Kind: backend.OpSetData, Path: p, Data: data, ExpectedVersion: expectedVersion}})
	if err != nil {
		return 0, err
	}
	return results[0].Version, nil
}

func (b *Backend) Delete(ctx context.Context, p string, expectedVersion int64) error {
	_, err := b.apply(ctx, []backend.Op{{Kind: backend.OpDelete, Path: p, ExpectedVersion: expectedVersion}})
	return err
}

func (b *Backend) Children(_ context.Context, p string) ([]string, error) {
	p = clean(p)
	var out []string
	err := b.dataDB.View(func(tx *bbolt.Tx) error {
		if _, ok := getEnvelope(tx, p); !ok {
			return backend.ErrNoNode
		}
		out = childrenOf(tx, p)
		return nil
	})
	return out, err
}

func (b *Backend) Exists(_ context.Context, p string) (bool, int64, error) {
	p = clean(p)
	var exists bool
	var version int64
	err := b.dataDB.View(func(tx *bbolt.Tx) error {
		e, ok := getEnvelope(tx, p)
		exists = ok
		if ok {
			version = e.Version
		}
		return nil
	})
	return exists, version, err
}

func (b *Backend) Multi(ctx context.Context, ops []backend.Op) ([]backend.OpResult, error) {
	return b.apply(ctx, ops)
}

func (b *Backend) WatchData(p string) (backend.Watch, error) {
	return b.hub.watchData(clean(p)), nil
}

func (b *Backend) WatchChildren(p string) (backend.Watch, error) {
	return b.hub.watchChildren(clean(p)), nil
}

// Close releases every ephemeral node owned by this backend's session,
// shuts down raft and closes the underlying bbolt database. Safe to call
// more than once.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() { b.closeErr = b.closeLocked() })
	return b.closeErr
}

func (b *Backend) closeLocked() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ApplyTimeout)
	defer cancel()

	var toDelete []struct {
		path    string
		version int64
	}
	_ = b.dataDB.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(nodesBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e envelope
			if err := decodeEnvelopeValue(v, &e); err == nil && e.Owner == b.sessionID && e.Mode != backend.Persistent {
				toDelete = append(toDelete, struct {
					path    string
					version int64
				}{string(k), e.Version})
			}
		}
		return nil
	})
	if len(toDelete) > 0 {
		ops := make([]backend.Op, 0, len(toDelete))
		for _, d := range toDelete {
			ops = append(ops, backend.Op{Kind: backend.OpDelete, Path: d.path, ExpectedVersion: d.version})
		}
		if b.IsLeader() {
			_, _ = b.apply(ctx, ops)
		}
	}

	shutdownErr := b.raft.Shutdown().Error()
	transportErr := b.transport.Close()
	boltErr := b.boltStore.Close()
	dbErr := b.dataDB.Close()

	for _, err := range []error{shutdownErr, transportErr, boltErr, dbErr} {
		if err != nil {
			return fmt.Errorf("boltraft: close: %w", err)
		}
	}
	return nil
}

/*
Package lock implements the topology mutex and the transaction retry loop
built on top of pkg/txn: a coarse, optional ephemeral-node mutex at a
well-known path, and a bounded retry wrapper that reopens and recommits a
transaction body whenever the previous attempt failed with a concurrent
modification.
*/
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/zoom/pkg/backend"
	"github.com/cuemby/zoom/pkg/config"
	"github.com/cuemby/zoom/pkg/log"
	"github.com/cuemby/zoom/pkg/paths"
	"github.com/cuemby/zoom/pkg/zoomerr"
)

// TopologyLock is a coordination-service mutex at a single well-known
// path. Acquiring it creates an Ephemeral node there; when uncontended,
// Acquire returns immediately (the "lock-free" fast path) since there is
// nothing to wait on. A holder that crashes mid-transaction drops its
// backend session, and the node's ephemeral lifetime returns the lock to
// that same uncontended state without operator intervention; an operator
// can force the same recovery by deleting the node directly against the
// backend.
type TopologyLock struct {
	be  backend.Backend
	cfg config.Config
	log zerolog.Logger
}

// NewTopologyLock returns a TopologyLock scoped to cfg's path root.
func NewTopologyLock(be backend.Backend, cfg config.Config) *TopologyLock {
	return &TopologyLock{be: be, cfg: cfg, log: log.WithComponent("topology-lock")}
}

// Lease is a held TopologyLock, released exactly once via Release.
type Lease struct {
	be      backend.Backend
	path    string
	version int64
}

// Acquire blocks until the mutex is held or cfg.LockTimeout elapses.
func (l *TopologyLock) Acquire(ctx context.Context) (*Lease, error) {
	path := paths.TopologyLock(l.cfg)
	deadline := time.Now().Add(l.cfg.LockTimeout)

	for {
		version, err := l.be.Create(ctx, path, []byte(l.cfg.Namespace), backend.Ephemeral)
		if err == nil {
			return &Lease{be: l.be, path: path, version: version}, nil
		}
		if !errors.Is(err, backend.ErrNodeExists) {
			return nil, zoomerr.StorageFailure("acquire topology lock", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, zoomerr.StorageFailure("acquire topology lock", context.DeadlineExceeded)
		}

		watch, werr := l.be.WatchData(path)
		if werr != nil {
			return nil, zoomerr.StorageFailure("watch topology lock", werr)
		}

		timer := time.NewTimer(remaining)
		select {
		case <-watch.C():
			timer.Stop()
		case <-timer.C:
			watch.Close()
			return nil, zoomerr.StorageFailure("acquire topology lock", context.DeadlineExceeded)
		case <-ctx.Done():
			timer.Stop()
			watch.Close()
			return nil, ctx.Err()
		}
	}
}

// Release deletes the mutex node. A lease already reclaimed by a session
// expiry is treated as already released rather than an error.
func (ls *Lease) Release(ctx context.Context) error {
	if err := ls.be.Delete(ctx, ls.path, ls.version); err != nil && !errors.Is(err, backend.ErrNoNode) {
		return zoomerr.StorageFailure("release topology lock", err)
	}
	return nil
}

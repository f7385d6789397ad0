/*
Package store wires the registry, backend, observable cache, topology
lock and transaction manager together into the object-graph store's
public surface: point reads, atomic transactions, and live change
streams.
*/
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/zoom/pkg/backend"
	"github.com/cuemby/zoom/pkg/config"
	"github.com/cuemby/zoom/pkg/lock"
	"github.com/cuemby/zoom/pkg/log"
	"github.com/cuemby/zoom/pkg/metrics"
	"github.com/cuemby/zoom/pkg/observable"
	"github.com/cuemby/zoom/pkg/paths"
	"github.com/cuemby/zoom/pkg/registry"
	"github.com/cuemby/zoom/pkg/txn"
	"github.com/cuemby/zoom/pkg/zoomerr"
)

type objectKey struct {
	class string
	id    registry.ObjId
}

// Store is the public storage facade: a registered catalog, a backend
// connection, a topology lock, and a cache of live change streams kept
// current by a background watcher per subscribed key.
type Store struct {
	cfg      config.Config
	be       backend.Backend
	catalog  *registry.Catalog
	cache    *observable.Cache
	topology *lock.TopologyLock
	log      zerolog.Logger

	jobs chan func()
	wg   sync.WaitGroup

	objectWatchers sync.Map // objectKey -> uint64 (ref currently being watched)
	classWatchers  sync.Map // string -> uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// New returns a Store over catalog (which must already be Build-frozen)
// and be. It creates each registered class's directory node if missing and
// starts the background result dispatcher immediately.
func New(cfg config.Config, be backend.Backend, catalog *registry.Catalog) (*Store, error) {
	if !catalog.Built() {
		return nil, zoomerr.ServiceUnavailable("catalog has not been Build()'d")
	}
	for _, class := range catalog.Classes() {
		_, err := be.Create(context.Background(), paths.ClassDir(cfg, class), nil, backend.Persistent)
		if err != nil && !errors.Is(err, backend.ErrNodeExists) {
			return nil, zoomerr.StorageFailure("create class directory", err)
		}
	}
	s := &Store{
		cfg:      cfg,
		be:       be,
		catalog:  catalog,
		cache:    observable.NewCache(),
		topology: lock.NewTopologyLock(be, cfg),
		log:      log.WithComponent("store"),
		jobs:     make(chan func(), 64),
		closed:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.resultDispatcher()

	if pinger, ok := be.(backend.Pinger); ok && cfg.HealthCheckInterval > 0 {
		s.wg.Add(1)
		go s.runHealthCheck(pinger, cfg.HealthCheckInterval)
	} else {
		metrics.BackendHealthy.Set(1)
	}
	return s, nil
}

// runHealthCheck periodically probes the backend and reflects the result
// in the BackendHealthy gauge, so an operator can tell live backend loss
// apart from a burst of ConcurrentModification retries.
func (s *Store) runHealthCheck(pinger backend.Pinger, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	probe := func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if err := pinger.Ping(ctx); err != nil {
			metrics.BackendHealthy.Set(0)
			s.log.Warn().Err(err).Msg("backend health probe failed")
			return
		}
		metrics.BackendHealthy.Set(1)
	}

	probe()
	for {
		select {
		case <-ticker.C:
			probe()
		case <-s.closed:
			return
		}
	}
}

// resultDispatcher is the single daemon worker that completes every
// Future returned by Get/GetAll/Exists.
func (s *Store) resultDispatcher() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.jobs:
			job()
		case <-s.closed:
			return
		}
	}
}

func (s *Store) dispatch(job func()) {
	select {
	case s.jobs <- job:
	case <-s.closed:
		job()
	}
}

// Get returns a Future for class/id's current value.
func (s *Store) Get(ctx context.Context, class string, id registry.ObjId) *Future[any] {
	fut := newFuture[any]()
	s.dispatch(func() {
		obj, err := s.getSync(ctx, class, id)
		fut.complete(obj, err)
	})
	return fut
}

func (s *Store) getSync(ctx context.Context, class string, id registry.ObjId) (any, error) {
	d, ok := s.catalog.Descriptor(class)
	if !ok {
		return nil, zoomerr.ServiceUnavailable("class " + class + " is not registered")
	}
	cdc, ok := s.catalog.Codec(class)
	if !ok {
		return nil, zoomerr.ServiceUnavailable("class " + class + " has no codec")
	}

	timer := metrics.NewTimer()
	data, _, err := s.be.Get(ctx, paths.Model(s.cfg, class, string(id)))
	timer.ObserveDurationVec(metrics.BackendLatency, "get")
	if err != nil {
		if errors.Is(err, backend.ErrNoNode) {
			return nil, zoomerr.NotFound(class, string(id))
		}
		return nil, zoomerr.StorageFailure("get", err)
	}

	obj := d.New()
	if err := cdc.Unmarshal(data, obj); err != nil {
		return nil, zoomerr.InternalObjectMapper(err)
	}
	return obj, nil
}

// GetAll returns a Future for every currently stored instance of class.
func (s *Store) GetAll(ctx context.Context, class string) *Future[[]any] {
	fut := newFuture[[]any]()
	s.dispatch(func() {
		objs, err := s.getAllSync(ctx, class)
		fut.complete(objs, err)
	})
	return fut
}

func (s *Store) getAllSync(ctx context.Context, class string) ([]any, error) {
	timer := metrics.NewTimer()
	ids, err := s.be.Children(ctx, paths.ClassDir(s.cfg, class))
	timer.ObserveDurationVec(metrics.BackendLatency, "children")
	if err != nil {
		if errors.Is(err, backend.ErrNoNode) {
			return nil, nil
		}
		return nil, zoomerr.StorageFailure("getAll", err)
	}

	out := make([]any, 0, len(ids))
	for _, id := range ids {
		obj, err := s.getSync(ctx, class, registry.ObjId(id))
		if err != nil {
			if _, ok := err.(*zoomerr.NotFoundError); ok {
				continue // deleted between Children and Get
			}
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// Exists returns a Future reporting whether class/id currently exists.
func (s *Store) Exists(ctx context.Context, class string, id registry.ObjId) *Future[bool] {
	fut := newFuture[bool]()
	s.dispatch(func() {
		exists, _, err := s.be.Exists(ctx, paths.Model(s.cfg, class, string(id)))
		if err != nil {
			fut.complete(false, zoomerr.StorageFailure("exists", err))
			return
		}
		fut.complete(exists, nil)
	})
	return fut
}

// Transaction opens a fresh, uncommitted Transaction attributed to owner.
func (s *Store) Transaction(ctx context.Context, owner string) (*txn.Transaction, error) {
	return txn.Open(ctx, s.be, s.catalog, s.cfg, owner)
}

// TryTransaction acquires the topology lock, runs body against a fresh
// transaction, commits, and retries on ConcurrentModification, making at
// most cfg.TransactionAttempts attempts in all.
func (s *Store) TryTransaction(ctx context.Context, owner string, body func(tx *txn.Transaction) error) error {
	return lock.Retry(ctx, s.be, s.catalog, s.cfg, s.topology, owner, body)
}

// Multi opens a transaction with no owner, applies ops as raw node
// mutations, and commits, per the single-shot convenience entry point.
func (s *Store) Multi(ctx context.Context, ops []backend.Op) error {
	tx, err := s.Transaction(ctx, "")
	if err != nil {
		return err
	}
	for _, op := range ops {
		switch op.Kind {
		case backend.OpCreate:
			tx.CreateNode(op.Path, op.Data)
		case backend.OpSetData:
			tx.UpdateNode(op.Path, op.Data, op.ExpectedVersion)
		case backend.OpDelete:
			tx.DeleteNode(op.Path, op.ExpectedVersion)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	return nil
}

// Close stops the result dispatcher and tears down every observable
// stream. Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.wg.Wait()
		s.cache.Close()
	})
	return nil
}

/*
Package state implements the auxiliary key-value state subsystem: small
sets of string values attached to a (namespace, class, id, key)
coordinate, stored and watched independently of the object graph itself.
*/
package state

import (
	"context"
	"errors"
	"sync"

	"github.com/cuemby/zoom/pkg/backend"
	"github.com/cuemby/zoom/pkg/codec"
	"github.com/cuemby/zoom/pkg/config"
	"github.com/cuemby/zoom/pkg/observable"
	"github.com/cuemby/zoom/pkg/paths"
	"github.com/cuemby/zoom/pkg/zoomerr"
)

// Store is the baseline state subsystem, backed directly by a
// backend.Backend with no local caching of values.
type Store struct {
	be      backend.Backend
	cfg     config.Config
	codec   codec.Codec
	streams sync.Map // string path -> *observable.Stream[[]string]
}

// New returns a Store writing state under cfg's path root.
func New(be backend.Backend, cfg config.Config) *Store {
	return &Store{be: be, cfg: cfg, codec: codec.JSON{}}
}

func (s *Store) path(namespace, class, id, key string) string {
	return paths.StateKey(s.cfg, namespace, class, id, key)
}

func (s *Store) readSet(ctx context.Context, path string) ([]string, int64, bool, error) {
	data, version, err := s.be.Get(ctx, path)
	if err != nil {
		if errors.Is(err, backend.ErrNoNode) {
			return nil, 0, false, nil
		}
		return nil, 0, false, zoomerr.StorageFailure("read state key", err)
	}
	var values []string
	if err := s.codec.Unmarshal(data, &values); err != nil {
		return nil, 0, false, zoomerr.InternalObjectMapper(err)
	}
	return values, version, true, nil
}

func containsValue(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}

// AddValue adds value to the set at (namespace, class, id, key), creating
// the key's node if it does not already exist. Adding a value already
// present is a no-op.
func (s *Store) AddValue(ctx context.Context, namespace, class, id, key, value string) error {
	path := s.path(namespace, class, id, key)

	values, version, exists, err := s.readSet(ctx, path)
	if err != nil {
		return err
	}
	if containsValue(values, value) {
		return nil
	}
	values = append(values, value)

	data, err := s.codec.Marshal(values)
	if err != nil {
		return zoomerr.InternalObjectMapper(err)
	}

	if !exists {
		if _, err := s.be.Create(ctx, path, data, backend.Persistent); err != nil {
			return zoomerr.StorageFailure("add state value", err)
		}
	} else {
		if _, err := s.be.SetData(ctx, path, data, version); err != nil {
			return zoomerr.StorageFailure("add state value", err)
		}
	}

	s.publish(path, values)
	return nil
}

// RemoveValue removes value from the set at (namespace, class, id, key).
// Removing a value from a missing key, or a value not present, is a no-op.
func (s *Store) RemoveValue(ctx context.Context, namespace, class, id, key, value string) error {
	path := s.path(namespace, class, id, key)

	values, version, exists, err := s.readSet(ctx, path)
	if err != nil {
		return err
	}
	if !exists || !containsValue(values, value) {
		return nil
	}

	out := values[:0]
	for _, v := range values {
		if v != value {
			out = append(out, v)
		}
	}

	data, err := s.codec.Marshal(out)
	if err != nil {
		return zoomerr.InternalObjectMapper(err)
	}
	if _, err := s.be.SetData(ctx, path, data, version); err != nil {
		return zoomerr.StorageFailure("remove state value", err)
	}

	s.publish(path, out)
	return nil
}

// GetKey returns the current value set at (namespace, class, id, key). A
// missing key yields an empty set rather than an error.
func (s *Store) GetKey(ctx context.Context, namespace, class, id, key string) ([]string, error) {
	values, _, _, err := s.readSet(ctx, s.path(namespace, class, id, key))
	return values, err
}

func (s *Store) streamFor(path string) *observable.Stream[[]string] {
	if v, ok := s.streams.Load(path); ok {
		return v.(*observable.Stream[[]string])
	}
	actual, _ := s.streams.LoadOrStore(path, observable.NewStream[[]string]())
	return actual.(*observable.Stream[[]string])
}

func (s *Store) publish(path string, values []string) {
	if v, ok := s.streams.Load(path); ok {
		v.(*observable.Stream[[]string]).Publish(values)
	}
}

// KeyObservable subscribes to (namespace, class, id, key): the returned
// channel first receives the key's current value set, then every
// subsequent change. The unsubscribe func stops delivery and lets the
// stream be evicted once its last subscriber leaves.
func (s *Store) KeyObservable(ctx context.Context, namespace, class, id, key string) (<-chan []string, func()) {
	path := s.path(namespace, class, id, key)
	stream := s.streamFor(path)
	changes, unsub := stream.Subscribe()

	out := make(chan []string, 50)
	go func() {
		defer close(out)
		current, err := s.GetKey(ctx, namespace, class, id, key)
		if err == nil {
			select {
			case out <- current:
			default:
			}
		}
		for v := range changes {
			select {
			case out <- v:
			default:
			}
		}
	}()

	return out, func() {
		unsub()
		ref := stream.Ref()
		if stream.SubscriberCount() == 0 {
			s.evict(path, ref)
		}
	}
}

func (s *Store) evict(path string, ref uint64) {
	v, ok := s.streams.Load(path)
	if !ok {
		return
	}
	if v.(*observable.Stream[[]string]).Ref() != ref {
		return
	}
	s.streams.CompareAndDelete(path, v)
}

// NamespaceNone, when sent on a DynamicKeyObservable namespaces channel,
// unsubscribes from whatever namespace is currently active without
// subscribing to a replacement.
const NamespaceNone = ""

// DynamicKeyObservable re-targets KeyObservable to follow namespace
// identifiers arriving on namespaces, switching streams as they change.
// Sending NamespaceNone detaches from the current namespace without
// attaching to a new one. The returned channel is closed once namespaces
// is closed or ctx is cancelled.
func (s *Store) DynamicKeyObservable(ctx context.Context, namespaces <-chan string, class, id, key string) <-chan []string {
	out := make(chan []string, 50)

	go func() {
		defer close(out)

		var unsub func()
		var current <-chan []string
		stop := func() {
			if unsub != nil {
				unsub()
				unsub = nil
				current = nil
			}
		}
		defer stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ns, ok := <-namespaces:
				if !ok {
					return
				}
				stop()
				if ns == NamespaceNone {
					continue
				}
				ch, u := s.KeyObservable(ctx, ns, class, id, key)
				current, unsub = ch, u
			case v, ok := <-current:
				if !ok {
					current = nil
					continue
				}
				select {
				case out <- v:
				default:
				}
			}
		}
	}()

	return out
}

// Cached wraps a baseline Store with a read-through snapshot map: a
// subscriber's first delivered value always comes from the last cached
// write, even if it arrives before the backend's own change notification,
// so observers never see a gap between GetKey and KeyObservable.
type Cached struct {
	base     *Store
	snapshot sync.Map // string path -> []string
}

// NewCached wraps base with a read-through cache.
func NewCached(base *Store) *Cached {
	return &Cached{base: base}
}

func (c *Cached) AddValue(ctx context.Context, namespace, class, id, key, value string) error {
	if err := c.base.AddValue(ctx, namespace, class, id, key, value); err != nil {
		return err
	}
	return c.refresh(ctx, namespace, class, id, key)
}

func (c *Cached) RemoveValue(ctx context.Context, namespace, class, id, key, value string) error {
	if err := c.base.RemoveValue(ctx, namespace, class, id, key, value); err != nil {
		return err
	}
	return c.refresh(ctx, namespace, class, id, key)
}

func (c *Cached) refresh(ctx context.Context, namespace, class, id, key string) error {
	values, err := c.base.GetKey(ctx, namespace, class, id, key)
	if err != nil {
		return err
	}
	c.snapshot.Store(c.base.path(namespace, class, id, key), values)
	return nil
}

// GetKey returns the cached value set if one has been observed yet,
// falling back to a live backend read on a cold cache.
func (c *Cached) GetKey(ctx context.Context, namespace, class, id, key string) ([]string, error) {
	if v, ok := c.snapshot.Load(c.base.path(namespace, class, id, key)); ok {
		return v.([]string), nil
	}
	values, err := c.base.GetKey(ctx, namespace, class, id, key)
	if err != nil {
		return nil, err
	}
	c.snapshot.Store(c.base.path(namespace, class, id, key), values)
	return values, nil
}

// KeyObservable emits the cached snapshot (if any) ahead of the base
// store's own current-value-then-changes stream, so a subscriber never
// waits on a backend round trip to see the last known value.
func (c *Cached) KeyObservable(ctx context.Context, namespace, class, id, key string) (<-chan []string, func()) {
	path := c.base.path(namespace, class, id, key)
	live, unsub := c.base.KeyObservable(ctx, namespace, class, id, key)

	out := make(chan []string, 50)
	go func() {
		defer close(out)
		if v, ok := c.snapshot.Load(path); ok {
			select {
			case out <- v.([]string):
			default:
			}
		}
		for v := range live {
			c.snapshot.Store(path, v)
			select {
			case out <- v:
			default:
			}
		}
	}()

	return out, unsub
}

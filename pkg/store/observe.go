package store

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/zoom/pkg/backend"
	"github.com/cuemby/zoom/pkg/metrics"
	"github.com/cuemby/zoom/pkg/observable"
	"github.com/cuemby/zoom/pkg/paths"
	"github.com/cuemby/zoom/pkg/registry"
	"github.com/cuemby/zoom/pkg/zoomerr"
)

// watchRetryDelay bounds how fast a lost watch is retried when the
// backend itself is unreachable, so a downed backend doesn't spin a
// watcher goroutine in a tight loop.
const watchRetryDelay = time.Second

// Observable subscribes to class/id's live value stream. The channel
// delivers the object's current value (nil once deleted) on every change;
// the returned unsubscribe func must be called exactly once.
func (s *Store) Observable(class string, id registry.ObjId) (<-chan any, func()) {
	stream := s.cache.Object(class, id)
	ch, unsub := stream.Subscribe()
	s.ensureObjectWatcher(class, id, stream)
	return ch, func() {
		unsub()
		s.maybeEvictObject(class, id, stream)
	}
}

func (s *Store) ensureObjectWatcher(class string, id registry.ObjId, stream *observable.Stream[any]) {
	key := objectKey{class, id}
	ref := stream.Ref()
	if prev, loaded := s.objectWatchers.LoadOrStore(key, ref); loaded && prev.(uint64) == ref {
		return
	}
	s.objectWatchers.Store(key, ref)
	go s.runObjectWatcher(class, id, stream, ref)
}

func (s *Store) runObjectWatcher(class string, id registry.ObjId, stream *observable.Stream[any], ref uint64) {
	path := paths.Model(s.cfg, class, string(id))
	ctx := context.Background()

	for {
		if stream.Ref() != ref {
			return
		}

		obj, err := s.getSync(ctx, class, id)
		switch {
		case err == nil:
			stream.Publish(obj)
		case isNotFound(err):
			stream.Publish(nil)
		default:
			metrics.ObservableRecoveriesTotal.WithLabelValues("object").Inc()
			time.Sleep(watchRetryDelay)
			continue
		}

		watch, werr := s.be.WatchData(path)
		if werr != nil {
			metrics.ObservableRecoveriesTotal.WithLabelValues("object").Inc()
			time.Sleep(watchRetryDelay)
			continue
		}

		if stream.SubscriberCount() == 0 {
			watch.Close()
			s.maybeEvictObject(class, id, stream)
			return
		}

		select {
		case <-watch.C():
		case <-s.closed:
			watch.Close()
			return
		}
	}
}

func (s *Store) maybeEvictObject(class string, id registry.ObjId, stream *observable.Stream[any]) {
	if stream.SubscriberCount() > 0 {
		return
	}
	key := objectKey{class, id}
	if s.cache.EvictObject(class, id, stream.Ref()) {
		s.objectWatchers.Delete(key)
	}
}

// ObservableClass subscribes to class's membership stream: one ClassEvent
// per member created or removed. On first subscription the current
// membership is loaded and replayed as a burst of Created events.
func (s *Store) ObservableClass(class string) (<-chan observable.ClassEvent, func()) {
	stream := s.cache.Class(class)
	ch, unsub := stream.Subscribe()
	s.ensureClassWatcher(class, stream)
	return ch, func() {
		unsub()
		s.maybeEvictClass(class, stream)
	}
}

func (s *Store) ensureClassWatcher(class string, stream *observable.Stream[observable.ClassEvent]) {
	ref := stream.Ref()
	if prev, loaded := s.classWatchers.LoadOrStore(class, ref); loaded && prev.(uint64) == ref {
		return
	}
	s.classWatchers.Store(class, ref)
	go s.runClassWatcher(class, stream, ref)
}

func (s *Store) runClassWatcher(class string, stream *observable.Stream[observable.ClassEvent], ref uint64) {
	dir := paths.ClassDir(s.cfg, class)
	ctx := context.Background()
	known := map[registry.ObjId]bool{}

	for {
		if stream.Ref() != ref {
			return
		}

		ids, err := s.be.Children(ctx, dir)
		if err != nil && !isNoNode(err) {
			metrics.ObservableRecoveriesTotal.WithLabelValues("class").Inc()
			time.Sleep(watchRetryDelay)
			continue
		}

		current := map[registry.ObjId]bool{}
		for _, id := range ids {
			oid := registry.ObjId(id)
			current[oid] = true
			if !known[oid] {
				stream.Publish(observable.ClassEvent{ID: oid, Created: true})
			}
		}
		for oid := range known {
			if !current[oid] {
				stream.Publish(observable.ClassEvent{ID: oid, Created: false})
			}
		}
		known = current

		watch, werr := s.be.WatchChildren(dir)
		if werr != nil {
			metrics.ObservableRecoveriesTotal.WithLabelValues("class").Inc()
			time.Sleep(watchRetryDelay)
			continue
		}

		if stream.SubscriberCount() == 0 {
			watch.Close()
			s.maybeEvictClass(class, stream)
			return
		}

		select {
		case <-watch.C():
		case <-s.closed:
			watch.Close()
			return
		}
	}
}

func (s *Store) maybeEvictClass(class string, stream *observable.Stream[observable.ClassEvent]) {
	if stream.SubscriberCount() > 0 {
		return
	}
	if s.cache.EvictClass(class, stream.Ref()) {
		s.classWatchers.Delete(class)
	}
}

func isNotFound(err error) bool {
	_, ok := err.(*zoomerr.NotFoundError)
	return ok
}

func isNoNode(err error) bool {
	return errors.Is(err, backend.ErrNoNode)
}

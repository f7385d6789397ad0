package observable

import (
	"sync"

	"github.com/cuemby/zoom/pkg/registry"
)

type objectKey struct {
	class string
	id    registry.ObjId
}

// ClassEvent is published on a class stream when a member is created or
// deleted.
type ClassEvent struct {
	ID      registry.ObjId
	Created bool
}

// Cache holds two tables of cold-source streams: one object stream per
// (class, id), one membership stream per class. Both are created lazily on
// first access and evicted by EvictObject/EvictClass once their last
// subscriber leaves, guarded by a reference number so a stale eviction
// from an old generation cannot remove a replacement entry for the same
// key.
type Cache struct {
	objects sync.Map // objectKey -> *Stream[any]
	classes sync.Map // string -> *Stream[ClassEvent]
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{}
}

// Object returns the Stream for (class, id), creating it if it doesn't
// already exist.
func (c *Cache) Object(class string, id registry.ObjId) *Stream[any] {
	key := objectKey{class, id}
	if v, ok := c.objects.Load(key); ok {
		return v.(*Stream[any])
	}
	actual, _ := c.objects.LoadOrStore(key, newStream[any]())
	return actual.(*Stream[any])
}

// PublishObject delivers v on (class, id)'s stream if it currently exists.
// It never creates a stream solely to publish into it.
func (c *Cache) PublishObject(class string, id registry.ObjId, v any) {
	if s, ok := c.objects.Load(objectKey{class, id}); ok {
		s.(*Stream[any]).Publish(v)
	}
}

// EvictObject removes (class, id)'s stream if it is still the generation
// identified by ref.
func (c *Cache) EvictObject(class string, id registry.ObjId, ref uint64) bool {
	key := objectKey{class, id}
	v, ok := c.objects.Load(key)
	if !ok {
		return false
	}
	if v.(*Stream[any]).Ref() != ref {
		return false
	}
	return c.objects.CompareAndDelete(key, v)
}

// Class returns the membership-event Stream for class, creating it if it
// doesn't already exist.
func (c *Cache) Class(class string) *Stream[ClassEvent] {
	if v, ok := c.classes.Load(class); ok {
		return v.(*Stream[ClassEvent])
	}
	actual, _ := c.classes.LoadOrStore(class, newStream[ClassEvent]())
	return actual.(*Stream[ClassEvent])
}

// PublishClass delivers ev on class's stream if it currently exists.
func (c *Cache) PublishClass(class string, ev ClassEvent) {
	if v, ok := c.classes.Load(class); ok {
		v.(*Stream[ClassEvent]).Publish(ev)
	}
}

// EvictClass removes class's stream if it is still the generation
// identified by ref.
func (c *Cache) EvictClass(class string, ref uint64) bool {
	v, ok := c.classes.Load(class)
	if !ok {
		return false
	}
	if v.(*Stream[ClassEvent]).Ref() != ref {
		return false
	}
	return c.classes.CompareAndDelete(class, v)
}

// Close tears down every stream currently held by the cache.
func (c *Cache) Close() {
	c.objects.Range(func(key, value any) bool {
		value.(*Stream[any]).Close()
		c.objects.Delete(key)
		return true
	})
	c.classes.Range(func(key, value any) bool {
		value.(*Stream[ClassEvent]).Close()
		c.classes.Delete(key)
		return true
	})
}

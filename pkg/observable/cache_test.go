package observable

import "testing"

func TestCacheObjectIsLazilyCreatedAndShared(t *testing.T) {
	c := NewCache()
	s1 := c.Object("Bridge", "b1")
	s2 := c.Object("Bridge", "b1")
	if s1 != s2 {
		t.Error("Object should return the same stream for the same key")
	}
}

func TestCachePublishObjectDeliversToSubscribers(t *testing.T) {
	c := NewCache()
	s := c.Object("Bridge", "b1")
	ch, unsub := s.Subscribe()
	defer unsub()

	c.PublishObject("Bridge", "b1", "updated")
	if got := <-ch; got != "updated" {
		t.Errorf("got %v, want updated", got)
	}
}

func TestCachePublishObjectWithoutExistingStreamIsNoop(t *testing.T) {
	c := NewCache()
	c.PublishObject("Bridge", "missing", "value") // must not panic
}

func TestCacheEvictObjectRejectsStaleGeneration(t *testing.T) {
	c := NewCache()
	old := c.Object("Bridge", "b1")
	oldRef := old.Ref()

	// A replacement generation appears after the old one was torn down.
	c.EvictObject("Bridge", "b1", oldRef)
	replacement := c.Object("Bridge", "b1")
	if replacement.Ref() == oldRef {
		t.Fatal("expected EvictObject to have removed the old generation")
	}

	// Evicting with the stale ref again must not remove the replacement.
	if c.EvictObject("Bridge", "b1", oldRef) {
		t.Error("stale EvictObject should not report success")
	}
	current := c.Object("Bridge", "b1")
	if current != replacement {
		t.Error("stale eviction removed the replacement generation")
	}
}

func TestCacheClassLazyAndEvict(t *testing.T) {
	c := NewCache()
	s := c.Class("Bridge")
	ch, unsub := s.Subscribe()
	defer unsub()

	c.PublishClass("Bridge", ClassEvent{ID: "b1", Created: true})
	ev := <-ch
	if ev.ID != "b1" || !ev.Created {
		t.Errorf("got %+v, want {b1 true}", ev)
	}

	if !c.EvictClass("Bridge", s.Ref()) {
		t.Error("EvictClass should succeed for the current generation")
	}
	if c.Class("Bridge") == s {
		t.Error("Class should create a fresh stream after eviction")
	}
}

func TestCacheCloseTearsDownAllStreams(t *testing.T) {
	c := NewCache()
	objCh, _ := c.Object("Bridge", "b1").Subscribe()
	classCh, _ := c.Class("Bridge").Subscribe()

	c.Close()

	if _, ok := <-objCh; ok {
		t.Error("object stream channel should be closed after Cache.Close")
	}
	if _, ok := <-classCh; ok {
		t.Error("class stream channel should be closed after Cache.Close")
	}
}

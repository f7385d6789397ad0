package boltraft

import (
	"sync"

	"github.com/cuemby/zoom/pkg/backend"
)

// hub is the in-process notification fan-out the fsm publishes to after
// every successful Apply: a publish-to-subscribers broker generalized
// from a fixed event type enum to an arbitrary path key.
type hub struct {
	mu       sync.Mutex
	data     map[string][]*watch
	children map[string][]*watch
}

func newHub() *hub {
	return &hub{data: make(map[string][]*watch), children: make(map[string][]*watch)}
}

type watch struct {
	mu     sync.Mutex
	closed bool
	ch     chan backend.Event
}

func (w *watch) C() <-chan backend.Event { return w.ch }

func (w *watch) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	return nil
}

// fire delivers ev and closes the channel, unless the watch was already
// closed or fired.
func (w *watch) fire(ev backend.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		w.ch <- ev
		close(w.ch)
	}
}

func (h *hub) watchData(path string) backend.Watch {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := &watch{ch: make(chan backend.Event, 1)}
	h.data[path] = append(h.data[path], w)
	return w
}

func (h *hub) watchChildren(path string) backend.Watch {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := &watch{ch: make(chan backend.Event, 1)}
	h.children[path] = append(h.children[path], w)
	return w
}

func (h *hub) fireData(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.data[path] {
		w.fire(backend.Event{Path: path, Type: backend.EventNodeDataChanged})
	}
	delete(h.data, path)
}

func (h *hub) fireChildren(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.children[path] {
		w.fire(backend.Event{Path: path, Type: backend.EventNodeChildrenChanged})
	}
	delete(h.children, path)
}

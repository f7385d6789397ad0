package membackend

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/zoom/pkg/backend"
)

type node struct {
	data    []byte
	version int64
	mode    backend.NodeMode
	owner   string // session id of the backend that created an ephemeral node
}

type watcher struct {
	mu     sync.Mutex
	closed bool
	ch     chan backend.Event
}

func (w *watcher) C() <-chan backend.Event { return w.ch }

func (w *watcher) Close() error {
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
func (w *watcher) fire(ev backend.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		w.ch <- ev
		close(w.ch)
	}
}

// shared is the state a family of membackend handles (those returned by
// New and its clones obtained via Clone) operate on together, so
// Close on one handle only evicts that handle's own ephemeral nodes.
type shared struct {
	mu            sync.Mutex
	nodes         map[string]*node
	dataWatches   map[string][]*watcher
	childWatches  map[string][]*watcher
	seq           int64
}

// Memory is an in-memory backend.Backend.
type Memory struct {
	s         *shared
	sessionID string
	closed    bool
}

// New returns a standalone Memory backend with its own session.
func New() *Memory {
	return &Memory{
		s: &shared{
			nodes:        map[string]*node{"/": {mode: backend.Persistent}},
			dataWatches:  make(map[string][]*watcher),
			childWatches: make(map[string][]*watcher),
		},
		sessionID: uuid.NewString(),
	}
}

// Clone returns a new handle onto the same in-memory tree with a fresh
// session, so Close on the clone only evicts ephemeral nodes it created.
func (m *Memory) Clone() *Memory {
	return &Memory{s: m.s, sessionID: uuid.NewString()}
}

func clean(p string) string {
	p = path.Clean("/" + p)
	return p
}

func parent(p string) string {
	return clean(path.Dir(p))
}

func (m *Memory) Get(_ context.Context, p string) ([]byte, int64, error) {
	p = clean(p)
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n, ok := m.s.nodes[p]
	if !ok {
		return nil, 0, backend.ErrNoNode
	}
	return append([]byte(nil), n.data...), n.version, nil
}

func (m *Memory) Create(_ context.Context, p string, data []byte, mode backend.NodeMode) (int64, error) {
	p = clean(p)
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, exists := m.s.nodes[p]; exists {
		return 0, backend.ErrNodeExists
	}
	owner := ""
	if mode != backend.Persistent {
		owner = m.sessionID
	}
	m.s.nodes[p] = &node{data: append([]byte(nil), data...), version: 0, mode: mode, owner: owner}
	m.s.fireChildren(parent(p))
	return 0, nil
}

func (m *Memory) CreateSequential(_ context.Context, prefix string, data []byte) (string, int64, error) {
	prefix = clean(prefix)
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.seq++
	p := fmt.Sprintf("%s-%010d", prefix, m.s.seq)
	m.s.nodes[p] = &node{data: append([]byte(nil), data...), version: 0, mode: backend.EphemeralSequential, owner: m.sessionID}
	m.s.fireChildren(parent(p))
	return p, 0, nil
}

func (m *Memory) SetData(_ context.Context, p string, data []byte, expectedVersion int64) (int64, error) {
	p = clean(p)
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n, ok := m.s.nodes[p]
	if !ok {
		return 0, backend.ErrNoNode
	}
	if n.version != expectedVersion {
		return 0, backend.ErrBadVersion
	}
	n.data = append([]byte(nil), data...)
	n.version++
	m.s.fireData(p)
	return n.version, nil
}

func (m *Memory) Delete(_ context.Context, p string, expectedVersion int64) error {
	p = clean(p)
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n, ok := m.s.nodes[p]
	if !ok {
		return backend.ErrNoNode
	}
	if n.version != expectedVersion {
		return backend.ErrBadVersion
	}
	if m.s.hasChildrenLocked(p) {
		return backend.ErrNotEmpty
	}
	delete(m.s.nodes, p)
	m.s.fireData(p)
	m.s.fireChildren(parent(p))
	return nil
}

func (m *Memory) Children(_ context.Context, p string) ([]string, error) {
	p = clean(p)
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.nodes[p]; !ok {
		return nil, backend.ErrNoNode
	}
	return m.s.childrenLocked(p), nil
}

func (m *Memory) Exists(_ context.Context, p string) (bool, int64, error) {
	p = clean(p)
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n, ok := m.s.nodes[p]
	if !ok {
		return false, 0, nil
	}
	return true, n.version, nil
}

func (s *shared) childrenLocked(p string) []string {
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	seen := map[string]bool{}
	var out []string
	for candidate := range s.nodes {
		if candidate == p || !strings.HasPrefix(candidate, prefix) {
			continue
		}
		rest := strings.TrimPrefix(candidate, prefix)
		name := strings.SplitN(rest, "/", 2)[0]
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func (s *shared) hasChildrenLocked(p string) bool {
	return len(s.childrenLocked(p)) > 0
}

func (s *shared) fireData(p string) {
	for _, w := range s.dataWatches[p] {
		w.fire(backend.Event{Path: p, Type: backend.EventNodeDataChanged})
	}
	delete(s.dataWatches, p)
}

func (s *shared) fireChildren(p string) {
	for _, w := range s.childWatches[p] {
		w.fire(backend.Event{Path: p, Type: backend.EventNodeChildrenChanged})
	}
	delete(s.childWatches, p)
}

func (m *Memory) WatchData(p string) (backend.Watch, error) {
	p = clean(p)
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	w := &watcher{ch: make(chan backend.Event, 1)}
	m.s.dataWatches[p] = append(m.s.dataWatches[p], w)
	return w, nil
}

func (m *Memory) WatchChildren(p string) (backend.Watch, error) {
	p = clean(p)
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	w := &watcher{ch: make(chan backend.Event, 1)}
	m.s.childWatches[p] = append(m.s.childWatches[p], w)
	return w, nil
}

func (m *Memory) Multi(_ context.Context, ops []backend.Op) ([]backend.OpResult, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	type overlay struct {
		n       *node
		deleted bool
	}
	shadow := make(map[string]*overlay, len(ops))
	get := func(p string) (*node, bool) {
		if ov, ok := shadow[p]; ok {
			if ov.deleted {
				return nil, false
			}
			return ov.n, true
		}
		n, ok := m.s.nodes[p]
		return n, ok
	}
	hasLiveChild := func(p string) bool {
		prefix := strings.TrimSuffix(p, "/") + "/"
		for c := range m.s.nodes {
			if _, live := get(c); live && c != p && strings.HasPrefix(c, prefix) {
				return true
			}
		}
		return false
	}

	results := make([]backend.OpResult, len(ops))
	for i, op := range ops {
		p := clean(op.Path)
		switch op.Kind {
		case backend.OpCreate:
			if _, exists := get(p); exists {
				results[i].Err = backend.ErrNodeExists
				return results, backend.ErrNodeExists
			}
			owner := ""
			if op.Mode != backend.Persistent {
				owner = m.sessionID
			}
			shadow[p] = &overlay{n: &node{data: append([]byte(nil), op.Data...), version: 0, mode: op.Mode, owner: owner}}
			results[i] = backend.OpResult{Path: p, Version: 0}
		case backend.OpSetData:
			n, exists := get(p)
			if !exists {
				results[i].Err = backend.ErrNoNode
				return results, backend.ErrNoNode
			}
			if n.version != op.ExpectedVersion {
				results[i].Err = backend.ErrBadVersion
				return results, backend.ErrBadVersion
			}
			next := &node{data: append([]byte(nil), op.Data...), version: n.version + 1, mode: n.mode, owner: n.owner}
			shadow[p] = &overlay{n: next}
			results[i] = backend.OpResult{Path: p, Version: next.version}
		case backend.OpDelete:
			n, exists := get(p)
			if !exists {
				results[i].Err = backend.ErrNoNode
				return results, backend.ErrNoNode
			}
			if n.version != op.ExpectedVersion {
				results[i].Err = backend.ErrBadVersion
				return results, backend.ErrBadVersion
			}
			if hasLiveChild(p) {
				results[i].Err = backend.ErrNotEmpty
				return results, backend.ErrNotEmpty
			}
			shadow[p] = &overlay{deleted: true}
			results[i] = backend.OpResult{Path: p, Version: n.version}
		case backend.OpCheckVersion:
			n, exists := get(p)
			if !exists {
				results[i].Err = backend.ErrNoNode
				return results, backend.ErrNoNode
			}
			if n.version != op.ExpectedVersion {
				results[i].Err = backend.ErrBadVersion
				return results, backend.ErrBadVersion
			}
			results[i] = backend.OpResult{Path: p, Version: n.version}
		}
	}

	touchedParents := map[string]bool{}
	for p, ov := range shadow {
		if ov.deleted {
			delete(m.s.nodes, p)
		} else {
			m.s.nodes[p] = ov.n
		}
		m.s.fireData(p)
		touchedParents[parent(p)] = true
	}
	for p := range touchedParents {
		m.s.fireChildren(p)
	}
	return results, nil
}

// Close releases the session, deleting every ephemeral node it owns.
func (m *Memory) Close() error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	touchedParents := map[string]bool{}
	for p, n := range m.s.nodes {
		if n.owner == m.sessionID && n.mode != backend.Persistent {
			delete(m.s.nodes, p)
			m.s.fireData(p)
			touchedParents[parent(p)] = true
		}
	}
	for p := range touchedParents {
		m.s.fireChildren(p)
	}
	return nil
}

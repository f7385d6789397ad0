// Package backend's core types model a hierarchical, versioned key space
// closely enough to let pkg/txn implement snapshot-isolated transactions
// without knowing which concrete backend is underneath.
package backend

import (
	"context"
	"errors"
)

// Sentinel errors every Backend implementation must return (possibly
// wrapped) so pkg/zoomerr can classify them uniformly.
var (
	ErrNodeExists = errors.New("backend: node exists")
	ErrNoNode     = errors.New("backend: no node")
	ErrBadVersion = errors.New("backend: version mismatch")
	ErrNotEmpty   = errors.New("backend: node has children")
	ErrClosed     = errors.New("backend: closed")
)

// NodeMode controls a node's lifetime.
type NodeMode int

const (
	// Persistent nodes survive until explicitly deleted.
	Persistent NodeMode = iota
	// Ephemeral nodes are deleted automatically when the session that
	// created them closes.
	Ephemeral
	// EphemeralSequential behaves like Ephemeral. CreateSequential creates
	// nodes of this mode, appending a backend-assigned unique suffix to the
	// requested prefix and returning the resulting path; Create and Multi
	// store a node of this mode at exactly the path given.
	EphemeralSequential
)

// OpKind identifies the mutation a single Op performs inside Multi.
type OpKind int

const (
	OpCreate OpKind = iota
	OpSetData
	OpDelete
	OpCheckVersion
)

// Op is one mutation inside an atomic Multi batch.
type Op struct {
	Kind            OpKind
	Path            string
	Data            []byte
	Mode            NodeMode
	ExpectedVersion int64
}

// OpResult is the outcome of a single Op within a Multi batch. Path carries
// the cleaned path the op was applied to; Err is non-nil only
// for the op (if any) that caused the whole Multi batch to fail.
type OpResult struct {
	Path    string
	Version int64
	Err     error
}

// EventType classifies a Watch notification.
type EventType int

const (
	EventNodeCreated EventType = iota
	EventNodeDataChanged
	EventNodeDeleted
	EventNodeChildrenChanged
)

// Event is delivered on a Watch's channel. A Watch fires at most once; the
// receiver re-registers via WatchData/WatchChildren to keep observing.
type Event struct {
	Path string
	Type EventType
}

// Watch is a one-shot subscription returned by WatchData/WatchChildren.
type Watch interface {
	// C returns the channel Event is delivered on. It is closed without a
	// value if the watch is cancelled via Close instead of firing.
	C() <-chan Event
	// Close cancels the watch. Safe to call after it has already fired.
	Close() error
}

// Backend is a hierarchical key-value space with per-node versioned
// compare-and-set, ephemeral nodes scoped to the Backend handle's session,
// and an atomic multi-op primitive.
type Backend interface {
	// Get returns path's current data and version. Returns ErrNoNode if
	// path does not exist.
	Get(ctx context.Context, path string) (data []byte, version int64, err error)

	// Create makes a new node at path with the given initial data and mode.
	// Returns ErrNodeExists if a node already exists at path. The node is
	// stored at exactly path for every mode; no suffix is appended, so a
	// caller that needs a backend-assigned unique path uses
	// CreateSequential.
	Create(ctx context.Context, path string, data []byte, mode NodeMode) (version int64, err error)

	// CreateSequential is Create for NodeMode EphemeralSequential outside a
	// Multi batch, returning the backend-assigned path.
	CreateSequential(ctx context.Context, pathPrefix string, data []byte) (path string, version int64, err error)

	// SetData replaces path's data if its current version equals
	// expectedVersion, returning the new version. Returns ErrBadVersion on
	// mismatch and ErrNoNode if path does not exist.
	SetData(ctx context.Context, path string, data []byte, expectedVersion int64) (version int64, err error)

	// Delete removes path if its current version equals expectedVersion.
	// Returns ErrBadVersion on mismatch, ErrNoNode if path does not exist,
	// and ErrNotEmpty if path has children.
	Delete(ctx context.Context, path string, expectedVersion int64) error

	// Children lists the immediate child names of path. Returns ErrNoNode
	// if path does not exist.
	Children(ctx context.Context, path string) ([]string, error)

	// Exists reports whether path exists and, if so, its current version.
	Exists(ctx context.Context, path string) (bool, int64, error)

	// Multi applies ops atomically: either all succeed or none are
	// applied. The returned slice has one OpResult per Op, in order.
	Multi(ctx context.Context, ops []Op) ([]OpResult, error)

	// WatchData fires once when path's data changes or path is deleted.
	WatchData(path string) (Watch, error)

	// WatchChildren fires once when path gains or loses a child.
	WatchChildren(path string) (Watch, error)

	// Close releases the backend's session, deleting every ephemeral node
	// created under it.
	Close() error
}

// Pinger is implemented by backends that can cheaply probe liveness
// without performing a real read or write against the tree. A Backend
// that does not implement Pinger is assumed always reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

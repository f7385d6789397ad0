package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/zoom/pkg/backend"
	"github.com/cuemby/zoom/pkg/codec"
	"github.com/cuemby/zoom/pkg/config"
	"github.com/cuemby/zoom/pkg/log"
	"github.com/cuemby/zoom/pkg/metrics"
	"github.com/cuemby/zoom/pkg/paths"
	"github.com/cuemby/zoom/pkg/registry"
	"github.com/cuemby/zoom/pkg/zoomerr"
)

type objectKey struct {
	class string
	id    registry.ObjId
}

// cachedEntry is what a transaction remembers about an object it has read
// or scheduled a mutation for: the decoded object plus the version CAS
// needs at commit time.
type cachedEntry struct {
	obj         any
	objExists   bool
	objVersion  int64
	prov        codec.Provenance
	provExists  bool
	provVersion int64
}

type mutationKind int

const (
	mutCreate mutationKind = iota
	mutUpdate
	mutDelete
)

type plannedMutation struct {
	kind mutationKind
	obj  any
}

// rawOp is a scheduled createNode/updateNode/deleteNode call, applied
// alongside the object-model mutations at commit.
type rawOp struct {
	kind            backend.OpKind
	path            string
	data            []byte
	expectedVersion int64
}

// Transaction is a single logical unit of work against a catalog of
// registered classes, backed by one backend.Backend. It is opened with a
// marker node whose lifetime scopes the transaction's backend session, and
// is not safe for concurrent use.
type Transaction struct {
	be      backend.Backend
	catalog *registry.Catalog
	cfg     config.Config
	owner   string

	markerPath    string
	markerVersion int64

	cache         map[objectKey]*cachedEntry
	order         []objectKey
	mutations     map[objectKey]*plannedMutation
	mutationOrder []objectKey
	rawOps        []rawOp

	closed bool
	log    zerolog.Logger
}

// Open creates the transaction's ephemeral marker node and returns a
// Transaction scoped to it. owner identifies the caller for provenance
// records.
func Open(ctx context.Context, be backend.Backend, catalog *registry.Catalog, cfg config.Config, owner string) (*Transaction, error) {
	prefix := paths.TxnMarkerPrefix(cfg)
	path, version, err := be.CreateSequential(ctx, prefix, []byte(owner))
	if err != nil {
		return nil, zoomerr.StorageFailure("open transaction marker", err)
	}
	return &Transaction{
		be:            be,
		catalog:       catalog,
		cfg:           cfg,
		owner:         owner,
		markerPath:    path,
		markerVersion: version,
		cache:         make(map[objectKey]*cachedEntry),
		mutations:     make(map[objectKey]*plannedMutation),
		log:           log.WithTxnID(path),
	}, nil
}

// Owner returns the identity this transaction attributes its writes to.
func (t *Transaction) Owner() string { return t.owner }

func (t *Transaction) descriptor(class string) (registry.Descriptor, error) {
	d, ok := t.catalog.Descriptor(class)
	if !ok {
		return nil, fmt.Errorf("txn: class %q is not registered", class)
	}
	return d, nil
}

func (t *Transaction) codecFor(class string) (codec.Codec, error) {
	c, ok := t.catalog.Codec(class)
	if !ok {
		return nil, fmt.Errorf("txn: class %q has no registered codec", class)
	}
	return c, nil
}

// Get returns the current value of class/id as this transaction sees it:
// either a pending in-transaction mutation, a previously cached read, or a
// fresh read from the backend.
func (t *Transaction) Get(ctx context.Context, class string, id registry.ObjId) (any, error) {
	key := objectKey{class, id}

	if m, ok := t.mutations[key]; ok {
		if m.kind == mutDelete {
			return nil, zoomerr.NotFound(class, string(id))
		}
		return m.obj, nil
	}
	if e, ok := t.cache[key]; ok {
		if !e.objExists {
			return nil, zoomerr.NotFound(class, string(id))
		}
		return e.obj, nil
	}

	entry, err := t.readEntry(ctx, class, id)
	if err != nil {
		return nil, err
	}
	if !entry.objExists {
		return nil, zoomerr.NotFound(class, string(id))
	}
	return entry.obj, nil
}

// readEntry fetches and caches an object's payload and provenance sibling
// together, for the remainder of the transaction's lifetime.
func (t *Transaction) readEntry(ctx context.Context, class string, id registry.ObjId) (*cachedEntry, error) {
	key := objectKey{class, id}
	if e, ok := t.cache[key]; ok {
		return e, nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.BackendLatency, "read")

	entry := &cachedEntry{}

	data, version, err := t.be.Get(ctx, paths.Model(t.cfg, class, string(id)))
	switch {
	case err == nil:
		cdc, cerr := t.codecFor(class)
		if cerr != nil {
			return nil, cerr
		}
		d, derr := t.descriptor(class)
		if derr != nil {
			return nil, derr
		}
		obj := d.New()
		if uerr := cdc.Unmarshal(data, obj); uerr != nil {
			return nil, zoomerr.InternalObjectMapper(uerr)
		}
		entry.obj = obj
		entry.objExists = true
		entry.objVersion = version
	case isNoNode(err):
		entry.objExists = false
	default:
		return nil, zoomerr.StorageFailure("read object", err)
	}

	provData, provVersion, perr := t.be.Get(ctx, paths.Provenance(t.cfg, class, string(id)))
	switch {
	case perr == nil:
		var p codec.Provenance
		if uerr := (codec.ProvenanceCodec{}).Unmarshal(provData, &p); uerr != nil {
			return nil, zoomerr.InternalObjectMapper(uerr)
		}
		entry.prov = p
		entry.provExists = true
		entry.provVersion = provVersion
	case isNoNode(perr):
		entry.provExists = false
	default:
		return nil, zoomerr.StorageFailure("read provenance", perr)
	}

	t.cache[key] = entry
	t.order = append(t.order, key)
	return entry, nil
}

func isNoNode(err error) bool {
	return errors.Is(err, backend.ErrNoNode)
}

// setMutation records or overwrites the planned mutation for key, tracking
// first-seen order so Commit builds a deterministic op list.
func (t *Transaction) setMutation(key objectKey, m *plannedMutation) {
	if _, exists := t.mutations[key]; !exists {
		t.mutationOrder = append(t.mutationOrder, key)
	}
	t.mutations[key] = m
}

// scheduleDelete plans key for deletion, flattening it against any
// mutation already scheduled this transaction: a pending create is
// cancelled outright rather than producing a create-then-delete pair.
func (t *Transaction) scheduleDelete(key objectKey) {
	if m, ok := t.mutations[key]; ok && m.kind == mutCreate {
		delete(t.mutations, key)
		return
	}
	t.setMutation(key, &plannedMutation{kind: mutDelete})
}

// Create schedules the creation of obj under class, keyed by the value its
// id field currently holds. Creating an id that already exists, in the
// backend or earlier in this same transaction, is rejected.
func (t *Transaction) Create(ctx context.Context, class string, obj any) error {
	d, err := t.descriptor(class)
	if err != nil {
		return err
	}
	id := d.IDOf(obj)
	key := objectKey{class, id}

	if m, ok := t.mutations[key]; ok && m.kind == mutDelete {
		return zoomerr.ReferenceConflict("cannot create " + class + "/" + string(id) + ": already scheduled for deletion in this transaction")
	}

	if _, err := t.Get(ctx, class, id); err == nil {
		return zoomerr.ObjectExists(class, string(id))
	} else if _, ok := err.(*zoomerr.NotFoundError); !ok {
		return err
	}

	if err := t.applyFieldBindingsDelta(ctx, class, id, nil, obj); err != nil {
		return err
	}

	t.setMutation(key, &plannedMutation{kind: mutCreate, obj: obj})
	return nil
}

// Update fetches class/id, passes it to mutate, and schedules the result
// for a CAS write at commit. mutate is called with the exact object Get
// would return; bound reference fields it changes are mirrored onto the
// peer classes the catalog declares.
func (t *Transaction) Update(ctx context.Context, class string, id registry.ObjId, mutate func(obj any) error) error {
	before, err := t.Get(ctx, class, id)
	if err != nil {
		return err
	}

	d, err := t.descriptor(class)
	if err != nil {
		return err
	}
	snapshot := snapshotBoundFields(t.catalog, d, class, before)

	if err := mutate(before); err != nil {
		return err
	}

	if err := t.applyFieldBindingsDelta(ctx, class, id, snapshot, before); err != nil {
		return err
	}

	key := objectKey{class, id}
	if m, ok := t.mutations[key]; ok && m.kind == mutCreate {
		m.obj = before
		return nil
	}
	t.setMutation(key, &plannedMutation{kind: mutUpdate, obj: before})
	return nil
}

// Delete schedules class/id for removal. A bound field left non-empty is
// resolved per its declared OnDelete action: ERROR refuses the delete,
// CLEAR detaches the peer side first, CASCADE recursively deletes every
// referenced peer.
func (t *Transaction) Delete(ctx context.Context, class string, id registry.ObjId) error {
	return t.deleteRec(ctx, class, id, make(map[objectKey]bool))
}

func (t *Transaction) deleteRec(ctx context.Context, class string, id registry.ObjId, visited map[objectKey]bool) error {
	key := objectKey{class, id}
	if visited[key] {
		return nil
	}
	visited[key] = true

	obj, err := t.Get(ctx, class, id)
	if err != nil {
		return err
	}

	d, err := t.descriptor(class)
	if err != nil {
		return err
	}

	for _, end := range t.catalog.BoundFields(class) {
		val := d.ReadField(obj, end.Field())
		peerIDs := fieldValues(val)
		if len(peerIDs) == 0 {
			continue
		}

		switch end.OnDelete() {
		case registry.OnDeleteError:
			return zoomerr.ObjectReferenced(class, string(id), end.Field())
		case registry.OnDeleteClear:
			for _, peerID := range peerIDs {
				if err := t.clearPeerRef(ctx, end, id, peerID); err != nil {
					return err
				}
			}
		case registry.OnDeleteCascade:
			for _, peerID := range peerIDs {
				if err := t.deleteRec(ctx, end.PeerClass(), peerID, visited); err != nil {
					return err
				}
			}
		}
	}

	t.scheduleDelete(key)
	return nil
}

// CreateNode schedules a raw node creation outside the object model, for
// callers managing their own backend-level state.
func (t *Transaction) CreateNode(path string, data []byte) {
	t.rawOps = append(t.rawOps, rawOp{kind: backend.OpCreate, path: path, data: data})
}

// UpdateNode schedules a raw CAS write against path.
func (t *Transaction) UpdateNode(path string, data []byte, expectedVersion int64) {
	t.rawOps = append(t.rawOps, rawOp{kind: backend.OpSetData, path: path, data: data, expectedVersion: expectedVersion})
}

// DeleteNode schedules a raw CAS delete against path.
func (t *Transaction) DeleteNode(path string, expectedVersion int64) {
	t.rawOps = append(t.rawOps, rawOp{kind: backend.OpDelete, path: path, expectedVersion: expectedVersion})
}

// Cancel discards every scheduled mutation and releases the transaction's
// marker node without writing anything.
func (t *Transaction) Cancel(ctx context.Context) error {
	return t.release(ctx)
}

func (t *Transaction) release(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.be.Delete(ctx, t.markerPath, t.markerVersion); err != nil {
		t.log.Error().Err(err).Str("marker", t.markerPath).Msg("failed to release transaction marker")
	}
	return nil
}


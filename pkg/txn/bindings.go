package txn

import (
	"context"

	"github.com/cuemby/zoom/pkg/registry"
	"github.com/cuemby/zoom/pkg/zoomerr"
)

// snapshotBoundFields captures the current value of every field class has
// declared a binding on, so a later call can diff against it once mutate
// has run.
func snapshotBoundFields(catalog *registry.Catalog, d registry.Descriptor, class string, obj any) map[string][]registry.ObjId {
	snapshot := make(map[string][]registry.ObjId)
	for _, end := range catalog.BoundFields(class) {
		snapshot[end.Field()] = fieldValues(d.ReadField(obj, end.Field()))
	}
	return snapshot
}

// fieldValues normalizes a Descriptor.ReadField result, a single ObjId or
// a []ObjId, into a slice.
func fieldValues(v any) []registry.ObjId {
	switch val := v.(type) {
	case registry.ObjId:
		if val == "" {
			return nil
		}
		return []registry.ObjId{val}
	case []registry.ObjId:
		return val
	default:
		return nil
	}
}

func containsID(ids []registry.ObjId, id registry.ObjId) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// applyFieldBindingsDelta diffs before (nil for a fresh Create) against
// obj's current bound field values and mirrors every added or removed
// reference onto the corresponding peer objects, rejecting a reference
// added to a peer field that is already claimed by a different owner.
func (t *Transaction) applyFieldBindingsDelta(ctx context.Context, class string, id registry.ObjId, before map[string][]registry.ObjId, obj any) error {
	d, err := t.descriptor(class)
	if err != nil {
		return err
	}

	for _, end := range t.catalog.BoundFields(class) {
		oldIDs := before[end.Field()]
		newIDs := fieldValues(d.ReadField(obj, end.Field()))

		for _, old := range oldIDs {
			if !containsID(newIDs, old) {
				if err := t.clearPeerRef(ctx, end, id, old); err != nil {
					return err
				}
			}
		}
		for _, nw := range newIDs {
			if !containsID(oldIDs, nw) {
				if err := t.addPeerRef(ctx, end, id, nw); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// addPeerRef records that class/id now references peerID through end, by
// mirroring id onto the peer's declared peer field.
func (t *Transaction) addPeerRef(ctx context.Context, end *registry.BindingEnd, id registry.ObjId, peerID registry.ObjId) error {
	return t.mutatePeerField(ctx, end, peerID, func(peerVals []registry.ObjId) ([]registry.ObjId, error) {
		if end.Peer().Collection() {
			if containsID(peerVals, id) {
				return peerVals, nil
			}
			return append(peerVals, id), nil
		}
		if len(peerVals) > 0 && peerVals[0] != id {
			return nil, zoomerr.ReferenceConflict(
				end.PeerClass() + "." + end.PeerField() + " is already claimed by a different owner",
			)
		}
		return []registry.ObjId{id}, nil
	})
}

// clearPeerRef removes id from peerID's mirror of end, via CLEAR/CASCADE
// bookkeeping or simple reference removal.
func (t *Transaction) clearPeerRef(ctx context.Context, end *registry.BindingEnd, id registry.ObjId, peerID registry.ObjId) error {
	if _, err := t.Get(ctx, end.PeerClass(), peerID); err != nil {
		if _, ok := err.(*zoomerr.NotFoundError); ok {
			return nil // a missing peer has no mirror left to clear
		}
	}
	return t.mutatePeerField(ctx, end, peerID, func(peerVals []registry.ObjId) ([]registry.ObjId, error) {
		out := peerVals[:0]
		for _, v := range peerVals {
			if v != id {
				out = append(out, v)
			}
		}
		return out, nil
	})
}

// mutatePeerField loads peerID (the object at the far end of end's
// binding), applies fn to its current peer-field value, and schedules the
// result as an update. A missing peer is rejected as a ReferenceConflict;
// clearPeerRef skips missing peers before calling it, so only adding a
// brand new reference fails on one.
func (t *Transaction) mutatePeerField(ctx context.Context, end *registry.BindingEnd, peerID registry.ObjId, fn func([]registry.ObjId) ([]registry.ObjId, error)) error {
	peerClass := end.PeerClass()
	peerField := end.PeerField()

	peerDescriptor, err := t.descriptor(peerClass)
	if err != nil {
		return err
	}

	peerObj, err := t.Get(ctx, peerClass, peerID)
	if err != nil {
		if _, ok := err.(*zoomerr.NotFoundError); ok {
			return zoomerr.ReferenceConflict("dangling reference to " + peerClass + "/" + string(peerID))
		}
		return err
	}

	current := fieldValues(peerDescriptor.ReadField(peerObj, peerField))
	updated, err := fn(current)
	if err != nil {
		return err
	}

	if end.Peer().Collection() {
		peerDescriptor.WriteField(peerObj, peerField, updated)
	} else if len(updated) == 0 {
		peerDescriptor.WriteField(peerObj, peerField, registry.ObjId(""))
	} else {
		peerDescriptor.WriteField(peerObj, peerField, updated[0])
	}

	key := objectKey{peerClass, peerID}
	if m, ok := t.mutations[key]; ok {
		m.obj = peerObj
		return nil
	}
	t.setMutation(key, &plannedMutation{kind: mutUpdate, obj: peerObj})
	return nil
}

package txn

import (
	"bytes"
	"context"
	"errors"

	"github.com/cuemby/zoom/pkg/backend"
	"github.com/cuemby/zoom/pkg/codec"
	"github.com/cuemby/zoom/pkg/metrics"
	"github.com/cuemby/zoom/pkg/paths"
	"github.com/cuemby/zoom/pkg/zoomerr"
)

// opMeta shadows a scheduled backend.Op so a commit failure can be mapped
// back to the class/id (or raw path) that caused it.
type opMeta struct {
	class string
	id    string
	path  string
	raw   bool
}

// Commit flattens every scheduled mutation and raw node op into one atomic
// Multi call, releasing the transaction's marker node on every exit path
// regardless of outcome.
func (t *Transaction) Commit(ctx context.Context) error {
	defer t.release(ctx)

	metrics.TxAttemptsTotal.Inc()
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.BackendLatency, "commit")

	ops, metas, err := t.plan()
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(string(zoomerr.ClassOf(err))).Inc()
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	results, err := t.be.Multi(ctx, ops)
	if err != nil {
		mapped := t.mapCommitError(err, results, metas)
		metrics.ErrorsTotal.WithLabelValues(string(zoomerr.ClassOf(mapped))).Inc()
		return mapped
	}
	return nil
}

// plan builds the ordered op list for every scheduled object mutation and
// raw node op. Object creates use version 0; updates and deletes CAS
// against the version observed when the transaction read the object.
// A provenance sibling write is skipped when its encoding would be
// byte-identical to what is already stored.
func (t *Transaction) plan() ([]backend.Op, []opMeta, error) {
	var ops []backend.Op
	var metas []opMeta

	pcodec := codec.ProvenanceCodec{}

	for _, key := range t.mutationOrder {
		m, ok := t.mutations[key]
		if !ok {
			continue // cancelled by a later create-then-delete flatten
		}

		class, id := key.class, string(key.id)
		modelPath := paths.Model(t.cfg, class, id)
		provPath := paths.Provenance(t.cfg, class, id)
		cached := t.cache[key]

		switch m.kind {
		case mutCreate:
			cdc, err := t.codecFor(class)
			if err != nil {
				return nil, nil, err
			}
			data, err := cdc.Marshal(m.obj)
			if err != nil {
				return nil, nil, zoomerr.InternalObjectMapper(err)
			}
			ops = append(ops, backend.Op{Kind: backend.OpCreate, Path: modelPath, Data: data, Mode: backend.Persistent})
			metas = append(metas, opMeta{class: class, id: id, path: modelPath})

			provData, err := pcodec.Marshal(codec.Provenance{Owner: t.owner, ChangeKind: codec.ChangeKindCreate, Version: 0})
			if err != nil {
				return nil, nil, zoomerr.InternalObjectMapper(err)
			}
			ops = append(ops, backend.Op{Kind: backend.OpCreate, Path: provPath, Data: provData, Mode: backend.Persistent})
			metas = append(metas, opMeta{class: class, id: id, path: provPath})

		case mutUpdate:
			if cached == nil || !cached.objExists {
				return nil, nil, zoomerr.ConcurrentModification(modelPath)
			}
			cdc, err := t.codecFor(class)
			if err != nil {
				return nil, nil, err
			}
			data, err := cdc.Marshal(m.obj)
			if err != nil {
				return nil, nil, zoomerr.InternalObjectMapper(err)
			}
			ops = append(ops, backend.Op{Kind: backend.OpSetData, Path: modelPath, Data: data, ExpectedVersion: cached.objVersion})
			metas = append(metas, opMeta{class: class, id: id, path: modelPath})

			newProv := codec.Provenance{Owner: t.owner, ChangeKind: codec.ChangeKindUpdate, Version: cached.objVersion + 1}
			newProvData, err := pcodec.Marshal(newProv)
			if err != nil {
				return nil, nil, zoomerr.InternalObjectMapper(err)
			}

			if cached.provExists {
				oldProvData, err := pcodec.Marshal(cached.prov)
				if err != nil {
					return nil, nil, zoomerr.InternalObjectMapper(err)
				}
				if !bytes.Equal(oldProvData, newProvData) {
					ops = append(ops, backend.Op{Kind: backend.OpSetData, Path: provPath, Data: newProvData, ExpectedVersion: cached.provVersion})
					metas = append(metas, opMeta{class: class, id: id, path: provPath})
				}
			} else {
				ops = append(ops, backend.Op{Kind: backend.OpCreate, Path: provPath, Data: newProvData, Mode: backend.Persistent})
				metas = append(metas, opMeta{class: class, id: id, path: provPath})
			}

		case mutDelete:
			if cached == nil || !cached.objExists {
				return nil, nil, zoomerr.ConcurrentModification(modelPath)
			}
			ops = append(ops, backend.Op{Kind: backend.OpDelete, Path: modelPath, ExpectedVersion: cached.objVersion})
			metas = append(metas, opMeta{class: class, id: id, path: modelPath})

			if cached.provExists {
				ops = append(ops, backend.Op{Kind: backend.OpDelete, Path: provPath, ExpectedVersion: cached.provVersion})
				metas = append(metas, opMeta{class: class, id: id, path: provPath})
			}
		}
	}

	for _, r := range t.rawOps {
		ops = append(ops, backend.Op{Kind: r.kind, Path: r.path, Data: r.data, Mode: backend.Persistent, ExpectedVersion: r.expectedVersion})
		metas = append(metas, opMeta{path: r.path, raw: true})
	}

	return ops, metas, nil
}

// mapCommitError walks results for the op that failed and maps the
// backend's sentinel error to the surfaced error taxonomy.
func (t *Transaction) mapCommitError(err error, results []backend.OpResult, metas []opMeta) error {
	for i, r := range results {
		if r.Err == nil {
			continue
		}
		meta := opMeta{}
		if i < len(metas) {
			meta = metas[i]
		}
		return mapBackendError(r.Err, meta)
	}
	return zoomerr.InternalObjectMapper(err)
}

func mapBackendError(err error, meta opMeta) error {
	switch {
	case errors.Is(err, backend.ErrNodeExists):
		if meta.raw {
			return zoomerr.StorageNodeExists(meta.path)
		}
		return zoomerr.ObjectExists(meta.class, meta.id)
	case errors.Is(err, backend.ErrNoNode):
		if meta.raw {
			return zoomerr.StorageNodeNotFound(meta.path)
		}
		return zoomerr.ConcurrentModification(meta.path)
	case errors.Is(err, backend.ErrBadVersion):
		return zoomerr.ConcurrentModification(meta.path)
	case errors.Is(err, backend.ErrNotEmpty):
		return zoomerr.ConcurrentModification(meta.path)
	default:
		return zoomerr.InternalObjectMapper(err)
	}
}

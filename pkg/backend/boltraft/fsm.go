package boltraft

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/cuemby/zoom/pkg/backend"
)

var nodesBucket = []byte("nodes")

// envelope is the value stored for every path: the raw payload plus the
// per-node version counter SetData/Delete check against.
type envelope struct {
	Data    []byte            `json:"data"`
	Version int64             `json:"version"`
	Mode    backend.NodeMode  `json:"mode"`
	Owner   string            `json:"owner"`
}

type fsm struct {
	db  *bbolt.DB
	hub *hub
	log zerolog.Logger
}

func newFSM(db *bbolt.DB, hub *hub, log zerolog.Logger) (*fsm, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(nodesBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltraft: create bucket: %w", err)
	}
	return &fsm{db: db, hub: hub, log: log}, nil
}

func clean(p string) string { return path.Clean("/" + p) }

func parent(p string) string { return clean(path.Dir(p)) }

func getEnvelope(tx *bbolt.Tx, p string) (*envelope, bool) {
	raw := tx.Bucket(nodesBucket).Get([]byte(p))
	if raw == nil {
		return nil, false
	}
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	return &e, true
}

func decodeEnvelopeValue(raw []byte, e *envelope) error {
	return json.Unmarshal(raw, e)
}

func putEnvelope(tx *bbolt.Tx, p string, e *envelope) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return tx.Bucket(nodesBucket).Put([]byte(p), raw)
}

func childrenOf(tx *bbolt.Tx, p string) []string {
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	seen := map[string]bool{}
	var out []string
	c := tx.Bucket(nodesBucket).Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		key := string(k)
		if key == p || !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		name := strings.SplitN(rest, "/", 2)[0]
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Apply implements raft.FSM. It executes a command's ops inside one bbolt
// transaction, rolling back entirely on the first failing op so the batch
// is atomic across the whole cluster, not just locally.
func (f *fsm) Apply(l *raft.Log) interface{} {
	cmd, err := decodeCommand(l.Data)
	if err != nil {
		return fsmResponse{Err: fmt.Errorf("boltraft: decode command: %w", err)}
	}

	results := make([]backend.OpResult, len(cmd.Ops))
	touchedParents := map[string]bool{}
	touchedData := map[string]bool{}

	applyErr := f.db.Update(func(tx *bbolt.Tx) error {
		for i, op := range cmd.Ops {
			p := clean(op.Path)
			switch op.Kind {
			case backend.OpCreate:
				if _, exists := getEnvelope(tx, p); exists {
					results[i].Err = backend.ErrNodeExists
					return backend.ErrNodeExists
				}
				owner := ""
				if op.Mode != backend.Persistent {
					owner = cmd.SessionID
				}
				if err := putEnvelope(tx, p, &envelope{Data: op.Data, Version: 0, Mode: op.Mode, Owner: owner}); err != nil {
					return err
				}
				results[i] = backend.OpResult{Path: p, Version: 0}
				touchedData[p] = true
				touchedParents[parent(p)] = true

			case backend.OpSetData:
				e, exists := getEnvelope(tx, p)
				if !exists {
					results[i].Err = backend.ErrNoNode
					return backend.ErrNoNode
				}
				if e.Version != op.ExpectedVersion {
					results[i].Err = backend.ErrBadVersion
					return backend.ErrBadVersion
				}
				e.Data = op.Data
				e.Version++
				if err := putEnvelope(tx, p, e); err != nil {
					return err
				}
				results[i] = backend.OpResult{Path: p, Version: e.Version}
				touchedData[p] = true

			case backend.OpDelete:
				e, exists := getEnvelope(tx, p)
				if !exists {
					results[i].Err = backend.ErrNoNode
					return backend.ErrNoNode
				}
				if e.Version != op.ExpectedVersion {
					results[i].Err = backend.ErrBadVersion
					return backend.ErrBadVersion
				}
				if len(childrenOf(tx, p)) > 0 {
					results[i].Err = backend.ErrNotEmpty
					return backend.ErrNotEmpty
				}
				if err := tx.Bucket(nodesBucket).Delete([]byte(p)); err != nil {
					return err
				}
				results[i] = backend.OpResult{Path: p, Version: e.Version}
				touchedData[p] = true
				touchedParents[parent(p)] = true

			case backend.OpCheckVersion:
				e, exists := getEnvelope(tx, p)
				if !exists {
					results[i].Err = backend.ErrNoNode
					return backend.ErrNoNode
				}
				if e.Version != op.ExpectedVersion {
					results[i].Err = backend.ErrBadVersion
					return backend.ErrBadVersion
				}
				results[i] = backend.OpResult{Path: p, Version: e.Version}
			}
		}
		return nil
	})

	if applyErr != nil {
		return fsmResponse{Results: results, Err: applyErr}
	}

	if f.hub != nil {
		for p := range touchedData {
			f.hub.fireData(p)
		}
		for p := range touchedParents {
			f.hub.fireChildren(p)
		}
	}
	return fsmResponse{Results: results}
}

type fsmSnapshot struct {
	data []byte
}

// Snapshot implements raft.FSM by dumping the whole bbolt database, the
// same way an embedded store with no incremental snapshot format takes a
// full backup.
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	var buf strings.Builder
	err := f.db.View(func(tx *bbolt.Tx) error {
		_, err := tx.WriteTo(writerFunc(func(p []byte) (int, error) {
			n, err := buf.Write(p)
			return n, err
		}))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltraft: snapshot: %w", err)
	}
	return &fsmSnapshot{data: []byte(buf.String())}, nil
}

type writerFunc func(p []byte) (int, error)

func (w writerFunc) Write(p []byte) (int, error) { return w(p) }

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		sink.Cancel()
		return fmt.Errorf("boltraft: persist snapshot: %w", err)
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

// Restore implements raft.FSM by replacing the on-disk bbolt file with the
// snapshot contents and reopening it.
func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("boltraft: read snapshot: %w", err)
	}
	path := f.db.Path()
	if err := f.db.Close(); err != nil {
		return fmt.Errorf("boltraft: close db for restore: %w", err)
	}
	if err := writeFile(path, data); err != nil {
		return err
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return fmt.Errorf("boltraft: reopen db after restore: %w", err)
	}
	f.db = db
	return db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(nodesBucket)
		return err
	})
}

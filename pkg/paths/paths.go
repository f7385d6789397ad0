// Package paths builds the backend key layout every other package agrees
// on, so the object store, the topology lock and the state subsystem never
// hand-format a path twice.
package paths

import (
	"fmt"

	"github.com/cuemby/zoom/pkg/config"
)

func root(cfg config.Config) string {
	return fmt.Sprintf("%s/zoom/%s", cfg.RootKey, cfg.Version)
}

// Model is the object payload path for class/id.
func Model(cfg config.Config, class, id string) string {
	return fmt.Sprintf("%s/models/%s/%s", root(cfg), class, id)
}

// Provenance is the provenance sibling path for class/id.
func Provenance(cfg config.Config, class, id string) string {
	return fmt.Sprintf("%s/objects/%s/%s", root(cfg), class, id)
}

// ClassDir is the directory backing a class's object list.
func ClassDir(cfg config.Config, class string) string {
	return fmt.Sprintf("%s/models/%s", root(cfg), class)
}

// TopologyLock is the well-known mutex node path.
func TopologyLock(cfg config.Config) string {
	return fmt.Sprintf("%s/locks/zoom-topology", root(cfg))
}

// TxnMarkerPrefix is the EphemeralSequential prefix transaction snapshots
// are created under.
func TxnMarkerPrefix(cfg config.Config) string {
	return fmt.Sprintf("%s/zoomlocks/lock", root(cfg))
}

// StateKey is the path backing a single (namespace, class, id, key) state
// value.
func StateKey(cfg config.Config, namespace, class, id, key string) string {
	return fmt.Sprintf("%s/state/%s/%s/%s/%s", root(cfg), namespace, class, id, key)
}

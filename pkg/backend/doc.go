/*
Package backend declares the Backend interface the rest of the object
store is built against: a hierarchical key space with per-node versioned
compare-and-set, ephemeral nodes scoped to a session, and an atomic
multi-op primitive.

Two implementations live under this module: pkg/backend/membackend, an
in-memory map good for fast unit tests, and pkg/backend/boltraft, an
embedded bbolt-and-raft implementation that gives the same guarantees
durably and across a cluster.
*/
package backend

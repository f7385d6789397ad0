/*
Package membackend is an in-memory backend.Backend, good for tests that
need the real compare-and-set and watch semantics but not durability or a
raft cluster.
*/
package membackend

/*
Package txn implements a single logical transaction against a
backend.Backend: reads cached for the transaction's lifetime,
binding-driven cascading mutations, and a flatten-then-commit pass that
turns the planned mutations into one atomic Multi call. Conflicts are
detected at commit only, by the per-node version CAS of each write; reads
are not checked against the marker node's version, so a change another
transaction committed before this one first read the object is not a
conflict.

A Transaction is not safe for concurrent use; it is confined to the
goroutine that opened it for its whole lifetime, the same way a single
request's mutation plan stays confined to the goroutine handling it.
*/
package txn

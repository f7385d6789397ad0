/*
Package registry implements the Class Registry & Binding Catalog: the
store's model of which classes exist, how to read/write their identifier
and bound fields, and the symmetric binding declarations between pairs of
(class, field).

Registration captures, per class, a Descriptor — the capability interface
of Design Note 2 — built once via reflection (or, for protobuf-style
messages, via protoreflect) by NewReflectDescriptor/NewProtoDescriptor
before Register and cached, never re-derived on the hot path. Bind declares a symmetric relationship between two
(class, field) pairs; the catalog memoizes each binding's peer class, peer
field, collection-ness and on-delete action so pkg/txn can traverse a
binding in O(1).

A Catalog is mutable only before Build; afterwards every Register/Bind call
fails with ErrAlreadyBuilt, and every lookup used during a transaction is
a plain map read under a read lock.
*/
package registry

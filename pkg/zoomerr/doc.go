/*
Package zoomerr defines the error taxonomy surfaced by the object-graph
store: the typed errors callers of pkg/store and pkg/txn match against with
errors.As, plus the class name used to label the zoom_errors_total metric.

StorageFailureError and InternalObjectMapperError wrap a cause so the chain
started by the backend adapter survives up to the caller; the other types
carry no cause. InternalObjectMapperError is the
catch-all wrapper for anything the mapping tables in pkg/txn don't
recognize.
*/
package zoomerr

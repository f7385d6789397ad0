package zoomerr

import "fmt"

// Class identifies an error's category for metrics labeling.
type Class string

const (
	ClassNotFound              Class = "NotFound"
	ClassObjectExists          Class = "ObjectExists"
	ClassObjectReferenced      Class = "ObjectReferenced"
	ClassReferenceConflict     Class = "ReferenceConflict"
	ClassConcurrentModification Class = "ConcurrentModification"
	ClassStorageNodeExists     Class = "StorageNodeExists"
	ClassStorageNodeNotFound   Class = "StorageNodeNotFound"
	ClassServiceUnavailable    Class = "ServiceUnavailable"
	ClassStorageFailure        Class = "StorageFailure"
	ClassInternalObjectMapper  Class = "InternalObjectMapper"
)

// NotFoundError is returned by a read of a non-existent object.
type NotFoundError struct {
	Class string
	ID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("zoom: %s/%s: not found", e.Class, e.ID)
}

func NotFound(class, id string) *NotFoundError {
	return &NotFoundError{Class: class, ID: id}
}

// ObjectExistsError is a create conflict: an object with this id is already
// live in the transaction's view.
type ObjectExistsError struct {
	Class string
	ID    string
}

func (e *ObjectExistsError) Error() string {
	return fmt.Sprintf("zoom: %s/%s: already exists", e.Class, e.ID)
}

func ObjectExists(class, id string) *ObjectExistsError {
	return &ObjectExistsError{Class: class, ID: id}
}

// ObjectReferencedError is raised when a delete is blocked by an ERROR
// on-delete binding whose field is non-empty.
type ObjectReferencedError struct {
	Class string
	ID    string
	Field string
}

func (e *ObjectReferencedError) Error() string {
	return fmt.Sprintf("zoom: %s/%s: referenced via field %q, delete refused", e.Class, e.ID, e.Field)
}

func ObjectReferenced(class, id, field string) *ObjectReferencedError {
	return &ObjectReferencedError{Class: class, ID: id, Field: field}
}

// ReferenceConflictError covers reference stealing and inconsistent
// reference-delta scheduling within one transaction.
type ReferenceConflictError struct {
	Reason string
}

func (e *ReferenceConflictError) Error() string {
	return fmt.Sprintf("zoom: reference conflict: %s", e.Reason)
}

func ReferenceConflict(reason string) *ReferenceConflictError {
	return &ReferenceConflictError{Reason: reason}
}

// ConcurrentModificationError signals a write conflict found at commit: a
// backend BadVersion, or a NoNode/NotEmpty on an object write. Reads are not
// checked against a transaction snapshot version, so no read raises it.
// It is the only error class pkg/lock.Retry retries automatically.
type ConcurrentModificationError struct {
	Path string
}

func (e *ConcurrentModificationError) Error() string {
	if e.Path == "" {
		return "zoom: concurrent modification"
	}
	return fmt.Sprintf("zoom: concurrent modification at %s", e.Path)
}

func ConcurrentModification(path string) *ConcurrentModificationError {
	return &ConcurrentModificationError{Path: path}
}

// StorageNodeExistsError / StorageNodeNotFoundError cover the raw node
// escape hatch (createNode/updateNode/deleteNode).
type StorageNodeExistsError struct {
	Path string
}

func (e *StorageNodeExistsError) Error() string {
	return fmt.Sprintf("zoom: node already exists: %s", e.Path)
}

func StorageNodeExists(path string) *StorageNodeExistsError {
	return &StorageNodeExistsError{Path: path}
}

type StorageNodeNotFoundError struct {
	Path string
}

func (e *StorageNodeNotFoundError) Error() string {
	return fmt.Sprintf("zoom: node not found: %s", e.Path)
}

func StorageNodeNotFound(path string) *StorageNodeNotFoundError {
	return &StorageNodeNotFoundError{Path: path}
}

// ServiceUnavailableError is returned when a store is created over a
// catalog that has not been built, or a read names a class that is not
// registered. Using a store after Close() does not return it.
type ServiceUnavailableError struct {
	Reason string
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("zoom: service unavailable: %s", e.Reason)
}

func ServiceUnavailable(reason string) *ServiceUnavailableError {
	return &ServiceUnavailableError{Reason: reason}
}

// StorageFailureError covers lock acquisition timeouts and unclassified
// transient backend faults.
type StorageFailureError struct {
	Reason string
	Cause  error
}

func (e *StorageFailureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("zoom: storage failure: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("zoom: storage failure: %s", e.Reason)
}

func (e *StorageFailureError) Unwrap() error { return e.Cause }

func StorageFailure(reason string, cause error) *StorageFailureError {
	return &StorageFailureError{Reason: reason, Cause: cause}
}

// InternalObjectMapperError wraps any failure the transaction manager's
// mapping tables don't recognize.
type InternalObjectMapperError struct {
	Cause error
}

func (e *InternalObjectMapperError) Error() string {
	return fmt.Sprintf("zoom: internal object mapper error: %v", e.Cause)
}

func (e *InternalObjectMapperError) Unwrap() error { return e.Cause }

func InternalObjectMapper(cause error) *InternalObjectMapperError {
	return &InternalObjectMapperError{Cause: cause}
}

// ClassOf returns the metrics label class for err, or ClassInternalObjectMapper
// if err does not match any known taxonomy member.
func ClassOf(err error) Class {
	switch err.(type) {
	case *NotFoundError:
		return ClassNotFound
	case *ObjectExistsError:
		return ClassObjectExists
	case *ObjectReferencedError:
		return ClassObjectReferenced
	case *ReferenceConflictError:
		return ClassReferenceConflict
	case *ConcurrentModificationError:
		return ClassConcurrentModification
	case *StorageNodeExistsError:
		return ClassStorageNodeExists
	case *StorageNodeNotFoundError:
		return ClassStorageNodeNotFound
	case *ServiceUnavailableError:
		return ClassServiceUnavailable
	case *StorageFailureError:
		return ClassStorageFailure
	default:
		return ClassInternalObjectMapper
	}
}

package zoomerr

import (
	"errors"
	"testing"
)

func TestClassOf(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{NotFound("Bridge", "b1"), ClassNotFound},
		{ObjectExists("Bridge", "b1"), ClassObjectExists},
		{ObjectReferenced("Router", "r1", "portIds"), ClassObjectReferenced},
		{ReferenceConflict("stolen"), ClassReferenceConflict},
		{ConcurrentModification("/zoom/v1/models/Bridge/b1"), ClassConcurrentModification},
		{StorageNodeExists("/x"), ClassStorageNodeExists},
		{StorageNodeNotFound("/x"), ClassStorageNodeNotFound},
		{ServiceUnavailable("not built"), ClassServiceUnavailable},
		{StorageFailure("timeout", nil), ClassStorageFailure},
		{InternalObjectMapper(errors.New("boom")), ClassInternalObjectMapper},
	}

	for _, tc := range cases {
		if got := ClassOf(tc.err); got != tc.want {
			t.Errorf("ClassOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestInternalObjectMapperUnwraps(t *testing.T) {
	cause := ConcurrentModification("/zoom/v1/models/Bridge/b1")
	wrapped := InternalObjectMapper(cause)

	var cm *ConcurrentModificationError
	if !errors.As(wrapped, &cm) {
		t.Fatal("expected errors.As to find ConcurrentModificationError through the wrapper")
	}
}

func TestStorageFailureUnwraps(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	wrapped := StorageFailure("lock acquisition timed out", cause)

	if !errors.Is(wrapped, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

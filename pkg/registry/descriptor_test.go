package registry

import (
	"reflect"
	"testing"
)

type host struct {
	ID    string
	Ports []ObjId
	Rack  ObjId
}

func TestNewReflectDescriptorRejectsNonStruct(t *testing.T) {
	if _, err := NewReflectDescriptor("Bad", "not a struct", "ID"); err == nil {
		t.Fatal("expected error for non-struct template")
	}
}

func TestNewReflectDescriptorRejectsMissingIDField(t *testing.T) {
	if _, err := NewReflectDescriptor("Host", &host{}, "Nope"); err == nil {
		t.Fatal("expected error for missing id field")
	}
}

func TestReflectDescriptorIDOf(t *testing.T) {
	d, err := NewReflectDescriptor("Host", &host{}, "ID")
	if err != nil {
		t.Fatalf("NewReflectDescriptor: %v", err)
	}
	h := &host{ID: "h1"}
	if got := d.IDOf(h); got != ObjId("h1") {
		t.Errorf("IDOf = %q, want h1", got)
	}
}

func TestReflectDescriptorReadWriteSingle(t *testing.T) {
	d, _ := NewReflectDescriptor("Host", &host{}, "ID")
	h := &host{ID: "h1"}
	d.WriteField(h, "Rack", ObjId("r1"))
	if got := d.ReadField(h, "Rack"); got != ObjId("r1") {
		t.Errorf("ReadField(Rack) = %v, want r1", got)
	}
}

func TestReflectDescriptorReadWriteCollection(t *testing.T) {
	d, _ := NewReflectDescriptor("Host", &host{}, "ID")
	h := &host{ID: "h1"}
	d.WriteField(h, "Ports", []ObjId{"p1", "p2"})
	got, ok := d.ReadField(h, "Ports").([]ObjId)
	if !ok || len(got) != 2 || got[0] != "p1" || got[1] != "p2" {
		t.Errorf("ReadField(Ports) = %v, want [p1 p2]", got)
	}
}

func TestReflectDescriptorIsCollectionField(t *testing.T) {
	d, _ := NewReflectDescriptor("Host", &host{}, "ID")
	if !d.IsCollectionField("Ports") {
		t.Error("Ports should be a collection field")
	}
	if d.IsCollectionField("Rack") {
		t.Error("Rack should not be a collection field")
	}
	if d.IsCollectionField("Missing") {
		t.Error("Missing field should not be a collection field")
	}
}

func TestReflectDescriptorNewReturnsFreshZeroValue(t *testing.T) {
	d, _ := NewReflectDescriptor("Host", &host{}, "ID")
	a := d.New()
	b := d.New()
	if a == b {
		t.Error("New() should allocate distinct instances")
	}
	if reflect.TypeOf(a) != reflect.TypeOf(&host{}) {
		t.Errorf("New() type = %T, want *host", a)
	}
}

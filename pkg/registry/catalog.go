package registry

import (
	"fmt"
	"sync"

	"github.com/cuemby/zoom/pkg/codec"
)

// OnDelete specifies the behavior when an instance holding a non-empty
// bound field is deleted.
type OnDelete int

const (
	// OnDeleteError rejects the delete.
	OnDeleteError OnDelete = iota
	// OnDeleteClear silently removes the deleted id from the peer's field.
	OnDeleteClear
	// OnDeleteCascade recursively deletes the peer.
	OnDeleteCascade
)

func (o OnDelete) String() string {
	switch o {
	case OnDeleteError:
		return "ERROR"
	case OnDeleteClear:
		return "CLEAR"
	case OnDeleteCascade:
		return "CASCADE"
	default:
		return "UNKNOWN"
	}
}

// Binding is a symmetric declaration between (ClassA, FieldA) and
// (ClassB, FieldB).
type Binding struct {
	ClassA     string
	FieldA     string
	OnDeleteA  OnDelete
	ClassB     string
	FieldB     string
	OnDeleteB  OnDelete
}

// BindingEnd is what the catalog memoizes per (class, field): the peer
// side of the binding, with an O(1) pointer to the entry for the peer's
// own (class, field) key.
type BindingEnd struct {
	class      string
	field      string
	collection bool
	onDelete   OnDelete
	peerClass  string
	peerField  string
	peer       *BindingEnd
}

// Class returns the class this binding end belongs to.
func (b *BindingEnd) Class() string { return b.class }

// Field returns the field this binding end governs.
func (b *BindingEnd) Field() string { return b.field }

// Collection reports whether Field holds a reference list.
func (b *BindingEnd) Collection() bool { return b.collection }

// OnDelete returns the action to take when an instance of Class with a
// non-empty Field is deleted.
func (b *BindingEnd) OnDelete() OnDelete { return b.onDelete }

// PeerClass is the class referenced by Field.
func (b *BindingEnd) PeerClass() string { return b.peerClass }

// PeerField is the field on PeerClass that must mirror this binding.
func (b *BindingEnd) PeerField() string { return b.peerField }

// Peer returns the BindingEnd describing the symmetric side.
func (b *BindingEnd) Peer() *BindingEnd { return b.peer }

type classKey struct {
	class string
	field string
}

type classEntry struct {
	name       string
	descriptor Descriptor
	codec      codec.Codec
}

// Catalog holds registered classes and the binding declarations between
// their fields. A Catalog is mutable only before Build.
type Catalog struct {
	mu       sync.RWMutex
	built    bool
	classes  map[string]*classEntry
	bindings map[classKey]*BindingEnd
}

// NewCatalog returns an empty, unbuilt catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		classes:  make(map[string]*classEntry),
		bindings: make(map[classKey]*BindingEnd),
	}
}

// ErrAlreadyBuilt is returned by Register/Bind once Build has been called.
type ErrAlreadyBuilt struct{ Op string }

func (e *ErrAlreadyBuilt) Error() string {
	return fmt.Sprintf("registry: cannot %s after Build", e.Op)
}

// ErrNotBuilt describes a use of the catalog before Build. The Catalog's
// own lookups do not return it; they answer the same before Build as after.
type ErrNotBuilt struct{ Op string }

func (e *ErrNotBuilt) Error() string {
	return fmt.Sprintf("registry: cannot %s before Build", e.Op)
}

// Register adds descriptor and its codec under className. Registering two
// distinct descriptors under the same name is rejected.
func (c *Catalog) Register(className string, descriptor Descriptor, cdc codec.Codec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.built {
		return &ErrAlreadyBuilt{Op: "Register " + className}
	}
	if className == "" {
		return fmt.Errorf("registry: class name must not be empty")
	}
	if _, exists := c.classes[className]; exists {
		return fmt.Errorf("registry: class %q already registered", className)
	}
	c.classes[className] = &classEntry{name: className, descriptor: descriptor, codec: cdc}
	return nil
}

// Bind declares a symmetric binding between (classA, fieldA) and
// (classB, fieldB). Both classes must already be registered.
func (c *Catalog) Bind(classA, fieldA string, onDeleteA OnDelete, classB, fieldB string, onDeleteB OnDelete) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.built {
		return &ErrAlreadyBuilt{Op: "Bind"}
	}

	da, ok := c.classes[classA]
	if !ok {
		return fmt.Errorf("registry: cannot bind unregistered class %q", classA)
	}
	db, ok := c.classes[classB]
	if !ok {
		return fmt.Errorf("registry: cannot bind unregistered class %q", classB)
	}

	keyA := classKey{classA, fieldA}
	keyB := classKey{classB, fieldB}
	if _, exists := c.bindings[keyA]; exists {
		return fmt.Errorf("registry: field %s.%s is already bound", classA, fieldA)
	}
	if _, exists := c.bindings[keyB]; exists {
		return fmt.Errorf("registry: field %s.%s is already bound", classB, fieldB)
	}

	endA := &BindingEnd{
		class:      classA,
		field:      fieldA,
		collection: da.descriptor.IsCollectionField(fieldA),
		onDelete:   onDeleteA,
		peerClass:  classB,
		peerField:  fieldB,
	}
	endB := &BindingEnd{
		class:      classB,
		field:      fieldB,
		collection: db.descriptor.IsCollectionField(fieldB),
		onDelete:   onDeleteB,
		peerClass:  classA,
		peerField:  fieldA,
	}
	endA.peer = endB
	endB.peer = endA

	c.bindings[keyA] = endA
	c.bindings[keyB] = endB
	return nil
}

// Build freezes the catalog. Every subsequent Register/Bind call fails.
func (c *Catalog) Build() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.built = true
	return nil
}

// Built reports whether Build has been called.
func (c *Catalog) Built() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.built
}

// Descriptor returns the Descriptor registered for class.
func (c *Catalog) Descriptor(class string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.classes[class]
	if !ok {
		return nil, false
	}
	return e.descriptor, true
}

// Codec returns the codec registered for class.
func (c *Catalog) Codec(class string) (codec.Codec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.classes[class]
	if !ok {
		return nil, false
	}
	return e.codec, true
}

// Binding returns the BindingEnd for (class, field), if bound.
func (c *Catalog) Binding(class, field string) (*BindingEnd, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bindings[classKey{class, field}]
	return b, ok
}

// BoundFields returns every bound field declared for class, in
// registration order is not guaranteed.
func (c *Catalog) BoundFields(class string) []*BindingEnd {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*BindingEnd
	for k, v := range c.bindings {
		if k.class == class {
			out = append(out, v)
		}
	}
	return out
}

// Classes returns every registered class's simple name.
func (c *Catalog) Classes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.classes))
	for name := range c.classes {
		out = append(out, name)
	}
	return out
}

package registry

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// ObjId is the opaque, string-serializable identifier of a persisted
// object.
type ObjId string

func (id ObjId) String() string { return string(id) }

// Descriptor is the capability interface Design Note 2 substitutes for
// ad-hoc reflection: one instance per registered class, built once by
// NewReflectDescriptor or NewProtoDescriptor and then passed to Register.
type Descriptor interface {
	// ClassName is the simple name this descriptor was registered under.
	ClassName() string

	// IDOf returns obj's identifier.
	IDOf(obj any) ObjId

	// ReadField returns the current value of field on obj: an ObjId for a
	// single reference, a []ObjId for a collection reference.
	ReadField(obj any, field string) any

	// WriteField sets field on obj to value, using the same shapes as
	// ReadField.
	WriteField(obj any, field string, value any)

	// IsCollectionField reports whether field holds a reference list
	// rather than a single reference.
	IsCollectionField(field string) bool

	// New returns a new zero-value instance of the class's Go type, used
	// by the deserializer.
	New() any
}

// NewReflectDescriptor builds a Descriptor for a record-style (plain Go
// struct) class. idField and every field later bound via Catalog.Bind must
// name exported struct fields of template's type. Reference fields must be
// of type ObjId (single) or []ObjId (collection).
func NewReflectDescriptor(className string, template any, idField string) (Descriptor, error) {
	t := reflect.TypeOf(template)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("registry: template for class %q must be a struct or pointer to struct, got %s", className, t.Kind())
	}
	if _, ok := t.FieldByName(idField); !ok {
		return nil, fmt.Errorf("registry: class %q has no id field %q", className, idField)
	}
	return &reflectDescriptor{className: className, typ: t, idField: idField}, nil
}

type reflectDescriptor struct {
	className string
	typ       reflect.Type
	idField   string
}

func (d *reflectDescriptor) ClassName() string { return d.className }

func (d *reflectDescriptor) New() any {
	return reflect.New(d.typ).Interface()
}

func (d *reflectDescriptor) value(obj any) reflect.Value {
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v
}

func (d *reflectDescriptor) IDOf(obj any) ObjId {
	f := d.value(obj).FieldByName(d.idField)
	return ObjId(fmt.Sprint(f.Interface()))
}

func (d *reflectDescriptor) ReadField(obj any, field string) any {
	f := d.value(obj).FieldByName(field)
	if !f.IsValid() {
		return nil
	}
	switch v := f.Interface().(type) {
	case ObjId, []ObjId:
		return v
	default:
		return v
	}
}

func (d *reflectDescriptor) WriteField(obj any, field string, value any) {
	f := d.value(obj).FieldByName(field)
	if !f.IsValid() || !f.CanSet() {
		return
	}
	f.Set(reflect.ValueOf(value))
}

func (d *reflectDescriptor) IsCollectionField(field string) bool {
	f, ok := d.typ.FieldByName(field)
	if !ok {
		return false
	}
	return f.Type.Kind() == reflect.Slice
}

// NewProtoDescriptor builds a Descriptor for a protobuf-style class: obj
// values implementing proto.Message. idField and bound fields must name
// fields present in template's protoreflect.Descriptor; a reference field
// is a string-typed field (single) or a repeated string field
// (collection), carrying the peer's ObjId as text.
func NewProtoDescriptor(className string, template proto.Message, idField string) (Descriptor, error) {
	md := template.ProtoReflect().Descriptor()
	if md.Fields().ByName(protoreflect.Name(idField)) == nil {
		return nil, fmt.Errorf("registry: proto class %q has no id field %q", className, idField)
	}
	return &protoDescriptor{
		className: className,
		msgType:   template.ProtoReflect().Type(),
		idField:   protoreflect.Name(idField),
	}, nil
}

type protoDescriptor struct {
	className string
	msgType   protoreflect.MessageType
	idField   protoreflect.Name
}

func (d *protoDescriptor) ClassName() string { return d.className }

func (d *protoDescriptor) New() any {
	return d.msgType.New().Interface()
}

func (d *protoDescriptor) fieldDescriptor(obj any, field string) (protoreflect.Message, protoreflect.FieldDescriptor) {
	msg := obj.(proto.Message).ProtoReflect()
	fd := msg.Descriptor().Fields().ByName(protoreflect.Name(field))
	return msg, fd
}

func (d *protoDescriptor) IDOf(obj any) ObjId {
	msg := obj.(proto.Message).ProtoReflect()
	fd := msg.Descriptor().Fields().ByName(d.idField)
	if fd == nil {
		return ""
	}
	return ObjId(msg.Get(fd).String())
}

func (d *protoDescriptor) ReadField(obj any, field string) any {
	msg, fd := d.fieldDescriptor(obj, field)
	if fd == nil {
		return nil
	}
	if fd.IsList() {
		list := msg.Get(fd).List()
		out := make([]ObjId, 0, list.Len())
		for i := 0; i < list.Len(); i++ {
			out = append(out, ObjId(list.Get(i).String()))
		}
		return out
	}
	return ObjId(msg.Get(fd).String())
}

func (d *protoDescriptor) WriteField(obj any, field string, value any) {
	msg, fd := d.fieldDescriptor(obj, field)
	if fd == nil {
		return
	}
	if fd.IsList() {
		ids := value.([]ObjId)
		list := msg.Mutable(fd).List()
		for list.Len() > 0 {
			list.Truncate(0)
		}
		for _, id := range ids {
			list.Append(protoreflect.ValueOfString(string(id)))
		}
		return
	}
	msg.Set(fd, protoreflect.ValueOfString(string(value.(ObjId))))
}

func (d *protoDescriptor) IsCollectionField(field string) bool {
	md := d.msgType.Descriptor()
	fd := md.Fields().ByName(protoreflect.Name(field))
	return fd != nil && fd.IsList()
}

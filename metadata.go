package store

import (
	"fmt"
	"reflect"
)

// EntityDef is a marker embedded in entity structs to carry entity level tags:
//
//	type Dog struct {
//		store.EntityDef `name:"Animal" discriminator:"Dog" column:"kind"`
//		ID   string `store:"_id,id"`
//		Bark string
//	}
//
// name overrides the entity name, discriminator and column declare a polymorphic
// family member, schema is used by SQL stores.
type EntityDef struct{}

var entityDefType = reflect.TypeOf(EntityDef{})

const defaultDiscriminatorColumn = "dtype"

// Discriminator marks an entity as one member of a family stored under a
// shared entity name.
type Discriminator struct {
	Column string
	Value  string
}

// FieldDescriptor describes one persistent field of an entity.
type FieldDescriptor struct {
	// Name is the element name used in records.
	Name string
	// GoName is the struct field name.
	GoName string
	Kind   FieldKind
	// Type is the declared field type.
	Type reflect.Type
	// ElemType is the element type of collections, the value type of maps and
	// the struct type of embedded and reference fields.
	ElemType reflect.Type
	// KeyType is the key type of maps.
	KeyType reflect.Type
	// Converter references a ValueConverter registered in the ConverterRegistry.
	Converter string
	ID        bool
	// Flatten writes the fields of an embedded value next to the parent fields.
	Flatten bool
	// UDT names a store level composite type, see UDTHook.
	UDT string

	// Get returns the field of the addressable struct value entity.
	Get func(entity reflect.Value) reflect.Value
	// Set assigns value to the field of the addressable struct value entity.
	Set func(entity reflect.Value, value reflect.Value)
}

// Embeddable reports whether the element type of the field is converted to a
// sub-record rather than kept as a scalar.
func (fd *FieldDescriptor) Embeddable() bool {
	return fd.ElemType != nil && isEmbeddableType(fd.ElemType)
}

func (fd *FieldDescriptor) String() string {
	return fmt.Sprintf("%s(%s %s)", fd.Name, fd.Kind, fd.Type)
}

// EntityMetadata describes the persistent shape of one entity type. It is
// immutable once registered.
type EntityMetadata struct {
	Name          string
	Schema        string
	Type          reflect.Type
	Fields        []*FieldDescriptor
	ID            *FieldDescriptor
	Discriminator *Discriminator
	// Constructor returns a pointer to a new zero instance. Defaults to reflect.New.
	Constructor func() reflect.Value

	byName map[string]*FieldDescriptor
}

// NewEntityMetadata builds metadata from explicit descriptors, for callers that
// generate accessors instead of relying on struct tags.
func NewEntityMetadata(name string, typ reflect.Type, fields ...*FieldDescriptor) (*EntityMetadata, error) {
	if typ == nil {
		return nil, fmt.Errorf("entity %q: type is required", name)
	}

	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity %q: expecting struct type, got %s", name, typ.Kind())
	}

	if name == "" {
		name = typ.Name()
	}

	meta := &EntityMetadata{
		Name:   name,
		Type:   typ,
		Fields: fields,
	}

	if err := meta.init(); err != nil {
		return nil, err
	}

	return meta, nil
}

func (m *EntityMetadata) init() error {
	m.byName = make(map[string]*FieldDescriptor, len(m.Fields))
	for _, fd := range m.Fields {
		if fd.Name == "" {
			return fmt.Errorf("entity %s: field %q has no name", m.Name, fd.GoName)
		}

		if fd.Get == nil || fd.Set == nil {
			return fmt.Errorf("entity %s: field %s needs both accessor and mutator", m.Name, fd.Name)
		}

		if _, ok := m.byName[fd.Name]; ok {
			return fmt.Errorf("entity %s: duplicate field name %s", m.Name, fd.Name)
		}
		m.byName[fd.Name] = fd

		if fd.ID {
			if m.ID != nil {
				return fmt.Errorf("entity %s: cannot have more than 1 id field", m.Name)
			}
			m.ID = fd
		}
	}

	if m.Constructor == nil {
		typ := m.Type
		m.Constructor = func() reflect.Value {
			return reflect.New(typ)
		}
	}

	return nil
}

func (m *EntityMetadata) Field(name string) (*FieldDescriptor, bool) {
	fd, ok := m.byName[name]
	return fd, ok
}

// New allocates a new instance and returns a pointer to it.
func (m *EntityMetadata) New() reflect.Value {
	return m.Constructor()
}

// IDValue returns the id of the entity held by v, a struct or a pointer to one.
func (m *EntityMetadata) IDValue(v reflect.Value) (any, bool) {
	if m.ID == nil {
		return nil, false
	}

	v = indirectValue(v)
	if !v.IsValid() {
		return nil, false
	}

	id := m.ID.Get(v)
	if isNilReflect(id) {
		return nil, false
	}

	return reflect.Indirect(id).Interface(), true
}

// levelNames adds to names the elements m writes at its own record level:
// its fields, and recursively those of its flattened embedded fields. skip is
// left out. names maps each element to the Go field writing it, and an
// element written by two fields is an error.
func (m *EntityMetadata) levelNames(names map[string]string, registry MetadataProvider, skip *FieldDescriptor, depth int) error {
	if depth > defaultMaxDepth {
		return fmt.Errorf("entity %s: flattened fields nest deeper than %d levels", m.Name, defaultMaxDepth)
	}

	for _, fd := range m.Fields {
		if fd == skip {
			continue
		}

		if fd.Kind == KindEmbedded && fd.Flatten && fd.ElemType.Kind() != reflect.Interface {
			child, err := registry.Lookup(fd.ElemType)
			if err != nil {
				return err
			}

			if err := child.levelNames(names, registry, nil, depth+1); err != nil {
				return err
			}
			continue
		}

		owner := m.Name + "." + fd.GoName
		if other, ok := names[fd.Name]; ok {
			return fmt.Errorf("element %s is written by both %s and %s", fd.Name, other, owner)
		}
		names[fd.Name] = owner
	}

	return nil
}

// hasAnyField reports whether rec holds an element of m, or of the flattened
// fields of m. Names in exclude are not counted.
func (m *EntityMetadata) hasAnyField(rec *Record, exclude map[string]string, registry MetadataProvider, depth int) bool {
	if depth > defaultMaxDepth {
		return false
	}

	for _, fd := range m.Fields {
		if fd.Kind == KindEmbedded && fd.Flatten {
			child, err := registry.Lookup(fd.ElemType)
			if err == nil && child.hasAnyField(rec, exclude, registry, depth+1) {
				return true
			}
			continue
		}

		if _, ok := exclude[fd.Name]; ok {
			continue
		}

		if rec.Has(fd.Name) {
			return true
		}
	}

	return false
}

func indirectValue(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}

	return v
}

func isNilReflect(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}

	return false
}

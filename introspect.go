package store

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
)

// NamingFunc derives an element name from a struct field name when the field
// carries no explicit name.
type NamingFunc func(fieldName string) string

var (
	timeType          = reflect.TypeOf(time.Time{})
	valuerType        = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	scannerType       = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// DefaultNaming is strcase.ToLowerCamel, so Name becomes "name" and
// CreatedAt becomes "createdAt".
var DefaultNaming NamingFunc = strcase.ToLowerCamel

type storeTag struct {
	name      string
	skip      bool
	id        bool
	embedded  bool
	flatten   bool
	ref       bool
	converter string
	udt       string
}

// parseStoreTag reads `store:"name,id flatten converter=money udt=address"`.
func parseStoreTag(value string) storeTag {
	var tag storeTag
	tagArr := strings.SplitN(value, ",", 2)
	tag.name = strings.TrimSpace(tagArr[0])
	if tag.name == "-" {
		tag.skip = true
		return tag
	}

	if len(tagArr) < 2 {
		return tag
	}

	for _, v := range strings.Fields(tagArr[1]) {
		varr := strings.SplitN(v, "=", 2)
		key := strings.ToLower(strings.TrimSpace(varr[0]))
		val := ""
		if len(varr) > 1 {
			val = strings.TrimSpace(varr[1])
		}

		switch key {
		case "id", "key":
			tag.id = true
		case "embedded":
			tag.embedded = true
		case "flatten":
			tag.embedded = true
			tag.flatten = true
		case "ref":
			tag.ref = true
		case "converter":
			tag.converter = val
		case "udt":
			tag.udt = val
		}
	}

	return tag
}

// Introspect builds metadata for a struct type from its `store` tags.
func Introspect(t reflect.Type, naming NamingFunc) (*EntityMetadata, error) {
	if t == nil {
		return nil, fmt.Errorf("invalid model type: nil")
	}

	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("invalid model type: %s", t.Kind())
	}

	if naming == nil {
		naming = DefaultNaming
	}

	meta := &EntityMetadata{
		Name: t.Name(),
		Type: t,
	}

	var goID *FieldDescriptor
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type == entityDefType {
			if name := field.Tag.Get("name"); name != "" {
				meta.Name = name
			}
			meta.Schema = field.Tag.Get("schema")

			if dv := field.Tag.Get("discriminator"); dv != "" {
				col := field.Tag.Get("column")
				if col == "" {
					col = defaultDiscriminatorColumn
				}
				meta.Discriminator = &Discriminator{Column: col, Value: dv}
			}
			continue
		}

		if !field.IsExported() {
			continue
		}

		tag := parseStoreTag(field.Tag.Get("store"))
		if tag.skip {
			continue
		}

		fd, err := describeField(field, tag, naming)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", meta.Name, err)
		}

		if !tag.id && field.Name == "ID" && fd.Kind == KindScalar {
			goID = fd
		}

		meta.Fields = append(meta.Fields, fd)
	}

	if goID != nil && !sliceContainsFunc(meta.Fields, func(fd *FieldDescriptor) bool { return fd.ID }) {
		goID.ID = true
	}

	if meta.Name == "" {
		return nil, fmt.Errorf("invalid model type: anonymous struct needs an EntityDef name")
	}

	if err := meta.init(); err != nil {
		return nil, err
	}

	return meta, nil
}

func describeField(field reflect.StructField, tag storeTag, naming NamingFunc) (*FieldDescriptor, error) {
	fd := &FieldDescriptor{
		Name:      tag.name,
		GoName:    field.Name,
		Type:      field.Type,
		Converter: tag.converter,
		ID:        tag.id,
		Flatten:   tag.flatten,
		UDT:       tag.udt,
	}

	base := derefType(field.Type)
	switch {
	case tag.ref:
		fd.Kind = KindEntityReference
		fd.ElemType = base
	case tag.embedded || (field.Anonymous && isEmbeddableType(base)):
		if base.Kind() != reflect.Struct && base.Kind() != reflect.Interface {
			return nil, fmt.Errorf("field %s: embedded field must be a struct, got %s", field.Name, base)
		}
		fd.Kind = KindEmbedded
		fd.ElemType = base
		// Go embedding promotes fields, keep them at the parent level unless named.
		if field.Anonymous && tag.name == "" {
			fd.Flatten = true
		}
	case isScalarType(field.Type):
		fd.Kind = KindScalar
	case base.Kind() == reflect.Struct, isEmbeddableType(base):
		fd.Kind = KindEmbedded
		fd.ElemType = base
	case base.Kind() == reflect.Slice || base.Kind() == reflect.Array:
		fd.Kind = KindCollection
		fd.ElemType = base.Elem()
	case base.Kind() == reflect.Map:
		fd.Kind = KindMap
		fd.KeyType = base.Key()
		fd.ElemType = base.Elem()
	default:
		fd.Kind = KindScalar
	}

	if fd.Name == "" {
		if field.Anonymous {
			fd.Name = base.Name()
		} else {
			fd.Name = naming(field.Name)
		}
	}

	idx := field.Index
	fd.Get = func(v reflect.Value) reflect.Value {
		return v.FieldByIndex(idx)
	}
	fd.Set = func(v reflect.Value, value reflect.Value) {
		v.FieldByIndex(idx).Set(value)
	}

	return fd, nil
}

// isScalarType reports whether values of t are stored as they are: basic
// kinds, byte slices and arrays, time.Time and types that know their own
// database or text representation.
func isScalarType(t reflect.Type) bool {
	t = derefType(t)
	if t == timeType {
		return true
	}

	if implementsAny(t, valuerType, scannerType, textMarshalerType) {
		return true
	}

	switch t.Kind() {
	case reflect.Struct, reflect.Map, reflect.Interface:
		return false
	case reflect.Slice, reflect.Array:
		return t.Elem().Kind() == reflect.Uint8
	}

	return true
}

func isEmbeddableType(t reflect.Type) bool {
	t = derefType(t)
	if t.Kind() == reflect.Interface {
		return t.NumMethod() > 0
	}

	return t.Kind() == reflect.Struct && !isScalarType(t)
}

func implementsAny(t reflect.Type, ifaces ...reflect.Type) bool {
	pt := reflect.PtrTo(t)
	for _, iface := range ifaces {
		if t.Implements(iface) || pt.Implements(iface) {
			return true
		}
	}

	return false
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	return t
}

func sliceContainsFunc[T any](list []T, fn func(T) bool) bool {
	for _, item := range list {
		if fn(item) {
			return true
		}
	}

	return false
}

package store

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"
)

const defaultMaxDepth = 64

type ConverterOption func(c *EntityConverter)

// WithConverters sets the resolver used for fields declaring a converter.
func WithConverters(resolver ConverterResolver) ConverterOption {
	return func(c *EntityConverter) {
		c.converters = resolver
	}
}

func WithLogger(logger *zap.Logger) ConverterOption {
	return func(c *EntityConverter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxDepth bounds the nesting depth of a single conversion.
func WithMaxDepth(depth int) ConverterOption {
	return func(c *EntityConverter) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithEmbeddedPrecedence sets which encoding of embedded fields is read first.
func WithEmbeddedPrecedence(p EmbeddedPrecedence) ConverterOption {
	return func(c *EntityConverter) {
		c.precedence = p
	}
}

// WithCustomFieldKind registers hook at construction time.
func WithCustomFieldKind(hook CustomFieldHook) ConverterOption {
	return func(c *EntityConverter) {
		c.pending = append(c.pending, hook)
	}
}

// EntityConverter converts entities to records and back. It holds no per call
// state and is safe for concurrent use once hooks are registered.
type EntityConverter struct {
	metadata   MetadataProvider
	converters ConverterResolver
	logger     *zap.Logger
	maxDepth   int
	precedence EmbeddedPrecedence

	mu      sync.RWMutex
	hooks   []CustomFieldHook
	pending []CustomFieldHook

	levels sync.Map // levelKey -> map[string]string
}

type levelKey struct {
	meta *EntityMetadata
	skip *FieldDescriptor
}

func NewEntityConverter(metadata MetadataProvider, options ...ConverterOption) (*EntityConverter, error) {
	c := &EntityConverter{
		metadata: metadata,
		logger:   zap.NewNop(),
		maxDepth: defaultMaxDepth,
	}

	for _, op := range options {
		op(c)
	}

	if c.metadata == nil {
		c.metadata = NewMetadataRegistry()
	}

	if c.converters == nil {
		c.converters = NewConverterRegistry()
	}

	pending := c.pending
	c.pending = nil
	for _, hook := range pending {
		if err := c.RegisterCustomFieldKind(hook); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *EntityConverter) Metadata() MetadataProvider {
	return c.metadata
}

// ToRecord converts entity, a struct or a pointer to one, into a record.
func (c *EntityConverter) ToRecord(entity any) (*Record, error) {
	v := indirectValue(reflect.ValueOf(entity))
	if !v.IsValid() {
		return nil, ErrNilEntity
	}

	meta, err := c.metadata.Lookup(v.Type())
	if err != nil {
		return nil, err
	}

	return c.toRecord(addressable(v), meta, 0)
}

func (c *EntityConverter) toRecord(v reflect.Value, meta *EntityMetadata, depth int) (*Record, error) {
	if depth > c.maxDepth {
		return nil, &ConversionError{Entity: meta.Name, Err: ErrMaxDepth}
	}

	if _, err := c.levelNames(meta, nil); err != nil {
		return nil, &ConversionError{Entity: meta.Name, Err: err}
	}

	rec := NewRecord(meta.Name)
	if d := meta.Discriminator; d != nil {
		rec.Add(d.Column, d.Value)
	}

	for _, fd := range meta.Fields {
		stored, flat, err := c.storeField(v, meta, fd, depth)
		if err != nil {
			return nil, err
		}

		if flat != nil {
			for _, e := range flat.elements {
				if rec.Has(e.Name) {
					return nil, conversionError(meta, fd, flat, fmt.Errorf("flattened element %s is already set", e.Name))
				}
				rec.Add(e.Name, e.Value)
			}
			continue
		}

		if stored != nil && rec.Has(fd.Name) {
			return nil, conversionError(meta, fd, stored, fmt.Errorf("element %s is already set", fd.Name))
		}
		rec.Add(fd.Name, stored)
	}

	return rec, nil
}

// levelNames returns the elements meta writes at its own record level, minus
// those of skip. A nested field keeps its own name in the result, since that
// element belongs to its nested encoding.
func (c *EntityConverter) levelNames(meta *EntityMetadata, skip *FieldDescriptor) (map[string]string, error) {
	key := levelKey{meta: meta, skip: skip}
	if names, ok := c.levels.Load(key); ok {
		return names.(map[string]string), nil
	}

	names := make(map[string]string)
	if err := meta.levelNames(names, c.metadata, skip, 0); err != nil {
		return nil, err
	}

	if skip != nil && !skip.Flatten {
		names[skip.Name] = meta.Name + "." + skip.GoName
	}

	c.levels.Store(key, names)
	return names, nil
}

// storeField returns the stored value of fd, or a record whose elements
// belong at the parent level for flattened embedded fields.
func (c *EntityConverter) storeField(v reflect.Value, meta *EntityMetadata, fd *FieldDescriptor, depth int) (any, *Record, error) {
	fv := fd.Get(v)
	if isNilReflect(fv) {
		return nil, nil, nil
	}

	if fd.Converter != "" {
		conv, err := c.converters.Resolve(fd.Converter)
		if err != nil {
			return nil, nil, err
		}

		stored, err := conv.ToStored(fv.Interface())
		if err != nil {
			return nil, nil, conversionError(meta, fd, fv.Interface(), err)
		}
		return stored, nil, nil
	}

	if hook, ok := c.customHook(fd); ok {
		stored, err := hook.Store(fd, fv.Interface(), depth)
		if err != nil {
			return nil, nil, conversionError(meta, fd, fv.Interface(), err)
		}
		return stored, nil, nil
	}

	if fd.ID && fd.Kind != KindScalar {
		return nil, nil, conversionError(meta, fd, fv.Interface(), fmt.Errorf("id field must hold a scalar value, got %s", fd.Kind))
	}

	switch fd.Kind {
	case KindScalar:
		stored, err := storeScalar(fv)
		if err != nil {
			return nil, nil, conversionError(meta, fd, fv.Interface(), err)
		}
		return stored, nil, nil
	case KindEmbedded, KindEntityReference:
		sub, err := c.storeEntity(fv, depth)
		if err != nil {
			return nil, nil, err
		}

		if fd.Flatten && fd.Kind == KindEmbedded {
			return nil, sub, nil
		}
		return sub, nil, nil
	case KindCollection:
		return c.storeCollection(fv, meta, fd, depth)
	case KindMap:
		return c.storeMap(fv, meta, fd, depth)
	}

	return nil, nil, conversionError(meta, fd, fv.Interface(), fmt.Errorf("unsupported field kind %s", fd.Kind))
}

func (c *EntityConverter) storeEntity(fv reflect.Value, depth int) (*Record, error) {
	ev := indirectValue(fv)
	if !ev.IsValid() {
		return nil, nil
	}

	childMeta, err := c.metadata.Lookup(ev.Type())
	if err != nil {
		return nil, err
	}

	return c.toRecord(addressable(ev), childMeta, depth+1)
}

func storeScalar(fv reflect.Value) (any, error) {
	if valuer, ok := fv.Interface().(driver.Valuer); ok {
		if fv.Kind() == reflect.Ptr && fv.IsNil() {
			return nil, nil
		}
		return valuer.Value()
	}

	v := indirectValue(fv)
	if !v.IsValid() {
		return nil, nil
	}

	if v.CanAddr() {
		if valuer, ok := v.Addr().Interface().(driver.Valuer); ok {
			return valuer.Value()
		}
	}

	return v.Interface(), nil
}

func (c *EntityConverter) storeCollection(fv reflect.Value, meta *EntityMetadata, fd *FieldDescriptor, depth int) (any, *Record, error) {
	coll := indirectValue(fv)
	if !coll.IsValid() {
		return nil, nil, nil
	}

	if !fd.Embeddable() {
		return coll.Interface(), nil, nil
	}

	recs := make([]*Record, 0, coll.Len())
	for i := 0; i < coll.Len(); i++ {
		sub, err := c.storeEntity(coll.Index(i), depth)
		if err != nil {
			return nil, nil, err
		}

		if sub != nil {
			recs = append(recs, sub)
		}
	}

	return recs, nil, nil
}

func (c *EntityConverter) storeMap(fv reflect.Value, meta *EntityMetadata, fd *FieldDescriptor, depth int) (any, *Record, error) {
	m := indirectValue(fv)
	if !m.IsValid() {
		return nil, nil, nil
	}

	type entry struct {
		name string
		key  reflect.Value
	}

	entries := make([]entry, 0, m.Len())
	for _, k := range m.MapKeys() {
		name, err := formatKey(k)
		if err != nil {
			return nil, nil, conversionError(meta, fd, k.Interface(), err)
		}
		entries = append(entries, entry{name: name, key: k})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].name < entries[j].name
	})

	if fd.Embeddable() {
		out := NewRecord(fd.Name)
		for _, e := range entries {
			sub, err := c.storeEntity(m.MapIndex(e.key), depth)
			if err != nil {
				return nil, nil, err
			}
			out.Add(e.name, sub)
		}
		return out, nil, nil
	}

	pairs := make([]*Record, 0, len(entries))
	for _, e := range entries {
		val := m.MapIndex(e.key)
		if isNilReflect(val) {
			continue
		}

		pairs = append(pairs, NewRecord(fd.Name,
			Element{Name: "key", Value: e.key.Interface()},
			Element{Name: "value", Value: val.Interface()},
		))
	}

	return pairs, nil, nil
}

// addressable returns v itself when it can be addressed, or an addressable copy.
func addressable(v reflect.Value) reflect.Value {
	if v.CanAddr() {
		return v
	}

	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p.Elem()
}

package store

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// ToEntity builds a new entity from rec, resolving its type from rec.Name.
// The result is a pointer to the entity struct.
func (c *EntityConverter) ToEntity(rec *Record) (any, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: record is nil", ErrNilEntity)
	}

	meta, err := c.lookupRecord(rec)
	if err != nil {
		return nil, err
	}

	ptr := meta.New()
	if err := c.populate(ptr.Elem(), rec, meta, 0); err != nil {
		return nil, err
	}

	return ptr.Interface(), nil
}

// Populate fills instance, a non-nil pointer to an entity, from rec and returns it.
func (c *EntityConverter) Populate(instance any, rec *Record) (any, error) {
	v := reflect.ValueOf(instance)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return nil, fmt.Errorf("%w: populate target must be a non-nil pointer, got %T", ErrNilEntity, instance)
	}

	if rec == nil {
		return instance, nil
	}

	meta, err := c.metadata.Lookup(v.Type())
	if err != nil {
		return nil, err
	}

	if err := c.populate(indirectValue(v), rec, meta, 0); err != nil {
		return nil, err
	}

	return instance, nil
}

// DecodeRecord converts rec into a new T.
func DecodeRecord[T any](c *EntityConverter, rec *Record) (*T, error) {
	var out T
	if _, err := c.Populate(&out, rec); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *EntityConverter) lookupRecord(rec *Record) (*EntityMetadata, error) {
	if resolver, ok := c.metadata.(RecordTypeResolver); ok {
		return resolver.LookupRecord(rec)
	}

	return c.metadata.LookupByName(rec.Name)
}

func (c *EntityConverter) populate(v reflect.Value, rec *Record, meta *EntityMetadata, depth int) error {
	if depth > c.maxDepth {
		return &ConversionError{Entity: meta.Name, Err: ErrMaxDepth}
	}

	if _, err := c.levelNames(meta, nil); err != nil {
		return &ConversionError{Entity: meta.Name, Err: err}
	}

	for _, fd := range meta.Fields {
		el, ok := rec.Find(fd.Name)
		if !ok && fd.Kind != KindEmbedded {
			continue
		}

		if err := c.feedField(v, rec, meta, fd, el, ok, depth); err != nil {
			return err
		}
	}

	if depth == 0 && c.logger.Core().Enabled(zap.DebugLevel) {
		for _, name := range rec.Names() {
			if !c.knownElement(meta, name, 0) {
				c.logger.Debug("ignoring unknown element", zap.String("entity", meta.Name), zap.String("element", name))
			}
		}
	}

	return nil
}

func (c *EntityConverter) knownElement(meta *EntityMetadata, name string, depth int) bool {
	if depth > c.maxDepth {
		return false
	}

	if meta.Discriminator != nil && meta.Discriminator.Column == name {
		return true
	}

	if _, ok := meta.Field(name); ok {
		return true
	}

	for _, fd := range meta.Fields {
		if fd.Kind != KindEmbedded {
			continue
		}

		child, err := c.metadata.Lookup(fd.ElemType)
		if err == nil && c.knownElement(child, name, depth+1) {
			return true
		}
	}

	return false
}

func (c *EntityConverter) feedField(v reflect.Value, rec *Record, meta *EntityMetadata, fd *FieldDescriptor, el Element, found bool, depth int) error {
	if fd.Converter != "" {
		if !found {
			return nil
		}

		conv, err := c.converters.Resolve(fd.Converter)
		if err != nil {
			return err
		}

		attr, err := conv.ToAttribute(el.Value)
		if err != nil {
			return conversionError(meta, fd, el.Value, err)
		}

		return c.assign(v, meta, fd, attr)
	}

	if hook, ok := c.customHook(fd); ok {
		if !found {
			return nil
		}

		if err := hook.Feed(v, el.Value, fd, depth); err != nil {
			return conversionError(meta, fd, el.Value, err)
		}
		return nil
	}

	switch fd.Kind {
	case KindScalar:
		return c.assign(v, meta, fd, el.Value)
	case KindEmbedded:
		return c.feedEmbedded(v, rec, meta, fd, el, found, depth)
	case KindEntityReference:
		sub, ok := asRecord(fd.Name, el.Value)
		if !ok {
			return conversionError(meta, fd, el.Value, fmt.Errorf("expecting a nested record"))
		}
		return c.feedEntity(v, meta, fd, fd.Type, sub, depth)
	case KindCollection:
		return c.feedCollection(v, meta, fd, el.Value, depth)
	case KindMap:
		return c.feedMap(v, meta, fd, el.Value, depth)
	}

	return conversionError(meta, fd, el.Value, fmt.Errorf("unsupported field kind %s", fd.Kind))
}

func (c *EntityConverter) assign(v reflect.Value, meta *EntityMetadata, fd *FieldDescriptor, value any) error {
	val, err := coerce(value, fd.Type)
	if err != nil {
		return conversionError(meta, fd, value, err)
	}

	fd.Set(v, val)
	return nil
}

func (c *EntityConverter) feedEmbedded(v reflect.Value, rec *Record, meta *EntityMetadata, fd *FieldDescriptor, el Element, found bool, depth int) error {
	nested := func() (*Record, error) {
		if !found {
			return nil, nil
		}

		sub, ok := asRecord(fd.Name, el.Value)
		if !ok {
			return nil, conversionError(meta, fd, el.Value, fmt.Errorf("expecting a nested record"))
		}
		return sub, nil
	}

	flattened := func() (*Record, error) {
		if fd.ElemType.Kind() == reflect.Interface {
			return nil, nil
		}

		child, err := c.metadata.Lookup(fd.ElemType)
		if err != nil {
			return nil, err
		}

		exclude, err := c.levelNames(meta, fd)
		if err != nil {
			return nil, err
		}

		if child.hasAnyField(rec, exclude, c.metadata, 0) {
			return rec, nil
		}
		return nil, nil
	}

	first, second := nested, flattened
	if c.precedence == PreferFlattened || fd.Flatten {
		first, second = flattened, nested
	}

	sub, err := first()
	if err != nil {
		return err
	}

	if sub == nil {
		if sub, err = second(); err != nil {
			return err
		}
	}

	if sub == nil {
		return nil
	}

	return c.feedEntity(v, meta, fd, fd.Type, sub, depth)
}

// feedEntity materializes sub as a value of typ and assigns it to fd.
func (c *EntityConverter) feedEntity(v reflect.Value, meta *EntityMetadata, fd *FieldDescriptor, typ reflect.Type, sub *Record, depth int) error {
	val, err := c.buildEntity(typ, sub, depth)
	if err != nil {
		return conversionError(meta, fd, sub, err)
	}

	fd.Set(v, val)
	return nil
}

// buildEntity returns a value assignable to typ, which is a struct, a pointer
// to a struct or an interface implemented by the entity registered under sub.Name.
func (c *EntityConverter) buildEntity(typ reflect.Type, sub *Record, depth int) (reflect.Value, error) {
	base := derefType(typ)

	var childMeta *EntityMetadata
	var err error
	if base.Kind() == reflect.Interface {
		childMeta, err = c.lookupRecord(sub)
		if resolver, ok := c.metadata.(ImplementationResolver); ok && err != nil {
			childMeta, err = resolver.LookupImplementation(base, sub)
		}
	} else {
		childMeta, err = c.metadata.Lookup(base)
	}
	if err != nil {
		return reflect.Value{}, err
	}

	ptr := childMeta.New()
	if err := c.populate(ptr.Elem(), sub, childMeta, depth+1); err != nil {
		return reflect.Value{}, err
	}

	switch {
	case typ.Kind() == reflect.Ptr:
		return ptr, nil
	case typ.Kind() == reflect.Interface:
		if ptr.Type().Implements(typ) {
			return ptr, nil
		}
		if ptr.Elem().Type().Implements(typ) {
			return ptr.Elem(), nil
		}
		return reflect.Value{}, fmt.Errorf("%s does not implement %s", childMeta.Type, typ)
	}

	return ptr.Elem(), nil
}

func (c *EntityConverter) feedCollection(v reflect.Value, meta *EntityMetadata, fd *FieldDescriptor, value any, depth int) error {
	if !fd.Embeddable() {
		return c.assign(v, meta, fd, value)
	}

	recs, ok := asRecordList(fd.Name, value)
	if !ok {
		return conversionError(meta, fd, value, fmt.Errorf("expecting a list of records"))
	}

	base := derefType(fd.Type)
	var coll reflect.Value
	switch base.Kind() {
	case reflect.Slice:
		coll = reflect.MakeSlice(base, len(recs), len(recs))
	case reflect.Array:
		if len(recs) > base.Len() {
			return conversionError(meta, fd, value, fmt.Errorf("%d items do not fit in %s", len(recs), base))
		}
		coll = reflect.New(base).Elem()
	default:
		return conversionError(meta, fd, value, fmt.Errorf("unsupported collection type %s", base))
	}

	for i, sub := range recs {
		item, err := c.buildEntity(base.Elem(), sub, depth)
		if err != nil {
			return conversionError(meta, fd, sub, err)
		}
		coll.Index(i).Set(item)
	}

	return c.setContainer(v, fd, coll)
}

func (c *EntityConverter) feedMap(v reflect.Value, meta *EntityMetadata, fd *FieldDescriptor, value any, depth int) error {
	base := derefType(fd.Type)
	if base.Kind() != reflect.Map {
		return conversionError(meta, fd, value, fmt.Errorf("unsupported map type %s", base))
	}

	if m, ok := value.(map[string]any); ok {
		value = RecordFromMap(fd.Name, m)
	}

	out := reflect.MakeMap(base)
	putEntry := func(key, val any) error {
		k, err := coerce(key, base.Key())
		if err != nil {
			return conversionError(meta, fd, key, err)
		}

		var item reflect.Value
		if sub, ok := asRecord(fd.Name, val); ok && fd.Embeddable() {
			item, err = c.buildEntity(base.Elem(), sub, depth)
		} else {
			item, err = coerce(val, base.Elem())
		}
		if err != nil {
			return conversionError(meta, fd, val, err)
		}

		out.SetMapIndex(k, item)
		return nil
	}

	switch val := value.(type) {
	case *Record:
		for _, e := range val.elements {
			if err := putEntry(e.Name, e.Value); err != nil {
				return err
			}
		}
	default:
		pairs, ok := asRecordList(fd.Name, value)
		if !ok {
			return c.assign(v, meta, fd, value)
		}

		for _, pair := range pairs {
			key, ok := pair.Find("key")
			if !ok {
				continue
			}

			if err := putEntry(key.Value, pair.Get("value")); err != nil {
				return err
			}
		}
	}

	return c.setContainer(v, fd, out)
}

func (c *EntityConverter) setContainer(v reflect.Value, fd *FieldDescriptor, container reflect.Value) error {
	if fd.Type.Kind() == reflect.Ptr {
		p := reflect.New(container.Type())
		p.Elem().Set(container)
		container = p
	}

	fd.Set(v, container)
	return nil
}

func asRecord(name string, v any) (*Record, bool) {
	switch val := v.(type) {
	case *Record:
		return val, val != nil
	case Record:
		return &val, true
	case map[string]any:
		return RecordFromMap(name, val), true
	}

	return nil, false
}

func asRecordList(name string, v any) ([]*Record, bool) {
	switch val := v.(type) {
	case []*Record:
		return val, true
	case []map[string]any:
		return sliceMap(val, func(m map[string]any) *Record {
			return RecordFromMap(name, m)
		}), true
	case []any:
		recs := make([]*Record, 0, len(val))
		for _, item := range val {
			sub, ok := asRecord(name, item)
			if !ok {
				return nil, false
			}
			recs = append(recs, sub)
		}
		return recs, true
	}

	return nil, false
}

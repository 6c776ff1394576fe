package store

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// MetadataProvider resolves entity metadata by Go type and by stored entity name.
type MetadataProvider interface {
	Lookup(t reflect.Type) (*EntityMetadata, error)
	LookupByName(name string) (*EntityMetadata, error)
}

// RecordTypeResolver is implemented by providers that pick the concrete member
// of a discriminator family from the content of a record.
type RecordTypeResolver interface {
	LookupRecord(rec *Record) (*EntityMetadata, error)
}

// ImplementationResolver is implemented by providers that can find the entity
// behind an interface typed field when the record does not carry the entity name.
type ImplementationResolver interface {
	LookupImplementation(iface reflect.Type, rec *Record) (*EntityMetadata, error)
}

type RegistryOption func(r *MetadataRegistry)

// WithNaming sets the naming function applied to untagged fields, e.g. strcase.ToSnake.
func WithNaming(naming NamingFunc) RegistryOption {
	return func(r *MetadataRegistry) {
		r.naming = naming
	}
}

// WithStrictRegistration disables introspection on first use, so only
// registered types resolve.
func WithStrictRegistration() RegistryOption {
	return func(r *MetadataRegistry) {
		r.strict = true
	}
}

// MetadataRegistry is the process wide metadata cache. Metadata resolved for a
// type is always the same pointer.
type MetadataRegistry struct {
	mu       sync.RWMutex
	byType   map[reflect.Type]*EntityMetadata
	byName   map[string]*EntityMetadata
	families map[string][]*EntityMetadata
	naming   NamingFunc
	strict   bool
}

func NewMetadataRegistry(options ...RegistryOption) *MetadataRegistry {
	r := &MetadataRegistry{
		byType:   make(map[reflect.Type]*EntityMetadata),
		byName:   make(map[string]*EntityMetadata),
		families: make(map[string][]*EntityMetadata),
		naming:   DefaultNaming,
	}

	for _, op := range options {
		op(r)
	}

	return r
}

// Register introspects the given entities, passed as values, pointers or reflect.Type.
func (r *MetadataRegistry) Register(entities ...any) error {
	for _, e := range entities {
		t, ok := e.(reflect.Type)
		if !ok {
			t = reflect.TypeOf(e)
		}

		if t == nil {
			return fmt.Errorf("cannot register nil entity")
		}

		meta, err := Introspect(t, r.naming)
		if err != nil {
			return err
		}

		if err := r.RegisterMetadata(meta); err != nil {
			return err
		}
	}

	return nil
}

// RegisterMetadata adds prebuilt metadata, typically produced by generated code.
func (r *MetadataRegistry) RegisterMetadata(metas ...*EntityMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, meta := range metas {
		if _, err := r.store(meta); err != nil {
			return err
		}
	}

	return nil
}

func (r *MetadataRegistry) store(meta *EntityMetadata) (*EntityMetadata, error) {
	if existing, ok := r.byType[meta.Type]; ok {
		return existing, nil
	}

	if meta.byName == nil {
		if err := meta.init(); err != nil {
			return nil, err
		}
	}

	if meta.Discriminator != nil {
		for _, member := range r.families[meta.Name] {
			if member.Discriminator.Value == meta.Discriminator.Value {
				return nil, fmt.Errorf("entity %s: discriminator %q already used by %s", meta.Name, meta.Discriminator.Value, member.Type)
			}
		}
		r.families[meta.Name] = append(r.families[meta.Name], meta)
		if _, ok := r.byName[meta.Name]; !ok {
			r.byName[meta.Name] = meta
		}
	} else {
		if existing, ok := r.byName[meta.Name]; ok && existing.Discriminator == nil {
			return nil, fmt.Errorf("entity name %s already registered for %s", meta.Name, existing.Type)
		}
		r.byName[meta.Name] = meta
	}

	r.byType[meta.Type] = meta
	return meta, nil
}

func (r *MetadataRegistry) Lookup(t reflect.Type) (*EntityMetadata, error) {
	if t == nil {
		return nil, &UnknownEntityError{}
	}

	t = derefType(t)

	r.mu.RLock()
	meta, ok := r.byType[t]
	r.mu.RUnlock()
	if ok {
		return meta, nil
	}

	if r.strict || t.Kind() != reflect.Struct {
		return nil, &UnknownEntityError{Type: t}
	}

	built, err := Introspect(t, r.naming)
	if err != nil {
		return nil, &UnknownEntityError{Type: t, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store(built)
}

func (r *MetadataRegistry) LookupByName(name string) (*EntityMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.byName[name]
	if !ok {
		return nil, &UnknownEntityError{Name: name}
	}

	return meta, nil
}

// LookupRecord resolves the metadata for rec, using the discriminator
// element to choose between members of a family.
func (r *MetadataRegistry) LookupRecord(rec *Record) (*EntityMetadata, error) {
	r.mu.RLock()
	family := r.families[rec.Name]
	r.mu.RUnlock()

	for _, member := range family {
		v, ok := rec.Find(member.Discriminator.Column)
		if ok && fmt.Sprint(v.Value) == member.Discriminator.Value {
			return member, nil
		}
	}

	return r.LookupByName(rec.Name)
}

// LookupImplementation resolves the registered entity implementing iface
// that matches rec. Documents read back from a store name nested records after
// their element, so candidates are matched on their discriminator; a single
// implementation without one is used as is.
func (r *MetadataRegistry) LookupImplementation(iface reflect.Type, rec *Record) (*EntityMetadata, error) {
	r.mu.RLock()
	var candidates []*EntityMetadata
	for _, meta := range r.byType {
		if meta.Type.Implements(iface) || reflect.PtrTo(meta.Type).Implements(iface) {
			candidates = append(candidates, meta)
		}
	}
	r.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Type.String() < candidates[j].Type.String()
	})

	for _, meta := range candidates {
		d := meta.Discriminator
		if d == nil {
			continue
		}

		if v, ok := rec.Find(d.Column); ok && fmt.Sprint(v.Value) == d.Value {
			return meta, nil
		}
	}

	if len(candidates) == 1 {
		return candidates[0], nil
	}

	return nil, &UnknownEntityError{Name: rec.Name, Type: iface}
}

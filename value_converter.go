package store

import (
	"reflect"
	"sync"
)

// ValueConverter transforms a field value to its stored representation and back.
type ValueConverter interface {
	ToStored(value any) (any, error)
	ToAttribute(stored any) (any, error)
}

// ConverterResolver resolves a converter reference declared on a field.
type ConverterResolver interface {
	Resolve(ref string) (ValueConverter, error)
}

type ConverterFactory func() (ValueConverter, error)

// ConverterRegistry maps converter references to converters. A factory runs
// at most once per reference; the instance is reused afterwards.
type ConverterRegistry struct {
	mu        sync.RWMutex
	factories map[string]ConverterFactory
	cache     map[string]ValueConverter
}

func NewConverterRegistry() *ConverterRegistry {
	return &ConverterRegistry{
		factories: make(map[string]ConverterFactory),
		cache:     make(map[string]ValueConverter),
	}
}

func (r *ConverterRegistry) Register(ref string, factory ConverterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[ref] = factory
	delete(r.cache, ref)
}

func (r *ConverterRegistry) RegisterConverter(ref string, conv ValueConverter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.factories, ref)
	r.cache[ref] = conv
}

func (r *ConverterRegistry) Resolve(ref string) (ValueConverter, error) {
	r.mu.RLock()
	conv, ok := r.cache[ref]
	r.mu.RUnlock()
	if ok {
		return conv, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if conv, ok := r.cache[ref]; ok {
		return conv, nil
	}

	factory, ok := r.factories[ref]
	if !ok {
		return nil, &ConverterResolutionError{Ref: ref}
	}

	conv, err := factory()
	if err != nil {
		return nil, &ConverterResolutionError{Ref: ref, Err: err}
	}

	if conv == nil {
		return nil, &ConverterResolutionError{Ref: ref}
	}

	r.cache[ref] = conv
	return conv, nil
}

type typedConverter[A any, S any] struct {
	toStored    func(A) (S, error)
	toAttribute func(S) (A, error)
}

// NewConverter builds a ValueConverter from typed functions. Attribute values
// may also be passed as *A; stored values are coerced to S when they arrive
// in another representation, e.g. []byte for string columns.
func NewConverter[A any, S any](toStored func(A) (S, error), toAttribute func(S) (A, error)) ValueConverter {
	return typedConverter[A, S]{toStored: toStored, toAttribute: toAttribute}
}

func (c typedConverter[A, S]) ToStored(value any) (any, error) {
	switch v := value.(type) {
	case A:
		return c.toStored(v)
	case *A:
		if v == nil {
			return nil, nil
		}
		return c.toStored(*v)
	}

	return nil, &ConversionError{Value: value, Target: reflect.TypeOf((*A)(nil)).Elem()}
}

func (c typedConverter[A, S]) ToAttribute(stored any) (any, error) {
	if s, ok := stored.(S); ok {
		return c.toAttribute(s)
	}

	rv, err := coerce(stored, reflect.TypeOf((*S)(nil)).Elem())
	if err != nil {
		return nil, err
	}

	return c.toAttribute(rv.Interface().(S))
}

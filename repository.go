package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

type Repository[K comparable, T any] interface {
	Get(ctx context.Context, id K, dest *T, options ...QueryOption) error
	Select(ctx context.Context, filter map[string]any, dest *[]T, options ...QueryOption) error
	Insert(ctx context.Context, value T, options ...QueryOption) (K, error)
	InsertAll(ctx context.Context, values []T, options ...QueryOption) ([]K, error)
	Update(ctx context.Context, id K, keyvals map[string]any, options ...QueryOption) error
	Upsert(ctx context.Context, id K, value T, options ...QueryOption) error
	Delete(ctx context.Context, id []K, options ...QueryOption) error
	Begin(ctx context.Context) (Transaction, error)
}

// repository holds what every store adapter needs to turn T into records.
type repository[T any] struct {
	Name      string
	Schema    string
	meta      *EntityMetadata
	converter *EntityConverter
	logger    *zap.Logger
}

// newRepository resolves the metadata of T. hooks are registered only when the
// repository owns its converter.
func newRepository[T any](opt *option, hooks ...func(c *EntityConverter) CustomFieldHook) (repository[T], error) {
	var entity T
	modelType := reflect.TypeOf(entity)
	if modelType == nil || modelType.Kind() != reflect.Struct {
		return repository[T]{}, fmt.Errorf("repository entity must be a struct, got %T", entity)
	}

	logger := opt.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conv := opt.converter
	if conv == nil {
		var provider MetadataProvider
		if opt.registry != nil {
			provider = opt.registry
		}

		convOpts := []ConverterOption{WithLogger(logger)}
		if opt.converters != nil {
			convOpts = append(convOpts, WithConverters(opt.converters))
		}

		var err error
		conv, err = NewEntityConverter(provider, convOpts...)
		if err != nil {
			return repository[T]{}, err
		}

		for _, hook := range hooks {
			if err := conv.RegisterCustomFieldKind(hook(conv)); err != nil {
				return repository[T]{}, err
			}
		}
	}

	meta, err := conv.Metadata().Lookup(modelType)
	if err != nil {
		return repository[T]{}, err
	}

	name := opt.name
	if name == "" {
		name = meta.Name
	}

	schema := opt.schema
	if schema == "" {
		schema = meta.Schema
	}

	return repository[T]{
		Name:      name,
		Schema:    schema,
		meta:      meta,
		converter: conv,
		logger:    logger.With(zap.String("entity", meta.Name)),
	}, nil
}

func (r repository[T]) Metadata() *EntityMetadata {
	return r.meta
}

func (r repository[T]) Converter() *EntityConverter {
	return r.converter
}

func (r repository[T]) keyField() (string, error) {
	if r.meta.ID == nil {
		return "", fmt.Errorf("entity %s has no id field", r.meta.Name)
	}

	return r.meta.ID.Name, nil
}

func (r repository[T]) encode(value *T) (*Record, error) {
	return r.converter.ToRecord(value)
}

// decode replaces *dest with the entity held by rec.
func (r repository[T]) decode(rec *Record, dest *T) error {
	var zero T
	*dest = zero

	_, err := r.converter.Populate(dest, rec)
	return err
}

// recordKey returns the id element of rec converted to K.
func recordKey[K comparable](rec *Record, keyField string) (K, bool, error) {
	var zeroKey K
	el, ok := rec.Find(keyField)
	if !ok {
		return zeroKey, false, nil
	}

	key, err := convertKey[K](el.Value)
	return key, err == nil, err
}

func convertKey[K comparable](v any) (K, error) {
	var zeroKey K
	if k, ok := v.(K); ok {
		return k, nil
	}

	rv, err := coerce(v, reflect.TypeOf(&zeroKey).Elem())
	if err != nil {
		return zeroKey, fmt.Errorf("cannot use %v as key: %w", v, err)
	}

	return rv.Interface().(K), nil
}

// initValues inserts the values given to InitWith, skipping existing keys.
func initValues[K comparable, T any](ctx context.Context, repo Repository[K, T], values interface{}) error {
	if values == nil {
		return nil
	}

	list, ok := values.([]T)
	if !ok {
		var entity T
		return fmt.Errorf("values to init should be []%T, got %T", entity, values)
	}

	for _, val := range list {
		if _, err := repo.Insert(ctx, val); err != nil {
			if !errors.Is(err, ErrKeyAlreadyExists) {
				return err
			}
		}
	}

	return nil
}

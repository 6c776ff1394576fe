package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyValueStore is a flat byte store, such as BoltDB or Redis.
type KeyValueStore interface {
	// Put stores value under key, replacing any existing value.
	Put(ctx context.Context, key string, value []byte) error
	// Create stores value under key and fails with ErrKeyAlreadyExists when the key is taken.
	Create(ctx context.Context, key string, value []byte) error
	// Get fails with ErrKeynotFound when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the keys starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// KVRepository stores entities as BSON encoded records under "<name>/<id>".
type KVRepository[K comparable, T any] struct {
	repository[T]
	kv         KeyValueStore
	fieldNames map[string]bool
}

func CreateKVRepository[K comparable, T any](kv KeyValueStore, options ...RepositoryOption) (*KVRepository[K, T], error) {
	opt := &option{}
	for _, op := range options {
		op(opt)
	}

	base, err := newRepository[T](opt, UDTHook)
	if err != nil {
		return nil, err
	}

	if base.meta.ID == nil {
		return nil, fmt.Errorf("entity %s has no id field to use as key", base.meta.Name)
	}

	cols, err := ColumnsFromMetadata(base.meta, base.converter.Metadata())
	if err != nil {
		return nil, err
	}

	fieldNames := make(map[string]bool, len(cols))
	for _, col := range cols {
		fieldNames[col.Name] = true
	}

	repo := &KVRepository[K, T]{
		repository: base,
		kv:         kv,
		fieldNames: fieldNames,
	}

	if err := initValues[K, T](context.Background(), repo, opt.initValues); err != nil {
		return nil, err
	}

	return repo, nil
}

func (r *KVRepository[K, T]) prefix() string {
	return r.Name + "/"
}

func (r *KVRepository[K, T]) storeKey(id any) (string, error) {
	name, err := formatKey(reflect.ValueOf(id))
	if err != nil {
		return "", err
	}

	return r.prefix() + name, nil
}

func (r *KVRepository[K, T]) Get(ctx context.Context, id K, dest *T, _ ...QueryOption) error {
	rec, err := r.load(ctx, id)
	if err != nil {
		return err
	}

	return r.decode(rec, dest)
}

func (r *KVRepository[K, T]) load(ctx context.Context, id any) (*Record, error) {
	key, err := r.storeKey(id)
	if err != nil {
		return nil, err
	}

	data, err := r.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	return UnmarshalRecord(r.meta.Name, data)
}

// Select loads every entity and keeps those whose elements equal the filter
// values. A slice filter value matches any of its items.
func (r *KVRepository[K, T]) Select(ctx context.Context, filter map[string]any, dest *[]T, options ...QueryOption) error {
	opt := newQueryOption(options)

	for k := range filter {
		if !r.fieldNames[k] {
			return fmt.Errorf("invalid filter key: %s", k)
		}
	}

	keys, err := r.kv.List(ctx, r.prefix())
	if err != nil {
		return err
	}

	var recs []*Record
	for _, key := range keys {
		data, err := r.kv.Get(ctx, key)
		if err != nil {
			return err
		}

		rec, err := UnmarshalRecord(r.meta.Name, data)
		if err != nil {
			return err
		}

		if matchRecord(rec, filter) {
			recs = append(recs, rec)
		}
	}

	sortRecords(recs, parseSorter(opt.Sorter))
	recs = pageRecords(recs, opt.Limit, opt.Offset)

	result := make([]T, len(recs))
	for i, rec := range recs {
		if err := r.decode(rec, &result[i]); err != nil {
			return err
		}
	}

	*dest = result
	return nil
}

func (r *KVRepository[K, T]) Insert(ctx context.Context, value T, options ...QueryOption) (K, error) {
	opt := newQueryOption(options)

	var zeroKey K
	id, rec, err := r.encodeWithKey(&value)
	if err != nil {
		return zeroKey, err
	}

	data, err := MarshalRecord(rec)
	if err != nil {
		return zeroKey, err
	}

	key, err := r.storeKey(id)
	if err != nil {
		return zeroKey, err
	}

	if err := r.kv.Create(ctx, key, data); err != nil {
		if !(opt.IgnoreDuplicate && isKeyExists(err)) {
			return zeroKey, err
		}
	}

	return id, nil
}

func (r *KVRepository[K, T]) InsertAll(ctx context.Context, values []T, options ...QueryOption) ([]K, error) {
	var keys []K
	for _, val := range values {
		key, err := r.Insert(ctx, val, options...)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	return keys, nil
}

func (r *KVRepository[K, T]) Update(ctx context.Context, id K, keyvals map[string]any, _ ...QueryOption) error {
	rec, err := r.load(ctx, id)
	if err != nil {
		return err
	}

	for _, k := range sortedKeys(keyvals) {
		if !r.fieldNames[k] {
			return fmt.Errorf("invalid update key: %s", k)
		}

		if k == r.meta.ID.Name {
			return fmt.Errorf("cannot update key field %s", k)
		}

		if keyvals[k] == nil {
			rec.Remove(k)
			continue
		}
		rec.Add(k, keyvals[k])
	}

	return r.put(ctx, id, rec)
}

func (r *KVRepository[K, T]) Upsert(ctx context.Context, id K, value T, _ ...QueryOption) error {
	rec, err := r.encode(&value)
	if err != nil {
		return err
	}
	rec.Add(r.meta.ID.Name, id)

	return r.put(ctx, id, rec)
}

func (r *KVRepository[K, T]) put(ctx context.Context, id K, rec *Record) error {
	data, err := MarshalRecord(rec)
	if err != nil {
		return err
	}

	key, err := r.storeKey(id)
	if err != nil {
		return err
	}

	return r.kv.Put(ctx, key, data)
}

func (r *KVRepository[K, T]) Delete(ctx context.Context, id []K, _ ...QueryOption) error {
	keys := make([]string, 0, len(id))
	for _, k := range id {
		key, err := r.storeKey(k)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return nil
	}

	return r.kv.Delete(ctx, keys...)
}

func (r *KVRepository[K, T]) Begin(ctx context.Context) (Transaction, error) {
	return nil, fmt.Errorf("%w: key-value stores do not support shareable transaction", ErrNotSupported)
}

// encodeWithKey returns the key and record of value. An empty string id is
// replaced by a new UUID, which is also written back to value.
func (r *KVRepository[K, T]) encodeWithKey(value *T) (K, *Record, error) {
	var zeroKey K
	idName := r.meta.ID.Name

	rec, err := r.encode(value)
	if err != nil {
		return zeroKey, nil, err
	}

	el, ok := rec.Find(idName)
	if !ok || el.Value == "" {
		if derefType(r.meta.ID.Type).Kind() != reflect.String {
			return zeroKey, nil, fmt.Errorf("entity %s has no id", r.meta.Name)
		}

		id := uuid.NewString()
		idVal, err := coerce(id, r.meta.ID.Type)
		if err != nil {
			return zeroKey, nil, err
		}
		r.meta.ID.Set(reflect.ValueOf(value).Elem(), idVal)
		rec.Add(idName, id)
	}

	key, _, err := recordKey[K](rec, idName)
	return key, rec, err
}

func isKeyExists(err error) bool {
	return errors.Is(err, ErrKeyAlreadyExists)
}

func matchRecord(rec *Record, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := rec.Find(k)

		if fn, isNull := want.(FilterNull); isNull {
			if fn.IsNull() == ok {
				return false
			}
			continue
		}

		if !ok {
			return false
		}

		wv := reflect.ValueOf(want)
		if wv.IsValid() && wv.Kind() == reflect.Slice && wv.Type().Elem().Kind() != reflect.Uint8 {
			matched := false
			for i := 0; i < wv.Len(); i++ {
				if equalValues(got.Value, wv.Index(i).Interface()) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
			continue
		}

		if !equalValues(got.Value, want) {
			return false
		}
	}

	return true
}

// equalValues compares a stored value with a filter value, converting the
// filter value to the stored type first.
func equalValues(stored, want any) bool {
	if stored == nil || want == nil {
		return stored == want
	}

	if t, ok := stored.(time.Time); ok {
		w, err := coerce(want, timeType)
		return err == nil && t.Equal(w.Interface().(time.Time))
	}

	w, err := coerce(want, reflect.TypeOf(stored))
	if err != nil {
		return false
	}

	return reflect.DeepEqual(stored, w.Interface())
}

func sortRecords(recs []*Record, fields []sortField) {
	if len(fields) == 0 {
		return
	}

	sort.SliceStable(recs, func(i, j int) bool {
		for _, f := range fields {
			c := compareValues(recs[i].Get(f.Name), recs[j].Get(f.Name))
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareValues orders nil first, then numbers, times and strings by value.
// Other values compare by their printed form.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}

	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}

	return 0, false
}

func pageRecords(recs []*Record, limit int, offset int64) []*Record {
	if offset > 0 {
		if offset >= int64(len(recs)) {
			return nil
		}
		recs = recs[offset:]
	}

	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}

	return recs
}

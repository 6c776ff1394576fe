package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// firestoreBatchSize is the write limit of one Firestore batch.
const firestoreBatchSize = 500

type RowIterator[T any] interface {
	Next() (*T, error)
	Close() error
}

// FirestoreRepository stores entities as documents of one collection. The id
// field is the document id and is not repeated in the document data.
type FirestoreRepository[T any] struct {
	repository[T]
	db         *firestore.Client
	fieldNames map[string]bool
}

func CreateFirestoreRepository[T any](db *firestore.Client, options ...RepositoryOption) (*FirestoreRepository[T], error) {
	opt := &option{}
	for _, op := range options {
		op(opt)
	}

	base, err := newRepository[T](opt, UDTHook)
	if err != nil {
		return nil, err
	}

	if base.meta.ID == nil {
		return nil, fmt.Errorf("entity %s has no id field to use as document id", base.meta.Name)
	}

	if base.meta.ID.Type.Kind() != reflect.String {
		return nil, fmt.Errorf("document id field %s of %s must be a string", base.meta.ID.GoName, base.meta.Name)
	}

	cols, err := ColumnsFromMetadata(base.meta, base.converter.Metadata())
	if err != nil {
		return nil, err
	}

	fieldNames := make(map[string]bool, len(cols))
	for _, col := range cols {
		fieldNames[col.Name] = true
	}

	repo := &FirestoreRepository[T]{
		repository: base,
		db:         db,
		fieldNames: fieldNames,
	}

	if err := initValues[string, T](context.Background(), repo, opt.initValues); err != nil {
		return nil, err
	}

	return repo, nil
}

func (r *FirestoreRepository[T]) collection() *firestore.CollectionRef {
	return r.db.Collection(r.Name)
}

func (r *FirestoreRepository[T]) Get(ctx context.Context, id string, dest *T, _ ...QueryOption) error {
	snap, err := r.collection().Doc(id).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return wrapFirestoreError(err)
	}

	if snap == nil || !snap.Exists() {
		return fmt.Errorf("%w. %s %s", ErrKeynotFound, r.meta.Name, id)
	}

	return r.decode(r.snapshotRecord(snap), dest)
}

func (r *FirestoreRepository[T]) Select(ctx context.Context, filter map[string]any, dest *[]T, options ...QueryOption) error {
	iter, err := r.Iterator(ctx, filter, options...)
	if err != nil {
		return err
	}
	defer iter.Close()

	var result []T
	for {
		val, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return err
		}
		result = append(result, *val)
	}

	*dest = result
	return nil
}

// Iterator streams the documents matching filter.
func (r *FirestoreRepository[T]) Iterator(ctx context.Context, filter map[string]any, options ...QueryOption) (RowIterator[T], error) {
	qry, err := r.createQuery(filter, newQueryOption(options))
	if err != nil {
		return nil, err
	}

	return &firestoreIterator[T]{repo: r, iter: qry.Documents(ctx)}, nil
}

func (r *FirestoreRepository[T]) Insert(ctx context.Context, value T, options ...QueryOption) (string, error) {
	opt := newQueryOption(options)

	key, data, err := r.document(&value)
	if err != nil {
		return "", err
	}

	if _, err := r.collection().Doc(key).Create(ctx, data); err != nil {
		if opt.IgnoreDuplicate && status.Code(err) == codes.AlreadyExists {
			return key, nil
		}
		return "", wrapFirestoreError(err)
	}

	return key, nil
}

func (r *FirestoreRepository[T]) InsertAll(ctx context.Context, values []T, options ...QueryOption) ([]string, error) {
	opt := newQueryOption(options)
	if opt.IgnoreDuplicate {
		var keys []string
		for _, val := range values {
			key, err := r.Insert(ctx, val, options...)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
		return keys, nil
	}

	var keys []string
	for _, chunk := range SplitBatch(values, firestoreBatchSize) {
		batch := r.db.Batch()
		for i := range chunk {
			key, data, err := r.document(&chunk[i])
			if err != nil {
				return nil, err
			}

			batch.Create(r.collection().Doc(key), data)
			keys = append(keys, key)
		}

		if _, err := batch.Commit(ctx); err != nil {
			return nil, wrapFirestoreError(err)
		}
	}

	return keys, nil
}

func (r *FirestoreRepository[T]) Update(ctx context.Context, id string, keyvals map[string]any, _ ...QueryOption) error {
	var updates []firestore.Update
	for _, k := range sortedKeys(keyvals) {
		if !r.fieldNames[k] {
			return fmt.Errorf("invalid update key: %s", k)
		}
		updates = append(updates, firestore.Update{Path: k, Value: valueToMap(keyvals[k])})
	}

	if len(updates) == 0 {
		return fmt.Errorf("nothing to update")
	}

	if _, err := r.collection().Doc(id).Update(ctx, updates); err != nil {
		return wrapFirestoreError(err)
	}

	return nil
}

func (r *FirestoreRepository[T]) Upsert(ctx context.Context, id string, value T, _ ...QueryOption) error {
	_, data, err := r.document(&value)
	if err != nil {
		return err
	}

	if _, err := r.collection().Doc(id).Set(ctx, data); err != nil {
		return wrapFirestoreError(err)
	}

	return nil
}

func (r *FirestoreRepository[T]) Delete(ctx context.Context, id []string, _ ...QueryOption) error {
	for _, chunk := range SplitBatch(id, firestoreBatchSize) {
		batch := r.db.Batch()
		for _, key := range chunk {
			batch.Delete(r.collection().Doc(key))
		}

		if _, err := batch.Commit(ctx); err != nil {
			return wrapFirestoreError(err)
		}
	}

	return nil
}

func (r *FirestoreRepository[T]) Begin(ctx context.Context) (Transaction, error) {
	return nil, fmt.Errorf("%w: firestore does not support shareable transaction", ErrNotSupported)
}

// document returns the document id and data of value. An empty id is
// replaced by a new UUID, which is also written back to value.
func (r *FirestoreRepository[T]) document(value *T) (string, map[string]any, error) {
	idName := r.meta.ID.Name
	rec, err := r.encode(value)
	if err != nil {
		return "", nil, err
	}

	key, _ := rec.Get(idName).(string)
	if key == "" {
		key = uuid.NewString()
		r.meta.ID.Set(reflect.ValueOf(value).Elem(), reflect.ValueOf(key).Convert(r.meta.ID.Type))
	}

	rec.Remove(idName)
	return key, rec.ToMap(), nil
}

func (r *FirestoreRepository[T]) snapshotRecord(snap *firestore.DocumentSnapshot) *Record {
	rec := RecordFromMap(r.meta.Name, snap.Data())
	rec.Add(r.meta.ID.Name, snap.Ref.ID)
	return rec
}

func (r *FirestoreRepository[T]) createQuery(filter map[string]any, opt *queryOption) (firestore.Query, error) {
	qry := r.collection().Query

	filters, err := filterMapToFirestoreFilter(filter, r.fieldNames)
	if err != nil {
		return qry, err
	}

	for _, f := range filters {
		qry = qry.WhereEntity(f)
	}

	for _, f := range parseSorter(opt.Sorter) {
		if !r.fieldNames[f.Name] {
			return qry, fmt.Errorf("invalid sort key: %s", f.Name)
		}

		dir := firestore.Asc
		if f.Desc {
			dir = firestore.Desc
		}
		qry = qry.OrderBy(f.Name, dir)
	}

	if opt.Offset > 0 {
		qry = qry.Offset(int(opt.Offset))
	}

	if opt.Limit > 0 {
		qry = qry.Limit(opt.Limit)
	}

	return qry, nil
}

func wrapFirestoreError(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w. %s", ErrKeynotFound, err.Error())
	case codes.AlreadyExists:
		return fmt.Errorf("%w. %s", ErrKeyAlreadyExists, err.Error())
	}

	return err
}

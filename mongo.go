package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongoOptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"
)

const (
	mongoRefElement = "$ref"
	mongoIDElement  = "$id"
)

// MongoRepository stores entities as documents of one collection. Documents
// are the BSON form of the entity record.
type MongoRepository[K comparable, T any] struct {
	repository[T]
	db         *mongo.Database
	collection *mongo.Collection
}

func CreateMongoRepository[K comparable, T any](db *mongo.Database, options ...RepositoryOption) (*MongoRepository[K, T], error) {
	opt := &option{}
	for _, op := range options {
		op(opt)
	}

	base, err := newRepository[T](opt, MongoReferenceHook)
	if err != nil {
		return nil, err
	}

	repo := &MongoRepository[K, T]{
		repository: base,
		db:         db,
		collection: db.Collection(base.Name),
	}

	if err := initValues[K, T](context.Background(), repo, opt.initValues); err != nil {
		return nil, err
	}

	return repo, nil
}

func (m *MongoRepository[K, T]) Get(ctx context.Context, id K, dest *T, options ...QueryOption) error {
	opt := newQueryOption(options)
	ctx = m.setTransactionContext(ctx, opt)

	keyField, err := m.keyField()
	if err != nil {
		return err
	}

	var doc bson.D
	if err := m.collection.FindOne(ctx, bson.D{{Key: keyField, Value: id}}).Decode(&doc); err != nil {
		return wrapMongoError(err)
	}

	return m.decode(BSONToRecord(m.meta.Name, doc), dest)
}

func (m *MongoRepository[K, T]) Select(ctx context.Context, filterMap map[string]any, dest *[]T, options ...QueryOption) error {
	opt := newQueryOption(options)
	ctx = m.setTransactionContext(ctx, opt)

	findOpts := mongoOptions.Find()
	if sorter := m.createSort(opt.Sorter); len(sorter) > 0 {
		findOpts.SetSort(sorter)
	}
	if opt.Limit > 0 {
		findOpts.SetLimit(int64(opt.Limit))
	}
	if opt.Offset > 0 {
		findOpts.SetSkip(opt.Offset)
	}

	cur, err := m.collection.Find(ctx, m.parseFilterMapIntoFilter(filterMap), findOpts)
	if err != nil {
		return wrapMongoError(err)
	}
	defer cur.Close(ctx)

	var result []T
	for cur.Next(ctx) {
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return wrapMongoError(err)
		}

		var val T
		if err := m.decode(BSONToRecord(m.meta.Name, doc), &val); err != nil {
			return err
		}
		result = append(result, val)
	}

	if err := cur.Err(); err != nil {
		return wrapMongoError(err)
	}

	*dest = result
	return nil
}

func (m *MongoRepository[K, T]) Insert(ctx context.Context, value T, options ...QueryOption) (K, error) {
	opt := newQueryOption(options)
	ctx = m.setTransactionContext(ctx, opt)

	var zeroKey K
	rec, err := m.encode(&value)
	if err != nil {
		return zeroKey, err
	}

	res, err := m.collection.InsertOne(ctx, RecordToBSON(rec))
	if err != nil {
		if opt.IgnoreDuplicate && mongo.IsDuplicateKeyError(err) {
			return zeroKey, nil
		}
		return zeroKey, wrapMongoError(err)
	}

	return convertKey[K](res.InsertedID)
}

func (m *MongoRepository[K, T]) InsertAll(ctx context.Context, values []T, options ...QueryOption) ([]K, error) {
	opt := newQueryOption(options)
	ctx = m.setTransactionContext(ctx, opt)

	if len(values) == 0 {
		return nil, nil
	}

	docs := make([]interface{}, 0, len(values))
	for i := range values {
		rec, err := m.encode(&values[i])
		if err != nil {
			return nil, err
		}
		docs = append(docs, RecordToBSON(rec))
	}

	res, err := m.collection.InsertMany(ctx, docs, mongoOptions.InsertMany().SetOrdered(!opt.IgnoreDuplicate))
	if err != nil && !(opt.IgnoreDuplicate && mongo.IsDuplicateKeyError(err)) {
		return nil, wrapMongoError(err)
	}

	if res == nil {
		return nil, nil
	}

	return sliceMapErr(res.InsertedIDs, func(val interface{}) (K, error) {
		return convertKey[K](val)
	})
}

// Replace overwrites the document stored under id with value.
func (m *MongoRepository[K, T]) Replace(ctx context.Context, id K, value T, options ...QueryOption) error {
	opt := newQueryOption(options)
	ctx = m.setTransactionContext(ctx, opt)

	keyField, err := m.keyField()
	if err != nil {
		return err
	}

	rec, err := m.encode(&value)
	if err != nil {
		return err
	}

	up, err := m.collection.ReplaceOne(ctx, bson.D{{Key: keyField, Value: id}}, RecordToBSON(rec))
	if err != nil {
		return wrapMongoError(err)
	}

	if up.MatchedCount == 0 {
		return ErrKeynotFound
	}

	return nil
}

func (m *MongoRepository[K, T]) Update(ctx context.Context, id K, keyvals map[string]any, options ...QueryOption) error {
	opt := newQueryOption(options)
	ctx = m.setTransactionContext(ctx, opt)

	keyField, err := m.keyField()
	if err != nil {
		return err
	}

	up, err := m.collection.UpdateOne(ctx, bson.D{{Key: keyField, Value: id}}, m.createUpdateParam(keyvals))
	if err != nil {
		return wrapMongoError(err)
	}

	if up.MatchedCount == 0 {
		return ErrKeynotFound
	}

	return nil
}

func (m *MongoRepository[K, T]) Upsert(ctx context.Context, id K, value T, options ...QueryOption) error {
	opt := newQueryOption(options)
	ctx = m.setTransactionContext(ctx, opt)

	keyField, err := m.keyField()
	if err != nil {
		return err
	}

	rec, err := m.encode(&value)
	if err != nil {
		return err
	}
	rec.Add(keyField, id)

	_, err = m.collection.ReplaceOne(ctx, bson.D{{Key: keyField, Value: id}}, RecordToBSON(rec), mongoOptions.Replace().SetUpsert(true))
	if err != nil {
		return wrapMongoError(err)
	}

	return nil
}

func (m *MongoRepository[K, T]) Delete(ctx context.Context, id []K, options ...QueryOption) error {
	opt := newQueryOption(options)
	ctx = m.setTransactionContext(ctx, opt)

	keyField, err := m.keyField()
	if err != nil {
		return err
	}

	res, err := m.collection.DeleteMany(ctx, bson.D{{Key: keyField, Value: bson.M{"$in": id}}})
	if err != nil {
		return wrapMongoError(err)
	}

	m.logger.Debug("documents deleted", zap.Int64("count", res.DeletedCount))
	return nil
}

func (m *MongoRepository[K, T]) Begin(ctx context.Context) (Transaction, error) {
	session, err := m.db.Client().StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create mongodb session. %s", err.Error())
	}

	sctx := mongo.NewSessionContext(ctx, session)

	wc := writeconcern.New(writeconcern.WMajority())
	rc := readconcern.Snapshot()
	txnOpts := mongoOptions.Transaction().SetWriteConcern(wc).SetReadConcern(rc)

	if err := session.StartTransaction(txnOpts); err != nil {
		session.EndSession(ctx)
		return nil, err
	}

	return &mongoTransaction{
		session: session,
		sctx:    sctx,
	}, nil
}

func (m *MongoRepository[K, T]) createUpdateParam(keyvals map[string]interface{}) bson.D {
	return bson.D{{Key: "$set", Value: sortedDoc(keyvals)}}
}

func (m *MongoRepository[K, T]) createSort(sorter []string) bson.D {
	var doc bson.D
	for _, f := range parseSorter(sorter) {
		dir := 1
		if f.Desc {
			dir = -1
		}
		doc = append(doc, bson.E{Key: f.Name, Value: dir})
	}

	return doc
}

func (m *MongoRepository[K, T]) parseFilterMapIntoFilter(filterMap map[string]any) bson.D {
	var filter = bson.D{}

	for _, e := range sortedDoc(filterMap) {
		vval := reflect.ValueOf(e.Value)
		if !vval.IsValid() || vval.Kind() != reflect.Slice || vval.Type().Elem().Kind() == reflect.Uint8 {
			filter = append(filter, e)
			continue
		}

		if vval.Len() > 0 {
			if f, err := m.parameterizedFilterCriteriaSlice(e.Key, e.Value); err == nil {
				filter = append(filter, f)
			}
		}
	}

	return filter
}

func (m *MongoRepository[K, T]) parameterizedFilterCriteriaSlice(fieldname string, values any) (bson.E, error) {
	s := reflect.ValueOf(values)
	if s.Kind() != reflect.Slice {
		return bson.E{}, fmt.Errorf("expecting slice as values, got %s", s.Kind().String())
	}

	if s.Len() == 0 {
		return bson.E{}, fmt.Errorf("cannot use empty slice to parameterized")
	}

	if s.Len() > 1 {
		return bson.E{Key: fieldname, Value: bson.M{"$in": values}}, nil
	}

	return bson.E{Key: fieldname, Value: s.Index(0).Interface()}, nil
}

func (m *MongoRepository[K, T]) setTransactionContext(ctx context.Context, opt *queryOption) context.Context {
	if opt.Tx != nil {
		tx, ok := opt.Tx.(*mongoTransaction)
		if ok {
			return tx.sctx
		}
	}

	return ctx
}

// sortedDoc turns keyvals into a document with keys in lexical order. Values
// go through the record codec so records and UDTs are accepted.
func sortedDoc(keyvals map[string]any) bson.D {
	keys := make([]string, 0, len(keyvals))
	for k := range keyvals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := make(bson.D, 0, len(keys))
	for _, k := range keys {
		doc = append(doc, bson.E{Key: k, Value: toBSONValue(keyvals[k])})
	}

	return doc
}

// MongoReferenceHook stores entity references as {"$ref": <entity>, "$id": <id>}
// documents. Loading a reference yields an entity with only its id set.
func MongoReferenceHook(c *EntityConverter) CustomFieldHook {
	return CustomFieldHook{
		Name: "mongo-ref",
		Match: func(fd *FieldDescriptor) bool {
			return fd.Kind == KindEntityReference
		},
		Store: func(fd *FieldDescriptor, value any, _ int) (any, error) {
			v := indirectValue(reflect.ValueOf(value))
			if !v.IsValid() {
				return nil, nil
			}

			meta, err := c.Metadata().Lookup(v.Type())
			if err != nil {
				return nil, err
			}

			id, ok := meta.IDValue(addressable(v))
			if !ok {
				return nil, fmt.Errorf("referenced entity %s has no id", meta.Name)
			}

			ref := NewRecord(fd.Name,
				Element{Name: mongoRefElement, Value: meta.Name},
				Element{Name: mongoIDElement, Value: id},
			)
			if d := meta.Discriminator; d != nil {
				ref.Add(d.Column, d.Value)
			}
			return ref, nil
		},
		Feed: func(instance reflect.Value, stored any, fd *FieldDescriptor, depth int) error {
			ref, ok := asRecord(fd.Name, stored)
			if !ok {
				return fmt.Errorf("expecting a reference document, got %T", stored)
			}

			name, _ := ref.Get(mongoRefElement).(string)
			sub := NewRecord(name)
			for _, e := range ref.Elements() {
				if e.Name != mongoRefElement && e.Name != mongoIDElement {
					sub.Add(e.Name, e.Value)
				}
			}

			var meta *EntityMetadata
			var err error
			if name != "" {
				meta, err = c.lookupRecord(sub)
			} else {
				meta, err = c.Metadata().Lookup(fd.ElemType)
			}
			if err != nil {
				return err
			}

			if meta.ID == nil {
				return fmt.Errorf("referenced entity %s has no id field", meta.Name)
			}

			sub.Name = meta.Name
			sub.Add(meta.ID.Name, ref.Get(mongoIDElement))
			val, err := c.buildEntity(fd.Type, sub, depth)
			if err != nil {
				return err
			}

			fd.Set(instance, val)
			return nil
		},
	}
}

func wrapMongoError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w. %s", ErrKeyAlreadyExists, err.Error())
	}

	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w. %s", ErrKeynotFound, err.Error())
	}

	return err
}

type mongoTransaction struct {
	session mongo.Session
	sctx    mongo.SessionContext
}

func (tx *mongoTransaction) Rollback(ctx context.Context) error {
	defer tx.session.EndSession(ctx)
	return tx.session.AbortTransaction(tx.sctx)
}

func (tx *mongoTransaction) Commit(ctx context.Context) error {
	defer tx.session.EndSession(ctx)
	return tx.session.CommitTransaction(tx.sctx)
}

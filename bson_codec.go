package store

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RecordToBSON converts rec into an ordered BSON document.
func RecordToBSON(rec *Record) bson.D {
	if rec == nil {
		return nil
	}

	doc := make(bson.D, 0, len(rec.elements))
	for _, e := range rec.elements {
		doc = append(doc, bson.E{Key: e.Name, Value: toBSONValue(e.Value)})
	}

	return doc
}

func toBSONValue(v any) any {
	switch val := v.(type) {
	case *Record:
		return RecordToBSON(val)
	case []*Record:
		arr := make(bson.A, 0, len(val))
		for _, r := range val {
			arr = append(arr, RecordToBSON(r))
		}
		return arr
	case UDT:
		doc := bson.D{{Key: udtNameElement, Value: val.Name}}
		return append(doc, RecordToBSON(val.Fields)...)
	case []UDT:
		arr := make(bson.A, 0, len(val))
		for _, u := range val {
			arr = append(arr, toBSONValue(u))
		}
		return arr
	}

	return v
}

// BSONToRecord converts a decoded BSON document into a record called name.
func BSONToRecord(name string, doc bson.D) *Record {
	rec := NewRecord(name)
	for _, e := range doc {
		rec.Add(e.Key, fromBSONValue(e.Key, e.Value))
	}

	return rec
}

func fromBSONValue(name string, v any) any {
	switch val := v.(type) {
	case bson.D:
		return BSONToRecord(name, val)
	case bson.M:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		doc := make(bson.D, 0, len(val))
		for _, k := range keys {
			doc = append(doc, bson.E{Key: k, Value: val[k]})
		}
		return BSONToRecord(name, doc)
	case bson.A:
		return fromBSONArray(name, val)
	case []any:
		return fromBSONArray(name, bson.A(val))
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return val.T
	case primitive.Binary:
		return val.Data
	case primitive.Decimal128:
		return val.String()
	case primitive.Null, primitive.Undefined:
		return nil
	}

	return v
}

func fromBSONArray(name string, arr bson.A) any {
	if len(arr) > 0 {
		recs := make([]*Record, 0, len(arr))
		for _, item := range arr {
			sub, ok := fromBSONValue(name, item).(*Record)
			if !ok {
				recs = nil
				break
			}
			recs = append(recs, sub)
		}

		if recs != nil {
			return recs
		}
	}

	out := make([]any, 0, len(arr))
	for _, item := range arr {
		out = append(out, fromBSONValue(name, item))
	}

	return out
}

// MarshalRecord encodes rec as a BSON document.
func MarshalRecord(rec *Record) ([]byte, error) {
	return bson.Marshal(RecordToBSON(rec))
}

// UnmarshalRecord decodes a BSON document produced by MarshalRecord.
func UnmarshalRecord(name string, data []byte) (*Record, error) {
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s record. %s", name, err.Error())
	}

	return BSONToRecord(name, doc), nil
}

const extJSONValueKey = "v"

// marshalExtJSON encodes a single value as relaxed extended JSON.
func marshalExtJSON(v any) (string, error) {
	data, err := bson.MarshalExtJSON(bson.D{{Key: extJSONValueKey, Value: toBSONValue(v)}}, false, false)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func unmarshalExtJSON(name string, data []byte) (any, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, err
	}

	for _, e := range doc {
		if e.Key == extJSONValueKey {
			return fromBSONValue(name, e.Value), nil
		}
	}

	return nil, nil
}

package store

import (
	"fmt"
	"reflect"
	"sort"

	"cloud.google.com/go/firestore"
)

func filterMapToFirestoreFilter(filterMap map[string]any, fieldNames map[string]bool) ([]firestore.EntityFilter, error) {
	var filters []firestore.EntityFilter
	for _, k := range sortedKeys(filterMap) {
		if fieldNames != nil && !fieldNames[k] {
			return nil, fmt.Errorf("invalid filter key: %s", k)
		}

		v := filterMap[k]
		if fn, ok := v.(FilterNull); ok {
			op := "=="
			if !fn.IsNull() {
				op = "!="
			}
			filters = append(filters, firestore.PropertyFilter{Path: k, Operator: op, Value: nil})
			continue
		}

		vval := reflect.ValueOf(v)
		if vval.IsValid() && vval.Kind() == reflect.Slice && vval.Type().Elem().Kind() != reflect.Uint8 {
			if vval.Len() == 0 {
				continue
			}

			if vval.Len() > 1 {
				filters = append(filters, firestore.PropertyFilter{Path: k, Operator: "in", Value: v})
				continue
			}
			v = vval.Index(0).Interface()
		}

		filters = append(filters, firestore.PropertyFilter{Path: k, Operator: "==", Value: v})
	}

	return filters, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

type firestoreIterator[T any] struct {
	repo *FirestoreRepository[T]
	iter *firestore.DocumentIterator
}

// Next returns the next entity, or iterator.Done when there is none left.
func (fi *firestoreIterator[T]) Next() (*T, error) {
	doc, err := fi.iter.Next()
	if err != nil {
		return nil, err
	}

	var data T
	if err = fi.repo.decode(fi.repo.snapshotRecord(doc), &data); err != nil {
		return nil, err
	}

	return &data, nil
}

func (fi *firestoreIterator[T]) Close() error {
	fi.iter.Stop()
	return nil
}

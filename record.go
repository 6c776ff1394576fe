// Package store maps Go entities to store-agnostic records and persists those
// records in document, column and key-value stores.
package store

import (
	"fmt"
	"reflect"
	"sort"
)

// Element is one named value of a Record. Value is a scalar, a *Record,
// a []*Record or a raw collection of scalars.
type Element struct {
	Name  string
	Value any
}

// Record is the store-agnostic form of one entity instance. Element names are
// unique and insertion order is kept.
type Record struct {
	Name     string
	elements []Element
	index    map[string]int
}

func NewRecord(name string, elements ...Element) *Record {
	r := &Record{Name: name}
	for _, e := range elements {
		r.Add(e.Name, e.Value)
	}

	return r
}

// Add sets the element called name. Nil values are ignored, and an existing
// element keeps its position but takes the new value.
func (r *Record) Add(name string, value any) {
	if isNilValue(value) {
		return
	}

	if r.index == nil {
		r.index = make(map[string]int)
	}

	if i, ok := r.index[name]; ok {
		r.elements[i].Value = value
		return
	}

	r.index[name] = len(r.elements)
	r.elements = append(r.elements, Element{Name: name, Value: value})
}

func (r *Record) Find(name string) (Element, bool) {
	if r == nil || r.index == nil {
		return Element{}, false
	}

	i, ok := r.index[name]
	if !ok {
		return Element{}, false
	}

	return r.elements[i], true
}

func (r *Record) Get(name string) any {
	e, _ := r.Find(name)
	return e.Value
}

func (r *Record) Has(name string) bool {
	_, ok := r.Find(name)
	return ok
}

func (r *Record) Remove(name string) bool {
	if r == nil || r.index == nil {
		return false
	}

	i, ok := r.index[name]
	if !ok {
		return false
	}

	r.elements = append(r.elements[:i], r.elements[i+1:]...)
	delete(r.index, name)
	for j := i; j < len(r.elements); j++ {
		r.index[r.elements[j].Name] = j
	}

	return true
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}

	return len(r.elements)
}

func (r *Record) Names() []string {
	if r == nil {
		return nil
	}

	return sliceMap(r.elements, func(e Element) string {
		return e.Name
	})
}

// Elements returns a copy of the elements in insertion order.
func (r *Record) Elements() []Element {
	if r == nil {
		return nil
	}

	out := make([]Element, len(r.elements))
	copy(out, r.elements)
	return out
}

// Clone returns a deep copy; nested records and record lists are copied too.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	c := &Record{Name: r.Name}
	for _, e := range r.elements {
		c.Add(e.Name, cloneValue(e.Value))
	}

	return c
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case *Record:
		return val.Clone()
	case []*Record:
		return sliceMap(val, func(r *Record) *Record {
			return r.Clone()
		})
	case []byte:
		return append([]byte(nil), val...)
	}

	return v
}

// ToMap converts the record into nested maps, the shape most document stores accept.
func (r *Record) ToMap() map[string]any {
	if r == nil {
		return nil
	}

	m := make(map[string]any, len(r.elements))
	for _, e := range r.elements {
		m[e.Name] = valueToMap(e.Value)
	}

	return m
}

func valueToMap(v any) any {
	switch val := v.(type) {
	case *Record:
		return val.ToMap()
	case []*Record:
		return sliceMap(val, func(r *Record) any {
			return r.ToMap()
		})
	case UDT:
		m := val.Fields.ToMap()
		if m == nil {
			m = make(map[string]any, 1)
		}
		m[udtNameElement] = val.Name
		return m
	case []UDT:
		return sliceMap(val, func(u UDT) any {
			return valueToMap(u)
		})
	}

	return v
}

// RecordFromMap builds a record from nested maps. Keys are added in sorted
// order, nested maps become records and lists made only of maps become record lists.
func RecordFromMap(name string, m map[string]any) *Record {
	r := NewRecord(name)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		r.Add(k, valueFromMap(k, m[k]))
	}

	return r
}

func valueFromMap(name string, v any) any {
	switch val := v.(type) {
	case map[string]any:
		return RecordFromMap(name, val)
	case []any:
		if len(val) == 0 {
			return val
		}

		recs := make([]*Record, 0, len(val))
		for _, item := range val {
			m, ok := item.(map[string]any)
			if !ok {
				return val
			}
			recs = append(recs, RecordFromMap(name, m))
		}

		return recs
	}

	return v
}

func (r *Record) String() string {
	if r == nil {
		return "<nil>"
	}

	return fmt.Sprintf("%s%v", r.Name, r.elements)
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}

	return false
}

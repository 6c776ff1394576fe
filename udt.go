package store

import (
	"fmt"
	"reflect"
)

// UDT is a named composite value, the stored form of fields tagged with
// `udt=<name>`. Column stores persist it as one structured column.
type UDT struct {
	Name   string
	Fields *Record
}

const udtNameElement = "_udt"

// UDTHook stores fields tagged `udt=<name>`, or collections of them, as UDT values.
func UDTHook(c *EntityConverter) CustomFieldHook {
	return CustomFieldHook{
		Name: "udt",
		Match: func(fd *FieldDescriptor) bool {
			return fd.UDT != ""
		},
		Store: func(fd *FieldDescriptor, value any, depth int) (any, error) {
			v := indirectValue(reflect.ValueOf(value))
			if !v.IsValid() {
				return nil, nil
			}

			if fd.Kind != KindCollection {
				rec, err := c.storeEntity(v, depth)
				if err != nil {
					return nil, err
				}
				return UDT{Name: fd.UDT, Fields: rec}, nil
			}

			out := make([]UDT, 0, v.Len())
			for i := 0; i < v.Len(); i++ {
				item := indirectValue(v.Index(i))
				if !item.IsValid() {
					continue
				}

				rec, err := c.storeEntity(item, depth)
				if err != nil {
					return nil, err
				}
				out = append(out, UDT{Name: fd.UDT, Fields: rec})
			}
			return out, nil
		},
		Feed: func(instance reflect.Value, stored any, fd *FieldDescriptor, depth int) error {
			if fd.Kind != KindCollection {
				rec, err := udtFields(fd, stored)
				if err != nil {
					return err
				}

				val, err := c.buildEntity(fd.Type, rec, depth)
				if err != nil {
					return err
				}

				fd.Set(instance, val)
				return nil
			}

			items, err := udtList(fd, stored)
			if err != nil {
				return err
			}

			base := derefType(fd.Type)
			if base.Kind() != reflect.Slice {
				return fmt.Errorf("udt collection %s must be a slice, got %s", fd.Name, base)
			}

			coll := reflect.MakeSlice(base, len(items), len(items))
			for i, rec := range items {
				val, err := c.buildEntity(base.Elem(), rec, depth)
				if err != nil {
					return err
				}
				coll.Index(i).Set(val)
			}

			return c.setContainer(instance, fd, coll)
		},
	}
}

func udtFields(fd *FieldDescriptor, stored any) (*Record, error) {
	switch v := stored.(type) {
	case UDT:
		if v.Name != fd.UDT {
			return nil, fmt.Errorf("expecting udt %s, got %s", fd.UDT, v.Name)
		}
		return v.Fields, nil
	case *UDT:
		return udtFields(fd, *v)
	}

	rec, ok := asRecord(fd.Name, stored)
	if !ok {
		return nil, fmt.Errorf("expecting udt %s, got %T", fd.UDT, stored)
	}

	if name, ok := rec.Find(udtNameElement); ok {
		if fmt.Sprint(name.Value) != fd.UDT {
			return nil, fmt.Errorf("expecting udt %s, got %v", fd.UDT, name.Value)
		}
		rec = rec.Clone()
		rec.Remove(udtNameElement)
	}

	return rec, nil
}

func udtList(fd *FieldDescriptor, stored any) ([]*Record, error) {
	if list, ok := stored.([]UDT); ok {
		out := make([]*Record, 0, len(list))
		for _, u := range list {
			rec, err := udtFields(fd, u)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	}

	recs, ok := asRecordList(fd.Name, stored)
	if !ok {
		return nil, fmt.Errorf("expecting a list of udt %s, got %T", fd.UDT, stored)
	}

	return sliceMapErr(recs, func(rec *Record) (*Record, error) {
		return udtFields(fd, rec)
	})
}

func sliceMapErr[In any, Out any](list []In, mapFn func(val In) (Out, error)) ([]Out, error) {
	var newSlice = make([]Out, len(list))
	for i, val := range list {
		out, err := mapFn(val)
		if err != nil {
			return nil, err
		}
		newSlice[i] = out
	}

	return newSlice, nil
}

package store

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// coerce converts a stored value into a value assignable to target.
func coerce(value any, target reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(target), nil
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(target) {
		return rv, nil
	}

	// documents read back from a store arrive as records
	if rec, ok := value.(*Record); ok && derefType(target).Kind() == reflect.Map {
		return coerce(rec.ToMap(), target)
	}

	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return reflect.Zero(target), nil
		}
		return coerce(rv.Elem().Interface(), target)
	}

	if target.Kind() == reflect.Ptr {
		inner, err := coerce(value, target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}

		p := reflect.New(target.Elem())
		p.Elem().Set(inner)
		return p, nil
	}

	if target.Kind() == reflect.Interface {
		if rv.Type().Implements(target) {
			out := reflect.New(target).Elem()
			out.Set(rv)
			return out, nil
		}
		return reflect.Value{}, coerceError(value, target, nil)
	}

	if target == timeType {
		return coerceTime(rv)
	}

	pt := reflect.PtrTo(target)
	var scanErr error
	if pt.Implements(scannerType) {
		dv, err := driver.DefaultParameterConverter.ConvertValue(value)
		if err == nil {
			p := reflect.New(target)
			if err = p.Interface().(sql.Scanner).Scan(dv); err == nil {
				return p.Elem(), nil
			}
		}
		scanErr = coerceError(value, target, err)
	}

	if pt.Implements(textUnmarshalerType) {
		var text []byte
		switch v := value.(type) {
		case string:
			text = []byte(v)
		case []byte:
			text = v
		}

		if text != nil {
			p := reflect.New(target)
			if err := p.Interface().(encoding.TextUnmarshaler).UnmarshalText(text); err != nil {
				return reflect.Value{}, coerceError(value, target, err)
			}
			return p.Elem(), nil
		}
	}

	if scanErr != nil {
		return reflect.Value{}, scanErr
	}

	switch target.Kind() {
	case reflect.Bool:
		return coerceBool(rv, target)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return coerceInt(rv, target)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return coerceUint(rv, target)
	case reflect.Float32, reflect.Float64:
		return coerceFloat(rv, target)
	case reflect.String:
		return coerceString(rv, target)
	case reflect.Slice:
		return coerceSlice(rv, target)
	case reflect.Array:
		return coerceArray(rv, target)
	case reflect.Map:
		return coerceMap(rv, target)
	case reflect.Struct:
		if rv.Type().ConvertibleTo(target) {
			return rv.Convert(target), nil
		}
	}

	return reflect.Value{}, coerceError(value, target, nil)
}

func coerceError(value any, target reflect.Type, err error) error {
	return &ConversionError{Value: value, Target: target, Err: err}
}

func coerceBool(rv reflect.Value, target reflect.Type) (reflect.Value, error) {
	out := reflect.New(target).Elem()
	switch rv.Kind() {
	case reflect.Bool:
		out.SetBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out.SetBool(rv.Int() != 0)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		out.SetBool(rv.Uint() != 0)
	case reflect.String:
		b, err := strconv.ParseBool(rv.String())
		if err != nil {
			return reflect.Value{}, coerceError(rv.Interface(), target, err)
		}
		out.SetBool(b)
	default:
		if b, ok := rv.Interface().([]byte); ok {
			return coerceBool(reflect.ValueOf(string(b)), target)
		}
		return reflect.Value{}, coerceError(rv.Interface(), target, nil)
	}

	return out, nil
}

func coerceInt(rv reflect.Value, target reflect.Type) (reflect.Value, error) {
	var n int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return reflect.Value{}, coerceError(rv.Interface(), target, fmt.Errorf("value overflows %s", target))
		}
		n = int64(u)
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return reflect.Value{}, coerceError(rv.Interface(), target, fmt.Errorf("value is not an integer in range of %s", target))
		}
		n = int64(f)
	case reflect.Bool:
		if rv.Bool() {
			n = 1
		}
	case reflect.String:
		parsed, err := strconv.ParseInt(strings.TrimSpace(rv.String()), 10, 64)
		if err != nil {
			return reflect.Value{}, coerceError(rv.Interface(), target, err)
		}
		n = parsed
	default:
		if b, ok := rv.Interface().([]byte); ok {
			return coerceInt(reflect.ValueOf(string(b)), target)
		}
		return reflect.Value{}, coerceError(rv.Interface(), target, nil)
	}

	out := reflect.New(target).Elem()
	if out.OverflowInt(n) {
		return reflect.Value{}, coerceError(rv.Interface(), target, fmt.Errorf("value overflows %s", target))
	}
	out.SetInt(n)
	return out, nil
}

func coerceUint(rv reflect.Value, target reflect.Type) (reflect.Value, error) {
	var n uint64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := rv.Int()
		if i < 0 {
			return reflect.Value{}, coerceError(rv.Interface(), target, fmt.Errorf("negative value for %s", target))
		}
		n = uint64(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n = rv.Uint()
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < 0 || f > math.MaxUint64 {
			return reflect.Value{}, coerceError(rv.Interface(), target, fmt.Errorf("value is not an integer in range of %s", target))
		}
		n = uint64(f)
	case reflect.String:
		parsed, err := strconv.ParseUint(strings.TrimSpace(rv.String()), 10, 64)
		if err != nil {
			return reflect.Value{}, coerceError(rv.Interface(), target, err)
		}
		n = parsed
	default:
		if b, ok := rv.Interface().([]byte); ok {
			return coerceUint(reflect.ValueOf(string(b)), target)
		}
		return reflect.Value{}, coerceError(rv.Interface(), target, nil)
	}

	out := reflect.New(target).Elem()
	if out.OverflowUint(n) {
		return reflect.Value{}, coerceError(rv.Interface(), target, fmt.Errorf("value overflows %s", target))
	}
	out.SetUint(n)
	return out, nil
}

func coerceFloat(rv reflect.Value, target reflect.Type) (reflect.Value, error) {
	var f float64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f = float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f = float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		f = rv.Float()
	case reflect.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(rv.String()), 64)
		if err != nil {
			return reflect.Value{}, coerceError(rv.Interface(), target, err)
		}
		f = parsed
	default:
		if b, ok := rv.Interface().([]byte); ok {
			return coerceFloat(reflect.ValueOf(string(b)), target)
		}
		return reflect.Value{}, coerceError(rv.Interface(), target, nil)
	}

	out := reflect.New(target).Elem()
	if out.OverflowFloat(f) {
		return reflect.Value{}, coerceError(rv.Interface(), target, fmt.Errorf("value overflows %s", target))
	}
	out.SetFloat(f)
	return out, nil
}

func coerceString(rv reflect.Value, target reflect.Type) (reflect.Value, error) {
	out := reflect.New(target).Elem()
	switch v := rv.Interface().(type) {
	case []byte:
		out.SetString(string(v))
		return out, nil
	case encoding.TextMarshaler:
		text, err := v.MarshalText()
		if err != nil {
			return reflect.Value{}, coerceError(rv.Interface(), target, err)
		}
		out.SetString(string(text))
		return out, nil
	}

	if rv.Kind() == reflect.String {
		out.SetString(rv.String())
		return out, nil
	}

	return reflect.Value{}, coerceError(rv.Interface(), target, nil)
}

func coerceSlice(rv reflect.Value, target reflect.Type) (reflect.Value, error) {
	if target.Elem().Kind() == reflect.Uint8 && rv.Kind() == reflect.String {
		return reflect.ValueOf([]byte(rv.String())).Convert(target), nil
	}

	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return reflect.Value{}, coerceError(rv.Interface(), target, nil)
	}

	out := reflect.MakeSlice(target, rv.Len(), rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item, err := coerce(rv.Index(i).Interface(), target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(item)
	}

	return out, nil
}

func coerceArray(rv reflect.Value, target reflect.Type) (reflect.Value, error) {
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return reflect.Value{}, coerceError(rv.Interface(), target, nil)
	}

	if rv.Len() > target.Len() {
		return reflect.Value{}, coerceError(rv.Interface(), target, fmt.Errorf("%d items do not fit in %s", rv.Len(), target))
	}

	out := reflect.New(target).Elem()
	for i := 0; i < rv.Len(); i++ {
		item, err := coerce(rv.Index(i).Interface(), target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(item)
	}

	return out, nil
}

func coerceMap(rv reflect.Value, target reflect.Type) (reflect.Value, error) {
	if rv.Kind() != reflect.Map {
		return reflect.Value{}, coerceError(rv.Interface(), target, nil)
	}

	out := reflect.MakeMapWithSize(target, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k, err := coerce(iter.Key().Interface(), target.Key())
		if err != nil {
			return reflect.Value{}, err
		}

		v, err := coerce(iter.Value().Interface(), target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}

		out.SetMapIndex(k, v)
	}

	return out, nil
}

func coerceTime(rv reflect.Value) (reflect.Value, error) {
	var s string
	switch v := rv.Interface().(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return reflect.Value{}, coerceError(rv.Interface(), timeType, nil)
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return reflect.ValueOf(t), nil
		}
	}

	return reflect.Value{}, coerceError(s, timeType, fmt.Errorf("unrecognized time layout"))
}

// formatKey renders a map key as an element name.
func formatKey(k reflect.Value) (string, error) {
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		text, err := tm.MarshalText()
		if err != nil {
			return "", err
		}
		return string(text), nil
	}

	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(k.Float(), 'g', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(k.Bool()), nil
	}

	return "", fmt.Errorf("unsupported map key type %s", k.Type())
}

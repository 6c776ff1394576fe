package store

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"
)

type level string

func TestCoerce(t *testing.T) {
	when := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		value    any
		expected any
	}{
		{name: "nil to zero", value: nil, expected: 0},
		{name: "int64 to int", value: int64(12), expected: 12},
		{name: "int32 to int64", value: int32(12), expected: int64(12)},
		{name: "whole float to int", value: float64(2012), expected: 2012},
		{name: "string to int", value: " 42 ", expected: 42},
		{name: "bytes to int", value: []byte("7"), expected: 7},
		{name: "int to uint8", value: 200, expected: uint8(200)},
		{name: "int to float", value: 3, expected: 3.0},
		{name: "string to float32", value: "1.5", expected: float32(1.5)},
		{name: "int to bool", value: int64(1), expected: true},
		{name: "string to bool", value: "false", expected: false},
		{name: "bytes to string", value: []byte("Otavio"), expected: "Otavio"},
		{name: "string to named string", value: "debug", expected: level("debug")},
		{name: "string to bytes", value: "abc", expected: []byte("abc")},
		{name: "any slice to strings", value: []any{"a", "b"}, expected: []string{"a", "b"}},
		{name: "any slice to array", value: []any{1, 2}, expected: [3]int{1, 2, 0}},
		{name: "map values", value: map[string]any{"a": int32(1)}, expected: map[string]int{"a": 1}},
		{name: "record to map", value: NewRecord("labels", Element{Name: "env", Value: "prod"}), expected: map[string]string{"env": "prod"}},
		{
			name:     "records to maps",
			value:    []*Record{NewRecord("labels", Element{Name: "tier", Value: int32(1)})},
			expected: []map[string]int{{"tier": 1}},
		},
		{name: "pointer source", value: ptr(5), expected: int64(5)},
		{name: "to pointer", value: "neo", expected: ptr("neo")},
		{name: "rfc3339 to time", value: "2024-02-29T12:00:00Z", expected: when},
		{name: "sqlite layout to time", value: "2024-02-29 12:00:00", expected: when},
		{name: "scanner target", value: "x", expected: null.StringFrom("x")},
		{name: "scanner target from int", value: int64(3), expected: null.IntFrom(3)},
		{name: "text unmarshaler target", value: "2024-02-29T12:00:00Z", expected: null.TimeFrom(when)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerce(tt.value, reflect.TypeOf(tt.expected))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Interface())
		})
	}
}

func TestCoerceErrors(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		target reflect.Type
	}{
		{name: "fraction to int", value: 1.5, target: reflect.TypeOf(0)},
		{name: "overflow int8", value: 300, target: reflect.TypeOf(int8(0))},
		{name: "negative to uint", value: -1, target: reflect.TypeOf(uint(0))},
		{name: "text to int", value: "ten", target: reflect.TypeOf(0)},
		{name: "text to bool", value: "maybe", target: reflect.TypeOf(false)},
		{name: "int to string", value: 1, target: reflect.TypeOf("")},
		{name: "too many items", value: []int{1, 2, 3}, target: reflect.TypeOf([2]int{})},
		{name: "bad time", value: "yesterday", target: timeType},
		{name: "scalar to slice", value: 1, target: reflect.TypeOf([]int{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := coerce(tt.value, tt.target)
			assert.ErrorIs(t, err, ErrConversion)
		})
	}
}

func TestFormatKey(t *testing.T) {
	tests := []struct {
		key      any
		expected string
	}{
		{key: "a", expected: "a"},
		{key: -3, expected: "-3"},
		{key: uint16(4), expected: "4"},
		{key: 1.5, expected: "1.5"},
		{key: true, expected: "true"},
		{key: level("info"), expected: "info"},
	}

	for _, tt := range tests {
		got, err := formatKey(reflect.ValueOf(tt.key))
		require.NoError(t, err)
		assert.Equal(t, tt.expected, got)
	}

	_, err := formatKey(reflect.ValueOf(struct{}{}))
	assert.Error(t, err)
}

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitBatch(t *testing.T) {
	tests := []struct {
		name     string
		list     []int
		chunk    int
		expected [][]int
	}{
		{name: "empty", list: nil, chunk: 2, expected: nil},
		{name: "exact", list: []int{1, 2, 3, 4}, chunk: 2, expected: [][]int{{1, 2}, {3, 4}}},
		{name: "remainder", list: []int{1, 2, 3}, chunk: 2, expected: [][]int{{1, 2}, {3}}},
		{name: "chunk larger than list", list: []int{1, 2}, chunk: 5, expected: [][]int{{1, 2}}},
		{name: "no chunk", list: []int{1, 2, 3}, chunk: 0, expected: [][]int{{1, 2, 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitBatch(tt.list, tt.chunk))
		})
	}
}

func TestParseSorter(t *testing.T) {
	assert.Equal(t, []sortField{
		{Name: "age", Desc: true},
		{Name: "name"},
		{Name: "year"},
	}, parseSorter([]string{"-age", "", "+name", "year"}))

	assert.Nil(t, parseSorter(nil))
}

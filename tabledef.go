package store

import (
	"fmt"
	"reflect"
)

type TableDef struct {
	Schema    string
	Name      string
	KeyField  string
	Columns   []ColumnInfo
	CreateDDL string
}

func (td TableDef) ColumnNames() []string {
	return sliceMap(td.Columns, func(val ColumnInfo) string {
		return val.Name
	})
}

func (td TableDef) Column(name string) (ColumnInfo, bool) {
	for _, col := range td.Columns {
		if col.Name == name {
			return col, true
		}
	}

	return ColumnInfo{}, false
}

func (td TableDef) FullTableName() string {
	name := td.Name
	if td.Schema != "" {
		name = fmt.Sprintf("%s.%s", td.Schema, td.Name)
	}
	return name
}

type ColumnInfo struct {
	Name string
	// Type is the Go type held by the column; nil when a value converter
	// decides the stored type.
	Type  reflect.Type
	IsKey bool
	// Encoded columns hold nested records, collections and maps as extended JSON.
	Encoded bool
}

// Column is a column reported by the database catalog.
type Column struct {
	ColumnName string `db:"column_name"`
	DataType   string `db:"data_type"`
}

// ColumnsFromMetadata lists the columns needed to store records of meta.
// Flattened embedded fields contribute their own columns.
func ColumnsFromMetadata(meta *EntityMetadata, provider MetadataProvider) ([]ColumnInfo, error) {
	var cols []ColumnInfo
	if d := meta.Discriminator; d != nil {
		cols = append(cols, ColumnInfo{Name: d.Column, Type: reflect.TypeOf("")})
	}

	if err := appendColumns(&cols, meta, provider, 0); err != nil {
		return nil, err
	}

	return cols, nil
}

func appendColumns(cols *[]ColumnInfo, meta *EntityMetadata, provider MetadataProvider, depth int) error {
	if depth > defaultMaxDepth {
		return &ConversionError{Entity: meta.Name, Err: ErrMaxDepth}
	}

	for _, fd := range meta.Fields {
		if fd.Kind == KindEmbedded && fd.Flatten && fd.Converter == "" && fd.UDT == "" {
			child, err := provider.Lookup(fd.ElemType)
			if err != nil {
				return err
			}

			if err := appendColumns(cols, child, provider, depth+1); err != nil {
				return err
			}
			continue
		}

		col := ColumnInfo{
			Name:  fd.Name,
			Type:  fd.Type,
			IsKey: fd.ID && depth == 0,
		}

		switch {
		case fd.Converter != "":
			col.Type = nil
		case fd.UDT != "" || fd.Kind != KindScalar:
			col.Encoded = true
		}

		if sliceContainsFunc(*cols, func(c ColumnInfo) bool { return c.Name == col.Name }) {
			continue
		}

		*cols = append(*cols, col)
	}

	return nil
}

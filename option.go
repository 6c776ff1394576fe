package store

import "go.uber.org/zap"

type RepositoryOption func(o *option)

type option struct {
	initValues interface{}
	name       string
	schema     string
	converter  *EntityConverter
	logger     *zap.Logger
	registry   *MetadataRegistry
	converters *ConverterRegistry
}

// InitWith inserts values, a slice of the repository entity, when the
// repository is created. Values whose key already exists are skipped.
func InitWith(values interface{}) RepositoryOption {
	return func(o *option) {
		o.initValues = values
	}
}

// WithName overrides the collection, table or key prefix used by the store.
// It defaults to the entity name.
func WithName(name string) RepositoryOption {
	return func(o *option) {
		o.name = name
	}
}

func WithSchema(schema string) RepositoryOption {
	return func(o *option) {
		o.schema = schema
	}
}

// WithConverter shares an EntityConverter between repositories. The caller
// then owns the custom field kinds registered on it.
func WithConverter(c *EntityConverter) RepositoryOption {
	return func(o *option) {
		o.converter = c
	}
}

// WithRegistry sets the metadata registry used when the repository builds its own converter.
func WithRegistry(r *MetadataRegistry) RepositoryOption {
	return func(o *option) {
		o.registry = r
	}
}

// WithConverterRegistry sets the value converters used when the repository
// builds its own converter.
func WithConverterRegistry(r *ConverterRegistry) RepositoryOption {
	return func(o *option) {
		o.converters = r
	}
}

func WithRepositoryLogger(logger *zap.Logger) RepositoryOption {
	return func(o *option) {
		o.logger = logger
	}
}

type QueryOption func(o *queryOption)

type queryOption struct {
	Tx              Transaction
	Limit           int
	Offset          int64
	Sorter          []string
	IgnoreDuplicate bool
}

func newQueryOption(options []QueryOption) *queryOption {
	opt := &queryOption{}
	for _, op := range options {
		op(opt)
	}

	return opt
}

// WithTransaction returns a QueryOption that sets the transaction
// to use for the query.
func WithTransaction(tx Transaction) QueryOption {
	return func(o *queryOption) {
		o.Tx = tx
	}
}

// WithLimit returns a QueryOption that sets the limit for the
// number of rows to return.
func WithLimit(limit int) QueryOption {
	return func(o *queryOption) {
		o.Limit = limit
	}
}

// WithOffset returns a QueryOption that sets the offset for the
// rows returned.
func WithOffset(offset int64) QueryOption {
	return func(o *queryOption) {
		o.Offset = offset
	}
}

// WithSorter returns a QueryOption that sets the sorting order for the query.
// The sorter parameter is a variadic slice of field names to sort by, prefixed by "-" for descending order, and prefixed by "+" for ascending order.
//
// example:
//
//	WithSorter("-name", "+age")
func WithSorter(sorter ...string) QueryOption {
	return func(o *queryOption) {
		o.Sorter = sorter
	}
}

// WithIgnoreDuplicate returns a QueryOption that sets IgnoreDuplicate
// to true. To be used with Insert operation. When set to true, duplicate rows will be discarded
func WithIgnoreDuplicate() QueryOption {
	return func(o *queryOption) {
		o.IgnoreDuplicate = true
	}
}

type sortField struct {
	Name string
	Desc bool
}

func parseSorter(sorter []string) []sortField {
	var fields []sortField
	for _, s := range sorter {
		if s == "" {
			continue
		}

		f := sortField{Name: s}
		switch s[:1] {
		case "-":
			f = sortField{Name: s[1:], Desc: true}
		case "+":
			f = sortField{Name: s[1:]}
		}

		fields = append(fields, f)
	}

	return fields
}

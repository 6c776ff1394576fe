package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type sqlTransaction struct {
	Tx *sqlx.Tx
}

func (st *sqlTransaction) Rollback(_ context.Context) error {
	return st.Tx.Rollback()
}

func (st *sqlTransaction) Commit(_ context.Context) error {
	return st.Tx.Commit()
}

func wrapSQLError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w. %s", ErrKeynotFound, err.Error())
	}

	if isUniqueViolation(err) {
		return fmt.Errorf("%w. %s", ErrKeyAlreadyExists, err.Error())
	}

	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgerrcode.UniqueViolation
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
		}
	}

	return false
}

// MakeSortClause builds the body of an ORDER BY clause from sorter, see
// WithSorter. sortFieldMap renames fields, names are lower-cased first.
func MakeSortClause(sorter []string, sortFieldMap map[string]string) string {
	if len(sorter) == 0 {
		return ""
	}

	var srt []string
	for _, s := range parseSorter(sorter) {
		field := strings.ToLower(s.Name)
		if sortFieldMap != nil {
			if mf, ok := sortFieldMap[field]; ok {
				field = mf
			}
		}

		op := "ASC"
		if s.Desc {
			op = "DESC"
		}

		srt = append(srt, fmt.Sprintf("%s %s", field, op))
	}

	return strings.Join(srt, ",")
}

type FilterNull interface {
	IsNull() bool
}

type filterNull bool

func (fn filterNull) IsNull() bool {
	return bool(fn)
}

func FilterNullFrom(isNull bool) FilterNull {
	return filterNull(isNull)
}

type FilterStringContains interface {
	Contains() string
}

type filterStringContains string

func (fs filterStringContains) Contains() string {
	return fmt.Sprintf("%%%s%%", fs)
}

func FilterStringContainsFrom(str string) FilterStringContains {
	return filterStringContains(str)
}

// ParseFilterMapIntoWhereClause turns filterMap into a WHERE clause body with
// "?" placeholders. Keys are column names, taken in lexical order. Slices
// become IN lists, FilterNull and FilterStringContains values become IS NULL
// and LIKE tests.
func ParseFilterMapIntoWhereClause(filterMap map[string]any) (whereClause string, args []any, err error) {
	return parseFilterMap(filterMap, func(name string) (string, bool) {
		return name, true
	})
}

// parseFilterMap is ParseFilterMapIntoWhereClause with column resolution.
// column returns the SQL text for a filter key, or false to skip the key.
func parseFilterMap(filterMap map[string]any, column func(string) (string, bool)) (string, []any, error) {
	keys := make([]string, 0, len(filterMap))
	for k := range filterMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conds []string
	var args []any
	for _, k := range keys {
		col, ok := column(k)
		if !ok {
			continue
		}

		val := filterMap[k]
		switch f := val.(type) {
		case FilterNull:
			isNot := ""
			if !f.IsNull() {
				isNot = "NOT "
			}
			conds = append(conds, fmt.Sprintf("%s IS %sNULL", col, isNot))
			continue
		case FilterStringContains:
			conds = append(conds, fmt.Sprintf("%s LIKE ?", col))
			args = append(args, f.Contains())
			continue
		case nil:
			conds = append(conds, fmt.Sprintf("%s IS NULL", col))
			continue
		}

		vval := reflect.ValueOf(val)
		if vval.Kind() != reflect.Slice || vval.Type().Elem().Kind() == reflect.Uint8 {
			conds = append(conds, col+" = ?")
			args = append(args, val)
			continue
		}

		if vval.Len() > 0 {
			if f, arg, err := parameterizedFilterCriteriaSlice(col, val); err == nil {
				conds = append(conds, f)
				args = append(args, arg)
			}
		}
	}

	if len(conds) == 0 {
		return "", nil, nil
	}

	return sqlx.In(strings.Join(conds, " AND "), args...)
}

func parameterizedFilterCriteriaSlice(fieldname string, values interface{}) (string, any, error) {
	where := fieldname
	vtype := reflect.TypeOf(values)
	if vtype.Kind() == reflect.Ptr {
		vtype = vtype.Elem()
	}

	if vtype.Kind() != reflect.Slice {
		return "", nil, fmt.Errorf("expecting slice as values, got %s", vtype.Kind().String())
	}

	s := reflect.Indirect(reflect.ValueOf(values))
	if s.Len() == 0 {
		return "", nil, fmt.Errorf("cannot use empty slice to parameterized")
	}

	var value interface{}
	if s.Len() > 1 {
		where += " IN(?)"
		value = values
	} else {
		where += " = ?"
		value = s.Index(0).Interface()
	}

	return where, value, nil
}

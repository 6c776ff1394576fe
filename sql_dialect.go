package store

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"gopkg.in/guregu/null.v4"
)

// Dialect holds what differs between the SQL databases supported by
// SQLRepository. Statements are written with "?" placeholders and rebound to
// BindType before they run.
type Dialect struct {
	Name     string
	BindType int
	// ColumnType returns the DDL type of col.
	ColumnType func(col ColumnInfo) (string, error)

	createTable   func(table string, columns []string) string
	insertRows    func(table string, cols []string, rows int, ignoreKey string) string
	upsert        func(table string, cols []string, key string) string
	paging        func(limit int, offset int64) string
	columns       func(ctx context.Context, q sqlx.QueryerContext, schema, table string) ([]Column, error)
	defaultSchema string
}

func (d Dialect) String() string {
	return d.Name
}

// Quote quotes an identifier.
func (d Dialect) Quote(name string) string {
	return pq.QuoteIdentifier(name)
}

// TableName returns the quoted, schema qualified name of the table.
func (d Dialect) TableName(schema, name string) string {
	if schema == "" {
		return d.Quote(name)
	}

	return d.Quote(schema) + "." + d.Quote(name)
}

func (d Dialect) rebind(qry string) string {
	return sqlx.Rebind(d.BindType, qry)
}

var DialectPostgres = Dialect{
	Name:          "postgres",
	BindType:      sqlx.DOLLAR,
	ColumnType:    pgColumnType,
	createTable:   createTableIfNotExists,
	insertRows:    onConflictInsert,
	upsert:        onConflictUpsert,
	paging:        limitOffset,
	columns:       pgGetColumns,
	defaultSchema: "public",
}

var DialectSQLite = Dialect{
	Name:        "sqlite",
	BindType:    sqlx.QUESTION,
	ColumnType:  sqliteColumnType,
	createTable: createTableIfNotExists,
	insertRows:  onConflictInsert,
	upsert:      onConflictUpsert,
	paging:      sqliteLimitOffset,
	columns:     sqliteGetColumns,
}

// DialectOracle generates Oracle SQL. The module does not register an Oracle
// driver; open the *sqlx.DB with one of your choice.
var DialectOracle = Dialect{
	Name:        "oracle",
	BindType:    sqlx.NAMED,
	ColumnType:  oraColumnType,
	createTable: createTable,
	insertRows:  oraInsertRows,
	upsert:      oraMerge,
	paging:      oraOffsetFetch,
	columns:     oraGetColumns,
}

func createTableIfNotExists(table string, columns []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(columns, ","))
}

func createTable(table string, columns []string) string {
	return fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(columns, ","))
}

func valuesPlaceholder(cols int) string {
	return "(?" + strings.Repeat(",?", cols-1) + ")"
}

func onConflictInsert(table string, cols []string, rows int, ignoreKey string) string {
	values := make([]string, rows)
	for i := range values {
		values[i] = valuesPlaceholder(len(cols))
	}

	qry := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(cols, ","), strings.Join(values, ","))
	if ignoreKey != "" {
		qry += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", ignoreKey)
	}

	return qry
}

func onConflictUpsert(table string, cols []string, key string) string {
	var sets []string
	for _, c := range cols {
		if c != key {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}

	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ",")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) %s",
		table, strings.Join(cols, ","), valuesPlaceholder(len(cols)), key, action)
}

func limitOffset(limit int, offset int64) string {
	qry := strings.Builder{}
	if limit > 0 {
		qry.WriteString(fmt.Sprintf(" LIMIT %d", limit))
	}

	if offset > 0 {
		qry.WriteString(fmt.Sprintf(" OFFSET %d", offset))
	}

	return qry.String()
}

func sqliteLimitOffset(limit int, offset int64) string {
	if limit <= 0 && offset > 0 {
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	}

	return limitOffset(limit, offset)
}

// oraSource selects rows bound rows of cols from dual.
func oraSource(cols []string, rows int) string {
	selects := make([]string, rows)
	for i := range selects {
		fields := make([]string, len(cols))
		for cx, c := range cols {
			fields[cx] = "? " + c
		}
		selects[i] = fmt.Sprintf("SELECT %s FROM dual", strings.Join(fields, ","))
	}

	return strings.Join(selects, " UNION ALL ")
}

func oraInsertRows(table string, cols []string, rows int, ignoreKey string) string {
	if ignoreKey != "" {
		return fmt.Sprintf("MERGE INTO %s t USING (%s) s ON (t.%s = s.%s) WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
			table, oraSource(cols, rows), ignoreKey, ignoreKey, strings.Join(cols, ","), oraPrefixed("s", cols))
	}

	if rows == 1 {
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(cols, ","), valuesPlaceholder(len(cols)))
	}

	var qry strings.Builder
	qry.WriteString("INSERT ALL")
	for i := 0; i < rows; i++ {
		qry.WriteString(fmt.Sprintf(" INTO %s (%s) VALUES %s", table, strings.Join(cols, ","), valuesPlaceholder(len(cols))))
	}
	qry.WriteString(" SELECT 1 FROM dual")

	return qry.String()
}

func oraMerge(table string, cols []string, key string) string {
	var sets []string
	for _, c := range cols {
		if c != key {
			sets = append(sets, fmt.Sprintf("t.%s = s.%s", c, c))
		}
	}

	qry := fmt.Sprintf("MERGE INTO %s t USING (%s) s ON (t.%s = s.%s)", table, oraSource(cols, 1), key, key)
	if len(sets) > 0 {
		qry += " WHEN MATCHED THEN UPDATE SET " + strings.Join(sets, ",")
	}

	return qry + fmt.Sprintf(" WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)", strings.Join(cols, ","), oraPrefixed("s", cols))
}

func oraPrefixed(alias string, cols []string) string {
	return strings.Join(sliceMap(cols, func(c string) string {
		return alias + "." + c
	}), ",")
}

func oraOffsetFetch(limit int, offset int64) string {
	qry := strings.Builder{}
	if offset > 0 {
		qry.WriteString(fmt.Sprintf(" OFFSET %d ROWS", offset))
	}

	if limit > 0 {
		qry.WriteString(fmt.Sprintf(" FETCH NEXT %d ROWS ONLY", limit))
	}

	return qry.String()
}

var (
	byteSliceType = reflect.TypeOf([]byte(nil))
	nullTimeNames = []string{"NullTime", "Time"}
)

// baseColumnKind classifies the Go type of a column into a small set of
// storage classes shared by every dialect.
func baseColumnKind(col ColumnInfo) string {
	if col.Encoded || col.Type == nil {
		return "text"
	}

	t := derefType(col.Type)
	if t == timeType {
		return "time"
	}

	if t == byteSliceType || (t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8) {
		return "bytes"
	}

	switch t.Kind() {
	case reflect.String:
		return "text"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Struct:
		switch t.Name() {
		case "NullString", "String":
			return "text"
		case "NullFloat64", "Float":
			return "float"
		case "NullInt16", "NullInt32", "NullInt64", "NullByte", "Int":
			return "int"
		case "NullBool", "Bool":
			return "bool"
		}
		if sliceContains(nullTimeNames, t.Name()) {
			return "time"
		}
	}

	if implementsAny(t, textMarshalerType) {
		return "text"
	}

	return ""
}

func pgColumnType(col ColumnInfo) (string, error) {
	switch baseColumnKind(col) {
	case "text":
		return "TEXT", nil
	case "bool":
		return "BOOLEAN", nil
	case "int":
		return "BIGINT", nil
	case "float":
		return "DOUBLE PRECISION", nil
	case "time":
		return "TIMESTAMPTZ", nil
	case "bytes":
		return "BYTEA", nil
	}

	return "", fmt.Errorf("unknown datatype for Go type %s in column %s", col.Type, col.Name)
}

func sqliteColumnType(col ColumnInfo) (string, error) {
	switch baseColumnKind(col) {
	case "text":
		return "TEXT", nil
	case "bool", "int":
		return "INTEGER", nil
	case "float":
		return "REAL", nil
	case "time":
		return "TIMESTAMP", nil
	case "bytes":
		return "BLOB", nil
	}

	return "", fmt.Errorf("unknown datatype for Go type %s in column %s", col.Type, col.Name)
}

func oraColumnType(col ColumnInfo) (string, error) {
	if col.Encoded {
		return "CLOB", nil
	}

	switch baseColumnKind(col) {
	case "text":
		return "VARCHAR2(4000)", nil
	case "bool":
		return "NUMBER(1)", nil
	case "int":
		return "NUMBER(19)", nil
	case "float":
		return "BINARY_DOUBLE", nil
	case "time":
		return "TIMESTAMP WITH TIME ZONE", nil
	case "bytes":
		return "BLOB", nil
	}

	return "", fmt.Errorf("unknown datatype for Go type %s in column %s", col.Type, col.Name)
}

func pgGetColumns(ctx context.Context, q sqlx.QueryerContext, schema, table string) ([]Column, error) {
	qry := sqlx.Rebind(sqlx.DOLLAR, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`)

	var cols []Column
	if err := sqlx.SelectContext(ctx, q, &cols, qry, schema, table); err != nil {
		return nil, err
	}

	return cols, nil
}

func sqliteGetColumns(ctx context.Context, q sqlx.QueryerContext, _ string, table string) ([]Column, error) {
	qry := fmt.Sprintf("PRAGMA table_info(%s)", pq.QuoteIdentifier(table))

	type columnInfo struct {
		CID       int         `db:"cid"`
		Name      string      `db:"name"`
		Type      string      `db:"type"`
		NotNull   int         `db:"notnull"`
		DfltValue null.String `db:"dflt_value"`
		Pk        int         `db:"pk"`
	}

	var cols []columnInfo
	if err := sqlx.SelectContext(ctx, q, &cols, qry); err != nil {
		return nil, err
	}

	return sliceMap(cols, func(col columnInfo) Column {
		return Column{
			ColumnName: col.Name,
			DataType:   col.Type,
		}
	}), nil
}

func oraGetColumns(ctx context.Context, q sqlx.QueryerContext, schema, table string) ([]Column, error) {
	qry := `
		SELECT
			column_name "column_name"
			,CASE WHEN InStr(data_type, 'TIMESTAMP') > 0 THEN 'TIMESTAMP' ELSE data_type END "data_type"
		FROM all_tab_cols WHERE table_name = ?`
	args := []any{table}
	if schema != "" {
		qry += " AND owner = ?"
		args = append(args, schema)
	}

	var cols []Column
	if err := sqlx.SelectContext(ctx, q, &cols, sqlx.Rebind(sqlx.NAMED, qry), args...); err != nil {
		return nil, err
	}

	return cols, nil
}

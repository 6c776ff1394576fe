package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// maxBindParams bounds the placeholders of one multi-row statement.
const maxBindParams = 900

// SQLRepository stores one entity per row. Scalar fields map to columns,
// flattened embedded fields contribute their own columns and every other
// nested value is kept as extended JSON text.
type SQLRepository[K comparable, T any] struct {
	repository[T]
	db       *sqlx.DB
	dialect  Dialect
	tableDef TableDef
	columns  []ColumnInfo
}

func CreateSQLRepository[K comparable, T any](db *sqlx.DB, dialect Dialect, options ...RepositoryOption) (*SQLRepository[K, T], error) {
	opt := &option{}
	for _, op := range options {
		op(opt)
	}

	base, err := newRepository[T](opt, UDTHook)
	if err != nil {
		return nil, err
	}

	repo := &SQLRepository[K, T]{
		repository: base,
		db:         db,
		dialect:    dialect,
	}

	if err := repo.initTableDef(); err != nil {
		return nil, err
	}

	if err := repo.loadColumns(context.Background()); err != nil {
		return nil, err
	}

	if err := initValues[K, T](context.Background(), repo, opt.initValues); err != nil {
		return nil, err
	}

	return repo, nil
}

func (s *SQLRepository[K, T]) initTableDef() error {
	var entity T
	if model, ok := any(&entity).(Model); ok {
		s.tableDef = model.GetTableDef()
		if s.tableDef.Name == "" {
			s.tableDef.Name = s.Name
		}
		return nil
	}

	cols, err := ColumnsFromMetadata(s.meta, s.converter.Metadata())
	if err != nil {
		return err
	}

	td := TableDef{
		Schema:  s.Schema,
		Name:    s.Name,
		Columns: cols,
	}

	var ddlCols []string
	for _, col := range cols {
		dtype, err := s.dialect.ColumnType(col)
		if err != nil {
			return fmt.Errorf("entity %s: %w", s.meta.Name, err)
		}

		var ddlCol strings.Builder
		ddlCol.WriteString(fmt.Sprintf("%s %s", s.dialect.Quote(col.Name), dtype))
		if col.IsKey {
			td.KeyField = col.Name
			ddlCol.WriteString(" NOT NULL PRIMARY KEY")
		}

		ddlCols = append(ddlCols, ddlCol.String())
	}

	td.CreateDDL = s.dialect.createTable(s.dialect.TableName(td.Schema, td.Name), ddlCols)
	if creator, ok := any(&entity).(SQLTableCreator); ok {
		td.CreateDDL = creator.DDL()
	}

	s.tableDef = td
	return nil
}

// loadColumns keeps the columns of the table definition that exist in the
// database. A table that does not exist yet keeps all of them.
func (s *SQLRepository[K, T]) loadColumns(ctx context.Context) error {
	schema := s.tableDef.Schema
	if schema == "" {
		schema = s.dialect.defaultSchema
	}

	existing, err := s.dialect.columns(ctx, s.db, schema, s.tableDef.Name)
	if err != nil {
		return wrapSQLError(err)
	}

	if len(existing) == 0 {
		s.columns = s.tableDef.Columns
		return nil
	}

	names := make(map[string]bool, len(existing))
	for _, col := range existing {
		names[col.ColumnName] = true
	}

	s.columns = sliceFilter(s.tableDef.Columns, func(col ColumnInfo) bool {
		if !names[col.Name] {
			s.logger.Debug("column missing in table", zap.String("table", s.tableDef.Name), zap.String("column", col.Name))
			return false
		}
		return true
	})

	return nil
}

func (s *SQLRepository[K, T]) GetTableDef() TableDef {
	return s.tableDef
}

func (s *SQLRepository[K, T]) Dialect() Dialect {
	return s.dialect
}

// CreateTable runs the table DDL and refreshes the known columns.
func (s *SQLRepository[K, T]) CreateTable(ctx context.Context) error {
	if s.tableDef.CreateDDL == "" {
		return fmt.Errorf("%w: no DDL for table %s", ErrNotSupported, s.tableDef.Name)
	}

	s.logger.Debug("create table", zap.String("sql", s.tableDef.CreateDDL))
	if _, err := s.db.ExecContext(ctx, s.tableDef.CreateDDL); err != nil {
		return wrapSQLError(err)
	}

	return s.loadColumns(ctx)
}

func (s *SQLRepository[K, T]) Get(ctx context.Context, id K, dest *T, options ...QueryOption) error {
	opt := newQueryOption(options)

	keyField, err := s.sqlKeyField()
	if err != nil {
		return err
	}

	qry := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", s.columnList(), s.tableName(), s.dialect.Quote(keyField))

	var rec *Record
	err = s.withTx(opt, func(tx *sqlx.Tx) error {
		recs, err := s.queryRecords(ctx, tx, qry, id)
		if err != nil {
			return err
		}

		if len(recs) == 0 {
			return fmt.Errorf("%w. %s %v", ErrKeynotFound, s.meta.Name, id)
		}

		rec = recs[0]
		return nil
	})
	if err != nil {
		return err
	}

	return s.decode(rec, dest)
}

func (s *SQLRepository[K, T]) Select(ctx context.Context, filterMap map[string]any, dest *[]T, options ...QueryOption) error {
	opt := newQueryOption(options)

	filter, args, err := parseFilterMap(filterMap, s.quotedColumn)
	if err != nil {
		return err
	}

	if filter != "" {
		filter = " WHERE " + filter
	}

	var order string
	if sorter := s.sortClause(opt.Sorter); sorter != "" {
		order = " ORDER BY " + sorter
	}

	qry := fmt.Sprintf("SELECT %s FROM %s%s%s%s", s.columnList(), s.tableName(), filter, order, s.dialect.paging(opt.Limit, opt.Offset))

	var recs []*Record
	err = s.withTx(opt, func(tx *sqlx.Tx) error {
		recs, err = s.queryRecords(ctx, tx, qry, args...)
		return err
	})
	if err != nil {
		return err
	}

	result := make([]T, len(recs))
	for i, rec := range recs {
		if err := s.decode(rec, &result[i]); err != nil {
			return err
		}
	}

	*dest = result
	return nil
}

// SQLQuery runs a raw query and scans the rows into dest with sqlx.
func (s *SQLRepository[K, T]) SQLQuery(ctx context.Context, dest any, sqlStr string, args []interface{}, options ...QueryOption) error {
	opt := newQueryOption(options)
	return s.withTx(opt, func(tx *sqlx.Tx) error {
		return wrapSQLError(tx.SelectContext(ctx, dest, s.dialect.rebind(sqlStr), args...))
	})
}

// SQLExec runs a raw statement.
func (s *SQLRepository[K, T]) SQLExec(ctx context.Context, sqlStr string, args []interface{}, options ...QueryOption) error {
	opt := newQueryOption(options)
	return s.withTx(opt, func(tx *sqlx.Tx) error {
		return s.exec(ctx, tx, sqlStr, args...)
	})
}

func (s *SQLRepository[K, T]) Insert(ctx context.Context, value T, options ...QueryOption) (K, error) {
	opt := newQueryOption(options)

	var zeroKey K
	rec, err := s.encode(&value)
	if err != nil {
		return zeroKey, err
	}

	row, err := s.rowValues(rec)
	if err != nil {
		return zeroKey, err
	}

	qry := s.dialect.insertRows(s.tableName(), s.quotedColumns(), 1, s.ignoreKey(opt))
	err = s.withTx(opt, func(tx *sqlx.Tx) error {
		return s.exec(ctx, tx, qry, row...)
	})
	if err != nil {
		return zeroKey, err
	}

	if s.tableDef.KeyField == "" {
		return zeroKey, nil
	}

	key, _, err := recordKey[K](rec, s.tableDef.KeyField)
	return key, err
}

func (s *SQLRepository[K, T]) InsertAll(ctx context.Context, values []T, options ...QueryOption) ([]K, error) {
	opt := newQueryOption(options)
	if len(values) == 0 {
		return nil, nil
	}

	if len(s.columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", s.tableDef.Name)
	}

	var keys []K
	var rows [][]any
	for i := range values {
		rec, err := s.encode(&values[i])
		if err != nil {
			return nil, err
		}

		row, err := s.rowValues(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)

		if s.tableDef.KeyField != "" {
			key, _, err := recordKey[K](rec, s.tableDef.KeyField)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
	}

	batchSize := maxBindParams / len(s.columns)
	if batchSize < 1 {
		batchSize = 1
	}

	err := s.withTx(opt, func(tx *sqlx.Tx) error {
		for _, batch := range SplitBatch(rows, batchSize) {
			qry := s.dialect.insertRows(s.tableName(), s.quotedColumns(), len(batch), s.ignoreKey(opt))

			var args []any
			for _, row := range batch {
				args = append(args, row...)
			}

			if err := s.exec(ctx, tx, qry, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}

func (s *SQLRepository[K, T]) Update(ctx context.Context, id K, keyvals map[string]any, options ...QueryOption) error {
	opt := newQueryOption(options)

	keyField, err := s.sqlKeyField()
	if err != nil {
		return err
	}

	qry, args, err := s.createUpdateQuery(keyField, id, keyvals)
	if err != nil {
		return err
	}

	return s.withTx(opt, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.dialect.rebind(qry), args...)
		if err != nil {
			return wrapSQLError(err)
		}

		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w. %s %v", ErrKeynotFound, s.meta.Name, id)
		}
		return nil
	})
}

func (s *SQLRepository[K, T]) Upsert(ctx context.Context, id K, value T, options ...QueryOption) error {
	opt := newQueryOption(options)

	keyField, err := s.sqlKeyField()
	if err != nil {
		return err
	}

	rec, err := s.encode(&value)
	if err != nil {
		return err
	}
	rec.Add(keyField, id)

	row, err := s.rowValues(rec)
	if err != nil {
		return err
	}

	qry := s.dialect.upsert(s.tableName(), s.quotedColumns(), s.dialect.Quote(keyField))
	return s.withTx(opt, func(tx *sqlx.Tx) error {
		return s.exec(ctx, tx, qry, row...)
	})
}

func (s *SQLRepository[K, T]) Delete(ctx context.Context, id []K, options ...QueryOption) error {
	opt := newQueryOption(options)

	keyField, err := s.sqlKeyField()
	if err != nil {
		return err
	}

	return s.withTx(opt, func(tx *sqlx.Tx) error {
		for _, batch := range SplitBatch(id, 125) {
			qry := fmt.Sprintf("DELETE FROM %s WHERE %s IN (?)", s.tableName(), s.dialect.Quote(keyField))
			qry, args, err := sqlx.In(qry, batch)
			if err != nil {
				return fmt.Errorf("failed to expand delete query. %s", err)
			}

			if err := s.exec(ctx, tx, qry, args...); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLRepository[K, T]) Begin(ctx context.Context) (Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &sqlTransaction{Tx: tx}, nil
}

// withTx runs fn in the transaction of opt, or in a new one committed when fn succeeds.
func (s *SQLRepository[K, T]) withTx(opt *queryOption, fn func(tx *sqlx.Tx) error) error {
	if opt.Tx != nil {
		if tx, ok := opt.Tx.(*sqlTransaction); ok {
			return fn(tx.Tx)
		}
		return fmt.Errorf("transaction %T does not belong to a sql repository", opt.Tx)
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return wrapSQLError(err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLRepository[K, T]) exec(ctx context.Context, tx *sqlx.Tx, qry string, args ...any) error {
	qry = s.dialect.rebind(qry)
	s.logger.Debug("exec", zap.String("sql", qry))

	_, err := tx.ExecContext(ctx, qry, args...)
	return wrapSQLError(err)
}

// queryRecords runs qry and turns every row into a record. NULL columns are left out.
func (s *SQLRepository[K, T]) queryRecords(ctx context.Context, tx *sqlx.Tx, qry string, args ...any) ([]*Record, error) {
	qry = s.dialect.rebind(qry)
	s.logger.Debug("query", zap.String("sql", qry))

	rows, err := tx.QueryxContext(ctx, qry, args...)
	if err != nil {
		return nil, wrapSQLError(err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, wrapSQLError(err)
		}

		rec, err := s.rowRecord(row)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, wrapSQLError(rows.Err())
}

func (s *SQLRepository[K, T]) rowRecord(row map[string]any) (*Record, error) {
	rec := NewRecord(s.meta.Name)
	for _, col := range s.columns {
		val, ok := row[col.Name]
		if !ok || val == nil {
			continue
		}

		if col.Encoded {
			var text []byte
			switch v := val.(type) {
			case string:
				text = []byte(v)
			case []byte:
				text = v
			default:
				return nil, &ConversionError{Entity: s.meta.Name, Field: col.Name, Value: val, Err: fmt.Errorf("expecting encoded text, got %T", val)}
			}

			decoded, err := unmarshalExtJSON(col.Name, text)
			if err != nil {
				return nil, &ConversionError{Entity: s.meta.Name, Field: col.Name, Value: val, Err: err}
			}
			rec.Add(col.Name, decoded)
			continue
		}

		if b, ok := val.([]byte); ok && col.Type != nil && derefType(col.Type) != byteSliceType {
			val = string(b)
		}

		rec.Add(col.Name, val)
	}

	return rec, nil
}

// rowValues returns the values of rec in column order.
func (s *SQLRepository[K, T]) rowValues(rec *Record) ([]any, error) {
	row := make([]any, len(s.columns))
	for i, col := range s.columns {
		val, ok := rec.Find(col.Name)
		if !ok {
			continue
		}

		if !col.Encoded {
			row[i] = sqlValue(val.Value)
			continue
		}

		text, err := marshalExtJSON(val.Value)
		if err != nil {
			return nil, &ConversionError{Entity: s.meta.Name, Field: col.Name, Value: val.Value, Err: err}
		}
		row[i] = text
	}

	return row, nil
}

// sqlValue turns nested values left in scalar columns, such as a value
// converter producing a record, into text.
func sqlValue(v any) any {
	switch v.(type) {
	case *Record, []*Record, UDT, []UDT:
		text, err := marshalExtJSON(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return text
	}

	return v
}

func (s *SQLRepository[K, T]) createUpdateQuery(keyField string, id K, keyvals map[string]any) (string, []any, error) {
	keys := make([]string, 0, len(keyvals))
	for k := range keyvals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sets []string
	var args []any
	for _, k := range keys {
		col, ok := s.column(k)
		if !ok {
			return "", nil, fmt.Errorf("entity %s has no column %s", s.meta.Name, k)
		}

		val := keyvals[k]
		if col.Encoded && val != nil {
			text, err := marshalExtJSON(val)
			if err != nil {
				return "", nil, err
			}
			val = text
		}

		sets = append(sets, fmt.Sprintf("%s = ?", s.dialect.Quote(k)))
		args = append(args, sqlValue(val))
	}

	if len(sets) == 0 {
		return "", nil, fmt.Errorf("nothing to update")
	}

	qry := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", s.tableName(), strings.Join(sets, ","), s.dialect.Quote(keyField))
	return qry, append(args, id), nil
}

func (s *SQLRepository[K, T]) sortClause(sorter []string) string {
	var srt []string
	for _, f := range parseSorter(sorter) {
		col, ok := s.quotedColumn(f.Name)
		if !ok {
			continue
		}

		op := "ASC"
		if f.Desc {
			op = "DESC"
		}
		srt = append(srt, fmt.Sprintf("%s %s", col, op))
	}

	return strings.Join(srt, ",")
}

func (s *SQLRepository[K, T]) sqlKeyField() (string, error) {
	if s.tableDef.KeyField != "" {
		return s.tableDef.KeyField, nil
	}

	return s.keyField()
}

func (s *SQLRepository[K, T]) ignoreKey(opt *queryOption) string {
	if !opt.IgnoreDuplicate || s.tableDef.KeyField == "" {
		return ""
	}

	return s.dialect.Quote(s.tableDef.KeyField)
}

func (s *SQLRepository[K, T]) column(name string) (ColumnInfo, bool) {
	for _, col := range s.columns {
		if col.Name == name {
			return col, true
		}
	}

	return ColumnInfo{}, false
}

func (s *SQLRepository[K, T]) quotedColumn(name string) (string, bool) {
	if _, ok := s.column(name); !ok {
		return "", false
	}

	return s.dialect.Quote(name), true
}

func (s *SQLRepository[K, T]) quotedColumns() []string {
	return sliceMap(s.columns, func(col ColumnInfo) string {
		return s.dialect.Quote(col.Name)
	})
}

func (s *SQLRepository[K, T]) columnList() string {
	return strings.Join(s.quotedColumns(), ",")
}

func (s *SQLRepository[K, T]) tableName() string {
	return s.dialect.TableName(s.tableDef.Schema, s.tableDef.Name)
}

// ColumnValues returns the stored value of every column for value, keyed by
// column name. Values of encoded columns are extended JSON text.
func (s *SQLRepository[K, T]) ColumnValues(value T) (map[string]any, error) {
	rec, err := s.encode(&value)
	if err != nil {
		return nil, err
	}

	row, err := s.rowValues(rec)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(row))
	for i, col := range s.columns {
		if rec.Has(col.Name) {
			out[col.Name] = row[i]
		}
	}

	return out, nil
}

package store

import (
	"database/sql"
	"reflect"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"
)

func TestDialectStatements(t *testing.T) {
	cols := []string{`"_id"`, `"name"`}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{
			name:     "postgres insert",
			got:      DialectPostgres.insertRows(`"actor"`, cols, 2, ""),
			expected: `INSERT INTO "actor" ("_id","name") VALUES (?,?),(?,?)`,
		},
		{
			name:     "postgres insert ignoring duplicates",
			got:      DialectPostgres.insertRows(`"actor"`, cols, 1, `"_id"`),
			expected: `INSERT INTO "actor" ("_id","name") VALUES (?,?) ON CONFLICT ("_id") DO NOTHING`,
		},
		{
			name:     "postgres upsert",
			got:      DialectPostgres.upsert(`"actor"`, cols, `"_id"`),
			expected: `INSERT INTO "actor" ("_id","name") VALUES (?,?) ON CONFLICT ("_id") DO UPDATE SET "name" = EXCLUDED."name"`,
		},
		{
			name:     "upsert of key only",
			got:      DialectSQLite.upsert(`"actor"`, cols[:1], `"_id"`),
			expected: `INSERT INTO "actor" ("_id") VALUES (?) ON CONFLICT ("_id") DO NOTHING`,
		},
		{
			name:     "oracle insert",
			got:      DialectOracle.insertRows(`"actor"`, cols, 1, ""),
			expected: `INSERT INTO "actor" ("_id","name") VALUES (?,?)`,
		},
		{
			name:     "oracle multi row insert",
			got:      DialectOracle.insertRows(`"actor"`, cols, 2, ""),
			expected: `INSERT ALL INTO "actor" ("_id","name") VALUES (?,?) INTO "actor" ("_id","name") VALUES (?,?) SELECT 1 FROM dual`,
		},
		{
			name: "oracle insert ignoring duplicates",
			got:  DialectOracle.insertRows(`"actor"`, cols, 2, `"_id"`),
			expected: `MERGE INTO "actor" t USING (SELECT ? "_id",? "name" FROM dual UNION ALL SELECT ? "_id",? "name" FROM dual) s ` +
				`ON (t."_id" = s."_id") WHEN NOT MATCHED THEN INSERT ("_id","name") VALUES (s."_id",s."name")`,
		},
		{
			name: "oracle merge",
			got:  DialectOracle.upsert(`"actor"`, cols, `"_id"`),
			expected: `MERGE INTO "actor" t USING (SELECT ? "_id",? "name" FROM dual) s ON (t."_id" = s."_id") ` +
				`WHEN MATCHED THEN UPDATE SET t."name" = s."name" WHEN NOT MATCHED THEN INSERT ("_id","name") VALUES (s."_id",s."name")`,
		},
		{name: "postgres create", got: DialectPostgres.createTable(`"actor"`, []string{`"_id" TEXT`}), expected: `CREATE TABLE IF NOT EXISTS "actor" ("_id" TEXT)`},
		{name: "oracle create", got: DialectOracle.createTable(`"actor"`, []string{`"_id" CLOB`}), expected: `CREATE TABLE "actor" ("_id" CLOB)`},
		{name: "postgres paging", got: DialectPostgres.paging(10, 20), expected: " LIMIT 10 OFFSET 20"},
		{name: "postgres offset only", got: DialectPostgres.paging(0, 20), expected: " OFFSET 20"},
		{name: "sqlite offset only", got: DialectSQLite.paging(0, 20), expected: " LIMIT -1 OFFSET 20"},
		{name: "no paging", got: DialectSQLite.paging(0, 0), expected: ""},
		{name: "oracle paging", got: DialectOracle.paging(10, 20), expected: " OFFSET 20 ROWS FETCH NEXT 10 ROWS ONLY"},
		{name: "table with schema", got: DialectPostgres.TableName("music", "Song"), expected: `"music"."Song"`},
		{name: "table without schema", got: DialectSQLite.TableName("", "Song"), expected: `"Song"`},
		{name: "postgres bind", got: DialectPostgres.rebind("a = ? AND b = ?"), expected: "a = $1 AND b = $2"},
		{name: "oracle bind", got: DialectOracle.rebind("a = ? AND b = ?"), expected: "a = :arg1 AND b = :arg2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.got)
		})
	}

	assert.Equal(t, sqlx.QUESTION, DialectSQLite.BindType)
}

func TestDialectColumnTypes(t *testing.T) {
	tests := []struct {
		col      ColumnInfo
		postgres string
		sqlite   string
		oracle   string
	}{
		{col: ColumnInfo{Type: reflect.TypeOf("")}, postgres: "TEXT", sqlite: "TEXT", oracle: "VARCHAR2(4000)"},
		{col: ColumnInfo{Type: reflect.TypeOf(int64(0))}, postgres: "BIGINT", sqlite: "INTEGER", oracle: "NUMBER(19)"},
		{col: ColumnInfo{Type: reflect.TypeOf(true)}, postgres: "BOOLEAN", sqlite: "INTEGER", oracle: "NUMBER(1)"},
		{col: ColumnInfo{Type: reflect.TypeOf(1.5)}, postgres: "DOUBLE PRECISION", sqlite: "REAL", oracle: "BINARY_DOUBLE"},
		{col: ColumnInfo{Type: reflect.TypeOf(time.Time{})}, postgres: "TIMESTAMPTZ", sqlite: "TIMESTAMP", oracle: "TIMESTAMP WITH TIME ZONE"},
		{col: ColumnInfo{Type: reflect.TypeOf([]byte{})}, postgres: "BYTEA", sqlite: "BLOB", oracle: "BLOB"},
		{col: ColumnInfo{Type: reflect.TypeOf(ptr(1))}, postgres: "BIGINT", sqlite: "INTEGER", oracle: "NUMBER(19)"},
		{col: ColumnInfo{Type: reflect.TypeOf(null.String{})}, postgres: "TEXT", sqlite: "TEXT", oracle: "VARCHAR2(4000)"},
		{col: ColumnInfo{Type: reflect.TypeOf(null.Int{})}, postgres: "BIGINT", sqlite: "INTEGER", oracle: "NUMBER(19)"},
		{col: ColumnInfo{Type: reflect.TypeOf(null.Time{})}, postgres: "TIMESTAMPTZ", sqlite: "TIMESTAMP", oracle: "TIMESTAMP WITH TIME ZONE"},
		{col: ColumnInfo{Type: reflect.TypeOf(sql.NullFloat64{})}, postgres: "DOUBLE PRECISION", sqlite: "REAL", oracle: "BINARY_DOUBLE"},
		{col: ColumnInfo{}, postgres: "TEXT", sqlite: "TEXT", oracle: "VARCHAR2(4000)"},
		{col: ColumnInfo{Type: reflect.TypeOf([]string{}), Encoded: true}, postgres: "TEXT", sqlite: "TEXT", oracle: "CLOB"},
	}

	for _, tt := range tests {
		name := "converted"
		if tt.col.Type != nil {
			name = tt.col.Type.String()
		}

		t.Run(name, func(t *testing.T) {
			for dialect, expected := range map[string]string{"postgres": tt.postgres, "sqlite": tt.sqlite, "oracle": tt.oracle} {
				var d Dialect
				switch dialect {
				case "postgres":
					d = DialectPostgres
				case "sqlite":
					d = DialectSQLite
				case "oracle":
					d = DialectOracle
				}

				got, err := d.ColumnType(tt.col)
				require.NoError(t, err)
				assert.Equal(t, expected, got, dialect)
			}
		})
	}

	_, err := DialectPostgres.ColumnType(ColumnInfo{Name: "ch", Type: reflect.TypeOf(make(chan int))})
	assert.Error(t, err)
}

func TestParseFilterMapIntoWhereClause(t *testing.T) {
	where, args, err := ParseFilterMapIntoWhereClause(map[string]any{
		"name":    FilterStringContainsFrom("ota"),
		"age":     []int{10, 20},
		"deleted": FilterNullFrom(true),
		"email":   FilterNullFrom(false),
		"id":      []string{"a"},
		"raw":     []byte("x"),
		"phone":   nil,
		"empty":   []int{},
	})
	require.NoError(t, err)

	assert.Equal(t, `age IN(?, ?) AND deleted IS NULL AND email IS NOT NULL AND id = ? AND name LIKE ? AND phone IS NULL AND raw = ?`, where)
	assert.Equal(t, []any{10, 20, "a", "%ota%", []byte("x")}, args)

	where, args, err = ParseFilterMapIntoWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestMakeSortClause(t *testing.T) {
	assert.Equal(t, "", MakeSortClause(nil, nil))
	assert.Equal(t, "name DESC,created_at ASC", MakeSortClause([]string{"-Name", "+createdAt"}, map[string]string{"createdat": "created_at"}))
}

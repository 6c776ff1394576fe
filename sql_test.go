package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"
)

type Album struct {
	Name string
	Year int
}

type Song struct {
	ID       string `store:"_id,id"`
	Title    string
	Plays    int
	Rating   float64
	Explicit bool
	Released time.Time
	Genre    null.String
	Tags     []string
	Album    Album `store:"album,embedded"`
	Audit
	Price Money `store:"price,converter=money"`
}

func newSQLiteDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := ConnectSqlite(SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func newSongRepository(t *testing.T, db *sqlx.DB, options ...RepositoryOption) *SQLRepository[string, Song] {
	t.Helper()

	converters := NewConverterRegistry()
	converters.RegisterConverter("money", moneyConverter())

	options = append([]RepositoryOption{WithConverterRegistry(converters)}, options...)
	repo, err := CreateSQLRepository[string, Song](db, DialectSQLite, options...)
	require.NoError(t, err)
	require.NoError(t, repo.CreateTable(context.Background()))

	return repo
}

func testSongs() []Song {
	released := time.Date(1999, 3, 31, 0, 0, 0, 0, time.UTC)
	return []Song{
		{
			ID:       "s1",
			Title:    "Clubbed to Death",
			Plays:    3,
			Rating:   4.5,
			Explicit: true,
			Released: released,
			Genre:    null.StringFrom("electronic"),
			Tags:     []string{"soundtrack", "instrumental"},
			Album:    Album{Name: "The Matrix", Year: 1999},
			Audit:    Audit{CreatedBy: "system", CreatedAt: released},
			Price:    Money{Currency: "BRL", Amount: 10},
		},
		{
			ID:       "s2",
			Title:    "Spybreak",
			Plays:    1,
			Released: released,
			Album:    Album{Name: "The Matrix"},
			Price:    Money{Currency: "USD", Amount: 2},
		},
		{
			ID:       "s3",
			Title:    "Wake Up",
			Plays:    2,
			Released: released.AddDate(1, 0, 0),
			Genre:    null.StringFrom("rock"),
			Price:    Money{Currency: "USD", Amount: 3},
		},
	}
}

func TestSQLRepositoryTableDef(t *testing.T) {
	repo := newSongRepository(t, newSQLiteDB(t))

	td := repo.GetTableDef()
	assert.Equal(t, "Song", td.Name)
	assert.Equal(t, "_id", td.KeyField)
	assert.Equal(t, []string{
		"_id", "title", "plays", "rating", "explicit", "released", "genre",
		"tags", "album", "createdBy", "createdAt", "price",
	}, td.ColumnNames())

	assert.Contains(t, td.CreateDDL, `"_id" TEXT NOT NULL PRIMARY KEY`)
	assert.Contains(t, td.CreateDDL, `"plays" INTEGER`)
	assert.Contains(t, td.CreateDDL, `"rating" REAL`)
	assert.Contains(t, td.CreateDDL, `"released" TIMESTAMP`)
	assert.Contains(t, td.CreateDDL, `"album" TEXT`)

	tags, ok := td.Column("tags")
	require.True(t, ok)
	assert.True(t, tags.Encoded)
	assert.Equal(t, "sqlite", repo.Dialect().String())
}

func TestSQLRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := newSongRepository(t, newSQLiteDB(t))
	songs := testSongs()

	key, err := repo.Insert(ctx, songs[0])
	require.NoError(t, err)
	assert.Equal(t, "s1", key)

	var got Song
	require.NoError(t, repo.Get(ctx, "s1", &got))
	if diff := cmp.Diff(songs[0], got); diff != "" {
		t.Errorf("get mismatch (-want +got):\n%s", diff)
	}

	_, err = repo.Insert(ctx, songs[0])
	assert.ErrorIs(t, err, ErrKeyAlreadyExists)

	_, err = repo.Insert(ctx, songs[0], WithIgnoreDuplicate())
	assert.NoError(t, err)

	require.NoError(t, repo.Update(ctx, "s1", map[string]any{
		"plays": 10,
		"tags":  []string{"remix"},
		"genre": nil,
	}))

	require.NoError(t, repo.Get(ctx, "s1", &got))
	assert.Equal(t, 10, got.Plays)
	assert.Equal(t, []string{"remix"}, got.Tags)
	assert.False(t, got.Genre.Valid)

	err = repo.Update(ctx, "missing", map[string]any{"plays": 1})
	assert.ErrorIs(t, err, ErrKeynotFound)

	err = repo.Update(ctx, "s1", map[string]any{"unknown": 1})
	assert.Error(t, err)

	updated := songs[1]
	updated.Title = "Spybreak! (Short One)"
	require.NoError(t, repo.Upsert(ctx, "s1", updated))

	require.NoError(t, repo.Get(ctx, "s1", &got))
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, "Spybreak! (Short One)", got.Title)
	assert.Empty(t, got.Tags)

	require.NoError(t, repo.Upsert(ctx, "s9", songs[2]))
	require.NoError(t, repo.Get(ctx, "s9", &got))
	assert.Equal(t, "Wake Up", got.Title)

	require.NoError(t, repo.Delete(ctx, []string{"s1", "s9"}))
	err = repo.Get(ctx, "s1", &got)
	assert.ErrorIs(t, err, ErrKeynotFound)
}

func TestSQLRepositorySelect(t *testing.T) {
	ctx := context.Background()
	repo := newSongRepository(t, newSQLiteDB(t))

	keys, err := repo.InsertAll(ctx, testSongs())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, keys)

	tests := []struct {
		name     string
		filter   map[string]any
		options  []QueryOption
		expected []string
	}{
		{name: "all sorted by plays", options: []QueryOption{WithSorter("-plays")}, expected: []string{"s1", "s3", "s2"}},
		{name: "equal", filter: map[string]any{"title": "Spybreak"}, expected: []string{"s2"}},
		{name: "in list", filter: map[string]any{"plays": []int{1, 2}}, options: []QueryOption{WithSorter("plays")}, expected: []string{"s2", "s3"}},
		{name: "is null", filter: map[string]any{"genre": FilterNullFrom(true)}, expected: []string{"s2"}},
		{name: "is not null", filter: map[string]any{"genre": FilterNullFrom(false)}, options: []QueryOption{WithSorter("+_id")}, expected: []string{"s1", "s3"}},
		{name: "contains", filter: map[string]any{"title": FilterStringContainsFrom("ak")}, options: []QueryOption{WithSorter("_id")}, expected: []string{"s2", "s3"}},
		{name: "unknown keys are ignored", filter: map[string]any{"nope": 1}, options: []QueryOption{WithSorter("_id")}, expected: []string{"s1", "s2", "s3"}},
		{name: "limit", options: []QueryOption{WithSorter("_id"), WithLimit(2)}, expected: []string{"s1", "s2"}},
		{name: "offset without limit", options: []QueryOption{WithSorter("_id"), WithOffset(1)}, expected: []string{"s2", "s3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var songs []Song
			require.NoError(t, repo.Select(ctx, tt.filter, &songs, tt.options...))
			assert.Equal(t, tt.expected, sliceMap(songs, func(s Song) string { return s.ID }))
		})
	}

	var titles []string
	err = repo.SQLQuery(ctx, &titles, `SELECT "title" FROM "Song" WHERE "plays" > ? ORDER BY "title"`, []any{1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Clubbed to Death", "Wake Up"}, titles)

	require.NoError(t, repo.SQLExec(ctx, `DELETE FROM "Song" WHERE "plays" = ?`, []any{1}))
	var songs []Song
	require.NoError(t, repo.Select(ctx, nil, &songs))
	assert.Len(t, songs, 2)
}

func TestSQLRepositoryTransaction(t *testing.T) {
	ctx := context.Background()
	repo := newSongRepository(t, newSQLiteDB(t))
	songs := testSongs()

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)

	_, err = repo.Insert(ctx, songs[0], WithTransaction(tx))
	require.NoError(t, err)

	var got Song
	require.NoError(t, repo.Get(ctx, "s1", &got, WithTransaction(tx)))
	require.NoError(t, tx.Rollback(ctx))

	err = repo.Get(ctx, "s1", &got)
	assert.ErrorIs(t, err, ErrKeynotFound)

	tx, err = repo.Begin(ctx)
	require.NoError(t, err)
	_, err = repo.InsertAll(ctx, songs[1:], WithTransaction(tx))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	var all []Song
	require.NoError(t, repo.Select(ctx, nil, &all))
	assert.Len(t, all, 2)
}

func TestSQLRepositoryInitWith(t *testing.T) {
	db := newSQLiteDB(t)
	newSongRepository(t, db)

	repo := newSongRepository(t, db, InitWith(testSongs()))

	var songs []Song
	require.NoError(t, repo.Select(context.Background(), nil, &songs))
	assert.Len(t, songs, 3)

	// existing keys are skipped
	newSongRepository(t, db, InitWith(testSongs()))
}

func TestSQLRepositoryKeepsExistingColumns(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDB(t)

	_, err := db.Exec(`CREATE TABLE "Song" ("_id" TEXT NOT NULL PRIMARY KEY, "title" TEXT, "plays" INTEGER)`)
	require.NoError(t, err)

	repo := newSongRepository(t, db)
	_, err = repo.Insert(ctx, testSongs()[0])
	require.NoError(t, err)

	var got Song
	require.NoError(t, repo.Get(ctx, "s1", &got))
	assert.Equal(t, Song{ID: "s1", Title: "Clubbed to Death", Plays: 3}, got)
}

func TestSQLRepositoryColumnValues(t *testing.T) {
	repo := newSongRepository(t, newSQLiteDB(t))

	values, err := repo.ColumnValues(testSongs()[1])
	require.NoError(t, err)

	assert.Equal(t, "s2", values["_id"])
	assert.Equal(t, "USD 2", values["price"])
	assert.JSONEq(t, `{"v":{"name":"The Matrix","year":0}}`, values["album"].(string))
	assert.NotContains(t, values, "genre")
	assert.NotContains(t, values, "tags")
}

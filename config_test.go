package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, "5432", cfg.Postgres.Port)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	assert.Equal(t, ":memory:", cfg.SQLite.Path)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, 10*time.Second, cfg.Mongo.ConnectTimeout)
	assert.Equal(t, "records", cfg.Bolt.Bucket)
	assert.Equal(t, time.Second, cfg.Bolt.Timeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
postgres:
  host: db.internal
  database: films
  user: neo
sqlite:
  path: /tmp/films.db
mongo:
  connect_timeout: 3s
redis:
  db: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recordstore.yaml"), []byte(content), 0o600))
	t.Setenv("RECORDSTORE_POSTGRES_PASSWORD", "secret")
	t.Setenv("RECORDSTORE_POSTGRES_HOST", "db.override")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, PGConfig{
		Host:     "db.override",
		Port:     "5432",
		Database: "films",
		User:     "neo",
		Password: "secret",
		SSLMode:  "disable",
	}, cfg.Postgres)
	assert.Equal(t, "/tmp/films.db", cfg.SQLite.Path)
	assert.Equal(t, 3*time.Second, cfg.Mongo.ConnectTimeout)
	assert.Equal(t, 2, cfg.Redis.DB)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "recordstore.db", cfg.Bolt.Path)
}

func TestLoadConfigInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recordstore.yaml"), []byte("postgres: [unclosed"), 0o600))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestPGConfigDSN(t *testing.T) {
	cfg := PGConfig{Host: "db", Port: "5432", Database: "films", User: "neo", Password: "p@ss"}
	assert.Equal(t, "postgres://neo:p%40ss@db:5432/films?sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Equal(t, "postgres://neo:p%40ss@db:5432/films?sslmode=require", cfg.DSN())
}

package store

import (
	"context"
	"fmt"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/mongo"
	mongoOptions "go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"
)

type PGConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string `mapstructure:"sslmode"`
}

func (c PGConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}

	return u.String()
}

// ConnectPostgresql opens a Postgres database through the pgx driver.
func ConnectPostgresql(config PGConfig) (*sqlx.DB, error) {
	return sqlx.Open("pgx", config.DSN())
}

type SQLiteConfig struct {
	// Path is the database file, or ":memory:".
	Path string
}

// ConnectSqlite opens a SQLite database with the pure Go modernc driver.
// In-memory databases are limited to one connection so every query sees the
// same database.
func ConnectSqlite(config SQLiteConfig) (*sqlx.DB, error) {
	path := config.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// ConnectMongo connects to MongoDB and returns the configured database.
func ConnectMongo(ctx context.Context, config MongoConfig) (*mongo.Database, error) {
	opts := mongoOptions.Client().ApplyURI(config.URI)
	if config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(config.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb. %s", err.Error())
	}

	return client.Database(config.Database), nil
}

type BoltConfig struct {
	Path    string
	Bucket  string
	Timeout time.Duration
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

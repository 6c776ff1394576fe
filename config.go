package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	configFileName  = "recordstore"
	configFileType  = "yaml"
	configEnvPrefix = "RECORDSTORE"
)

// Config gathers the connection settings of every supported store.
type Config struct {
	Postgres PGConfig     `mapstructure:"postgres"`
	SQLite   SQLiteConfig `mapstructure:"sqlite"`
	Mongo    MongoConfig  `mapstructure:"mongo"`
	Bolt     BoltConfig   `mapstructure:"bolt"`
	Redis    RedisConfig  `mapstructure:"redis"`
}

// LoadConfig reads recordstore.yaml from the given directories, then applies
// RECORDSTORE_ environment overrides such as RECORDSTORE_POSTGRES_HOST.
// A missing file is not an error.
func LoadConfig(paths ...string) (Config, error) {
	v := viper.New()
	setConfigDefaults(v)

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(configEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if len(paths) > 0 {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// setConfigDefaults registers every key so AutomaticEnv can override keys
// that are absent from the file.
func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.database", "")
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("sqlite.path", ":memory:")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "")
	v.SetDefault("mongo.connect_timeout", "10s")

	v.SetDefault("bolt.path", "recordstore.db")
	v.SetDefault("bolt.bucket", defaultBoltBucket)
	v.SetDefault("bolt.timeout", defaultBoltTimeout)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

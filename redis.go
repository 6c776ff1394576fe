package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-redis/redis"
	"go.uber.org/zap"
)

const redisScanCount = 100

// RedisStore is a KeyValueStore backed by Redis.
type RedisStore struct {
	logger *zap.Logger
	db     *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(logger *zap.Logger, config RedisConfig) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := db.Ping().Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s. %s", config.Address, err.Error())
	}

	return &RedisStore{logger: logger, db: db}, nil
}

func (r *RedisStore) client(ctx context.Context) *redis.Client {
	if ctx == nil {
		return r.db
	}

	return r.db.WithContext(ctx)
}

func (r *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	return r.client(ctx).Set(key, value, 0).Err()
}

func (r *RedisStore) Create(ctx context.Context, key string, value []byte) error {
	ok, err := r.client(ctx).SetNX(key, value, 0).Result()
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w. %s", ErrKeyAlreadyExists, key)
	}

	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client(ctx).Get(key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w. %s", ErrKeynotFound, key)
	}

	return value, err
}

func (r *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	db := r.client(ctx)

	var keys []string
	var cursor uint64
	for {
		batch, next, err := db.Scan(cursor, prefix+"*", redisScanCount).Result()
		if err != nil {
			return nil, err
		}

		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	sort.Strings(keys)
	return dedupSorted(keys), nil
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	n, err := r.client(ctx).Del(keys...).Result()
	if err != nil {
		return err
	}

	r.logger.Debug("keys deleted", zap.Int64("count", n))
	return nil
}

func (r *RedisStore) Close() error {
	return r.db.Close()
}

// dedupSorted drops repeated keys, which SCAN may return more than once.
func dedupSorted(keys []string) []string {
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			out = append(out, k)
		}
	}

	return out
}

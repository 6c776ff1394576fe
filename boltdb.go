package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

const (
	// boltFileMode sets permissions so owner can read and write
	boltFileMode = 0600

	defaultBoltBucket  = "records"
	defaultBoltTimeout = 1 * time.Second
)

// BoltStore is a KeyValueStore keeping every key in one BoltDB bucket.
type BoltStore struct {
	logger *zap.Logger
	db     *bolt.DB
	bucket []byte
	Path   string
}

// OpenBoltStore opens, or creates, the BoltDB file at config.Path.
func OpenBoltStore(logger *zap.Logger, config BoltConfig) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultBoltTimeout
	}

	bucket := config.Bucket
	if bucket == "" {
		bucket = defaultBoltBucket
	}

	db, err := bolt.Open(config.Path, boltFileMode, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket %s. %s", bucket, err.Error())
	}

	return &BoltStore{
		logger: logger,
		db:     db,
		bucket: []byte(bucket),
		Path:   config.Path,
	}, nil
}

func (b *BoltStore) Put(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(key), value)
	})
}

func (b *BoltStore) Create(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt.Get([]byte(key)) != nil {
			return fmt.Errorf("%w. %s", ErrKeyAlreadyExists, key)
		}
		return bkt.Put([]byte(key), value)
	})
}

func (b *BoltStore) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.bucket).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%w. %s", ErrKeynotFound, key)
		}

		// v is only valid inside the transaction
		value = append([]byte(nil), v...)
		return nil
	})

	return value, err
}

func (b *BoltStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(b.bucket).Cursor()
		p := []byte(prefix)
		for k, _ := cur.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = cur.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})

	return keys, err
}

func (b *BoltStore) Delete(_ context.Context, keys ...string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		for _, key := range keys {
			if err := bkt.Delete([]byte(key)); err != nil {
				return err
			}
		}

		b.logger.Debug("keys deleted", zap.Int("count", len(keys)))
		return nil
	})
}

// Close closes the BoltDB file.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

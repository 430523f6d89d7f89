package kv

import (
	"bytes"
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// bucketName holds every pagefs key; bbolt requires at least one bucket.
var bucketName = []byte("fs9")

// Bolt is a Store persisted in a bbolt database file.
type Bolt struct {
	db   *bolt.DB
	path string
}

// NewBolt opens (creating if needed) a bbolt-backed store at path.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open kv database %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create kv bucket: %w", err)
	}
	return &Bolt{db: db, path: path}, nil
}

// String returns a description for logs.
func (b *Bolt) String() string {
	return fmt.Sprintf("kv{%s}", b.path)
}

// Get returns the value for key.
func (b *Bolt) Get(ctx context.Context, key []byte) (value []byte, found bool, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v == nil {
			return nil
		}
		found = true
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	return value, found, err
}

// Set stores value under key.
func (b *Bolt) Set(ctx context.Context, key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
}

// Delete removes key.
func (b *Bolt) Delete(ctx context.Context, key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
}

// Scan returns all pairs under prefix sorted by key. bbolt cursors iterate
// in byte order so the result needs no extra sort.
func (b *Bolt) Scan(ctx context.Context, prefix []byte) ([]Pair, error) {
	var pairs []Pair
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			value := make([]byte, len(v))
			copy(value, v)
			pairs = append(pairs, Pair{Key: key, Value: value})
		}
		return nil
	})
	return pairs, err
}

// Close closes the underlying database.
func (b *Bolt) Close() error {
	return b.db.Close()
}

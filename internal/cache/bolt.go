package cache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	boltDirPerm     = fs.FileMode(0o700)
	boltFilePerm    = fs.FileMode(0o600)
	boltOpenTimeout = 5 * time.Second
)

var kvBucket = []byte("kv")

// Bolt stores cache entries in a single bbolt bucket.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens the bolt file at path, creating it if it does not exist.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), boltDirPerm); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(kvBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing cache db: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Get implements Backend.
func (b *Bolt) Get(key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(kvBucket).Get([]byte(key))
		if v != nil {
			// v is only valid inside the transaction.
			value = append([]byte{}, v...)
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, found, nil
}

// Put implements Backend.
func (b *Bolt) Put(key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), value)
	})
}

// Delete implements Backend.
func (b *Bolt) Delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Delete([]byte(key))
	})
}

// Close implements Backend.
func (b *Bolt) Close() error {
	return b.db.Close()
}

package storage

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketLedger = []byte("ledger")

// Bolt is a persistent backend on a single bbolt file.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the bbolt file at path.
func OpenBolt(path string) (*Bolt, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt: path required")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLedger)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt init bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLedger).Get([]byte(key))
		if v != nil {
			// bbolt values are only valid inside the transaction.
			out = copyBytes(v)
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, found, nil
}

func (b *Bolt) Set(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLedger).Put([]byte(key), value)
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

// Package storage implements the durable-storage tier (SPEC_FULL.md §4.2):
// a transactional key/value abstraction, one bucket per document, and the
// chunked record codec that fits arbitrarily large CRDT state into a store
// with per-value and per-object size limits.
package storage

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// KV is the transactional key/value contract Chunked is built on: list the
// current record's fields, write fields, or clear them. One KV instance is
// scoped to a single document's bucket.
type KV interface {
	// List returns every field currently stored, or an empty map if the
	// bucket holds nothing.
	List() (map[string][]byte, error)
	// Put writes the given fields into the bucket, overwriting keys that
	// already exist; keys not among fields are left as they are.
	Put(fields map[string][]byte) error
	// DeleteAll empties the bucket.
	DeleteAll() error
}

// BoltStore opens one bbolt bucket per document name, matching §4.2's "list
// / put / deleteAll" contract with bbolt's own transactional guarantees —
// each List, Put and DeleteAll call runs in its own bbolt transaction. The
// write algorithm's "deleteAll first, then put" sequence is two such
// transactions, so a List between them sees an empty bucket.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if necessary) a bbolt database file.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open bbolt db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error { return s.db.Close() }

// Bucket returns a KV scoped to the named document's bucket.
func (s *BoltStore) Bucket(name string) KV {
	return &boltBucket{db: s.db, name: []byte(name)}
}

type boltBucket struct {
	db   *bolt.DB
	name []byte
}

func (b *boltBucket) List() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.name)
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[string(k)] = cp
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list bucket %s: %w", b.name, err)
	}
	return out, nil
}

func (b *boltBucket) Put(fields map[string][]byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(b.name)
		if err != nil {
			return err
		}
		for k, v := range fields {
			if err := bkt.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: put bucket %s: %w", b.name, err)
	}
	return nil
}

func (b *boltBucket) DeleteAll() error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(b.name) == nil {
			return nil
		}
		return tx.DeleteBucket(b.name)
	})
	if err != nil {
		return fmt.Errorf("storage: delete bucket %s: %w", b.name, err)
	}
	return nil
}

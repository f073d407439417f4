// Package boltstore adapts go.etcd.io/bbolt into the narrow transaction
// shape the timeseries cache needs: named sub-stores, read-only /
// read-write transactions, point lookups, full scans, and inclusive
// range scans. It plays the role the original's embedded key-value
// engine collaborator plays, grounded on the bucket-per-concern layout
// go/boltutil used for its own indexed bucket store.
package boltstore

import (
	"bytes"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// DB is a single bbolt file holding one or more named sub-stores
// (buckets), each created up front so callers never have to special-case
// a missing bucket.
type DB struct {
	bdb *bolt.DB
}

// Open opens (creating if necessary) a bbolt file at path and ensures
// every name in subStores exists as a top-level bucket.
func Open(path string, subStores []string) (*DB, error) {
	bdb, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bolt db at %q", path)
	}
	db := &DB{bdb: bdb}
	if err := db.Update(func(tx Tx) error {
		for _, name := range subStores {
			if _, err := tx.Bucket(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying bbolt file.
func (db *DB) Close() error {
	return db.bdb.Close()
}

// View runs fn in a read-only transaction. bbolt's View already
// guarantees the closure sees a consistent snapshot and that the
// transaction is released on return, which satisfies the adapter's
// read-only mode requirement without any further bookkeeping here.
func (db *DB) View(fn func(Tx) error) error {
	return db.bdb.View(func(btx *bolt.Tx) error {
		return fn(&tx{btx: btx})
	})
}

// Update runs fn in a read-write transaction. When fn returns nil, bbolt
// commits and fsyncs before Update itself returns -- that return is the
// adapter's "complete" signal; there is no separate awaitable, since the
// transaction boundary here is a synchronous closure rather than an
// asynchronous promise.
func (db *DB) Update(fn func(Tx) error) error {
	return db.bdb.Update(func(btx *bolt.Tx) error {
		return fn(&tx{btx: btx})
	})
}

// Tx is a scoped transaction over zero or more named sub-stores.
type Tx interface {
	// Bucket returns the named sub-store, creating it if this is a
	// read-write transaction and it does not yet exist.
	Bucket(name string) (SubStore, error)
}

// SubStore is one named bucket within a transaction.
type SubStore interface {
	// Get returns the value for key, or nil if absent.
	Get(key []byte) []byte

	// GetAll returns every key/value pair in the bucket.
	GetAll() map[string][]byte

	// IterateRange visits every key/value pair with lo <= key <= hi, in
	// key order. A nil lo or hi leaves that bound open.
	IterateRange(lo, hi []byte, visitor func(key, value []byte) error) error

	// Put writes key/value. Returns an error if called within a
	// read-only transaction.
	Put(key, value []byte) error
}

type tx struct {
	btx *bolt.Tx
}

func (t *tx) Bucket(name string) (SubStore, error) {
	b := t.btx.Bucket([]byte(name))
	if b == nil {
		if !t.btx.Writable() {
			return nil, errors.Errorf("sub-store %q does not exist", name)
		}
		var err error
		b, err = t.btx.CreateBucket([]byte(name))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create sub-store %q", name)
		}
	}
	return &subStore{b: b}, nil
}

type subStore struct {
	b *bolt.Bucket
}

func (s *subStore) Get(key []byte) []byte {
	v := s.b.Get(key)
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (s *subStore) GetAll() map[string][]byte {
	out := map[string][]byte{}
	_ = s.b.ForEach(func(k, v []byte) error {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[string(k)] = cp
		return nil
	})
	return out
}

func (s *subStore) IterateRange(lo, hi []byte, visitor func(key, value []byte) error) error {
	c := s.b.Cursor()
	var k, v []byte
	if lo == nil {
		k, v = c.First()
	} else {
		k, v = c.Seek(lo)
	}
	for ; k != nil; k, v = c.Next() {
		if hi != nil && bytes.Compare(k, hi) > 0 {
			break
		}
		if err := visitor(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *subStore) Put(key, value []byte) error {
	return s.b.Put(key, value)
}

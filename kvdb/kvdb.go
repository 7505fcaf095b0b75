// Package kvdb abstracts the embedded key/value store backing swapdb so that
// the persistence layer (package swapdb) is not wedded to a single storage
// engine. Only a bbolt-backed Backend is implemented here, matching the
// teacher's single-writer embedded store, but the interface is the same
// shape the teacher exposes for its postgres/sqlite/etcd backends.
package kvdb

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Backend is a minimal key/value database abstraction: a single-writer,
// multiple-reader transactional store organized into nested buckets.
type Backend interface {
	// View opens a read-only transaction. Concurrent View calls may
	// proceed in parallel.
	View(fn func(tx ReadTx) error) error

	// Update opens a read-write transaction. The backend serializes all
	// Update calls against one another.
	Update(fn func(tx ReadWriteTx) error) error

	// Close releases the backend's resources.
	Close() error
}

// ReadTx grants read access to buckets within a transaction.
type ReadTx interface {
	ReadBucket(key []byte) ReadBucket
}

// ReadWriteTx grants read and write access to buckets within a transaction.
type ReadWriteTx interface {
	ReadTx
	ReadWriteBucket(key []byte) ReadWriteBucket
	CreateTopLevelBucket(key []byte) (ReadWriteBucket, error)
}

// ReadBucket reads key/value pairs and nested buckets.
type ReadBucket interface {
	Get(key []byte) []byte
	NestedReadBucket(key []byte) ReadBucket
	ForEach(func(k, v []byte) error) error
}

// ReadWriteBucket reads and writes key/value pairs and nested buckets.
type ReadWriteBucket interface {
	ReadBucket
	Put(key, value []byte) error
	Delete(key []byte) error
	CreateBucketIfNotExists(key []byte) (ReadWriteBucket, error)
	NestedReadWriteBucket(key []byte) ReadWriteBucket
}

// boltBackend is the bbolt-backed implementation of Backend.
type boltBackend struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a bbolt-backed Backend at
// <dir>/<name>.
func Open(dir, name string) (Backend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("kvdb: creating data dir: %w", err)
	}

	path := filepath.Join(dir, name)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kvdb: opening %s: %w", path, err)
	}

	return &boltBackend{db: db}, nil
}

// View opens a read-only transaction against the bbolt database.
//
// NOTE: Part of the Backend interface.
func (b *boltBackend) View(fn func(tx ReadTx) error) error {
	return b.db.View(func(btx *bolt.Tx) error {
		return fn(&boltTx{tx: btx})
	})
}

// Update opens a read-write transaction against the bbolt database. bbolt
// itself serializes writers, which is exactly the single-writer discipline
// the persistence layer requires.
//
// NOTE: Part of the Backend interface.
func (b *boltBackend) Update(fn func(tx ReadWriteTx) error) error {
	return b.db.Update(func(btx *bolt.Tx) error {
		return fn(&boltTx{tx: btx})
	})
}

// Close releases the bbolt database's file handle.
//
// NOTE: Part of the Backend interface.
func (b *boltBackend) Close() error {
	return b.db.Close()
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) ReadBucket(key []byte) ReadBucket {
	bkt := t.tx.Bucket(key)
	if bkt == nil {
		return nil
	}
	return &boltBucket{bkt: bkt}
}

func (t *boltTx) ReadWriteBucket(key []byte) ReadWriteBucket {
	bkt := t.tx.Bucket(key)
	if bkt == nil {
		return nil
	}
	return &boltBucket{bkt: bkt}
}

func (t *boltTx) CreateTopLevelBucket(key []byte) (ReadWriteBucket, error) {
	bkt, err := t.tx.CreateBucketIfNotExists(key)
	if err != nil {
		return nil, err
	}
	return &boltBucket{bkt: bkt}, nil
}

type boltBucket struct {
	bkt *bolt.Bucket
}

func (b *boltBucket) Get(key []byte) []byte {
	return b.bkt.Get(key)
}

func (b *boltBucket) Put(key, value []byte) error {
	return b.bkt.Put(key, value)
}

func (b *boltBucket) Delete(key []byte) error {
	return b.bkt.Delete(key)
}

func (b *boltBucket) ForEach(fn func(k, v []byte) error) error {
	return b.bkt.ForEach(fn)
}

func (b *boltBucket) CreateBucketIfNotExists(key []byte) (ReadWriteBucket, error) {
	nested, err := b.bkt.CreateBucketIfNotExists(key)
	if err != nil {
		return nil, err
	}
	return &boltBucket{bkt: nested}, nil
}

func (b *boltBucket) NestedReadBucket(key []byte) ReadBucket {
	nested := b.bkt.Bucket(key)
	if nested == nil {
		return nil
	}
	return &boltBucket{bkt: nested}
}

func (b *boltBucket) NestedReadWriteBucket(key []byte) ReadWriteBucket {
	nested := b.bkt.Bucket(key)
	if nested == nil {
		return nil
	}
	return &boltBucket{bkt: nested}
}

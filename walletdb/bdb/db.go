// Copyright (c) 2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bdb

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/btcfed/fedwallet/walletdb"
	bolt "go.etcd.io/bbolt"
)

// convertErr maps bolt errors onto their walletdb equivalents.
func convertErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		return walletdb.ErrDbNotOpen
	case errors.Is(err, bolt.ErrInvalid):
		return walletdb.ErrInvalid
	case errors.Is(err, bolt.ErrTxNotWritable):
		return walletdb.ErrTxNotWritable
	case errors.Is(err, bolt.ErrTxClosed):
		return walletdb.ErrTxClosed
	case errors.Is(err, bolt.ErrBucketNotFound):
		return walletdb.ErrBucketNotFound
	case errors.Is(err, bolt.ErrBucketNameRequired):
		return walletdb.ErrBucketNameRequired
	case errors.Is(err, bolt.ErrKeyRequired):
		return walletdb.ErrKeyRequired
	case errors.Is(err, bolt.ErrKeyTooLarge):
		return walletdb.ErrKeyTooLarge
	case errors.Is(err, bolt.ErrValueTooLarge):
		return walletdb.ErrValueTooLarge
	case errors.Is(err, bolt.ErrIncompatibleValue):
		return walletdb.ErrIncompatibleValue
	}

	return err
}

// transaction implements walletdb.ReadWriteTx on top of a bolt transaction.
type transaction struct {
	boltTx *bolt.Tx
}

func (tx *transaction) ReadBucket(key []byte) walletdb.ReadBucket {
	// Avoid handing out a non-nil interface wrapping a nil bucket.
	b := tx.ReadWriteBucket(key)
	if b == nil {
		return nil
	}
	return b
}

func (tx *transaction) ReadWriteBucket(key []byte) walletdb.ReadWriteBucket {
	boltBucket := tx.boltTx.Bucket(key)
	if boltBucket == nil {
		return nil
	}
	return (*bucket)(boltBucket)
}

func (tx *transaction) CreateTopLevelBucket(key []byte) (walletdb.ReadWriteBucket, error) {
	boltBucket, err := tx.boltTx.CreateBucketIfNotExists(key)
	if err != nil {
		return nil, convertErr(err)
	}
	return (*bucket)(boltBucket), nil
}

func (tx *transaction) Commit() error {
	return convertErr(tx.boltTx.Commit())
}

func (tx *transaction) Rollback() error {
	return convertErr(tx.boltTx.Rollback())
}

// bucket implements walletdb.ReadWriteBucket.
type bucket bolt.Bucket

var _ walletdb.ReadWriteBucket = (*bucket)(nil)

func (b *bucket) NestedReadBucket(key []byte) walletdb.ReadBucket {
	nested := b.NestedReadWriteBucket(key)
	if nested == nil {
		return nil
	}
	return nested
}

func (b *bucket) NestedReadWriteBucket(key []byte) walletdb.ReadWriteBucket {
	boltBucket := (*bolt.Bucket)(b).Bucket(key)
	if boltBucket == nil {
		return nil
	}
	return (*bucket)(boltBucket)
}

func (b *bucket) CreateBucketIfNotExists(key []byte) (walletdb.ReadWriteBucket, error) {
	boltBucket, err := (*bolt.Bucket)(b).CreateBucketIfNotExists(key)
	if err != nil {
		return nil, convertErr(err)
	}
	return (*bucket)(boltBucket), nil
}

func (b *bucket) DeleteNestedBucket(key []byte) error {
	return convertErr((*bolt.Bucket)(b).DeleteBucket(key))
}

func (b *bucket) ForEach(fn func(k, v []byte) error) error {
	return convertErr((*bolt.Bucket)(b).ForEach(fn))
}

func (b *bucket) Get(key []byte) []byte {
	return (*bolt.Bucket)(b).Get(key)
}

func (b *bucket) Put(key, value []byte) error {
	return convertErr((*bolt.Bucket)(b).Put(key, value))
}

func (b *bucket) Delete(key []byte) error {
	return convertErr((*bolt.Bucket)(b).Delete(key))
}

func (b *bucket) ReadCursor() walletdb.ReadCursor {
	return (*cursor)((*bolt.Bucket)(b).Cursor())
}

// cursor implements walletdb.ReadCursor.  Mutating the bucket invalidates
// it.
type cursor bolt.Cursor

func (c *cursor) First() (key, value []byte) {
	return (*bolt.Cursor)(c).First()
}

func (c *cursor) Last() (key, value []byte) {
	return (*bolt.Cursor)(c).Last()
}

func (c *cursor) Next() (key, value []byte) {
	return (*bolt.Cursor)(c).Next()
}

func (c *cursor) Prev() (key, value []byte) {
	return (*bolt.Cursor)(c).Prev()
}

func (c *cursor) Seek(seek []byte) (key, value []byte) {
	return (*bolt.Cursor)(c).Seek(seek)
}

// db implements walletdb.DB.
type db bolt.DB

var _ walletdb.DB = (*db)(nil)

func (db *db) beginTx(writable bool) (*transaction, error) {
	boltTx, err := (*bolt.DB)(db).Begin(writable)
	if err != nil {
		return nil, convertErr(err)
	}
	return &transaction{boltTx: boltTx}, nil
}

func (db *db) BeginReadTx() (walletdb.ReadTx, error) {
	return db.beginTx(false)
}

func (db *db) BeginReadWriteTx() (walletdb.ReadWriteTx, error) {
	return db.beginTx(true)
}

func (db *db) Copy(w io.Writer) error {
	return convertErr((*bolt.DB)(db).View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(w)
		return err
	}))
}

func (db *db) Close() error {
	return convertErr((*bolt.DB)(db).Close())
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil || !os.IsNotExist(err)
}

// openDB opens the bolt file at dbPath.  walletdb.ErrDbDoesNotExist is
// returned when the file is missing and create is false.
func openDB(dbPath string, create bool, timeout time.Duration) (walletdb.DB, error) {
	if !create && !fileExists(dbPath) {
		return nil, walletdb.ErrDbDoesNotExist
	}

	boltDB, err := bolt.Open(dbPath, 0600, &bolt.Options{
		Timeout: timeout,
	})
	if err != nil {
		return nil, convertErr(err)
	}
	return (*db)(boltDB), nil
}

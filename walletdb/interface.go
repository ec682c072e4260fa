// Copyright (c) 2014-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletdb

import (
	"fmt"
	"io"
)

// ReadBucket is a read-only view over a collection of key/value pairs and
// nested buckets.
type ReadBucket interface {
	// NestedReadBucket returns the nested bucket with the given key, or
	// nil if it does not exist.
	NestedReadBucket(key []byte) ReadBucket

	// ForEach invokes fn for every key/value pair in the bucket in key
	// order.  Nested buckets are reported with a nil value.
	//
	// NOTE: keys and values are only valid for the lifetime of the
	// transaction.
	ForEach(fn func(k, v []byte) error) error

	// Get returns the value stored under key, or nil.
	//
	// NOTE: the value is only valid for the lifetime of the transaction.
	Get(key []byte) []byte

	ReadCursor() ReadCursor
}

// ReadWriteBucket extends ReadBucket with mutation.
type ReadWriteBucket interface {
	ReadBucket

	NestedReadWriteBucket(key []byte) ReadWriteBucket

	// CreateBucketIfNotExists returns the nested bucket under key,
	// creating it when absent.
	CreateBucketIfNotExists(key []byte) (ReadWriteBucket, error)

	// DeleteNestedBucket removes the nested bucket under key.  Returns
	// ErrBucketNotFound if it does not exist.
	DeleteNestedBucket(key []byte) error

	Put(key, value []byte) error
	Delete(key []byte) error
}

// ReadCursor iterates the key/value pairs of a bucket in key order.
type ReadCursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)
	Next() (key, value []byte)
	Prev() (key, value []byte)

	// Seek positions the cursor at seek, or at the next key after it when
	// seek is not present.
	Seek(seek []byte) (key, value []byte)
}

// ReadTx is a read-only database transaction.
type ReadTx interface {
	// ReadBucket returns the top-level bucket under key, or nil.
	ReadBucket(key []byte) ReadBucket

	Rollback() error
}

// ReadWriteTx is a read-write database transaction.  Nothing it writes is
// visible to other transactions until Commit returns.
type ReadWriteTx interface {
	ReadTx

	ReadWriteBucket(key []byte) ReadWriteBucket

	// CreateTopLevelBucket returns the top-level bucket under key,
	// creating it when absent.
	CreateTopLevelBucket(key []byte) (ReadWriteBucket, error)

	Commit() error
}

// DB is a persisted key/value store.  All access happens through
// transactions.
type DB interface {
	BeginReadTx() (ReadTx, error)
	BeginReadWriteTx() (ReadWriteTx, error)

	// Copy writes a consistent snapshot of the database to w.
	Copy(w io.Writer) error

	Close() error
}

// View opens a read-only transaction, hands it to f and rolls it back once f
// returns.
func View(db DB, f func(tx ReadTx) error) error {
	tx, err := db.BeginReadTx()
	if err != nil {
		return err
	}

	// Roll back even if f panics so the read lock is released.
	defer func() {
		_ = tx.Rollback()
	}()

	return f(tx)
}

// Update opens a read-write transaction and hands it to f.  The transaction
// is committed when f returns nil and rolled back otherwise, so a failing f
// leaves no partial state behind.
func Update(db DB, f func(tx ReadWriteTx) error) error {
	tx, err := db.BeginReadWriteTx()
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := f(tx); err != nil {
		return err
	}

	committed = true
	return tx.Commit()
}

// Driver describes a backend a DB can be created or opened with.
type Driver struct {
	// DbType uniquely identifies the backend.
	DbType string

	// Create creates a new database and opens it.
	Create func(args ...interface{}) (DB, error)

	// Open opens an existing database.
	Open func(args ...interface{}) (DB, error)
}

var drivers = make(map[string]*Driver)

// RegisterDriver makes a backend available under its DbType.
func RegisterDriver(driver Driver) error {
	if _, exists := drivers[driver.DbType]; exists {
		return ErrDbTypeRegistered
	}

	drivers[driver.DbType] = &driver
	return nil
}

// SupportedDrivers returns the registered backend types.
func SupportedDrivers() []string {
	types := make([]string, 0, len(drivers))
	for t := range drivers {
		types = append(types, t)
	}
	return types
}

// Create initializes and opens a new database of the given backend type.
func Create(dbType string, args ...interface{}) (DB, error) {
	drv, exists := drivers[dbType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDbUnknownType, dbType)
	}

	return drv.Create(args...)
}

// Open opens an existing database of the given backend type.
func Open(dbType string, args ...interface{}) (DB, error) {
	drv, exists := drivers[dbType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDbUnknownType, dbType)
	}

	return drv.Open(args...)
}

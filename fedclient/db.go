// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fedclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// DefaultMaxAttempts is how often Autocommit retries a conflicting
// transaction by default.
const DefaultMaxAttempts = 100

var (
	// ErrNotFound is returned by Tx.Get for missing keys.
	ErrNotFound = errors.New("key not found")

	// ErrDBLocked is returned by Open when another process holds the
	// database.
	ErrDBLocked = errors.New("database is locked by another process")
)

// ClosureError is returned by Autocommit when the transaction body itself
// failed.  Nothing was written.
type ClosureError struct {
	Err error
}

func (e *ClosureError) Error() string {
	return fmt.Sprintf("transaction failed: %v", e.Err)
}

func (e *ClosureError) Unwrap() error {
	return e.Err
}

// CommitFailedError is returned by Autocommit when every attempt to commit
// conflicted with another transaction, or committing failed otherwise.
type CommitFailedError struct {
	Attempts int
	Err      error
}

func (e *CommitFailedError) Error() string {
	return fmt.Sprintf("commit failed after %d attempts: %v", e.Attempts,
		e.Err)
}

func (e *CommitFailedError) Unwrap() error {
	return e.Err
}

// DB is the federation client store.  All writes go through Autocommit.
type DB struct {
	db *badger.DB
}

// Open opens or creates the store in dir.
func Open(dir string) (*DB, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = badgerLogger{}

	db, err := badger.Open(opts)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "Cannot acquire directory lock") ||
			strings.Contains(msg, "resource temporarily unavailable") {

			return nil, fmt.Errorf("%w: %s", ErrDBLocked, dir)
		}
		return nil, fmt.Errorf("open federation store at %s: %w", dir,
			err)
	}
	return &DB{db: db}, nil
}

// Close closes the store.
func (d *DB) Close() error {
	return d.db.Close()
}

// Tx is a read-write transaction handed to Autocommit and View bodies.
type Tx struct {
	txn      *badger.Txn
	onCommit []func()
}

// Get returns a copy of the value at key, or ErrNotFound.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	item, err := tx.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Has reports whether key exists.
func (tx *Tx) Has(key []byte) (bool, error) {
	_, err := tx.txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// Set writes value at key.
func (tx *Tx) Set(key, value []byte) error {
	return tx.txn.Set(key, value)
}

// Delete removes key.
func (tx *Tx) Delete(key []byte) error {
	return tx.txn.Delete(key)
}

// ForEach calls f for every key with prefix in key order.  value is only
// valid during the call.
func (tx *Tx) ForEach(prefix []byte, f func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		err := item.Value(func(val []byte) error {
			return f(key, val)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// OnCommit registers f to run once the transaction committed.  Hooks of
// attempts that did not commit are discarded.
func (tx *Tx) OnCommit(f func()) {
	tx.onCommit = append(tx.onCommit, f)
}

// View runs f in a read-only transaction.
func (d *DB) View(f func(tx *Tx) error) error {
	return d.db.View(func(txn *badger.Txn) error {
		return f(&Tx{txn: txn})
	})
}

// Autocommit runs f in a fresh transaction and commits it, starting over
// when the commit conflicts with a concurrent transaction.  f may therefore
// run several times and must not have side effects outside tx; use
// Tx.OnCommit for those.
func (d *DB) Autocommit(ctx context.Context, f func(tx *Tx) error,
	maxAttempts int) error {

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		tx := &Tx{txn: d.db.NewTransaction(true)}
		if fErr := f(tx); fErr != nil {
			tx.txn.Discard()
			return &ClosureError{Err: fErr}
		}

		err = tx.txn.Commit()
		if err == nil {
			for _, hook := range tx.onCommit {
				hook()
			}
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return &CommitFailedError{Attempts: attempt, Err: err}
		}

		log.Debugf("Commit conflict on attempt %d of %d", attempt,
			maxAttempts)
	}

	return &CommitFailedError{Attempts: maxAttempts, Err: err}
}

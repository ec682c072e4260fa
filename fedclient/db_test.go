// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fedclient

import (
	"context"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// interfere commits a write to key from outside the transaction under
// test.
func interfere(t *testing.T, db *DB, key []byte) {
	t.Helper()

	err := db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte("other"))
	})
	require.NoError(t, err)
}

// TestAutocommitRetriesConflicts ensures a transaction that lost a race is
// run again and its hooks only fire for the committed attempt.
func TestAutocommitRetriesConflicts(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	key := []byte("counter")

	var attempts, hooks int
	err := db.Autocommit(context.Background(), func(tx *Tx) error {
		attempts++
		if _, err := tx.Get(key); !errors.Is(err, ErrNotFound) &&
			err != nil {

			return err
		}
		if attempts == 1 {
			interfere(t, db, key)
		}
		tx.OnCommit(func() { hooks++ })
		return tx.Set(key, []byte("mine"))
	}, DefaultMaxAttempts)
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Equal(t, 1, hooks)

	err = db.View(func(tx *Tx) error {
		v, err := tx.Get(key)
		require.NoError(t, err)
		require.Equal(t, []byte("mine"), v)
		return nil
	})
	require.NoError(t, err)
}

// TestAutocommitGivesUp ensures permanent conflicts end in a
// CommitFailedError after the configured attempts.
func TestAutocommitGivesUp(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	key := []byte("contended")

	var attempts int
	err := db.Autocommit(context.Background(), func(tx *Tx) error {
		attempts++
		if _, err := tx.Has(key); err != nil {
			return err
		}
		interfere(t, db, key)
		return tx.Set(key, []byte("mine"))
	}, 3)

	var commitErr *CommitFailedError
	require.ErrorAs(t, err, &commitErr)
	require.Equal(t, 3, commitErr.Attempts)
	require.ErrorIs(t, err, badger.ErrConflict)
	require.Equal(t, 3, attempts)
}

// TestAutocommitClosureError ensures a failing body writes nothing and is
// not retried.
func TestAutocommitClosureError(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	errBody := errors.New("body failed")

	var attempts int
	err := db.Autocommit(context.Background(), func(tx *Tx) error {
		attempts++
		require.NoError(t, tx.Set([]byte("k"), []byte("v")))
		return errBody
	}, DefaultMaxAttempts)

	var closureErr *ClosureError
	require.ErrorAs(t, err, &closureErr)
	require.ErrorIs(t, err, errBody)
	require.Equal(t, 1, attempts)

	err = db.View(func(tx *Tx) error {
		_, err := tx.Get([]byte("k"))
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

// TestOperationLog ensures entries are unique and outcomes are cached.
func TestOperationLog(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	id := OperationID{1, 2, 3}

	err := db.Autocommit(ctx, func(tx *Tx) error {
		return AddOperationLogEntry(tx, id, "pay", []byte{0xaa})
	}, DefaultMaxAttempts)
	require.NoError(t, err)

	err = db.Autocommit(ctx, func(tx *Tx) error {
		return AddOperationLogEntry(tx, id, "pay", nil)
	}, DefaultMaxAttempts)
	require.ErrorIs(t, err, ErrOperationExists)

	err = db.View(func(tx *Tx) error {
		entry, err := GetOperationLogEntry(tx, id)
		require.NoError(t, err)
		require.Equal(t, "pay", entry.Kind)
		require.Equal(t, []byte{0xaa}, entry.Meta)
		require.True(t, entry.Outcome.IsNone())
		return nil
	})
	require.NoError(t, err)

	err = db.Autocommit(ctx, func(tx *Tx) error {
		return SetOperationOutcome(tx, id, []byte("done"))
	}, DefaultMaxAttempts)
	require.NoError(t, err)

	err = db.View(func(tx *Tx) error {
		entry, err := GetOperationLogEntry(tx, id)
		require.NoError(t, err)
		require.Equal(t, []byte("done"),
			entry.Outcome.UnwrapOr(nil))
		return nil
	})
	require.NoError(t, err)
}

// Copyright (c) 2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletdb

import "errors"

var (
	// ErrDbTypeRegistered is returned when two drivers register under the
	// same type.
	ErrDbTypeRegistered = errors.New("database type already registered")

	// ErrDbUnknownType is returned when no driver is registered for the
	// requested type.
	ErrDbUnknownType = errors.New("unknown database type")

	// ErrDbDoesNotExist is returned when opening a database that was
	// never created.
	ErrDbDoesNotExist = errors.New("database does not exist")

	// ErrDbNotOpen is returned when a closed database is accessed.
	ErrDbNotOpen = errors.New("database not open")

	// ErrInvalid is returned when the file is not a valid database.
	ErrInvalid = errors.New("invalid database")

	// ErrTxClosed is returned when committing or rolling back a finished
	// transaction.
	ErrTxClosed = errors.New("tx closed")

	// ErrTxNotWritable is returned when writing through a read-only
	// transaction.
	ErrTxNotWritable = errors.New("tx not writable")

	// ErrBucketNotFound is returned when a bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	ErrBucketNameRequired = errors.New("bucket name required")
	ErrKeyRequired        = errors.New("key required")
	ErrKeyTooLarge        = errors.New("key too large")
	ErrValueTooLarge      = errors.New("value too large")

	// ErrIncompatibleValue is returned when a bucket operation targets a
	// plain key or the other way around.
	ErrIncompatibleValue = errors.New("incompatible value")
)

// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode uint8

const (
	// ErrDatabase indicates an error with the underlying database.  The
	// Err field of the Error is set to the database error.
	ErrDatabase ErrorCode = iota

	// ErrData describes an error where data stored in the transaction
	// store is incorrect or malformed.
	ErrData

	// ErrInput describes an error where the variables passed into this
	// function by the caller are obviously incorrect.
	ErrInput

	// ErrUninitialized indicates the store was opened before Create was
	// run against its namespace.
	ErrUninitialized

	// ErrBlockNotFound indicates no header is stored at a height.
	ErrBlockNotFound
)

var errStrs = [...]string{
	ErrDatabase:      "ErrDatabase",
	ErrData:          "ErrData",
	ErrInput:         "ErrInput",
	ErrUninitialized: "ErrUninitialized",
	ErrBlockNotFound: "ErrBlockNotFound",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if int(e) < len(errStrs) {
		return errStrs[e]
	}
	return fmt.Sprintf("ErrorCode(%d)", e)
}

// Error provides a single type for errors that can happen during Store
// operation.
type Error struct {
	Code ErrorCode // Describes the kind of error
	Desc string    // Human readable description of the issue
	Err  error     // Underlying error, optional
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Desc + ": " + e.Err.Error()
	}
	return e.Desc
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

func storeError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Desc: desc, Err: err}
}

// IsError returns whether err is an Error with a matching error code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.Code == code
}

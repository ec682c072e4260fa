// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"
)

var (
	// ErrDB wraps failures of the wallet store.
	ErrDB = errors.New("wallet database error")

	// ErrBlockchain wraps failures talking to the blockchain backend.
	ErrBlockchain = errors.New("blockchain backend error")

	// ErrSign wraps a rejected signing attempt.
	ErrSign = errors.New("signing failed")

	// ErrNoConsensusFeeRate is returned when building a withdrawal before
	// any consensus round agreed on a fee rate.
	ErrNoConsensusFeeRate = errors.New("no consensus fee rate yet")

	// ErrKeyNotInDescriptor is returned when the signing key is not one
	// of the descriptor's keys.
	ErrKeyNotInDescriptor = errors.New("signing key is not part of the " +
		"descriptor")

	// ErrDescriptorMismatch is returned when a wallet store is opened
	// with a different descriptor than the one it was created for.
	ErrDescriptorMismatch = errors.New("descriptor does not match the " +
		"wallet database")
)

func dbError(err error) error {
	return fmt.Errorf("%w: %w", ErrDB, err)
}

func chainError(err error) error {
	return fmt.Errorf("%w: %w", ErrBlockchain, err)
}

func signError(err error) error {
	return fmt.Errorf("%w: %w", ErrSign, err)
}

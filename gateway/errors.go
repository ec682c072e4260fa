// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrUnknownOperation is returned when subscribing to an operation that was
// never started.
var ErrUnknownOperation = errors.New("unknown operation")

// ErrModuleStopped is returned when subscribing to a running payment after
// the module was stopped.
var ErrModuleStopped = errors.New("gateway module stopped")

// GatewayErrorKind classifies why a payment did not produce a preimage.
type GatewayErrorKind uint8

const (
	// ErrKindCanceled means the gateway canceled the contract.
	ErrKindCanceled GatewayErrorKind = iota

	// ErrKindOfferDoesNotExist means there was no contract to pay.
	ErrKindOfferDoesNotExist

	// ErrKindFailed means an unrecoverable error occurred.
	ErrKindFailed
)

// GatewayError describes a payment that ended without a preimage.
type GatewayError struct {
	Kind GatewayErrorKind

	// CancelTxID is the cancellation transaction for ErrKindCanceled.
	CancelTxID chainhash.Hash

	// ContractID is set for ErrKindOfferDoesNotExist.
	ContractID ContractID

	Reason string
}

func (e *GatewayError) Error() string {
	switch e.Kind {
	case ErrKindCanceled:
		return fmt.Sprintf("gateway canceled the contract in %v: %s",
			e.CancelTxID, e.Reason)
	case ErrKindOfferDoesNotExist:
		return fmt.Sprintf("offer %v does not exist", e.ContractID)
	}
	return "unrecoverable error occurred in the gateway: " + e.Reason
}

// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/btcfed/fedwallet/fedclient"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/zpay32"
)

// OperationIDFromContract derives the operation paying contract.  Starting
// a payment for the same contract twice yields the same operation.
func OperationIDFromContract(contract ContractID) fedclient.OperationID {
	return sha256.Sum256(contract[:])
}

// payMachine performs the transitions of pay state machines.
type payMachine struct {
	federation    FederationAPI
	lightning     LnRpcClient
	redeemKey     *btcec.PrivateKey
	timelockDelta uint32
	fees          RoutingFees
	chainParams   *chaincfg.Params

	// maxPayAttempts bounds how often an invoice is handed to the
	// Lightning node when its errors are not payment failures.
	maxPayAttempts int

	mu          sync.Mutex
	payAttempts map[fedclient.OperationID]int
}

var _ fedclient.Machine[PayState] = (*payMachine)(nil)

// Transition implements fedclient.Machine.
func (m *payMachine) Transition(ctx context.Context, id fedclient.OperationID,
	state PayState) (PayState, error) {

	switch s := state.(type) {
	case PayInvoice:
		return m.payInvoice(ctx, id, s)

	case ClaimContract:
		return m.claimContract(ctx, id, s)

	case CancelContract:
		return m.cancelContract(ctx, id, s)
	}

	return nil, fmt.Errorf("no transition from %T", state)
}

func (m *payMachine) EncodeState(state PayState) ([]byte, error) {
	return encodePayState(state)
}

func (m *payMachine) DecodeState(b []byte) (PayState, error) {
	return decodePayState(b)
}

// payInvoice checks the contract and pays its invoice.  Contracts the
// gateway cannot or should not pay are canceled so the user gets their
// funds back.
func (m *payMachine) payInvoice(ctx context.Context, id fedclient.OperationID,
	s PayInvoice) (PayState, error) {

	account, err := m.federation.FetchContract(ctx, s.ContractID)
	if errors.Is(err, ErrContractNotFound) {
		log.Infof("Operation %v: contract %v does not exist", id,
			s.ContractID)
		return OfferDoesNotExist{ContractID: s.ContractID}, nil
	}
	if err != nil {
		return nil, err
	}
	contract := &account.Contract

	if contract.GatewayKey != NewXOnlyKey(m.redeemKey.PubKey()) {
		return Failed{Reason: "contract is not for this gateway"}, nil
	}
	if contract.Cancelled {
		return Failed{Reason: "contract was already cancelled"}, nil
	}

	cancel := func(format string, args ...interface{}) (PayState, error) {
		reason := fmt.Sprintf(format, args...)
		log.Warnf("Operation %v: canceling contract %v: %s", id,
			s.ContractID, reason)
		return CancelContract{
			ContractID: s.ContractID,
			Reason:     reason,
		}, nil
	}

	invoice, err := zpay32.Decode(contract.Invoice, m.chainParams)
	if err != nil {
		return cancel("invalid invoice: %v", err)
	}
	if invoice.MilliSat == nil {
		return cancel("invoice has no amount")
	}
	if invoice.PaymentHash == nil ||
		chainhash.Hash(*invoice.PaymentHash) != contract.Hash {

		return cancel("invoice payment hash does not match contract")
	}

	amount := *invoice.MilliSat
	fee := m.fees.Fee(amount)
	if account.Amount < amount+fee {
		return cancel("contract amount %v does not cover invoice "+
			"amount %v plus fee %v", account.Amount, amount, fee)
	}

	height, err := m.federation.ConsensusBlockHeight(ctx)
	if err != nil {
		return nil, err
	}
	if contract.Timelock < height ||
		contract.Timelock-height < m.timelockDelta {

		return cancel("timelock %d leaves less than %d blocks at "+
			"height %d", contract.Timelock, m.timelockDelta, height)
	}

	log.Infof("Operation %v: paying %v for contract %v", id, amount,
		s.ContractID)

	preimage, err := m.lightning.Pay(
		ctx, contract.Invoice, account.Amount-amount,
	)
	switch {
	case errors.Is(err, ErrPaymentFailed):
		m.resetPayAttempts(id)
		return cancel("%v", err)

	case err != nil:
		attempts := m.failedPayAttempt(id)
		if attempts < m.maxPayAttempts {
			return nil, err
		}

		m.resetPayAttempts(id)
		return cancel("payment failed after %d attempts: %v",
			attempts, err)
	}
	m.resetPayAttempts(id)

	return ClaimContract{
		ContractID: s.ContractID,
		Amount:     account.Amount,
		Preimage:   preimage,
	}, nil
}

// failedPayAttempt counts a failed payment attempt of operation id and
// returns the number of failed attempts so far.
func (m *payMachine) failedPayAttempt(id fedclient.OperationID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.payAttempts == nil {
		m.payAttempts = make(map[fedclient.OperationID]int)
	}
	m.payAttempts[id]++
	return m.payAttempts[id]
}

func (m *payMachine) resetPayAttempts(id fedclient.OperationID) {
	m.mu.Lock()
	delete(m.payAttempts, id)
	m.mu.Unlock()
}

// claimContract claims the contract with the preimage.
func (m *payMachine) claimContract(ctx context.Context,
	id fedclient.OperationID, s ClaimContract) (PayState, error) {

	tx, err := newClaimTx(s.ContractID, s.Amount, s.Preimage, m.redeemKey)
	if err != nil {
		return nil, err
	}

	txid, err := m.submitAndAwait(ctx, tx)
	if errors.Is(err, ErrTransactionRejected) {
		log.Errorf("Operation %v: claim of contract %v rejected: %v",
			id, s.ContractID, err)
		return Failed{Reason: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	log.Infof("Operation %v: claimed contract %v in %v", id,
		s.ContractID, txid)

	return PreimageRevealed{
		OutPoint: OutPoint{TxID: txid, OutIdx: 0},
		Preimage: s.Preimage,
	}, nil
}

// cancelContract returns the contract's funds to the user.
func (m *payMachine) cancelContract(ctx context.Context,
	id fedclient.OperationID, s CancelContract) (PayState, error) {

	tx, err := newCancelTx(s.ContractID, m.redeemKey)
	if err != nil {
		return nil, err
	}

	txid, err := m.submitAndAwait(ctx, tx)
	if errors.Is(err, ErrTransactionRejected) {
		log.Errorf("Operation %v: cancellation of contract %v "+
			"rejected: %v", id, s.ContractID, err)
		return Failed{Reason: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	return Canceled{
		OutPoint: OutPoint{TxID: txid, OutIdx: 0},
		Reason:   s.Reason,
	}, nil
}

func (m *payMachine) submitAndAwait(ctx context.Context,
	tx *Transaction) (chainhash.Hash, error) {

	txid, err := m.federation.SubmitTransaction(ctx, tx)
	if err != nil {
		return txid, err
	}
	return txid, m.federation.AwaitTransaction(ctx, txid)
}

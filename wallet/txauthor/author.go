// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txauthor provides transaction creation code for wallets.
package txauthor

import (
	"fmt"

	"github.com/btcfed/fedwallet/wallet/txrules"
	"github.com/btcfed/fedwallet/wallet/txsizes"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/txsort"
	"github.com/btcsuite/btcd/wire"
)

// RBFSequence is the input sequence signalling opt-in replaceability.
const RBFSequence = wire.MaxTxInSequenceNum - 2

// SumOutputValues sums up the list of TxOuts and returns an Amount.
func SumOutputValues(outputs []*wire.TxOut) (totalOutput btcutil.Amount) {
	for _, txOut := range outputs {
		totalOutput += btcutil.Amount(txOut.Value)
	}
	return totalOutput
}

// PegOutMeta summarizes the value flows of a withdrawal.
type PegOutMeta struct {
	// Sent is the value paid to outputs other than change.
	Sent btcutil.Amount

	// Fee is the absolute transaction fee.
	Fee btcutil.Amount

	// Change is the value returned to the wallet, zero when no change
	// output was added.
	Change btcutil.Amount
}

// AuthoredTx holds a newly created withdrawal and the outputs it spends.
type AuthoredTx struct {
	Tx *wire.MsgTx

	// PrevOutputs holds the output spent by each input, in input order.
	PrevOutputs []*wire.TxOut

	// ChangeIndex is the index of the change output, negative if none.
	ChangeIndex int

	Meta PegOutMeta
}

// PegOutParams describes a withdrawal to author.
type PegOutParams struct {
	Recipient    []byte
	Amount       btcutil.Amount
	FeeRate      txrules.SatPerKVByte
	ChangeScript []byte
}

// NewPegOut builds an unsigned version 2 transaction paying params.Amount to
// params.Recipient with inputs chosen by selector from candidates.  Every
// input signals replaceability and inputs and outputs are ordered per
// BIP-69, so the result only depends on the arguments.
//
// Change goes back to params.ChangeScript when the remainder after paying
// for the change output is not dust; otherwise it is left to the fee.
func NewPegOut(selector CoinSelector, candidates []WeightedUtxo,
	params *PegOutParams) (*AuthoredTx, error) {

	recipientOut := wire.NewTxOut(int64(params.Amount), params.Recipient)
	err := txrules.CheckOutput(recipientOut, txrules.DefaultRelayFeePerKvB)
	if err != nil {
		return nil, fmt.Errorf("peg-out output: %w", err)
	}

	outputs := []*wire.TxOut{recipientOut}
	feeAmount := params.FeeRate.FeeForWeight(
		txsizes.BaseWeight(1, outputs),
	)

	res, err := selector.Select(nil, candidates, params.FeeRate,
		params.Amount, feeAmount)
	if err != nil {
		return nil, err
	}

	drain := res.SelectedAmount() - params.Amount - res.FeeAmount
	if drain < 0 {
		return nil, &InsufficientFundsError{
			Needed:    params.Amount + res.FeeAmount,
			Available: res.SelectedAmount(),
		}
	}

	tx := &wire.MsgTx{
		Version:  2,
		TxOut:    outputs,
		LockTime: 0,
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(res.Selected))
	for _, u := range res.Selected {
		in := wire.NewTxIn(&u.OutPoint, nil, nil)
		in.Sequence = RBFSequence
		tx.TxIn = append(tx.TxIn, in)
		prevOuts[u.OutPoint] = wire.NewTxOut(int64(u.Amount), u.PkScript)
	}

	meta := PegOutMeta{Fee: res.FeeAmount + drain}
	changeFee := params.FeeRate.FeeForWeight(
		txsizes.OutputWeight(len(params.ChangeScript)),
	)
	change := drain - changeFee

	var changeOut *wire.TxOut
	if change > 0 && !txrules.IsDustAmount(change,
		len(params.ChangeScript), txrules.DefaultRelayFeePerKvB) {

		changeOut = wire.NewTxOut(int64(change), params.ChangeScript)
		tx.TxOut = append(tx.TxOut, changeOut)
		meta.Change = change
		meta.Fee = res.FeeAmount + changeFee
	}

	txsort.InPlaceSort(tx)

	authored := &AuthoredTx{
		Tx:          tx,
		PrevOutputs: make([]*wire.TxOut, len(tx.TxIn)),
		ChangeIndex: -1,
	}
	for i, in := range tx.TxIn {
		authored.PrevOutputs[i] = prevOuts[in.PreviousOutPoint]
	}
	for i, out := range tx.TxOut {
		if out == changeOut {
			authored.ChangeIndex = i
		}
	}

	meta.Sent = SumOutputValues(tx.TxOut) - meta.Change
	authored.Meta = meta

	log.Debugf("Authored peg-out %v: %d inputs, sent %v, fee %v, "+
		"change %v", tx.TxHash(), len(tx.TxIn), meta.Sent, meta.Fee,
		meta.Change)

	return authored, nil
}

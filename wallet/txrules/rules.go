// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txrules

import (
	"errors"
	"math"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SatPerKVByte is a fee rate in satoshis per 1000 virtual bytes.  It is the
// fixed-point form all fee arithmetic is carried out in, so every party
// computing a fee from the same rate gets the same integer result.
type SatPerKVByte uint64

// DefaultRelayFeePerKvB is the default minimum relay fee policy for a
// mempool.
const DefaultRelayFeePerKvB SatPerKVByte = 1000

// FeeRateFromSatPerVByte converts a sat/vB rate into fixed point, rounding to
// the nearest milli-satoshi per vbyte.  Non-finite and negative inputs map
// to zero.
func FeeRateFromSatPerVByte(satPerVByte float32) SatPerKVByte {
	f := float64(satPerVByte)
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	return SatPerKVByte(math.Round(f * 1000))
}

// FeeForWeight returns the fee owed by weight weight units at rate, rounded
// up to the next satoshi.
func (r SatPerKVByte) FeeForWeight(weight int) btcutil.Amount {
	if weight <= 0 {
		return 0
	}
	scaled := uint64(r) * uint64(weight)
	denom := uint64(1000 * blockchain.WitnessScaleFactor)
	return btcutil.Amount((scaled + denom - 1) / denom)
}

// FeeForVSize returns the fee owed by vsize virtual bytes at rate, rounded up
// to the next satoshi.
func (r SatPerKVByte) FeeForVSize(vsize int) btcutil.Amount {
	return r.FeeForWeight(vsize * blockchain.WitnessScaleFactor)
}

// GetDustThreshold returns the smallest output value that is not dust for
// an output script of scriptSize bytes.  The spend is assumed to be a
// native segwit input with a 107 wu witness.
func GetDustThreshold(scriptSize int, relayFee SatPerKVByte) btcutil.Amount {
	totalSize := 8 + wire.VarIntSerializeSize(uint64(scriptSize)) +
		scriptSize + 32 + 4 + 1 + 107/blockchain.WitnessScaleFactor + 4

	// Dust is an output costing more than a third of its value to spend.
	return 3 * relayFee.FeeForVSize(totalSize)
}

// IsDustAmount determines whether an output value paying to a script of
// scriptSize bytes would be considered dust.
func IsDustAmount(amount btcutil.Amount, scriptSize int, relayFee SatPerKVByte) bool {
	return amount < GetDustThreshold(scriptSize, relayFee)
}

// IsDustOutput determines whether a transaction output is considered dust.
// Transactions with dust outputs are not standard and are rejected by mempools
// with default policies.
func IsDustOutput(output *wire.TxOut, relayFee SatPerKVByte) bool {
	// Unspendable outputs which solely carry data are not checked for dust.
	if txscript.GetScriptClass(output.PkScript) == txscript.NullDataTy {
		return false
	}

	// All other unspendable outputs are considered dust.
	if txscript.IsUnspendable(output.PkScript) {
		return true
	}

	return IsDustAmount(btcutil.Amount(output.Value), len(output.PkScript),
		relayFee)
}

// Transaction rule violations
var (
	ErrAmountNegative   = errors.New("transaction output amount is negative")
	ErrAmountExceedsMax = errors.New("transaction output amount exceeds maximum value")
	ErrOutputIsDust     = errors.New("transaction output is dust")
)

// CheckOutput performs simple consensus and policy tests on a transaction
// output.
func CheckOutput(output *wire.TxOut, relayFee SatPerKVByte) error {
	if output.Value < 0 {
		return ErrAmountNegative
	}
	if output.Value > btcutil.MaxSatoshi {
		return ErrAmountExceedsMax
	}
	if IsDustOutput(output, relayFee) {
		return ErrOutputIsDust
	}
	return nil
}

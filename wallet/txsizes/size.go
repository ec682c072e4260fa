// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txsizes

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/wire"
)

// Worst case script and input/output size estimates.
const (
	// P2WSHPkScriptSize is the size of an output script paying to a
	// witness script hash.  It is calculated as:
	//
	//   - OP_0
	//   - OP_DATA_32
	//   - 32 bytes script hash
	P2WSHPkScriptSize = 1 + 1 + 32

	// P2WSHOutputSize is the serialize size of a P2WSH output:
	//
	//   - 8 bytes output value
	//   - 1 byte compact int encoding value 34
	//   - 34 bytes P2WSH output script
	P2WSHOutputSize = 8 + 1 + P2WSHPkScriptSize

	// P2WPKHPkScriptSize is the size of an output script paying to a
	// witness pubkey hash:
	//
	//   - OP_0
	//   - OP_DATA_20
	//   - 20 bytes pubkey hash
	P2WPKHPkScriptSize = 1 + 1 + 20

	// RedeemWitnessInputSize is the non-witness size of any native segwit
	// input:
	//
	//   - 32 bytes previous tx
	//   - 4 bytes output index
	//   - 1 byte encoding empty script sig
	//   - 4 bytes sequence
	RedeemWitnessInputSize = 32 + 4 + 1 + 4

	// RedeemP2WPKHInputWitnessWeight is the worst case witness weight for
	// spending a P2WPKH output:
	//
	//   - 1 wu compact int encoding value 2 (number of items)
	//   - 1 wu compact int encoding value 73
	//   - 72 wu DER signature + 1 wu sighash
	//   - 1 wu compact int encoding value 33
	//   - 33 wu serialized compressed pubkey
	RedeemP2WPKHInputWitnessWeight = 1 + 1 + 73 + 1 + 33

	// witnessHeaderWeight is the segwit marker and flag.
	witnessHeaderWeight = 2

	// sigWithLenSize is a worst case DER signature plus sighash byte and
	// its push length.
	sigWithLenSize = 1 + 73
)

// MultiSigScriptSize returns the size of a bare m-of-n CHECKMULTISIG script
// over compressed keys:
//
//   - OP_m
//   - n * (OP_DATA_33 + 33 bytes pubkey)
//   - OP_n
//   - OP_CHECKMULTISIG
func MultiSigScriptSize(n int) int {
	return 1 + n*(1+33) + 1 + 1
}

// RedeemP2WSHMultiSigWitnessWeight returns the worst case witness weight for
// spending a P2WSH m-of-n multisig output:
//
//   - compact int item count (m + 2)
//   - 1 wu empty item consumed by the CHECKMULTISIG off-by-one
//   - m worst case signatures with their length
//   - compact int witness script length
//   - witness script
func RedeemP2WSHMultiSigWitnessWeight(m, n int) int {
	scriptSize := MultiSigScriptSize(n)
	return wire.VarIntSerializeSize(uint64(m+2)) + 1 + m*sigWithLenSize +
		wire.VarIntSerializeSize(uint64(scriptSize)) + scriptSize
}

// InputWeight returns the weight of a native segwit input whose witness
// weighs witnessWeight.
func InputWeight(witnessWeight int) int {
	return RedeemWitnessInputSize*blockchain.WitnessScaleFactor +
		witnessWeight
}

// OutputWeight returns the weight of an output with the given script size.
func OutputWeight(pkScriptSize int) int {
	size := 8 + wire.VarIntSerializeSize(uint64(pkScriptSize)) + pkScriptSize
	return size * blockchain.WitnessScaleFactor
}

// SumOutputSerializeSizes sums up the serialized size of the supplied outputs.
func SumOutputSerializeSizes(outputs []*wire.TxOut) (serializeSize int) {
	for _, txOut := range outputs {
		serializeSize += txOut.SerializeSize()
	}
	return serializeSize
}

// BaseWeight returns the weight of a segwit transaction with the given
// outputs and no inputs, counting the input count prefix for inputCount
// inputs.
func BaseWeight(inputCount int, txOuts []*wire.TxOut) int {
	// 8 bytes for version and lock time.
	size := 8 + wire.VarIntSerializeSize(uint64(inputCount)) +
		wire.VarIntSerializeSize(uint64(len(txOuts))) +
		SumOutputSerializeSizes(txOuts)
	return size*blockchain.WitnessScaleFactor + witnessHeaderWeight
}

// WeightToVirtualSize rounds a weight up to whole virtual bytes.
func WeightToVirtualSize(weight int) int {
	return (weight + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor
}

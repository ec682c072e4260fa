// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

// TestDescriptorChecksum checks the checksum against published vectors.
func TestDescriptorChecksum(t *testing.T) {
	t.Parallel()

	sum, err := descriptorChecksum("raw(deadbeef)")
	require.NoError(t, err)
	require.Equal(t, "89f8spxm", sum)

	_, err = descriptorChecksum("raw(deadbeef)é")
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

// TestParseDescriptorMulti ensures a sortedmulti descriptor yields a P2WSH
// output over a sorted multisig script regardless of key order.
func TestParseDescriptorMulti(t *testing.T) {
	t.Parallel()

	params := &chaincfg.RegressionNetParams
	desc, err := ParseDescriptor(testDescriptor(), params)
	require.NoError(t, err)
	require.Equal(t, 2, desc.Threshold())
	require.Len(t, desc.Keys(), 3)

	class := txscript.GetScriptClass(desc.PkScript())
	require.Equal(t, txscript.WitnessV0ScriptHashTy, class)
	require.Equal(t, txscript.MultiSigTy,
		txscript.GetScriptClass(desc.WitnessScript()))

	// Reversing the keys changes nothing for sortedmulti.
	reversed := fmt.Sprintf("wsh(sortedmulti(2,%x,%x,%x))",
		testPrivKeys[2].PubKey().SerializeCompressed(),
		testPrivKeys[1].PubKey().SerializeCompressed(),
		testPrivKeys[0].PubKey().SerializeCompressed())
	other, err := ParseDescriptor(reversed, params)
	require.NoError(t, err)
	require.Equal(t, desc.PkScript(), other.PkScript())

	// But it does for multi.
	multi, err := ParseDescriptor(
		"wsh(multi"+reversed[len("wsh(sortedmulti"):], params,
	)
	require.NoError(t, err)
	require.NotEqual(t, desc.PkScript(), multi.PkScript())
}

// TestParseDescriptorChecksumVerified ensures the checksum String emits is
// accepted and a corrupted one is not.
func TestParseDescriptorChecksumVerified(t *testing.T) {
	t.Parallel()

	params := &chaincfg.RegressionNetParams
	desc, err := ParseDescriptor(testDescriptor(), params)
	require.NoError(t, err)

	withSum := desc.String()
	again, err := ParseDescriptor(withSum, params)
	require.NoError(t, err)
	require.Equal(t, desc.PkScript(), again.PkScript())

	corrupt := []byte(withSum)
	if corrupt[len(corrupt)-1] == 'q' {
		corrupt[len(corrupt)-1] = 'p'
	} else {
		corrupt[len(corrupt)-1] = 'q'
	}
	_, err = ParseDescriptor(string(corrupt), params)
	require.ErrorIs(t, err, ErrDescriptorChecksum)
}

// TestParseDescriptorExtendedKeys ensures xpubs with a plain derivation
// path resolve to the derived child key, while ranged, hardened and private
// keys are refused.
func TestParseDescriptorExtendedKeys(t *testing.T) {
	t.Parallel()

	params := &chaincfg.RegressionNetParams
	seed := make([]byte, hdkeychain.RecommendedSeedLen)
	for i := range seed {
		seed[i] = byte(i)
	}
	master, err := hdkeychain.NewMaster(seed, params)
	require.NoError(t, err)
	xpub, err := master.Neuter()
	require.NoError(t, err)

	child, err := xpub.Derive(0)
	require.NoError(t, err)
	child, err = child.Derive(7)
	require.NoError(t, err)
	childKey, err := child.ECPubKey()
	require.NoError(t, err)

	desc, err := ParseDescriptor(
		fmt.Sprintf("wpkh([d34db33f/84h/1h/0h]%s/0/7)", xpub), params,
	)
	require.NoError(t, err)
	require.True(t, desc.HasKey(childKey))
	require.Nil(t, desc.WitnessScript())
	require.Equal(t, txscript.WitnessV0PubKeyHashTy,
		txscript.GetScriptClass(desc.PkScript()))

	invalid := []string{
		fmt.Sprintf("wpkh(%s/0/*)", xpub),
		fmt.Sprintf("wpkh(%s/0h/1)", xpub),
		fmt.Sprintf("wpkh(%s)", master),
		"wpkh(" + hex.EncodeToString([]byte{0x02, 0x01}) + ")",
		"sh(multi(1,02aa))",
		"wsh(multi(3,02aa,02bb))",
	}
	for _, s := range invalid {
		_, err := ParseDescriptor(s, params)
		require.ErrorIs(t, err, ErrInvalidDescriptor, s)
	}
}

// Copyright (c) 2020 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestNewSignerFromExtendedKey(t *testing.T) {
	t.Parallel()

	seed := bytes.Repeat([]byte{0x01}, hdkeychain.RecommendedSeedLen)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	signer, err := NewSignerFromExtendedKey(
		master.String(), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	pubKey, err := master.ECPubKey()
	require.NoError(t, err)
	require.True(t, signer.PubKey().IsEqual(pubKey))

	// Public keys cannot sign.
	xpub, err := master.Neuter()
	require.NoError(t, err)
	_, err = NewSignerFromExtendedKey(
		xpub.String(), &chaincfg.RegressionNetParams,
	)
	require.Error(t, err)

	_, err = NewSignerFromExtendedKey(
		master.String(), &chaincfg.MainNetParams,
	)
	require.Error(t, err)

	_, err = NewSignerFromExtendedKey(
		"tprv", &chaincfg.RegressionNetParams,
	)
	require.Error(t, err)
}

func TestSignPsbtNeedsWitnessUtxo(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, descPkScript(t)))

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	signer := NewSigner(testPrivKeys[0])
	require.ErrorContains(t, signer.SignPsbt(packet), "no witness utxo")
}

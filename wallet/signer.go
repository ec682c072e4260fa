// Copyright (c) 2020 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Signer holds this member's share of the federation key and adds its
// partial signatures to withdrawal packets.  Signatures use RFC 6979 nonces,
// so signing the same packet twice yields the same bytes.
type Signer struct {
	privKey *btcec.PrivateKey
	pubKey  *btcec.PublicKey
}

// NewSigner wraps a private key.
func NewSigner(privKey *btcec.PrivateKey) *Signer {
	return &Signer{
		privKey: privKey,
		pubKey:  privKey.PubKey(),
	}
}

// NewSignerFromExtendedKey loads the signing key from a serialized extended
// private key for the given network.
func NewSignerFromExtendedKey(xprv string, params *chaincfg.Params) (*Signer, error) {
	ext, err := hdkeychain.NewKeyFromString(xprv)
	if err != nil {
		return nil, err
	}
	if !ext.IsPrivate() {
		return nil, fmt.Errorf("signing key must be an extended " +
			"private key")
	}
	if !ext.IsForNet(params) {
		return nil, fmt.Errorf("signing key is for another network")
	}

	privKey, err := ext.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return NewSigner(privKey), nil
}

// PubKey returns the public half of the signing key.
func (s *Signer) PubKey() *btcec.PublicKey {
	return s.pubKey
}

// SignPsbt adds a SIGHASH_ALL partial signature to every input of packet.
// Inputs must carry their witness UTXO, and their witness script when the
// output is P2WSH.
func (s *Signer) SignPsbt(packet *psbt.Packet) error {
	tx := packet.UnsignedTx
	fetcher := PsbtPrevOutputFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	pubKey := s.pubKey.SerializeCompressed()

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return err
	}

	for i := range tx.TxIn {
		pInput := &packet.Inputs[i]
		if pInput.WitnessUtxo == nil {
			return fmt.Errorf("input %d has no witness utxo", i)
		}

		subScript := pInput.WitnessScript
		if subScript == nil {
			subScript = pInput.WitnessUtxo.PkScript
		}

		sig, err := txscript.RawTxInWitnessSignature(
			tx, sigHashes, i, pInput.WitnessUtxo.Value, subScript,
			txscript.SigHashAll, s.privKey,
		)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}

		outcome, err := updater.Sign(
			i, sig, pubKey, nil, pInput.WitnessScript,
		)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		if outcome != psbt.SignSuccesful {
			return fmt.Errorf("input %d: signature rejected "+
				"(outcome %d)", i, outcome)
		}
	}

	return nil
}

// PsbtPrevOutputFetcher returns a txscript.PrevOutputFetcher built from the
// UTXO information in a PSBT packet.
func PsbtPrevOutputFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range packet.UnsignedTx.TxIn {
		in := packet.Inputs[idx]

		switch {
		case in.WitnessUtxo != nil:
			fetcher.AddPrevOut(txIn.PreviousOutPoint, in.WitnessUtxo)

		case in.NonWitnessUtxo != nil:
			prevIndex := txIn.PreviousOutPoint.Index
			fetcher.AddPrevOut(
				txIn.PreviousOutPoint,
				in.NonWitnessUtxo.TxOut[prevIndex],
			)
		}
	}

	return fetcher
}

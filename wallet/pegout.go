// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"

	"github.com/btcfed/fedwallet/wallet/txauthor"
	"github.com/btcfed/fedwallet/wallet/txsizes"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
)

// PegOut is a withdrawal signed by this member.
type PegOut struct {
	// Packet carries this member's partial signatures.  Its unsigned
	// transaction is identical across honest members.
	Packet *psbt.Packet

	Meta txauthor.PegOutMeta
}

// CreatePegOutTx builds and signs a withdrawal paying amount to
// recipientScript at the consensus fee rate.  Only outputs confirmed at or
// below the consensus height are spent.  Given the same wallet contents and
// consensus state, every member builds the same unsigned transaction.
func (w *Wallet) CreatePegOutTx(recipientScript []byte,
	amount btcutil.Amount) (*PegOut, error) {

	// The consensus state and the store are read under one lock so a
	// concurrent round cannot change the height mid build.
	w.consensusMtx.RLock()
	state := w.consensus
	heights, credits, err := w.snapshot()
	w.consensusMtx.RUnlock()
	if err != nil {
		return nil, err
	}

	if state.feeRateFixed == 0 {
		return nil, ErrNoConsensusFeeRate
	}

	pkScript := w.descriptor.PkScript()
	satisfactionWeight := w.descriptor.SatisfactionWeight()

	candidates := make([]txauthor.WeightedUtxo, 0, len(credits))
	for _, c := range credits {
		candidates = append(candidates, txauthor.WeightedUtxo{
			SatisfactionWeight: satisfactionWeight,
			Credit:             c,
		})
	}

	selector := &txauthor.ConsensusHeightSelector{
		Inner: txauthor.NewBranchAndBound(
			txsizes.OutputWeight(len(pkScript)),
		),
		HeightMap:       heights,
		ConsensusHeight: state.height,
	}

	authored, err := txauthor.NewPegOut(selector, candidates,
		&txauthor.PegOutParams{
			Recipient:    recipientScript,
			Amount:       amount,
			FeeRate:      state.feeRateFixed,
			ChangeScript: pkScript,
		})
	if err != nil {
		return nil, err
	}
	if authored.Meta.Sent != amount {
		panic(fmt.Sprintf("peg-out sends %v, requested %v",
			authored.Meta.Sent, amount))
	}

	packet, err := psbt.NewFromUnsignedTx(authored.Tx)
	if err != nil {
		return nil, err
	}
	witnessScript := w.descriptor.WitnessScript()
	for i := range packet.Inputs {
		packet.Inputs[i].WitnessUtxo = authored.PrevOutputs[i]
		packet.Inputs[i].WitnessScript = witnessScript
	}

	if err := w.cfg.Signer.SignPsbt(packet); err != nil {
		return nil, signError(err)
	}

	log.Infof("Created peg-out %v sending %v with fee %v at consensus "+
		"height %d", authored.Tx.TxHash(), authored.Meta.Sent,
		authored.Meta.Fee, state.height)

	return &PegOut{
		Packet: packet,
		Meta:   authored.Meta,
	}, nil
}

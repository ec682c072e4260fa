// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/btcfed/fedwallet/wallet/txrules"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// ConfirmationTarget is the number of blocks the proposed fee rate
	// aims to confirm a withdrawal within.
	ConfirmationTarget = 24

	typeConsensusHeight  tlv.Type = 0
	typeConsensusFeeRate tlv.Type = 2

	typeStateHeight       tlv.Type = 0
	typeStateFeeRate      tlv.Type = 2
	typeStateLastProposal tlv.Type = 4
)

// minNormalFloat32 is the smallest positive normal float32.
const minNormalFloat32 = 0x1p-126

// WalletConsensus is one member's view of the chain tip and fee rate for a
// consensus round.
type WalletConsensus struct {
	// BlockHeight is the proposed consensus height.
	BlockHeight uint32

	// FeeRate is the proposed withdrawal fee rate in sat/vB.
	FeeRate float32
}

// Encode writes the proposal as a TLV stream.  The fee rate travels as its
// IEEE 754 bit pattern, so decoding yields exactly the value encoded.
func (c *WalletConsensus) Encode(w io.Writer) error {
	feeBits := math.Float32bits(c.FeeRate)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeConsensusHeight, &c.BlockHeight),
		tlv.MakePrimitiveRecord(typeConsensusFeeRate, &feeBits),
	)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// Decode reads a proposal written by Encode.
func (c *WalletConsensus) Decode(r io.Reader) error {
	var height, feeBits uint32
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeConsensusHeight, &height),
		tlv.MakePrimitiveRecord(typeConsensusFeeRate, &feeBits),
	)
	if err != nil {
		return err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return err
	}
	for _, typ := range []tlv.Type{typeConsensusHeight, typeConsensusFeeRate} {
		if _, ok := parsed[typ]; !ok {
			return fmt.Errorf("consensus item missing type %d", typ)
		}
	}

	c.BlockHeight = height
	c.FeeRate = math.Float32frombits(feeBits)
	return nil
}

// isNormalFeeRate reports whether f is a finite, positive, normal float.
func isNormalFeeRate(f float32) bool {
	f64 := float64(f)
	return !math.IsNaN(f64) && !math.IsInf(f64, 0) &&
		f64 >= minNormalFloat32
}

// consensusState is the part of the wallet the aggregator mutates.
type consensusState struct {
	// height is the agreed chain tip used for spending decisions.  It
	// never decreases.
	height uint32

	// feeRate is the agreed fee rate as proposed on the wire, and
	// feeRateFixed the same rate in fixed point.  Zero until a round
	// commits a fee rate.
	feeRate      float32
	feeRateFixed txrules.SatPerKVByte

	// lastProposal is the height of our last proposal.  It never
	// decreases.
	lastProposal uint32
}

// nextProposalHeight returns the height to propose given the network tip.
// The proposal trails the tip by finalityDelay and never moves backwards.
func (s *consensusState) nextProposalHeight(networkHeight,
	finalityDelay uint32) uint32 {

	var target uint32
	if networkHeight > finalityDelay {
		target = networkHeight - finalityDelay
	}

	if target < s.lastProposal {
		log.Warnf("Network height %d minus finality delay %d is "+
			"below our last proposal %d, proposing %d again",
			networkHeight, finalityDelay, s.lastProposal,
			s.lastProposal)
		return s.lastProposal
	}
	return target
}

// roundOutcome describes what a round of proposals changed.
type roundOutcome struct {
	heightChanged  bool
	feeRateChanged bool
}

// process folds one round of proposals into the state.  The height is the
// upper median of all proposals and only commits when it does not rewind.
// Proposals with a fee rate that is not a positive normal number are left
// out of the fee step, whose result is the upper median of what remains.
// A round without any usable fee rate keeps the previous fee rate.
func (s *consensusState) process(proposals []WalletConsensus,
	federationSize int) roundOutcome {

	var outcome roundOutcome

	if len(proposals) == 0 {
		log.Errorf("Empty consensus round, keeping height %d and fee "+
			"rate %v", s.height, s.feeRate)
		return outcome
	}

	if federationSize > 0 && 3*len(proposals) < 2*federationSize {
		log.Warnf("Consensus round has %d of %d proposals, below the "+
			"two thirds threshold", len(proposals), federationSize)
	}

	outcome.heightChanged = s.processHeights(proposals)
	outcome.feeRateChanged = s.processFeeRates(proposals)

	return outcome
}

// processHeights commits the upper median proposed height unless it is
// below the current consensus height.
func (s *consensusState) processHeights(proposals []WalletConsensus) bool {
	heights := make([]uint32, len(proposals))
	for i, p := range proposals {
		heights[i] = p.BlockHeight
	}
	sort.Slice(heights, func(i, j int) bool {
		return heights[i] < heights[j]
	})
	candidate := heights[len(heights)/2]

	switch {
	case candidate < s.height:
		log.Warnf("Median proposed height %d is below consensus "+
			"height %d, keeping the latter", candidate, s.height)
		return false

	case candidate > s.height:
		s.height = candidate
		return true
	}

	return false
}

// processFeeRates commits the upper median of the usable proposed fee
// rates.
func (s *consensusState) processFeeRates(proposals []WalletConsensus) bool {
	var feeRates []float32
	for _, p := range proposals {
		if !isNormalFeeRate(p.FeeRate) {
			log.Debugf("Discarding fee rate %v proposed at height "+
				"%d", p.FeeRate, p.BlockHeight)
			continue
		}
		feeRates = append(feeRates, p.FeeRate)
	}
	if len(feeRates) == 0 {
		log.Errorf("No usable fee rate among %d proposals, keeping "+
			"fee rate %v", len(proposals), s.feeRate)
		return false
	}

	sort.Slice(feeRates, func(i, j int) bool {
		return feeRates[i] < feeRates[j]
	})
	feeRate := feeRates[len(feeRates)/2]
	changed := math.Float32bits(feeRate) != math.Float32bits(s.feeRate)
	s.feeRate = feeRate
	s.feeRateFixed = txrules.FeeRateFromSatPerVByte(feeRate)

	return changed
}

// encode serializes the state for the wallet store.
func (s *consensusState) encode() ([]byte, error) {
	feeBits := math.Float32bits(s.feeRate)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeStateHeight, &s.height),
		tlv.MakePrimitiveRecord(typeStateFeeRate, &feeBits),
		tlv.MakePrimitiveRecord(typeStateLastProposal, &s.lastProposal),
	)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// decodeConsensusState reverses encode.
func decodeConsensusState(v []byte) (*consensusState, error) {
	var (
		s       consensusState
		feeBits uint32
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeStateHeight, &s.height),
		tlv.MakePrimitiveRecord(typeStateFeeRate, &feeBits),
		tlv.MakePrimitiveRecord(typeStateLastProposal, &s.lastProposal),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(v)); err != nil {
		return nil, err
	}

	s.feeRate = math.Float32frombits(feeBits)
	if isNormalFeeRate(s.feeRate) {
		s.feeRateFixed = txrules.FeeRateFromSatPerVByte(s.feeRate)
	} else {
		s.feeRate = 0
	}
	return &s, nil
}

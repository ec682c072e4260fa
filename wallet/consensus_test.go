// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"math"
	"testing"

	"github.com/btcfed/fedwallet/wallet/txrules"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/stretchr/testify/require"
)

func heightProposals(heights ...uint32) []WalletConsensus {
	proposals := make([]WalletConsensus, len(heights))
	for i, h := range heights {
		proposals[i] = WalletConsensus{BlockHeight: h, FeeRate: 1}
	}
	return proposals
}

// TestProcessMedianHeight ensures the agreed height is the median proposal.
func TestProcessMedianHeight(t *testing.T) {
	t.Parallel()

	var s consensusState
	outcome := s.process(heightProposals(100, 102, 101, 99, 103), 5)
	require.True(t, outcome.heightChanged)
	require.Equal(t, uint32(101), s.height)

	// Even counts take the upper median.
	s = consensusState{}
	s.process(heightProposals(10, 40, 20, 30), 4)
	require.Equal(t, uint32(30), s.height)
}

// TestProcessHeightNeverRewinds ensures a median below the current height
// is ignored.
func TestProcessHeightNeverRewinds(t *testing.T) {
	t.Parallel()

	s := consensusState{height: 200}
	outcome := s.process(heightProposals(150, 160, 155), 3)
	require.False(t, outcome.heightChanged)
	require.Equal(t, uint32(200), s.height)

	// An equal median is accepted without a change.
	outcome = s.process(heightProposals(200, 200, 200), 3)
	require.False(t, outcome.heightChanged)
	require.Equal(t, uint32(200), s.height)
}

// TestProcessFeeFilter ensures fee rates that are not positive normal
// numbers are discarded before taking the median.
func TestProcessFeeFilter(t *testing.T) {
	t.Parallel()

	inf := float32(math.Inf(1))
	nan := float32(math.NaN())
	fees := []float32{1.0, nan, 2.0, inf, 3.0, 0.0}

	proposals := make([]WalletConsensus, len(fees))
	for i, f := range fees {
		proposals[i] = WalletConsensus{BlockHeight: 10, FeeRate: f}
	}

	var s consensusState
	outcome := s.process(proposals, 6)
	require.True(t, outcome.feeRateChanged)
	require.Equal(t, float32(2.0), s.feeRate)
	require.Equal(t, txrules.SatPerKVByte(2000), s.feeRateFixed)
}

// TestProcessNoUsableFeeRate ensures a round without any usable fee rate
// still commits its height and keeps the previous fee rate.
func TestProcessNoUsableFeeRate(t *testing.T) {
	t.Parallel()

	s := consensusState{height: 5, feeRate: 4, feeRateFixed: 4000}
	subnormal := math.Float32frombits(1)
	proposals := []WalletConsensus{
		{BlockHeight: 50, FeeRate: float32(math.NaN())},
		{BlockHeight: 50, FeeRate: -1},
		{BlockHeight: 50, FeeRate: subnormal},
		{BlockHeight: 50, FeeRate: 0},
		{BlockHeight: 50, FeeRate: float32(math.Inf(1))},
	}

	outcome := s.process(proposals, 5)
	require.Equal(t, roundOutcome{heightChanged: true}, outcome)
	require.Equal(t, uint32(50), s.height)
	require.Equal(t, float32(4), s.feeRate)
	require.Equal(t, txrules.SatPerKVByte(4000), s.feeRateFixed)
}

// TestProcessEmptyRound ensures an empty round is tolerated.
func TestProcessEmptyRound(t *testing.T) {
	t.Parallel()

	s := consensusState{height: 7, feeRate: 1, feeRateFixed: 1000}
	before := s
	outcome := s.process(nil, 4)
	require.Equal(t, roundOutcome{}, outcome)
	require.Equal(t, before, s)
}

// TestNextProposalHeight ensures proposals trail the tip by the finality
// delay and never move backwards.
func TestNextProposalHeight(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		last, network uint32
		delay         uint32
		want          uint32
	}{
		{name: "fresh", network: 100, delay: 6, want: 94},
		{name: "below delay", network: 3, delay: 6, want: 0},
		{name: "ratchet", last: 120, network: 110, delay: 6, want: 120},
		{name: "advance", last: 90, network: 110, delay: 6, want: 104},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			s := consensusState{lastProposal: test.last}
			got := s.nextProposalHeight(test.network, test.delay)
			require.Equal(t, test.want, got)
		})
	}
}

// TestWalletConsensusEncoding ensures proposals round trip bit for bit,
// including fee rates that will later be discarded.
func TestWalletConsensusEncoding(t *testing.T) {
	t.Parallel()

	nanBits := uint32(0x7fc00001)
	tests := []WalletConsensus{
		{BlockHeight: 0, FeeRate: 0},
		{BlockHeight: 840_000, FeeRate: 12.5},
		{BlockHeight: math.MaxUint32, FeeRate: math.Float32frombits(nanBits)},
	}

	for _, want := range tests {
		var b bytes.Buffer
		require.NoError(t, want.Encode(&b))

		var got WalletConsensus
		require.NoError(t, got.Decode(&b))
		require.Equal(t, want.BlockHeight, got.BlockHeight)
		require.Equal(t, math.Float32bits(want.FeeRate),
			math.Float32bits(got.FeeRate))
	}
}

// TestWalletConsensusDecodeMissingField ensures a proposal without a fee
// rate is rejected.
func TestWalletConsensusDecodeMissingField(t *testing.T) {
	t.Parallel()

	height := uint32(10)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeConsensusHeight, &height),
	)
	require.NoError(t, err)

	var b bytes.Buffer
	require.NoError(t, stream.Encode(&b))

	var got WalletConsensus
	require.Error(t, got.Decode(&b))
}

// TestConsensusStateEncoding ensures the persisted state restores the
// fixed point fee rate.
func TestConsensusStateEncoding(t *testing.T) {
	t.Parallel()

	s := consensusState{
		height:       812,
		feeRate:      7.25,
		feeRateFixed: txrules.FeeRateFromSatPerVByte(7.25),
		lastProposal: 815,
	}
	v, err := s.encode()
	require.NoError(t, err)

	got, err := decodeConsensusState(v)
	require.NoError(t, err)
	require.Equal(t, s, *got)
}

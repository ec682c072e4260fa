// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txauthor

import (
	"math/rand"
	"testing"

	"github.com/btcfed/fedwallet/wallet/txrules"
	"github.com/btcfed/fedwallet/wtxmgr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testScript = append([]byte{0x00, 0x20}, make([]byte, 32)...)

func utxo(seed byte, value btcutil.Amount) WeightedUtxo {
	return WeightedUtxo{
		SatisfactionWeight: 254,
		Credit: wtxmgr.Credit{
			OutPoint: wire.OutPoint{Hash: chainhash.Hash{seed}},
			Amount:   value,
			PkScript: testScript,
		},
	}
}

func selectedValues(res *SelectionResult) []btcutil.Amount {
	var values []btcutil.Amount
	for _, u := range res.Selected {
		values = append(values, u.Amount)
	}
	return values
}

// mockSelector records what it is asked to select from.
type mockSelector struct {
	mock.Mock
}

func (m *mockSelector) Select(required, optional []WeightedUtxo,
	feeRate txrules.SatPerKVByte, amountNeeded,
	feeAmount btcutil.Amount) (*SelectionResult, error) {

	args := m.Called(required, optional, feeRate, amountNeeded, feeAmount)
	res, _ := args.Get(0).(*SelectionResult)
	return res, args.Error(1)
}

// TestBranchAndBoundExactMatch checks the search finds a change-free
// selection when one exists.
func TestBranchAndBoundExactMatch(t *testing.T) {
	t.Parallel()

	candidates := []WeightedUtxo{
		utxo(1, 10_000), utxo(2, 20_000), utxo(3, 30_000),
		utxo(4, 50_000),
	}
	bnb := NewBranchAndBound(0)

	res, err := bnb.Select(nil, candidates, 0, 60_000, 0)
	require.NoError(t, err)
	require.Equal(t, []btcutil.Amount{50_000, 10_000}, selectedValues(res))
	require.Zero(t, res.FeeAmount)
}

// TestBranchAndBoundFallback checks the largest first fallback when no
// change-free selection exists.
func TestBranchAndBoundFallback(t *testing.T) {
	t.Parallel()

	candidates := []WeightedUtxo{utxo(1, 30_000), utxo(2, 50_000)}
	bnb := NewBranchAndBound(0)

	res, err := bnb.Select(nil, candidates, 0, 60_000, 0)
	require.NoError(t, err)
	require.Equal(t, []btcutil.Amount{50_000, 30_000}, selectedValues(res))
}

// TestBranchAndBoundInsufficient checks a target above the available
// effective value is rejected.
func TestBranchAndBoundInsufficient(t *testing.T) {
	t.Parallel()

	candidates := []WeightedUtxo{utxo(1, 30_000), utxo(2, 50_000)}
	bnb := NewBranchAndBound(0)

	_, err := bnb.Select(nil, candidates, 0, 80_000, 1)
	var fundsErr *InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	require.Equal(t, btcutil.Amount(80_001), fundsErr.Needed)
}

// TestBranchAndBoundDropsUneconomical ensures outputs worth less than their
// spending fee are never selected.
func TestBranchAndBoundDropsUneconomical(t *testing.T) {
	t.Parallel()

	// At 10 sat/vB an input costs (164+254)/4*10 = 1045 sats.
	rate := txrules.SatPerKVByte(10_000)
	candidates := []WeightedUtxo{utxo(1, 1_000), utxo(2, 100_000)}
	bnb := NewBranchAndBound(172)

	res, err := bnb.Select(nil, candidates, rate, 50_000, 500)
	require.NoError(t, err)
	require.Equal(t, []btcutil.Amount{100_000}, selectedValues(res))
	require.Equal(t, btcutil.Amount(500+1045), res.FeeAmount)
}

// TestBranchAndBoundDeterministic ensures the result does not depend on the
// order candidates are presented in.
func TestBranchAndBoundDeterministic(t *testing.T) {
	t.Parallel()

	var candidates []WeightedUtxo
	for i := 0; i < 20; i++ {
		// Duplicate values force the outpoint tie break.
		candidates = append(candidates,
			utxo(byte(i+1), btcutil.Amount(10_000*(i%5+1))))
	}
	rate := txrules.SatPerKVByte(2_000)
	bnb := NewBranchAndBound(172)

	want, err := bnb.Select(nil, candidates, rate, 87_000, 300)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		shuffled := append([]WeightedUtxo(nil), candidates...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got, err := bnb.Select(nil, shuffled, rate, 87_000, 300)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

// TestConsensusHeightSelectorFilters ensures only outputs confirmed at or
// below the consensus height reach the inner selector.
func TestConsensusHeightSelectorFilters(t *testing.T) {
	t.Parallel()

	below, at, above, unknown := utxo(1, 1), utxo(2, 2), utxo(3, 3),
		utxo(4, 4)

	inner := &mockSelector{}
	want := &SelectionResult{Selected: []WeightedUtxo{below}}
	inner.On("Select", []WeightedUtxo(nil), []WeightedUtxo{below, at},
		txrules.SatPerKVByte(1000), btcutil.Amount(5),
		btcutil.Amount(6)).Return(want, nil).Once()

	s := &ConsensusHeightSelector{
		Inner: inner,
		HeightMap: map[chainhash.Hash]uint32{
			below.OutPoint.Hash: 90,
			at.OutPoint.Hash:    100,
			above.OutPoint.Hash: 110,
		},
		ConsensusHeight: 100,
	}

	res, err := s.Select(nil, []WeightedUtxo{below, at, above, unknown},
		1000, 5, 6)
	require.NoError(t, err)
	require.Same(t, want, res)
	inner.AssertExpectations(t)
}

// TestConsensusHeightSelectorRejectsRequired ensures pinning inputs is
// treated as a programming error.
func TestConsensusHeightSelectorRejectsRequired(t *testing.T) {
	t.Parallel()

	s := &ConsensusHeightSelector{
		Inner:           NewBranchAndBound(0),
		HeightMap:       map[chainhash.Hash]uint32{},
		ConsensusHeight: 100,
	}
	require.Panics(t, func() {
		_, _ = s.Select([]WeightedUtxo{utxo(1, 1)}, nil, 0, 1, 0)
	})
}

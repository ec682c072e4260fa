// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txauthor

import (
	"github.com/btcfed/fedwallet/wallet/txrules"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ConsensusHeightSelector restricts an inner selector to outputs whose
// funding transaction confirmed at or below the federation's consensus
// height.  Outputs whose funding transaction has no known height are never
// offered to the inner selector.
//
// Filtering before delegation makes every honest member hand the inner
// selector the same candidates.
type ConsensusHeightSelector struct {
	Inner           CoinSelector
	HeightMap       map[chainhash.Hash]uint32
	ConsensusHeight uint32
}

var _ CoinSelector = (*ConsensusHeightSelector)(nil)

// Select implements CoinSelector.  Withdrawals never pin inputs, so a
// non-empty required set is a programming error and panics.
func (s *ConsensusHeightSelector) Select(required, optional []WeightedUtxo,
	feeRate txrules.SatPerKVByte, amountNeeded,
	feeAmount btcutil.Amount) (*SelectionResult, error) {

	if len(required) != 0 {
		panic("consensus height selector called with required inputs")
	}

	eligible := make([]WeightedUtxo, 0, len(optional))
	for _, u := range optional {
		height, ok := s.HeightMap[u.OutPoint.Hash]
		if !ok || height > s.ConsensusHeight {
			continue
		}
		eligible = append(eligible, u)
	}

	log.Debugf("Offering %d of %d outputs at consensus height %d",
		len(eligible), len(optional), s.ConsensusHeight)

	return s.Inner.Select(nil, eligible, feeRate, amountNeeded, feeAmount)
}

// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// FeeRate is a fee estimate in satoshis per virtual byte.
type FeeRate float32

// RelayFeeFloor is the fee rate assumed when the backend has no estimate.
const RelayFeeFloor FeeRate = 1.0

// Interface is the view of the Bitcoin network the wallet consumes.  Calls
// may block on the network and honor ctx.
type Interface interface {
	// GetHeight returns the height of the best known block.
	GetHeight(ctx context.Context) (uint32, error)

	// EstimateFee returns a fee rate expected to confirm within blocks
	// blocks.
	EstimateFee(ctx context.Context, blocks uint32) (FeeRate, error)

	// GetBlockHash returns the hash of the main chain block at height.
	GetBlockHash(ctx context.Context, height uint32) (*chainhash.Hash, error)

	// GetBlock returns the full block with the given hash.
	GetBlock(ctx context.Context, hash *chainhash.Hash) (*wire.MsgBlock, error)
}

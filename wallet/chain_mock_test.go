package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/btcfed/fedwallet/chain"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// errBlockNotFound is returned by the mock for unknown blocks.
	errBlockNotFound = errors.New("block not found")

	// genesisTime anchors the mock chain's timestamps.
	genesisTime = time.Unix(1700000000, 0)
)

// mockChainClient is an in-memory chain whose blocks can be extended and
// reorganized by tests.
type mockChainClient struct {
	mu      sync.Mutex
	blocks  []*wire.MsgBlock
	feeRate chain.FeeRate

	// fork distinguishes replacement blocks after a reorg.
	fork uint32
}

var _ chain.Interface = (*mockChainClient)(nil)

// newMockChain returns a chain of empty blocks up to tip.
func newMockChain(tip uint32) *mockChainClient {
	c := &mockChainClient{feeRate: 1}
	for h := uint32(0); h <= tip; h++ {
		c.blocks = append(c.blocks, c.newBlock(h))
	}
	return c
}

func (c *mockChainClient) newBlock(height uint32) *wire.MsgBlock {
	var prev chainhash.Hash
	if height > 0 {
		prev = c.blocks[height-1].BlockHash()
	}
	header := wire.NewBlockHeader(
		1, &prev, &chainhash.Hash{}, 0x207fffff, c.fork,
	)
	header.Timestamp = genesisTime.Add(time.Duration(height) * 10 *
		time.Minute)

	// A coinbase-like transaction makes every block's merkle root
	// distinct.
	coinbase := wire.NewMsgTx(1)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript:  []byte{byte(height), byte(height >> 8), byte(c.fork)},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	coinbase.AddTxOut(wire.NewTxOut(0, []byte{0x6a}))

	block := wire.NewMsgBlock(header)
	_ = block.AddTransaction(coinbase)
	block.Header.MerkleRoot = blockchain.CalcMerkleRoot(
		[]*btcutil.Tx{btcutil.NewTx(coinbase)}, false,
	)
	return block
}

// fund adds a transaction paying value to pkScript in the block at height
// and returns it.  Blocks after height keep their contents but are rebuilt
// so the chain stays linked.
func (c *mockChainClient) fund(height uint32, pkScript []byte,
	value btcutil.Amount) *wire.MsgTx {

	c.mu.Lock()
	defer c.mu.Unlock()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.HashH([]byte{byte(height), byte(value)}),
			Index: uint32(value),
		},
		Sequence: wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(int64(value), pkScript))

	_ = c.blocks[height].AddTransaction(tx)
	c.relink(height)
	return tx
}

// relink recomputes merkle roots and previous hashes from height upwards.
func (c *mockChainClient) relink(height uint32) {
	for h := height; h < uint32(len(c.blocks)); h++ {
		b := c.blocks[h]
		txs := make([]*btcutil.Tx, len(b.Transactions))
		for i, tx := range b.Transactions {
			txs[i] = btcutil.NewTx(tx)
		}
		b.Header.MerkleRoot = blockchain.CalcMerkleRoot(txs, false)
		if h > 0 {
			b.Header.PrevBlock = c.blocks[h-1].BlockHash()
		}
	}
}

// reorg replaces every block from height with fresh empty blocks up to
// newTip.
func (c *mockChainClient) reorg(height, newTip uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fork++
	c.blocks = c.blocks[:height]
	for h := height; h <= newTip; h++ {
		c.blocks = append(c.blocks, c.newBlock(h))
	}
}

func (c *mockChainClient) GetHeight(context.Context) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint32(len(c.blocks) - 1), nil
}

func (c *mockChainClient) EstimateFee(context.Context, uint32) (chain.FeeRate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feeRate, nil
}

func (c *mockChainClient) GetBlockHash(_ context.Context,
	height uint32) (*chainhash.Hash, error) {

	c.mu.Lock()
	defer c.mu.Unlock()
	if height >= uint32(len(c.blocks)) {
		return nil, errBlockNotFound
	}
	hash := c.blocks[height].BlockHash()
	return &hash, nil
}

func (c *mockChainClient) GetBlock(_ context.Context,
	hash *chainhash.Hash) (*wire.MsgBlock, error) {

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.blocks {
		if b.BlockHash() == *hash {
			return b, nil
		}
	}
	return nil, errBlockNotFound
}

// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/btcfed/fedwallet/chain"
	"github.com/btcfed/fedwallet/walletdb"
	"github.com/btcfed/fedwallet/wtxmgr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// namespaceKey is the top-level bucket holding all wallet data.
	namespaceKey = []byte("wallet")

	// bucketWalletMeta holds the descriptor and the consensus state.
	bucketWalletMeta = []byte("walletmeta")

	keyDescriptor = []byte("descriptor")
	keyConsensus  = []byte("consensus")
)

// Config holds what a Wallet is built from.
type Config struct {
	// DB is the wallet store.  The wallet keeps everything under a single
	// top-level bucket.
	DB walletdb.DB

	// Chain is the blockchain backend.  The wallet owns it.
	Chain chain.Interface

	// Descriptor defines the federation's output script.
	Descriptor string

	// Signer holds this member's signing key, which must be one of the
	// descriptor's keys.
	Signer *Signer

	ChainParams *chaincfg.Params

	// FinalityDelay is how many blocks below the tip a block must be
	// before it is proposed as consensus height.
	FinalityDelay uint32

	// BirthdayHeight is the first block scanned on a fresh store.
	BirthdayHeight uint32

	// FederationSize is the number of members, used to warn about
	// rounds below the two thirds threshold.  Zero disables the check.
	FederationSize int
}

// Wallet is a federation member's view of the federation's on-chain funds.
// Spendability is decided by the consensus height all members agree on
// rather than by the local chain tip, so that every honest member builds
// the same withdrawals.
type Wallet struct {
	cfg        Config
	descriptor *Descriptor
	txStore    *wtxmgr.Store

	// consensusMtx guards consensus.  Readers take a snapshot at call
	// entry.
	consensusMtx sync.RWMutex
	consensus    consensusState

	// syncMtx serializes chain scans.
	syncMtx sync.Mutex
}

// New opens the wallet in cfg.DB, creating it on first use, and performs
// an initial chain sync.  The sync runs on its own goroutine; New returns
// early if ctx is cancelled.
func New(ctx context.Context, cfg Config) (*Wallet, error) {
	desc, err := ParseDescriptor(cfg.Descriptor, cfg.ChainParams)
	if err != nil {
		return nil, err
	}
	if cfg.Signer == nil || !desc.HasKey(cfg.Signer.PubKey()) {
		return nil, ErrKeyNotInDescriptor
	}

	w := &Wallet{
		cfg:        cfg,
		descriptor: desc,
	}

	isOwned := func(pkScript []byte) bool {
		return bytes.Equal(pkScript, desc.PkScript())
	}
	err = walletdb.Update(cfg.DB, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(namespaceKey)
		if err != nil {
			return err
		}
		if err := wtxmgr.Create(ns); err != nil {
			return err
		}
		w.txStore, err = wtxmgr.Open(ns, isOwned)
		if err != nil {
			return err
		}
		return w.loadMeta(ns)
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Opened wallet for %v at consensus height %d",
		desc.Address(), w.consensus.height)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- w.Sync(ctx)
	}()

	select {
	case err := <-syncErr:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return w, nil
}

// loadMeta checks the stored descriptor against ours, recording it on a
// fresh store, and restores the persisted consensus state.
func (w *Wallet) loadMeta(ns walletdb.ReadWriteBucket) error {
	meta, err := ns.CreateBucketIfNotExists(bucketWalletMeta)
	if err != nil {
		return dbError(err)
	}

	stored := meta.Get(keyDescriptor)
	current := []byte(w.descriptor.String())
	switch {
	case stored == nil:
		if err := meta.Put(keyDescriptor, current); err != nil {
			return dbError(err)
		}
	case !bytes.Equal(stored, current):
		return fmt.Errorf("%w: stored %s", ErrDescriptorMismatch, stored)
	}

	if v := meta.Get(keyConsensus); v != nil {
		state, err := decodeConsensusState(v)
		if err != nil {
			return dbError(err)
		}
		w.consensus = *state
	}
	return nil
}

// Descriptor returns the wallet's parsed descriptor.
func (w *Wallet) Descriptor() *Descriptor {
	return w.descriptor
}

// ConsensusHeight returns the agreed consensus height.
func (w *Wallet) ConsensusHeight() uint32 {
	w.consensusMtx.RLock()
	defer w.consensusMtx.RUnlock()
	return w.consensus.height
}

// ConsensusFeeRate returns the agreed fee rate in sat/vB, zero before the
// first round that committed one.
func (w *Wallet) ConsensusFeeRate() float32 {
	w.consensusMtx.RLock()
	defer w.consensusMtx.RUnlock()
	return w.consensus.feeRate
}

// HeightMap returns the confirmation height of every mined transaction
// touching the wallet.  Transactions without a known height are absent and
// must be treated as not final.
func (w *Wallet) HeightMap() (map[chainhash.Hash]uint32, error) {
	var heights map[chainhash.Hash]uint32
	err := walletdb.View(w.cfg.DB, func(tx walletdb.ReadTx) error {
		var err error
		heights, err = w.txStore.HeightMap(tx.ReadBucket(namespaceKey))
		return err
	})
	if err != nil {
		return nil, dbError(err)
	}
	return heights, nil
}

// snapshot reads the height map and unspent outputs in one transaction.
func (w *Wallet) snapshot() (map[chainhash.Hash]uint32, []wtxmgr.Credit, error) {
	var (
		heights map[chainhash.Hash]uint32
		credits []wtxmgr.Credit
	)
	err := walletdb.View(w.cfg.DB, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(namespaceKey)

		var err error
		heights, err = w.txStore.HeightMap(ns)
		if err != nil {
			return err
		}
		credits, err = w.txStore.UnspentOutputs(ns)
		return err
	})
	if err != nil {
		return nil, nil, dbError(err)
	}
	return heights, credits, nil
}

// Balance sums the unspent outputs funded by transactions confirmed at or
// below the consensus height.
func (w *Wallet) Balance() (btcutil.Amount, error) {
	w.consensusMtx.RLock()
	consensusHeight := w.consensus.height
	heights, credits, err := w.snapshot()
	w.consensusMtx.RUnlock()
	if err != nil {
		return 0, err
	}

	var balance btcutil.Amount
	for _, c := range credits {
		height, ok := heights[c.OutPoint.Hash]
		if !ok || height > consensusHeight {
			continue
		}
		balance += c.Amount
	}
	return balance, nil
}

// ConsensusProposal returns this member's proposal for the next round: the
// network height minus the finality delay, never below the previous
// proposal, and a fee estimate for ConfirmationTarget blocks.
func (w *Wallet) ConsensusProposal(ctx context.Context) (*WalletConsensus, error) {
	networkHeight, err := w.cfg.Chain.GetHeight(ctx)
	if err != nil {
		return nil, chainError(err)
	}
	feeRate, err := w.cfg.Chain.EstimateFee(ctx, ConfirmationTarget)
	if err != nil {
		return nil, chainError(err)
	}

	w.consensusMtx.Lock()
	defer w.consensusMtx.Unlock()

	height := w.consensus.nextProposalHeight(
		networkHeight, w.cfg.FinalityDelay,
	)
	if height != w.consensus.lastProposal {
		next := w.consensus
		next.lastProposal = height
		if err := w.persistConsensus(&next); err != nil {
			return nil, err
		}
		w.consensus = next
	}

	proposal := &WalletConsensus{
		BlockHeight: height,
		FeeRate:     float32(feeRate),
	}
	log.Debugf("Proposing height %d, fee rate %v sat/vB",
		proposal.BlockHeight, proposal.FeeRate)

	return proposal, nil
}

// ProcessConsensusProposals folds one round of proposals into the consensus
// height and fee rate.  Rounds are expected one at a time from the
// federation's consensus driver.  Changes are persisted before they take
// effect; an error means nothing changed.
func (w *Wallet) ProcessConsensusProposals(proposals []WalletConsensus) error {
	log.Tracef("Consensus proposals: %v", spewProposals(proposals))

	w.consensusMtx.Lock()
	defer w.consensusMtx.Unlock()

	next := w.consensus
	outcome := next.process(proposals, w.cfg.FederationSize)
	if !outcome.heightChanged && !outcome.feeRateChanged {
		return nil
	}

	if err := w.persistConsensus(&next); err != nil {
		return err
	}
	w.consensus = next

	log.Infof("Consensus height %d, fee rate %v sat/vB", next.height,
		next.feeRate)
	return nil
}

func (w *Wallet) persistConsensus(s *consensusState) error {
	v, err := s.encode()
	if err != nil {
		return dbError(err)
	}
	err = walletdb.Update(w.cfg.DB, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(namespaceKey)
		meta := ns.NestedReadWriteBucket(bucketWalletMeta)
		if meta == nil {
			return walletdb.ErrBucketNotFound
		}
		return meta.Put(keyConsensus, v)
	})
	if err != nil {
		return dbError(err)
	}
	return nil
}

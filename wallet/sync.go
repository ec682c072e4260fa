// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"

	"github.com/btcfed/fedwallet/walletdb"
	"github.com/btcfed/fedwallet/wtxmgr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Sync scans the chain from the last synced block to the backend's tip,
// recording every transaction that pays to or spends from the wallet.  A
// reorganization is detected by comparing recorded block hashes with the
// backend's and rolled back to the fork point before scanning.
func (w *Wallet) Sync(ctx context.Context) error {
	w.syncMtx.Lock()
	defer w.syncMtx.Unlock()

	tip, err := w.cfg.Chain.GetHeight(ctx)
	if err != nil {
		return chainError(err)
	}

	start, err := w.syncStart(ctx, tip)
	if err != nil {
		return err
	}
	if start > tip {
		return nil
	}

	log.Infof("Scanning blocks %d-%d", start, tip)

	for height := start; height <= tip; height++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		hash, err := w.cfg.Chain.GetBlockHash(ctx, height)
		if err != nil {
			return chainError(err)
		}
		block, err := w.cfg.Chain.GetBlock(ctx, hash)
		if err != nil {
			return chainError(err)
		}
		if err := w.connectBlock(block, height); err != nil {
			return err
		}
	}

	return nil
}

// syncStart returns the first height to scan, rolling back blocks that are
// no longer in the main chain.
func (w *Wallet) syncStart(ctx context.Context, tip uint32) (uint32, error) {
	var syncedTo fn.Option[wtxmgr.BlockMeta]
	err := walletdb.View(w.cfg.DB, func(tx walletdb.ReadTx) error {
		var err error
		syncedTo, err = w.txStore.SyncedTo(tx.ReadBucket(namespaceKey))
		return err
	})
	if err != nil {
		return 0, dbError(err)
	}
	if syncedTo.IsNone() {
		return w.cfg.BirthdayHeight, nil
	}
	synced := syncedTo.UnwrapOr(wtxmgr.BlockMeta{})

	height := synced.Height
	if height > tip {
		height = tip
	}
	for {
		match, err := w.isMainChain(ctx, height)
		if err != nil {
			return 0, err
		}
		if match {
			break
		}

		// Nothing recorded is in the main chain anymore, start over
		// from the birthday.
		if height <= w.cfg.BirthdayHeight {
			log.Warnf("Chain reorganized below birthday height %d, "+
				"rescanning", w.cfg.BirthdayHeight)
			err := w.rollback(w.cfg.BirthdayHeight, nil)
			return w.cfg.BirthdayHeight, err
		}
		height--
	}

	if height == synced.Height {
		return height + 1, nil
	}

	hash, err := w.cfg.Chain.GetBlockHash(ctx, height)
	if err != nil {
		return 0, chainError(err)
	}
	log.Warnf("Chain reorganized below height %d, rolling back to block "+
		"%v (height %d)", synced.Height, hash, height)

	fork := &wtxmgr.BlockMeta{Hash: *hash, Height: height}
	return height + 1, w.rollback(height+1, fork)
}

// isMainChain reports whether the block recorded at height is still in the
// backend's main chain.
func (w *Wallet) isMainChain(ctx context.Context, height uint32) (bool, error) {
	var (
		recorded chainhash.Hash
		missing  bool
	)
	err := walletdb.View(w.cfg.DB, func(tx walletdb.ReadTx) error {
		var err error
		recorded, err = w.txStore.BlockHash(
			tx.ReadBucket(namespaceKey), height,
		)
		if wtxmgr.IsError(err, wtxmgr.ErrBlockNotFound) {
			missing = true
			return nil
		}
		return err
	})
	if err != nil {
		return false, dbError(err)
	}
	if missing {
		return false, nil
	}

	hash, err := w.cfg.Chain.GetBlockHash(ctx, height)
	if err != nil {
		return false, chainError(err)
	}
	return *hash == recorded, nil
}

// rollback removes everything recorded at or above height.  A non-nil fork
// becomes the new sync point.
func (w *Wallet) rollback(height uint32, fork *wtxmgr.BlockMeta) error {
	err := walletdb.Update(w.cfg.DB, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(namespaceKey)
		if err := w.txStore.Rollback(ns, height); err != nil {
			return err
		}
		if fork == nil {
			return nil
		}
		return w.txStore.SetSyncedTo(ns, fork)
	})
	if err != nil {
		return dbError(err)
	}
	return nil
}

// connectBlock records the wallet's transactions in block and marks the
// wallet synced to it, all in one database transaction.
func (w *Wallet) connectBlock(block *wire.MsgBlock, height uint32) error {
	meta := &wtxmgr.BlockMeta{
		Hash:   block.BlockHash(),
		Height: height,
	}

	var relevant int
	err := walletdb.Update(w.cfg.DB, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(namespaceKey)
		for _, msgTx := range block.Transactions {
			rec, err := wtxmgr.NewTxRecordFromMsgTx(
				msgTx, block.Header.Timestamp,
			)
			if err != nil {
				return err
			}
			ok, err := w.txStore.InsertTx(ns, rec, meta)
			if err != nil {
				return err
			}
			if ok {
				relevant++
			}
		}
		if err := w.txStore.InsertBlock(ns, meta); err != nil {
			return err
		}
		return w.txStore.SetSyncedTo(ns, meta)
	})
	if err != nil {
		return dbError(err)
	}

	if relevant > 0 {
		log.Infof("Block %v (height %d) has %d relevant %s", meta.Hash,
			height, relevant, pickNoun(relevant, "transaction",
				"transactions"))
	}
	return nil
}

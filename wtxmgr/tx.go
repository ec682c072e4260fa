// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/btcfed/fedwallet/walletdb"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// BlockMeta identifies a block on the main chain.
type BlockMeta struct {
	Hash   chainhash.Hash
	Height uint32
}

// TxRecord represents a transaction managed by the Store.
type TxRecord struct {
	MsgTx        wire.MsgTx
	Hash         chainhash.Hash
	Received     time.Time
	SerializedTx []byte
}

// NewTxRecord creates a new transaction record from its serialization.
func NewTxRecord(serializedTx []byte, received time.Time) (*TxRecord, error) {
	rec := &TxRecord{
		Received:     received,
		SerializedTx: serializedTx,
	}
	err := rec.MsgTx.Deserialize(bytes.NewReader(serializedTx))
	if err != nil {
		str := "failed to deserialize transaction"
		return nil, storeError(ErrInput, str, err)
	}
	rec.Hash = rec.MsgTx.TxHash()
	return rec, nil
}

// NewTxRecordFromMsgTx creates a new transaction record that may be inserted
// into the store.
func NewTxRecordFromMsgTx(msgTx *wire.MsgTx, received time.Time) (*TxRecord, error) {
	buf := bytes.NewBuffer(make([]byte, 0, msgTx.SerializeSize()))
	if err := msgTx.Serialize(buf); err != nil {
		str := "failed to serialize transaction"
		return nil, storeError(ErrInput, str, err)
	}
	return &TxRecord{
		MsgTx:        *msgTx,
		Hash:         msgTx.TxHash(),
		Received:     received,
		SerializedTx: buf.Bytes(),
	}, nil
}

// TxDetails is a stored transaction together with its confirmation height,
// which is None while the transaction is unmined.
type TxDetails struct {
	TxRecord
	Height fn.Option[uint32]
}

// Credit is an unspent transaction output paying to the wallet.
type Credit struct {
	OutPoint wire.OutPoint
	Amount   btcutil.Amount
	PkScript []byte
}

// Store records the transactions relevant to a set of wallet scripts and the
// outputs among them that remain unspent.
type Store struct {
	isOwned func(pkScript []byte) bool
}

// Open opens the store found in ns.  isOwned reports whether an output
// script belongs to the wallet.
func Open(ns walletdb.ReadBucket, isOwned func(pkScript []byte) bool) (*Store, error) {
	for _, name := range [][]byte{
		bucketTxs, bucketUnspent, bucketHeaders, bucketMeta,
	} {
		if _, err := nestedRead(ns, name); err != nil {
			return nil, err
		}
	}
	return &Store{isOwned: isOwned}, nil
}

// InsertTx records rec if it pays to or spends from the wallet.  A nil block
// records the transaction as unmined; inserting a known transaction again
// updates its confirmation height.  It returns whether the transaction was
// relevant.
func (s *Store) InsertTx(ns walletdb.ReadWriteBucket, rec *TxRecord,
	block *BlockMeta) (bool, error) {

	txs, err := nestedWrite(ns, bucketTxs)
	if err != nil {
		return false, err
	}
	unspent, err := nestedWrite(ns, bucketUnspent)
	if err != nil {
		return false, err
	}

	height := unminedHeight
	if block != nil {
		height = block.Height
	}

	existing := txs.Get(rec.Hash[:])
	relevant := existing != nil
	if !relevant {
		relevant = s.isRelevant(unspent, &rec.MsgTx)
	}
	if !relevant {
		return false, nil
	}

	if existing != nil {
		log.Debugf("Updating height of transaction %v to %d",
			rec.Hash, int32(height))
	} else {
		log.Infof("Recording transaction %v (height %d)", rec.Hash,
			int32(height))
	}

	err = txs.Put(rec.Hash[:], valueTxRecord(rec, height))
	if err != nil {
		str := "failed to store transaction record"
		return false, storeError(ErrDatabase, str, err)
	}
	if existing != nil {
		return true, nil
	}

	if err := s.applyTx(unspent, &rec.MsgTx, rec.Hash); err != nil {
		return false, err
	}
	return true, nil
}

// isRelevant reports whether tx pays to a wallet script or spends a wallet
// output.
func (s *Store) isRelevant(unspent walletdb.ReadBucket, tx *wire.MsgTx) bool {
	for _, out := range tx.TxOut {
		if s.isOwned(out.PkScript) {
			return true
		}
	}
	for _, in := range tx.TxIn {
		if unspent.Get(canonicalOutPoint(&in.PreviousOutPoint)) != nil {
			return true
		}
	}
	return false
}

// applyTx debits the wallet outputs tx spends and credits the wallet outputs
// it creates.
func (s *Store) applyTx(unspent walletdb.ReadWriteBucket, tx *wire.MsgTx,
	txHash chainhash.Hash) error {

	for _, in := range tx.TxIn {
		k := canonicalOutPoint(&in.PreviousOutPoint)
		if unspent.Get(k) == nil {
			continue
		}
		if err := unspent.Delete(k); err != nil {
			str := "failed to remove spent output"
			return storeError(ErrDatabase, str, err)
		}
	}

	for i, out := range tx.TxOut {
		if !s.isOwned(out.PkScript) {
			continue
		}
		op := wire.OutPoint{Hash: txHash, Index: uint32(i)}
		v := valueUnspent(btcutil.Amount(out.Value), out.PkScript)
		if err := unspent.Put(canonicalOutPoint(&op), v); err != nil {
			str := fmt.Sprintf("failed to credit output %v", op)
			return storeError(ErrDatabase, str, err)
		}
	}
	return nil
}

// Rollback removes every transaction mined at or above height along with the
// block headers recorded for those heights, then recomputes the unspent set
// from the surviving records.  Unmined transactions are kept.
func (s *Store) Rollback(ns walletdb.ReadWriteBucket, height uint32) error {
	txs, err := nestedWrite(ns, bucketTxs)
	if err != nil {
		return err
	}
	headers, err := nestedWrite(ns, bucketHeaders)
	if err != nil {
		return err
	}

	var doomed [][]byte
	err = txs.ForEach(func(k, v []byte) error {
		if len(v) < 4 {
			str := "short transaction record value"
			return storeError(ErrData, str, nil)
		}
		h := byteOrder.Uint32(v)
		if h != unminedHeight && h >= height {
			doomed = append(doomed, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range doomed {
		if err := txs.Delete(k); err != nil {
			str := "failed to remove transaction record"
			return storeError(ErrDatabase, str, err)
		}
	}

	var stale [][]byte
	c := headers.ReadCursor()
	for k, _ := c.Seek(heightKey(height)); k != nil; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := headers.Delete(k); err != nil {
			str := "failed to remove block header"
			return storeError(ErrDatabase, str, err)
		}
	}

	log.Infof("Rolled back %d transactions and %d headers at or above "+
		"height %d", len(doomed), len(stale), height)

	return s.rebuildUnspent(ns)
}

// rebuildUnspent recreates the unspent bucket from all transaction records.
// Every wallet output of a record is a credit unless some record spends it.
func (s *Store) rebuildUnspent(ns walletdb.ReadWriteBucket) error {
	if err := ns.DeleteNestedBucket(bucketUnspent); err != nil {
		str := "failed to drop unspent outputs"
		return storeError(ErrDatabase, str, err)
	}
	unspent, err := ns.CreateBucketIfNotExists(bucketUnspent)
	if err != nil {
		str := "failed to recreate unspent outputs"
		return storeError(ErrDatabase, str, err)
	}

	details, err := s.Transactions(ns)
	if err != nil {
		return err
	}

	spent := make(map[wire.OutPoint]struct{})
	for _, d := range details {
		for _, in := range d.MsgTx.TxIn {
			spent[in.PreviousOutPoint] = struct{}{}
		}
	}
	for _, d := range details {
		for i, out := range d.MsgTx.TxOut {
			op := wire.OutPoint{Hash: d.Hash, Index: uint32(i)}
			if _, ok := spent[op]; ok || !s.isOwned(out.PkScript) {
				continue
			}
			v := valueUnspent(btcutil.Amount(out.Value), out.PkScript)
			if err := unspent.Put(canonicalOutPoint(&op), v); err != nil {
				str := fmt.Sprintf("failed to credit output %v", op)
				return storeError(ErrDatabase, str, err)
			}
		}
	}
	return nil
}

// Transactions returns every stored transaction ordered by hash.
func (s *Store) Transactions(ns walletdb.ReadBucket) ([]TxDetails, error) {
	txs, err := nestedRead(ns, bucketTxs)
	if err != nil {
		return nil, err
	}

	var details []TxDetails
	err = txs.ForEach(func(k, v []byte) error {
		var txHash chainhash.Hash
		copy(txHash[:], k)
		rec, height, err := readRawTxRecord(&txHash, v)
		if err != nil {
			return err
		}

		d := TxDetails{TxRecord: *rec, Height: fn.None[uint32]()}
		if height != unminedHeight {
			d.Height = fn.Some(height)
		}
		details = append(details, d)
		return nil
	})
	return details, err
}

// HeightMap maps every mined transaction to its confirmation height.
// Unmined transactions are left out.
func (s *Store) HeightMap(ns walletdb.ReadBucket) (map[chainhash.Hash]uint32, error) {
	details, err := s.Transactions(ns)
	if err != nil {
		return nil, err
	}

	heights := make(map[chainhash.Hash]uint32, len(details))
	for _, d := range details {
		d.Height.WhenSome(func(h uint32) {
			heights[d.Hash] = h
		})
	}
	return heights, nil
}

// UnspentOutputs returns all unspent wallet outputs ordered by outpoint.
func (s *Store) UnspentOutputs(ns walletdb.ReadBucket) ([]Credit, error) {
	unspent, err := nestedRead(ns, bucketUnspent)
	if err != nil {
		return nil, err
	}

	var credits []Credit
	err = unspent.ForEach(func(k, v []byte) error {
		c, err := readUnspent(k, v)
		if err != nil {
			return err
		}
		credits = append(credits, *c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Bucket order already sorts by outpoint; keep it explicit for callers
	// that rely on it.
	sort.Slice(credits, func(i, j int) bool {
		return bytes.Compare(canonicalOutPoint(&credits[i].OutPoint),
			canonicalOutPoint(&credits[j].OutPoint)) < 0
	})
	return credits, nil
}

// InsertBlock records the main chain block hash seen at a height.
func (s *Store) InsertBlock(ns walletdb.ReadWriteBucket, b *BlockMeta) error {
	headers, err := nestedWrite(ns, bucketHeaders)
	if err != nil {
		return err
	}
	if err := headers.Put(heightKey(b.Height), b.Hash[:]); err != nil {
		str := fmt.Sprintf("failed to store header at height %d", b.Height)
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

// BlockHash returns the recorded block hash at height.
func (s *Store) BlockHash(ns walletdb.ReadBucket, height uint32) (chainhash.Hash, error) {
	var hash chainhash.Hash

	headers, err := nestedRead(ns, bucketHeaders)
	if err != nil {
		return hash, err
	}
	v := headers.Get(heightKey(height))
	if v == nil {
		str := fmt.Sprintf("no block recorded at height %d", height)
		return hash, storeError(ErrBlockNotFound, str, nil)
	}
	copy(hash[:], v)
	return hash, nil
}

// SetSyncedTo records the last block the wallet finished scanning.
func (s *Store) SetSyncedTo(ns walletdb.ReadWriteBucket, b *BlockMeta) error {
	meta, err := nestedWrite(ns, bucketMeta)
	if err != nil {
		return err
	}
	if err := meta.Put(keySyncedTo, valueBlock(b)); err != nil {
		str := "failed to store sync height"
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

// SyncedTo returns the last block the wallet finished scanning, or None for a
// wallet that never synced.
func (s *Store) SyncedTo(ns walletdb.ReadBucket) (fn.Option[BlockMeta], error) {
	meta, err := nestedRead(ns, bucketMeta)
	if err != nil {
		return fn.None[BlockMeta](), err
	}
	v := meta.Get(keySyncedTo)
	if v == nil {
		return fn.None[BlockMeta](), nil
	}
	b, err := readBlock(v)
	if err != nil {
		return fn.None[BlockMeta](), err
	}
	return fn.Some(b), nil
}

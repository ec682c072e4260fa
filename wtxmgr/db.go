// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/btcfed/fedwallet/walletdb"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Naming
//
// The following variables are bucket names nested under the namespace handed
// to the store:
//
//	txs      txid -> [height:4][received:8][serialized tx]
//	utxos    [txid:32][index:4] -> [amount:8][pkScript]
//	headers  [height:4] -> [block hash:32]
//	meta     "syncedto" -> [height:4][hash:32]
//
// All integers are big endian so cursor order matches numeric order.
var (
	bucketTxs     = []byte("txs")
	bucketUnspent = []byte("utxos")
	bucketHeaders = []byte("headers")
	bucketMeta    = []byte("meta")

	keySyncedTo = []byte("syncedto")
)

// unminedHeight marks a transaction record that has not been seen in a block.
const unminedHeight = ^uint32(0)

var byteOrder = binary.BigEndian

func heightKey(height uint32) []byte {
	k := make([]byte, 4)
	byteOrder.PutUint32(k, height)
	return k
}

func canonicalOutPoint(op *wire.OutPoint) []byte {
	k := make([]byte, 36)
	copy(k, op.Hash[:])
	byteOrder.PutUint32(k[32:], op.Index)
	return k
}

func readCanonicalOutPoint(k []byte, op *wire.OutPoint) error {
	if len(k) != 36 {
		str := "short canonical outpoint"
		return storeError(ErrData, str, nil)
	}
	copy(op.Hash[:], k)
	op.Index = byteOrder.Uint32(k[32:])
	return nil
}

func valueTxRecord(rec *TxRecord, height uint32) []byte {
	v := make([]byte, 12+len(rec.SerializedTx))
	byteOrder.PutUint32(v, height)
	byteOrder.PutUint64(v[4:], uint64(rec.Received.Unix()))
	copy(v[12:], rec.SerializedTx)
	return v
}

func readRawTxRecord(txHash *chainhash.Hash, v []byte) (*TxRecord, uint32, error) {
	if len(v) < 12 {
		str := fmt.Sprintf("%s: short transaction record value", txHash)
		return nil, 0, storeError(ErrData, str, nil)
	}

	height := byteOrder.Uint32(v)
	received := time.Unix(int64(byteOrder.Uint64(v[4:])), 0)
	rec, err := NewTxRecord(v[12:], received)
	if err != nil {
		return nil, 0, err
	}
	if rec.Hash != *txHash {
		str := fmt.Sprintf("transaction record keyed %s hashes to %s",
			txHash, rec.Hash)
		return nil, 0, storeError(ErrData, str, nil)
	}

	return rec, height, nil
}

func valueUnspent(amount btcutil.Amount, pkScript []byte) []byte {
	v := make([]byte, 8+len(pkScript))
	byteOrder.PutUint64(v, uint64(amount))
	copy(v[8:], pkScript)
	return v
}

func readUnspent(k, v []byte) (*Credit, error) {
	if len(v) < 8 {
		str := "short unspent output value"
		return nil, storeError(ErrData, str, nil)
	}

	c := &Credit{
		Amount:   btcutil.Amount(byteOrder.Uint64(v)),
		PkScript: append([]byte(nil), v[8:]...),
	}
	if err := readCanonicalOutPoint(k, &c.OutPoint); err != nil {
		return nil, err
	}
	return c, nil
}

func valueBlock(b *BlockMeta) []byte {
	v := make([]byte, 36)
	byteOrder.PutUint32(v, b.Height)
	copy(v[4:], b.Hash[:])
	return v
}

func readBlock(v []byte) (BlockMeta, error) {
	var b BlockMeta
	if len(v) != 36 {
		str := "malformed block record"
		return b, storeError(ErrData, str, nil)
	}
	b.Height = byteOrder.Uint32(v)
	copy(b.Hash[:], v[4:])
	return b, nil
}

// Create initializes the store's buckets under ns.  It is a no-op for buckets
// that already exist.
func Create(ns walletdb.ReadWriteBucket) error {
	for _, name := range [][]byte{
		bucketTxs, bucketUnspent, bucketHeaders, bucketMeta,
	} {
		if _, err := ns.CreateBucketIfNotExists(name); err != nil {
			str := fmt.Sprintf("failed to create bucket %s", name)
			return storeError(ErrDatabase, str, err)
		}
	}
	return nil
}

// Drop deletes every record of the store under ns, leaving the buckets
// empty.  The next sync starts over from the wallet birthday.
func Drop(ns walletdb.ReadWriteBucket) error {
	for _, name := range [][]byte{
		bucketTxs, bucketUnspent, bucketHeaders, bucketMeta,
	} {
		err := ns.DeleteNestedBucket(name)
		if err != nil && !errors.Is(err, walletdb.ErrBucketNotFound) {
			str := fmt.Sprintf("failed to delete bucket %s", name)
			return storeError(ErrDatabase, str, err)
		}
	}
	return Create(ns)
}

func nestedRead(ns walletdb.ReadBucket, name []byte) (walletdb.ReadBucket, error) {
	b := ns.NestedReadBucket(name)
	if b == nil {
		str := fmt.Sprintf("bucket %s not found", name)
		return nil, storeError(ErrUninitialized, str, nil)
	}
	return b, nil
}

func nestedWrite(ns walletdb.ReadWriteBucket, name []byte) (walletdb.ReadWriteBucket, error) {
	b := ns.NestedReadWriteBucket(name)
	if b == nil {
		str := fmt.Sprintf("bucket %s not found", name)
		return nil, storeError(ErrUninitialized, str, nil)
	}
	return b, nil
}

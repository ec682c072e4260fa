// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fedclient

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

// OperationID identifies an operation and its state machine.
type OperationID [32]byte

// String returns the hex encoding of the id.
func (id OperationID) String() string {
	return hex.EncodeToString(id[:])
}

var (
	prefixActive  = []byte("sm/active/")
	prefixHistory = []byte("sm/history/")
	prefixOpLog   = []byte("oplog/")
)

// ErrOperationExists is returned when logging an operation twice.
var ErrOperationExists = errors.New("operation already exists")

func activeKey(id OperationID) []byte {
	return append(append([]byte{}, prefixActive...), id[:]...)
}

func historyPrefix(id OperationID) []byte {
	k := append(append([]byte{}, prefixHistory...), id[:]...)
	return append(k, '/')
}

func opLogKey(id OperationID) []byte {
	return append(append([]byte{}, prefixOpLog...), id[:]...)
}

const (
	typeOpKind    tlv.Type = 0
	typeOpMeta    tlv.Type = 2
	typeOpOutcome tlv.Type = 4
)

// OperationLogEntry records an operation a module started, and once known,
// its final outcome so later subscribers need not replay the state
// machine.
type OperationLogEntry struct {
	// Kind tags the operation within its module, e.g. "pay".
	Kind string

	Meta []byte

	Outcome fn.Option[[]byte]
}

func (e *OperationLogEntry) encode() ([]byte, error) {
	kind := []byte(e.Kind)
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeOpKind, &kind),
		tlv.MakePrimitiveRecord(typeOpMeta, &e.Meta),
	}
	var outcome []byte
	e.Outcome.WhenSome(func(o []byte) {
		outcome = o
		records = append(records,
			tlv.MakePrimitiveRecord(typeOpOutcome, &outcome))
	})

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decodeOperationLogEntry(v []byte) (*OperationLogEntry, error) {
	var kind, meta, outcome []byte
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeOpKind, &kind),
		tlv.MakePrimitiveRecord(typeOpMeta, &meta),
		tlv.MakePrimitiveRecord(typeOpOutcome, &outcome),
	)
	if err != nil {
		return nil, err
	}
	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(v))
	if err != nil {
		return nil, err
	}

	e := &OperationLogEntry{
		Kind:    string(kind),
		Meta:    meta,
		Outcome: fn.None[[]byte](),
	}
	if _, ok := parsed[typeOpOutcome]; ok {
		e.Outcome = fn.Some(outcome)
	}
	return e, nil
}

// AddOperationLogEntry records a new operation in tx.
func AddOperationLogEntry(tx *Tx, id OperationID, kind string,
	meta []byte) error {

	key := opLogKey(id)
	exists, err := tx.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %v", ErrOperationExists, id)
	}

	entry := &OperationLogEntry{
		Kind:    kind,
		Meta:    meta,
		Outcome: fn.None[[]byte](),
	}
	v, err := entry.encode()
	if err != nil {
		return err
	}
	return tx.Set(key, v)
}

// GetOperationLogEntry returns the entry for id, or ErrNotFound.
func GetOperationLogEntry(tx *Tx, id OperationID) (*OperationLogEntry, error) {
	v, err := tx.Get(opLogKey(id))
	if err != nil {
		return nil, err
	}
	return decodeOperationLogEntry(v)
}

// SetOperationOutcome caches the final outcome of id.
func SetOperationOutcome(tx *Tx, id OperationID, outcome []byte) error {
	entry, err := GetOperationLogEntry(tx, id)
	if err != nil {
		return err
	}
	entry.Outcome = fn.Some(outcome)

	v, err := entry.encode()
	if err != nil {
		return err
	}
	return tx.Set(opLogKey(id), v)
}

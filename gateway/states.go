// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"bytes"
	"fmt"

	"github.com/btcfed/fedwallet/fedclient"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/tlv"
)

// PayState is a state of the pay state machine.
//
// A machine starts in PayInvoice.  Paying the invoice leads to
// ClaimContract and from there to PreimageRevealed; refusing or failing the
// payment leads through CancelContract to Canceled.  OfferDoesNotExist and
// Failed end the machine early.
type PayState interface {
	fedclient.State

	stateKind() payStateKind
}

type payStateKind uint8

const (
	kindPayInvoice payStateKind = iota
	kindClaimContract
	kindCancelContract
	kindPreimageRevealed
	kindCanceled
	kindOfferDoesNotExist
	kindFailed
)

// PayInvoice is the initial state: the contract still has to be checked
// and its invoice paid.
type PayInvoice struct {
	ContractID ContractID
}

// ClaimContract holds a paid invoice's preimage until the claim of the
// contract was accepted.
type ClaimContract struct {
	ContractID ContractID
	Amount     lnwire.MilliSatoshi
	Preimage   Preimage
}

// CancelContract returns the contract's funds to the user.
type CancelContract struct {
	ContractID ContractID
	Reason     string
}

// PreimageRevealed is the terminal success state.  OutPoint is the claim
// output crediting the gateway.
type PreimageRevealed struct {
	OutPoint OutPoint
	Preimage Preimage
}

// Canceled is the terminal state after an accepted cancellation.
type Canceled struct {
	OutPoint OutPoint
	Reason   string
}

// OfferDoesNotExist is the terminal state for unknown contracts.
type OfferDoesNotExist struct {
	ContractID ContractID
}

// Failed is the terminal state for unrecoverable errors.
type Failed struct {
	Reason string
}

func (PayInvoice) IsTerminal() bool        { return false }
func (ClaimContract) IsTerminal() bool     { return false }
func (CancelContract) IsTerminal() bool    { return false }
func (PreimageRevealed) IsTerminal() bool  { return true }
func (Canceled) IsTerminal() bool          { return true }
func (OfferDoesNotExist) IsTerminal() bool { return true }
func (Failed) IsTerminal() bool            { return true }

func (PayInvoice) stateKind() payStateKind        { return kindPayInvoice }
func (ClaimContract) stateKind() payStateKind     { return kindClaimContract }
func (CancelContract) stateKind() payStateKind    { return kindCancelContract }
func (PreimageRevealed) stateKind() payStateKind  { return kindPreimageRevealed }
func (Canceled) stateKind() payStateKind          { return kindCanceled }
func (OfferDoesNotExist) stateKind() payStateKind { return kindOfferDoesNotExist }
func (Failed) stateKind() payStateKind            { return kindFailed }

const (
	typeStateKind     tlv.Type = 0
	typeStateContract tlv.Type = 2
	typeStatePreimage tlv.Type = 4
	typeStateTxID     tlv.Type = 6
	typeStateOutIdx   tlv.Type = 8
	typeStateAmount   tlv.Type = 10
	typeStateReason   tlv.Type = 12
)

// stateRecord is the flattened form of every pay state.
type stateRecord struct {
	kind     uint8
	contract [32]byte
	preimage [32]byte
	txid     [32]byte
	outIdx   uint32
	amount   uint64
	reason   []byte
}

func (r *stateRecord) stream() (*tlv.Stream, error) {
	return tlv.NewStream(
		tlv.MakePrimitiveRecord(typeStateKind, &r.kind),
		tlv.MakePrimitiveRecord(typeStateContract, &r.contract),
		tlv.MakePrimitiveRecord(typeStatePreimage, &r.preimage),
		tlv.MakePrimitiveRecord(typeStateTxID, &r.txid),
		tlv.MakePrimitiveRecord(typeStateOutIdx, &r.outIdx),
		tlv.MakePrimitiveRecord(typeStateAmount, &r.amount),
		tlv.MakePrimitiveRecord(typeStateReason, &r.reason),
	)
}

// encodePayState serializes a pay state for the federation client store.
func encodePayState(s PayState) ([]byte, error) {
	r := stateRecord{kind: uint8(s.stateKind())}
	switch s := s.(type) {
	case PayInvoice:
		r.contract = s.ContractID

	case ClaimContract:
		r.contract = s.ContractID
		r.amount = uint64(s.Amount)
		r.preimage = s.Preimage

	case CancelContract:
		r.contract = s.ContractID
		r.reason = []byte(s.Reason)

	case PreimageRevealed:
		r.txid = s.OutPoint.TxID
		r.outIdx = s.OutPoint.OutIdx
		r.preimage = s.Preimage

	case Canceled:
		r.txid = s.OutPoint.TxID
		r.outIdx = s.OutPoint.OutIdx
		r.reason = []byte(s.Reason)

	case OfferDoesNotExist:
		r.contract = s.ContractID

	case Failed:
		r.reason = []byte(s.Reason)

	default:
		return nil, fmt.Errorf("unknown pay state %T", s)
	}

	stream, err := r.stream()
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// decodePayState reverses encodePayState.
func decodePayState(b []byte) (PayState, error) {
	var r stateRecord
	stream, err := r.stream()
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	outPoint := OutPoint{
		TxID:   chainhash.Hash(r.txid),
		OutIdx: r.outIdx,
	}
	switch payStateKind(r.kind) {
	case kindPayInvoice:
		return PayInvoice{ContractID: r.contract}, nil

	case kindClaimContract:
		return ClaimContract{
			ContractID: r.contract,
			Amount:     lnwire.MilliSatoshi(r.amount),
			Preimage:   r.preimage,
		}, nil

	case kindCancelContract:
		return CancelContract{
			ContractID: r.contract,
			Reason:     string(r.reason),
		}, nil

	case kindPreimageRevealed:
		return PreimageRevealed{
			OutPoint: outPoint,
			Preimage: r.preimage,
		}, nil

	case kindCanceled:
		return Canceled{OutPoint: outPoint, Reason: string(r.reason)}, nil

	case kindOfferDoesNotExist:
		return OfferDoesNotExist{ContractID: r.contract}, nil

	case kindFailed:
		return Failed{Reason: string(r.reason)}, nil
	}

	return nil, fmt.Errorf("unknown pay state kind %d", r.kind)
}

// ExtPayStateKind enumerates the public states of a payment.
type ExtPayStateKind uint8

const (
	ExtCreated ExtPayStateKind = iota
	ExtPreimage
	ExtSuccess
	ExtCanceled
	ExtFail
	ExtOfferDoesNotExist
)

func (k ExtPayStateKind) String() string {
	switch k {
	case ExtCreated:
		return "Created"
	case ExtPreimage:
		return "Preimage"
	case ExtSuccess:
		return "Success"
	case ExtCanceled:
		return "Canceled"
	case ExtFail:
		return "Fail"
	case ExtOfferDoesNotExist:
		return "OfferDoesNotExist"
	}
	return fmt.Sprintf("ExtPayStateKind(%d)", uint8(k))
}

// ExtPayState is the state of a payment as reported to subscribers.  A
// payment goes Created, Preimage, Success on success and from Created to
// one of Canceled, OfferDoesNotExist or Fail otherwise.
type ExtPayState struct {
	Kind ExtPayStateKind

	// Preimage is set for Preimage and Success.
	Preimage Preimage

	// ContractID is set for OfferDoesNotExist.
	ContractID ContractID
}

func (s ExtPayState) String() string {
	switch s.Kind {
	case ExtPreimage, ExtSuccess:
		return fmt.Sprintf("%v{%v}", s.Kind, s.Preimage)
	case ExtOfferDoesNotExist:
		return fmt.Sprintf("%v{%v}", s.Kind, s.ContractID)
	}
	return s.Kind.String()
}

// isFinal reports whether no further state follows s.
func (s ExtPayState) isFinal() bool {
	return s.Kind != ExtCreated && s.Kind != ExtPreimage
}

const (
	typeExtKind     tlv.Type = 0
	typeExtPreimage tlv.Type = 2
	typeExtContract tlv.Type = 4
)

func (s *ExtPayState) encode() ([]byte, error) {
	kind := uint8(s.Kind)
	preimage := [32]byte(s.Preimage)
	contract := [32]byte(s.ContractID)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeExtKind, &kind),
		tlv.MakePrimitiveRecord(typeExtPreimage, &preimage),
		tlv.MakePrimitiveRecord(typeExtContract, &contract),
	)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decodeExtPayState(b []byte) (ExtPayState, error) {
	var (
		kind               uint8
		preimage, contract [32]byte
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeExtKind, &kind),
		tlv.MakePrimitiveRecord(typeExtPreimage, &preimage),
		tlv.MakePrimitiveRecord(typeExtContract, &contract),
	)
	if err != nil {
		return ExtPayState{}, err
	}
	if err := stream.Decode(bytes.NewReader(b)); err != nil {
		return ExtPayState{}, err
	}
	return ExtPayState{
		Kind:       ExtPayStateKind(kind),
		Preimage:   preimage,
		ContractID: contract,
	}, nil
}

// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnwire"
)

// ContractID identifies an outgoing contract at the federation.
type ContractID chainhash.Hash

// String returns the contract id in hex.
func (c ContractID) String() string {
	return hex.EncodeToString(c[:])
}

// MarshalText encodes the id as hex.
func (c ContractID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a hex id.
func (c *ContractID) UnmarshalText(text []byte) error {
	return decodeHex32((*[32]byte)(c), text)
}

// Preimage is the secret revealed by paying a Lightning invoice.
type Preimage [32]byte

// Hash returns the payment hash the preimage unlocks.
func (p Preimage) Hash() chainhash.Hash {
	return sha256.Sum256(p[:])
}

// String returns the preimage in hex.
func (p Preimage) String() string {
	return hex.EncodeToString(p[:])
}

// MarshalText encodes the preimage as hex.
func (p Preimage) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a hex preimage.
func (p *Preimage) UnmarshalText(text []byte) error {
	return decodeHex32((*[32]byte)(p), text)
}

// XOnlyKey is a BIP-340 public key.
type XOnlyKey [schnorr.PubKeyBytesLen]byte

// NewXOnlyKey returns the x-only serialization of key.
func NewXOnlyKey(key *btcec.PublicKey) XOnlyKey {
	var x XOnlyKey
	copy(x[:], schnorr.SerializePubKey(key))
	return x
}

// MarshalText encodes the key as hex.
func (x XOnlyKey) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(x[:])), nil
}

// UnmarshalText decodes a hex key.
func (x *XOnlyKey) UnmarshalText(text []byte) error {
	return decodeHex32((*[32]byte)(x), text)
}

func decodeHex32(dst *[32]byte, text []byte) error {
	if hex.DecodedLen(len(text)) != len(dst) {
		return fmt.Errorf("expected %d hex characters, got %d",
			2*len(dst), len(text))
	}
	_, err := hex.Decode(dst[:], text)
	return err
}

// OutPoint references an output of a federation transaction.
type OutPoint struct {
	TxID   chainhash.Hash `json:"txid"`
	OutIdx uint32         `json:"out_idx"`
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%v:%d", o.TxID, o.OutIdx)
}

// OutgoingContract locks a user's funds for a Lightning payment the gateway
// makes on their behalf.  The gateway claims it with the payment preimage,
// or cancels it to return the funds to the user.
type OutgoingContract struct {
	// Hash is the payment hash of Invoice.
	Hash chainhash.Hash `json:"hash"`

	// GatewayKey is the key allowed to claim or cancel the contract.
	GatewayKey XOnlyKey `json:"gateway_key"`

	// Timelock is the block height after which the user can reclaim the
	// funds.
	Timelock uint32 `json:"timelock"`

	UserKey XOnlyKey `json:"user_key"`

	// Invoice is the BOLT-11 invoice to pay.
	Invoice string `json:"invoice"`

	Cancelled bool `json:"cancelled"`
}

// OutgoingContractAccount is a funded outgoing contract.
type OutgoingContractAccount struct {
	Amount   lnwire.MilliSatoshi `json:"amount"`
	Contract OutgoingContract    `json:"contract"`
}

// RoutingFees is the gateway's charge for forwarding a payment.
type RoutingFees struct {
	BaseMsat               uint32 `json:"base_msat"`
	ProportionalMillionths uint32 `json:"proportional_millionths"`
}

// Fee returns the fee for forwarding amt.
func (f RoutingFees) Fee(amt lnwire.MilliSatoshi) lnwire.MilliSatoshi {
	prop := uint64(amt) * uint64(f.ProportionalMillionths) / 1_000_000
	return lnwire.MilliSatoshi(uint64(f.BaseMsat) + prop)
}

// RouteHint is a private route to the gateway's node.
type RouteHint struct {
	NodeID    string `json:"node_id"`
	ChannelID uint64 `json:"channel_id"`
}

// LightningGateway announces the gateway to a federation.
type LightningGateway struct {
	MintChannelID uint64      `json:"mint_channel_id"`
	MintPubKey    XOnlyKey    `json:"mint_pub_key"`
	NodePubKey    string      `json:"node_pub_key"`
	API           string      `json:"api"`
	RouteHints    []RouteHint `json:"route_hints"`
	ValidUntil    time.Time   `json:"valid_until"`
	Fees          RoutingFees `json:"fees"`
}

// Input kinds and output kinds of federation transactions.
const (
	InputContract = "contract"

	OutputPrimary        = "primary"
	OutputCancelOutgoing = "cancel_outgoing"
)

// Input spends a contract.
type Input struct {
	Kind       string              `json:"kind"`
	ContractID ContractID          `json:"contract_id"`
	Amount     lnwire.MilliSatoshi `json:"amount"`

	// Witness reveals the preimage a claim is conditioned on.
	Witness *Preimage `json:"witness,omitempty"`
}

// Output is a federation transaction output.
type Output struct {
	Kind   string              `json:"kind"`
	Amount lnwire.MilliSatoshi `json:"amount"`

	// ContractID and GatewaySignature are set on cancel outputs.
	ContractID       *ContractID `json:"contract_id,omitempty"`
	GatewaySignature []byte      `json:"gateway_signature,omitempty"`
}

// Transaction is submitted to the federation to claim or cancel
// contracts.
type Transaction struct {
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`

	// Signature is a schnorr signature over TxID by the key owning the
	// inputs, omitted when there are none.
	Signature []byte `json:"signature,omitempty"`
}

// TxID hashes the transaction without its signature.  It is stable for a
// given content.
func (tx *Transaction) TxID() chainhash.Hash {
	var b bytes.Buffer
	writeVar := func(data []byte) {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(data)))
		b.Write(l[:])
		b.Write(data)
	}
	writeUint := func(v uint64) {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], v)
		b.Write(buf[:])
	}

	writeUint(uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		writeVar([]byte(in.Kind))
		b.Write(in.ContractID[:])
		writeUint(uint64(in.Amount))
		if in.Witness != nil {
			writeVar(in.Witness[:])
		} else {
			writeVar(nil)
		}
	}
	writeUint(uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		writeVar([]byte(out.Kind))
		writeUint(uint64(out.Amount))
		if out.ContractID != nil {
			writeVar(out.ContractID[:])
		} else {
			writeVar(nil)
		}
		writeVar(out.GatewaySignature)
	}

	return *chainhash.TaggedHash([]byte("fedwallet/tx"), b.Bytes())
}

// cancelMessage is what the gateway signs to cancel contract.
func cancelMessage(contract ContractID) chainhash.Hash {
	return *chainhash.TaggedHash(
		[]byte("fedwallet/cancel-outgoing"), contract[:],
	)
}

// newClaimTx builds the transaction claiming amount locked in contract id
// with preimage into the gateway's primary module account.
func newClaimTx(id ContractID, amount lnwire.MilliSatoshi, preimage Preimage,
	key *btcec.PrivateKey) (*Transaction, error) {

	witness := preimage
	tx := &Transaction{
		Inputs: []Input{{
			Kind:       InputContract,
			ContractID: id,
			Amount:     amount,
			Witness:    &witness,
		}},
		Outputs: []Output{{
			Kind:   OutputPrimary,
			Amount: amount,
		}},
	}

	txid := tx.TxID()
	sig, err := schnorr.Sign(key, txid[:])
	if err != nil {
		return nil, err
	}
	tx.Signature = sig.Serialize()
	return tx, nil
}

// newCancelTx builds the transaction cancelling contract id.
func newCancelTx(id ContractID, key *btcec.PrivateKey) (*Transaction, error) {
	msg := cancelMessage(id)
	sig, err := schnorr.Sign(key, msg[:])
	if err != nil {
		return nil, err
	}

	contract := id
	return &Transaction{
		Outputs: []Output{{
			Kind:             OutputCancelOutgoing,
			ContractID:       &contract,
			GatewaySignature: sig.Serialize(),
		}},
	}, nil
}

// String returns the JSON form of the record for logging.
func (g *LightningGateway) String() string {
	b, err := json.Marshal(g)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}

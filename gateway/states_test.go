// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func TestPayStateEncoding(t *testing.T) {
	t.Parallel()

	contract := ContractID{0x01, 0x02}
	outPoint := OutPoint{TxID: chainhash.Hash{0x03}, OutIdx: 2}
	preimage := Preimage{0x04}

	states := []PayState{
		PayInvoice{ContractID: contract},
		ClaimContract{
			ContractID: contract,
			Amount:     123_456,
			Preimage:   preimage,
		},
		CancelContract{ContractID: contract, Reason: "no route"},
		PreimageRevealed{OutPoint: outPoint, Preimage: preimage},
		Canceled{OutPoint: outPoint, Reason: "no route"},
		OfferDoesNotExist{ContractID: contract},
		Failed{Reason: "rejected"},
	}
	for _, state := range states {
		b, err := encodePayState(state)
		require.NoError(t, err)

		decoded, err := decodePayState(b)
		require.NoError(t, err)
		require.Equal(t, state, decoded)
	}
}

func TestExtPayState(t *testing.T) {
	t.Parallel()

	states := []ExtPayState{
		{Kind: ExtCreated},
		{Kind: ExtPreimage, Preimage: Preimage{0x01}},
		{Kind: ExtSuccess, Preimage: Preimage{0x01}},
		{Kind: ExtCanceled},
		{Kind: ExtFail},
		{Kind: ExtOfferDoesNotExist, ContractID: ContractID{0x02}},
	}
	for _, state := range states {
		b, err := state.encode()
		require.NoError(t, err)

		decoded, err := decodeExtPayState(b)
		require.NoError(t, err)
		require.Equal(t, state, decoded)
	}

	require.False(t, ExtPayState{Kind: ExtCreated}.isFinal())
	require.False(t, ExtPayState{Kind: ExtPreimage}.isFinal())
	require.True(t, ExtPayState{Kind: ExtSuccess}.isFinal())
	require.True(t, ExtPayState{Kind: ExtOfferDoesNotExist}.isFinal())

	require.Equal(t, "Preimage{0100000000000000000000000000000000"+
		"000000000000000000000000000000}", states[1].String())
	require.Equal(t, "Canceled", states[3].String())
}

func TestContractJSON(t *testing.T) {
	t.Parallel()

	account := OutgoingContractAccount{
		Amount: 5000,
		Contract: OutgoingContract{
			Hash:       chainhash.Hash{0x01},
			GatewayKey: XOnlyKey{0x02},
			Timelock:   700_000,
			UserKey:    XOnlyKey{0x03},
			Invoice:    "lnbc1",
		},
	}

	b, err := json.Marshal(account)
	require.NoError(t, err)

	var decoded OutgoingContractAccount
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, account, decoded)

	var id ContractID
	require.Error(t, id.UnmarshalText([]byte("abcd")))
	require.NoError(t, id.UnmarshalText([]byte(ContractID{0xff}.String())))
	require.Equal(t, ContractID{0xff}, id)
}

func TestRoutingFees(t *testing.T) {
	t.Parallel()

	fees := RoutingFees{BaseMsat: 1000, ProportionalMillionths: 10_000}
	require.EqualValues(t, 1000, fees.Fee(0))
	require.EqualValues(t, 2000, fees.Fee(100_000))
	require.EqualValues(t, 0, RoutingFees{}.Fee(1_000_000))
}

// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// testFederationServer serves a single known contract.  Only transaction
// 01 is accepted and only the first output of any transaction is final.
func testFederationServer(t *testing.T, known ContractID,
	account *OutgoingContractAccount) (*HTTPFederationAPI,
	chan *LightningGateway) {

	t.Helper()

	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}

	registered := make(chan *LightningGateway, 1)
	accepted := chainhash.Hash{0x01}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ln/contract/{id}", func(w http.ResponseWriter,
		r *http.Request) {

		if r.PathValue("id") != known.String() {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, account)
	})
	mux.HandleFunc("GET /wallet/block_height", func(w http.ResponseWriter,
		r *http.Request) {

		writeJSON(w, heightResponse{Height: 812})
	})
	mux.HandleFunc("POST /transaction", func(w http.ResponseWriter,
		r *http.Request) {

		var tx Transaction
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, errorResponse{Error: err.Error()})
			return
		}
		if len(tx.Outputs) == 0 {
			writeJSON(w, submitResponse{TxID: chainhash.Hash{0xff}})
			return
		}
		writeJSON(w, submitResponse{TxID: tx.TxID()})
	})
	mux.HandleFunc("GET /transaction/{txid}/await", func(
		w http.ResponseWriter, r *http.Request) {

		if r.PathValue("txid") == accepted.String() {
			writeJSON(w, awaitResponse{Accepted: true})
			return
		}
		writeJSON(w, awaitResponse{Error: "double spend"})
	})
	mux.HandleFunc("GET /output/{txid}/{idx}/await", func(
		w http.ResponseWriter, r *http.Request) {

		writeJSON(w, awaitResponse{Accepted: r.PathValue("idx") == "0"})
	})
	mux.HandleFunc("POST /ln/gateway", func(w http.ResponseWriter,
		r *http.Request) {

		var gw LightningGateway
		if err := json.NewDecoder(r.Body).Decode(&gw); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, errorResponse{Error: err.Error()})
			return
		}
		registered <- &gw
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return NewHTTPFederationAPI(server.URL + "/"), registered
}

func TestHTTPFederationAPI(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	known := ContractID{0x0a}
	account := &OutgoingContractAccount{
		Amount: 42_000,
		Contract: OutgoingContract{
			Hash:     chainhash.Hash{0x0b},
			Timelock: 900,
			Invoice:  "lnbc1",
		},
	}
	api, registered := testFederationServer(t, known, account)

	got, err := api.FetchContract(ctx, known)
	require.NoError(t, err)
	require.Equal(t, account, got)

	_, err = api.FetchContract(ctx, ContractID{0x0c})
	require.ErrorIs(t, err, ErrContractNotFound)

	height, err := api.ConsensusBlockHeight(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 812, height)

	key, err := deriveRedeemKey(testRootSecret)
	require.NoError(t, err)
	claim, err := newClaimTx(known, 42_000, Preimage{0x01}, key)
	require.NoError(t, err)
	txid, err := api.SubmitTransaction(ctx, claim)
	require.NoError(t, err)
	require.Equal(t, claim.TxID(), txid)

	// A federation answering with another id is not trusted.
	_, err = api.SubmitTransaction(ctx, &Transaction{})
	require.Error(t, err)

	require.NoError(t, api.AwaitTransaction(ctx, chainhash.Hash{0x01}))
	err = api.AwaitTransaction(ctx, chainhash.Hash{0x02})
	require.ErrorIs(t, err, ErrTransactionRejected)
	require.ErrorContains(t, err, "double spend")

	require.NoError(t, api.AwaitOutput(ctx, OutPoint{TxID: txid}))
	err = api.AwaitOutput(ctx, OutPoint{TxID: txid, OutIdx: 1})
	require.ErrorIs(t, err, ErrTransactionRejected)

	gw := &LightningGateway{
		MintChannelID: 7,
		MintPubKey:    NewXOnlyKey(key.PubKey()),
		NodePubKey:    "02aa",
		API:           "https://gw",
		RouteHints:    []RouteHint{{NodeID: "03bb", ChannelID: 9}},
		Fees:          testFees,
	}
	require.NoError(t, api.RegisterGateway(ctx, gw))
	require.Equal(t, gw, <-registered)
}

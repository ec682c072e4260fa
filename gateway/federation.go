// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// ErrContractNotFound is returned when the federation knows no
	// contract under the requested id.
	ErrContractNotFound = errors.New("contract not found")

	// ErrTransactionRejected is returned when the federation rejected a
	// submitted transaction.
	ErrTransactionRejected = errors.New("transaction rejected")
)

// FederationAPI is the part of the federation's API the gateway uses.  All
// calls are idempotent for the same arguments.
type FederationAPI interface {
	// FetchContract returns the outgoing contract account id, or
	// ErrContractNotFound.
	FetchContract(ctx context.Context, id ContractID) (*OutgoingContractAccount, error)

	// ConsensusBlockHeight returns the federation's agreed block height.
	ConsensusBlockHeight(ctx context.Context) (uint32, error)

	// SubmitTransaction submits tx and returns its id.
	SubmitTransaction(ctx context.Context, tx *Transaction) (chainhash.Hash, error)

	// AwaitTransaction blocks until the federation decided on txid.  It
	// returns ErrTransactionRejected if it was not accepted.
	AwaitTransaction(ctx context.Context, txid chainhash.Hash) error

	// AwaitOutput blocks until the output at outpoint is final in the
	// gateway's primary module account.
	AwaitOutput(ctx context.Context, outpoint OutPoint) error

	// RegisterGateway announces the gateway.
	RegisterGateway(ctx context.Context, gw *LightningGateway) error
}

// HTTPFederationAPI talks JSON over HTTP to a federation's API endpoint.
type HTTPFederationAPI struct {
	URL    string
	Client *http.Client
}

var _ FederationAPI = (*HTTPFederationAPI)(nil)

// NewHTTPFederationAPI returns a client for the API at url.
func NewHTTPFederationAPI(url string) *HTTPFederationAPI {
	return &HTTPFederationAPI{
		URL:    strings.TrimRight(url, "/"),
		Client: &http.Client{Timeout: 60 * time.Second},
	}
}

type heightResponse struct {
	Height uint32 `json:"height"`
}

type submitResponse struct {
	TxID chainhash.Hash `json:"txid"`
}

type awaitResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// errorResponse is the body of unsuccessful responses.
type errorResponse struct {
	Error string `json:"error"`
}

func (a *HTTPFederationAPI) FetchContract(ctx context.Context,
	id ContractID) (*OutgoingContractAccount, error) {

	account, err := sendRequest[OutgoingContractAccount](
		ctx, a, http.MethodGet, "/ln/contract/"+id.String(), nil,
	)
	if errors.Is(err, errHTTPNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrContractNotFound, id)
	}
	return account, err
}

func (a *HTTPFederationAPI) ConsensusBlockHeight(ctx context.Context) (uint32, error) {
	resp, err := sendRequest[heightResponse](
		ctx, a, http.MethodGet, "/wallet/block_height", nil,
	)
	if err != nil {
		return 0, err
	}
	return resp.Height, nil
}

func (a *HTTPFederationAPI) SubmitTransaction(ctx context.Context,
	tx *Transaction) (chainhash.Hash, error) {

	resp, err := sendRequest[submitResponse](
		ctx, a, http.MethodPost, "/transaction", tx,
	)
	if err != nil {
		return chainhash.Hash{}, err
	}
	if resp.TxID != tx.TxID() {
		return chainhash.Hash{}, fmt.Errorf("federation returned "+
			"txid %v for transaction %v", resp.TxID, tx.TxID())
	}
	return resp.TxID, nil
}

func (a *HTTPFederationAPI) AwaitTransaction(ctx context.Context,
	txid chainhash.Hash) error {

	resp, err := sendRequest[awaitResponse](
		ctx, a, http.MethodGet, "/transaction/"+txid.String()+"/await",
		nil,
	)
	if err != nil {
		return err
	}
	if !resp.Accepted {
		return fmt.Errorf("%w: %s", ErrTransactionRejected, resp.Error)
	}
	return nil
}

func (a *HTTPFederationAPI) AwaitOutput(ctx context.Context,
	outpoint OutPoint) error {

	path := fmt.Sprintf("/output/%v/%d/await", outpoint.TxID,
		outpoint.OutIdx)
	resp, err := sendRequest[awaitResponse](
		ctx, a, http.MethodGet, path, nil,
	)
	if err != nil {
		return err
	}
	if !resp.Accepted {
		return fmt.Errorf("%w: output %v: %s", ErrTransactionRejected,
			outpoint, resp.Error)
	}
	return nil
}

func (a *HTTPFederationAPI) RegisterGateway(ctx context.Context,
	gw *LightningGateway) error {

	_, err := sendRequest[struct{}](
		ctx, a, http.MethodPost, "/ln/gateway", gw,
	)
	return err
}

var errHTTPNotFound = errors.New("not found")

func sendRequest[T any](ctx context.Context, a *HTTPFederationAPI, method,
	endpoint string, body interface{}) (*T, error) {

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, a.URL+endpoint, reqBody,
	)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := a.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	rawBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, errHTTPNotFound

	case res.StatusCode < 200 || res.StatusCode > 299:
		var errResp errorResponse
		if json.Unmarshal(rawBody, &errResp) == nil &&
			errResp.Error != "" {

			return nil, fmt.Errorf("federation api %s %s: %s",
				method, endpoint, errResp.Error)
		}
		return nil, fmt.Errorf("federation api %s %s: status %d",
			method, endpoint, res.StatusCode)
	}

	var resp T
	if len(rawBody) == 0 {
		return &resp, nil
	}
	if err := json.Unmarshal(rawBody, &resp); err != nil {
		return nil, fmt.Errorf("could not parse federation response "+
			"with status %d: %v", res.StatusCode, err)
	}
	return &resp, nil
}

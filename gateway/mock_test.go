// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/mock"
)

type mockFederation struct {
	mock.Mock
}

var _ FederationAPI = (*mockFederation)(nil)

func (m *mockFederation) FetchContract(ctx context.Context,
	id ContractID) (*OutgoingContractAccount, error) {

	args := m.Called(ctx, id)
	account, _ := args.Get(0).(*OutgoingContractAccount)
	return account, args.Error(1)
}

func (m *mockFederation) ConsensusBlockHeight(ctx context.Context) (uint32, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint32), args.Error(1)
}

func (m *mockFederation) SubmitTransaction(ctx context.Context,
	tx *Transaction) (chainhash.Hash, error) {

	args := m.Called(ctx, tx)
	return args.Get(0).(chainhash.Hash), args.Error(1)
}

func (m *mockFederation) AwaitTransaction(ctx context.Context,
	txid chainhash.Hash) error {

	args := m.Called(ctx, txid)
	return args.Error(0)
}

func (m *mockFederation) AwaitOutput(ctx context.Context,
	outpoint OutPoint) error {

	args := m.Called(ctx, outpoint)
	return args.Error(0)
}

func (m *mockFederation) RegisterGateway(ctx context.Context,
	gw *LightningGateway) error {

	args := m.Called(ctx, gw)
	return args.Error(0)
}

type mockLightning struct {
	mock.Mock
}

var _ LnRpcClient = (*mockLightning)(nil)

func (m *mockLightning) Info(ctx context.Context) (*NodeInfo, error) {
	args := m.Called(ctx)
	info, _ := args.Get(0).(*NodeInfo)
	return info, args.Error(1)
}

func (m *mockLightning) Pay(ctx context.Context, invoice string,
	maxFee lnwire.MilliSatoshi) (Preimage, error) {

	args := m.Called(ctx, invoice, maxFee)
	return args.Get(0).(Preimage), args.Error(1)
}

// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// RPCConfig describes the connection to a btcd or bitcoind JSON-RPC server.
type RPCConfig struct {
	Host       string
	User       string
	Pass       string
	CAFile     string
	DisableTLS bool

	ChainParams *chaincfg.Params
}

// RPCClient implements Interface over a btcd or bitcoind JSON-RPC server in
// HTTP POST mode.  Every call is bounded by a timeout and retried.
type RPCClient struct {
	client      *rpcclient.Client
	chainParams *chaincfg.Params
	policy      retryPolicy
}

var _ Interface = (*RPCClient)(nil)

// NewRPCClient creates a client for the server described by cfg.  No
// connection is made until the first call.
func NewRPCClient(cfg *RPCConfig) (*RPCClient, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:                 cfg.Host,
		User:                 cfg.User,
		Pass:                 cfg.Pass,
		DisableTLS:           cfg.DisableTLS,
		HTTPPostMode:         true,
		DisableAutoReconnect: false,
	}
	if !cfg.DisableTLS && cfg.CAFile != "" {
		certs, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read CA file: %w", err)
		}
		connCfg.Certificates = certs
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}

	return &RPCClient{
		client:      client,
		chainParams: cfg.ChainParams,
		policy:      defaultRetryPolicy,
	}, nil
}

// Stop releases the underlying client.
func (c *RPCClient) Stop() {
	c.client.Shutdown()
}

// GetHeight returns the height of the server's best block.
func (c *RPCClient) GetHeight(ctx context.Context) (uint32, error) {
	count, err := withRetry(ctx, c.policy, "getblockcount",
		c.client.GetBlockCount)
	if err != nil {
		return 0, err
	}
	if count < 0 {
		return 0, fmt.Errorf("negative block count %d", count)
	}
	return uint32(count), nil
}

// EstimateFee asks the server for a conservative fee estimate.  The relay
// floor is returned when the server has too little data to estimate.
func (c *RPCClient) EstimateFee(ctx context.Context, blocks uint32) (FeeRate, error) {
	mode := btcjson.EstimateModeConservative
	res, err := withRetry(ctx, c.policy, "estimatesmartfee",
		func() (*btcjson.EstimateSmartFeeResult, error) {
			return c.client.EstimateSmartFee(int64(blocks), &mode)
		})
	if err != nil {
		return 0, err
	}

	if res.FeeRate == nil {
		log.Debugf("No fee estimate for %d blocks (%v), using relay "+
			"floor", blocks, res.Errors)
		return RelayFeeFloor, nil
	}

	return feeRateFromBTCPerKVB(*res.FeeRate), nil
}

// feeRateFromBTCPerKVB converts a BTC/kvB estimate into sat/vB, never going
// below the relay floor.
func feeRateFromBTCPerKVB(btcPerKVB float64) FeeRate {
	satPerVB := FeeRate(btcPerKVB * 1e5)
	if !(satPerVB >= RelayFeeFloor) {
		return RelayFeeFloor
	}
	return satPerVB
}

// GetBlockHash returns the main chain block hash at height.
func (c *RPCClient) GetBlockHash(ctx context.Context, height uint32) (*chainhash.Hash, error) {
	return withRetry(ctx, c.policy, "getblockhash",
		func() (*chainhash.Hash, error) {
			return c.client.GetBlockHash(int64(height))
		})
}

// GetBlock returns the block with the given hash.
func (c *RPCClient) GetBlock(ctx context.Context, hash *chainhash.Hash) (*wire.MsgBlock, error) {
	return withRetry(ctx, c.policy, "getblock",
		func() (*wire.MsgBlock, error) {
			return c.client.GetBlock(hash)
		})
}

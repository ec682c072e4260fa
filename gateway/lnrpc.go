// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnwire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ErrPaymentFailed is returned by LnRpcClient.Pay when the payment did not
// succeed.
var ErrPaymentFailed = errors.New("lightning payment failed")

// NodeInfo identifies the gateway's Lightning node.
type NodeInfo struct {
	PubKey *btcec.PublicKey
	Alias  string
}

// LnRpcClient is the gateway's Lightning node.
type LnRpcClient interface {
	// Info returns the node's identity.
	Info(ctx context.Context) (*NodeInfo, error)

	// Pay pays invoice spending at most maxFee on routing and returns the
	// preimage.  Failed payments return an error wrapping
	// ErrPaymentFailed.
	Pay(ctx context.Context, invoice string,
		maxFee lnwire.MilliSatoshi) (Preimage, error)
}

// LndConfig locates an lnd node's gRPC interface.
type LndConfig struct {
	Host         string
	TLSCertPath  string
	MacaroonPath string
}

// LndClient implements LnRpcClient over lnd's gRPC API.
type LndClient struct {
	client   lnrpc.LightningClient
	conn     *grpc.ClientConn
	macaroon string
}

var _ LnRpcClient = (*LndClient)(nil)

// NewLndClient connects to the lnd node described by cfg.
func NewLndClient(cfg *LndConfig) (*LndClient, error) {
	creds := insecure.NewCredentials()
	if cfg.TLSCertPath != "" {
		var err error
		creds, err = credentials.NewClientTLSFromFile(
			cfg.TLSCertPath, "",
		)
		if err != nil {
			return nil, fmt.Errorf("unable to load lnd tls cert: %w",
				err)
		}
	}

	var macaroon string
	if cfg.MacaroonPath != "" {
		macBytes, err := os.ReadFile(cfg.MacaroonPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read macaroon: %w",
				err)
		}
		macaroon = hex.EncodeToString(macBytes)
	}

	conn, err := grpc.NewClient(
		cfg.Host, grpc.WithTransportCredentials(creds),
	)
	if err != nil {
		return nil, err
	}

	return newLndClient(lnrpc.NewLightningClient(conn), conn, macaroon), nil
}

func newLndClient(client lnrpc.LightningClient, conn *grpc.ClientConn,
	macaroon string) *LndClient {

	return &LndClient{
		client:   client,
		conn:     conn,
		macaroon: macaroon,
	}
}

// Close closes the connection to lnd.
func (c *LndClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *LndClient) withMacaroon(ctx context.Context) context.Context {
	if c.macaroon == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "macaroon", c.macaroon)
}

// Info implements LnRpcClient.
func (c *LndClient) Info(ctx context.Context) (*NodeInfo, error) {
	info, err := c.client.GetInfo(
		c.withMacaroon(ctx), &lnrpc.GetInfoRequest{},
	)
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(info.GetIdentityPubkey())
	if err != nil {
		return nil, fmt.Errorf("invalid node pubkey: %w", err)
	}
	pubKey, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid node pubkey: %w", err)
	}

	return &NodeInfo{PubKey: pubKey, Alias: info.GetAlias()}, nil
}

// Pay implements LnRpcClient.
func (c *LndClient) Pay(ctx context.Context, invoice string,
	maxFee lnwire.MilliSatoshi) (Preimage, error) {

	var preimage Preimage

	resp, err := c.client.SendPaymentSync(
		c.withMacaroon(ctx), &lnrpc.SendRequest{
			PaymentRequest: invoice,
			FeeLimit: &lnrpc.FeeLimit{
				Limit: &lnrpc.FeeLimit_FixedMsat{
					FixedMsat: int64(maxFee),
				},
			},
		},
	)
	if err != nil {
		return preimage, payError(err)
	}
	if resp.GetPaymentError() != "" {
		return preimage, fmt.Errorf("%w: %s", ErrPaymentFailed,
			resp.GetPaymentError())
	}
	if len(resp.GetPaymentPreimage()) != len(preimage) {
		return preimage, fmt.Errorf("%w: preimage of %d bytes",
			ErrPaymentFailed, len(resp.GetPaymentPreimage()))
	}

	copy(preimage[:], resp.GetPaymentPreimage())
	return preimage, nil
}

// payError classifies an error returned by SendPaymentSync.  lnd rejects
// expired, invalid and already paid invoices with an RPC error; those are
// payment failures.  Errors reaching or waiting on the node are returned
// as is so the payment is tried again.
func payError(err error) error {
	s, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return err
	}

	return fmt.Errorf("%w: %s", ErrPaymentFailed, s.Message())
}

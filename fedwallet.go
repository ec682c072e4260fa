// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcfed/fedwallet/chain"
	"github.com/btcfed/fedwallet/fedclient"
	"github.com/btcfed/fedwallet/gateway"
	"github.com/btcfed/fedwallet/internal/cfgutil"
	"github.com/btcfed/fedwallet/wallet"
	"github.com/btcfed/fedwallet/walletdb"
	_ "github.com/btcfed/fedwallet/walletdb/bdb"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Work around defer not working after os.Exit.
	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func walletMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version %s on %s", version(), cfg.activeNet.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addInterruptHandler(cancel)

	netDir := cfg.netDir()
	if err := os.MkdirAll(netDir, 0700); err != nil {
		log.Errorf("Unable to create data directory: %v", err)
		return err
	}

	db, err := openWalletDB(filepath.Join(netDir, walletDbName))
	if err != nil {
		log.Errorf("Unable to open wallet database: %v", err)
		return err
	}
	defer db.Close()

	chainClient, err := chain.NewRPCClient(&chain.RPCConfig{
		Host:        cfg.RPCConnect,
		User:        cfg.BtcdUsername,
		Pass:        cfg.BtcdPassword,
		CAFile:      cfg.CAFile,
		DisableTLS:  cfg.DisableClientTLS,
		ChainParams: cfg.activeNet.Params,
	})
	if err != nil {
		log.Errorf("Unable to create chain client: %v", err)
		return err
	}
	defer chainClient.Stop()

	signer, err := wallet.NewSignerFromExtendedKey(
		cfg.SigningKey, cfg.activeNet.Params,
	)
	if err != nil {
		log.Errorf("Invalid signing key: %v", err)
		return err
	}

	w, err := wallet.New(ctx, wallet.Config{
		DB:             db,
		Chain:          chainClient,
		Descriptor:     cfg.Descriptor,
		Signer:         signer,
		ChainParams:    cfg.activeNet.Params,
		FinalityDelay:  cfg.FinalityDelay,
		BirthdayHeight: cfg.BirthdayHeight,
		FederationSize: cfg.FederationSize,
	})
	switch {
	case errors.Is(err, context.Canceled):
		return nil

	case err != nil:
		log.Errorf("Unable to open wallet: %v", err)
		return err
	}
	log.Infof("Federation address %v", w.Descriptor().Address())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runSync(gctx, w, ticker.New(cfg.SyncInterval))
	})

	if cfg.Gateway {
		stop, err := startGateway(gctx, g, cfg, netDir)
		if err != nil {
			log.Errorf("Unable to start gateway: %v", err)
			cancel()
			_ = g.Wait()
			return err
		}
		defer stop()
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("%v", err)
		return err
	}

	log.Info("Shutdown complete")
	return nil
}

// openWalletDB opens the wallet database at dbPath, creating it if it does
// not exist.
func openWalletDB(dbPath string) (walletdb.DB, error) {
	exists, err := cfgutil.FileExists(dbPath)
	if err != nil {
		return nil, err
	}
	if exists {
		return walletdb.Open("bdb", dbPath)
	}

	log.Infof("Creating wallet database %v", dbPath)
	return walletdb.Create("bdb", dbPath)
}

// syncer is the part of the wallet driven by runSync.
type syncer interface {
	Sync(ctx context.Context) error
	Balance() (btcutil.Amount, error)
	ConsensusProposal(ctx context.Context) (*wallet.WalletConsensus, error)
}

// runSync syncs the wallet on every tick until ctx is done.  Failed syncs
// are retried on the next tick.
func runSync(ctx context.Context, w syncer, t ticker.Ticker) error {
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := w.Sync(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Errorf("Unable to sync wallet: %v", err)
			continue
		}

		proposal, err := w.ConsensusProposal(ctx)
		if err != nil {
			log.Errorf("Unable to create consensus proposal: %v",
				err)
			continue
		}

		balance, err := w.Balance()
		if err != nil {
			log.Errorf("Unable to compute balance: %v", err)
			continue
		}
		log.Debugf("Balance %v, proposing height %d fee rate %v "+
			"sat/vB", balance, proposal.BlockHeight,
			proposal.FeeRate)
	}
}

// startGateway starts the Lightning gateway and its announcer in g.  The
// returned function stops the gateway and releases its resources.
func startGateway(ctx context.Context, g *errgroup.Group, cfg *config,
	netDir string) (func(), error) {

	db, err := fedclient.Open(filepath.Join(netDir, gatewayDirname))
	if err != nil {
		return nil, err
	}

	lnd, err := gateway.NewLndClient(&gateway.LndConfig{
		Host:         cfg.LndHost,
		TLSCertPath:  cfg.LndTLSCertPath,
		MacaroonPath: cfg.LndMacaroonPath,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to connect to lnd: %w", err)
	}

	module, err := gateway.New(ctx, gateway.Config{
		DB:            db,
		Federation:    gateway.NewHTTPFederationAPI(cfg.FederationAPI),
		Lightning:     lnd,
		RootSecret:    cfg.RootSecret,
		ChainParams:   cfg.activeNet.Params,
		TimelockDelta: cfg.TimelockDelta,
		MintChannelID: cfg.MintChannelID,
		Fees: gateway.RoutingFees{
			BaseMsat:               cfg.FeeBaseMsat,
			ProportionalMillionths: cfg.FeeProportional,
		},
		AnnounceURL: cfg.AnnounceURL,
		RetryDelay:  cfg.RetryDelay,
	})
	if err != nil {
		lnd.Close()
		db.Close()
		return nil, err
	}

	if err := module.Start(ctx); err != nil {
		lnd.Close()
		db.Close()
		return nil, err
	}
	log.Infof("Gateway started with redeem key %x", module.RedeemKey())

	g.Go(func() error {
		return module.RunAnnouncer(ctx)
	})

	return func() {
		module.Stop()
		if err := lnd.Close(); err != nil {
			log.Errorf("Unable to close lnd connection: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Errorf("Unable to close gateway database: %v", err)
		}
	}, nil
}

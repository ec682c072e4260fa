// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcfed/fedwallet/walletdb"
	_ "github.com/btcfed/fedwallet/walletdb/bdb"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// testPrivKeys are the federation members' keys used throughout the tests.
var testPrivKeys = func() []*btcec.PrivateKey {
	keys := make([]*btcec.PrivateKey, 3)
	for i := range keys {
		var seed [32]byte
		seed[31] = byte(i + 1)
		keys[i], _ = btcec.PrivKeyFromBytes(seed[:])
	}
	return keys
}()

// testDescriptor returns a 2-of-3 sortedmulti descriptor over testPrivKeys.
func testDescriptor() string {
	hexKeys := make([]string, len(testPrivKeys))
	for i, k := range testPrivKeys {
		hexKeys[i] = hex.EncodeToString(
			k.PubKey().SerializeCompressed(),
		)
	}
	return fmt.Sprintf("wsh(sortedmulti(2,%s))", strings.Join(hexKeys, ","))
}

// testWallet opens a wallet for member over a fresh database.
func testWallet(t *testing.T, c *mockChainClient, member int,
	birthday uint32) (*Wallet, walletdb.DB) {

	t.Helper()

	db, err := walletdb.Create(
		"bdb", filepath.Join(t.TempDir(), "wallet.db"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return openTestWallet(t, db, c, member, birthday), db
}

func openTestWallet(t *testing.T, db walletdb.DB, c *mockChainClient,
	member int, birthday uint32) *Wallet {

	t.Helper()

	w, err := New(context.Background(), Config{
		DB:             db,
		Chain:          c,
		Descriptor:     testDescriptor(),
		Signer:         NewSigner(testPrivKeys[member]),
		ChainParams:    &chaincfg.RegressionNetParams,
		FinalityDelay:  6,
		BirthdayHeight: birthday,
		FederationSize: len(testPrivKeys),
	})
	require.NoError(t, err)
	return w
}

// descPkScript returns the output script of testDescriptor.
func descPkScript(t *testing.T) []byte {
	t.Helper()

	desc, err := ParseDescriptor(
		testDescriptor(), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	return desc.PkScript()
}

// setConsensus drives a single round that agrees on height and feeRate.
func setConsensus(t *testing.T, w *Wallet, height uint32, feeRate float32) {
	t.Helper()

	proposals := make([]WalletConsensus, len(testPrivKeys))
	for i := range proposals {
		proposals[i] = WalletConsensus{
			BlockHeight: height,
			FeeRate:     feeRate,
		}
	}
	require.NoError(t, w.ProcessConsensusProposals(proposals))
	require.Equal(t, height, w.ConsensusHeight())
}

// TestBalanceFiltersByConsensusHeight ensures only outputs confirmed at or
// below the consensus height count towards the balance.
func TestBalanceFiltersByConsensusHeight(t *testing.T) {
	t.Parallel()

	c := newMockChain(110)
	pkScript := descPkScript(t)
	for _, h := range []uint32{90, 100, 110} {
		c.fund(h, pkScript, 10_000)
	}

	w, _ := testWallet(t, c, 0, 80)

	balance, err := w.Balance()
	require.NoError(t, err)
	require.Zero(t, balance)

	setConsensus(t, w, 100, 1)

	balance, err = w.Balance()
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(20_000), balance)

	heights, err := w.HeightMap()
	require.NoError(t, err)
	require.Len(t, heights, 3)
}

// TestSyncIgnoresForeignOutputs ensures outputs to other scripts are never
// recorded.
func TestSyncIgnoresForeignOutputs(t *testing.T) {
	t.Parallel()

	c := newMockChain(20)
	c.fund(10, []byte{0x00, 0x14, 0x01, 0x02}, 50_000)
	c.fund(11, descPkScript(t), 7_000)

	w, _ := testWallet(t, c, 0, 0)
	setConsensus(t, w, 20, 1)

	balance, err := w.Balance()
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(7_000), balance)
}

// TestSyncResumesAndHandlesReorg ensures a second sync only scans new
// blocks and that blocks reorganized away take their transactions with
// them.
func TestSyncResumesAndHandlesReorg(t *testing.T) {
	t.Parallel()

	c := newMockChain(30)
	pkScript := descPkScript(t)
	c.fund(15, pkScript, 20_000)
	c.fund(25, pkScript, 30_000)

	w, _ := testWallet(t, c, 0, 10)

	heights, err := w.HeightMap()
	require.NoError(t, err)
	require.Len(t, heights, 2)

	// Replace everything from 20 upwards with a longer, empty branch.
	c.reorg(20, 35)
	require.NoError(t, w.Sync(context.Background()))

	heights, err = w.HeightMap()
	require.NoError(t, err)
	require.Len(t, heights, 1)
	for _, h := range heights {
		require.Equal(t, uint32(15), h)
	}

	// A later block re-confirming funds is picked up incrementally.
	c.fund(35, pkScript, 5_000)
	require.NoError(t, w.Sync(context.Background()))

	setConsensus(t, w, 35, 1)
	balance, err := w.Balance()
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(25_000), balance)
}

// TestConsensusStatePersists ensures the agreed height and fee rate and our
// last proposal survive reopening the wallet.
func TestConsensusStatePersists(t *testing.T) {
	t.Parallel()

	c := newMockChain(50)
	w, db := testWallet(t, c, 1, 0)

	proposal, err := w.ConsensusProposal(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(44), proposal.BlockHeight)
	require.Equal(t, float32(1), proposal.FeeRate)

	setConsensus(t, w, 44, 2.5)

	reopened := openTestWallet(t, db, c, 1, 0)
	require.Equal(t, uint32(44), reopened.ConsensusHeight())
	require.Equal(t, float32(2.5), reopened.ConsensusFeeRate())

	// The chain shrinking does not move our proposal backwards.
	c.reorg(40, 45)
	proposal, err = reopened.ConsensusProposal(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(44), proposal.BlockHeight)
}

// TestOpenRejectsOtherDescriptor ensures a store cannot be reused for a
// different federation.
func TestOpenRejectsOtherDescriptor(t *testing.T) {
	t.Parallel()

	c := newMockChain(5)
	_, db := testWallet(t, c, 0, 0)

	other := fmt.Sprintf("wpkh(%x)",
		testPrivKeys[0].PubKey().SerializeCompressed())
	_, err := New(context.Background(), Config{
		DB:          db,
		Chain:       c,
		Descriptor:  other,
		Signer:      NewSigner(testPrivKeys[0]),
		ChainParams: &chaincfg.RegressionNetParams,
	})
	require.ErrorIs(t, err, ErrDescriptorMismatch)
}

// TestOpenRejectsForeignSigner ensures the signing key must belong to the
// descriptor.
func TestOpenRejectsForeignSigner(t *testing.T) {
	t.Parallel()

	var seed [32]byte
	seed[0] = 0x42
	stranger, _ := btcec.PrivKeyFromBytes(seed[:])

	_, err := New(context.Background(), Config{
		Chain:       newMockChain(1),
		Descriptor:  testDescriptor(),
		Signer:      NewSigner(stranger),
		ChainParams: &chaincfg.RegressionNetParams,
	})
	require.ErrorIs(t, err, ErrKeyNotInDescriptor)
}

// TestNewHonorsContext ensures an initial sync on a cancelled context
// returns early.
func TestNewHonorsContext(t *testing.T) {
	t.Parallel()

	db, err := walletdb.Create(
		"bdb", filepath.Join(t.TempDir(), "wallet.db"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = New(ctx, Config{
		DB:          db,
		Chain:       newMockChain(100),
		Descriptor:  testDescriptor(),
		Signer:      NewSigner(testPrivKeys[0]),
		ChainParams: &chaincfg.RegressionNetParams,
	})
	require.ErrorIs(t, err, context.Canceled)
}

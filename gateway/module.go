// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/btcfed/fedwallet/fedclient"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/crypto/hkdf"
)

const (
	// AnnouncementTTL is how long a registration stays valid.
	AnnouncementTTL = 10 * time.Minute

	// OperationKindPay tags pay operations in the operation log.
	OperationKindPay = "pay"

	// DefaultMaxPayAttempts is the default Config.MaxPayAttempts.
	DefaultMaxPayAttempts = 5

	// minRootSecretLen is the shortest accepted module root secret.
	minRootSecretLen = 16
)

// Config holds what a Module is built from.
type Config struct {
	DB         *fedclient.DB
	Federation FederationAPI
	Lightning  LnRpcClient

	// RootSecret is the module's secret the redeem key is derived from.
	RootSecret []byte

	ChainParams *chaincfg.Params

	// TimelockDelta is the minimum number of blocks a contract's timelock
	// must leave before the gateway pays it.
	TimelockDelta uint32

	MintChannelID uint64
	Fees          RoutingFees

	// AnnounceURL is where users reach this gateway.
	AnnounceURL string

	// RetryDelay is the pause between retries of failed transitions.
	RetryDelay time.Duration

	// MaxPayAttempts is how often an invoice is tried before the contract
	// is canceled when the Lightning node keeps failing without a
	// payment failure.  Defaults to DefaultMaxPayAttempts.
	MaxPayAttempts int

	// Clock defaults to the system clock.
	Clock clock.Clock
}

// Module pays Lightning invoices on behalf of federation users against
// outgoing contracts.
type Module struct {
	cfg        Config
	clock      clock.Clock
	redeemKey  *btcec.PrivateKey
	nodePubKey *btcec.PublicKey
	executor   *fedclient.Executor[PayState]

	mu      sync.Mutex
	stopped bool
	quit    chan struct{}

	wg sync.WaitGroup
}

// New creates the gateway module.  It queries the Lightning node for its
// identity.
func New(ctx context.Context, cfg Config) (*Module, error) {
	redeemKey, err := deriveRedeemKey(cfg.RootSecret)
	if err != nil {
		return nil, err
	}

	info, err := cfg.Lightning.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to query lightning node: %w", err)
	}

	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = fedclient.DefaultRetryDelay
	}
	if cfg.MaxPayAttempts <= 0 {
		cfg.MaxPayAttempts = DefaultMaxPayAttempts
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	machine := &payMachine{
		federation:    cfg.Federation,
		lightning:     cfg.Lightning,
		redeemKey:     redeemKey,
		timelockDelta: cfg.TimelockDelta,
		fees:          cfg.Fees,
		chainParams:   cfg.ChainParams,

		maxPayAttempts: cfg.MaxPayAttempts,
	}

	log.Infof("Gateway redeem key %x, lightning node %x (%s)",
		NewXOnlyKey(redeemKey.PubKey()),
		info.PubKey.SerializeCompressed(), info.Alias)

	return &Module{
		cfg:        cfg,
		clock:      clk,
		redeemKey:  redeemKey,
		nodePubKey: info.PubKey,
		executor: fedclient.NewExecutor[PayState](
			cfg.DB, machine, cfg.RetryDelay,
		),
		quit: make(chan struct{}),
	}, nil
}

// deriveRedeemKey derives the key that claims and cancels contracts.
func deriveRedeemKey(rootSecret []byte) (*btcec.PrivateKey, error) {
	if len(rootSecret) < minRootSecretLen {
		return nil, fmt.Errorf("module root secret must be at least "+
			"%d bytes", minRootSecretLen)
	}

	r := hkdf.New(sha256.New, rootSecret, []byte("fedwallet-gateway"),
		[]byte("redeem-key/0"))
	var b [32]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, err
	}

	key, _ := btcec.PrivKeyFromBytes(b[:])
	return key, nil
}

// Start resumes unfinished payments.
func (m *Module) Start(ctx context.Context) error {
	return m.executor.Start(ctx)
}

// Stop interrupts payments and the announcer.  Interrupted payments resume
// on the next Start.
func (m *Module) Stop() {
	m.mu.Lock()
	if !m.stopped {
		m.stopped = true
		close(m.quit)
	}
	m.mu.Unlock()

	m.executor.Stop()
	m.wg.Wait()
}

// RedeemKey returns the key contracts must name for this gateway.
func (m *Module) RedeemKey() XOnlyKey {
	return NewXOnlyKey(m.redeemKey.PubKey())
}

// StartPayment starts paying the invoice of contract and returns the
// operation id to subscribe to.  Starting a payment for a contract again
// returns the existing operation.
func (m *Module) StartPayment(ctx context.Context,
	contract ContractID) (fedclient.OperationID, error) {

	id := OperationIDFromContract(contract)

	var existing bool
	err := m.cfg.DB.Autocommit(ctx, func(tx *fedclient.Tx) error {
		_, err := fedclient.GetOperationLogEntry(tx, id)
		switch {
		case err == nil:
			existing = true
			return nil

		case !errors.Is(err, fedclient.ErrNotFound):
			return err
		}
		existing = false

		err = m.executor.AddStateMachine(
			tx, id, PayInvoice{ContractID: contract},
		)
		if err != nil {
			return err
		}
		return fedclient.AddOperationLogEntry(
			tx, id, OperationKindPay, contract[:],
		)
	}, fedclient.DefaultMaxAttempts)

	var closureErr *fedclient.ClosureError
	switch {
	case errors.As(err, &closureErr):
		return id, closureErr.Err

	case err != nil:
		return id, fmt.Errorf("commit to DB failed: %w", err)
	}

	if existing {
		log.Debugf("Payment for contract %v already started as %v",
			contract, id)
	} else {
		log.Infof("Started payment %v for contract %v", id, contract)
	}
	return id, nil
}

// Subscribe streams the public states of a payment.  A finished payment
// whose outcome was recorded yields just that outcome; otherwise the
// stream starts with Created and ends with the outcome.  The channel is
// closed at the end or when ctx is done.
func (m *Module) Subscribe(ctx context.Context,
	id fedclient.OperationID) (<-chan ExtPayState, error) {

	var outcome fn.Option[[]byte]
	err := m.cfg.DB.View(func(tx *fedclient.Tx) error {
		entry, err := fedclient.GetOperationLogEntry(tx, id)
		if errors.Is(err, fedclient.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrUnknownOperation, id)
		}
		if err != nil {
			return err
		}
		if entry.Kind != OperationKindPay {
			return fmt.Errorf("operation %v is a %s operation", id,
				entry.Kind)
		}
		outcome = entry.Outcome
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan ExtPayState, 1)

	if cached, ok := decodeOutcome(outcome); ok {
		out <- cached
		close(out)
		return out, nil
	}

	// Subscriptions started after Stop would not be waited for.
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrModuleStopped
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer close(out)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-m.quit:
				cancel()
			case <-ctx.Done():
			}
		}()

		send := func(s ExtPayState) bool {
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(ExtPayState{Kind: ExtCreated}) {
			return
		}

		var final ExtPayState
		outPoint, preimage, err := m.awaitPaidInvoice(ctx, id)
		var gwErr *GatewayError
		switch {
		case err == nil:
			if !send(ExtPayState{Kind: ExtPreimage, Preimage: preimage}) {
				return
			}
			err := m.cfg.Federation.AwaitOutput(ctx, outPoint)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				log.Errorf("Operation %v: claim output %v did "+
					"not finalize: %v", id, outPoint, err)
				final = ExtPayState{Kind: ExtFail}
			} else {
				final = ExtPayState{
					Kind:     ExtSuccess,
					Preimage: preimage,
				}
			}

		case errors.As(err, &gwErr):
			switch gwErr.Kind {
			case ErrKindCanceled:
				final = ExtPayState{Kind: ExtCanceled}

			case ErrKindOfferDoesNotExist:
				final = ExtPayState{
					Kind:       ExtOfferDoesNotExist,
					ContractID: gwErr.ContractID,
				}

			default:
				final = ExtPayState{Kind: ExtFail}
			}

		default:
			if ctx.Err() == nil {
				log.Errorf("Operation %v: unable to follow "+
					"payment: %v", id, err)
			}
			return
		}

		m.recordOutcome(ctx, id, final)
		send(final)
	}()

	return out, nil
}

// awaitPaidInvoice waits for the pay machine of id to terminate.
func (m *Module) awaitPaidInvoice(ctx context.Context,
	id fedclient.OperationID) (OutPoint, Preimage, error) {

	states, err := m.executor.Notifier().Subscribe(ctx, id)
	if err != nil {
		return OutPoint{}, Preimage{}, err
	}

	for state := range states {
		switch s := state.(type) {
		case PreimageRevealed:
			return s.OutPoint, s.Preimage, nil

		case Canceled:
			return OutPoint{}, Preimage{}, &GatewayError{
				Kind:       ErrKindCanceled,
				CancelTxID: s.OutPoint.TxID,
				Reason:     s.Reason,
			}

		case OfferDoesNotExist:
			return OutPoint{}, Preimage{}, &GatewayError{
				Kind:       ErrKindOfferDoesNotExist,
				ContractID: s.ContractID,
			}

		case Failed:
			return OutPoint{}, Preimage{}, &GatewayError{
				Kind:   ErrKindFailed,
				Reason: s.Reason,
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return OutPoint{}, Preimage{}, err
	}
	return OutPoint{}, Preimage{}, errors.New("state stream ended early")
}

func (m *Module) recordOutcome(ctx context.Context, id fedclient.OperationID,
	final ExtPayState) {

	encoded, err := final.encode()
	if err == nil {
		err = m.cfg.DB.Autocommit(ctx, func(tx *fedclient.Tx) error {
			return fedclient.SetOperationOutcome(tx, id, encoded)
		}, fedclient.DefaultMaxAttempts)
	}
	if err != nil {
		log.Errorf("Unable to record outcome %v of operation %v: %v",
			final, id, err)
	}
}

func decodeOutcome(outcome fn.Option[[]byte]) (ExtPayState, bool) {
	var (
		state ExtPayState
		ok    bool
	)
	outcome.WhenSome(func(b []byte) {
		var err error
		state, err = decodeExtPayState(b)
		if err != nil {
			log.Errorf("Ignoring undecodable outcome %x: %v", b, err)
			return
		}
		ok = state.isFinal()
	})
	return state, ok
}

// RegistrationInfo returns the gateway's announcement valid for ttl.
func (m *Module) RegistrationInfo(routeHints []RouteHint,
	ttl time.Duration) *LightningGateway {

	if routeHints == nil {
		routeHints = []RouteHint{}
	}
	return &LightningGateway{
		MintChannelID: m.cfg.MintChannelID,
		MintPubKey:    m.RedeemKey(),
		NodePubKey: hex.EncodeToString(
			m.nodePubKey.SerializeCompressed(),
		),
		API:        m.cfg.AnnounceURL,
		RouteHints: routeHints,
		ValidUntil: m.clock.Now().Add(ttl),
		Fees:       m.cfg.Fees,
	}
}

// Register announces the gateway to the federation for AnnouncementTTL.
func (m *Module) Register(ctx context.Context) error {
	gw := m.RegistrationInfo(nil, AnnouncementTTL)
	if err := m.cfg.Federation.RegisterGateway(ctx, gw); err != nil {
		return fmt.Errorf("unable to register gateway: %w", err)
	}

	log.Debugf("Registered gateway until %v", gw.ValidUntil)
	return nil
}

// RunAnnouncer registers the gateway now and again every half
// AnnouncementTTL until ctx is done or the module stops.  Failed
// registrations are retried at the next tick.
func (m *Module) RunAnnouncer(ctx context.Context) error {
	return m.runAnnouncer(ctx, ticker.New(AnnouncementTTL/2))
}

func (m *Module) runAnnouncer(ctx context.Context, t ticker.Ticker) error {
	if err := m.Register(ctx); err != nil {
		log.Errorf("%v", err)
	}

	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			if err := m.Register(ctx); err != nil {
				log.Errorf("%v", err)
			}

		case <-ctx.Done():
			return ctx.Err()

		case <-m.quit:
			return nil
		}
	}
}

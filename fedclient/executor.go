// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fedclient

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// DefaultRetryDelay is how long the executor waits before retrying a failed
// transition.
const DefaultRetryDelay = 5 * time.Second

// ErrExecutorStopped is returned when adding work to a stopped executor.
var ErrExecutorStopped = errors.New("executor stopped")

// State is a state of a module's state machine.
type State interface {
	// IsTerminal reports whether the machine ends in this state.
	IsTerminal() bool
}

// Machine performs the transitions of a module's state machines and
// serializes their states.
type Machine[S State] interface {
	// Transition does the work of state and returns the successor.  On
	// error the machine stays in state and the transition is retried, so
	// it must be safe to repeat.
	Transition(ctx context.Context, id OperationID, state S) (S, error)

	EncodeState(state S) ([]byte, error)
	DecodeState(b []byte) (S, error)
}

// Executor runs state machines to completion.  Each machine gets its own
// goroutine, so transitions of one machine never overlap while different
// machines progress in parallel.  Every new state is committed together
// with its history entry before it is published, and machines that were
// active when the process stopped are resumed by Start.
type Executor[S State] struct {
	db         *DB
	machine    Machine[S]
	notifier   *Notifier[S]
	retryDelay time.Duration

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	running map[OperationID]struct{}

	wg sync.WaitGroup
}

// NewExecutor returns an executor for machine's state machines in db.
func NewExecutor[S State](db *DB, machine Machine[S],
	retryDelay time.Duration) *Executor[S] {

	return &Executor[S]{
		db:         db,
		machine:    machine,
		notifier:   newNotifier(db, machine.DecodeState),
		retryDelay: retryDelay,
		running:    make(map[OperationID]struct{}),
	}
}

// Notifier returns the notifier publishing this executor's states.
func (e *Executor[S]) Notifier() *Notifier[S] {
	return e.notifier
}

// Start resumes every machine that has not reached a terminal state.
func (e *Executor[S]) Start(ctx context.Context) error {
	// Machines added from here on launch themselves, the scan below
	// picks up the rest.
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrExecutorStopped
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	type active struct {
		id    OperationID
		seq   uint64
		state S
	}
	var resume []active
	err := e.db.View(func(tx *Tx) error {
		return tx.ForEach(prefixActive, func(k, v []byte) error {
			var a active
			copy(a.id[:], k[len(prefixActive):])
			seq, state, err := e.decodeActive(v)
			if err != nil {
				return fmt.Errorf("machine %v: %w", a.id, err)
			}
			a.seq, a.state = seq, state
			resume = append(resume, a)
			return nil
		})
	})
	if err != nil {
		return err
	}

	if len(resume) > 0 {
		log.Infof("Resuming %d state %s", len(resume),
			pickNoun(len(resume), "machine", "machines"))
	}
	for _, a := range resume {
		e.launch(a.id, a.seq, a.state)
	}
	return nil
}

// Stop interrupts all machines and waits for their goroutines.  Machines
// keep their last committed state.
func (e *Executor[S]) Stop() {
	e.mu.Lock()
	e.stopped = true
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
}

// AddStateMachine persists a new machine for id in tx.  It starts running
// once tx commits.
func (e *Executor[S]) AddStateMachine(tx *Tx, id OperationID, state S) error {
	exists, err := tx.Has(activeKey(id))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: state machine %v", ErrOperationExists,
			id)
	}

	if err := e.putState(tx, id, 0, state); err != nil {
		return err
	}
	tx.OnCommit(func() {
		e.notifier.publish(id, 0, state)
		e.launch(id, 0, state)
	})
	return nil
}

// launch starts the goroutine driving id unless one is running already or
// the executor is not running.  Machines added before Start are picked up
// by it.
func (e *Executor[S]) launch(id OperationID, seq uint64, state S) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx == nil || e.stopped || state.IsTerminal() {
		return
	}
	if _, ok := e.running[id]; ok {
		return
	}
	e.running[id] = struct{}{}

	e.wg.Add(1)
	go e.run(e.ctx, id, seq, state)
}

func (e *Executor[S]) run(ctx context.Context, id OperationID, seq uint64,
	state S) {

	defer func() {
		e.mu.Lock()
		delete(e.running, id)
		e.mu.Unlock()
		e.wg.Done()
	}()

	// A launch can race with a previous run of the same machine, only
	// proceed from the latest committed state.
	if !e.isCurrent(id, seq) {
		log.Debugf("Machine %v moved past state %d, not running it",
			id, seq)
		return
	}

	for !state.IsTerminal() {
		next, err := e.machine.Transition(ctx, id, state)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("Transition of machine %v failed, retrying "+
				"in %v: %v", id, e.retryDelay, err)
			if !e.wait(ctx) {
				return
			}
			continue
		}

		seq++
		for {
			err := e.db.Autocommit(ctx, func(tx *Tx) error {
				return e.putState(tx, id, seq, next)
			}, DefaultMaxAttempts)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			log.Errorf("Unable to persist state of machine %v: %v",
				id, err)
			if !e.wait(ctx) {
				return
			}
		}

		log.Debugf("Machine %v moved to %T", id, next)
		e.notifier.publish(id, seq, next)
		state = next
	}

	log.Debugf("Machine %v finished", id)
}

// isCurrent reports whether seq is the committed state of an active
// machine.
func (e *Executor[S]) isCurrent(id OperationID, seq uint64) bool {
	var current bool
	err := e.db.View(func(tx *Tx) error {
		v, err := tx.Get(activeKey(id))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current = len(v) >= 8 && binary.BigEndian.Uint64(v[:8]) == seq
		return nil
	})
	if err != nil {
		log.Errorf("Unable to read state of machine %v: %v", id, err)
		return false
	}
	return current
}

// wait sleeps for the retry delay.  It returns false if ctx ended first.
func (e *Executor[S]) wait(ctx context.Context) bool {
	t := ticker.New(e.retryDelay)
	t.Resume()
	defer t.Stop()

	select {
	case <-t.Ticks():
		return true
	case <-ctx.Done():
		return false
	}
}

// putState records state as entry seq of the machine's history and as its
// current state, dropping the latter once the machine terminates.
func (e *Executor[S]) putState(tx *Tx, id OperationID, seq uint64,
	state S) error {

	encoded, err := e.machine.EncodeState(state)
	if err != nil {
		return err
	}

	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)

	historyKey := append(historyPrefix(id), seqBytes[:]...)
	if err := tx.Set(historyKey, encoded); err != nil {
		return err
	}

	if state.IsTerminal() {
		return tx.Delete(activeKey(id))
	}
	return tx.Set(activeKey(id), append(seqBytes[:], encoded...))
}

func (e *Executor[S]) decodeActive(v []byte) (uint64, S, error) {
	var zero S
	if len(v) < 8 {
		return 0, zero, errors.New("short active state")
	}
	state, err := e.machine.DecodeState(v[8:])
	if err != nil {
		return 0, zero, err
	}
	return binary.BigEndian.Uint64(v[:8]), state, nil
}

// readHistory returns the persisted states of id in order.
func readHistory[S State](tx *Tx, id OperationID,
	decode func([]byte) (S, error)) ([]update[S], error) {

	prefix := historyPrefix(id)

	var updates []update[S]
	err := tx.ForEach(prefix, func(k, v []byte) error {
		if len(k) != len(prefix)+8 {
			return fmt.Errorf("malformed history key %x", k)
		}
		state, err := decode(v)
		if err != nil {
			return err
		}
		updates = append(updates, update[S]{
			seq:   binary.BigEndian.Uint64(k[len(prefix):]),
			state: state,
		})
		return nil
	})
	return updates, err
}

func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

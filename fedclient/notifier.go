// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fedclient

import (
	"context"
	"sync"
)

// update is a state together with its position in the machine's history.
type update[S State] struct {
	seq   uint64
	state S
}

// subscriber buffers updates for one subscription so publishing never
// blocks on a slow reader.
type subscriber[S State] struct {
	mu      sync.Mutex
	pending []update[S]
	signal  chan struct{}
}

func (s *subscriber[S]) push(u update[S]) {
	s.mu.Lock()
	s.pending = append(s.pending, u)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber[S]) drain() []update[S] {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pending
	s.pending = nil
	return pending
}

// Notifier streams the states of state machines to subscribers.  A
// subscription first replays the persisted history, so subscribing after a
// restart or after the machine finished yields the same states.
type Notifier[S State] struct {
	db     *DB
	decode func([]byte) (S, error)

	mu     sync.Mutex
	nextID uint64
	subs   map[OperationID]map[uint64]*subscriber[S]
}

func newNotifier[S State](db *DB, decode func([]byte) (S, error)) *Notifier[S] {
	return &Notifier[S]{
		db:     db,
		decode: decode,
		subs:   make(map[OperationID]map[uint64]*subscriber[S]),
	}
}

// Subscribe returns every state of the machine for id in order, starting
// with its initial state.  The channel is closed after a terminal state or
// when ctx is done.  Unsubscribing does not affect the machine.
func (n *Notifier[S]) Subscribe(ctx context.Context, id OperationID) (<-chan S, error) {
	// Register before reading the history so nothing committed in
	// between is missed.  Duplicates are dropped by sequence number.
	sub := &subscriber[S]{signal: make(chan struct{}, 1)}
	n.mu.Lock()
	subID := n.nextID
	n.nextID++
	if n.subs[id] == nil {
		n.subs[id] = make(map[uint64]*subscriber[S])
	}
	n.subs[id][subID] = sub
	n.mu.Unlock()

	history, err := n.history(id)
	if err != nil {
		n.unsubscribe(id, subID)
		return nil, err
	}

	out := make(chan S)
	go func() {
		defer close(out)
		defer n.unsubscribe(id, subID)

		var next uint64
		deliver := func(u update[S]) (bool, bool) {
			if u.seq < next {
				return true, false
			}
			select {
			case out <- u.state:
			case <-ctx.Done():
				return false, false
			}
			next = u.seq + 1
			return true, u.state.IsTerminal()
		}

		for _, u := range history {
			ok, done := deliver(u)
			if !ok || done {
				return
			}
		}

		for {
			select {
			case <-sub.signal:
			case <-ctx.Done():
				return
			}
			for _, u := range sub.drain() {
				ok, done := deliver(u)
				if !ok || done {
					return
				}
			}
		}
	}()

	return out, nil
}

// History returns the persisted states of the machine for id.
func (n *Notifier[S]) History(id OperationID) ([]S, error) {
	updates, err := n.history(id)
	if err != nil {
		return nil, err
	}
	states := make([]S, len(updates))
	for i, u := range updates {
		states[i] = u.state
	}
	return states, nil
}

func (n *Notifier[S]) history(id OperationID) ([]update[S], error) {
	var updates []update[S]
	err := n.db.View(func(tx *Tx) error {
		var err error
		updates, err = readHistory(tx, id, n.decode)
		return err
	})
	return updates, err
}

func (n *Notifier[S]) publish(id OperationID, seq uint64, state S) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subs[id] {
		sub.push(update[S]{seq: seq, state: state})
	}
}

func (n *Notifier[S]) unsubscribe(id OperationID, subID uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs[id], subID)
	if len(n.subs[id]) == 0 {
		delete(n.subs, id)
	}
}

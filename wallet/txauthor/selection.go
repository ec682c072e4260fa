// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txauthor

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcfed/fedwallet/wallet/txrules"
	"github.com/btcfed/fedwallet/wallet/txsizes"
	"github.com/btcfed/fedwallet/wtxmgr"
	"github.com/btcsuite/btcd/btcutil"
)

// DefaultBnBTries is the number of search steps branch and bound takes
// before settling for the best solution found.
const DefaultBnBTries = 10_000_000

// ErrBnBNoExactMatch is returned when branch and bound exhausted its search
// space or budget without a selection inside the change-free window.
var ErrBnBNoExactMatch = errors.New("branch and bound found no " +
	"change-free selection")

// WeightedUtxo is a spendable output together with the witness weight needed
// to spend it.
type WeightedUtxo struct {
	// SatisfactionWeight is the weight of the input's witness.
	SatisfactionWeight int

	wtxmgr.Credit
}

// inputFee is the fee owed for spending u at rate.
func (u *WeightedUtxo) inputFee(rate txrules.SatPerKVByte) btcutil.Amount {
	return rate.FeeForWeight(txsizes.InputWeight(u.SatisfactionWeight))
}

// SelectionResult is the outcome of a coin selection.
type SelectionResult struct {
	// Selected are the chosen inputs, required ones first.
	Selected []WeightedUtxo

	// FeeAmount is the fee passed to the selector plus the fee for every
	// selected input.
	FeeAmount btcutil.Amount
}

// SelectedAmount sums the values of the selected inputs.
func (r *SelectionResult) SelectedAmount() btcutil.Amount {
	var total btcutil.Amount
	for _, u := range r.Selected {
		total += u.Amount
	}
	return total
}

// CoinSelector picks inputs able to fund amountNeeded plus fees.  Every
// required output must be part of the result.  feeAmount is the fee already
// owed by the transaction without any inputs.
type CoinSelector interface {
	Select(required, optional []WeightedUtxo, feeRate txrules.SatPerKVByte,
		amountNeeded, feeAmount btcutil.Amount) (*SelectionResult, error)
}

// InsufficientFundsError reports that the candidates cannot fund a target.
type InsufficientFundsError struct {
	Needed    btcutil.Amount
	Available btcutil.Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds available to construct "+
		"transaction: needed %v, available %v", e.Needed, e.Available)
}

// OutputGroup is a candidate input with its effective value precomputed.
type outputGroup struct {
	utxo           WeightedUtxo
	fee            btcutil.Amount
	effectiveValue btcutil.Amount
}

func newOutputGroups(utxos []WeightedUtxo, rate txrules.SatPerKVByte) []outputGroup {
	groups := make([]outputGroup, 0, len(utxos))
	for _, u := range utxos {
		fee := u.inputFee(rate)
		groups = append(groups, outputGroup{
			utxo:           u,
			fee:            fee,
			effectiveValue: u.Amount - fee,
		})
	}
	return groups
}

// sortGroups orders candidates by effective value, largest first.  Ties are
// broken by outpoint so the order is total and identical for every caller
// holding the same candidates.
func sortGroups(groups []outputGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := &groups[i], &groups[j]
		if a.effectiveValue != b.effectiveValue {
			return a.effectiveValue > b.effectiveValue
		}
		if c := bytes.Compare(a.utxo.OutPoint.Hash[:],
			b.utxo.OutPoint.Hash[:]); c != 0 {

			return c < 0
		}
		return a.utxo.OutPoint.Index < b.utxo.OutPoint.Index
	})
}

// BranchAndBound searches subsets of the candidates for one whose effective
// value lands between the target and the target plus the cost of a change
// output, so that no change is needed.  The search is depth first over
// candidates in a fixed total order with a fixed step budget, which makes
// its result a pure function of its inputs.
//
// When no such subset is found within the budget the selector falls back to
// taking the largest candidates first until the target is met.
type BranchAndBound struct {
	// Tries bounds the number of search steps.
	Tries int

	// ChangeOutputWeight is the weight of the change output the caller
	// would add, used to price the change-free window.
	ChangeOutputWeight int
}

var _ CoinSelector = (*BranchAndBound)(nil)

// NewBranchAndBound returns a selector with the default step budget.
func NewBranchAndBound(changeOutputWeight int) *BranchAndBound {
	return &BranchAndBound{
		Tries:              DefaultBnBTries,
		ChangeOutputWeight: changeOutputWeight,
	}
}

// Select implements CoinSelector.
func (b *BranchAndBound) Select(required, optional []WeightedUtxo,
	feeRate txrules.SatPerKVByte, amountNeeded,
	feeAmount btcutil.Amount) (*SelectionResult, error) {

	requiredGroups := newOutputGroups(required, feeRate)

	var currValue btcutil.Amount
	for _, g := range requiredGroups {
		currValue += g.effectiveValue
	}

	// Candidates that cost more to spend than they are worth can never
	// help.
	var optionalGroups []outputGroup
	var currAvailable btcutil.Amount
	for _, g := range newOutputGroups(optional, feeRate) {
		if g.effectiveValue <= 0 {
			continue
		}
		optionalGroups = append(optionalGroups, g)
		currAvailable += g.effectiveValue
	}

	target := amountNeeded + feeAmount
	if currValue+currAvailable < target {
		return nil, &InsufficientFundsError{
			Needed:    target,
			Available: currValue + currAvailable,
		}
	}

	sortGroups(optionalGroups)

	// The required inputs alone already cover the target.
	if currValue >= target {
		return selectionResult(requiredGroups, nil, feeAmount), nil
	}

	costOfChange := feeRate.FeeForWeight(b.ChangeOutputWeight)
	selected, err := b.search(optionalGroups, currValue, currAvailable,
		target, costOfChange)
	if err != nil {
		log.Debugf("Branch and bound: %v, falling back to largest "+
			"first", err)
		selected = largestFirst(optionalGroups, currValue, target)
	}

	return selectionResult(requiredGroups, selected, feeAmount), nil
}

// search is the depth first walk.  At every step it either includes the next
// candidate or, when the current branch is hopeless or already a solution,
// backtracks to the most recent inclusion and explores omitting it.
func (b *BranchAndBound) search(groups []outputGroup, currValue,
	currAvailable, target, costOfChange btcutil.Amount) ([]outputGroup, error) {

	var (
		current   = make([]bool, 0, len(groups))
		best      []bool
		bestValue btcutil.Amount = -1
	)

walk:
	for try := 0; try < b.Tries; try++ {
		backtrack := false

		switch {
		case currValue+currAvailable < target,
			currValue > target+costOfChange:

			backtrack = true

		case currValue >= target:
			backtrack = true
			if bestValue < 0 || currValue < bestValue {
				best = append(best[:0], current...)
				bestValue = currValue
			}
			if currValue == target {
				break walk
			}
		}

		if !backtrack {
			g := groups[len(current)]
			currAvailable -= g.effectiveValue
			current = append(current, true)
			currValue += g.effectiveValue
			continue
		}

		// Unwind omitted candidates back to the last inclusion.
		for len(current) > 0 && !current[len(current)-1] {
			current = current[:len(current)-1]
			currAvailable += groups[len(current)].effectiveValue
		}

		// Every branch was explored.
		if len(current) == 0 {
			break walk
		}

		current[len(current)-1] = false
		currValue -= groups[len(current)-1].effectiveValue
	}

	if bestValue < 0 {
		return nil, ErrBnBNoExactMatch
	}

	var selected []outputGroup
	for i, include := range best {
		if include {
			selected = append(selected, groups[i])
		}
	}
	return selected, nil
}

// largestFirst takes candidates in order until the target is met.  groups
// must already be sorted and able to fund the target.
func largestFirst(groups []outputGroup, currValue,
	target btcutil.Amount) []outputGroup {

	var selected []outputGroup
	for _, g := range groups {
		if currValue >= target {
			break
		}
		selected = append(selected, g)
		currValue += g.effectiveValue
	}
	return selected
}

func selectionResult(required, optional []outputGroup,
	feeAmount btcutil.Amount) *SelectionResult {

	res := &SelectionResult{FeeAmount: feeAmount}
	for _, groups := range [][]outputGroup{required, optional} {
		for _, g := range groups {
			res.Selected = append(res.Selected, g.utxo)
			res.FeeAmount += g.fee
		}
	}
	return res
}

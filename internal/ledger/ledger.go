// Package ledger implements the account-balance fold over canonical
// blocks: applying a block's user and internal commands to produce new
// account states, and replaying forward from a pinned snapshot to
// recompute the ledger after a reorg rather than subtracting deltas in
// place.
package ledger

import (
	"github.com/pkg/errors"

	"github.com/minaprotocol/mina-indexer/internal/model"
	"github.com/minaprotocol/mina-indexer/internal/params"
)

// AccountLookup resolves the current state of an account as of just before
// the block being folded. A never-seen public key must be returned as the
// zero-value Account with ok=false, which FoldBlock treats as account
// creation.
type AccountLookup func(pk model.PublicKey) (acc model.Account, ok bool, err error)

// Result is the set of account mutations and aggregate increments produced
// by folding one block.
type Result struct {
	Accounts  map[model.PublicKey]model.Account
	Aggregate model.Aggregate
}

func newResult() *Result {
	return &Result{Accounts: make(map[model.PublicKey]model.Account)}
}

func (r *Result) touch(acc model.Account) {
	r.Accounts[acc.PublicKey] = acc
}

func (r *Result) get(pk model.PublicKey, lookup AccountLookup) (model.Account, error) {
	if acc, ok := r.Accounts[pk]; ok {
		return acc, nil
	}
	acc, ok, err := lookup(pk)
	if err != nil {
		return model.Account{}, err
	}
	if !ok {
		acc = model.Account{PublicKey: pk}
	}
	return acc, nil
}

// FoldBlock applies block's user commands, internal commands and SNARK
// fee bookkeeping to the account states resolved via lookup, in
// sequence-index order, and returns every account touched plus the
// per-block aggregate increment. Commands that fail a local precondition
// check are marked Failed on the in-memory block. FoldBlock never consults
// or mutates storage itself — lookup is the only I/O seam, so the fold is
// trivially testable against an in-memory map.
func FoldBlock(block *model.Block, lookup AccountLookup) (*Result, error) {
	res := newResult()
	res.Aggregate.NumBlocks = 1
	res.Aggregate.NumUserCommands = uint64(len(block.UserCommands))
	res.Aggregate.NumInternalCommands = uint64(len(block.InternalCommands))
	res.Aggregate.NumSnarks = uint64(len(block.SnarkJobs))

	for i := range block.UserCommands {
		cmd := &block.UserCommands[i]
		if err := foldUserCommand(res, cmd, lookup); err != nil {
			return nil, errors.Wrapf(err, "block %s command %d", block.StateHash, cmd.SeqIndex)
		}
	}
	for _, cmd := range block.InternalCommands {
		if err := foldInternalCommand(res, cmd, lookup); err != nil {
			return nil, errors.Wrapf(err, "block %s internal command %d", block.StateHash, cmd.SeqIndex)
		}
	}
	return res, nil
}

// Failure reasons synthesized by the local precondition check. A reason
// already reported by the source block is preserved verbatim instead.
const (
	reasonIncorrectNonce    = "Incorrect_nonce"
	reasonInsufficientFunds = "Insufficient_funds"
)

// foldUserCommand mirrors protocol semantics: the fee is consumed and the
// nonce advances even when the command fails a precondition; a failed
// precondition marks the command Failed with a failureReason rather than
// aborting the fold, and only a successful Payment moves the principal
// amount.
func foldUserCommand(res *Result, cmd *model.UserCommand, lookup AccountLookup) error {
	source, err := res.get(cmd.Source, lookup)
	if err != nil {
		return err
	}

	var reason string
	if cmd.Nonce != source.Nonce {
		reason = reasonIncorrectNonce
	}
	if source.Balance >= model.Amount(cmd.Fee) {
		source.Balance -= model.Amount(cmd.Fee)
	} else {
		source.Balance = 0
		if reason == "" {
			reason = reasonInsufficientFunds
		}
	}
	source.Nonce++
	res.touch(source)

	if cmd.Failed {
		// Already failed upstream; its reason is preserved verbatim, never
		// recomputed, and the principal is untouched.
		return nil
	}

	if reason == "" {
		switch cmd.Kind {
		case model.Payment:
			if source.Balance < cmd.Amount {
				reason = reasonInsufficientFunds
				break
			}
			source.Balance -= cmd.Amount
			res.touch(source)

			receiver, err := res.get(cmd.Receiver, lookup)
			if err != nil {
				return err
			}
			receiver.Balance += cmd.Amount
			receiver.TotalReceived += cmd.Amount
			res.touch(receiver)

		case model.Delegation:
			source.Delegate = cmd.Receiver
			res.touch(source)

		case model.CreateAccount:
			receiver, err := res.get(cmd.Receiver, lookup)
			if err != nil {
				return err
			}
			res.touch(receiver) // materializes a zero-balance account row
		}
	}

	if reason != "" {
		cmd.Failed = true
		cmd.FailureReason = reason
	}
	return nil
}

// foldInternalCommand credits the receiver with a coinbase or fee-transfer
// payout; internal commands never fail and never touch a nonce.
func foldInternalCommand(res *Result, cmd model.InternalCommand, lookup AccountLookup) error {
	receiver, err := res.get(cmd.Receiver, lookup)
	if err != nil {
		return err
	}
	receiver.Balance += cmd.Amount
	receiver.TotalReceived += cmd.Amount
	res.touch(receiver)
	return nil
}

// ShouldSnapshot reports whether height is a pin point for ledger
// snapshotting.
func ShouldSnapshot(height model.BlockHeight) bool {
	every := params.Current().SnapshotEvery
	return every > 0 && uint32(height)%every == 0
}

// Replay rebuilds account state by folding blocks in order starting from a
// pinned snapshot, used to recompute the ledger after a reorg instead of
// subtracting deltas in place — replay stays exact where subtraction can
// drift on edge cases. snapshot is mutated into the final account set and
// also returned for convenience.
func Replay(snapshot map[model.PublicKey]model.Account, blocks []*model.Block) (map[model.PublicKey]model.Account, model.Aggregate, error) {
	if snapshot == nil {
		snapshot = make(map[model.PublicKey]model.Account)
	}
	lookup := func(pk model.PublicKey) (model.Account, bool, error) {
		acc, ok := snapshot[pk]
		return acc, ok, nil
	}
	var total model.Aggregate
	for _, b := range blocks {
		res, err := FoldBlock(b, lookup)
		if err != nil {
			return nil, model.Aggregate{}, err
		}
		for pk, acc := range res.Accounts {
			snapshot[pk] = acc
		}
		total.NumBlocks += res.Aggregate.NumBlocks
		total.NumUserCommands += res.Aggregate.NumUserCommands
		total.NumInternalCommands += res.Aggregate.NumInternalCommands
		total.NumSnarks += res.Aggregate.NumSnarks
	}
	return snapshot, total, nil
}

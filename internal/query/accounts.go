package query

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
)

// Summary is the chain overview the IPC `summary` verb and the GraphQL
// summary field report.
type Summary struct {
	Tip       model.ChainTip
	Counters  model.Aggregate
	Epoch     model.Epoch
	EpochOnly model.Aggregate
}

// Summary reads the chain tip and aggregate counters from one pinned
// snapshot, so the tip and its counters always describe the same
// committed batch.
func (r *Resolver) Summary(ctx context.Context) (Summary, error) {
	snap, err := r.store.Snapshot()
	if err != nil {
		return Summary{}, err
	}
	defer snap.Close()

	tip, err := snap.ChainTip()
	if err != nil {
		return Summary{}, err
	}
	global, err := snap.Aggregate(nil)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{Tip: tip, Counters: global}
	if tip.BestStateHash != "" {
		best, err := snap.Block(tip.BestStateHash)
		if err == nil {
			s.Epoch = best.Epoch
			epochAgg, aggErr := snap.Aggregate(&best.Epoch)
			if aggErr == nil {
				s.EpochOnly = epochAgg
			}
		}
	}
	return s, nil
}

// Account resolves pk's state at atHeight (0 means the best height),
// through the LRU so hot accounts skip the reverse scan.
func (r *Resolver) Account(ctx context.Context, pk model.PublicKey, atHeight model.BlockHeight) (*model.Account, error) {
	if atHeight == 0 {
		tip, err := r.store.GetChainTip()
		if err != nil {
			return nil, err
		}
		atHeight = tip.BestHeight
	}
	key := fmt.Sprintf("%s@%d", pk, atHeight)
	if cached, ok := r.accounts.Get(key); ok {
		acc := cached.(model.Account)
		return &acc, nil
	}
	acc, err := r.store.LookupAccount(pk, atHeight)
	if err != nil {
		return nil, err
	}
	r.accounts.Add(key, *acc)
	return acc, nil
}

// BestChain returns the most recent limit canonical blocks, tip-first —
// the IPC `best_chain` verb.
func (r *Resolver) BestChain(ctx context.Context, limit int) ([]BlockResult, error) {
	canonical := true
	return r.Blocks(ctx, BlocksQuery{Canonical: &canonical, Sort: BlockHeightDesc, Limit: limit})
}

// StakingLedger returns a stored snapshot by (epoch, ledger_hash).
func (r *Resolver) StakingLedger(ctx context.Context, epoch model.Epoch, ledgerHash string) (*model.StakingLedger, error) {
	return r.store.GetStakingLedger(epoch, ledgerHash)
}

// DelegatedBalance sums the balances of every account delegating to pk,
// via the reverse delegate index; each delegator's balance resolves at
// atHeight (0 means the best height) through the same cached lookup the
// account query uses.
func (r *Resolver) DelegatedBalance(ctx context.Context, pk model.PublicKey, atHeight model.BlockHeight) (model.Amount, error) {
	delegators, err := r.store.DelegatorsOf(pk)
	if err != nil {
		return 0, err
	}
	var total model.Amount
	for _, delegator := range delegators {
		acc, err := r.Account(ctx, delegator, atHeight)
		if err != nil {
			if errors.Is(err, errkind.NotFound) {
				continue // delegate pair seeded from genesis, no account row yet
			}
			return 0, err
		}
		total += acc.Balance
	}
	return total, nil
}

package ledger

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/minaprotocol/mina-indexer/internal/db/kv"
	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
	"github.com/minaprotocol/mina-indexer/internal/params"
)

var log = logrus.WithField("prefix", "ledger")

// pinnedSnapshot is a full copy of the working ledger at a canonical height,
// kept so a reorg can be replayed forward from a known-good state instead of
// unapplying blocks by subtraction.
type pinnedSnapshot struct {
	height   model.BlockHeight
	accounts map[model.PublicKey]model.Account
}

// Pipeline owns the working ledger: the account states derived by folding
// every canonical block, in order, onto the genesis/staking-ledger baseline.
// It consumes reorg deltas from the block-tree engine and turns each into a
// single atomic kv.DeltaWrite. Exactly one goroutine (the ingest loop)
// drives it, so it carries no locking.
type Pipeline struct {
	store *kv.Store

	working   map[model.PublicKey]model.Account
	snapshots []pinnedSnapshot
	tip       model.ChainTip

	global  model.Aggregate
	byEpoch map[model.Epoch]model.Aggregate
}

// NewPipeline loads the persisted chain tip and aggregate counters, seeds
// the working ledger from baseline (the genesis/staking-ledger account set,
// may be nil), then rebuilds it by replaying the full canonical chain.
// Replay from genesis is startup-only cost and keeps the in-memory ledger a
// pure function of the committed canonical set.
func NewPipeline(store *kv.Store, baseline map[model.PublicKey]model.StakingLedgerEntry) (*Pipeline, error) {
	p := &Pipeline{
		store:   store,
		working: make(map[model.PublicKey]model.Account),
		byEpoch: make(map[model.Epoch]model.Aggregate),
	}
	p.Bootstrap(baseline)
	p.pin(0) // genesis pin: reorgs near the chain start replay from the baseline

	tip, err := store.GetChainTip()
	if err != nil {
		return nil, err
	}
	p.tip = tip

	global, err := store.GetAggregate(nil)
	if err != nil {
		return nil, err
	}
	p.global = global

	if tip.BestStateHash == "" {
		return p, nil
	}

	var replayed int
	err = store.IterCanonicalByHeight(0, tip.BestHeight, true, func(b *model.Block) (bool, error) {
		res, foldErr := FoldBlock(b, p.lookup)
		if foldErr != nil {
			return false, foldErr
		}
		for pk, acc := range res.Accounts {
			p.working[pk] = acc
		}
		agg := p.byEpoch[b.Epoch]
		addAggregate(&agg, res.Aggregate)
		p.byEpoch[b.Epoch] = agg
		p.maybePin(b.Height)
		replayed++
		return true, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "replay canonical chain at startup")
	}
	log.WithFields(logrus.Fields{
		"blocks":   replayed,
		"accounts": len(p.working),
		"tip":      tip.BestHeight,
	}).Info("Rebuilt working ledger")
	return p, nil
}

func (p *Pipeline) lookup(pk model.PublicKey) (model.Account, bool, error) {
	acc, ok := p.working[pk]
	return acc, ok, nil
}

// Tip returns the last-committed chain tip.
func (p *Pipeline) Tip() model.ChainTip { return p.tip }

// Account returns the working-ledger state of pk at the best tip.
func (p *Pipeline) Account(pk model.PublicKey) (model.Account, bool) {
	acc, ok := p.working[pk]
	return acc, ok
}

// SetRoot records an advanced root in the chain tip and persists it.
func (p *Pipeline) SetRoot(hash model.StateHash, height model.BlockHeight) error {
	p.tip.RootStateHash = hash
	p.tip.RootHeight = height
	return p.store.PutChainTip(p.tip)
}

// Bootstrap seeds the working ledger from a staking-ledger snapshot's
// entries. Only meaningful before any block has been applied; balances
// already derived from blocks are never overwritten.
func (p *Pipeline) Bootstrap(entries map[model.PublicKey]model.StakingLedgerEntry) {
	for pk, e := range entries {
		if _, ok := p.working[pk]; ok {
			continue
		}
		acc := model.Account{PublicKey: pk, Balance: e.Balance, Delegate: e.Delegate, TotalReceived: e.Balance}
		p.working[pk] = acc
		// A baseline that arrives after NewPipeline must reach the genesis
		// pin too, or a reorg replayed from it would start from nothing.
		if len(p.snapshots) > 0 && p.snapshots[0].height == 0 {
			p.snapshots[0].accounts[pk] = acc
		}
	}
}

// ApplyDelta folds a reorg delta into the working ledger and commits every
// resulting row in one atomic batch: canonicity flips, account-at-height
// rows, orphaned-row deletes, aggregate counters, the new ChainTip and the
// watcher cursor — one KV write batch per delta.
//
// All in-memory state is installed only after the batch commits, so a
// failed (and later retried) write never drifts the working ledger or the
// counters. The unapply side is implemented as replay from the nearest
// pinned snapshot at or below the fork point, never as subtraction.
func (p *Pipeline) ApplyDelta(unapply, apply []model.StateHash, newRoot model.StateHash, rootHeight model.BlockHeight, cursor string) error {
	if len(apply) == 0 && len(unapply) == 0 {
		return nil
	}

	unapplyBlocks, err := p.fetchBlocks(unapply)
	if err != nil {
		return err
	}
	applyBlocks, err := p.fetchBlocks(apply)
	if err != nil {
		return err
	}

	write := kv.DeltaWrite{
		SetOrphan:     unapply,
		SetCanonical:  apply,
		WatcherCursor: cursor,
	}

	base := p.working
	rewound := false
	global := p.global
	epochs := make(map[model.Epoch]model.Aggregate)
	var forkHeight model.BlockHeight

	if len(unapplyBlocks) > 0 {
		// unapplyBlocks is old-tip-first; the fork point sits one below
		// the last entry.
		forkHeight = unapplyBlocks[len(unapplyBlocks)-1].Height - 1
		base, err = p.restoreAtForkPoint(forkHeight)
		if err != nil {
			return err
		}
		rewound = true
		for _, b := range unapplyBlocks {
			for pk := range touchedKeys(b) {
				write.DeleteAccounts = append(write.DeleteAccounts, kv.AccountDelete{PublicKey: pk, Height: b.Height})
			}
			agg := p.epochAggregate(epochs, b.Epoch)
			subAggregate(&agg, blockAggregate(b))
			epochs[b.Epoch] = agg
			subAggregate(&global, blockAggregate(b))
		}
	}

	// Fold the winning branch over an overlay so the committed working map
	// stays untouched until the batch lands.
	overlay := make(map[model.PublicKey]model.Account)
	lookup := func(pk model.PublicKey) (model.Account, bool, error) {
		if acc, ok := overlay[pk]; ok {
			return acc, true, nil
		}
		acc, ok := base[pk]
		return acc, ok, nil
	}
	var pins []pinnedSnapshot
	for _, b := range applyBlocks {
		res, foldErr := FoldBlock(b, lookup)
		if foldErr != nil {
			return foldErr
		}
		for pk, acc := range res.Accounts {
			overlay[pk] = acc
			write.Accounts = append(write.Accounts, kv.AccountWrite{Height: b.Height, Account: acc})
		}
		agg := p.epochAggregate(epochs, b.Epoch)
		addAggregate(&agg, res.Aggregate)
		epochs[b.Epoch] = agg
		addAggregate(&global, res.Aggregate)
		if ShouldSnapshot(b.Height) {
			pins = append(pins, pinnedSnapshot{height: b.Height, accounts: merged(base, overlay)})
		}
	}

	// Reverse-delegate index maintenance: diff each touched account's
	// committed delegate (what the index currently holds) against its
	// post-delta delegate.
	touched := make(map[model.PublicKey]struct{}, len(overlay))
	for pk := range overlay {
		touched[pk] = struct{}{}
	}
	for _, b := range unapplyBlocks {
		for pk := range touchedKeys(b) {
			touched[pk] = struct{}{}
		}
	}
	for pk := range touched {
		committed := p.working[pk].Delegate
		final := base[pk].Delegate
		if acc, ok := overlay[pk]; ok {
			final = acc.Delegate
		}
		if committed != final {
			write.DelegateUpdates = append(write.DelegateUpdates, kv.DelegateUpdate{
				Delegator: pk,
				Old:       committed,
				New:       final,
			})
		}
	}

	tip := p.tip
	if len(applyBlocks) > 0 {
		best := applyBlocks[len(applyBlocks)-1]
		tip.BestStateHash = best.StateHash
		tip.BestHeight = best.Height
	}
	if newRoot != "" {
		tip.RootStateHash = newRoot
		tip.RootHeight = rootHeight
	}
	write.NewTip = tip
	write.GlobalAggregate = &global
	write.EpochAggregates = epochs

	if err := p.store.ApplyDelta(write); err != nil {
		return err
	}

	// Committed; install the new state.
	if rewound {
		p.working = base
		// Pins above the fork point describe the orphaned branch.
		kept := p.snapshots[:0]
		for _, s := range p.snapshots {
			if s.height <= forkHeight {
				kept = append(kept, s)
			}
		}
		p.snapshots = kept
	}
	for pk, acc := range overlay {
		p.working[pk] = acc
	}
	p.snapshots = append(p.snapshots, pins...)
	p.global = global
	for epoch, agg := range epochs {
		p.byEpoch[epoch] = agg
	}
	p.tip = tip
	p.pruneSnapshots()
	return nil
}

// epochAggregate reads an epoch's counters from the delta-local overlay,
// falling back to the committed value.
func (p *Pipeline) epochAggregate(overlay map[model.Epoch]model.Aggregate, epoch model.Epoch) model.Aggregate {
	if agg, ok := overlay[epoch]; ok {
		return agg
	}
	return p.byEpoch[epoch]
}

// merged clones base with overlay applied on top.
func merged(base, overlay map[model.PublicKey]model.Account) map[model.PublicKey]model.Account {
	out := make(map[model.PublicKey]model.Account, len(base)+len(overlay))
	for pk, acc := range base {
		out[pk] = acc
	}
	for pk, acc := range overlay {
		out[pk] = acc
	}
	return out
}

// restoreAtForkPoint rebuilds the account map as of forkHeight (the lowest
// common ancestor's height) by cloning the newest pinned snapshot at or
// below it and replaying the still-canonical blocks in between.
func (p *Pipeline) restoreAtForkPoint(forkHeight model.BlockHeight) (map[model.PublicKey]model.Account, error) {
	snap := p.snapshotAtOrBelow(forkHeight)
	if snap == nil {
		return nil, errkind.New(errkind.NoSnapshotForReorg, "no pinned ledger snapshot at or below fork height")
	}

	restored := make(map[model.PublicKey]model.Account, len(snap.accounts))
	for pk, acc := range snap.accounts {
		restored[pk] = acc
	}
	lookup := func(pk model.PublicKey) (model.Account, bool, error) {
		acc, ok := restored[pk]
		return acc, ok, nil
	}
	err := p.store.IterCanonicalByHeight(snap.height+1, forkHeight, true, func(b *model.Block) (bool, error) {
		res, foldErr := FoldBlock(b, lookup)
		if foldErr != nil {
			return false, foldErr
		}
		for pk, acc := range res.Accounts {
			restored[pk] = acc
		}
		return true, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "replay to fork point")
	}
	return restored, nil
}

func (p *Pipeline) fetchBlocks(hashes []model.StateHash) ([]*model.Block, error) {
	blocks := make([]*model.Block, 0, len(hashes))
	for _, h := range hashes {
		b, err := p.store.GetBlock(h)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch block %s for delta", h)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// maybePin clones the working ledger at every SNAPSHOT_EVERY canonical
// heights so a later reorg has a replay base.
func (p *Pipeline) maybePin(height model.BlockHeight) {
	if !ShouldSnapshot(height) {
		return
	}
	if n := len(p.snapshots); n > 0 && p.snapshots[n-1].height == height {
		return
	}
	p.pin(height)
}

func (p *Pipeline) pin(height model.BlockHeight) {
	clone := make(map[model.PublicKey]model.Account, len(p.working))
	for pk, acc := range p.working {
		clone[pk] = acc
	}
	p.snapshots = append(p.snapshots, pinnedSnapshot{height: height, accounts: clone})
}

func (p *Pipeline) snapshotAtOrBelow(height model.BlockHeight) *pinnedSnapshot {
	for i := len(p.snapshots) - 1; i >= 0; i-- {
		if p.snapshots[i].height <= height {
			return &p.snapshots[i]
		}
	}
	return nil
}

// pruneSnapshots drops pins that have fallen behind the maximum reorg
// window; the root never rolls back, so no reorg can need them again.
func (p *Pipeline) pruneSnapshots() {
	depth := model.BlockHeight(params.Current().MaxReorgDepth)
	if p.tip.BestHeight <= depth {
		return
	}
	floor := p.tip.BestHeight - depth
	kept := p.snapshots[:0]
	for i, s := range p.snapshots {
		// Keep the newest pin below the floor too: a maximal-depth reorg
		// forks exactly at the floor and still needs a base at or below it.
		if s.height >= floor || (i+1 < len(p.snapshots) && p.snapshots[i+1].height >= floor) {
			kept = append(kept, s)
		}
	}
	p.snapshots = kept
}

// touchedKeys lists every account a block's commands can move funds or
// metadata on, without folding it.
func touchedKeys(b *model.Block) map[model.PublicKey]struct{} {
	keys := make(map[model.PublicKey]struct{})
	for _, c := range b.UserCommands {
		keys[c.Source] = struct{}{}
		keys[c.Receiver] = struct{}{}
	}
	for _, c := range b.InternalCommands {
		keys[c.Receiver] = struct{}{}
	}
	return keys
}

func blockAggregate(b *model.Block) model.Aggregate {
	return model.Aggregate{
		NumBlocks:           1,
		NumUserCommands:     uint64(len(b.UserCommands)),
		NumInternalCommands: uint64(len(b.InternalCommands)),
		NumSnarks:           uint64(len(b.SnarkJobs)),
	}
}

func addAggregate(dst *model.Aggregate, inc model.Aggregate) {
	dst.NumBlocks += inc.NumBlocks
	dst.NumUserCommands += inc.NumUserCommands
	dst.NumInternalCommands += inc.NumInternalCommands
	dst.NumSnarks += inc.NumSnarks
}

func subAggregate(dst *model.Aggregate, dec model.Aggregate) {
	dst.NumBlocks -= dec.NumBlocks
	dst.NumUserCommands -= dec.NumUserCommands
	dst.NumInternalCommands -= dec.NumInternalCommands
	dst.NumSnarks -= dec.NumSnarks
}

package ledger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minaprotocol/mina-indexer/internal/db/kv"
	"github.com/minaprotocol/mina-indexer/internal/model"
	"github.com/minaprotocol/mina-indexer/internal/params"
)

const (
	alice = model.PublicKey("B62q-alice")
	bob   = model.PublicKey("B62q-bob")
	carol = model.PublicKey("B62q-carol")
)

func baseline() map[model.PublicKey]model.StakingLedgerEntry {
	return map[model.PublicKey]model.StakingLedgerEntry{
		alice: {PublicKey: alice, Balance: 1_000_000_000_000},
	}
}

func paymentBlock(hash, parent model.StateHash, height model.BlockHeight, nonce model.Nonce, amount model.Amount) *model.Block {
	return &model.Block{
		StateHash:        hash,
		ParentHash:       parent,
		Height:           height,
		Slot:             model.GlobalSlot(height),
		Creator:          carol,
		CoinbaseReceiver: carol,
		CoinbaseAmount:   720_000_000_000,
		UserCommands: []model.UserCommand{{
			StateHash: hash,
			Kind:      model.Payment,
			Source:    alice,
			Receiver:  bob,
			Amount:    amount,
			Fee:       10_000_000,
			Nonce:     nonce,
		}},
		InternalCommands: []model.InternalCommand{{
			StateHash: hash,
			Kind:      model.Coinbase,
			Receiver:  carol,
			Amount:    720_000_000_000,
		}},
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *kv.Store) {
	t.Helper()
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	p, err := NewPipeline(store, baseline())
	require.NoError(t, err)
	return p, store
}

func mustPut(t *testing.T, store *kv.Store, b *model.Block) {
	t.Helper()
	_, err := store.PutBlock(b)
	require.NoError(t, err)
}

func TestApplyDeltaFoldsBlocksAndCommits(t *testing.T) {
	p, store := newTestPipeline(t)

	b1 := paymentBlock("b1", "", 1, 0, 100_000_000_000)
	b2 := paymentBlock("b2", "b1", 2, 1, 50_000_000_000)
	mustPut(t, store, b1)
	mustPut(t, store, b2)

	require.NoError(t, p.ApplyDelta(nil, []model.StateHash{"b1", "b2"}, "b1", 1, "cursor-b2"))

	acc, ok := p.Account(alice)
	require.True(t, ok)
	assert.Equal(t, model.Amount(1_000_000_000_000-150_000_000_000-20_000_000), acc.Balance)
	assert.Equal(t, model.Nonce(2), acc.Nonce)

	// Committed rows match the working ledger.
	stored, err := store.LookupAccount(bob, 2)
	require.NoError(t, err)
	assert.Equal(t, model.Amount(150_000_000_000), stored.Balance)

	carolAcc, err := store.LookupAccount(carol, 2)
	require.NoError(t, err)
	assert.Equal(t, model.Amount(2*720_000_000_000), carolAcc.Balance)

	assert.Equal(t, model.Canonical, store.Canonicity("b1"))
	assert.Equal(t, model.Canonical, store.Canonicity("b2"))

	tip, err := store.GetChainTip()
	require.NoError(t, err)
	assert.Equal(t, model.StateHash("b2"), tip.BestStateHash)
	assert.Equal(t, model.BlockHeight(2), tip.BestHeight)

	agg, err := store.GetAggregate(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), agg.NumBlocks)
	assert.Equal(t, uint64(2), agg.NumUserCommands)

	cursor, err := store.GetWatcherCursor()
	require.NoError(t, err)
	assert.Equal(t, "cursor-b2", cursor)
}

func TestReorgReplaysFromSnapshot(t *testing.T) {
	p, store := newTestPipeline(t)

	b1 := paymentBlock("b1", "", 1, 0, 100_000_000_000)
	a2 := paymentBlock("a2", "b1", 2, 1, 400_000_000_000)
	c2 := paymentBlock("c2", "b1", 2, 1, 5_000_000_000)
	c3 := paymentBlock("c3", "c2", 3, 2, 5_000_000_000)
	for _, b := range []*model.Block{b1, a2, c2, c3} {
		mustPut(t, store, b)
	}

	require.NoError(t, p.ApplyDelta(nil, []model.StateHash{"b1", "a2"}, "b1", 1, "a2"))

	// The c-fork wins: unapply a2, apply c2 and c3.
	require.NoError(t, p.ApplyDelta([]model.StateHash{"a2"}, []model.StateHash{"c2", "c3"}, "", 0, "c3"))

	acc, ok := p.Account(bob)
	require.True(t, ok)
	assert.Equal(t, model.Amount(110_000_000_000), acc.Balance, "bob holds b1+c2+c3 payments, a2 reverted")

	assert.Equal(t, model.Orphan, store.Canonicity("a2"))
	assert.Equal(t, model.Canonical, store.Canonicity("c3"))

	aliceAcc, ok := p.Account(alice)
	require.True(t, ok)
	assert.Equal(t, model.Nonce(3), aliceAcc.Nonce, "nonce counts b1, c2, c3 only")

	// Direct ingestion of the winning chain alone yields the same state (P5).
	store2, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	defer func() { require.NoError(t, store2.Close()) }()
	p2, err := NewPipeline(store2, baseline())
	require.NoError(t, err)
	for _, b := range []*model.Block{b1, c2, c3} {
		mustPut(t, store2, b)
	}
	require.NoError(t, p2.ApplyDelta(nil, []model.StateHash{"b1", "c2", "c3"}, "b1", 1, "c3"))
	want, _ := p2.Account(bob)
	got, _ := p.Account(bob)
	assert.Equal(t, want.Balance, got.Balance)
}

func TestReorgWithoutSnapshotIsFatal(t *testing.T) {
	p, store := newTestPipeline(t)
	p.snapshots = nil // simulate the pin window having been lost

	b1 := paymentBlock("b1", "", 1, 0, 1_000_000_000)
	b2 := paymentBlock("b2", "b1", 2, 1, 1_000_000_000)
	mustPut(t, store, b1)
	mustPut(t, store, b2)

	err := p.ApplyDelta([]model.StateHash{"b2"}, []model.StateHash{"b2"}, "", 0, "")
	require.Error(t, err)
}

func TestPipelineRestartRebuildsWorkingLedger(t *testing.T) {
	storeDir := t.TempDir()
	store, err := kv.Open(storeDir)
	require.NoError(t, err)
	p, err := NewPipeline(store, baseline())
	require.NoError(t, err)

	var hashes []model.StateHash
	parent := model.StateHash("")
	for h := model.BlockHeight(1); h <= 5; h++ {
		hash := model.StateHash(fmt.Sprintf("b%d", h))
		b := paymentBlock(hash, parent, h, model.Nonce(h-1), 1_000_000_000)
		mustPut(t, store, b)
		hashes = append(hashes, hash)
		parent = hash
	}
	require.NoError(t, p.ApplyDelta(nil, hashes, "b1", 1, "b5"))
	before, _ := p.Account(bob)
	require.NoError(t, store.Close())

	store, err = kv.Open(storeDir)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()
	restarted, err := NewPipeline(store, baseline())
	require.NoError(t, err)
	after, ok := restarted.Account(bob)
	require.True(t, ok)
	assert.Equal(t, before.Balance, after.Balance, "replay reproduces the working ledger byte for byte")
}

func TestDelegationMaintainsReverseIndex(t *testing.T) {
	p, store := newTestPipeline(t)

	b1 := &model.Block{
		StateHash: "b1",
		Height:    1,
		Slot:      1,
		Creator:   carol,
		UserCommands: []model.UserCommand{{
			StateHash: "b1",
			Kind:      model.Delegation,
			Source:    alice,
			Receiver:  carol,
			Fee:       10_000_000,
			Nonce:     0,
		}},
	}
	mustPut(t, store, b1)
	require.NoError(t, p.ApplyDelta(nil, []model.StateHash{"b1"}, "b1", 1, ""))

	delegators, err := store.DelegatorsOf(carol)
	require.NoError(t, err)
	require.Equal(t, []model.PublicKey{alice}, delegators)

	acc, ok := p.Account(alice)
	require.True(t, ok)
	require.Equal(t, carol, acc.Delegate)
}

func TestSnapshotCadence(t *testing.T) {
	cfg := *params.Current()
	cfg.SnapshotEvery = 2
	prev := params.Current()
	params.Override(&cfg)
	defer params.Override(prev)

	assert.False(t, ShouldSnapshot(1))
	assert.True(t, ShouldSnapshot(2))
	assert.False(t, ShouldSnapshot(3))
	assert.True(t, ShouldSnapshot(4))
}

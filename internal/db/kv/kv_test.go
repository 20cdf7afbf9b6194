package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/minaprotocol/mina-indexer/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func sampleBlock(height model.BlockHeight, hash model.StateHash, creator model.PublicKey) *model.Block {
	return &model.Block{
		StateHash:        hash,
		ParentHash:       "genesis",
		Height:           height,
		Slot:             model.GlobalSlot(height),
		Creator:          creator,
		CoinbaseReceiver: creator,
		TxFees:           1000,
		CoinbaseAmount:   720000000000,
	}
}

func TestPutGetBlock(t *testing.T) {
	store := newTestStore(t)

	block := sampleBlock(1, "hash-a", "creator-1")
	already, err := store.PutBlock(block)
	require.NoError(t, err)
	require.False(t, already)

	got, err := store.GetBlock("hash-a")
	require.NoError(t, err)
	require.Equal(t, block.Height, got.Height)
	require.Equal(t, block.CoinbaseAmount, got.CoinbaseAmount)

	already, err = store.PutBlock(block)
	require.NoError(t, err)
	require.True(t, already, "re-putting the same state hash must be a no-op")

	require.True(t, store.HasBlock("hash-a"))
	require.False(t, store.HasBlock("does-not-exist"))

	_, err = store.GetBlock("does-not-exist")
	require.Error(t, err)
}

func TestSetCanonicityMaintainsIndex(t *testing.T) {
	store := newTestStore(t)
	block := sampleBlock(5, "hash-b", "creator-2")
	_, err := store.PutBlock(block)
	require.NoError(t, err)

	require.Equal(t, model.Pending, store.Canonicity("hash-b"))

	require.NoError(t, store.SetCanonicity("hash-b", model.Canonical))
	require.Equal(t, model.Canonical, store.Canonicity("hash-b"))

	var seen []model.StateHash
	err = store.IterCanonicalByHeight(0, 0, true, func(b *model.Block) (bool, error) {
		seen = append(seen, b.StateHash)
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []model.StateHash{"hash-b"}, seen)

	require.NoError(t, store.SetCanonicity("hash-b", model.Orphan))
	seen = nil
	err = store.IterCanonicalByHeight(0, 0, true, func(b *model.Block) (bool, error) {
		seen = append(seen, b.StateHash)
		return true, nil
	})
	require.NoError(t, err)
	require.Empty(t, seen)
}

func TestIterByHeightRangeAndEarlyExit(t *testing.T) {
	store := newTestStore(t)
	for h := model.BlockHeight(1); h <= 10; h++ {
		_, err := store.PutBlock(sampleBlock(h, model.StateHash(string(rune('a'+h))), "creator"))
		require.NoError(t, err)
	}

	var heights []model.BlockHeight
	err := store.IterByHeight(3, 7, true, func(b *model.Block) (bool, error) {
		heights = append(heights, b.Height)
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []model.BlockHeight{3, 4, 5, 6, 7}, heights)

	heights = nil
	err = store.IterByHeight(0, 0, false, func(b *model.Block) (bool, error) {
		heights = append(heights, b.Height)
		return len(heights) < 3, nil
	})
	require.NoError(t, err)
	require.Equal(t, []model.BlockHeight{10, 9, 8}, heights)
}

func TestAccountAtHeightReverseLookup(t *testing.T) {
	store := newTestStore(t)
	pk := model.PublicKey("pk-1")

	require.NoError(t, store.PutAccountAtHeight(1, &model.Account{PublicKey: pk, Balance: 100}))
	require.NoError(t, store.PutAccountAtHeight(5, &model.Account{PublicKey: pk, Balance: 500}))
	require.NoError(t, store.PutAccountAtHeight(10, &model.Account{PublicKey: pk, Balance: 1000}))

	acc, err := store.LookupAccount(pk, 7)
	require.NoError(t, err)
	require.Equal(t, model.Amount(500), acc.Balance)

	acc, err = store.LookupAccount(pk, 10)
	require.NoError(t, err)
	require.Equal(t, model.Amount(1000), acc.Balance)

	acc, err = store.LookupAccount(pk, 100)
	require.NoError(t, err)
	require.Equal(t, model.Amount(1000), acc.Balance)

	_, err = store.LookupAccount(pk, 0)
	require.Error(t, err)

	_, err = store.LookupAccount("unknown-pk", 10)
	require.Error(t, err)
}

func TestDelegateIndexRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.ApplyDelta(DeltaWrite{
		DelegateUpdates: []DelegateUpdate{
			{Delegator: "pk-a", New: "validator-1"},
			{Delegator: "pk-b", New: "validator-1"},
			{Delegator: "pk-c", New: "validator-2"},
		},
	}))

	delegators, err := store.DelegatorsOf("validator-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []model.PublicKey{"pk-a", "pk-b"}, delegators)

	// Re-delegation moves the row.
	require.NoError(t, store.ApplyDelta(DeltaWrite{
		DelegateUpdates: []DelegateUpdate{
			{Delegator: "pk-a", Old: "validator-1", New: "validator-2"},
		},
	}))
	delegators, err = store.DelegatorsOf("validator-1")
	require.NoError(t, err)
	require.Equal(t, []model.PublicKey{"pk-b"}, delegators)
	delegators, err = store.DelegatorsOf("validator-2")
	require.NoError(t, err)
	require.ElementsMatch(t, []model.PublicKey{"pk-a", "pk-c"}, delegators)
}

func TestSeedGenesisLedgerWritesBaselineRows(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SeedGenesisLedger(map[model.PublicKey]model.StakingLedgerEntry{
		"pk-gen": {PublicKey: "pk-gen", Balance: 7777, Delegate: "validator-1"},
	}))

	acc, err := store.LookupAccount("pk-gen", 10)
	require.NoError(t, err)
	require.Equal(t, model.Amount(7777), acc.Balance)

	delegators, err := store.DelegatorsOf("validator-1")
	require.NoError(t, err)
	require.Equal(t, []model.PublicKey{"pk-gen"}, delegators)
}

func TestSnapshotIsolatesConcurrentWrites(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.ApplyDelta(DeltaWrite{
		GlobalAggregate: &model.Aggregate{NumBlocks: 1},
		NewTip:          model.ChainTip{BestStateHash: "first", BestHeight: 1},
	}))

	snap, err := store.Snapshot()
	require.NoError(t, err)
	defer func() { require.NoError(t, snap.Close()) }()

	require.NoError(t, store.ApplyDelta(DeltaWrite{
		GlobalAggregate: &model.Aggregate{NumBlocks: 2},
		NewTip:          model.ChainTip{BestStateHash: "second", BestHeight: 2},
	}))

	tip, err := snap.ChainTip()
	require.NoError(t, err)
	require.Equal(t, model.StateHash("first"), tip.BestStateHash, "a pinned snapshot never sees later batches")

	agg, err := snap.Aggregate(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), agg.NumBlocks)

	tip, err = store.GetChainTip()
	require.NoError(t, err)
	require.Equal(t, model.StateHash("second"), tip.BestStateHash)
}

func TestSchemaVersionMismatchIsFatal(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopen and tamper the schema version byte directly, then verify the
	// next Open rejects the database.
	store, err = Open(dir)
	require.NoError(t, err)
	err = store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(migrationBucket).Put(schemaVersionKey, []byte{schemaVersion + 1})
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Open(dir)
	require.Error(t, err)
}

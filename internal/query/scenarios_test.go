package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minaprotocol/mina-indexer/internal/db/kv"
	"github.com/minaprotocol/mina-indexer/internal/model"
)

// Literal state hashes from the seeded mainnet dataset the query surface
// is specified against.
const (
	genesisStateHash   = "3NKeMoncuHab5ScarV5ViyF16cJPT4taWNSaTLS64Dp67wuXigPZ"
	height3StateHash   = "3NKd5So3VNqGZtRZiWsti4yaEe1fX79yz5TbfG6jBZqgMnCQQp3R"
	height6StateHash   = "3NKqRR2BZFV7Ad5kxtGKNNL59neXohf4ZEC5EMKrrnijB1jy4R5v"
	height120StateHash = "3NLNyQC4XgQX2Q9H7fC2UxFZKY4xwwUZop8jVR24SWYNNE93FsnS"
)

// slotOffset maps a height to its global slot in the seeded dataset; the
// height-117 blocks sit at slot 169.
const slotOffset = 52

func canonicalHash(h int) model.StateHash {
	switch h {
	case 1:
		return genesisStateHash
	case 3:
		return height3StateHash
	case 6:
		return height6StateHash
	case 120:
		return height120StateHash
	}
	return model.StateHash(fmt.Sprintf("3NScanon%03dxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx", h))
}

// seedScenarioDataset reproduces the shape of the seeded dataset: a
// canonical chain of heights 1..120 carrying the literal hashes above, and
// 84 non-canonical blocks between heights 6 and 120 — three competing
// blocks at height 6, two at height 117 sharing slot 169, one at height
// 120, and one at each height 7..84.
func seedScenarioDataset(t *testing.T, store *kv.Store) {
	t.Helper()

	for h := 1; h <= 120; h++ {
		b := &model.Block{
			StateHash:        canonicalHash(h),
			ParentHash:       canonicalHash(h - 1),
			Height:           model.BlockHeight(h),
			Slot:             model.GlobalSlot(h + slotOffset),
			Creator:          "B62q-main-producer",
			CoinbaseReceiver: "B62q-main-producer",
			ReceivedTime:     int64(1000 + h),
		}
		switch h {
		case 3:
			b.CoinbaseAmount = 720000000000
			for i := uint32(0); i < 4; i++ {
				b.UserCommands = append(b.UserCommands, model.UserCommand{
					StateHash: b.StateHash,
					SeqIndex:  i,
					Kind:      model.Payment,
					Source:    "B62q-payer",
					Receiver:  "B62q-payee",
					Amount:    1000000000,
					Fee:       10000000,
					Nonce:     model.Nonce(i),
				})
			}
			b.InternalCommands = []model.InternalCommand{
				{StateHash: b.StateHash, SeqIndex: 4, Kind: model.Coinbase, Receiver: b.CoinbaseReceiver, Amount: 720000000000},
				{StateHash: b.StateHash, SeqIndex: 5, Kind: model.FeeTransfer, Receiver: "B62q-snarker", Amount: 120000000},
			}
		case 120:
			b.TxFees = 10000000
		}
		_, err := store.PutBlock(b)
		require.NoError(t, err)
		require.NoError(t, store.SetCanonicity(b.StateHash, model.Canonical))
	}

	orphanHeights := []int{120, 117, 117, 6, 6, 6}
	for h := 7; h <= 84; h++ {
		orphanHeights = append(orphanHeights, h)
	}
	require.Len(t, orphanHeights, 84)
	for i, h := range orphanHeights {
		b := &model.Block{
			StateHash:        model.StateHash(fmt.Sprintf("3NSfork%03d%02dxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx", h, i)),
			ParentHash:       canonicalHash(h - 1),
			Height:           model.BlockHeight(h),
			Slot:             model.GlobalSlot(h + slotOffset),
			Creator:          "B62q-fork-producer",
			CoinbaseReceiver: "B62q-fork-producer",
			ReceivedTime:     int64(2000 + i),
		}
		_, err := store.PutBlock(b)
		require.NoError(t, err)
		require.NoError(t, store.SetCanonicity(b.StateHash, model.Orphan))
	}
}

func newScenarioResolver(t *testing.T) *Resolver {
	t.Helper()
	r, store := newTestResolver(t)
	seedScenarioDataset(t, store)
	return r
}

func TestScenarioCanonicalAscendingFirst120(t *testing.T) {
	r := newScenarioResolver(t)

	rows, err := r.Blocks(context.Background(), BlocksQuery{
		Canonical: boolPtr(true),
		Sort:      BlockHeightAsc,
		Limit:     120,
	})
	require.NoError(t, err)
	require.Len(t, rows, 120)
	assert.Equal(t, model.StateHash(genesisStateHash), rows[0].Block.StateHash)
	assert.Equal(t, model.BlockHeight(1), rows[0].Block.Height)
	assert.Equal(t, model.StateHash(height120StateHash), rows[119].Block.StateHash)
	assert.Equal(t, model.BlockHeight(120), rows[119].Block.Height)
	assert.Equal(t, model.Fee(10000000), rows[119].Block.TxFees)
}

func TestScenarioNonCanonicalDescending(t *testing.T) {
	r := newScenarioResolver(t)

	rows, err := r.Blocks(context.Background(), BlocksQuery{
		Canonical: boolPtr(false),
		Sort:      BlockHeightDesc,
		Limit:     100,
	})
	require.NoError(t, err)
	require.Len(t, rows, 84)
	assert.Equal(t, model.BlockHeight(120), rows[0].Block.Height)
	assert.Equal(t, model.BlockHeight(6), rows[83].Block.Height)
	for _, row := range rows {
		assert.False(t, row.Canonical)
	}
}

func TestScenarioHeightEquality(t *testing.T) {
	r := newScenarioResolver(t)

	rows, err := r.Blocks(context.Background(), BlocksQuery{BlockHeight: u32Ptr(6)})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.True(t, rows[0].Canonical)
	assert.Equal(t, model.StateHash(height6StateHash), rows[0].Block.StateHash)
	for _, row := range rows[1:] {
		assert.False(t, row.Canonical)
	}
	// Non-canonical rows order by descending receive time, then state hash.
	for i := 1; i < len(rows)-1; i++ {
		assert.GreaterOrEqual(t, rows[i].Block.ReceivedTime, rows[i+1].Block.ReceivedTime)
	}
}

func TestScenarioBoundedCanonicalDescending(t *testing.T) {
	r := newScenarioResolver(t)

	rows, err := r.Blocks(context.Background(), BlocksQuery{
		Canonical:      boolPtr(true),
		BlockHeightGt:  u32Ptr(10),
		BlockHeightLte: u32Ptr(50),
		Sort:           BlockHeightDesc,
		Limit:          100,
	})
	require.NoError(t, err)
	require.Len(t, rows, 40)
	assert.Equal(t, model.BlockHeight(50), rows[0].Block.Height)
	assert.Equal(t, model.BlockHeight(11), rows[39].Block.Height)
}

func TestScenarioGlobalSlotEquality(t *testing.T) {
	r := newScenarioResolver(t)

	rows, err := r.Blocks(context.Background(), BlocksQuery{SlotSinceGenesis: u32Ptr(169)})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	canonicalCount := 0
	for _, row := range rows {
		assert.Equal(t, model.BlockHeight(117), row.Block.Height)
		if row.Canonical {
			canonicalCount++
		}
	}
	assert.Equal(t, 1, canonicalCount)
	assert.True(t, rows[0].Canonical, "the canonical block orders first")
}

func TestScenarioBlockBody(t *testing.T) {
	r := newScenarioResolver(t)

	hash := model.StateHash(height3StateHash)
	rows, err := r.Blocks(context.Background(), BlocksQuery{StateHash: &hash})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	b := rows[0].Block
	assert.Equal(t, model.BlockHeight(3), b.Height)
	assert.Equal(t, model.Amount(720000000000), b.CoinbaseAmount)
	require.Len(t, b.UserCommands, 4)

	var feeTransfers []model.InternalCommand
	for _, cmd := range b.InternalCommands {
		if cmd.Kind != model.Coinbase {
			feeTransfers = append(feeTransfers, cmd)
		}
	}
	require.Len(t, feeTransfers, 1)
	assert.Equal(t, model.Amount(120000000), feeTransfers[0].Amount)
}

package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minaprotocol/mina-indexer/internal/db/kv"
	"github.com/minaprotocol/mina-indexer/internal/model"
	"github.com/minaprotocol/mina-indexer/internal/params"
)

func fastParams(t *testing.T) {
	t.Helper()
	cfg := *params.Current()
	cfg.ReevaluateEvery = 1
	cfg.ReevaluateInterval = 25 * time.Millisecond
	prev := params.Current()
	params.Override(&cfg)
	t.Cleanup(func() { params.Override(prev) })
}

func blockJSON(hash, parent string, height, nonce int, vrf string) string {
	return fmt.Sprintf(`{
		"state_hash": %q,
		"protocol_state": {
			"previous_state_hash": %q,
			"body": {"consensus_state": {
				"blockchain_length": "%d",
				"global_slot_since_genesis": "%d",
				"epoch_count": "0",
				"last_vrf_output": %q,
				"block_creator": "B62q-creator",
				"coinbase_receiver": "B62q-receiver"
			}}
		},
		"staged_ledger_diff": {"diff": {
			"coinbase": "One",
			"commands": [
				{"kind": "Payment", "source": "B62q-alice", "receiver": "B62q-bob",
				 "amount": "1000000000", "fee": "10000000", "nonce": "%d"}
			]
		}}
	}`, hash, parent, height, height, vrf, nonce)
}

func writeBlockFile(t *testing.T, dir, hash, parent string, height, nonce int, vrf string) {
	t.Helper()
	name := fmt.Sprintf("testnet-%d-%s.json", height, hash)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(blockJSON(hash, parent, height, nonce, vrf)), 0644))
}

func writeGenesisLedger(t *testing.T, dir string) {
	t.Helper()
	data := `[{"pk": "B62q-alice", "balance": "1000", "delegate": "B62q-alice"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "testnet-0-jxgenesis.json"), []byte(data), 0644))
}

func startService(t *testing.T, blocksDir, ledgersDir, dbDir string) *Service {
	t.Helper()
	store, err := kv.Open(dbDir)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	svc, err := NewService(context.Background(), &Config{
		BlocksDir:         blocksDir,
		StakingLedgersDir: ledgersDir,
		Store:             store,
	})
	require.NoError(t, err)
	svc.Start()
	t.Cleanup(func() { require.NoError(t, svc.Stop()) })
	return svc
}

func waitForHeight(t *testing.T, svc *Service, want model.BlockHeight) model.ChainTip {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		tip, err := svc.TipInfo(context.Background())
		require.NoError(t, err)
		if tip.BestHeight >= want {
			return tip
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("tip never reached height %d", want)
	return model.ChainTip{}
}

func TestIngestEndToEnd(t *testing.T) {
	fastParams(t)
	blocksDir, ledgersDir, dbDir := t.TempDir(), t.TempDir(), t.TempDir()

	writeGenesisLedger(t, ledgersDir)
	writeBlockFile(t, blocksDir, "hash-1", "", 1, 0, "v1")
	writeBlockFile(t, blocksDir, "hash-2", "hash-1", 2, 1, "v2")
	writeBlockFile(t, blocksDir, "hash-3", "hash-2", 3, 2, "v3")

	svc := startService(t, blocksDir, ledgersDir, dbDir)
	tip := waitForHeight(t, svc, 3)
	assert.Equal(t, model.StateHash("hash-3"), tip.BestStateHash)

	assert.Equal(t, model.Canonical, svc.store.Canonicity("hash-1"))
	assert.Equal(t, model.Canonical, svc.store.Canonicity("hash-3"))

	// Alice paid three times from her genesis balance.
	acc, err := svc.store.LookupAccount("B62q-alice", 3)
	require.NoError(t, err)
	assert.Equal(t, model.Amount(1000_000_000_000-3*1_010_000_000), acc.Balance)
	assert.Equal(t, model.Nonce(3), acc.Nonce)

	agg, err := svc.store.GetAggregate(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), agg.NumBlocks)
	assert.Equal(t, uint64(3), agg.NumUserCommands)
}

func TestIngestForkChoiceOrphansLosingBranch(t *testing.T) {
	fastParams(t)
	blocksDir, ledgersDir, dbDir := t.TempDir(), t.TempDir(), t.TempDir()

	writeGenesisLedger(t, ledgersDir)
	writeBlockFile(t, blocksDir, "hash-1", "", 1, 0, "v1")
	writeBlockFile(t, blocksDir, "hash-2a", "hash-1", 2, 1, "v2a")

	svc := startService(t, blocksDir, ledgersDir, dbDir)
	waitForHeight(t, svc, 2)

	// A longer competing fork arrives through the live watcher path.
	writeBlockFile(t, blocksDir, "hash-2b", "hash-1", 2, 1, "v2b")
	writeBlockFile(t, blocksDir, "hash-3b", "hash-2b", 3, 2, "v3b")

	tip := waitForHeight(t, svc, 3)
	assert.Equal(t, model.StateHash("hash-3b"), tip.BestStateHash)
	assert.Equal(t, model.Orphan, svc.store.Canonicity("hash-2a"))
	assert.Equal(t, model.Canonical, svc.store.Canonicity("hash-2b"))
}

func TestIngestIsIdempotentAcrossRestart(t *testing.T) {
	fastParams(t)
	blocksDir, ledgersDir, dbDir := t.TempDir(), t.TempDir(), t.TempDir()

	writeGenesisLedger(t, ledgersDir)
	for h := 1; h <= 4; h++ {
		parent := ""
		if h > 1 {
			parent = fmt.Sprintf("hash-%d", h-1)
		}
		writeBlockFile(t, blocksDir, fmt.Sprintf("hash-%d", h), parent, h, h-1, fmt.Sprintf("v%d", h))
	}

	svc := startService(t, blocksDir, ledgersDir, dbDir)
	waitForHeight(t, svc, 4)
	aggBefore, err := svc.store.GetAggregate(nil)
	require.NoError(t, err)
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.store.Close()) // release the bbolt file lock

	// Restart over the same database and drop zone; every file replays.
	store2, err := kv.Open(dbDir)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store2.Close()) })
	svc2, err := NewService(context.Background(), &Config{
		BlocksDir:         blocksDir,
		StakingLedgersDir: ledgersDir,
		Store:             store2,
	})
	require.NoError(t, err)
	svc2.Start()
	t.Cleanup(func() { require.NoError(t, svc2.Stop()) })
	waitForHeight(t, svc2, 4)
	time.Sleep(100 * time.Millisecond)

	aggAfter, err := store2.GetAggregate(nil)
	require.NoError(t, err)
	assert.Equal(t, aggBefore, aggAfter, "re-ingesting admitted files must not drift the aggregates")
}

func TestQuarantineLeavesServiceRunning(t *testing.T) {
	fastParams(t)
	blocksDir, ledgersDir, dbDir := t.TempDir(), t.TempDir(), t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(blocksDir, "testnet-1-garbled.json"), []byte("{nope"), 0644))
	writeGenesisLedger(t, ledgersDir)
	writeBlockFile(t, blocksDir, "hash-1", "", 1, 0, "v1")

	svc := startService(t, blocksDir, ledgersDir, dbDir)
	tip := waitForHeight(t, svc, 1)
	assert.Equal(t, model.StateHash("hash-1"), tip.BestStateHash)
}

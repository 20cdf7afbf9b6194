// Package params defines the tunable constants shared across the block-tree
// engine, ledger pipeline and ingestor as a single package-level config
// struct with an accessor and a test override hook.
package params

import "time"

// Config collects every numeric tunable of the indexer.
type Config struct {
	// MaxReorgDepth bounds how many canonical confirmations are required
	// before the root advances, and how deep a reorg may reach before it
	// is rejected as ReorgTooDeep.
	MaxReorgDepth uint32
	// EvictionSlack extends the height window below the root before an
	// orphan-pool entry is evicted.
	EvictionSlack uint32
	// SnapshotEvery is the canonical-height interval at which the ledger
	// pipeline pins an account snapshot for reorg replay.
	SnapshotEvery uint32
	// ReevaluateEvery is the number of admissions after which the ingestor
	// re-runs fork choice.
	ReevaluateEvery int
	// ReevaluateInterval is the wall-clock fallback for the same re-evaluation.
	ReevaluateInterval time.Duration
	// IngestQueueSize bounds the ingestor's admission queue; a full queue
	// backpressures the watcher rather than dropping files.
	IngestQueueSize int
	// StorageRetryBackoff and StorageRetryCap shape the exponential retry
	// on storage errors before escalation to fatal.
	StorageRetryBackoff time.Duration
	StorageRetryCap     time.Duration
	// SlotsPerEpoch derives Epoch from GlobalSlot when a precomputed block
	// omits its epoch_count field.
	SlotsPerEpoch uint32
	// QueryDeadline bounds each query task.
	QueryDeadline time.Duration
}

var defaultConfig = &Config{
	MaxReorgDepth:       290, // Mina mainnet's "k" parameter.
	EvictionSlack:       50,
	SnapshotEvery:       100,
	ReevaluateEvery:     50,
	ReevaluateInterval:  2 * time.Second,
	IngestQueueSize:     1024,
	StorageRetryBackoff: 100 * time.Millisecond,
	StorageRetryCap:     30 * time.Second,
	SlotsPerEpoch:       7140,
	QueryDeadline:       30 * time.Second,
}

// Current returns the active indexer configuration. There is a single,
// process-wide configuration.
func Current() *Config {
	return defaultConfig
}

// Override replaces the active configuration; used by tests and by the CLI
// to apply flag overrides before any service starts.
func Override(cfg *Config) {
	defaultConfig = cfg
}

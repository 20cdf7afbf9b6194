package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "indexer_blocks_admitted_total",
		Help: "The number of precomputed blocks admitted from the drop zone.",
	})
	stakingLedgersAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "indexer_staking_ledgers_admitted_total",
		Help: "The number of staking-ledger snapshots admitted from the drop zone.",
	})
	filesQuarantined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "indexer_files_quarantined_total",
		Help: "The number of drop-zone files skipped as unparseable.",
	})
	reorgsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "indexer_reorgs_total",
		Help: "The number of canonical-chain reorganizations applied.",
	})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indexer_ingest_queue_depth",
		Help: "The number of files waiting in the admission queue.",
	})
)

package kv

// Column families (bbolt top-level buckets), one []byte var per keyspace.
var (
	blockBodyBucket         = []byte("block-body")
	blockByHeightBucket     = []byte("block-by-height")
	blockBySlotBucket       = []byte("block-by-slot")
	blockByCreatorBucket    = []byte("block-by-creator")
	blockByCoinbaseBucket   = []byte("block-by-coinbase-receiver")
	canonicalByHeightBucket = []byte("canonical-by-height")
	canonicityTagBucket     = []byte("canonicity-tag")

	stakingLedgerBucket   = []byte("staking-ledger")
	accountAtHeightBucket = []byte("account-at-height")
	delegateIndexBucket   = []byte("delegate-index")

	aggregateBucket = []byte("aggregates")
	chainMetaBucket = []byte("chain-meta")

	migrationBucket = []byte("meta")
)

var allBuckets = [][]byte{
	blockBodyBucket,
	blockByHeightBucket,
	blockBySlotBucket,
	blockByCreatorBucket,
	blockByCoinbaseBucket,
	canonicalByHeightBucket,
	canonicityTagBucket,
	stakingLedgerBucket,
	accountAtHeightBucket,
	delegateIndexBucket,
	aggregateBucket,
	chainMetaBucket,
	migrationBucket,
}

// Well-known keys within chainMetaBucket / migrationBucket.
var (
	chainTipKey      = []byte("chain-tip")
	watcherCursorKey = []byte("watcher-cursor")
	schemaVersionKey = []byte("schema_version")
)

// schemaVersion is the single byte stored at meta/schema_version. A
// mismatch at startup is fatal.
const schemaVersion byte = 1

package kv

import (
	bolt "go.etcd.io/bbolt"

	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
)

// Snapshot pins a consistent read view of the store for the duration of a
// request, so multi-row reads never observe half of a concurrently
// committed batch. bbolt's MVCC read transactions provide the isolation;
// Snapshot gives callers a handle whose lifetime they control explicitly
// instead of a callback.
type Snapshot struct {
	tx *bolt.Tx
}

// Snapshot opens a new read-only transaction. The caller must call Close.
func (s *Store) Snapshot() (*Snapshot, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, errkind.Wrap(errkind.Storage, err, "begin snapshot")
	}
	return &Snapshot{tx: tx}, nil
}

// Close releases the underlying read transaction.
func (snap *Snapshot) Close() error {
	return snap.tx.Rollback()
}

// ChainTip reads the pinned view's ChainTip, zero-valued when none has
// been committed yet.
func (snap *Snapshot) ChainTip() (model.ChainTip, error) {
	var tip model.ChainTip
	enc := snap.tx.Bucket(chainMetaBucket).Get(chainTipKey)
	if enc == nil {
		return tip, nil
	}
	if err := decode(enc, &tip); err != nil {
		return model.ChainTip{}, errkind.Wrap(errkind.Storage, err, "snapshot chain tip")
	}
	return tip, nil
}

// Aggregate reads the pinned view's counters for epoch (nil for global),
// zero-valued if never written.
func (snap *Snapshot) Aggregate(epoch *model.Epoch) (model.Aggregate, error) {
	var agg model.Aggregate
	enc := snap.tx.Bucket(aggregateBucket).Get(aggregateKey(epoch, "counters"))
	if enc == nil {
		return agg, nil
	}
	if err := decode(enc, &agg); err != nil {
		return model.Aggregate{}, errkind.Wrap(errkind.Storage, err, "snapshot aggregate")
	}
	return agg, nil
}

// Block reads a block body from the pinned view, or NotFound.
func (snap *Snapshot) Block(hash model.StateHash) (*model.Block, error) {
	enc := snap.tx.Bucket(blockBodyBucket).Get([]byte(hash))
	if enc == nil {
		return nil, errkind.New(errkind.NotFound, "block not found")
	}
	block := &model.Block{}
	if err := decode(enc, block); err != nil {
		return nil, errkind.Wrap(errkind.Storage, err, "snapshot block")
	}
	return block, nil
}

package kv

import (
	bolt "go.etcd.io/bbolt"

	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
)

// GetChainTip returns the last-committed ChainTip, or the zero value if
// none has been written yet (a fresh database).
func (s *Store) GetChainTip() (model.ChainTip, error) {
	var tip model.ChainTip
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(chainMetaBucket).Get(chainTipKey)
		if enc == nil {
			return nil
		}
		return decode(enc, &tip)
	})
	if err != nil {
		return model.ChainTip{}, errkind.Wrap(errkind.Storage, err, "get chain tip")
	}
	return tip, nil
}

// PutChainTip overwrites the persisted ChainTip; used when the root
// advances between deltas.
func (s *Store) PutChainTip(tip model.ChainTip) error {
	enc, err := encode(tip)
	if err != nil {
		return errkind.Wrap(errkind.Storage, err, "encode chain tip")
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(chainMetaBucket).Put(chainTipKey, enc)
	})
	if err != nil {
		return errkind.Wrap(errkind.Storage, err, "put chain tip")
	}
	return nil
}

// GetWatcherCursor returns the last filename the ingestor admitted, or ""
// for a fresh database — the resumption point after a crash.
func (s *Store) GetWatcherCursor() (string, error) {
	var cursor string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(chainMetaBucket).Get(watcherCursorKey)
		if v != nil {
			cursor = string(v)
		}
		return nil
	})
	if err != nil {
		return "", errkind.Wrap(errkind.Storage, err, "get watcher cursor")
	}
	return cursor, nil
}

// DeltaWrite is everything the ledger pipeline produces for one reorg
// delta: canonicity flips, account-at-height rows, aggregate counters, the
// new ChainTip, and the watcher cursor.
type DeltaWrite struct {
	SetCanonical    []model.StateHash
	SetOrphan       []model.StateHash
	Accounts        []AccountWrite
	DeleteAccounts  []AccountDelete
	DelegateUpdates []DelegateUpdate
	GlobalAggregate *model.Aggregate
	EpochAggregates map[model.Epoch]model.Aggregate
	NewTip          model.ChainTip
	WatcherCursor   string
}

// AccountWrite is one account-at-height row to be written as part of a delta.
type AccountWrite struct {
	Height  model.BlockHeight
	Account model.Account
}

// AccountDelete removes an account-at-height row invalidated by a reorg's
// unapply side, so reverse lookups never land on an orphaned fork's state.
type AccountDelete struct {
	PublicKey model.PublicKey
	Height    model.BlockHeight
}

// DelegateUpdate moves a delegator's row in the reverse delegate index
// from its old delegate to its new one; an empty side is skipped.
type DelegateUpdate struct {
	Delegator model.PublicKey
	Old       model.PublicKey
	New       model.PublicKey
}

// ApplyDelta commits a DeltaWrite in a single transaction, so readers see
// either the pre- or post-reorg state, never a mixture.
func (s *Store) ApplyDelta(d DeltaWrite) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		canonTag := tx.Bucket(canonicityTagBucket)
		canonByHeight := tx.Bucket(canonicalByHeightBucket)
		bodies := tx.Bucket(blockBodyBucket)

		flip := func(hash model.StateHash, tag model.Canonicity) error {
			enc := bodies.Get([]byte(hash))
			if enc == nil {
				return errkind.New(errkind.CorruptLineage, "delta references unstored block "+string(hash))
			}
			block := &model.Block{}
			if err := decode(enc, block); err != nil {
				return err
			}
			if err := canonTag.Put([]byte(hash), []byte(tag)); err != nil {
				return err
			}
			key := heightKey(block.Height, hash)
			if tag == model.Canonical {
				return canonByHeight.Put(key, nil)
			}
			return canonByHeight.Delete(key)
		}

		for _, h := range d.SetOrphan {
			if err := flip(h, model.Orphan); err != nil {
				return err
			}
		}
		for _, h := range d.SetCanonical {
			if err := flip(h, model.Canonical); err != nil {
				return err
			}
		}

		accBkt := tx.Bucket(accountAtHeightBucket)
		for _, del := range d.DeleteAccounts {
			if err := accBkt.Delete(accountAtHeightKey(del.PublicKey, del.Height)); err != nil {
				return err
			}
		}
		for _, aw := range d.Accounts {
			enc, err := encode(aw.Account)
			if err != nil {
				return err
			}
			if err := accBkt.Put(accountAtHeightKey(aw.Account.PublicKey, aw.Height), enc); err != nil {
				return err
			}
		}

		delegateBkt := tx.Bucket(delegateIndexBucket)
		for _, du := range d.DelegateUpdates {
			if du.Old != "" {
				if err := delegateBkt.Delete(delegateIndexKey(du.Old, du.Delegator)); err != nil {
					return err
				}
			}
			if du.New != "" {
				if err := delegateBkt.Put(delegateIndexKey(du.New, du.Delegator), []byte(du.Delegator)); err != nil {
					return err
				}
			}
		}

		aggBkt := tx.Bucket(aggregateBucket)
		if d.GlobalAggregate != nil {
			enc, err := encode(*d.GlobalAggregate)
			if err != nil {
				return err
			}
			if err := aggBkt.Put(aggregateKey(nil, "counters"), enc); err != nil {
				return err
			}
		}
		for epoch, agg := range d.EpochAggregates {
			e := epoch
			enc, err := encode(agg)
			if err != nil {
				return err
			}
			if err := aggBkt.Put(aggregateKey(&e, "counters"), enc); err != nil {
				return err
			}
		}

		metaBkt := tx.Bucket(chainMetaBucket)
		tipEnc, err := encode(d.NewTip)
		if err != nil {
			return err
		}
		if err := metaBkt.Put(chainTipKey, tipEnc); err != nil {
			return err
		}
		if d.WatcherCursor != "" {
			if err := metaBkt.Put(watcherCursorKey, []byte(d.WatcherCursor)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errkind.Wrap(errkind.Storage, err, "apply delta")
	}
	return nil
}

package kv

import (
	"bytes"

	bolt "go.etcd.io/bbolt"

	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
)

// PutBlock writes the block body plus every secondary index in one batch,
// initially tagged Pending. It is idempotent: re-ingesting an
// already-present state_hash is a no-op and reports alreadyPresent=true.
func (s *Store) PutBlock(block *model.Block) (alreadyPresent bool, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		body := tx.Bucket(blockBodyBucket)
		if body.Get([]byte(block.StateHash)) != nil {
			alreadyPresent = true
			return nil
		}

		enc, encErr := encode(block)
		if encErr != nil {
			return encErr
		}
		if putErr := body.Put([]byte(block.StateHash), enc); putErr != nil {
			return putErr
		}

		if putErr := tx.Bucket(blockByHeightBucket).Put(heightKey(block.Height, block.StateHash), nil); putErr != nil {
			return putErr
		}
		if putErr := tx.Bucket(blockBySlotBucket).Put(slotKey(block.Slot, block.StateHash), nil); putErr != nil {
			return putErr
		}
		if putErr := tx.Bucket(blockByCreatorBucket).Put(pkPrefixKey(block.Creator, block.Height, block.StateHash), nil); putErr != nil {
			return putErr
		}
		if putErr := tx.Bucket(blockByCoinbaseBucket).Put(pkPrefixKey(block.CoinbaseReceiver, block.Height, block.StateHash), nil); putErr != nil {
			return putErr
		}
		return tx.Bucket(canonicityTagBucket).Put([]byte(block.StateHash), []byte(model.Pending))
	})
	if err != nil {
		return false, errkind.Wrap(errkind.Storage, err, "put block")
	}
	return alreadyPresent, nil
}

// PutBlockWithCursor writes a block exactly as PutBlock does, but commits
// the watcher cursor update in the same transaction, so a crash can never
// separate an admitted block from its resumption point.
func (s *Store) PutBlockWithCursor(block *model.Block, cursor string) (alreadyPresent bool, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		body := tx.Bucket(blockBodyBucket)
		if body.Get([]byte(block.StateHash)) == nil {
			enc, encErr := encode(block)
			if encErr != nil {
				return encErr
			}
			if putErr := body.Put([]byte(block.StateHash), enc); putErr != nil {
				return putErr
			}
			if putErr := tx.Bucket(blockByHeightBucket).Put(heightKey(block.Height, block.StateHash), nil); putErr != nil {
				return putErr
			}
			if putErr := tx.Bucket(blockBySlotBucket).Put(slotKey(block.Slot, block.StateHash), nil); putErr != nil {
				return putErr
			}
			if putErr := tx.Bucket(blockByCreatorBucket).Put(pkPrefixKey(block.Creator, block.Height, block.StateHash), nil); putErr != nil {
				return putErr
			}
			if putErr := tx.Bucket(blockByCoinbaseBucket).Put(pkPrefixKey(block.CoinbaseReceiver, block.Height, block.StateHash), nil); putErr != nil {
				return putErr
			}
			if putErr := tx.Bucket(canonicityTagBucket).Put([]byte(block.StateHash), []byte(model.Pending)); putErr != nil {
				return putErr
			}
		} else {
			alreadyPresent = true
		}
		return tx.Bucket(chainMetaBucket).Put(watcherCursorKey, []byte(cursor))
	})
	if err != nil {
		return false, errkind.Wrap(errkind.Storage, err, "put block with cursor")
	}
	return alreadyPresent, nil
}

// GetBlock retrieves a block by its state hash through the read-through
// ristretto cache.
func (s *Store) GetBlock(hash model.StateHash) (*model.Block, error) {
	if cached, ok := s.blockCache.Get(blockCacheKey(hash)); ok {
		b := cached.(model.Block)
		return &b, nil
	}
	var block *model.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(blockBodyBucket).Get([]byte(hash))
		if enc == nil {
			return nil
		}
		block = &model.Block{}
		return decode(enc, block)
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Storage, err, "get block")
	}
	if block == nil {
		return nil, errkind.New(errkind.NotFound, "block not found")
	}
	s.blockCache.Set(blockCacheKey(hash), *block, int64(len(block.ProtocolStateBlob)+256))
	return block, nil
}

// HasBlock reports whether a block by state hash exists.
func (s *Store) HasBlock(hash model.StateHash) bool {
	var exists bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(blockBodyBucket).Get([]byte(hash)) != nil
		return nil
	})
	return exists
}

// Canonicity returns the stored tag for a block, or "" if unknown.
func (s *Store) Canonicity(hash model.StateHash) model.Canonicity {
	var tag model.Canonicity
	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(canonicityTagBucket).Get([]byte(hash))
		if v != nil {
			tag = model.Canonicity(v)
		}
		return nil
	})
	return tag
}

// SetCanonicity flips the canonicity tag for a block and maintains the
// canonical-by-height index so height-ordered canonical scans need no
// filter. Idempotent.
func (s *Store) SetCanonicity(hash model.StateHash, tag model.Canonicity) error {
	block, err := s.GetBlock(hash)
	if err != nil {
		return err
	}
	s.blockCache.Del(blockCacheKey(hash))
	err = s.db.Update(func(tx *bolt.Tx) error {
		if putErr := tx.Bucket(canonicityTagBucket).Put([]byte(hash), []byte(tag)); putErr != nil {
			return putErr
		}
		canonBkt := tx.Bucket(canonicalByHeightBucket)
		key := heightKey(block.Height, hash)
		if tag == model.Canonical {
			return canonBkt.Put(key, nil)
		}
		return canonBkt.Delete(key)
	})
	if err != nil {
		return errkind.Wrap(errkind.Storage, err, "set canonicity")
	}
	return nil
}

// blockVisitor is called once per matching block during an iteration; it
// returns keepGoing=false to stop early.
type blockVisitor func(block *model.Block) (keepGoing bool, err error)

// IterByHeight walks the by-height index over [lowHeight, highHeight]
// (inclusive; highHeight=0 means unbounded) in the given direction.
func (s *Store) IterByHeight(lowHeight, highHeight model.BlockHeight, forward bool, visit blockVisitor) error {
	return s.iterIndex(blockByHeightBucket, 4, heightPrefix(lowHeight), func() []byte {
		if highHeight == 0 {
			return nil
		}
		return heightPrefix(highHeight)
	}(), forward, visit)
}

// IterCanonicalByHeight walks only canonical blocks by height, needing no
// filter pass because SetCanonicity keeps this index in sync.
func (s *Store) IterCanonicalByHeight(lowHeight, highHeight model.BlockHeight, forward bool, visit blockVisitor) error {
	return s.iterIndex(canonicalByHeightBucket, 4, heightPrefix(lowHeight), func() []byte {
		if highHeight == 0 {
			return nil
		}
		return heightPrefix(highHeight)
	}(), forward, visit)
}

// IterBySlot walks the by-slot index over [lowSlot, highSlot].
func (s *Store) IterBySlot(lowSlot, highSlot model.GlobalSlot, forward bool, visit blockVisitor) error {
	return s.iterIndex(blockBySlotBucket, 4, slotPrefix(lowSlot), func() []byte {
		if highSlot == 0 {
			return nil
		}
		return slotPrefix(highSlot)
	}(), forward, visit)
}

// IterByCreator walks blocks created by pk with height in
// [lowHeight, highHeight] (highHeight=0 means unbounded), ordered by height.
func (s *Store) IterByCreator(pk model.PublicKey, lowHeight, highHeight model.BlockHeight, forward bool, visit blockVisitor) error {
	return s.iterPrefixIndex(blockByCreatorBucket, pkPrefix(pk), lowHeight, highHeight, forward, visit)
}

// IterByCoinbaseReceiver walks blocks whose coinbase credited pk with height
// in [lowHeight, highHeight] (highHeight=0 means unbounded), ordered by height.
func (s *Store) IterByCoinbaseReceiver(pk model.PublicKey, lowHeight, highHeight model.BlockHeight, forward bool, visit blockVisitor) error {
	return s.iterPrefixIndex(blockByCoinbaseBucket, pkPrefix(pk), lowHeight, highHeight, forward, visit)
}

// iterIndex walks an index bucket whose keys are a fixed-width prefix
// followed by a state hash, from low (inclusive) to high (inclusive,
// nil=unbounded), loading the referenced block body for each key.
func (s *Store) iterIndex(bucket []byte, prefixLen int, low, high []byte, forward bool, visit blockVisitor) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucket).Cursor()
		bodies := tx.Bucket(blockBodyBucket)
		var k []byte
		if forward {
			k, _ = cur.Seek(low)
		} else if high != nil {
			k, _ = seekLastLE(cur, high)
		} else {
			k, _ = cur.Last()
		}
		for k != nil {
			if forward && high != nil && bytes.Compare(k[:prefixLen], high) > 0 {
				break
			}
			if !forward && bytes.Compare(k[:prefixLen], low) < 0 {
				break
			}
			hash := stateHashFromKey(k, prefixLen)
			enc := bodies.Get([]byte(hash))
			if enc != nil {
				block := &model.Block{}
				if err := decode(enc, block); err != nil {
					return err
				}
				keepGoing, err := visit(block)
				if err != nil {
					return err
				}
				if !keepGoing {
					break
				}
			}
			if forward {
				k, _ = cur.Next()
			} else {
				k, _ = cur.Prev()
			}
		}
		return nil
	})
	if err != nil {
		return errkind.Wrap(errkind.Storage, err, "iterate index")
	}
	return nil
}

// iterPrefixIndex walks an index bucket keyed pk_bytes||height||hash,
// restricted to the given pk prefix and, within it, to [lowHeight,
// highHeight].
func (s *Store) iterPrefixIndex(bucket []byte, prefix []byte, lowHeight, highHeight model.BlockHeight, forward bool, visit blockVisitor) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucket).Cursor()
		bodies := tx.Bucket(blockBodyBucket)
		var k []byte
		if forward {
			k, _ = cur.Seek(prefix)
		} else {
			k, _ = seekLastWithPrefix(cur, prefix)
		}
		for k != nil && bytes.HasPrefix(k, prefix) {
			height := heightFromPkKey(k)
			inRange := height >= lowHeight && (highHeight == 0 || height <= highHeight)
			if inRange {
				hash := stateHashFromKey(k, pkKeyLen+4)
				enc := bodies.Get([]byte(hash))
				if enc != nil {
					block := &model.Block{}
					if err := decode(enc, block); err != nil {
						return err
					}
					keepGoing, err := visit(block)
					if err != nil {
						return err
					}
					if !keepGoing {
						break
					}
				}
			}
			if forward {
				k, _ = cur.Next()
			} else {
				k, _ = cur.Prev()
			}
		}
		return nil
	})
	if err != nil {
		return errkind.Wrap(errkind.Storage, err, "iterate prefix index")
	}
	return nil
}

// seekLastLE positions the cursor at the last key <= the fixed-width upper
// bound prefix, returning its full key/value (bbolt has no native
// seek-floor, so this seeks one past the bound and steps back).
func seekLastLE(cur *bolt.Cursor, upperPrefix []byte) ([]byte, []byte) {
	// Keys sharing the prefix sort before any key with a strictly greater
	// prefix, so seek to the successor prefix and step back one.
	successor := make([]byte, len(upperPrefix))
	copy(successor, upperPrefix)
	for i := len(successor) - 1; i >= 0; i-- {
		if successor[i] < 0xff {
			successor[i]++
			successor = successor[:i+1]
			k, _ := cur.Seek(successor)
			if k == nil {
				return cur.Last()
			}
			return cur.Prev()
		}
	}
	return cur.Last()
}

// seekLastWithPrefix positions the cursor at the last key sharing prefix.
func seekLastWithPrefix(cur *bolt.Cursor, prefix []byte) ([]byte, []byte) {
	k, v := seekLastLE(cur, prefix)
	if k != nil && bytes.HasPrefix(k, prefix) {
		return k, v
	}
	// Fall back to a linear scan from the prefix start; the index is small
	// enough per-key that this only triggers when the optimistic seek above
	// landed outside the prefix's range (e.g. prefix is the maximum key).
	k, v = cur.Seek(prefix)
	var lastK, lastV []byte
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
		lastK, lastV = k, v
	}
	return lastK, lastV
}

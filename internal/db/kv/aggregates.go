package kv

import (
	bolt "go.etcd.io/bbolt"

	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
)

// GetAggregate returns the counters for epoch (nil for the global counters),
// zero-valued if never written.
func (s *Store) GetAggregate(epoch *model.Epoch) (model.Aggregate, error) {
	var agg model.Aggregate
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(aggregateBucket).Get(aggregateKey(epoch, "counters"))
		if enc == nil {
			return nil
		}
		return decode(enc, &agg)
	})
	if err != nil {
		return model.Aggregate{}, errkind.Wrap(errkind.Storage, err, "get aggregate")
	}
	return agg, nil
}

// PutAggregate overwrites the counters for epoch (nil for the global counters).
func (s *Store) PutAggregate(epoch *model.Epoch, agg model.Aggregate) error {
	enc, err := encode(agg)
	if err != nil {
		return errkind.Wrap(errkind.Storage, err, "encode aggregate")
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(aggregateBucket).Put(aggregateKey(epoch, "counters"), enc)
	})
	if err != nil {
		return errkind.Wrap(errkind.Storage, err, "put aggregate")
	}
	return nil
}

package kv

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
)

// stakingLedgerKey encodes an immutable snapshot's (epoch, ledger_hash)
// key; decimal-padded epochs keep the bucket ordered oldest-first.
func stakingLedgerKey(epoch model.Epoch, ledgerHash string) []byte {
	return []byte(fmt.Sprintf("%010d:%s", epoch, ledgerHash))
}

// PutStakingLedger stores an immutable staking-ledger snapshot. Re-storing
// the same (epoch, ledger_hash) is a no-op.
func (s *Store) PutStakingLedger(ledger *model.StakingLedger) error {
	key := stakingLedgerKey(ledger.Epoch, ledger.LedgerHash)
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(stakingLedgerBucket)
		if bkt.Get(key) != nil {
			return nil
		}
		enc, err := encode(ledger)
		if err != nil {
			return err
		}
		return bkt.Put(key, enc)
	})
	if err != nil {
		return errkind.Wrap(errkind.Storage, err, "put staking ledger")
	}
	return nil
}

// EarliestStakingLedger returns the lowest-epoch snapshot on record — the
// genesis ledger once it has been ingested — or NotFound on a fresh
// database. Used to seed the ledger pipeline's account baseline.
func (s *Store) EarliestStakingLedger() (*model.StakingLedger, error) {
	var ledger *model.StakingLedger
	err := s.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(stakingLedgerBucket).Cursor().First()
		if v == nil {
			return nil
		}
		ledger = &model.StakingLedger{}
		return decode(v, ledger)
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Storage, err, "earliest staking ledger")
	}
	if ledger == nil {
		return nil, errkind.New(errkind.NotFound, "no staking ledger stored")
	}
	return ledger, nil
}

// GetStakingLedger retrieves an immutable snapshot by (epoch, ledger_hash).
func (s *Store) GetStakingLedger(epoch model.Epoch, ledgerHash string) (*model.StakingLedger, error) {
	key := stakingLedgerKey(epoch, ledgerHash)
	var ledger *model.StakingLedger
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(stakingLedgerBucket).Get(key)
		if enc == nil {
			return nil
		}
		ledger = &model.StakingLedger{}
		return decode(enc, ledger)
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Storage, err, "get staking ledger")
	}
	if ledger == nil {
		return nil, errkind.New(errkind.NotFound, "staking ledger not found")
	}
	return ledger, nil
}

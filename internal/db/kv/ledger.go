package kv

import (
	bolt "go.etcd.io/bbolt"

	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
)

// PutAccountAtHeight records pk's account state as of height; last write
// wins within a height.
func (s *Store) PutAccountAtHeight(height model.BlockHeight, account *model.Account) error {
	enc, err := encode(account)
	if err != nil {
		return errkind.Wrap(errkind.Storage, err, "encode account")
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(accountAtHeightBucket).Put(accountAtHeightKey(account.PublicKey, height), enc)
	})
	if err != nil {
		return errkind.Wrap(errkind.Storage, err, "put account at height")
	}
	return nil
}

// LookupAccount returns the most recent account snapshot at or before
// atHeight, via a reverse range scan on the account-at-height column
// family.
func (s *Store) LookupAccount(pk model.PublicKey, atHeight model.BlockHeight) (*model.Account, error) {
	prefix := accountPrefix(pk)
	upper := accountAtHeightKey(pk, atHeight)
	var account *model.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(accountAtHeightBucket).Cursor()
		k, v := seekLastLE(cur, upper)
		if k == nil || !hasPrefix(k, prefix) {
			return nil
		}
		account = &model.Account{}
		return decode(v, account)
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Storage, err, "lookup account")
	}
	if account == nil {
		return nil, errkind.New(errkind.NotFound, "account not found at or before height")
	}
	return account, nil
}

// DeleteAccountAtHeight removes a single version row in its own
// transaction. The ledger pipeline does not call it: its unapply path
// deletes rows through DeltaWrite.DeleteAccounts inside ApplyDelta.
func (s *Store) DeleteAccountAtHeight(pk model.PublicKey, height model.BlockHeight) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(accountAtHeightBucket).Delete(accountAtHeightKey(pk, height))
	})
	if err != nil {
		return errkind.Wrap(errkind.Storage, err, "delete account at height")
	}
	return nil
}

// DelegatorsOf lists the accounts currently delegating to delegate, from
// the reverse delegate index maintained by ApplyDelta and seeded from the
// genesis ledger.
func (s *Store) DelegatorsOf(delegate model.PublicKey) ([]model.PublicKey, error) {
	prefix := pkBytes(delegate)
	var delegators []model.PublicKey
	err := s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(delegateIndexBucket).Cursor()
		for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
			delegators = append(delegators, model.PublicKey(v))
		}
		return nil
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Storage, err, "delegators of")
	}
	return delegators, nil
}

// SeedGenesisLedger writes a genesis ledger's accounts as height-0 rows
// and its delegate pairs into the reverse delegate index, in one
// transaction; called once, before any block has been applied.
func (s *Store) SeedGenesisLedger(entries map[model.PublicKey]model.StakingLedgerEntry) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		accBkt := tx.Bucket(accountAtHeightBucket)
		delegateBkt := tx.Bucket(delegateIndexBucket)
		for pk, e := range entries {
			acc := model.Account{
				PublicKey:     pk,
				Balance:       e.Balance,
				Delegate:      e.Delegate,
				TotalReceived: e.Balance,
			}
			enc, err := encode(acc)
			if err != nil {
				return err
			}
			if err := accBkt.Put(accountAtHeightKey(pk, 0), enc); err != nil {
				return err
			}
			if e.Delegate == "" {
				continue
			}
			if err := delegateBkt.Put(delegateIndexKey(e.Delegate, pk), []byte(pk)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errkind.Wrap(errkind.Storage, err, "seed genesis ledger")
	}
	return nil
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

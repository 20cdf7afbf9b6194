// Package kv is the typed store facade over an embedded, ordered key-value
// engine: column families, composite key encoding, block and ledger
// persistence, secondary indexes. One Store type, one file per entity.
package kv

import (
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/ristretto"
	bolt "go.etcd.io/bbolt"

	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
)

const databaseFileName = "indexer.db"

// BlockCacheSize bounds the read-through cache cost: roughly 1000 recently
// read blocks kept hot.
var BlockCacheSize = int64(1 << 21)

// Store is the embedded KV facade, backed by a single bbolt database file.
type Store struct {
	db           *bolt.DB
	databasePath string
	blockCache   *ristretto.Cache
}

// Open creates (or reuses) a bbolt database at dirPath, creates every
// column family named in schema.go, verifies the schema version, and
// returns a ready Store.
func Open(dirPath string) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, errkind.Wrap(errkind.Storage, err, "create database directory")
	}
	datafile := filepath.Join(dirPath, databaseFileName)
	boltDB, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if err == bolt.ErrTimeout {
			return nil, errkind.New(errkind.Storage, "cannot obtain database lock, database may be in use by another process")
		}
		return nil, errkind.Wrap(errkind.Storage, err, "open database")
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     BlockCacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Storage, err, "create block cache")
	}

	store := &Store{db: boltDB, databasePath: dirPath, blockCache: cache}

	if err := store.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, errkind.Wrap(errkind.Storage, err, "create column families")
	}

	if err := store.checkSchemaVersion(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *Store) checkSchemaVersion() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(migrationBucket)
		stored := bkt.Get(schemaVersionKey)
		if stored == nil {
			return bkt.Put(schemaVersionKey, []byte{schemaVersion})
		}
		if len(stored) != 1 || stored[0] != schemaVersion {
			return errkind.New(errkind.Schema, "schema_version mismatch: database was created by an incompatible indexer version")
		}
		return nil
	})
}

// Close flushes and closes the underlying bbolt database.
func (s *Store) Close() error {
	s.blockCache.Close()
	if err := s.db.Close(); err != nil {
		return errkind.Wrap(errkind.Storage, err, "close database")
	}
	return nil
}

// DatabasePath returns the directory this store writes files under.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

// blockCacheKey namespaces ristretto keys by state hash.
func blockCacheKey(hash model.StateHash) string {
	return "block:" + string(hash)
}

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/airbyte-operator/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// OpenTimeout bounds the wait for the database file lock
const OpenTimeout = 2 * time.Second

// DBFile is the name of the database file inside the data directory
const DBFile = "operator.db"

var (
	// Bucket names
	bucketFacts   = []byte("facts")
	bucketApplied = []byte("applied")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DBFile)

	// another operator holding the file lock fails the open instead of hanging
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketFacts, bucketApplied} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Backup writes a consistent copy of the database to path
func (s *BoltStore) Backup(path string) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(path, 0600)
	})
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Fact operations
func (s *BoltStore) SaveFact(fact types.Fact) error {
	return s.put(bucketFacts, string(fact.Kind), fact)
}

func (s *BoltStore) DeleteFact(kind types.FactKind) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFacts).Delete([]byte(kind))
	})
}

func (s *BoltStore) ListFacts() ([]types.Fact, error) {
	var facts []types.Fact
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFacts).ForEach(func(k, v []byte) error {
			var fact types.Fact
			if err := json.Unmarshal(v, &fact); err != nil {
				return fmt.Errorf("failed to decode fact %s: %w", k, err)
			}
			facts = append(facts, fact)
			return nil
		})
	})
	return facts, err
}

// Applied state operations
func (s *BoltStore) SaveApplied(process string, state *types.AppliedState) error {
	return s.put(bucketApplied, process, state)
}

func (s *BoltStore) GetApplied(process string) (*types.AppliedState, error) {
	var state types.AppliedState
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketApplied).Get([]byte(process))
		if data == nil {
			return fmt.Errorf("applied state for %s: %w", process, ErrNotFound)
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) ListApplied() (map[string]*types.AppliedState, error) {
	states := make(map[string]*types.AppliedState)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketApplied).ForEach(func(k, v []byte) error {
			var state types.AppliedState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("failed to decode applied state %s: %w", k, err)
			}
			states[string(k)] = &state
			return nil
		})
	})
	return states, err
}

func (s *BoltStore) DeleteApplied(process string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketApplied).Delete([]byte(process))
	})
}

func (s *BoltStore) put(bucket []byte, key string, value any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

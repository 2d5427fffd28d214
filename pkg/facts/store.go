package facts

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/airbyte-operator/pkg/config"
	"github.com/cuemby/airbyte-operator/pkg/storage"
	"github.com/cuemby/airbyte-operator/pkg/types"
)

// ErrInvalidFact is returned when a fact's payload does not match its kind
var ErrInvalidFact = errors.New("invalid fact")

// Snapshot is the immutable input to one reconciliation attempt. It is built
// fresh from copies, so later Set calls never reach into it.
type Snapshot struct {
	PeerReady   bool
	Database    *types.DatabaseConnection
	ObjectStore *types.ObjectStoreConnection
	Config      *config.Config
}

// StorageType returns the configured object-storage provider
func (s Snapshot) StorageType() types.StorageType {
	if s.Config == nil {
		return ""
	}
	return s.Config.StorageType
}

// Store holds the last known value of every fact. Every write is persisted
// before it becomes visible, and every read copies under the lock.
type Store struct {
	mu      sync.RWMutex
	peer    bool
	db      *types.DatabaseConnection
	objects map[types.StorageType]*types.ObjectStoreConnection
	persist storage.Store
}

// Open creates a fact store and loads previously persisted facts
func Open(persist storage.Store) (*Store, error) {
	s := &Store{
		objects: make(map[types.StorageType]*types.ObjectStoreConnection),
		persist: persist,
	}

	saved, err := persist.ListFacts()
	if err != nil {
		return nil, fmt.Errorf("failed to load facts: %w", err)
	}
	for _, fact := range saved {
		if err := checkFact(fact); err != nil {
			return nil, fmt.Errorf("failed to load facts: %w", err)
		}
		s.apply(fact.Clone())
	}

	return s, nil
}

// Set replaces the fact of the given kind as a whole
func (s *Store) Set(fact types.Fact) error {
	if err := checkFact(fact); err != nil {
		return err
	}
	fact = fact.Clone()
	if fact.ObjectStore != nil {
		fact.ObjectStore.Kind = storageTypeFor(fact.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist.SaveFact(fact); err != nil {
		return fmt.Errorf("failed to persist %s fact: %w", fact.Kind, err)
	}
	s.apply(fact)
	return nil
}

// Clear removes the fact of the given kind
func (s *Store) Clear(kind types.FactKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidFact, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist.DeleteFact(kind); err != nil {
		return fmt.Errorf("failed to clear %s fact: %w", kind, err)
	}

	switch kind {
	case types.FactPeer:
		s.peer = false
	case types.FactDatabase:
		s.db = nil
	case types.FactMinio, types.FactS3:
		delete(s.objects, storageTypeFor(kind))
	}
	return nil
}

// Snapshot returns a consistent point-in-time view for one reconciliation.
// Only the connection of the configured storage type is included.
func (s *Store) Snapshot(cfg *config.Config) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{PeerReady: s.peer}
	if s.db != nil {
		db := *s.db
		snap.Database = &db
	}
	if cfg != nil {
		snap.Config = cfg.Clone()
		if conn, ok := s.objects[cfg.StorageType]; ok {
			c := *conn
			snap.ObjectStore = &c
		}
	}
	return snap
}

// Facts returns a copy of every known fact, including connections for the
// storage type that is not currently configured
func (s *Store) Facts() types.Facts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := types.Facts{
		PeerReady:    s.peer,
		ObjectStores: make(map[types.StorageType]*types.ObjectStoreConnection, len(s.objects)),
	}
	if s.db != nil {
		db := *s.db
		out.Database = &db
	}
	for kind, conn := range s.objects {
		c := *conn
		out.ObjectStores[kind] = &c
	}
	return out
}

// apply must be called with mu held for writing
func (s *Store) apply(fact types.Fact) {
	switch fact.Kind {
	case types.FactPeer:
		s.peer = fact.PeerReady
	case types.FactDatabase:
		s.db = fact.Database
	case types.FactMinio, types.FactS3:
		s.objects[storageTypeFor(fact.Kind)] = fact.ObjectStore
	}
}

func checkFact(fact types.Fact) error {
	switch fact.Kind {
	case types.FactPeer:
		if fact.Database != nil || fact.ObjectStore != nil {
			return fmt.Errorf("%w: peer fact carries a connection", ErrInvalidFact)
		}
	case types.FactDatabase:
		if fact.Database == nil {
			return fmt.Errorf("%w: database fact without connection", ErrInvalidFact)
		}
	case types.FactMinio, types.FactS3:
		if fact.ObjectStore == nil {
			return fmt.Errorf("%w: %s fact without connection", ErrInvalidFact, fact.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidFact, fact.Kind)
	}
	return nil
}

func storageTypeFor(kind types.FactKind) types.StorageType {
	switch kind {
	case types.FactMinio:
		return types.StorageMinio
	case types.FactS3:
		return types.StorageS3
	}
	return ""
}

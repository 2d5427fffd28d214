package storage

import (
	"fmt"
	"sync"

	"github.com/cuemby/airbyte-operator/pkg/types"
)

// MemoryStore is a Store that keeps everything in process memory. It backs
// dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	facts   map[types.FactKind]types.Fact
	applied map[string]*types.AppliedState
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		facts:   make(map[types.FactKind]types.Fact),
		applied: make(map[string]*types.AppliedState),
	}
}

func (s *MemoryStore) SaveFact(fact types.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[fact.Kind] = fact.Clone()
	return nil
}

func (s *MemoryStore) DeleteFact(kind types.FactKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.facts, kind)
	return nil
}

func (s *MemoryStore) ListFacts() ([]types.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Fact
	for _, kind := range types.FactKinds {
		if f, ok := s.facts[kind]; ok {
			out = append(out, f.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveApplied(process string, state *types.AppliedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied[process] = cloneApplied(state)
	return nil
}

func (s *MemoryStore) GetApplied(process string) (*types.AppliedState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.applied[process]
	if !ok {
		return nil, fmt.Errorf("applied state for %s: %w", process, ErrNotFound)
	}
	return cloneApplied(state), nil
}

func (s *MemoryStore) ListApplied() (map[string]*types.AppliedState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*types.AppliedState, len(s.applied))
	for name, state := range s.applied {
		out[name] = cloneApplied(state)
	}
	return out, nil
}

func (s *MemoryStore) DeleteApplied(process string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.applied, process)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneApplied(state *types.AppliedState) *types.AppliedState {
	out := *state
	out.Plan = state.Plan.Clone()
	return &out
}

package security

import (
	"fmt"

	"github.com/cuemby/airbyte-operator/pkg/storage"
	"github.com/cuemby/airbyte-operator/pkg/types"
)

// SealedStore wraps a storage.Store so credentials never reach disk in the
// clear. Database passwords, object-store keys and secret-bearing plan
// environment values are sealed on write and opened on read.
type SealedStore struct {
	storage.Store
	sealer *Sealer
}

// NewSealedStore wraps inner with sealer
func NewSealedStore(inner storage.Store, sealer *Sealer) *SealedStore {
	return &SealedStore{Store: inner, sealer: sealer}
}

// SaveFact seals the fact's credentials before persisting it
func (s *SealedStore) SaveFact(fact types.Fact) error {
	sealed, err := s.transformFact(fact, s.sealer.Seal)
	if err != nil {
		return fmt.Errorf("failed to seal %s fact: %w", fact.Kind, err)
	}
	return s.Store.SaveFact(sealed)
}

// ListFacts returns the persisted facts with credentials opened
func (s *SealedStore) ListFacts() ([]types.Fact, error) {
	stored, err := s.Store.ListFacts()
	if err != nil {
		return nil, err
	}

	out := make([]types.Fact, 0, len(stored))
	for _, fact := range stored {
		opened, err := s.transformFact(fact, s.sealer.Open)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s fact: %w", fact.Kind, err)
		}
		out = append(out, opened)
	}
	return out, nil
}

// SaveApplied seals secret environment values of the recorded plan
func (s *SealedStore) SaveApplied(process string, state *types.AppliedState) error {
	sealed, err := s.transformApplied(state, s.sealer.Seal)
	if err != nil {
		return fmt.Errorf("failed to seal applied state of %s: %w", process, err)
	}
	return s.Store.SaveApplied(process, sealed)
}

// GetApplied returns the recorded state with secret values opened
func (s *SealedStore) GetApplied(process string) (*types.AppliedState, error) {
	state, err := s.Store.GetApplied(process)
	if err != nil {
		return nil, err
	}
	return s.transformApplied(state, s.sealer.Open)
}

// ListApplied returns every recorded state with secret values opened
func (s *SealedStore) ListApplied() (map[string]*types.AppliedState, error) {
	states, err := s.Store.ListApplied()
	if err != nil {
		return nil, err
	}

	out := make(map[string]*types.AppliedState, len(states))
	for name, state := range states {
		opened, err := s.transformApplied(state, s.sealer.Open)
		if err != nil {
			return nil, fmt.Errorf("failed to open applied state of %s: %w", name, err)
		}
		out[name] = opened
	}
	return out, nil
}

func (s *SealedStore) transformFact(fact types.Fact, fn func(string) (string, error)) (types.Fact, error) {
	out := fact.Clone()
	var fields []*string
	if out.Database != nil {
		fields = append(fields, &out.Database.Password)
	}
	if out.ObjectStore != nil {
		fields = append(fields, &out.ObjectStore.AccessKey, &out.ObjectStore.SecretKey)
	}
	for _, f := range fields {
		v, err := fn(*f)
		if err != nil {
			return types.Fact{}, err
		}
		*f = v
	}
	return out, nil
}

func (s *SealedStore) transformApplied(state *types.AppliedState, fn func(string) (string, error)) (*types.AppliedState, error) {
	if state == nil || state.Plan == nil {
		return state, nil
	}

	out := *state
	out.Plan = state.Plan.Clone()
	for k, v := range out.Plan.Environment {
		if !IsSecretKey(k) {
			continue
		}
		nv, err := fn(v)
		if err != nil {
			return nil, err
		}
		out.Plan.Environment[k] = nv
	}
	return &out, nil
}

// Sealer returns the sealer used by the store
func (s *SealedStore) Sealer() *Sealer { return s.sealer }

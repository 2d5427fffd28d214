package storage

import (
	"errors"

	"github.com/cuemby/airbyte-operator/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for operator state that must survive a restart
// of the operator itself
type Store interface {
	// Facts
	SaveFact(fact types.Fact) error
	DeleteFact(kind types.FactKind) error
	ListFacts() ([]types.Fact, error)

	// Applied state
	SaveApplied(process string, state *types.AppliedState) error
	GetApplied(process string) (*types.AppliedState, error)
	ListApplied() (map[string]*types.AppliedState, error)
	DeleteApplied(process string) error

	// Utility
	Close() error
}

package security

import (
	"fmt"

	"github.com/cuemby/airbyte-operator/pkg/log"
	"github.com/cuemby/airbyte-operator/pkg/storage"
	"github.com/cuemby/airbyte-operator/pkg/types"
)

// MigrationReport counts the records SealAll found holding plain credentials
type MigrationReport struct {
	Facts   int
	Applied int
}

// Total is the number of records that were, or would be, rewritten
func (r MigrationReport) Total() int { return r.Facts + r.Applied }

// SealAll rewrites every record of inner that still holds a plain
// credential so it is stored sealed. With dryRun the records are only
// counted. Records that are already sealed are left alone, so running it
// twice is harmless.
func SealAll(inner storage.Store, sealer *Sealer, dryRun bool) (MigrationReport, error) {
	logger := log.WithComponent("security")
	sealed := NewSealedStore(inner, sealer)
	var report MigrationReport

	facts, err := inner.ListFacts()
	if err != nil {
		return report, fmt.Errorf("failed to list facts: %w", err)
	}
	for _, fact := range facts {
		if !factHasPlain(fact) {
			continue
		}
		report.Facts++
		if dryRun {
			logger.Info().Str("fact_kind", string(fact.Kind)).Msg("Would seal fact")
			continue
		}
		if err := sealed.SaveFact(fact); err != nil {
			return report, err
		}
	}

	applied, err := inner.ListApplied()
	if err != nil {
		return report, fmt.Errorf("failed to list applied state: %w", err)
	}
	for name, state := range applied {
		if !appliedHasPlain(state) {
			continue
		}
		report.Applied++
		if dryRun {
			logger.Info().Str("process", name).Msg("Would seal applied state")
			continue
		}
		if err := sealed.SaveApplied(name, state); err != nil {
			return report, err
		}
	}

	return report, nil
}

func factHasPlain(fact types.Fact) bool {
	var values []string
	if fact.Database != nil {
		values = append(values, fact.Database.Password)
	}
	if fact.ObjectStore != nil {
		values = append(values, fact.ObjectStore.AccessKey, fact.ObjectStore.SecretKey)
	}
	for _, v := range values {
		if v != "" && !IsSealed(v) {
			return true
		}
	}
	return false
}

func appliedHasPlain(state *types.AppliedState) bool {
	if state == nil || state.Plan == nil {
		return false
	}
	for k, v := range state.Plan.Environment {
		if IsSecretKey(k) && v != "" && !IsSealed(v) {
			return true
		}
	}
	return false
}

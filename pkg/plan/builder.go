package plan

import (
	"errors"
	"fmt"
	"maps"

	"github.com/cuemby/airbyte-operator/pkg/facts"
	"github.com/cuemby/airbyte-operator/pkg/types"
)

var (
	// ErrUnknownProcess is returned for a process name outside the catalog
	ErrUnknownProcess = errors.New("unknown process")

	// ErrIncompleteSnapshot is returned when the snapshot lacks the database
	// connection or configuration every plan is derived from
	ErrIncompleteSnapshot = errors.New("incomplete snapshot")
)

// Builder derives process plans from a validated snapshot. It holds no
// state between calls.
type Builder struct {
	processes []string
}

// NewBuilder creates a builder for the named processes, or for the whole
// catalog when none are given. Unknown names surface from Build.
func NewBuilder(processes ...string) *Builder {
	if len(processes) == 0 {
		processes = Processes()
	}
	return &Builder{processes: processes}
}

// Processes returns the processes this builder plans for, in apply order
func (b *Builder) Processes() []string {
	return append([]string(nil), b.processes...)
}

// Build returns one plan per process
func (b *Builder) Build(snap facts.Snapshot) (map[string]*types.ProcessPlan, error) {
	for _, name := range b.processes {
		if !Known(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProcess, name)
		}
	}
	if snap.Config == nil || snap.Database == nil {
		return nil, ErrIncompleteSnapshot
	}

	base := baseEnv(snap.Config, snap.Database)
	storageEnv(base, snap)
	proxyEnv(base, snap.Config)

	plans := make(map[string]*types.ProcessPlan, len(b.processes))
	for _, name := range b.processes {
		p, err := buildProcess(name, base, snap)
		if err != nil {
			return nil, err
		}
		plans[name] = p
	}
	return plans, nil
}

// BuildProcess returns the plan for a single process
func BuildProcess(snap facts.Snapshot, name string) (*types.ProcessPlan, error) {
	plans, err := NewBuilder(name).Build(snap)
	if err != nil {
		return nil, err
	}
	return plans[name], nil
}

func buildProcess(name string, base env, snap facts.Snapshot) (*types.ProcessPlan, error) {
	e := maps.Clone(base)
	processEnv(e, name, snap.Config)

	files, err := filesFor(name, snap.Config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	p := &types.ProcessPlan{
		Name:        name,
		Summary:     name,
		Command:     Command(name),
		Startup:     "enabled",
		Override:    "replace",
		Environment: e,
		HealthCheck: HealthCheckFor(name),
		Files:       files,
	}
	if p.HealthCheck != nil {
		p.OnCheckFailure = map[string]string{types.CheckUp: types.CheckActionIgnore}
	}
	return p, nil
}

package applier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/airbyte-operator/pkg/events"
	"github.com/cuemby/airbyte-operator/pkg/log"
	"github.com/cuemby/airbyte-operator/pkg/metrics"
	"github.com/cuemby/airbyte-operator/pkg/runtime"
	"github.com/cuemby/airbyte-operator/pkg/storage"
	"github.com/cuemby/airbyte-operator/pkg/types"
	"github.com/rs/zerolog"
)

// Outcome is the result of applying one plan
type Outcome string

const (
	// Applied means the process was restarted, with the plan installed
	// first when it changed
	Applied Outcome = "applied"
	// Unchanged means the runtime already runs this plan
	Unchanged Outcome = "unchanged"
	// Deferred means the execution environment was unreachable
	Deferred Outcome = "deferred"
	// Failed is only used for metrics
	Failed Outcome = "failed"
)

// ApplyError names the process whose apply failed
type ApplyError struct {
	Process string
	Err     error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("failed to apply %s: %v", e.Process, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Summary describes one ApplyAll run
type Summary struct {
	// Restarted lists processes whose plan changed, in order
	Restarted []string
	// Deferred is the process that stopped the run because it was
	// unreachable, or ""
	Deferred string
}

// Applier installs plans on the runtime and owns the record of what was
// last applied to each process
type Applier struct {
	rt     runtime.Runtime
	store  storage.Store
	events events.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

// New creates an applier over a runtime, recording applied state in store
func New(rt runtime.Runtime, store storage.Store) *Applier {
	return &Applier{
		rt:     rt,
		store:  store,
		logger: log.WithComponent("applier"),
		now:    time.Now,
	}
}

// WithEvents makes the applier publish process events
func (a *Applier) WithEvents(p events.Publisher) *Applier {
	a.events = p
	return a
}

// Apply converges one process onto plan. Artifacts are staged when missing
// or when the plan changed; the plan is installed and the process restarted
// only when it differs from both the recorded and the installed plan. An
// unchanged enabled plan whose process is not running is started again
// without reinstalling. The applied state is recorded only after the
// restart succeeded.
func (a *Applier) Apply(ctx context.Context, plan *types.ProcessPlan) (Outcome, error) {
	name := plan.Name
	logger := a.logger.With().Str("process", name).Logger()

	if !a.rt.CanReach(ctx, name) {
		logger.Warn().Msg("Execution environment unreachable, deferring")
		metrics.ProcessApplies.WithLabelValues(name, string(Deferred)).Inc()
		return Deferred, nil
	}

	outcome, err := a.apply(ctx, plan, logger)
	if err != nil {
		metrics.ProcessApplies.WithLabelValues(name, string(Failed)).Inc()
		return "", err
	}
	metrics.ProcessApplies.WithLabelValues(name, string(outcome)).Inc()
	return outcome, nil
}

func (a *Applier) apply(ctx context.Context, plan *types.ProcessPlan, logger zerolog.Logger) (Outcome, error) {
	name := plan.Name

	recorded, err := a.Applied(name)
	if err != nil {
		return "", err
	}
	installed, err := a.rt.InstalledPlan(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to read installed plan: %w", err)
	}

	changed := recorded == nil || !recorded.Plan.Equal(plan) || !installed.Equal(plan)

	if err := a.stageFiles(ctx, plan, changed); err != nil {
		return "", err
	}

	if !changed {
		stopped, err := a.stopped(ctx, plan)
		if err != nil {
			return "", err
		}
		if !stopped {
			logger.Debug().Msg("Plan unchanged")
			return Unchanged, nil
		}
		logger.Warn().Msg("Plan unchanged but process not running, starting it")
	} else if err := a.rt.InstallPlan(ctx, plan); err != nil {
		return "", fmt.Errorf("failed to install plan: %w", err)
	}

	if err := a.rt.Restart(ctx, name); err != nil {
		return "", fmt.Errorf("failed to restart: %w", err)
	}

	state := &types.AppliedState{
		Plan:      plan.Clone(),
		AppliedAt: a.now(),
	}
	if err := a.store.SaveApplied(name, state); err != nil {
		return "", fmt.Errorf("failed to record applied state: %w", err)
	}

	metrics.ProcessRestarts.WithLabelValues(name).Inc()
	logger.Info().
		Int("env", len(plan.Environment)).
		Bool("health_check", plan.HealthCheck != nil).
		Msg("Plan applied, process restarted")
	a.publish(events.EventProcessApplied, name)
	return Applied, nil
}

// stopped reports whether an enabled plan's process is not running
func (a *Applier) stopped(ctx context.Context, plan *types.ProcessPlan) (bool, error) {
	if !plan.Enabled() {
		return false, nil
	}
	running, err := a.rt.Running(ctx, plan.Name)
	if err != nil {
		return false, fmt.Errorf("failed to check process: %w", err)
	}
	return !running, nil
}

func (a *Applier) stageFiles(ctx context.Context, plan *types.ProcessPlan, force bool) error {
	for _, f := range plan.Files {
		if !force {
			exists, err := a.rt.FileExists(ctx, plan.Name, f.Path)
			if err != nil {
				return fmt.Errorf("failed to stat %s: %w", f.Path, err)
			}
			if exists {
				continue
			}
		}
		if err := a.rt.PushFile(ctx, plan.Name, f); err != nil {
			return fmt.Errorf("failed to push %s: %w", f.Path, err)
		}
	}
	return nil
}

// ApplyAll applies plans sequentially in order. It stops at the first
// deferred or failed process; processes applied before it keep their
// recorded state.
func (a *Applier) ApplyAll(ctx context.Context, plans map[string]*types.ProcessPlan, order []string) (Summary, error) {
	var sum Summary
	for _, name := range order {
		plan, ok := plans[name]
		if !ok {
			continue
		}
		outcome, err := a.Apply(ctx, plan)
		if err != nil {
			return sum, &ApplyError{Process: name, Err: err}
		}
		switch outcome {
		case Deferred:
			sum.Deferred = name
			return sum, nil
		case Applied:
			sum.Restarted = append(sum.Restarted, name)
		}
	}
	return sum, nil
}

// Applied returns the recorded state of a process, or nil if it was never applied
func (a *Applier) Applied(process string) (*types.AppliedState, error) {
	state, err := a.store.GetApplied(process)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read applied state: %w", err)
	}
	return state, nil
}

// ListApplied returns the recorded state of every applied process
func (a *Applier) ListApplied() (map[string]*types.AppliedState, error) {
	return a.store.ListApplied()
}

func (a *Applier) publish(t events.EventType, process string) {
	if a.events == nil {
		return
	}
	a.events.Publish(events.New(t, "plan applied and process restarted", map[string]string{"process": process}))
}

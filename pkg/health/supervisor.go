package health

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/cuemby/airbyte-operator/pkg/log"
	"github.com/cuemby/airbyte-operator/pkg/types"
	"github.com/rs/zerolog"
)

// Prober is the part of the execution surface the supervisor reads
type Prober interface {
	InstalledPlan(ctx context.Context, process string) (*types.ProcessPlan, error)
	Running(ctx context.Context, process string) (bool, error)
	ProbeHealth(ctx context.Context, process string) (types.Probe, error)
}

// Verdict is the aggregate outcome of one supervision pass
type Verdict string

const (
	// VerdictReconcile means at least one process drifted from its plan
	VerdictReconcile Verdict = "reconcile"
	// VerdictDegraded means a process failed its liveness check
	VerdictDegraded Verdict = "degraded"
	// VerdictUnchanged means some process could not be checked
	VerdictUnchanged Verdict = "unchanged"
	// VerdictReady means every process is healthy
	VerdictReady Verdict = "ready"
)

// ProcessReport is the supervision result for one process
type ProcessReport struct {
	Name    string
	Health  types.ProcessHealth
	Drift   bool
	Message string
}

// Report is the result of one supervision pass, in process order
type Report struct {
	Processes []ProcessReport
}

// Verdict aggregates the per-process results. A failed liveness check wins
// over drift, drift over unknown.
func (r Report) Verdict() Verdict {
	if r.FirstDegraded() != "" {
		return VerdictDegraded
	}
	if r.Drifted() {
		return VerdictReconcile
	}
	for _, p := range r.Processes {
		if p.Health == types.HealthUnknown {
			return VerdictUnchanged
		}
	}
	return VerdictReady
}

// Drifted reports whether any process needs a reconcile
func (r Report) Drifted() bool {
	for _, p := range r.Processes {
		if p.Drift {
			return true
		}
	}
	return false
}

// FirstDegraded returns the first process that failed its liveness check,
// or "". Drifted processes are not counted.
func (r Report) FirstDegraded() string {
	for _, p := range r.Processes {
		if p.Health == types.HealthDegraded && !p.Drift {
			return p.Name
		}
	}
	return ""
}

// Status maps the report onto the operator status. The second result is
// false when the current status should be kept.
func (r Report) Status() (types.Status, bool) {
	switch r.Verdict() {
	case VerdictReconcile:
		return types.Reconciling, true
	case VerdictDegraded:
		return types.Degraded(r.FirstDegraded()), true
	case VerdictReady:
		return types.Ready, true
	}
	return types.Status{}, false
}

// Supervisor tracks the health state of every process across passes
type Supervisor struct {
	prober Prober
	mu     sync.Mutex
	states map[string]types.ProcessHealth
	logger zerolog.Logger
	now    func() time.Time
}

// NewSupervisor creates a supervisor reading from prober
func NewSupervisor(prober Prober) *Supervisor {
	return &Supervisor{
		prober: prober,
		states: make(map[string]types.ProcessHealth),
		logger: log.WithComponent("health"),
		now:    time.Now,
	}
}

// State returns the last known health of a process
func (s *Supervisor) State(process string) types.ProcessHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.states[process]; ok {
		return h
	}
	return types.HealthUnchecked
}

// States returns the last known health of every checked process
func (s *Supervisor) States() map[string]types.ProcessHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.states)
}

// Reset forgets a process's state, typically after it was restarted
func (s *Supervisor) Reset(process string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, process)
}

// Check runs one supervision pass over the desired plans in order. applied
// holds the applier's record for every process applied so far.
func (s *Supervisor) Check(ctx context.Context, order []string, plans map[string]*types.ProcessPlan, applied map[string]*types.AppliedState) Report {
	report := Report{Processes: make([]ProcessReport, 0, len(order))}
	for _, name := range order {
		pr := s.checkProcess(ctx, name, plans[name], applied[name])
		s.transition(pr)
		report.Processes = append(report.Processes, pr)
	}
	return report
}

func (s *Supervisor) checkProcess(ctx context.Context, name string, desired *types.ProcessPlan, applied *types.AppliedState) ProcessReport {
	pr := ProcessReport{Name: name}

	if applied == nil || applied.Plan == nil {
		pr.Health = types.HealthDegraded
		pr.Drift = true
		pr.Message = "not applied"
		return pr
	}

	wanted := desired
	if wanted == nil {
		wanted = applied.Plan
	}
	if wanted.Enabled() {
		running, err := s.prober.Running(ctx, name)
		if err != nil {
			pr.Health = types.HealthUnknown
			pr.Message = "process state unavailable: " + err.Error()
			return pr
		}
		if !running {
			pr.Health = types.HealthDegraded
			pr.Drift = true
			pr.Message = "process not running"
			return pr
		}
	}

	if desired == nil || desired.HealthCheck == nil {
		pr.Health = types.HealthHealthy
		return pr
	}

	installed, err := s.prober.InstalledPlan(ctx, name)
	if err != nil {
		pr.Health = types.HealthUnknown
		pr.Message = "plan unavailable: " + err.Error()
		return pr
	}
	if installed == nil || !installed.HasRestartMarker() {
		pr.Health = types.HealthDegraded
		pr.Drift = true
		pr.Message = "installed plan missing check-failure policy"
		return pr
	}

	probe, err := s.prober.ProbeHealth(ctx, name)
	if err != nil {
		pr.Health = types.HealthUnknown
		pr.Message = "probe unavailable: " + err.Error()
		return pr
	}

	switch probe {
	case types.ProbeUp:
		pr.Health = types.HealthHealthy
	case types.ProbeDown:
		pr.Health = types.HealthDegraded
		pr.Message = "check up is down"
	default:
		pr.Health = types.HealthUnknown
		pr.Message = "check state unknown"
	}
	return pr
}

func (s *Supervisor) transition(pr ProcessReport) {
	s.mu.Lock()
	prev, ok := s.states[pr.Name]
	s.states[pr.Name] = pr.Health
	s.mu.Unlock()

	if !ok {
		prev = types.HealthUnchecked
	}
	if prev == pr.Health {
		return
	}

	event := s.logger.Info()
	if pr.Health == types.HealthDegraded {
		event = s.logger.Warn()
	}
	event.Str("process", pr.Name).
		Str("from", string(prev)).
		Str("to", string(pr.Health)).
		Bool("drift", pr.Drift).
		Str("reason", pr.Message).
		Time("at", s.now()).
		Msg("Process health changed")
}

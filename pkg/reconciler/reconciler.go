package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/airbyte-operator/pkg/applier"
	"github.com/cuemby/airbyte-operator/pkg/buckets"
	"github.com/cuemby/airbyte-operator/pkg/config"
	"github.com/cuemby/airbyte-operator/pkg/events"
	"github.com/cuemby/airbyte-operator/pkg/facts"
	"github.com/cuemby/airbyte-operator/pkg/health"
	"github.com/cuemby/airbyte-operator/pkg/log"
	"github.com/cuemby/airbyte-operator/pkg/metrics"
	"github.com/cuemby/airbyte-operator/pkg/plan"
	"github.com/cuemby/airbyte-operator/pkg/runtime"
	"github.com/cuemby/airbyte-operator/pkg/status"
	"github.com/cuemby/airbyte-operator/pkg/storage"
	"github.com/cuemby/airbyte-operator/pkg/types"
	"github.com/cuemby/airbyte-operator/pkg/validate"
	"github.com/rs/zerolog"
)

// Provisioner ensures the configured buckets exist
type Provisioner interface {
	Ensure(ctx context.Context, conn *types.ObjectStoreConnection, names []string, logBucket string, ttlDays int) error
}

// Planner derives process plans from a snapshot
type Planner interface {
	Processes() []string
	Build(snap facts.Snapshot) (map[string]*types.ProcessPlan, error)
}

// Result describes the outcome of one entry-point call
type Result struct {
	Status types.Status
	// Deferred asks the caller to run Reconcile again later
	Deferred bool
}

// Options wires a Reconciler. Facts, Runtime and Store are required.
type Options struct {
	Facts       *facts.Store
	Config      *config.Config
	Runtime     runtime.Runtime
	Store       storage.Store
	Provisioner Provisioner
	Planner     Planner
	Sink        status.Sink
	Announcer   status.Announcer
	Events      events.Publisher
	Leader      bool
}

// Reconciler converges the managed processes onto the plans derived from
// the current facts and configuration. Every entry point holds one lock,
// so cycles never overlap.
type Reconciler struct {
	mu sync.Mutex

	facts       *facts.Store
	cfg         *config.Config
	provisioner Provisioner
	planner     Planner
	applier     *applier.Applier
	supervisor  *health.Supervisor
	sink        status.Sink
	announcer   status.Announcer
	events      events.Publisher

	leader    bool
	announced bool
	logger    zerolog.Logger
}

// New creates a reconciler from opts, filling in the S3 provisioner, the
// full process catalog and a status recorder where none is given
func New(opts Options) (*Reconciler, error) {
	if opts.Facts == nil || opts.Runtime == nil || opts.Store == nil {
		return nil, errors.New("reconciler requires facts, runtime and store")
	}

	r := &Reconciler{
		facts:       opts.Facts,
		provisioner: opts.Provisioner,
		planner:     opts.Planner,
		applier:     applier.New(opts.Runtime, opts.Store),
		supervisor:  health.NewSupervisor(opts.Runtime),
		sink:        opts.Sink,
		announcer:   opts.Announcer,
		events:      opts.Events,
		leader:      opts.Leader,
		logger:      log.WithComponent("reconciler"),
	}
	if opts.Config != nil {
		r.cfg = opts.Config.Clone()
	}
	if r.provisioner == nil {
		r.provisioner = buckets.NewProvisioner()
	}
	if r.planner == nil {
		r.planner = plan.NewBuilder()
	}
	if r.sink == nil {
		r.sink = status.NewRecorder()
	}
	if r.events != nil {
		r.applier.WithEvents(r.events)
	}

	metrics.Leader.Set(boolGauge(r.leader))
	metrics.RegisterComponent(metrics.ComponentReconciler, true, "")
	return r, nil
}

// SetLeader updates whether this instance may announce readiness
func (r *Reconciler) SetLeader(leader bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.leader != leader {
		r.logger.Info().Bool("leader", leader).Msg("Leadership changed")
	}
	r.leader = leader
	r.announced = false
	metrics.Leader.Set(boolGauge(leader))
}

// Status returns the status last reported to the sink
func (r *Reconciler) Status() types.Status {
	return r.sink.Current()
}

// OnFactChanged records a new value for kind, or clears it when fact is
// nil, and reconciles
func (r *Reconciler) OnFactChanged(ctx context.Context, kind types.FactKind, fact *types.Fact) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := log.WithFactKind(string(kind))
	action := "set"
	if fact == nil {
		action = "clear"
		if err := r.facts.Clear(kind); err != nil {
			return r.storeFailure(err)
		}
	} else {
		f := fact.Clone()
		f.Kind = kind
		if err := r.facts.Set(f); err != nil {
			return r.storeFailure(err)
		}
	}

	metrics.UpdateComponent(metrics.ComponentReconciler, true, "")
	metrics.FactChanges.WithLabelValues(string(kind), action).Inc()
	logger.Info().Str("action", action).Msg("Fact changed")
	eventType := events.EventFactChanged
	if fact == nil {
		eventType = events.EventFactCleared
	}
	r.publish(eventType, string(kind), map[string]string{"kind": string(kind)})

	return r.reconcile(ctx), nil
}

// OnConfigChanged replaces the configuration and reconciles
func (r *Reconciler) OnConfigChanged(ctx context.Context, cfg *config.Config) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg == nil {
		r.cfg = nil
	} else {
		r.cfg = cfg.Clone()
	}
	r.logger.Info().Msg("Configuration changed")
	r.publish(events.EventConfigChanged, "", nil)

	return r.reconcile(ctx)
}

// Reconcile runs one full reconciliation cycle
func (r *Reconciler) Reconcile(ctx context.Context) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.reconcile(ctx)
}

// OnTick runs one health supervision pass. A process failing its liveness
// check only changes the status, even when others drifted; otherwise drift
// triggers a full reconciliation in the same call.
func (r *Reconciler) OnTick(ctx context.Context) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.facts.Snapshot(r.cfg)
	if v := validate.Validate(snap); !v.IsReady() {
		return r.report(ctx, v.Status())
	}

	plans, err := r.planner.Build(snap)
	if err != nil {
		return r.report(ctx, types.Blocked(err.Error()))
	}

	report, err := r.supervise(ctx, plans)
	if err != nil {
		return r.report(ctx, types.Blocked(err.Error()))
	}

	switch report.Verdict() {
	case health.VerdictReconcile:
		for _, p := range report.Processes {
			if p.Drift {
				r.logger.Warn().Str("process", p.Name).Str("reason", p.Message).Msg("Plan drift detected, reconciling")
			}
		}
		r.report(ctx, types.Reconciling)
		return r.reconcile(ctx)
	case health.VerdictDegraded:
		name := report.FirstDegraded()
		r.publish(events.EventProcessDegraded, name, map[string]string{"process": name})
	}

	if st, ok := report.Status(); ok {
		return r.report(ctx, st)
	}
	return Result{Status: r.sink.Current()}
}

// reconcile must be called with mu held
func (r *Reconciler) reconcile(ctx context.Context) Result {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	snap := r.facts.Snapshot(r.cfg)
	v := validate.Validate(snap)
	if !v.IsReady() {
		if v.Verdict == validate.NotReady {
			r.logger.Info().Str("reason", v.Reason).Msg("Waiting")
			metrics.ReconcileCycles.WithLabelValues("waiting").Inc()
		} else {
			r.logger.Error().Str("reason", v.Reason).Msg("Invalid configuration")
			metrics.ReconcileCycles.WithLabelValues("blocked").Inc()
		}
		return r.report(ctx, v.Status())
	}

	r.publish(events.EventReconcileStarted, "", nil)
	r.sink.Set(types.Reconciling)

	cfg := snap.Config
	if err := r.provisioner.Ensure(ctx, snap.ObjectStore, cfg.Buckets(), cfg.StorageBucketLogs, cfg.LogsTTL); err != nil {
		return r.fail(ctx, fmt.Sprintf("failed to create buckets: %v", err), err)
	}
	r.publish(events.EventBucketsEnsured, "", map[string]string{"storage_type": string(cfg.StorageType)})

	plans, err := r.planner.Build(snap)
	if err != nil {
		return r.fail(ctx, err.Error(), err)
	}

	sum, err := r.applier.ApplyAll(ctx, plans, r.planner.Processes())
	for _, name := range sum.Restarted {
		r.supervisor.Reset(name)
	}
	if err != nil {
		return r.fail(ctx, err.Error(), err)
	}
	if sum.Deferred != "" {
		r.logger.Warn().Str("process", sum.Deferred).Msg("Execution environment unreachable, reconciliation deferred")
		metrics.ReconcileCycles.WithLabelValues("deferred").Inc()
		r.publish(events.EventReconcileDeferred, sum.Deferred, map[string]string{"process": sum.Deferred})
		return Result{Status: r.sink.Current(), Deferred: true}
	}

	metrics.ReconcileCycles.WithLabelValues("applied").Inc()
	r.logger.Info().Strs("restarted", sum.Restarted).Dur("took", timer.Duration()).Msg("Reconciliation complete")
	r.publish(events.EventReconcileDone, "", nil)

	report, err := r.supervise(ctx, plans)
	if err != nil {
		return r.fail(ctx, err.Error(), err)
	}
	if st, ok := report.Status(); ok {
		return r.report(ctx, st)
	}
	return Result{Status: r.sink.Current()}
}

// supervise checks every process. It only reads the applied state; health
// lives in the supervisor.
func (r *Reconciler) supervise(ctx context.Context, plans map[string]*types.ProcessPlan) (health.Report, error) {
	applied, err := r.applier.ListApplied()
	if err != nil {
		return health.Report{}, fmt.Errorf("failed to read applied state: %w", err)
	}
	return r.supervisor.Check(ctx, r.planner.Processes(), plans, applied), nil
}

// Health returns the last supervised health of every process
func (r *Reconciler) Health() map[string]types.ProcessHealth {
	return r.supervisor.States()
}

func (r *Reconciler) fail(ctx context.Context, message string, err error) Result {
	r.logger.Error().Err(err).Msg("Reconciliation failed")
	metrics.ReconcileCycles.WithLabelValues("blocked").Inc()
	r.publish(events.EventReconcileFailed, message, nil)
	return r.report(ctx, types.Blocked(message))
}

func (r *Reconciler) storeFailure(err error) (Result, error) {
	metrics.UpdateComponent(metrics.ComponentReconciler, false, err.Error())
	return Result{Status: r.sink.Current()}, err
}

// report hands st to the sink and announces readiness when this instance
// leads
func (r *Reconciler) report(ctx context.Context, st types.Status) Result {
	r.sink.Set(st)

	if st.Kind != types.StatusReady {
		r.announced = false
		return Result{Status: st}
	}
	if r.leader && !r.announced && r.announcer != nil && r.cfg != nil {
		a := status.AnnouncementFor(r.cfg.ApplicationName, st)
		if err := r.announcer.Announce(ctx, a); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to announce readiness")
		} else {
			r.announced = true
			r.publish(events.EventReadyAnnounced, a.ServerName, nil)
		}
	}
	return Result{Status: st}
}

func (r *Reconciler) publish(t events.EventType, message string, metadata map[string]string) {
	if r.events != nil {
		r.events.Publish(events.New(t, message, metadata))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

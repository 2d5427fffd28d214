package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/airbyte-operator/pkg/config"
	"github.com/cuemby/airbyte-operator/pkg/log"
	"github.com/cuemby/airbyte-operator/pkg/metrics"
	"github.com/cuemby/airbyte-operator/pkg/reconciler"
	"github.com/cuemby/airbyte-operator/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultTickSchedule  = "@every 10s"
	DefaultRetryInterval = 5 * time.Second
	queueSize            = 64
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ErrStopped is returned when notifying a scheduler that has been stopped
var ErrStopped = errors.New("scheduler stopped")

// Engine is the reconciliation surface the scheduler drives
type Engine interface {
	OnFactChanged(ctx context.Context, kind types.FactKind, fact *types.Fact) (reconciler.Result, error)
	OnConfigChanged(ctx context.Context, cfg *config.Config) reconciler.Result
	OnTick(ctx context.Context) reconciler.Result
	Reconcile(ctx context.Context) reconciler.Result
}

// Options tunes a Scheduler
type Options struct {
	// TickSchedule is a cron expression or descriptor for health ticks
	TickSchedule string
	// RetryInterval is the minimum spacing of deferred retries
	RetryInterval time.Duration
}

type noteKind int

const (
	noteFact noteKind = iota
	noteConfig
	noteTick
	noteRetry
)

type notification struct {
	kind     noteKind
	factKind types.FactKind
	fact     *types.Fact
	cfg      *config.Config
}

// Scheduler turns fact changes, configuration changes, cron ticks and
// deferred retries into calls on the engine, one at a time, from a single
// goroutine
type Scheduler struct {
	engine  Engine
	cron    *cron.Cron
	limiter *rate.Limiter
	notifyC chan notification
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  zerolog.Logger

	mu           sync.Mutex
	retryPending bool
	started      bool
	stopped      bool
}

// New creates a scheduler. The tick schedule is validated here.
func New(engine Engine, opts Options) (*Scheduler, error) {
	if opts.TickSchedule == "" {
		opts.TickSchedule = DefaultTickSchedule
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}

	s := &Scheduler{
		engine:  engine,
		cron:    cron.New(cron.WithParser(cronParser)),
		limiter: rate.NewLimiter(rate.Every(opts.RetryInterval), 1),
		notifyC: make(chan notification, queueSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  log.WithComponent("scheduler"),
	}
	// Start with an empty bucket so the first retry waits a full interval.
	s.limiter.Allow()

	if _, err := s.cron.AddFunc(opts.TickSchedule, s.Tick); err != nil {
		return nil, fmt.Errorf("invalid tick schedule %q: %w", opts.TickSchedule, err)
	}
	return s, nil
}

// Start begins the dispatch loop and the tick schedule
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.run(ctx)
	s.cron.Start()
	s.logger.Info().Msg("Scheduler started")
}

// Stop halts ticks and waits for the notification in flight to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	close(s.stopCh)
	if started {
		<-s.doneCh
	}
	s.logger.Info().Msg("Scheduler stopped")
}

// NotifyFact queues a fact change; a nil fact clears the kind
func (s *Scheduler) NotifyFact(kind types.FactKind, fact *types.Fact) error {
	return s.enqueue(notification{kind: noteFact, factKind: kind, fact: fact})
}

// NotifyConfig queues a configuration change
func (s *Scheduler) NotifyConfig(cfg *config.Config) error {
	return s.enqueue(notification{kind: noteConfig, cfg: cfg})
}

// Tick queues a health supervision pass. Ticks are dropped while the queue
// is full.
func (s *Scheduler) Tick() {
	s.offer(notification{kind: noteTick})
}

// Trigger queues a full reconciliation
func (s *Scheduler) Trigger() {
	s.offer(notification{kind: noteRetry})
}

func (s *Scheduler) enqueue(n notification) error {
	select {
	case <-s.stopCh:
		return ErrStopped
	default:
	}
	select {
	case s.notifyC <- n:
		return nil
	case <-s.stopCh:
		return ErrStopped
	}
}

func (s *Scheduler) offer(n notification) {
	select {
	case s.notifyC <- n:
	case <-s.stopCh:
	default:
		s.logger.Debug().Msg("Queue full, dropping tick")
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		select {
		case n := <-s.notifyC:
			s.dispatch(ctx, n)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, n notification) {
	var res reconciler.Result

	switch n.kind {
	case noteFact:
		var err error
		res, err = s.engine.OnFactChanged(ctx, n.factKind, n.fact)
		if err != nil {
			s.logger.Error().Err(err).Str("fact_kind", string(n.factKind)).Msg("Failed to record fact")
			return
		}
	case noteConfig:
		res = s.engine.OnConfigChanged(ctx, n.cfg)
	case noteTick:
		res = s.engine.OnTick(ctx)
	case noteRetry:
		s.mu.Lock()
		s.retryPending = false
		s.mu.Unlock()
		res = s.engine.Reconcile(ctx)
	}

	if res.Deferred {
		s.scheduleRetry()
	}
}

// scheduleRetry arranges one Reconcile after the limiter allows it. At most
// one retry is pending at a time.
func (s *Scheduler) scheduleRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retryPending || s.stopped {
		return
	}
	s.retryPending = true

	delay := s.limiter.Reserve().Delay()
	metrics.DeferredRetries.Inc()
	s.logger.Warn().Dur("delay", delay).Msg("Reconciliation deferred, retry scheduled")

	time.AfterFunc(delay, s.Trigger)
}

// RetryPending reports whether a deferred retry is waiting to run
func (s *Scheduler) RetryPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryPending
}

// ValidateSchedule reports whether schedule is a usable tick schedule
func ValidateSchedule(schedule string) error {
	_, err := cronParser.Parse(schedule)
	return err
}

package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/airbyte-operator/pkg/types"
)

// DefaultProbeTimeout bounds a check whose health check declares no period
const DefaultProbeTimeout = 10 * time.Second

// Result is the outcome of one check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

func finish(start time.Time, healthy bool, format string, args ...any) Result {
	return Result{
		Healthy:   healthy,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Checker probes a single endpoint
type Checker interface {
	Check(ctx context.Context) Result
	// Target names what is probed, for logs
	Target() string
}

// Policy decides when failing checks turn a process down
type Policy struct {
	// Retries is the number of consecutive failures that mark the check down
	Retries int
	// StartPeriod ignores failures for this long after tracking starts
	StartPeriod time.Duration
}

// DefaultPolicy tolerates two failures in a row
func DefaultPolicy() Policy {
	return Policy{Retries: 3}
}

// Tracker folds consecutive check results into a probe verdict. It is not
// safe for concurrent use.
type Tracker struct {
	policy   Policy
	since    time.Time
	failures int
	last     Result
}

// NewTracker starts tracking a freshly (re)started process
func NewTracker(policy Policy) *Tracker {
	if policy.Retries < 1 {
		policy.Retries = 1
	}
	return &Tracker{policy: policy, since: time.Now()}
}

// Observe records r and returns the resulting verdict. A single success
// brings the check back up.
func (t *Tracker) Observe(r Result) types.Probe {
	t.last = r
	switch {
	case r.Healthy:
		t.failures = 0
	case !t.starting():
		t.failures++
	}
	return t.Probe()
}

// Probe is the current verdict
func (t *Tracker) Probe() types.Probe {
	if t.failures >= t.policy.Retries {
		return types.ProbeDown
	}
	return types.ProbeUp
}

// Failures is the number of consecutive counted failures
func (t *Tracker) Failures() int { return t.failures }

// Last is the most recent result
func (t *Tracker) Last() Result { return t.last }

func (t *Tracker) starting() bool {
	return t.policy.StartPeriod > 0 && time.Since(t.since) < t.policy.StartPeriod
}

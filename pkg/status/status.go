package status

import (
	"sync"

	"github.com/cuemby/airbyte-operator/pkg/events"
	"github.com/cuemby/airbyte-operator/pkg/log"
	"github.com/cuemby/airbyte-operator/pkg/metrics"
	"github.com/cuemby/airbyte-operator/pkg/types"
	"github.com/rs/zerolog"
)

var allKinds = []string{
	string(types.StatusWaiting),
	string(types.StatusReconciling),
	string(types.StatusDegraded),
	string(types.StatusReady),
	string(types.StatusBlocked),
}

// Sink receives the operator status
type Sink interface {
	Set(status types.Status)
	Current() types.Status
}

// Recorder is the default Sink. It keeps the current status, logs every
// transition and mirrors the status into metrics and the health registry.
type Recorder struct {
	mu      sync.RWMutex
	current types.Status
	events  events.Publisher
	logger  zerolog.Logger
}

// NewRecorder creates a recorder whose initial status is waiting
func NewRecorder() *Recorder {
	r := &Recorder{
		current: types.Waiting("starting"),
		logger:  log.WithComponent("status"),
	}
	metrics.SetOneHot(metrics.Status, string(r.current.Kind), allKinds)
	metrics.RegisterComponent(metrics.ComponentWorkload, false, r.current.String())
	return r
}

// WithEvents publishes status transitions to p
func (r *Recorder) WithEvents(p events.Publisher) *Recorder {
	r.events = p
	return r
}

// Set replaces the current status. Setting the same status again is a no-op.
func (r *Recorder) Set(status types.Status) {
	r.mu.Lock()
	prev := r.current
	r.current = status
	r.mu.Unlock()

	if prev == status {
		return
	}

	var event *zerolog.Event
	switch status.Kind {
	case types.StatusBlocked:
		event = r.logger.Error()
	case types.StatusDegraded:
		event = r.logger.Warn()
	default:
		event = r.logger.Info()
	}
	event.Str("from", prev.String()).Str("to", status.String()).Msg("Status changed")

	metrics.SetOneHot(metrics.Status, string(status.Kind), allKinds)
	metrics.UpdateComponent(metrics.ComponentWorkload, status.Kind == types.StatusReady, status.String())

	if r.events != nil {
		r.events.Publish(events.New(events.EventStatusChanged, status.String(), map[string]string{
			"from": string(prev.Kind),
			"to":   string(status.Kind),
		}))
	}
}

// Current returns the current status
func (r *Recorder) Current() types.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

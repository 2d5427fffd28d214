package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventFactChanged       EventType = "fact.changed"
	EventFactCleared       EventType = "fact.cleared"
	EventConfigChanged     EventType = "config.changed"
	EventReconcileStarted  EventType = "reconcile.started"
	EventReconcileDeferred EventType = "reconcile.deferred"
	EventReconcileFailed   EventType = "reconcile.failed"
	EventReconcileDone     EventType = "reconcile.completed"
	EventBucketsEnsured    EventType = "buckets.ensured"
	EventProcessApplied    EventType = "process.applied"
	EventProcessDegraded   EventType = "process.degraded"
	EventStatusChanged     EventType = "status.changed"
	EventReadyAnnounced    EventType = "ready.announced"
)

// Event represents an operator event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// New builds an event with a fresh ID and the current time
func New(t EventType, message string, metadata map[string]string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now(),
		Message:   message,
		Metadata:  metadata,
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Publisher is what reconciliation components publish through
type Publisher interface {
	Publish(event *Event)
}

const (
	queueSize      = 100
	subscriberSize = 50
)

// Broker fans events out to subscribers from a single goroutine
type Broker struct {
	mu   sync.RWMutex
	subs map[Subscriber]map[EventType]bool // nil filter receives everything

	queue    chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// NewBroker creates a broker; call Start before publishing
func NewBroker() *Broker {
	return &Broker{
		subs:   make(map[Subscriber]map[EventType]bool),
		queue:  make(chan *Event, queueSize),
		stopCh: make(chan struct{}),
	}
}

// Start runs the distribution loop until Stop
func (b *Broker) Start() {
	go func() {
		for {
			select {
			case ev := <-b.queue:
				b.deliver(ev)
			case <-b.stopCh:
				return
			}
		}
	}()
}

// Stop ends distribution. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe returns a channel receiving every event, or only the listed types
func (b *Broker) Subscribe(types ...EventType) Subscriber {
	var filter map[EventType]bool
	if len(types) > 0 {
		filter = make(map[EventType]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}

	sub := make(Subscriber, subscriberSize)
	b.mu.Lock()
	b.subs[sub] = filter
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes sub. Unknown subscribers are ignored.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub)
	}
}

// Publish queues event without blocking. The reconciler publishes while
// holding its lock, so a full queue drops the event and counts it.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.stopCh:
		return
	default:
	}

	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

func (b *Broker) deliver(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, filter := range b.subs {
		if filter != nil && !filter[ev.Type] {
			continue
		}
		select {
		case sub <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped counts events lost to a full queue or a full subscriber
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

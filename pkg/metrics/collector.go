package metrics

import (
	"time"

	"github.com/cuemby/airbyte-operator/pkg/types"
)

// FactSource exposes the currently known facts
type FactSource interface {
	Facts() types.Facts
}

// HealthSource exposes the last supervised health of every process
type HealthSource interface {
	Health() map[string]types.ProcessHealth
}

var healthStates = []string{
	string(types.HealthUnchecked),
	string(types.HealthHealthy),
	string(types.HealthDegraded),
	string(types.HealthUnknown),
}

// Collector periodically samples fact and process state into gauges
type Collector struct {
	facts    FactSource
	health   HealthSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(facts FactSource, health HealthSource) *Collector {
	return &Collector{
		facts:    facts,
		health:   health,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectFactMetrics()
	c.collectProcessMetrics()
}

func (c *Collector) collectFactMetrics() {
	f := c.facts.Facts()

	known := map[types.FactKind]bool{
		types.FactPeer:     f.PeerReady,
		types.FactDatabase: f.Database != nil,
		types.FactMinio:    f.ObjectStores[types.StorageMinio] != nil,
		types.FactS3:       f.ObjectStores[types.StorageS3] != nil,
	}
	for kind, ok := range known {
		value := 0.0
		if ok {
			value = 1
		}
		FactsKnown.WithLabelValues(string(kind)).Set(value)
	}
}

func (c *Collector) collectProcessMetrics() {
	for process, health := range c.health.Health() {
		SetOneHot(ProcessHealth, string(health), healthStates, process)
	}
}

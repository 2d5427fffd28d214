package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fact metrics
	FactsKnown = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "airbyte_operator_facts_known",
			Help: "Whether a fact of the given kind is currently known (1 = known, 0 = absent)",
		},
		[]string{"kind"},
	)

	FactChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airbyte_operator_fact_changes_total",
			Help: "Total number of fact changes by kind and action",
		},
		[]string{"kind", "action"},
	)

	// Reconciliation metrics
	ReconcileCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airbyte_operator_reconcile_cycles_total",
			Help: "Total number of reconciliation cycles by result",
		},
		[]string{"result"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "airbyte_operator_reconcile_duration_seconds",
			Help:    "Time taken by one reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeferredRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "airbyte_operator_deferred_retries_total",
			Help: "Total number of reconciliations rescheduled because the execution surface was unreachable",
		},
	)

	// Process metrics
	ProcessApplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airbyte_operator_process_applies_total",
			Help: "Total number of plan applications by process and outcome",
		},
		[]string{"process", "outcome"},
	)

	ProcessRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airbyte_operator_process_restarts_total",
			Help: "Total number of process restarts caused by a changed plan",
		},
		[]string{"process"},
	)

	ProcessHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "airbyte_operator_process_health",
			Help: "Current health state of each process (1 for the active state)",
		},
		[]string{"process", "state"},
	)

	// Storage metrics
	BucketOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airbyte_operator_bucket_operations_total",
			Help: "Total number of object-storage operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	BucketOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airbyte_operator_bucket_operation_duration_seconds",
			Help:    "Object-storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Status metrics
	Status = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "airbyte_operator_status",
			Help: "Current operator status (1 for the active kind)",
		},
		[]string{"kind"},
	)

	Leader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "airbyte_operator_is_leader",
			Help: "Whether this instance may announce readiness (1 = leader, 0 = follower)",
		},
	)

	Announcements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "airbyte_operator_announcements_total",
			Help: "Total number of readiness announcements",
		},
	)
)

func init() {
	prometheus.MustRegister(FactsKnown)
	prometheus.MustRegister(FactChanges)
	prometheus.MustRegister(ReconcileCycles)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(DeferredRetries)
	prometheus.MustRegister(ProcessApplies)
	prometheus.MustRegister(ProcessRestarts)
	prometheus.MustRegister(ProcessHealth)
	prometheus.MustRegister(BucketOperations)
	prometheus.MustRegister(BucketOperationDuration)
	prometheus.MustRegister(Status)
	prometheus.MustRegister(Leader)
	prometheus.MustRegister(Announcements)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetOneHot sets the series for active to 1 and every other listed value to 0
func SetOneHot(vec *prometheus.GaugeVec, active string, all []string, labels ...string) {
	for _, v := range all {
		value := 0.0
		if v == active {
			value = 1
		}
		vec.WithLabelValues(append(append([]string(nil), labels...), v)...).Set(value)
	}
}

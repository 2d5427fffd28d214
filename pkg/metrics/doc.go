/*
Package metrics exposes the operator's Prometheus collectors and its own
health endpoints.

# Collectors

All collectors are registered with the default registry in init and served
by Handler:

	airbyte_operator_facts_known{kind}
	airbyte_operator_fact_changes_total{kind, action}
	airbyte_operator_reconcile_cycles_total{result}
	airbyte_operator_reconcile_duration_seconds
	airbyte_operator_deferred_retries_total
	airbyte_operator_process_applies_total{process, outcome}
	airbyte_operator_process_restarts_total{process}
	airbyte_operator_process_health{process, state}
	airbyte_operator_bucket_operations_total{operation, result}
	airbyte_operator_bucket_operation_duration_seconds{operation}
	airbyte_operator_status{kind}
	airbyte_operator_is_leader
	airbyte_operator_announcements_total

Gauges that describe a state in a closed set (status kind, process health)
are one-hot: SetOneHot writes 1 for the active value and 0 for the rest.

Collector samples the fact store and the supervised process health every
15 seconds so the gauges stay correct across operator restarts.

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

# Health endpoints

Components register themselves with RegisterComponent and update with
UpdateComponent. HealthHandler reports unhealthy when any component is
unhealthy; ReadyHandler reports ready once every critical component (see
SetCritical) is registered and healthy. LivenessHandler always answers 200
while the process runs.

The health of the managed workload is reported as the non-critical
"workload" component, so a degraded workload shows up on /health without
making the operator itself unready.
*/
package metrics

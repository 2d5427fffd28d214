/*
Package health implements liveness probes and the supervisor that turns
probe results into process health.

# Checkers

HTTPChecker and TCPChecker implement Checker. ForHealthCheck builds the HTTP
checker for a plan's declared probe. A Tracker folds consecutive results so
a single failed probe does not mark a process down; it takes Policy.Retries
failures in a row, and failures inside Policy.StartPeriod are not counted.

# Supervisor

Supervisor.Check walks the processes in order and assigns each one a state:

	not applied yet                       degraded, drift
	enabled but not running               degraded, drift
	no health check declared              healthy
	installed plan missing or unmarked    degraded, drift
	probe up                              healthy
	probe down                            degraded
	plan or probe unavailable             unknown

The Report aggregates with fixed precedence. The first process whose probe is
down is reported as degraded, even when others drifted; otherwise any drift
asks for a reconcile; otherwise any unknown process leaves the current status
as it is; otherwise everything is ready. The supervisor keeps the last state
of each process in memory; nothing it learns is written to applied state.
*/
package health

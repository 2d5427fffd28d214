/*
Package runtime defines the execution surface the operator drives and a
local implementation of it.

The Runtime interface covers reachability, the installed
plan, install, restart, whether a process runs, a liveness probe and file
staging. The applier and
the health supervisor only talk to a Runtime, so any process manager that can
offer these operations can host the workload.

# Local

Local supervises each process as a child of the operator:

	<root>/<process>/plan.json     installed plan
	<root>/<process>/rootfs/       working directory, target of PushFile
	<root>/<process>/output.log    combined stdout and stderr

A process is reachable once its directory exists; Prepare creates them all.
Restart sends SIGTERM to the process group, waits StopTimeout, then kills.
A child that exits on its own is started again from the installed plan after
RestartBackoff, doubling per quick exit up to 30 seconds. Children stopped
through Restart or Stop are not relaunched.

ProbeHealth issues the plan's HTTP check through pkg/health. A check turns
down only after health.DefaultPolicy().Retries consecutive failures, so a
process that is still starting is reported up rather than flapping. A child
that has exited is down at once.
*/
package runtime

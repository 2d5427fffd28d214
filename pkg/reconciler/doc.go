/*
Package reconciler is the reconciliation engine.

Four entry points feed it: OnFactChanged, OnConfigChanged, Reconcile and
OnTick. All of them serialize on one mutex, so a cycle always runs to
completion before the next one starts.

A cycle takes a Snapshot from the fact store and walks these steps, stopping
at the first that does not succeed:

	validate        waiting: <reason>   or  blocked: <config error>
	ensure buckets  blocked: failed to create buckets: <err>
	build plans     blocked: <err>
	apply plans     blocked: failed to apply <process>: <err>
	                or Result.Deferred when a process is unreachable
	supervise       ready | degraded: <process> | unchanged

OnTick only supervises and never writes applied state. When it finds a
process whose installed plan drifted, or an enabled process that is not
running, it reports reconciling and runs a full cycle in the same call. A
process that fails its probe leaves the status at degraded without a
reconcile, and it takes precedence over drift elsewhere.

The reconciler never sleeps. A deferred result is handed back to the caller,
normally the scheduler, which retries later.
*/
package reconciler

// Package scheduler serializes every input to the reconciler.
//
// Fact and configuration changes are queued by their producers, a cron
// schedule queues health ticks, and a deferred reconciliation queues its own
// retry through a rate limiter. One goroutine drains the queue, so the
// reconciler only ever sees one call at a time.
package scheduler

/*
Package events provides an in-memory broker for operator events.

Reconciliation publishes what it did (facts changed, buckets ensured,
processes applied or restarted, status transitions) and any number of
subscribers receive a copy. The CLI subscribes to log events at debug level.

Publishing is non-blocking. Events go through a queue of 100 and are fanned
out to per-subscriber buffers of 50; a slow subscriber misses events rather
than stalling the reconciler.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Publish(events.New(events.EventStatusChanged, "ready", nil))
	ev := <-sub
*/
package events

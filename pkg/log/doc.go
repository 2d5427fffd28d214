/*
Package log provides structured logging for the operator using zerolog.

A single global zerolog.Logger is configured once through Init and shared by
every package. Packages derive child loggers that carry a stable context field
so reconciliation cycles can be followed across components.

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Level filters messages below the threshold. JSONOutput selects JSON lines
(production) over the human-readable console writer. Output defaults to
os.Stdout. Until Init runs the global logger discards everything, which keeps
package tests quiet.

# Context Loggers

  - WithComponent: component name ("reconciler", "applier", "buckets")
  - WithProcess: managed process name ("airbyte-server")
  - WithFactKind: fact category ("database", "s3")
  - WithBucket: object-storage bucket name

	logger := log.WithComponent("applier")
	logger.Info().Str("process", name).Msg("Plan installed")

# Levels

Waiting states (a relation not yet ready) are expected and log at info.
Deferred cycles log at warn. Provisioning and apply failures log at error
with the wrapped error attached via Err.
*/
package log

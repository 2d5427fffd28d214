/*
Package types defines the data model shared by every part of the operator.

It holds the vocabulary the reconciliation engine speaks: the facts that
collaborators deliver, the per-process plans derived from them, the record of
what was last applied, and the closed set of statuses reported to operators.

# Facts

A Fact is one piece of externally sourced state, tagged by FactKind:

  - FactPeer: peer coordination is established (PeerReady)
  - FactDatabase: relational database connection (DatabaseConnection)
  - FactMinio: in-cluster object storage connection (ObjectStoreConnection)
  - FactS3: external S3 connection (ObjectStoreConnection)

Facts are replaced or removed whole. A connection never changes field by
field, so readers never see a mix of old and new credentials.

# Plans

ProcessPlan is the desired state of a single managed process: command,
environment, optional health check, the check-failure policy marker and any
files that must be staged before start. Plans are always derived and compared
with ProcessPlan.Equal; they are never edited by hand.

	plan := &types.ProcessPlan{
		Name:    "airbyte-server",
		Command: "/bin/bash -c airbyte-app/bin/airbyte-server",
		Environment: map[string]string{
			"LOG_LEVEL": "INFO",
		},
		HealthCheck:    &types.HealthCheck{Port: 8001, Path: "/api/v1/health"},
		OnCheckFailure: map[string]string{types.CheckUp: types.CheckActionIgnore},
	}

# Status

Status values render as "<kind>" or "<kind>: <message>":

	waiting: peer relation not ready
	reconciling
	degraded: airbyte-workers
	ready
	blocked: failed to create buckets: access denied
*/
package types

/*
Package storage persists the operator state that must survive a restart of
the operator process: the last known facts and the per-process applied state.

# Architecture

BoltStore keeps everything in a single bbolt file, <dataDir>/operator.db,
with one bucket per record type:

	┌─────────────────────────────────────────┐
	│              operator.db                │
	│  ┌───────────┐   ┌──────────────────┐   │
	│  │  facts    │   │  applied         │   │
	│  │ (kind)    │   │ (process name)   │   │
	│  └───────────┘   └──────────────────┘   │
	└─────────────────────────────────────────┘

Values are JSON documents. Writes go through db.Update and are fsynced before
returning, so the fact store can save on every write and load once at start.

Backup writes a consistent copy of the file from a read transaction and is
used before state migrations.

MemoryStore implements the same interface without touching disk and is used
for dry runs and package tests.

# Usage

	store, err := storage.NewBoltStore("/var/lib/airbyte-operator")
	if err != nil {
		return err
	}
	defer store.Close()

	_ = store.SaveFact(types.Fact{Kind: types.FactPeer, PeerReady: true})

	state, err := store.GetApplied("airbyte-server")
	if errors.Is(err, storage.ErrNotFound) {
		// never applied
	}
*/
package storage

// Package facts holds the last known value of every externally delivered fact
// and produces the immutable Snapshot each reconciliation runs against.
//
// Writes replace a fact as a whole and are persisted through storage.Store
// before they become visible. Snapshot copies under a read lock, so a
// concurrent Set can never produce a snapshot holding half of an old
// connection and half of a new one.
package facts

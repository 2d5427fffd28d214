/*
Package plan derives the desired state of every managed process from a
validated snapshot.

Building a plan is a pure function of the snapshot: the same snapshot always
yields byte-identical plans, which is what lets the applier skip restarts when
nothing changed.

# Environment

Each process environment is assembled in layers, later layers winning:

  - a base layer from the configuration and the database connection
  - the keys of exactly one object-storage branch, selected by storage-type
  - proxy settings, including JVM proxy properties
  - a small set of per-process overrides for processes that reach the
    internal API from a different network vantage point

Unset options are left out entirely rather than rendered as empty strings.
All values are strings.

# Catalog

The process catalog fixes the launch command, the liveness probe and any
files a process needs. Probed processes carry the check-failure marker that
the health supervisor looks for when it verifies an installed plan.
*/
package plan

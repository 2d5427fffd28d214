// Package validate decides whether a fact snapshot is complete enough for the
// reconciler to act on.
//
// Validate is a pure function. It never logs and never returns an error for a
// missing fact: a missing dependency is a NotReady verdict with a reason, and a
// broken configuration is an Invalid verdict. Checks run in a fixed order:
//
//  1. configuration (enum domains, non-negative TTLs, cross-field rules)
//  2. peer coordination
//  3. database connection
//  4. connection for the configured storage type
//  5. required fields of that connection, all missing ones listed
package validate

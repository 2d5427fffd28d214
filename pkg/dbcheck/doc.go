// Package dbcheck verifies that a delivered database connection works.
//
// It is a diagnostic used by the check-db command; reconciliation never
// blocks on it because the managed processes run their own migrations.
package dbcheck

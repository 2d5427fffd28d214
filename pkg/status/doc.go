// Package status records the operator status and announces server
// readiness.
//
// The Recorder is the single place the status changes; it logs each
// transition and keeps the airbyte_operator_status gauge and the workload
// health component in step. The leader additionally announces
// {server_name, server_status} through an Announcer once the workload is
// ready.
package status

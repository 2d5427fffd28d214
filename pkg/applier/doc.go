// Package applier converges processes onto their plans.
//
// Apply is idempotent: a second call with the same plan does nothing once
// the runtime reports the plan as installed. The applier is the only writer
// of AppliedState.
package applier

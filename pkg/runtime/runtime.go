package runtime

import (
	"context"
	"errors"

	"github.com/cuemby/airbyte-operator/pkg/types"
)

// ErrUnknownProcess is returned for a process the runtime does not manage
var ErrUnknownProcess = errors.New("unknown process")

// Runtime is the execution surface that runs the managed processes
type Runtime interface {
	// CanReach reports whether the process's execution environment accepts
	// commands right now
	CanReach(ctx context.Context, process string) bool

	// InstalledPlan returns the plan the runtime currently runs for the
	// process, or nil when none is installed
	InstalledPlan(ctx context.Context, process string) (*types.ProcessPlan, error)

	// InstallPlan replaces the installed plan without restarting
	InstallPlan(ctx context.Context, plan *types.ProcessPlan) error

	// Restart stops the process if it runs and starts it from the installed plan
	Restart(ctx context.Context, process string) error

	// Running reports whether the process was started and has not exited
	Running(ctx context.Context, process string) (bool, error)

	// ProbeHealth runs the installed plan's liveness check
	ProbeHealth(ctx context.Context, process string) (types.Probe, error)

	FileExists(ctx context.Context, process, path string) (bool, error)
	PushFile(ctx context.Context, process string, file types.File) error
}

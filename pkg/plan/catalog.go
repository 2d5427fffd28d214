package plan

import (
	"slices"
	"time"

	"github.com/cuemby/airbyte-operator/pkg/types"
)

const (
	ConnectorBuilderServerPort = 80
	InternalAPIPort            = 8001
	AirbyteAPIPort             = 8006
	WorkloadAPIPort            = 8007

	// Version is the server release the plans are built for
	Version = "0.63.8"

	// CheckPeriod is how often a process health check runs
	CheckPeriod = 10 * time.Second
)

const (
	APIServer              = "airbyte-api-server"
	Bootloader             = "airbyte-bootloader"
	ConnectorBuilderServer = "airbyte-connector-builder-server"
	Cron                   = "airbyte-cron"
	PodSweeper             = "airbyte-pod-sweeper"
	Server                 = "airbyte-server"
	Workers                = "airbyte-workers"
	WorkloadAPIServer      = "airbyte-workload-api-server"
	WorkloadLauncher       = "airbyte-workload-launcher"
)

type probe struct {
	port int
	path string
}

type process struct {
	name  string
	check *probe
}

// catalog is ordered; plans are applied in this order
var catalog = []process{
	{name: APIServer, check: &probe{port: AirbyteAPIPort, path: "/health"}},
	{name: Bootloader},
	{name: ConnectorBuilderServer},
	{name: Cron, check: &probe{port: 9001, path: "/health"}},
	{name: PodSweeper},
	{name: Server, check: &probe{port: InternalAPIPort, path: "/api/v1/health"}},
	{name: Workers, check: &probe{port: 9000, path: "/"}},
	{name: WorkloadAPIServer, check: &probe{port: WorkloadAPIPort, path: "/health"}},
	{name: WorkloadLauncher, check: &probe{port: 8016, path: "/health"}},
}

// Processes returns the name of every managed process in apply order
func Processes() []string {
	names := make([]string, 0, len(catalog))
	for _, p := range catalog {
		names = append(names, p.name)
	}
	return names
}

// Known reports whether name is a managed process
func Known(name string) bool {
	return lookup(name) != nil
}

// Ports returns the ports the workload listens on
func Ports() []int {
	return []int{ConnectorBuilderServerPort, InternalAPIPort, AirbyteAPIPort, WorkloadAPIPort}
}

// Command returns the launch command for a process
func Command(name string) string {
	return "/bin/bash -c airbyte-app/bin/" + name
}

// HealthCheckFor returns the liveness probe declared for a process, or nil
// when the process is not probed
func HealthCheckFor(name string) *types.HealthCheck {
	p := lookup(name)
	if p == nil || p.check == nil {
		return nil
	}
	return &types.HealthCheck{Port: p.check.port, Path: p.check.path, Period: CheckPeriod}
}

func lookup(name string) *process {
	i := slices.IndexFunc(catalog, func(p process) bool { return p.name == name })
	if i < 0 {
		return nil
	}
	return &catalog[i]
}

package types

import (
	"maps"
	"slices"
	"time"
)

// FactKind identifies one category of externally delivered state
type FactKind string

const (
	FactPeer     FactKind = "peer"
	FactDatabase FactKind = "database"
	FactMinio    FactKind = "minio"
	FactS3       FactKind = "s3"
)

// FactKinds lists every fact kind in a stable order
var FactKinds = []FactKind{FactPeer, FactDatabase, FactMinio, FactS3}

// Valid reports whether k is a known fact kind
func (k FactKind) Valid() bool {
	return slices.Contains(FactKinds, k)
}

// StorageType selects which object-storage provider is authoritative
type StorageType string

const (
	StorageMinio StorageType = "minio"
	StorageS3    StorageType = "s3"
)

// FactKind returns the fact kind that carries connections for this storage type
func (s StorageType) FactKind() FactKind {
	switch s {
	case StorageMinio:
		return FactMinio
	case StorageS3:
		return FactS3
	}
	return ""
}

// Fact is a single piece of externally sourced state. Exactly one payload
// field is meaningful, selected by Kind. Facts are replaced or removed
// as a whole.
type Fact struct {
	Kind        FactKind               `json:"kind"`
	PeerReady   bool                   `json:"peer_ready,omitempty"`
	Database    *DatabaseConnection    `json:"database,omitempty"`
	ObjectStore *ObjectStoreConnection `json:"object_store,omitempty"`
}

// DatabaseConnection describes the relational database the workload uses
type DatabaseConnection struct {
	Host     string `json:"host" yaml:"host"`
	Port     string `json:"port" yaml:"port"`
	Name     string `json:"name" yaml:"name"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

// ObjectStoreConnection describes an S3-compatible endpoint and its credentials
type ObjectStoreConnection struct {
	Kind      StorageType `json:"kind" yaml:"kind"`
	Endpoint  string      `json:"endpoint" yaml:"endpoint"`
	AccessKey string      `json:"access_key" yaml:"access-key"`
	SecretKey string      `json:"secret_key" yaml:"secret-key"`
	Region    string      `json:"region" yaml:"region"`
	PathStyle bool        `json:"path_style" yaml:"path-style"`
	Bucket    string      `json:"bucket,omitempty" yaml:"bucket"`
}

// Clone returns a deep copy of the fact
func (f Fact) Clone() Fact {
	out := Fact{Kind: f.Kind, PeerReady: f.PeerReady}
	if f.Database != nil {
		db := *f.Database
		out.Database = &db
	}
	if f.ObjectStore != nil {
		store := *f.ObjectStore
		out.ObjectStore = &store
	}
	return out
}

// Facts is a point-in-time copy of every known fact
type Facts struct {
	PeerReady    bool
	Database     *DatabaseConnection
	ObjectStores map[StorageType]*ObjectStoreConnection
}

// HealthCheck declares how a process reports liveness
type HealthCheck struct {
	Port   int           `json:"port"`
	Path   string        `json:"path"`
	Period time.Duration `json:"period"`
}

// File is an artifact staged onto a process filesystem before it starts
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Mode    uint32 `json:"mode"`
}

// CheckActionIgnore keeps a process running when its check fails
const CheckActionIgnore = "ignore"

// CheckUp names the liveness check attached to every probed process
const CheckUp = "up"

// ProcessPlan is the desired state of one managed process
type ProcessPlan struct {
	Name           string            `json:"name"`
	Summary        string            `json:"summary"`
	Command        string            `json:"command"`
	Startup        string            `json:"startup"`
	Override       string            `json:"override"`
	Environment    map[string]string `json:"environment"`
	HealthCheck    *HealthCheck      `json:"health_check,omitempty"`
	OnCheckFailure map[string]string `json:"on_check_failure,omitempty"`
	Files          []File            `json:"files,omitempty"`
}

// Equal reports whether two plans would produce the same running process
func (p *ProcessPlan) Equal(o *ProcessPlan) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Name != o.Name || p.Summary != o.Summary || p.Command != o.Command ||
		p.Startup != o.Startup || p.Override != o.Override {
		return false
	}
	if !maps.Equal(p.Environment, o.Environment) || !maps.Equal(p.OnCheckFailure, o.OnCheckFailure) {
		return false
	}
	if (p.HealthCheck == nil) != (o.HealthCheck == nil) {
		return false
	}
	if p.HealthCheck != nil && *p.HealthCheck != *o.HealthCheck {
		return false
	}
	return slices.Equal(p.Files, o.Files)
}

// Enabled reports whether the plan's process should be running. An empty
// startup counts as enabled.
func (p *ProcessPlan) Enabled() bool {
	return p != nil && (p.Startup == "" || p.Startup == "enabled")
}

// HasRestartMarker reports whether the plan carries the check-failure policy
// that every probed process must declare
func (p *ProcessPlan) HasRestartMarker() bool {
	if p == nil {
		return false
	}
	return p.OnCheckFailure[CheckUp] != ""
}

// Clone returns a deep copy of the plan
func (p *ProcessPlan) Clone() *ProcessPlan {
	if p == nil {
		return nil
	}
	out := *p
	out.Environment = maps.Clone(p.Environment)
	out.OnCheckFailure = maps.Clone(p.OnCheckFailure)
	out.Files = slices.Clone(p.Files)
	if p.HealthCheck != nil {
		hc := *p.HealthCheck
		out.HealthCheck = &hc
	}
	return &out
}

// ProcessHealth is the health-supervision state of a process
type ProcessHealth string

const (
	HealthUnchecked ProcessHealth = "unchecked"
	HealthHealthy   ProcessHealth = "healthy"
	HealthDegraded  ProcessHealth = "degraded"
	HealthUnknown   ProcessHealth = "unknown"
)

// AppliedState records the plan last installed for a process. Health is
// not part of it; the supervisor keeps that in memory.
type AppliedState struct {
	Plan      *ProcessPlan `json:"plan"`
	AppliedAt time.Time    `json:"applied_at"`
}

// Probe is the result of a liveness probe
type Probe string

const (
	ProbeUp      Probe = "up"
	ProbeDown    Probe = "down"
	ProbeUnknown Probe = "unknown"
)

// StatusKind is the closed set of operator-facing states
type StatusKind string

const (
	StatusWaiting     StatusKind = "waiting"
	StatusReconciling StatusKind = "reconciling"
	StatusDegraded    StatusKind = "degraded"
	StatusReady       StatusKind = "ready"
	StatusBlocked     StatusKind = "blocked"
)

// Status is what the operator reports to its status sink
type Status struct {
	Kind    StatusKind
	Message string
}

// String renders the status as "<kind>: <message>" or just "<kind>"
func (s Status) String() string {
	if s.Message == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ": " + s.Message
}

// Waiting builds a waiting status
func Waiting(reason string) Status { return Status{Kind: StatusWaiting, Message: reason} }

// Blocked builds a blocked status
func Blocked(reason string) Status { return Status{Kind: StatusBlocked, Message: reason} }

// Degraded builds a degraded status naming the failing process
func Degraded(process string) Status { return Status{Kind: StatusDegraded, Message: process} }

var (
	Reconciling = Status{Kind: StatusReconciling}
	Ready       = Status{Kind: StatusReady}
)

package validate

import (
	"fmt"
	"strings"

	"github.com/cuemby/airbyte-operator/pkg/facts"
	"github.com/cuemby/airbyte-operator/pkg/types"
)

// Verdict classifies a snapshot
type Verdict string

const (
	// Ready means the snapshot is complete enough to act on
	Ready Verdict = "ready"
	// NotReady means an external fact is still missing; wait for it
	NotReady Verdict = "not-ready"
	// Invalid means the configuration itself is wrong; waiting will not help
	Invalid Verdict = "invalid"
)

// Result is the outcome of validating one snapshot
type Result struct {
	Verdict Verdict
	Reason  string
}

// IsReady reports whether the snapshot may be acted on
func (r Result) IsReady() bool { return r.Verdict == Ready }

// Status maps the result onto the operator-facing status
func (r Result) Status() types.Status {
	switch r.Verdict {
	case NotReady:
		return types.Waiting(r.Reason)
	case Invalid:
		return types.Blocked(r.Reason)
	}
	return types.Reconciling
}

var requiredParameters = map[types.StorageType][]string{
	types.StorageS3:    {"region", "endpoint", "access-key", "secret-key"},
	types.StorageMinio: {"endpoint", "access-key", "secret-key"},
}

// RequiredParameters lists the connection fields a storage type must carry,
// in reporting order
func RequiredParameters(kind types.StorageType) []string {
	return append([]string(nil), requiredParameters[kind]...)
}

// Validate decides whether a snapshot is ready. Checks run in a fixed order
// and the first failure wins, so the same snapshot always yields the same
// reason.
func Validate(snap facts.Snapshot) Result {
	if snap.Config == nil {
		return Result{Verdict: Invalid, Reason: "configuration not loaded"}
	}
	if err := snap.Config.Validate(); err != nil {
		return Result{Verdict: Invalid, Reason: err.Error()}
	}

	if !snap.PeerReady {
		return notReady("peer relation not ready")
	}

	if snap.Database == nil {
		return notReady("database relation not ready")
	}

	kind := snap.StorageType()
	if snap.ObjectStore == nil {
		return notReady(fmt.Sprintf("%s relation not ready", kind))
	}

	if missing := MissingParameters(snap.ObjectStore, kind); len(missing) > 0 {
		return notReady(fmt.Sprintf("%s: missing parameters [%s]", kind, strings.Join(missing, ", ")))
	}

	return Result{Verdict: Ready}
}

// MissingParameters returns every required field the connection lacks
func MissingParameters(conn *types.ObjectStoreConnection, kind types.StorageType) []string {
	var missing []string
	for _, param := range requiredParameters[kind] {
		if strings.TrimSpace(field(conn, param)) == "" {
			missing = append(missing, param)
		}
	}
	return missing
}

func field(conn *types.ObjectStoreConnection, param string) string {
	switch param {
	case "region":
		return conn.Region
	case "endpoint":
		return conn.Endpoint
	case "access-key":
		return conn.AccessKey
	case "secret-key":
		return conn.SecretKey
	}
	return ""
}

func notReady(reason string) Result {
	return Result{Verdict: NotReady, Reason: reason}
}

package metrics

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Components registered by the operator
const (
	ComponentStorage    = "storage"
	ComponentReconciler = "reconciler"
	ComponentRelations  = "relations"
	ComponentWorkload   = "workload"
)

// Values of HealthStatus.Status
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the body served by the health and readiness endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth is the last reported state of one component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

type componentRegistry struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   []string
	started    time.Time
	version    string
}

func newRegistry(critical ...string) *componentRegistry {
	return &componentRegistry{
		components: make(map[string]ComponentHealth),
		critical:   critical,
		started:    time.Now(),
	}
}

var registry = newRegistry(ComponentStorage, ComponentReconciler)

// SetVersion sets the version reported by the health endpoints
func SetVersion(version string) {
	registry.mu.Lock()
	registry.version = version
	registry.mu.Unlock()
}

// SetCritical replaces the components that must be healthy for the operator
// to report ready
func SetCritical(names ...string) {
	registry.mu.Lock()
	registry.critical = slices.Clone(names)
	registry.mu.Unlock()
}

// RegisterComponent records the state of a component, adding it if new
func RegisterComponent(name string, healthy bool, message string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent is RegisterComponent under the name callers use after start
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// GetHealth reports unhealthy when any registered component is unhealthy
func GetHealth() HealthStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	out := registry.status(StatusHealthy)
	for name, c := range registry.components {
		if c.Healthy {
			out.Components[name] = StatusHealthy
			continue
		}
		out.Status = StatusUnhealthy
		out.Components[name] = StatusUnhealthy + ": " + c.Message
	}
	return out
}

// GetReadiness reports ready once every critical component is registered
// and healthy. Non-critical components, the workload included, are ignored.
func GetReadiness() HealthStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	out := registry.status(StatusReady)
	for _, name := range registry.critical {
		c, ok := registry.components[name]
		switch {
		case !ok:
			out.Status = StatusNotReady
			out.Message = "waiting for " + name + " initialization"
			out.Components[name] = "not registered"
		case !c.Healthy:
			out.Status = StatusNotReady
			out.Message = "waiting for " + name
			out.Components[name] = "not ready: " + c.Message
		default:
			out.Components[name] = StatusReady
		}
	}
	return out
}

// status must be called with mu held
func (r *componentRegistry) status(initial string) HealthStatus {
	return HealthStatus{
		Status:     initial,
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(r.components)),
		Version:    r.version,
		Uptime:     time.Since(r.started).Round(time.Second).String(),
	}
}

// HealthHandler serves GetHealth, answering 503 when unhealthy
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h := GetHealth()
		writeJSON(w, h.Status == StatusHealthy, h)
	}
}

// ReadyHandler serves GetReadiness, answering 503 until ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		r := GetReadiness()
		writeJSON(w, r.Status == StatusReady, r)
	}
}

// LivenessHandler answers 200 for as long as the operator can serve HTTP
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		registry.mu.RLock()
		uptime := time.Since(registry.started).Round(time.Second).String()
		registry.mu.RUnlock()
		writeJSON(w, true, map[string]string{"status": "alive", "uptime": uptime})
	}
}

func writeJSON(w http.ResponseWriter, ok bool, body any) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}

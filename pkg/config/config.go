package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cuemby/airbyte-operator/pkg/types"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when the configuration fails validation
var ErrInvalid = errors.New("invalid configuration")

// LogLevel is the workload log level
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
	LogLevelFatal   LogLevel = "FATAL"
)

var logLevels = []LogLevel{LogLevelInfo, LogLevelDebug, LogLevelWarning, LogLevelError, LogLevelFatal}

var storageTypes = []types.StorageType{types.StorageMinio, types.StorageS3}

// bucket names as accepted by S3 and MinIO
var bucketNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-]{1,61}[a-z0-9]$`)

// Config is the user-supplied configuration handed to each reconciliation.
// Pointer fields are optional; nil means unset and the matching environment
// key is omitted from process plans.
type Config struct {
	LogLevel        LogLevel          `yaml:"log-level" toml:"log-level"`
	TemporalHost    string            `yaml:"temporal-host" toml:"temporal-host"`
	WebappURL       string            `yaml:"webapp-url" toml:"webapp-url"`
	ApplicationName string            `yaml:"application-name" toml:"application-name"`
	Namespace       string            `yaml:"namespace" toml:"namespace"`
	StorageType     types.StorageType `yaml:"storage-type" toml:"storage-type"`

	StorageBucketLogs            string `yaml:"storage-bucket-logs" toml:"storage-bucket-logs"`
	StorageBucketState           string `yaml:"storage-bucket-state" toml:"storage-bucket-state"`
	StorageBucketActivityPayload string `yaml:"storage-bucket-activity-payload" toml:"storage-bucket-activity-payload"`
	StorageBucketWorkloadOutput  string `yaml:"storage-bucket-workload-output" toml:"storage-bucket-workload-output"`

	// LogsTTL is the expiry of the log bucket in days, 0 keeps logs forever
	LogsTTL int `yaml:"logs-ttl" toml:"logs-ttl"`

	PodRunningTTLMinutes      int `yaml:"pod-running-ttl-minutes" toml:"pod-running-ttl-minutes"`
	PodSuccessfulTTLMinutes   int `yaml:"pod-successful-ttl-minutes" toml:"pod-successful-ttl-minutes"`
	PodUnsuccessfulTTLMinutes int `yaml:"pod-unsuccessful-ttl-minutes" toml:"pod-unsuccessful-ttl-minutes"`

	TemporalHistoryRetentionInDays *int `yaml:"temporal-history-retention-in-days" toml:"temporal-history-retention-in-days"`

	MaxSyncWorkers     *int `yaml:"max-sync-workers" toml:"max-sync-workers"`
	MaxSpecWorkers     *int `yaml:"max-spec-workers" toml:"max-spec-workers"`
	MaxCheckWorkers    *int `yaml:"max-check-workers" toml:"max-check-workers"`
	MaxDiscoverWorkers *int `yaml:"max-discover-workers" toml:"max-discover-workers"`

	JobMainContainerCPURequest    *string `yaml:"job-main-container-cpu-request" toml:"job-main-container-cpu-request"`
	JobMainContainerCPULimit      *string `yaml:"job-main-container-cpu-limit" toml:"job-main-container-cpu-limit"`
	JobMainContainerMemoryRequest *string `yaml:"job-main-container-memory-request" toml:"job-main-container-memory-request"`
	JobMainContainerMemoryLimit   *string `yaml:"job-main-container-memory-limit" toml:"job-main-container-memory-limit"`

	SyncJobRetriesCompleteFailuresMaxSuccessive       *int `yaml:"sync-job-retries-complete-failures-max-successive" toml:"sync-job-retries-complete-failures-max-successive"`
	SyncJobRetriesCompleteFailuresMaxTotal            *int `yaml:"sync-job-retries-complete-failures-max-total" toml:"sync-job-retries-complete-failures-max-total"`
	SyncJobRetriesCompleteFailuresBackoffMinIntervalS *int `yaml:"sync-job-retries-complete-failures-backoff-min-interval-s" toml:"sync-job-retries-complete-failures-backoff-min-interval-s"`
	SyncJobRetriesCompleteFailuresBackoffMaxIntervalS *int `yaml:"sync-job-retries-complete-failures-backoff-max-interval-s" toml:"sync-job-retries-complete-failures-backoff-max-interval-s"`
	SyncJobRetriesCompleteFailuresBackoffBase         *int `yaml:"sync-job-retries-complete-failures-backoff-base" toml:"sync-job-retries-complete-failures-backoff-base"`
	SyncJobRetriesPartialFailuresMaxSuccessive        *int `yaml:"sync-job-retries-partial-failures-max-successive" toml:"sync-job-retries-partial-failures-max-successive"`
	SyncJobRetriesPartialFailuresMaxTotal             *int `yaml:"sync-job-retries-partial-failures-max-total" toml:"sync-job-retries-partial-failures-max-total"`

	HeartbeatMaxSecondsBetweenMessages *int  `yaml:"heartbeat-max-seconds-between-messages" toml:"heartbeat-max-seconds-between-messages"`
	HeartbeatFailSync                  *bool `yaml:"heartbeat-fail-sync" toml:"heartbeat-fail-sync"`
	DestinationTimeoutMaxSeconds       *int  `yaml:"destination-timeout-max-seconds" toml:"destination-timeout-max-seconds"`
	DestinationTimeoutFailSync         *bool `yaml:"destination-timeout-fail-sync" toml:"destination-timeout-fail-sync"`

	HTTPProxy  *string `yaml:"http-proxy" toml:"http-proxy"`
	HTTPSProxy *string `yaml:"https-proxy" toml:"https-proxy"`
	NoProxy    *string `yaml:"no-proxy" toml:"no-proxy"`
}

// Default returns the configuration used when an option is not supplied
func Default() *Config {
	return &Config{
		LogLevel:                     LogLevelInfo,
		TemporalHost:                 "temporal-k8s:7233",
		WebappURL:                    "http://airbyte-ui-k8s:8080",
		ApplicationName:              "airbyte-k8s",
		Namespace:                    "airbyte",
		StorageType:                  types.StorageMinio,
		StorageBucketLogs:            "airbyte-dev-logs",
		StorageBucketState:           "airbyte-state-storage",
		StorageBucketActivityPayload: "airbyte-payload-storage",
		StorageBucketWorkloadOutput:  "airbyte-state-storage",
		LogsTTL:                      30,
		PodRunningTTLMinutes:         240,
		PodSuccessfulTTLMinutes:      30,
		PodUnsuccessfulTTLMinutes:    1440,

		TemporalHistoryRetentionInDays: Int(30),
		MaxSyncWorkers:                 Int(5),
		MaxSpecWorkers:                 Int(5),
		MaxCheckWorkers:                Int(5),
		MaxDiscoverWorkers:             Int(5),

		SyncJobRetriesCompleteFailuresMaxSuccessive:       Int(5),
		SyncJobRetriesCompleteFailuresMaxTotal:            Int(10),
		SyncJobRetriesCompleteFailuresBackoffMinIntervalS: Int(10),
		SyncJobRetriesCompleteFailuresBackoffMaxIntervalS: Int(1800),
		SyncJobRetriesCompleteFailuresBackoffBase:         Int(3),
		SyncJobRetriesPartialFailuresMaxSuccessive:        Int(1000),
		SyncJobRetriesPartialFailuresMaxTotal:             Int(20),
	}
}

// Int returns a pointer to v
func Int(v int) *int { return &v }

// String returns a pointer to v
func String(v string) *string { return &v }

// Bool returns a pointer to v
func Bool(v bool) *bool { return &v }

// Load reads a YAML or TOML configuration file on top of Default, fills
// proxy settings from the environment when the file leaves them unset, and
// validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: unknown option %q", ErrInvalid, undecoded[0].String())
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.ProxyFromEnv(os.Getenv)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProxyFromEnv fills unset proxy options from HTTP_PROXY, HTTPS_PROXY and NO_PROXY
func (c *Config) ProxyFromEnv(getenv func(string) string) {
	fill := func(dst **string, keys ...string) {
		if *dst != nil {
			return
		}
		for _, key := range keys {
			if v := getenv(key); v != "" {
				*dst = String(v)
				return
			}
		}
	}
	fill(&c.HTTPProxy, "HTTP_PROXY", "http_proxy")
	fill(&c.HTTPSProxy, "HTTPS_PROXY", "https_proxy")
	fill(&c.NoProxy, "NO_PROXY", "no_proxy")
}

// Normalize trims whitespace and turns blank optional strings into unset
func (c *Config) Normalize() {
	for _, s := range []*string{
		&c.TemporalHost, &c.WebappURL, &c.ApplicationName, &c.Namespace,
		&c.StorageBucketLogs, &c.StorageBucketState,
		&c.StorageBucketActivityPayload, &c.StorageBucketWorkloadOutput,
	} {
		*s = strings.TrimSpace(*s)
	}
	for _, p := range []**string{
		&c.JobMainContainerCPURequest, &c.JobMainContainerCPULimit,
		&c.JobMainContainerMemoryRequest, &c.JobMainContainerMemoryLimit,
		&c.HTTPProxy, &c.HTTPSProxy, &c.NoProxy,
	} {
		if *p == nil {
			continue
		}
		if v := strings.TrimSpace(**p); v == "" {
			*p = nil
		} else {
			*p = String(v)
		}
	}
}

// Validate checks enum membership, numeric ranges and cross-field
// consistency. Every problem is reported, not just the first.
func (c *Config) Validate() error {
	var problems []string

	if !slices.Contains(logLevels, c.LogLevel) {
		problems = append(problems, fmt.Sprintf("log-level %q is not one of %v", c.LogLevel, logLevels))
	}
	if !slices.Contains(storageTypes, c.StorageType) {
		problems = append(problems, fmt.Sprintf("storage-type %q is not one of %v", c.StorageType, storageTypes))
	}

	required := []option{
		{"temporal-host", c.TemporalHost},
		{"application-name", c.ApplicationName},
		{"namespace", c.Namespace},
	}
	for _, r := range required {
		if r.value == "" {
			problems = append(problems, r.name+" must be set")
		}
	}

	for _, b := range c.bucketOptions() {
		if !bucketNameRe.MatchString(b.value) {
			problems = append(problems, fmt.Sprintf("%s %q is not a valid bucket name", b.name, b.value))
		}
	}

	nonNegative := []struct {
		name  string
		value *int
	}{
		{"logs-ttl", &c.LogsTTL},
		{"pod-running-ttl-minutes", &c.PodRunningTTLMinutes},
		{"pod-successful-ttl-minutes", &c.PodSuccessfulTTLMinutes},
		{"pod-unsuccessful-ttl-minutes", &c.PodUnsuccessfulTTLMinutes},
		{"temporal-history-retention-in-days", c.TemporalHistoryRetentionInDays},
		{"max-sync-workers", c.MaxSyncWorkers},
		{"max-spec-workers", c.MaxSpecWorkers},
		{"max-check-workers", c.MaxCheckWorkers},
		{"max-discover-workers", c.MaxDiscoverWorkers},
		{"sync-job-retries-complete-failures-max-successive", c.SyncJobRetriesCompleteFailuresMaxSuccessive},
		{"sync-job-retries-complete-failures-max-total", c.SyncJobRetriesCompleteFailuresMaxTotal},
		{"sync-job-retries-complete-failures-backoff-min-interval-s", c.SyncJobRetriesCompleteFailuresBackoffMinIntervalS},
		{"sync-job-retries-complete-failures-backoff-max-interval-s", c.SyncJobRetriesCompleteFailuresBackoffMaxIntervalS},
		{"sync-job-retries-complete-failures-backoff-base", c.SyncJobRetriesCompleteFailuresBackoffBase},
		{"sync-job-retries-partial-failures-max-successive", c.SyncJobRetriesPartialFailuresMaxSuccessive},
		{"sync-job-retries-partial-failures-max-total", c.SyncJobRetriesPartialFailuresMaxTotal},
		{"heartbeat-max-seconds-between-messages", c.HeartbeatMaxSecondsBetweenMessages},
		{"destination-timeout-max-seconds", c.DestinationTimeoutMaxSeconds},
	}
	for _, n := range nonNegative {
		if n.value != nil && *n.value < 0 {
			problems = append(problems, fmt.Sprintf("%s must be a non-negative integer, got %d", n.name, *n.value))
		}
	}

	minI, maxI := c.SyncJobRetriesCompleteFailuresBackoffMinIntervalS, c.SyncJobRetriesCompleteFailuresBackoffMaxIntervalS
	if minI != nil && maxI != nil && *minI > *maxI {
		problems = append(problems, "sync-job-retries-complete-failures-backoff-min-interval-s exceeds the max interval")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Buckets returns every configured bucket name, deduplicated, in option order
func (c *Config) Buckets() []string {
	var out []string
	for _, b := range c.bucketOptions() {
		if !slices.Contains(out, b.value) {
			out = append(out, b.value)
		}
	}
	return out
}

// FeatureFlagsEnabled reports whether any heartbeat or destination-timeout
// option is set
func (c *Config) FeatureFlagsEnabled() bool {
	return c.HeartbeatMaxSecondsBetweenMessages != nil || c.HeartbeatFailSync != nil ||
		c.DestinationTimeoutMaxSeconds != nil || c.DestinationTimeoutFailSync != nil
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	out := *c
	ints := []**int{
		&out.TemporalHistoryRetentionInDays,
		&out.MaxSyncWorkers, &out.MaxSpecWorkers, &out.MaxCheckWorkers, &out.MaxDiscoverWorkers,
		&out.SyncJobRetriesCompleteFailuresMaxSuccessive, &out.SyncJobRetriesCompleteFailuresMaxTotal,
		&out.SyncJobRetriesCompleteFailuresBackoffMinIntervalS, &out.SyncJobRetriesCompleteFailuresBackoffMaxIntervalS,
		&out.SyncJobRetriesCompleteFailuresBackoffBase,
		&out.SyncJobRetriesPartialFailuresMaxSuccessive, &out.SyncJobRetriesPartialFailuresMaxTotal,
		&out.HeartbeatMaxSecondsBetweenMessages, &out.DestinationTimeoutMaxSeconds,
	}
	for _, p := range ints {
		if *p != nil {
			*p = Int(**p)
		}
	}
	strs := []**string{
		&out.JobMainContainerCPURequest, &out.JobMainContainerCPULimit,
		&out.JobMainContainerMemoryRequest, &out.JobMainContainerMemoryLimit,
		&out.HTTPProxy, &out.HTTPSProxy, &out.NoProxy,
	}
	for _, p := range strs {
		if *p != nil {
			*p = String(**p)
		}
	}
	for _, p := range []**bool{&out.HeartbeatFailSync, &out.DestinationTimeoutFailSync} {
		if *p != nil {
			*p = Bool(**p)
		}
	}
	return &out
}

type option struct {
	name, value string
}

func (c *Config) bucketOptions() []option {
	return []option{
		{"storage-bucket-logs", c.StorageBucketLogs},
		{"storage-bucket-state", c.StorageBucketState},
		{"storage-bucket-activity-payload", c.StorageBucketActivityPayload},
		{"storage-bucket-workload-output", c.StorageBucketWorkloadOutput},
	}
}

package plan

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/cuemby/airbyte-operator/pkg/config"
	"github.com/cuemby/airbyte-operator/pkg/facts"
	"github.com/cuemby/airbyte-operator/pkg/types"
)

const temporalWorkerPorts = "9001,9002,9003,9004,9005,9006,9007,9008,9009,9010,9011,9012,9013,9014,9015," +
	"9016,9017,9018,9019,9020,9021,9022,9023,9024,9025,9026,9027,9028,9029,9030"

// staticEnv is shared by every process and does not depend on any input
var staticEnv = map[string]string{
	"API_URL":                         "/api/v1/",
	"AIRBYTE_VERSION":                 Version,
	"AIRBYTE_EDITION":                 "community",
	"AUTO_DETECT_SCHEMA":              "true",
	"WORKSPACE_ROOT":                  "/workspace",
	"CONFIG_ROOT":                     "/configs",
	"MICRONAUT_ENVIRONMENTS":          "control-plane",
	"WORKERS_MICRONAUT_ENVIRONMENTS":  "control-plane",
	"CRON_MICRONAUT_ENVIRONMENTS":     "control-plane",
	"LAUNCHER_MICRONAUT_ENVIRONMENTS": "control-plane,oss",
	"WORKLOAD_API_HOST":               "localhost",
	"MICROMETER_METRICS_ENABLED":      "false",
	"KEYCLOAK_INTERNAL_HOST":          "localhost",
	"WORKER_ENVIRONMENT":              "kubernetes",
	"SHOULD_RUN_NOTIFY_WORKFLOWS":     "true",
	"CONNECTOR_BUILDER_API_URL":       "/connector-builder-api",
	"TEMPORAL_WORKER_PORTS":           temporalWorkerPorts,
	"CONTAINER_ORCHESTRATOR_ENABLED":  "true",
	"CONTAINER_ORCHESTRATOR_IMAGE":    "airbyte/container-orchestrator:" + Version,
	"LOG4J_CONFIGURATION_FILE":        "log4j2-minio.xml",
	"VAULT_AUTH_METHOD":               "token",

	"CONFIGS_DATABASE_MINIMUM_FLYWAY_MIGRATION_VERSION": "0.35.15.001",
	"JOBS_DATABASE_MINIMUM_FLYWAY_MIGRATION_VERSION":    "0.29.15.001",

	"JOB_KUBE_MAIN_CONTAINER_IMAGE_PULL_POLICY":    "IfNotPresent",
	"JOB_KUBE_SIDECAR_CONTAINER_IMAGE_PULL_POLICY": "IfNotPresent",
}

// env accumulates environment entries. Unset optional values are skipped so
// that they are absent from the result rather than empty.
type env map[string]string

func (e env) str(key, value string) {
	e[key] = value
}

func (e env) optStr(key string, value *string) {
	if value != nil {
		e[key] = *value
	}
}

func (e env) num(key string, value int) {
	e[key] = strconv.Itoa(value)
}

func (e env) optNum(key string, value *int) {
	if value != nil {
		e[key] = strconv.Itoa(*value)
	}
}

// baseEnv derives the process-independent environment
func baseEnv(cfg *config.Config, db *types.DatabaseConnection) env {
	e := make(env, 96)
	for k, v := range staticEnv {
		e[k] = v
	}

	dbURL := fmt.Sprintf("jdbc:postgresql://%s:%s/%s", db.Host, db.Port, db.Name)
	e.str("DATABASE_URL", dbURL)
	e.str("DATABASE_USER", db.User)
	e.str("DATABASE_PASSWORD", db.Password)
	e.str("DATABASE_DB", db.Name)
	e.str("DATABASE_HOST", db.Host)
	e.str("DATABASE_PORT", db.Port)
	e.str("KEYCLOAK_DATABASE_URL", dbURL+"?currentSchema=keycloak")

	app := cfg.ApplicationName
	e.str("AIRBYTE_API_HOST", fmt.Sprintf("%s:%d/api/public", app, AirbyteAPIPort))
	e.str("AIRBYTE_SERVER_HOST", fmt.Sprintf("%s:%d", app, InternalAPIPort))
	e.str("CONFIG_API_HOST", fmt.Sprintf("%s:%d", app, InternalAPIPort))
	e.str("INTERNAL_API_HOST", fmt.Sprintf("%s:%d", app, InternalAPIPort))
	e.str("CONNECTOR_BUILDER_API_HOST", fmt.Sprintf("%s:%d", app, ConnectorBuilderServerPort))
	e.str("CONNECTOR_BUILDER_SERVER_API_HOST", fmt.Sprintf("%s:%d", app, ConnectorBuilderServerPort))
	e.str("AIRBYTE_URL", cfg.WebappURL)
	e.str("WEBAPP_URL", cfg.WebappURL)
	e.str("TEMPORAL_HOST", cfg.TemporalHost)
	e.optNum("TEMPORAL_HISTORY_RETENTION_IN_DAYS", cfg.TemporalHistoryRetentionInDays)
	e.str("LOG_LEVEL", string(cfg.LogLevel))

	storage := string(cfg.StorageType)
	e.str("STORAGE_TYPE", storage)
	e.str("WORKER_LOGS_STORAGE_TYPE", storage)
	e.str("WORKER_STATE_STORAGE_TYPE", storage)
	e.str("STORAGE_BUCKET_LOG", cfg.StorageBucketLogs)
	e.str("S3_LOG_BUCKET", cfg.StorageBucketLogs)
	e.str("STORAGE_BUCKET_STATE", cfg.StorageBucketState)
	e.str("STORAGE_BUCKET_ACTIVITY_PAYLOAD", cfg.StorageBucketActivityPayload)
	e.str("STORAGE_BUCKET_WORKLOAD_OUTPUT", cfg.StorageBucketWorkloadOutput)

	e.str("JOB_KUBE_SERVICEACCOUNT", app)
	e.str("JOB_KUBE_NAMESPACE", cfg.Namespace)
	e.num("RUNNING_TTL_MINUTES", cfg.PodRunningTTLMinutes)
	e.num("SUCCEEDED_TTL_MINUTES", cfg.PodSuccessfulTTLMinutes)
	e.num("UNSUCCESSFUL_TTL_MINUTES", cfg.PodUnsuccessfulTTLMinutes)

	e.optNum("MAX_SYNC_WORKERS", cfg.MaxSyncWorkers)
	e.optNum("MAX_SPEC_WORKERS", cfg.MaxSpecWorkers)
	e.optNum("MAX_CHECK_WORKERS", cfg.MaxCheckWorkers)
	e.optNum("MAX_DISCOVER_WORKERS", cfg.MaxDiscoverWorkers)

	e.optStr("JOB_MAIN_CONTAINER_CPU_REQUEST", cfg.JobMainContainerCPURequest)
	e.optStr("JOB_MAIN_CONTAINER_CPU_LIMIT", cfg.JobMainContainerCPULimit)
	e.optStr("JOB_MAIN_CONTAINER_MEMORY_REQUEST", cfg.JobMainContainerMemoryRequest)
	e.optStr("JOB_MAIN_CONTAINER_MEMORY_LIMIT", cfg.JobMainContainerMemoryLimit)

	e.optNum("SYNC_JOB_RETRIES_COMPLETE_FAILURES_MAX_SUCCESSIVE", cfg.SyncJobRetriesCompleteFailuresMaxSuccessive)
	e.optNum("SYNC_JOB_RETRIES_COMPLETE_FAILURES_MAX_TOTAL", cfg.SyncJobRetriesCompleteFailuresMaxTotal)
	e.optNum("SYNC_JOB_RETRIES_COMPLETE_FAILURES_BACKOFF_MIN_INTERVAL_S", cfg.SyncJobRetriesCompleteFailuresBackoffMinIntervalS)
	e.optNum("SYNC_JOB_RETRIES_COMPLETE_FAILURES_BACKOFF_MAX_INTERVAL_S", cfg.SyncJobRetriesCompleteFailuresBackoffMaxIntervalS)
	e.optNum("SYNC_JOB_RETRIES_COMPLETE_FAILURES_BACKOFF_BASE", cfg.SyncJobRetriesCompleteFailuresBackoffBase)
	e.optNum("SYNC_JOB_RETRIES_PARTIAL_FAILURES_MAX_SUCCESSIVE", cfg.SyncJobRetriesPartialFailuresMaxSuccessive)
	e.optNum("SYNC_JOB_RETRIES_PARTIAL_FAILURES_MAX_TOTAL", cfg.SyncJobRetriesPartialFailuresMaxTotal)

	return e
}

// storageEnv overlays the keys of exactly one object-storage branch
func storageEnv(e env, snap facts.Snapshot) {
	conn := snap.ObjectStore
	if conn == nil {
		return
	}

	switch snap.StorageType() {
	case types.StorageMinio:
		e.str("MINIO_ENDPOINT", conn.Endpoint)
		e.str("AWS_ACCESS_KEY_ID", conn.AccessKey)
		e.str("AWS_SECRET_ACCESS_KEY", conn.SecretKey)
		e.str("STATE_STORAGE_MINIO_ENDPOINT", conn.Endpoint)
		e.str("STATE_STORAGE_MINIO_ACCESS_KEY", conn.AccessKey)
		e.str("STATE_STORAGE_MINIO_SECRET_ACCESS_KEY", conn.SecretKey)
		e.str("STATE_STORAGE_MINIO_BUCKET_NAME", snap.Config.StorageBucketState)
		e.str("S3_PATH_STYLE_ACCESS", "true")
	case types.StorageS3:
		e.str("AWS_ACCESS_KEY_ID", conn.AccessKey)
		e.str("AWS_SECRET_ACCESS_KEY", conn.SecretKey)
		e.str("S3_LOG_BUCKET_REGION", conn.Region)
		e.str("AWS_DEFAULT_REGION", conn.Region)
	}
}

// proxyEnv overlays proxy settings for the processes and the jobs they launch
func proxyEnv(e env, cfg *config.Config) {
	httpProxy := deref(cfg.HTTPProxy)
	httpsProxy := deref(cfg.HTTPSProxy)
	noProxy := deref(cfg.NoProxy)

	if httpProxy != "" {
		e.setProxy("http_proxy", httpProxy)
	}
	if httpsProxy != "" {
		e.setProxy("https_proxy", httpsProxy)
	}
	if noProxy != "" {
		e.setProxy("no_proxy", noProxy)
	}

	if opts := JavaToolOptions(httpProxy, httpsProxy, noProxy); opts != "" {
		e.str("JAVA_TOOL_OPTIONS", opts)
		e.str("JOB_DEFAULT_ENV_JAVA_TOOL_OPTIONS", opts)
	}
}

func (e env) setProxy(lower, value string) {
	upper := strings.ToUpper(lower)
	e.str(lower, value)
	e.str(upper, value)
	e.str("JOB_DEFAULT_ENV_"+lower, value)
	e.str("JOB_DEFAULT_ENV_"+upper, value)
}

// JavaToolOptions renders proxy settings as JVM system properties. Proxies
// whose URL cannot be parsed are left out.
func JavaToolOptions(httpProxy, httpsProxy, noProxy string) string {
	var opts []string
	if host, port, ok := splitProxy(httpProxy); ok {
		opts = append(opts, "-Dhttp.proxyHost="+host, "-Dhttp.proxyPort="+port)
	}
	if host, port, ok := splitProxy(httpsProxy); ok {
		opts = append(opts, "-Dhttps.proxyHost="+host, "-Dhttps.proxyPort="+port)
	}
	if noProxy != "" {
		opts = append(opts, "-Dhttp.nonProxyHosts="+strings.ReplaceAll(noProxy, ",", "|"))
	}
	return strings.Join(opts, " ")
}

func splitProxy(raw string) (host, port string, ok bool) {
	if raw == "" {
		return "", "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", "", false
	}
	port = u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return u.Hostname(), port, true
}

// processEnv applies per-process overrides. It runs last so nothing can
// clobber these values.
func processEnv(e env, name string, cfg *config.Config) {
	app := cfg.ApplicationName
	switch name {
	case APIServer:
		e.str("INTERNAL_API_HOST", fmt.Sprintf("http://%s:%d", app, InternalAPIPort))
	case WorkloadLauncher:
		e.str("INTERNAL_API_HOST", fmt.Sprintf("http://%s:%d", app, InternalAPIPort))
		e.str("WORKLOAD_API_HOST", fmt.Sprintf("http://%s:%d", app, WorkloadAPIPort))
		if cfg.FeatureFlagsEnabled() {
			e.str("FEATURE_FLAG_CLIENT", "config")
			e.str("FEATURE_FLAG_PATH", FlagsPath)
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package plan

import (
	"errors"
	"strings"
	"testing"

	"github.com/cuemby/airbyte-operator/pkg/config"
	"github.com/cuemby/airbyte-operator/pkg/facts"
	"github.com/cuemby/airbyte-operator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(kind types.StorageType) facts.Snapshot {
	cfg := config.Default()
	cfg.StorageType = kind
	cfg.Namespace = "airbyte-model"

	conn := &types.ObjectStoreConnection{
		Kind:      kind,
		Endpoint:  "http://endpoint",
		AccessKey: "access",
		SecretKey: "secret",
		Region:    "region",
	}
	if kind == types.StorageMinio {
		conn.Endpoint = "http://service.namespace.svc.cluster.local:9000"
	}

	return facts.Snapshot{
		PeerReady: true,
		Database: &types.DatabaseConnection{
			Host:     "myhost",
			Port:     "5432",
			Name:     "airbyte-k8s_db",
			User:     "jean-luc@db",
			Password: "inner-light",
		},
		ObjectStore: conn,
		Config:      cfg,
	}
}

var minioKeys = []string{
	"MINIO_ENDPOINT",
	"STATE_STORAGE_MINIO_ENDPOINT",
	"STATE_STORAGE_MINIO_ACCESS_KEY",
	"STATE_STORAGE_MINIO_SECRET_ACCESS_KEY",
	"STATE_STORAGE_MINIO_BUCKET_NAME",
	"S3_PATH_STYLE_ACCESS",
}

var s3Keys = []string{"S3_LOG_BUCKET_REGION", "AWS_DEFAULT_REGION"}

func TestBuildBaseEnvironment(t *testing.T) {
	plans, err := NewBuilder().Build(snapshot(types.StorageS3))
	require.NoError(t, err)
	require.Len(t, plans, len(Processes()))

	env := plans[Server].Environment
	expected := map[string]string{
		"DATABASE_URL":                                              "jdbc:postgresql://myhost:5432/airbyte-k8s_db",
		"KEYCLOAK_DATABASE_URL":                                     "jdbc:postgresql://myhost:5432/airbyte-k8s_db?currentSchema=keycloak",
		"DATABASE_USER":                                             "jean-luc@db",
		"DATABASE_PASSWORD":                                         "inner-light",
		"DATABASE_PORT":                                             "5432",
		"INTERNAL_API_HOST":                                         "airbyte-k8s:8001",
		"AIRBYTE_API_HOST":                                          "airbyte-k8s:8006/api/public",
		"WEBAPP_URL":                                                "http://airbyte-ui-k8s:8080",
		"TEMPORAL_HOST":                                             "temporal-k8s:7233",
		"LOG_LEVEL":                                                 "INFO",
		"STORAGE_TYPE":                                              "s3",
		"S3_LOG_BUCKET":                                             "airbyte-dev-logs",
		"JOB_KUBE_NAMESPACE":                                        "airbyte-model",
		"JOB_KUBE_SERVICEACCOUNT":                                   "airbyte-k8s",
		"RUNNING_TTL_MINUTES":                                       "240",
		"SUCCEEDED_TTL_MINUTES":                                     "30",
		"MAX_SYNC_WORKERS":                                          "5",
		"TEMPORAL_HISTORY_RETENTION_IN_DAYS":                        "30",
		"SYNC_JOB_RETRIES_COMPLETE_FAILURES_BACKOFF_MAX_INTERVAL_S": "1800",
		"AWS_ACCESS_KEY_ID":                                         "access",
		"AWS_DEFAULT_REGION":                                        "region",
		"S3_LOG_BUCKET_REGION":                                      "region",
		"AIRBYTE_VERSION":                                           Version,
	}
	for key, want := range expected {
		assert.Equal(t, want, env[key], key)
	}
}

func TestBuildStorageExclusivity(t *testing.T) {
	tests := []struct {
		kind    types.StorageType
		present []string
		absent  []string
	}{
		{kind: types.StorageMinio, present: minioKeys, absent: s3Keys},
		{kind: types.StorageS3, present: s3Keys, absent: minioKeys},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			plans, err := NewBuilder().Build(snapshot(tt.kind))
			require.NoError(t, err)

			for name, p := range plans {
				for _, key := range tt.present {
					assert.Contains(t, p.Environment, key, "%s should carry %s", name, key)
				}
				for _, key := range tt.absent {
					assert.NotContains(t, p.Environment, key, "%s should not carry %s", name, key)
				}
			}
		})
	}
}

func TestBuildSwitchingStorageRemovesKeys(t *testing.T) {
	snap := snapshot(types.StorageMinio)
	before, err := BuildProcess(snap, Workers)
	require.NoError(t, err)
	assert.Equal(t, "true", before.Environment["S3_PATH_STYLE_ACCESS"])
	assert.Equal(t, "airbyte-state-storage", before.Environment["STATE_STORAGE_MINIO_BUCKET_NAME"])

	switched := snapshot(types.StorageS3)
	after, err := BuildProcess(switched, Workers)
	require.NoError(t, err)
	for _, key := range minioKeys {
		assert.NotContains(t, after.Environment, key)
	}
	assert.False(t, before.Equal(after))
}

func TestBuildIdempotent(t *testing.T) {
	snap := snapshot(types.StorageMinio)
	snap.Config.HeartbeatFailSync = config.Bool(true)

	first, err := NewBuilder().Build(snap)
	require.NoError(t, err)
	second, err := NewBuilder().Build(snap)
	require.NoError(t, err)

	for name, p := range first {
		assert.True(t, p.Equal(second[name]), name)
	}
}

func TestBuildDropsUnsetOptions(t *testing.T) {
	snap := snapshot(types.StorageS3)
	snap.Config.MaxSyncWorkers = nil
	snap.Config.TemporalHistoryRetentionInDays = nil

	p, err := BuildProcess(snap, Server)
	require.NoError(t, err)

	assert.NotContains(t, p.Environment, "MAX_SYNC_WORKERS")
	assert.NotContains(t, p.Environment, "TEMPORAL_HISTORY_RETENTION_IN_DAYS")
	assert.NotContains(t, p.Environment, "JOB_MAIN_CONTAINER_CPU_LIMIT")
	for key, value := range p.Environment {
		assert.NotEqual(t, "None", value, key)
		assert.NotEqual(t, "<nil>", value, key)
	}
}

func TestBuildResourceLimits(t *testing.T) {
	snap := snapshot(types.StorageS3)
	snap.Config.JobMainContainerCPULimit = config.String("2")
	snap.Config.JobMainContainerMemoryRequest = config.String("1Gi")

	p, err := BuildProcess(snap, Workers)
	require.NoError(t, err)
	assert.Equal(t, "2", p.Environment["JOB_MAIN_CONTAINER_CPU_LIMIT"])
	assert.Equal(t, "1Gi", p.Environment["JOB_MAIN_CONTAINER_MEMORY_REQUEST"])
}

func TestBuildProcessOverrides(t *testing.T) {
	snap := snapshot(types.StorageMinio)
	plans, err := NewBuilder().Build(snap)
	require.NoError(t, err)

	assert.Equal(t, "http://airbyte-k8s:8001", plans[APIServer].Environment["INTERNAL_API_HOST"])
	assert.Equal(t, "http://airbyte-k8s:8001", plans[WorkloadLauncher].Environment["INTERNAL_API_HOST"])
	assert.Equal(t, "http://airbyte-k8s:8007", plans[WorkloadLauncher].Environment["WORKLOAD_API_HOST"])
	assert.Equal(t, "airbyte-k8s:8001", plans[Server].Environment["INTERNAL_API_HOST"])
	assert.Equal(t, "localhost", plans[Server].Environment["WORKLOAD_API_HOST"])
}

func TestBuildUnknownProcess(t *testing.T) {
	_, err := NewBuilder(Server, "airbyte-frobnicator").Build(snapshot(types.StorageS3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownProcess))
	assert.Contains(t, err.Error(), "airbyte-frobnicator")
}

func TestBuildIncompleteSnapshot(t *testing.T) {
	snap := snapshot(types.StorageS3)
	snap.Database = nil
	_, err := NewBuilder().Build(snap)
	assert.ErrorIs(t, err, ErrIncompleteSnapshot)
}

func TestBuildCommandAndChecks(t *testing.T) {
	plans, err := NewBuilder().Build(snapshot(types.StorageS3))
	require.NoError(t, err)

	for name, p := range plans {
		assert.Equal(t, "/bin/bash -c airbyte-app/bin/"+name, p.Command)
		assert.Equal(t, name, p.Summary)
		assert.Equal(t, "enabled", p.Startup)
		assert.Equal(t, "replace", p.Override)
		if p.HealthCheck != nil {
			assert.True(t, p.HasRestartMarker(), name)
			assert.Equal(t, CheckPeriod, p.HealthCheck.Period)
		} else {
			assert.False(t, p.HasRestartMarker(), name)
		}
	}

	assert.Equal(t, &types.HealthCheck{Port: 8001, Path: "/api/v1/health", Period: CheckPeriod}, plans[Server].HealthCheck)
	assert.Equal(t, &types.HealthCheck{Port: 9000, Path: "/", Period: CheckPeriod}, plans[Workers].HealthCheck)
	assert.Nil(t, plans[Bootloader].HealthCheck)
}

func TestBuildProxy(t *testing.T) {
	snap := snapshot(types.StorageS3)
	snap.Config.HTTPProxy = config.String("http://squid.internal:3128")
	snap.Config.HTTPSProxy = config.String("http://squid.internal:3129")
	snap.Config.NoProxy = config.String("localhost,10.0.0.0/8")

	p, err := BuildProcess(snap, Workers)
	require.NoError(t, err)

	env := p.Environment
	assert.Equal(t, "http://squid.internal:3128", env["HTTP_PROXY"])
	assert.Equal(t, "http://squid.internal:3128", env["http_proxy"])
	assert.Equal(t, "http://squid.internal:3128", env["JOB_DEFAULT_ENV_HTTP_PROXY"])
	assert.Equal(t, "http://squid.internal:3129", env["JOB_DEFAULT_ENV_https_proxy"])
	assert.Equal(t, "localhost,10.0.0.0/8", env["NO_PROXY"])
	assert.Equal(t,
		"-Dhttp.proxyHost=squid.internal -Dhttp.proxyPort=3128 -Dhttps.proxyHost=squid.internal -Dhttps.proxyPort=3129 -Dhttp.nonProxyHosts=localhost|10.0.0.0/8",
		env["JAVA_TOOL_OPTIONS"])
	assert.Equal(t, env["JAVA_TOOL_OPTIONS"], env["JOB_DEFAULT_ENV_JAVA_TOOL_OPTIONS"])
}

func TestBuildNoProxy(t *testing.T) {
	p, err := BuildProcess(snapshot(types.StorageS3), Workers)
	require.NoError(t, err)
	for key := range p.Environment {
		assert.False(t, strings.Contains(strings.ToLower(key), "proxy"), key)
	}
	assert.NotContains(t, p.Environment, "JAVA_TOOL_OPTIONS")
}

func TestJavaToolOptionsDefaultPort(t *testing.T) {
	assert.Equal(t, "-Dhttps.proxyHost=proxy -Dhttps.proxyPort=443", JavaToolOptions("", "https://proxy", ""))
	assert.Equal(t, "", JavaToolOptions("::not a url", "", ""))
}

func TestBuildFiles(t *testing.T) {
	snap := snapshot(types.StorageS3)
	plans, err := NewBuilder().Build(snap)
	require.NoError(t, err)

	require.Len(t, plans[PodSweeper].Files, 1)
	assert.Equal(t, SweepScriptPath, plans[PodSweeper].Files[0].Path)
	assert.Equal(t, uint32(0o755), plans[PodSweeper].Files[0].Mode)
	assert.Empty(t, plans[WorkloadLauncher].Files)
	assert.NotContains(t, plans[WorkloadLauncher].Environment, "FEATURE_FLAG_PATH")

	snap.Config.DestinationTimeoutMaxSeconds = config.Int(43200)
	p, err := BuildProcess(snap, WorkloadLauncher)
	require.NoError(t, err)
	require.Len(t, p.Files, 1)
	assert.Equal(t, FlagsPath, p.Files[0].Path)
	assert.Equal(t, FlagsPath, p.Environment["FEATURE_FLAG_PATH"])
}

func TestPorts(t *testing.T) {
	assert.Equal(t, []int{80, 8001, 8006, 8007}, Ports())
}

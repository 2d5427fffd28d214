package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cuemby/airbyte-operator/pkg/config"
	"github.com/cuemby/airbyte-operator/pkg/facts"
	"github.com/cuemby/airbyte-operator/pkg/plan"
	"github.com/cuemby/airbyte-operator/pkg/status"
	"github.com/cuemby/airbyte-operator/pkg/storage"
	"github.com/cuemby/airbyte-operator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	mu          sync.Mutex
	unreachable bool
	installed   map[string]*types.ProcessPlan
	probes      map[string]types.Probe
	restarts    map[string]int
	stopped     map[string]bool
	failInstall error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		installed: make(map[string]*types.ProcessPlan),
		probes:    make(map[string]types.Probe),
		restarts:  make(map[string]int),
		stopped:   make(map[string]bool),
	}
}

func (f *fakeRuntime) CanReach(context.Context, string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unreachable
}

func (f *fakeRuntime) InstalledPlan(_ context.Context, process string) (*types.ProcessPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed[process].Clone(), nil
}

func (f *fakeRuntime) InstallPlan(_ context.Context, p *types.ProcessPlan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInstall != nil {
		return f.failInstall
	}
	f.installed[p.Name] = p.Clone()
	return nil
}

func (f *fakeRuntime) Restart(_ context.Context, process string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts[process]++
	f.stopped[process] = false
	return nil
}

func (f *fakeRuntime) Running(_ context.Context, process string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts[process] > 0 && !f.stopped[process], nil
}

func (f *fakeRuntime) ProbeHealth(_ context.Context, process string) (types.Probe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.probes[process]; ok {
		return p, nil
	}
	return types.ProbeUp, nil
}

func (f *fakeRuntime) FileExists(context.Context, string, string) (bool, error) { return true, nil }

func (f *fakeRuntime) PushFile(context.Context, string, types.File) error { return nil }

func (f *fakeRuntime) totalRestarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.restarts {
		n += c
	}
	return n
}

type ensureCall struct {
	names     []string
	logBucket string
	ttl       int
}

type fakeProvisioner struct {
	calls []ensureCall
	err   error
}

func (f *fakeProvisioner) Ensure(_ context.Context, _ *types.ObjectStoreConnection, names []string, logBucket string, ttl int) error {
	f.calls = append(f.calls, ensureCall{names: names, logBucket: logBucket, ttl: ttl})
	return f.err
}

type countingPlanner struct {
	*plan.Builder
	builds int
}

func (c *countingPlanner) Build(snap facts.Snapshot) (map[string]*types.ProcessPlan, error) {
	c.builds++
	return c.Builder.Build(snap)
}

type recordingSink struct {
	*status.Recorder
	history []types.Status
}

func (s *recordingSink) Set(st types.Status) {
	s.history = append(s.history, st)
	s.Recorder.Set(st)
}

type fakeAnnouncer struct {
	announced []status.Announcement
}

func (f *fakeAnnouncer) Announce(_ context.Context, a status.Announcement) error {
	f.announced = append(f.announced, a)
	return nil
}

type harness struct {
	r           *Reconciler
	rt          *fakeRuntime
	provisioner *fakeProvisioner
	planner     *countingPlanner
	sink        *recordingSink
	announcer   *fakeAnnouncer
	store       storage.Store
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	store := storage.NewMemoryStore()
	fs, err := facts.Open(store)
	require.NoError(t, err)

	h := &harness{
		rt:          newFakeRuntime(),
		provisioner: &fakeProvisioner{},
		planner:     &countingPlanner{Builder: plan.NewBuilder(plan.Server, plan.Workers, plan.Bootloader)},
		sink:        &recordingSink{Recorder: status.NewRecorder()},
		announcer:   &fakeAnnouncer{},
		store:       store,
	}
	h.r, err = New(Options{
		Facts:       fs,
		Config:      cfg,
		Runtime:     h.rt,
		Store:       store,
		Provisioner: h.provisioner,
		Planner:     h.planner,
		Sink:        h.sink,
		Announcer:   h.announcer,
		Leader:      true,
	})
	require.NoError(t, err)
	return h
}

func s3Config() *config.Config {
	cfg := config.Default()
	cfg.StorageType = types.StorageS3
	cfg.StorageBucketLogs = "logs"
	cfg.StorageBucketState = "state"
	cfg.StorageBucketActivityPayload = "state"
	cfg.StorageBucketWorkloadOutput = "logs"
	cfg.LogsTTL = 14
	return cfg
}

func (h *harness) deliverAll(t *testing.T) Result {
	t.Helper()
	ctx := context.Background()
	_, err := h.r.OnFactChanged(ctx, types.FactDatabase, &types.Fact{
		Database: &types.DatabaseConnection{Host: "db", Port: "5432", Name: "airbyte", User: "u", Password: "p"},
	})
	require.NoError(t, err)
	_, err = h.r.OnFactChanged(ctx, types.FactS3, &types.Fact{
		ObjectStore: &types.ObjectStoreConnection{
			Endpoint: "https://s3.eu-west-1.amazonaws.com", AccessKey: "a", SecretKey: "s", Region: "eu-west-1",
		},
	})
	require.NoError(t, err)
	res, err := h.r.OnFactChanged(ctx, types.FactPeer, &types.Fact{PeerReady: true})
	require.NoError(t, err)
	return res
}

func TestPeerNotReadyWaits(t *testing.T) {
	h := newHarness(t, s3Config())

	res, err := h.r.OnFactChanged(context.Background(), types.FactDatabase, &types.Fact{
		Database: &types.DatabaseConnection{Host: "db", Port: "5432", Name: "airbyte"},
	})
	require.NoError(t, err)

	assert.Equal(t, types.Waiting("peer relation not ready"), res.Status)
	assert.False(t, res.Deferred)
	assert.Empty(t, h.provisioner.calls)
	assert.Zero(t, h.planner.builds)
	assert.Zero(t, h.rt.totalRestarts())
}

func TestFullSnapshotConverges(t *testing.T) {
	h := newHarness(t, s3Config())

	res := h.deliverAll(t)
	assert.Equal(t, types.Ready, res.Status)

	require.Len(t, h.provisioner.calls, 1)
	call := h.provisioner.calls[0]
	assert.Equal(t, []string{"logs", "state"}, call.names)
	assert.Equal(t, "logs", call.logBucket)
	assert.Equal(t, 14, call.ttl)

	for _, name := range h.planner.Processes() {
		installed := h.rt.installed[name]
		require.NotNil(t, installed, name)
		assert.Equal(t, "s3", installed.Environment["STORAGE_TYPE"])
		assert.NotContains(t, installed.Environment, "MINIO_ENDPOINT")
		assert.Equal(t, 1, h.rt.restarts[name])
	}

	require.Len(t, h.announcer.announced, 1)
	assert.Equal(t, status.Announcement{ServerName: "airbyte-k8s", ServerStatus: "ready"}, h.announcer.announced[0])

	applied, err := h.store.ListApplied()
	require.NoError(t, err)
	assert.Len(t, applied, len(h.planner.Processes()))
	assert.Equal(t, types.HealthHealthy, h.r.Health()[plan.Server])
}

func TestReconcileIsIdempotent(t *testing.T) {
	h := newHarness(t, s3Config())
	h.deliverAll(t)
	before := h.rt.totalRestarts()

	res := h.r.Reconcile(context.Background())
	assert.Equal(t, types.Ready, res.Status)
	assert.Equal(t, before, h.rt.totalRestarts())
	assert.Len(t, h.announcer.announced, 1, "readiness is announced once per ready period")
}

func TestDriftTriggersReconcile(t *testing.T) {
	h := newHarness(t, s3Config())
	h.deliverAll(t)

	h.rt.mu.Lock()
	h.rt.installed[plan.Workers].OnCheckFailure = nil
	h.rt.mu.Unlock()
	h.sink.history = nil

	res := h.r.OnTick(context.Background())

	assert.Equal(t, types.Ready, res.Status)
	require.NotEmpty(t, h.sink.history)
	assert.Equal(t, types.Reconciling, h.sink.history[0])
	assert.Equal(t, types.Ready, h.sink.history[len(h.sink.history)-1])
	assert.Equal(t, 2, h.rt.restarts[plan.Workers])
	assert.Equal(t, 1, h.rt.restarts[plan.Server])
	assert.True(t, h.rt.installed[plan.Workers].HasRestartMarker())
}

func TestStoppedProcessIsStartedOnTick(t *testing.T) {
	h := newHarness(t, s3Config())
	h.deliverAll(t)

	h.rt.mu.Lock()
	h.rt.stopped[plan.Workers] = true
	h.rt.mu.Unlock()

	res := h.r.OnTick(context.Background())
	assert.Equal(t, types.Ready, res.Status)
	assert.Equal(t, 2, h.rt.restarts[plan.Workers])
	assert.Equal(t, 1, h.rt.restarts[plan.Server])
}

func TestDegradedWinsOverDrift(t *testing.T) {
	h := newHarness(t, s3Config())
	h.deliverAll(t)
	before := h.rt.totalRestarts()

	h.rt.mu.Lock()
	h.rt.probes[plan.Server] = types.ProbeDown
	h.rt.installed[plan.Workers].OnCheckFailure = nil
	h.rt.mu.Unlock()

	res := h.r.OnTick(context.Background())
	assert.Equal(t, types.Degraded(plan.Server), res.Status)
	assert.Equal(t, before, h.rt.totalRestarts(), "drift is left for a later tick")
}

func TestTickDoesNotWriteAppliedState(t *testing.T) {
	h := newHarness(t, s3Config())
	h.deliverAll(t)

	before, err := h.store.ListApplied()
	require.NoError(t, err)

	h.rt.mu.Lock()
	h.rt.probes[plan.Server] = types.ProbeDown
	h.rt.mu.Unlock()

	res := h.r.OnTick(context.Background())
	require.Equal(t, types.Degraded(plan.Server), res.Status)
	assert.Equal(t, types.HealthDegraded, h.r.Health()[plan.Server])

	after, err := h.store.ListApplied()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDegradedDoesNotReconcile(t *testing.T) {
	h := newHarness(t, s3Config())
	h.deliverAll(t)
	before := h.rt.totalRestarts()

	h.rt.mu.Lock()
	h.rt.probes[plan.Server] = types.ProbeDown
	h.rt.mu.Unlock()

	res := h.r.OnTick(context.Background())
	assert.Equal(t, types.Degraded(plan.Server), res.Status)
	assert.Equal(t, "degraded: airbyte-server", res.Status.String())
	assert.Equal(t, before, h.rt.totalRestarts())

	h.rt.mu.Lock()
	h.rt.probes[plan.Server] = types.ProbeUp
	h.rt.mu.Unlock()

	res = h.r.OnTick(context.Background())
	assert.Equal(t, types.Ready, res.Status)
	assert.Len(t, h.announcer.announced, 2, "readiness is announced again after recovering")
}

func TestUnknownProbeKeepsStatus(t *testing.T) {
	h := newHarness(t, s3Config())
	h.deliverAll(t)

	h.rt.mu.Lock()
	h.rt.probes[plan.Server] = types.ProbeUnknown
	h.rt.mu.Unlock()

	res := h.r.OnTick(context.Background())
	assert.Equal(t, types.Ready, res.Status)
}

func TestDeferredWhenUnreachable(t *testing.T) {
	h := newHarness(t, s3Config())
	h.rt.unreachable = true

	res := h.deliverAll(t)
	assert.True(t, res.Deferred)
	assert.Equal(t, types.Reconciling, res.Status)
	assert.Zero(t, h.rt.totalRestarts())

	h.rt.mu.Lock()
	h.rt.unreachable = false
	h.rt.mu.Unlock()

	res = h.r.Reconcile(context.Background())
	assert.False(t, res.Deferred)
	assert.Equal(t, types.Ready, res.Status)
}

func TestProvisioningErrorBlocksBeforeApply(t *testing.T) {
	h := newHarness(t, s3Config())
	h.provisioner.err = errors.New("access denied")

	res := h.deliverAll(t)
	assert.Equal(t, "blocked: failed to create buckets: access denied", res.Status.String())
	assert.Zero(t, h.planner.builds)
	assert.Zero(t, h.rt.totalRestarts())
}

func TestApplyErrorBlocks(t *testing.T) {
	h := newHarness(t, s3Config())
	h.rt.failInstall = errors.New("pebble offline")

	res := h.deliverAll(t)
	assert.Equal(t, types.StatusBlocked, res.Status.Kind)
	assert.Equal(t, "failed to apply airbyte-server: failed to install plan: pebble offline", res.Status.Message)
	assert.Empty(t, h.announcer.announced)
}

func TestInvalidConfigurationBlocks(t *testing.T) {
	cfg := s3Config()
	cfg.LogsTTL = -1
	h := newHarness(t, cfg)

	res := h.deliverAll(t)
	assert.Equal(t, types.StatusBlocked, res.Status.Kind)
	assert.Empty(t, h.provisioner.calls)
}

func TestConfigChangeSwitchesStorage(t *testing.T) {
	h := newHarness(t, s3Config())
	h.deliverAll(t)

	cfg := s3Config()
	cfg.StorageType = types.StorageMinio
	res := h.r.OnConfigChanged(context.Background(), cfg)
	assert.Equal(t, types.Waiting("minio relation not ready"), res.Status)

	_, err := h.r.OnFactChanged(context.Background(), types.FactMinio, &types.Fact{
		ObjectStore: &types.ObjectStoreConnection{
			Endpoint: "http://minio.airbyte.svc.cluster.local:9000", AccessKey: "a", SecretKey: "s",
		},
	})
	require.NoError(t, err)

	env := h.rt.installed[plan.Server].Environment
	assert.Equal(t, "minio", env["STORAGE_TYPE"])
	assert.NotContains(t, env, "S3_LOG_BUCKET_REGION")
	assert.Equal(t, 2, h.rt.restarts[plan.Server])
}

func TestClearingFactWaits(t *testing.T) {
	h := newHarness(t, s3Config())
	h.deliverAll(t)

	res, err := h.r.OnFactChanged(context.Background(), types.FactDatabase, nil)
	require.NoError(t, err)
	assert.Equal(t, types.Waiting("database relation not ready"), res.Status)
}

func TestFollowerDoesNotAnnounce(t *testing.T) {
	h := newHarness(t, s3Config())
	h.r.SetLeader(false)

	res := h.deliverAll(t)
	assert.Equal(t, types.Ready, res.Status)
	assert.Empty(t, h.announcer.announced)

	h.r.SetLeader(true)
	h.r.OnTick(context.Background())
	assert.Len(t, h.announcer.announced, 1)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

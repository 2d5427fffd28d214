package applier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cuemby/airbyte-operator/pkg/events"
	"github.com/cuemby/airbyte-operator/pkg/storage"
	"github.com/cuemby/airbyte-operator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	mu          sync.Mutex
	unreachable map[string]bool
	installed   map[string]*types.ProcessPlan
	files       map[string]map[string]types.File
	failRestart map[string]error
	restarts    map[string]int
	running     map[string]bool
	pushes      int
	calls       []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		unreachable: make(map[string]bool),
		installed:   make(map[string]*types.ProcessPlan),
		files:       make(map[string]map[string]types.File),
		failRestart: make(map[string]error),
		restarts:    make(map[string]int),
		running:     make(map[string]bool),
	}
}

func (f *fakeRuntime) CanReach(_ context.Context, process string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "reach:"+process)
	return !f.unreachable[process]
}

func (f *fakeRuntime) InstalledPlan(_ context.Context, process string) (*types.ProcessPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed[process].Clone(), nil
}

func (f *fakeRuntime) InstallPlan(_ context.Context, plan *types.ProcessPlan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed[plan.Name] = plan.Clone()
	return nil
}

func (f *fakeRuntime) Restart(_ context.Context, process string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failRestart[process]; err != nil {
		return err
	}
	f.restarts[process]++
	f.running[process] = f.installed[process].Enabled()
	return nil
}

func (f *fakeRuntime) Running(_ context.Context, process string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[process], nil
}

func (f *fakeRuntime) ProbeHealth(context.Context, string) (types.Probe, error) {
	return types.ProbeUp, nil
}

func (f *fakeRuntime) FileExists(_ context.Context, process, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[process][path]
	return ok, nil
}

func (f *fakeRuntime) PushFile(_ context.Context, process string, file types.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files[process] == nil {
		f.files[process] = make(map[string]types.File)
	}
	f.files[process][file.Path] = file
	f.pushes++
	return nil
}

type recordingPublisher struct {
	events []*events.Event
}

func (r *recordingPublisher) Publish(e *events.Event) { r.events = append(r.events, e) }

func testPlan(name string, env map[string]string) *types.ProcessPlan {
	return &types.ProcessPlan{
		Name:        name,
		Summary:     name,
		Command:     "/bin/bash -c airbyte-app/bin/" + name,
		Startup:     "enabled",
		Override:    "replace",
		Environment: env,
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	rt := newFakeRuntime()
	store := storage.NewMemoryStore()
	pub := &recordingPublisher{}
	a := New(rt, store).WithEvents(pub)

	plan := testPlan("airbyte-server", map[string]string{"LOG_LEVEL": "INFO"})

	outcome, err := a.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)

	outcome, err = a.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)

	assert.Equal(t, 1, rt.restarts["airbyte-server"])
	require.Len(t, pub.events, 1)
	assert.Equal(t, events.EventProcessApplied, pub.events[0].Type)

	state, err := a.Applied("airbyte-server")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Plan.Equal(plan))
}

func TestApplyRestartsOnChange(t *testing.T) {
	rt := newFakeRuntime()
	a := New(rt, storage.NewMemoryStore())

	_, err := a.Apply(context.Background(), testPlan("airbyte-cron", map[string]string{"LOG_LEVEL": "INFO"}))
	require.NoError(t, err)

	outcome, err := a.Apply(context.Background(), testPlan("airbyte-cron", map[string]string{"LOG_LEVEL": "DEBUG"}))
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, 2, rt.restarts["airbyte-cron"])
	assert.Equal(t, "DEBUG", rt.installed["airbyte-cron"].Environment["LOG_LEVEL"])
}

func TestApplyReinstallsWhenRuntimeLostPlan(t *testing.T) {
	rt := newFakeRuntime()
	a := New(rt, storage.NewMemoryStore())
	plan := testPlan("airbyte-workers", nil)

	_, err := a.Apply(context.Background(), plan)
	require.NoError(t, err)

	delete(rt.installed, "airbyte-workers")

	outcome, err := a.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, 2, rt.restarts["airbyte-workers"])
}

func TestApplyStartsStoppedProcess(t *testing.T) {
	rt := newFakeRuntime()
	store := storage.NewMemoryStore()
	plan := testPlan("airbyte-server", map[string]string{"LOG_LEVEL": "INFO"})

	_, err := New(rt, store).Apply(context.Background(), plan)
	require.NoError(t, err)

	// the operator restarts with the same store while the process is down
	rt.running["airbyte-server"] = false
	pub := &recordingPublisher{}
	a := New(rt, store).WithEvents(pub)

	outcome, err := a.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, 2, rt.restarts["airbyte-server"])
	assert.True(t, rt.running["airbyte-server"])
	require.Len(t, pub.events, 1)

	outcome, err = a.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
}

func TestApplyLeavesDisabledProcessStopped(t *testing.T) {
	rt := newFakeRuntime()
	a := New(rt, storage.NewMemoryStore())
	plan := testPlan("airbyte-bootloader", nil)
	plan.Startup = "disabled"

	outcome, err := a.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.False(t, rt.running["airbyte-bootloader"])

	outcome, err = a.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
	assert.Equal(t, 1, rt.restarts["airbyte-bootloader"])
}

func TestApplyDeferredWhenUnreachable(t *testing.T) {
	rt := newFakeRuntime()
	rt.unreachable["airbyte-server"] = true
	a := New(rt, storage.NewMemoryStore())

	outcome, err := a.Apply(context.Background(), testPlan("airbyte-server", nil))
	require.NoError(t, err)
	assert.Equal(t, Deferred, outcome)
	assert.Empty(t, rt.installed)

	state, err := a.Applied("airbyte-server")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestApplyStagesFiles(t *testing.T) {
	rt := newFakeRuntime()
	a := New(rt, storage.NewMemoryStore())

	plan := testPlan("airbyte-pod-sweeper", nil)
	plan.Files = []types.File{{Path: "/airbyte-app/bin/sweep-pod.sh", Content: "#!/bin/bash", Mode: 0o755}}

	_, err := a.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, rt.pushes)

	_, err = a.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, rt.pushes, "present artifacts of an unchanged plan are not pushed again")

	delete(rt.files["airbyte-pod-sweeper"], "/airbyte-app/bin/sweep-pod.sh")
	outcome, err := a.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
	assert.Equal(t, 2, rt.pushes, "missing artifacts are restored")

	changed := plan.Clone()
	changed.Files[0].Content = "#!/bin/bash\necho v2"
	_, err = a.Apply(context.Background(), changed)
	require.NoError(t, err)
	assert.Equal(t, 3, rt.pushes)
	assert.Equal(t, "#!/bin/bash\necho v2", rt.files["airbyte-pod-sweeper"]["/airbyte-app/bin/sweep-pod.sh"].Content)
}

func TestApplyAllPartialFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.failRestart["airbyte-server"] = errors.New("exec failed")
	store := storage.NewMemoryStore()
	a := New(rt, store)

	order := []string{"airbyte-cron", "airbyte-server", "airbyte-workers"}
	plans := map[string]*types.ProcessPlan{
		"airbyte-cron":    testPlan("airbyte-cron", nil),
		"airbyte-server":  testPlan("airbyte-server", nil),
		"airbyte-workers": testPlan("airbyte-workers", nil),
	}

	sum, err := a.ApplyAll(context.Background(), plans, order)
	require.Error(t, err)

	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, "airbyte-server", applyErr.Process)
	assert.Equal(t, "failed to apply airbyte-server: failed to restart: exec failed", err.Error())
	assert.Equal(t, []string{"airbyte-cron"}, sum.Restarted)

	applied, err := store.ListApplied()
	require.NoError(t, err)
	assert.Contains(t, applied, "airbyte-cron")
	assert.NotContains(t, applied, "airbyte-server")
	assert.NotContains(t, applied, "airbyte-workers")
}

func TestApplyAllStopsOnDeferred(t *testing.T) {
	rt := newFakeRuntime()
	rt.unreachable["airbyte-server"] = true
	a := New(rt, storage.NewMemoryStore())

	order := []string{"airbyte-cron", "airbyte-server", "airbyte-workers"}
	plans := map[string]*types.ProcessPlan{
		"airbyte-cron":    testPlan("airbyte-cron", nil),
		"airbyte-server":  testPlan("airbyte-server", nil),
		"airbyte-workers": testPlan("airbyte-workers", nil),
	}

	sum, err := a.ApplyAll(context.Background(), plans, order)
	require.NoError(t, err)
	assert.Equal(t, "airbyte-server", sum.Deferred)
	assert.Equal(t, []string{"airbyte-cron"}, sum.Restarted)
	assert.NotContains(t, rt.calls, "reach:airbyte-workers")
}

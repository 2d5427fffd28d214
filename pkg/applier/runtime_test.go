package applier

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/cuemby/airbyte-operator/pkg/runtime"
	"github.com/cuemby/airbyte-operator/pkg/storage"
	"github.com/cuemby/airbyte-operator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localRuntime(t *testing.T, root string) *runtime.Local {
	t.Helper()
	l := runtime.NewLocal(root, []string{"airbyte-server"})
	l.StopTimeout = time.Second
	// leave exited children for the applier to start
	l.RestartBackoff = time.Hour
	require.NoError(t, l.Prepare())
	t.Cleanup(l.Stop)
	return l
}

func sleeperPlan() *types.ProcessPlan {
	return &types.ProcessPlan{
		Name:    "airbyte-server",
		Summary: "airbyte-server",
		Command: "echo $$ > pid; exec sleep 30",
		Startup: "enabled",
	}
}

func waitRunning(t *testing.T, l *runtime.Local, want bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		ok, err := l.Running(context.Background(), "airbyte-server")
		return err == nil && ok == want
	}, 5*time.Second, 10*time.Millisecond)
}

func readPid(t *testing.T, root string) int {
	t.Helper()
	var pid int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(root, "airbyte-server", "rootfs", "pid"))
		if err != nil {
			return false
		}
		pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil && pid > 0
	}, 5*time.Second, 10*time.Millisecond)
	return pid
}

func TestApplyStartsProcessAfterOperatorRestart(t *testing.T) {
	root := t.TempDir()
	dataDir := t.TempDir()
	ctx := context.Background()
	plan := sleeperPlan()

	store, err := storage.NewBoltStore(dataDir)
	require.NoError(t, err)
	first := localRuntime(t, root)
	outcome, err := New(first, store).Apply(ctx, plan)
	require.NoError(t, err)
	require.Equal(t, Applied, outcome)
	waitRunning(t, first, true)

	// the operator goes away and takes its children with it
	first.Stop()
	require.NoError(t, store.Close())

	store, err = storage.NewBoltStore(dataDir)
	require.NoError(t, err)
	defer store.Close()
	second := localRuntime(t, root)

	outcome, err = New(second, store).Apply(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	waitRunning(t, second, true)

	outcome, err = New(second, store).Apply(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
}

func TestApplyStartsCrashedProcess(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	plan := sleeperPlan()

	l := localRuntime(t, root)
	a := New(l, storage.NewMemoryStore())

	_, err := a.Apply(ctx, plan)
	require.NoError(t, err)
	crashed := readPid(t, root)
	require.NoError(t, os.Remove(filepath.Join(root, "airbyte-server", "rootfs", "pid")))

	require.NoError(t, syscall.Kill(crashed, syscall.SIGKILL))
	waitRunning(t, l, false)

	outcome, err := a.Apply(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	waitRunning(t, l, true)
	assert.NotEqual(t, crashed, readPid(t, root))
}

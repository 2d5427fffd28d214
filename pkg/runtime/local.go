package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/airbyte-operator/pkg/health"
	"github.com/cuemby/airbyte-operator/pkg/log"
	"github.com/cuemby/airbyte-operator/pkg/types"
	"github.com/rs/zerolog"
)

const (
	planFile = "plan.json"
	rootfs   = "rootfs"

	// DefaultStopTimeout is how long Restart waits for a process to exit
	// after SIGTERM before killing it
	DefaultStopTimeout = 10 * time.Second

	// DefaultRestartBackoff is the first delay before relaunching a process
	// that exited on its own. It doubles per consecutive exit.
	DefaultRestartBackoff = 500 * time.Millisecond

	maxRelaunchBackoff = 30 * time.Second
	relaunchResetAfter = 10 * time.Second
)

// Local runs each managed process as a child of the operator. Every process
// owns a directory under Root holding its installed plan and a rootfs into
// which files are pushed and from which the command runs. A process is
// reachable once its directory exists. A child that exits without being
// stopped is relaunched from the installed plan after a backoff.
type Local struct {
	Root           string
	Host           string
	StopTimeout    time.Duration
	RestartBackoff time.Duration

	processes map[string]bool
	mu        sync.Mutex
	stopped   bool
	running   map[string]*child
	checks    map[string]*probeState
	logger    zerolog.Logger
}

type child struct {
	cmd     *exec.Cmd
	done    chan struct{}
	started time.Time
	attempt int
}

type probeState struct {
	checker health.Checker
	tracker *health.Tracker
	key     types.HealthCheck
}

// NewLocal creates a local runtime for the given processes rooted at root
func NewLocal(root string, processes []string) *Local {
	known := make(map[string]bool, len(processes))
	for _, p := range processes {
		known[p] = true
	}
	return &Local{
		Root:           root,
		Host:           "localhost",
		StopTimeout:    DefaultStopTimeout,
		RestartBackoff: DefaultRestartBackoff,
		processes:      known,
		running:        make(map[string]*child),
		checks:         make(map[string]*probeState),
		logger:         log.WithComponent("runtime"),
	}
}

// Prepare creates the directory of every process, making them reachable
func (l *Local) Prepare() error {
	for p := range l.processes {
		if err := os.MkdirAll(filepath.Join(l.Root, p, rootfs), 0o755); err != nil {
			return fmt.Errorf("failed to prepare %s: %w", p, err)
		}
	}
	return nil
}

func (l *Local) dir(process string) (string, error) {
	if !l.processes[process] {
		return "", fmt.Errorf("%w: %q", ErrUnknownProcess, process)
	}
	return filepath.Join(l.Root, process), nil
}

// CanReach reports whether the process directory exists
func (l *Local) CanReach(_ context.Context, process string) bool {
	dir, err := l.dir(process)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// InstalledPlan reads the plan last written by InstallPlan
func (l *Local) InstalledPlan(_ context.Context, process string) (*types.ProcessPlan, error) {
	dir, err := l.dir(process)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, planFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	var plan types.ProcessPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	return &plan, nil
}

// InstallPlan writes the plan atomically
func (l *Local) InstallPlan(_ context.Context, plan *types.ProcessPlan) error {
	dir, err := l.dir(plan.Name)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}

	tmp := filepath.Join(dir, planFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, planFile)); err != nil {
		return fmt.Errorf("failed to install plan: %w", err)
	}
	return nil
}

// Restart stops the running process, if any, and starts the installed plan
func (l *Local) Restart(ctx context.Context, process string) error {
	plan, err := l.InstalledPlan(ctx, process)
	if err != nil {
		return err
	}
	if plan == nil {
		return fmt.Errorf("no plan installed for %s", process)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.stopLocked(process); err != nil {
		return err
	}

	if !plan.Enabled() {
		l.logger.Info().Str("process", process).Msg("Startup disabled, not starting")
		return nil
	}
	return l.startLocked(process, plan, 0)
}

// startLocked must be called with mu held
func (l *Local) startLocked(process string, plan *types.ProcessPlan, attempt int) error {
	cmd := exec.Command("/bin/sh", "-c", plan.Command)
	cmd.Dir = filepath.Join(l.Root, process, rootfs)
	cmd.Env = environ(plan.Environment)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out, err := os.OpenFile(filepath.Join(l.Root, process, "output.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open output log: %w", err)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		out.Close()
		return fmt.Errorf("failed to start %s: %w", process, err)
	}

	c := &child{cmd: cmd, done: make(chan struct{}), started: time.Now(), attempt: attempt}
	l.running[process] = c
	delete(l.checks, process)

	go func() {
		err := cmd.Wait()
		out.Close()
		close(c.done)
		l.logger.Info().Str("process", process).Int("pid", cmd.Process.Pid).AnErr("exit", err).Msg("Process exited")
		l.scheduleRelaunch(process, c)
	}()

	l.logger.Info().Str("process", process).Int("pid", cmd.Process.Pid).Msg("Process started")
	return nil
}

// scheduleRelaunch starts the installed plan again after a child exits on
// its own. Children removed by stopLocked are not relaunched.
func (l *Local) scheduleRelaunch(process string, c *child) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || l.running[process] != c {
		return
	}

	attempt := c.attempt + 1
	if time.Since(c.started) >= relaunchResetAfter {
		attempt = 0
	}
	delay := l.RestartBackoff
	if delay <= 0 {
		delay = DefaultRestartBackoff
	}
	delay <<= min(attempt, 6)
	if delay > maxRelaunchBackoff {
		delay = maxRelaunchBackoff
	}

	l.logger.Warn().Str("process", process).Dur("backoff", delay).Msg("Process exited unexpectedly, relaunching")
	time.AfterFunc(delay, func() {
		l.relaunch(process, c, attempt)
	})
}

func (l *Local) relaunch(process string, exited *child, attempt int) {
	plan, err := l.InstalledPlan(context.Background(), process)
	if err != nil {
		l.logger.Error().Err(err).Str("process", process).Msg("Failed to read plan for relaunch")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// a Restart or Stop in the meantime owns the process now
	if l.stopped || l.running[process] != exited {
		return
	}
	if !plan.Enabled() {
		delete(l.running, process)
		return
	}
	if err := l.startLocked(process, plan, attempt); err != nil {
		l.logger.Error().Err(err).Str("process", process).Msg("Failed to relaunch process")
	}
}

// stopLocked must be called with mu held
func (l *Local) stopLocked(process string) error {
	c, ok := l.running[process]
	if !ok {
		return nil
	}
	delete(l.running, process)

	select {
	case <-c.done:
		return nil
	default:
	}

	pgid := -c.cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case <-c.done:
		return nil
	case <-time.After(l.StopTimeout):
	}

	if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to stop %s: %w", process, err)
	}
	<-c.done
	return nil
}

// Running reports whether the process was started and has not exited
func (l *Local) Running(_ context.Context, process string) (bool, error) {
	if _, err := l.dir(process); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.aliveLocked(process), nil
}

// exitedLocked reports whether the process was started and its child has
// since exited. Must be called with mu held.
func (l *Local) exitedLocked(process string) bool {
	_, ok := l.running[process]
	return ok && !l.aliveLocked(process)
}

// aliveLocked must be called with mu held
func (l *Local) aliveLocked(process string) bool {
	c, ok := l.running[process]
	if !ok {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Stop stops every running process. Exited processes are no longer
// relaunched afterwards.
func (l *Local) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopped = true
	for process := range l.running {
		if err := l.stopLocked(process); err != nil {
			l.logger.Warn().Err(err).Str("process", process).Msg("Failed to stop process")
		}
	}
}

// ProbeHealth runs the installed plan's HTTP check. A check only turns
// down after consecutive failures, so a process that is still starting
// reports up. A process whose child has exited is down without a check.
func (l *Local) ProbeHealth(ctx context.Context, process string) (types.Probe, error) {
	plan, err := l.InstalledPlan(ctx, process)
	if err != nil {
		return types.ProbeUnknown, err
	}
	if plan == nil {
		return types.ProbeUnknown, nil
	}
	if plan.HealthCheck == nil {
		return types.ProbeUp, nil
	}

	l.mu.Lock()
	if l.exitedLocked(process) {
		delete(l.checks, process)
		l.mu.Unlock()
		return types.ProbeDown, nil
	}
	state, ok := l.checks[process]
	if !ok || state.key != *plan.HealthCheck {
		state = l.newProbeState(*plan.HealthCheck)
		l.checks[process] = state
	}
	l.mu.Unlock()

	result := state.checker.Check(ctx)
	if ctx.Err() != nil {
		return types.ProbeUnknown, ctx.Err()
	}

	l.mu.Lock()
	probe := state.tracker.Observe(result)
	l.mu.Unlock()

	if !result.Healthy {
		l.logger.Debug().Str("process", process).Str("target", state.checker.Target()).
			Int("failures", state.tracker.Failures()).Msg(result.Message)
	}

	return probe, nil
}

func (l *Local) newProbeState(hc types.HealthCheck) *probeState {
	return &probeState{
		checker: health.ForHealthCheck(l.Host, hc),
		tracker: health.NewTracker(health.DefaultPolicy()),
		key:     hc,
	}
}

// FileExists reports whether path exists inside the process rootfs
func (l *Local) FileExists(_ context.Context, process, path string) (bool, error) {
	full, err := l.rootPath(process, path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PushFile writes the file inside the process rootfs, creating parent
// directories
func (l *Local) PushFile(_ context.Context, process string, file types.File) error {
	full, err := l.rootPath(process, file.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", file.Path, err)
	}

	mode := fs.FileMode(file.Mode)
	if mode == 0 {
		mode = 0o644
	}
	if err := os.WriteFile(full, []byte(file.Content), mode); err != nil {
		return fmt.Errorf("failed to push %s: %w", file.Path, err)
	}
	return os.Chmod(full, mode)
}

func (l *Local) rootPath(process, path string) (string, error) {
	dir, err := l.dir(process)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean("/" + path)
	return filepath.Join(dir, rootfs, clean), nil
}

func environ(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	if !containsKey(out, "PATH") {
		out = append(out, "PATH="+os.Getenv("PATH"))
	}
	return out
}

func containsKey(env []string, key string) bool {
	for _, kv := range env {
		if strings.HasPrefix(kv, key+"=") {
			return true
		}
	}
	return false
}

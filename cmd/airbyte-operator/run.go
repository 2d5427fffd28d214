package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/airbyte-operator/pkg/config"
	"github.com/cuemby/airbyte-operator/pkg/events"
	"github.com/cuemby/airbyte-operator/pkg/facts"
	"github.com/cuemby/airbyte-operator/pkg/log"
	"github.com/cuemby/airbyte-operator/pkg/metrics"
	"github.com/cuemby/airbyte-operator/pkg/plan"
	"github.com/cuemby/airbyte-operator/pkg/reconciler"
	"github.com/cuemby/airbyte-operator/pkg/relations"
	"github.com/cuemby/airbyte-operator/pkg/runtime"
	"github.com/cuemby/airbyte-operator/pkg/scheduler"
	"github.com/cuemby/airbyte-operator/pkg/security"
	"github.com/cuemby/airbyte-operator/pkg/status"
	"github.com/cuemby/airbyte-operator/pkg/storage"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

const stateKeyEnv = "AIRBYTE_OPERATOR_STATE_KEY"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the operator",
	Long: `Run the operator in the foreground.

The operator loads persisted facts from the data directory, delivers the
fact files found in the facts directory, and reconciles on every change,
on every health tick and whenever a deferred reconciliation is retried.`,
	RunE: runOperator,
}

func init() {
	runCmd.Flags().String("data-dir", "/var/lib/airbyte-operator/data", "Directory for operator state")
	runCmd.Flags().String("runtime-root", "/var/lib/airbyte-operator/processes", "Root directory of the managed processes")
	runCmd.Flags().String("metrics-addr", ":9090", "Address for metrics and health endpoints (empty to disable)")
	runCmd.Flags().String("tick-schedule", scheduler.DefaultTickSchedule, "Cron schedule for health checks")
	runCmd.Flags().Duration("retry-interval", scheduler.DefaultRetryInterval, "Minimum spacing of deferred retries")
	runCmd.Flags().Bool("leader", true, "Announce readiness from this instance")
	runCmd.Flags().String("announce-file", "", "File the readiness announcement is written to (empty to disable)")
	runCmd.Flags().StringSlice("processes", nil, "Processes to manage (default: all)")
	runCmd.Flags().String("state-key-file", "", "File holding the passphrase used to seal credentials in the data directory (or set "+stateKeyEnv+")")
}

func runOperator(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	factsDir, _ := cmd.Flags().GetString("facts-dir")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	runtimeRoot, _ := cmd.Flags().GetString("runtime-root")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	tickSchedule, _ := cmd.Flags().GetString("tick-schedule")
	retryInterval, _ := cmd.Flags().GetDuration("retry-interval")
	leader, _ := cmd.Flags().GetBool("leader")
	announceFile, _ := cmd.Flags().GetString("announce-file")
	processes, _ := cmd.Flags().GetStringSlice("processes")
	stateKeyFile, _ := cmd.Flags().GetString("state-key-file")

	logger := log.WithComponent("operator")
	metrics.SetVersion(Version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent(metrics.ComponentStorage, true, "")

	persist, err := sealStore(store, stateKeyFile)
	if err != nil {
		return err
	}

	factStore, err := facts.Open(persist)
	if err != nil {
		return err
	}

	builder := plan.NewBuilder(processes...)
	rt := runtime.NewLocal(runtimeRoot, builder.Processes())
	if err := rt.Prepare(); err != nil {
		return err
	}
	defer rt.Stop()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	go logEvents(broker.Subscribe())

	var announcer status.Announcer
	if announceFile != "" {
		announcer = status.NewFileAnnouncer(announceFile)
	}

	rec, err := reconciler.New(reconciler.Options{
		Facts:     factStore,
		Config:    cfg,
		Runtime:   rt,
		Store:     persist,
		Planner:   builder,
		Sink:      status.NewRecorder().WithEvents(broker),
		Announcer: announcer,
		Events:    broker,
		Leader:    leader,
	})
	if err != nil {
		return err
	}

	sched, err := scheduler.New(rec, scheduler.Options{TickSchedule: tickSchedule, RetryInterval: retryInterval})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	defer sched.Stop()
	sched.Trigger()

	watcher := relations.NewWatcher(factsDir, sched)
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Close()

	if configPath != "" {
		go watchConfig(ctx, configPath, sched)
	}

	collector := metrics.NewCollector(factStore, rec)
	collector.Start()
	defer collector.Stop()

	errCh := make(chan error, 1)
	var server *http.Server
	if metricsAddr != "" {
		server = newMetricsServer(metricsAddr)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	logger.Info().
		Str("facts_dir", factsDir).
		Str("data_dir", dataDir).
		Strs("processes", builder.Processes()).
		Bool("leader", leader).
		Msg("Operator started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("Shutting down")
	case err = <-errCh:
		logger.Error().Err(err).Msg("Shutting down")
	}

	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = server.Shutdown(shutdownCtx)
	}
	return err
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// watchConfig reloads the configuration file whenever it changes. An
// invalid file is logged and ignored; the previous configuration stays.
func watchConfig(ctx context.Context, path string, sched *scheduler.Scheduler) {
	logger := log.WithComponent("config")

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error().Err(err).Msg("Config reload disabled")
		return
	}
	defer fw.Close()

	// Watch the directory: editors and config maps replace the file.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		logger.Error().Err(err).Msg("Config reload disabled")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) ||
				event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := config.Load(path)
			if err != nil {
				logger.Error().Err(err).Msg("Ignoring invalid configuration")
				continue
			}
			if err := sched.NotifyConfig(cfg); err != nil {
				return
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("Config watch error")
		}
	}
}

func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		logger.Debug().
			Str("id", ev.ID).
			Str("type", string(ev.Type)).
			Str("message", ev.Message).
			Interface("metadata", ev.Metadata).
			Msg("Event")
	}
}

// sealStore wraps store with credential sealing when a state key is
// configured. The key file wins over the environment.
func sealStore(store storage.Store, keyFile string) (storage.Store, error) {
	passphrase := os.Getenv(stateKeyEnv)
	if keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read state key: %w", err)
		}
		passphrase = strings.TrimSpace(string(data))
	}
	if passphrase == "" {
		logger := log.WithComponent("operator")
		logger.Warn().Msg("No state key configured, credentials are stored unsealed")
		return store, nil
	}

	sealer, err := security.NewSealerFromPassphrase(passphrase)
	if err != nil {
		return nil, err
	}
	return security.NewSealedStore(store, sealer), nil
}

package relations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cuemby/airbyte-operator/pkg/log"
	"github.com/cuemby/airbyte-operator/pkg/metrics"
	"github.com/cuemby/airbyte-operator/pkg/types"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Sink receives fact changes. A nil fact clears the kind.
type Sink interface {
	NotifyFact(kind types.FactKind, fact *types.Fact) error
}

// FileName returns the file a fact kind is delivered in
func FileName(kind types.FactKind) string {
	return string(kind) + ".yaml"
}

// Load reads the fact file for kind from dir. It returns nil, nil when the
// file does not exist.
func Load(dir string, kind types.FactKind) (*types.Fact, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName(kind)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s fact: %w", kind, err)
	}
	return Parse(kind, data)
}

// Watcher delivers the facts found in a directory and every later change to
// them. Producers should replace files atomically (write then rename).
type Watcher struct {
	dir    string
	sink   Sink
	logger zerolog.Logger

	mu      sync.Mutex
	last    map[types.FactKind]*types.Fact
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewWatcher creates a watcher over dir delivering to sink
func NewWatcher(dir string, sink Sink) *Watcher {
	return &Watcher{
		dir:    dir,
		sink:   sink,
		logger: log.WithComponent("relations"),
		last:   make(map[types.FactKind]*types.Fact),
	}
}

// Sync loads every fact file and delivers the ones that changed since the
// last delivery
func (w *Watcher) Sync() error {
	var errs []error
	for _, kind := range types.FactKinds {
		if err := w.reload(kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start delivers the current facts and then watches the directory until
// ctx is done or Close is called
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create facts directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.watcher = fw
	w.cancel = cancel
	w.mu.Unlock()

	if err := w.Sync(); err != nil {
		w.logger.Warn().Err(err).Msg("Initial fact sync incomplete")
	}
	metrics.RegisterComponent(metrics.ComponentRelations, true, "")

	w.wg.Add(1)
	go w.loop(watchCtx, fw)

	w.logger.Info().Str("dir", w.dir).Msg("Watching fact files")
	return nil
}

// Close stops watching
func (w *Watcher) Close() error {
	w.mu.Lock()
	fw, cancel := w.watcher, w.cancel
	w.watcher, w.cancel = nil, nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if fw != nil {
		err = fw.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			kind, ok := kindForFile(event.Name)
			if !ok {
				continue
			}
			if err := w.reload(kind); err != nil {
				w.logger.Warn().Err(err).Str("fact_kind", string(kind)).Msg("Failed to reload fact")
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Fact watch error")
			metrics.UpdateComponent(metrics.ComponentRelations, false, err.Error())
		}
	}
}

func (w *Watcher) reload(kind types.FactKind) error {
	fact, err := Load(w.dir, kind)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentRelations, false, err.Error())
		return err
	}

	w.mu.Lock()
	prev, known := w.last[kind]
	if known && factEqual(prev, fact) {
		w.mu.Unlock()
		return nil
	}
	w.last[kind] = fact
	w.mu.Unlock()

	// An absent file that was never delivered needs no clear.
	if !known && fact == nil {
		return nil
	}

	logger := log.WithFactKind(string(kind))
	logger.Debug().Bool("present", fact != nil).Msg("Delivering fact")
	metrics.UpdateComponent(metrics.ComponentRelations, true, "")
	return w.sink.NotifyFact(kind, fact)
}

func kindForFile(path string) (types.FactKind, bool) {
	name := filepath.Base(path)
	base, ok := strings.CutSuffix(name, ".yaml")
	if !ok {
		return "", false
	}
	kind := types.FactKind(base)
	return kind, kind.Valid()
}

func factEqual(a, b *types.Fact) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || a.PeerReady != b.PeerReady {
		return false
	}
	if (a.Database == nil) != (b.Database == nil) || (a.Database != nil && *a.Database != *b.Database) {
		return false
	}
	if (a.ObjectStore == nil) != (b.ObjectStore == nil) || (a.ObjectStore != nil && *a.ObjectStore != *b.ObjectStore) {
		return false
	}
	return true
}

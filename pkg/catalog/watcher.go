package catalog

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/patchwork/pkg/packaging"
	"github.com/openfroyo/patchwork/pkg/telemetry"
)

// DefaultSettleDelay is how long a manifest must stay unchanged before it
// is executed.
const DefaultSettleDelay = 500 * time.Millisecond

// PackageRunner executes a manifest package. *packaging.Executor
// implements it.
type PackageRunner interface {
	ExecutePackage(ctx context.Context, req packaging.Request) (*packaging.PhasingResult, error)
}

// Outcome is reported for every manifest the watcher executed.
type Outcome struct {
	Path   string
	Result *packaging.PhasingResult
	Err    error
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithSettleDelay sets the debounce delay.
func WithSettleDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.delay = d
	}
}

// WithOutcomes delivers an Outcome for every executed manifest. The
// channel must be drained by the caller.
func WithOutcomes(ch chan<- Outcome) WatcherOption {
	return func(w *Watcher) {
		w.outcomes = ch
	}
}

// Watcher executes manifests dropped into a hot folder. A file is run once
// per distinct content, after its writes settle. Phases that need a restart
// are reported and not continued.
type Watcher struct {
	dir      string
	runner   PackageRunner
	logger   *telemetry.Logger
	delay    time.Duration
	outcomes chan<- Outcome

	mu      sync.Mutex
	timers  map[string]*time.Timer
	digests map[string][sha256.Size]byte
	runMu   sync.Mutex
}

// NewWatcher creates a watcher of dir.
func NewWatcher(dir string, runner PackageRunner, logger *telemetry.Logger, opts ...WatcherOption) *Watcher {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	w := &Watcher{
		dir:     dir,
		runner:  runner,
		logger:  logger.NewComponentLogger("watcher").WithField("dir", dir),
		delay:   DefaultSettleDelay,
		timers:  make(map[string]*time.Timer),
		digests: make(map[string][sha256.Size]byte),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("Watching for manifests")

	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !IsManifestFile(event.Name) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.schedule(ctx, event.Name)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.forget(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.process(ctx, path)
	})
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
	delete(w.digests, path)
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// process runs one settled manifest. Packages run one at a time.
func (w *Watcher) process(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	logger := w.logger.WithField("file", path)

	content, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.WithError(err).Warn("Failed to read manifest")
		}
		return
	}
	if len(content) == 0 {
		return
	}

	digest := sha256.Sum256(content)
	w.mu.Lock()
	if prev, ok := w.digests[path]; ok && prev == digest {
		w.mu.Unlock()
		logger.Debug("Manifest unchanged, skipping")
		return
	}
	w.digests[path] = digest
	w.mu.Unlock()

	w.runMu.Lock()
	defer w.runMu.Unlock()

	logger.Info("Executing manifest")
	result, err := w.runner.ExecutePackage(ctx, packaging.Request{
		Text:        string(content),
		PackagePath: w.dir,
	})
	switch {
	case err != nil:
		logger.WithError(err).Error("Manifest failed")
	case result.NeedRestart:
		logger.Warnf("Manifest needs a restart before phase %d", result.NextPhase())
	default:
		logger.Info("Manifest executed")
	}

	if w.outcomes != nil {
		select {
		case w.outcomes <- Outcome{Path: path, Result: result, Err: err}:
		case <-ctx.Done():
		}
	}
}

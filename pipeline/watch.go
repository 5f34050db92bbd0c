package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"hra-insights/logger"
)

// DefaultSettle is how long a file must stay quiet before it is processed
const DefaultSettle = 300 * time.Millisecond

// Watcher processes response files as they appear in a directory
type Watcher struct {
	batch     *Batch
	dir       string
	outputDir string
	settle    time.Duration
	onResult  func(FileResult)
	log       *logger.ObservabilityLogger

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// NewWatcher creates a Watcher writing documents to outputDir. onResult is
// called once per processed file and may be nil.
func NewWatcher(batch *Batch, dir, outputDir string, onResult func(FileResult)) *Watcher {
	if onResult == nil {
		onResult = func(FileResult) {}
	}
	return &Watcher{
		batch:     batch,
		dir:       dir,
		outputDir: outputDir,
		settle:    DefaultSettle,
		onResult:  onResult,
		log:       batch.log,
		pending:   make(map[string]*time.Timer),
	}
}

// SetSettle overrides the quiet period, mostly for tests
func (w *Watcher) SetSettle(d time.Duration) {
	w.settle = d
}

// jobFor decides whether an event names a response file to process
func (w *Watcher) jobFor(event fsnotify.Event) (Job, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return Job{}, false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, responseSuffix) {
		return Job{}, false
	}
	return Job{Input: event.Name, Output: OutputPath(event.Name, w.outputDir)}, true
}

// schedule (re)starts the settle timer for a job so that a file still being
// written is processed once, after its last write
func (w *Watcher) schedule(ctx context.Context, job Job) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[job.Input]; ok {
		if t.Stop() {
			t.Reset(w.settle)
			return
		}
	}

	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()
		if !w.claim(job.Input, t) || ctx.Err() != nil {
			return
		}
		w.onResult(w.batch.ProcessFile(ctx, job))
	})
	w.pending[job.Input] = t
}

// claim removes the pending entry for path if it still belongs to t. A timer
// that fired while schedule replaced it has been superseded and must not run.
func (w *Watcher) claim(path string, t *time.Timer) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending[path] != t {
		return false
	}
	delete(w.pending, path)
	return true
}

// Run watches until ctx is cancelled, then waits for in-flight files
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.log.Info(logger.ComponentPipeline, logger.CategoryRequest, "", "Watching for responses", map[string]interface{}{
		"dir":    w.dir,
		"output": w.outputDir,
	})

	defer w.drain()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if job, ok := w.jobFor(event); ok {
				w.schedule(ctx, job)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn(logger.ComponentPipeline, logger.CategoryWarning, "", "Watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// drain stops timers that have not fired and waits for running ones
func (w *Watcher) drain() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

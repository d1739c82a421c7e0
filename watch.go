package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watcher re-runs the pipeline when journey documents change. Events are
// debounced so one save storm triggers one run, and a fresh pipeline is
// built per batch so policy and catalog edits take effect too.
type Watcher struct {
	cfg      *ResolvedConfig
	logger   *RunLogger
	opts     PipelineOptions
	debounce time.Duration
}

// NewWatcher creates a journey watcher
func NewWatcher(cfg *ResolvedConfig, logger *RunLogger, opts PipelineOptions) *Watcher {
	return &Watcher{cfg: cfg, logger: logger, opts: opts, debounce: watchDebounce}
}

// Watch blocks until the context ends, running changed journeys as they
// settle
func (w *Watcher) Watch(ctx context.Context) error {
	journeysDir := filepath.Join(w.cfg.ProjectRoot, w.cfg.Config.Paths.JourneysDir)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(journeysDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", journeysDir, err)
	}

	w.logger.LogPrintln(fmt.Sprintf("Watching %s for journey changes (ctrl-c to stop)", w.cfg.Config.Paths.JourneysDir))

	changed := make(map[string]bool)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			id, ok := journeyIDFromPath(event.Name)
			if !ok {
				continue
			}
			changed[id] = true

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warning(fmt.Sprintf("watch error: %v", err))

		case <-timerC:
			timer.Stop()
			timer = nil
			timerC = nil

			ids := make([]string, 0, len(changed))
			for id := range changed {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			changed = make(map[string]bool)

			w.runBatch(ctx, ids)
		}
	}
}

// journeyIDFromPath maps a changed file back to a journey id, skipping
// editor temp files
func journeyIDFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".md") || strings.HasPrefix(base, ".") {
		return "", false
	}
	id := strings.TrimSuffix(base, ".md")
	if id == "" {
		return "", false
	}
	return id, true
}

func (w *Watcher) runBatch(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}

	pipeline, err := NewPipeline(w.cfg, w.logger)
	if err != nil {
		w.logger.Error("cannot start pipeline", err)
		return
	}
	defer pipeline.Close()

	w.logger.LogPrintln("Changed: " + strings.Join(ids, ", "))

	report := NewConsoleReport("watch run")
	for _, res := range pipeline.RunAll(ctx, ids, defaultWorkers, w.opts) {
		appendPipelineItem(report, res)
	}
	report.Finalize()
	fmt.Print(report.FormatForConsole())
}

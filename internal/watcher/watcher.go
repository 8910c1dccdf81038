// Package watcher translates input-root filesystem activity into case
// rescans and push hints. It never mutates case state: consumers re-derive
// everything from disk on the next read.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/docket_engine/infrastructure/logging"
	"github.com/R3E-Network/docket_engine/infrastructure/metrics"
)

// Events are the watcher's outbound notifications. All callbacks are
// invoked from the watcher goroutine and must not block.
type Events struct {
	CaseAdded   func(caseID string)
	CaseRemoved func(caseID string)
	Rescan      func(caseID string)
}

// Watcher observes the input root, coalescing event bursts per case.
type Watcher struct {
	inputRoot string
	debounce  time.Duration
	scanEvery time.Duration
	events    Events
	logger    *logging.Logger
	metrics   *metrics.Metrics

	mu          sync.Mutex
	fsw         *fsnotify.Watcher
	pending     map[string]time.Time
	known       map[string]bool
	cronRunner  *cron.Cron
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	usingPoller bool
}

// New creates a watcher over inputRoot.
func New(inputRoot string, debounce, scanEvery time.Duration, events Events, logger *logging.Logger, m *metrics.Metrics) *Watcher {
	return &Watcher{
		inputRoot: inputRoot,
		debounce:  debounce,
		scanEvery: scanEvery,
		events:    events,
		logger:    logger,
		metrics:   m,
		pending:   make(map[string]time.Time),
		known:     make(map[string]bool),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins watching. When the OS watcher cannot initialize (some
// network and container filesystems), it falls back to a periodic full
// scan driven by a cron schedule.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.snapshotKnown()

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		err = fsw.Add(w.inputRoot)
	}
	if err != nil {
		w.logger.WithError(err).Warn("OS watcher unavailable, falling back to periodic scan")
		w.startPoller()
		close(w.doneCh)
		return nil
	}

	w.fsw = fsw
	for caseID := range w.known {
		if addErr := fsw.Add(filepath.Join(w.inputRoot, caseID)); addErr != nil {
			w.logger.WithCase(caseID).WithError(addErr).Warn("Cannot watch case directory")
		}
	}

	go w.run(ctx)
	return nil
}

// Stop halts watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	poller := w.cronRunner
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if poller != nil {
		<-poller.Stop().Done()
	}
	if w.fsw != nil {
		w.fsw.Close()
	}
}

// UsingPoller reports whether the fallback scanner is active.
func (w *Watcher) UsingPoller() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.usingPoller
}

func (w *Watcher) startPoller() {
	runner := cron.New()
	spec := "@every " + w.scanEvery.String()
	if _, err := runner.AddFunc(spec, w.pollOnce); err != nil {
		w.logger.WithError(err).Error("Cannot schedule fallback scan")
		return
	}
	runner.Start()

	w.mu.Lock()
	w.cronRunner = runner
	w.usingPoller = true
	w.mu.Unlock()
}

// pollOnce diffs the input root against the known case set.
func (w *Watcher) pollOnce() {
	entries, err := os.ReadDir(w.inputRoot)
	if err != nil {
		w.logger.WithError(err).Warn("Fallback scan failed")
		return
	}

	current := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			current[entry.Name()] = true
		}
	}

	w.mu.Lock()
	var added, removed []string
	for caseID := range current {
		if !w.known[caseID] {
			added = append(added, caseID)
		}
	}
	for caseID := range w.known {
		if !current[caseID] {
			removed = append(removed, caseID)
		}
	}
	w.known = current
	w.mu.Unlock()

	for _, caseID := range added {
		w.record("case_added")
		w.events.CaseAdded(caseID)
	}
	for _, caseID := range removed {
		w.record("case_removed")
		w.events.CaseRemoved(caseID)
	}
}

func (w *Watcher) snapshotKnown() {
	entries, err := os.ReadDir(w.inputRoot)
	if err != nil {
		return
	}
	w.mu.Lock()
	for _, entry := range entries {
		if entry.IsDir() {
			w.known[entry.Name()] = true
		}
	}
	w.mu.Unlock()
}

// run is the fsnotify event loop.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	flush := time.NewTicker(tick)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Watcher error")
		case <-flush.C:
			w.flushPending()
		}
	}
}

// handleEvent classifies one fsnotify event. Direct children of the input
// root are case directories; anything deeper is activity inside a case.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(w.inputRoot, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}

	parts := strings.Split(rel, string(filepath.Separator))
	caseID := parts[0]
	isRootChild := len(parts) == 1

	switch {
	case isRootChild && event.Op&fsnotify.Create != 0:
		info, statErr := os.Stat(event.Name)
		if statErr != nil || !info.IsDir() {
			// A regular file dropped directly into the root is not a case.
			return
		}
		w.mu.Lock()
		fresh := !w.known[caseID]
		w.known[caseID] = true
		w.mu.Unlock()

		if addErr := w.fsw.Add(event.Name); addErr != nil {
			w.logger.WithCase(caseID).WithError(addErr).Warn("Cannot watch new case directory")
		}
		if fresh {
			w.record("case_added")
			w.events.CaseAdded(caseID)
		}

	case isRootChild && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.mu.Lock()
		existed := w.known[caseID]
		delete(w.known, caseID)
		delete(w.pending, caseID)
		w.mu.Unlock()

		if existed {
			w.record("case_removed")
			w.events.CaseRemoved(caseID)
		}

	default:
		// Activity inside a case directory: debounce into one rescan.
		w.mu.Lock()
		w.pending[caseID] = time.Now()
		w.mu.Unlock()
	}
}

// flushPending fires rescans for cases whose events have settled.
func (w *Watcher) flushPending() {
	now := time.Now()

	w.mu.Lock()
	var settled []string
	for caseID, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			settled = append(settled, caseID)
			delete(w.pending, caseID)
		}
	}
	w.mu.Unlock()

	for _, caseID := range settled {
		w.record("rescan")
		w.events.Rescan(caseID)
	}
}

func (w *Watcher) record(kind string) {
	if w.metrics != nil {
		w.metrics.RecordWatcherEvent(kind)
	}
}

// Package driver executes and supervises the external workers that move a
// case through the pipeline. It is the only writer of manifests and the
// only component that takes case leases.
package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	slerrors "github.com/R3E-Network/docket_engine/infrastructure/errors"
	"github.com/R3E-Network/docket_engine/infrastructure/logging"
	"github.com/R3E-Network/docket_engine/infrastructure/metrics"
	"github.com/R3E-Network/docket_engine/internal/casefile"
	"github.com/R3E-Network/docket_engine/internal/collab"
	"github.com/R3E-Network/docket_engine/internal/hydrated"
	"github.com/R3E-Network/docket_engine/internal/manifest"
	"github.com/R3E-Network/docket_engine/internal/push"
)

// partialsDirName holds per-file extraction outputs inside the case output
// directory, consumed by consolidation.
const partialsDirName = "partials"

// Config holds driver tuning.
type Config struct {
	OutputRoot string
	MaxWorkers int
	QueueDepth int
}

// Driver runs processing and render jobs with at most one live job per
// case and a bounded worker pool across cases.
type Driver struct {
	cfg      Config
	store    *manifest.Store
	model    *casefile.Model
	hydrated *hydrated.Store
	workers  collab.Set
	hub      *push.Hub
	logger   *logging.Logger
	metrics  *metrics.Metrics

	leases  *leaseMap
	sem     *semaphore.Weighted
	queued  atomic.Int64
	closed  atomic.Bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Driver.
func New(cfg Config, store *manifest.Store, model *casefile.Model, hyd *hydrated.Store, workers collab.Set, hub *push.Hub, logger *logging.Logger, m *metrics.Metrics) *Driver {
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		cfg:      cfg,
		store:    store,
		model:    model,
		hydrated: hyd,
		workers:  workers,
		hub:      hub,
		logger:   logger,
		metrics:  m,
		leases:   newLeaseMap(),
		sem:      semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// IsActive reports whether a job currently holds the case's lease.
func (d *Driver) IsActive(caseID string) bool { return d.leases.isHeld(caseID) }

// IsQueued reports whether the case's job is waiting for a worker slot.
// The QUEUED sub-state lives only in API responses, never in the manifest.
func (d *Driver) IsQueued(caseID string) bool { return d.leases.isQueued(caseID) }

// ActiveJobs returns the number of live leases.
func (d *Driver) ActiveJobs() int { return d.leases.count() }

// StartProcessing validates preconditions, acquires the case lease, and
// hands the job to the worker pool. It returns as soon as the job is
// admitted; the HTTP handler responds 202 with the current status.
func (d *Driver) StartProcessing(caseID string) error {
	if d.closed.Load() {
		return slerrors.Conflict("engine is shutting down")
	}

	snapshot, err := d.model.Get(caseID)
	if err != nil {
		return err
	}
	switch snapshot.Status {
	case casefile.StatusNew, casefile.StatusPendingReview, casefile.StatusError, casefile.StatusComplete:
	default:
		return slerrors.AlreadyRunning(caseID)
	}

	lease, err := d.leases.acquire(caseID)
	if err != nil {
		return err
	}

	if int(d.queued.Load()) >= d.cfg.QueueDepth {
		d.leases.release(lease)
		return slerrors.QueueFull(d.cfg.QueueDepth)
	}

	d.admit(lease, snapshot.Files, d.runProcessing)
	return nil
}

// StartRender validates preconditions, acquires the lease, and hands the
// render job to the worker pool.
func (d *Driver) StartRender(caseID string) error {
	if d.closed.Load() {
		return slerrors.Conflict("engine is shutting down")
	}

	snapshot, err := d.model.Get(caseID)
	if err != nil {
		return err
	}
	// COMPLETE is re-render after a post-completion review edit.
	if snapshot.Status != casefile.StatusPendingReview && snapshot.Status != casefile.StatusComplete {
		return slerrors.Conflict(fmt.Sprintf("cannot render a case in status %s", snapshot.Status))
	}
	if !d.hydrated.Exists(caseID) {
		return slerrors.Conflict("hydrated object does not exist yet")
	}

	lease, err := d.leases.acquire(caseID)
	if err != nil {
		return err
	}

	if int(d.queued.Load()) >= d.cfg.QueueDepth {
		d.leases.release(lease)
		return slerrors.QueueFull(d.cfg.QueueDepth)
	}

	d.admit(lease, snapshot.Files, d.runRender)
	return nil
}

// Cancel flags the case's running job. The flag is observed between files;
// the in-flight file is allowed to finish so no partial outputs are left.
func (d *Driver) Cancel(caseID string) error {
	if !d.leases.cancel(caseID) {
		return slerrors.Conflict("no active job for case")
	}
	return nil
}

// Shutdown stops intake, cancels running jobs, and waits for them to drain
// or for ctx to expire.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.closed.Store(true)
	d.leases.cancelAll()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

// admit queues the job on the worker pool.
func (d *Driver) admit(lease *Lease, files []casefile.FileResult, run func(*Lease, []casefile.FileResult)) {
	lease.queued.Store(true)
	d.queued.Add(1)
	if d.metrics != nil {
		d.metrics.QueueDepth.Set(float64(d.queued.Load()))
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.leases.release(lease)

		err := d.sem.Acquire(d.baseCtx, 1)
		lease.queued.Store(false)
		d.queued.Add(-1)
		if d.metrics != nil {
			d.metrics.QueueDepth.Set(float64(d.queued.Load()))
		}
		if err != nil {
			// Shutdown raced admission; the case keeps its prior status.
			return
		}
		defer d.sem.Release(1)

		if d.metrics != nil {
			d.metrics.ActiveJobs.Set(float64(d.leases.count()))
			defer func() {
				d.metrics.ActiveJobs.Set(float64(d.leases.count() - 1))
			}()
		}

		run(lease, files)
	}()
}

// appendLine appends a manifest line. An append failure is fatal to the
// current job; the caller must stop making progress observable.
func (d *Driver) appendLine(caseID string, line manifest.Line) error {
	if err := d.store.Append(caseID, line); err != nil {
		d.logger.WithCase(caseID).WithError(err).Error("Manifest append failed")
		return err
	}
	return nil
}

func (d *Driver) emitCaseStatus(caseID string, status casefile.Status) {
	d.hub.Broadcast(push.Event{
		Kind:   push.EventCaseStatusChanged,
		CaseID: caseID,
		Status: string(status),
	})
}

func (d *Driver) emitFileStatus(caseID, file string, status casefile.FileStatus) {
	d.hub.Broadcast(push.Event{
		Kind:   push.EventFileStatusChanged,
		CaseID: caseID,
		File:   file,
		Status: string(status),
	})
}

// failCase records an error line and flips the case to ERROR. Append
// failures at this point can only be logged.
func (d *Driver) failCase(caseID, scope, message string) {
	_ = d.appendLine(caseID, manifest.ErrorLine(scope, message))
	_ = d.appendLine(caseID, manifest.CaseStatusLine(string(casefile.StatusError)))
	d.emitCaseStatus(caseID, casefile.StatusError)
}

// runProcessing drives one case through extraction and consolidation. The
// file list was snapshotted at admission: files dropped in after the job
// started wait for the next invocation.
func (d *Driver) runProcessing(lease *Lease, files []casefile.FileResult) {
	caseID := lease.CaseID()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			d.logger.WithCase(caseID).WithFields(map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
			}).Error("Processing job panicked")
			d.failCase(caseID, "processing", fmt.Sprintf("internal panic: %v", r))
		}
	}()

	outputDir := filepath.Dir(d.store.Path(caseID))
	if err := os.MkdirAll(filepath.Join(outputDir, partialsDirName), 0o755); err != nil {
		d.logger.WithCase(caseID).WithError(err).Error("Cannot create output directory")
		return
	}

	if err := d.appendLine(caseID, manifest.CaseStatusLine(string(casefile.StatusProcessing))); err != nil {
		return
	}
	d.emitCaseStatus(caseID, casefile.StatusProcessing)

	var partialPaths []string
	for _, file := range files {
		if !file.OnDisk {
			continue
		}
		if lease.Cancelled() {
			d.failCase(caseID, "cancelled", "processing cancelled by user")
			d.logger.LogJob(caseID, "process", "cancelled", time.Since(start), nil)
			return
		}

		partial, ok := d.extractOne(lease, caseID, file.Name)
		if ok {
			partialPaths = append(partialPaths, partial)
		}
	}

	if lease.Cancelled() {
		d.failCase(caseID, "cancelled", "processing cancelled by user")
		d.logger.LogJob(caseID, "process", "cancelled", time.Since(start), nil)
		return
	}

	// Consolidation runs even when every file failed or the case is empty;
	// whether that still yields a usable hydrated object is the
	// consolidator's call.
	doc, err := d.workers.Consolidator.Consolidate(d.baseCtx, caseID, partialPaths)
	if err == nil {
		err = d.hydrated.Write(caseID, doc)
	}
	if err != nil {
		d.failCase(caseID, "consolidation", errMessage(err))
		d.logger.LogJob(caseID, "process", "error", time.Since(start), err)
		return
	}

	if err := d.appendLine(caseID, manifest.HydratedLine(hydrated.FileName)); err != nil {
		return
	}
	if err := d.appendLine(caseID, manifest.CaseStatusLine(string(casefile.StatusPendingReview))); err != nil {
		return
	}
	d.emitCaseStatus(caseID, casefile.StatusPendingReview)
	d.logger.LogJob(caseID, "process", "ok", time.Since(start), nil)
}

// extractOne runs the extractor for a single file, recording its outcome.
// Returns the partial path when extraction succeeded.
func (d *Driver) extractOne(lease *Lease, caseID, name string) (string, bool) {
	if err := d.appendLine(caseID, manifest.FileLine(name, string(casefile.FileInProgress), 0, false, 0, false)); err != nil {
		return "", false
	}
	d.emitFileStatus(caseID, name, casefile.FileInProgress)

	absPath := filepath.Join(d.model.InputDir(caseID), name)
	start := time.Now()
	result, err := d.workers.Extractor.Extract(d.baseCtx, caseID, absPath)
	duration := time.Since(start)

	if err != nil {
		_ = d.appendLine(caseID, manifest.FileLine(name, string(casefile.FileFailed), 0, false, duration.Milliseconds(), true))
		_ = d.appendLine(caseID, manifest.ErrorLine("file:"+name, errMessage(err)))
		d.emitFileStatus(caseID, name, casefile.FileFailed)
		if d.metrics != nil {
			d.metrics.RecordExtraction("failed", duration)
		}
		d.logger.LogFileResult(caseID, name, string(casefile.FileFailed), 0, duration)
		return "", false
	}

	partialPath := filepath.Join(filepath.Dir(d.store.Path(caseID)), partialsDirName, name+".json")
	if err := os.WriteFile(partialPath, result.Partial, 0o644); err != nil {
		_ = d.appendLine(caseID, manifest.FileLine(name, string(casefile.FileFailed), 0, false, duration.Milliseconds(), true))
		_ = d.appendLine(caseID, manifest.ErrorLine("file:"+name, "persist partial: "+err.Error()))
		d.emitFileStatus(caseID, name, casefile.FileFailed)
		return "", false
	}

	if err := d.appendLine(caseID, manifest.FileLine(name, string(casefile.FileSuccess), result.Score, true, duration.Milliseconds(), true)); err != nil {
		return "", false
	}
	d.emitFileStatus(caseID, name, casefile.FileSuccess)
	if d.metrics != nil {
		d.metrics.RecordExtraction("success", duration)
	}
	d.logger.LogFileResult(caseID, name, string(casefile.FileSuccess), result.Score, duration)
	return partialPath, true
}

// runRender drives the render phase: HTML artifacts, then a PDF per HTML.
func (d *Driver) runRender(lease *Lease, _ []casefile.FileResult) {
	caseID := lease.CaseID()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			d.logger.WithCase(caseID).WithFields(map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
			}).Error("Render job panicked")
			d.failCase(caseID, "render", fmt.Sprintf("internal panic: %v", r))
		}
	}()

	if err := d.appendLine(caseID, manifest.CaseStatusLine(string(casefile.StatusRendering))); err != nil {
		return
	}
	d.emitCaseStatus(caseID, casefile.StatusRendering)

	outputDir := filepath.Dir(d.store.Path(caseID))
	artifacts, err := d.workers.Renderer.Render(d.baseCtx, d.hydrated.Path(caseID), outputDir)
	if err != nil {
		d.failCase(caseID, "render", errMessage(err))
		d.logger.LogJob(caseID, "render", "error", time.Since(start), err)
		return
	}

	for _, artifact := range artifacts {
		if err := d.appendLine(caseID, manifest.ArtifactLine(artifact.Kind, artifact.RelativePath)); err != nil {
			return
		}

		if filepath.Ext(artifact.RelativePath) != ".html" {
			continue
		}
		if lease.Cancelled() {
			d.failCase(caseID, "cancelled", "render cancelled by user")
			d.logger.LogJob(caseID, "render", "cancelled", time.Since(start), nil)
			return
		}

		htmlPath := filepath.Join(outputDir, artifact.RelativePath)
		pdfRel := artifact.RelativePath[:len(artifact.RelativePath)-len(".html")] + ".pdf"
		pdfPath := filepath.Join(outputDir, pdfRel)
		if err := d.workers.PDF.Convert(d.baseCtx, htmlPath, pdfPath); err != nil {
			d.failCase(caseID, "render", errMessage(err))
			d.logger.LogJob(caseID, "render", "error", time.Since(start), err)
			return
		}
		if err := d.appendLine(caseID, manifest.ArtifactLine(artifact.Kind+"_pdf", pdfRel)); err != nil {
			return
		}
	}

	if err := d.appendLine(caseID, manifest.CaseStatusLine(string(casefile.StatusComplete))); err != nil {
		return
	}
	d.emitCaseStatus(caseID, casefile.StatusComplete)
	if d.metrics != nil {
		d.metrics.RecordRender(time.Since(start))
	}
	d.logger.LogJob(caseID, "render", "ok", time.Since(start), nil)
}

// errMessage extracts a compact, user-visible message. Full detail has
// already been logged at DEBUG by the collaborator layer.
func errMessage(err error) string {
	if serviceErr := slerrors.GetServiceError(err); serviceErr != nil {
		if serviceErr.Err != nil {
			return serviceErr.Message + ": " + serviceErr.Err.Error()
		}
		return serviceErr.Message
	}
	return err.Error()
}

// Package engine is the composition root: it owns the roots, the manifest
// store, the case model, the driver, the watcher, and the push hub, and
// runs the startup reconciliation that makes crash recovery observable.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/docket_engine/infrastructure/config"
	"github.com/R3E-Network/docket_engine/infrastructure/logging"
	"github.com/R3E-Network/docket_engine/infrastructure/metrics"
	"github.com/R3E-Network/docket_engine/infrastructure/middleware"
	"github.com/R3E-Network/docket_engine/internal/casefile"
	"github.com/R3E-Network/docket_engine/internal/collab"
	"github.com/R3E-Network/docket_engine/internal/driver"
	"github.com/R3E-Network/docket_engine/internal/httpapi"
	"github.com/R3E-Network/docket_engine/internal/hydrated"
	"github.com/R3E-Network/docket_engine/internal/manifest"
	"github.com/R3E-Network/docket_engine/internal/push"
	"github.com/R3E-Network/docket_engine/internal/watcher"
)

// Engine ties every component together behind one value. Nothing in the
// process lives outside it except the config and the logger it was given.
type Engine struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics

	Store    *manifest.Store
	Model    *casefile.Model
	Hydrated *hydrated.Store
	Driver   *driver.Driver
	Hub      *push.Hub
	Watcher  *watcher.Watcher

	server  *http.Server
	started time.Time
}

// New builds an Engine from config. The collaborator set defaults to the
// subprocess-backed implementations; empty commands select the demo set.
func New(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (*Engine, error) {
	store := manifest.NewStore(cfg.OutputRoot, logger)
	model := casefile.NewModel(cfg.InputRoot, cfg.OutputRoot, store, logger)

	hyd, err := hydrated.NewStore(cfg.OutputRoot, cfg.HydratedSchema)
	if err != nil {
		return nil, err
	}

	workers, err := buildCollaborators(cfg, logger)
	if err != nil {
		return nil, err
	}

	hub := push.NewHub(logger, m)
	drv := driver.New(driver.Config{
		OutputRoot: cfg.OutputRoot,
		MaxWorkers: cfg.MaxWorkers,
		QueueDepth: cfg.QueueDepth,
	}, store, model, hyd, workers, hub, logger, m)

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		Store:    store,
		Model:    model,
		Hydrated: hyd,
		Driver:   drv,
		Hub:      hub,
		started:  time.Now(),
	}

	e.Watcher = watcher.New(cfg.InputRoot, cfg.DebounceWindow, cfg.ScanInterval, watcher.Events{
		CaseAdded: func(caseID string) {
			hub.Broadcast(push.Event{Kind: push.EventCaseAdded, CaseID: caseID})
		},
		CaseRemoved: func(caseID string) {
			hub.Broadcast(push.Event{Kind: push.EventCaseRemoved, CaseID: caseID})
		},
		Rescan: func(caseID string) {
			// The model rebuilds from disk on every read, so a rescan is
			// just a hint for the dashboard to re-fetch.
			hub.Broadcast(push.Event{Kind: push.EventFileStatusChanged, CaseID: caseID})
		},
	}, logger, m)

	return e, nil
}

func buildCollaborators(cfg *config.Config, logger *logging.Logger) (collab.Set, error) {
	if cfg.ExtractorCmd == "" && cfg.RendererCmd == "" && cfg.PDFCmd == "" {
		logger.WithFields(nil).Warn("No collaborator commands configured, using built-in demo workers")
		return collab.NewDemoSet(), nil
	}

	extractor, err := collab.NewExecExtractor(cfg.ExtractorCmd, cfg.ExtractTimeout, logger)
	if err != nil {
		return collab.Set{}, err
	}
	consolidator, err := collab.NewExecConsolidator(cfg.ExtractorCmd, cfg.ExtractTimeout, logger)
	if err != nil {
		return collab.Set{}, err
	}
	renderer, err := collab.NewExecRenderer(cfg.RendererCmd, cfg.RenderTimeout, logger)
	if err != nil {
		return collab.Set{}, err
	}
	pdf, err := collab.NewExecPDFConverter(cfg.PDFCmd, cfg.PDFTimeout, logger)
	if err != nil {
		return collab.Set{}, err
	}

	return collab.Set{
		Extractor:    extractor,
		Consolidator: consolidator,
		Renderer:     renderer,
		PDF:          pdf,
	}, nil
}

// Reconcile repairs on-disk state left behind by a crash, before the API
// serves its first request.
//
// A manifest whose last CASE_STATUS is transient (PROCESSING or RENDERING)
// with no live lease can only mean the process died mid-job. Appending a
// stale_job error makes the failure visible to clients instead of showing
// a hung transient status forever. Legacy-format manifests migrate here
// too, exactly once.
func (e *Engine) Reconcile() error {
	entries, err := os.ReadDir(e.cfg.InputRoot)
	if err != nil {
		return fmt.Errorf("read input root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		caseID := entry.Name()

		if e.Store.NeedsMigration(caseID) {
			e.logger.WithCase(caseID).Info("Migrating legacy manifest")
			if err := e.Store.Migrate(caseID); err != nil {
				e.logger.WithCase(caseID).WithError(err).Error("Legacy manifest migration failed")
				continue
			}
		}

		lines, err := e.Store.Read(caseID)
		if err != nil {
			e.logger.WithCase(caseID).WithError(err).Warn("Cannot read manifest during reconciliation")
			continue
		}

		last := casefile.StatusNew
		for _, line := range lines {
			if line.Kind == manifest.KindCaseStatus && casefile.KnownStatus(line.CaseStatus) {
				last = casefile.Status(line.CaseStatus)
			}
		}

		if last.Transient() && !e.Driver.IsActive(caseID) {
			e.logger.WithCase(caseID).WithFields(map[string]interface{}{
				"stale_status": string(last),
			}).Warn("Reconciling stale job from previous run")

			if err := e.Store.Append(caseID, manifest.ErrorLine("stale_job", "engine restarted during "+string(last))); err != nil {
				return err
			}
			if err := e.Store.Append(caseID, manifest.CaseStatusLine(string(casefile.StatusError))); err != nil {
				return err
			}
		}
	}
	return nil
}

// Router builds the HTTP router with the full middleware chain.
func (e *Engine) Router() *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.LoggingMiddleware(e.logger))
	router.Use(middleware.NewRecoveryMiddleware(e.logger).Handler)
	if metrics.Enabled() && e.metrics != nil {
		router.Use(middleware.MetricsMiddleware("engine", e.metrics))
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	router.Use(middleware.NewCORSMiddleware(&middleware.CORSConfig{
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
	}).Handler)
	router.Use(middleware.NewRateLimiter(e.cfg.RateLimitRPS, e.cfg.RateLimitBurst, e.logger).Handler)

	api := httpapi.New(e.Model, e.Driver, e.Store, e.Hydrated, e.Hub, e.logger).WithMetrics(e.metrics)
	api.Register(router)
	return router
}

// Start runs reconciliation, starts the watcher, and begins serving HTTP.
// It returns once the listener is up; Serve errors arrive on the channel.
func (e *Engine) Start(ctx context.Context) (<-chan error, error) {
	if err := e.Reconcile(); err != nil {
		return nil, err
	}

	if err := e.Watcher.Start(ctx); err != nil {
		return nil, err
	}

	e.server = &http.Server{
		Addr:              e.cfg.ListenAddr,
		Handler:           e.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := e.server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	e.logger.WithFields(map[string]interface{}{
		"addr":        e.cfg.ListenAddr,
		"input_root":  e.cfg.InputRoot,
		"output_root": e.cfg.OutputRoot,
		"max_workers": e.cfg.MaxWorkers,
	}).Info("Engine started")

	return errCh, nil
}

// Shutdown drains everything: HTTP intake first, then jobs, then the hub.
func (e *Engine) Shutdown(ctx context.Context) error {
	var firstErr error

	if e.server != nil {
		if err := e.server.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	e.Watcher.Stop()

	if err := e.Driver.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	e.Hub.Close()
	return firstErr
}

// Package httpapi serves the dashboard contract: polling GETs that are
// authoritative, mutating POSTs that delegate to the driver, and the
// websocket hint channel.
package httpapi

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"

	slerrors "github.com/R3E-Network/docket_engine/infrastructure/errors"
	"github.com/R3E-Network/docket_engine/infrastructure/httputil"
	"github.com/R3E-Network/docket_engine/infrastructure/logging"
	"github.com/R3E-Network/docket_engine/infrastructure/metrics"
	"github.com/R3E-Network/docket_engine/internal/casefile"
	"github.com/R3E-Network/docket_engine/internal/driver"
	"github.com/R3E-Network/docket_engine/internal/hydrated"
	"github.com/R3E-Network/docket_engine/internal/manifest"
	"github.com/R3E-Network/docket_engine/internal/push"
)

// maxHydratedBytes bounds review-edit uploads.
const maxHydratedBytes = 16 << 20

// API holds the handler dependencies.
type API struct {
	model    *casefile.Model
	driver   *driver.Driver
	store    *manifest.Store
	hydrated *hydrated.Store
	hub      *push.Hub
	logger   *logging.Logger
	metrics  *metrics.Metrics
	started  time.Time
}

// New creates the API.
func New(model *casefile.Model, drv *driver.Driver, store *manifest.Store, hyd *hydrated.Store, hub *push.Hub, logger *logging.Logger) *API {
	return &API{
		model:    model,
		driver:   drv,
		store:    store,
		hydrated: hyd,
		hub:      hub,
		logger:   logger,
		started:  time.Now(),
	}
}

// WithMetrics attaches pipeline metrics; the list handler refreshes the
// cases-by-status gauge on every authoritative read.
func (a *API) WithMetrics(m *metrics.Metrics) *API {
	a.metrics = m
	return a
}

// Register mounts all routes on the router.
func (a *API) Register(router *mux.Router) {
	router.HandleFunc("/api/cases", a.handleListCases).Methods(http.MethodGet)
	router.HandleFunc("/api/cases/{id}", a.handleGetCase).Methods(http.MethodGet)
	router.HandleFunc("/api/cases/{id}/process", a.handleProcess).Methods(http.MethodPost)
	router.HandleFunc("/api/cases/{id}/cancel", a.handleCancel).Methods(http.MethodPost)
	router.HandleFunc("/api/cases/{id}/hydrated", a.handleGetHydrated).Methods(http.MethodGet)
	router.HandleFunc("/api/cases/{id}/hydrated", a.handlePutHydrated).Methods(http.MethodPut)
	router.HandleFunc("/api/cases/{id}/render", a.handleRender).Methods(http.MethodPost)
	router.HandleFunc("/api/cases/{id}/manifest", a.handleGetManifest).Methods(http.MethodGet)
	router.PathPrefix("/api/cases/{id}/artifacts/").HandlerFunc(a.handleGetArtifact).Methods(http.MethodGet)
	router.HandleFunc("/api/health", a.handleHealth).Methods(http.MethodGet)
	router.Handle("/api/events", a.hub).Methods(http.MethodGet)
}

// snapshot returns the case with its live queued flag folded in.
func (a *API) snapshot(caseID string) (*casefile.Case, error) {
	c, err := a.model.Get(caseID)
	if err != nil {
		return nil, err
	}
	c.Queued = a.driver.IsQueued(caseID)
	return c, nil
}

func (a *API) handleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := a.model.List()
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	for _, c := range cases {
		c.Queued = a.driver.IsQueued(c.ID)
	}
	if cases == nil {
		cases = []*casefile.Case{}
	}
	if a.metrics != nil {
		counts := make(map[casefile.Status]int)
		for _, c := range cases {
			counts[c.Status]++
		}
		for _, status := range []casefile.Status{
			casefile.StatusNew, casefile.StatusProcessing, casefile.StatusPendingReview,
			casefile.StatusRendering, casefile.StatusComplete, casefile.StatusError,
		} {
			a.metrics.SetCaseCount(string(status), counts[status])
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"cases": cases})
}

func (a *API) handleGetCase(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]
	c, err := a.snapshot(caseID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (a *API) handleProcess(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]

	if err := a.driver.StartProcessing(caseID); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	c, err := a.snapshot(caseID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, c)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]

	if _, err := a.model.Get(caseID); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if err := a.driver.Cancel(caseID); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	c, err := a.snapshot(caseID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, c)
}

func (a *API) handleGetHydrated(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]

	c, err := a.model.Get(caseID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if c.HydratedPath == "" && !a.hydrated.Exists(caseID) {
		httputil.WriteServiceError(w, r, slerrors.Conflict("case has not reached review yet"))
		return
	}

	raw, err := a.hydrated.Read(caseID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (a *API) handlePutHydrated(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]

	c, err := a.model.Get(caseID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	// Edits are review actions; COMPLETE is editable to allow re-render.
	if c.Status != casefile.StatusPendingReview && c.Status != casefile.StatusComplete {
		httputil.WriteServiceError(w, r, slerrors.Conflict("case is not reviewable in status "+string(c.Status)))
		return
	}
	if a.driver.IsActive(caseID) {
		httputil.WriteServiceError(w, r, slerrors.AlreadyRunning(caseID))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxHydratedBytes)
	raw, ok := httputil.ReadBody(w, r)
	if !ok {
		return
	}

	if err := a.hydrated.Write(caseID, raw); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"case_id": caseID,
		"path":    hydrated.FileName,
	})
}

func (a *API) handleRender(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]

	if err := a.driver.StartRender(caseID); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	c, err := a.snapshot(caseID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, c)
}

func (a *API) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]

	if _, err := a.model.Get(caseID); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	lines, err := a.store.Read(caseID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	rendered := make([]string, 0, len(lines))
	for _, line := range lines {
		rendered = append(rendered, manifest.Format(line))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"case_id": caseID,
		"lines":   rendered,
	})
}

func (a *API) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]

	c, err := a.model.Get(caseID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	marker := "/artifacts/"
	idx := strings.Index(r.URL.Path, marker)
	if idx < 0 {
		httputil.NotFound(w, "")
		return
	}
	rel := filepath.Clean(r.URL.Path[idx+len(marker):])
	if rel == "." || rel == "" || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		httputil.NotFound(w, "")
		return
	}

	// Only paths the manifest lists as artifacts are served.
	allowed := false
	for _, artifact := range c.Artifacts {
		if filepath.Clean(artifact.Path) == rel {
			allowed = true
			break
		}
	}
	if !allowed {
		httputil.NotFound(w, "artifact not found")
		return
	}

	http.ServeFile(w, r, filepath.Join(a.model.OutputDir(caseID), rel))
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(a.started).Seconds()),
		"push_clients":   a.hub.ClientCount(),
		"active_jobs":    a.driver.ActiveJobs(),
	})
}

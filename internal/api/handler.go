// Package api provides the HTTP front-end for refinement runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"repoforge/internal/controller"
	"repoforge/internal/logging"
	"repoforge/internal/packager"
	"repoforge/internal/runstore"
	"repoforge/internal/spec"
)

// MaxIterationsCeiling caps the per-request iteration budget.
const MaxIterationsCeiling = 10

// MaxRequestBytes bounds a /generate request body.
const MaxRequestBytes = 1 << 20

// Builder creates a controller for one request's loop budget.
type Builder func(cfg controller.Config) *controller.Controller

// Handler holds all dependencies for the HTTP handlers. Store and Packager are optional.
type Handler struct {
	Build          Builder
	Defaults       controller.Config
	Store          *runstore.Store
	Packager       *packager.Packager
	RequestTimeout time.Duration

	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// NewHandler creates a handler allowing maxConcurrent runs at once.
func NewHandler(build Builder, defaults controller.Config, maxConcurrent int) *Handler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Handler{
		Build:    build,
		Defaults: defaults,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// GenerateRequest is the body for POST /generate. Either Query or Spec is required.
type GenerateRequest struct {
	Query         string            `json:"query"`
	Spec          *spec.ProjectSpec `json:"spec,omitempty"`
	MaxIterations int               `json:"max_iterations,omitempty"`
	Timeout       float64           `json:"timeout,omitempty"` // execution timeout in seconds
	SkipExecution bool              `json:"skip_execution,omitempty"`
}

// GenerateResponse is the result of POST /generate.
type GenerateResponse struct {
	ID string `json:"id"`
	controller.Summary
	Artifact *packager.Artifact `json:"artifact,omitempty"`
}

// RunView is one entry of GET /runs.
type RunView struct {
	ID          string    `json:"id"`
	Query       string    `json:"query"`
	ProjectName string    `json:"project_name"`
	Success     bool      `json:"success"`
	Degraded    bool      `json:"degraded"`
	FinalState  string    `json:"final_state"`
	Iterations  int       `json:"iterations"`
	Blocking    int       `json:"blocking"`
	ExitCode    *int64    `json:"exit_code,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	Artifact    string    `json:"artifact,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "online",
		"in_flight": h.inFlight.Load(),
	})
}

// Generate handles POST /generate. The run is synchronous; concurrent runs beyond the limit
// wait for a slot until the request context ends.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	body := http.MaxBytesReader(w, r.Body, MaxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, APIError{Code: 413, Message: fmt.Sprintf("request body exceeds %d bytes", MaxRequestBytes)})
			return
		}
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" && req.Spec == nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "query cannot be empty"})
		return
	}
	if req.MaxIterations < 0 || req.MaxIterations > MaxIterationsCeiling {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: fmt.Sprintf("max_iterations must be between 0 and %d", MaxIterationsCeiling)})
		return
	}
	if req.Timeout < 0 {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "timeout must not be negative"})
		return
	}

	ctx := r.Context()
	if h.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RequestTimeout)
		defer cancel()
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, APIError{Code: 503, Message: "no run slot available"})
		return
	}
	defer h.sem.Release(1)
	h.inFlight.Add(1)
	defer h.inFlight.Add(-1)

	cfg := h.Defaults
	if req.MaxIterations > 0 {
		cfg.MaxIterations = req.MaxIterations
	}
	if req.Timeout > 0 {
		cfg.ExecutionTimeout = time.Duration(req.Timeout * float64(time.Second))
	}
	cfg.SkipExecution = cfg.SkipExecution || req.SkipExecution

	id := uuid.NewString()
	logging.API("run %s started: query=%q max_iterations=%d", id, req.Query, cfg.MaxIterations)
	start := time.Now()

	ctrl := h.Build(cfg)
	var (
		rep *controller.Report
		err error
	)
	if req.Spec != nil {
		rep, err = ctrl.RunSpec(ctx, req.Spec)
	} else {
		rep, err = ctrl.RunQuery(ctx, req.Query)
	}
	elapsed := time.Since(start)

	resp := GenerateResponse{ID: id, Summary: rep.Summary()}
	if h.Packager != nil && rep.Spec != nil && rep.FileSet.Len() > 0 {
		art, perr := h.Packager.Package(rep.Spec, rep.FileSet)
		if perr != nil {
			logging.APIWarn("run %s: packaging failed: %v", id, perr)
		} else {
			resp.Artifact = &art
		}
	}
	h.record(id, req.Query, rep, elapsed, resp.Artifact)

	logging.API("run %s finished in %s: state=%s success=%v", id, elapsed.Round(time.Millisecond), rep.FinalState, rep.Success)
	writeJSON(w, statusFor(err), resp)
}

func (h *Handler) record(id, query string, rep *controller.Report, elapsed time.Duration, art *packager.Artifact) {
	if h.Store == nil {
		return
	}
	path := ""
	if art != nil {
		path = art.Zip
		if path == "" {
			path = art.Dir
		}
	}
	// The request context may already be done; history is written regardless.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Store.Save(ctx, runstore.NewRecord(id, query, rep, elapsed, path)); err != nil {
		logging.APIWarn("run %s: history not saved: %v", id, err)
	}
}

// statusFor maps a run error to an HTTP status. A run that finished, even unsuccessfully,
// is reported with 200 and the full summary.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, spec.ErrSpecInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, spec.ErrGenerationUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

// ListRuns handles GET /runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeJSON(w, http.StatusNotFound, APIError{Code: 404, Message: "run history is disabled"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid limit"})
			return
		}
		limit = n
	}
	runs, err := h.Store.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]RunView, 0, len(runs))
	for _, rec := range runs {
		views = append(views, viewOf(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetRun handles GET /runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeJSON(w, http.StatusNotFound, APIError{Code: 404, Message: "run history is disabled"})
		return
	}
	rec, err := h.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, GenerateResponse{ID: rec.ID, Summary: rec.Summary})
}

// GetArtifact handles GET /runs/{id}/artifact and serves the packaged zip.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeJSON(w, http.StatusNotFound, APIError{Code: 404, Message: "run history is disabled"})
		return
	}
	rec, err := h.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !strings.HasSuffix(rec.Artifact, ".zip") {
		writeJSON(w, http.StatusNotFound, APIError{Code: 404, Message: "run has no archive"})
		return
	}
	if _, err := os.Stat(rec.Artifact); err != nil {
		writeJSON(w, http.StatusNotFound, APIError{Code: 404, Message: "archive no longer exists"})
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(rec.Artifact)))
	http.ServeFile(w, r, rec.Artifact)
}

func viewOf(rec runstore.RunRecord) RunView {
	v := RunView{
		ID:          rec.ID,
		Query:       rec.Query,
		ProjectName: rec.ProjectName,
		Success:     rec.Success,
		Degraded:    rec.Degraded,
		FinalState:  rec.FinalState,
		Iterations:  rec.Iterations,
		Blocking:    rec.Blocking,
		DurationMS:  rec.Duration.Milliseconds(),
		Artifact:    rec.Artifact,
		CreatedAt:   rec.CreatedAt,
	}
	if rec.ExitCode.Valid {
		code := rec.ExitCode.Int64
		v.ExitCode = &code
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, runstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, APIError{Code: 404, Message: err.Error()})
		return
	}
	logging.APIWarn("request failed: %v", err)
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

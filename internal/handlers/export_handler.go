package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/interfaces"
	"github.com/ternarybob/orderflow/internal/services/export"
)

// StatusProvider reports the export session state
type StatusProvider interface {
	Status() export.Status
}

// ExportController is the part of the export session the HTTP API drives
type ExportController interface {
	StatusProvider
	Start(ctx context.Context) error
	RequestStop() error
}

// ExportHandler serves the export control API
type ExportHandler struct {
	ctx       context.Context
	session   ExportController
	runs      interfaces.RunStorage       // Optional
	scheduler interfaces.SchedulerService // Optional
	logger    arbor.ILogger
}

// NewExportHandler creates the handler. ctx is the application lifetime context that started
// exports run under; request contexts end with the request and must not bound a run.
func NewExportHandler(ctx context.Context, session ExportController, runs interfaces.RunStorage, scheduler interfaces.SchedulerService, logger arbor.ILogger) *ExportHandler {
	return &ExportHandler{
		ctx:       ctx,
		session:   session,
		runs:      runs,
		scheduler: scheduler,
		logger:    logger,
	}
}

// StartHandler starts an export session (POST /api/export/start)
func (h *ExportHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.session.Start(h.ctx); err != nil {
		if !errors.Is(err, export.ErrAlreadyRunning) {
			h.logger.Error().Err(err).Msg("Failed to start export")
		}
		WriteSessionError(w, err)
		return
	}

	WriteAction(w, "started", "Export started", h.session.Status())
}

// StopHandler requests a cooperative stop (POST /api/export/stop)
func (h *ExportHandler) StopHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.session.RequestStop(); err != nil {
		WriteSessionError(w, err)
		return
	}

	WriteAction(w, "stopping", "Stop requested; collected records will be exported", h.session.Status())
}

// StatusHandler returns session and schedule state (GET /api/export/status)
func (h *ExportHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	response := map[string]interface{}{
		"export": h.session.Status(),
	}
	if h.scheduler != nil {
		response["schedule"] = h.scheduler.Status()
	}

	WriteJSON(w, http.StatusOK, response)
}

// ListRunsHandler returns recent runs, newest first (GET /api/export/runs?limit=N)
func (h *ExportHandler) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if h.runs == nil {
		WriteError(w, http.StatusServiceUnavailable, "Run history is disabled")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list runs")
		WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRunHandler returns one run (GET /api/export/runs/{id})
func (h *ExportHandler) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if h.runs == nil {
		WriteError(w, http.StatusServiceUnavailable, "Run history is disabled")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/export/runs/")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrRunNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		h.logger.Error().Err(err).Str("run_id", id).Msg("Failed to get run")
		WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	WriteJSON(w, http.StatusOK, run)
}

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Progress stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Export control
	mux.HandleFunc("/api/export/start", s.app.ExportHandler.StartHandler)   // POST
	mux.HandleFunc("/api/export/stop", s.app.ExportHandler.StopHandler)     // POST
	mux.HandleFunc("/api/export/status", s.app.ExportHandler.StatusHandler) // GET

	// API routes - Run history
	mux.HandleFunc("/api/export/runs", s.app.ExportHandler.ListRunsHandler) // GET ?limit=N
	mux.HandleFunc("/api/export/runs/", s.app.ExportHandler.GetRunHandler)  // GET /{id}

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	if s.app.Config.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

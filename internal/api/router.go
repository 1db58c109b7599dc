package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sciler-device/internal/session"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/device", s.handleDevice)
		r.Get("/status", s.handleStatus)
		r.Get("/journal", s.handleJournal)
		r.Post("/instructions", s.handleInstructions)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports ok only while the broker session is connected.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	info := s.session.Snapshot()

	status, code := "ok", http.StatusOK
	if info.State != session.StateConnected {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"session": info.State,
		"version": s.version,
	})
}

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/nerrad567/sciler-device/internal/device"
	"github.com/nerrad567/sciler-device/internal/journal"
	"github.com/nerrad567/sciler-device/internal/session"
)

// handleDevice returns the device identity, the opaque info block and the
// session snapshot.
func (s *Server) handleDevice(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"id":      s.device.ID,
		"host":    s.device.Host,
		"info":    s.device.Info,
		"session": s.session.Snapshot(),
	}
	if s.reader != nil {
		resp["reader"] = s.reader.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus returns the current component snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

// handleJournal lists journalled envelopes, newest first.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "journal is not enabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Direction: journal.Direction(q.Get("direction")),
		Topic:     q.Get("topic"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	entries, err := s.journal.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, journal.ErrInvalidDirection) {
			writeBadRequest(w, "direction must be inbound or outbound")
			return
		}
		s.logger.Error("listing journal", "error", err)
		writeInternalError(w, "failed to list journal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleInstructions performs the posted instruction contents on the device
// exactly as if they had arrived from the back-end.
func (s *Server) handleInstructions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "request body too large or unreadable")
		return
	}
	if !json.Valid(body) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err = s.session.HandleInstruction(r.Context(), body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"status": s.status.Status(),
		})
	case errors.Is(err, session.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "session is not running")
	default:
		action := ""
		if ie, ok := device.AsInstructionError(err); ok {
			action = ie.Action
		}
		writeJSON(w, http.StatusUnprocessableEntity, InstructionFailure{
			Error: Error{
				Status:  http.StatusUnprocessableEntity,
				Code:    ErrCodeInstruction,
				Message: err.Error(),
			},
			Action: action,
		})
	}
}

// InstructionFailure is the 422 body for a rejected instruction.
type InstructionFailure struct {
	Error
	Action string `json:"action,omitempty"`
}

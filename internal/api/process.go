package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/btouchard/courier/internal/broker"
	"github.com/btouchard/courier/internal/poll"
	"github.com/btouchard/courier/internal/task"
)

const maxBodySize = 1 << 20

type processRequest struct {
	SessionID string `json:"sessionId"`
	Target    string `json:"target"`
}

type processHandler struct {
	tasks *task.Manager
}

// start handles POST /api/process: it launches the demo process whose
// steps land in the caller's session log.
func (h *processHandler) start(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil || !bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")) {
		writeJSON(w, http.StatusBadRequest, poll.ProcessStarted{Error: broker.ErrInvalidJSON.Error()})
		return
	}

	var req processRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, poll.ProcessStarted{Error: broker.ErrInvalidJSON.Error()})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, poll.ProcessStarted{Error: broker.ErrSessionRequired.Error()})
		return
	}

	t, err := h.tasks.Launch(req.SessionID, req.Target, "")
	if err != nil {
		slog.Warn("cannot start process",
			"session_id", req.SessionID,
			"error", err)
		writeJSON(w, http.StatusServiceUnavailable, poll.ProcessStarted{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, poll.ProcessStarted{
		Success: true,
		Message: "Process started",
		TaskID:  t.ID,
	})
}

// get handles GET /api/process/{taskID}.
func (h *processHandler) get(w http.ResponseWriter, r *http.Request) {
	t, err := h.tasks.Get(chi.URLParam(r, "taskID"))
	if errors.Is(err, task.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Process not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Internal error"})
		return
	}
	writeJSON(w, http.StatusOK, t.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", err)
	}
}

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/btouchard/courier/internal/broker"
)

type sseEmitter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (e *sseEmitter) Retry(d time.Duration) error {
	if _, err := fmt.Fprintf(e.w, "retry: %d\n\n", d.Milliseconds()); err != nil {
		return err
	}
	return e.rc.Flush()
}

func (e *sseEmitter) Emit(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return e.rc.Flush()
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// ServeSSE handles GET /api/stream?sessionId=&target=.
func (s *Server) ServeSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	target := r.URL.Query().Get("target")

	rc := http.NewResponseController(w)
	// long-lived: the server-wide write timeout must not apply
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Debug("clearing sse write deadline", "error", err)
	}

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	slog.Debug("sse stream opened", "session_id", sessionID, "target", target)
	err := s.Serve(r.Context(), &sseEmitter{w: w, rc: rc}, sessionID, target)
	switch {
	case err == nil, errors.Is(err, broker.ErrSessionRequired):
	default:
		slog.Debug("sse stream closed", "session_id", sessionID, "error", err)
	}
}

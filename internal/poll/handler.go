package poll

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/btouchard/courier/internal/broker"
	"github.com/btouchard/courier/internal/message"
)

const maxBodySize = 1 << 20

// Handler serves the request/response transport.
type Handler struct {
	broker *broker.Manager
}

// NewHandler creates a poll handler backed by b.
func NewHandler(b *broker.Manager) *Handler {
	return &Handler{broker: b}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := decode(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.broker.Session(req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	action := req.Action
	if action == "" {
		action = ActionAdd
	}

	ctx := r.Context()
	switch action {
	case ActionAdd:
		msg, err := sess.AddMessage(ctx, req.fields(), req.target())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Response{Success: true, Messages: []message.Message{msg}})

	case ActionGet:
		since, ok, err := req.lastTimestamp()
		if err != nil {
			writeError(w, broker.ErrInvalidJSON)
			return
		}
		var msgs []message.Message
		if ok {
			msgs, err = sess.GetMessagesSince(ctx, req.target(), since)
		} else {
			msgs, err = sess.GetMessages(ctx, req.target())
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Response{Success: true, Messages: msgs})

	case ActionClear:
		if err := sess.ClearMessages(ctx, req.target()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Response{Success: true})

	default:
		writeError(w, broker.ErrInvalidAction)
	}
}

// decode accepts only a JSON object; anything else is ErrInvalidJSON.
func decode(body io.Reader) (Request, error) {
	var req Request
	data, err := io.ReadAll(body)
	if err != nil {
		return req, broker.ErrInvalidJSON
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return req, broker.ErrInvalidJSON
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, broker.ErrInvalidJSON
	}
	return req, nil
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broker.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, Response{Error: err.Error()})
	case errors.Is(err, broker.ErrStorage):
		writeJSON(w, http.StatusInternalServerError, Response{Error: "Storage error"})
	default:
		slog.Error("poll request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, Response{Error: "Internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing poll response", "error", err)
	}
}

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/btouchard/courier/internal/broker"
)

const wsWriteWait = 10 * time.Second

// Frame is one WebSocket text frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsEmitter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (e *wsEmitter) Retry(d time.Duration) error {
	return e.Emit("retry", d.Milliseconds())
}

func (e *wsEmitter) Emit(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return e.conn.WriteJSON(Frame{Event: event, Data: payload})
}

func (e *wsEmitter) close(code int, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsWriteWait))
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: s.opts.WriteBuffer,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// ServeWS handles GET /api/ws?sessionId=&target=.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	target := r.URL.Query().Get("target")

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// read pump: nothing is expected from the peer, a read error means it left
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket read error", "session_id", sessionID, "error", err)
				}
				return
			}
		}
	}()

	em := &wsEmitter{conn: conn}
	slog.Debug("websocket stream opened", "session_id", sessionID, "target", target)

	err = s.Serve(ctx, em, sessionID, target)
	switch {
	case errors.Is(err, broker.ErrSessionRequired):
		em.close(websocket.ClosePolicyViolation, err.Error())
	case err != nil:
		slog.Debug("websocket stream closed", "session_id", sessionID, "error", err)
	default:
		em.close(websocket.CloseNormalClosure, "")
	}
}

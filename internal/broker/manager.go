package broker

import (
	"context"
	"log/slog"

	"github.com/btouchard/courier/internal/message"
	"github.com/btouchard/courier/internal/notify"
	"github.com/btouchard/courier/internal/store"
)

// Manager is the per-session facade over the message log. It is safe for
// concurrent use; sessions share nothing but the backend.
type Manager struct {
	store    store.Store
	signals  *notify.Signals
	notifier notify.Notifier
}

// NewManager binds a log backend. notifier may be nil.
func NewManager(s store.Store, notifier notify.Notifier) *Manager {
	return &Manager{
		store:    s,
		signals:  notify.NewSignals(),
		notifier: notifier,
	}
}

// Session returns the facade for one session id.
func (m *Manager) Session(id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionRequired
	}
	return &Session{id: id, m: m}, nil
}

// Watch returns a channel pulsed after every append or clear in the
// session, and a func to stop watching. Pulses coalesce: a receiver must
// re-read the log rather than count pulses.
func (m *Manager) Watch(sessionID string) (<-chan struct{}, func()) {
	return m.signals.Subscribe(sessionID)
}

// Watchers reports how many sessions are being watched and by how many
// connections.
func (m *Manager) Watchers() (sessions, connections int) {
	return m.signals.Count()
}

// Publish appends to a session's log. It is the producer entry point for
// background tasks.
func (m *Manager) Publish(ctx context.Context, sessionID, target string, fields message.Fields) error {
	s, err := m.Session(sessionID)
	if err != nil {
		return err
	}
	_, err = s.AddMessage(ctx, fields, target)
	return err
}

func (m *Manager) changed(event notify.Event) {
	m.signals.Pulse(event.SessionID)
	if m.notifier != nil {
		m.notifier.Notify(event)
	}
}

func (m *Manager) storageError(op, sessionID string, err error) error {
	slog.Error("message log failure",
		"op", op,
		"session_id", sessionID,
		"error", err)
	return &StorageError{Op: op, SessionID: sessionID, Err: err}
}

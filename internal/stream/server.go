package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/btouchard/courier/internal/broker"
	"github.com/btouchard/courier/internal/message"
)

// Event names on the wire.
const (
	EventConnected = "connected"
	EventMessage   = "message"
	EventPing      = "ping"
	EventInfo      = "info"
	EventError     = "error"
)

const lifetimeMessage = "Connection timeout reached, reconnecting..."

// Emitter writes events to one connection. A write error means the peer
// is gone.
type Emitter interface {
	Retry(d time.Duration) error
	Emit(event string, data any) error
}

// Options tunes the push loop.
type Options struct {
	PollInterval time.Duration
	PingInterval time.Duration
	MaxLifetime  time.Duration // 0 = unlimited
	Retry        time.Duration // advertised reconnect delay, 0 = none
	WriteBuffer  int
}

// DefaultOptions returns the stock timings.
func DefaultOptions() Options {
	return Options{
		PollInterval: 100 * time.Millisecond,
		PingInterval: 30 * time.Second,
		MaxLifetime:  300 * time.Second,
		Retry:        time.Second,
		WriteBuffer:  4096,
	}
}

// Connected is the payload of the connected event.
type Connected struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId"`
}

// Ping is the payload of the keepalive event.
type Ping struct {
	Time int64 `json:"time"`
}

// Info is the payload of the info event.
type Info struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Server pushes a session's log to long-lived connections. The framing
// is supplied per connection through an Emitter.
type Server struct {
	broker *broker.Manager
	opts   Options
}

// NewServer creates a stream server. Zero durations in opts fall back to
// the defaults, except MaxLifetime and Retry where zero is meaningful.
func NewServer(b *broker.Manager, opts Options) *Server {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.WriteBuffer <= 0 {
		opts.WriteBuffer = def.WriteBuffer
	}
	return &Server{broker: b, opts: opts}
}

// Serve runs one connection until ctx is done, a write fails, or the
// lifetime expires. An empty sessionID yields a single error event.
func (s *Server) Serve(ctx context.Context, em Emitter, sessionID, target string) error {
	sess, err := s.broker.Session(sessionID)
	if err != nil {
		_ = em.Emit(EventError, err.Error())
		return err
	}

	changed, stop := s.broker.Watch(sessionID)
	defer stop()

	if s.opts.Retry > 0 {
		if err := em.Retry(s.opts.Retry); err != nil {
			return err
		}
	}
	if err := em.Emit(EventConnected, Connected{Status: "connected", SessionID: sessionID}); err != nil {
		return err
	}

	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()
	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	var expired <-chan time.Time
	if s.opts.MaxLifetime > 0 {
		t := time.NewTimer(s.opts.MaxLifetime)
		defer t.Stop()
		expired = t.C
	}

	p := newPusher(sess, target, em)
	if err := p.push(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-expired:
			return em.Emit(EventInfo, Info{Message: lifetimeMessage, Type: message.DefaultType})
		case <-ping.C:
			if err := em.Emit(EventPing, Ping{Time: time.Now().Unix()}); err != nil {
				return err
			}
		case <-changed:
			if err := p.push(ctx); err != nil {
				return err
			}
		case <-poll.C:
			if err := p.push(ctx); err != nil {
				return err
			}
		}
	}
}

// pusher tracks which messages a connection has already received, by id,
// so that a clear followed by appends between two rescans is still
// delivered.
type pusher struct {
	sess   *broker.Session
	target string
	em     Emitter
	sent   map[string]struct{}
}

func newPusher(sess *broker.Session, target string, em Emitter) *pusher {
	return &pusher{sess: sess, target: target, em: em, sent: make(map[string]struct{})}
}

func (p *pusher) push(ctx context.Context) error {
	msgs, err := p.sess.GetMessages(ctx, p.target)
	if err != nil {
		// transient; retried on the next tick
		slog.Warn("stream rescan failed", "session_id", p.sess.ID(), "error", err)
		return nil
	}

	for _, m := range msgs {
		if _, done := p.sent[m.ID]; done {
			continue
		}
		if err := p.em.Emit(EventMessage, m); err != nil {
			return err
		}
		p.sent[m.ID] = struct{}{}
	}

	if len(p.sent) > len(msgs) {
		// forget cleared messages
		live := make(map[string]struct{}, len(msgs))
		for _, m := range msgs {
			live[m.ID] = struct{}{}
		}
		p.sent = live
	}
	return nil
}

package sink

import (
	"fmt"
	"html"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/btouchard/courier/internal/message"
)

// Surface is a named place messages are rendered into.
type Surface interface {
	Append(id, rendered string)
	Reset()
}

// Option configures a Sink.
type Option func(*Sink)

// WithFormat sets an HTML template. Field values are HTML-escaped.
func WithFormat(format string) Option {
	return func(s *Sink) {
		s.format = format
		s.escape = html.EscapeString
	}
}

// WithTextFormat sets a plain-text template. Field values are inserted
// verbatim.
func WithTextFormat(format string) Option {
	return func(s *Sink) {
		s.format = format
		s.escape = func(v string) string { return v }
	}
}

// WithPreserveHistory turns the per-target replay history on or off.
func WithPreserveHistory(on bool) Option {
	return func(s *Sink) { s.preserve = on }
}

// WithLocation sets the zone timestamps are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(s *Sink) { s.loc = loc }
}

type history struct {
	msgs []message.Message
	seen map[string]struct{}
}

// Sink renders messages into per-target surfaces and keeps an ordered,
// id-deduplicated history so a recreated surface can be replayed.
type Sink struct {
	format   string
	escape   func(string) string
	preserve bool
	loc      *time.Location

	mu       sync.Mutex
	surfaces map[string]Surface
	history  map[string]*history
}

// New creates a Sink. History is preserved by default.
func New(opts ...Option) *Sink {
	s := &Sink{
		format:   DefaultFormat,
		escape:   html.EscapeString,
		preserve: true,
		loc:      time.Local,
		surfaces: make(map[string]Surface),
		history:  make(map[string]*history),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func targetOf(m message.Message) string {
	if m.Target == "" {
		return message.DefaultTarget
	}
	return m.Target
}

// Register attaches a surface to target, replacing any previous one, and
// replays the target's history into it.
func (s *Sink) Register(target string, surface Surface) {
	if target == "" {
		target = message.DefaultTarget
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.surfaces[target] = surface
	if s.preserve {
		s.restoreLocked(target)
	}
}

// Display records m in its target's history (once per id) and renders it.
// Without a registered surface the message is only recorded.
func (s *Sink) Display(m message.Message) {
	target := targetOf(m)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.preserve {
		h := s.history[target]
		if h == nil {
			h = &history{seen: make(map[string]struct{})}
			s.history[target] = h
		}
		if _, dup := h.seen[m.ID]; !dup {
			h.seen[m.ID] = struct{}{}
			h.msgs = append(h.msgs, m.Clone())
		}
	}

	surface := s.surfaces[target]
	if surface == nil {
		slog.Warn("no surface registered for target", "target", target)
		return
	}
	surface.Append(m.ID, s.Format(m))
}

// Restore re-renders target's history into its surface, in order.
func (s *Sink) Restore(target string) {
	if target == "" {
		target = message.DefaultTarget
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreLocked(target)
}

func (s *Sink) restoreLocked(target string) {
	surface := s.surfaces[target]
	h := s.history[target]
	if surface == nil || h == nil {
		return
	}
	for _, m := range h.msgs {
		surface.Append(m.ID, s.Format(m))
	}
}

// Clear resets target's surface and forgets its history.
func (s *Sink) Clear(target string) {
	if target == "" {
		target = message.DefaultTarget
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if surface := s.surfaces[target]; surface != nil {
		surface.Reset()
	}
	delete(s.history, target)
}

// History returns a copy of target's recorded messages.
func (s *Sink) History(target string) []message.Message {
	if target == "" {
		target = message.DefaultTarget
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.history[target]
	if h == nil {
		return []message.Message{}
	}
	out := make([]message.Message, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = m.Clone()
	}
	return out
}

// Format renders m with the sink's template.
func (s *Sink) Format(m message.Message) string {
	return render(s.format, m, s.loc, s.escape)
}

// WriterSurface prints each rendered message on its own line.
type WriterSurface struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSurface wraps w.
func NewWriterSurface(w io.Writer) *WriterSurface {
	return &WriterSurface{w: w}
}

func (ws *WriterSurface) Append(_ string, rendered string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	_, _ = fmt.Fprintln(ws.w, rendered)
}

// Reset is a no-op: printed lines cannot be taken back.
func (ws *WriterSurface) Reset() {}

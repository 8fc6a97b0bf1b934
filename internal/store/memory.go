package store

import (
	"context"
	"sync"

	"github.com/btouchard/courier/internal/message"
)

// MemoryStore keeps every log in process memory. Nothing survives a
// restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryLog
}

type memoryLog struct {
	mu       sync.RWMutex
	messages []message.Message
	dropped  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memoryLog)}
}

func (s *MemoryStore) log(sessionID string, create bool) *memoryLog {
	s.mu.RLock()
	l, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok || !create {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.sessions[sessionID]; ok {
		return l
	}
	l = &memoryLog{messages: make([]message.Message, 0, 16)}
	s.sessions[sessionID] = l
	return l
}

func (s *MemoryStore) Append(_ context.Context, sessionID, target string, fields message.Fields) (message.Message, error) {
	for {
		l := s.log(sessionID, true)

		l.mu.Lock()
		if l.dropped {
			// raced with a full clear; the next lookup creates a fresh log
			l.mu.Unlock()
			continue
		}
		m := build(target, fields, lastTimestamp(l.messages))
		l.messages = append(l.messages, m)
		l.mu.Unlock()
		return m.Clone(), nil
	}
}

func (s *MemoryStore) List(_ context.Context, sessionID, target string) ([]message.Message, error) {
	l := s.log(sessionID, false)
	if l == nil {
		return []message.Message{}, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]message.Message, 0, len(l.messages))
	for _, m := range l.messages {
		if target == "" || m.Target == target {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID, target string) error {
	if target == "" {
		s.mu.Lock()
		l, ok := s.sessions[sessionID]
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		if ok {
			l.mu.Lock()
			l.dropped = true
			l.messages = nil
			l.mu.Unlock()
		}
		return nil
	}

	l := s.log(sessionID, false)
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := make([]message.Message, 0, len(l.messages))
	for _, m := range l.messages {
		if m.Target != target {
			kept = append(kept, m)
		}
	}
	l.messages = kept
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

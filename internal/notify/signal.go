package notify

import "sync"

// Signals wakes stream connections when their session changes. Each
// subscriber owns a 1-buffered channel; pulses coalesce and never block
// the producer.
type Signals struct {
	mu   sync.Mutex
	next uint64
	subs map[string]map[uint64]chan struct{}
}

// NewSignals creates an empty registry.
func NewSignals() *Signals {
	return &Signals{subs: make(map[string]map[uint64]chan struct{})}
}

// Subscribe returns a channel pulsed after each change of sessionID and a
// func that unsubscribes. The func is idempotent.
func (s *Signals) Subscribe(sessionID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	id := s.next
	s.next++
	if s.subs[sessionID] == nil {
		s.subs[sessionID] = make(map[uint64]chan struct{})
	}
	s.subs[sessionID][id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[sessionID], id)
			if len(s.subs[sessionID]) == 0 {
				delete(s.subs, sessionID)
			}
		})
	}
}

// Pulse wakes every subscriber of sessionID.
func (s *Signals) Pulse(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[sessionID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Count returns how many sessions have subscribers and how many
// subscriptions are live in total.
func (s *Signals) Count() (sessions, subscribers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subs := range s.subs {
		subscribers += len(subs)
	}
	return len(s.subs), subscribers
}

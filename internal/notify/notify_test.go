package notify

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	target string // "" = broadcast
	method string
	params map[string]any
}

type fakeSender struct {
	mu       sync.Mutex
	calls    []sent
	failWith error
}

func (f *fakeSender) SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.calls = append(f.calls, sent{sessionID, method, params})
	return nil
}

func (f *fakeSender) SendNotificationToAllClients(method string, params map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sent{"", method, params})
}

func (f *fakeSender) snapshot() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.calls...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestHub_FansOutToAllNotifiers(t *testing.T) {
	t.Parallel()

	a, b := &recorder{}, &recorder{}
	hub := NewHub(a)
	hub.Add(b)

	hub.Notify(Event{Type: MessageAdded, SessionID: "s1"})

	require.Eventually(t, func() bool { return a.len() == 1 && b.len() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestSignals_PulseWakesOnlyThatSession(t *testing.T) {
	t.Parallel()

	s := NewSignals()
	ch1, stop1 := s.Subscribe("s1")
	defer stop1()
	ch2, stop2 := s.Subscribe("s2")
	defer stop2()

	s.Pulse("s1")

	select {
	case <-ch1:
	case <-time.After(time.Second):
		t.Fatal("s1 subscriber not woken")
	}
	select {
	case <-ch2:
		t.Fatal("s2 subscriber woken by s1 pulse")
	default:
	}
}

func TestSignals_PulsesCoalesceWithoutBlocking(t *testing.T) {
	t.Parallel()

	s := NewSignals()
	ch, stop := s.Subscribe("s1")
	defer stop()

	for range 100 {
		s.Pulse("s1")
	}

	<-ch
	select {
	case <-ch:
		t.Fatal("expected pulses to coalesce into one")
	default:
	}
}

func TestSignals_UnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewSignals()
	_, stop := s.Subscribe("s1")
	_, stop2 := s.Subscribe("s1")
	_, stop3 := s.Subscribe("s2")
	sessions, subs := s.Count()
	assert.Equal(t, 2, sessions)
	assert.Equal(t, 3, subs)

	stop()
	stop()
	sessions, subs = s.Count()
	assert.Equal(t, 2, sessions)
	assert.Equal(t, 2, subs)

	stop2()
	stop3()
	sessions, subs = s.Count()
	assert.Zero(t, sessions)
	assert.Zero(t, subs)
	s.Pulse("s1") // no subscribers left
}

func TestMCPNotifier_MessageAddedMapsLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msgType string
		level   string
	}{
		{"info", "info"},
		{"success", "notice"},
		{"warning", "warning"},
		{"error", "error"},
		{"custom", "info"},
	}

	for _, tt := range tests {
		t.Run(tt.msgType, func(t *testing.T) {
			t.Parallel()
			sender := &fakeSender{}
			n := NewMCPNotifier(sender, 0)

			n.Notify(Event{
				Type:      MessageAdded,
				SessionID: "s1",
				Level:     tt.msgType,
				Data:      map[string]any{"id": "m1", "message": "hi"},
			})

			calls := sender.snapshot()
			require.Len(t, calls, 1)
			assert.Equal(t, "notifications/message", calls[0].method)
			assert.Equal(t, tt.level, calls[0].params["level"])
			data := calls[0].params["data"].(map[string]any)
			assert.Equal(t, "hi", data["message"])
			assert.Equal(t, "s1", data["session_id"])
		})
	}
}

func TestMCPNotifier_ProgressIsDebounced(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n := NewMCPNotifier(sender, time.Hour)

	n.Notify(Event{Type: TaskProgress, TaskID: "t1", Message: "one"})
	n.Notify(Event{Type: TaskProgress, TaskID: "t1", Message: "two"})
	n.Notify(Event{Type: TaskCompleted, TaskID: "t1", Message: "done"})
	n.Notify(Event{Type: TaskProgress, TaskID: "t1", Message: "three"})

	calls := sender.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, "notifications/progress", calls[0].method)
	assert.Equal(t, "notifications/message", calls[1].method)
	assert.Equal(t, "notifications/progress", calls[2].method)
}

func TestMCPNotifier_FallsBackToBroadcast(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{failWith: errors.New("gone")}
	n := NewMCPNotifier(sender, 0)

	n.Notify(Event{Type: TaskFailed, TaskID: "t1", MCPSessionID: "mcp-1"})

	calls := sender.snapshot()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].target)
	assert.Equal(t, "error", calls[0].params["level"])
}

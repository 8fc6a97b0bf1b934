package task

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Task is one run of the simulated long process, reporting into a
// session's log.
type Task struct {
	mu sync.RWMutex

	ID           string
	SessionID    string
	Target       string
	MCPSessionID string // MCP client session for push notifications (runtime-only)
	Status       Status

	Progress string
	Steps    int
	Error    string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	done chan struct{}
}

// GenerateID creates a new task ID in the format proc-{8 hex chars}.
func GenerateID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("proc-%x", b)
}

// New creates a pending task for sessionID. An empty target is left for
// the log to default.
func New(sessionID, target string) *Task {
	return &Task{
		ID:        GenerateID(),
		SessionID: sessionID,
		Target:    target,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// IsTerminal returns true if the task is in a final state.
func (t *Task) IsTerminal() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status.terminal()
}

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// SetStatus updates the task status and timestamps. A terminal status is
// final: later transitions are ignored and reported as false.
func (t *Task) SetStatus(s Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status.terminal() {
		return false
	}

	t.Status = s
	switch s {
	case StatusRunning:
		t.StartedAt = time.Now()
	case StatusCompleted, StatusFailed, StatusCancelled:
		t.CompletedAt = time.Now()
		close(t.done)
	}
	return true
}

// SetProgress records the last progress message and counts the step.
func (t *Task) SetProgress(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Progress = msg
	t.Steps++
}

// SetError records an error message.
func (t *Task) SetError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Error = msg
}

// SetMCPSessionID records the MCP client that started the task.
func (t *Task) SetMCPSessionID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.MCPSessionID = id
}

// Snapshot returns a read-consistent copy of key fields.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Snapshot{
		ID:           t.ID,
		SessionID:    t.SessionID,
		Target:       t.Target,
		MCPSessionID: t.MCPSessionID,
		Status:       t.Status,
		Progress:     t.Progress,
		Steps:        t.Steps,
		Error:        t.Error,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
	}
}

// Snapshot is a read-only copy of a Task's state at a point in time.
type Snapshot struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	Target       string    `json:"target,omitempty"`
	MCPSessionID string    `json:"-"`
	Status       Status    `json:"status"`
	Progress     string    `json:"progress,omitempty"`
	Steps        int       `json:"steps"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	StartedAt    time.Time `json:"startedAt,omitzero"`
	CompletedAt  time.Time `json:"completedAt,omitzero"`
}

// Duration returns the elapsed time from start to completion (or now if still running).
func (s Snapshot) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.CompletedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}

// FormatDuration returns a human-readable duration string.
func (s Snapshot) FormatDuration() string {
	d := s.Duration()
	if d < time.Second {
		return "< 1s"
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

package task

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/btouchard/courier/internal/executor"
	"github.com/btouchard/courier/internal/message"
	"github.com/btouchard/courier/internal/notify"
)

// ErrNotFound is returned for an unknown task id.
var ErrNotFound = errors.New("task not found")

// Publisher appends progress to a session's log.
type Publisher interface {
	Publish(ctx context.Context, sessionID, target string, fields message.Fields) error
}

// NotifyFunc is called when a task lifecycle event occurs.
type NotifyFunc func(notify.Event)

// Manager handles task lifecycle: creation, execution, cancellation.
type Manager struct {
	mu    sync.RWMutex
	tasks map[string]*Task

	executor      executor.Executor
	publisher     Publisher
	maxConcurrent int
	maxPerSession int
	maxTimeout    time.Duration
	delayScale    float64
	cancelFuncs   map[string]context.CancelFunc
	onNotify      NotifyFunc
}

// NewManager creates a new task Manager.
func NewManager(exec executor.Executor, pub Publisher, maxConcurrent int, maxTimeout time.Duration) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 8
	}
	if maxTimeout <= 0 {
		maxTimeout = 10 * time.Minute
	}
	return &Manager{
		tasks:         make(map[string]*Task),
		executor:      exec,
		publisher:     pub,
		maxConcurrent: maxConcurrent,
		maxTimeout:    maxTimeout,
		delayScale:    1,
		cancelFuncs:   make(map[string]context.CancelFunc),
	}
}

// SetDelayScale sets the multiplier applied to every step delay.
func (m *Manager) SetDelayScale(scale float64) {
	m.delayScale = scale
}

// SetMaxPerSession bounds concurrent tasks per session (0 = unbounded).
func (m *Manager) SetMaxPerSession(n int) {
	m.maxPerSession = n
}

// SetNotifyFunc sets the callback for task lifecycle events.
func (m *Manager) SetNotifyFunc(fn NotifyFunc) {
	m.onNotify = fn
}

// Create makes a new task and stores it.
func (m *Manager) Create(sessionID, target string) *Task {
	t := New(sessionID, target)

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	slog.Info("task created",
		"task_id", t.ID,
		"session_id", sessionID,
		"target", target)

	return t
}

// Launch creates and starts a task in one step.
func (m *Manager) Launch(sessionID, target, mcpSessionID string) (*Task, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	t := m.Create(sessionID, target)
	if mcpSessionID != "" {
		t.SetMCPSessionID(mcpSessionID)
	}

	if err := m.Start(t); err != nil {
		m.mu.Lock()
		delete(m.tasks, t.ID)
		m.mu.Unlock()
		return nil, err
	}
	return t, nil
}

// Get returns a task by ID.
func (m *Manager) Get(id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return t, nil
}

// Filter specifies criteria for listing tasks.
type Filter struct {
	Status    string
	SessionID string
	Limit     int
	Since     time.Time
}

// List returns tasks matching the given filter, newest first.
func (m *Manager) List(filter Filter) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Snapshot
	for _, t := range m.tasks {
		snap := t.Snapshot()

		if filter.Status != "" && filter.Status != "all" && snap.Status != Status(filter.Status) {
			continue
		}
		if filter.SessionID != "" && snap.SessionID != filter.SessionID {
			continue
		}
		if !filter.Since.IsZero() && snap.CreatedAt.Before(filter.Since) {
			continue
		}

		results = append(results, snap)
	}

	slices.SortFunc(results, func(a, b Snapshot) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})

	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}

	return results
}

// Start begins executing a task asynchronously.
// Returns an error if the global or per-session concurrency limit is reached.
// Uses background context so tasks survive after the request completes.
func (m *Manager) Start(t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Counting and claiming a slot happen under the same lock so that
	// concurrent starts cannot both see a free slot.
	globalRunning := 0
	sessionRunning := 0
	for _, existing := range m.tasks {
		existing.mu.RLock()
		if existing.Status == StatusRunning {
			globalRunning++
			if existing.SessionID == t.SessionID {
				sessionRunning++
			}
		}
		existing.mu.RUnlock()
	}

	if globalRunning >= m.maxConcurrent {
		return fmt.Errorf("global concurrency limit reached (%d/%d)", globalRunning, m.maxConcurrent)
	}
	if m.maxPerSession > 0 && sessionRunning >= m.maxPerSession {
		return fmt.Errorf("session concurrency limit reached (%d/%d)", sessionRunning, m.maxPerSession)
	}
	if !t.SetStatus(StatusRunning) {
		return fmt.Errorf("task %q is already %s", t.ID, t.Snapshot().Status)
	}

	taskCtx, cancel := context.WithTimeout(context.Background(), m.maxTimeout)
	m.cancelFuncs[t.ID] = cancel

	req := executor.Request{
		TaskID:     t.ID,
		SessionID:  t.SessionID,
		Target:     t.Target,
		DelayScale: m.delayScale,
	}
	go m.run(taskCtx, cancel, t, req)
	return nil
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, t *Task, req executor.Request) {
	defer cancel()
	defer func() {
		m.mu.Lock()
		delete(m.cancelFuncs, t.ID)
		m.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked",
				"task_id", t.ID,
				"panic", r)
			m.finish(t, StatusFailed, fmt.Sprintf("internal panic: %v", r))
		}
	}()

	m.emit(t, notify.TaskStarted, "task execution started")

	onProgress := func(msgType, msg string) {
		t.SetProgress(msg)
		m.publish(ctx, t, msgType, msg)
		m.emit(t, notify.TaskProgress, msg)
	}

	_, err := m.executor.Execute(ctx, req, onProgress)

	switch {
	case err == nil:
		m.finish(t, StatusCompleted, "")
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		slog.Warn("task timed out", "task_id", t.ID)
		m.finish(t, StatusFailed, "task timed out")
	case errors.Is(ctx.Err(), context.Canceled):
		m.finish(t, StatusCancelled, "")
	default:
		m.finish(t, StatusFailed, err.Error())
	}
}

// finish moves t to a terminal status once and reports it. Cancellation
// and failure are also written to the session's log.
func (m *Manager) finish(t *Task, status Status, reason string) {
	if t.IsTerminal() {
		return
	}
	if reason != "" {
		t.SetError(reason)
	}
	if !t.SetStatus(status) {
		return
	}

	ctx := context.Background()
	switch status {
	case StatusCompleted:
		m.emit(t, notify.TaskCompleted, "task completed successfully")
	case StatusCancelled:
		m.publish(ctx, t, "warning", "Process cancelled")
		m.emit(t, notify.TaskCancelled, "task cancelled")
	case StatusFailed:
		m.publish(ctx, t, "error", "Process failed: "+reason)
		m.emit(t, notify.TaskFailed, reason)
	}
}

func (m *Manager) publish(ctx context.Context, t *Task, msgType, msg string) {
	if m.publisher == nil {
		return
	}
	err := m.publisher.Publish(context.WithoutCancel(ctx), t.SessionID, t.Target, message.Fields{
		message.KeyMessage: msg,
		message.KeyType:    msgType,
		"taskId":           t.ID,
	})
	if err != nil {
		slog.Warn("publishing task progress",
			"task_id", t.ID,
			"session_id", t.SessionID,
			"error", err)
	}
}

// emit sends a task event to the notify callback if one is set.
func (m *Manager) emit(t *Task, eventType, msg string) {
	if m.onNotify == nil {
		return
	}
	t.mu.RLock()
	ev := notify.Event{
		Type:         eventType,
		SessionID:    t.SessionID,
		Target:       t.Target,
		TaskID:       t.ID,
		Message:      msg,
		MCPSessionID: t.MCPSessionID,
	}
	t.mu.RUnlock()

	m.onNotify(ev)
}

// Cancel stops a running task.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	t, ok := m.tasks[id]
	cancelFn := m.cancelFuncs[id]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	if t.IsTerminal() {
		return fmt.Errorf("task %q is already %s", id, t.Snapshot().Status)
	}

	slog.Info("cancelling task", "task_id", id)

	if cancelFn != nil {
		cancelFn()
	}
	m.finish(t, StatusCancelled, "")
	return nil
}

// RunningCount returns the number of currently running tasks.
func (m *Manager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, t := range m.tasks {
		t.mu.RLock()
		if t.Status == StatusRunning {
			count++
		}
		t.mu.RUnlock()
	}
	return count
}

// Shutdown cancels every running task and waits for them to settle or
// for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	var running []*Task
	for id, t := range m.tasks {
		if t.Snapshot().Status == StatusRunning {
			running = append(running, t)
			if cancel := m.cancelFuncs[id]; cancel != nil {
				cancel()
			}
		}
	}
	m.mu.RUnlock()

	for _, t := range running {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return
		}
	}
}

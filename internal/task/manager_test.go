package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/courier/internal/executor"
	"github.com/btouchard/courier/internal/message"
	"github.com/btouchard/courier/internal/notify"
)

// mockExecutor reports two steps then waits for delay.
type mockExecutor struct {
	delay time.Duration
	err   error
}

func (m *mockExecutor) Execute(ctx context.Context, req executor.Request, onProgress executor.ProgressFunc) (*executor.Result, error) {
	if onProgress != nil {
		onProgress("info", "Starting "+req.TaskID)
		onProgress("warning", "Working on it...")
	}

	select {
	case <-time.After(m.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if m.err != nil {
		return &executor.Result{Steps: 2}, m.err
	}
	return &executor.Result{Steps: 2, Output: "Working on it...", Duration: m.delay}, nil
}

type published struct {
	sessionID, target string
	fields            message.Fields
}

type fakePublisher struct {
	mu  sync.Mutex
	got []published
}

func (f *fakePublisher) Publish(_ context.Context, sessionID, target string, fields message.Fields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, published{sessionID, target, fields})
	return nil
}

func (f *fakePublisher) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.got))
	for i, p := range f.got {
		out[i] = fmt.Sprint(p.fields[message.KeyType], ":", p.fields[message.KeyMessage])
	}
	return out
}

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish in time")
	}
}

func TestManager_Create_ReturnsTask(t *testing.T) {
	t.Parallel()

	m := NewManager(&mockExecutor{}, nil, 3, time.Hour)
	task := m.Create("sess", "main")

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "sess", task.SessionID)
	assert.Equal(t, StatusPending, task.Status)
}

func TestManager_Get_ReturnsErrorForUnknown(t *testing.T) {
	t.Parallel()

	m := NewManager(&mockExecutor{}, nil, 3, time.Hour)
	created := m.Create("sess", "")

	found, err := m.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = m.Get("proc-nonexist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManager_LaunchPublishesProgress(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	m := NewManager(&mockExecutor{delay: 10 * time.Millisecond}, pub, 3, time.Hour)

	task, err := m.Launch("sess", "main", "")
	require.NoError(t, err)
	waitDone(t, task)

	snap := task.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.Steps)
	assert.Equal(t, []string{"info:Starting " + task.ID, "warning:Working on it..."}, pub.messages())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for _, p := range pub.got {
		assert.Equal(t, "sess", p.sessionID)
		assert.Equal(t, "main", p.target)
		assert.Equal(t, task.ID, p.fields["taskId"])
	}
}

func TestManager_LaunchRequiresSession(t *testing.T) {
	t.Parallel()

	m := NewManager(&mockExecutor{}, nil, 3, time.Hour)
	_, err := m.Launch("", "", "")
	require.Error(t, err)
	assert.Empty(t, m.List(Filter{}))
}

func TestManager_FailureIsLogged(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	m := NewManager(&mockExecutor{err: errors.New("disk gone")}, pub, 3, time.Hour)

	task, err := m.Launch("sess", "", "")
	require.NoError(t, err)
	waitDone(t, task)

	snap := task.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "disk gone", snap.Error)
	assert.Contains(t, pub.messages(), "error:Process failed: disk gone")
}

func TestManager_Timeout(t *testing.T) {
	t.Parallel()

	m := NewManager(&mockExecutor{delay: time.Hour}, &fakePublisher{}, 3, 20*time.Millisecond)

	task, err := m.Launch("sess", "", "")
	require.NoError(t, err)
	waitDone(t, task)

	snap := task.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "task timed out", snap.Error)
}

func TestManager_Cancel(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	m := NewManager(&mockExecutor{delay: time.Hour}, pub, 3, time.Hour)

	var mu sync.Mutex
	var events []string
	m.SetNotifyFunc(func(e notify.Event) {
		mu.Lock()
		events = append(events, e.Type)
		mu.Unlock()
	})

	task, err := m.Launch("sess", "", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return task.Snapshot().Steps == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Cancel(task.ID))
	waitDone(t, task)

	assert.Equal(t, StatusCancelled, task.Snapshot().Status)
	assert.Contains(t, pub.messages(), "warning:Process cancelled")

	// the runner observing its cancelled context must not report twice
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	cancelled := 0
	for _, e := range events {
		if e == notify.TaskCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, notify.TaskStarted, events[0])
}

func TestManager_Cancel_ErrorOnTerminalTask(t *testing.T) {
	t.Parallel()

	m := NewManager(&mockExecutor{}, nil, 3, time.Hour)
	task, err := m.Launch("sess", "", "")
	require.NoError(t, err)
	waitDone(t, task)

	err = m.Cancel(task.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already completed")

	assert.ErrorIs(t, m.Cancel("proc-missing"), ErrNotFound)
}

func TestManager_List_FiltersAndSorts(t *testing.T) {
	t.Parallel()

	m := NewManager(&mockExecutor{}, nil, 3, time.Hour)
	a := m.Create("alice", "")
	time.Sleep(2 * time.Millisecond)
	b := m.Create("bob", "")
	time.Sleep(2 * time.Millisecond)
	c := m.Create("alice", "")
	c.SetStatus(StatusRunning)

	all := m.List(Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	assert.Len(t, m.List(Filter{SessionID: "alice"}), 2)
	assert.Len(t, m.List(Filter{Status: "running"}), 1)
	assert.Len(t, m.List(Filter{Status: "all"}), 3)
	assert.Len(t, m.List(Filter{Limit: 1}), 1)
}

func TestManager_Start_WhenGlobalLimitReached_ReturnsError(t *testing.T) {
	t.Parallel()

	m := NewManager(&mockExecutor{delay: time.Hour}, nil, 1, time.Hour)
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	_, err := m.Launch("s1", "", "")
	require.NoError(t, err)

	_, err = m.Launch("s2", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "global concurrency limit")
	assert.Len(t, m.List(Filter{}), 1)
}

func TestManager_Start_WhenSessionLimitReached_ReturnsError(t *testing.T) {
	t.Parallel()

	m := NewManager(&mockExecutor{delay: time.Hour}, nil, 5, time.Hour)
	m.SetMaxPerSession(1)
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	_, err := m.Launch("s1", "", "")
	require.NoError(t, err)

	_, err = m.Launch("s1", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session concurrency limit")

	_, err = m.Launch("s2", "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, m.RunningCount())
}

func TestManager_Launch_ConcurrentCallersRespectLimits(t *testing.T) {
	t.Parallel()

	m := NewManager(&mockExecutor{delay: time.Hour}, nil, 3, time.Hour)
	m.SetMaxPerSession(2)
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started = map[string]int{}
	)
	start := make(chan struct{})
	for i := range 40 {
		sessionID := fmt.Sprintf("s%d", i%4)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := m.Launch(sessionID, "", ""); err == nil {
				mu.Lock()
				started[sessionID]++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	total := 0
	for sessionID, n := range started {
		assert.LessOrEqual(t, n, 2, "session %s", sessionID)
		total += n
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, m.RunningCount())
	assert.Len(t, m.List(Filter{}), 3)
}

func TestManager_Start_WhenTaskCompletes_FreesSlot(t *testing.T) {
	t.Parallel()

	m := NewManager(&mockExecutor{delay: 10 * time.Millisecond}, nil, 1, time.Hour)

	first, err := m.Launch("s1", "", "")
	require.NoError(t, err)
	waitDone(t, first)

	_, err = m.Launch("s1", "", "")
	assert.NoError(t, err)
}

func TestManager_Shutdown_CancelsRunning(t *testing.T) {
	t.Parallel()

	m := NewManager(&mockExecutor{delay: time.Hour}, &fakePublisher{}, 3, time.Hour)
	task, err := m.Launch("s1", "", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.Shutdown(ctx)

	assert.Equal(t, StatusCancelled, task.Snapshot().Status)
	assert.Zero(t, m.RunningCount())
}

func TestManager_WithScriptExecutor(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	m := NewManager(executor.NewScriptExecutor(nil), pub, 3, time.Hour)
	m.SetDelayScale(0)

	task, err := m.Launch("sess", "main", "")
	require.NoError(t, err)
	waitDone(t, task)

	msgs := pub.messages()
	require.Len(t, msgs, 8)
	assert.Equal(t, "info:Starting process...", msgs[0])
	assert.Equal(t, "warning:Processing step 3/5", msgs[4])
	assert.Equal(t, "success:Process completed successfully!", msgs[7])
}

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/courier/internal/message"
)

// Store is the message log contract. One ordered log exists per session;
// target is a read-time filter, not a separate log.
//
// An empty target means "all targets" for List and Clear, and
// message.DefaultTarget for Append.
type Store interface {
	// Append assigns id and timestamp, stores the message at the tail of
	// the session's log and returns it.
	Append(ctx context.Context, sessionID, target string, fields message.Fields) (message.Message, error)

	// List returns the session's messages in append order. A session with
	// no log yields an empty slice.
	List(ctx context.Context, sessionID, target string) ([]message.Message, error)

	// Clear deletes the whole log, or only the messages of one target.
	// Clearing a missing log succeeds.
	Clear(ctx context.Context, sessionID, target string) error

	Close() error
}

// now is swapped in tests.
var now = time.Now

func newID() string {
	return uuid.NewString()
}

// nextTimestamp keeps timestamps non-decreasing within a log even if the
// wall clock steps backwards.
func nextTimestamp(last int64) int64 {
	ts := now().Unix()
	if ts < last {
		return last
	}
	return ts
}

func build(target string, fields message.Fields, last int64) message.Message {
	return message.New(newID(), nextTimestamp(last), target, fields)
}

func lastTimestamp(msgs []message.Message) int64 {
	if len(msgs) == 0 {
		return 0
	}
	return msgs[len(msgs)-1].Timestamp
}

// sessionLocks hands out one mutex per session so that mutations of the
// same log are serialized while sessions stay independent.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *sessionLocks) lock(sessionID string) func() {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

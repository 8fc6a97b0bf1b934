package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/btouchard/courier/internal/message"
)

// FileStore keeps one JSON array per session in a directory. Mutations of
// a session are serialized in-process and written through a temp file and
// rename, so a concurrent reader sees either the old or the new array.
type FileStore struct {
	dir   string
	locks *sessionLocks
}

// NewFileStore returns a store rooted at dir. The directory is created
// lazily on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, locks: newSessionLocks()}
}

// path maps an opaque session id to a file name that cannot escape dir.
func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, url.PathEscape(sessionID)+".json")
}

func (s *FileStore) read(sessionID string) ([]message.Message, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if os.IsNotExist(err) {
		return []message.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}
	if len(data) == 0 {
		return []message.Message{}, nil
	}

	var msgs []message.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parsing log: %w", err)
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	return msgs, nil
}

func (s *FileStore) write(sessionID string, msgs []message.Message) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating messages directory: %w", err)
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encoding log: %w", err)
	}
	return atomicWrite(s.path(sessionID), data, 0600)
}

func (s *FileStore) Append(_ context.Context, sessionID, target string, fields message.Fields) (message.Message, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	msgs, err := s.read(sessionID)
	if err != nil {
		return message.Message{}, err
	}

	m := build(target, fields, lastTimestamp(msgs))
	if err := s.write(sessionID, append(msgs, m)); err != nil {
		return message.Message{}, err
	}
	return m, nil
}

// List reads without taking the session lock; the rename in write makes
// the file swap atomic for readers.
func (s *FileStore) List(_ context.Context, sessionID, target string) ([]message.Message, error) {
	msgs, err := s.read(sessionID)
	if err != nil {
		return nil, err
	}
	return message.Filter(msgs, target), nil
}

func (s *FileStore) Clear(_ context.Context, sessionID, target string) error {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	if target == "" {
		err := os.Remove(s.path(sessionID))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing log: %w", err)
		}
		return nil
	}

	msgs, err := s.read(sessionID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	kept := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Target != target {
			kept = append(kept, m)
		}
	}
	return s.write(sessionID, kept)
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

// atomicWrite writes data to a temporary file, fsyncs, then renames it
// over path.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".courier-tmp-*")
	if err != nil {
		return fmt.Errorf("atomic write create tmp: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("atomic write: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("atomic write chmod: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("atomic write fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomic write close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomic write rename: %w", err)
	}

	success = true
	return nil
}

package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/btouchard/courier/internal/message"
)

const memoryDSN = ":memory:"

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, zero CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// The database file is created with 0600 permissions and its parent directory with 0700.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := memoryDSN
	if path != memoryDSN {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}

		// Pre-create the file with restrictive permissions if it doesn't exist
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return nil, fmt.Errorf("creating database file: %w", err)
			}
			_ = f.Close()
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Info("applying migration", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID, target string, fields message.Fields) (message.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return message.Message{}, fmt.Errorf("beginning append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(timestamp), 0) FROM messages WHERE session_id = ?", sessionID).
		Scan(&last)
	if err != nil {
		return message.Message{}, fmt.Errorf("reading last timestamp: %w", err)
	}

	m := build(target, fields, last)
	extra, err := encodeExtra(m.Extra)
	if err != nil {
		return message.Message{}, err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO messages (session_id, id, target, type, message, timestamp, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, m.ID, m.Target, m.Type, m.Message, m.Timestamp, extra)
	if err != nil {
		return message.Message{}, fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return message.Message{}, fmt.Errorf("committing append: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) List(ctx context.Context, sessionID, target string) ([]message.Message, error) {
	query := "SELECT id, target, type, message, timestamp, extra FROM messages WHERE session_id = ?"
	args := []any{sessionID}

	if target != "" {
		query += " AND target = ?"
		args = append(args, target)
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	msgs := []message.Message{}
	for rows.Next() {
		var m message.Message
		var extra string
		if err := rows.Scan(&m.ID, &m.Target, &m.Type, &m.Message, &m.Timestamp, &extra); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if m.Extra, err = decodeExtra(extra); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context, sessionID, target string) error {
	var err error
	if target == "" {
		_, err = s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID)
	} else {
		_, err = s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ? AND target = ?", sessionID, target)
	}
	if err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	return nil
}

// --- Helpers ---

func encodeExtra(extra map[string]any) (string, error) {
	if len(extra) == 0 {
		return "", nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("encoding extra fields: %w", err)
	}
	return string(data), nil
}

func decodeExtra(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var extra map[string]any
	if err := dec.Decode(&extra); err != nil {
		return nil, fmt.Errorf("decoding extra fields: %w", err)
	}
	return extra, nil
}

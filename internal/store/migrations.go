package store

// migrations are applied in order; the index+1 is the schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT    NOT NULL,
		id         TEXT    NOT NULL UNIQUE,
		target     TEXT    NOT NULL DEFAULT 'default',
		type       TEXT    NOT NULL DEFAULT 'info',
		message    TEXT    NOT NULL DEFAULT '',
		timestamp  INTEGER NOT NULL,
		extra      TEXT    NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, seq);`,

	`CREATE INDEX IF NOT EXISTS idx_messages_session_target ON messages (session_id, target, seq);`,
}

package repository

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const localSchema = `
CREATE TABLE IF NOT EXISTS lesson_note_cache (
	lesson_id    TEXT PRIMARY KEY,
	content      TEXT NOT NULL,
	format       TEXT NOT NULL,
	updated_at   INTEGER NOT NULL,
	updated_by   TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	version      INTEGER NOT NULL DEFAULT 0,
	cached_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS editor_lease (
	lesson_id  TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// OpenLocalStore opens the embedded SQLite file that backs the note cache and
// the editor lease. Use ":memory:" for an ephemeral store.
func OpenLocalStore(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=2000&_journal_mode=WAL", path)
	if path == ":memory:" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(localSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize local store: %w", err)
	}

	return db, nil
}

package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLitePersister stores the reload-surviving subset of the display state in
// a terminal-local SQLite file. One row; every accepted mutation overwrites
// it.
type SQLitePersister struct {
	db *sql.DB
}

const persistSchema = `
CREATE TABLE IF NOT EXISTS display_state (
	id                  INTEGER PRIMARY KEY CHECK (id = 1),
	display_mode        TEXT    NOT NULL,
	current_path        TEXT    NOT NULL,
	second_display_open INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL
);`

// OpenSQLite opens (and if needed creates) the state file at path.
func OpenSQLite(path string) (*SQLitePersister, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// Single writer, single reader: this is a per-process scratch file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(persistSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create display_state table: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

// Save overwrites the persisted subset.
func (p *SQLitePersister) Save(mode DisplayMode, path string, secondOpen bool) error {
	open := 0
	if secondOpen {
		open = 1
	}
	_, err := p.db.Exec(`
		INSERT INTO display_state (id, display_mode, current_path, second_display_open, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_mode = excluded.display_mode,
			current_path = excluded.current_path,
			second_display_open = excluded.second_display_open,
			updated_at = excluded.updated_at`,
		string(mode), path, open, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save display state: %w", err)
	}
	return nil
}

// Load reads the persisted subset. found is false when the terminal has
// never saved state.
func (p *SQLitePersister) Load() (DisplayMode, string, bool, bool, error) {
	var (
		mode string
		path string
		open int
	)
	err := p.db.QueryRow(`
		SELECT display_mode, current_path, second_display_open
		FROM display_state WHERE id = 1`).Scan(&mode, &path, &open)
	if err == sql.ErrNoRows {
		return "", "", false, false, nil
	}
	if err != nil {
		return "", "", false, false, fmt.Errorf("load display state: %w", err)
	}
	dm := DisplayMode(mode)
	if !dm.Valid() {
		dm = ModeIdle
	}
	return dm, path, open == 1, true, nil
}

// Close releases the underlying database.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}

// Package memento provides the lightweight key/value store backing the
// most-recently-used and active-connection lists. It is deliberately
// separate from the settings scopes: memento state is per-machine working
// state, not configuration.
package memento

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a sqlite-backed key/value store. Values are JSON-encoded.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens or creates the memento database at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for concurrent readers; busy timeout instead of immediate
	// SQLITE_BUSY failures.
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open memento database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping memento database: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize memento schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS memento (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Get decodes the value stored under key into out. A missing key leaves
// out untouched and returns nil.
func (s *Store) Get(key string, out any) error {
	var raw string
	err := s.conn.QueryRow(`SELECT value FROM memento WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read memento %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode memento %q: %w", key, err)
	}
	return nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode memento %q: %w", key, err)
	}
	_, err = s.conn.Exec(
		`INSERT INTO memento (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to write memento %q: %w", key, err)
	}
	return nil
}

// Delete removes the value stored under key. Deleting an absent key is a
// no-op.
func (s *Store) Delete(key string) error {
	_, err := s.conn.Exec(`DELETE FROM memento WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete memento %q: %w", key, err)
	}
	return nil
}

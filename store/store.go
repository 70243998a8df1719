// Package store is a content-addressed blob store for compiled code files,
// backed by SQLite. Blobs are keyed by the content hash of their canonical
// encoding, so a stored blob never changes under its key.
package store

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested hash is not in the store.
var ErrNotFound = errors.New("code file not found")

// Store persists code files keyed by content hash.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens a store at path. ":memory:" works for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS code_files (
		hash TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores encoded bytes under their hash. Re-putting an existing hash is
// a no-op overwrite with identical content.
func (s *Store) Put(hash [32]byte, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO code_files (hash, name, data) VALUES (?, ?, ?)",
		hex.EncodeToString(hash[:]), name, data,
	)
	if err != nil {
		return fmt.Errorf("store: saving code file: %w", err)
	}
	return nil
}

// Get retrieves the bytes stored under hash.
func (s *Store) Get(hash [32]byte) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(
		"SELECT data FROM code_files WHERE hash = ?",
		hex.EncodeToString(hash[:]),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: querying code file: %w", err)
	}
	return data, nil
}

// Has reports whether hash is present.
func (s *Store) Has(hash [32]byte) (bool, error) {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM code_files WHERE hash = ?",
		hex.EncodeToString(hash[:]),
	).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("store: checking code file: %w", err)
	}
	return true, nil
}

// Delete removes the blob stored under hash, if present.
func (s *Store) Delete(hash [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"DELETE FROM code_files WHERE hash = ?",
		hex.EncodeToString(hash[:]),
	)
	if err != nil {
		return fmt.Errorf("store: deleting code file: %w", err)
	}
	return nil
}

// Count returns the number of stored code files.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM code_files").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting code files: %w", err)
	}
	return n, nil
}

// Names lists the stored code files as hash/name pairs, newest key order
// unspecified. Diagnostic use.
func (s *Store) Names() (map[string]string, error) {
	rows, err := s.db.Query("SELECT hash, name FROM code_files")
	if err != nil {
		return nil, fmt.Errorf("store: listing code files: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var hash, name string
		if err := rows.Scan(&hash, &name); err != nil {
			return nil, fmt.Errorf("store: scanning row: %w", err)
		}
		out[hash] = name
	}
	return out, rows.Err()
}

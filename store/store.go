// Package store caches verification reports in SQLite, keyed by the unit
// hash. A cached report is valid for as long as its hash matches, so
// entries are never invalidated.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/stackcheck/report"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates no report is cached for a hash.
var ErrNotFound = errors.New("report not found")

var log = commonlog.GetLogger("stackcheck.store")

// Store is a SQLite-backed report cache. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache at path. ":memory:" gives a private
// in-memory cache.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Create table if needed
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS results (
		hash BLOB PRIMARY KEY,
		report BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened result cache %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Put caches a report under its hash, replacing any previous entry.
func (s *Store) Put(r *report.Report) error {
	data, err := report.MarshalReport(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO results (hash, report) VALUES (?, ?)",
		r.Hash[:], data,
	)
	if err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	return nil
}

// Get returns the cached report for hash, or ErrNotFound.
func (s *Store) Get(hash report.Hash) (*report.Report, error) {
	var data []byte
	err := s.db.QueryRow("SELECT report FROM results WHERE hash = ?", hash[:]).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying report: %w", err)
	}

	r, err := report.UnmarshalReport(data)
	if err != nil {
		return nil, err
	}
	if r.Hash != hash {
		return nil, fmt.Errorf("cached report for %s carries hash %s", hash.Short(), r.Hash.Short())
	}
	return r, nil
}

// Len returns the number of cached reports.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM results").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting reports: %w", err)
	}
	return n, nil
}

// Clear removes every cached report.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM results"); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}

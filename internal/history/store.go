// Package history persists the capped list of single-shot analysis results.
//
// The list is stored as one JSON document under a fixed key in a small SQLite
// key/value table, newest first.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dj-oyu/bottle-monitor/internal/inference"
	"github.com/dj-oyu/bottle-monitor/internal/logger"
)

// ErrNotOpen is returned by every operation after Close.
var ErrNotOpen = errors.New("history store not open")

// Store is safe for concurrent use.
type Store struct {
	db  *sql.DB
	key string
	max int
	log logger.Module

	mu    sync.RWMutex
	items []inference.Result
}

// Open opens (or creates) the database at path and loads the list stored
// under key. Stored data that cannot be parsed is discarded.
func Open(path, key string, maxItems int) (*Store, error) {
	if maxItems <= 0 {
		return nil, fmt.Errorf("maxItems must be positive, got %d", maxItems)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// :memory: is per connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db, key: key, max: maxItems, log: logger.For("History")}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Info("Loaded %d history items from %s", len(s.items), path)
	return s, nil
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`)
	return err
}

func (s *Store) load() error {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, s.key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	var items []inference.Result
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.log.Debug("Discarding unreadable history: %v", err)
		return nil
	}
	if len(items) > s.max {
		items = items[:s.max]
	}
	s.items = items
	return nil
}

// List returns the stored results, newest first.
func (s *Store) List() ([]inference.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotOpen
	}
	return append([]inference.Result(nil), s.items...), nil
}

// Len returns the number of stored results.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Add prepends r, drops the oldest entries beyond the cap and persists the list.
func (s *Store) Add(r inference.Result) ([]inference.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNotOpen
	}

	updated := make([]inference.Result, 0, min(len(s.items)+1, s.max))
	updated = append(updated, r)
	updated = append(updated, s.items...)
	if len(updated) > s.max {
		updated = updated[:s.max]
	}

	data, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.key, string(data), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("save history: %w", err)
	}

	s.items = updated
	return append([]inference.Result(nil), updated...), nil
}

// Clear empties the list and removes the stored key.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrNotOpen
	}
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, s.key); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	s.items = nil
	return nil
}

// Close releases the database. Further calls return ErrNotOpen.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrNotOpen
	}
	err := s.db.Close()
	s.db = nil
	return err
}

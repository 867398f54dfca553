package deadletter

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists dead-letter entries to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite dead-letter store.
// The path should be a file path (e.g., "./deadletter.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// :memory: databases are per-connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			call_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			method TEXT NOT NULL,
			kind TEXT NOT NULL,
			error TEXT NOT NULL,
			args BLOB,
			created_at TEXT NOT NULL,
			failed_at TEXT NOT NULL,
			attempts INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dead_letters_event_type
		ON dead_letters(event_type)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var args []byte
	if entry.Args != nil {
		args = entry.Args
	}

	_, err := s.db.Exec(`
		INSERT INTO dead_letters
			(id, call_id, event_type, method, kind, error, args, created_at, failed_at, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			call_id = excluded.call_id,
			event_type = excluded.event_type,
			method = excluded.method,
			kind = excluded.kind,
			error = excluded.error,
			args = excluded.args,
			created_at = excluded.created_at,
			failed_at = excluded.failed_at,
			attempts = excluded.attempts
	`,
		entry.ID, entry.CallID, entry.EventType, entry.Method, entry.Kind, entry.Error, args,
		formatTime(entry.CreatedAt), formatTime(entry.FailedAt), entry.Attempts,
	)
	if err != nil {
		return fmt.Errorf("save dead letter: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Entry{}, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT id, call_id, event_type, method, kind, error, args, created_at, failed_at, attempts
		FROM dead_letters
		WHERE id = ?
	`, id)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("load dead letter: %w", err)
	}
	return entry, nil
}

// List implements Store.
func (s *SQLiteStore) List(eventType string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT id, call_id, event_type, method, kind, error, args, created_at, failed_at, attempts
		FROM dead_letters
		WHERE ? = '' OR event_type = ?
		ORDER BY failed_at, seq
	`, eventType, eventType)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}

	return entries, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	return nil
}

// Purge implements Store.
func (s *SQLiteStore) Purge(eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM dead_letters WHERE event_type = ?`, eventType); err != nil {
		return fmt.Errorf("purge dead letters: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e                   Entry
		args                []byte
		createdAt, failedAt string
	)
	if err := row.Scan(&e.ID, &e.CallID, &e.EventType, &e.Method, &e.Kind, &e.Error,
		&args, &createdAt, &failedAt, &e.Attempts); err != nil {
		return Entry{}, err
	}
	if len(args) > 0 {
		e.Args = args
	}
	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Entry{}, fmt.Errorf("parse created_at: %w", err)
	}
	if e.FailedAt, err = time.Parse(time.RFC3339Nano, failedAt); err != nil {
		return Entry{}, fmt.Errorf("parse failed_at: %w", err)
	}
	return e, nil
}

// formatTime uses a fixed-width layout so text ordering matches time ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

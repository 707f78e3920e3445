package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a book has no recorded progress.
var ErrNotFound = errors.New("no progress recorded")

// Store persists progress snapshots.
type Store interface {
	Save(ctx context.Context, s Snapshot) error
	Last(ctx context.Context, bookID string) (Snapshot, error)
	History(ctx context.Context, bookID string, limit int) ([]Snapshot, error)
	Books(ctx context.Context) ([]BookSummary, error)
	Close() error
}

// BookSummary is the latest known state of one book.
type BookSummary struct {
	BookID     string
	PositionMs int64
	Speed      float64
	Event      Event
	UpdatedAt  time.Time
	Snapshots  int
}

// SQLiteStore keeps snapshots in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// OpenSQLite opens or creates the progress database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer keeps SQLite happy across goroutines
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			book_id     TEXT NOT NULL,
			session_id  TEXT NOT NULL,
			position_ms INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			speed       REAL NOT NULL DEFAULT 1.0,
			event       TEXT NOT NULL,
			recorded_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_book ON snapshots(book_id, id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Save inserts one snapshot.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (book_id, session_id, position_ms, duration_ms, speed, event, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.BookID, snap.SessionID, snap.PositionMs, snap.DurationMs, snap.Speed, string(snap.Event), snap.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Last returns the most recent snapshot for bookID.
func (s *SQLiteStore) Last(ctx context.Context, bookID string) (Snapshot, error) {
	snaps, err := s.History(ctx, bookID, 1)
	if err != nil {
		return Snapshot{}, err
	}
	if len(snaps) == 0 {
		return Snapshot{}, ErrNotFound
	}
	return snaps[0], nil
}

// History returns up to limit snapshots for bookID, newest first.
func (s *SQLiteStore) History(ctx context.Context, bookID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT book_id, session_id, position_ms, duration_ms, speed, event, recorded_at
		FROM snapshots WHERE book_id = ? ORDER BY id DESC LIMIT ?`, bookID, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var event string
		var at int64
		if err := rows.Scan(&snap.BookID, &snap.SessionID, &snap.PositionMs, &snap.DurationMs, &snap.Speed, &event, &at); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Event = Event(event)
		snap.At = time.UnixMilli(at)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Books returns the latest snapshot of every book, most recently updated
// first.
func (s *SQLiteStore) Books(ctx context.Context) ([]BookSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.book_id, s.position_ms, s.speed, s.event, s.recorded_at, c.n
		FROM snapshots s
		JOIN (SELECT book_id, MAX(id) AS last_id, COUNT(*) AS n FROM snapshots GROUP BY book_id) c
		  ON s.id = c.last_id
		ORDER BY s.recorded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	defer rows.Close()

	var out []BookSummary
	for rows.Next() {
		var b BookSummary
		var event string
		var at int64
		if err := rows.Scan(&b.BookID, &b.PositionMs, &b.Speed, &event, &at, &b.Snapshots); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		b.Event = Event(event)
		b.UpdatedAt = time.UnixMilli(at)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep snapshots of bookID.
func (s *SQLiteStore) Prune(ctx context.Context, bookID string, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE book_id = ? AND id NOT IN (
			SELECT id FROM snapshots WHERE book_id = ? ORDER BY id DESC LIMIT ?
		)`, bookID, bookID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

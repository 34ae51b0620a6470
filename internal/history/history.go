// Package history keeps a log of served predictions in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS predictions (
	id         TEXT PRIMARY KEY,
	request_id TEXT NOT NULL DEFAULT '',
	file_name  TEXT NOT NULL DEFAULT '',
	class      TEXT NOT NULL,
	confidence REAL NOT NULL,
	mode       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);
`

type Entry struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"requestId,omitempty"`
	FileName   string    `json:"fileName"`
	Class      string    `json:"prediction"`
	Confidence float32   `json:"confidence"`
	Mode       string    `json:"mode"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store is safe to use with a nil db; every call is then a no-op.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. An empty path disables
// history.
func Open(path string) (*Store, error) {
	if path == "" {
		return &Store{}, nil
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Enabled() bool { return s != nil && s.db != nil }

func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if !s.Enabled() {
		return e, nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (id, request_id, file_name, class, confidence, mode, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, e.FileName, e.Class, e.Confidence, e.Mode, e.CreatedAt)
	if err != nil {
		return e, fmt.Errorf("insert prediction: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	out := []Entry{}
	if !s.Enabled() {
		return out, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, file_name, class, confidence, mode, created_at
		 FROM predictions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.FileName, &e.Class, &e.Confidence, &e.Mode, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}

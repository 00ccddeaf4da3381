// Package manifest records which documents are in the search index and the
// content hash they were indexed at. Sync uses it to skip unchanged files.
package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a path has no manifest entry.
var ErrNotFound = errors.New("manifest entry not found")

// Entry is one indexed document.
type Entry struct {
	Path       string    `json:"path"`
	Hash       string    `json:"hash"`
	Title      string    `json:"title,omitempty"`
	ChunkCount int       `json:"chunk_count"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Store is a SQLite-backed manifest.
type Store struct {
	db *sql.DB
}

// Open opens or creates the manifest database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("manifest: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("manifest: open database: %w", err)
	}
	// Pragmas are per connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("manifest: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			path        TEXT PRIMARY KEY,
			hash        TEXT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			chunk_count INTEGER NOT NULL DEFAULT 0,
			indexed_at  TEXT NOT NULL
		)`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the entry for path, or ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT path, hash, title, chunk_count, indexed_at FROM documents WHERE path = ?`, path)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("manifest: get %s: %w", path, err)
	}
	return e, nil
}

// Put inserts or replaces the entry for e.Path.
func (s *Store) Put(ctx context.Context, e Entry) error {
	return put(ctx, s.db, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func put(ctx context.Context, db execer, e Entry) error {
	if e.IndexedAt.IsZero() {
		e.IndexedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO documents (path, hash, title, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			hash = excluded.hash,
			title = excluded.title,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at`,
		e.Path, e.Hash, e.Title, e.ChunkCount, e.IndexedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("manifest: put %s: %w", e.Path, err)
	}
	return nil
}

// Delete removes the entry for path. Deleting a missing path returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("manifest: delete %s: %w", path, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return nil
}

// List returns all entries ordered by path.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, hash, title, chunk_count, indexed_at FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("manifest: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("manifest: list: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Replace swaps the whole manifest for entries in one transaction.
func (s *Store) Replace(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("manifest: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("manifest: clear: %w", err)
	}
	for _, e := range entries {
		if err := put(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("manifest: commit: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var indexedAt string
	if err := row.Scan(&e.Path, &e.Hash, &e.Title, &e.ChunkCount, &indexedAt); err != nil {
		return Entry{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, indexedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("bad indexed_at %q: %w", indexedAt, err)
	}
	e.IndexedAt = t
	return e, nil
}

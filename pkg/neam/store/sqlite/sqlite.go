package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/neam/pkg/neam/internalerr"
	"github.com/cognicore/neam/pkg/neam/store"
)

// timeLayout has fixed width so that created_at sorts as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer. A single connection serialises batch workers
	// and HTTP handlers in the pool, and keeps per-connection pragmas applied.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	document TEXT,
	source TEXT,
	output TEXT NOT NULL,
	dropped INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_created_at ON runs(created_at);

CREATE TABLE IF NOT EXISTS run_entities (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	label TEXT NOT NULL,
	tag TEXT NOT NULL,
	surface TEXT NOT NULL,
	byte_offset INTEGER NOT NULL,
	PRIMARY KEY(run_id, seq),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS annotation_cache (
	key TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	updated_at TEXT NOT NULL
);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// SaveRun inserts or replaces a run and its entities
func (s *sqliteStore) SaveRun(ctx context.Context, r store.Run) error {
	if r.ID == "" {
		return fmt.Errorf("%w: run id is required", internalerr.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const stmt = `
INSERT INTO runs (id, mode, document, source, output, dropped, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	mode=excluded.mode,
	document=excluded.document,
	source=excluded.source,
	output=excluded.output,
	dropped=excluded.dropped,
	created_at=excluded.created_at;
`
	if _, err := tx.ExecContext(ctx, stmt,
		r.ID, r.Mode, r.Document, r.Source, r.Output, r.Dropped,
		r.CreatedAt.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_entities WHERE run_id = ?`, r.ID); err != nil {
		return err
	}
	for i, e := range r.Entities {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_entities (run_id, seq, label, tag, surface, byte_offset) VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, i, e.Label, e.Tag, e.Text, e.Offset,
		); err != nil {
			return fmt.Errorf("save run entity: %w", err)
		}
	}

	return tx.Commit()
}

// GetRun returns a run by ID
func (s *sqliteStore) GetRun(ctx context.Context, id string) (store.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, mode, document, source, output, dropped, created_at FROM runs WHERE id = ?`, id)

	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Run{}, fmt.Errorf("run %s: %w", id, internalerr.ErrNotFound)
	}
	if err != nil {
		return store.Run{}, err
	}

	r.Entities, err = s.loadEntities(ctx, id)
	if err != nil {
		return store.Run{}, err
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first. Entities are not
// loaded.
func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = store.DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mode, document, source, output, dropped, created_at
FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (store.Run, error) {
	var (
		r                store.Run
		document, source sql.NullString
		createdAt        string
	)
	if err := sc.Scan(&r.ID, &r.Mode, &document, &source, &r.Output, &r.Dropped, &createdAt); err != nil {
		return store.Run{}, err
	}
	r.Document = document.String
	r.Source = source.String

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return store.Run{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	r.CreatedAt = t
	return r, nil
}

func (s *sqliteStore) loadEntities(ctx context.Context, runID string) ([]store.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, tag, surface, byte_offset FROM run_entities WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Entity
	for rows.Next() {
		var e store.Entity
		if err := rows.Scan(&e.Label, &e.Tag, &e.Text, &e.Offset); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetAnnotation returns a cached annotation payload
func (s *sqliteStore) GetAnnotation(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM annotation_cache WHERE key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// PutAnnotation stores or replaces a cached annotation payload
func (s *sqliteStore) PutAnnotation(ctx context.Context, key string, payload []byte) error {
	const stmt = `
INSERT INTO annotation_cache (key, payload, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	payload=excluded.payload,
	updated_at=excluded.updated_at;
`
	_, err := s.db.ExecContext(ctx, stmt, key, payload, time.Now().UTC().Format(timeLayout))
	return err
}

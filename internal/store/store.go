// Package store provides the durable metadata backing every other
// subsystem: uploaded-file records, cache entries, and job rows, all
// living in a single SQLite database so that "check-or-create" can be a
// transactional operation instead of an application-level mutex.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store owns the metadata database. Writes go through a single
// connection (writeDB) so that the "get-or-create" transition and every
// other mutation are serialized without an in-process mutex; reads go
// through a separate pool (readDB) that can run concurrently against the
// same file thanks to SQLite's WAL journal mode.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema. path may be a filesystem path or a DSN such as
// "file::memory:?cache=shared" for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	writeDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("store: open read connection: %w", err)
	}

	s := &Store{writeDB: writeDB, readDB: readDB}

	if err := s.pragma(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) pragma(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, stmt := range stmts {
		if _, err := s.writeDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: pragma %q: %w", stmt, err)
		}
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	file_id       TEXT PRIMARY KEY,
	original_name TEXT NOT NULL,
	size          INTEGER NOT NULL,
	mime_type     TEXT NOT NULL,
	file_type     TEXT NOT NULL,
	file_hash     TEXT NOT NULL,
	stored_path   TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_file_hash ON uploads(file_hash);
CREATE INDEX IF NOT EXISTS idx_uploads_expires_at ON uploads(expires_at);

CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key       TEXT PRIMARY KEY,
	source_type     TEXT NOT NULL,
	source_ref      TEXT NOT NULL,
	status          TEXT NOT NULL,
	summary_text    TEXT NOT NULL DEFAULT '',
	source_name     TEXT NOT NULL DEFAULT '',
	bundle_path     TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	profile_version INTEGER NOT NULL,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	last_accessed   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_jobs (
	job_id     TEXT PRIMARY KEY,
	cache_key  TEXT NOT NULL REFERENCES cache_entries(cache_key) ON DELETE CASCADE,
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_jobs_cache_key ON cache_jobs(cache_key);
CREATE INDEX IF NOT EXISTS idx_cache_jobs_status ON cache_jobs(status);
`

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.writeDB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close releases both underlying connections.
func (s *Store) Close() error {
	var err error
	if e := s.writeDB.Close(); e != nil {
		err = e
	}
	if e := s.readDB.Close(); e != nil {
		err = e
	}
	return err
}

// WriteTx runs fn inside a transaction against the serialized write
// connection. Callers implementing a read-modify-write sequence (such
// as cache coordinator's get_or_create) must use this rather than
// separate read/write calls, so the whole sequence is atomic.
func (s *Store) WriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

// Read runs fn against the concurrent read pool.
func (s *Store) Read(ctx context.Context, fn func(db *sql.DB) error) error {
	return fn(s.readDB)
}

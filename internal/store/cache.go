package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrCacheEntryNotFound is returned when no row exists for a cache_key.
var ErrCacheEntryNotFound = errors.New("store: cache entry not found")

const cacheEntryColumns = `cache_key, source_type, source_ref, status, summary_text, source_name, bundle_path, error, profile_version, created_at, updated_at, last_accessed`

// GetCacheEntry reads the entry for cacheKey, or ErrCacheEntryNotFound.
// Pass tx when called as part of a larger WriteTx sequence (such as
// get_or_create); pass nil to read via the concurrent read pool.
func (s *Store) GetCacheEntry(ctx context.Context, tx *sql.Tx, cacheKey string) (*CacheEntry, error) {
	query := `SELECT ` + cacheEntryColumns + ` FROM cache_entries WHERE cache_key = ?`
	if tx != nil {
		return scanCacheEntry(tx.QueryRowContext(ctx, query, cacheKey))
	}
	var entry *CacheEntry
	err := s.Read(ctx, func(db *sql.DB) error {
		var err error
		entry, err = scanCacheEntry(db.QueryRowContext(ctx, query, cacheKey))
		return err
	})
	return entry, err
}

// InsertCacheEntry creates a new row. Must be called within a WriteTx.
func (s *Store) InsertCacheEntry(ctx context.Context, tx *sql.Tx, e *CacheEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cache_entries (`+cacheEntryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CacheKey, string(e.SourceType), e.SourceRef, string(e.Status), e.SummaryText, e.SourceName, e.BundlePath, e.Error,
		e.ProfileVersion, e.CreatedAt.Unix(), e.UpdatedAt.Unix(), e.LastAccessed.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: insert cache entry: %w", err)
	}
	return nil
}

// UpdateCacheEntry overwrites the mutable fields of an existing row.
// Must be called within a WriteTx.
func (s *Store) UpdateCacheEntry(ctx context.Context, tx *sql.Tx, e *CacheEntry) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE cache_entries SET
			status = ?, summary_text = ?, source_name = ?, bundle_path = ?, error = ?,
			updated_at = ?, last_accessed = ?
		WHERE cache_key = ?`,
		string(e.Status), e.SummaryText, e.SourceName, e.BundlePath, e.Error,
		e.UpdatedAt.Unix(), e.LastAccessed.Unix(), e.CacheKey,
	)
	if err != nil {
		return fmt.Errorf("store: update cache entry: %w", err)
	}
	return nil
}

// TouchCacheEntry advances last_accessed for a cache hit in its own short
// write transaction, separate from get_or_create's, since it does not
// affect correctness of get_or_create.
func (s *Store) TouchCacheEntry(ctx context.Context, cacheKey string, when time.Time) error {
	return s.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE cache_entries SET last_accessed = ? WHERE cache_key = ?`, when.Unix(), cacheKey)
		return err
	})
}

// DeleteCacheEntry removes the row (and, via ON DELETE CASCADE, any
// associated job rows). Must be called within a WriteTx.
func (s *Store) DeleteCacheEntry(ctx context.Context, tx *sql.Tx, cacheKey string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, cacheKey)
	if err != nil {
		return fmt.Errorf("store: delete cache entry: %w", err)
	}
	return nil
}

// ListCacheEntries returns a page of entries ordered by most recently
// updated, for the supplemented GET /api/cache listing endpoint.
func (s *Store) ListCacheEntries(ctx context.Context, limit, offset int) ([]*CacheEntry, error) {
	var out []*CacheEntry
	err := s.Read(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT `+cacheEntryColumns+` FROM cache_entries
			ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset)
		if err != nil {
			return fmt.Errorf("store: list cache entries: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanCacheEntry(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// GCCandidates returns entries eligible for background garbage
// collection: completed entries older than ttlCutoff, or failed
// entries older than failedCutoff.
func (s *Store) GCCandidates(ctx context.Context, ttlCutoff, failedCutoff time.Time) ([]*CacheEntry, error) {
	var out []*CacheEntry
	err := s.Read(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT `+cacheEntryColumns+` FROM cache_entries
			WHERE (status = 'completed' AND updated_at <= ?)
			   OR (status = 'failed' AND updated_at <= ?)`,
			ttlCutoff.Unix(), failedCutoff.Unix())
		if err != nil {
			return fmt.Errorf("store: gc candidates: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanCacheEntry(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// ListCacheEntriesByAccess returns every completed entry, oldest
// last_accessed first, for cache-GC byte-budget enforcement.
func (s *Store) ListCacheEntriesByAccess(ctx context.Context) ([]*CacheEntry, error) {
	var out []*CacheEntry
	err := s.Read(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT `+cacheEntryColumns+` FROM cache_entries
			WHERE status = 'completed'
			ORDER BY last_accessed ASC`)
		if err != nil {
			return fmt.Errorf("store: list cache entries by access: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanCacheEntry(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

func scanCacheEntry(row rowScanner) (*CacheEntry, error) {
	var e CacheEntry
	var sourceType, status string
	var createdAt, updatedAt, lastAccessed int64
	err := row.Scan(&e.CacheKey, &sourceType, &e.SourceRef, &status, &e.SummaryText, &e.SourceName, &e.BundlePath, &e.Error,
		&e.ProfileVersion, &createdAt, &updatedAt, &lastAccessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan cache entry: %w", err)
	}
	e.SourceType = SourceType(sourceType)
	e.Status = Status(status)
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	e.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	e.LastAccessed = time.Unix(lastAccessed, 0).UTC()
	return &e, nil
}

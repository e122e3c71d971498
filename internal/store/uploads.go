package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUploadNotFound is returned when a file_id has no record, or its
// record has lazily expired.
var ErrUploadNotFound = errors.New("store: upload not found")

// InsertUpload persists a fresh upload record. Callers run this inside
// WriteTx alongside their dedup lookup so that "check stored_path or
// insert new" is atomic.
func (s *Store) InsertUpload(ctx context.Context, tx *sql.Tx, rec *UploadRecord) error {
	return insertUpload(ctx, tx, rec)
}

func insertUpload(ctx context.Context, q querier, rec *UploadRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO uploads (file_id, original_name, size, mime_type, file_type, file_hash, stored_path, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FileID, rec.OriginalName, rec.Size, rec.MimeType, string(rec.FileType), rec.FileHash, rec.StoredPath,
		rec.CreatedAt.Unix(), rec.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: insert upload: %w", err)
	}
	return nil
}

// FindUploadByHash looks up a live record sharing the given content
// hash, used by the upload store to dedup identical content. Callers
// run this inside WriteTx immediately before InsertUpload.
func (s *Store) FindUploadByHash(ctx context.Context, tx *sql.Tx, hash string, now time.Time) (*UploadRecord, error) {
	return scanUpload(tx.QueryRowContext(ctx, uploadByHashQuery, hash, now.Unix()))
}

const uploadByHashQuery = `
	SELECT file_id, original_name, size, mime_type, file_type, file_hash, stored_path, created_at, expires_at
	FROM uploads WHERE file_hash = ? AND expires_at > ? LIMIT 1`

// GetUpload returns the live record for file_id, lazily deleting and
// reporting ErrUploadNotFound if it has expired.
func (s *Store) GetUpload(ctx context.Context, fileID string) (*UploadRecord, error) {
	var rec *UploadRecord
	err := s.Read(ctx, func(db *sql.DB) error {
		var err error
		rec, err = scanUpload(db.QueryRowContext(ctx, `
			SELECT file_id, original_name, size, mime_type, file_type, file_hash, stored_path, created_at, expires_at
			FROM uploads WHERE file_id = ?`, fileID))
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec.Expired(time.Now()) {
		_ = s.DeleteUpload(ctx, fileID)
		return nil, ErrUploadNotFound
	}
	return rec, nil
}

// DeleteUpload removes the upload record for file_id. Callers check
// separately (via CountUploadsByPath) whether the backing file can also
// be removed.
func (s *Store) DeleteUpload(ctx context.Context, fileID string) error {
	return s.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE file_id = ?`, fileID)
		if err != nil {
			return fmt.Errorf("store: delete upload: %w", err)
		}
		return nil
	})
}

// CountUploadsByPath reports how many live records reference
// storedPath, used to decide whether removing one record should also
// remove the shared file.
func (s *Store) CountUploadsByPath(ctx context.Context, storedPath string) (int, error) {
	var n int
	err := s.Read(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT COUNT(*) FROM uploads WHERE stored_path = ?`, storedPath).Scan(&n)
	})
	return n, err
}

// ExpiredUploads returns up to limit records whose TTL has elapsed as
// of now, for the background reaper.
func (s *Store) ExpiredUploads(ctx context.Context, now time.Time, limit int) ([]*UploadRecord, error) {
	var out []*UploadRecord
	err := s.Read(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT file_id, original_name, size, mime_type, file_type, file_hash, stored_path, created_at, expires_at
			FROM uploads WHERE expires_at <= ? LIMIT ?`, now.Unix(), limit)
		if err != nil {
			return fmt.Errorf("store: query expired uploads: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanUpload(rows)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (*UploadRecord, error) {
	var rec UploadRecord
	var fileType string
	var createdAt, expiresAt int64
	err := row.Scan(&rec.FileID, &rec.OriginalName, &rec.Size, &rec.MimeType, &fileType, &rec.FileHash, &rec.StoredPath, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan upload: %w", err)
	}
	rec.FileType = FileType(fileType)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &rec, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrJobNotFound is returned when no row exists for a job_id.
var ErrJobNotFound = errors.New("store: job not found")

const jobColumns = `job_id, cache_key, status, error, created_at, updated_at`

// InsertJob creates a new row. Must be called within a WriteTx.
func (s *Store) InsertJob(ctx context.Context, tx *sql.Tx, j *Job) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cache_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		j.JobID, j.CacheKey, string(j.Status), j.Error, j.CreatedAt.Unix(), j.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: insert job: %w", err)
	}
	return nil
}

// GetJob reads a job row outside any write transaction.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var j *Job
	err := s.Read(ctx, func(db *sql.DB) error {
		var err error
		j, err = scanJob(db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM cache_jobs WHERE job_id = ?`, jobID))
		return err
	})
	return j, err
}

// NonTerminalJobForCacheKey returns the single pending/running job for
// cacheKey, if any, enforcing "at most one non-terminal job per
// cache_key." Must be called within a WriteTx to be race-free against
// concurrent get_or_create calls.
func (s *Store) NonTerminalJobForCacheKey(ctx context.Context, tx *sql.Tx, cacheKey string) (*Job, error) {
	return scanJob(tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM cache_jobs
		WHERE cache_key = ? AND status IN ('pending', 'running')
		ORDER BY created_at DESC LIMIT 1`, cacheKey))
}

// UpdateJobStatus transitions a job's status and optional error message.
// Must be called within a WriteTx.
func (s *Store) UpdateJobStatus(ctx context.Context, tx *sql.Tx, jobID string, status Status, errMsg string, when time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE cache_jobs SET status = ?, error = ?, updated_at = ? WHERE job_id = ?`,
		string(status), errMsg, when.Unix(), jobID)
	if err != nil {
		return fmt.Errorf("store: update job status: %w", err)
	}
	return nil
}

// RunningJobs returns every job currently marked running, used by the
// startup sweep to find work orphaned by a prior process lifetime.
func (s *Store) RunningJobs(ctx context.Context) ([]*Job, error) {
	var out []*Job
	err := s.Read(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT `+jobColumns+` FROM cache_jobs WHERE status = 'running'`)
		if err != nil {
			return fmt.Errorf("store: query running jobs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	return out, err
}

// PendingJobs returns every job currently pending, used by the queue's
// periodic reconciliation pass to recover jobs dropped by a full queue.
func (s *Store) PendingJobs(ctx context.Context) ([]*Job, error) {
	var out []*Job
	err := s.Read(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT `+jobColumns+` FROM cache_jobs WHERE status = 'pending'`)
		if err != nil {
			return fmt.Errorf("store: query pending jobs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	return out, err
}

// SweepInterruptedJobs marks every running job as failed:interrupted in
// a single write transaction, called once at startup before the worker
// pool begins dequeuing.
func (s *Store) SweepInterruptedJobs(ctx context.Context, reason string, when time.Time) ([]*Job, error) {
	jobs, err := s.RunningJobs(ctx)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	err = s.WriteTx(ctx, func(tx *sql.Tx) error {
		for _, j := range jobs {
			if err := s.UpdateJobStatus(ctx, tx, j.JobID, StatusFailed, reason, when); err != nil {
				return err
			}
			entry, err := s.GetCacheEntry(ctx, tx, j.CacheKey)
			if err != nil {
				if errors.Is(err, ErrCacheEntryNotFound) {
					continue
				}
				return err
			}
			entry.Status = StatusFailed
			entry.Error = reason
			entry.UpdatedAt = when
			if err := s.UpdateCacheEntry(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var status string
	var createdAt, updatedAt int64
	err := row.Scan(&j.JobID, &j.CacheKey, &status, &j.Error, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan job: %w", err)
	}
	j.Status = Status(status)
	j.CreatedAt = time.Unix(createdAt, 0).UTC()
	j.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &j, nil
}

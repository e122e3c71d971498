// Package cache implements the cache coordinator: cache-key computation,
// the cache-entry state machine, and get_or_create single-flight
// semantics executed as a single transaction against the metadata
// store, so that no application-level mutex is needed.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vidsum/vidsum-api/internal/apierr"
	"github.com/vidsum/vidsum-api/internal/bundle"
	"github.com/vidsum/vidsum-api/internal/idgen"
	"github.com/vidsum/vidsum-api/internal/store"
)

// Enqueuer places a job id onto the pipeline worker queue and cancels
// in-flight jobs for a cache_key. Implemented by internal/queue.Pool;
// declared here to avoid a dependency cycle between cache and queue
// (queue depends on cache for post-run update).
type Enqueuer interface {
	Enqueue(jobID string)
	CancelForCacheKey(cacheKey string)
}

// Coordinator mediates every cache-entry and job transition.
type Coordinator struct {
	meta           *store.Store
	bundles        *bundle.Store
	queue          Enqueuer
	profileVersion int
}

// New constructs a Coordinator. SetQueue must be called once the worker
// pool exists, since the pool itself depends on the coordinator for
// post-run updates (wired in internal/bootstrap).
func New(meta *store.Store, bundles *bundle.Store, profileVersion int) *Coordinator {
	return &Coordinator{meta: meta, bundles: bundles, profileVersion: profileVersion}
}

// SetQueue wires the worker queue after construction, breaking the
// coordinator/queue initialization cycle.
func (c *Coordinator) SetQueue(q Enqueuer) {
	c.queue = q
}

// Result is returned by GetOrCreate.
type Result struct {
	Entry  *store.CacheEntry
	Job    *store.Job // non-nil when a job was created or an in-flight job was adopted
	IsHit  bool
}

// GetOrCreate implements the six-way decision table from the cache
// coordinator contract. It runs entirely inside one write transaction,
// so two concurrent callers for the same cache_key can never both reach
// the "create" branch.
func (c *Coordinator) GetOrCreate(ctx context.Context, cacheKey, sourceRef string, sourceType store.SourceType, refresh bool) (*Result, error) {
	now := time.Now()
	var res *Result
	var newJobID string

	err := c.meta.WriteTx(ctx, func(tx *sql.Tx) error {
		entry, err := c.meta.GetCacheEntry(ctx, tx, cacheKey)
		switch {
		case errors.Is(err, store.ErrCacheEntryNotFound):
			entry = &store.CacheEntry{
				CacheKey:       cacheKey,
				SourceType:     sourceType,
				SourceRef:      sourceRef,
				Status:         store.StatusPending,
				ProfileVersion: c.profileVersion,
				CreatedAt:      now,
				UpdatedAt:      now,
				LastAccessed:   now,
			}
			if err := c.meta.InsertCacheEntry(ctx, tx, entry); err != nil {
				return err
			}
			job, err := c.newJob(ctx, tx, cacheKey, now)
			if err != nil {
				return err
			}
			newJobID = job.JobID
			res = &Result{Entry: entry, Job: job}
			return nil
		case err != nil:
			return err
		}

		if refresh {
			entry.Status = store.StatusPending
			entry.SummaryText = ""
			entry.BundlePath = ""
			entry.Error = ""
			entry.UpdatedAt = now
			entry.LastAccessed = now
			if err := c.meta.UpdateCacheEntry(ctx, tx, entry); err != nil {
				return err
			}
			job, err := c.newJob(ctx, tx, cacheKey, now)
			if err != nil {
				return err
			}
			newJobID = job.JobID
			res = &Result{Entry: entry, Job: job}
			return nil
		}

		switch entry.Status {
		case store.StatusCompleted:
			if c.bundles.Validate(string(entry.SourceType), entry.CacheKey, c.profileVersion) {
				entry.LastAccessed = now
				if err := c.meta.UpdateCacheEntry(ctx, tx, entry); err != nil {
					return err
				}
				res = &Result{Entry: entry, IsHit: true}
				return nil
			}
			// Bundle failed validation: treat as if processing never
			// completed, so a fresh job is created rather than serving a
			// broken hit.
			entry.Status = store.StatusPending
			entry.SummaryText = ""
			entry.BundlePath = ""
			entry.UpdatedAt = now
			if err := c.meta.UpdateCacheEntry(ctx, tx, entry); err != nil {
				return err
			}
			job, err := c.newJob(ctx, tx, cacheKey, now)
			if err != nil {
				return err
			}
			newJobID = job.JobID
			res = &Result{Entry: entry, Job: job}
			return nil

		case store.StatusPending, store.StatusRunning:
			existing, err := c.meta.NonTerminalJobForCacheKey(ctx, tx, cacheKey)
			if err != nil {
				return fmt.Errorf("cache: adopt in-flight job: %w", err)
			}
			res = &Result{Entry: entry, Job: existing}
			return nil

		case store.StatusFailed:
			res = &Result{Entry: entry}
			return nil

		default:
			return fmt.Errorf("cache: unknown entry status %q", entry.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	if newJobID != "" && c.queue != nil {
		c.queue.Enqueue(newJobID)
	}
	return res, nil
}

func (c *Coordinator) newJob(ctx context.Context, tx *sql.Tx, cacheKey string, now time.Time) (*store.Job, error) {
	job := &store.Job{
		JobID:     idgen.NewJobID(),
		CacheKey:  cacheKey,
		Status:    store.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.meta.InsertJob(ctx, tx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Lookup is the read-only probe behind POST /api/cache/lookup: it
// reports the entry if one exists, without creating anything and
// without adopting in-flight jobs.
func (c *Coordinator) Lookup(ctx context.Context, cacheKey string) (*store.CacheEntry, bool, error) {
	entry, err := c.meta.GetCacheEntry(ctx, nil, cacheKey)
	if errors.Is(err, store.ErrCacheEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// Get returns the full entry for cacheKey, or apierr not-found.
func (c *Coordinator) Get(ctx context.Context, cacheKey string) (*store.CacheEntry, error) {
	entry, err := c.meta.GetCacheEntry(ctx, nil, cacheKey)
	if errors.Is(err, store.ErrCacheEntryNotFound) {
		return nil, apierr.Wrap(apierr.KindNotFound, "cache entry not found", err)
	}
	return entry, err
}

// GetJob returns the job row for jobID, or apierr not-found.
func (c *Coordinator) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	job, err := c.meta.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		return nil, apierr.Wrap(apierr.KindNotFound, "job not found", err)
	}
	return job, err
}

// CompletePipeline records a successful pipeline run: the entry and job
// both terminate completed, with the bundle path and summary recorded.
func (c *Coordinator) CompletePipeline(ctx context.Context, jobID, cacheKey, bundlePath, summaryText, sourceName string) error {
	now := time.Now()
	return c.meta.WriteTx(ctx, func(tx *sql.Tx) error {
		entry, err := c.meta.GetCacheEntry(ctx, tx, cacheKey)
		if err != nil {
			return err
		}
		entry.Status = store.StatusCompleted
		entry.SummaryText = summaryText
		entry.BundlePath = bundlePath
		entry.SourceName = sourceName
		entry.Error = ""
		entry.UpdatedAt = now
		entry.LastAccessed = now
		if err := c.meta.UpdateCacheEntry(ctx, tx, entry); err != nil {
			return err
		}
		return c.meta.UpdateJobStatus(ctx, tx, jobID, store.StatusCompleted, "", now)
	})
}

// FailPipeline records a failed pipeline run with errMessage, which
// callers prefix with the error kind.
func (c *Coordinator) FailPipeline(ctx context.Context, jobID, cacheKey string, errMessage string) error {
	now := time.Now()
	return c.meta.WriteTx(ctx, func(tx *sql.Tx) error {
		entry, err := c.meta.GetCacheEntry(ctx, tx, cacheKey)
		if err != nil {
			return err
		}
		entry.Status = store.StatusFailed
		entry.Error = errMessage
		entry.UpdatedAt = now
		if err := c.meta.UpdateCacheEntry(ctx, tx, entry); err != nil {
			return err
		}
		return c.meta.UpdateJobStatus(ctx, tx, jobID, store.StatusFailed, errMessage, now)
	})
}

// MarkRunning transitions the entry and job to running once a worker
// picks the job up.
func (c *Coordinator) MarkRunning(ctx context.Context, jobID, cacheKey string) error {
	now := time.Now()
	return c.meta.WriteTx(ctx, func(tx *sql.Tx) error {
		entry, err := c.meta.GetCacheEntry(ctx, tx, cacheKey)
		if err != nil {
			return err
		}
		entry.Status = store.StatusRunning
		entry.UpdatedAt = now
		if err := c.meta.UpdateCacheEntry(ctx, tx, entry); err != nil {
			return err
		}
		return c.meta.UpdateJobStatus(ctx, tx, jobID, store.StatusRunning, "", now)
	})
}

// Delete removes the entry, its bundle directory (if any), and cascades
// to job rows via the foreign key. Future requests with the same
// cache_key recreate it from scratch.
func (c *Coordinator) Delete(ctx context.Context, cacheKey string) error {
	entry, err := c.Get(ctx, cacheKey)
	if err != nil {
		return err
	}
	if c.queue != nil {
		c.queue.CancelForCacheKey(cacheKey)
	}
	if entry.BundlePath != "" {
		if err := c.bundles.Remove(string(entry.SourceType), cacheKey); err != nil {
			return err
		}
	}
	return c.meta.WriteTx(ctx, func(tx *sql.Tx) error {
		return c.meta.DeleteCacheEntry(ctx, tx, cacheKey)
	})
}

// List returns a page of entries for the supplemented listing endpoint.
func (c *Coordinator) List(ctx context.Context, limit, offset int) ([]*store.CacheEntry, error) {
	return c.meta.ListCacheEntries(ctx, limit, offset)
}

// ProfileVersion returns the coordinator's current processing-profile
// version, used by callers computing cache keys.
func (c *Coordinator) ProfileVersion() int {
	return c.profileVersion
}

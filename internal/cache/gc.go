package cache

import (
	"context"
	"log/slog"
	"time"
)

// GCConfig controls the background cache garbage collector.
type GCConfig struct {
	Interval  time.Duration
	EntryTTL  time.Duration // completed entries older than this are evicted
	FailedTTL time.Duration // failed entries older than this are evicted
	MaxBytes  int64         // 0 disables byte-budget enforcement
}

// RunGC blocks, sweeping expired and over-budget cache entries every
// Interval, until ctx is cancelled. Mirrors upload.Store.RunReaper's
// ticker-loop shape.
func (c *Coordinator) RunGC(ctx context.Context, cfg GCConfig, logger *slog.Logger) {
	if cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.gcOnce(ctx, cfg); err != nil {
				logger.Error("cache gc pass failed", "error", err)
			}
		}
	}
}

func (c *Coordinator) gcOnce(ctx context.Context, cfg GCConfig) error {
	now := time.Now()
	candidates, err := c.meta.GCCandidates(ctx, now.Add(-cfg.EntryTTL), now.Add(-cfg.FailedTTL))
	if err != nil {
		return err
	}
	for _, e := range candidates {
		if err := c.Delete(ctx, e.CacheKey); err != nil {
			return err
		}
	}

	if cfg.MaxBytes <= 0 {
		return nil
	}
	return c.enforceByteBudget(ctx, cfg.MaxBytes)
}

// enforceByteBudget evicts completed entries oldest-accessed first until
// the total committed-bundle size is within maxBytes.
func (c *Coordinator) enforceByteBudget(ctx context.Context, maxBytes int64) error {
	entries, err := c.meta.ListCacheEntriesByAccess(ctx)
	if err != nil {
		return err
	}

	sizes := make([]int64, len(entries))
	var total int64
	for i, e := range entries {
		size, err := c.bundles.Size(string(e.SourceType), e.CacheKey)
		if err != nil {
			continue // no bundle on disk (or unreadable manifest); nothing to reclaim
		}
		sizes[i] = size
		total += size
	}

	for i := 0; total > maxBytes && i < len(entries); i++ {
		if err := c.Delete(ctx, entries[i].CacheKey); err != nil {
			return err
		}
		total -= sizes[i]
	}
	return nil
}

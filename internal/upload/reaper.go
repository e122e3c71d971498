package upload

import (
	"context"
	"log/slog"
	"os"
	"time"
)

const reaperBatchSize = 100

// RunReaper blocks, sweeping expired upload records and their orphaned
// stored files every interval, until ctx is cancelled. It is safe to run
// alongside concurrent Put calls: it goes through the same metadata
// store write-transaction discipline as every other mutation.
func (s *Store) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.reapOnce(ctx); err != nil {
				s.logger.Error("upload reaper pass failed", "error", err)
			}
		}
	}
}

func (s *Store) reapOnce(ctx context.Context) error {
	now := time.Now()
	expired, err := s.meta.ExpiredUploads(ctx, now, reaperBatchSize)
	if err != nil {
		return err
	}
	for _, rec := range expired {
		if err := s.meta.DeleteUpload(ctx, rec.FileID); err != nil {
			s.logger.Error("reaper: delete upload record", "file_id", rec.FileID, "error", err)
			continue
		}
		n, err := s.meta.CountUploadsByPath(ctx, rec.StoredPath)
		if err != nil {
			s.logger.Error("reaper: count references", "file_id", rec.FileID, "error", err)
			continue
		}
		if n == 0 {
			if err := os.Remove(rec.StoredPath); err != nil && !os.IsNotExist(err) {
				s.logger.Error("reaper: remove stored file", "path", rec.StoredPath, "error", err)
			}
		}
	}
	if len(expired) > 0 {
		s.logger.Info("upload reaper swept expired records", "count", len(expired))
	}
	return nil
}

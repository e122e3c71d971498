package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// BundleMirror publishes a completed bundle's summary artifact to a
// durable Storage backend once the bundle is promoted locally. It is
// optional: with a LocalStorage backend (S3 not configured), Mirror is
// a no-op.
type BundleMirror struct {
	backend Storage
}

// NewBundleMirror constructs a BundleMirror over backend.
func NewBundleMirror(backend Storage) *BundleMirror {
	return &BundleMirror{backend: backend}
}

// Mirror uploads bundlePath's summary.json under a key derived from
// cacheKey. A missing summary artifact is not an error: not every
// bundle produces one (e.g. a job that failed before emission).
func (m *BundleMirror) Mirror(ctx context.Context, cacheKey, bundlePath string) error {
	f, err := os.Open(filepath.Join(bundlePath, "summary.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("storage: open summary for mirror: %w", err)
	}
	defer f.Close()

	_, err = m.backend.UploadToS3(ctx, cacheKey+"/summary.json", f)
	if errors.Is(err, ErrS3NotConfigured) {
		return nil
	}
	return err
}

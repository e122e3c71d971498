package storage

import (
	"context"
	"io"
)

// LocalStorage is a Storage backend with no durable sink configured. It
// satisfies Storage so BundleMirror runs unchanged when S3 is disabled:
// every Mirror call reaches UploadToS3, gets ErrS3NotConfigured back, and
// is swallowed as a no-op.
type LocalStorage struct{}

// NewLocalStorage constructs a no-op Storage backend.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{}
}

// UploadToS3 always returns ErrS3NotConfigured.
func (*LocalStorage) UploadToS3(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

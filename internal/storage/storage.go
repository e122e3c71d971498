// Package storage provides the optional durable-publishing sink for
// completed bundles: the Storage interface (port) plus implementations
// for "no sink configured" and S3.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrS3NotConfigured is returned by a Storage backend that has no
// durable object-storage sink configured.
var ErrS3NotConfigured = errors.New("S3 storage is not configured")

// Storage publishes an artifact to durable object storage and returns
// its public URL.
type Storage interface {
	// UploadToS3 uploads data under key. Returns ErrS3NotConfigured if
	// the backend has no S3 sink configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}

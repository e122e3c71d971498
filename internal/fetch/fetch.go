// Package fetch adapts the URL branch's "fetch metadata" and download steps
// to concrete network backends: a metadata prober (duration, display name,
// subtitle availability, extractor/video-id identity for cache keys) and
// streaming downloaders for video and subtitle files.
package fetch

import (
	"context"
	"time"
)

// Metadata describes what the URL branch's first step needs to know about
// a remote source before deciding how to process it.
type Metadata struct {
	Duration           time.Duration
	SourceName         string
	SubtitlesAvailable bool
	// Extractor and VideoID identify the source platform/video for cache-key
	// derivation (internal/cache.KeyForURL); both empty means the cache key
	// falls back to the normalized URL.
	Extractor string
	VideoID   string
}

// MetadataProber inspects a source URL and reports what is known about it
// without downloading the full media.
type MetadataProber interface {
	Probe(ctx context.Context, url string) (Metadata, error)
}

// VideoDownloader streams the video at url into destPath, aborting with
// apierr.KindTooLarge if the content exceeds maxSize.
type VideoDownloader interface {
	Download(ctx context.Context, url, destPath string, maxSize int64) error
}

// SubtitleDownloader streams a subtitle track, if one exists, into
// destPath. found is false (with a nil error) when the source has no
// subtitles to offer, which is not itself a failure.
type SubtitleDownloader interface {
	Download(ctx context.Context, url, destPath string, maxSize int64) (found bool, err error)
}

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/vidsum/vidsum-api/internal/apierr"
)

// client is the shared HTTP plumbing behind the three fetch adapters below.
// It downloads video and subtitle content directly from a URL over plain
// HTTP(S) — no platform-specific extraction, matching the "default
// implementation" charter of internal/fetch (§1 Out of scope names
// platform-specific extractors as out of scope; this adapter handles
// direct media URLs only).
type client struct {
	httpClient *http.Client
}

func newClient(timeout time.Duration) *client {
	return &client{httpClient: &http.Client{Timeout: timeout}}
}

// HTTPProber implements MetadataProber over plain HTTP.
type HTTPProber struct{ c *client }

// NewHTTPProber creates an HTTPProber with the given per-request timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{c: newClient(timeout)}
}

// Probe issues a HEAD request to discover whether the URL is reachable;
// duration and subtitle availability are not derivable from headers alone
// for a generic URL, so they are left zero/false for this default adapter.
func (p *HTTPProber) Probe(ctx context.Context, url string) (Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("fetch: build probe request: %w", err)
	}
	resp, err := p.c.httpClient.Do(req)
	if err != nil {
		return Metadata{}, apierr.Wrap(apierr.KindUpstream, "probe request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return Metadata{}, apierr.New(apierr.KindUpstream, fmt.Sprintf("probe returned status %d", resp.StatusCode))
	}
	return Metadata{SourceName: filenameFromURL(url)}, nil
}

// HTTPVideoDownloader implements VideoDownloader over plain HTTP.
type HTTPVideoDownloader struct{ c *client }

// NewHTTPVideoDownloader creates an HTTPVideoDownloader with the given
// per-request timeout.
func NewHTTPVideoDownloader(timeout time.Duration) *HTTPVideoDownloader {
	return &HTTPVideoDownloader{c: newClient(timeout)}
}

// Download streams the content at url into destPath, aborting once more
// than maxSize bytes have been written. A 404 is an upstream error here.
func (d *HTTPVideoDownloader) Download(ctx context.Context, url, destPath string, maxSize int64) error {
	found, err := d.c.download(ctx, url, destPath, maxSize)
	if err == nil && !found {
		return apierr.New(apierr.KindUpstream, "download returned status 404")
	}
	return err
}

// HTTPSubtitleDownloader implements SubtitleDownloader over plain HTTP.
type HTTPSubtitleDownloader struct{ c *client }

// NewHTTPSubtitleDownloader creates an HTTPSubtitleDownloader with the
// given per-request timeout.
func NewHTTPSubtitleDownloader(timeout time.Duration) *HTTPSubtitleDownloader {
	return &HTTPSubtitleDownloader{c: newClient(timeout)}
}

// Download streams a subtitle track. A 404 is reported as "not found"
// rather than an error, since the absence of subtitles is a normal outcome
// for the URL branch.
func (d *HTTPSubtitleDownloader) Download(ctx context.Context, url, destPath string, maxSize int64) (bool, error) {
	return d.c.download(ctx, url, destPath, maxSize)
}

func (c *client) download(ctx context.Context, url, destPath string, maxSize int64) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("fetch: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, apierr.Wrap(apierr.KindTimeout, "download timed out", err)
		}
		return false, apierr.Wrap(apierr.KindUpstream, "download request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, apierr.New(apierr.KindUpstream, fmt.Sprintf("download returned status %d", resp.StatusCode))
	}

	f, err := os.Create(destPath)
	if err != nil {
		return false, fmt.Errorf("fetch: create destination: %w", err)
	}
	defer f.Close()

	limited := io.LimitReader(resp.Body, maxSize+1)
	n, err := io.Copy(f, limited)
	if err != nil {
		os.Remove(destPath)
		return false, fmt.Errorf("fetch: copy response body: %w", err)
	}
	if n > maxSize {
		f.Close()
		os.Remove(destPath)
		return false, apierr.New(apierr.KindTooLarge, "downloaded content exceeds configured maximum size")
	}
	return true, nil
}

func filenameFromURL(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			return url[i+1:]
		}
	}
	return url
}

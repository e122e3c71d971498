package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHTTPProber_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProber(5 * time.Second)
	meta, err := p.Probe(context.Background(), srv.URL+"/video.mp4")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if meta.SourceName != "video.mp4" {
		t.Errorf("expected source name derived from URL, got %q", meta.SourceName)
	}
}

func TestHTTPProber_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProber(5 * time.Second)
	if _, err := p.Probe(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for upstream 500")
	}
}

func TestHTTPVideoDownloader_StreamsToDisk(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	d := NewHTTPVideoDownloader(5 * time.Second)
	dst := filepath.Join(t.TempDir(), "out.bin")
	if err := d.Download(context.Background(), srv.URL, dst, 10_000); err != nil {
		t.Fatalf("download: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("downloaded content does not match source")
	}
}

func TestHTTPVideoDownloader_ExceedsMaxSize(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	d := NewHTTPVideoDownloader(5 * time.Second)
	dst := filepath.Join(t.TempDir(), "out.bin")
	err := d.Download(context.Background(), srv.URL, dst, 10)
	if err == nil {
		t.Fatal("expected too-large error")
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Error("expected partial download to be removed")
	}
}

func TestHTTPSubtitleDownloader_NotFoundIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewHTTPSubtitleDownloader(5 * time.Second)
	found, err := d.Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "subs.srt"), 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected found=false for 404")
	}
}

func TestHTTPSubtitleDownloader_Found(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n"))
	}))
	defer srv.Close()

	d := NewHTTPSubtitleDownloader(5 * time.Second)
	dst := filepath.Join(t.TempDir(), "subs.srt")
	found, err := d.Download(context.Background(), srv.URL, dst, 1000)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	data, _ := os.ReadFile(dst)
	if !strings.Contains(string(data), "hi") {
		t.Error("expected subtitle content written to disk")
	}
}

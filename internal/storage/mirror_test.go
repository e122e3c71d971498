package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

type recordingBackend struct {
	uploadedKey  string
	uploadedBody string
}

func (b *recordingBackend) UploadToS3(ctx context.Context, key string, data io.Reader) (string, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	b.uploadedKey = key
	b.uploadedBody = string(body)
	return "https://example.com/" + key, nil
}

func TestBundleMirror_MirrorUploadsSummary(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "summary.json"), []byte(`{"summary_text":"hi"}`), 0o644); err != nil {
		t.Fatalf("write summary: %v", err)
	}

	backend := &recordingBackend{}
	mirror := NewBundleMirror(backend)

	if err := mirror.Mirror(context.Background(), "cachekey1", dir); err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if backend.uploadedKey != "cachekey1/summary.json" {
		t.Errorf("unexpected upload key: %q", backend.uploadedKey)
	}
	if !bytes.Contains([]byte(backend.uploadedBody), []byte("hi")) {
		t.Errorf("unexpected upload body: %q", backend.uploadedBody)
	}
}

func TestBundleMirror_NoSummaryIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	mirror := NewBundleMirror(&recordingBackend{})
	if err := mirror.Mirror(context.Background(), "cachekey2", dir); err != nil {
		t.Fatalf("expected no error for a missing summary artifact, got %v", err)
	}
}

func TestBundleMirror_LocalBackendIsNoop(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "summary.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write summary: %v", err)
	}
	mirror := NewBundleMirror(NewLocalStorage())
	if err := mirror.Mirror(context.Background(), "cachekey3", dir); err != nil {
		t.Fatalf("expected local backend to be a no-op, got %v", err)
	}
}

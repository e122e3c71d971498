package pipeline

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vidsum/vidsum-api/internal/bundle"
	"github.com/vidsum/vidsum-api/internal/store"
	"github.com/vidsum/vidsum-api/internal/upload"
)

func newLocalExecutor(t *testing.T, meta *store.Store, transcriber *fakeTranscriber, summarizer *fakeSummarizer, media MediaProcessor) *Executor {
	t.Helper()
	uploads, err := upload.New(upload.Config{
		RootDir:       t.TempDir(),
		ChunkSize:     4096,
		MaxFileSize:   1 << 20,
		GraceBytes:    1024,
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		TTL:           time.Hour,
		Concurrency:   4,
		AdmissionWait: time.Second,
	}, meta, nil)
	if err != nil {
		t.Fatalf("new upload store: %v", err)
	}
	bundles := bundle.New(t.TempDir())
	sem := semaphore.NewWeighted(2)
	return NewExecutor(defaultConfig(), bundles, uploads, &fakeProber{}, &fakeVideoDownloader{}, &fakeSubtitleDownloader{}, transcriber, summarizer, media, sem, sem)
}

func insertUpload(t *testing.T, meta *store.Store, rec *store.UploadRecord, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(rec.StoredPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(rec.StoredPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write stored file: %v", err)
	}
	err := meta.WriteTx(context.Background(), func(tx *sql.Tx) error {
		return meta.InsertUpload(context.Background(), tx, rec)
	})
	if err != nil {
		t.Fatalf("insert upload: %v", err)
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	meta, err := store.Open(context.Background(), "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { meta.Close() })
	return meta
}

func TestRun_LocalBranch_SubtitleFile(t *testing.T) {
	meta := openTestStore(t)
	root := t.TempDir()
	storedPath := filepath.Join(root, "uploads", "f_test1", "captions.srt")
	rec := &store.UploadRecord{
		FileID:       "f_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		OriginalName: "captions.srt",
		Size:         100,
		MimeType:     "text/plain",
		FileType:     store.FileTypeSubtitle,
		FileHash:     "hash1",
		StoredPath:   storedPath,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	insertUpload(t, meta, rec, "1\n00:00:00,000 --> 00:00:05,000\nHello from a file\n")

	exec := newLocalExecutor(t, meta, &fakeTranscriber{err: nil}, &fakeSummarizer{summary: "subtitle summary"}, &fakeMedia{})

	entry := &store.CacheEntry{SourceType: store.SourceTypeLocal, SourceRef: LocalRefForFileID(rec.FileID)}
	_, summaryText, sourceName, err := exec.Run(context.Background(), "job1", "cachekey1", entry)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summaryText != "subtitle summary" {
		t.Errorf("unexpected summary: %q", summaryText)
	}
	if sourceName != "captions.srt" {
		t.Errorf("unexpected source name: %q", sourceName)
	}
}

func TestRun_LocalBranch_AudioFile(t *testing.T) {
	meta := openTestStore(t)
	root := t.TempDir()
	storedPath := filepath.Join(root, "uploads", "f_test2", "voice.wav")
	if err := os.MkdirAll(filepath.Dir(storedPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(storedPath, []byte("fake-wav"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	rec := &store.UploadRecord{
		FileID:       "f_bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		OriginalName: "voice.wav",
		Size:         8,
		MimeType:     "audio/wav",
		FileType:     store.FileTypeAudio,
		FileHash:     "hash2",
		StoredPath:   storedPath,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	err := meta.WriteTx(context.Background(), func(tx *sql.Tx) error {
		return meta.InsertUpload(context.Background(), tx, rec)
	})
	if err != nil {
		t.Fatalf("insert upload: %v", err)
	}

	exec := newLocalExecutor(t, meta,
		&fakeTranscriber{text: "audio transcript content with several words here"},
		&fakeSummarizer{summary: "audio summary"},
		&fakeMedia{duration: 20 * time.Second, rms: 0.5},
	)

	entry := &store.CacheEntry{SourceType: store.SourceTypeLocal, SourceRef: LocalRefForFileHash(rec.FileHash)}
	_, summaryText, _, err := exec.Run(context.Background(), "job2", "cachekey2", entry)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summaryText != "audio summary" {
		t.Errorf("unexpected summary: %q", summaryText)
	}
}

func TestRun_LocalBranch_MalformedSourceRefFails(t *testing.T) {
	meta := openTestStore(t)
	exec := newLocalExecutor(t, meta, &fakeTranscriber{}, &fakeSummarizer{}, &fakeMedia{})
	entry := &store.CacheEntry{SourceType: store.SourceTypeLocal, SourceRef: "nonsense"}
	_, _, _, err := exec.Run(context.Background(), "job3", "cachekey3", entry)
	if err == nil {
		t.Fatal("expected an error for a malformed source_ref")
	}
}

package upload

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/vidsum/vidsum-api/internal/apierr"
	"github.com/vidsum/vidsum-api/internal/store"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	meta, err := store.Open(context.Background(), "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open metadata store: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	s, err := New(Config{
		RootDir:       t.TempDir(),
		ChunkSize:     4096,
		MaxFileSize:   1 << 20,
		GraceBytes:    1024,
		ReadTimeout:   time.Second,
		WriteTimeout:  time.Second,
		TTL:           time.Hour,
		Concurrency:   4,
		AdmissionWait: time.Second,
	}, meta, discardLogger())
	if err != nil {
		t.Fatalf("new upload store: %v", err)
	}
	return s
}

func TestPut_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	body := "1\n00:00:00,000 --> 00:00:01,000\nhello\n"

	rec, err := s.Put(ctx, PutRequest{
		Stream:       strings.NewReader(body),
		DeclaredName: "sample.srt",
		DeclaredMime: "text/plain",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rec.FileType != store.FileTypeSubtitle {
		t.Errorf("expected subtitle file type, got %s", rec.FileType)
	}

	got, err := s.Get(ctx, rec.FileID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FileHash != rec.FileHash {
		t.Errorf("hash mismatch: %s vs %s", got.FileHash, rec.FileHash)
	}

	f, err := os.Open(got.StoredPath)
	if err != nil {
		t.Fatalf("open stored file: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != body {
		t.Errorf("stored bytes do not match input")
	}
}

func TestPut_DedupSharesStoredPath(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	body := "same content"

	rec1, err := s.Put(ctx, PutRequest{Stream: strings.NewReader(body), DeclaredName: "a.srt", DeclaredMime: "text/plain"})
	if err != nil {
		t.Fatalf("put 1: %v", err)
	}
	rec2, err := s.Put(ctx, PutRequest{Stream: strings.NewReader(body), DeclaredName: "b.srt", DeclaredMime: "text/plain"})
	if err != nil {
		t.Fatalf("put 2: %v", err)
	}
	if rec1.FileID == rec2.FileID {
		t.Fatal("expected distinct file ids")
	}
	if rec1.StoredPath != rec2.StoredPath {
		t.Errorf("expected shared stored path for identical content, got %q vs %q", rec1.StoredPath, rec2.StoredPath)
	}

	if err := s.Remove(ctx, rec1.FileID); err != nil {
		t.Fatalf("remove rec1: %v", err)
	}
	if _, err := s.Get(ctx, rec2.FileID); err != nil {
		t.Errorf("expected rec2 to remain retrievable after removing rec1: %v", err)
	}
}

func TestPut_UnsupportedExtension(t *testing.T) {
	s := testStore(t)
	_, err := s.Put(context.Background(), PutRequest{
		Stream:       strings.NewReader("x"),
		DeclaredName: "archive.zip",
		DeclaredMime: "application/zip",
	})
	if apierr.KindOf(err) != apierr.KindUnsupportedType {
		t.Errorf("expected unsupported-type, got %v", err)
	}
}

func TestPut_DeclaredSizeTooLarge(t *testing.T) {
	s := testStore(t)
	_, err := s.Put(context.Background(), PutRequest{
		Stream:       strings.NewReader("x"),
		DeclaredName: "big.mp4",
		DeclaredSize: 10 << 20,
		DeclaredMime: "video/mp4",
	})
	if apierr.KindOf(err) != apierr.KindTooLarge {
		t.Errorf("expected too-large, got %v", err)
	}
}

func TestPut_ActualSizeExceedsLimit(t *testing.T) {
	s := testStore(t)
	big := strings.NewReader(strings.Repeat("a", int(2<<20)))
	_, err := s.Put(context.Background(), PutRequest{
		Stream:       big,
		DeclaredName: "big.mp3",
		DeclaredMime: "audio/mpeg",
	})
	if apierr.KindOf(err) != apierr.KindTooLarge {
		t.Errorf("expected too-large, got %v", err)
	}
}

func TestPut_MimeExtensionMismatchRejected(t *testing.T) {
	s := testStore(t)
	_, err := s.Put(context.Background(), PutRequest{
		Stream:       strings.NewReader("x"),
		DeclaredName: "clip.mp4",
		DeclaredMime: "audio/mpeg",
	})
	if apierr.KindOf(err) != apierr.KindUnsupportedType {
		t.Errorf("expected unsupported-type for mime/extension mismatch, got %v", err)
	}
}

func TestPut_ContentSniffMismatchRejected(t *testing.T) {
	s := testStore(t)
	// An ID3-tagged MPEG audio header, declared as a subtitle file.
	id3 := "ID3\x03\x00\x00\x00\x00\x00\x00" + strings.Repeat("\x00", 64)
	_, err := s.Put(context.Background(), PutRequest{
		Stream:       strings.NewReader(id3),
		DeclaredName: "captions.srt",
		DeclaredMime: "text/plain",
	})
	if apierr.KindOf(err) != apierr.KindUnsupportedType {
		t.Errorf("expected unsupported-type for sniffed content mismatch, got %v", err)
	}
}

func TestPut_RateLimiterExhaustion(t *testing.T) {
	s := testStore(t)
	s.cfg.AdmissionWait = 20 * time.Millisecond
	limiter := rate.NewLimiter(0, 0) // never allows a token through

	_, err := s.Put(context.Background(), PutRequest{
		Stream:       strings.NewReader("x"),
		DeclaredName: "a.wav",
		DeclaredMime: "audio/wav",
		Limiter:      limiter,
	})
	if apierr.KindOf(err) != apierr.KindTooManyRequests {
		t.Errorf("expected too-many-requests, got %v", err)
	}
}

func TestRemove_NonexistentIsNotError(t *testing.T) {
	s := testStore(t)
	if err := s.Remove(context.Background(), "f_doesnotexist00000000000000000000"); err != nil {
		t.Errorf("expected no error removing nonexistent file, got %v", err)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in      string
		wantOK  bool
		wantOut string
	}{
		{"clip.mp4", true, "clip.mp4"},
		{"../../etc/passwd", true, "passwd"},
		{"...", false, ""},
		{"", false, ""},
	}
	for _, tt := range tests {
		out, ok := sanitizeName(tt.in)
		if ok != tt.wantOK {
			t.Errorf("sanitizeName(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if ok && out != tt.wantOut {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, out, tt.wantOut)
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

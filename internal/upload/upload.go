// Package upload implements the streaming, back-pressured upload store:
// large files are written to disk chunk by chunk under a concurrency
// semaphore and per-client rate limiter, deduplicated by content hash,
// and exposed through stable opaque file ids with a TTL lifecycle.
package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/vidsum/vidsum-api/internal/apierr"
	"github.com/vidsum/vidsum-api/internal/idgen"
	"github.com/vidsum/vidsum-api/internal/store"
)

// Config controls admission, streaming chunk size, and limits.
type Config struct {
	RootDir         string
	ChunkSize       int
	MaxFileSize     int64
	GraceBytes      int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	TTL             time.Duration
	Concurrency     int64
	AdmissionWait   time.Duration
}

// Store implements put/get/remove over a metadata.Store and the local
// filesystem.
type Store struct {
	cfg    Config
	meta   *store.Store
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// New constructs a Store and ensures its upload directory exists.
func New(cfg Config, meta *store.Store, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(cfg.RootDir, "uploads"), 0o755); err != nil {
		return nil, fmt.Errorf("upload: prepare uploads dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.RootDir, "staging-uploads"), 0o755); err != nil {
		return nil, fmt.Errorf("upload: prepare staging dir: %w", err)
	}
	return &Store{
		cfg:    cfg,
		meta:   meta,
		sem:    semaphore.NewWeighted(cfg.Concurrency),
		logger: logger,
	}, nil
}

// PutRequest carries the inputs to Put.
type PutRequest struct {
	Stream       io.Reader
	DeclaredName string
	DeclaredSize int64 // 0 means unknown
	DeclaredMime string
	Limiter      *rate.Limiter
}

// Put streams stream to disk, validating limits and type before and
// during the write, deduplicates by content hash, and persists a fresh
// record.
func (s *Store) Put(ctx context.Context, req PutRequest) (*store.UploadRecord, error) {
	safeName, ok := sanitizeName(req.DeclaredName)
	if !ok {
		return nil, apierr.New(apierr.KindInvalidArgument, "declared_name is empty after sanitization")
	}

	ext := filepath.Ext(safeName)
	ft := extensionFileType(ext)
	if ft == "" {
		return nil, apierr.New(apierr.KindUnsupportedType, fmt.Sprintf("unrecognized extension %q", ext))
	}

	if req.DeclaredSize > 0 && req.DeclaredSize > s.cfg.MaxFileSize+s.cfg.GraceBytes {
		return nil, apierr.New(apierr.KindTooLarge, "declared_size exceeds max_file_size plus grace")
	}

	header := make([]byte, sniffHeaderLen)
	n, err := io.ReadFull(req.Stream, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("upload: read header: %w", err)
	}
	header = header[:n]
	if sniffedFt := sniffFileType(header, ext); sniffedFt != "" && sniffedFt != ft {
		return nil, apierr.New(apierr.KindUnsupportedType, "file content does not match its extension")
	}
	stream := io.MultiReader(bytes.NewReader(header), req.Stream)

	if err := s.admit(ctx, req.Limiter); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	stagingPath, hash, size, err := s.stream(ctx, stream)
	if err != nil {
		return nil, err
	}

	mimeFt := mimeFileType(req.DeclaredMime, ext)
	if mimeFt != "" && mimeFt != ft {
		os.Remove(stagingPath)
		return nil, apierr.New(apierr.KindUnsupportedType, "declared mime type does not match extension")
	}

	now := time.Now()
	fileID := idgen.NewFileID()
	rec := &store.UploadRecord{
		FileID:       fileID,
		OriginalName: req.DeclaredName,
		Size:         size,
		MimeType:     req.DeclaredMime,
		FileType:     ft,
		FileHash:     hash,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.TTL),
	}

	err = s.meta.WriteTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.meta.FindUploadByHash(ctx, tx, hash, now)
		switch {
		case err == nil:
			rec.StoredPath = existing.StoredPath
		case errors.Is(err, store.ErrUploadNotFound):
			finalPath, err := s.commit(stagingPath, fileID, safeName)
			if err != nil {
				return err
			}
			rec.StoredPath = finalPath
		default:
			return err
		}
		return s.meta.InsertUpload(ctx, tx, rec)
	})
	if err != nil {
		os.Remove(stagingPath)
		return nil, err
	}
	if rec.StoredPath != stagingPath {
		os.Remove(stagingPath)
	}
	return rec, nil
}

// admit blocks (up to AdmissionWait) acquiring both the upload
// concurrency semaphore and the caller's rate-limit token. A fair
// timeout on either returns too-many-requests.
func (s *Store) admit(ctx context.Context, limiter *rate.Limiter) error {
	admitCtx, cancel := context.WithTimeout(ctx, s.cfg.AdmissionWait)
	defer cancel()

	if err := s.sem.Acquire(admitCtx, 1); err != nil {
		return apierr.Wrap(apierr.KindTooManyRequests, "upload concurrency exhausted", err)
	}
	if limiter != nil {
		if err := limiter.Wait(admitCtx); err != nil {
			s.sem.Release(1)
			return apierr.Wrap(apierr.KindTooManyRequests, "upload rate limit exceeded", err)
		}
	}
	return nil
}

// stream copies src into a fresh staging file in cfg.ChunkSize chunks,
// maintaining a running SHA-256 and byte count, enforcing the timeout
// and size limit as it goes. On any failure the partial staging file is
// removed before returning.
func (s *Store) stream(ctx context.Context, src io.Reader) (path string, hash string, size int64, err error) {
	f, err := os.CreateTemp(filepath.Join(s.cfg.RootDir, "staging-uploads"), "upload-*")
	if err != nil {
		return "", "", 0, fmt.Errorf("upload: create staging file: %w", err)
	}
	path = f.Name()
	defer f.Close()

	chunkSize := s.cfg.ChunkSize
	if chunkSize < 4096 {
		chunkSize = 4096
	}
	h := sha256.New()
	buf := make([]byte, chunkSize)
	var total int64

	for {
		n, rerr := readWithTimeout(ctx, src, buf, s.cfg.ReadTimeout)
		if n > 0 {
			total += int64(n)
			if total > s.cfg.MaxFileSize {
				os.Remove(path)
				return "", "", 0, apierr.New(apierr.KindTooLarge, "upload exceeded max_file_size")
			}
			h.Write(buf[:n])
			if werr := writeWithTimeout(ctx, f, buf[:n], s.cfg.WriteTimeout); werr != nil {
				os.Remove(path)
				return "", "", 0, werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			os.Remove(path)
			if errors.Is(rerr, context.DeadlineExceeded) || errors.Is(rerr, errChunkTimeout) {
				return "", "", 0, apierr.Wrap(apierr.KindTimeout, "upload read timed out", rerr)
			}
			return "", "", 0, fmt.Errorf("upload: read: %w", rerr)
		}
	}
	return path, hex.EncodeToString(h.Sum(nil)), total, nil
}

// commit moves a staging file to its permanent location under
// uploads/<file_id>/<safe_name>.
func (s *Store) commit(stagingPath, fileID, safeName string) (string, error) {
	dir := filepath.Join(s.cfg.RootDir, "uploads", fileID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("upload: prepare destination: %w", err)
	}
	final := filepath.Join(dir, safeName)
	if err := os.Rename(stagingPath, final); err != nil {
		return "", fmt.Errorf("upload: commit: %w", err)
	}
	return final, nil
}

// Get returns the live record for fileID, or apierr not-found if absent
// or lazily expired.
func (s *Store) Get(ctx context.Context, fileID string) (*store.UploadRecord, error) {
	rec, err := s.meta.GetUpload(ctx, fileID)
	if err != nil {
		if errors.Is(err, store.ErrUploadNotFound) {
			return nil, apierr.Wrap(apierr.KindNotFound, "file not found", err)
		}
		return nil, err
	}
	return rec, nil
}

// GetByHash returns the live record sharing fileHash as its content
// hash, or apierr not-found if none exists.
func (s *Store) GetByHash(ctx context.Context, fileHash string) (*store.UploadRecord, error) {
	var rec *store.UploadRecord
	err := s.meta.WriteTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = s.meta.FindUploadByHash(ctx, tx, fileHash, time.Now())
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrUploadNotFound) {
			return nil, apierr.Wrap(apierr.KindNotFound, "file not found", err)
		}
		return nil, err
	}
	return rec, nil
}

// Remove deletes the record for fileID and, if no other record
// references its stored path, removes the backing file too.
func (s *Store) Remove(ctx context.Context, fileID string) error {
	rec, err := s.meta.GetUpload(ctx, fileID)
	if err != nil {
		if errors.Is(err, store.ErrUploadNotFound) {
			return nil
		}
		return err
	}
	if err := s.meta.DeleteUpload(ctx, fileID); err != nil {
		return err
	}
	n, err := s.meta.CountUploadsByPath(ctx, rec.StoredPath)
	if err != nil {
		return err
	}
	if n == 0 {
		if err := os.Remove(rec.StoredPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("upload: remove stored file: %w", err)
		}
	}
	return nil
}

var errChunkTimeout = errors.New("upload: chunk deadline exceeded")

// readWithTimeout performs one Read, aborting if it takes longer than
// timeout or ctx is cancelled. io.Reader has no native deadline, so the
// read runs in a goroutine and is raced against the clock; on timeout
// the underlying reader is left to finish or fail asynchronously,
// matching the teacher's cooperative-cancellation style for exec-backed
// I/O rather than blocking indefinitely.
func readWithTimeout(ctx context.Context, r io.Reader, buf []byte, timeout time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := r.Read(buf)
		done <- result{n, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.n, res.err
	case <-timer.C:
		return 0, errChunkTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func writeWithTimeout(ctx context.Context, w io.Writer, p []byte, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		_, err := w.Write(p)
		done <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("upload: write: %w", err)
		}
		return nil
	case <-timer.C:
		return apierr.New(apierr.KindTimeout, "upload write timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

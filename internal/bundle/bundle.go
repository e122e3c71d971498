// Package bundle owns the on-disk artifact layout and the atomic
// "staged -> cached" transition: committed bundles live under
// cache/{url|local}/<cache_key>/..., in-flight work lives under
// tmp/<job_id>/... until promotion.
package bundle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Manifest is the bundle.json contract written at promotion time and
// read back by Validate and by the facade when serving a cache hit.
type Manifest struct {
	FormatVersion  int                 `json:"format_version"`
	ProfileVersion int                 `json:"profile_version"`
	CacheKey       string              `json:"cache_key"`
	SourceType     string              `json:"source_type"`
	SourceRef      string              `json:"source_ref"`
	Status         string              `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	SummaryText    string              `json:"summary_text"`
	Artifacts      map[string]Artifact `json:"artifacts"`
}

// Artifact records the path (relative to the bundle directory), size,
// and content hash of one emitted file.
type Artifact struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// CurrentFormatVersion is bumped whenever the manifest shape changes.
const CurrentFormatVersion = 1

const manifestFile = "bundle.json"

// Store manages the staging and committed bundle directories under root.
type Store struct {
	root string
}

// New returns a Store rooted at dir, which must contain (or be able to
// create) "cache" and "tmp" subdirectories.
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) stagingDir(jobID string) string {
	return filepath.Join(s.root, "tmp", jobID)
}

func (s *Store) finalDir(sourceType, cacheKey string) string {
	return filepath.Join(s.root, "cache", sourceType, cacheKey)
}

// Stage creates (idempotently) and returns the staging directory for a
// job.
func (s *Store) Stage(jobID string) (string, error) {
	dir := s.stagingDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("bundle: stage: %w", err)
	}
	return dir, nil
}

// Promote writes bundle.json into the staging directory (fsynced),
// recomputes artifact sizes/hashes for every file the manifest lists,
// then renames the staging directory into its final bundle path. If a
// bundle already exists at that path (a refresh), it is removed first
// so the rename lands cleanly.
func (s *Store) Promote(ctx context.Context, jobID, cacheKey, sourceType string, manifest *Manifest) (string, error) {
	staging := s.stagingDir(jobID)

	for name, art := range manifest.Artifacts {
		full := filepath.Join(staging, art.Path)
		size, sum, err := hashFile(full)
		if err != nil {
			return "", fmt.Errorf("bundle: hash artifact %s: %w", name, err)
		}
		art.Size = size
		art.SHA256 = sum
		manifest.Artifacts[name] = art
	}
	manifest.FormatVersion = CurrentFormatVersion
	manifest.CacheKey = cacheKey

	if err := writeManifest(staging, manifest); err != nil {
		return "", err
	}

	final := s.finalDir(sourceType, cacheKey)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", fmt.Errorf("bundle: promote: prepare parent: %w", err)
	}
	if _, err := os.Stat(final); err == nil {
		if err := os.RemoveAll(final); err != nil {
			return "", fmt.Errorf("bundle: promote: remove stale bundle: %w", err)
		}
	}
	if err := os.Rename(staging, final); err != nil {
		return "", fmt.Errorf("bundle: promote: rename: %w", err)
	}
	return final, nil
}

func writeManifest(dir string, m *Manifest) error {
	f, err := os.Create(filepath.Join(dir, manifestFile))
	if err != nil {
		return fmt.Errorf("bundle: write manifest: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("bundle: encode manifest: %w", err)
	}
	return f.Sync()
}

// Discard removes the staging directory recursively. It does not treat
// an already-gone directory as an error.
func (s *Store) Discard(jobID string) error {
	if err := os.RemoveAll(s.stagingDir(jobID)); err != nil {
		return fmt.Errorf("bundle: discard: %w", err)
	}
	return nil
}

// Validate reports whether the committed bundle at (sourceType,
// cacheKey) is intact: the directory exists, bundle.json parses, its
// profile_version matches currentProfileVersion, summary_text is
// non-empty, and every listed artifact exists.
func (s *Store) Validate(sourceType, cacheKey string, currentProfileVersion int) bool {
	dir := s.finalDir(sourceType, cacheKey)
	m, err := s.ReadManifest(sourceType, cacheKey)
	if err != nil {
		return false
	}
	if m.ProfileVersion != currentProfileVersion || m.SummaryText == "" {
		return false
	}
	for _, art := range m.Artifacts {
		if _, err := os.Stat(filepath.Join(dir, art.Path)); err != nil {
			return false
		}
	}
	return true
}

// ReadManifest loads and parses bundle.json from the committed bundle
// path.
func (s *Store) ReadManifest(sourceType, cacheKey string) (*Manifest, error) {
	dir := s.finalDir(sourceType, cacheKey)
	f, err := os.Open(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("bundle: read manifest: %w", err)
	}
	defer f.Close()

	var m Manifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("bundle: decode manifest: %w", err)
	}
	return &m, nil
}

// FinalPath returns the committed bundle directory for (sourceType,
// cacheKey), used by callers that need to remove it on delete.
func (s *Store) FinalPath(sourceType, cacheKey string) string {
	return s.finalDir(sourceType, cacheKey)
}

// Size returns the total byte size of a committed bundle's artifacts, as
// recorded in its manifest, without re-stat'ing the filesystem. Used by
// cache GC to enforce a byte budget across all committed bundles.
func (s *Store) Size(sourceType, cacheKey string) (int64, error) {
	m, err := s.ReadManifest(sourceType, cacheKey)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, art := range m.Artifacts {
		total += art.Size
	}
	return total, nil
}

// Remove deletes the committed bundle directory for (sourceType,
// cacheKey), if present.
func (s *Store) Remove(sourceType, cacheKey string) error {
	if err := os.RemoveAll(s.finalDir(sourceType, cacheKey)); err != nil {
		return fmt.Errorf("bundle: remove: %w", err)
	}
	return nil
}

var errNotRegular = errors.New("bundle: artifact is not a regular file")

func hashFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, "", err
	}
	if !info.Mode().IsRegular() {
		return 0, "", errNotRegular
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, "", err
	}
	return info.Size(), hex.EncodeToString(h.Sum(nil)), nil
}

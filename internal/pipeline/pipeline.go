// Package pipeline implements the fixed two-branch processing pipeline:
// a URL branch (subtitle-first, falling back to download/extract/
// transcribe) and a local branch (dispatching on an uploaded file's
// declared type). Both branches are built from a small set of typed
// stages sharing one Context, per the "polymorphism over stages"
// design: each branch is a fixed slice of Stage functions run in order
// rather than an inheritance hierarchy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vidsum/vidsum-api/internal/apierr"
	"github.com/vidsum/vidsum-api/internal/asr"
	"github.com/vidsum/vidsum-api/internal/bundle"
	"github.com/vidsum/vidsum-api/internal/fetch"
	"github.com/vidsum/vidsum-api/internal/store"
	"github.com/vidsum/vidsum-api/internal/subtitle"
	"github.com/vidsum/vidsum-api/internal/summarize"
	"github.com/vidsum/vidsum-api/internal/upload"
)

// ErrCancelled marks a job aborted by an observed cancellation rather
// than a stage failure.
var ErrCancelled = errors.New("pipeline: cancelled")

// MediaProcessor is the subset of *media.FFmpegProcessor the pipeline's
// transcode stages need. Declared as an interface so tests can exercise
// branch logic without shelling out to a real ffmpeg binary.
type MediaProcessor interface {
	ExtractAudio(ctx context.Context, src, dst string) error
	Duration(ctx context.Context, path string) (time.Duration, error)
	AnalyzeLoudness(ctx context.Context, path string) (float64, error)
}

// Context carries everything a stage needs and everything a stage
// produces. Stages are pure functions from *Context to error, mutating
// the context's fields and leaving observable side effects confined to
// the staging directory and external adapter calls.
type Context struct {
	JobID    string
	CacheKey string

	SourceType store.SourceType
	SourceRef  string

	StagingDir string

	Duration     time.Duration
	DurationKnown bool
	SourceName   string

	VideoPath    string
	AudioPath    string
	SubtitlePath string

	Segments []subtitle.Segment
	Coverage float64

	Transcript string
	IsSilent   bool

	SummaryText string

	Manifest *bundle.Manifest

	// localFileType and localStoredPath are populated by the local
	// branch's resolve stage from the matched upload record.
	localFileType   store.FileType
	localStoredPath string
}

// Stage is one step of a branch. It mutates ctx in place.
type Stage func(ctx context.Context, pc *Context) error

// Config bundles the tunables an Executor needs from the service
// configuration.
type Config struct {
	CoverageMin       float64
	RMSMax            float64
	TokensPerMinMin   float64
	ChunkSizeChars    int
	ChunkOverlapChars int
	SummaryFloorChars int
	VideoMaxSize      int64
	SubtitleMaxSize   int64
	ProfileVersion    int
}

// Executor runs the URL or local branch for a job and promotes the
// resulting bundle.
type Executor struct {
	cfg Config

	bundles *bundle.Store
	uploads *upload.Store

	prober     fetch.MetadataProber
	videos     fetch.VideoDownloader
	subtitles  fetch.SubtitleDownloader
	transcriber asr.Transcriber
	summarizer  summarize.Summarizer
	media       MediaProcessor

	transcodeSem  *semaphore.Weighted
	transcribeSem *semaphore.Weighted
}

// NewExecutor constructs an Executor from its wired dependencies.
func NewExecutor(
	cfg Config,
	bundles *bundle.Store,
	uploads *upload.Store,
	prober fetch.MetadataProber,
	videos fetch.VideoDownloader,
	subs fetch.SubtitleDownloader,
	transcriber asr.Transcriber,
	summarizer summarize.Summarizer,
	mediaProc MediaProcessor,
	transcodeSem, transcribeSem *semaphore.Weighted,
) *Executor {
	return &Executor{
		cfg:           cfg,
		bundles:       bundles,
		uploads:       uploads,
		prober:        prober,
		videos:        videos,
		subtitles:     subs,
		transcriber:   transcriber,
		summarizer:    summarizer,
		media:         mediaProc,
		transcodeSem:  transcodeSem,
		transcribeSem: transcribeSem,
	}
}

// Run executes the branch matching entry.SourceType and returns the
// promoted bundle path and summary text on success. Callers are
// expected to have already transitioned the entry/job to running.
func (e *Executor) Run(ctx context.Context, jobID, cacheKey string, entry *store.CacheEntry) (bundlePath, summaryText, sourceName string, err error) {
	stagingDir, err := e.bundles.Stage(jobID)
	if err != nil {
		return "", "", "", fmt.Errorf("pipeline: stage dir: %w", err)
	}

	pc := &Context{
		JobID:      jobID,
		CacheKey:   cacheKey,
		SourceType: entry.SourceType,
		SourceRef:  entry.SourceRef,
		StagingDir: stagingDir,
		Manifest: &bundle.Manifest{
			ProfileVersion: e.cfg.ProfileVersion,
			CacheKey:       cacheKey,
			SourceType:     string(entry.SourceType),
			SourceRef:      entry.SourceRef,
			Artifacts:      map[string]bundle.Artifact{},
		},
	}

	var branch []Stage
	switch entry.SourceType {
	case store.SourceTypeURL:
		branch = e.urlBranch()
	case store.SourceTypeLocal:
		branch = e.localBranch()
	default:
		return "", "", "", apierr.New(apierr.KindInvalidArgument, fmt.Sprintf("unknown source_type %q", entry.SourceType))
	}

	for _, stage := range branch {
		if err := ctx.Err(); err != nil {
			_ = e.bundles.Discard(jobID)
			return "", "", "", fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		if err := stage(ctx, pc); err != nil {
			_ = e.bundles.Discard(jobID)
			if errors.Is(err, context.Canceled) {
				return "", "", "", fmt.Errorf("%w: %v", ErrCancelled, err)
			}
			return "", "", "", err
		}
	}

	bundlePath, err = e.bundles.Promote(ctx, jobID, cacheKey, string(entry.SourceType), pc.Manifest)
	if err != nil {
		return "", "", "", fmt.Errorf("pipeline: promote: %w", err)
	}
	return bundlePath, pc.SummaryText, pc.SourceName, nil
}

// validCoverage applies the duration-unknown-is-valid tie-break.
func validCoverage(segs []subtitle.Segment, durationKnown bool, duration time.Duration, coverageMin float64) (float64, bool) {
	if !durationKnown || duration <= 0 {
		return 1, true
	}
	cov := subtitle.Coverage(segs, duration.Milliseconds())
	return cov, cov >= coverageMin
}

package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/vidsum/vidsum-api/internal/apierr"
	"github.com/vidsum/vidsum-api/internal/store"
)

// Local source_ref encoding: "file_id:<id>" or "file_hash:<hash>". The
// facade, which requires exactly one of file_id/file_hash, always emits
// the "file_hash:" form; both forms are accepted here.
const (
	localRefFileIDPrefix   = "file_id:"
	localRefFileHashPrefix = "file_hash:"
)

// LocalRefForFileID encodes a resolved-by-id local source reference.
func LocalRefForFileID(fileID string) string {
	return localRefFileIDPrefix + fileID
}

// LocalRefForFileHash encodes a resolved-by-hash local source reference.
func LocalRefForFileHash(fileHash string) string {
	return localRefFileHashPrefix + fileHash
}

// localBranch dispatches on the declared file_type of the resolved
// upload: subtitle, audio, or video.
func (e *Executor) localBranch() []Stage {
	return []Stage{
		e.resolveLocalSourceStage,
		e.dispatchLocalStage,
		e.summarizeStage,
		e.emitBundleStage,
	}
}

func (e *Executor) resolveLocalSourceStage(ctx context.Context, pc *Context) error {
	rec, err := e.resolveUploadRecord(ctx, pc.SourceRef)
	if err != nil {
		return err
	}
	pc.SourceName = rec.OriginalName
	pc.localFileType = rec.FileType
	pc.localStoredPath = rec.StoredPath
	return nil
}

func (e *Executor) resolveUploadRecord(ctx context.Context, sourceRef string) (*store.UploadRecord, error) {
	switch {
	case strings.HasPrefix(sourceRef, localRefFileIDPrefix):
		return e.uploads.Get(ctx, strings.TrimPrefix(sourceRef, localRefFileIDPrefix))
	case strings.HasPrefix(sourceRef, localRefFileHashPrefix):
		return e.uploads.GetByHash(ctx, strings.TrimPrefix(sourceRef, localRefFileHashPrefix))
	default:
		return nil, apierr.New(apierr.KindInvalidArgument, "local source_ref must resolve by file_id or file_hash")
	}
}

func (e *Executor) dispatchLocalStage(ctx context.Context, pc *Context) error {
	switch pc.localFileType {
	case store.FileTypeSubtitle:
		return e.parseLocalSubtitleStage(ctx, pc)
	case store.FileTypeAudio:
		pc.AudioPath = pc.localStoredPath
		return e.transcribeLocalStage(ctx, pc)
	case store.FileTypeVideo:
		pc.VideoPath = pc.localStoredPath
		return e.extractAndTranscribe(ctx, pc)
	default:
		return apierr.New(apierr.KindUnsupportedType, fmt.Sprintf("unsupported local file_type %q", pc.localFileType))
	}
}

func (e *Executor) parseLocalSubtitleStage(ctx context.Context, pc *Context) error {
	data, err := readFile(pc.localStoredPath)
	if err != nil {
		return fmt.Errorf("pipeline: read local subtitle: %w", err)
	}
	segs, err := parseSubtitle(data)
	if err != nil {
		return err
	}

	cov, valid := validCoverage(segs, pc.DurationKnown, pc.Duration, e.cfg.CoverageMin)
	pc.Coverage = cov
	if !valid {
		return apierr.New(apierr.KindInvalidArgument, "subtitle coverage below coverage_min")
	}

	pc.SubtitlePath = pc.localStoredPath
	pc.Segments = segs
	pc.Transcript = joinSegmentText(segs)
	return nil
}

func (e *Executor) transcribeLocalStage(ctx context.Context, pc *Context) error {
	if err := e.transcribeSem.Acquire(ctx, 1); err != nil {
		return apierr.Wrap(apierr.KindCancelled, "transcribe admission cancelled", err)
	}
	transcript, err := e.transcriber.Transcribe(ctx, pc.AudioPath)
	e.transcribeSem.Release(1)
	if err != nil {
		return err
	}
	pc.Transcript = transcript.Text

	rms, err := e.media.AnalyzeLoudness(ctx, pc.AudioPath)
	if err != nil {
		return err
	}
	if !pc.DurationKnown {
		if d, derr := e.media.Duration(ctx, pc.AudioPath); derr == nil && d > 0 {
			pc.Duration = d
			pc.DurationKnown = true
		}
	}
	pc.IsSilent = isSilent(rms, pc.Transcript, pc.Duration, e.cfg.RMSMax, e.cfg.TokensPerMinMin)
	return nil
}

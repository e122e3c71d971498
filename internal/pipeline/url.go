package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/vidsum/vidsum-api/internal/apierr"
	"github.com/vidsum/vidsum-api/internal/bundle"
	"github.com/vidsum/vidsum-api/internal/subtitle"
	"github.com/vidsum/vidsum-api/internal/summarize"
)

// urlBranch is the subtitle-first, fall-back-to-transcription branch
// for source_type = url.
func (e *Executor) urlBranch() []Stage {
	return []Stage{
		e.fetchMetadataStage,
		e.attemptSubtitlesStage,
		e.transcribeIfNeededStage,
		e.summarizeStage,
		e.emitBundleStage,
	}
}

// fetchMetadataStage asks the downloader for duration, display name,
// and subtitle availability.
func (e *Executor) fetchMetadataStage(ctx context.Context, pc *Context) error {
	meta, err := e.prober.Probe(ctx, pc.SourceRef)
	if err != nil {
		return err
	}
	pc.Duration = meta.Duration
	pc.DurationKnown = meta.Duration > 0
	pc.SourceName = meta.SourceName
	return nil
}

// attemptSubtitlesStage downloads and parses subtitles if available,
// validating coverage against coverage_min with the duration-unknown
// tie-break.
func (e *Executor) attemptSubtitlesStage(ctx context.Context, pc *Context) error {
	dst := filepath.Join(pc.StagingDir, "subtitle.vtt")
	found, err := e.subtitles.Download(ctx, pc.SourceRef, dst, e.cfg.SubtitleMaxSize)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	data, err := readFile(dst)
	if err != nil {
		return fmt.Errorf("pipeline: read downloaded subtitle: %w", err)
	}
	segs, err := subtitle.Parse(data)
	if err != nil {
		// An unparseable advertised subtitle is not fatal: fall through
		// to download/extract/transcribe as if none were offered.
		return nil
	}

	cov, valid := validCoverage(segs, pc.DurationKnown, pc.Duration, e.cfg.CoverageMin)
	pc.Coverage = cov
	if !valid {
		return nil
	}

	pc.SubtitlePath = dst
	pc.Segments = segs
	pc.Transcript = joinSegmentText(segs)
	return nil
}

// transcribeIfNeededStage runs download -> extract -> transcribe only
// when no valid subtitle track was found in the previous stage.
func (e *Executor) transcribeIfNeededStage(ctx context.Context, pc *Context) error {
	if pc.SubtitlePath != "" {
		return nil
	}

	videoPath := filepath.Join(pc.StagingDir, "video.mp4")
	if err := e.videos.Download(ctx, pc.SourceRef, videoPath, e.cfg.VideoMaxSize); err != nil {
		return err
	}
	pc.VideoPath = videoPath

	return e.extractAndTranscribe(ctx, pc)
}

// extractAndTranscribe extracts audio under transcode_limit, then
// transcribes under transcribe_limit, classifying silence per the
// rms_max / tokens_per_min_min rule.
func (e *Executor) extractAndTranscribe(ctx context.Context, pc *Context) error {
	if err := e.transcodeSem.Acquire(ctx, 1); err != nil {
		return apierr.Wrap(apierr.KindCancelled, "transcode admission cancelled", err)
	}
	audioPath := filepath.Join(pc.StagingDir, "audio.wav")
	err := e.media.ExtractAudio(ctx, pc.VideoPath, audioPath)
	e.transcodeSem.Release(1)
	if err != nil {
		return err
	}
	pc.AudioPath = audioPath

	rms, err := e.media.AnalyzeLoudness(ctx, audioPath)
	if err != nil {
		return err
	}
	if !pc.DurationKnown {
		if d, derr := e.media.Duration(ctx, audioPath); derr == nil && d > 0 {
			pc.Duration = d
			pc.DurationKnown = true
		}
	}

	if err := e.transcribeSem.Acquire(ctx, 1); err != nil {
		return apierr.Wrap(apierr.KindCancelled, "transcribe admission cancelled", err)
	}
	transcript, err := e.transcriber.Transcribe(ctx, audioPath)
	e.transcribeSem.Release(1)
	if err != nil {
		return err
	}
	pc.Transcript = transcript.Text

	pc.IsSilent = isSilent(rms, pc.Transcript, pc.Duration, e.cfg.RMSMax, e.cfg.TokensPerMinMin)
	return nil
}

// isSilent applies the "RMS under rms_max OR tokens-per-duration under
// tokens_per_min_min" silence rule.
func isSilent(rms float64, transcript string, duration time.Duration, rmsMax, tokensPerMinMin float64) bool {
	if rms < rmsMax {
		return true
	}
	minutes := duration.Minutes()
	if minutes <= 0 {
		return false
	}
	tokens := float64(len(strings.Fields(transcript)))
	return tokens/minutes < tokensPerMinMin
}

// summarizeStage runs the chunk/merge/floor-extension algorithm and
// records an empty-transcript marker for silent sources.
func (e *Executor) summarizeStage(ctx context.Context, pc *Context) error {
	transcript := pc.Transcript
	if pc.IsSilent && strings.TrimSpace(transcript) == "" {
		transcript = silentTranscriptMarker
	}

	opts := summarize.Options{
		ChunkSizeChars:    e.cfg.ChunkSizeChars,
		ChunkOverlapChars: e.cfg.ChunkOverlapChars,
		FloorChars:        e.cfg.SummaryFloorChars,
	}
	summary, err := summarize.Summarize(ctx, e.summarizer, transcript, opts)
	if err != nil {
		return err
	}
	pc.SummaryText = summary
	return nil
}

// silentTranscriptMarker distinguishes a source that was processed
// but yielded no speech from one whose transcript is simply short.
const silentTranscriptMarker = "[no speech detected]"

// emitBundleStage writes the manifest artifacts the promote step will
// hash: summary, ASR/transcript data, and whichever of
// subtitle/video/audio were produced.
func (e *Executor) emitBundleStage(ctx context.Context, pc *Context) error {
	pc.Manifest.SummaryText = pc.SummaryText

	if err := writeJSONFile(filepath.Join(pc.StagingDir, "summary.json"), map[string]any{
		"summary_text": pc.SummaryText,
		"is_silent":    pc.IsSilent,
	}); err != nil {
		return err
	}
	pc.Manifest.Artifacts["summary"] = bundle.Artifact{Path: "summary.json"}

	if pc.Transcript != "" {
		if err := writeJSONFile(filepath.Join(pc.StagingDir, "asr.json"), map[string]any{
			"text":     pc.Transcript,
			"segments": pc.Segments,
		}); err != nil {
			return err
		}
		pc.Manifest.Artifacts["asr"] = bundle.Artifact{Path: "asr.json"}
	}
	if pc.SubtitlePath != "" {
		pc.Manifest.Artifacts["subtitle"] = bundle.Artifact{Path: filepath.Base(pc.SubtitlePath)}
	}
	if pc.VideoPath != "" {
		pc.Manifest.Artifacts["video"] = bundle.Artifact{Path: filepath.Base(pc.VideoPath)}
	}
	if pc.AudioPath != "" {
		pc.Manifest.Artifacts["audio"] = bundle.Artifact{Path: filepath.Base(pc.AudioPath)}
	}
	return nil
}

func joinSegmentText(segs []subtitle.Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

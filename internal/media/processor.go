// Package media wraps ffmpeg/ffprobe for the two operations the pipeline
// needs from raw audio/video: extracting a mono PCM wav for
// transcription, and probing duration plus loudness to detect silent
// source material.
package media

import (
	"context"
	"time"
)

// Processor defines the media operations the pipeline depends on.
// Implementations should shell out to ffmpeg/ffprobe.
type Processor interface {
	// ExtractAudio extracts a single-channel 16kHz PCM wav from a video
	// or container file at src, writing it to dst.
	ExtractAudio(ctx context.Context, src, dst string) error

	// Duration returns the media duration of the file at path.
	Duration(ctx context.Context, path string) (time.Duration, error)

	// AnalyzeLoudness returns the mean RMS amplitude (0..1 scale, not
	// dB) of the audio file at path, used for silence detection.
	AnalyzeLoudness(ctx context.Context, path string) (float64, error)
}

// Package asr adapts the pipeline's transcription step to a concrete speech
// recognition backend, either a remote HTTP service or a local command-line
// tool.
package asr

import (
	"context"
)

// Transcript is the result of transcribing an audio file.
type Transcript struct {
	Text string `json:"text"`
}

// Transcriber transcribes a mono 16kHz wav file at wavPath into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (Transcript, error)
}

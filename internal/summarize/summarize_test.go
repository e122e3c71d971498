package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type stubSummarizer struct {
	calls   []string
	fn      func(text string) (string, error)
	lastErr error
}

func (s *stubSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	s.calls = append(s.calls, text)
	if s.fn != nil {
		return s.fn(text)
	}
	return "summary:" + text, s.lastErr
}

func TestChunk_ShortTextIsSingleChunk(t *testing.T) {
	chunks := Chunk("short text", 100, 10)
	if len(chunks) != 1 || chunks[0] != "short text" {
		t.Fatalf("expected single unchanged chunk, got %v", chunks)
	}
}

func TestChunk_SplitsWithOverlap(t *testing.T) {
	text := strings.Repeat("a", 25)
	chunks := Chunk(text, 10, 3)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len([]rune(c)) > 10 {
			t.Errorf("chunk exceeds max size: %d runes", len([]rune(c)))
		}
	}
	// reconstructing should cover the whole text (overlap means some chars repeat)
	if !strings.Contains(chunks[len(chunks)-1], "a") {
		t.Error("expected final chunk to reach the end of text")
	}
}

func TestSummarize_SingleChunkCallsOnce(t *testing.T) {
	s := &stubSummarizer{}
	got, err := Summarize(context.Background(), s, "a short transcript", Options{ChunkSizeChars: 1000, ChunkOverlapChars: 100, FloorChars: 0})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(s.calls) != 1 {
		t.Fatalf("expected exactly 1 call, got %d", len(s.calls))
	}
	if got != "summary:a short transcript" {
		t.Errorf("unexpected summary: %q", got)
	}
}

func TestSummarize_LongTranscriptChunksAndMerges(t *testing.T) {
	s := &stubSummarizer{}
	transcript := strings.Repeat("word ", 50)
	_, err := Summarize(context.Background(), s, transcript, Options{ChunkSizeChars: 20, ChunkOverlapChars: 5, FloorChars: 0})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	// one call per chunk, plus one merge call
	if len(s.calls) < 3 {
		t.Fatalf("expected chunk calls plus a merge call, got %d calls", len(s.calls))
	}
}

func TestSummarize_FloorExtensionFallsBackToRawTranscript(t *testing.T) {
	transcript := strings.Repeat("word ", 50)
	calls := 0
	s := &stubSummarizer{fn: func(text string) (string, error) {
		calls++
		if text == transcript {
			return strings.Repeat("x", 100), nil
		}
		return "short", nil
	}}
	got, err := Summarize(context.Background(), s, transcript, Options{ChunkSizeChars: 20, ChunkOverlapChars: 5, FloorChars: 50})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if got != strings.Repeat("x", 100) {
		t.Errorf("expected floor-extension fallback result, got %q", got)
	}
}

func TestSummarize_PropagatesUpstreamError(t *testing.T) {
	s := &stubSummarizer{lastErr: errors.New("upstream down")}
	_, err := Summarize(context.Background(), s, "text", Options{ChunkSizeChars: 1000})
	if err == nil {
		t.Fatal("expected error propagated from summarizer")
	}
}

func TestJoinSummaries(t *testing.T) {
	got := joinSummaries([]string{"a", "b", "c"})
	want := fmt.Sprintf("a\n\nb\n\nc")
	if got != want {
		t.Errorf("unexpected join: %q", got)
	}
}

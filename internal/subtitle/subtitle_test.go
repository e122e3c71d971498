package subtitle

import (
	"errors"
	"testing"
)

const sampleSRT = `1
00:00:00,000 --> 00:00:02,000
Hello there.

2
00:00:02,000 --> 00:00:04,500
General Kenobi.
`

const sampleVTT = `WEBVTT

00:00:00.000 --> 00:00:02.000
Hello there.

00:00:02.000 --> 00:00:04.500
<c>General Kenobi.</c>
`

func TestParse_SRT(t *testing.T) {
	segs, err := Parse(sampleSRT)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].Text != "Hello there." {
		t.Errorf("unexpected text: %q", segs[0].Text)
	}
	if segs[1].EndMS != 4500 {
		t.Errorf("expected end 4500ms, got %d", segs[1].EndMS)
	}
}

func TestParse_VTT(t *testing.T) {
	segs, err := Parse(sampleVTT)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[1].Text != "General Kenobi." {
		t.Errorf("expected tags stripped, got %q", segs[1].Text)
	}
}

func TestParse_ASS(t *testing.T) {
	text := `[Script Info]
Title: test

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
Dialogue: 0,0:00:00.00,0:00:02.50,Default,,0,0,0,,{\i1}Hello{\i0} world
`
	segs, err := Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].Text != "Hello world" {
		t.Errorf("expected override tags stripped, got %q", segs[0].Text)
	}
	if segs[0].EndMS != 2500 {
		t.Errorf("expected end 2500ms, got %d", segs[0].EndMS)
	}
}

func TestDetect_Unsupported(t *testing.T) {
	_, err := Detect("just some plain text\nwith no cues\n")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestNormalize_MergesDuplicateConsecutiveText(t *testing.T) {
	segs := normalize([]Segment{
		{StartMS: 0, EndMS: 1000, Text: "same"},
		{StartMS: 1000, EndMS: 2000, Text: "same"},
		{StartMS: 2000, EndMS: 3000, Text: "different"},
	})
	if len(segs) != 2 {
		t.Fatalf("expected duplicate merge down to 2 segments, got %d", len(segs))
	}
	if segs[0].EndMS != 2000 {
		t.Errorf("expected merged segment to extend to 2000ms, got %d", segs[0].EndMS)
	}
}

func TestCoverage(t *testing.T) {
	segs := []Segment{
		{StartMS: 0, EndMS: 4000},
		{StartMS: 5000, EndMS: 9000},
	}
	// summed duration = 8000ms, not the 9000ms first-to-last span
	got := Coverage(segs, 10000)
	if got != 0.8 {
		t.Errorf("expected coverage 0.8 (summed duration), got %v", got)
	}
}

func TestCoverage_UnknownDurationIsValid(t *testing.T) {
	segs := []Segment{{StartMS: 0, EndMS: 1000}}
	if got := Coverage(segs, 0); got != 1 {
		t.Errorf("expected coverage 1 (optimistic) for unknown duration, got %v", got)
	}
}

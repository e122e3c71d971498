// Package subtitle parses SRT, WebVTT, and (Advanced) SubStation Alpha
// subtitle text into a normalized segment sequence. No library in the
// reference corpus wraps subtitle parsing, so this is hand-rolled
// against the narrow contract the pipeline needs: ordered, non-
// overlapping segments with monotone timestamps.
package subtitle

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Segment is one parsed subtitle cue.
type Segment struct {
	Text           string
	StartMS        int64
	EndMS          int64
	TranslatedText string
}

// ErrUnsupportedFormat is returned when no recognizable header or cue
// pattern is found at the start of the input (Detect looks only at the
// first five lines after leading whitespace is trimmed).
var ErrUnsupportedFormat = errors.New("subtitle: unsupported format")

// ErrMalformed is returned when parsing fails beyond best-effort
// recovery; any segments recovered before the failure are still
// returned alongside the error.
var ErrMalformed = errors.New("subtitle: malformed input")

// Format identifies the detected subtitle syntax.
type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
	FormatASS Format = "ass"
)

// Detect inspects the first non-blank lines of text to guess its
// format.
func Detect(text string) (Format, error) {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed, "WEBVTT"):
		return FormatVTT, nil
	case strings.HasPrefix(trimmed, "[Script Info]"):
		return FormatASS, nil
	case srtCueHeader.MatchString(firstLines(trimmed, 5)):
		return FormatSRT, nil
	case vttCueHeader.MatchString(firstLines(trimmed, 5)):
		return FormatVTT, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// Parse detects the format and parses text into an ordered,
// non-overlapping, monotone segment sequence with duplicate consecutive
// texts merged.
func Parse(text string) ([]Segment, error) {
	format, err := Detect(text)
	if err != nil {
		return nil, err
	}
	return ParseFormat(text, format)
}

// ParseFormat parses text under an explicitly known format, skipping
// auto-detection.
func ParseFormat(text string, format Format) ([]Segment, error) {
	var segs []Segment
	var err error
	switch format {
	case FormatSRT:
		segs, err = parseSRT(text)
	case FormatVTT:
		segs, err = parseVTT(text)
	case FormatASS:
		segs, err = parseASS(text)
	default:
		return nil, ErrUnsupportedFormat
	}
	return normalize(segs), err
}

// normalize enforces monotone timestamps, drops overlap with the
// previous segment, and merges duplicate consecutive texts.
func normalize(segs []Segment) []Segment {
	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		if s.EndMS <= s.StartMS {
			continue
		}
		if len(out) > 0 {
			prev := &out[len(out)-1]
			if s.StartMS < prev.EndMS {
				s.StartMS = prev.EndMS
			}
			if s.StartMS >= s.EndMS {
				continue
			}
			if strings.TrimSpace(s.Text) == strings.TrimSpace(prev.Text) {
				prev.EndMS = s.EndMS
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// TotalDurationMS returns the sum of each segment's (end - start),
// which is the "coverage" numerator — never the first-to-last span.
func TotalDurationMS(segs []Segment) int64 {
	var total int64
	for _, s := range segs {
		total += s.EndMS - s.StartMS
	}
	return total
}

// Coverage computes sum(segment duration) / durationMS. Per the
// duration-unknown edge case, callers should treat a zero or negative
// durationMS as "valid" rather than calling Coverage.
func Coverage(segs []Segment, durationMS int64) float64 {
	if durationMS <= 0 {
		return 1
	}
	return float64(TotalDurationMS(segs)) / float64(durationMS)
}

var (
	srtTimeLine = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2})[,.](\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2})[,.](\d{3})`)
	srtCueHeader = regexp.MustCompile(`(?m)^\d+\s*$`)
	vttTimeLine  = regexp.MustCompile(`^(\d{2}):?(\d{2}):(\d{2})\.(\d{3})\s*-->\s*(\d{2}):?(\d{2}):(\d{2})\.(\d{3})`)
	vttCueHeader = regexp.MustCompile(`-->`)
)

func parseSRT(text string) ([]Segment, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var segs []Segment
	var pending *Segment
	var textLines []string

	flush := func() {
		if pending != nil {
			pending.Text = strings.TrimSpace(strings.Join(textLines, "\n"))
			segs = append(segs, *pending)
		}
		pending = nil
		textLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if m := srtTimeLine.FindStringSubmatch(line); m != nil {
			flush()
			start, err := srtTimestamp(m[1:5])
			if err != nil {
				return segs, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			end, err := srtTimestamp(m[5:9])
			if err != nil {
				return segs, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			pending = &Segment{StartMS: start, EndMS: end}
			continue
		}
		if srtCueHeader.MatchString(strings.TrimSpace(line)) && pending == nil && len(textLines) == 0 {
			continue // cue index line
		}
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if pending != nil {
			textLines = append(textLines, line)
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return segs, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(segs) == 0 {
		return segs, ErrMalformed
	}
	return segs, nil
}

func srtTimestamp(parts []string) (int64, error) {
	h, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, err
	}
	m, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, err
	}
	sec, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, err
	}
	ms, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return 0, err
	}
	return ((h*60+m)*60+sec)*1000 + ms, nil
}

func parseVTT(text string) ([]Segment, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var segs []Segment
	var pending *Segment
	var textLines []string
	sawHeader := false

	flush := func() {
		if pending != nil {
			pending.Text = strings.TrimSpace(strings.Join(textLines, "\n"))
			segs = append(segs, *pending)
		}
		pending = nil
		textLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "WEBVTT") {
			sawHeader = true
			continue
		}
		if m := vttTimeLine.FindStringSubmatch(line); m != nil {
			flush()
			start, err := vttTimestamp(m[1:5])
			if err != nil {
				return segs, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			end, err := vttTimestamp(m[5:9])
			if err != nil {
				return segs, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			pending = &Segment{StartMS: start, EndMS: end}
			continue
		}
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if pending != nil {
			textLines = append(textLines, stripVTTTags(line))
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return segs, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !sawHeader && len(segs) == 0 {
		return segs, ErrUnsupportedFormat
	}
	if len(segs) == 0 {
		return segs, ErrMalformed
	}
	return segs, nil
}

var vttTagPattern = regexp.MustCompile(`<[^>]+>`)

func stripVTTTags(line string) string {
	return vttTagPattern.ReplaceAllString(line, "")
}

func vttTimestamp(parts []string) (int64, error) {
	h, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, err
	}
	m, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, err
	}
	sec, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, err
	}
	ms, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return 0, err
	}
	return ((h*60+m)*60+sec)*1000 + ms, nil
}

// parseASS handles the Events section of (Advanced) SubStation Alpha
// scripts, ignoring styling overrides ({\...}) in dialogue text.
func parseASS(text string) ([]Segment, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var segs []Segment
	inEvents := false
	var fields []string

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.EqualFold(trimmed, "[Events]"):
			inEvents = true
			continue
		case strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"):
			inEvents = false
			continue
		}
		if !inEvents {
			continue
		}
		if strings.HasPrefix(trimmed, "Format:") {
			raw := strings.SplitN(trimmed, ":", 2)[1]
			for _, f := range strings.Split(raw, ",") {
				fields = append(fields, strings.TrimSpace(f))
			}
			continue
		}
		if !strings.HasPrefix(trimmed, "Dialogue:") {
			continue
		}
		if len(fields) == 0 {
			return segs, fmt.Errorf("%w: Dialogue line before Format:", ErrMalformed)
		}
		raw := strings.SplitN(trimmed, ":", 2)[1]
		parts := strings.SplitN(raw, ",", len(fields))
		if len(parts) < len(fields) {
			return segs, fmt.Errorf("%w: dialogue field count mismatch", ErrMalformed)
		}
		rowIdx := func(name string) int {
			for i, f := range fields {
				if strings.EqualFold(f, name) {
					return i
				}
			}
			return -1
		}
		startIdx, endIdx, textIdx := rowIdx("Start"), rowIdx("End"), rowIdx("Text")
		if startIdx < 0 || endIdx < 0 || textIdx < 0 {
			return segs, fmt.Errorf("%w: missing Start/End/Text column", ErrMalformed)
		}
		start, err := assTimestamp(strings.TrimSpace(parts[startIdx]))
		if err != nil {
			return segs, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		end, err := assTimestamp(strings.TrimSpace(parts[endIdx]))
		if err != nil {
			return segs, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		segs = append(segs, Segment{
			StartMS: start,
			EndMS:   end,
			Text:    stripASSOverrides(strings.TrimSpace(parts[textIdx])),
		})
	}
	if err := scanner.Err(); err != nil {
		return segs, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(fields) == 0 {
		return segs, ErrUnsupportedFormat
	}
	return segs, nil
}

var assOverridePattern = regexp.MustCompile(`\{[^}]*\}`)

func stripASSOverrides(text string) string {
	text = assOverridePattern.ReplaceAllString(text, "")
	return strings.ReplaceAll(text, `\N`, "\n")
}

func assTimestamp(s string) (int64, error) {
	// h:mm:ss.cc (centiseconds)
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("bad timestamp %q", s)
	}
	h, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, err
	}
	m, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, err
	}
	secParts := strings.SplitN(parts[2], ".", 2)
	sec, err := strconv.ParseInt(secParts[0], 10, 64)
	if err != nil {
		return 0, err
	}
	var cs int64
	if len(secParts) == 2 {
		cs, err = strconv.ParseInt(secParts[1], 10, 64)
		if err != nil {
			return 0, err
		}
	}
	return ((h*60+m)*60+sec)*1000 + cs*10, nil
}

package pipeline

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/vidsum/vidsum-api/internal/apierr"
	"github.com/vidsum/vidsum-api/internal/subtitle"
)

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// parseSubtitle wraps subtitle.Parse, translating its taxonomy errors
// into the apierr kinds the external interface contract expects.
func parseSubtitle(text string) ([]subtitle.Segment, error) {
	segs, err := subtitle.Parse(text)
	switch {
	case errors.Is(err, subtitle.ErrUnsupportedFormat):
		return nil, apierr.Wrap(apierr.KindUnsupportedType, "unsupported subtitle format", err)
	case errors.Is(err, subtitle.ErrMalformed):
		return nil, apierr.Wrap(apierr.KindInvalidArgument, "malformed subtitle file", err)
	case err != nil:
		return nil, err
	}
	return segs, nil
}

package httpapi

import (
	"context"
	"regexp"

	"github.com/vidsum/vidsum-api/internal/apierr"
	"github.com/vidsum/vidsum-api/internal/cache"
	"github.com/vidsum/vidsum-api/internal/idgen"
	"github.com/vidsum/vidsum-api/internal/pipeline"
	"github.com/vidsum/vidsum-api/internal/store"
)

var httpSchemePattern = regexp.MustCompile(`(?i)^https?://`)

// identity is the resolved cache_key/source_type/source_ref triple for
// a SourceRequest, computed the same way for both the lookup and
// summary endpoints.
type identity struct {
	cacheKey   string
	sourceType store.SourceType
	sourceRef  string
}

// resolveSource implements the §4.5 edge cases: exactly one identifier
// per source_type, with probing used opportunistically to prefer a
// stable extractor/video_id cache key over the normalized URL text.
func (h *Handlers) resolveSource(ctx context.Context, req SourceRequest) (*identity, error) {
	switch req.SourceType {
	case "url":
		return h.resolveURLSource(ctx, req)
	case "local":
		return h.resolveLocalSource(ctx, req)
	default:
		return nil, apierr.New(apierr.KindInvalidArgument, "source_type must be url or local")
	}
}

func (h *Handlers) resolveURLSource(ctx context.Context, req SourceRequest) (*identity, error) {
	if req.SourceURL == "" {
		return nil, apierr.New(apierr.KindInvalidArgument, "source_type=url requires source_url")
	}
	if req.FileID != "" || req.FileHash != "" {
		return nil, apierr.New(apierr.KindInvalidArgument, "source_type=url must not include a local identifier")
	}

	normalized, err := cache.NormalizeURL(req.SourceURL, h.stripQueryParams)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidArgument, "invalid source_url", err)
	}
	if !httpSchemePattern.MatchString(normalized) {
		return nil, apierr.New(apierr.KindInvalidArgument, "source_url must be a syntactically valid http/https URL")
	}

	var extractor, videoID string
	if h.prober != nil {
		if meta, err := h.prober.Probe(ctx, req.SourceURL); err == nil {
			extractor, videoID = meta.Extractor, meta.VideoID
		}
	}

	key := cache.KeyForURL(extractor, videoID, normalized, h.coordinator.ProfileVersion())
	return &identity{cacheKey: key, sourceType: store.SourceTypeURL, sourceRef: normalized}, nil
}

func (h *Handlers) resolveLocalSource(ctx context.Context, req SourceRequest) (*identity, error) {
	if req.SourceURL != "" {
		return nil, apierr.New(apierr.KindInvalidArgument, "source_type=local must not include source_url")
	}
	if (req.FileID == "") == (req.FileHash == "") {
		return nil, apierr.New(apierr.KindInvalidArgument, "exactly one of file_id or file_hash is required")
	}

	var fileHash string
	if req.FileID != "" {
		if !idgen.FilePattern.MatchString(req.FileID) {
			return nil, apierr.New(apierr.KindInvalidArgument, "file_id is malformed")
		}
		rec, err := h.uploads.Get(ctx, req.FileID)
		if err != nil {
			return nil, err
		}
		fileHash = rec.FileHash
	} else {
		if !idgen.HexPattern.MatchString(req.FileHash) {
			return nil, apierr.New(apierr.KindInvalidArgument, "file_hash must be 64 lowercase hex characters")
		}
		fileHash = req.FileHash
	}

	key := cache.KeyForLocal(fileHash, h.coordinator.ProfileVersion())
	return &identity{
		cacheKey:   key,
		sourceType: store.SourceTypeLocal,
		sourceRef:  pipeline.LocalRefForFileHash(fileHash),
	}, nil
}

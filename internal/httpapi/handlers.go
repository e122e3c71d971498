package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/vidsum/vidsum-api/internal/apierr"
	"github.com/vidsum/vidsum-api/internal/cache"
	"github.com/vidsum/vidsum-api/internal/fetch"
	"github.com/vidsum/vidsum-api/internal/idgen"
	"github.com/vidsum/vidsum-api/internal/ratelimit"
	"github.com/vidsum/vidsum-api/internal/store"
	"github.com/vidsum/vidsum-api/internal/upload"
)

// Handlers implements every route in the external-boundary facade.
type Handlers struct {
	uploads     *upload.Store
	coordinator *cache.Coordinator
	prober      fetch.MetadataProber

	uploadLimiter  *ratelimit.Registry
	summaryLimiter *ratelimit.Registry

	stripQueryParams []string
	version          string

	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers constructs Handlers from its wired dependencies.
func NewHandlers(
	uploads *upload.Store,
	coordinator *cache.Coordinator,
	prober fetch.MetadataProber,
	uploadLimiter, summaryLimiter *ratelimit.Registry,
	stripQueryParams []string,
	version string,
	logger *slog.Logger,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		uploads:          uploads,
		coordinator:      coordinator,
		prober:           prober,
		uploadLimiter:    uploadLimiter,
		summaryLimiter:   summaryLimiter,
		stripQueryParams: stripQueryParams,
		version:          version,
		validator:        validator.New(),
		logger:           logger,
	}
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
}

// Upload handles POST /api/uploads: a multipart form with a single
// "file" field.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	clientID := clientIDFor(r)
	if !h.uploadLimiter.Allow(clientID) {
		writeAPIError(w, r, apierr.New(apierr.KindTooManyRequests, "upload rate limit exceeded"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIError(w, r, apierr.Wrap(apierr.KindInvalidArgument, "multipart field \"file\" is required", err))
		return
	}
	defer file.Close()

	rec, err := h.uploads.Put(r.Context(), upload.PutRequest{
		Stream:       file,
		DeclaredName: header.Filename,
		DeclaredSize: header.Size,
		DeclaredMime: header.Header.Get("Content-Type"),
		Limiter:      h.uploadLimiter.Limiter(clientID),
	})
	if err != nil {
		writeAPIError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, UploadResponse{
		FileID:       rec.FileID,
		OriginalName: rec.OriginalName,
		Size:         rec.Size,
		MimeType:     rec.MimeType,
		FileType:     string(rec.FileType),
		FileHash:     rec.FileHash,
		ExpiresAt:    rec.ExpiresAt,
	})
}

// LookupCache handles POST /api/cache/lookup: a read-only probe that
// never creates an entry or a job.
func (h *Handlers) LookupCache(w http.ResponseWriter, r *http.Request) {
	var req SourceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	id, err := h.resolveSource(r.Context(), req)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}

	entry, found, err := h.coordinator.Lookup(r.Context(), id.cacheKey)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}

	result := LookupResult{CacheKey: id.cacheKey, Found: found}
	if found {
		e := toEntry(entry)
		result.Entry = &e
	}
	writeJSON(w, r, http.StatusOK, result)
}

// CreateSummary handles POST /api/summaries: get-or-create, returning a
// synchronous hit or an accepted in-flight job.
func (h *Handlers) CreateSummary(w http.ResponseWriter, r *http.Request) {
	clientID := clientIDFor(r)
	if !h.summaryLimiter.Allow(clientID) {
		writeAPIError(w, r, apierr.New(apierr.KindTooManyRequests, "summary rate limit exceeded"))
		return
	}

	var req SummaryRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	id, err := h.resolveSource(r.Context(), req.SourceRequest)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}

	res, err := h.coordinator.GetOrCreate(r.Context(), id.cacheKey, id.sourceRef, id.sourceType, req.Refresh)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}

	result := SummaryResult{CacheKey: id.cacheKey, Hit: res.IsHit}
	if res.Entry != nil {
		e := toEntry(res.Entry)
		result.Entry = &e
	}
	if res.IsHit {
		writeJSON(w, r, http.StatusOK, result)
		return
	}
	if res.Job != nil {
		result.JobID = res.Job.JobID
	}
	writeJSON(w, r, http.StatusAccepted, result)
}

// GetJob handles GET /api/jobs/{job_id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	if !idgen.JobPattern.MatchString(jobID) {
		writeAPIError(w, r, apierr.New(apierr.KindInvalidArgument, "job_id is malformed"))
		return
	}

	job, err := h.coordinator.GetJob(r.Context(), jobID)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, JobStatus{
		JobID:     job.JobID,
		CacheKey:  job.CacheKey,
		Status:    string(job.Status),
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	})
}

// GetCacheEntry handles GET /api/cache/{cache_key}.
func (h *Handlers) GetCacheEntry(w http.ResponseWriter, r *http.Request) {
	cacheKey := r.PathValue("cache_key")
	if !idgen.HexPattern.MatchString(cacheKey) {
		writeAPIError(w, r, apierr.New(apierr.KindInvalidArgument, "cache_key is malformed"))
		return
	}

	entry, err := h.coordinator.Get(r.Context(), cacheKey)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toEntry(entry))
}

// ListCacheEntries handles GET /api/cache, a supplemented listing
// endpoint beyond the base route table, paginated with limit/offset
// query parameters.
func (h *Handlers) ListCacheEntries(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	entries, err := h.coordinator.List(r.Context(), limit, offset)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntry(e))
	}
	writeJSON(w, r, http.StatusOK, out)
}

// DeleteCacheEntry handles DELETE /api/cache/{cache_key}.
func (h *Handlers) DeleteCacheEntry(w http.ResponseWriter, r *http.Request) {
	cacheKey := r.PathValue("cache_key")
	if !idgen.HexPattern.MatchString(cacheKey) {
		writeAPIError(w, r, apierr.New(apierr.KindInvalidArgument, "cache_key is malformed"))
		return
	}

	if err := h.coordinator.Delete(r.Context(), cacheKey); err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, DeleteResult{Deleted: true})
}

func toEntry(e *store.CacheEntry) Entry {
	return Entry{
		CacheKey:     e.CacheKey,
		SourceType:   string(e.SourceType),
		SourceRef:    e.SourceRef,
		Status:       string(e.Status),
		SummaryText:  e.SummaryText,
		SourceName:   e.SourceName,
		Error:        e.Error,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
		LastAccessed: e.LastAccessed,
	}
}

// decodeAndValidate decodes the JSON body into dst and runs struct
// validation, writing an error response and returning false on any
// failure so callers can early-return.
func (h *Handlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIError(w, r, apierr.Wrap(apierr.KindInvalidArgument, "invalid JSON body", err))
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		writeAPIError(w, r, apierr.Wrap(apierr.KindInvalidArgument, "request validation failed", err))
		return false
	}
	return true
}

func clientIDFor(r *http.Request) string {
	if id := r.Header.Get("x-client-id"); id != "" {
		return id
	}
	return r.RemoteAddr
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeAPIError classifies err into apierr's taxonomy and writes the
// uniform error envelope.
func writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apierr.KindOf(err)
	status := apierr.HTTPStatus(kind)
	code := apierr.Code(kind)

	var validationErrs validator.ValidationErrors
	detail := ""
	var fieldErrs map[string]any
	if errors.As(err, &validationErrs) {
		fieldErrs = make(map[string]any, len(validationErrs))
		for _, fe := range validationErrs {
			fieldErrs[fe.Field()] = fe.Tag()
		}
	}

	writeErrorEnvelope(w, r, status, errMessage(err), code, detail, fieldErrs)
}

func errMessage(err error) string {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return "internal server error"
}

func writeErrorEnvelope(w http.ResponseWriter, r *http.Request, status int, message, code, detail string, errs ...map[string]any) {
	resp := ErrorResponse{
		Message:   message,
		Code:      code,
		Status:    status,
		RequestID: requestIDFrom(r.Context()),
		Detail:    detail,
	}
	if len(errs) > 0 {
		resp.Errors = errs[0]
	}
	writeJSON(w, r, status, resp)
}

// Package httpapi implements the external-boundary facade: strict input
// validation, rate limiting, request/response DTOs, and a uniform error
// envelope over the cache coordinator and upload store.
package httpapi

import "time"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// UploadResponse is the body of a successful POST /api/uploads.
type UploadResponse struct {
	FileID       string    `json:"file_id"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mime_type"`
	FileType     string    `json:"file_type"`
	FileHash     string    `json:"file_hash"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SourceRequest is the shared shape of /api/cache/lookup and
// /api/summaries: exactly one of SourceURL, FileID, FileHash must be
// set, matching SourceType.
type SourceRequest struct {
	SourceType string `json:"source_type" validate:"required,oneof=url local"`
	SourceURL  string `json:"source_url,omitempty" validate:"omitempty,url"`
	FileID     string `json:"file_id,omitempty"`
	FileHash   string `json:"file_hash,omitempty"`
}

// SummaryRequest is the body of POST /api/summaries.
type SummaryRequest struct {
	SourceRequest
	Refresh bool `json:"refresh,omitempty"`
}

// LookupResult is the body of a successful POST /api/cache/lookup.
type LookupResult struct {
	CacheKey string  `json:"cache_key"`
	Found    bool    `json:"found"`
	Entry    *Entry  `json:"entry,omitempty"`
}

// SummaryResult is the body of a successful POST /api/summaries: either
// a synchronous hit (Entry populated, JobID empty) or an accepted
// in-flight job (JobID populated).
type SummaryResult struct {
	CacheKey string `json:"cache_key"`
	Hit      bool   `json:"hit"`
	Entry    *Entry `json:"entry,omitempty"`
	JobID    string `json:"job_id,omitempty"`
}

// JobStatus is the body of GET /api/jobs/{job_id}.
type JobStatus struct {
	JobID     string    `json:"job_id"`
	CacheKey  string    `json:"cache_key"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry is the external representation of a cache entry, returned by
// GET /api/cache/{cache_key} and embedded in LookupResult/SummaryResult.
type Entry struct {
	CacheKey     string    `json:"cache_key"`
	SourceType   string    `json:"source_type"`
	SourceRef    string    `json:"source_ref"`
	Status       string    `json:"status"`
	SummaryText  string    `json:"summary_text,omitempty"`
	SourceName   string    `json:"source_name,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// DeleteResult is the body of a successful DELETE /api/cache/{cache_key}.
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}

// ErrorResponse is the uniform error envelope for any non-2xx response.
type ErrorResponse struct {
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	Status    int            `json:"status"`
	RequestID string         `json:"request_id"`
	Detail    string         `json:"detail,omitempty"`
	Errors    map[string]any `json:"errors,omitempty"`
}

package httpapi

import (
	"log/slog"
	"net/http"
)

// RouterConfig controls CORS and other router-wide settings.
type RouterConfig struct {
	AllowedOrigins []string
}

// DefaultRouterConfig returns permissive defaults suitable for local
// development.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{AllowedOrigins: []string{"*"}}
}

// NewRouter builds the full HTTP route table behind the standard
// middleware chain.
func NewRouter(h *Handlers, logger *slog.Logger, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /api/uploads", h.Upload)
	mux.HandleFunc("POST /api/cache/lookup", h.LookupCache)
	mux.HandleFunc("POST /api/summaries", h.CreateSummary)
	mux.HandleFunc("GET /api/jobs/{job_id}", h.GetJob)
	mux.HandleFunc("GET /api/cache/{cache_key}", h.GetCacheEntry)
	mux.HandleFunc("GET /api/cache", h.ListCacheEntries)
	mux.HandleFunc("DELETE /api/cache/{cache_key}", h.DeleteCacheEntry)

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)
	return chain(mux)
}

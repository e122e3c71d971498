// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// WorkDir is the persisted-state root; metadata.db, uploads/, cache/
	// and tmp/ all live under this directory.
	WorkDir string `env:"WORK_DIR, default=/var/lib/vidsum" json:"work_dir"`

	// Pipeline worker pool
	WorkerCount int `env:"WORKER_COUNT, default=1" json:"worker_count"`

	// Upload store
	UploadConcurrency       int   `env:"UPLOAD_CONCURRENCY, default=4" json:"upload_concurrency"`
	UploadRatePerMinute     int   `env:"UPLOAD_RATE_PER_MINUTE, default=30" json:"upload_rate_per_minute"`
	SummaryRatePerMinute    int   `env:"SUMMARY_RATE_PER_MINUTE, default=60" json:"summary_rate_per_minute"`
	UploadChunkSize         int   `env:"UPLOAD_CHUNK_SIZE, default=1048576" json:"upload_chunk_size"`
	UploadReadTimeoutSec    int   `env:"UPLOAD_READ_TIMEOUT_SEC, default=30" json:"upload_read_timeout_sec"`
	UploadWriteTimeoutSec   int   `env:"UPLOAD_WRITE_TIMEOUT_SEC, default=30" json:"upload_write_timeout_sec"`
	ContentLengthGraceBytes int64 `env:"CONTENT_LENGTH_GRACE_BYTES, default=1048576" json:"content_length_grace_bytes"`
	MaxFileSize             int64 `env:"MAX_FILE_SIZE, default=2147483648" json:"max_file_size"`
	UploadTTLSeconds        int   `env:"UPLOAD_TTL_SECONDS, default=86400" json:"upload_ttl_seconds"`
	UploadReapIntervalSec   int   `env:"UPLOAD_REAP_INTERVAL_SEC, default=300" json:"upload_reap_interval_sec"`

	// Stage concurrency
	TranscodeConcurrency  int `env:"TRANSCODE_CONCURRENCY, default=2" json:"transcode_concurrency"`
	TranscribeConcurrency int `env:"TRANSCRIBE_CONCURRENCY, default=2" json:"transcribe_concurrency"`
	PipelineStageWaitSec  int `env:"PIPELINE_STAGE_WAIT_SEC, default=300" json:"pipeline_stage_wait_sec"`

	// URL branch fetch bounds
	VideoMaxSize               int64 `env:"VIDEO_MAX_SIZE, default=5368709120" json:"video_max_size"`
	SubtitleMaxSize            int64 `env:"SUBTITLE_MAX_SIZE, default=10485760" json:"subtitle_max_size"`
	SubtitleDownloadTimeoutSec int   `env:"SUBTITLE_DOWNLOAD_TIMEOUT_SEC, default=30" json:"subtitle_download_timeout_sec"`

	// Subtitle validity / silence detection / summarization
	CoverageMin       float64 `env:"COVERAGE_MIN, default=0.8" json:"coverage_min"`
	RMSMax            float64 `env:"RMS_MAX, default=0.02" json:"rms_max"`
	TokensPerMinMin   float64 `env:"TOKENS_PER_MIN_MIN, default=1" json:"tokens_per_min_min"`
	ChunkSizeChars    int     `env:"CHUNK_SIZE_CHARS, default=8000" json:"chunk_size_chars"`
	ChunkOverlapChars int     `env:"CHUNK_OVERLAP_CHARS, default=400" json:"chunk_overlap_chars"`
	SummaryFloorChars int     `env:"SUMMARY_FLOOR_CHARS, default=40" json:"summary_floor_chars"`

	// Cache GC policy
	CacheTTLDays       int   `env:"CACHE_TTL_DAYS, default=30" json:"cache_ttl_days"`
	CacheMaxBytes      int64 `env:"CACHE_MAX_BYTES, default=107374182400" json:"cache_max_bytes"`
	FailedTTLHours     int   `env:"FAILED_TTL_HOURS, default=24" json:"failed_ttl_hours"`
	CacheGCIntervalSec int   `env:"CACHE_GC_INTERVAL_SEC, default=3600" json:"cache_gc_interval_sec"`

	// ProfileVersion salts the cache key; bump to invalidate all prior entries.
	ProfileVersion int `env:"PROFILE_VERSION, default=1" json:"profile_version"`

	// ASR / summarization upstream adapters (out-of-scope providers; only
	// the endpoint/credentials needed to reach the configured one live here)
	ASREndpoint       string `env:"ASR_ENDPOINT" json:"asr_endpoint,omitempty"`
	ASRAPIKey         string `env:"ASR_API_KEY" json:"-"`
	ASRCommand        string `env:"ASR_COMMAND" json:"asr_command,omitempty"`
	SummarizeEndpoint string `env:"SUMMARIZE_ENDPOINT" json:"summarize_endpoint,omitempty"`
	SummarizeAPIKey   string `env:"SUMMARIZE_API_KEY" json:"-"`

	// Optional S3 bundle mirror
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants across fields that envconfig's struct tags
// cannot express on their own.
func (c *Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("config: worker_count must be at least 1")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("config: max_file_size must be positive")
	}
	if c.CoverageMin < 0 || c.CoverageMin > 1 {
		return fmt.Errorf("config: coverage_min must be in [0,1]")
	}
	if c.ChunkOverlapChars >= c.ChunkSizeChars {
		return fmt.Errorf("config: chunk_overlap_chars must be smaller than chunk_size_chars")
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

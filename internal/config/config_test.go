package config

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "WORK_DIR", "WORKER_COUNT", "UPLOAD_CONCURRENCY",
		"UPLOAD_RATE_PER_MINUTE", "SUMMARY_RATE_PER_MINUTE", "MAX_FILE_SIZE",
		"COVERAGE_MIN", "CHUNK_SIZE_CHARS", "CHUNK_OVERLAP_CHARS",
		"S3_BUCKET", "S3_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
		"LOG_FORMAT", "LOG_LEVEL",
	} {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/var/lib/vidsum", cfg.WorkDir)
	assert.Equal(t, 1, cfg.WorkerCount)
	assert.Equal(t, 4, cfg.UploadConcurrency)
	assert.Equal(t, 0.8, cfg.CoverageMin)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "3000")
	t.Setenv("WORK_DIR", "/custom/data")
	t.Setenv("WORKER_COUNT", "4")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "/custom/data", cfg.WorkDir)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, "my-bucket", cfg.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.S3Enabled())
}

func TestLoad_InvalidIntegerValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{S3Bucket: tt.bucket, S3Region: tt.region}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := &Config{WorkerCount: 1, MaxFileSize: 1024, CoverageMin: 0.8, ChunkSizeChars: 8000, ChunkOverlapChars: 400}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("worker count too low", func(t *testing.T) {
		cfg := &Config{WorkerCount: 0, MaxFileSize: 1024, ChunkSizeChars: 8000, ChunkOverlapChars: 400}
		assert.Error(t, cfg.Validate())
	})

	t.Run("coverage min out of range", func(t *testing.T) {
		cfg := &Config{WorkerCount: 1, MaxFileSize: 1024, CoverageMin: 1.5, ChunkSizeChars: 8000, ChunkOverlapChars: 400}
		assert.Error(t, cfg.Validate())
	})

	t.Run("overlap not smaller than chunk size", func(t *testing.T) {
		cfg := &Config{WorkerCount: 1, MaxFileSize: 1024, ChunkSizeChars: 100, ChunkOverlapChars: 100}
		assert.Error(t, cfg.Validate())
	})
}

func TestConfig_NewLogger(t *testing.T) {
	cfg := &Config{LogFormat: "json", LogLevel: "info"}
	require.NotNil(t, cfg.NewLogger())

	cfg = &Config{LogFormat: "text", LogLevel: "debug"}
	require.NotNil(t, cfg.NewLogger())
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

// Package bootstrap wires every subsystem into a runnable server:
// metadata store, bundle/upload stores, cache coordinator, pipeline
// executor, worker pool, and HTTP handlers.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vidsum/vidsum-api/internal/asr"
	"github.com/vidsum/vidsum-api/internal/bundle"
	"github.com/vidsum/vidsum-api/internal/cache"
	"github.com/vidsum/vidsum-api/internal/config"
	"github.com/vidsum/vidsum-api/internal/fetch"
	"github.com/vidsum/vidsum-api/internal/httpapi"
	"github.com/vidsum/vidsum-api/internal/media"
	"github.com/vidsum/vidsum-api/internal/pipeline"
	"github.com/vidsum/vidsum-api/internal/queue"
	"github.com/vidsum/vidsum-api/internal/ratelimit"
	"github.com/vidsum/vidsum-api/internal/storage"
	"github.com/vidsum/vidsum-api/internal/store"
	"github.com/vidsum/vidsum-api/internal/summarize"
	"github.com/vidsum/vidsum-api/internal/upload"
)

// Dependencies holds every long-lived subsystem the server needs, so
// cmd/server can drive the worker pool's lifecycle and mount the HTTP
// handler without reaching into bootstrap internals.
type Dependencies struct {
	Store   *store.Store
	Bundles *bundle.Store

	Coordinator *cache.Coordinator
	Queue       *queue.Pool

	Handler http.Handler
	Logger  *slog.Logger
}

// NewDependencies opens the metadata store, constructs every subsystem,
// and wires them together per the service's fixed architecture.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("bootstrap: create work dir: %w", err)
	}

	meta, err := store.Open(ctx, cfg.WorkDir+"/metadata.db")
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open store: %w", err)
	}

	bundles := bundle.New(cfg.WorkDir)

	uploads, err := upload.New(upload.Config{
		RootDir:       cfg.WorkDir,
		ChunkSize:     cfg.UploadChunkSize,
		MaxFileSize:   cfg.MaxFileSize,
		GraceBytes:    cfg.ContentLengthGraceBytes,
		ReadTimeout:   time.Duration(cfg.UploadReadTimeoutSec) * time.Second,
		WriteTimeout:  time.Duration(cfg.UploadWriteTimeoutSec) * time.Second,
		TTL:           time.Duration(cfg.UploadTTLSeconds) * time.Second,
		Concurrency:   int64(cfg.UploadConcurrency),
		AdmissionWait: time.Duration(cfg.PipelineStageWaitSec) * time.Second,
	}, meta, logger)
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("bootstrap: open upload store: %w", err)
	}

	coordinator := cache.New(meta, bundles, cfg.ProfileVersion)

	mediaProc := initMediaProcessor(logger)
	transcriber, err := initTranscriber(cfg)
	if err != nil {
		meta.Close()
		return nil, err
	}
	summarizer, err := initSummarizer(cfg)
	if err != nil {
		meta.Close()
		return nil, err
	}
	prober := fetch.NewHTTPProber(time.Duration(cfg.SubtitleDownloadTimeoutSec) * time.Second)
	videos := fetch.NewHTTPVideoDownloader(time.Duration(cfg.PipelineStageWaitSec) * time.Second)
	subtitles := fetch.NewHTTPSubtitleDownloader(time.Duration(cfg.SubtitleDownloadTimeoutSec) * time.Second)

	executor := pipeline.NewExecutor(
		pipeline.Config{
			CoverageMin:       cfg.CoverageMin,
			RMSMax:            cfg.RMSMax,
			TokensPerMinMin:   cfg.TokensPerMinMin,
			ChunkSizeChars:    cfg.ChunkSizeChars,
			ChunkOverlapChars: cfg.ChunkOverlapChars,
			SummaryFloorChars: cfg.SummaryFloorChars,
			VideoMaxSize:      cfg.VideoMaxSize,
			SubtitleMaxSize:   cfg.SubtitleMaxSize,
			ProfileVersion:    cfg.ProfileVersion,
		},
		bundles,
		uploads,
		prober,
		videos,
		subtitles,
		transcriber,
		summarizer,
		mediaProc,
		semaphore.NewWeighted(int64(cfg.TranscodeConcurrency)),
		semaphore.NewWeighted(int64(cfg.TranscribeConcurrency)),
	)

	pool := queue.New(queue.Config{
		WorkerCount:    cfg.WorkerCount,
		ReconcileEvery: time.Duration(cfg.PipelineStageWaitSec) * time.Second,
		StageWait:      time.Duration(cfg.PipelineStageWaitSec) * time.Second,
	}, meta, bundles, coordinator, executor, logger)
	coordinator.SetQueue(pool)

	pool.SetMirror(initBundleMirror(cfg, logger))

	go uploads.RunReaper(ctx, time.Duration(cfg.UploadReapIntervalSec)*time.Second)
	go coordinator.RunGC(ctx, cache.GCConfig{
		Interval:  time.Duration(cfg.CacheGCIntervalSec) * time.Second,
		EntryTTL:  time.Duration(cfg.CacheTTLDays) * 24 * time.Hour,
		FailedTTL: time.Duration(cfg.FailedTTLHours) * time.Hour,
		MaxBytes:  cfg.CacheMaxBytes,
	}, logger)

	handlers := httpapi.NewHandlers(
		uploads,
		coordinator,
		prober,
		ratelimit.NewRegistry(cfg.UploadRatePerMinute),
		ratelimit.NewRegistry(cfg.SummaryRatePerMinute),
		nil,
		"1",
		logger,
	)
	router := httpapi.NewRouter(handlers, logger, httpapi.DefaultRouterConfig())

	return &Dependencies{
		Store:       meta,
		Bundles:     bundles,
		Coordinator: coordinator,
		Queue:       pool,
		Handler:     router,
		Logger:      logger,
	}, nil
}

// initMediaProcessor resolves ffmpeg/ffprobe from PATH, logging a
// warning rather than failing outright: a missing binary only breaks
// video/audio jobs, not subtitle-only ones.
func initMediaProcessor(logger *slog.Logger) *media.FFmpegProcessor {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		logger.Warn("ffmpeg not found in PATH; video/audio jobs will fail")
		ffmpegPath = "ffmpeg"
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		logger.Warn("ffprobe not found in PATH; duration probing will fail")
		ffprobePath = "ffprobe"
	}
	return media.NewFFmpegProcessor(ffmpegPath, ffprobePath)
}

// initTranscriber prefers a local command over a remote HTTP endpoint
// when both are configured, since a command avoids a network hop for
// self-hosted ASR.
func initTranscriber(cfg *config.Config) (asr.Transcriber, error) {
	if cfg.ASRCommand != "" {
		return asr.NewCommandTranscriber(cfg.ASRCommand)
	}
	if cfg.ASREndpoint != "" {
		return asr.NewHTTPTranscriber(cfg.ASREndpoint, cfg.ASRAPIKey)
	}
	return nil, fmt.Errorf("bootstrap: one of asr_command or asr_endpoint must be configured")
}

func initSummarizer(cfg *config.Config) (summarize.Summarizer, error) {
	if cfg.SummarizeEndpoint == "" {
		return nil, fmt.Errorf("bootstrap: summarize_endpoint must be configured")
	}
	return summarize.NewHTTPSummarizer(cfg.SummarizeEndpoint, cfg.SummarizeAPIKey)
}

// initBundleMirror wires the bundle mirror. With S3 configured, every
// completed bundle's summary is published there; otherwise the mirror
// wraps a LocalStorage backend, whose UploadToS3 always returns
// ErrS3NotConfigured and is swallowed by BundleMirror as a no-op.
func initBundleMirror(cfg *config.Config, logger *slog.Logger) *storage.BundleMirror {
	if !cfg.S3Enabled() {
		return storage.NewBundleMirror(storage.NewLocalStorage())
	}
	backend, err := storage.NewS3Storage(storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		logger.Warn("S3 bundle mirror disabled: failed to initialize", "error", err)
		return storage.NewBundleMirror(storage.NewLocalStorage())
	}
	logger.Info("S3 bundle mirror configured", "bucket", cfg.S3Bucket, "region", cfg.S3Region)
	return storage.NewBundleMirror(backend)
}

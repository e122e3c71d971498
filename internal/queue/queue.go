// Package queue implements the bounded FIFO job queue and fixed worker
// pool: workers dequeue job ids, run the matching pipeline branch, and
// report the outcome back to the cache coordinator. Stage concurrency
// caps (transcode_limit, transcribe_limit) live in internal/pipeline
// and are shared across every worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vidsum/vidsum-api/internal/apierr"
	"github.com/vidsum/vidsum-api/internal/bundle"
	"github.com/vidsum/vidsum-api/internal/cache"
	"github.com/vidsum/vidsum-api/internal/pipeline"
	"github.com/vidsum/vidsum-api/internal/store"
)

// Config controls pool sizing and the reconciliation interval.
type Config struct {
	WorkerCount     int
	QueueDepth      int
	ReconcileEvery  time.Duration
	StageWait       time.Duration
}

// Executor runs one job's pipeline branch to completion. Implemented
// by *pipeline.Executor; declared as an interface here so the pool can
// be tested without a full pipeline wiring.
type Executor interface {
	Run(ctx context.Context, jobID, cacheKey string, entry *store.CacheEntry) (bundlePath, summaryText, sourceName string, err error)
}

// Mirror optionally publishes a completed bundle to durable storage.
// Implemented by *storage.BundleMirror; a nil Mirror disables mirroring.
type Mirror interface {
	Mirror(ctx context.Context, cacheKey, bundlePath string) error
}

// Pool is the fixed-size worker pool draining the job queue. It
// implements cache.Enqueuer.
type Pool struct {
	cfg Config

	meta        *store.Store
	bundles     *bundle.Store
	coordinator *cache.Coordinator
	executor    Executor
	mirror      Mirror
	logger      *slog.Logger

	jobs chan string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // job_id -> cancel
	byKey   map[string]string             // cache_key -> job_id, for in-flight jobs only

	wg sync.WaitGroup
}

// New constructs a Pool. Call Start to spin up workers and background
// reconciliation; the coordinator must be wired with SetQueue(pool)
// before any job can be enqueued.
func New(cfg Config, meta *store.Store, bundles *bundle.Store, coordinator *cache.Coordinator, executor Executor, logger *slog.Logger) *Pool {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = 30 * time.Second
	}
	return &Pool{
		cfg:         cfg,
		meta:        meta,
		bundles:     bundles,
		coordinator: coordinator,
		executor:    executor,
		logger:      logger,
		jobs:        make(chan string, cfg.QueueDepth),
		cancels:     make(map[string]context.CancelFunc),
		byKey:       make(map[string]string),
	}
}

// Enqueue places jobID onto the queue. Non-blocking: if the queue is
// full, the job remains pending in the store and is picked up by the
// next reconciliation pass.
func (p *Pool) Enqueue(jobID string) {
	select {
	case p.jobs <- jobID:
	default:
		p.logger.Warn("queue full, deferring to reconciliation", "job_id", jobID)
	}
}

// SetMirror wires an optional durable-storage mirror, invoked after
// every successful completion.
func (p *Pool) SetMirror(m Mirror) {
	p.mirror = m
}

// CancelForCacheKey cancels the in-flight job for cacheKey, if any.
func (p *Pool) CancelForCacheKey(cacheKey string) {
	p.mu.Lock()
	jobID, ok := p.byKey[cacheKey]
	var cancel context.CancelFunc
	if ok {
		cancel = p.cancels[jobID]
	}
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Start launches the worker pool and the periodic reconciliation loop.
// It returns once every goroutine has been spawned; Stop blocks until
// they all exit.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.wg.Add(1)
	go p.reconcileLoop(ctx)
}

// Stop waits for all workers and the reconciliation loop to exit. The
// caller is responsible for cancelling ctx first.
func (p *Pool) Stop() {
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-p.jobs:
			p.process(ctx, jobID)
		}
	}
}

func (p *Pool) reconcileLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ReconcileEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reconcileOnce(ctx)
		}
	}
}

// reconcileOnce re-enqueues pending jobs that are not currently
// in-flight, recovering anything dropped by a full queue.
func (p *Pool) reconcileOnce(ctx context.Context) {
	jobs, err := p.meta.PendingJobs(ctx)
	if err != nil {
		p.logger.Error("reconcile: list pending jobs", "error", err)
		return
	}
	for _, j := range jobs {
		p.mu.Lock()
		_, inFlight := p.cancels[j.JobID]
		p.mu.Unlock()
		if inFlight {
			continue
		}
		p.Enqueue(j.JobID)
	}
}

// process runs one job end to end: load, mark running, execute the
// matching branch, and report completion or failure.
func (p *Pool) process(ctx context.Context, jobID string) {
	job, err := p.meta.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return
		}
		p.logger.Error("process: load job", "job_id", jobID, "error", err)
		return
	}
	if job.Status.IsTerminal() {
		return
	}

	entry, err := p.coordinator.Get(ctx, job.CacheKey)
	if err != nil {
		p.logger.Error("process: load cache entry", "job_id", jobID, "cache_key", job.CacheKey, "error", err)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	p.registerCancel(job.JobID, job.CacheKey, cancel)
	defer p.unregisterCancel(job.JobID, job.CacheKey)

	if err := p.coordinator.MarkRunning(jobCtx, jobID, job.CacheKey); err != nil {
		p.logger.Error("process: mark running", "job_id", jobID, "error", err)
		return
	}

	bundlePath, summaryText, sourceName, err := p.executor.Run(jobCtx, jobID, job.CacheKey, entry)

	// Report using a context detached from jobCtx's cancellation, so a
	// cancelled/timed-out job can still have its failure recorded.
	reportCtx := context.WithoutCancel(ctx)
	if err != nil {
		message := classifyFailure(err)
		if ferr := p.coordinator.FailPipeline(reportCtx, jobID, job.CacheKey, message); ferr != nil {
			p.logger.Error("process: record failure", "job_id", jobID, "error", ferr)
		}
		return
	}
	if cerr := p.coordinator.CompletePipeline(reportCtx, jobID, job.CacheKey, bundlePath, summaryText, sourceName); cerr != nil {
		p.logger.Error("process: record completion", "job_id", jobID, "error", cerr)
		return
	}
	if p.mirror != nil {
		if merr := p.mirror.Mirror(reportCtx, job.CacheKey, bundlePath); merr != nil {
			p.logger.Warn("process: mirror bundle", "job_id", jobID, "error", merr)
		}
	}
}

func classifyFailure(err error) string {
	if errors.Is(err, pipeline.ErrCancelled) {
		return fmt.Sprintf("%s: %v", apierr.KindCancelled, err)
	}
	return fmt.Sprintf("%s: %v", apierr.KindOf(err), err)
}

func (p *Pool) registerCancel(jobID, cacheKey string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels[jobID] = cancel
	p.byKey[cacheKey] = jobID
}

func (p *Pool) unregisterCancel(jobID, cacheKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancels, jobID)
	if p.byKey[cacheKey] == jobID {
		delete(p.byKey, cacheKey)
	}
}

// Recover sweeps jobs left running from a prior process lifetime to
// failed:interrupted and discards their staging directories. Run once
// at startup before the pool begins dequeuing.
func Recover(ctx context.Context, meta *store.Store, bundles *bundle.Store) ([]*store.Job, error) {
	jobs, err := meta.SweepInterruptedJobs(ctx, "interrupted", time.Now())
	if err != nil {
		return nil, fmt.Errorf("queue: recover: %w", err)
	}
	for _, j := range jobs {
		_ = bundles.Discard(j.JobID)
	}
	return jobs, nil
}

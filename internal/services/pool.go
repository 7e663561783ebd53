package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/convoforge/perfgen/internal/config"
	"github.com/convoforge/perfgen/internal/models"
	"github.com/convoforge/perfgen/internal/upstream"
)

// queuePollInterval bounds how long an idle executor waits before
// re-checking its retirement status.
const queuePollInterval = 500 * time.Millisecond

// JobRecorder receives exactly one terminal record per executed job.
type JobRecorder interface {
	RecordJob(rec models.JobRecord)
}

// WorkerPool owns the bounded request queue and the worker-target value,
// the only two pieces of shared mutable state in the system. Executors pull
// jobs, call upstream under the retry policy, and emit one JobRecord each.
type WorkerPool struct {
	cfg       *config.Config
	completer upstream.Completer
	recorder  JobRecorder
	logger    *slog.Logger

	jobs      chan models.Job
	accepting atomic.Bool
	inflight  atomic.Int64

	mu     sync.Mutex
	target int
	live   int

	workCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	backoff func(attempt int) time.Duration
}

func NewWorkerPool(cfg *config.Config, completer upstream.Completer, recorder JobRecorder, logger *slog.Logger) *WorkerPool {
	if logger != nil {
		logger = logger.With("component", "pool")
	} else {
		logger = slog.Default().With("component", "pool")
	}
	return &WorkerPool{
		cfg:       cfg,
		completer: completer,
		recorder:  recorder,
		logger:    logger,
		jobs:      make(chan models.Job, cfg.QueueMax),
		backoff:   func(attempt int) time.Duration { return upstream.Backoff(attempt, cfg.BackoffCap) },
	}
}

// Start launches the initial executors. The pool keeps running until Stop.
func (p *WorkerPool) Start(ctx context.Context) {
	p.workCtx, p.cancel = context.WithCancel(ctx)
	p.accepting.Store(true)
	p.Resize(p.cfg.ConcurrencyStart)
	p.logger.Info("Worker pool started", "concurrency", p.Concurrency(), "queue_max", p.cfg.QueueMax)
}

// Submit offers a job without blocking. It is accepted when the queue has
// room or an executor is waiting; otherwise the caller is rejected
// immediately. Rejected jobs never started and produce no JobRecord.
func (p *WorkerPool) Submit(job models.Job) bool {
	if !p.accepting.Load() {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// QueueDepth reports the number of accepted jobs not yet picked up.
func (p *WorkerPool) QueueDepth() int {
	return len(p.jobs)
}

// InFlight reports jobs currently being executed.
func (p *WorkerPool) InFlight() int {
	return int(p.inflight.Load())
}

// Concurrency reports the current worker target.
func (p *WorkerPool) Concurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// Resize moves the worker target, clamped to the configured bounds, and
// returns the applied value. Growing spawns executors immediately; shrinking
// retires excess executors after their current job, never mid-flight.
func (p *WorkerPool) Resize(target int) int {
	if target < p.cfg.ConcurrencyMin {
		target = p.cfg.ConcurrencyMin
	}
	if target > p.cfg.ConcurrencyMax {
		target = p.cfg.ConcurrencyMax
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if target != p.target {
		p.logger.Info("Scaling workers", "from", p.target, "to", target)
	}
	p.target = target
	for p.live < p.target {
		p.live++
		p.wg.Add(1)
		workerID := "worker-" + strings.Split(uuid.NewString(), "-")[0]
		go p.worker(workerID)
	}
	return target
}

// shouldRetire lets one executor exit when the live count exceeds the target.
func (p *WorkerPool) shouldRetire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live > p.target {
		p.live--
		return true
	}
	return false
}

func (p *WorkerPool) worker(id string) {
	defer p.wg.Done()
	p.logger.Debug("Worker started", "worker_id", id)

	for {
		if p.shouldRetire() {
			p.logger.Debug("Worker retired", "worker_id", id)
			return
		}
		select {
		case <-p.workCtx.Done():
			p.logger.Debug("Worker stopped", "worker_id", id)
			return
		case job := <-p.jobs:
			p.inflight.Add(1)
			rec := p.execute(job)
			// Record before dropping the in-flight count, so a completed
			// drain implies every outcome has been handed off.
			p.recorder.RecordJob(rec)
			p.inflight.Add(-1)
		case <-time.After(queuePollInterval):
		}
	}
}

// execute runs one job under the retry policy and returns its terminal
// record. Retries reuse this worker slot; the job is never requeued.
func (p *WorkerPool) execute(job models.Job) models.JobRecord {
	var lastErr error
	var lastStatus int
	started := time.Now().UTC()
	finished := started

	attempts := p.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		started = time.Now().UTC()
		comp, err := p.completer.Complete(p.workCtx, job)
		finished = time.Now().UTC()

		if err == nil {
			return models.JobRecord{
				ID:               ulid.Make().String(),
				StartedAt:        started,
				FinishedAt:       finished,
				LatencyMs:        finished.Sub(started).Milliseconds(),
				ModelID:          job.ModelID,
				PromptTokens:     comp.PromptTokens,
				CompletionTokens: comp.CompletionTokens,
				HTTPStatus:       comp.HTTPStatus,
			}
		}

		lastErr = err
		lastStatus = upstream.StatusOf(err)

		if p.workCtx.Err() != nil {
			lastErr = &upstream.CallError{Message: "cancelled during shutdown: " + err.Error()}
			break
		}
		if !upstream.IsTransient(err) || attempt == attempts-1 {
			break
		}

		delay := p.backoff(attempt)
		p.logger.Warn("Retrying upstream call", "job_id", job.JobID, "attempt", attempt+1,
			"status", lastStatus, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-p.workCtx.Done():
		}
	}

	return models.JobRecord{
		ID:           ulid.Make().String(),
		StartedAt:    started,
		FinishedAt:   finished,
		LatencyMs:    finished.Sub(started).Milliseconds(),
		ModelID:      job.ModelID,
		PromptTokens: len(strings.Fields(job.Prompt)),
		HTTPStatus:   lastStatus,
		ErrorText:    lastErr.Error(),
	}
}

// Stop closes intake, drains queued and in-flight jobs within the configured
// drain timeout, then force-terminates whatever is still running. Records
// for interrupted jobs carry a cancellation error.
func (p *WorkerPool) Stop() {
	p.accepting.Store(false)

	deadline := time.Now().Add(p.cfg.DrainTimeout)
	for time.Now().Before(deadline) {
		if p.QueueDepth() == 0 && p.inflight.Load() == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if p.QueueDepth() > 0 || p.inflight.Load() > 0 {
		p.logger.Warn("Drain timeout expired, force-terminating",
			"queued", p.QueueDepth(), "inflight", p.inflight.Load())
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	// Accepted jobs are never dropped silently: anything still queued after
	// the force-terminate gets a cancelled record.
	for {
		select {
		case job := <-p.jobs:
			now := time.Now().UTC()
			p.recorder.RecordJob(models.JobRecord{
				ID:           ulid.Make().String(),
				StartedAt:    now,
				FinishedAt:   now,
				ModelID:      job.ModelID,
				PromptTokens: len(strings.Fields(job.Prompt)),
				ErrorText:    "cancelled during shutdown: never started",
			})
		default:
			p.logger.Info("Worker pool stopped")
			return
		}
	}
}

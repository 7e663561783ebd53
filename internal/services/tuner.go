package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/convoforge/perfgen/internal/config"
	"github.com/convoforge/perfgen/internal/models"
)

// errorRateEpsilon is the threshold under which a window counts as clean.
const errorRateEpsilon = 0.001

// Tuner runs the periodic control loop: aggregate the window, emit a sample,
// then adjust the worker target by at most one step. It reacts only to the
// most recent window, trading optimality for stability.
type Tuner struct {
	cfg       *config.Config
	pool      *WorkerPool
	agg       *SampleAggregator
	telemetry *TelemetryService
	publisher SamplePublisher
	logger    *slog.Logger

	mu     sync.Mutex
	latest *models.Sample
	now    func() time.Time
}

// SamplePublisher pushes each emitted sample to live subscribers.
type SamplePublisher interface {
	PublishSample(sample models.Sample)
}

func NewTuner(cfg *config.Config, pool *WorkerPool, agg *SampleAggregator, telemetry *TelemetryService, publisher SamplePublisher, logger *slog.Logger) *Tuner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tuner{
		cfg:       cfg,
		pool:      pool,
		agg:       agg,
		telemetry: telemetry,
		publisher: publisher,
		logger:    logger.With("component", "tuner"),
		now:       time.Now,
	}
}

// Run executes the control loop until the context is cancelled.
func (t *Tuner) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.TuneInterval)
	defer ticker.Stop()

	t.logger.Info("Tuner started",
		"target_p95_ms", t.cfg.TargetP95Ms,
		"target_error_rate", t.cfg.TargetErrorRate,
		"interval", t.cfg.TuneInterval)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Tuner stopped")
			return
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick performs one aggregate-emit-tune sequence and returns the emitted
// sample. An empty window emits a zeroed sample and takes no tuning action.
func (t *Tuner) Tick(ctx context.Context) models.Sample {
	stats := t.agg.Snapshot()
	queueDepth := t.pool.QueueDepth()
	concurrency := t.pool.Concurrency()

	sample := models.Sample{
		ID:            ulid.Make().String(),
		RunID:         t.telemetry.RunID(),
		Timestamp:     t.now().UTC(),
		WindowSec:     stats.WindowSec,
		Concurrency:   concurrency,
		QueueDepth:    queueDepth,
		ThroughputRPS: stats.ThroughputRPS,
		P50Ms:         stats.P50Ms,
		P95Ms:         stats.P95Ms,
		ErrorRate:     stats.ErrorRate,
		TokensIn:      stats.TokensIn,
		TokensOut:     stats.TokensOut,
	}

	t.mu.Lock()
	t.latest = &sample
	t.mu.Unlock()

	t.telemetry.RecordSample(ctx, sample)
	if t.publisher != nil {
		t.publisher.PublishSample(sample)
	}

	if stats.Total == 0 {
		return sample
	}

	delta := t.decide(stats, queueDepth)
	if delta != 0 {
		applied := t.pool.Resize(concurrency + delta)
		direction := "UP"
		if delta < 0 {
			direction = "DOWN"
		}
		t.logger.Info("Tuner decision",
			"direction", direction,
			"concurrency", applied,
			"queue_depth", queueDepth,
			"throughput_rps", stats.ThroughputRPS,
			"p95_ms", stats.P95Ms,
			"error_rate", stats.ErrorRate)
	}
	return sample
}

// decide implements single-step hill climbing over the latest window:
// back off when error rate or tail latency violates a target, step up when
// latency is comfortable, the window is clean, and unmet demand is queued,
// and step back down when the queue sits empty with comfortable latency.
func (t *Tuner) decide(stats WindowStats, queueDepth int) int {
	if stats.ErrorRate > t.cfg.TargetErrorRate || stats.P95Ms > t.cfg.TargetP95Ms {
		return -t.cfg.TuneStep
	}

	comfortable := float64(stats.P95Ms) < 0.7*float64(t.cfg.TargetP95Ms)
	clean := stats.ErrorRate <= errorRateEpsilon
	if comfortable && clean {
		if queueDepth > 0 {
			return t.cfg.TuneStep
		}
		// No queued demand and latency is comfortable: release capacity
		// instead of holding an over-provisioned pool forever.
		return -t.cfg.TuneStep
	}
	return 0
}

// LatestSample returns the most recently emitted sample, nil before the
// first tick.
func (t *Tuner) LatestSample() *models.Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latest == nil {
		return nil
	}
	s := *t.latest
	return &s
}

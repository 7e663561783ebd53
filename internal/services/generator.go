package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/convoforge/perfgen/internal/config"
	"github.com/convoforge/perfgen/internal/models"
	"github.com/convoforge/perfgen/internal/repository"
	"github.com/convoforge/perfgen/internal/upstream"
	"github.com/convoforge/perfgen/internal/ws"
)

// Generator owns the whole dispatch stack: the worker pool with its bounded
// queue, the rolling-window aggregator, the tuner loop, telemetry, and the
// live sample publishers. Production traffic and the benchmark driver both
// submit through it.
type Generator struct {
	cfg    *config.Config
	logger *slog.Logger

	pool      *WorkerPool
	agg       *SampleAggregator
	tuner     *Tuner
	telemetry *TelemetryService
	hub       *ws.Hub
	feed      *SampleFeed

	cancel  context.CancelFunc
	running atomic.Bool
}

// Status is the live snapshot served by the metrics endpoint.
type Status struct {
	Running     bool           `json:"running"`
	RunID       string         `json:"run_id"`
	ModelID     string         `json:"model_id"`
	Concurrency int            `json:"concurrency"`
	QueueDepth  int            `json:"queue_depth"`
	InFlight    int            `json:"in_flight"`
	Latest      *models.Sample `json:"latest_sample,omitempty"`
}

func NewGenerator(cfg *config.Config, completer upstream.Completer, repo repository.Repository, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Generator{
		cfg:    cfg,
		logger: logger.With("component", "generator"),
		hub:    ws.NewHub(),
		feed:   NewSampleFeed(cfg, logger),
		agg:    NewSampleAggregator(cfg.SampleWindow, 0),
	}
	g.telemetry = NewTelemetryService(repo, logger)
	g.pool = NewWorkerPool(cfg, completer, g, logger)
	g.tuner = NewTuner(cfg, g.pool, g.agg, g.telemetry, g, logger)
	return g
}

// Start opens the run and launches the pool and the tuner loop.
func (g *Generator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	g.telemetry.StartRun(runCtx, g.cfg.ModelID, g.cfg.RunNotes)
	g.pool.Start(runCtx)
	go g.tuner.Run(runCtx)

	g.running.Store(true)
	g.logger.Info("Generator started",
		"model_id", g.cfg.ModelID,
		"endpoint", g.cfg.EndpointURL,
		"concurrency", g.pool.Concurrency())
}

// Submit offers one prompt as a job. The admission decision is immediate.
func (g *Generator) Submit(prompt string) bool {
	return g.SubmitJob(models.Job{
		JobID:       ulid.Make().String(),
		Prompt:      prompt,
		ModelID:     g.cfg.ModelID,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		CreatedAt:   time.Now().UTC(),
	})
}

// SubmitJob offers a fully specified job.
func (g *Generator) SubmitJob(job models.Job) bool {
	return g.pool.Submit(job)
}

// RecordJob fans one terminal outcome into the rolling window and the store.
func (g *Generator) RecordJob(rec models.JobRecord) {
	g.agg.Record(rec)
	g.telemetry.RecordJob(context.Background(), rec)
}

// PublishSample pushes a freshly emitted sample to websocket subscribers and
// the NATS feed. The store remains the system of record.
func (g *Generator) PublishSample(sample models.Sample) {
	if payload, err := json.Marshal(sample); err == nil {
		g.hub.Broadcast(payload)
	}
	g.feed.PublishSample(sample)
}

// Stop drains the pool within the drain timeout, stamps the run end, and
// releases the live feeds. Safe to call once per Start.
func (g *Generator) Stop(ctx context.Context) {
	if !g.running.CompareAndSwap(true, false) {
		return
	}
	g.logger.Info("Generator stopping")

	g.pool.Stop()
	g.telemetry.FinishRun(ctx)
	if g.cancel != nil {
		g.cancel()
	}
	g.hub.Shutdown()
	g.feed.Close()
	g.logger.Info("Generator stopped")
}

// Status reports the live view used by the pull snapshot endpoint.
func (g *Generator) Status() Status {
	return Status{
		Running:     g.running.Load(),
		RunID:       g.telemetry.RunID(),
		ModelID:     g.cfg.ModelID,
		Concurrency: g.pool.Concurrency(),
		QueueDepth:  g.pool.QueueDepth(),
		InFlight:    g.pool.InFlight(),
		Latest:      g.tuner.LatestSample(),
	}
}

// Hub exposes the websocket hub for the metrics handlers.
func (g *Generator) Hub() *ws.Hub {
	return g.hub
}

// Telemetry exposes the persistence layer for summary queries.
func (g *Generator) Telemetry() *TelemetryService {
	return g.telemetry
}

// Pool exposes the worker pool, mainly for tests and the benchmark driver.
func (g *Generator) Pool() *WorkerPool {
	return g.pool
}

// Tuner exposes the control loop, mainly for tests.
func (g *Generator) Tuner() *Tuner {
	return g.tuner
}

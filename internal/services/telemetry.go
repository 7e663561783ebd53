package services

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/convoforge/perfgen/internal/models"
	"github.com/convoforge/perfgen/internal/repository"
)

const writeTimeout = 5 * time.Second

// TelemetryService persists run, sample, and job records. Every write is
// best-effort: a storage failure is logged and discarded, never surfaced to
// the serving path. With a nil repository the service degrades to
// logging-only telemetry.
type TelemetryService struct {
	repo   repository.Repository
	logger *slog.Logger

	mu       sync.Mutex
	run      *models.Run
	finished bool
}

func NewTelemetryService(repo repository.Repository, logger *slog.Logger) *TelemetryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryService{
		repo:   repo,
		logger: logger.With("component", "telemetry"),
	}
}

// StartRun opens the single run for this process lifetime.
func (s *TelemetryService) StartRun(ctx context.Context, modelID, notes string) *models.Run {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	run := &models.Run{
		RunID:     ulid.Make().String(),
		StartedAt: time.Now().UTC(),
		ModelID:   modelID,
		Host:      host,
		Notes:     notes,
	}

	s.mu.Lock()
	s.run = run
	s.finished = false
	s.mu.Unlock()

	if s.repo == nil {
		s.logger.Warn("No telemetry store configured, running in logging-only mode", "run_id", run.RunID)
		return run
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.repo.Run().CreateRun(wctx, run); err != nil {
		s.logger.Warn("Failed to persist run start", "run_id", run.RunID, "error", err)
	} else {
		s.logger.Info("Run started", "run_id", run.RunID, "model_id", modelID, "host", host)
	}
	return run
}

// RunID returns the active run identifier, empty before StartRun.
func (s *TelemetryService) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.RunID
}

// RecordJob persists one terminal job outcome, tagged with the active run.
func (s *TelemetryService) RecordJob(ctx context.Context, rec models.JobRecord) {
	rec.RunID = s.RunID()
	if s.repo == nil {
		s.logger.Debug("Job outcome", "job", rec)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.repo.Job().InsertJob(wctx, &rec); err != nil {
		s.logger.Warn("Failed to persist job record", "id", rec.ID, "error", err)
	}
}

// RecordSample persists one aggregate sample, tagged with the active run.
func (s *TelemetryService) RecordSample(ctx context.Context, sample models.Sample) {
	if s.repo == nil {
		s.logger.Debug("Sample", "sample", sample)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.repo.Sample().InsertSample(wctx, &sample); err != nil {
		s.logger.Warn("Failed to persist sample", "id", sample.ID, "error", err)
	}
}

// FinishRun stamps the run end exactly once; later calls are no-ops.
func (s *TelemetryService) FinishRun(ctx context.Context) {
	s.mu.Lock()
	if s.run == nil || s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	runID := s.run.RunID
	s.mu.Unlock()

	if s.repo == nil {
		s.logger.Info("Run finished", "run_id", runID)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.repo.Run().FinishRun(wctx, runID); err != nil {
		s.logger.Warn("Failed to persist run end", "run_id", runID, "error", err)
	} else {
		s.logger.Info("Run finished", "run_id", runID)
	}
}

// Summary reads the aggregate view of the active run. It is nil when no
// store is configured.
func (s *TelemetryService) Summary(ctx context.Context) (*models.RunSummary, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.Run().GetRunSummary(ctx, s.RunID())
}

// LatestSamples reads the newest persisted samples for the active run.
func (s *TelemetryService) LatestSamples(ctx context.Context, limit int) ([]*models.Sample, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.Sample().ListSamples(ctx, s.RunID(), limit)
}

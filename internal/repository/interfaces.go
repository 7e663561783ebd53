package repository

import (
	"context"

	"github.com/convoforge/perfgen/internal/models"
)

// Repository aggregates all telemetry repository interfaces.
type Repository interface {
	Run() RunRepositoryInterface
	Sample() SampleRepositoryInterface
	Job() JobRepositoryInterface
}

// RunRepositoryInterface defines run lifecycle persistence.
type RunRepositoryInterface interface {
	CreateRun(ctx context.Context, run *models.Run) error
	// FinishRun sets finished_at once; a finished run is never updated again.
	FinishRun(ctx context.Context, runID string) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	GetRunSummary(ctx context.Context, runID string) (*models.RunSummary, error)
}

// SampleRepositoryInterface defines aggregate sample persistence.
type SampleRepositoryInterface interface {
	InsertSample(ctx context.Context, sample *models.Sample) error
	ListSamples(ctx context.Context, runID string, limit int) ([]*models.Sample, error)
}

// JobRepositoryInterface defines per-job outcome persistence.
type JobRepositoryInterface interface {
	InsertJob(ctx context.Context, rec *models.JobRecord) error
	GetJob(ctx context.Context, id string) (*models.JobRecord, error)
	CountJobs(ctx context.Context, runID string) (int64, error)
}

package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/convoforge/perfgen/internal/models"
	"github.com/convoforge/perfgen/internal/store"
)

// SQLiteRepository implements Repository using the sqlite store.
type SQLiteRepository struct {
	db         *store.DB
	runRepo    RunRepositoryInterface
	sampleRepo SampleRepositoryInterface
	jobRepo    JobRepositoryInterface
}

func NewSQLiteRepository(db *store.DB) Repository {
	return &SQLiteRepository{
		db:         db,
		runRepo:    &SQLiteRunRepository{db: db},
		sampleRepo: &SQLiteSampleRepository{db: db},
		jobRepo:    &SQLiteJobRepository{db: db},
	}
}

func (r *SQLiteRepository) Run() RunRepositoryInterface {
	return r.runRepo
}

func (r *SQLiteRepository) Sample() SampleRepositoryInterface {
	return r.sampleRepo
}

func (r *SQLiteRepository) Job() JobRepositoryInterface {
	return r.jobRepo
}

type SQLiteRunRepository struct {
	db *store.DB
}

func (r *SQLiteRunRepository) CreateRun(ctx context.Context, run *models.Run) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs(run_id, started_at, finished_at, model_id, host, notes)
		 VALUES(?,?,?,?,?,?)`,
		run.RunID, run.StartedAt.UnixMilli(), nil, run.ModelID, run.Host, run.Notes)
	return err
}

func (r *SQLiteRunRepository) FinishRun(ctx context.Context, runID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ? WHERE run_id = ? AND finished_at IS NULL`,
		time.Now().UnixMilli(), runID)
	return err
}

func (r *SQLiteRunRepository) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT run_id, started_at, finished_at, model_id, host, notes FROM runs WHERE run_id = ?`, runID)

	var run models.Run
	var startedMs int64
	var finishedMs sql.NullInt64
	if err := row.Scan(&run.RunID, &startedMs, &finishedMs, &run.ModelID, &run.Host, &run.Notes); err != nil {
		return nil, err
	}
	run.StartedAt = time.UnixMilli(startedMs).UTC()
	if finishedMs.Valid {
		t := time.UnixMilli(finishedMs.Int64).UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}

func (r *SQLiteRunRepository) GetRunSummary(ctx context.Context, runID string) (*models.RunSummary, error) {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	summary := &models.RunSummary{
		RunID:   run.RunID,
		ModelID: run.ModelID,
		Host:    run.Host,
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN error_text != '' THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(latency_ms), 0),
		        COALESCE(MAX(latency_ms), 0),
		        COALESCE(SUM(completion_tokens), 0)
		 FROM jobs WHERE run_id = ?`, runID)
	if err := row.Scan(&summary.TotalJobs, &summary.FailedJobs, &summary.AvgLatencyMs,
		&summary.MaxLatencyMs, &summary.TotalTokensOut); err != nil {
		return nil, err
	}

	row = r.db.QueryRowContext(ctx,
		`SELECT concurrency, throughput_rps, p95_ms FROM samples
		 WHERE run_id = ? ORDER BY throughput_rps DESC LIMIT 1`, runID)
	if err := row.Scan(&summary.BestConcurrency, &summary.BestThroughput, &summary.BestP95Ms); err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return summary, nil
}

type SQLiteSampleRepository struct {
	db *store.DB
}

func (r *SQLiteSampleRepository) InsertSample(ctx context.Context, s *models.Sample) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO samples(id, run_id, ts, window_sec, concurrency, queue_depth,
		 throughput_rps, p50_ms, p95_ms, error_rate, tokens_in, tokens_out)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.RunID, s.Timestamp.UnixMilli(), s.WindowSec, s.Concurrency, s.QueueDepth,
		s.ThroughputRPS, s.P50Ms, s.P95Ms, s.ErrorRate, s.TokensIn, s.TokensOut)
	return err
}

func (r *SQLiteSampleRepository) ListSamples(ctx context.Context, runID string, limit int) ([]*models.Sample, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, ts, window_sec, concurrency, queue_depth,
		        throughput_rps, p50_ms, p95_ms, error_rate, tokens_in, tokens_out
		 FROM samples WHERE run_id = ? ORDER BY ts DESC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*models.Sample
	for rows.Next() {
		var s models.Sample
		var tsMs int64
		if err := rows.Scan(&s.ID, &s.RunID, &tsMs, &s.WindowSec, &s.Concurrency, &s.QueueDepth,
			&s.ThroughputRPS, &s.P50Ms, &s.P95Ms, &s.ErrorRate, &s.TokensIn, &s.TokensOut); err != nil {
			return nil, err
		}
		s.Timestamp = time.UnixMilli(tsMs).UTC()
		samples = append(samples, &s)
	}
	return samples, rows.Err()
}

type SQLiteJobRepository struct {
	db *store.DB
}

func (r *SQLiteJobRepository) InsertJob(ctx context.Context, rec *models.JobRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO jobs(id, run_id, started_at, finished_at, latency_ms, model_id,
		 prompt_tokens, completion_tokens, http_status, error_text)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.RunID, rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(), rec.LatencyMs,
		rec.ModelID, rec.PromptTokens, rec.CompletionTokens, rec.HTTPStatus, rec.ErrorText)
	return err
}

func (r *SQLiteJobRepository) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, run_id, started_at, finished_at, latency_ms, model_id,
		        prompt_tokens, completion_tokens, http_status, error_text
		 FROM jobs WHERE id = ?`, id)

	var rec models.JobRecord
	var startedMs, finishedMs int64
	if err := row.Scan(&rec.ID, &rec.RunID, &startedMs, &finishedMs, &rec.LatencyMs,
		&rec.ModelID, &rec.PromptTokens, &rec.CompletionTokens, &rec.HTTPStatus, &rec.ErrorText); err != nil {
		return nil, err
	}
	rec.StartedAt = time.UnixMilli(startedMs).UTC()
	rec.FinishedAt = time.UnixMilli(finishedMs).UTC()
	return &rec, nil
}

func (r *SQLiteJobRepository) CountJobs(ctx context.Context, runID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

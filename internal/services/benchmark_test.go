package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoforge/perfgen/internal/models"
	"github.com/convoforge/perfgen/internal/repository"
	"github.com/convoforge/perfgen/internal/store"
	"github.com/convoforge/perfgen/internal/upstream"
)

// fixedLatencyCompleter simulates an upstream with a constant service time.
type fixedLatencyCompleter struct {
	delay time.Duration
}

func (c *fixedLatencyCompleter) Complete(ctx context.Context, job models.Job) (*upstream.Completion, error) {
	select {
	case <-time.After(c.delay):
		return &upstream.Completion{Text: "ok", PromptTokens: 5, CompletionTokens: 7, HTTPStatus: 200}, nil
	case <-ctx.Done():
		return nil, &upstream.CallError{Message: ctx.Err().Error(), Transient: true}
	}
}

func TestBenchmarkRunDrivesFullStack(t *testing.T) {
	if testing.Short() {
		t.Skip("timing sensitive")
	}

	db, err := store.Open(filepath.Join(t.TempDir(), "perf.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := repository.NewSQLiteRepository(db)

	cfg := testTunerConfig()
	cfg.QueueMax = 8
	cfg.MaxRetries = 1
	cfg.SampleWindow = 2 * time.Second
	cfg.TuneInterval = 200 * time.Millisecond
	cfg.DrainTimeout = 5 * time.Second

	gen := NewGenerator(cfg, &fixedLatencyCompleter{delay: 20 * time.Millisecond}, repo, testLogger())
	ctx := context.Background()
	gen.Start(ctx)

	runner := NewBenchmarkRunner(gen, testLogger())
	result, err := runner.Run(ctx, BenchmarkOptions{
		Duration: 1500 * time.Millisecond,
		Pace:     time.Millisecond,
	})
	require.NoError(t, err)

	assert.Greater(t, result.Submitted, 0)
	assert.GreaterOrEqual(t, result.Elapsed, 1500*time.Millisecond)

	status := gen.Status()
	assert.GreaterOrEqual(t, status.Concurrency, cfg.ConcurrencyMin)
	assert.LessOrEqual(t, status.Concurrency, cfg.ConcurrencyMax)
	assert.Zero(t, status.QueueDepth)
	assert.Zero(t, status.InFlight)

	require.NotNil(t, result.Final)
	assert.Greater(t, result.Final.ThroughputRPS, 0.0)

	// Everything that was admitted finished and landed in the store.
	require.NotNil(t, result.Summary)
	assert.Equal(t, int64(result.Submitted), result.Summary.TotalJobs)
	assert.Zero(t, result.Summary.FailedJobs)
	assert.Greater(t, result.Summary.TotalTokensOut, int64(0))

	// With a 20 ms upstream and at least two busy workers the effective rate
	// has to clear this floor by a wide margin.
	effective := float64(result.Summary.TotalJobs) / result.Elapsed.Seconds()
	assert.Greater(t, effective, 20.0)

	runID := status.RunID
	gen.Stop(context.Background())

	run, err := repo.Run().GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run.FinishedAt)
	assert.GreaterOrEqual(t, run.FinishedAt.Sub(run.StartedAt), 1500*time.Millisecond)
}

func TestBenchmarkRequiresABound(t *testing.T) {
	runner := NewBenchmarkRunner(nil, testLogger())
	_, err := runner.Run(context.Background(), BenchmarkOptions{})
	assert.Error(t, err)
}

func TestApplyScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
prompts:
  - "Write a haiku about queues."
  - "Explain backpressure in one sentence."
jobs: 40
duration_sec: 10
pace_ms: 25
`), 0o644))

	runner := NewBenchmarkRunner(nil, testLogger())
	opts := BenchmarkOptions{Scenario: path}
	require.NoError(t, runner.applyScenario(&opts))

	assert.Equal(t, 40, opts.Jobs)
	assert.Equal(t, 10*time.Second, opts.Duration)
	assert.Equal(t, 25*time.Millisecond, opts.Pace)

	prompts, err := runner.loadPrompts(opts)
	require.NoError(t, err)
	assert.Len(t, prompts, 2)
}

func TestApplyScenarioKeepsExplicitFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jobs: 40\npace_ms: 25\n"), 0o644))

	runner := NewBenchmarkRunner(nil, testLogger())
	opts := BenchmarkOptions{Scenario: path, Jobs: 5, Pace: time.Second}
	require.NoError(t, runner.applyScenario(&opts))

	assert.Equal(t, 5, opts.Jobs)
	assert.Equal(t, time.Second, opts.Pace)
}

func TestLoadPromptsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.txt")
	require.NoError(t, os.WriteFile(path, []byte("first prompt\n\n  second prompt  \n"), 0o644))

	runner := NewBenchmarkRunner(nil, testLogger())
	prompts, err := runner.loadPrompts(BenchmarkOptions{PromptFile: path})
	require.NoError(t, err)
	assert.Equal(t, []string{"first prompt", "second prompt"}, prompts)

	_, err = runner.loadPrompts(BenchmarkOptions{PromptFile: filepath.Join(t.TempDir(), "missing.txt")})
	assert.Error(t, err)
}

func TestLoadPromptsDefaults(t *testing.T) {
	runner := NewBenchmarkRunner(nil, testLogger())
	prompts, err := runner.loadPrompts(BenchmarkOptions{})
	require.NoError(t, err)
	assert.Equal(t, defaultPrompts, prompts)
}

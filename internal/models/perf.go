package models

import "time"

// Run is one bounded telemetry session tied to a model and host.
// FinishedAt stays nil while the run is active and is set exactly once.
type Run struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ModelID    string     `json:"model_id"`
	Host       string     `json:"host"`
	Notes      string     `json:"notes,omitempty"`
}

// Job is a single pending completion request.
type Job struct {
	JobID       string    `json:"job_id"`
	Prompt      string    `json:"prompt"`
	ModelID     string    `json:"model_id"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	CreatedAt   time.Time `json:"created_at"`
}

// JobRecord is the terminal outcome of one upstream call. It is created once
// when the job reaches its final state (including after exhausted retries)
// and never mutated. HTTPStatus is zero on pure transport failure.
type JobRecord struct {
	ID               string    `json:"id"`
	RunID            string    `json:"run_id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	LatencyMs        int64     `json:"latency_ms"`
	ModelID          string    `json:"model_id"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	HTTPStatus       int       `json:"http_status,omitempty"`
	ErrorText        string    `json:"error_text,omitempty"`
}

// Success reports whether the job reached a terminal success state.
func (r JobRecord) Success() bool {
	return r.ErrorText == ""
}

// Sample is one periodic aggregate snapshot over the rolling window.
// Samples are immutable once emitted and append-only within a run.
type Sample struct {
	ID            string    `json:"id"`
	RunID         string    `json:"run_id"`
	Timestamp     time.Time `json:"ts"`
	WindowSec     int       `json:"window_sec"`
	Concurrency   int       `json:"concurrency"`
	QueueDepth    int       `json:"queue_depth"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         int64     `json:"p50_ms"`
	P95Ms         int64     `json:"p95_ms"`
	ErrorRate     float64   `json:"error_rate"`
	TokensIn      int64     `json:"tokens_in"`
	TokensOut     int64     `json:"tokens_out"`
}

// RunSummary aggregates a whole run for benchmark reports.
type RunSummary struct {
	RunID           string  `json:"run_id"`
	ModelID         string  `json:"model_id"`
	Host            string  `json:"host"`
	TotalJobs       int64   `json:"total_jobs"`
	FailedJobs      int64   `json:"failed_jobs"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	MaxLatencyMs    int64   `json:"max_latency_ms"`
	TotalTokensOut  int64   `json:"total_tokens_out"`
	BestThroughput  float64 `json:"best_throughput_rps"`
	BestConcurrency int     `json:"best_concurrency"`
	BestP95Ms       int64   `json:"best_p95_ms"`
}

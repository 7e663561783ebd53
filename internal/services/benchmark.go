package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/convoforge/perfgen/internal/models"
)

// defaultPrompts exercise the stack when no prompt source is given.
var defaultPrompts = []string{
	"Generate a short conversation between a patient and receptionist scheduling an appointment.",
	"Create a brief dialogue about rescheduling a medical appointment.",
	"Write a conversation where a patient calls to cancel their appointment.",
	"Generate a short exchange about insurance verification for an appointment.",
	"Create a dialogue about scheduling an urgent same-day appointment.",
}

const (
	benchRejectBackoff = 100 * time.Millisecond
	benchSubmitPause   = 10 * time.Millisecond
	benchDrainPoll     = 250 * time.Millisecond
)

// BenchmarkOptions bounds a synthetic load run. At least one of Jobs or
// Duration must be set.
type BenchmarkOptions struct {
	Jobs       int
	Duration   time.Duration
	Pace       time.Duration
	PromptFile string
	Scenario   string
}

// Scenario is the YAML benchmark description accepted by the bench command.
type Scenario struct {
	Prompts     []string `yaml:"prompts"`
	Jobs        int      `yaml:"jobs"`
	DurationSec int      `yaml:"duration_sec"`
	PaceMs      int      `yaml:"pace_ms"`
}

// BenchmarkResult is what a finished benchmark reports.
type BenchmarkResult struct {
	Submitted int
	Rejected  int
	Elapsed   time.Duration
	Summary   *models.RunSummary
	Final     *models.Sample
}

// BenchmarkRunner drives synthetic load through the same queue, pool, and
// aggregator stack that serves production traffic.
type BenchmarkRunner struct {
	gen             *Generator
	logger          *slog.Logger
	scenarioPrompts []string
}

func NewBenchmarkRunner(gen *Generator, logger *slog.Logger) *BenchmarkRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &BenchmarkRunner{gen: gen, logger: logger.With("component", "bench")}
}

// Run submits jobs until a bound is hit, waits for the queue to drain, and
// returns the aggregate result.
func (r *BenchmarkRunner) Run(ctx context.Context, opts BenchmarkOptions) (*BenchmarkResult, error) {
	if err := r.applyScenario(&opts); err != nil {
		return nil, err
	}
	if opts.Jobs <= 0 && opts.Duration <= 0 {
		return nil, fmt.Errorf("benchmark needs a job count or a duration bound")
	}

	prompts, err := r.loadPrompts(opts)
	if err != nil {
		return nil, err
	}
	pace := opts.Pace
	if pace <= 0 {
		pace = benchSubmitPause
	}

	r.logger.Info("Benchmark starting",
		"prompts", len(prompts), "jobs", opts.Jobs, "duration", opts.Duration)

	start := time.Now()
	submitted, rejected := 0, 0

	for {
		if ctx.Err() != nil {
			break
		}
		if opts.Duration > 0 && time.Since(start) >= opts.Duration {
			break
		}
		if opts.Jobs > 0 && submitted >= opts.Jobs {
			break
		}

		if r.gen.Submit(prompts[submitted%len(prompts)]) {
			submitted++
			if submitted%100 == 0 {
				status := r.gen.Status()
				elapsed := time.Since(start).Seconds()
				r.logger.Info("Benchmark progress",
					"submitted", submitted,
					"rate", fmt.Sprintf("%.1f/s", float64(submitted)/elapsed),
					"concurrency", status.Concurrency,
					"queue_depth", status.QueueDepth)
			}
			sleepCtx(ctx, pace)
		} else {
			// Admission rejected: the queue is saturated, back off briefly.
			rejected++
			sleepCtx(ctx, benchRejectBackoff)
		}
	}

	r.logger.Info("Benchmark submission done, draining", "submitted", submitted, "rejected", rejected)
	r.waitForDrain(ctx)

	elapsed := time.Since(start)
	result := &BenchmarkResult{
		Submitted: submitted,
		Rejected:  rejected,
		Elapsed:   elapsed,
		Final:     r.gen.Tuner().LatestSample(),
	}
	if summary, err := r.gen.Telemetry().Summary(ctx); err != nil {
		r.logger.Warn("Could not read run summary", "error", err)
	} else {
		result.Summary = summary
	}
	return result, nil
}

func (r *BenchmarkRunner) waitForDrain(ctx context.Context) {
	lastLog := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		status := r.gen.Status()
		if status.QueueDepth == 0 && status.InFlight == 0 {
			return
		}
		if time.Since(lastLog) >= 2*time.Second {
			r.logger.Info("Waiting for completion",
				"queue_depth", status.QueueDepth, "in_flight", status.InFlight)
			lastLog = time.Now()
		}
		sleepCtx(ctx, benchDrainPoll)
	}
}

func (r *BenchmarkRunner) applyScenario(opts *BenchmarkOptions) error {
	if opts.Scenario == "" {
		return nil
	}
	data, err := os.ReadFile(opts.Scenario)
	if err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return fmt.Errorf("parse scenario: %w", err)
	}
	if opts.Jobs == 0 {
		opts.Jobs = sc.Jobs
	}
	if opts.Duration == 0 && sc.DurationSec > 0 {
		opts.Duration = time.Duration(sc.DurationSec) * time.Second
	}
	if opts.Pace == 0 && sc.PaceMs > 0 {
		opts.Pace = time.Duration(sc.PaceMs) * time.Millisecond
	}
	if len(sc.Prompts) > 0 {
		r.scenarioPrompts = sc.Prompts
	}
	return nil
}

func (r *BenchmarkRunner) loadPrompts(opts BenchmarkOptions) ([]string, error) {
	if len(r.scenarioPrompts) > 0 {
		return r.scenarioPrompts, nil
	}
	if opts.PromptFile != "" {
		data, err := os.ReadFile(opts.PromptFile)
		if err != nil {
			return nil, fmt.Errorf("read prompt file: %w", err)
		}
		var prompts []string
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				prompts = append(prompts, line)
			}
		}
		if len(prompts) == 0 {
			return nil, fmt.Errorf("prompt file %s is empty", opts.PromptFile)
		}
		return prompts, nil
	}
	return defaultPrompts, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/convoforge/perfgen/internal/services"
	"github.com/convoforge/perfgen/internal/upstream"
	"github.com/convoforge/perfgen/pkg/server"
)

var benchOpts struct {
	jobs        int
	durationSec int
	paceMs      int
	promptFile  string
	scenario    string
	model       string
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Drive synthetic load through the dispatcher and report aggregates",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, repo, err := bootstrap()
		if err != nil {
			return err
		}
		if benchOpts.model != "" {
			cfg.ModelID = benchOpts.model
		}

		gen := services.NewGenerator(cfg, upstream.NewClient(cfg), repo, slog.Default())
		srv := server.NewServer(cfg.MetricsAddr, gen, slog.Default())

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		gen.Start(ctx)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("HTTP server failed", "error", err)
			}
		}()

		runner := services.NewBenchmarkRunner(gen, slog.Default())
		result, err := runner.Run(ctx, services.BenchmarkOptions{
			Jobs:       benchOpts.jobs,
			Duration:   time.Duration(benchOpts.durationSec) * time.Second,
			Pace:       time.Duration(benchOpts.paceMs) * time.Millisecond,
			PromptFile: benchOpts.promptFile,
			Scenario:   benchOpts.scenario,
		})

		gen.Stop(context.Background())
		if err != nil {
			return err
		}

		printSummary(result, gen.Status())
		return nil
	},
}

func printSummary(result *services.BenchmarkResult, status services.Status) {
	w := os.Stdout
	fmt.Fprintln(w, "============================================================")
	fmt.Fprintln(w, "BENCHMARK SUMMARY")
	fmt.Fprintln(w, "============================================================")
	fmt.Fprintf(w, "Duration:          %.1fs\n", result.Elapsed.Seconds())
	fmt.Fprintf(w, "Jobs Submitted:    %d\n", result.Submitted)
	fmt.Fprintf(w, "Jobs Rejected:     %d\n", result.Rejected)
	if s := result.Summary; s != nil {
		fmt.Fprintf(w, "Run ID:            %s\n", s.RunID)
		fmt.Fprintf(w, "Model:             %s\n", s.ModelID)
		fmt.Fprintf(w, "Host:              %s\n", s.Host)
		fmt.Fprintf(w, "Jobs Completed:    %d\n", s.TotalJobs)
		fmt.Fprintf(w, "Jobs Failed:       %d\n", s.FailedJobs)
		fmt.Fprintf(w, "Average Latency:   %.1f ms\n", s.AvgLatencyMs)
		fmt.Fprintf(w, "Max Latency:       %d ms\n", s.MaxLatencyMs)
		fmt.Fprintf(w, "Total Tokens Out:  %d\n", s.TotalTokensOut)
		fmt.Fprintf(w, "Best Throughput:   %.2f rps at concurrency %d (p95 %d ms)\n",
			s.BestThroughput, s.BestConcurrency, s.BestP95Ms)
	} else {
		fmt.Fprintln(w, "No telemetry store configured - limited summary available")
	}
	fmt.Fprintf(w, "Final Concurrency: %d\n", status.Concurrency)
	fmt.Fprintf(w, "Final Queue Depth: %d\n", status.QueueDepth)
}

func init() {
	benchCmd.Flags().IntVar(&benchOpts.jobs, "jobs", 0, "Number of jobs to submit")
	benchCmd.Flags().IntVar(&benchOpts.durationSec, "duration-sec", 0, "Duration bound in seconds")
	benchCmd.Flags().IntVar(&benchOpts.paceMs, "pace-ms", 0, "Delay between submissions in milliseconds")
	benchCmd.Flags().StringVar(&benchOpts.promptFile, "prompt-file", "", "File with prompts, one per line")
	benchCmd.Flags().StringVar(&benchOpts.scenario, "scenario", "", "YAML scenario file")
	benchCmd.Flags().StringVar(&benchOpts.model, "model", "", "Model ID override")
	rootCmd.AddCommand(benchCmd)
}

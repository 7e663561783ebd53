package cli

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/convoforge/perfgen/internal/config"
	"github.com/convoforge/perfgen/internal/repository"
	"github.com/convoforge/perfgen/internal/store"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "perfgen",
	Short: "Adaptive-concurrency LLM completion dispatcher",
	Long: `perfgen dispatches completion requests to an OpenAI-compatible endpoint
through a bounded worker pool, tunes concurrency from rolling-window
feedback, and records run/sample/job telemetry.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Optional .env file to load")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// bootstrap installs logging, loads configuration, and opens the telemetry
// store. An unreachable store degrades to logging-only telemetry rather
// than refusing to start.
func bootstrap() (*config.Config, repository.Repository, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}

	_ = os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Warn("Telemetry store unavailable, degrading to logging-only telemetry",
			"db_path", cfg.DBPath, "error", err)
		return cfg, nil, nil
	}
	return cfg, repository.NewSQLiteRepository(db), nil
}

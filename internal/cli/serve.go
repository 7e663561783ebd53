package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/convoforge/perfgen/internal/services"
	"github.com/convoforge/perfgen/internal/upstream"
	"github.com/convoforge/perfgen/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatcher and its metrics surface until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, repo, err := bootstrap()
		if err != nil {
			return err
		}

		gen := services.NewGenerator(cfg, upstream.NewClient(cfg), repo, slog.Default())
		srv := server.NewServer(cfg.MetricsAddr, gen, slog.Default())

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		gen.Start(ctx)

		srvErr := make(chan error, 1)
		go func() {
			srvErr <- srv.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			slog.Info("Shutdown signal received")
		case err := <-srvErr:
			if err != nil {
				slog.Error("HTTP server failed", "error", err)
			}
		}

		// Drain in-flight jobs and stamp the run end before exiting.
		gen.Stop(context.Background())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

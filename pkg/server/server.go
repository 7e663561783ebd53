package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/convoforge/perfgen/internal/handlers"
	"github.com/convoforge/perfgen/internal/services"
)

const shutdownGrace = 5 * time.Second

// Server hosts the metrics surface: pull snapshot, sample history, and the
// websocket push stream.
type Server struct {
	httpAddr string
	gen      *services.Generator
	logger   *slog.Logger
}

func NewServer(httpAddr string, gen *services.Generator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpAddr: httpAddr,
		gen:      gen,
		logger:   logger.With("component", "http"),
	}
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	metricsHandler := handlers.NewMetricsHandler(s.gen, s.logger)
	metricsHandler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:    s.httpAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", "addr", s.httpAddr,
			"endpoints", []string{"/metrics", "/samples", "/ws", "/healthz"})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

package services

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/convoforge/perfgen/internal/config"
	"github.com/convoforge/perfgen/internal/models"
)

// SampleFeed publishes every emitted sample to a NATS subject so external
// dashboards can follow a run without touching the store. The feed is
// optional: connection failures at startup disable it with a warning.
type SampleFeed struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewSampleFeed connects to NATS when configured. It returns nil (a valid,
// disabled feed) when no URL is set or the connection fails.
func NewSampleFeed(cfg *config.Config, logger *slog.Logger) *SampleFeed {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "feed")

	if cfg.NatsURL == "" {
		return nil
	}
	conn, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		logger.Warn("Sample feed disabled, could not connect to NATS", "url", cfg.NatsURL, "error", err)
		return nil
	}
	subject := fmt.Sprintf("%s.%s", cfg.SampleSubject, cfg.ModelID)
	logger.Info("Sample feed connected", "url", cfg.NatsURL, "subject", subject)
	return &SampleFeed{conn: conn, subject: subject, logger: logger}
}

// PublishSample pushes one sample, best-effort.
func (f *SampleFeed) PublishSample(sample models.Sample) {
	if f == nil {
		return
	}
	data, err := json.Marshal(sample)
	if err != nil {
		f.logger.Error("Failed to marshal sample", "error", err)
		return
	}
	if err := f.conn.Publish(f.subject, data); err != nil {
		f.logger.Warn("Failed to publish sample", "subject", f.subject, "error", err)
	}
}

// Close drains the connection. Safe on a nil feed.
func (f *SampleFeed) Close() {
	if f == nil {
		return
	}
	f.conn.Close()
}

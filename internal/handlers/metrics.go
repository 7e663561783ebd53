package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/convoforge/perfgen/internal/services"
	"github.com/convoforge/perfgen/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The metrics surface is an internal diagnostics endpoint.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MetricsHandler serves the pull snapshot and the push stream over the same
// sample flow. It is a derived view: the store stays the system of record.
type MetricsHandler struct {
	gen    *services.Generator
	logger *slog.Logger
}

func NewMetricsHandler(gen *services.Generator, logger *slog.Logger) *MetricsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsHandler{gen: gen, logger: logger.With("component", "metrics")}
}

func (h *MetricsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", h.handleSnapshot)
	mux.HandleFunc("/samples", h.handleSamples)
	mux.HandleFunc("/ws", h.handleStream)
	mux.HandleFunc("/healthz", h.handleHealth)
}

func (h *MetricsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSnapshot returns the latest sample plus live pool state.
func (h *MetricsHandler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.gen.Status())
}

// handleSamples returns recently persisted samples for the active run.
func (h *MetricsHandler) handleSamples(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	samples, err := h.gen.Telemetry().LatestSamples(r.Context(), limit)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(samples)
}

// handleStream upgrades to a websocket and subscribes the peer to every
// newly emitted sample.
func (h *MetricsHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	client := ws.NewWSClient(conn)
	h.gen.Hub().Register(client)
	h.logger.Debug("Stream subscriber connected", "remote", r.RemoteAddr)

	// Replay the latest sample so a new subscriber is not blind until the
	// next tick.
	if latest := h.gen.Tuner().LatestSample(); latest != nil {
		if payload, err := json.Marshal(latest); err == nil {
			_ = client.Send(payload)
		}
	}

	// The read loop only watches for the peer going away.
	go func() {
		defer func() {
			h.gen.Hub().Unregister(client)
			client.Close()
			h.logger.Debug("Stream subscriber disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

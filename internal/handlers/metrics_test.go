package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoforge/perfgen/internal/config"
	"github.com/convoforge/perfgen/internal/models"
	"github.com/convoforge/perfgen/internal/repository"
	"github.com/convoforge/perfgen/internal/services"
	"github.com/convoforge/perfgen/internal/upstream"
)

type stubCompleter struct{}

func (stubCompleter) Complete(ctx context.Context, job models.Job) (*upstream.Completion, error) {
	return &upstream.Completion{Text: "ok", PromptTokens: 1, CompletionTokens: 1, HTTPStatus: 200}, nil
}

// brokenRepo fails every read so handler error paths can be exercised.
type brokenRepo struct{}

func (brokenRepo) Run() repository.RunRepositoryInterface       { return brokenRunRepo{} }
func (brokenRepo) Sample() repository.SampleRepositoryInterface { return brokenSampleRepo{} }
func (brokenRepo) Job() repository.JobRepositoryInterface       { return brokenJobRepo{} }

var errStore = errors.New("store offline")

type brokenRunRepo struct{}

func (brokenRunRepo) CreateRun(context.Context, *models.Run) error { return errStore }
func (brokenRunRepo) FinishRun(context.Context, string) error      { return errStore }
func (brokenRunRepo) GetRun(context.Context, string) (*models.Run, error) {
	return nil, errStore
}
func (brokenRunRepo) GetRunSummary(context.Context, string) (*models.RunSummary, error) {
	return nil, errStore
}

type brokenSampleRepo struct{}

func (brokenSampleRepo) InsertSample(context.Context, *models.Sample) error { return errStore }
func (brokenSampleRepo) ListSamples(context.Context, string, int) ([]*models.Sample, error) {
	return nil, errStore
}

type brokenJobRepo struct{}

func (brokenJobRepo) InsertJob(context.Context, *models.JobRecord) error { return errStore }
func (brokenJobRepo) GetJob(context.Context, string) (*models.JobRecord, error) {
	return nil, errStore
}
func (brokenJobRepo) CountJobs(context.Context, string) (int64, error) { return 0, errStore }

func testMetricsServer(t *testing.T, repo repository.Repository) (*httptest.Server, *services.Generator) {
	t.Helper()
	cfg := &config.Config{
		ModelID:          "test-model",
		ConcurrencyMin:   2,
		ConcurrencyMax:   6,
		ConcurrencyStart: 2,
		QueueMax:         8,
		MaxRetries:       1,
		DrainTimeout:     100 * time.Millisecond,
		SampleWindow:     30 * time.Second,
		TuneInterval:     15 * time.Second,
		TuneStep:         1,
		TargetP95Ms:      2500,
		TargetErrorRate:  0.03,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen := services.NewGenerator(cfg, stubCompleter{}, repo, logger)

	mux := http.NewServeMux()
	NewMetricsHandler(gen, logger).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, gen
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testMetricsServer(t, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestSnapshotEndpoint(t *testing.T) {
	srv, _ := testMetricsServer(t, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var status services.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.False(t, status.Running)
	assert.Equal(t, "test-model", status.ModelID)
	assert.Nil(t, status.Latest)
}

func TestSamplesEndpointWithoutStore(t *testing.T) {
	srv, _ := testMetricsServer(t, nil)

	resp, err := http.Get(srv.URL + "/samples")
	require.NoError(t, err)
	defer resp.Body.Close()

	// Logging-only mode has nothing persisted, but it is not an error.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSamplesEndpointStoreFailure(t *testing.T) {
	srv, _ := testMetricsServer(t, brokenRepo{})

	resp, err := http.Get(srv.URL + "/samples")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStreamReplaysAndBroadcasts(t *testing.T) {
	srv, gen := testMetricsServer(t, nil)

	// One tick so a new subscriber has something to replay.
	replayed := gen.Tuner().Tick(context.Background())

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var first models.Sample
	require.NoError(t, json.Unmarshal(payload, &first))
	assert.Equal(t, replayed.ID, first.ID)

	// Subsequent ticks arrive over the live stream.
	next := gen.Tuner().Tick(context.Background())

	_, payload, err = conn.ReadMessage()
	require.NoError(t, err)
	var second models.Sample
	require.NoError(t, json.Unmarshal(payload, &second))
	assert.Equal(t, next.ID, second.ID)
}

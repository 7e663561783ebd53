package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.ConcurrencyMin)
	assert.Equal(t, 6, cfg.ConcurrencyMax)
	assert.Equal(t, cfg.ConcurrencyMin, cfg.ConcurrencyStart)
	assert.Equal(t, 8, cfg.QueueMax)
	assert.Equal(t, int64(2500), cfg.TargetP95Ms)
	assert.InDelta(t, 0.03, cfg.TargetErrorRate, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.SampleWindow)
	assert.Equal(t, 15*time.Second, cfg.TuneInterval)
	assert.Equal(t, 30*time.Second, cfg.DrainTimeout)
	assert.Equal(t, ":8088", cfg.MetricsAddr)
	assert.NotEmpty(t, cfg.EndpointURL)
	assert.NotEmpty(t, cfg.ModelID)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("CONCURRENCY_MIN", "3")
	t.Setenv("CONCURRENCY_MAX", "12")
	t.Setenv("CONCURRENCY_START", "5")
	t.Setenv("TARGET_P95_MS", "1800")
	t.Setenv("SAMPLE_WINDOW_SEC", "45")
	t.Setenv("TUNE_INTERVAL_SEC", "500ms")
	t.Setenv("MODEL_ID", "qwen2.5-7b-instruct")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.ConcurrencyMin)
	assert.Equal(t, 12, cfg.ConcurrencyMax)
	assert.Equal(t, 5, cfg.ConcurrencyStart)
	assert.Equal(t, int64(1800), cfg.TargetP95Ms)
	assert.Equal(t, 45*time.Second, cfg.SampleWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.TuneInterval)
	assert.Equal(t, "qwen2.5-7b-instruct", cfg.ModelID)
}

func TestLoadDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"# perfgen settings\n"+
			"QUEUE_MAX = 32\n"+
			"RUN_NOTES=nightly soak\n"+
			"\n"+
			"malformed line without equals\n"), 0o644))
	t.Setenv("QUEUE_MAX", "")
	t.Setenv("RUN_NOTES", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.QueueMax)
	assert.Equal(t, "nightly soak", cfg.RunNotes)
}

func TestValidateRejectsBadBounds(t *testing.T) {
	base := func() *Config {
		return &Config{
			ConcurrencyMin:   2,
			ConcurrencyMax:   6,
			ConcurrencyStart: 2,
			QueueMax:         8,
			TuneStep:         1,
			TargetErrorRate:  0.03,
			SampleWindow:     30 * time.Second,
			TuneInterval:     15 * time.Second,
		}
	}

	require.NoError(t, base().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"min below one", func(c *Config) { c.ConcurrencyMin = 0 }},
		{"max below min", func(c *Config) { c.ConcurrencyMax = 1 }},
		{"start below min", func(c *Config) { c.ConcurrencyStart = 1 }},
		{"start above max", func(c *Config) { c.ConcurrencyStart = 7 }},
		{"queue below one", func(c *Config) { c.QueueMax = 0 }},
		{"step below one", func(c *Config) { c.TuneStep = 0 }},
		{"error rate above one", func(c *Config) { c.TargetErrorRate = 1.5 }},
		{"zero window", func(c *Config) { c.SampleWindow = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "45")
	assert.Equal(t, 45*time.Second, getEnvDuration("TEST_DUR", "10s"))

	t.Setenv("TEST_DUR", "250ms")
	assert.Equal(t, 250*time.Millisecond, getEnvDuration("TEST_DUR", "10s"))

	t.Setenv("TEST_DUR", "garbage")
	assert.Equal(t, 10*time.Second, getEnvDuration("TEST_DUR", "10s"))

	t.Setenv("TEST_DUR", "")
	assert.Equal(t, 10*time.Second, getEnvDuration("TEST_DUR", "10s"))
}

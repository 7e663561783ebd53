package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Upstream endpoint
	EndpointURL    string
	ModelID        string
	MaxTokens      int
	Temperature    float64
	RequestTimeout time.Duration
	MaxRetries     int
	BackoffCap     time.Duration

	// Concurrency bounds
	ConcurrencyMin   int
	ConcurrencyMax   int
	ConcurrencyStart int
	QueueMax         int
	DrainTimeout     time.Duration

	// Tuning targets
	TargetP95Ms     int64
	TargetErrorRate float64
	SampleWindow    time.Duration
	TuneInterval    time.Duration
	TuneStep        int

	// Metrics surface
	MetricsAddr string

	// Sample feed (optional)
	NatsURL       string
	SampleSubject string

	// Database
	DBPath string

	// Run metadata
	RunNotes string
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := loadDotEnv(envFile); err != nil {
			slog.Warn("Could not load env file", "file", envFile, "error", err)
		} else {
			slog.Info("Environment loaded", "file", envFile)
		}
	}

	cfg := &Config{
		EndpointURL:    getEnv("LLM_ENDPOINT", "http://127.0.0.1:1234/v1/chat/completions"),
		ModelID:        getEnv("MODEL_ID", "meta-llama-3-8b-instruct"),
		MaxTokens:      getEnvInt("MAX_TOKENS", 128),
		Temperature:    getEnvFloat("TEMPERATURE", 0.7),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT_SEC", "60s"),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		BackoffCap:     getEnvDuration("BACKOFF_CAP_SEC", "8s"),

		ConcurrencyMin:   getEnvInt("CONCURRENCY_MIN", 2),
		ConcurrencyMax:   getEnvInt("CONCURRENCY_MAX", 6),
		ConcurrencyStart: getEnvInt("CONCURRENCY_START", 0),
		QueueMax:         getEnvInt("QUEUE_MAX", 8),
		DrainTimeout:     getEnvDuration("DRAIN_TIMEOUT_SEC", "30s"),

		TargetP95Ms:     int64(getEnvInt("TARGET_P95_MS", 2500)),
		TargetErrorRate: getEnvFloat("TARGET_ERROR_RATE", 0.03),
		SampleWindow:    getEnvDuration("SAMPLE_WINDOW_SEC", "30s"),
		TuneInterval:    getEnvDuration("TUNE_INTERVAL_SEC", "15s"),
		TuneStep:        getEnvInt("TUNE_STEP", 1),

		MetricsAddr: getEnv("METRICS_ADDR", ":8088"),

		NatsURL:       getEnv("NATS_URL", ""),
		SampleSubject: getEnv("SAMPLE_SUBJECT_PREFIX", "perf.samples"),

		DBPath: getEnv("DB_PATH", "data/perf.sqlite"),

		RunNotes: getEnv("RUN_NOTES", "automated performance run"),
	}

	if cfg.ConcurrencyStart == 0 {
		cfg.ConcurrencyStart = cfg.ConcurrencyMin
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pool cannot start under. These are the
// only fatal configuration conditions.
func (c *Config) Validate() error {
	if c.ConcurrencyMin < 1 {
		return fmt.Errorf("CONCURRENCY_MIN must be >= 1, got %d", c.ConcurrencyMin)
	}
	if c.ConcurrencyMax < c.ConcurrencyMin {
		return fmt.Errorf("CONCURRENCY_MAX (%d) must be >= CONCURRENCY_MIN (%d)", c.ConcurrencyMax, c.ConcurrencyMin)
	}
	if c.ConcurrencyStart < c.ConcurrencyMin || c.ConcurrencyStart > c.ConcurrencyMax {
		return fmt.Errorf("CONCURRENCY_START (%d) must be within [%d, %d]", c.ConcurrencyStart, c.ConcurrencyMin, c.ConcurrencyMax)
	}
	if c.QueueMax < 1 {
		return fmt.Errorf("QUEUE_MAX must be >= 1, got %d", c.QueueMax)
	}
	if c.TuneStep < 1 {
		return fmt.Errorf("TUNE_STEP must be >= 1, got %d", c.TuneStep)
	}
	if c.TargetErrorRate < 0 || c.TargetErrorRate > 1 {
		return fmt.Errorf("TARGET_ERROR_RATE must be within [0, 1], got %f", c.TargetErrorRate)
	}
	if c.SampleWindow <= 0 || c.TuneInterval <= 0 {
		return fmt.Errorf("SAMPLE_WINDOW_SEC and TUNE_INTERVAL_SEC must be positive")
	}
	return nil
}

func loadDotEnv(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvDuration accepts either a Go duration string or a bare number of
// seconds, matching the *_SEC naming of the environment variables.
func getEnvDuration(key, defaultVal string) time.Duration {
	val := getEnv(key, defaultVal)
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaultVal)
	return d
}

package services

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/convoforge/perfgen/internal/models"
)

const defaultBufferCap = 1000

// WindowStats summarizes the job records inside one rolling window.
// A window with Total == 0 carries no tuning signal.
type WindowStats struct {
	ThroughputRPS float64
	P50Ms         int64
	P95Ms         int64
	ErrorRate     float64
	Total         int
	Failed        int
	TokensIn      int64
	TokensOut     int64
	WindowSec     int
}

// SampleAggregator keeps a bounded buffer of recent job records and computes
// rolling-window statistics on demand. Records are immutable after handoff.
type SampleAggregator struct {
	mu        sync.Mutex
	window    time.Duration
	bufferCap int
	records   []models.JobRecord
	now       func() time.Time
}

func NewSampleAggregator(window time.Duration, bufferCap int) *SampleAggregator {
	if bufferCap <= 0 {
		bufferCap = defaultBufferCap
	}
	return &SampleAggregator{
		window:    window,
		bufferCap: bufferCap,
		now:       time.Now,
	}
}

// Record appends a terminal job outcome, evicting the oldest entry when the
// buffer is full.
func (a *SampleAggregator) Record(rec models.JobRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	if len(a.records) > a.bufferCap {
		a.records = a.records[len(a.records)-a.bufferCap:]
	}
}

// Snapshot computes statistics over records that finished inside the window.
// An empty window yields zeroed stats with Total == 0; the caller must treat
// that as a no-signal tick rather than a perfect one.
func (a *SampleAggregator) Snapshot() WindowStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-a.window)

	// Drop aged-out records so the buffer does not accumulate between
	// bursts of traffic.
	kept := a.records[:0]
	for _, rec := range a.records {
		if rec.FinishedAt.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	a.records = kept

	stats := WindowStats{WindowSec: int(a.window / time.Second)}
	if len(a.records) == 0 {
		return stats
	}

	latencies := make([]int64, 0, len(a.records))
	for _, rec := range a.records {
		stats.Total++
		if !rec.Success() {
			stats.Failed++
		}
		stats.TokensIn += int64(rec.PromptTokens)
		stats.TokensOut += int64(rec.CompletionTokens)
		latencies = append(latencies, rec.LatencyMs)
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	stats.P50Ms = percentile(latencies, 0.50)
	stats.P95Ms = percentile(latencies, 0.95)
	stats.ErrorRate = float64(stats.Failed) / float64(stats.Total)
	stats.ThroughputRPS = float64(stats.Total) / a.window.Seconds()
	return stats
}

// percentile interpolates linearly between the two nearest ranks of an
// ascending-sorted latency slice.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := p * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	weight := pos - float64(lower)
	return int64(math.Round(float64(sorted[lower])*(1-weight) + float64(sorted[upper])*weight))
}

package window

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/logsentinel/sentinel/internal/models"
)

// DefaultRetention is the buffer horizon used when none is configured.
const DefaultRetention = 10 * time.Minute

// Clock supplies the current time. Tests inject a simulated clock.
type Clock func() time.Time

// Engine keeps a time-ordered buffer of recent events and answers windowed
// aggregate queries over it, per source and globally. All windows are views
// over the same buffer.
type Engine struct {
	mu        sync.RWMutex
	buffer    []models.Event
	retention time.Duration
	now       Clock
	logger    *slog.Logger
}

// Stats summarises the buffer for health reporting.
type Stats struct {
	BufferSize       int
	RetentionMinutes float64
	PerWindowCounts  map[string]int
}

// NewEngine constructs an Engine. A zero retention selects DefaultRetention
// and a nil clock selects time.Now.
func NewEngine(retention time.Duration, clock Clock, logger *slog.Logger) *Engine {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{retention: retention, now: clock, logger: logger}
}

// Retention returns the configured buffer horizon.
func (e *Engine) Retention() time.Duration {
	return e.retention
}

// Ingest adds ev to the buffer and evicts everything older than the
// retention horizon. Events without a timestamp are stamped with the
// current time. The event is visible to queries issued after Ingest returns.
func (e *Engine) Ingest(ev models.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ingestLocked(ev)
}

func (e *Engine) ingestLocked(ev models.Event) {
	now := e.now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	// Keep non-decreasing order even when a late event arrives.
	n := len(e.buffer)
	if n == 0 || !ev.Timestamp.Before(e.buffer[n-1].Timestamp) {
		e.buffer = append(e.buffer, ev)
	} else {
		idx := sort.Search(n, func(i int) bool {
			return e.buffer[i].Timestamp.After(ev.Timestamp)
		})
		e.buffer = append(e.buffer, models.Event{})
		copy(e.buffer[idx+1:], e.buffer[idx:])
		e.buffer[idx] = ev
	}

	e.evictLocked(now)
}

func (e *Engine) evictLocked(now time.Time) {
	cutoff := now.Add(-e.retention)
	expired := firstNotBefore(e.buffer, cutoff)
	if expired == 0 {
		return
	}
	for i := 0; i < expired; i++ {
		e.buffer[i] = models.Event{}
	}
	e.buffer = e.buffer[expired:]
	e.logger.Debug("evicted expired events", slog.Int("count", expired), slog.Int("buffer", len(e.buffer)))
}

// Windowed returns a snapshot of the events inside the window, optionally
// restricted to one source. An empty source means all sources.
func (e *Engine) Windowed(key, source string) []models.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return filterSource(e.viewLocked(e.now(), Duration(key)), source)
}

func (e *Engine) viewLocked(now time.Time, horizon time.Duration) []models.Event {
	start := firstNotBefore(e.buffer, now.Add(-horizon))
	return e.buffer[start:]
}

// RequestCount counts the source's events in the window.
func (e *Engine) RequestCount(source, key string) int {
	return len(e.Windowed(key, source))
}

// AvgLatency is the mean latency over the window; 0 when empty.
func (e *Engine) AvgLatency(source, key string) float64 {
	return avgLatency(e.Windowed(key, source))
}

// AvgBytes is the mean estimated request size over the window; 0 when empty.
func (e *Engine) AvgBytes(source, key string) float64 {
	return avgBytes(e.Windowed(key, source))
}

// ErrorRate is the fraction of events with status >= 400; 0 when empty.
func (e *Engine) ErrorRate(source, key string) float64 {
	return errorRate(e.Windowed(key, source))
}

// ErrorRateSlope is the one minute error rate minus the five minute rate.
// Positive means errors are rising. It is a coarse two-point difference, not
// a fitted trend.
func (e *Engine) ErrorRateSlope(source string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	now := e.now()
	events := filterSource(e.viewLocked(now, Duration(Key5Min)), source)
	return slope(events, now)
}

// UniquePathCount is the number of distinct paths the source hit in the window.
func (e *Engine) UniquePathCount(source, key string) int {
	return uniquePaths(e.Windowed(key, source))
}

// MethodEntropy is the Shannon entropy in bits of the method distribution.
func (e *Engine) MethodEntropy(source, key string) float64 {
	return methodEntropy(e.Windowed(key, source))
}

// ExtractFeatures ingests ev and then computes the temporal feature set for
// its source plus the global counterparts. The event counts toward its own
// aggregates. All features are computed from one consistent snapshot.
func (e *Engine) ExtractFeatures(ev models.Event) models.TemporalFeatures {
	e.mu.Lock()
	e.ingestLocked(ev)
	now := e.now()
	all5 := e.viewLocked(now, Duration(Key5Min))
	all1 := all5[firstNotBefore(all5, now.Add(-Duration(Key1Min))):]
	src5 := filterSource(all5, ev.SourceID)
	src1 := filterSource(all1, ev.SourceID)
	global1Errors := errorRate(all1)
	global1Count := len(all1)
	e.mu.Unlock()

	return models.TemporalFeatures{
		FeatReqCount1Min:       float64(len(src1)),
		FeatReqCount5Min:       float64(len(src5)),
		FeatAvgLatency1Min:     avgLatency(src1),
		FeatAvgLatency5Min:     avgLatency(src5),
		FeatAvgBytes5Min:       avgBytes(src5),
		FeatErrorRate1Min:      errorRate(src1),
		FeatErrorRate5Min:      errorRate(src5),
		FeatErrorRateSlope:     errorRate(src1) - errorRate(src5),
		FeatUniquePaths1Min:    float64(uniquePaths(src1)),
		FeatMethodEntropy:      methodEntropy(src1),
		FeatGlobalReqCount1Min: float64(global1Count),
		FeatGlobalErrRate1Min:  global1Errors,
	}
}

// TemporalVector flattens features into TemporalVectorOrder. Missing keys
// read as 0.
func TemporalVector(features models.TemporalFeatures) []float64 {
	vec := make([]float64, len(TemporalVectorOrder))
	for i, key := range TemporalVectorOrder {
		vec[i] = features[key]
	}
	return vec
}

// Stats reports the buffer size and per-window counts.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.now()
	counts := make(map[string]int, len(Keys))
	for _, key := range Keys {
		counts[key] = len(e.viewLocked(now, Duration(key)))
	}
	return Stats{
		BufferSize:       len(e.buffer),
		RetentionMinutes: e.retention.Minutes(),
		PerWindowCounts:  counts,
	}
}

// Telemetry is the read-only dashboard snapshot. Rates are global over the
// one minute window; BurstScore compares the last minute with the five
// minute per-minute mean.
func (e *Engine) Telemetry() models.WindowTelemetry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.now()
	counts := make(map[string]int, len(Keys))
	for _, key := range Keys {
		counts[key] = len(e.viewLocked(now, Duration(key)))
	}
	last := e.viewLocked(now, Duration(Key1Min))

	burst := 0.0
	if perMinute := float64(counts[Key5Min]) / 5; perMinute > 0 {
		burst = float64(counts[Key1Min]) / perMinute
	}

	return models.WindowTelemetry{
		BufferSize:       len(e.buffer),
		RetentionMinutes: e.retention.Minutes(),
		PerWindowCounts:  counts,
		ErrorRate:        errorRate(last),
		MethodEntropy:    methodEntropy(last),
		AvgLatency:       avgLatency(last),
		BurstScore:       burst,
		CapturedAt:       now,
	}
}

// Clear empties the buffer.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = nil
	e.logger.Info("sliding window cleared")
}

// firstNotBefore returns the index of the first event at or after cutoff.
func firstNotBefore(events []models.Event, cutoff time.Time) int {
	return sort.Search(len(events), func(i int) bool {
		return !events[i].Timestamp.Before(cutoff)
	})
}

// filterSource copies events, keeping only source when it is non-empty.
func filterSource(events []models.Event, source string) []models.Event {
	out := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if source == "" || ev.SourceID == source {
			out = append(out, ev)
		}
	}
	return out
}

func slope(events []models.Event, now time.Time) float64 {
	recent := events[firstNotBefore(events, now.Add(-Duration(Key1Min))):]
	return errorRate(recent) - errorRate(events)
}

func avgLatency(events []models.Event) float64 {
	if len(events) == 0 {
		return 0
	}
	total := 0.0
	for _, ev := range events {
		total += ev.LatencyMs
	}
	return total / float64(len(events))
}

func avgBytes(events []models.Event) float64 {
	if len(events) == 0 {
		return 0
	}
	total := 0.0
	for _, ev := range events {
		total += ev.EstimatedBytes()
	}
	return total / float64(len(events))
}

func errorRate(events []models.Event) float64 {
	if len(events) == 0 {
		return 0
	}
	errs := 0
	for _, ev := range events {
		if ev.IsError() {
			errs++
		}
	}
	return float64(errs) / float64(len(events))
}

func uniquePaths(events []models.Event) int {
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		seen[ev.Path] = struct{}{}
	}
	return len(seen)
}

func methodEntropy(events []models.Event) float64 {
	if len(events) == 0 {
		return 0
	}
	counts := make(map[models.HTTPMethod]int)
	for _, ev := range events {
		counts[ev.Method]++
	}
	total := float64(len(events))
	entropy := 0.0
	for _, c := range counts {
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels records that were evaluated and published.
	OutcomeSuccess = "success"
	// OutcomeInvalid labels records rejected at decode or validation.
	OutcomeInvalid = "invalid"
	// OutcomeError labels records that failed inside the pipeline.
	OutcomeError = "error"
)

const namespace = "sentinel"

var (
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Total number of evaluated events, partitioned by threat level.",
		},
		[]string{"threat_level"},
	)

	evaluationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_seconds",
			Help:      "Per-event evaluation latency in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	whitelistHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "whitelist_hits_total",
			Help:      "Events that skipped detection because their source is whitelisted.",
		},
	)

	attributionFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attribution_fallbacks_total",
			Help:      "Explanations that degraded to a label-only answer.",
		},
	)

	windowBufferEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_buffer_events",
			Help:      "Events currently retained by the sliding window.",
		},
	)

	feedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_total",
			Help:      "Analyst feedback submissions, partitioned by kind.",
		},
		[]string{"kind"},
	)

	ingestRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_records_total",
			Help:      "Stream records consumed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches sentinel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		evaluationsTotal,
		evaluationDurationSeconds,
		whitelistHitsTotal,
		attributionFallbacksTotal,
		windowBufferEvents,
		feedbackTotal,
		ingestRecordsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEvaluation records an evaluation duration and its threat level.
func ObserveEvaluation(duration time.Duration, threatLevel string) {
	evaluationsTotal.WithLabelValues(threatLevel).Inc()
	if duration < 0 {
		duration = 0
	}
	evaluationDurationSeconds.Observe(duration.Seconds())
}

// IncWhitelistHit counts a whitelist short-circuit.
func IncWhitelistHit() {
	whitelistHitsTotal.Inc()
}

// IncAttributionFallback counts a degraded explanation.
func IncAttributionFallback() {
	attributionFallbacksTotal.Inc()
}

// SetWindowBuffer publishes the current window buffer size.
func SetWindowBuffer(size int) {
	windowBufferEvents.Set(float64(size))
}

// IncFeedback counts one accepted feedback submission.
func IncFeedback(kind string) {
	feedbackTotal.WithLabelValues(kind).Inc()
}

// ObserveIngest counts a consumed stream record by outcome.
func ObserveIngest(outcome string) {
	switch outcome {
	case OutcomeSuccess, OutcomeInvalid:
	default:
		outcome = OutcomeError
	}
	ingestRecordsTotal.WithLabelValues(outcome).Inc()
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/logsentinel/sentinel/internal/ensemble"
	"github.com/logsentinel/sentinel/internal/extractors"
	"github.com/logsentinel/sentinel/internal/feedback"
	"github.com/logsentinel/sentinel/internal/metrics"
	"github.com/logsentinel/sentinel/internal/models"
	"github.com/logsentinel/sentinel/internal/utils"
	"github.com/logsentinel/sentinel/internal/window"
)

// ErrNotReady is returned while the ensemble has not been fitted or loaded.
var ErrNotReady = ensemble.ErrNotFitted

const (
	// WhitelistAdd and WhitelistRemove are the accepted whitelist actions.
	WhitelistAdd    = "add"
	WhitelistRemove = "remove"

	modelReady          = "ready"
	modelNotInitialized = "not_initialized"
)

// Detector is the consensus verdict capability the pipeline needs.
type Detector interface {
	Predict(x []float64) (*models.EnsembleResult, error)
	IsFitted() bool
	ModelInfo() models.ModelInfo
}

// Explainer attributes a verdict to individual features.
type Explainer interface {
	Explain(ctx context.Context, x []float64) (*models.Explanation, error)
	GlobalImportance(rows [][]float64, limit int) ([]models.FeatureImportance, error)
}

// Health is the liveness and readiness summary.
type Health struct {
	Status      string
	ModelStatus string
	Timestamp   time.Time
}

// Ready reports whether the model can serve predictions.
func (h Health) Ready() bool { return h.ModelStatus == modelReady }

// WhitelistUpdate reports the outcome of a whitelist change.
type WhitelistUpdate struct {
	Action        string
	SourceID      string
	Changed       bool
	WhitelistSize int
}

// Pipeline orchestrates the detection flow: whitelist check, windowed
// context, base features, ensemble consensus and severity.
type Pipeline struct {
	logger    *slog.Logger
	windows   *window.Engine
	detector  Detector
	explainer Explainer
	store     *feedback.Store
	extractor *extractors.FeatureExtractor
	severity  *SeverityRules
	now       func() time.Time

	importanceRows  [][]float64
	importanceLimit int
}

// NewPipeline constructs a detection pipeline. A nil window engine, store or
// rule table is replaced by an in-memory default; a nil detector leaves the
// pipeline permanently not ready.
func NewPipeline(
	logger *slog.Logger,
	windows *window.Engine,
	detector Detector,
	explainer Explainer,
	store *feedback.Store,
	severity *SeverityRules,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if windows == nil {
		windows = window.NewEngine(window.DefaultRetention, nil, logger)
	}
	if store == nil {
		store = feedback.NewStore(nil, logger)
	}
	if severity == nil {
		severity = DefaultSeverityRules()
	}

	return &Pipeline{
		logger:          logger,
		windows:         windows,
		detector:        detector,
		explainer:       explainer,
		store:           store,
		extractor:       extractors.NewFeatureExtractor(),
		severity:        severity,
		now:             time.Now,
		importanceLimit: 100,
	}
}

// UseImportanceSample sets the rows global importance is computed over and
// the per-call sample cap.
func (p *Pipeline) UseImportanceSample(rows [][]float64, limit int) {
	p.importanceRows = rows
	if limit > 0 {
		p.importanceLimit = limit
	}
}

// Store exposes the feedback store for administrative callers.
func (p *Pipeline) Store() *feedback.Store { return p.store }

// BuildEvent validates a wire event and applies the ingress defaults.
// A missing or unparsable timestamp becomes now.
func BuildEvent(req models.EventRequest, now time.Time) (models.Event, error) {
	source := strings.TrimSpace(req.SourceID)
	if source == "" {
		return models.Event{}, utils.MissingField("ip_address")
	}
	if strings.TrimSpace(req.Method) == "" {
		return models.Event{}, utils.MissingField("method")
	}
	if req.Path == "" {
		return models.Event{}, utils.MissingField("url")
	}
	if req.StatusCode == nil {
		return models.Event{}, utils.MissingField("status_code")
	}

	latency := models.DefaultLatencyMs
	if req.LatencyMs != nil {
		latency = *req.LatencyMs
	}
	if math.IsNaN(latency) || math.IsInf(latency, 0) {
		return models.Event{}, utils.NewValidationError("response_time", "must be a finite number")
	}
	client := req.ClientString
	if client == "" {
		client = models.DefaultClientString
	}
	ts, _ := utils.TimestampOrNow(req.Timestamp, now)

	return models.Event{
		SourceID:     source,
		Method:       models.NormalizeMethod(req.Method),
		Path:         req.Path,
		StatusCode:   *req.StatusCode,
		LatencyMs:    latency,
		ClientString: client,
		Timestamp:    ts,
	}, nil
}

func (p *Pipeline) ready() bool {
	return p.detector != nil && p.detector.IsFitted()
}

// Evaluate runs the full detection flow for one wire event.
func (p *Pipeline) Evaluate(ctx context.Context, req models.EventRequest) (*models.EvaluationResult, error) {
	ev, err := BuildEvent(req, p.now())
	if err != nil {
		return nil, err
	}
	return p.EvaluateEvent(ctx, ev)
}

// EvaluateEvent runs detection for an already built event. Whitelisted
// sources short-circuit to a normal verdict without touching the window or
// the ensemble.
func (p *Pipeline) EvaluateEvent(_ context.Context, ev models.Event) (*models.EvaluationResult, error) {
	start := time.Now()
	result := &models.EvaluationResult{
		CaseID:      uuid.NewString(),
		Event:       ev,
		ThreatLevel: models.ThreatNormal,
		EvaluatedAt: p.now().UTC(),
	}

	if p.store.IsWhitelisted(ev.SourceID) {
		result.Whitelisted = true
		metrics.IncWhitelistHit()
		metrics.ObserveEvaluation(time.Since(start), result.ThreatLevel.String())
		p.logger.Debug("whitelisted source skipped", slog.String("source", ev.SourceID))
		return result, nil
	}
	if !p.ready() {
		return nil, ErrNotReady
	}

	result.Temporal = p.windows.ExtractFeatures(ev)
	x := p.extractor.Extract(ev)

	verdict, err := p.detector.Predict(x)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	result.Ensemble = verdict
	result.ThreatLevel = verdict.ThreatLevel
	result.ConsensusScore = verdict.ConsensusScore
	result.SeverityScore = p.severity.Score(ev, verdict.ThreatLevel)

	metrics.ObserveEvaluation(time.Since(start), result.ThreatLevel.String())
	metrics.SetWindowBuffer(p.windows.Stats().BufferSize)
	p.logger.Debug("event evaluated",
		slog.String("case_id", result.CaseID),
		slog.String("source", ev.SourceID),
		slog.String("threat_level", result.ThreatLevel.String()),
		slog.Float64("consensus", result.ConsensusScore),
	)
	return result, nil
}

// EvaluateBatch evaluates each event independently. A failing event
// becomes an error item and the rest of the batch continues; only an empty
// batch or a not-ready ensemble fails the whole call. The anomaly rate is a
// percentage of every submitted event, failed ones included.
func (p *Pipeline) EvaluateBatch(ctx context.Context, reqs []models.EventRequest) (*models.BatchResult, error) {
	if len(reqs) == 0 {
		return nil, utils.NewValidationError("logs", "must not be empty")
	}
	if !p.ready() {
		return nil, ErrNotReady
	}

	out := &models.BatchResult{Items: make([]models.BatchItem, 0, len(reqs))}
	out.Summary.TotalProcessed = len(reqs)
	for i, req := range reqs {
		res, err := p.Evaluate(ctx, req)
		item := models.BatchItem{Index: i, Result: res, Err: err}
		out.Items = append(out.Items, item)

		switch {
		case err != nil:
			out.Summary.TotalErrors++
			p.logger.Debug("batch item rejected", slog.Int("index", i), slog.Any("error", err))
		case res.IsAnomaly():
			out.Summary.TotalAnomaly++
		default:
			out.Summary.TotalNormal++
		}
	}
	rate := float64(out.Summary.TotalAnomaly) / float64(out.Summary.TotalProcessed) * 100
	out.Summary.AnomalyRate = math.Round(rate*100) / 100
	return out, nil
}

// Explain attributes the reference scorer's verdict for one wire event.
// It does not touch the sliding window.
func (p *Pipeline) Explain(ctx context.Context, req models.EventRequest) (*models.Explanation, error) {
	ev, err := BuildEvent(req, p.now())
	if err != nil {
		return nil, err
	}
	if p.explainer == nil || !p.ready() {
		return nil, ErrNotReady
	}
	exp, err := p.explainer.Explain(ctx, p.extractor.Extract(ev))
	if err != nil {
		return nil, fmt.Errorf("explain: %w", err)
	}
	if exp.Degraded {
		metrics.IncAttributionFallback()
	}
	return exp, nil
}

// GlobalImportance ranks features by mean absolute attribution over the
// configured sample.
func (p *Pipeline) GlobalImportance() ([]models.FeatureImportance, error) {
	if p.explainer == nil || !p.ready() {
		return nil, ErrNotReady
	}
	if len(p.importanceRows) == 0 {
		return nil, utils.NewAppError("engine.GlobalImportance", "no importance sample configured", nil)
	}
	return p.explainer.GlobalImportance(p.importanceRows, p.importanceLimit)
}

// SubmitFeedback records an analyst correction. Scorers are not retrained.
func (p *Pipeline) SubmitFeedback(ctx context.Context, sub feedback.Submission) (models.Feedback, error) {
	fb, err := p.store.RecordFeedback(ctx, sub)
	if err != nil {
		return fb, err
	}
	metrics.IncFeedback(string(fb.Kind))
	return fb, nil
}

// FeedbackStats summarises recorded corrections.
func (p *Pipeline) FeedbackStats() models.FeedbackStats {
	return p.store.Stats()
}

// UpdateWhitelist adds or removes a source.
func (p *Pipeline) UpdateWhitelist(ctx context.Context, action, source, reason string) (WhitelistUpdate, error) {
	update := WhitelistUpdate{Action: strings.ToLower(strings.TrimSpace(action)), SourceID: strings.TrimSpace(source)}
	switch update.Action {
	case WhitelistAdd:
		if _, err := p.store.AddToWhitelist(ctx, source, reason); err != nil {
			return update, err
		}
		update.Changed = true
	case WhitelistRemove:
		removed, err := p.store.RemoveFromWhitelist(ctx, source)
		if err != nil {
			return update, err
		}
		update.Changed = removed
	default:
		return update, utils.NewValidationError("action", "must be add or remove")
	}
	update.WhitelistSize = len(p.store.Whitelist())
	return update, nil
}

// WindowStats is the read-only sliding window snapshot.
func (p *Pipeline) WindowStats() models.WindowTelemetry {
	t := p.windows.Telemetry()
	metrics.SetWindowBuffer(t.BufferSize)
	return t
}

// ModelInfo describes the ensemble.
func (p *Pipeline) ModelInfo() models.ModelInfo {
	if p.detector == nil {
		return models.ModelInfo{}
	}
	return p.detector.ModelInfo()
}

// Health reports liveness plus whether the model is ready.
func (p *Pipeline) Health() Health {
	h := Health{Status: "healthy", ModelStatus: modelNotInitialized, Timestamp: p.now().UTC()}
	if p.ready() {
		h.ModelStatus = modelReady
	}
	return h
}

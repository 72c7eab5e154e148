package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsentinel/sentinel/internal/extractors"
	"github.com/logsentinel/sentinel/internal/feedback"
	"github.com/logsentinel/sentinel/internal/models"
	"github.com/logsentinel/sentinel/internal/utils"
	"github.com/logsentinel/sentinel/internal/window"
)

type stubDetector struct {
	fitted bool
	level  models.ThreatLevel
	calls  atomic.Int32
	err    error
}

func (s *stubDetector) Predict(x []float64) (*models.EnsembleResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if len(x) != extractors.NumFeatures {
		return nil, errors.New("unexpected width")
	}
	return &models.EnsembleResult{
		ThreatLevel:    s.level,
		ConsensusScore: 0.25 * float64(s.level),
		AnomalyVotes:   int(s.level),
		TotalScorers:   3,
	}, nil
}

func (s *stubDetector) IsFitted() bool { return s.fitted }

func (s *stubDetector) ModelInfo() models.ModelInfo {
	return models.ModelInfo{EnsembleType: "stub", IsFitted: s.fitted}
}

type stubExplainer struct {
	degraded bool
	rows     int
	limit    int
}

func (s *stubExplainer) Explain(_ context.Context, x []float64) (*models.Explanation, error) {
	return &models.Explanation{Prediction: "anomaly", PredictionCode: -1, Degraded: s.degraded, OutputValue: x[extractors.FeatureStatusCode]}, nil
}

func (s *stubExplainer) GlobalImportance(rows [][]float64, limit int) ([]models.FeatureImportance, error) {
	s.rows, s.limit = len(rows), limit
	return []models.FeatureImportance{{Name: "status_code", Score: 1, Percentage: 100}}, nil
}

func intPtr(v int) *int { return &v }

func request(source string, status int) models.EventRequest {
	return models.EventRequest{SourceID: source, Method: "get", Path: "/index.html", StatusCode: intPtr(status)}
}

func newTestPipeline(t *testing.T, det Detector, exp Explainer) (*Pipeline, *window.Engine) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	logger := utils.DiscardLogger()
	windows := window.NewEngine(window.DefaultRetention, clock, logger)
	p := NewPipeline(logger, windows, det, exp, feedback.NewStore(nil, logger), nil)
	p.now = clock
	return p, windows
}

func TestBuildEventDefaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev, err := BuildEvent(models.EventRequest{
		SourceID:   " 10.0.0.1 ",
		Method:     "TRACE",
		Path:       "/",
		StatusCode: intPtr(404),
		Timestamp:  "not-a-time",
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ev.SourceID)
	assert.Equal(t, models.MethodGet, ev.Method)
	assert.Equal(t, models.DefaultLatencyMs, ev.LatencyMs)
	assert.Equal(t, models.DefaultClientString, ev.ClientString)
	assert.Equal(t, now, ev.Timestamp)
}

func TestBuildEventRequiredFields(t *testing.T) {
	cases := map[string]models.EventRequest{
		"ip_address":  {Method: "GET", Path: "/", StatusCode: intPtr(200)},
		"method":      {SourceID: "1.1.1.1", Path: "/", StatusCode: intPtr(200)},
		"url":         {SourceID: "1.1.1.1", Method: "GET", StatusCode: intPtr(200)},
		"status_code": {SourceID: "1.1.1.1", Method: "GET", Path: "/"},
	}
	for field, req := range cases {
		t.Run(field, func(t *testing.T) {
			_, err := BuildEvent(req, time.Now())
			verr, ok := utils.AsValidation(err)
			require.True(t, ok, "expected validation error, got %v", err)
			assert.Equal(t, field, verr.Field)
		})
	}
}

func TestEvaluateRunsEnsembleAndWindow(t *testing.T) {
	det := &stubDetector{fitted: true, level: models.ThreatHigh}
	p, windows := newTestPipeline(t, det, nil)

	req := request("10.0.0.1", 503)
	res, err := p.Evaluate(context.Background(), req)
	require.NoError(t, err)

	assert.NotEmpty(t, res.CaseID)
	assert.False(t, res.Whitelisted)
	assert.Equal(t, models.ThreatHigh, res.ThreatLevel)
	assert.InDelta(t, 0.5, res.ConsensusScore, 1e-12)
	assert.Equal(t, 70.0, res.SeverityScore)
	assert.Equal(t, 1.0, res.Temporal[window.FeatReqCount1Min])
	assert.Equal(t, 1.0, res.Temporal[window.FeatErrorRate1Min])
	assert.Equal(t, 1, windows.RequestCount("10.0.0.1", window.Key1Min))
	assert.EqualValues(t, 1, det.calls.Load())
}

func TestWhitelistShortCircuit(t *testing.T) {
	det := &stubDetector{fitted: true, level: models.ThreatCritical}
	p, windows := newTestPipeline(t, det, nil)

	_, err := p.UpdateWhitelist(context.Background(), "add", "192.168.1.10", "office gateway")
	require.NoError(t, err)

	for _, status := range []int{200, 401, 500} {
		res, err := p.Evaluate(context.Background(), request("192.168.1.10", status))
		require.NoError(t, err)
		assert.True(t, res.Whitelisted)
		assert.Equal(t, models.ThreatNormal, res.ThreatLevel)
		assert.Zero(t, res.SeverityScore)
		assert.Nil(t, res.Ensemble)
	}
	assert.EqualValues(t, 0, det.calls.Load())
	assert.Zero(t, windows.Stats().BufferSize)
}

func TestEvaluateNotReady(t *testing.T) {
	p, windows := newTestPipeline(t, &stubDetector{fitted: false}, nil)
	_, err := p.Evaluate(context.Background(), request("10.0.0.1", 200))
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Zero(t, windows.Stats().BufferSize)

	p, _ = newTestPipeline(t, nil, nil)
	_, err = p.Evaluate(context.Background(), request("10.0.0.1", 200))
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, modelNotInitialized, p.Health().ModelStatus)
}

func TestEvaluateWrapsPredictErrors(t *testing.T) {
	boom := errors.New("boom")
	p, _ := newTestPipeline(t, &stubDetector{fitted: true, err: boom}, nil)
	_, err := p.Evaluate(context.Background(), request("10.0.0.1", 200))
	assert.ErrorIs(t, err, boom)
}

func TestEvaluateBatchIsolatesFailures(t *testing.T) {
	det := &stubDetector{fitted: true, level: models.ThreatSuspicious}
	p, _ := newTestPipeline(t, det, nil)
	_, err := p.UpdateWhitelist(context.Background(), "add", "10.9.9.9", "")
	require.NoError(t, err)

	reqs := []models.EventRequest{
		request("10.0.0.1", 200),
		{SourceID: "10.0.0.2", Method: "GET", Path: "/"},
		request("10.9.9.9", 200),
		request("10.0.0.3", 500),
	}
	out, err := p.EvaluateBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, out.Items, 4)

	assert.NoError(t, out.Items[0].Err)
	verr, ok := utils.AsValidation(out.Items[1].Err)
	require.True(t, ok)
	assert.Equal(t, "status_code", verr.Field)
	assert.Nil(t, out.Items[1].Result)
	assert.True(t, out.Items[2].Result.Whitelisted)

	assert.Equal(t, models.BatchSummary{
		TotalProcessed: 4,
		TotalNormal:    1,
		TotalAnomaly:   2,
		TotalErrors:    1,
		AnomalyRate:    50,
	}, out.Summary)
}

func TestEvaluateBatchNotReady(t *testing.T) {
	p, _ := newTestPipeline(t, &stubDetector{}, nil)
	_, err := p.EvaluateBatch(context.Background(), []models.EventRequest{request("1.1.1.1", 200)})
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = p.EvaluateBatch(context.Background(), nil)
	verr, ok := utils.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "logs", verr.Field)
}

func TestEvaluateBatchRounding(t *testing.T) {
	p, _ := newTestPipeline(t, &stubDetector{fitted: true, level: models.ThreatHigh}, nil)
	_, err := p.UpdateWhitelist(context.Background(), "add", "10.9.9.9", "")
	require.NoError(t, err)

	out, err := p.EvaluateBatch(context.Background(), []models.EventRequest{
		request("10.0.0.1", 200),
		request("10.0.0.2", 200),
		request("10.9.9.9", 200),
	})
	require.NoError(t, err)
	assert.Equal(t, 66.67, out.Summary.AnomalyRate)
}

func TestExplainDoesNotTouchWindow(t *testing.T) {
	exp := &stubExplainer{degraded: true}
	p, windows := newTestPipeline(t, &stubDetector{fitted: true}, exp)

	out, err := p.Explain(context.Background(), request("10.0.0.1", 418))
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.Equal(t, 418.0, out.OutputValue)
	assert.Zero(t, windows.Stats().BufferSize)

	_, err = p.Explain(context.Background(), models.EventRequest{})
	_, ok := utils.AsValidation(err)
	assert.True(t, ok)
}

func TestGlobalImportanceUsesSample(t *testing.T) {
	exp := &stubExplainer{}
	p, _ := newTestPipeline(t, &stubDetector{fitted: true}, exp)

	_, err := p.GlobalImportance()
	require.Error(t, err)

	p.UseImportanceSample(extractors.SyntheticTrainingSet(10, 1), 5)
	ranked, err := p.GlobalImportance()
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, 10, exp.rows)
	assert.Equal(t, 5, exp.limit)
}

func TestSubmitFeedbackWhitelistsSource(t *testing.T) {
	p, _ := newTestPipeline(t, &stubDetector{fitted: true}, nil)
	fb, err := p.SubmitFeedback(context.Background(), feedback.Submission{
		CaseID:         "case-1",
		SourceID:       "10.0.0.7",
		ActualLabel:    models.LabelNormal,
		PredictedLabel: models.LabelAnomaly,
		AddToWhitelist: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, fb.ID)
	assert.Equal(t, models.FeedbackFalsePositive, fb.Kind)
	assert.True(t, p.Store().IsWhitelisted("10.0.0.7"))

	stats := p.FeedbackStats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.FalsePositives)
	assert.Equal(t, 1, stats.WhitelistSize)
}

func TestUpdateWhitelistActions(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil)
	ctx := context.Background()

	up, err := p.UpdateWhitelist(ctx, "ADD", "1.2.3.4", "scanner")
	require.NoError(t, err)
	assert.Equal(t, WhitelistUpdate{Action: WhitelistAdd, SourceID: "1.2.3.4", Changed: true, WhitelistSize: 1}, up)

	up, err = p.UpdateWhitelist(ctx, "remove", "1.2.3.4", "")
	require.NoError(t, err)
	assert.True(t, up.Changed)
	assert.Zero(t, up.WhitelistSize)

	up, err = p.UpdateWhitelist(ctx, "remove", "1.2.3.4", "")
	require.NoError(t, err)
	assert.False(t, up.Changed)

	_, err = p.UpdateWhitelist(ctx, "toggle", "1.2.3.4", "")
	verr, ok := utils.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "action", verr.Field)
}

func TestWindowStatsAndHealth(t *testing.T) {
	p, _ := newTestPipeline(t, &stubDetector{fitted: true}, nil)
	for i := 0; i < 4; i++ {
		_, err := p.Evaluate(context.Background(), request("10.0.0.1", 200+100*i))
		require.NoError(t, err)
	}
	stats := p.WindowStats()
	assert.Equal(t, 4, stats.BufferSize)
	assert.InDelta(t, 0.5, stats.ErrorRate, 1e-12)

	h := p.Health()
	assert.True(t, h.Ready())
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "stub", p.ModelInfo().EnsembleType)
}

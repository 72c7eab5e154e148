package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsentinel/sentinel/internal/engine"
	"github.com/logsentinel/sentinel/internal/models"
	"github.com/logsentinel/sentinel/internal/utils"
)

type stubDetector struct {
	fitted bool
	level  models.ThreatLevel
	panics bool
}

func (s *stubDetector) Predict(x []float64) (*models.EnsembleResult, error) {
	if s.panics {
		panic("scorer exploded")
	}
	return &models.EnsembleResult{
		ThreatLevel:    s.level,
		ConsensusScore: 0.5,
		AnomalyVotes:   int(s.level),
		TotalScorers:   3,
		Explanation:    "stub",
	}, nil
}

func (s *stubDetector) IsFitted() bool { return s.fitted }

func (s *stubDetector) ModelInfo() models.ModelInfo {
	return models.ModelInfo{EnsembleType: "Voting Classifier", Models: []string{"a", "b", "c"}, IsFitted: s.fitted}
}

func newHandler(det engine.Detector) *Handler {
	logger := utils.DiscardLogger()
	return NewHandler(logger, engine.NewPipeline(logger, nil, det, nil, nil, nil), prometheus.NewRegistry())
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func event(ip string, status int) map[string]any {
	return map[string]any{"ip_address": ip, "method": "get", "url": "/index.html", "status_code": status, "response_time": 120.0}
}

func TestPredict(t *testing.T) {
	routes := newHandler(&stubDetector{fitted: true, level: models.ThreatSuspicious}).Routes()

	rec, body := do(t, routes, http.MethodPost, "/predict", event("10.1.1.1", 404))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "suspicious", data["threat_level"])
	assert.Equal(t, "anomaly", data["prediction"])
	assert.Equal(t, 60.0, data["severity_score"])
	input := data["input_data"].(map[string]any)
	assert.Equal(t, "GET", input["method"])
}

func TestPredictValidation(t *testing.T) {
	routes := newHandler(&stubDetector{fitted: true}).Routes()

	in := event("10.1.1.1", 200)
	delete(in, "ip_address")
	rec, body := do(t, routes, http.MethodPost, "/predict", in)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "ip_address", body["field"])

	rec, body = do(t, routes, http.MethodPost, "/predict", `{"ip_address":"1.2.3.4","status_code":"ok"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "status_code", body["field"])

	rec, _ = do(t, routes, http.MethodPost, "/predict", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictNotReady(t *testing.T) {
	routes := newHandler(&stubDetector{}).Routes()

	rec, body := do(t, routes, http.MethodPost, "/predict", event("10.1.1.1", 200))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "error", body["status"])

	rec, body = do(t, routes, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "not_initialized", body["model_status"])
}

func TestPredictBatch(t *testing.T) {
	routes := newHandler(&stubDetector{fitted: true, level: models.ThreatNormal}).Routes()

	bad := event("10.1.1.2", 200)
	delete(bad, "method")
	rec, body := do(t, routes, http.MethodPost, "/predict/batch", map[string]any{"logs": []any{event("10.1.1.1", 200), bad}})
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	summary := data["summary"].(map[string]any)
	assert.Equal(t, 2.0, summary["total_processed"])
	assert.Equal(t, 1.0, summary["total_normal"])
	assert.Equal(t, 1.0, summary["total_errors"])
	assert.Equal(t, 0.0, summary["anomaly_rate"])

	rec, body = do(t, routes, http.MethodPost, "/predict/batch", map[string]any{"logs": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "logs", body["field"])
}

func TestWhitelistThenPredict(t *testing.T) {
	routes := newHandler(&stubDetector{fitted: true, level: models.ThreatCritical}).Routes()

	rec, body := do(t, routes, http.MethodPost, "/whitelist", map[string]any{"action": "add", "ip": "10.9.9.9", "reason": "monitor"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["data"].(map[string]any)["whitelist_size"])

	_, body = do(t, routes, http.MethodPost, "/predict", event("10.9.9.9", 500))
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["whitelisted"])
	assert.Equal(t, "normal", data["threat_level"])

	rec, body = do(t, routes, http.MethodPost, "/whitelist", map[string]any{"action": "toggle", "ip": "10.9.9.9"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "action", body["field"])
}

func TestFeedbackRoutes(t *testing.T) {
	routes := newHandler(&stubDetector{fitted: true}).Routes()

	rec, body := do(t, routes, http.MethodPost, "/feedback", map[string]any{
		"case_id": "c-1", "ip_address": "10.0.0.5", "actual_label": "normal", "predicted_label": "anomaly", "add_to_whitelist": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "false_positive", body["data"].(map[string]any)["feedback_type"])

	_, body = do(t, routes, http.MethodGet, "/feedback/stats", nil)
	stats := body["data"].(map[string]any)
	assert.Equal(t, 1.0, stats["total"])
	assert.Equal(t, 1.0, stats["false_positives"])
	assert.Equal(t, 1.0, stats["whitelist_size"])
}

func TestReadOnlyRoutes(t *testing.T) {
	routes := newHandler(&stubDetector{fitted: true}).Routes()
	do(t, routes, http.MethodPost, "/predict", event("10.1.1.1", 200))

	rec, body := do(t, routes, http.MethodGet, "/window/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["data"].(map[string]any)["bufferSize"])

	_, body = do(t, routes, http.MethodGet, "/model/info", nil)
	assert.Equal(t, 3.0, body["data"].(map[string]any)["n_models"])

	rec, _ = do(t, routes, http.MethodGet, "/model/importance", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, body = do(t, routes, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sentinel-engine", body["service"])

	rec, _ = do(t, routes, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPanicRecovered(t *testing.T) {
	routes := newHandler(&stubDetector{fitted: true, panics: true}).Routes()

	rec, body := do(t, routes, http.MethodPost, "/predict", event("10.1.1.1", 200))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", body["error"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestWindowWebsocket(t *testing.T) {
	h := newHandler(&stubDetector{fitted: true})
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/window"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "window_stats", first["type"])
	assert.Equal(t, 0.0, first["bufferSize"])
	assert.Equal(t, 1, h.Hub().Subscribers())

	do(t, h.Routes(), http.MethodPost, "/predict", event("10.1.1.1", 200))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Hub().Run(ctx, 20*time.Millisecond)

	var pushed map[string]any
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, 1.0, pushed["bufferSize"])
}

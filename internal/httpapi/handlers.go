package httpapi

import (
	"net/http"

	"github.com/logsentinel/sentinel/internal/api"
	"github.com/logsentinel/sentinel/internal/models"
)

func (h *Handler) banner(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "sentinel-engine",
		"status":  "running",
		"endpoints": []string{
			"GET /health",
			"POST /predict",
			"POST /predict/batch",
			"POST /explain",
			"POST /feedback",
			"GET /feedback/stats",
			"POST /whitelist",
			"GET /window/stats",
			"GET /model/info",
			"GET /model/importance",
			"GET /ws/window",
			"GET /metrics",
		},
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthPayload(h.pipeline.Health()))
}

func decode(r *http.Request, w http.ResponseWriter, dst any) error {
	return api.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), dst)
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	var req models.EventRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, "predict", err)
		return
	}
	res, err := h.pipeline.Evaluate(r.Context(), req)
	if err != nil {
		h.fail(w, r, "predict", err)
		return
	}
	success(w, api.EvaluationPayload(res))
}

func (h *Handler) predictBatch(w http.ResponseWriter, r *http.Request) {
	var req api.BatchRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, "predict_batch", err)
		return
	}
	res, err := h.pipeline.EvaluateBatch(r.Context(), req.Logs)
	if err != nil {
		h.fail(w, r, "predict_batch", err)
		return
	}
	success(w, api.BatchPayload(res, req.Logs))
}

func (h *Handler) explain(w http.ResponseWriter, r *http.Request) {
	var req models.EventRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, "explain", err)
		return
	}
	exp, err := h.pipeline.Explain(r.Context(), req)
	if err != nil {
		h.fail(w, r, "explain", err)
		return
	}
	success(w, api.ExplanationPayload(exp))
}

func (h *Handler) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req api.FeedbackRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, "feedback", err)
		return
	}
	fb, err := h.pipeline.SubmitFeedback(r.Context(), req.Submission())
	if err != nil {
		h.fail(w, r, "feedback", err)
		return
	}
	success(w, api.FeedbackPayload(fb))
}

func (h *Handler) feedbackStats(w http.ResponseWriter, _ *http.Request) {
	success(w, api.FeedbackStatsPayload(h.pipeline.FeedbackStats()))
}

func (h *Handler) updateWhitelist(w http.ResponseWriter, r *http.Request) {
	var req api.WhitelistRequest
	if err := decode(r, w, &req); err != nil {
		h.fail(w, r, "whitelist", err)
		return
	}
	up, err := h.pipeline.UpdateWhitelist(r.Context(), req.Action, req.IP, req.Reason)
	if err != nil {
		h.fail(w, r, "whitelist", err)
		return
	}
	success(w, api.WhitelistPayload(up))
}

func (h *Handler) windowStats(w http.ResponseWriter, _ *http.Request) {
	success(w, api.WindowPayload(h.pipeline.WindowStats()))
}

func (h *Handler) modelInfo(w http.ResponseWriter, _ *http.Request) {
	success(w, api.ModelInfoPayload(h.pipeline.ModelInfo()))
}

func (h *Handler) modelImportance(w http.ResponseWriter, r *http.Request) {
	ranked, err := h.pipeline.GlobalImportance()
	if err != nil {
		h.fail(w, r, "model_importance", err)
		return
	}
	success(w, api.ImportancePayload(ranked))
}

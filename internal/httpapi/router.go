// Package httpapi serves the detection pipeline over JSON/HTTP and pushes
// sliding window telemetry to websocket subscribers.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/logsentinel/sentinel/internal/api"
	"github.com/logsentinel/sentinel/internal/engine"
)

// Handler owns the HTTP surface of the service.
type Handler struct {
	logger   *slog.Logger
	pipeline *engine.Pipeline
	gatherer prometheus.Gatherer
	hub      *Hub
}

// NewHandler wires the handlers to a pipeline. A nil gatherer serves the
// default Prometheus registry.
func NewHandler(logger *slog.Logger, pipeline *engine.Pipeline, gatherer prometheus.Gatherer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &Handler{logger: logger, pipeline: pipeline, gatherer: gatherer}
	h.hub = NewHub(logger, func() map[string]any {
		return api.WindowPayload(pipeline.WindowStats())
	})
	return h
}

// Hub returns the websocket telemetry hub.
func (h *Handler) Hub() *Hub { return h.hub }

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(recoverer(h.logger))

	r.Get("/", h.banner)
	r.Get("/health", h.health)

	r.Post("/predict", h.predict)
	r.Post("/predict/batch", h.predictBatch)
	r.Post("/explain", h.explain)

	r.Post("/feedback", h.submitFeedback)
	r.Get("/feedback/stats", h.feedbackStats)
	r.Post("/whitelist", h.updateWhitelist)

	r.Get("/window/stats", h.windowStats)
	r.Get("/model/info", h.modelInfo)
	r.Get("/model/importance", h.modelImportance)

	r.Get("/ws/window", h.hub.HandleWS)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	return r
}

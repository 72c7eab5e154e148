package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/logsentinel/sentinel/internal/engine"
	"github.com/logsentinel/sentinel/internal/utils"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func success(w http.ResponseWriter, data map[string]any) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": data})
}

func internalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"status":    "error",
		"error":     "internal server error",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// fail maps a pipeline error onto the HTTP error body.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if v, ok := utils.AsValidation(err); ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": v.Error(), "field": v.Field})
		return
	}
	if errors.Is(err, engine.ErrNotReady) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "error": "model not initialized"})
		return
	}
	h.logger.Error("request failed",
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Any("error", err),
	)
	internalError(w)
}

// recoverer turns a handler panic into the generic 500 body.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panic",
					slog.String("path", r.URL.Path),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)
				if r.Header.Get("Connection") != "Upgrade" {
					internalError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

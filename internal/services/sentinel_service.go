package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/logsentinel/sentinel/internal/api"
	"github.com/logsentinel/sentinel/internal/engine"
	"github.com/logsentinel/sentinel/internal/grpc/sentinelv1"
	"github.com/logsentinel/sentinel/internal/models"
	"github.com/logsentinel/sentinel/internal/utils"
)

// SentinelService implements the gRPC Sentinel service on top of the
// detection pipeline.
type SentinelService struct {
	sentinelv1.UnimplementedSentinelServer

	logger    *slog.Logger
	pipeline  *engine.Pipeline
	latencies *utils.LatencyTracker
}

// NewSentinelService constructs the service facade.
func NewSentinelService(logger *slog.Logger, pipeline *engine.Pipeline) *SentinelService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SentinelService{
		logger:    logger,
		pipeline:  pipeline,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Evaluate scores one access event.
func (s *SentinelService) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	var in models.EventRequest
	if err := api.FromStruct(req, &in); err != nil {
		return nil, s.statusError("Evaluate", err)
	}

	start := time.Now()
	res, err := s.pipeline.Evaluate(ctx, in)
	if err != nil {
		return nil, s.statusError("Evaluate", err)
	}
	s.observe(time.Since(start))
	return s.reply(api.EvaluationPayload(res))
}

// EvaluateBatch scores every event in {"logs": [...]}.
func (s *SentinelService) EvaluateBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	var in api.BatchRequest
	if err := api.FromStruct(req, &in); err != nil {
		return nil, s.statusError("EvaluateBatch", err)
	}
	res, err := s.pipeline.EvaluateBatch(ctx, in.Logs)
	if err != nil {
		return nil, s.statusError("EvaluateBatch", err)
	}
	return s.reply(api.BatchPayload(res, in.Logs))
}

// Explain attributes the verdict for one event.
func (s *SentinelService) Explain(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	var in models.EventRequest
	if err := api.FromStruct(req, &in); err != nil {
		return nil, s.statusError("Explain", err)
	}
	exp, err := s.pipeline.Explain(ctx, in)
	if err != nil {
		return nil, s.statusError("Explain", err)
	}
	return s.reply(api.ExplanationPayload(exp))
}

// SubmitFeedback records an analyst correction.
func (s *SentinelService) SubmitFeedback(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	var in api.FeedbackRequest
	if err := api.FromStruct(req, &in); err != nil {
		return nil, s.statusError("SubmitFeedback", err)
	}
	fb, err := s.pipeline.SubmitFeedback(ctx, in.Submission())
	if err != nil {
		return nil, s.statusError("SubmitFeedback", err)
	}
	return s.reply(api.FeedbackPayload(fb))
}

// UpdateWhitelist adds or removes a source.
func (s *SentinelService) UpdateWhitelist(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	var in api.WhitelistRequest
	if err := api.FromStruct(req, &in); err != nil {
		return nil, s.statusError("UpdateWhitelist", err)
	}
	up, err := s.pipeline.UpdateWhitelist(ctx, in.Action, in.IP, in.Reason)
	if err != nil {
		return nil, s.statusError("UpdateWhitelist", err)
	}
	return s.reply(api.WhitelistPayload(up))
}

// WindowStats returns the sliding window snapshot.
func (s *SentinelService) WindowStats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	return s.reply(api.WindowPayload(s.pipeline.WindowStats()))
}

// ModelInfo describes the ensemble.
func (s *SentinelService) ModelInfo(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	return s.reply(api.ModelInfoPayload(s.pipeline.ModelInfo()))
}

// HealthCheck returns liveness plus model readiness.
func (s *SentinelService) HealthCheck(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return s.reply(map[string]any{"status": "healthy", "model_status": "not_initialized"})
	}
	return s.reply(api.HealthPayload(s.pipeline.Health()))
}

// LatencyP95 returns the current p95 evaluation latency.
func (s *SentinelService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func (s *SentinelService) observe(d time.Duration) {
	s.latencies.Observe(d)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("evaluation latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Duration("mean", s.latencies.Mean()),
			slog.Int("samples", count))
	}
}

func (s *SentinelService) reply(payload map[string]any) (*structpb.Struct, error) {
	out, err := api.ToStruct(payload)
	if err != nil {
		s.logger.Error("response encoding failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

// statusError maps pipeline errors onto gRPC codes.
func (s *SentinelService) statusError(op string, err error) error {
	if verr, ok := utils.AsValidation(err); ok {
		return status.Error(codes.InvalidArgument, verr.Error())
	}
	if errors.Is(err, engine.ErrNotReady) {
		return status.Error(codes.Unavailable, "model not initialized")
	}
	s.logger.Error("request failed", slog.String("op", op), slog.Any("error", err))
	return status.Error(codes.Internal, op+" failed")
}

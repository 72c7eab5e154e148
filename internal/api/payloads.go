package api

import (
	"math"
	"time"

	"github.com/logsentinel/sentinel/internal/engine"
	"github.com/logsentinel/sentinel/internal/models"
)

// The payload builders return maps holding only the value kinds
// structpb.NewStruct accepts, so the same shape serves JSON and gRPC.

func round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func predictionLabel(anomalous bool) (string, int) {
	if anomalous {
		return "anomaly", -1
	}
	return "normal", 1
}

// InputPayload echoes the identifying fields of an event.
func InputPayload(ev models.Event) map[string]any {
	return map[string]any{
		"ip_address":  ev.SourceID,
		"method":      string(ev.Method),
		"url":         ev.Path,
		"status_code": ev.StatusCode,
	}
}

// EvaluationPayload renders one evaluation.
func EvaluationPayload(res *models.EvaluationResult) map[string]any {
	label, code := predictionLabel(res.IsAnomaly())
	out := map[string]any{
		"case_id":         res.CaseID,
		"prediction":      label,
		"prediction_code": code,
		"threat_level":    res.ThreatLevel.String(),
		"consensus_score": round(res.ConsensusScore, 4),
		"severity_score":  round(res.SeverityScore, 2),
		"whitelisted":     res.Whitelisted,
		"timestamp":       timestamp(res.EvaluatedAt),
		"input_data":      InputPayload(res.Event),
	}
	if res.Ensemble != nil {
		for k, v := range ensemblePayload(res.Ensemble) {
			out[k] = v
		}
	}
	if len(res.Temporal) > 0 {
		out["temporal_features"] = temporalPayload(res.Temporal)
	}
	return out
}

func ensemblePayload(r *models.EnsembleResult) map[string]any {
	verdicts := make([]any, len(r.Verdicts))
	for i, v := range r.Verdicts {
		label, code := predictionLabel(v.Anomalous)
		verdicts[i] = map[string]any{
			"model":           v.Name,
			"display_name":    v.DisplayName,
			"prediction":      label,
			"prediction_code": code,
			"score":           round(v.Score, 4),
			"confidence":      round(v.Confidence, 4),
		}
	}
	votes := make([]any, len(r.VotingBreakdown))
	for i, v := range r.VotingBreakdown {
		label, _ := predictionLabel(v.Anomalous)
		votes[i] = map[string]any{"model": v.Scorer, "vote": label}
	}
	return map[string]any{
		"anomaly_votes":          r.AnomalyVotes,
		"total_models":           r.TotalScorers,
		"individual_predictions": verdicts,
		"voting_breakdown":       votes,
		"explanation":            r.Explanation,
	}
}

func temporalPayload(features models.TemporalFeatures) map[string]any {
	out := make(map[string]any, len(features))
	for k, v := range features {
		out[k] = round(v, 4)
	}
	return out
}

// BatchPayload renders a batch evaluation, one entry per submitted event.
func BatchPayload(res *models.BatchResult, reqs []models.EventRequest) map[string]any {
	results := make([]any, len(res.Items))
	for i, item := range res.Items {
		if item.Err != nil {
			entry := map[string]any{"index": item.Index, "error": item.Err.Error()}
			if item.Index < len(reqs) {
				entry["input"] = requestPayload(reqs[item.Index])
			}
			results[i] = entry
			continue
		}
		entry := EvaluationPayload(item.Result)
		entry["index"] = item.Index
		results[i] = entry
	}
	return map[string]any{
		"results": results,
		"summary": map[string]any{
			"total_processed": res.Summary.TotalProcessed,
			"total_normal":    res.Summary.TotalNormal,
			"total_anomaly":   res.Summary.TotalAnomaly,
			"total_errors":    res.Summary.TotalErrors,
			"anomaly_rate":    res.Summary.AnomalyRate,
		},
	}
}

func requestPayload(req models.EventRequest) map[string]any {
	out := map[string]any{
		"ip_address": req.SourceID,
		"method":     req.Method,
		"url":        req.Path,
	}
	if req.StatusCode != nil {
		out["status_code"] = *req.StatusCode
	}
	return out
}

func contributionPayload(c models.FeatureContribution) map[string]any {
	return map[string]any{
		"feature":      c.Name,
		"description":  c.Description,
		"value":        c.Value,
		"contribution": round(c.Contribution, 6),
		"direction":    string(c.Direction),
		"strength":     string(c.Strength),
		"normal_range": c.NormalRange,
		"is_abnormal":  c.Abnormal,
	}
}

// ExplanationPayload renders an attribution result.
func ExplanationPayload(exp *models.Explanation) map[string]any {
	out := map[string]any{
		"prediction":      exp.Prediction,
		"prediction_code": exp.PredictionCode,
		"explanation":     exp.Text,
		"degraded":        exp.Degraded,
	}
	if exp.Degraded {
		out["reason"] = exp.Reason
		return out
	}
	if exp.PredictionCode == 1 {
		return out
	}
	top := make([]any, len(exp.TopContributors))
	for i, c := range exp.TopContributors {
		top[i] = contributionPayload(c)
	}
	all := make([]any, len(exp.Contributions))
	for i, c := range exp.Contributions {
		all[i] = contributionPayload(c)
	}
	ranking := make([]any, len(exp.Ranking))
	for i, name := range exp.Ranking {
		ranking[i] = name
	}
	out["base_value"] = round(exp.BaseValue, 6)
	out["output_value"] = round(exp.OutputValue, 6)
	out["total_contribution"] = round(exp.TotalContribution, 6)
	out["top_contributors"] = top
	out["feature_contributions"] = all
	out["feature_ranking"] = ranking
	return out
}

// ImportancePayload renders global feature importance.
func ImportancePayload(ranked []models.FeatureImportance) map[string]any {
	items := make([]any, len(ranked))
	for i, f := range ranked {
		items[i] = map[string]any{
			"feature":     f.Name,
			"description": f.Description,
			"importance":  round(f.Score, 6),
			"percentage":  round(f.Percentage, 2),
		}
	}
	return map[string]any{"feature_importance": items}
}

// FeedbackPayload confirms an accepted correction.
func FeedbackPayload(fb models.Feedback) map[string]any {
	return map[string]any{
		"feedback_id":     fb.ID,
		"case_id":         fb.CaseID,
		"feedback_type":   string(fb.Kind),
		"added_whitelist": fb.AddToWhitelist,
		"submitted_at":    timestamp(fb.SubmittedAt),
	}
}

// FeedbackStatsPayload renders feedback statistics.
func FeedbackStatsPayload(st models.FeedbackStats) map[string]any {
	byKind := make(map[string]any, len(st.ByKind))
	for k, v := range st.ByKind {
		byKind[string(k)] = v
	}
	byLabel := make(map[string]any, len(st.ByActualLabel))
	for k, v := range st.ByActualLabel {
		byLabel[string(k)] = v
	}
	out := map[string]any{
		"total":           st.Total,
		"by_kind":         byKind,
		"by_actual_label": byLabel,
		"false_positives": st.FalsePositives,
		"false_negatives": st.FalseNegatives,
		"whitelist_size":  st.WhitelistSize,
	}
	if !st.LastSubmitted.IsZero() {
		out["last_submitted"] = timestamp(st.LastSubmitted)
	}
	return out
}

// WhitelistPayload confirms a whitelist change.
func WhitelistPayload(up engine.WhitelistUpdate) map[string]any {
	return map[string]any{
		"action":         up.Action,
		"ip":             up.SourceID,
		"changed":        up.Changed,
		"whitelist_size": up.WhitelistSize,
	}
}

// WindowPayload renders the sliding window snapshot.
func WindowPayload(t models.WindowTelemetry) map[string]any {
	counts := make(map[string]any, len(t.PerWindowCounts))
	for k, v := range t.PerWindowCounts {
		counts[k] = v
	}
	return map[string]any{
		"bufferSize":       t.BufferSize,
		"retentionMinutes": t.RetentionMinutes,
		"perWindowCounts":  counts,
		"errorRate":        round(t.ErrorRate, 4),
		"methodEntropy":    round(t.MethodEntropy, 4),
		"avgLatency":       round(t.AvgLatency, 2),
		"burstScore":       round(t.BurstScore, 4),
		"timestamp":        timestamp(t.CapturedAt),
	}
}

// ModelInfoPayload renders the ensemble description.
func ModelInfoPayload(info models.ModelInfo) map[string]any {
	names := make([]any, len(info.Models))
	for i, n := range info.Models {
		names[i] = n
	}
	levels := make([]any, len(info.ThreatLevels))
	for i, l := range info.ThreatLevels {
		levels[i] = l
	}
	return map[string]any{
		"ensemble_type":   info.EnsembleType,
		"n_models":        len(info.Models),
		"models":          names,
		"contamination":   info.Contamination,
		"is_fitted":       info.IsFitted,
		"voting_strategy": info.VotingStrategy,
		"threat_levels":   levels,
	}
}

// HealthPayload renders liveness and readiness.
func HealthPayload(h engine.Health) map[string]any {
	return map[string]any{
		"status":       h.Status,
		"model_status": h.ModelStatus,
		"timestamp":    timestamp(h.Timestamp),
	}
}

package models

import "time"

// ScorerVerdict is one scorer's opinion about a feature vector.
type ScorerVerdict struct {
	Name        string
	DisplayName string
	Anomalous   bool
	Score       float64
	Confidence  float64
}

// Label returns +1 for normal and -1 for anomalous, matching the scorer
// classification convention.
func (v ScorerVerdict) Label() int {
	if v.Anomalous {
		return -1
	}
	return 1
}

// Vote records how a named scorer voted.
type Vote struct {
	Scorer    string
	Anomalous bool
}

// EnsembleResult is the consensus verdict for one feature vector.
type EnsembleResult struct {
	ThreatLevel     ThreatLevel
	ConsensusScore  float64
	AnomalyVotes    int
	TotalScorers    int
	Verdicts        []ScorerVerdict
	VotingBreakdown []Vote
	Explanation     string
}

// Probabilities are presentation values derived from the consensus score.
type Probabilities struct {
	Normal      float64
	Anomaly     float64
	ThreatLevel ThreatLevel
}

// TemporalFeatures maps windowed metric names to their values at query time.
type TemporalFeatures map[string]float64

// EvaluationResult is the combined outcome of evaluating one event.
type EvaluationResult struct {
	CaseID         string
	Event          Event
	Whitelisted    bool
	ThreatLevel    ThreatLevel
	ConsensusScore float64
	SeverityScore  float64
	Ensemble       *EnsembleResult
	Temporal       TemporalFeatures
	EvaluatedAt    time.Time
}

// IsAnomaly reports whether any scorer flagged the event.
func (r EvaluationResult) IsAnomaly() bool {
	return !r.Whitelisted && r.ThreatLevel.IsAnomalous()
}

// BatchItem holds either a result or the error for one event of a batch.
type BatchItem struct {
	Index  int
	Result *EvaluationResult
	Err    error
}

// BatchSummary aggregates a batch evaluation.
type BatchSummary struct {
	TotalProcessed int
	TotalNormal    int
	TotalAnomaly   int
	TotalErrors    int
	AnomalyRate    float64
}

// BatchResult bundles per-event items with their summary.
type BatchResult struct {
	Items   []BatchItem
	Summary BatchSummary
}

// ModelInfo describes the fitted ensemble.
type ModelInfo struct {
	EnsembleType   string
	Models         []string
	Contamination  float64
	IsFitted       bool
	VotingStrategy string
	ThreatLevels   []string
}

// WindowTelemetry is a read-only snapshot of the sliding window.
type WindowTelemetry struct {
	BufferSize       int
	RetentionMinutes float64
	PerWindowCounts  map[string]int
	ErrorRate        float64
	MethodEntropy    float64
	AvgLatency       float64
	BurstScore       float64
	CapturedAt       time.Time
}

package ensemble

import (
	"fmt"
	"math"
	"strings"

	"github.com/logsentinel/sentinel/internal/models"
)

// Weights of the consensus blend.
const (
	voteWeight       = 0.6
	confidenceWeight = 0.4
)

// DetermineThreatLevel maps the anomaly vote count onto the threat ladder.
// Every scorer has an equal voice.
func DetermineThreatLevel(anomalyVotes, total int) models.ThreatLevel {
	switch {
	case anomalyVotes <= 0:
		return models.ThreatNormal
	case anomalyVotes == 1:
		return models.ThreatSuspicious
	case anomalyVotes == 2:
		return models.ThreatHigh
	default:
		return models.ThreatCritical
	}
}

// Confidence squashes a decision value into [0,1]; larger magnitudes map
// closer to 1. It equals 2*sigmoid(5|score|)-1.
func Confidence(score float64) float64 {
	switch {
	case math.IsNaN(score):
		return 0
	case math.IsInf(score, 0):
		return 1
	}
	return math.Tanh(2.5 * math.Abs(score))
}

// ConsensusScore blends the vote ratio with the mean confidence of the
// scorers that voted anomalous. The result is clamped to [0,1] and rounded
// to four decimals.
func ConsensusScore(verdicts []models.ScorerVerdict) float64 {
	if len(verdicts) == 0 {
		return 0
	}
	votes := 0
	confidence := 0.0
	for _, v := range verdicts {
		if v.Anomalous {
			votes++
			confidence += v.Confidence
		}
	}
	ratio := float64(votes) / float64(len(verdicts))
	meanConfidence := 0.0
	if votes > 0 {
		meanConfidence = confidence / float64(votes)
	}
	score := voteWeight*ratio + confidenceWeight*meanConfidence
	if math.IsNaN(score) {
		score = voteWeight * ratio
	}
	return round4(clamp(score, 0, 1))
}

// ExplainConsensus renders the sentence for a threat level naming the
// scorers that voted anomalous.
func ExplainConsensus(level models.ThreatLevel, verdicts []models.ScorerVerdict) string {
	var flagged []string
	for _, v := range verdicts {
		if v.Anomalous {
			flagged = append(flagged, displayName(v))
		}
	}
	total := len(verdicts)

	switch level {
	case models.ThreatNormal:
		return "All models classify this request as NORMAL. No anomalous pattern was detected."
	case models.ThreatSuspicious:
		return fmt.Sprintf("ATTENTION: %s detected a suspicious pattern. One of %d models flagged an anomaly; further investigation is recommended.",
			first(flagged), total)
	case models.ThreatHigh:
		return fmt.Sprintf("HIGH ALERT: %s detected an anomaly. Two of %d models consider this request dangerous.",
			strings.Join(flagged, " and "), total)
	default:
		if len(flagged) == total {
			return fmt.Sprintf("CRITICAL: ALL MODELS (%s) agree this request is an ANOMALY. Immediate action is required.",
				strings.Join(flagged, ", "))
		}
		return fmt.Sprintf("CRITICAL: %d of %d models (%s) agree this request is an ANOMALY. Immediate action is required.",
			len(flagged), total, strings.Join(flagged, ", "))
	}
}

func displayName(v models.ScorerVerdict) string {
	if v.DisplayName != "" {
		return v.DisplayName
	}
	return v.Name
}

func first(names []string) string {
	if len(names) == 0 {
		return "a model"
	}
	return names[0]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// sanitize replaces non-finite components with 0 and returns a copy.
func sanitize(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = v
	}
	return out
}

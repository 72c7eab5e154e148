package models

import "time"

// Label is an analyst-facing classification.
type Label string

const (
	LabelNormal  Label = "normal"
	LabelAnomaly Label = "anomaly"
)

// Valid reports whether l is a known label.
func (l Label) Valid() bool {
	return l == LabelNormal || l == LabelAnomaly
}

// FeedbackKind categorises an analyst correction.
type FeedbackKind string

const (
	FeedbackFalsePositive FeedbackKind = "false_positive"
	FeedbackFalseNegative FeedbackKind = "false_negative"
	FeedbackConfirmed     FeedbackKind = "confirmed"
)

// Valid reports whether k is a known kind.
func (k FeedbackKind) Valid() bool {
	switch k {
	case FeedbackFalsePositive, FeedbackFalseNegative, FeedbackConfirmed:
		return true
	}
	return false
}

// InferFeedbackKind derives the kind from the predicted and actual labels.
func InferFeedbackKind(predicted, actual Label) FeedbackKind {
	switch {
	case predicted == LabelAnomaly && actual == LabelNormal:
		return FeedbackFalsePositive
	case predicted == LabelNormal && actual == LabelAnomaly:
		return FeedbackFalseNegative
	default:
		return FeedbackConfirmed
	}
}

// Feedback captures an analyst correction for an evaluated case.
type Feedback struct {
	ID             string
	CaseID         string
	SourceID       string
	ActualLabel    Label
	PredictedLabel Label
	Kind           FeedbackKind
	Notes          string
	AddToWhitelist bool
	SubmittedAt    time.Time
}

// WhitelistEntry is a source identity exempt from detection.
type WhitelistEntry struct {
	SourceID string
	Reason   string
	AddedAt  time.Time
}

// FeedbackStats summarises recorded feedback.
type FeedbackStats struct {
	Total          int
	ByKind         map[FeedbackKind]int
	ByActualLabel  map[Label]int
	FalsePositives int
	FalseNegatives int
	WhitelistSize  int
	LastSubmitted  time.Time
}

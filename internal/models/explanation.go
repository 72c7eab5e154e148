package models

// Direction states which way a feature pushes the anomaly score.
type Direction string

const (
	DirectionAnomaly Direction = "anomaly"
	DirectionNormal  Direction = "normal"
)

// Strength buckets the absolute size of a contribution.
type Strength string

const (
	StrengthNegligible Strength = "negligible"
	StrengthWeak       Strength = "weak"
	StrengthModerate   Strength = "moderate"
	StrengthStrong     Strength = "strong"
	StrengthVeryStrong Strength = "very_strong"
)

// AtLeastModerate reports whether s is moderate or stronger.
func (s Strength) AtLeastModerate() bool {
	return s == StrengthModerate || s == StrengthStrong || s == StrengthVeryStrong
}

// FeatureContribution attributes part of an anomaly score to one feature.
type FeatureContribution struct {
	Name         string
	Description  string
	Value        float64
	Contribution float64
	Direction    Direction
	Strength     Strength
	NormalRange  string
	Abnormal     bool
}

// Explanation is the rendered attribution for one prediction.
type Explanation struct {
	Prediction        string
	PredictionCode    int
	BaseValue         float64
	OutputValue       float64
	TotalContribution float64
	Text              string
	TopContributors   []FeatureContribution
	Contributions     []FeatureContribution
	Ranking           []string
	// Degraded is set when attribution failed and only the label is known.
	Degraded bool
	Reason   string
}

// FeatureImportance is the mean absolute attribution of one feature.
type FeatureImportance struct {
	Name        string
	Description string
	Score       float64
	Percentage  float64
}

package explain

import (
	"fmt"
	"math"

	"github.com/logsentinel/sentinel/internal/extractors"
	"github.com/logsentinel/sentinel/internal/models"
)

type normalRange struct {
	min, max float64
	unit     string
}

var featureDescriptions = map[string]string{
	"ip_numeric":     "IP Address (numeric)",
	"method_encoded": "HTTP Method",
	"status_code":    "Status Code",
	"response_time":  "Response Time (ms)",
	"url_length":     "URL Length (chars)",
	"user_agent_idx": "User Agent Type",
}

var normalRanges = map[string]normalRange{
	"ip_numeric":     {1, 255, ""},
	"method_encoded": {0, 6, ""},
	"status_code":    {200, 299, ""},
	"response_time":  {0, 500, "ms"},
	"url_length":     {5, 100, "chars"},
	"user_agent_idx": {0, 7, ""},
}

// Strength classifies the magnitude of an attribution value.
func Strength(v float64) models.Strength {
	abs := math.Abs(v)
	switch {
	case abs < 0.01:
		return models.StrengthNegligible
	case abs < 0.05:
		return models.StrengthWeak
	case abs < 0.15:
		return models.StrengthModerate
	case abs < 0.3:
		return models.StrengthStrong
	default:
		return models.StrengthVeryStrong
	}
}

func describe(name string) string {
	if d, ok := featureDescriptions[name]; ok {
		return d
	}
	return name
}

func featureName(i int) string {
	if i < len(extractors.FeatureNames) {
		return extractors.FeatureNames[i]
	}
	return fmt.Sprintf("feature_%d", i)
}

// rangeContext returns the printable normal range and whether v is outside it.
func rangeContext(name string, v float64) (string, bool) {
	r, ok := normalRanges[name]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%g-%g", r.min, r.max), v < r.min || v > r.max
}

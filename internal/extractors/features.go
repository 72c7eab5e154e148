package extractors

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/logsentinel/sentinel/internal/models"
)

// Feature indices into the base vector.
const (
	FeatureIPNumeric = iota
	FeatureMethodEncoded
	FeatureStatusCode
	FeatureResponseTime
	FeatureURLLength
	FeatureUserAgentIdx

	NumFeatures
)

// FeatureNames lists the base vector columns in order.
var FeatureNames = []string{
	"ip_numeric",
	"method_encoded",
	"status_code",
	"response_time",
	"url_length",
	"user_agent_idx",
}

// CommonUserAgents are matched case-insensitively, first hit wins.
var CommonUserAgents = []string{
	"Mozilla/5.0",
	"Chrome",
	"Firefox",
	"Safari",
	"Edge",
	"Opera",
	"curl",
	"Postman",
	"Python-requests",
	"Unknown",
}

// FeatureExtractor turns an event into the fixed-order base feature vector.
type FeatureExtractor struct {
	userAgents []string
}

// NewFeatureExtractor constructs an extractor using CommonUserAgents.
func NewFeatureExtractor() *FeatureExtractor {
	lowered := make([]string, len(CommonUserAgents))
	for i, ua := range CommonUserAgents {
		lowered[i] = strings.ToLower(ua)
	}
	return &FeatureExtractor{userAgents: lowered}
}

// Extract derives the base vector for ev. It never fails: unknown methods
// were normalised at ingress and malformed source identities hash.
func (e *FeatureExtractor) Extract(ev models.Event) []float64 {
	vec := make([]float64, NumFeatures)
	vec[FeatureIPNumeric] = float64(IPNumeric(ev.SourceID))
	method, _ := models.MethodIndex(models.NormalizeMethod(string(ev.Method)))
	vec[FeatureMethodEncoded] = float64(method)
	vec[FeatureStatusCode] = float64(ev.StatusCode)
	vec[FeatureResponseTime] = ev.LatencyMs
	vec[FeatureURLLength] = float64(len(ev.Path))
	vec[FeatureUserAgentIdx] = float64(e.UserAgentIndex(ev.ClientString))
	return vec
}

// UserAgentIndex returns the index of the first known agent contained in ua.
func (e *FeatureExtractor) UserAgentIndex(ua string) int {
	lowered := strings.ToLower(ua)
	for idx, agent := range e.userAgents {
		if strings.Contains(lowered, agent) {
			return idx
		}
	}
	return len(e.userAgents) - 1
}

// IPNumeric encodes a source identity as a number in [0,255]: the last octet
// of a dotted quad, otherwise a stable hash.
func IPNumeric(source string) int {
	parts := strings.Split(source, ".")
	if len(parts) == 4 {
		if octet, err := strconv.Atoi(parts[3]); err == nil && octet >= 0 && octet <= 255 {
			return octet
		}
	}
	if source == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(source))
	return int(h.Sum32() % 256)
}

package models

import (
	"strings"
	"time"
)

// HTTPMethod enumerates the request verbs the detector recognises.
type HTTPMethod string

const (
	MethodGet     HTTPMethod = "GET"
	MethodPost    HTTPMethod = "POST"
	MethodPut     HTTPMethod = "PUT"
	MethodDelete  HTTPMethod = "DELETE"
	MethodPatch   HTTPMethod = "PATCH"
	MethodHead    HTTPMethod = "HEAD"
	MethodOptions HTTPMethod = "OPTIONS"
)

// Defaults applied to optional event fields at the ingress boundary.
const (
	DefaultMethod       = MethodGet
	DefaultStatusCode   = 200
	DefaultLatencyMs    = 100.0
	DefaultClientString = "Unknown"
)

// KnownMethods lists recognised verbs in label-encoder order (sorted).
var KnownMethods = []HTTPMethod{
	MethodDelete,
	MethodGet,
	MethodHead,
	MethodOptions,
	MethodPatch,
	MethodPost,
	MethodPut,
}

// NormalizeMethod upper-cases raw and maps unknown verbs to DefaultMethod.
func NormalizeMethod(raw string) HTTPMethod {
	m := HTTPMethod(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := MethodIndex(m); ok {
		return m
	}
	return DefaultMethod
}

// MethodIndex returns the label-encoded position of m.
func MethodIndex(m HTTPMethod) (int, bool) {
	for i, known := range KnownMethods {
		if known == m {
			return i, true
		}
	}
	return 0, false
}

// Event is one access attempt observed by the web server. Events are
// immutable once built by the ingress layer.
type Event struct {
	SourceID     string
	Method       HTTPMethod
	Path         string
	StatusCode   int
	LatencyMs    float64
	ClientString string
	Timestamp    time.Time
}

// IsError reports whether the status code is a 4xx or 5xx.
func (e Event) IsError() bool {
	return e.StatusCode >= 400
}

// EstimatedBytes approximates the request size from path, client string and
// a fixed header allowance.
func (e Event) EstimatedBytes() float64 {
	return float64(len(e.Path) + len(e.ClientString) + 200)
}

// EventRequest is an access event as it arrives on the wire, before
// defaults and validation are applied.
type EventRequest struct {
	SourceID     string   `json:"ip_address"`
	Method       string   `json:"method"`
	Path         string   `json:"url"`
	StatusCode   *int     `json:"status_code"`
	LatencyMs    *float64 `json:"response_time,omitempty"`
	ClientString string   `json:"user_agent,omitempty"`
	Timestamp    string   `json:"timestamp,omitempty"`
}

package window

import "time"

// Window keys understood by the engine.
const (
	Key1Min  = "1min"
	Key5Min  = "5min"
	Key10Min = "10min"
)

// Keys lists the window keys in ascending horizon order.
var Keys = []string{Key1Min, Key5Min, Key10Min}

var durations = map[string]time.Duration{
	Key1Min:  time.Minute,
	Key5Min:  5 * time.Minute,
	Key10Min: 10 * time.Minute,
}

// Duration resolves a window key to its horizon. Unknown keys resolve to the
// one minute window.
func Duration(key string) time.Duration {
	if d, ok := durations[key]; ok {
		return d
	}
	return time.Minute
}

// Temporal feature names produced by ExtractFeatures.
const (
	FeatReqCount1Min       = "req_count_1min"
	FeatReqCount5Min       = "req_count_5min"
	FeatAvgLatency1Min     = "avg_response_time_1min"
	FeatAvgLatency5Min     = "avg_response_time_5min"
	FeatAvgBytes5Min       = "avg_bytes_5min"
	FeatErrorRate1Min      = "error_rate_1min"
	FeatErrorRate5Min      = "error_rate_5min"
	FeatErrorRateSlope     = "error_rate_slope"
	FeatUniquePaths1Min    = "unique_urls_1min"
	FeatMethodEntropy      = "method_entropy"
	FeatGlobalReqCount1Min = "global_req_count_1min"
	FeatGlobalErrRate1Min  = "global_error_rate_1min"
)

// TemporalVectorOrder is the fixed column order of TemporalVector.
var TemporalVectorOrder = []string{
	FeatReqCount1Min,
	FeatReqCount5Min,
	FeatAvgLatency1Min,
	FeatAvgBytes5Min,
	FeatErrorRate1Min,
	FeatErrorRateSlope,
	FeatUniquePaths1Min,
	FeatMethodEntropy,
	FeatGlobalReqCount1Min,
	FeatGlobalErrRate1Min,
}

package utils

import (
	"fmt"
	"strings"
	"time"
)

var eventTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an event timestamp in any accepted layout.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time: unsupported layout %q", value)
}

// TimestampOrNow returns the parsed timestamp, or now when value is absent
// or malformed. The second result reports whether the fallback was used.
func TimestampOrNow(value string, now time.Time) (time.Time, bool) {
	t, err := ParseTimestamp(value)
	if err != nil {
		return now, true
	}
	return t, false
}

package models

import (
	"fmt"
	"strings"
)

// ThreatLevel grades ensemble agreement. The zero value is ThreatNormal and
// levels compare with the usual integer ordering.
type ThreatLevel int

const (
	ThreatNormal ThreatLevel = iota
	ThreatSuspicious
	ThreatHigh
	ThreatCritical
)

// ThreatLevels lists every level in ascending order.
var ThreatLevels = []ThreatLevel{ThreatNormal, ThreatSuspicious, ThreatHigh, ThreatCritical}

func (t ThreatLevel) String() string {
	switch t {
	case ThreatNormal:
		return "normal"
	case ThreatSuspicious:
		return "suspicious"
	case ThreatHigh:
		return "high"
	case ThreatCritical:
		return "critical"
	default:
		return fmt.Sprintf("threat(%d)", int(t))
	}
}

// Compare returns -1, 0 or +1 as t is below, equal to or above other.
func (t ThreatLevel) Compare(other ThreatLevel) int {
	switch {
	case t < other:
		return -1
	case t > other:
		return 1
	default:
		return 0
	}
}

// IsAnomalous reports whether at least one scorer flagged the event.
func (t ThreatLevel) IsAnomalous() bool {
	return t > ThreatNormal
}

// ParseThreatLevel maps the string form back to a level.
func ParseThreatLevel(s string) (ThreatLevel, error) {
	for _, level := range ThreatLevels {
		if strings.EqualFold(level.String(), s) {
			return level, nil
		}
	}
	return ThreatNormal, fmt.Errorf("unknown threat level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t ThreatLevel) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ThreatLevel) UnmarshalText(text []byte) error {
	level, err := ParseThreatLevel(string(text))
	if err != nil {
		return err
	}
	*t = level
	return nil
}

package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/logsentinel/sentinel/internal/models"
)

// SeverityRules grades a flagged event on a 0-100 scale from its status,
// latency and path.
type SeverityRules struct {
	Base         float64       `yaml:"base"`
	Cap          float64       `yaml:"cap"`
	StatusTiers  []StatusTier  `yaml:"status_tiers"`
	LatencyTiers []LatencyTier `yaml:"latency_tiers"`
	PathTokens   PathTokenRule `yaml:"path_tokens"`
	logger       *slog.Logger
}

// StatusTier adds Points when the status code is at least Min. Tiers are
// checked in order and only the first match counts.
type StatusTier struct {
	Min    int     `yaml:"min"`
	Points float64 `yaml:"points"`
}

// LatencyTier adds Points when latency is strictly above AboveMs. First
// match wins.
type LatencyTier struct {
	AboveMs float64 `yaml:"above_ms"`
	Points  float64 `yaml:"points"`
}

// PathTokenRule adds Points for every token found in the lower-cased path.
type PathTokenRule struct {
	Points float64  `yaml:"points"`
	Tokens []string `yaml:"tokens"`
}

// DefaultSeverityRules returns the built-in grading table.
func DefaultSeverityRules() *SeverityRules {
	return &SeverityRules{
		Base: 50,
		Cap:  100,
		StatusTiers: []StatusTier{
			{Min: 500, Points: 20},
			{Min: 400, Points: 10},
		},
		LatencyTiers: []LatencyTier{
			{AboveMs: 2000, Points: 15},
			{AboveMs: 1000, Points: 10},
		},
		PathTokens: PathTokenRule{
			Points: 5,
			Tokens: []string{"admin", "login", "wp-admin", "phpmyadmin", "shell", "cmd", "exec"},
		},
		logger: slog.Default(),
	}
}

// LoadSeverityRules reads a YAML rule file. An empty path or a missing file
// yields the defaults; fields absent from the file keep their default value.
func LoadSeverityRules(path string, logger *slog.Logger) (*SeverityRules, error) {
	rules := DefaultSeverityRules()
	if logger != nil {
		rules.logger = logger
	}
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			rules.logger.Info("severity rule file not found, using defaults", slog.String("path", path))
			return rules, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, err
	}
	rules.logger.Info("severity rules loaded",
		slog.String("path", path),
		slog.Int("path_tokens", len(rules.PathTokens.Tokens)),
	)
	return rules, nil
}

// Score grades ev. Normal verdicts always score 0.
func (r *SeverityRules) Score(ev models.Event, level models.ThreatLevel) float64 {
	if r == nil {
		r = DefaultSeverityRules()
	}
	if !level.IsAnomalous() {
		return 0
	}

	score := r.Base
	for _, tier := range r.StatusTiers {
		if ev.StatusCode >= tier.Min {
			score += tier.Points
			break
		}
	}
	for _, tier := range r.LatencyTiers {
		if ev.LatencyMs > tier.AboveMs {
			score += tier.Points
			break
		}
	}
	path := strings.ToLower(ev.Path)
	for _, token := range r.PathTokens.Tokens {
		if token != "" && strings.Contains(path, strings.ToLower(token)) {
			score += r.PathTokens.Points
		}
	}
	if r.Cap > 0 && score > r.Cap {
		score = r.Cap
	}
	return score
}

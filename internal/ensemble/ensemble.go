package ensemble

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/logsentinel/sentinel/internal/models"
)

// MinScorers is the smallest scorer set the ensemble accepts.
const MinScorers = 3

const (
	ensembleType   = "Voting Classifier"
	votingStrategy = "majority_vote"
	artifactExt    = ".json"
)

var (
	// ErrNotFitted is returned when predicting before Fit or Load completes.
	ErrNotFitted = errors.New("ensemble: model not initialized")
	// ErrTooFewScorers is returned when fewer than MinScorers are supplied.
	ErrTooFewScorers = errors.New("ensemble: at least three scorers are required")
	// ErrDimensionMismatch is returned when a vector does not match the fitted width.
	ErrDimensionMismatch = errors.New("ensemble: feature vector width mismatch")
)

// Ensemble reduces the verdicts of a fixed scorer set to one graded
// decision. Scorers are read-only once fitted; the lock guards the
// fit-then-serve transition and hot swaps.
type Ensemble struct {
	mu            sync.RWMutex
	scorers       []Scorer
	fitted        bool
	contamination float64
	logger        *slog.Logger
}

// New wires the scorers in voting order. The first scorer is the reference
// scorer used for attribution.
func New(contamination float64, logger *slog.Logger, scorers ...Scorer) (*Ensemble, error) {
	if err := validateSet(scorers); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ensemble{
		scorers:       append([]Scorer(nil), scorers...),
		contamination: contamination,
		logger:        logger,
	}, nil
}

func validateSet(scorers []Scorer) error {
	if len(scorers) < MinScorers {
		return fmt.Errorf("%w: got %d", ErrTooFewScorers, len(scorers))
	}
	seen := make(map[string]struct{}, len(scorers))
	for _, s := range scorers {
		if s == nil {
			return errors.New("ensemble: nil scorer")
		}
		if _, dup := seen[s.Name()]; dup {
			return fmt.Errorf("ensemble: duplicate scorer %q", s.Name())
		}
		seen[s.Name()] = struct{}{}
	}
	return nil
}

// Fit trains every scorer on the shared training set. Any failure leaves
// the ensemble unfitted.
func (e *Ensemble) Fit(data [][]float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.fitted = false
	start := time.Now()
	for _, s := range e.scorers {
		if err := s.Fit(data); err != nil {
			return fmt.Errorf("fit %s: %w", s.Name(), err)
		}
		e.logger.Debug("scorer fitted", slog.String("scorer", s.Name()))
	}
	e.fitted = true
	e.logger.Info("ensemble fitted",
		slog.Int("samples", len(data)),
		slog.Int("scorers", len(e.scorers)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// IsFitted reports whether predictions can be served.
func (e *Ensemble) IsFitted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fitted
}

// Predict scores x with every scorer and reduces the votes.
func (e *Ensemble) Predict(x []float64) (*models.EnsembleResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.readyLocked(x); err != nil {
		return nil, err
	}
	return e.predictLocked(sanitize(x)), nil
}

// PredictBatch scores several rows under one read lock.
func (e *Ensemble) PredictBatch(rows [][]float64) ([]*models.EnsembleResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.fitted {
		return nil, ErrNotFitted
	}
	out := make([]*models.EnsembleResult, len(rows))
	for i, row := range rows {
		if err := e.readyLocked(row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = e.predictLocked(sanitize(row))
	}
	return out, nil
}

// PredictProba exposes the consensus score as a normal/anomaly pair. These
// are presentation values, not calibrated probabilities.
func (e *Ensemble) PredictProba(x []float64) (models.Probabilities, error) {
	res, err := e.Predict(x)
	if err != nil {
		return models.Probabilities{}, err
	}
	return models.Probabilities{
		Normal:      round4(1 - res.ConsensusScore),
		Anomaly:     res.ConsensusScore,
		ThreatLevel: res.ThreatLevel,
	}, nil
}

func (e *Ensemble) readyLocked(x []float64) error {
	if !e.fitted {
		return ErrNotFitted
	}
	if want := e.scorers[0].Dimensions(); len(x) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(x), want)
	}
	return nil
}

func (e *Ensemble) predictLocked(x []float64) *models.EnsembleResult {
	verdicts := make([]models.ScorerVerdict, len(e.scorers))
	votes := make([]models.Vote, len(e.scorers))
	anomalous := 0
	for i, s := range e.scorers {
		score := s.Score(x)
		v := models.ScorerVerdict{
			Name:        s.Name(),
			DisplayName: s.DisplayName(),
			Anomalous:   s.Predict(x) == -1,
			Score:       finite(score),
			Confidence:  round4(Confidence(score)),
		}
		if v.Anomalous {
			anomalous++
		}
		verdicts[i] = v
		votes[i] = models.Vote{Scorer: v.Name, Anomalous: v.Anomalous}
	}

	level := DetermineThreatLevel(anomalous, len(e.scorers))
	return &models.EnsembleResult{
		ThreatLevel:     level,
		ConsensusScore:  ConsensusScore(verdicts),
		AnomalyVotes:    anomalous,
		TotalScorers:    len(e.scorers),
		Verdicts:        verdicts,
		VotingBreakdown: votes,
		Explanation:     ExplainConsensus(level, verdicts),
	}
}

// Reference returns the scorer used for attribution.
func (e *Ensemble) Reference() (Scorer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.fitted {
		return nil, ErrNotFitted
	}
	return e.scorers[0], nil
}

// ModelInfo describes the ensemble for administrative endpoints.
func (e *Ensemble) ModelInfo() models.ModelInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, len(e.scorers))
	for i, s := range e.scorers {
		names[i] = s.Name()
	}
	levels := make([]string, len(models.ThreatLevels))
	for i, l := range models.ThreatLevels {
		levels[i] = l.String()
	}
	return models.ModelInfo{
		EnsembleType:   ensembleType,
		Models:         names,
		Contamination:  e.contamination,
		IsFitted:       e.fitted,
		VotingStrategy: votingStrategy,
		ThreatLevels:   levels,
	}
}

// ArtifactPath is where a scorer's artifact lives inside dir.
func ArtifactPath(dir, name string) string {
	return filepath.Join(dir, name+artifactExt)
}

// Save writes one artifact per scorer. Files are written to a temporary
// name and renamed so readers never observe a partial artifact.
func (e *Ensemble) Save(dir string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.fitted {
		return ErrNotFitted
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	for _, s := range e.scorers {
		data, err := s.Save()
		if err != nil {
			return fmt.Errorf("serialize %s: %w", s.Name(), err)
		}
		path := ArtifactPath(dir, s.Name())
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", s.Name(), err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("publish %s: %w", s.Name(), err)
		}
	}
	e.logger.Info("ensemble saved", slog.String("dir", dir))
	return nil
}

// Load restores the current scorers from dir. A failure leaves the ensemble
// unfitted rather than serving a mixed set.
func (e *Ensemble) Load(dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := LoadScorers(dir, e.scorers); err != nil {
		e.fitted = false
		return err
	}
	e.fitted = true
	e.logger.Info("ensemble loaded", slog.String("dir", dir))
	return nil
}

// LoadScorers restores each scorer from its artifact in dir. Every artifact
// is read before any scorer is touched.
func LoadScorers(dir string, scorers []Scorer) error {
	blobs := make([][]byte, len(scorers))
	for i, s := range scorers {
		data, err := os.ReadFile(ArtifactPath(dir, s.Name()))
		if err != nil {
			return fmt.Errorf("read %s artifact: %w", s.Name(), err)
		}
		blobs[i] = data
	}
	for i, s := range scorers {
		if err := s.Load(blobs[i]); err != nil {
			return fmt.Errorf("load %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Swap atomically replaces the scorer set with an already fitted one.
func (e *Ensemble) Swap(scorers []Scorer) error {
	if err := validateSet(scorers); err != nil {
		return err
	}
	dim := scorers[0].Dimensions()
	for _, s := range scorers {
		if s.Dimensions() == 0 || s.Dimensions() != dim {
			return fmt.Errorf("ensemble: scorer %s is unfitted or has width %d, want %d", s.Name(), s.Dimensions(), dim)
		}
	}

	e.mu.Lock()
	e.scorers = append([]Scorer(nil), scorers...)
	e.fitted = true
	e.mu.Unlock()

	e.logger.Info("ensemble swapped", slog.Int("scorers", len(scorers)))
	return nil
}

func finite(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}

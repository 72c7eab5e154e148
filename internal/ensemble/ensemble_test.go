package ensemble

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsentinel/sentinel/internal/models"
	"github.com/logsentinel/sentinel/internal/utils"
)

type stubScorer struct {
	name    string
	dim     int
	fitErr  error
	score   func(x []float64) float64
	fitted  bool
	loadErr error
}

func newStub(name string, score func(x []float64) float64) *stubScorer {
	return &stubScorer{name: name, score: score}
}

func (s *stubScorer) Name() string        { return s.name }
func (s *stubScorer) DisplayName() string { return "Stub " + s.name }
func (s *stubScorer) Dimensions() int     { return s.dim }

func (s *stubScorer) Fit(data [][]float64) error {
	if s.fitErr != nil {
		return s.fitErr
	}
	s.dim = len(data[0])
	s.fitted = true
	return nil
}

func (s *stubScorer) Score(x []float64) float64 { return s.score(x) }

func (s *stubScorer) Predict(x []float64) int {
	if s.score(x) < 0 {
		return -1
	}
	return 1
}

func (s *stubScorer) Save() ([]byte, error) { return json.Marshal(map[string]int{"dim": s.dim}) }

func (s *stubScorer) Load(data []byte) error {
	if s.loadErr != nil {
		return s.loadErr
	}
	var art map[string]int
	if err := json.Unmarshal(data, &art); err != nil {
		return err
	}
	s.dim = art["dim"]
	return nil
}

func constant(v float64) func([]float64) float64 {
	return func([]float64) float64 { return v }
}

// thresholdOn flags x[0] above limit.
func thresholdOn(limit float64) func([]float64) float64 {
	return func(x []float64) float64 { return limit - x[0] }
}

func fittedEnsemble(t *testing.T, scorers ...Scorer) *Ensemble {
	t.Helper()
	ens, err := New(0.1, utils.DiscardLogger(), scorers...)
	require.NoError(t, err)
	require.NoError(t, ens.Fit([][]float64{{0, 0}, {1, 1}}))
	return ens
}

func TestDetermineThreatLevelLadder(t *testing.T) {
	cases := []struct {
		votes int
		want  models.ThreatLevel
	}{
		{0, models.ThreatNormal},
		{1, models.ThreatSuspicious},
		{2, models.ThreatHigh},
		{3, models.ThreatCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DetermineThreatLevel(tc.votes, 3), "votes=%d", tc.votes)
	}
	assert.Equal(t, models.ThreatCritical, DetermineThreatLevel(4, 5))
}

func TestNewRequiresThreeScorers(t *testing.T) {
	_, err := New(0.1, nil, newStub("a", constant(1)), newStub("b", constant(1)))
	require.ErrorIs(t, err, ErrTooFewScorers)

	_, err = New(0.1, nil, newStub("a", constant(1)), newStub("a", constant(1)), newStub("c", constant(1)))
	require.Error(t, err)
}

func TestPredictBeforeFit(t *testing.T) {
	ens, err := New(0.1, utils.DiscardLogger(), newStub("a", constant(1)), newStub("b", constant(1)), newStub("c", constant(1)))
	require.NoError(t, err)

	_, err = ens.Predict([]float64{1, 2})
	require.ErrorIs(t, err, ErrNotFitted)
	_, err = ens.Reference()
	require.ErrorIs(t, err, ErrNotFitted)
	assert.False(t, ens.ModelInfo().IsFitted)
}

func TestFitFailureLeavesUnfitted(t *testing.T) {
	bad := newStub("c", constant(1))
	bad.fitErr = errors.New("boom")
	ens, err := New(0.1, utils.DiscardLogger(), newStub("a", constant(1)), newStub("b", constant(1)), bad)
	require.NoError(t, err)

	require.Error(t, ens.Fit([][]float64{{1, 2}}))
	assert.False(t, ens.IsFitted())
}

func TestPredictVotesAndConsensus(t *testing.T) {
	ens := fittedEnsemble(t,
		newStub("a", thresholdOn(10)),
		newStub("b", thresholdOn(20)),
		newStub("c", thresholdOn(30)),
	)

	normal, err := ens.Predict([]float64{5, 0})
	require.NoError(t, err)
	assert.Equal(t, models.ThreatNormal, normal.ThreatLevel)
	assert.Equal(t, 0.0, normal.ConsensusScore)
	assert.Contains(t, normal.Explanation, "NORMAL")

	high, err := ens.Predict([]float64{25, 0})
	require.NoError(t, err)
	assert.Equal(t, models.ThreatHigh, high.ThreatLevel)
	assert.Equal(t, 2, high.AnomalyVotes)
	assert.Equal(t, []models.Vote{{Scorer: "a", Anomalous: true}, {Scorer: "b", Anomalous: true}, {Scorer: "c", Anomalous: false}}, high.VotingBreakdown)
	assert.Contains(t, high.Explanation, "Stub a and Stub b")

	// Scores -15 and -5 saturate to confidences close to 1.
	want := round4(0.6*2.0/3.0 + 0.4*(round4(math.Tanh(37.5))+round4(math.Tanh(12.5)))/2)
	assert.Equal(t, want, high.ConsensusScore)

	critical, err := ens.Predict([]float64{100, 0})
	require.NoError(t, err)
	assert.Equal(t, models.ThreatCritical, critical.ThreatLevel)
	assert.Contains(t, critical.Explanation, "ALL MODELS (Stub a, Stub b, Stub c)")
}

func TestConsensusScoreRange(t *testing.T) {
	ens := fittedEnsemble(t,
		newStub("a", func(x []float64) float64 { return -x[0] }),
		newStub("b", func(x []float64) float64 { return math.NaN() }),
		newStub("c", func(x []float64) float64 { return math.Inf(-1) }),
	)

	for _, x := range [][]float64{{0, 0}, {1e10, 1e10}, {-1e10, 5}, {math.Inf(1), math.NaN()}} {
		res, err := ens.Predict(x)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.ConsensusScore, 0.0)
		assert.LessOrEqual(t, res.ConsensusScore, 1.0)
		for _, v := range res.Verdicts {
			assert.False(t, math.IsNaN(v.Score) || math.IsInf(v.Score, 0))
		}
	}
}

func TestConfidenceMonotonic(t *testing.T) {
	assert.Equal(t, 0.0, Confidence(0))
	assert.Equal(t, 0.0, Confidence(math.NaN()))
	assert.Equal(t, 1.0, Confidence(math.Inf(-1)))
	prev := 0.0
	for _, s := range []float64{0.01, 0.1, 0.3, 1, 5} {
		c := Confidence(-s)
		assert.Greater(t, c, prev)
		assert.Equal(t, c, Confidence(s))
		prev = c
	}
}

func TestPredictDimensionMismatch(t *testing.T) {
	ens := fittedEnsemble(t, newStub("a", constant(1)), newStub("b", constant(1)), newStub("c", constant(1)))
	_, err := ens.Predict([]float64{1, 2, 3})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestPredictProbaAndBatch(t *testing.T) {
	ens := fittedEnsemble(t,
		newStub("a", thresholdOn(10)),
		newStub("b", constant(1)),
		newStub("c", constant(1)),
	)

	proba, err := ens.PredictProba([]float64{11, 0})
	require.NoError(t, err)
	assert.Equal(t, models.ThreatSuspicious, proba.ThreatLevel)
	assert.InDelta(t, 1.0, proba.Normal+proba.Anomaly, 1e-4)

	results, err := ens.PredictBatch([][]float64{{1, 0}, {50, 0}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, models.ThreatNormal, results[0].ThreatLevel)
	assert.Equal(t, models.ThreatSuspicious, results[1].ThreatLevel)
}

func TestModelInfo(t *testing.T) {
	ens := fittedEnsemble(t, newStub("a", constant(1)), newStub("b", constant(1)), newStub("c", constant(1)))
	info := ens.ModelInfo()
	assert.Equal(t, "Voting Classifier", info.EnsembleType)
	assert.Equal(t, []string{"a", "b", "c"}, info.Models)
	assert.Equal(t, "majority_vote", info.VotingStrategy)
	assert.Equal(t, []string{"normal", "suspicious", "high", "critical"}, info.ThreatLevels)
	assert.True(t, info.IsFitted)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ens := fittedEnsemble(t, newStub("a", constant(1)), newStub("b", constant(1)), newStub("c", constant(1)))
	require.NoError(t, ens.Save(dir))
	for _, name := range []string{"a", "b", "c"} {
		_, err := os.Stat(ArtifactPath(dir, name))
		require.NoError(t, err)
	}

	restored, err := New(0.1, utils.DiscardLogger(), newStub("a", constant(1)), newStub("b", constant(1)), newStub("c", constant(1)))
	require.NoError(t, err)
	require.NoError(t, restored.Load(dir))
	assert.True(t, restored.IsFitted())
	_, err = restored.Predict([]float64{0, 0})
	require.NoError(t, err)
}

func TestLoadFailureMarksUnfitted(t *testing.T) {
	dir := t.TempDir()
	ens := fittedEnsemble(t, newStub("a", constant(1)), newStub("b", constant(1)), newStub("c", constant(1)))
	require.NoError(t, ens.Save(dir))

	require.Error(t, ens.Load(t.TempDir()))
	assert.False(t, ens.IsFitted())
}

func TestSwapRequiresFittedScorers(t *testing.T) {
	ens := fittedEnsemble(t, newStub("a", constant(1)), newStub("b", constant(1)), newStub("c", constant(1)))

	err := ens.Swap([]Scorer{newStub("x", constant(-1)), newStub("y", constant(-1)), newStub("z", constant(-1))})
	require.Error(t, err)

	next := []Scorer{newStub("x", constant(-1)), newStub("y", constant(-1)), newStub("z", constant(-1))}
	for _, s := range next {
		require.NoError(t, s.Fit([][]float64{{0, 0}}))
	}
	require.NoError(t, ens.Swap(next))

	res, err := ens.Predict([]float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, models.ThreatCritical, res.ThreatLevel)
	ref, err := ens.Reference()
	require.NoError(t, err)
	assert.Equal(t, "x", ref.Name())
}

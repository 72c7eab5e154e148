package scorers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsentinel/sentinel/internal/ensemble"
	"github.com/logsentinel/sentinel/internal/extractors"
)

var (
	trainingSet = extractors.SyntheticTrainingSet(1000, 42)
	extreme     = []float64{255, 1, 500, 30000, 2000, 9}
)

func fitted(t *testing.T) []ensemble.Scorer {
	t.Helper()
	set := NewDefaultSet(DefaultParams())
	for _, s := range set {
		require.NoError(t, s.Fit(trainingSet), s.Name())
	}
	return set
}

func flaggedFraction(s ensemble.Scorer, rows [][]float64) float64 {
	flagged := 0
	for _, row := range rows {
		if s.Predict(row) == -1 {
			flagged++
		}
	}
	return float64(flagged) / float64(len(rows))
}

func TestDefaultSetOrder(t *testing.T) {
	set := NewDefaultSet(DefaultParams())
	require.Len(t, set, 3)
	assert.Equal(t, NameIsolationForest, set[0].Name())
	assert.Equal(t, NameKernelBoundary, set[1].Name())
	assert.Equal(t, NameLocalOutlier, set[2].Name())
	assert.Equal(t, "Local Outlier Factor (LOF)", set[2].DisplayName())
	for _, s := range set {
		assert.Zero(t, s.Dimensions())
	}
}

func TestScorersFlagExtremeTraffic(t *testing.T) {
	for _, s := range fitted(t) {
		assert.Equal(t, extractors.NumFeatures, s.Dimensions())
		assert.Equal(t, -1, s.Predict(extreme), "%s should flag the extreme vector", s.Name())
		assert.Less(t, s.Score(extreme), 0.0, s.Name())
	}
}

func TestContaminationOffset(t *testing.T) {
	set := fitted(t)
	for _, s := range set[:2] {
		frac := flaggedFraction(s, trainingSet)
		assert.InDelta(t, 0.1, frac, 0.05, "%s flagged %.3f of training rows", s.Name(), frac)
	}
	assert.LessOrEqual(t, flaggedFraction(set[2], trainingSet), 0.2)
}

func TestDegenerateInputsStayFinite(t *testing.T) {
	for _, s := range fitted(t) {
		for _, x := range [][]float64{
			make([]float64, extractors.NumFeatures),
			{1e10, 1e10, 1e10, 1e10, 1e10, 1e10},
		} {
			score := s.Score(x)
			assert.False(t, score != score, "%s returned NaN", s.Name())
		}
	}
}

func TestFitIsDeterministic(t *testing.T) {
	a := NewIsolationForest(50, 128, 0.1, 7, 16)
	b := NewIsolationForest(50, 128, 0.1, 7, 16)
	require.NoError(t, a.Fit(trainingSet))
	require.NoError(t, b.Fit(trainingSet))
	for _, row := range trainingSet[:20] {
		assert.Equal(t, a.Score(row), b.Score(row))
	}
	assert.Equal(t, a.Background(), b.Background())
	assert.Len(t, a.Background(), 16)
}

func TestArtifactRoundTrip(t *testing.T) {
	original := fitted(t)
	restored := NewDefaultSet(DefaultParams())

	for i, s := range original {
		data, err := s.Save()
		require.NoError(t, err)
		require.NoError(t, restored[i].Load(data), s.Name())

		assert.Equal(t, s.Dimensions(), restored[i].Dimensions())
		rows := append([][]float64{extreme}, trainingSet[:10]...)
		for _, row := range rows {
			assert.Equal(t, s.Score(row), restored[i].Score(row), s.Name())
		}
	}
}

func TestFitRejectsBadTraining(t *testing.T) {
	for _, s := range NewDefaultSet(DefaultParams()) {
		require.ErrorIs(t, s.Fit(nil), ErrEmptyTraining, s.Name())
		require.ErrorIs(t, s.Fit([][]float64{{1, 2}, {3}}), ErrRaggedTraining, s.Name())
	}
}

func TestLoadRejectsEmptyArtifact(t *testing.T) {
	for _, s := range NewDefaultSet(DefaultParams()) {
		require.Error(t, s.Load([]byte(`{}`)), s.Name())
		require.Error(t, s.Load([]byte(`not json`)), s.Name())
	}
}

func TestAnomalyScoreOrdering(t *testing.T) {
	forest := NewIsolationForest(100, 256, 0.1, 42, 32)
	require.NoError(t, forest.Fit(trainingSet))

	assert.Greater(t, forest.AnomalyScore(extreme), forest.AnomalyScore(trainingSet[0]))
	assert.InDelta(t, -forest.AnomalyScore(extreme)-forest.offset, forest.Score(extreme), 1e-12)
}

func TestQuantileInterpolates(t *testing.T) {
	values := []float64{4, 1, 3, 2}
	assert.Equal(t, 1.0, quantile(values, 0))
	assert.Equal(t, 4.0, quantile(values, 1))
	assert.InDelta(t, 2.5, quantile(values, 0.5), 1e-12)
	assert.Equal(t, []float64{4, 1, 3, 2}, values, "input must not be reordered")
}

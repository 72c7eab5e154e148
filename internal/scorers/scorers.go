// Package scorers provides the anomaly scorers behind the ensemble: an
// isolation forest, a kernel boundary model and a local outlier factor
// model. Every scorer follows the same sign convention: Score returns a
// decision value that is negative for anomalies, and Predict returns -1 for
// anomalous and +1 for normal.
package scorers

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/logsentinel/sentinel/internal/ensemble"
)

// Scorer names, also used as artifact file stems.
const (
	NameIsolationForest = "isolation_forest"
	NameKernelBoundary  = "ocsvm"
	NameLocalOutlier    = "lof"
)

var (
	// ErrEmptyTraining is returned by Fit when no rows are supplied.
	ErrEmptyTraining = errors.New("scorers: empty training set")
	// ErrRaggedTraining is returned by Fit when rows differ in width.
	ErrRaggedTraining = errors.New("scorers: training rows differ in width")
)

// Params configures the default scorer set.
type Params struct {
	Contamination  float64
	Seed           int64
	Trees          int
	SampleSize     int
	Neighbors      int
	BackgroundSize int
}

// DefaultParams mirrors the settings the detector has always shipped with.
func DefaultParams() Params {
	return Params{
		Contamination:  0.1,
		Seed:           42,
		Trees:          100,
		SampleSize:     256,
		Neighbors:      20,
		BackgroundSize: 32,
	}
}

// NewDefaultSet builds the three scorers in voting order.
func NewDefaultSet(p Params) []ensemble.Scorer {
	return []ensemble.Scorer{
		NewIsolationForest(p.Trees, p.SampleSize, p.Contamination, p.Seed, p.BackgroundSize),
		NewKernelBoundary(p.Contamination, p.SampleSize, p.Seed),
		NewLocalOutlierFactor(p.Neighbors, p.Contamination, p.Seed),
	}
}

func checkTraining(data [][]float64) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyTraining
	}
	dim := len(data[0])
	if dim == 0 {
		return 0, fmt.Errorf("%w: zero-width rows", ErrRaggedTraining)
	}
	for i, row := range data {
		if len(row) != dim {
			return 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrRaggedTraining, i, len(row), dim)
		}
	}
	return dim, nil
}

// quantile returns the q-th quantile of values with linear interpolation.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// sampleRows draws up to n rows without replacement.
func sampleRows(rng *rand.Rand, data [][]float64, n int) [][]float64 {
	if n >= len(data) {
		out := make([][]float64, len(data))
		copy(out, data)
		return out
	}
	perm := rng.Perm(len(data))
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = data[perm[i]]
	}
	return out
}

func label(decision float64) int {
	if decision < 0 {
		return -1
	}
	return 1
}

// standardizer rescales columns to zero mean and unit variance.
type standardizer struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func fitStandardizer(data [][]float64, dim int) standardizer {
	s := standardizer{Mean: make([]float64, dim), Scale: make([]float64, dim)}
	n := float64(len(data))
	for _, row := range data {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range data {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Scale[j] += d * d
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j] / n)
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
	return s
}

func (s standardizer) apply(x []float64) []float64 {
	out := make([]float64, len(s.Mean))
	for j := range out {
		v := 0.0
		if j < len(x) {
			v = x[j]
		}
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

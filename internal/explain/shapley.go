package explain

import (
	"errors"
	"fmt"
	"math/bits"
)

// MaxExactFeatures caps subset enumeration at 2^12 coalitions.
const MaxExactFeatures = 12

var (
	// ErrTooManyFeatures is returned when exact enumeration would be too costly.
	ErrTooManyFeatures = errors.New("explain: too many features for exact attribution")
	// ErrEmptyBackground is returned when no baseline rows are available.
	ErrEmptyBackground = errors.New("explain: empty background sample")
)

// Shapley computes exact interventional Shapley values of f at x. Features
// outside a coalition take their value from each background row in turn.
// The returned base is the mean of f over the background, and the values
// sum to f(x) - base.
func Shapley(f func([]float64) float64, x []float64, background [][]float64) ([]float64, float64, error) {
	n := len(x)
	if n > MaxExactFeatures {
		return nil, 0, fmt.Errorf("%w: %d > %d", ErrTooManyFeatures, n, MaxExactFeatures)
	}
	if len(background) == 0 {
		return nil, 0, ErrEmptyBackground
	}

	// value[mask] is the expected output with the features in mask fixed to x.
	coalitions := 1 << n
	value := make([]float64, coalitions)
	blend := make([]float64, n)
	for mask := 0; mask < coalitions; mask++ {
		total := 0.0
		for _, row := range background {
			for j := 0; j < n; j++ {
				if mask&(1<<j) != 0 || j >= len(row) {
					blend[j] = x[j]
				} else {
					blend[j] = row[j]
				}
			}
			total += f(blend)
		}
		value[mask] = total / float64(len(background))
	}

	weights := coalitionWeights(n)
	phi := make([]float64, n)
	for i := 0; i < n; i++ {
		bit := 1 << i
		for mask := 0; mask < coalitions; mask++ {
			if mask&bit != 0 {
				continue
			}
			phi[i] += weights[bits.OnesCount(uint(mask))] * (value[mask|bit] - value[mask])
		}
	}
	return phi, value[0], nil
}

// coalitionWeights[s] = s!(n-s-1)!/n!
func coalitionWeights(n int) []float64 {
	w := make([]float64, n)
	for s := 0; s < n; s++ {
		w[s] = 1 / (float64(n) * binomial(n-1, s))
	}
	return w
}

func binomial(n, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	result := 1.0
	for i := 1; i <= k; i++ {
		result = result * float64(n-k+i) / float64(i)
	}
	return result
}

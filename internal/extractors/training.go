package extractors

import (
	"math/rand"

	"github.com/logsentinel/sentinel/internal/models"
)

type weighted[T any] struct {
	value  T
	weight float64
}

var (
	trainingMethods = []weighted[models.HTTPMethod]{
		{models.MethodGet, 0.60},
		{models.MethodPost, 0.25},
		{models.MethodPut, 0.10},
		{models.MethodDelete, 0.05},
	}
	trainingStatuses = []weighted[int]{
		{200, 0.70},
		{201, 0.10},
		{301, 0.05},
		{302, 0.05},
		{400, 0.05},
		{404, 0.03},
		{500, 0.02},
	}
)

// SyntheticTrainingSet generates n base vectors that model expected-normal
// traffic. The same seed always yields the same set.
func SyntheticTrainingSet(n int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	data := make([][]float64, n)
	for i := range data {
		method, _ := models.MethodIndex(pick(rng, trainingMethods))
		vec := make([]float64, NumFeatures)
		vec[FeatureIPNumeric] = float64(1 + rng.Intn(254))
		vec[FeatureMethodEncoded] = float64(method)
		vec[FeatureStatusCode] = float64(pick(rng, trainingStatuses))
		vec[FeatureResponseTime] = 50 + rng.Float64()*450
		vec[FeatureURLLength] = float64(10 + rng.Intn(90))
		vec[FeatureUserAgentIdx] = float64(rng.Intn(len(CommonUserAgents) - 2))
		data[i] = vec
	}
	return data
}

func pick[T any](rng *rand.Rand, choices []weighted[T]) T {
	r := rng.Float64()
	acc := 0.0
	for _, c := range choices {
		acc += c.weight
		if r < acc {
			return c.value
		}
	}
	return choices[len(choices)-1].value
}

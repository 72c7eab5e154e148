package scorers

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// KernelBoundary is a one-class boundary model. It scores a point by its
// mean RBF similarity to a support sample of standardized training rows and
// places the boundary at the nu quantile of the training similarities.
// The decision value is the similarity margin relative to that boundary.
type KernelBoundary struct {
	mu sync.RWMutex

	nu         float64
	maxSupport int
	seed       int64

	scaler  standardizer
	support [][]float64
	gamma   float64
	rho     float64
	dim     int
}

type kernelBoundaryArtifact struct {
	Nu      float64      `json:"nu"`
	Scaler  standardizer `json:"scaler"`
	Support [][]float64  `json:"support"`
	Gamma   float64      `json:"gamma"`
	Rho     float64      `json:"rho"`
	Dim     int          `json:"dim"`
}

// NewKernelBoundary creates an unfitted model. nu bounds the fraction of
// training rows left outside the boundary.
func NewKernelBoundary(nu float64, maxSupport int, seed int64) *KernelBoundary {
	if nu <= 0 || nu >= 1 {
		nu = 0.1
	}
	if maxSupport <= 0 {
		maxSupport = 256
	}
	return &KernelBoundary{nu: nu, maxSupport: maxSupport, seed: seed}
}

func (k *KernelBoundary) Name() string        { return NameKernelBoundary }
func (k *KernelBoundary) DisplayName() string { return "One-Class SVM" }

func (k *KernelBoundary) Dimensions() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.dim
}

func (k *KernelBoundary) Fit(data [][]float64) error {
	dim, err := checkTraining(data)
	if err != nil {
		return fmt.Errorf("kernel boundary: %w", err)
	}

	scaler := fitStandardizer(data, dim)
	rng := rand.New(rand.NewSource(k.seed))
	sample := sampleRows(rng, data, k.maxSupport)
	support := make([][]float64, len(sample))
	for i, row := range sample {
		support[i] = scaler.apply(row)
	}

	// gamma = 1 / (n_features * Var(X)) over the standardized support.
	gamma := 1 / float64(dim)
	if v := variance(support); v > 0 {
		gamma = 1 / (float64(dim) * v)
	}

	fitted := &KernelBoundary{scaler: scaler, support: support, gamma: gamma}
	sims := make([]float64, len(data))
	for i, row := range data {
		sims[i] = fitted.similarity(row)
	}
	rho := quantile(sims, k.nu)
	if rho <= 0 {
		rho = math.SmallestNonzeroFloat64
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.scaler = scaler
	k.support = support
	k.gamma = gamma
	k.rho = rho
	k.dim = dim
	return nil
}

// Score is (similarity - rho) / rho, negative outside the boundary.
func (k *KernelBoundary) Score(x []float64) float64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if len(k.support) == 0 {
		return 0
	}
	return (k.similarity(x) - k.rho) / k.rho
}

func (k *KernelBoundary) Predict(x []float64) int {
	return label(k.Score(x))
}

func (k *KernelBoundary) similarity(x []float64) float64 {
	z := k.scaler.apply(x)
	total := 0.0
	for _, s := range k.support {
		total += math.Exp(-k.gamma * squaredDistance(z, s))
	}
	return total / float64(len(k.support))
}

func (k *KernelBoundary) Save() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return json.Marshal(kernelBoundaryArtifact{
		Nu:      k.nu,
		Scaler:  k.scaler,
		Support: k.support,
		Gamma:   k.gamma,
		Rho:     k.rho,
		Dim:     k.dim,
	})
}

func (k *KernelBoundary) Load(data []byte) error {
	var art kernelBoundaryArtifact
	if err := json.Unmarshal(data, &art); err != nil {
		return fmt.Errorf("kernel boundary: decode artifact: %w", err)
	}
	if len(art.Support) == 0 || art.Dim == 0 || art.Rho <= 0 {
		return fmt.Errorf("kernel boundary: artifact holds no fitted boundary")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nu = art.Nu
	k.scaler = art.Scaler
	k.support = art.Support
	k.gamma = art.Gamma
	k.rho = art.Rho
	k.dim = art.Dim
	return nil
}

func variance(rows [][]float64) float64 {
	n := 0
	sum, sumSq := 0.0, 0.0
	for _, row := range rows {
		for _, v := range row {
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

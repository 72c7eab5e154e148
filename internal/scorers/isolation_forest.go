package scorers

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

const eulerGamma = 0.5772156649

type isoNode struct {
	Feature int      `json:"f,omitempty"`
	Split   float64  `json:"s,omitempty"`
	Left    *isoNode `json:"l,omitempty"`
	Right   *isoNode `json:"r,omitempty"`
	Size    int      `json:"n"`
	Leaf    bool     `json:"leaf,omitempty"`
}

// IsolationForest isolates points with random axis-aligned splits. Points
// that isolate in few splits are anomalous. It is the reference scorer for
// attribution since its anomaly score is a cheap deterministic function of
// the input.
type IsolationForest struct {
	mu sync.RWMutex

	numTrees       int
	sampleSize     int
	contamination  float64
	seed           int64
	backgroundSize int

	trees      []*isoNode
	psi        int
	dim        int
	offset     float64
	background [][]float64
}

type isolationForestArtifact struct {
	NumTrees      int         `json:"num_trees"`
	SampleSize    int         `json:"sample_size"`
	Contamination float64     `json:"contamination"`
	Psi           int         `json:"psi"`
	Dim           int         `json:"dim"`
	Offset        float64     `json:"offset"`
	Trees         []*isoNode  `json:"trees"`
	Background    [][]float64 `json:"background"`
}

// NewIsolationForest creates an unfitted forest.
func NewIsolationForest(numTrees, sampleSize int, contamination float64, seed int64, backgroundSize int) *IsolationForest {
	if numTrees <= 0 {
		numTrees = 100
	}
	if sampleSize <= 0 {
		sampleSize = 256
	}
	if backgroundSize <= 0 || backgroundSize > 64 {
		backgroundSize = 64
	}
	return &IsolationForest{
		numTrees:       numTrees,
		sampleSize:     sampleSize,
		contamination:  contamination,
		seed:           seed,
		backgroundSize: backgroundSize,
	}
}

func (f *IsolationForest) Name() string        { return NameIsolationForest }
func (f *IsolationForest) DisplayName() string { return "Isolation Forest" }

// Dimensions is the fitted input width, 0 before Fit.
func (f *IsolationForest) Dimensions() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dim
}

// Fit grows the forest and sets the decision offset so that roughly
// contamination of the training rows fall below zero.
func (f *IsolationForest) Fit(data [][]float64) error {
	dim, err := checkTraining(data)
	if err != nil {
		return fmt.Errorf("isolation forest: %w", err)
	}

	rng := rand.New(rand.NewSource(f.seed))
	psi := f.sampleSize
	if psi > len(data) {
		psi = len(data)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	trees := make([]*isoNode, f.numTrees)
	for i := range trees {
		sample := sampleRows(rng, data, psi)
		trees[i] = buildIsoTree(rng, sample, 0, maxDepth)
	}

	fitted := &IsolationForest{trees: trees, psi: psi}
	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = -fitted.anomalyScore(row)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.trees = trees
	f.psi = psi
	f.dim = dim
	f.offset = quantile(scores, f.contamination)
	f.background = sampleRows(rng, data, f.backgroundSize)
	return nil
}

// Score is the decision value: negative means anomalous.
func (f *IsolationForest) Score(x []float64) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return -f.anomalyScore(x) - f.offset
}

// Predict returns -1 for anomalous and +1 for normal.
func (f *IsolationForest) Predict(x []float64) int {
	return label(f.Score(x))
}

// AnomalyScore is 2^(-E[h(x)]/c(psi)) in (0,1]; higher is more anomalous.
func (f *IsolationForest) AnomalyScore(x []float64) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.anomalyScore(x)
}

// Background returns the rows used as the attribution baseline.
func (f *IsolationForest) Background() [][]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.background
}

func (f *IsolationForest) anomalyScore(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0.5
	}
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, x, 0)
	}
	mean := total / float64(len(f.trees))
	c := averagePathLength(f.psi)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -mean/c)
}

func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return json.Marshal(isolationForestArtifact{
		NumTrees:      f.numTrees,
		SampleSize:    f.sampleSize,
		Contamination: f.contamination,
		Psi:           f.psi,
		Dim:           f.dim,
		Offset:        f.offset,
		Trees:         f.trees,
		Background:    f.background,
	})
}

func (f *IsolationForest) Load(data []byte) error {
	var art isolationForestArtifact
	if err := json.Unmarshal(data, &art); err != nil {
		return fmt.Errorf("isolation forest: decode artifact: %w", err)
	}
	if len(art.Trees) == 0 || art.Dim == 0 {
		return fmt.Errorf("isolation forest: artifact holds no fitted trees")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.numTrees = art.NumTrees
	f.sampleSize = art.SampleSize
	f.contamination = art.Contamination
	f.psi = art.Psi
	f.dim = art.Dim
	f.offset = art.Offset
	f.trees = art.Trees
	f.background = art.Background
	return nil
}

func buildIsoTree(rng *rand.Rand, data [][]float64, depth, maxDepth int) *isoNode {
	if len(data) <= 1 || depth >= maxDepth || allIdentical(data) {
		return &isoNode{Size: len(data), Leaf: true}
	}

	feature := rng.Intn(len(data[0]))
	lo, hi := featureRange(data, feature)
	if lo == hi {
		return &isoNode{Size: len(data), Leaf: true}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{Size: len(data), Leaf: true}
	}

	return &isoNode{
		Feature: feature,
		Split:   split,
		Left:    buildIsoTree(rng, left, depth+1, maxDepth),
		Right:   buildIsoTree(rng, right, depth+1, maxDepth),
		Size:    len(data),
	}
}

func pathLength(node *isoNode, x []float64, depth int) float64 {
	for !node.Leaf {
		v := 0.0
		if node.Feature < len(x) {
			v = x[node.Feature]
		}
		if v < node.Split {
			node = node.Left
		} else {
			node = node.Right
		}
		depth++
	}
	return float64(depth) + averagePathLength(node.Size)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// binary search tree lookup over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	harmonic := math.Log(float64(n-1)) + eulerGamma
	return 2*harmonic - 2*float64(n-1)/float64(n)
}

func allIdentical(data [][]float64) bool {
	first := data[0]
	for _, row := range data[1:] {
		for j := range first {
			if math.Abs(row[j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(data [][]float64, feature int) (float64, float64) {
	lo, hi := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		v := row[feature]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

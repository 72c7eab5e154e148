package scorers

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

const (
	maxLOFTrainingRows = 1000
	lrdEpsilon         = 1e-10
)

// LocalOutlierFactor compares the local reachability density of a point with
// that of its nearest training neighbours. It runs in novelty mode: the
// training set is fixed at Fit and queries never join it.
type LocalOutlierFactor struct {
	mu sync.RWMutex

	neighbors     int
	contamination float64
	seed          int64

	scaler standardizer
	points [][]float64
	kDist  []float64
	lrd    []float64
	k      int
	offset float64
	dim    int
}

type lofArtifact struct {
	Neighbors     int          `json:"neighbors"`
	Contamination float64      `json:"contamination"`
	Scaler        standardizer `json:"scaler"`
	Points        [][]float64  `json:"points"`
	KDist         []float64    `json:"k_dist"`
	LRD           []float64    `json:"lrd"`
	K             int          `json:"k"`
	Offset        float64      `json:"offset"`
	Dim           int          `json:"dim"`
}

type neighbour struct {
	idx  int
	dist float64
}

// NewLocalOutlierFactor creates an unfitted model.
func NewLocalOutlierFactor(neighbors int, contamination float64, seed int64) *LocalOutlierFactor {
	if neighbors <= 0 {
		neighbors = 20
	}
	return &LocalOutlierFactor{neighbors: neighbors, contamination: contamination, seed: seed}
}

func (l *LocalOutlierFactor) Name() string        { return NameLocalOutlier }
func (l *LocalOutlierFactor) DisplayName() string { return "Local Outlier Factor (LOF)" }

func (l *LocalOutlierFactor) Dimensions() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dim
}

func (l *LocalOutlierFactor) Fit(data [][]float64) error {
	dim, err := checkTraining(data)
	if err != nil {
		return fmt.Errorf("local outlier factor: %w", err)
	}
	if len(data) < 2 {
		return fmt.Errorf("local outlier factor: need at least 2 rows, got %d", len(data))
	}

	scaler := fitStandardizer(data, dim)
	rng := rand.New(rand.NewSource(l.seed))
	sample := sampleRows(rng, data, maxLOFTrainingRows)
	points := make([][]float64, len(sample))
	for i, row := range sample {
		points[i] = scaler.apply(row)
	}

	k := l.neighbors
	if k > len(points)-1 {
		k = len(points) - 1
	}

	// Neighbourhoods of the training points exclude the point itself.
	hoods := make([][]neighbour, len(points))
	kDist := make([]float64, len(points))
	for i, p := range points {
		hoods[i] = nearest(points, p, k, i)
		kDist[i] = hoods[i][k-1].dist
	}
	lrd := make([]float64, len(points))
	for i := range points {
		lrd[i] = reachDensity(hoods[i], kDist)
	}

	scores := make([]float64, len(points))
	for i := range points {
		scores[i] = -outlierFactor(hoods[i], lrd, lrd[i])
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.scaler = scaler
	l.points = points
	l.kDist = kDist
	l.lrd = lrd
	l.k = k
	l.offset = quantile(scores, l.contamination)
	l.dim = dim
	return nil
}

// Score is -LOF(x) minus the contamination offset; negative is anomalous.
func (l *LocalOutlierFactor) Score(x []float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.points) == 0 {
		return 0
	}
	z := l.scaler.apply(x)
	hood := nearest(l.points, z, l.k, -1)
	own := reachDensity(hood, l.kDist)
	return -outlierFactor(hood, l.lrd, own) - l.offset
}

func (l *LocalOutlierFactor) Predict(x []float64) int {
	return label(l.Score(x))
}

func (l *LocalOutlierFactor) Save() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(lofArtifact{
		Neighbors:     l.neighbors,
		Contamination: l.contamination,
		Scaler:        l.scaler,
		Points:        l.points,
		KDist:         l.kDist,
		LRD:           l.lrd,
		K:             l.k,
		Offset:        l.offset,
		Dim:           l.dim,
	})
}

func (l *LocalOutlierFactor) Load(data []byte) error {
	var art lofArtifact
	if err := json.Unmarshal(data, &art); err != nil {
		return fmt.Errorf("local outlier factor: decode artifact: %w", err)
	}
	if len(art.Points) == 0 || art.K == 0 || len(art.KDist) != len(art.Points) || len(art.LRD) != len(art.Points) {
		return fmt.Errorf("local outlier factor: artifact is incomplete")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.neighbors = art.Neighbors
	l.contamination = art.Contamination
	l.scaler = art.Scaler
	l.points = art.Points
	l.kDist = art.KDist
	l.lrd = art.LRD
	l.k = art.K
	l.offset = art.Offset
	l.dim = art.Dim
	return nil
}

// nearest returns the k closest points to p, skipping index skip. Ties keep
// index order.
func nearest(points [][]float64, p []float64, k, skip int) []neighbour {
	all := make([]neighbour, 0, len(points))
	for i, q := range points {
		if i == skip {
			continue
		}
		all = append(all, neighbour{idx: i, dist: math.Sqrt(squaredDistance(p, q))})
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].dist < all[b].dist })
	if k > len(all) {
		k = len(all)
	}
	return all[:k]
}

func reachDensity(hood []neighbour, kDist []float64) float64 {
	total := 0.0
	for _, n := range hood {
		total += math.Max(kDist[n.idx], n.dist)
	}
	return 1 / (total/float64(len(hood)) + lrdEpsilon)
}

func outlierFactor(hood []neighbour, lrd []float64, own float64) float64 {
	total := 0.0
	for _, n := range hood {
		total += lrd[n.idx]
	}
	return total / float64(len(hood)) / own
}

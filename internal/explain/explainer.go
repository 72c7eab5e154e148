// Package explain attributes the reference scorer's anomaly score to the
// individual base features and renders the result for analysts.
package explain

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/logsentinel/sentinel/internal/cache"
	"github.com/logsentinel/sentinel/internal/ensemble"
	"github.com/logsentinel/sentinel/internal/models"
)

// ErrUnsupportedScorer is returned when the reference scorer cannot be
// attributed.
var ErrUnsupportedScorer = errors.New("explain: reference scorer does not support attribution")

const (
	normalText  = "Request classified as NORMAL. No feature shows a significant anomalous pattern."
	anomalyLead = "Request detected as ANOMALY."
	minorText   = "A combination of minor features cumulatively indicates an anomaly."
	degradedFmt = "Request detected as ANOMALY. Feature-level attribution is unavailable (%s)."

	topContributors = 3
	cacheKeyPrefix  = "sentinel:explain:"

	// DefaultGlobalSample caps the rows used by GlobalImportance.
	DefaultGlobalSample = 100
)

// Attributable is the capability the reference scorer needs for attribution.
type Attributable interface {
	// AnomalyScore is a continuous score where higher is more anomalous.
	AnomalyScore(x []float64) float64
	// Background is a sample of training rows used as the baseline.
	Background() [][]float64
}

// ReferenceProvider yields the current reference scorer.
type ReferenceProvider interface {
	Reference() (ensemble.Scorer, error)
}

// Explainer computes and renders attributions. It consults the cache for
// full explanations when one is configured.
type Explainer struct {
	source   ReferenceProvider
	cache    cache.Provider
	cacheTTL time.Duration
	logger   *slog.Logger

	epoch atomic.Uint64

	fpMu  sync.Mutex
	fpRef ensemble.Scorer
	fp    string

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New builds an Explainer. A nil cache disables caching.
func New(source ReferenceProvider, c cache.Provider, cacheTTL time.Duration, logger *slog.Logger) *Explainer {
	if c == nil {
		c = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Explainer{
		source:   source,
		cache:    c,
		cacheTTL: cacheTTL,
		logger:   logger,
		rng:      rand.New(rand.NewSource(42)),
	}
}

// Reset invalidates cached explanations, e.g. after the model is swapped.
func (e *Explainer) Reset() {
	e.epoch.Add(1)
	e.fpMu.Lock()
	e.fpRef, e.fp = nil, ""
	e.fpMu.Unlock()
}

// fingerprint hashes the reference scorer's saved artifact so entries in a
// shared cache never outlive the model that produced them. It is computed
// once per reference scorer instance.
func (e *Explainer) fingerprint(ref ensemble.Scorer) (string, bool) {
	e.fpMu.Lock()
	defer e.fpMu.Unlock()
	if e.fpRef == ref && e.fp != "" {
		return e.fp, true
	}
	data, err := ref.Save()
	if err != nil {
		e.logger.Warn("model fingerprint unavailable, skipping explanation cache", slog.String("error", err.Error()))
		return "", false
	}
	e.fpRef = ref
	e.fp = strconv.FormatUint(xxhash.Sum64(data), 16)
	return e.fp, true
}

func (e *Explainer) reference() (ensemble.Scorer, Attributable, error) {
	ref, err := e.source.Reference()
	if err != nil {
		return nil, nil, err
	}
	attr, ok := ref.(Attributable)
	if !ok {
		return ref, nil, fmt.Errorf("%w: %s", ErrUnsupportedScorer, ref.Name())
	}
	return ref, attr, nil
}

// Attribution returns one value per feature plus the baseline. The values
// sum to AnomalyScore(x) - baseline.
func (e *Explainer) Attribution(x []float64) ([]float64, float64, error) {
	_, attr, err := e.reference()
	if err != nil {
		return nil, 0, err
	}
	return Shapley(attr.AnomalyScore, x, attr.Background())
}

// FeatureContributions ranks the attribution of x by absolute value. Ties
// keep feature order.
func (e *Explainer) FeatureContributions(x []float64) ([]models.FeatureContribution, error) {
	phi, _, err := e.Attribution(x)
	if err != nil {
		return nil, err
	}
	return rank(x, phi), nil
}

func rank(x, phi []float64) []models.FeatureContribution {
	out := make([]models.FeatureContribution, len(phi))
	for i, v := range phi {
		name := featureName(i)
		normal, abnormal := rangeContext(name, x[i])
		direction := models.DirectionNormal
		if v > 0 {
			direction = models.DirectionAnomaly
		}
		out[i] = models.FeatureContribution{
			Name:         name,
			Description:  describe(name),
			Value:        x[i],
			Contribution: v,
			Direction:    direction,
			Strength:     Strength(v),
			NormalRange:  normal,
			Abnormal:     abnormal,
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return math.Abs(out[a].Contribution) > math.Abs(out[b].Contribution)
	})
	return out
}

// Explain renders the explanation for x. A normal verdict yields a fixed
// sentence. Attribution failures degrade to a label-only explanation; only
// a missing model is returned as an error.
func (e *Explainer) Explain(ctx context.Context, x []float64) (*models.Explanation, error) {
	ref, attr, err := e.reference()
	if ref == nil {
		return nil, err
	}

	prediction := ref.Predict(x)
	if prediction != -1 {
		return &models.Explanation{Prediction: "normal", PredictionCode: 1, Text: normalText}, nil
	}
	if err != nil {
		return e.degraded(err), nil
	}

	fp, cacheable := e.fingerprint(ref)
	key := e.cacheKey(fp, x)
	var present bool
	if cacheable {
		var cached *models.Explanation
		if cached, present = e.fromCache(ctx, key); cached != nil {
			return cached, nil
		}
	}

	phi, base, err := Shapley(attr.AnomalyScore, x, attr.Background())
	if err != nil {
		return e.degraded(err), nil
	}

	contributions := rank(x, phi)
	total := 0.0
	for _, c := range contributions {
		total += math.Abs(c.Contribution)
	}
	top := contributions[:min(topContributors, len(contributions))]
	ranking := make([]string, len(contributions))
	for i, c := range contributions {
		ranking[i] = c.Name
	}

	exp := &models.Explanation{
		Prediction:        "anomaly",
		PredictionCode:    -1,
		BaseValue:         base,
		OutputValue:       attr.AnomalyScore(x),
		TotalContribution: total,
		Text:              anomalyText(top),
		TopContributors:   top,
		Contributions:     contributions,
		Ranking:           ranking,
	}
	if cacheable {
		e.toCache(ctx, key, exp, present)
	}
	return exp, nil
}

func anomalyText(top []models.FeatureContribution) string {
	parts := []string{anomalyLead}
	for i, c := range top {
		if c.Direction == models.DirectionAnomaly && c.Strength.AtLeastModerate() {
			parts = append(parts, fmt.Sprintf("(%d) '%s' = %.1f contributes significantly to the anomaly.", i+1, c.Description, c.Value))
		}
	}
	if len(parts) == 1 {
		parts = append(parts, minorText)
	}
	return strings.Join(parts, " ")
}

func (e *Explainer) degraded(err error) *models.Explanation {
	e.logger.Warn("attribution unavailable, returning label only", slog.String("error", err.Error()))
	return &models.Explanation{
		Prediction:     "anomaly",
		PredictionCode: -1,
		Text:           fmt.Sprintf(degradedFmt, err.Error()),
		Degraded:       true,
		Reason:         err.Error(),
	}
}

// GlobalImportance is the mean absolute attribution per feature over at
// most limit randomly chosen rows, ranked descending.
func (e *Explainer) GlobalImportance(rows [][]float64, limit int) ([]models.FeatureImportance, error) {
	_, attr, err := e.reference()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("explain: no rows for global importance")
	}
	if limit <= 0 {
		limit = DefaultGlobalSample
	}
	sample := e.sample(rows, limit)

	background := attr.Background()
	var sums []float64
	for _, row := range sample {
		phi, _, err := Shapley(attr.AnomalyScore, row, background)
		if err != nil {
			return nil, err
		}
		if sums == nil {
			sums = make([]float64, len(phi))
		}
		for i, v := range phi {
			sums[i] += math.Abs(v)
		}
	}

	total := 0.0
	for i := range sums {
		sums[i] /= float64(len(sample))
		total += sums[i]
	}
	out := make([]models.FeatureImportance, len(sums))
	for i, v := range sums {
		pct := 0.0
		if total > 0 {
			pct = math.Round(v/total*1e4) / 1e2
		}
		name := featureName(i)
		out[i] = models.FeatureImportance{Name: name, Description: describe(name), Score: v, Percentage: pct}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	return out, nil
}

func (e *Explainer) sample(rows [][]float64, limit int) [][]float64 {
	if len(rows) <= limit {
		return rows
	}
	e.rngMu.Lock()
	perm := e.rng.Perm(len(rows))
	e.rngMu.Unlock()
	out := make([][]float64, limit)
	for i := range out {
		out[i] = rows[perm[i]]
	}
	return out
}

func (e *Explainer) cacheKey(fingerprint string, x []float64) string {
	h := xxhash.New()
	var buf [8]byte
	for _, v := range x {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = h.Write(buf[:])
	}
	return cacheKeyPrefix + fingerprint + ":" + strconv.FormatUint(e.epoch.Load(), 10) + ":" + strconv.FormatUint(h.Sum64(), 16)
}

// fromCache returns the cached explanation, if any, and whether an entry was
// present at all. A present but undecodable entry yields (nil, true).
func (e *Explainer) fromCache(ctx context.Context, key string) (*models.Explanation, bool) {
	payload, err := e.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			e.logger.Warn("explanation cache read failed", slog.String("error", err.Error()))
		}
		return nil, false
	}
	var exp models.Explanation
	if err := json.Unmarshal(payload, &exp); err != nil {
		e.logger.Warn("explanation cache entry corrupt", slog.String("key", key), slog.String("error", err.Error()))
		return nil, true
	}
	return &exp, true
}

// toCache stores exp. A corrupt entry is overwritten; otherwise the first
// writer wins since keys are content addressed.
func (e *Explainer) toCache(ctx context.Context, key string, exp *models.Explanation, overwrite bool) {
	payload, err := json.Marshal(exp)
	if err != nil {
		return
	}
	if overwrite {
		err = e.cache.Set(ctx, key, payload, e.cacheTTL)
	} else {
		_, err = e.cache.SetNX(ctx, key, payload, e.cacheTTL)
	}
	if err != nil {
		e.logger.Warn("explanation cache write failed", slog.String("error", err.Error()))
	}
}

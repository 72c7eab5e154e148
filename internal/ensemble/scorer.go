package ensemble

// Scorer is one independently fitted anomaly model. Implementations must be
// safe for concurrent Score and Predict calls once fitted.
type Scorer interface {
	// Name is the stable identifier used in voting breakdowns and artifacts.
	Name() string
	DisplayName() string
	// Fit trains on rows of expected-normal traffic.
	Fit(data [][]float64) error
	// Predict returns -1 for anomalous and +1 for normal.
	Predict(x []float64) int
	// Score is the continuous decision value; more negative is more anomalous.
	Score(x []float64) float64
	// Dimensions is the fitted input width, 0 when unfitted.
	Dimensions() int
	Save() ([]byte, error)
	Load(data []byte) error
}

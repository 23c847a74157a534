package net

// Dataset holds the samples of one training run. XDisc/YDisc are only read
// by adversarial models: discriminator inputs and their domain labels.
type Dataset struct {
	X, Y         [][]float64
	XDisc, YDisc [][]float64
}

// Model is a trainable model with persistent weights.
type Model interface {
	FitEpoch(d *Dataset, batchSize int, callbacks ...Callback) float64
	SaveWeights(path string) error
	LoadWeights(path string) error
	CountParams() int
}

// Predictor maps a batch of inputs to class probabilities.
type Predictor interface {
	PredictBatch(x [][]float64) [][]float64
}

var (
	_ Model     = (*Network)(nil)
	_ Model     = (*Adversarial)(nil)
	_ Predictor = (*Network)(nil)
)

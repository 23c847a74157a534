package net

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/neurolab/wmhgan/internal/activations"
	"github.com/neurolab/wmhgan/internal/layer"
	"github.com/neurolab/wmhgan/internal/loss"
	"github.com/neurolab/wmhgan/internal/opt"
)

// separable is a two-class problem split by the sign of x0+x1.
func separable() *Dataset {
	d := &Dataset{}
	for i := 0; i < 64; i++ {
		a := float64(i%8)/4 - 1
		b := float64(i/8)/4 - 1
		y := []float64{1, 0}
		if a+b > 0 {
			y = []float64{0, 1}
		}
		d.X = append(d.X, []float64{a, b})
		d.Y = append(d.Y, y)
	}
	return d
}

func classifier(l loss.Loss, o opt.Optimizer) *Network {
	return New([]layer.Layer{
		layer.NewDense(2, 8, activations.ReLU{}),
		layer.NewDense(8, 2, activations.Linear{}),
		layer.NewSoftmax(2),
	}, l, o)
}

func meanLoss(n *Network, d *Dataset) float64 {
	var total float64
	for i, p := range n.PredictBatch(d.X) {
		total += loss.CrossEntropy{}.Forward(p, d.Y[i])
	}
	return total / float64(len(d.X))
}

func TestNetworkForward(t *testing.T) {
	n := classifier(loss.CrossEntropy{}, nil)
	out := n.Forward([]float64{1, 2})
	if len(out) != 2 {
		t.Fatalf("Output length = %d, want 2", len(out))
	}
	if s := out[0] + out[1]; math.Abs(s-1) > 1e-9 {
		t.Errorf("softmax output sums to %v", s)
	}
}

func TestFitEpochReducesLoss(t *testing.T) {
	d := separable()
	n := classifier(loss.CrossEntropy{}, opt.NewAdam(0.05))
	before := meanLoss(n, d)
	for e := 0; e < 60; e++ {
		n.FitEpoch(d, 16)
	}
	after := meanLoss(n, d)
	if after >= before {
		t.Errorf("loss did not decrease: before %v, after %v", before, after)
	}
	if after > 0.4 {
		t.Errorf("loss after training = %v, want < 0.4", after)
	}
}

func TestFitEpochWithDice(t *testing.T) {
	d := separable()
	obj := loss.NewSum(
		loss.Term{Loss: loss.CrossEntropy{}, Weight: 1},
		loss.Term{Loss: loss.NewDice(1), Weight: 1},
	)
	n := classifier(obj, opt.NewAdam(0.05))
	before := meanLoss(n, d)
	for e := 0; e < 20; e++ {
		n.FitEpoch(d, 16)
	}
	if after := meanLoss(n, d); after >= before {
		t.Errorf("loss did not decrease: before %v, after %v", before, after)
	}
}

// recordingDice remembers the predictions of the statistics pass and of the
// gradient pass.
type recordingDice struct {
	*loss.Dice
	observed, backward [][]float64
}

func (r *recordingDice) Observe(yPred, yTrue [][]float64) float64 {
	for _, p := range yPred {
		r.observed = append(r.observed, append([]float64(nil), p...))
	}
	return r.Dice.Observe(yPred, yTrue)
}

func (r *recordingDice) BackwardInPlace(yPred, yTrue, grad []float64) {
	r.backward = append(r.backward, append([]float64(nil), yPred...))
	r.Dice.BackwardInPlace(yPred, yTrue, grad)
}

func TestBatchLossSameDropoutMasks(t *testing.T) {
	rec := &recordingDice{Dice: loss.NewDice(1)}
	n := New([]layer.Layer{
		layer.NewDense(2, 16, activations.ReLU{}),
		layer.NewDropout(0.5, 16),
		layer.NewDense(16, 2, activations.Linear{}),
		layer.NewSoftmax(2),
	}, rec, opt.NewAdam(0.01))
	d := separable()
	n.TrainBatch(d.X[:8], d.Y[:8])

	if len(rec.observed) != 8 || len(rec.backward) != 8 {
		t.Fatalf("observed %d, backward %d, want 8 each", len(rec.observed), len(rec.backward))
	}
	for i := range rec.observed {
		for j := range rec.observed[i] {
			if rec.observed[i][j] != rec.backward[i][j] {
				t.Fatalf("sample %d: statistics pass %v, gradient pass %v", i, rec.observed[i], rec.backward[i])
			}
		}
	}
}

func TestTrainBatchEmpty(t *testing.T) {
	n := classifier(loss.CrossEntropy{}, &opt.SGD{LR: 0.1})
	if l := n.TrainBatch(nil, nil); l != 0 {
		t.Errorf("TrainBatch(nil) = %v, want 0", l)
	}
}

func TestBatchIndices(t *testing.T) {
	order := []int{4, 3, 2, 1, 0}
	batches := batchIndices(order, 2)
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	if len(batches[2]) != 1 || batches[2][0] != 0 {
		t.Errorf("last batch = %v, want [0]", batches[2])
	}
	if got := batchIndices(order, 0); len(got) != 1 {
		t.Errorf("batch size 0 should give a single batch, got %d", len(got))
	}
}

func TestSaveLoadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.weights")
	a := classifier(loss.CrossEntropy{}, nil)
	if err := a.SaveWeights(path); err != nil {
		t.Fatalf("SaveWeights: %v", err)
	}
	b := classifier(loss.CrossEntropy{}, nil)
	if err := b.LoadWeights(path); err != nil {
		t.Fatalf("LoadWeights: %v", err)
	}
	pa, pb := a.Params(), b.Params()
	for i := range pa {
		if pa[i] != pb[i] {
			t.Fatalf("param %d: %v != %v", i, pa[i], pb[i])
		}
	}

	matches, _ := filepath.Glob(path + ".tmp*")
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestLoadWeightsMismatch(t *testing.T) {
	var buf bytes.Buffer
	a := classifier(loss.CrossEntropy{}, nil)
	if err := EncodeWeights(&buf, a.Layers()); err != nil {
		t.Fatal(err)
	}

	other := New([]layer.Layer{
		layer.NewDense(2, 4, activations.Sigmoid{}),
		layer.NewDense(4, 2, activations.Linear{}),
		layer.NewSoftmax(2),
	}, loss.CrossEntropy{}, nil)
	before := other.Params()
	if err := DecodeWeights(bytes.NewReader(buf.Bytes()), other.Layers()); err == nil {
		t.Fatal("expected shape mismatch error")
	}
	after := other.Params()
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("failed load modified parameters")
		}
	}

	if err := (&Network{}).LoadWeights(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

// fit runs epochs epochs through RunEpoch.
func fit(t *testing.T, m Model, d *Dataset, epochs, batchSize int, callbacks ...Callback) {
	t.Helper()
	for e := 1; e <= epochs; e++ {
		if _, err := RunEpoch(m, d, e, batchSize, callbacks...); err != nil {
			t.Fatalf("epoch %d: %v", e, err)
		}
	}
}

func TestRunEpochCheckpoints(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "run.weights.net")
	n := classifier(loss.CrossEntropy{}, opt.NewAdam(0.01))
	fit(t, n, separable(), 3, 16, EpochCheckpoint{Prefix: prefix})
	for e := 1; e <= 3; e++ {
		if _, err := os.Stat(EpochPath(prefix, e)); err != nil {
			t.Errorf("checkpoint for epoch %d: %v", e, err)
		}
	}
	if got := EpochPath("a.weights.gan", 5); got != "a.weights.gan.e5" {
		t.Errorf("EpochPath = %q", got)
	}
}

func TestCSVLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	n := classifier(loss.CrossEntropy{}, opt.NewAdam(0.01))
	logger := NewCSVLogger(path, "net")
	fit(t, n, separable(), 2, 32, logger)
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	second := NewCSVLogger(path, "net")
	fit(t, n, separable(), 1, 32, second)
	if err := second.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}
	if rows[0][0] != "run_id" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] == rows[3][0] {
		t.Error("runs share a run id")
	}
}

func adversarial(lambda *opt.Scalar) *Adversarial {
	trunk := []layer.Layer{layer.NewDense(2, 6, activations.Sigmoid{})}
	seg := []layer.Layer{
		layer.NewDense(6, 2, activations.Linear{}),
		layer.NewSoftmax(2),
	}
	disc := []layer.Layer{
		layer.NewGradientReversal(6, lambda),
		layer.NewDense(6, 1, activations.Sigmoid{}),
	}
	return NewAdversarial(trunk, seg, disc, loss.CrossEntropy{}, loss.BCE{}, opt.NewAdam(0.05))
}

func TestAdversarialSegmenterSharesWeights(t *testing.T) {
	a := adversarial(opt.NewScalar(0.5))
	seg := a.Segmenter()
	// disc head is Dense(6, 1): 7 parameters
	if got, want := a.CountParams(), seg.CountParams()+7; got != want {
		t.Errorf("CountParams = %d, want %d", got, want)
	}

	x := []float64{0.3, -0.2}
	before := seg.Predict(x)

	d := separable()
	for _, x := range d.X {
		d.XDisc = append(d.XDisc, x)
		d.YDisc = append(d.YDisc, []float64{0})
	}
	initial := meanLoss(seg, d)
	for e := 0; e < 20; e++ {
		a.FitEpoch(d, 16)
	}
	after := seg.Predict(x)
	if before[0] == after[0] {
		t.Error("segmenter output unchanged after adversarial training")
	}
	if l := meanLoss(seg, d); l >= initial {
		t.Errorf("segmentation loss %v did not improve on %v", l, initial)
	}
}

func TestAdversarialReversal(t *testing.T) {
	// With the seg batch empty only the discriminator loss reaches the trunk.
	x := [][]float64{{0.5, -0.5}, {-0.5, 0.5}}
	y := [][]float64{{1}, {0}}

	trunkGrad := func(lambda float64) []float64 {
		a := adversarial(opt.NewScalar(lambda))
		a.opt = &opt.SGD{LR: 0}
		a.TrainBatch(nil, nil, x, y)
		return append([]float64(nil), a.trunk[0].Gradients()...)
	}

	pos := trunkGrad(1)
	zero := trunkGrad(0)
	var norm float64
	for i := range zero {
		if zero[i] != 0 {
			t.Fatalf("trunk gradient %d = %v with zero weight", i, zero[i])
		}
		norm += pos[i] * pos[i]
	}
	if norm == 0 {
		t.Error("no gradient reached the trunk")
	}
}

func TestAdversarialSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gan.weights")
	lambda := opt.NewScalar(0.5)
	a := adversarial(lambda)
	if err := a.SaveWeights(path); err != nil {
		t.Fatal(err)
	}
	b := adversarial(lambda)
	if err := b.LoadWeights(path); err != nil {
		t.Fatal(err)
	}
	x := []float64{0.1, 0.7}
	pa, pb := a.Segmenter().Predict(x), b.Segmenter().Predict(x)
	if pa[0] != pb[0] || pa[1] != pb[1] {
		t.Errorf("predictions differ after load: %v vs %v", pa, pb)
	}
	// The plain network has fewer layers than the adversarial one.
	if err := classifier(loss.CrossEntropy{}, nil).LoadWeights(path); err == nil {
		t.Error("expected layer count mismatch")
	}
}

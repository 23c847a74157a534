package loss

import (
	"math"
	"testing"
)

func numericGrad(f func([]float64) float64, x []float64) []float64 {
	const h = 1e-6
	g := make([]float64, len(x))
	for i := range x {
		orig := x[i]
		x[i] = orig + h
		up := f(x)
		x[i] = orig - h
		down := f(x)
		x[i] = orig
		g[i] = (up - down) / (2 * h)
	}
	return g
}

// TestCrossEntropyForward tests the value on a one-hot target.
func TestCrossEntropyForward(t *testing.T) {
	got := CrossEntropy{}.Forward([]float64{0.25, 0.75}, []float64{0, 1})
	if want := -math.Log(0.75); math.Abs(got-want) > 1e-12 {
		t.Errorf("CrossEntropy = %v, want %v", got, want)
	}
}

// TestCrossEntropyZeroPrediction tests clipping of log(0).
func TestCrossEntropyZeroPrediction(t *testing.T) {
	got := CrossEntropy{}.Forward([]float64{1, 0}, []float64{0, 1})
	if math.IsInf(got, 0) || math.IsNaN(got) {
		t.Errorf("CrossEntropy with p=0 = %v, want finite", got)
	}
}

// TestCrossEntropyBackward tests the analytic gradient.
func TestCrossEntropyBackward(t *testing.T) {
	yPred := []float64{0.3, 0.7}
	yTrue := []float64{1, 0}
	grad := make([]float64, 2)
	CrossEntropy{}.BackwardInPlace(yPred, yTrue, grad)
	numeric := numericGrad(func(p []float64) float64 { return CrossEntropy{}.Forward(p, yTrue) }, yPred)
	for i := range grad {
		if math.Abs(grad[i]-numeric[i]) > 1e-5 {
			t.Errorf("grad[%d] = %v, numeric %v", i, grad[i], numeric[i])
		}
	}
}

// TestBCEBackward tests the binary cross entropy gradient.
func TestBCEBackward(t *testing.T) {
	for _, target := range []float64{0, 1} {
		yPred := []float64{0.35}
		yTrue := []float64{target}
		grad := make([]float64, 1)
		BCE{}.BackwardInPlace(yPred, yTrue, grad)
		numeric := numericGrad(func(p []float64) float64 { return BCE{}.Forward(p, yTrue) }, yPred)
		if math.Abs(grad[0]-numeric[0]) > 1e-5 {
			t.Errorf("target %v: grad = %v, numeric %v", target, grad[0], numeric[0])
		}
	}
}

// TestDicePerfectOverlap tests that identical masks give zero loss.
func TestDicePerfectOverlap(t *testing.T) {
	d := NewDice(1)
	yPred := [][]float64{{0, 1}, {1, 0}, {0, 1}}
	got := d.Observe(yPred, yPred)
	if math.Abs(got) > 1e-6 {
		t.Errorf("Dice loss = %v, want 0", got)
	}
}

// TestDiceBatchGradient tests the batch gradient against finite differences
// of the batch loss, scaled by the batch size.
func TestDiceBatchGradient(t *testing.T) {
	yPred := [][]float64{{0.8, 0.2}, {0.3, 0.7}, {0.6, 0.4}}
	yTrue := [][]float64{{1, 0}, {0, 1}, {0, 1}}
	n := float64(len(yPred))

	batchLoss := func(i int) func([]float64) float64 {
		return func(p []float64) float64 {
			saved := yPred[i]
			yPred[i] = p
			v := NewDice(1).Observe(yPred, yTrue)
			yPred[i] = saved
			return v
		}
	}

	d := NewDice(1)
	d.Observe(yPred, yTrue)
	for i := range yPred {
		grad := make([]float64, 2)
		d.BackwardInPlace(yPred[i], yTrue[i], grad)
		p := append([]float64(nil), yPred[i]...)
		numeric := numericGrad(batchLoss(i), p)
		if grad[0] != 0 {
			t.Errorf("sample %d: grad on background channel = %v, want 0", i, grad[0])
		}
		if math.Abs(grad[1]-n*numeric[1]) > 1e-4 {
			t.Errorf("sample %d: grad = %v, want %v", i, grad[1], n*numeric[1])
		}
	}
}

// TestSumCombinesTerms tests weighted sums of a per-sample and a batch loss.
func TestSumCombinesTerms(t *testing.T) {
	yPred := [][]float64{{0.4, 0.6}, {0.9, 0.1}}
	yTrue := [][]float64{{0, 1}, {1, 0}}

	dice := NewDice(1)
	s := NewSum(Term{Loss: CrossEntropy{}, Weight: 1}, Term{Loss: dice, Weight: 2})

	want := Observe(CrossEntropy{}, yPred, yTrue) + 2*NewDice(1).Observe(yPred, yTrue)
	if got := s.Observe(yPred, yTrue); math.Abs(got-want) > 1e-12 {
		t.Errorf("Sum.Observe = %v, want %v", got, want)
	}

	grad := make([]float64, 2)
	s.BackwardInPlace(yPred[0], yTrue[0], grad)

	ce := make([]float64, 2)
	CrossEntropy{}.BackwardInPlace(yPred[0], yTrue[0], ce)
	dg := make([]float64, 2)
	dice.BackwardInPlace(yPred[0], yTrue[0], dg)
	for i := range grad {
		if want := ce[i] + 2*dg[i]; math.Abs(grad[i]-want) > 1e-12 {
			t.Errorf("grad[%d] = %v, want %v", i, grad[i], want)
		}
	}
}

// TestObserveMean tests the batch mean of a per-sample loss.
func TestObserveMean(t *testing.T) {
	yPred := [][]float64{{0.5, 0.5}, {0.25, 0.75}}
	yTrue := [][]float64{{1, 0}, {0, 1}}
	want := (-math.Log(0.5) - math.Log(0.75)) / 2
	if got := Observe(CrossEntropy{}, yPred, yTrue); math.Abs(got-want) > 1e-12 {
		t.Errorf("Observe = %v, want %v", got, want)
	}
	if got := Observe(CrossEntropy{}, nil, nil); got != 0 {
		t.Errorf("Observe(empty) = %v, want 0", got)
	}
}

// Package loss provides the training objectives of the segmentation and
// discriminator networks.
package loss

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const eps = 1e-7

// Loss is a loss function with derivative.
type Loss interface {
	// Forward computes the loss between predicted and true values.
	Forward(yPred, yTrue []float64) float64

	// BackwardInPlace computes the gradient of the loss w.r.t. prediction
	// and stores it in grad.
	BackwardInPlace(yPred, yTrue, grad []float64)
}

// BatchLoss is a loss whose gradient for one sample depends on the whole
// batch. Observe is called with the batch predictions before the per-sample
// backward passes and returns the batch loss.
//
// The network averages per-sample gradients over the batch, so a batch loss
// must return gradients already multiplied by the batch size.
type BatchLoss interface {
	Loss
	Observe(yPred, yTrue [][]float64) float64
}

// CrossEntropy is the categorical cross entropy of a probability vector
// (softmax output) against a one-hot target.
type CrossEntropy struct{}

// Forward computes -sum(y_true * log(y_pred)).
func (c CrossEntropy) Forward(yPred, yTrue []float64) float64 {
	if len(yPred) != len(yTrue) {
		panic("CrossEntropy: prediction and target must have same length")
	}
	var sum float64
	for i := range yPred {
		if yTrue[i] != 0 {
			sum -= yTrue[i] * math.Log(math.Max(yPred[i], eps))
		}
	}
	return sum
}

// BackwardInPlace computes -y_true / y_pred.
func (c CrossEntropy) BackwardInPlace(yPred, yTrue, grad []float64) {
	for i := range yPred {
		grad[i] = -yTrue[i] / math.Max(yPred[i], eps)
	}
}

// BCE is the binary cross entropy of a single sigmoid output.
type BCE struct{}

// Forward computes -(t log p + (1-t) log(1-p)).
func (b BCE) Forward(yPred, yTrue []float64) float64 {
	var sum float64
	for i := range yPred {
		p := clip(yPred[i])
		sum -= yTrue[i]*math.Log(p) + (1-yTrue[i])*math.Log(1-p)
	}
	return sum / float64(len(yPred))
}

// BackwardInPlace computes (p - t) / (p (1 - p)).
func (b BCE) BackwardInPlace(yPred, yTrue, grad []float64) {
	n := float64(len(yPred))
	for i := range yPred {
		p := clip(yPred[i])
		grad[i] = (p - yTrue[i]) / (p * (1 - p)) / n
	}
}

func clip(p float64) float64 {
	return math.Min(math.Max(p, eps), 1-eps)
}

// Dice is the soft Dice loss 1 - 2*sum(p*t) / (sum(p) + sum(t)) on one
// channel of the prediction, computed over the whole batch.
type Dice struct {
	Channel int

	// Batch statistics set by Observe
	intersection float64
	total        float64
	n            int
}

// NewDice creates a Dice loss on the given output channel.
func NewDice(channel int) *Dice {
	return &Dice{Channel: channel}
}

// Forward computes the Dice loss of a single sample.
func (d *Dice) Forward(yPred, yTrue []float64) float64 {
	p, t := yPred[d.Channel], yTrue[d.Channel]
	return 1 - (2*p*t+eps)/(p+t+eps)
}

// Observe computes the batch intersection and total used by BackwardInPlace.
func (d *Dice) Observe(yPred, yTrue [][]float64) float64 {
	p := make([]float64, len(yPred))
	t := make([]float64, len(yTrue))
	for i := range yPred {
		p[i] = yPred[i][d.Channel]
		t[i] = yTrue[i][d.Channel]
	}
	d.intersection = floats.Dot(p, t)
	d.total = floats.Sum(p) + floats.Sum(t)
	d.n = len(yPred)
	return 1 - (2*d.intersection+eps)/(d.total+eps)
}

// BackwardInPlace returns n * dL/dp_i using the observed batch statistics.
// Without a prior Observe the sample is treated as a batch of one.
func (d *Dice) BackwardInPlace(yPred, yTrue, grad []float64) {
	for i := range grad {
		grad[i] = 0
	}
	inter, total, n := d.intersection, d.total, d.n
	if n == 0 {
		p, t := yPred[d.Channel], yTrue[d.Channel]
		inter, total, n = p*t, p+t, 1
	}
	s := total + eps
	t := yTrue[d.Channel]
	// d/dp [1 - (2I+eps)/S] = -(2t*S - (2I+eps)) / S^2
	grad[d.Channel] = -float64(n) * (2*t*s - (2*inter + eps)) / (s * s)
}

// Term is a weighted loss inside a Sum.
type Term struct {
	Loss   Loss
	Weight float64
}

// Sum is a weighted sum of losses. It is a BatchLoss; terms that are not
// batch losses contribute their batch mean.
type Sum struct {
	Terms []Term

	buf []float64
}

// NewSum creates a weighted sum of loss terms.
func NewSum(terms ...Term) *Sum {
	return &Sum{Terms: terms}
}

// Forward computes the weighted per-sample loss.
func (s *Sum) Forward(yPred, yTrue []float64) float64 {
	var total float64
	for _, term := range s.Terms {
		total += term.Weight * term.Loss.Forward(yPred, yTrue)
	}
	return total
}

// Observe forwards batch statistics to batch terms and returns the batch loss.
func (s *Sum) Observe(yPred, yTrue [][]float64) float64 {
	var total float64
	for _, term := range s.Terms {
		total += term.Weight * Observe(term.Loss, yPred, yTrue)
	}
	return total
}

// BackwardInPlace computes the weighted sum of the term gradients.
func (s *Sum) BackwardInPlace(yPred, yTrue, grad []float64) {
	if cap(s.buf) < len(grad) {
		s.buf = make([]float64, len(grad))
	}
	buf := s.buf[:len(grad)]
	for i := range grad {
		grad[i] = 0
	}
	for _, term := range s.Terms {
		term.Loss.BackwardInPlace(yPred, yTrue, buf)
		floats.AddScaled(grad, term.Weight, buf)
	}
}

// Observe returns the batch loss of l: its Observe value for a BatchLoss,
// the mean per-sample loss otherwise.
func Observe(l Loss, yPred, yTrue [][]float64) float64 {
	if bl, ok := l.(BatchLoss); ok {
		return bl.Observe(yPred, yTrue)
	}
	if len(yPred) == 0 {
		return 0
	}
	var sum float64
	for i := range yPred {
		sum += l.Forward(yPred[i], yTrue[i])
	}
	return sum / float64(len(yPred))
}

// Package layer provides neural network layer implementations.
package layer

import (
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/floats"

	"github.com/neurolab/wmhgan/internal/activations"
)

// Layer is a neural network layer.
//
// Backward accumulates parameter gradients into the layer's gradient buffer
// until ClearGradients is called, so a batch is trained by running Forward and
// Backward per sample and then stepping once.
// Params and Gradients return slices that alias the layer storage.
type Layer interface {
	Forward(x []float64) []float64
	Backward(grad []float64) []float64
	Params() []float64
	SetParams([]float64)
	Gradients() []float64
	ClearGradients()
}

// Trainer is implemented by layers that behave differently while training.
type Trainer interface {
	SetTraining(training bool)
}

// Stochastic is implemented by layers that draw random numbers in their
// training forward pass. Restoring a saved state replays the same draws.
type Stochastic interface {
	RandomState() uint64
	SetRandomState(state uint64)
}

// seedSequence gives every layer constructed in a process its own
// deterministic initialisation stream.
var seedSequence uint64 = 42

func nextRNG() *RNG {
	return NewRNG(atomic.AddUint64(&seedSequence, 1))
}

// Dense is a fully connected layer.
// Weights and biases share one contiguous slice: weight for output o, input i
// is at params[o*in+i] and the biases follow the weights.
type Dense struct {
	params  []float64
	grads   []float64
	act     activations.Activation
	inSize  int
	outSize int

	// Reusable buffers
	inputBuf  []float64
	outputBuf []float64
	preActBuf []float64
	gradInBuf []float64
	dzBuf     []float64
}

// NewDense creates a new dense layer with pre-allocated buffers.
func NewDense(in, out int, act activations.Activation) *Dense {
	params := make([]float64, out*in+out)

	// Xavier/Glorot initialization
	rng := nextRNG()
	scale := math.Sqrt(6.0 / (float64(in) + float64(out)))
	for i := 0; i < out*in; i++ {
		params[i] = rng.Float64()*2*scale - scale
	}

	return &Dense{
		params:    params,
		grads:     make([]float64, len(params)),
		act:       act,
		inSize:    in,
		outSize:   out,
		inputBuf:  make([]float64, in),
		outputBuf: make([]float64, out),
		preActBuf: make([]float64, out),
		gradInBuf: make([]float64, in),
		dzBuf:     make([]float64, out),
	}
}

// Forward computes act(Wx + b).
func (d *Dense) Forward(x []float64) []float64 {
	if len(x) != d.inSize {
		panic("Dense: input length does not match layer input size")
	}
	copy(d.inputBuf, x)

	in := d.inSize
	biases := d.params[d.outSize*in:]
	for o := 0; o < d.outSize; o++ {
		sum := biases[o] + floats.Dot(d.params[o*in:(o+1)*in], d.inputBuf)
		d.preActBuf[o] = sum
		d.outputBuf[o] = d.act.Activate(sum)
	}
	return d.outputBuf
}

// Backward accumulates dL/dW, dL/db and returns dL/dx.
func (d *Dense) Backward(grad []float64) []float64 {
	in := d.inSize
	gradB := d.grads[d.outSize*in:]

	for o := 0; o < d.outSize; o++ {
		d.dzBuf[o] = grad[o] * d.act.Derivative(d.preActBuf[o])
		gradB[o] += d.dzBuf[o]
	}

	for i := range d.gradInBuf {
		d.gradInBuf[i] = 0
	}
	for o := 0; o < d.outSize; o++ {
		dz := d.dzBuf[o]
		if dz == 0 {
			continue
		}
		floats.AddScaled(d.grads[o*in:(o+1)*in], dz, d.inputBuf)
		floats.AddScaled(d.gradInBuf, dz, d.params[o*in:(o+1)*in])
	}
	return d.gradInBuf
}

// Params returns the layer parameters (weights then biases).
func (d *Dense) Params() []float64 { return d.params }

// SetParams copies weights and biases from a flattened slice.
func (d *Dense) SetParams(params []float64) { copy(d.params, params) }

// Gradients returns the accumulated gradients.
func (d *Dense) Gradients() []float64 { return d.grads }

// ClearGradients zeroes out the accumulated gradients.
func (d *Dense) ClearGradients() {
	for i := range d.grads {
		d.grads[i] = 0
	}
}

// SetWeight sets a single weight at (row, col).
func (d *Dense) SetWeight(row, col int, val float64) {
	d.params[row*d.inSize+col] = val
}

// SetBias sets a single bias.
func (d *Dense) SetBias(idx int, val float64) {
	d.params[d.outSize*d.inSize+idx] = val
}

// InSize returns the input size of the layer.
func (d *Dense) InSize() int { return d.inSize }

// OutSize returns the output size of the layer.
func (d *Dense) OutSize() int { return d.outSize }

// Activation returns the activation function used by this layer.
func (d *Dense) Activation() activations.Activation { return d.act }

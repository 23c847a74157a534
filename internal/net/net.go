// Package net provides the trainable models: a sequential Network and the
// domain-adversarial variant built from a shared trunk and two heads.
package net

import (
	"math/rand"

	"github.com/neurolab/wmhgan/internal/layer"
	"github.com/neurolab/wmhgan/internal/loss"
	"github.com/neurolab/wmhgan/internal/opt"
)

// Network is a collection of layers that can be forwarded and backwarded.
type Network struct {
	layers []layer.Layer
	loss   loss.Loss
	opt    opt.Optimizer
	rng    *rand.Rand

	// Pre-allocated gradient buffer for training
	lossGradBuf []float64
}

// New creates a new neural network with the given layers. The optimizer may
// be nil for networks that are only used for inference.
func New(layers []layer.Layer, l loss.Loss, optimizer opt.Optimizer) *Network {
	return &Network{
		layers: layers,
		loss:   l,
		opt:    optimizer,
		rng:    rand.New(rand.NewSource(1)),
	}
}

// SetSeed reseeds the generator used to shuffle samples between batches.
func (n *Network) SetSeed(seed int64) {
	n.rng = rand.New(rand.NewSource(seed))
}

// Forward performs a forward pass through all layers.
func (n *Network) Forward(x []float64) []float64 {
	return forward(n.layers, x)
}

// Backward performs a backward pass through all layers.
func (n *Network) Backward(grad []float64) []float64 {
	return backward(n.layers, grad)
}

// Step performs one optimization step using the stored optimizer.
func (n *Network) Step() {
	step(n.opt, 0, n.layers)
}

// ClearGradients zeroes every layer's accumulated gradients.
func (n *Network) ClearGradients() {
	clearGradients(n.layers)
}

// SetTraining switches dropout-like layers between training and inference.
func (n *Network) SetTraining(training bool) {
	setTraining(n.layers, training)
}

// Predict runs one sample in inference mode and returns a copy of the output.
func (n *Network) Predict(x []float64) []float64 {
	n.SetTraining(false)
	defer n.SetTraining(true)
	return append([]float64(nil), n.Forward(x)...)
}

// PredictBatch runs every sample in inference mode.
func (n *Network) PredictBatch(x [][]float64) [][]float64 {
	n.SetTraining(false)
	defer n.SetTraining(true)
	out := make([][]float64, len(x))
	for i := range x {
		out[i] = append([]float64(nil), n.Forward(x[i])...)
	}
	return out
}

// TrainBatch performs one optimization step on a batch and returns the
// batch loss. Gradients are averaged over the batch.
func (n *Network) TrainBatch(batchX, batchY [][]float64) float64 {
	if len(batchX) == 0 {
		return 0
	}
	n.SetTraining(true)
	n.ClearGradients()
	l := accumulate(n.layers, n.loss, &n.lossGradBuf, batchX, batchY, 1)
	n.Step()
	return l
}

// FitEpoch trains one pass over d.X/d.Y in shuffled mini-batches and returns
// the mean batch loss.
func (n *Network) FitEpoch(d *Dataset, batchSize int, callbacks ...Callback) float64 {
	order := n.rng.Perm(len(d.X))
	var total float64
	var batches int
	for b, idx := range batchIndices(order, batchSize) {
		l := n.TrainBatch(gather(d.X, idx), gather(d.Y, idx))
		total += l
		batches++
		for _, cb := range callbacks {
			cb.OnBatchEnd(b, l, n)
		}
	}
	if batches == 0 {
		return 0
	}
	return total / float64(batches)
}

// CountParams returns the number of trainable parameters.
func (n *Network) CountParams() int {
	return countParams(n.layers)
}

// Params returns all network parameters flattened (copy).
func (n *Network) Params() []float64 {
	var params []float64
	for _, l := range n.layers {
		params = append(params, l.Params()...)
	}
	return params
}

// Layers returns the network's layers slice.
func (n *Network) Layers() []layer.Layer {
	return n.layers
}

// Loss returns the training loss.
func (n *Network) Loss() loss.Loss {
	return n.loss
}

// Optimizer returns the optimizer, nil for inference-only networks.
func (n *Network) Optimizer() opt.Optimizer {
	return n.opt
}

// SaveWeights writes the layer parameters to path.
func (n *Network) SaveWeights(path string) error {
	return saveWeights(path, n.layers)
}

// LoadWeights reads layer parameters previously written by SaveWeights into
// a network of the same architecture.
func (n *Network) LoadWeights(path string) error {
	return loadWeights(path, n.layers)
}

func forward(layers []layer.Layer, x []float64) []float64 {
	curr := x
	for _, l := range layers {
		curr = l.Forward(curr)
	}
	return curr
}

func backward(layers []layer.Layer, grad []float64) []float64 {
	curr := grad
	for i := len(layers) - 1; i >= 0; i-- {
		curr = layers[i].Backward(curr)
	}
	return curr
}

// step updates each layer; groupBase offsets the optimizer groups so layers
// of different stacks sharing one optimizer keep separate state.
func step(o opt.Optimizer, groupBase int, layers []layer.Layer) {
	for i, l := range layers {
		if params := l.Params(); len(params) > 0 {
			o.StepInPlace(groupBase+i, params, l.Gradients())
		}
	}
}

func clearGradients(layers []layer.Layer) {
	for _, l := range layers {
		l.ClearGradients()
	}
}

func setTraining(layers []layer.Layer, training bool) {
	for _, l := range layers {
		if t, ok := l.(layer.Trainer); ok {
			t.SetTraining(training)
		}
	}
}

func randomStates(layers []layer.Layer) []uint64 {
	states := make([]uint64, len(layers))
	for i, l := range layers {
		if s, ok := l.(layer.Stochastic); ok {
			states[i] = s.RandomState()
		}
	}
	return states
}

func setRandomStates(layers []layer.Layer, states []uint64) {
	for i, l := range layers {
		if s, ok := l.(layer.Stochastic); ok {
			s.SetRandomState(states[i])
		}
	}
}

func countParams(layers []layer.Layer) int {
	var total int
	for _, l := range layers {
		total += len(l.Params())
	}
	return total
}

// accumulate is the shared batch forward/backward pass. Upstream gradients
// are multiplied by scale/len(batch) so the accumulated parameter gradients
// are a scaled batch mean.
func accumulate(layers []layer.Layer, lossFn loss.Loss, buf *[]float64, batchX, batchY [][]float64, scale float64) float64 {
	size := len(batchX)
	if size == 0 {
		return 0
	}

	var batchLoss float64
	bl, isBatch := lossFn.(loss.BatchLoss)
	if isBatch {
		// The statistics pass and the gradient pass must see the same
		// dropout masks.
		states := randomStates(layers)
		preds := make([][]float64, size)
		for i := range batchX {
			preds[i] = append([]float64(nil), forward(layers, batchX[i])...)
		}
		batchLoss = bl.Observe(preds, batchY)
		setRandomStates(layers, states)
	}

	factor := scale / float64(size)
	for i := range batchX {
		yPred := forward(layers, batchX[i])
		if !isBatch {
			batchLoss += lossFn.Forward(yPred, batchY[i]) / float64(size)
		}
		if cap(*buf) < len(yPred) {
			*buf = make([]float64, len(yPred))
		}
		grad := (*buf)[:len(yPred)]
		lossFn.BackwardInPlace(yPred, batchY[i], grad)
		for j := range grad {
			grad[j] *= factor
		}
		backward(layers, grad)
	}
	return batchLoss
}

// batchIndices splits order into consecutive batches of at most size.
func batchIndices(order []int, size int) [][]int {
	if size <= 0 {
		size = len(order)
	}
	var batches [][]int
	for start := 0; start < len(order); start += size {
		end := start + size
		if end > len(order) {
			end = len(order)
		}
		batches = append(batches, order[start:end])
	}
	return batches
}

func gather(rows [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}

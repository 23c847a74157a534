// Package models builds the four lesion segmentation models: a plain CNN and
// a domain-adversarial network, each trained with or without a Dice term.
package models

import (
	"github.com/pkg/errors"

	"github.com/neurolab/wmhgan/internal/activations"
	"github.com/neurolab/wmhgan/internal/layer"
	"github.com/neurolab/wmhgan/internal/loss"
	"github.com/neurolab/wmhgan/internal/net"
	"github.com/neurolab/wmhgan/internal/opt"
)

// DefaultLearningRate is the Adam step size used when Params leaves it zero.
const DefaultLearningRate = 1e-3

// DropoutRate is applied after the dense layer of the feature trunk.
const DropoutRate = 0.5

// Params configures WMHNets.
type Params struct {
	Channels  int   // input modalities
	Patch     int   // patch width, patches are Patch^3 voxels
	Filters   []int // filters per convolution block
	Kernels   []int // kernel width per convolution block
	DenseSize int
	// Lambda is the adversarial weight applied by the gradient reversal.
	// Models built with the same Lambda ramp together.
	Lambda       *opt.Scalar
	DSC          bool
	LearningRate float64
}

// InputSize is the flattened length of one input sample.
func (p Params) InputSize() int {
	return p.Channels * p.Patch * p.Patch * p.Patch
}

func (p Params) validate() error {
	switch {
	case p.Channels <= 0:
		return errors.Errorf("invalid channel count %d", p.Channels)
	case p.Patch <= 0:
		return errors.Errorf("invalid patch width %d", p.Patch)
	case len(p.Filters) == 0:
		return errors.New("no convolution blocks")
	case len(p.Filters) != len(p.Kernels):
		return errors.Errorf("%d filter sizes for %d kernel sizes", len(p.Filters), len(p.Kernels))
	case p.DenseSize <= 0:
		return errors.Errorf("invalid dense size %d", p.DenseSize)
	case p.Lambda == nil:
		return errors.New("missing adversarial weight")
	}
	width := p.Patch
	for i, k := range p.Kernels {
		if k <= 0 || p.Filters[i] <= 0 {
			return errors.Errorf("block %d: invalid kernel %d or filters %d", i, k, p.Filters[i])
		}
		width -= k - 1
		if width <= 0 {
			return errors.Errorf("patch width %d too small for kernels %v", p.Patch, p.Kernels)
		}
	}
	return nil
}

// segLoss is categorical cross-entropy, plus a lesion Dice term when the
// Dice objective is enabled.
func (p Params) segLoss() loss.Loss {
	if !p.DSC {
		return loss.CrossEntropy{}
	}
	return loss.NewSum(
		loss.Term{Loss: loss.CrossEntropy{}, Weight: 1},
		loss.Term{Loss: loss.NewDice(1), Weight: 1},
	)
}

func (p Params) learningRate() float64 {
	if p.LearningRate > 0 {
		return p.LearningRate
	}
	return DefaultLearningRate
}

// trunk is the valid 3D convolution stack followed by a dense layer and
// dropout. It returns the layers and the size of the feature vector.
func (p Params) trunk() ([]layer.Layer, int) {
	var layers []layer.Layer
	channels := p.Channels
	dims := [3]int{p.Patch, p.Patch, p.Patch}
	for i, filters := range p.Filters {
		conv := layer.NewConv3D(channels, filters, p.Kernels[i], dims, activations.ReLU{})
		layers = append(layers, conv)
		channels, dims = filters, conv.OutDims()
	}
	flat := channels * dims[0] * dims[1] * dims[2]
	layers = append(layers,
		layer.NewDense(flat, p.DenseSize, activations.ReLU{}),
		layer.NewDropout(DropoutRate, p.DenseSize),
	)
	return layers, p.DenseSize
}

func segHead(features int) []layer.Layer {
	return []layer.Layer{
		layer.NewDense(features, 2, activations.Linear{}),
		layer.NewSoftmax(2),
	}
}

func discHead(features int, lambda *opt.Scalar) []layer.Layer {
	return []layer.Layer{
		layer.NewGradientReversal(features, lambda),
		layer.NewDense(features, features, activations.ReLU{}),
		layer.NewDense(features, 1, activations.Sigmoid{}),
	}
}

// WMHNets builds the plain CNN, the adversarial network and the inference
// network of the adversarial model (sharing its trunk and segmentation head).
// Every call creates independent weights.
func WMHNets(p Params) (cnn *net.Network, gan *net.Adversarial, ganTest *net.Network, err error) {
	if err := p.validate(); err != nil {
		return nil, nil, nil, errors.Wrap(err, "wmh nets")
	}

	cnnTrunk, features := p.trunk()
	cnn = net.New(append(cnnTrunk, segHead(features)...), p.segLoss(), opt.NewAdam(p.learningRate()))

	ganTrunk, features := p.trunk()
	gan = net.NewAdversarial(
		ganTrunk,
		segHead(features),
		discHead(features, p.Lambda),
		p.segLoss(),
		loss.BCE{},
		opt.NewAdam(p.learningRate()),
	)
	return cnn, gan, gan.Segmenter(), nil
}

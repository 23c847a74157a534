package experiment

import (
	"os"

	"github.com/neurolab/wmhgan/internal/config"
	"github.com/neurolab/wmhgan/internal/models"
	"github.com/neurolab/wmhgan/internal/net"
	"github.com/neurolab/wmhgan/internal/opt"
)

// Nets are the four models of one test case. Both adversarial models share
// the adversarial weight.
type Nets struct {
	Lambda *opt.Scalar

	cnn, cnnDSC         *net.Network
	gan, ganDSC         *net.Adversarial
	ganTest, ganDSCTest *net.Network
}

// NewNets builds fresh models for inputs with the given number of
// modalities. The adversarial weight starts at zero.
func NewNets(o *config.Options, channels int) (*Nets, error) {
	n := &Nets{Lambda: opt.NewScalar(0)}
	p := models.Params{
		Channels:     channels,
		Patch:        o.PatchWidth,
		Filters:      o.FiltersList(),
		Kernels:      o.KernelList(),
		DenseSize:    o.DenseSize,
		Lambda:       n.Lambda,
		LearningRate: o.LearningRate,
	}
	var err error
	if n.cnn, n.gan, n.ganTest, err = models.WMHNets(p); err != nil {
		return nil, err
	}
	p.DSC = true
	if n.cnnDSC, n.ganDSC, n.ganDSCTest, err = models.WMHNets(p); err != nil {
		return nil, err
	}
	for _, m := range []interface{ SetSeed(int64) }{n.cnn, n.cnnDSC, n.gan, n.ganDSC} {
		m.SetSeed(o.Seed)
	}
	return n, nil
}

// Trainable returns the model trained under m.
func (n *Nets) Trainable(m Model) net.Model {
	switch m {
	case CNN:
		return n.cnn
	case CNNDSC:
		return n.cnnDSC
	case GAN:
		return n.gan
	default:
		return n.ganDSC
	}
}

// Predictor returns the inference network of m.
func (n *Nets) Predictor(m Model) net.Predictor {
	switch m {
	case CNN:
		return n.cnn
	case CNNDSC:
		return n.cnnDSC
	case GAN:
		return n.ganTest
	default:
		return n.ganDSCTest
	}
}

// Optimizer returns the optimizer of m.
func (n *Nets) Optimizer(m Model) opt.Optimizer {
	switch m {
	case CNN:
		return n.cnn.Optimizer()
	case CNNDSC:
		return n.cnnDSC.Optimizer()
	case GAN:
		return n.gan.Optimizer()
	default:
		return n.ganDSC.Optimizer()
	}
}

// Load restores all four models from the checkpoints of epoch. Either all
// four are loaded or a NotComputedError is returned; a missing file is
// detected before any weights change.
func (n *Nets) Load(base string, epoch int) error {
	for _, m := range Models {
		path := CheckpointPath(base, m, epoch)
		if _, err := os.Stat(path); err != nil {
			return notComputed(path, err)
		}
	}
	for _, m := range Models {
		path := CheckpointPath(base, m, epoch)
		if err := n.Trainable(m).LoadWeights(path); err != nil {
			return notComputed(path, err)
		}
	}
	return nil
}

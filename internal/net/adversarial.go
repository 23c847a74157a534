package net

import (
	"math/rand"

	"github.com/neurolab/wmhgan/internal/layer"
	"github.com/neurolab/wmhgan/internal/loss"
	"github.com/neurolab/wmhgan/internal/opt"
)

// Adversarial is a segmentation network whose shared trunk is also trained
// against a domain discriminator. The discriminator head starts with a
// gradient-reversal layer, so one backward pass trains the discriminator to
// tell source patches from target patches while pushing the trunk towards
// features the discriminator cannot separate.
type Adversarial struct {
	trunk []layer.Layer
	seg   []layer.Layer
	disc  []layer.Layer

	segStack  []layer.Layer
	discStack []layer.Layer

	segLoss  loss.Loss
	discLoss loss.Loss
	opt      opt.Optimizer
	rng      *rand.Rand

	gradBuf []float64
}

// NewAdversarial assembles an adversarial model. disc should begin with a
// layer.GradientReversal.
func NewAdversarial(trunk, seg, disc []layer.Layer, segLoss, discLoss loss.Loss, optimizer opt.Optimizer) *Adversarial {
	return &Adversarial{
		trunk:     trunk,
		seg:       seg,
		disc:      disc,
		segStack:  concat(trunk, seg),
		discStack: concat(trunk, disc),
		segLoss:   segLoss,
		discLoss:  discLoss,
		opt:       optimizer,
		rng:       rand.New(rand.NewSource(1)),
	}
}

// SetSeed reseeds the generator used to shuffle samples between batches.
func (a *Adversarial) SetSeed(seed int64) {
	a.rng = rand.New(rand.NewSource(seed))
}

// Segmenter returns the inference network made of the trunk and the
// segmentation head. It shares weights with a.
func (a *Adversarial) Segmenter() *Network {
	return New(a.segStack, a.segLoss, nil)
}

// TrainBatch performs one optimization step on a segmentation batch and a
// discriminator batch and returns both losses.
func (a *Adversarial) TrainBatch(x, y, xDisc, yDisc [][]float64) (segLoss, discLoss float64) {
	setTraining(a.segStack, true)
	setTraining(a.disc, true)
	clearGradients(a.segStack)
	clearGradients(a.disc)

	segLoss = accumulate(a.segStack, a.segLoss, &a.gradBuf, x, y, 1)
	discLoss = accumulate(a.discStack, a.discLoss, &a.gradBuf, xDisc, yDisc, 1)

	step(a.opt, 0, a.trunk)
	step(a.opt, len(a.trunk), a.seg)
	step(a.opt, len(a.trunk)+len(a.seg), a.disc)
	return segLoss, discLoss
}

// FitEpoch trains one pass over d. Discriminator samples are consumed in
// step with the segmentation batches. It returns the mean total loss.
func (a *Adversarial) FitEpoch(d *Dataset, batchSize int, callbacks ...Callback) float64 {
	order := a.rng.Perm(len(d.X))
	discOrder := a.rng.Perm(len(d.XDisc))

	var total float64
	var batches int
	start := 0
	for b, idx := range batchIndices(order, batchSize) {
		// proportional slice of the discriminator samples
		from := start * len(discOrder) / len(order)
		start += len(idx)
		to := start * len(discOrder) / len(order)
		discIdx := discOrder[from:to]

		segLoss, discLoss := a.TrainBatch(
			gather(d.X, idx), gather(d.Y, idx),
			gather(d.XDisc, discIdx), gather(d.YDisc, discIdx),
		)
		l := segLoss + discLoss
		total += l
		batches++
		for _, cb := range callbacks {
			cb.OnBatchEnd(b, l, a)
		}
	}
	if batches == 0 {
		return 0
	}
	return total / float64(batches)
}

// Optimizer returns the optimizer shared by all three parts.
func (a *Adversarial) Optimizer() opt.Optimizer {
	return a.opt
}

// CountParams returns the number of trainable parameters of all three parts.
func (a *Adversarial) CountParams() int {
	return countParams(a.trunk) + countParams(a.seg) + countParams(a.disc)
}

// SaveWeights writes trunk, segmentation head and discriminator parameters.
func (a *Adversarial) SaveWeights(path string) error {
	return saveWeights(path, a.allLayers())
}

// LoadWeights restores weights written by SaveWeights.
func (a *Adversarial) LoadWeights(path string) error {
	return loadWeights(path, a.allLayers())
}

func (a *Adversarial) allLayers() []layer.Layer {
	return concat(a.segStack, a.disc)
}

func concat(a, b []layer.Layer) []layer.Layer {
	out := make([]layer.Layer, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

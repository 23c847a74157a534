package experiment

import (
	"context"
	"log"

	"github.com/pkg/errors"

	"github.com/neurolab/wmhgan/internal/dataset"
	"github.com/neurolab/wmhgan/internal/metrics"
	"github.com/neurolab/wmhgan/internal/net"
	"github.com/neurolab/wmhgan/internal/nifti"
	"github.com/neurolab/wmhgan/internal/parallel"
	"github.com/neurolab/wmhgan/internal/volume"
)

// Segmentation is the output of one model on one case.
type Segmentation struct {
	Labels      *volume.Volume // argmax class
	Probability *volume.Volume // lesion probability
}

// LoadSegmentation reads the files written for an output name.
func LoadSegmentation(name string) (*Segmentation, error) {
	labels, err := nifti.LoadVolume(LabelPath(name))
	if err != nil {
		return nil, notComputed(LabelPath(name), err)
	}
	pr, err := nifti.LoadVolume(ProbabilityPath(name))
	if err != nil {
		return nil, notComputed(ProbabilityPath(name), err)
	}
	return &Segmentation{Labels: labels, Probability: pr}, nil
}

// Tester segments whole volumes.
type Tester struct {
	Log       *log.Logger
	Patch     int
	BatchSize int // voxels per inference batch
	Workers   int
}

// TestNet returns the segmentation stored under name, or computes it by
// classifying every brain mask voxel of c and writes it with the geometry
// of ref.
func (t *Tester) TestNet(ctx context.Context, p net.Predictor, c *dataset.Case, ref *nifti.Image, name string) (*Segmentation, error) {
	seg, err := LoadSegmentation(name)
	if err == nil {
		return seg, nil
	}
	if !IsNotComputed(err) {
		return nil, err
	}

	voxels := c.MaskVoxels()
	t.Log.Printf("Creating the probability map %s (%d samples)", name, len(voxels))

	labelsImg, err := ref.Like(nifti.Uint8)
	if err != nil {
		return nil, err
	}
	prImg, err := ref.Like(nifti.Float32)
	if err != nil {
		return nil, err
	}
	if !labelsImg.Volume.SameShape(c.Images[0]) {
		return nil, errors.Errorf("%s: reference dims %v differ from case %v", name, labelsImg.Volume.Dims, c.Dims())
	}

	size := t.BatchSize
	if size <= 0 {
		size = len(voxels)
	}
	batch := make([][]float64, 0, size)
	for start := 0; start < len(voxels); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + size
		if end > len(voxels) {
			end = len(voxels)
		}
		chunk := voxels[start:end]

		// patch buffers are reused between batches
		for len(batch) < len(chunk) {
			batch = append(batch, nil)
		}
		batch = batch[:len(chunk)]
		parallel.ForEach(len(chunk), t.Workers, func(i int) {
			batch[i] = dataset.Patch(c.Images, chunk[i], t.Patch, batch[i])
		})

		for i, out := range p.PredictBatch(batch) {
			idx := labelsImg.Volume.Index(chunk[i])
			if out[1] > out[0] {
				labelsImg.Volume.Data[idx] = 1
			}
			// same precision as the written file
			prImg.Volume.Data[idx] = float64(float32(out[1]))
		}
	}

	t.Log.Printf("Saving image %s", LabelPath(name))
	if err := nifti.Save(LabelPath(name), labelsImg); err != nil {
		return nil, err
	}
	if err := nifti.Save(ProbabilityPath(name), prImg); err != nil {
		return nil, err
	}
	return &Segmentation{Labels: labelsImg.Volume, Probability: prImg.Volume}, nil
}

// Score is the agreement of one segmentation with the ground truth.
type Score struct {
	DSC     float64
	ProbDSC float64
}

// Evaluate scores seg against the lesion voxels of gt. Voxels labelled as
// other pathology are ignored.
func Evaluate(gt *volume.Volume, seg *Segmentation) (Score, error) {
	if !gt.SameShape(seg.Labels) || !gt.SameShape(seg.Probability) {
		return Score{}, errors.Errorf("segmentation dims %v differ from ground truth %v", seg.Labels.Dims, gt.Dims)
	}
	lesion := gt.Bool(volume.Equals(dataset.Lesion))
	mask := make([]bool, gt.Len())
	pr := make([]float64, gt.Len())
	for i, l := range gt.Data {
		if l == dataset.Other {
			continue
		}
		mask[i] = seg.Labels.Data[i] != 0
		pr[i] = seg.Probability.Data[i]
	}
	return Score{
		DSC:     metrics.DSC(lesion, mask),
		ProbDSC: metrics.ProbabilisticDSC(lesion, pr),
	}, nil
}

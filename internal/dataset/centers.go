package dataset

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/neurolab/wmhgan/internal/parallel"
	"github.com/neurolab/wmhgan/internal/volume"
)

// Label values of the WMH ground truth.
const (
	Background = 0
	Lesion     = 1
	Other      = 2 // other pathology, excluded from training and scoring
)

// Center is a sampled voxel of one patient.
type Center struct {
	Patient int
	volume.Voxel
}

// caseCenters returns the lesion voxels and the background voxels (inside
// the brain mask, label 0) of one case.
func caseCenters(c *Case) (lesion, background []volume.Voxel) {
	for i, l := range c.Labels.Data {
		switch {
		case l == Lesion:
			lesion = append(lesion, c.Labels.Voxel(i))
		case l == Background && c.Mask[i]:
			background = append(background, c.Labels.Voxel(i))
		}
	}
	return lesion, background
}

// CNNCenters samples the training centers of every patient of src: all
// lesion voxels and the background voxels. When balanced, each patient
// contributes as many background voxels as lesion voxels, drawn without
// replacement. Patients are visited in order and the result is
// deterministic for a given rng.
func CNNCenters(ctx context.Context, src *Source, balanced bool, rng *rand.Rand) ([]Center, error) {
	type found struct{ lesion, background []volume.Voxel }
	perCase := make([]found, src.Len())
	err := parallel.ForEachErr(ctx, src.Len(), src.opts.Workers, func(i int) error {
		c, err := src.Case(i)
		if err != nil {
			return err
		}
		if c.Labels == nil {
			return errors.Errorf("patient %s: labels not loaded", src.Patients[i].Name)
		}
		perCase[i].lesion, perCase[i].background = caseCenters(c)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "cnn centers")
	}

	var centers []Center
	for i, f := range perCase {
		for _, v := range f.lesion {
			centers = append(centers, Center{Patient: i, Voxel: v})
		}
		background := f.background
		if balanced && len(f.lesion) < len(background) {
			picked := make([]volume.Voxel, len(f.lesion))
			for j, k := range rng.Perm(len(background))[:len(f.lesion)] {
				picked[j] = background[k]
			}
			background = picked
		}
		for _, v := range background {
			centers = append(centers, Center{Patient: i, Voxel: v})
		}
	}
	return centers, nil
}

// Permute returns the centers in random order.
func Permute(centers []Center, rng *rand.Rand) []Center {
	out := make([]Center, len(centers))
	for i, j := range rng.Perm(len(centers)) {
		out[i] = centers[j]
	}
	return out
}

// Downsample keeps every step-th center starting with the first.
func Downsample(centers []Center, step int) []Center {
	if step <= 1 {
		return centers
	}
	out := make([]Center, 0, (len(centers)+step-1)/step)
	for i := 0; i < len(centers); i += step {
		out = append(out, centers[i])
	}
	return out
}

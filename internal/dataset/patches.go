package dataset

import (
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/neurolab/wmhgan/internal/parallel"
	"github.com/neurolab/wmhgan/internal/volume"
)

// Domain labels of the discriminator samples.
const (
	SourceDomain = 0
	TargetDomain = 1
)

// PatchLen is the flattened length of a patch of width size over channels
// modalities.
func PatchLen(channels, size int) int {
	return channels * size * size * size
}

// Patch fills dst with the cube of width size centred on c, one block per
// image, laid out [channel][z][y][x]. Voxels outside the volume are zero.
// For even sizes the extra voxel lies on the low side. dst is allocated if
// nil.
func Patch(images []*volume.Volume, c volume.Voxel, size int, dst []float64) []float64 {
	n := size * size * size
	if dst == nil {
		dst = make([]float64, len(images)*n)
	}
	half := size / 2
	for ch, img := range images {
		block := dst[ch*n : (ch+1)*n]
		i := 0
		for z := 0; z < size; z++ {
			for y := 0; y < size; y++ {
				for x := 0; x < size; x++ {
					block[i] = img.At(volume.Voxel{
						X: c.X - half + x,
						Y: c.Y - half + y,
						Z: c.Z - half + z,
					})
					i++
				}
			}
		}
	}
	return dst
}

// byPatient groups center indices by patient.
func byPatient(centers []Center, patients int) [][]int {
	groups := make([][]int, patients)
	for i, c := range centers {
		groups[c.Patient] = append(groups[c.Patient], i)
	}
	return groups
}

// SegPatches extracts the patch of every center and its one-hot label over
// nlabels classes. Patients are loaded one at a time; patches of a patient
// are extracted concurrently.
func SegPatches(ctx context.Context, src *Source, centers []Center, size, nlabels int) (x, y [][]float64, err error) {
	x = make([][]float64, len(centers))
	y = make([][]float64, len(centers))
	for p, idx := range byPatient(centers, src.Len()) {
		if len(idx) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		c, err := src.Case(p)
		if err != nil {
			return nil, nil, errors.Wrap(err, "seg patches")
		}
		if c.Labels == nil {
			return nil, nil, errors.Errorf("patient %s: labels not loaded", src.Patients[p].Name)
		}
		parallel.ForEach(len(idx), src.opts.Workers, func(k int) {
			i := idx[k]
			x[i] = Patch(c.Images, centers[i].Voxel, size, nil)
			y[i] = OneHot(int(c.Labels.At(centers[i].Voxel)), nlabels)
		})
	}
	return x, y, nil
}

// OneHot encodes label l over n classes. Labels outside [0, n) encode as
// the background class.
func OneHot(l, n int) []float64 {
	out := make([]float64, n)
	if l < 0 || l >= n {
		l = 0
	}
	out[l] = 1
	return out
}

// DiscPatches builds the discriminator set of n samples: the first n/2
// drawn uniformly from the brain masks of the source patients, the rest
// from the brain mask of target. yDisc holds the domain label.
func DiscPatches(ctx context.Context, src *Source, target *Case, n, size int, rng *rand.Rand) (xDisc, yDisc [][]float64, err error) {
	if src.Len() == 0 {
		return nil, nil, errors.New("disc patches: no source patients")
	}
	nSource := n / 2

	// assign source samples to patients first so each case is loaded once
	var centers []Center
	for i := 0; i < nSource; i++ {
		centers = append(centers, Center{Patient: rng.Intn(src.Len())})
	}
	groups := byPatient(centers, src.Len())

	xDisc = make([][]float64, 0, n)
	yDisc = make([][]float64, 0, n)
	for p, idx := range groups {
		if len(idx) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		c, err := src.Case(p)
		if err != nil {
			return nil, nil, errors.Wrap(err, "disc patches")
		}
		px, err := maskPatches(c, len(idx), size, rng, src.opts.Workers)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "patient %s", src.Patients[p].Name)
		}
		for _, v := range px {
			xDisc = append(xDisc, v)
			yDisc = append(yDisc, []float64{SourceDomain})
		}
	}

	px, err := maskPatches(target, n-nSource, size, rng, src.opts.Workers)
	if err != nil {
		return nil, nil, errors.Wrap(err, "target patches")
	}
	for _, v := range px {
		xDisc = append(xDisc, v)
		yDisc = append(yDisc, []float64{TargetDomain})
	}
	return xDisc, yDisc, nil
}

// maskPatches draws n patches centred on random brain mask voxels of c.
func maskPatches(c *Case, n, size int, rng *rand.Rand, workers int) ([][]float64, error) {
	voxels := c.MaskVoxels()
	if len(voxels) == 0 {
		return nil, errors.New("empty brain mask")
	}
	picked := make([]volume.Voxel, n)
	for i := range picked {
		picked[i] = voxels[rng.Intn(len(voxels))]
	}
	out := make([][]float64, n)
	parallel.ForEach(n, workers, func(i int) {
		out[i] = Patch(c.Images, picked[i], size, nil)
	})
	return out, nil
}

// ShuffleLabels permutes the labels of a random fraction rate of the
// samples among themselves, in place.
func ShuffleLabels(y [][]float64, rate float64, rng *rand.Rand) {
	k := int(math.Round(rate * float64(len(y))))
	if k < 2 {
		return
	}
	if k > len(y) {
		k = len(y)
	}
	idx := rng.Perm(len(y))[:k]
	labels := make([][]float64, k)
	for i, j := range idx {
		labels[i] = y[j]
	}
	rng.Shuffle(k, func(a, b int) { labels[a], labels[b] = labels[b], labels[a] })
	for i, j := range idx {
		y[j] = labels[i]
	}
}

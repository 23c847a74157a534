package dataset

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/neurolab/wmhgan/internal/nifti"
	"github.com/neurolab/wmhgan/internal/parallel"
	"github.com/neurolab/wmhgan/internal/volume"
)

// Case holds the loaded volumes of one patient.
type Case struct {
	Images []*volume.Volume // z-scored, one per modality
	Mask   []bool           // brain mask: raw FLAIR != 0
	Labels *volume.Volume   // nil unless labels were requested
}

// Dims returns the volume dimensions.
func (c *Case) Dims() [3]int { return c.Images[0].Dims }

// MaskVoxels returns the brain mask voxels in index order.
func (c *Case) MaskVoxels() []volume.Voxel {
	v := c.Images[0]
	var out []volume.Voxel
	for i, in := range c.Mask {
		if in {
			out = append(out, v.Voxel(i))
		}
	}
	return out
}

// Normalize z-scores the voxels of v selected by mask in place. Voxels
// outside the mask are set to zero.
func Normalize(v *volume.Volume, mask []bool) {
	var values []float64
	for i, in := range mask {
		if in {
			values = append(values, v.Data[i])
		}
	}
	if len(values) == 0 {
		return
	}
	mean, std := stat.MeanStdDev(values, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	for i, in := range mask {
		if in {
			v.Data[i] = (v.Data[i] - mean) / std
		} else {
			v.Data[i] = 0
		}
	}
}

// LoadNormalized loads the images of one patient and z-scores every modality
// over the voxels where the first image is nonzero.
func LoadNormalized(paths []string) ([]*volume.Volume, []bool, error) {
	if len(paths) == 0 {
		return nil, nil, errors.New("no images")
	}
	vols := make([]*volume.Volume, len(paths))
	for i, p := range paths {
		v, err := nifti.LoadVolume(p)
		if err != nil {
			return nil, nil, err
		}
		if i > 0 && !v.SameShape(vols[0]) {
			return nil, nil, errors.Errorf("%s: dims %v differ from %v", p, v.Dims, vols[0].Dims)
		}
		vols[i] = v
	}
	mask := vols[0].Bool(volume.NonZero)
	for _, v := range vols {
		Normalize(v, mask)
	}
	return vols, mask, nil
}

// SourceOptions configures NewSource.
type SourceOptions struct {
	// Preload loads every case when the source is created and keeps it in
	// memory. Otherwise cases are read from disk on every use.
	Preload bool
	// Labels also loads the label volumes.
	Labels  bool
	Workers int
}

// Source gives access to the cases of a list of patients.
type Source struct {
	Patients []Patient
	opts     SourceOptions
	cache    []*Case
}

// NewSource creates a source. With Preload set all cases are loaded
// concurrently before it returns.
func NewSource(ctx context.Context, patients []Patient, opts SourceOptions) (*Source, error) {
	s := &Source{Patients: patients, opts: opts}
	if !opts.Preload {
		return s, nil
	}
	s.cache = make([]*Case, len(patients))
	err := parallel.ForEachErr(ctx, len(patients), opts.Workers, func(i int) error {
		c, err := s.load(i)
		s.cache[i] = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Len returns the number of patients.
func (s *Source) Len() int { return len(s.Patients) }

// Case returns the volumes of patient i.
func (s *Source) Case(i int) (*Case, error) {
	if s.cache != nil {
		return s.cache[i], nil
	}
	return s.load(i)
}

func (s *Source) load(i int) (*Case, error) {
	p := s.Patients[i]
	images, mask, err := LoadNormalized(p.Images)
	if err != nil {
		return nil, errors.Wrapf(err, "patient %s", p.Name)
	}
	c := &Case{Images: images, Mask: mask}
	if s.opts.Labels {
		labels, err := nifti.LoadVolume(p.Labels)
		if err != nil {
			return nil, errors.Wrapf(err, "patient %s", p.Name)
		}
		if !labels.SameShape(images[0]) {
			return nil, errors.Errorf("patient %s: label dims %v differ from %v", p.Name, labels.Dims, images[0].Dims)
		}
		c.Labels = labels
	}
	return c, nil
}

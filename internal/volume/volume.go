// Package volume holds 3D scalar images and voxel coordinates.
package volume

import "fmt"

// Voxel is an integer voxel coordinate.
type Voxel struct {
	X, Y, Z int
}

func (v Voxel) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}

// Volume is a 3D image. Data is stored with x varying fastest:
// index = x + Dims[0]*(y + Dims[1]*z).
type Volume struct {
	Dims    [3]int
	Spacing [3]float64 // voxel size in mm
	Data    []float64
}

// New allocates a zero-filled volume.
func New(dims [3]int) *Volume {
	return &Volume{
		Dims:    dims,
		Spacing: [3]float64{1, 1, 1},
		Data:    make([]float64, dims[0]*dims[1]*dims[2]),
	}
}

// Like allocates a zero-filled volume with the geometry of v.
func (v *Volume) Like() *Volume {
	out := New(v.Dims)
	out.Spacing = v.Spacing
	return out
}

// Len returns the number of voxels.
func (v *Volume) Len() int { return len(v.Data) }

// Index returns the position of p in Data. p must be inside the volume.
func (v *Volume) Index(p Voxel) int {
	return p.X + v.Dims[0]*(p.Y+v.Dims[1]*p.Z)
}

// Voxel is the inverse of Index.
func (v *Volume) Voxel(i int) Voxel {
	nx, ny := v.Dims[0], v.Dims[1]
	return Voxel{X: i % nx, Y: (i / nx) % ny, Z: i / (nx * ny)}
}

// Contains reports whether p lies inside the volume.
func (v *Volume) Contains(p Voxel) bool {
	return p.X >= 0 && p.X < v.Dims[0] &&
		p.Y >= 0 && p.Y < v.Dims[1] &&
		p.Z >= 0 && p.Z < v.Dims[2]
}

// At returns the value at p, or zero outside the volume.
func (v *Volume) At(p Voxel) float64 {
	if !v.Contains(p) {
		return 0
	}
	return v.Data[v.Index(p)]
}

// Set stores val at p. It panics outside the volume.
func (v *Volume) Set(p Voxel, val float64) {
	if !v.Contains(p) {
		panic(fmt.Sprintf("volume: voxel %v outside %v", p, v.Dims))
	}
	v.Data[v.Index(p)] = val
}

// SameShape reports whether both volumes have the same dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Dims == o.Dims
}

// Voxels returns, in index order, every voxel whose value satisfies pred.
func (v *Volume) Voxels(pred func(float64) bool) []Voxel {
	var out []Voxel
	for i, val := range v.Data {
		if pred(val) {
			out = append(out, v.Voxel(i))
		}
	}
	return out
}

// Bool returns the mask of voxels satisfying pred.
func (v *Volume) Bool(pred func(float64) bool) []bool {
	out := make([]bool, len(v.Data))
	for i, val := range v.Data {
		out[i] = pred(val)
	}
	return out
}

// NonZero is a predicate selecting values other than zero.
func NonZero(x float64) bool { return x != 0 }

// Equals returns a predicate selecting voxels labelled l.
func Equals(l float64) func(float64) bool {
	return func(x float64) bool { return x == l }
}

package dataset

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/stat"

	"github.com/neurolab/wmhgan/internal/nifti"
	"github.com/neurolab/wmhgan/internal/volume"
)

var testDims = [3]int{6, 5, 4}

// writeCase writes a synthetic patient: a 4x3x2 brain block with lesion
// voxels at the given indices of the brain voxel list.
func writeCase(t *testing.T, root, name string, lesions ...int) {
	t.Helper()
	dir := filepath.Join(root, name, "pre")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	flair := volume.New(testDims)
	t1 := volume.New(testDims)
	labels := volume.New(testDims)
	var brain []volume.Voxel
	for z := 1; z < 3; z++ {
		for y := 1; y < 4; y++ {
			for x := 1; x < 5; x++ {
				p := volume.Voxel{X: x, Y: y, Z: z}
				brain = append(brain, p)
				flair.Set(p, float64(10+x+y+z))
				t1.Set(p, float64(100-x))
			}
		}
	}
	for _, i := range lesions {
		labels.Set(brain[i], Lesion)
	}
	labels.Set(volume.Voxel{}, Other)

	save := func(path string, v *volume.Volume, dt int16) {
		img, err := nifti.New(v, dt)
		if err != nil {
			t.Fatal(err)
		}
		if err := nifti.Save(path, img); err != nil {
			t.Fatal(err)
		}
	}
	save(filepath.Join(dir, "FLAIR.nii.gz"), flair, nifti.Float32)
	save(filepath.Join(dir, "T1.nii.gz"), t1, nifti.Int16)
	save(filepath.Join(root, name, "wmh.nii.gz"), labels, nifti.Uint8)
}

func testSource(t *testing.T, preload bool) *Source {
	t.Helper()
	root := t.TempDir()
	writeCase(t, root, "b", 0, 1, 2)
	writeCase(t, root, "a", 5)
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	patients, err := Discover(root, DefaultNames)
	if err != nil {
		t.Fatal(err)
	}
	src, err := NewSource(context.Background(), patients, SourceOptions{Preload: preload, Labels: true, Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func TestDiscover(t *testing.T) {
	src := testSource(t, false)
	if src.Len() != 2 {
		t.Fatalf("found %d patients, want 2", src.Len())
	}
	p := src.Patients[0]
	if p.Name != "a" {
		t.Errorf("first patient = %q, want a", p.Name)
	}
	if len(p.Images) != 2 || filepath.Base(p.Images[1]) != "T1.nii.gz" {
		t.Errorf("images = %v", p.Images)
	}
	if filepath.Base(p.Dir()) != "pre" {
		t.Errorf("Dir = %q, want the FLAIR directory", p.Dir())
	}

	if _, err := Discover(filepath.Join(t.TempDir(), "missing"), DefaultNames); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestNormalize(t *testing.T) {
	src := testSource(t, true)
	c, err := src.Case(0)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(c.MaskVoxels()); n != 24 {
		t.Fatalf("mask voxels = %d, want 24", n)
	}
	for _, img := range c.Images {
		var values []float64
		for i, in := range c.Mask {
			if in {
				values = append(values, img.Data[i])
			} else if img.Data[i] != 0 {
				t.Fatalf("voxel %d outside mask = %v", i, img.Data[i])
			}
		}
		mean, std := stat.MeanStdDev(values, nil)
		if math.Abs(mean) > 1e-9 || math.Abs(std-1) > 1e-9 {
			t.Errorf("mean/std = %v/%v, want 0/1", mean, std)
		}
	}
}

func TestLoadNormalizedNegativeFLAIR(t *testing.T) {
	flair := volume.New(testDims)
	flair.Set(volume.Voxel{X: 1, Y: 1, Z: 1}, 5)
	flair.Set(volume.Voxel{X: 2, Y: 1, Z: 1}, -5)
	img, err := nifti.New(flair, nifti.Float32)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "FLAIR.nii")
	if err := nifti.Save(path, img); err != nil {
		t.Fatal(err)
	}

	vols, mask, err := LoadNormalized([]string{path})
	if err != nil {
		t.Fatal(err)
	}
	neg := flair.Index(volume.Voxel{X: 2, Y: 1, Z: 1})
	if !mask[neg] {
		t.Error("negative FLAIR voxel outside the brain mask")
	}
	n := 0
	for _, in := range mask {
		if in {
			n++
		}
	}
	if n != 2 {
		t.Errorf("mask voxels = %d, want 2", n)
	}
	// mean 0, sample std 5*sqrt(2)
	if got := vols[0].Data[neg]; math.Abs(got+math.Sqrt(0.5)) > 1e-9 {
		t.Errorf("normalized negative voxel = %v, want %v", got, -math.Sqrt(0.5))
	}
}

func TestCNNCenters(t *testing.T) {
	for _, preload := range []bool{false, true} {
		src := testSource(t, preload)
		balanced, err := CNNCenters(context.Background(), src, true, rand.New(rand.NewSource(1)))
		if err != nil {
			t.Fatal(err)
		}
		// a: 1 lesion + 1 background, b: 3 + 3
		if len(balanced) != 8 {
			t.Errorf("balanced centers = %d, want 8", len(balanced))
		}

		all, err := CNNCenters(context.Background(), src, false, rand.New(rand.NewSource(1)))
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 48 {
			t.Errorf("unbalanced centers = %d, want 48", len(all))
		}
		for _, c := range all {
			if c.Voxel == (volume.Voxel{}) {
				t.Error("label 2 voxel sampled")
			}
		}
	}
}

func TestPermuteDownsample(t *testing.T) {
	centers := make([]Center, 10)
	for i := range centers {
		centers[i].X = i
	}
	p := Permute(centers, rand.New(rand.NewSource(3)))
	seen := map[int]bool{}
	for _, c := range p {
		seen[c.X] = true
	}
	if len(seen) != 10 {
		t.Errorf("Permute lost centers: %v", p)
	}

	d := Downsample(centers, 3)
	if len(d) != 4 || d[1].X != 3 || d[3].X != 9 {
		t.Errorf("Downsample = %v", d)
	}
	if len(Downsample(centers, 1)) != 10 {
		t.Error("step 1 should keep everything")
	}
}

func TestPatch(t *testing.T) {
	v := volume.New([3]int{3, 3, 3})
	for i := range v.Data {
		v.Data[i] = float64(i + 1)
	}
	p := Patch([]*volume.Volume{v, v}, volume.Voxel{X: 1, Y: 1, Z: 1}, 3, nil)
	if len(p) != PatchLen(2, 3) {
		t.Fatalf("len = %d", len(p))
	}
	for i := 0; i < 27; i++ {
		if p[i] != float64(i+1) || p[27+i] != float64(i+1) {
			t.Fatalf("patch[%d] = %v, want %v", i, p[i], i+1)
		}
	}

	corner := Patch([]*volume.Volume{v}, volume.Voxel{}, 3, nil)
	// only the high octant lies inside the volume
	if corner[0] != 0 || corner[13] != 1 || corner[26] != v.Data[v.Index(volume.Voxel{X: 1, Y: 1, Z: 1})] {
		t.Errorf("corner patch = %v", corner)
	}
}

func TestSegPatches(t *testing.T) {
	src := testSource(t, false)
	centers, err := CNNCenters(context.Background(), src, true, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	x, y, err := SegPatches(context.Background(), src, centers, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	var lesions int
	for i := range x {
		if len(x[i]) != PatchLen(2, 3) {
			t.Fatalf("patch %d length = %d", i, len(x[i]))
		}
		lesions += int(y[i][1])
		if y[i][0]+y[i][1] != 1 {
			t.Errorf("label %d = %v, want one-hot", i, y[i])
		}
	}
	if lesions != 4 {
		t.Errorf("lesion labels = %d, want 4", lesions)
	}
}

func TestDiscPatches(t *testing.T) {
	src := testSource(t, true)
	target, err := src.Case(1)
	if err != nil {
		t.Fatal(err)
	}
	x, y, err := DiscPatches(context.Background(), src, target, 9, 3, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatal(err)
	}
	if len(x) != 9 || len(y) != 9 {
		t.Fatalf("got %d/%d samples, want 9", len(x), len(y))
	}
	var targets int
	for _, l := range y {
		targets += int(l[0])
	}
	if targets != 5 {
		t.Errorf("target samples = %d, want 5", targets)
	}
}

func TestShuffleLabels(t *testing.T) {
	y := make([][]float64, 100)
	for i := range y {
		y[i] = OneHot(i%2, 2)
	}
	ShuffleLabels(y, 0.5, rand.New(rand.NewSource(4)))
	var ones int
	for _, l := range y {
		ones += int(l[1])
	}
	if ones != 50 {
		t.Errorf("class balance changed: %d ones", ones)
	}

	z := [][]float64{{1}, {2}}
	ShuffleLabels(z, 0, rand.New(rand.NewSource(4)))
	if z[0][0] != 1 || z[1][0] != 2 {
		t.Error("rate 0 changed labels")
	}
}

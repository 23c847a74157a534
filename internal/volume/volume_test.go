package volume

import "testing"

func TestIndexRoundTrip(t *testing.T) {
	v := New([3]int{4, 3, 2})
	if v.Len() != 24 {
		t.Fatalf("Len = %d, want 24", v.Len())
	}
	for i := 0; i < v.Len(); i++ {
		if got := v.Index(v.Voxel(i)); got != i {
			t.Errorf("Index(Voxel(%d)) = %d", i, got)
		}
	}
	if got := v.Index(Voxel{1, 2, 1}); got != 1+4*(2+3*1) {
		t.Errorf("Index = %d", got)
	}
}

func TestAtSet(t *testing.T) {
	v := New([3]int{3, 3, 3})
	p := Voxel{2, 1, 0}
	v.Set(p, 5)
	if v.At(p) != 5 {
		t.Errorf("At = %v, want 5", v.At(p))
	}
	if v.At(Voxel{-1, 0, 0}) != 0 || v.At(Voxel{0, 3, 0}) != 0 {
		t.Error("At outside volume should be zero")
	}

	defer func() {
		if recover() == nil {
			t.Error("Set outside volume should panic")
		}
	}()
	v.Set(Voxel{0, 0, 3}, 1)
}

func TestVoxelsAndBool(t *testing.T) {
	v := New([3]int{2, 2, 2})
	v.Data[1] = 1
	v.Data[6] = 2
	v.Data[7] = 1

	got := v.Voxels(Equals(1))
	want := []Voxel{{1, 0, 0}, {1, 1, 1}}
	if len(got) != len(want) {
		t.Fatalf("Voxels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Voxels[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if n := len(v.Voxels(NonZero)); n != 3 {
		t.Errorf("non-zero voxels = %d, want 3", n)
	}

	v.Data[2] = -3
	mask := v.Bool(NonZero)
	if !mask[6] || !mask[2] || mask[0] {
		t.Errorf("Bool mask = %v", mask)
	}
}

func TestLike(t *testing.T) {
	v := New([3]int{2, 3, 4})
	v.Spacing = [3]float64{1, 1, 3}
	v.Data[0] = 9
	l := v.Like()
	if !l.SameShape(v) || l.Spacing != v.Spacing {
		t.Errorf("Like geometry = %v %v", l.Dims, l.Spacing)
	}
	if l.Data[0] != 0 {
		t.Error("Like should be zero-filled")
	}
}

package phantom

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"voxelfit/internal/models"
)

func TestGradient(t *testing.T) {
	grid := models.NewGrid(3, 5)
	v, err := Gradient(grid, 1, 0, 1)
	if err != nil {
		t.Fatalf("Gradient failed: %v", err)
	}

	for i := 0; i < grid.Len(); i++ {
		c, _ := grid.Coords(i)
		want := float32(c[1]) / 4
		if got := v.Scalar(i); math.Abs(float64(got-want)) > 1e-7 {
			t.Errorf("voxel %v: expected %g, got %g", c, want, got)
		}
	}

	if _, err := Gradient(grid, 2, 0, 1); err == nil {
		t.Error("Expected error for out of range dimension")
	}
}

func TestSphere(t *testing.T) {
	grid := models.NewGrid(10, 10, 10)
	mask := Sphere(grid, 0.5)

	centre, _ := grid.Index(5, 5, 5)
	corner, _ := grid.Index(0, 0, 0)
	if mask.Scalar(centre) != 1 {
		t.Error("centre should be inside the mask")
	}
	if mask.Scalar(corner) != 0 {
		t.Error("corner should be outside the mask")
	}
}

func TestSimulateDeterministic(t *testing.T) {
	grid := models.NewGrid(4, 4)
	a, _ := Gradient(grid, 0, 1, 2)
	b, _ := Constant(grid, 3)
	sig := func(p []float64) []float64 { return []float64{p[0], p[0] * p[1]} }

	noiseless, err := Simulate([]*models.Volume[float32]{a, b}, 2, sig, 0, 1)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	for i := 0; i < grid.Len(); i++ {
		got := noiseless.At(i)
		want := []float32{a.Scalar(i), a.Scalar(i) * 3}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("voxel %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	n1, _ := Simulate([]*models.Volume[float32]{a, b}, 2, sig, 0.1, 42)
	n2, _ := Simulate([]*models.Volume[float32]{a, b}, 2, sig, 0.1, 42)
	if diff := cmp.Diff(n1.Data(), n2.Data()); diff != "" {
		t.Errorf("same seed gave different volumes:\n%s", diff)
	}
	if cmp.Equal(n1.Data(), noiseless.Data()) {
		t.Error("noise was not added")
	}
}

func TestSimulateErrors(t *testing.T) {
	grid := models.NewGrid(2)
	a, _ := Constant(grid, 1)
	other, _ := Constant(models.NewGrid(3), 1)
	sig := func(p []float64) []float64 { return []float64{p[0]} }

	if _, err := Simulate(nil, 1, sig, 0, 1); err == nil {
		t.Error("Expected error for no maps")
	}
	if _, err := Simulate([]*models.Volume[float32]{a, other}, 1, sig, 0, 1); err == nil {
		t.Error("Expected error for mismatched maps")
	}
	if _, err := Simulate([]*models.Volume[float32]{a}, 2, sig, 0, 1); err == nil {
		t.Error("Expected error for wrong signal length")
	}
}

func TestApplyMask(t *testing.T) {
	grid := models.NewGrid(3)
	m, _ := Constant(grid, 5)
	mask, _ := models.FromSlice(grid, 1, []uint8{1, 0, 1})
	Apply(mask, m)

	if diff := cmp.Diff([]float32{5, 0, 5}, m.Data()); diff != "" {
		t.Errorf("masked map mismatch (-want +got):\n%s", diff)
	}
}

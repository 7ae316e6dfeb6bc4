package visualization

import (
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"voxelfit/internal/models"
)

// newZRamp creates a width x height x depth volume whose value is z in every
// voxel of slice z, with the given number of identical channels.
func newZRamp(t *testing.T, width, height, depth, channels int) *models.Volume[float32] {
	t.Helper()
	v, err := models.NewVolume[float32](models.NewGrid(width, height, depth), channels)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				idx := z*width*height + y*width + x
				for c := 0; c < channels; c++ {
					v.Data()[idx*channels+c] = float32(z)
				}
			}
		}
	}
	return v
}

// TestNewViewer verifies dimensions, channel selection and windowing
func TestNewViewer(t *testing.T) {
	v := newZRamp(t, 10, 8, 5, 2)

	viewer, err := NewViewer(v, 1)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	if viewer.width != 10 || viewer.height != 8 || viewer.depth != 5 {
		t.Errorf("Expected 10x8x5, got %dx%dx%d", viewer.width, viewer.height, viewer.depth)
	}
	if viewer.lo != 0 || viewer.hi != 4 {
		t.Errorf("Expected window [0, 4], got [%g, %g]", viewer.lo, viewer.hi)
	}

	if _, err := NewViewer(v, 2); err == nil {
		t.Error("Expected error for out of range channel")
	}

	four, _ := models.NewVolume[float32](models.NewGrid(2, 2, 2, 2), 1)
	if _, err := NewViewer(four, 0); err == nil {
		t.Error("Expected error for 4-d volume")
	}

	// 2-d volumes are viewed as a single z slice.
	flat, _ := models.NewVolume[uint8](models.NewGrid(6, 4), 1)
	fv, err := NewViewer(flat, 0)
	if err != nil {
		t.Fatalf("NewViewer on 2-d volume failed: %v", err)
	}
	if fv.depth != 1 {
		t.Errorf("Expected depth 1, got %d", fv.depth)
	}
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 10, 5
	viewer, err := NewViewer(newZRamp(t, width, height, depth, 1), 0)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		expectedValue := float64(z) / float64(depth-1) * 65535
		gray16Img, ok := img.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16, got %T", img)
		}
		centerValue := gray16Img.Gray16At(width/2, height/2).Y
		if math.Abs(float64(centerValue)-expectedValue) > 1.0 {
			t.Errorf("Expected Z slice value ~%.0f at center, got %d", expectedValue, centerValue)
		}
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
}

// TestFlatVolumeRendersBlack verifies a constant volume does not divide by a
// zero-width window
func TestFlatVolumeRendersBlack(t *testing.T) {
	v, _ := models.NewVolume[float64](models.NewGrid(3, 3, 1), 1)
	viewer, _ := NewViewer(v, 0)

	img, err := viewer.ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("ExtractSlice failed: %v", err)
	}
	if y := img.(*image.Gray16).Gray16At(1, 1).Y; y != 0 {
		t.Errorf("Expected 0, got %d", y)
	}

	viewer.SetWindow(-1, 1)
	img, _ = viewer.ExtractSlice("z", 0)
	if y := img.(*image.Gray16).Gray16At(1, 1).Y; y < 32000 || y > 33000 {
		t.Errorf("Expected mid-gray with window [-1, 1], got %d", y)
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	tempDir := t.TempDir()
	viewer, _ := NewViewer(newZRamp(t, 5, 5, 3, 1), 0)

	outputDir := filepath.Join(tempDir, "slices")
	if err := viewer.SaveSliceSequence("z", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	for z := 0; z < 3; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.jpg", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}

// TestSaveMiddleSlices verifies one preview per axis is written
func TestSaveMiddleSlices(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	prefix := filepath.Join(t.TempDir(), "preview", "T2")
	viewer, _ := NewViewer(newZRamp(t, 6, 4, 3, 1), 0)
	if err := viewer.SaveMiddleSlices(prefix); err != nil {
		t.Fatalf("SaveMiddleSlices failed: %v", err)
	}
	for _, axis := range []string{"x", "y", "z"} {
		if _, err := os.Stat(prefix + "_" + axis + ".jpg"); err != nil {
			t.Errorf("missing %s preview: %v", axis, err)
		}
	}
}

// Package visualization renders 2D previews of fitted parameter maps.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"voxelfit/internal/models"
)

// Viewer extracts axis-aligned slices from one channel of a volume with up
// to three dimensions. Intensities are windowed to the channel's finite
// minimum and maximum.
type Viewer struct {
	// data holds the selected channel in voxel order
	data []float64

	// dimensions of the volume; missing dimensions are 1
	width  int
	height int
	depth  int

	// display window
	lo, hi float64
}

// NewViewer creates a viewer for channel c of v.
func NewViewer[T models.Scalar](v *models.Volume[T], c int) (*Viewer, error) {
	g := v.Grid()
	if g.Dims() > 3 {
		return nil, fmt.Errorf("cannot view a %d-d volume", g.Dims())
	}
	if c < 0 || c >= v.Channels() {
		return nil, fmt.Errorf("channel %d out of range [0, %d)", c, v.Channels())
	}

	dims := [3]int{1, 1, 1}
	copy(dims[:], g.Size)

	vw := &Viewer{
		data:   make([]float64, v.Len()),
		width:  dims[0],
		height: dims[1],
		depth:  dims[2],
	}
	buf := make([]float64, v.Channels())
	for i := range vw.data {
		v.Sample(i, buf)
		vw.data[i] = buf[c]
	}

	finite := make([]float64, 0, len(vw.data))
	for _, x := range vw.data {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			finite = append(finite, x)
		}
	}
	if len(finite) > 0 {
		vw.lo, vw.hi = floats.Min(finite), floats.Max(finite)
	}
	return vw, nil
}

// SetWindow overrides the display window
func (v *Viewer) SetWindow(lo, hi float64) {
	v.lo, v.hi = lo, hi
}

func (v *Viewer) gray(x float64) color.Gray16 {
	if v.hi <= v.lo || math.IsNaN(x) {
		return color.Gray16{}
	}
	t := (x - v.lo) / (v.hi - v.lo)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, t*65535)))}
}

// ExtractSlice extracts a 2D slice along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		img = image.NewGray16(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.SetGray16(z, y, v.gray(v.data[z*v.width*v.height+y*v.width+position]))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, z, v.gray(v.data[z*v.width*v.height+position*v.width+x]))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, y, v.gray(v.data[position*v.width*v.height+y*v.width+x]))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

func (v *Viewer) extent(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.width, nil
	case "y", "Y":
		return v.height, nil
	case "z", "Z":
		return v.depth, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	maxPos, err := v.extent(axis)
	if err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SaveMiddleSlices saves the central slice along each axis as
// <prefix>_x.jpg, <prefix>_y.jpg and <prefix>_z.jpg.
func (v *Viewer) SaveMiddleSlices(prefix string) error {
	if err := os.MkdirAll(filepath.Dir(prefix), 0755); err != nil {
		return err
	}
	for _, axis := range []string{"x", "y", "z"} {
		n, _ := v.extent(axis)
		img, err := v.ExtractSlice(axis, n/2)
		if err != nil {
			return err
		}
		if err := v.SaveSlice(img, fmt.Sprintf("%s_%s.jpg", prefix, axis)); err != nil {
			return err
		}
	}
	return nil
}

package models

import (
	"fmt"
	"math"
)

// Grid describes the voxel layout and physical placement shared by every
// volume taking part in one fitting pass.
type Grid struct {
	// Size is the extent of each dimension in voxels. The first dimension
	// varies fastest in the flat voxel index.
	Size []int `yaml:"size"`

	// Spacing is the physical voxel size along each dimension in mm
	Spacing []float64 `yaml:"spacing"`

	// Origin is the physical position of voxel 0
	Origin []float64 `yaml:"origin"`

	// Direction is the D x D orientation matrix stored row-major
	Direction []float64 `yaml:"direction"`
}

// NewGrid creates a grid with unit spacing, zero origin and identity direction.
func NewGrid(size ...int) Grid {
	d := len(size)
	g := Grid{
		Size:      append([]int(nil), size...),
		Spacing:   make([]float64, d),
		Origin:    make([]float64, d),
		Direction: make([]float64, d*d),
	}
	for i := 0; i < d; i++ {
		g.Spacing[i] = 1
		g.Direction[i*d+i] = 1
	}
	return g
}

// Dims returns the number of dimensions
func (g Grid) Dims() int { return len(g.Size) }

// Len returns the number of voxels in the grid
func (g Grid) Len() int {
	if len(g.Size) == 0 {
		return 0
	}
	n := 1
	for _, s := range g.Size {
		n *= s
	}
	return n
}

// Validate checks that the geometry arrays agree with the dimension count.
func (g Grid) Validate() error {
	d := len(g.Size)
	if d == 0 {
		return fmt.Errorf("grid has no dimensions")
	}
	for i, s := range g.Size {
		if s <= 0 {
			return fmt.Errorf("dimension %d has non-positive extent %d", i, s)
		}
	}
	if len(g.Spacing) != d {
		return fmt.Errorf("spacing has %d entries, expected %d", len(g.Spacing), d)
	}
	for i, s := range g.Spacing {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("dimension %d has invalid spacing %g", i, s)
		}
	}
	if len(g.Origin) != d {
		return fmt.Errorf("origin has %d entries, expected %d", len(g.Origin), d)
	}
	if len(g.Direction) != d*d {
		return fmt.Errorf("direction has %d entries, expected %d", len(g.Direction), d*d)
	}
	return nil
}

// Equal reports whether two grids have identical extent, spacing, origin
// and direction.
func (g Grid) Equal(o Grid) bool {
	if len(g.Size) != len(o.Size) {
		return false
	}
	for i := range g.Size {
		if g.Size[i] != o.Size[i] {
			return false
		}
	}
	return equalFloats(g.Spacing, o.Spacing) &&
		equalFloats(g.Origin, o.Origin) &&
		equalFloats(g.Direction, o.Direction)
}

// Clone returns a deep copy so outputs never share geometry slices with
// the input they were stamped from.
func (g Grid) Clone() Grid {
	return Grid{
		Size:      append([]int(nil), g.Size...),
		Spacing:   append([]float64(nil), g.Spacing...),
		Origin:    append([]float64(nil), g.Origin...),
		Direction: append([]float64(nil), g.Direction...),
	}
}

// Index converts N-d coordinates to the flat voxel index.
func (g Grid) Index(coords ...int) (int, error) {
	if len(coords) != len(g.Size) {
		return 0, fmt.Errorf("got %d coordinates for a %d-d grid", len(coords), len(g.Size))
	}
	idx := 0
	stride := 1
	for i, c := range coords {
		if c < 0 || c >= g.Size[i] {
			return 0, fmt.Errorf("coordinate %d out of range [0, %d) on dimension %d", c, g.Size[i], i)
		}
		idx += c * stride
		stride *= g.Size[i]
	}
	return idx, nil
}

// Coords converts a flat voxel index back to N-d coordinates.
func (g Grid) Coords(index int) ([]int, error) {
	if index < 0 || index >= g.Len() {
		return nil, fmt.Errorf("index %d out of range [0, %d)", index, g.Len())
	}
	coords := make([]int, len(g.Size))
	for i, s := range g.Size {
		coords[i] = index % s
		index /= s
	}
	return coords, nil
}

// String implements fmt.Stringer
func (g Grid) String() string {
	return fmt.Sprintf("Grid{size=%v spacing=%v origin=%v}", g.Size, g.Spacing, g.Origin)
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

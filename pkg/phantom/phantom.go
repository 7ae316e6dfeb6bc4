// Package phantom builds synthetic parameter maps and simulated acquisitions
// for exercising fitting algorithms without real scanner data.
package phantom

import (
	"fmt"
	"math"
	"math/rand/v2"

	"voxelfit/internal/models"
)

// SignalFunc maps one voxel's parameter vector to its noiseless signal.
type SignalFunc func(params []float64) []float64

// Gradient creates a single-channel map that rises linearly from lo to hi
// along dimension dim and is constant along the others.
func Gradient(grid models.Grid, dim int, lo, hi float64) (*models.Volume[float32], error) {
	if dim < 0 || dim >= grid.Dims() {
		return nil, fmt.Errorf("gradient dimension %d out of range for %d-d grid", dim, grid.Dims())
	}
	v, err := models.NewVolume[float32](grid, 1)
	if err != nil {
		return nil, err
	}
	n := grid.Size[dim]
	for i := 0; i < grid.Len(); i++ {
		c, _ := grid.Coords(i)
		t := 0.0
		if n > 1 {
			t = float64(c[dim]) / float64(n-1)
		}
		v.SetScalar(i, float32(lo+t*(hi-lo)))
	}
	return v, nil
}

// Constant creates a single-channel map filled with value.
func Constant(grid models.Grid, value float64) (*models.Volume[float32], error) {
	v, err := models.NewVolume[float32](grid, 1)
	if err != nil {
		return nil, err
	}
	for i := range v.Data() {
		v.Data()[i] = float32(value)
	}
	return v, nil
}

// Sphere creates a mask that is 1 inside an ellipsoid centred on the grid
// whose semi-axes are frac times the half extent of each dimension.
func Sphere(grid models.Grid, frac float64) *models.Volume[uint8] {
	v, err := models.NewVolume[uint8](grid, 1)
	if err != nil {
		return nil
	}
	for i := 0; i < grid.Len(); i++ {
		c, _ := grid.Coords(i)
		r2 := 0.0
		for d, x := range c {
			half := float64(grid.Size[d]) / 2
			u := (float64(x) + 0.5 - half) / (frac * half)
			r2 += u * u
		}
		if r2 <= 1 {
			v.SetScalar(i, 1)
		}
	}
	return v
}

// Simulate evaluates signal at every voxel of the parameter maps and adds
// Gaussian noise with standard deviation noise. The same seed always gives
// the same volume.
func Simulate(params []*models.Volume[float32], channels int, signal SignalFunc, noise float64, seed uint64) (*models.Volume[float32], error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameter maps given")
	}
	grid := params[0].Grid()
	for i, p := range params {
		if !p.Grid().Equal(grid) {
			return nil, fmt.Errorf("parameter map %d geometry differs from map 0", i)
		}
		if p.Channels() != 1 {
			return nil, fmt.Errorf("parameter map %d has %d channels, expected 1", i, p.Channels())
		}
	}

	out, err := models.NewVolume[float32](grid, channels)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	p := make([]float64, len(params))
	vec := make([]float32, channels)
	for i := 0; i < grid.Len(); i++ {
		for j, m := range params {
			p[j] = float64(m.Scalar(i))
		}
		s := signal(p)
		if len(s) != channels {
			return nil, fmt.Errorf("signal returned %d samples, expected %d", len(s), channels)
		}
		for c, x := range s {
			if noise > 0 {
				x += rng.NormFloat64() * noise
			}
			if math.IsNaN(x) {
				x = 0
			}
			vec[c] = float32(x)
		}
		if err := out.Set(i, vec); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Apply zeroes every map outside mask, leaving background voxels with no
// signal.
func Apply(mask *models.Volume[uint8], maps ...*models.Volume[float32]) {
	for _, m := range maps {
		for i := 0; i < m.Len(); i++ {
			if mask.Scalar(i) == 0 {
				m.SetScalar(i, 0)
			}
		}
	}
}

package models

import (
	"fmt"
)

// Scalar is the set of element types a Volume can hold
type Scalar interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~float32 | ~float64
}

// Sampler is the read-only float64 view of a multi-channel volume. The
// fitting engine gathers every input, constant and mask through it so that
// differently typed volumes can feed one algorithm.
type Sampler interface {
	Grid() Grid
	Channels() int
	// Sample writes the voxel's vector into dst, which must hold Channels() values.
	Sample(index int, dst []float64)
}

// Volume is a grid-shaped array holding a fixed-length vector per voxel.
//
// Data is stored voxel-major with channels interleaved, so the vector for
// voxel i occupies Data()[i*Channels() : (i+1)*Channels()].
type Volume[T Scalar] struct {
	grid     Grid
	channels int
	data     []T
}

// NewVolume allocates a zero-initialised volume on a copy of grid.
func NewVolume[T Scalar](grid Grid, channels int) (*Volume[T], error) {
	if err := grid.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid: %w", err)
	}
	if channels < 1 {
		return nil, fmt.Errorf("channel count must be at least 1, got %d", channels)
	}
	return &Volume[T]{
		grid:     grid.Clone(),
		channels: channels,
		data:     make([]T, grid.Len()*channels),
	}, nil
}

// FromSlice wraps existing voxel-major data. The slice is not copied.
func FromSlice[T Scalar](grid Grid, channels int, data []T) (*Volume[T], error) {
	if err := grid.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid: %w", err)
	}
	if channels < 1 {
		return nil, fmt.Errorf("channel count must be at least 1, got %d", channels)
	}
	if len(data) != grid.Len()*channels {
		return nil, fmt.Errorf("data has %d elements, expected %d (%d voxels x %d channels)",
			len(data), grid.Len()*channels, grid.Len(), channels)
	}
	return &Volume[T]{grid: grid.Clone(), channels: channels, data: data}, nil
}

// Grid returns the volume geometry
func (v *Volume[T]) Grid() Grid { return v.grid }

// Channels returns the per-voxel vector length
func (v *Volume[T]) Channels() int { return v.channels }

// Len returns the number of voxels
func (v *Volume[T]) Len() int { return len(v.data) / v.channels }

// Data exposes the underlying voxel-major storage
func (v *Volume[T]) Data() []T { return v.data }

// At returns a copy of the vector stored at voxel index.
func (v *Volume[T]) At(index int) []T {
	out := make([]T, v.channels)
	copy(out, v.data[index*v.channels:(index+1)*v.channels])
	return out
}

// Set replaces the whole vector at voxel index.
func (v *Volume[T]) Set(index int, vec []T) error {
	if len(vec) != v.channels {
		return fmt.Errorf("vector has %d values, volume has %d channels", len(vec), v.channels)
	}
	if index < 0 || index >= v.Len() {
		return fmt.Errorf("voxel index %d out of range [0, %d)", index, v.Len())
	}
	copy(v.data[index*v.channels:], vec)
	return nil
}

// Scalar returns channel 0 at voxel index
func (v *Volume[T]) Scalar(index int) T { return v.data[index*v.channels] }

// SetScalar sets channel 0 at voxel index
func (v *Volume[T]) SetScalar(index int, value T) { v.data[index*v.channels] = value }

// Sample implements Sampler
func (v *Volume[T]) Sample(index int, dst []float64) {
	src := v.data[index*v.channels : (index+1)*v.channels]
	for i, x := range src {
		dst[i] = float64(x)
	}
}

// Channel extracts one channel into a new single-channel volume.
func (v *Volume[T]) Channel(c int) (*Volume[T], error) {
	if c < 0 || c >= v.channels {
		return nil, fmt.Errorf("channel %d out of range [0, %d)", c, v.channels)
	}
	out := &Volume[T]{grid: v.grid.Clone(), channels: 1, data: make([]T, v.Len())}
	for i := range out.data {
		out.data[i] = v.data[i*v.channels+c]
	}
	return out, nil
}

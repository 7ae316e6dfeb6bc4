package apply

import (
	"fmt"
	"time"

	"voxelfit/internal/models"
)

// Stats summarises one engine pass.
type Stats struct {
	// RunID identifies the pass in logs
	RunID string

	// Voxels is the number of voxels in the grid
	Voxels int

	// Masked is the number of voxels skipped by the mask
	Masked int

	// Evaluations is the number of Apply calls made
	Evaluations int

	// Failures counts voxels whose fit was not usable, including panics
	// and results of the wrong shape
	Failures int

	// Panics counts Apply calls that panicked
	Panics int

	// MeanEvalTime is the average wall time of one Apply call
	MeanEvalTime time.Duration

	// Elapsed is the wall time of the whole pass
	Elapsed time.Duration
}

// Result holds the volumes produced by one pass.
type Result[T Float] struct {
	outputs    []*models.Volume[T]
	residuals  *models.Volume[T]
	iterations *models.Volume[int32]
	names      []string

	Stats Stats
}

// NumOutputs returns the number of algorithm outputs
func (r *Result[T]) NumOutputs() int { return len(r.outputs) }

// Output returns algorithm output i.
func (r *Result[T]) Output(i int) (*models.Volume[T], error) {
	if i < 0 || i >= len(r.outputs) {
		return nil, fmt.Errorf("output %d (algorithm has %d): %w", i, len(r.outputs), ErrIndexRange)
	}
	return r.outputs[i], nil
}

// OutputByName returns the output with the given algorithm name.
func (r *Result[T]) OutputByName(name string) (*models.Volume[T], error) {
	for i, n := range r.names {
		if n == name {
			return r.outputs[i], nil
		}
	}
	return nil, fmt.Errorf("no output named %q (have %v)", name, r.names)
}

// Outputs returns every algorithm output in declaration order
func (r *Result[T]) Outputs() []*models.Volume[T] { return r.outputs }

// Names returns the output names in declaration order
func (r *Result[T]) Names() []string { return r.names }

// Residuals returns the per-sample residual volume
func (r *Result[T]) Residuals() *models.Volume[T] { return r.residuals }

// Iterations returns the per-voxel iteration count volume
func (r *Result[T]) Iterations() *models.Volume[int32] { return r.iterations }

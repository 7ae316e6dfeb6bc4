// Package apply runs a per-voxel fitting algorithm over every voxel of a
// co-registered set of multi-channel volumes.
//
// An Engine is configured with one Algorithm, which fixes how many data
// inputs, constants and outputs take part. Each pass gathers the data
// vectors of all inputs at a voxel into one vector, looks up the voxel's
// constants (falling back to the algorithm defaults), and dispatches the
// Apply call onto a worker pool. Results are written straight into the
// voxel's own cell of the output volumes, so the outcome does not depend
// on scheduling order or pool size.
//
// Besides the algorithm's outputs every pass produces a residual volume
// (one channel per data sample) and an iteration-count volume.
package apply

import "strconv"

// Fit is what an Algorithm returns for one voxel.
type Fit struct {
	// Outputs holds one value per declared output
	Outputs []float64

	// Residuals holds model minus data, one value per data sample
	Residuals []float64

	// Iterations is the solver iteration count, or a constant for
	// algorithms that do not iterate
	Iterations int

	// Success is false when the algorithm could not produce a usable
	// result for this voxel
	Success bool
}

// Algorithm is the contract a per-voxel fitting model satisfies.
//
// The arity methods must return the same values for the lifetime of the
// algorithm; the engine reads them once. Apply is called concurrently from
// several workers on the same value and must not mutate shared state.
type Algorithm interface {
	NumInputs() int
	NumConsts() int
	NumOutputs() int
	DataSize() int
	DefaultConsts() []float64
	Apply(data, consts []float64) Fit
}

// Namer is implemented by algorithms that name their outputs.
type Namer interface {
	OutputNames() []string
}

// OutputNames returns the algorithm's output names, or generated ones when
// the algorithm does not implement Namer.
func OutputNames(alg Algorithm) []string {
	n := alg.NumOutputs()
	if namer, ok := alg.(Namer); ok {
		if names := namer.OutputNames(); len(names) == n {
			return names
		}
	}
	names := make([]string, n)
	for i := range names {
		names[i] = "output" + strconv.Itoa(i)
	}
	return names
}

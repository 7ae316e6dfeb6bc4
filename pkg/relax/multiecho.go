// Package relax provides relaxometry fitting algorithms for the apply engine.
package relax

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"voxelfit/pkg/apply"
)

// MultiEcho fits a mono-exponential T2 decay S = PD * exp(-TE / T2) to a
// multi-echo spin-echo train.
//
// The fit starts from a log-linear least-squares estimate and refines it
// with Nelder-Mead on the linear signal. Times are in seconds.
type MultiEcho struct {
	TE1 float64
	ESP float64
	ETL int

	// MaxIterations bounds the non-linear refinement; 0 means no bound.
	// A fit that reaches the bound is reported as failed.
	MaxIterations int
}

// NewMultiEcho creates a multi-echo model with first echo te1, echo
// spacing esp and echo train length etl.
func NewMultiEcho(te1, esp float64, etl int) (*MultiEcho, error) {
	if etl < 2 {
		return nil, fmt.Errorf("echo train length must be at least 2, got %d", etl)
	}
	if !(te1 > 0) || !(esp > 0) {
		return nil, fmt.Errorf("echo times must be positive (te1=%g, esp=%g)", te1, esp)
	}
	return &MultiEcho{TE1: te1, ESP: esp, ETL: etl, MaxIterations: 1000}, nil
}

// NumInputs implements apply.Algorithm: one echo train volume.
func (m *MultiEcho) NumInputs() int { return 1 }

// NumConsts implements apply.Algorithm.
func (m *MultiEcho) NumConsts() int { return 0 }

// NumOutputs implements apply.Algorithm: PD and T2.
func (m *MultiEcho) NumOutputs() int { return 2 }

// DataSize implements apply.Algorithm: one sample per echo.
func (m *MultiEcho) DataSize() int { return max(m.ETL, 0) }

// DefaultConsts implements apply.Algorithm.
func (m *MultiEcho) DefaultConsts() []float64 { return nil }

// OutputNames implements apply.Namer.
func (m *MultiEcho) OutputNames() []string { return []string{"PD", "T2"} }

// EchoTimes returns TE1 + i*ESP for every echo in the train
func (m *MultiEcho) EchoTimes() []float64 {
	te := make([]float64, m.DataSize())
	for i := range te {
		te[i] = m.TE1 + float64(i)*m.ESP
	}
	return te
}

// Signal returns the noiseless echo train for params [PD, T2].
func (m *MultiEcho) Signal(params []float64) []float64 {
	pd, t2 := params[0], params[1]
	s := m.EchoTimes()
	for i, te := range s {
		s[i] = pd * math.Exp(-te/t2)
	}
	return s
}

// Apply implements apply.Algorithm.
func (m *MultiEcho) Apply(data, _ []float64) apply.Fit {
	failed := apply.Fit{
		Outputs:   make([]float64, 2),
		Residuals: make([]float64, m.DataSize()),
	}
	echoTimes := m.EchoTimes()
	if len(echoTimes) < 2 || len(data) != len(echoTimes) || !(m.TE1 > 0) || !(m.ESP > 0) {
		return failed
	}
	for _, d := range data {
		if !(d > 0) || math.IsInf(d, 0) {
			return failed
		}
	}

	// The simplex works on PD relative to the data maximum and T2 relative
	// to the log-linear estimate, so both parameters start near 1.
	scale := floats.Max(data)
	norm := make([]float64, len(data))
	floats.ScaleTo(norm, 1/scale, data)

	pd0, t20, ok := logLinear(echoTimes, norm)
	if !ok {
		return failed
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if x[0] <= 0 || x[1] <= 0 {
				return math.Inf(1)
			}
			t2 := x[1] * t20
			ss := 0.0
			for i, te := range echoTimes {
				r := x[0]*math.Exp(-te/t2) - norm[i]
				ss += r * r
			}
			return ss
		},
	}
	settings := &optimize.Settings{
		MajorIterations: m.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-14,
			Relative:   1e-10,
			Iterations: 20,
		},
	}
	result, err := optimize.Minimize(problem, []float64{pd0, 1}, settings, &optimize.NelderMead{})

	if err != nil || result == nil || !converged(result.Status) ||
		!(result.X[0] > 0) || !(result.X[1] > 0) || math.IsInf(result.F, 0) {
		if result != nil {
			failed.Iterations = result.Stats.MajorIterations
		}
		return failed
	}

	params := []float64{result.X[0] * scale, result.X[1] * t20}
	resid := m.Signal(params)
	floats.Sub(resid, data)

	return apply.Fit{
		Outputs:    params,
		Residuals:  resid,
		Iterations: result.Stats.MajorIterations,
		Success:    true,
	}
}

// converged reports whether the optimizer stopped at a minimum rather than
// at a limit or on an error.
func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success,
		optimize.FunctionThreshold,
		optimize.FunctionConvergence,
		optimize.GradientThreshold,
		optimize.StepConvergence,
		optimize.MethodConverge:
		return true
	}
	return false
}

// logLinear solves ln S = ln PD - TE * R2 in the least-squares sense.
func logLinear(echoTimes, data []float64) (pd, t2 float64, ok bool) {
	n := len(echoTimes)
	a := mat.NewDense(n, 2, nil)
	b := mat.NewVecDense(n, nil)
	for i, te := range echoTimes {
		a.Set(i, 0, 1)
		a.Set(i, 1, -te)
		b.SetVec(i, math.Log(data[i]))
	}
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return 0, 0, false
	}
	pd = math.Exp(x.AtVec(0))
	r2 := x.AtVec(1)
	if !(r2 > 0) || math.IsInf(pd, 0) {
		// Flat or rising decay; start from the echo train midpoint.
		return floats.Max(data), (echoTimes[0] + echoTimes[n-1]) / 2, true
	}
	return pd, 1 / r2, true
}

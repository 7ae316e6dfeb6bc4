package relax

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"voxelfit/pkg/apply"
)

// DESPOT1 estimates T1 from spoiled gradient echo data acquired at several
// flip angles using the linearised SPGR equation
//
//	S/sin(a) = E1 * S/tan(a) + PD * (1 - E1),  E1 = exp(-TR/T1)
//
// The single constant is the relative B1 which scales every flip angle;
// it defaults to 1.
type DESPOT1 struct {
	TR         float64
	FlipAngles []float64 // radians
}

// NewDESPOT1 creates an SPGR model. flipDegrees are nominal flip angles in
// degrees.
func NewDESPOT1(tr float64, flipDegrees []float64) (*DESPOT1, error) {
	if !(tr > 0) {
		return nil, fmt.Errorf("TR must be positive, got %g", tr)
	}
	if len(flipDegrees) < 2 {
		return nil, fmt.Errorf("need at least 2 flip angles, got %d", len(flipDegrees))
	}
	d := &DESPOT1{TR: tr, FlipAngles: make([]float64, len(flipDegrees))}
	for i, f := range flipDegrees {
		if !(f > 0 && f < 90) {
			return nil, fmt.Errorf("flip angle %g outside (0, 90) degrees", f)
		}
		d.FlipAngles[i] = f * math.Pi / 180
	}
	return d, nil
}

// NumInputs implements apply.Algorithm: one SPGR volume.
func (d *DESPOT1) NumInputs() int { return 1 }

// NumConsts implements apply.Algorithm: the relative B1.
func (d *DESPOT1) NumConsts() int { return 1 }

// NumOutputs implements apply.Algorithm: PD and T1.
func (d *DESPOT1) NumOutputs() int { return 2 }

// DataSize implements apply.Algorithm: one sample per flip angle.
func (d *DESPOT1) DataSize() int { return len(d.FlipAngles) }

// DefaultConsts implements apply.Algorithm. B1 defaults to 1.
func (d *DESPOT1) DefaultConsts() []float64 { return []float64{1.0} }

// OutputNames implements apply.Namer.
func (d *DESPOT1) OutputNames() []string { return []string{"PD", "T1"} }

// Signal returns the SPGR signal for params [PD, T1] at relative B1 b1.
func (d *DESPOT1) Signal(params []float64, b1 float64) []float64 {
	pd, t1 := params[0], params[1]
	e1 := math.Exp(-d.TR / t1)
	s := make([]float64, len(d.FlipAngles))
	for i, a := range d.FlipAngles {
		a *= b1
		s[i] = pd * (1 - e1) * math.Sin(a) / (1 - e1*math.Cos(a))
	}
	return s
}

// Apply implements apply.Algorithm.
func (d *DESPOT1) Apply(data, consts []float64) apply.Fit {
	n := len(d.FlipAngles)
	failed := apply.Fit{
		Outputs:   make([]float64, 2),
		Residuals: make([]float64, n),
	}
	b1 := consts[0]
	if !(b1 > 0) || math.IsInf(b1, 0) {
		return failed
	}

	x := make([]float64, n)
	y := make([]float64, n)
	for i, a := range d.FlipAngles {
		a *= b1
		y[i] = data[i] / math.Sin(a)
		x[i] = data[i] / math.Tan(a)
	}
	intercept, slope := stat.LinearRegression(x, y, nil, false)
	e1 := slope
	if !(e1 > 0 && e1 < 1) || math.IsNaN(intercept) {
		return failed
	}

	params := []float64{intercept / (1 - e1), -d.TR / math.Log(e1)}
	resid := d.Signal(params, b1)
	floats.Sub(resid, data)

	return apply.Fit{
		Outputs:   params,
		Residuals: resid,
		Success:   true,
	}
}

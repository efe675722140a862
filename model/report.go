package model

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/dual"

	"stgmrf/spde"
)

// Quantity is a differentiable reportable scalar: its value together
// with its gradient over the fixed parameters (length NFixed), for
// delta-method standard errors downstream.
type Quantity struct {
	Value float64
	Grad  []float64
}

// Report is the full per-evaluation output: the objective split into its
// data, spatial, and space-time components, the log-intensity surface,
// and the derived Matérn quantities.
type Report struct {
	Total     float64
	Data      float64
	Spatial   float64
	SpaceTime float64

	// LogIntensity is log d(s,t) = β0 + ω(s) + ε(s,t), sites by rows,
	// time steps by columns.
	LogIntensity *mat.Dense

	Range  Quantity // distance at which spatial correlation decays
	SigmaO Quantity // marginal SD of the spatial field
	SigmaE Quantity // marginal SD of the space-time field
}

// Components returns the {data, spatial, space-time} vector; it sums to
// Total.
func (r *Report) Components() [3]float64 {
	return [3]float64{r.Data, r.Spatial, r.SpaceTime}
}

// Report evaluates the model at the packed point x and packages the
// diagnostics. Unlike Observe, a failed factorization is returned as an
// error rather than folded into a NaN objective.
func (m *Model) Report(x []float64) (*Report, error) {
	if len(x) != m.Dim() {
		panic("model: point has wrong length")
	}
	r, err := m.eval(constants(x))
	if err != nil {
		return nil, err
	}

	ns := m.NS()
	surf := mat.NewDense(ns, m.NT, nil)
	for t := 0; t < m.NT; t++ {
		for s := 0; s < ns; s++ {
			surf.Set(s, t, r.logd[t*ns+s].Real)
		}
	}

	rep := &Report{
		Total:        r.total().Real,
		Data:         r.comps[0].Real,
		Spatial:      r.comps[1].Real,
		SpaceTime:    r.comps[2].Real,
		LogIntensity: surf,
	}
	rep.Range = quantity(x, func(p []dual.Number) dual.Number {
		return spde.Range(p[LnKappa])
	})
	rep.SigmaO = quantity(x, func(p []dual.Number) dual.Number {
		return spde.MarginalSD(p[LnTauO], p[LnKappa])
	})
	rep.SigmaE = quantity(x, func(p []dual.Number) dual.Number {
		return spde.MarginalSD(p[LnTauE], p[LnKappa])
	})
	return rep, nil
}

// quantity evaluates a derived scalar of the fixed parameters along with
// its gradient, one seeded sweep per parameter.
func quantity(x []float64, f func([]dual.Number) dual.Number) Quantity {
	p := make([]dual.Number, NFixed)
	for i := range p {
		p[i] = dual.Number{Real: x[i]}
	}
	q := Quantity{Value: f(p).Real, Grad: make([]float64, NFixed)}
	for j := range p {
		p[j].Emag = 1
		q.Grad[j] = f(p).Emag
		p[j].Emag = 0
	}
	return q
}

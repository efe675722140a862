// Package model implements the joint negative log-likelihood of a
// spatio-temporal count model: a fixed intercept plus a spatial and a
// space-time Gaussian Markov random effect field, both under one SPDE
// precision structure, observed through a Poisson family.
package model

import (
	"fmt"
	"math"

	infergo "bitbucket.org/dtolpin/infergo/model"
	"gonum.org/v1/gonum/num/dual"

	"stgmrf/dist"
	"stgmrf/gmrf"
	"stgmrf/spde"
)

// Layout of the packed parameter vector. The fixed parameters come
// first, then the spatial field (one value per mesh node), then the
// space-time field, time slice by time slice.
const (
	Beta0   = iota // intercept, linear scale
	LnTauO         // log precision scale of the spatial field
	LnTauE         // log precision scale of the space-time field
	LnKappa        // log decorrelation rate, shared by both fields
	NFixed
)

// Count is an observed count that may be missing. Zero is an ordinary
// observation that contributes fully; only Valid marks missingness, so
// no sentinel value crosses the model boundary.
type Count struct {
	Value float64
	Valid bool
}

// Observed returns a present count.
func Observed(v float64) Count { return Count{Value: v, Valid: true} }

// Missing returns a missing count.
func Missing() Count { return Count{} }

// Model carries one dataset and its assembled SPDE operator. Every
// evaluation is call-scoped: nothing persists between calls except the
// point recorded by Observe for the following Gradient.
type Model struct {
	Op     *spde.Operator
	NT     int
	Area   []float64 // per-node area weights, carried for downstream use
	Counts []Count
	Site   []int
	Time   []int

	x []float64 // point of the last Observe
}

var _ infergo.Model = (*Model)(nil)

// New validates the input contract and returns a model. The observation
// slices must be parallel, every site and time index in range, and the
// area vector as long as the mesh.
func New(op *spde.Operator, nt int, area []float64, counts []Count, site, time []int) (*Model, error) {
	if nt < 1 {
		return nil, fmt.Errorf("model: %d time steps, want at least 1", nt)
	}
	if len(area) != op.Dim() {
		return nil, fmt.Errorf("model: %d area weights for %d mesh nodes", len(area), op.Dim())
	}
	if len(site) != len(counts) || len(time) != len(counts) {
		return nil, fmt.Errorf("model: observation slices have lengths %d, %d, %d",
			len(counts), len(site), len(time))
	}
	for i := range counts {
		if site[i] < 0 || site[i] >= op.Dim() {
			return nil, fmt.Errorf("model: observation %d: site %d out of [0,%d)", i, site[i], op.Dim())
		}
		if time[i] < 0 || time[i] >= nt {
			return nil, fmt.Errorf("model: observation %d: time %d out of [0,%d)", i, time[i], nt)
		}
	}
	return &Model{Op: op, NT: nt, Area: area, Counts: counts, Site: site, Time: time}, nil
}

// NS returns the number of spatial mesh nodes.
func (m *Model) NS() int { return m.Op.Dim() }

// Dim returns the length of the packed parameter vector: the fixed
// parameters, the spatial field, and NT time slices.
func (m *Model) Dim() int { return NFixed + m.NS()*(1+m.NT) }

// result is one evaluation of the objective: the data, spatial, and
// space-time components, and the log-intensity surface with time slice t
// at logd[t·n_s : (t+1)·n_s].
type result struct {
	comps [3]dual.Number
	logd  []dual.Number
}

func (r *result) total() dual.Number {
	return dual.Add(dual.Add(r.comps[0], r.comps[1]), r.comps[2])
}

// eval computes the objective and its directional derivative at a packed
// dual-valued point. The precision matrix is assembled and factored once
// and shared by the spatial term and every time slice; slices are summed
// in ascending time order.
func (m *Model) eval(x []dual.Number) (*result, error) {
	ns := m.NS()
	den, err := gmrf.NewDensity(m.Op.Precision(x[LnKappa]))
	if err != nil {
		return nil, err
	}

	omega := x[NFixed : NFixed+ns]
	eps := x[NFixed+ns:]
	r := &result{logd: make([]dual.Number, ns*m.NT)}

	scaleO := dual.Inv(dual.Exp(x[LnTauO]))
	r.comps[1] = den.NegLogProb(scaleO, omega)
	scaleE := dual.Inv(dual.Exp(x[LnTauE]))
	for t := 0; t < m.NT; t++ {
		r.comps[2] = dual.Add(r.comps[2], den.NegLogProb(scaleE, eps[t*ns:(t+1)*ns]))
	}

	for t := 0; t < m.NT; t++ {
		for s := 0; s < ns; s++ {
			r.logd[t*ns+s] = dual.Add(dual.Add(x[Beta0], omega[s]), eps[t*ns+s])
		}
	}

	// Missing counts contribute nothing, neither penalized nor imputed.
	for i, c := range m.Counts {
		if !c.Valid {
			continue
		}
		ld := r.logd[m.Time[i]*ns+m.Site[i]]
		r.comps[0] = dual.Sub(r.comps[0], dist.Poisson.Logp(ld, c.Value))
	}
	return r, nil
}

// Observe returns the joint negative log-likelihood at the packed point
// x. A point where the precision matrix loses positive definiteness
// yields NaN, which an optimizer treats as a rejected step.
func (m *Model) Observe(x []float64) float64 {
	if len(x) != m.Dim() {
		panic(fmt.Sprintf("model: point has length %d, want %d", len(x), m.Dim()))
	}
	m.x = append(m.x[:0], x...)
	r, err := m.eval(constants(x))
	if err != nil {
		return math.NaN()
	}
	return r.total().Real
}

// Gradient differentiates the objective at the point of the last
// Observe, one forward sweep per packed coordinate.
func (m *Model) Gradient() []float64 {
	xs := constants(m.x)
	g := make([]float64, len(xs))
	for j := range xs {
		xs[j].Emag = 1
		r, err := m.eval(xs)
		if err != nil {
			g[j] = math.NaN()
		} else {
			g[j] = r.total().Emag
		}
		xs[j].Emag = 0
	}
	return g
}

// constants lifts a real point into dual space with zero derivative.
func constants(x []float64) []dual.Number {
	xs := make([]dual.Number, len(x))
	for i, v := range x {
		xs[i] = dual.Number{Real: v}
	}
	return xs
}

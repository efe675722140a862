// Package gmrf evaluates densities of Gaussian Markov random fields given
// by a sparse precision matrix. Matrix entries are gonum dual numbers, so
// a precision assembled from differentiated parameters carries first
// derivatives through the factorization, the log-determinant, and the
// density itself.
package gmrf

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/num/dual"
)

// Matrix is a sparse symmetric matrix in compressed-row form. Both
// triangles are stored explicitly; each row is sorted by column and must
// contain the diagonal entry, even when it is numerically zero.
type Matrix struct {
	n      int
	rowPtr []int
	cols   []int
	vals   []dual.Number
}

// NewMatrix wraps compressed-row storage in a Matrix. The slices are
// retained, not copied. NewMatrix panics if the pattern is malformed; it
// does not verify symmetry of the values.
func NewMatrix(n int, rowPtr, cols []int, vals []dual.Number) *Matrix {
	if len(rowPtr) != n+1 || rowPtr[0] != 0 || rowPtr[n] != len(cols) || len(cols) != len(vals) {
		panic("gmrf: malformed compressed-row pattern")
	}
	for i := 0; i < n; i++ {
		diag := false
		for p := rowPtr[i]; p < rowPtr[i+1]; p++ {
			if p > rowPtr[i] && cols[p] <= cols[p-1] {
				panic("gmrf: row columns not sorted")
			}
			if cols[p] < 0 || cols[p] >= n {
				panic("gmrf: column index out of range")
			}
			diag = diag || cols[p] == i
		}
		if !diag {
			panic("gmrf: missing diagonal entry")
		}
	}
	return &Matrix{n: n, rowPtr: rowPtr, cols: cols, vals: vals}
}

// Dim returns the order of the matrix.
func (a *Matrix) Dim() int { return a.n }

// At returns the element at row i, column j.
func (a *Matrix) At(i, j int) dual.Number {
	if i < 0 || i >= a.n || j < 0 || j >= a.n {
		panic("gmrf: index out of range")
	}
	for p := a.rowPtr[i]; p < a.rowPtr[i+1]; p++ {
		if a.cols[p] == j {
			return a.vals[p]
		}
	}
	return dual.Number{}
}

// Quad returns the quadratic form xᵀAx.
func (a *Matrix) Quad(x []dual.Number) dual.Number {
	if len(x) != a.n {
		panic("gmrf: dimension mismatch")
	}
	var q dual.Number
	for i := 0; i < a.n; i++ {
		var ri dual.Number
		for p := a.rowPtr[i]; p < a.rowPtr[i+1]; p++ {
			ri = dual.Add(ri, dual.Mul(a.vals[p], x[a.cols[p]]))
		}
		q = dual.Add(q, dual.Mul(x[i], ri))
	}
	return q
}

const log2Pi = 1.8378770664093454835606594728112

// Density evaluates scaled negative log-densities of mean-zero Gaussian
// fields under one fixed precision matrix. The sparse Cholesky
// factorization is done once by NewDensity and shared by every field the
// density is applied to.
type Density struct {
	q      *Matrix
	chol   *cholesky
	logDet dual.Number
}

// NewDensity factors the precision matrix q. A q with no Cholesky
// factorization yields ErrNotPositiveDefinite; the caller must treat that
// as a failed evaluation, not recover from it.
func NewDensity(q *Matrix) (*Density, error) {
	ch, err := factor(q)
	if err != nil {
		return nil, err
	}
	return &Density{q: q, chol: ch, logDet: ch.logDet()}, nil
}

// Dim returns the field length the density applies to.
func (d *Density) Dim() int { return d.q.n }

// LogDet returns the log-determinant of the precision matrix.
func (d *Density) LogDet() dual.Number { return d.logDet }

// NegLogProb returns the negative log-density at x of the mean-zero
// Gaussian field whose correlation structure is the precision matrix and
// whose marginal standard deviation is multiplied by scale. The field is
// evaluated as x/scale under the precision's own normalization, plus the
// m·log(scale) Jacobian of the rescaling, so the result is a proper
// density of x itself.
func (d *Density) NegLogProb(scale dual.Number, x []dual.Number) dual.Number {
	m := d.q.n
	if len(x) != m {
		panic("gmrf: dimension mismatch")
	}
	inv := dual.Inv(scale)
	z := make([]dual.Number, m)
	for i := range x {
		z[i] = dual.Mul(x[i], inv)
	}
	nll := dual.Scale(0.5, d.q.Quad(z))
	nll = dual.Sub(nll, dual.Scale(0.5, d.logDet))
	nll = dual.Add(nll, dual.Number{Real: 0.5 * float64(m) * log2Pi})
	return dual.Add(nll, dual.Scale(float64(m), dual.Log(scale)))
}

// Sample draws one realization of the scaled field: with Q = LLᵀ, the
// vector scale·L⁻ᵀz has the scaled-field distribution when z is standard
// normal. Only the value parts of the factor are used.
func (d *Density) Sample(scale float64, rnd *rand.Rand) []float64 {
	z := make([]float64, d.q.n)
	for i := range z {
		z[i] = rnd.NormFloat64()
	}
	u := d.chol.solveT(z)
	for i := range u {
		u[i] *= scale
	}
	return u
}

// nonfinite reports whether a value lost finiteness, which happens when
// overflowed parameters reach the precision matrix.
func nonfinite(v dual.Number) bool {
	return math.IsNaN(v.Real) || math.IsInf(v.Real, 0)
}

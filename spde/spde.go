// Package spde assembles the sparse Matérn precision operator from the
// three finite-element matrices of an SPDE discretization, and converts
// the model's log-scale parameters into interpretable quantities.
package spde

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/dual"

	"stgmrf/gmrf"
)

// Matrix is the part of a sparse matrix the operator needs: dimensions,
// random access, and nonzero iteration. The james-bowman/sparse types
// (CSR, DOK, ...) all satisfy it.
type Matrix interface {
	mat.Matrix
	DoNonZero(fn func(i, j int, v float64))
}

// Smoothness is the Matérn order ν the discretization fixes. It is not a
// free parameter of the model: the √(8ν) effective-range factor and the
// 4π marginal-variance normalizer below both assume ν = 1 on a
// two-dimensional domain.
const Smoothness = 1.0

var rangeFactor = math.Sqrt(8 * Smoothness)

// Range returns the distance at which spatial correlation has decayed to
// roughly 0.1: √(8ν)/κ with κ = exp(lnKappa).
func Range(lnKappa dual.Number) dual.Number {
	return dual.Scale(rangeFactor, dual.Exp(dual.Scale(-1, lnKappa)))
}

// MarginalSD returns the marginal standard deviation of a field with
// precision scale τ = exp(lnTau) and decorrelation rate κ = exp(lnKappa),
// 1/√(4π·τ²·κ²).
func MarginalSD(lnTau, lnKappa dual.Number) dual.Number {
	v := dual.Scale(4*math.Pi, dual.Exp(dual.Scale(2, dual.Add(lnTau, lnKappa))))
	return dual.Inv(dual.Sqrt(v))
}

// Operator holds the union sparsity pattern of the finite-element
// matrices M0, M1, M2 together with their coefficients, ready to
// assemble the precision matrix
//
//	Q(κ) = κ⁴·M0 + 2κ²·M1 + M2
//
// for any value of the decorrelation parameter. The pattern is computed
// once; Precision only rescales coefficients, so the sparsity of the
// inputs is never lost.
type Operator struct {
	n      int
	rowPtr []int
	cols   []int
	m0     []float64
	m1     []float64
	m2     []float64
}

// NewOperator validates and ingests the finite-element matrices. All
// three must be square with equal dimensions and symmetric in value; the
// pattern is symmetrized and the diagonal is kept structurally present,
// so the factorization sees it even when only one matrix fills it.
func NewOperator(m0, m1, m2 Matrix) (*Operator, error) {
	n, err := commonDim(m0, m1, m2)
	if err != nil {
		return nil, err
	}

	pattern := make([]map[int]bool, n)
	for i := range pattern {
		pattern[i] = map[int]bool{i: true}
	}
	for _, m := range []Matrix{m0, m1, m2} {
		m.DoNonZero(func(i, j int, v float64) {
			pattern[i][j] = true
			pattern[j][i] = true
		})
	}

	op := &Operator{n: n, rowPtr: make([]int, n+1)}
	for i := 0; i < n; i++ {
		row := make([]int, 0, len(pattern[i]))
		for j := range pattern[i] {
			row = append(row, j)
		}
		sort.Ints(row)
		for _, j := range row {
			op.cols = append(op.cols, j)
			op.m0 = append(op.m0, m0.At(i, j))
			op.m1 = append(op.m1, m1.At(i, j))
			op.m2 = append(op.m2, m2.At(i, j))
		}
		op.rowPtr[i+1] = len(op.cols)
	}
	return op, nil
}

// Dim returns the number of spatial mesh nodes.
func (op *Operator) Dim() int { return op.n }

// NNZ returns the number of structural nonzeros of the operator.
func (op *Operator) NNZ() int { return len(op.cols) }

// Precision assembles Q for the given log decorrelation rate. The
// returned matrix shares the operator's pattern slices; only the values
// are fresh.
func (op *Operator) Precision(lnKappa dual.Number) *gmrf.Matrix {
	c0 := dual.Exp(dual.Scale(4, lnKappa))
	c1 := dual.Scale(2, dual.Exp(dual.Scale(2, lnKappa)))
	vals := make([]dual.Number, len(op.cols))
	for p := range vals {
		v := dual.Number{Real: op.m2[p]}
		v = dual.Add(v, dual.Scale(op.m0[p], c0))
		v = dual.Add(v, dual.Scale(op.m1[p], c1))
		vals[p] = v
	}
	return gmrf.NewMatrix(op.n, op.rowPtr, op.cols, vals)
}

func commonDim(ms ...Matrix) (int, error) {
	r0, c0 := ms[0].Dims()
	if r0 != c0 {
		return 0, fmt.Errorf("spde: matrix 0 is %d×%d, want square", r0, c0)
	}
	for k, m := range ms[1:] {
		r, c := m.Dims()
		if r != r0 || c != c0 {
			return 0, fmt.Errorf("spde: matrix %d is %d×%d, want %d×%d", k+1, r, c, r0, c0)
		}
	}
	return r0, nil
}

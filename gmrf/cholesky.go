package gmrf

import (
	"errors"

	"gonum.org/v1/gonum/num/dual"
)

// ErrNotPositiveDefinite reports a precision matrix without a Cholesky
// factorization. It marks a failed evaluation at the current parameter
// point, not a recoverable condition.
var ErrNotPositiveDefinite = errors.New("gmrf: matrix is not positive definite")

// cholesky is the sparse lower-triangular factor L of A = LLᵀ, stored by
// columns. Each column holds its diagonal entry first, followed by the
// subdiagonal entries in increasing row order.
type cholesky struct {
	n    int
	rows [][]int
	vals [][]dual.Number
}

// factor computes the up-looking sparse Cholesky factorization of a. Row
// k of the factor is obtained by a sparse triangular solve over the reach
// of row k of a in the elimination tree, so only structural nonzeros are
// visited and no fill pattern is formed beyond the factor's own.
func factor(a *Matrix) (*cholesky, error) {
	n := a.n
	ch := &cholesky{
		n:    n,
		rows: make([][]int, n),
		vals: make([][]dual.Number, n),
	}
	parent := etree(a)

	var (
		s    = make([]int, n) // reach of the current row, topological order
		path = make([]int, n)
		w    = make([]int, n) // visit marks, keyed by current row
		x    = make([]dual.Number, n)
	)
	for i := range w {
		w[i] = -1
	}

	for k := 0; k < n; k++ {
		// Gather row k of a (columns ≤ k) into the scratch vector and
		// collect the factor-row pattern by walking the tree from each
		// structural nonzero up to the first visited ancestor.
		top := n
		w[k] = k
		var d dual.Number
		for p := a.rowPtr[k]; p < a.rowPtr[k+1]; p++ {
			j := a.cols[p]
			if j > k {
				continue
			}
			if j == k {
				d = a.vals[p]
				continue
			}
			x[j] = a.vals[p]
			depth := 0
			for i := j; w[i] != k; i = parent[i] {
				path[depth] = i
				depth++
				w[i] = k
			}
			for depth > 0 {
				depth--
				top--
				s[top] = path[depth]
			}
		}

		// Sparse triangular solve L(0:k,0:k)·l = a(k,0:k), consuming the
		// reach in topological order and appending row k to the columns
		// it touches.
		for t := top; t < n; t++ {
			j := s[t]
			lkj := dual.Mul(x[j], dual.Inv(ch.vals[j][0]))
			x[j] = dual.Number{}
			for q := 1; q < len(ch.rows[j]); q++ {
				x[ch.rows[j][q]] = dual.Sub(x[ch.rows[j][q]], dual.Mul(ch.vals[j][q], lkj))
			}
			d = dual.Sub(d, dual.Mul(lkj, lkj))
			ch.rows[j] = append(ch.rows[j], k)
			ch.vals[j] = append(ch.vals[j], lkj)
		}
		if d.Real <= 0 || nonfinite(d) {
			return nil, ErrNotPositiveDefinite
		}
		ch.rows[k] = append(ch.rows[k], k)
		ch.vals[k] = append(ch.vals[k], dual.Sqrt(d))
	}
	return ch, nil
}

// etree returns the elimination tree of the symmetric matrix a: parent[i]
// is the smallest row below i whose factor row contains column i, or -1
// for a root.
func etree(a *Matrix) []int {
	n := a.n
	parent := make([]int, n)
	ancestor := make([]int, n)
	for i := range parent {
		parent[i] = -1
		ancestor[i] = -1
	}
	for k := 0; k < n; k++ {
		for p := a.rowPtr[k]; p < a.rowPtr[k+1]; p++ {
			for i := a.cols[p]; i != -1 && i < k; {
				next := ancestor[i]
				ancestor[i] = k
				if next == -1 {
					parent[i] = k
				}
				i = next
			}
		}
	}
	return parent
}

// logDet returns log det A = 2·Σ log L(k,k).
func (ch *cholesky) logDet() dual.Number {
	var ld dual.Number
	for k := 0; k < ch.n; k++ {
		ld = dual.Add(ld, dual.Log(ch.vals[k][0]))
	}
	return dual.Scale(2, ld)
}

// solveT solves Lᵀu = z over the value parts of the factor. Column k of L
// holds exactly the entries of row k of Lᵀ, so back substitution walks
// each column once.
func (ch *cholesky) solveT(z []float64) []float64 {
	u := make([]float64, ch.n)
	for k := ch.n - 1; k >= 0; k-- {
		s := z[k]
		rows, vals := ch.rows[k], ch.vals[k]
		for q := 1; q < len(rows); q++ {
			s -= vals[q].Real * u[rows[q]]
		}
		u[k] = s / vals[0].Real
	}
	return u
}

package gmrf

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/dual"
)

const (
	dx  = 1e-8
	eps = 1e-4
)

// fromDense keeps the nonzero pattern of a, plus the diagonal.
func fromDense(a mat.Matrix) *Matrix {
	n, _ := a.Dims()
	rowPtr := make([]int, 1, n+1)
	var cols []int
	var vals []dual.Number
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if a.At(i, j) != 0 || i == j {
				cols = append(cols, j)
				vals = append(vals, dual.Number{Real: a.At(i, j)})
			}
		}
		rowPtr = append(rowPtr, len(cols))
	}
	return NewMatrix(n, rowPtr, cols, vals)
}

func randomSPD(n int, rnd *rand.Rand) *mat.SymDense {
	b := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			b.Set(i, j, rnd.NormFloat64())
		}
	}
	var btb mat.Dense
	btb.Mul(b.T(), b)
	a := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			a.SetSym(i, j, btb.At(i, j))
		}
		a.SetSym(i, i, btb.At(i, i)+float64(n))
	}
	return a
}

// arrowhead has a dense first row and column, the worst case for fill.
func arrowhead(n int) *mat.SymDense {
	a := mat.NewSymDense(n, nil)
	a.SetSym(0, 0, float64(n))
	for i := 1; i < n; i++ {
		a.SetSym(i, i, 2+float64(i))
		a.SetSym(0, i, 1)
	}
	return a
}

func TestLogDet(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 1))
	for _, n := range []int{1, 2, 5, 8} {
		for _, a := range []*mat.SymDense{randomSPD(n, rnd), arrowhead(n)} {
			var ch mat.Cholesky
			require.True(t, ch.Factorize(a))

			d, err := NewDensity(fromDense(a))
			require.NoError(t, err)
			require.InDelta(t, ch.LogDet(), d.LogDet().Real, 1e-8, "n=%d", n)
		}
	}
}

func TestQuad(t *testing.T) {
	rnd := rand.New(rand.NewPCG(2, 2))
	a := randomSPD(5, rnd)
	x := make([]float64, 5)
	xs := make([]dual.Number, 5)
	for i := range x {
		x[i] = rnd.NormFloat64()
		xs[i] = dual.Number{Real: x[i]}
	}

	xv := mat.NewVecDense(5, x)
	var ax mat.VecDense
	ax.MulVec(a, xv)
	want := mat.Dot(xv, &ax)

	require.InDelta(t, want, fromDense(a).Quad(xs).Real, 1e-10)
}

func TestNegLogProb(t *testing.T) {
	rnd := rand.New(rand.NewPCG(3, 3))
	for _, n := range []int{1, 3, 6} {
		a := randomSPD(n, rnd)
		var ch mat.Cholesky
		require.True(t, ch.Factorize(a))

		x := make([]float64, n)
		for i := range x {
			x[i] = rnd.NormFloat64()
		}
		scale := 0.7

		// ½(x/s)ᵀQ(x/s) − ½log|Q| + (m/2)log2π + m·log s, densely.
		z := mat.NewVecDense(n, nil)
		z.ScaleVec(1/scale, mat.NewVecDense(n, x))
		var az mat.VecDense
		az.MulVec(a, z)
		want := 0.5*mat.Dot(z, &az) - 0.5*ch.LogDet() +
			0.5*float64(n)*math.Log(2*math.Pi) + float64(n)*math.Log(scale)

		d, err := NewDensity(fromDense(a))
		require.NoError(t, err)

		xs := make([]dual.Number, n)
		neg := make([]dual.Number, n)
		for i := range x {
			xs[i] = dual.Number{Real: x[i]}
			neg[i] = dual.Number{Real: -x[i]}
		}
		s := dual.Number{Real: scale}
		got := d.NegLogProb(s, xs)
		require.InDelta(t, want, got.Real, 1e-8, "n=%d", n)

		// A mean-zero Gaussian density is symmetric.
		require.InDelta(t, got.Real, d.NegLogProb(s, neg).Real, 1e-12)
	}
}

func TestNotPositiveDefinite(t *testing.T) {
	a := mat.NewSymDense(2, []float64{1, 2, 2, 1})
	_, err := NewDensity(fromDense(a))
	require.ErrorIs(t, err, ErrNotPositiveDefinite)
}

// TestDerivative pushes a dual parameter through assembly, factorization,
// and density, and checks the propagated derivative against a finite
// difference.
func TestDerivative(t *testing.T) {
	a0 := []float64{
		4, 1, 0,
		1, 3, 1,
		0, 1, 2,
	}
	x := []float64{0.5, -0.2, 1}

	f := func(theta float64, seed float64) (float64, float64) {
		th := dual.Number{Real: theta, Emag: seed}
		e := dual.Exp(th)
		vals := make([]dual.Number, len(a0))
		for p, v := range a0 {
			vals[p] = dual.Number{Real: v}
			if p%4 == 0 { // diagonal of the 3×3 layout
				vals[p] = dual.Add(vals[p], e)
			}
		}
		q := NewMatrix(3,
			[]int{0, 3, 6, 9},
			[]int{0, 1, 2, 0, 1, 2, 0, 1, 2},
			vals)
		d, err := NewDensity(q)
		require.NoError(t, err)
		xs := make([]dual.Number, len(x))
		for i, v := range x {
			xs[i] = dual.Number{Real: v}
		}
		nll := d.NegLogProb(dual.Exp(dual.Scale(0.5, th)), xs)
		return nll.Real, nll.Emag
	}

	for _, theta := range []float64{-0.5, 0, 0.3} {
		v0, der := f(theta, 1)
		v1, _ := f(theta+dx, 0)
		dvdt := (v1 - v0) / dx
		if math.Abs(der-dvdt) > eps {
			t.Errorf("theta=%g: dv/dtheta mismatch: got %.8f, want %.4f",
				theta, dvdt, der)
		}
	}
}

func TestSolveT(t *testing.T) {
	// A = [[4,2],[2,3]] factors as L = [[2,0],[1,√2]]; Lᵀu = (4, 2√2)
	// has the solution u = (1, 2).
	a := mat.NewSymDense(2, []float64{4, 2, 2, 3})
	ch, err := factor(fromDense(a))
	require.NoError(t, err)
	u := ch.solveT([]float64{4, 2 * math.Sqrt2})
	require.InDelta(t, 1, u[0], 1e-12)
	require.InDelta(t, 2, u[1], 1e-12)
}

func TestSampleDeterministic(t *testing.T) {
	rnd := rand.New(rand.NewPCG(4, 4))
	a := randomSPD(4, rnd)
	d, err := NewDensity(fromDense(a))
	require.NoError(t, err)

	s1 := d.Sample(0.5, rand.New(rand.NewPCG(7, 7)))
	s2 := d.Sample(0.5, rand.New(rand.NewPCG(7, 7)))
	require.Len(t, s1, 4)
	for i := range s1 {
		require.False(t, math.IsNaN(s1[i]))
		require.Equal(t, s1[i], s2[i])
	}
}

func TestNewMatrixPanics(t *testing.T) {
	vals := []dual.Number{{Real: 1}}
	require.Panics(t, func() { // missing diagonal
		NewMatrix(2, []int{0, 1, 1}, []int{1}, vals)
	})
	require.Panics(t, func() { // pattern/value length mismatch
		NewMatrix(1, []int{0, 2}, []int{0, 0}, vals)
	})
}

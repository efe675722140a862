package spde

import (
	"math"
	"testing"

	"github.com/james-bowman/sparse"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/dual"
)

const (
	dx  = 1e-8
	eps = 1e-4
)

// testMatrices returns three 3×3 matrices with deliberately different
// patterns, so the operator must take their union.
func testMatrices() (m0, m1, m2 *sparse.DOK) {
	m0 = sparse.NewDOK(3, 3)
	m0.Set(0, 0, 1)
	m0.Set(1, 1, 2)
	m0.Set(2, 2, 3)

	m1 = sparse.NewDOK(3, 3)
	m1.Set(0, 0, 2)
	m1.Set(0, 1, -1)
	m1.Set(1, 0, -1)
	m1.Set(1, 1, 2)
	m1.Set(1, 2, -1)
	m1.Set(2, 1, -1)
	m1.Set(2, 2, 2)

	m2 = sparse.NewDOK(3, 3)
	m2.Set(0, 0, 5)
	m2.Set(0, 2, 1)
	m2.Set(2, 0, 1)
	m2.Set(1, 1, 4)
	m2.Set(2, 2, 6)
	return m0, m1, m2
}

func TestPrecision(t *testing.T) {
	m0, m1, m2 := testMatrices()
	op, err := NewOperator(m0, m1, m2)
	require.NoError(t, err)
	require.Equal(t, 3, op.Dim())

	for _, lnKappa := range []float64{-0.3, 0, 0.5} {
		q := op.Precision(dual.Number{Real: lnKappa, Emag: 1})
		e2 := math.Exp(2 * lnKappa)
		e4 := math.Exp(4 * lnKappa)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				want := e4*m0.At(i, j) + 2*e2*m1.At(i, j) + m2.At(i, j)
				got := q.At(i, j)
				require.InDelta(t, want, got.Real, 1e-12, "lnKappa=%g (%d,%d)", lnKappa, i, j)

				// dQ/dlnKappa = 4κ⁴·M0 + 4κ²·M1.
				dwant := 4*e4*m0.At(i, j) + 4*e2*m1.At(i, j)
				require.InDelta(t, dwant, got.Emag, 1e-12, "lnKappa=%g (%d,%d)", lnKappa, i, j)
			}
		}
	}
}

func TestPatternUnion(t *testing.T) {
	m0, m1, m2 := testMatrices()
	op, err := NewOperator(m0, m1, m2)
	require.NoError(t, err)
	// diag(3) ∪ tridiagonal(7) ∪ corners(2)
	require.Equal(t, 9, op.NNZ())
}

func TestDimensionMismatch(t *testing.T) {
	_, err := NewOperator(sparse.NewDOK(2, 2), sparse.NewDOK(3, 3), sparse.NewDOK(2, 2))
	require.Error(t, err)
	_, err = NewOperator(sparse.NewDOK(2, 3), sparse.NewDOK(2, 3), sparse.NewDOK(2, 3))
	require.Error(t, err)
}

func TestRangeIdentity(t *testing.T) {
	for _, lnKappa := range []float64{-2, -0.5, 0, 1, 3} {
		r := Range(dual.Number{Real: lnKappa})
		require.InEpsilon(t, math.Sqrt(8), r.Real*math.Exp(lnKappa), 1e-12)
	}
}

func TestSigmaIdentity(t *testing.T) {
	for _, lnTau := range []float64{-1, 0, 0.7} {
		for _, lnKappa := range []float64{-0.5, 0, 1} {
			s := MarginalSD(dual.Number{Real: lnTau}, dual.Number{Real: lnKappa})
			require.InEpsilon(t, 1,
				s.Real*s.Real*4*math.Pi*math.Exp(2*lnTau)*math.Exp(2*lnKappa),
				1e-12)
		}
	}
}

func TestDerivedDerivatives(t *testing.T) {
	for _, lnKappa := range []float64{-0.5, 0, 0.8} {
		r0 := Range(dual.Number{Real: lnKappa, Emag: 1})
		r1 := Range(dual.Number{Real: lnKappa + dx})
		if drdk := (r1.Real - r0.Real) / dx; math.Abs(r0.Emag-drdk) > eps {
			t.Errorf("lnKappa=%g: dRange mismatch: got %.8f, want %.4f",
				lnKappa, drdk, r0.Emag)
		}

		lnTau := 0.3
		s0 := MarginalSD(dual.Number{Real: lnTau, Emag: 1}, dual.Number{Real: lnKappa})
		s1 := MarginalSD(dual.Number{Real: lnTau + dx}, dual.Number{Real: lnKappa})
		if dsdt := (s1.Real - s0.Real) / dx; math.Abs(s0.Emag-dsdt) > eps {
			t.Errorf("lnKappa=%g: dSigma mismatch: got %.8f, want %.4f",
				lnKappa, dsdt, s0.Emag)
		}
	}
}

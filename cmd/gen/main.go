package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"os"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/dual"
	"gonum.org/v1/gonum/stat/distuv"

	"stgmrf/gmrf"
	"stgmrf/spde"
)

var (
	NODES   = 6
	TIMES   = 4
	BETA0   = 1.0
	LNTAUO  = 0.0
	LNTAUE  = 0.0
	LNKAPPA = 0.0
	MISSING = 0.0
	SEED    = uint64(0)
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			`Generate test data on a one-dimensional transect mesh. Invocation:
	%s  [OPTIONS] > COUNTS
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.IntVar(&NODES, "nodes", NODES, "mesh nodes")
	flag.IntVar(&TIMES, "times", TIMES, "time steps")
	flag.Float64Var(&BETA0, "beta0", BETA0, "intercept")
	flag.Float64Var(&LNTAUO, "lntauO", LNTAUO, "log precision scale, spatial field")
	flag.Float64Var(&LNTAUE, "lntauE", LNTAUE, "log precision scale, space-time field")
	flag.Float64Var(&LNKAPPA, "lnkappa", LNKAPPA, "log decorrelation rate")
	flag.Float64Var(&MISSING, "missing", MISSING, "fraction of counts to drop")
	flag.Uint64Var(&SEED, "seed", SEED, "random seed")
}

func main() {
	flag.Parse()

	m0, m1, m2 := transect(NODES)
	op, err := spde.NewOperator(m0, m1, m2)
	if err != nil {
		panic(err)
	}
	den, err := gmrf.NewDensity(op.Precision(dual.Number{Real: LNKAPPA}))
	if err != nil {
		panic(err)
	}

	lnKappa := dual.Number{Real: LNKAPPA}
	fmt.Fprintf(os.Stderr, "range %f, sigmaO %f, sigmaE %f\n",
		spde.Range(lnKappa).Real,
		spde.MarginalSD(dual.Number{Real: LNTAUO}, lnKappa).Real,
		spde.MarginalSD(dual.Number{Real: LNTAUE}, lnKappa).Real)

	src := rand.NewPCG(SEED, SEED)
	rnd := rand.New(src)
	omega := den.Sample(1/math.Exp(LNTAUO), rnd)
	scaleE := 1 / math.Exp(LNTAUE)
	for t := 0; t < TIMES; t++ {
		eps := den.Sample(scaleE, rnd)
		for s := 0; s < NODES; s++ {
			if rnd.Float64() < MISSING {
				fmt.Printf("%d,%d,\n", s, t)
				continue
			}
			pois := distuv.Poisson{
				Lambda: math.Exp(BETA0 + omega[s] + eps[s]),
				Src:    src,
			}
			fmt.Printf("%d,%d,%d\n", s, t, int(pois.Rand()))
		}
	}
}

// transect returns the finite-element matrices of a one-dimensional mesh
// with n unit-spaced nodes, matching the selfcheck mesh of the fit tool.
func transect(n int) (m0, m1, m2 *sparse.CSR) {
	c := make([]float64, n)
	k := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		c[i] = 1
		k.Set(i, i, 2)
		if i == 0 || i == n-1 {
			c[i] = 0.5
			k.Set(i, i, 1)
		}
		if i > 0 {
			k.Set(i, i-1, -1)
		}
		if i < n-1 {
			k.Set(i, i+1, -1)
		}
	}
	kcInv := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			kcInv.Set(i, j, k.At(i, j)/c[j])
		}
	}
	kck := mat.NewDense(n, n, nil)
	kck.Mul(kcInv, k)

	dok0 := sparse.NewDOK(n, n)
	dok1 := sparse.NewDOK(n, n)
	dok2 := sparse.NewDOK(n, n)
	for i := 0; i < n; i++ {
		dok0.Set(i, i, c[i])
		for j := 0; j < n; j++ {
			if v := k.At(i, j); v != 0 {
				dok1.Set(i, j, v)
			}
			if v := kck.At(i, j); v != 0 {
				dok2.Set(i, j, v)
			}
		}
	}
	return dok0.ToCSR(), dok1.ToCSR(), dok2.ToCSR()
}

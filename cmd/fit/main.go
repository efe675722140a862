package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"bitbucket.org/dtolpin/infergo/infer"
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"stgmrf/model"
	"stgmrf/spde"
)

var (
	M0FILE   = ""
	M1FILE   = ""
	M2FILE   = ""
	AREAFILE = ""
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			`Fits the spatio-temporal count model. Invocation:
  %s [OPTIONS] -m0 M0.csv -m1 M1.csv -m2 M2.csv < COUNTS > OUTPUT
or
  %s [OPTIONS] selfcheck
COUNTS holds site,time,count records, an empty count meaning missing.
The matrix files hold i,j,value triplets of the finite-element matrices.
In 'selfcheck' mode, a mesh and data hard-coded into the program are
used, to demonstrate basic functionality.
`, os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&M0FILE, "m0", M0FILE, "mass matrix triplets")
	flag.StringVar(&M1FILE, "m1", M1FILE, "stiffness matrix triplets")
	flag.StringVar(&M2FILE, "m2", M2FILE, "second-order matrix triplets")
	flag.StringVar(&AREAFILE, "area", AREAFILE, "per-node area weights, one per line")
}

func main() {
	var (
		input  io.Reader = os.Stdin
		output io.Writer = os.Stdout
	)

	flag.Parse()
	var (
		m0, m1, m2 *sparse.CSR
		err        error
	)
	switch {
	case flag.NArg() == 0:
		m0, m1, m2, err = loadMatrices(M0FILE, M1FILE, M2FILE)
		if err != nil {
			log.Fatal(err)
		}
	case flag.NArg() == 1 && flag.Arg(0) == "selfcheck":
		m0, m1, m2 = transect(selfCheckNodes)
		input = strings.NewReader(selfCheckData)
	default:
		flag.Usage()
		os.Exit(1)
	}

	fmt.Fprint(os.Stderr, "loading...")
	counts, site, times, nt, err := load(input)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Fprintln(os.Stderr, "done")

	op, err := spde.NewOperator(m0, m1, m2)
	if err != nil {
		log.Fatal(err)
	}
	area, err := loadArea(AREAFILE, op.Dim())
	if err != nil {
		log.Fatal(err)
	}
	m, err := model.New(op, nt, area, counts, site, times)
	if err != nil {
		log.Fatal(err)
	}

	// Start at zero fields; the observed mean sets the intercept.
	x := make([]float64, m.Dim())
	var observed []float64
	for _, c := range counts {
		if c.Valid {
			observed = append(observed, c.Value)
		}
	}
	x[model.Beta0] = math.Log(math.Max(stat.Mean(observed, nil), 0.1))

	fmt.Fprintln(os.Stderr, "fitting...")
	Func, Grad := infer.FuncGrad(m)
	p := optimize.Problem{Func: Func, Grad: Grad}

	nll0 := m.Observe(x)
	result, err := optimize.Minimize(
		p, x, &optimize.Settings{
			MajorIterations:   0,
			GradientThreshold: 0,
			Concurrent:        0,
		}, nil)
	// The optimizer need not `officially' converge, most of the
	// improvement comes in the first iterations; but a failure on the
	// very first one means the fit went nowhere and should be reported.
	if err != nil && result.Stats.MajorIterations == 1 {
		fmt.Fprintf(os.Stderr, "Failed to optimize: %v\n", err)
	}
	x = result.X
	fmt.Fprintln(os.Stderr, "done")

	rep, err := m.Report(x)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Fprintf(output, "nll,%f,%f\n", nll0, rep.Total)
	fmt.Fprintf(output, "components,%f,%f,%f\n", rep.Data, rep.Spatial, rep.SpaceTime)
	fmt.Fprintf(output, "beta0,%f\n", x[model.Beta0])
	fmt.Fprintf(output, "range,%f\n", rep.Range.Value)
	fmt.Fprintf(output, "sigmaO,%f\n", rep.SigmaO.Value)
	fmt.Fprintf(output, "sigmaE,%f\n", rep.SigmaE.Value)
	ns, _ := rep.LogIntensity.Dims()
	for s := 0; s < ns; s++ {
		fmt.Fprintf(output, "logd,%d", s)
		for t := 0; t < nt; t++ {
			fmt.Fprintf(output, ",%f", rep.LogIntensity.At(s, t))
		}
		fmt.Fprintln(output)
	}
}

// load parses site,time,count records. An empty or NA count field is a
// missing observation; the number of time steps is one past the largest
// time index seen.
func load(rdr io.Reader) (
	counts []model.Count,
	site, times []int,
	nt int,
	err error,
) {
	csv := csv.NewReader(rdr)
	csv.FieldsPerRecord = 3
RECORDS:
	for {
		record, err := csv.Read()
		switch err {
		case nil:
			s, err := strconv.Atoi(record[0])
			if err != nil {
				return counts, site, times, nt, err
			}
			t, err := strconv.Atoi(record[1])
			if err != nil {
				return counts, site, times, nt, err
			}
			switch strings.TrimSpace(record[2]) {
			case "", "NA":
				counts = append(counts, model.Missing())
			default:
				c, err := strconv.ParseFloat(record[2], 64)
				if err != nil {
					return counts, site, times, nt, err
				}
				counts = append(counts, model.Observed(c))
			}
			site = append(site, s)
			times = append(times, t)
			if t+1 > nt {
				nt = t + 1
			}
		case io.EOF:
			break RECORDS
		default:
			return counts, site, times, nt, err
		}
	}

	return counts, site, times, nt, err
}

type triplet struct {
	i, j int
	v    float64
}

// loadMatrices reads the three finite-element matrices from triplet
// files. The common dimension is one past the largest index in any file.
func loadMatrices(p0, p1, p2 string) (m0, m1, m2 *sparse.CSR, err error) {
	if p0 == "" || p1 == "" || p2 == "" {
		return nil, nil, nil, fmt.Errorf("all of -m0, -m1, -m2 are required")
	}
	var ts [3][]triplet
	n := 0
	for k, p := range []string{p0, p1, p2} {
		ts[k], err = readTriplets(p)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, t := range ts[k] {
			if t.i+1 > n {
				n = t.i + 1
			}
			if t.j+1 > n {
				n = t.j + 1
			}
		}
	}
	return buildCSR(ts[0], n), buildCSR(ts[1], n), buildCSR(ts[2], n), nil
}

func readTriplets(path string) ([]triplet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	csv := csv.NewReader(f)
	csv.FieldsPerRecord = 3
	var ts []triplet
	for {
		record, err := csv.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		i, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, err
		}
		j, err := strconv.Atoi(record[1])
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, err
		}
		ts = append(ts, triplet{i, j, v})
	}
	return ts, nil
}

func buildCSR(ts []triplet, n int) *sparse.CSR {
	dok := sparse.NewDOK(n, n)
	for _, t := range ts {
		dok.Set(t.i, t.j, t.v)
	}
	return dok.ToCSR()
}

// loadArea reads one weight per line, or returns unit weights when no
// file is given.
func loadArea(path string, n int) ([]float64, error) {
	area := make([]float64, n)
	if path == "" {
		for i := range area {
			area[i] = 1
		}
		return area, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	csv := csv.NewReader(f)
	csv.FieldsPerRecord = 1
	for i := 0; ; i++ {
		record, err := csv.Read()
		if err == io.EOF {
			if i != n {
				return nil, fmt.Errorf("%s: %d weights for %d nodes", path, i, n)
			}
			return area, nil
		}
		if err != nil {
			return nil, err
		}
		if i >= n {
			return nil, fmt.Errorf("%s: more than %d weights", path, n)
		}
		area[i], err = strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, err
		}
	}
}

const selfCheckNodes = 6

// transect returns the finite-element matrices of a one-dimensional mesh
// with n unit-spaced nodes: the lumped mass matrix C, the stiffness
// matrix K, and K·C⁻¹·K. It stands in for externally meshed inputs in
// selfcheck mode.
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

var selfCheckData = `0,0,4
1,0,2
2,0,3
3,0,1
4,0,2
5,0,5
0,1,6
1,1,
2,1,2
3,1,0
4,1,3
5,1,4
0,2,3
1,2,2
2,2,4
3,2,2
4,2,
5,2,6
0,3,5
1,3,1
2,3,2
3,3,0
4,3,1
5,3,7
`

package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/num/dual"

	"stgmrf/dist"
)

var (
	COMMA = ","
	SKIP  = 0
	JC    = 2
	JL    = 3
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			`Computes average negative log predictive density of held-out
counts under a fitted log-intensity surface. Invocation:
	%s  [OPTIONS]
Input records are site,time,count,log_intensity; missing counts are
skipped.
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&COMMA, "comma", COMMA, "field separator")
	flag.IntVar(&SKIP, "s", SKIP, "initial records to skip")
	flag.IntVar(&JC, "jc", JC, "index of the count field")
	flag.IntVar(&JL, "jl", JL, "index of the log-intensity field")
}

// negative log predictive density of a count under the fitted intensity
func nlpd(c, logd float64) float64 {
	return -dist.Poisson.Logp(dual.Number{Real: logd}, c).Real
}

func main() {
	flag.Parse()

	rdr := csv.NewReader(os.Stdin)
	rdr.Comma = rune(COMMA[0])

	rdr.Read() // skip the header
	sum := 0.
	n := 0
	held := 0
	for ; ; n++ {
		record, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		if n < SKIP {
			continue
		}

		field := strings.TrimSpace(record[JC])
		if field == "" || field == "NA" {
			continue
		}
		c, _ := strconv.ParseFloat(field, 64)
		logd, _ := strconv.ParseFloat(record[JL], 64)
		sum += nlpd(c, logd)
		held++
	}
	fmt.Printf("%f\n", sum/float64(held))
}

// Package dist holds the observation families of the model, shaped like
// infergo's dist package: a family is a zero-size value with log-density
// methods, used directly inside likelihood code. Arguments are gonum dual
// numbers so the data term is differentiable.
package dist

import (
	"math"

	"gonum.org/v1/gonum/num/dual"
)

type poisson struct{}

// Poisson is the Poisson family parameterized by the log of its mean, so
// the intensity is positive for any real log-mean without bound checks.
var Poisson poisson

// Logp returns log P(k) under a Poisson with mean exp(logMean),
//
//	k·logMean − exp(logMean) − log k!.
//
// The count k is data; only the log-mean carries derivative information.
func (poisson) Logp(logMean dual.Number, k float64) dual.Number {
	lg, _ := math.Lgamma(k + 1)
	ll := dual.Sub(dual.Scale(k, logMean), dual.Exp(logMean))
	return dual.Sub(ll, dual.Number{Real: lg})
}

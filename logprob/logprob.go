// Package logprob provides the log-space numeric primitives the inference
// models are built on: Phred-scaled qualities, log-probability vectors, and
// normalization helpers.  All probability mass handled by the callers stays
// in natural-log space until rendered into output records.
package logprob

import (
	"math"

	"github.com/grailbio/base/log"
	"gonum.org/v1/gonum/floats"
)

// Phred is a probability rendered as -10*log10(p).  The underlying
// probability p always satisfies 0 < p <= 1.
type Phred float64

// PhredFromProbability converts a probability to a Phred score.  p is clamped
// to (minProbability, 1].
func PhredFromProbability(p float64) Phred {
	if p > 1 {
		p = 1
	}
	if p < minProbability {
		p = minProbability
	}
	return Phred(-10 * math.Log10(p))
}

// PhredFromLogProbability converts a natural-log probability.
func PhredFromLogProbability(lnP float64) Phred {
	if lnP > 0 {
		lnP = 0
	}
	q := Phred(-10 * lnP / math.Ln10)
	if q > maxPhred {
		return maxPhred
	}
	return q
}

// Probability returns the underlying probability.
func (q Phred) Probability() float64 { return math.Pow(10, -float64(q)/10) }

// LogProbability returns the natural log of the underlying probability.
func (q Phred) LogProbability() float64 { return -float64(q) / 10 * math.Ln10 }

const (
	minProbability = 1e-300
	maxPhred       = Phred(3000)
	// normTolerance is the allowed drift of a normalized log-probability
	// vector from summing to one.
	normTolerance = 1e-10
)

// LogSumExp returns ln(sum(exp(xs))) without leaving log space.
func LogSumExp(xs []float64) float64 { return floats.LogSumExp(xs) }

// NormalizeLog shifts xs in place so that exp(xs) sums to one, and returns
// the shift (the log normalizing constant).  A vector whose mass underflows
// entirely is an internal invariant violation.
func NormalizeLog(xs []float64) float64 {
	z := floats.LogSumExp(xs)
	if math.IsNaN(z) || math.IsInf(z, -1) {
		log.Panicf("logprob: cannot normalize vector with no mass (z=%v)", z)
	}
	for i := range xs {
		xs[i] -= z
	}
	return z
}

// CheckNormalizedLog panics unless exp(xs) sums to 1 within tolerance.
func CheckNormalizedLog(xs []float64) {
	z := floats.LogSumExp(xs)
	if math.Abs(z) > normTolerance {
		log.Panicf("logprob: vector drifted from normalization by %v", z)
	}
}

// ExpNormalized exponentiates a normalized log vector into probabilities.
func ExpNormalized(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Exp(x)
	}
	return out
}

// AlmostEqual reports whether a and b agree to within a relative tolerance.
// It is the tie test used when selecting MAP haplotypes.
func AlmostEqual(a, b float64) bool {
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return diff <= 1e-9*scale
}

// MaxIndex returns the index of the largest element.
func MaxIndex(xs []float64) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}

// UniformLog returns a log vector placing 1/n on each of n entries.
func UniformLog(n int) []float64 {
	out := make([]float64, n)
	v := -math.Log(float64(n))
	for i := range out {
		out[i] = v
	}
	return out
}

// AddTo adds src element-wise into dst.
func AddTo(dst, src []float64) {
	for i, x := range src {
		dst[i] += x
	}
}

package model

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mathext"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/hmm"
	"github.com/grailbio/varcall/logprob"
	"github.com/grailbio/varcall/prior"
)

func logOf(x float64) float64 { return math.Log(x) }

// DirichletExpectation returns the mean of a Dirichlet distribution.
func DirichletExpectation(alpha []float64) []float64 {
	sum := floats.Sum(alpha)
	out := make([]float64, len(alpha))
	for i, a := range alpha {
		out[i] = a / sum
	}
	return out
}

// dirichletLogExpectation returns E[ln pi_k] for each component of
// Dir(alpha).
func dirichletLogExpectation(alpha []float64) []float64 {
	sum := floats.Sum(alpha)
	d := mathext.Digamma(sum)
	out := make([]float64, len(alpha))
	for i, a := range alpha {
		out[i] = mathext.Digamma(a) - d
	}
	return out
}

// SubclonePriors parameterize the subclone model.
type SubclonePriors struct {
	Genotype *prior.CancerModel
	// Alphas gives each sample's Dirichlet concentration over the cancer
	// genotype's haplotype slots (germline slots then somatic slots).
	Alphas map[string][]float64
}

// Subclone is the somatic model: per-sample Dirichlet-distributed mixtures
// over the cancer genotype's haplotypes, inferred by variational Bayes with
// multiple seeded restarts.
type Subclone struct {
	Priors SubclonePriors
	// MaxSeeds bounds VB restarts; DefaultMaxSeeds if zero.
	MaxSeeds int
	// MaxIterations bounds VB iterations per restart.
	MaxIterations int
	// Tolerance is the ELBO-change convergence threshold.
	Tolerance float64
}

// Defaults for the VB driver.
const (
	DefaultMaxSeeds      = 12
	DefaultMaxIterations = 100
	DefaultTolerance     = 1e-4
)

// SubcloneInference is the subclone model's output.
type SubcloneInference struct {
	// GenotypeLogPosteriors is the normalized posterior over the cancer
	// genotype list.
	GenotypeLogPosteriors []float64
	// PosteriorAlphas are the per-sample Dirichlet posteriors.
	PosteriorAlphas map[string][]float64
	// ApproxLogEvidence is the best restart's evidence lower bound.
	ApproxLogEvidence float64
	// Converged reports whether the best restart met the tolerance.
	Converged bool
}

// Evaluate runs seeded VB over the cancer genotype list.  The context is
// polled between VB iterations; on cancellation the best state so far is
// returned.
func (m Subclone) Evaluate(ctx context.Context, genotypes []genome.CancerGenotype, indices, germlineIndices [][]int,
	array *hmm.LikelihoodArray) SubcloneInference {
	samples := array.Samples()
	logPriors := make([]float64, len(genotypes))
	for i, g := range genotypes {
		logPriors[i] = m.Priors.Genotype.LogPrior(g)
	}
	maxSeeds := m.MaxSeeds
	if maxSeeds <= 0 {
		maxSeeds = DefaultMaxSeeds
	}
	seeds := GenerateSeeds(SeedInputs{
		Samples:         samples,
		Indices:         indices,
		GermlineIndices: germlineIndices,
		LogPriors:       logPriors,
		Alphas:          m.Priors.Alphas,
		Array:           array,
	}, maxSeeds, nil)

	best := SubcloneInference{ApproxLogEvidence: math.Inf(-1)}
	for _, seed := range seeds {
		inf := m.runVB(ctx, seed, logPriors, indices, samples, array)
		if inf.ApproxLogEvidence > best.ApproxLogEvidence {
			best = inf
		}
		if ctx.Err() != nil {
			break
		}
	}
	return best
}

// runVB alternates mixture updates (Dirichlet posteriors given genotype
// responsibilities) and genotype updates (posteriors given expected log
// mixtures) until the ELBO change drops below tolerance.
func (m Subclone) runVB(ctx context.Context, seed, logPriors []float64, indices [][]int, samples []string,
	array *hmm.LikelihoodArray) SubcloneInference {
	maxIter := m.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	tol := m.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}

	q := append([]float64(nil), seed...)
	logprob.NormalizeLog(q)
	alphas := make(map[string][]float64, len(samples))
	for _, s := range samples {
		alphas[s] = append([]float64(nil), m.Priors.Alphas[s]...)
	}

	prevELBO := math.Inf(-1)
	converged := false
	var elbo float64
	for iter := 0; iter < maxIter; iter++ {
		if ctx.Err() != nil {
			break
		}
		// (a) Update mixture posteriors given genotype responsibilities,
		// using the current variational expectations of ln pi.
		for _, s := range samples {
			alphas[s] = m.updateAlpha(s, q, dirichletLogExpectation(alphas[s]), indices, array)
		}
		// (b) Update genotype posteriors given fixed expected mixtures.
		expected := make(map[string][]float64, len(samples))
		for _, s := range samples {
			expected[s] = dirichletLogExpectation(alphas[s])
		}
		next := append([]float64(nil), logPriors...)
		for _, s := range samples {
			array.Prime(s)
			reads := array.NumReads()
			eln := expected[s]
			for gi, idx := range indices {
				next[gi] += mixtureReadLogLikelihood(array, idx, eln[:len(idx)], reads)
			}
		}
		logprob.NormalizeLog(next)
		q = next

		elbo = m.elbo(q, logPriors, indices, samples, alphas, expected, array)
		if math.Abs(elbo-prevELBO) < tol {
			converged = true
			break
		}
		prevELBO = elbo
	}
	return SubcloneInference{
		GenotypeLogPosteriors: q,
		PosteriorAlphas:       alphas,
		ApproxLogEvidence:     elbo,
		Converged:             converged,
	}
}

// mixtureReadLogLikelihood is the expected read log likelihood of one
// genotype under E[ln pi].
func mixtureReadLogLikelihood(array *hmm.LikelihoodArray, idx []int, elnPi []float64, numReads int) float64 {
	rows := make([][]float64, len(idx))
	for k, h := range idx {
		rows[k] = array.Likelihoods(h)
	}
	total := 0.0
	buf := make([]float64, len(idx))
	for r := 0; r < numReads; r++ {
		for k := range rows {
			buf[k] = elnPi[k] + rows[k][r]
		}
		total += floats.LogSumExp(buf)
	}
	return total
}

// updateAlpha accumulates expected per-slot read responsibilities into the
// Dirichlet prior.
func (m Subclone) updateAlpha(sample string, q, eln []float64, indices [][]int, array *hmm.LikelihoodArray) []float64 {
	out := append([]float64(nil), m.Priors.Alphas[sample]...)
	array.Prime(sample)
	numReads := array.NumReads()
	probs := logprob.ExpNormalized(q)
	buf := make([]float64, 0, 8)
	for gi, idx := range indices {
		w := probs[gi]
		if w < 1e-12 {
			continue
		}
		rows := make([][]float64, len(idx))
		for k, h := range idx {
			rows[k] = array.Likelihoods(h)
		}
		for r := 0; r < numReads; r++ {
			buf = buf[:0]
			for k := range rows {
				buf = append(buf, eln[k]+rows[k][r])
			}
			z := floats.LogSumExp(buf)
			for k := range buf {
				out[k] += w * math.Exp(buf[k]-z)
			}
		}
	}
	return out
}

// elbo is the evidence lower bound up to constants: expected log joint minus
// entropy terms, including the Dirichlet KL.
func (m Subclone) elbo(q, logPriors []float64, indices [][]int, samples []string,
	alphas map[string][]float64, expected map[string][]float64, array *hmm.LikelihoodArray) float64 {
	probs := logprob.ExpNormalized(q)
	total := 0.0
	for gi := range q {
		if probs[gi] < 1e-12 {
			continue
		}
		term := logPriors[gi]
		for _, s := range samples {
			array.Prime(s)
			term += mixtureReadLogLikelihood(array, indices[gi], expected[s][:len(indices[gi])], array.NumReads())
		}
		total += probs[gi] * (term - q[gi])
	}
	for _, s := range samples {
		total -= dirichletKL(alphas[s], m.Priors.Alphas[s])
	}
	return total
}

// dirichletKL is KL(Dir(alpha) || Dir(alpha0)).
func dirichletKL(alpha, alpha0 []float64) float64 {
	sum, sum0 := floats.Sum(alpha), floats.Sum(alpha0)
	lg := func(x float64) float64 {
		v, _ := math.Lgamma(x)
		return v
	}
	out := lg(sum) - lg(sum0)
	for i := range alpha {
		out += lg(alpha0[i]) - lg(alpha[i])
		out += (alpha[i] - alpha0[i]) * (mathext.Digamma(alpha[i]) - mathext.Digamma(sum))
	}
	return out
}

// UniformAlphas builds per-sample symmetric Dirichlet priors: concentration
// for germline slots, somaticConcentration for somatic ones.  Somatic slots
// get a small concentration so low-fraction subclones are plausible a priori.
func UniformAlphas(samples []string, germlineSlots, somaticSlots int, germline, somatic float64) map[string][]float64 {
	out := make(map[string][]float64, len(samples))
	for _, s := range samples {
		row := make([]float64, germlineSlots+somaticSlots)
		for i := 0; i < germlineSlots; i++ {
			row[i] = germline
		}
		for i := germlineSlots; i < len(row); i++ {
			row[i] = somatic
		}
		out[s] = row
	}
	return out
}

package model

import (
	"sort"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/hmm"
	"github.com/grailbio/varcall/logprob"
)

// Seed probabilities: a point seed concentrates pointMass on one genotype; a
// range seed spreads rangeMass uniformly over a contiguous range.
const (
	pointMass = 0.9999
	rangeMass = 0.9999999
)

// MakePointSeed returns a normalized log vector placing pointMass on idx.
func MakePointSeed(n, idx int) []float64 {
	return makePointSeed(n, idx, pointMass)
}

func makePointSeed(n, idx int, p float64) []float64 {
	out := make([]float64, n)
	if n == 1 {
		return out
	}
	lnRest := logOf((1 - p) / float64(n-1))
	for i := range out {
		out[i] = lnRest
	}
	out[idx] = logOf(p)
	return out
}

// MakeRangeSeed spreads rangeMass uniformly over [begin, begin+count).  It is
// the extension point for germline-sharing range seeds; the active schedule
// does not emit it.
func MakeRangeSeed(n, begin, count int) []float64 {
	out := make([]float64, n)
	if count >= n {
		return logprob.UniformLog(n)
	}
	lnIn := logOf(rangeMass / float64(count))
	lnOut := logOf((1 - rangeMass) / float64(n-count))
	for i := range out {
		if i >= begin && i < begin+count {
			out[i] = lnIn
		} else {
			out[i] = lnOut
		}
	}
	return out
}

// MakeRangeSeedForGermline spreads mass over the contiguous run of genotypes
// sharing the given germline.  The genotype list must be grouped by germline.
func MakeRangeSeedForGermline(genotypes []genome.CancerGenotype, germline genome.Genotype) []float64 {
	key := germline.Key()
	begin := -1
	count := 0
	for i, g := range genotypes {
		if g.Germline.Key() == key {
			if begin < 0 {
				begin = i
			}
			count++
		} else if begin >= 0 {
			break
		}
	}
	if begin < 0 {
		return logprob.UniformLog(len(genotypes))
	}
	return MakeRangeSeed(len(genotypes), begin, count)
}

// SeedInputs carries the per-sample quantities the seed schedule combines.
type SeedInputs struct {
	Samples []string
	// Indices and GermlineIndices map each cancer genotype to haplotype rows
	// (full genotype and germline component respectively).
	Indices         [][]int
	GermlineIndices [][]int
	// LogPriors is the unnormalized genotype log prior vector.
	LogPriors []float64
	// Alphas are the per-sample Dirichlet prior parameters over genotype
	// haplotype slots.
	Alphas map[string][]float64
	Array  *hmm.LikelihoodArray
}

// GenerateSeeds produces initial responsibility vectors for the subclone VB
// restarts, following the pinned schedule: exhaustive point seeds when the
// genotype count fits the budget, otherwise (1) prior-mixture posterior,
// (2) normal-model posterior, (3) prior-mixture likelihood, (4) normal
// likelihood, (5) combined posterior, (6) combined likelihood, (7) germline-
// only posterior, (8) raw prior, then point seeds for the genotypes ranked
// top by the prior-mixture posterior until the budget is exhausted.
func GenerateSeeds(in SeedInputs, maxSeeds int, hints [][]float64) [][]float64 {
	n := len(in.Indices)
	if n <= maxSeeds {
		out := make([][]float64, n)
		for i := range out {
			out[i] = MakePointSeed(n, i)
		}
		return out
	}
	out := hints
	if len(out) >= maxSeeds {
		return out[:maxSeeds]
	}
	push := func(seed []float64) bool {
		out = append(out, seed)
		return len(out) >= maxSeeds
	}

	priorMixtureLL := addAllAndNormalize(in.sampleMixtureLikelihoods())
	priorMixturePost := addAndNormalize(in.LogPriors, priorMixtureLL)
	if push(priorMixturePost) { // 1
		return out
	}
	normalLL := addAllAndNormalize(in.sampleNormalLikelihoods())
	normalPost := addAndNormalize(in.LogPriors, normalLL)
	if push(normalPost) { // 2
		return out
	}
	if push(priorMixtureLL) { // 3
		return out
	}
	if push(normalLL) { // 4
		return out
	}
	combinedLL := addAndNormalize(priorMixtureLL, normalLL)
	if push(addAndNormalize(in.LogPriors, combinedLL)) { // 5
		return out
	}
	if push(combinedLL) { // 6
		return out
	}
	if push(addAllAndNormalize(in.sampleGermlineLikelihoods())) { // 7
		return out
	}
	rawPrior := append([]float64(nil), in.LogPriors...)
	logprob.NormalizeLog(rawPrior)
	if push(rawPrior) { // 8
		return out
	}
	// 9: point seeds for the top-ranked genotypes by prior-mixture posterior.
	ranked := make([]int, n)
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return priorMixturePost[ranked[a]] > priorMixturePost[ranked[b]]
	})
	for _, idx := range ranked {
		if push(MakePointSeed(n, idx)) {
			return out
		}
	}
	return out
}

// sampleMixtureLikelihoods scores every genotype per sample under the
// variable-mixture model with mixtures fixed at the Dirichlet prior mean.
func (in SeedInputs) sampleMixtureLikelihoods() [][]float64 {
	vm := NewVariableMixtureModel(in.Array)
	out := make([][]float64, 0, len(in.Samples))
	for _, sample := range in.Samples {
		in.Array.Prime(sample)
		vm.SetMixtures(DirichletExpectation(in.Alphas[sample]))
		row := make([]float64, len(in.Indices))
		for gi, idx := range in.Indices {
			row[gi] = vm.Evaluate(idx)
		}
		out = append(out, row)
	}
	return out
}

// sampleNormalLikelihoods scores every genotype per sample under the
// constant-mixture (normal germline) model.
func (in SeedInputs) sampleNormalLikelihoods() [][]float64 {
	cm := NewConstantMixtureModel(in.Array)
	out := make([][]float64, 0, len(in.Samples))
	for _, sample := range in.Samples {
		in.Array.Prime(sample)
		row := make([]float64, len(in.Indices))
		for gi, idx := range in.Indices {
			row[gi] = cm.Evaluate(idx)
		}
		out = append(out, row)
	}
	return out
}

// sampleGermlineLikelihoods scores the germline component only, caching by
// germline haplotype-index signature since many cancer genotypes share one.
func (in SeedInputs) sampleGermlineLikelihoods() [][]float64 {
	cm := NewConstantMixtureModel(in.Array)
	out := make([][]float64, 0, len(in.Samples))
	for _, sample := range in.Samples {
		in.Array.Prime(sample)
		cache := make(map[string]float64, len(in.GermlineIndices))
		row := make([]float64, len(in.GermlineIndices))
		for gi, idx := range in.GermlineIndices {
			key := indexKey(idx)
			v, ok := cache[key]
			if !ok {
				v = cm.Evaluate(idx)
				cache[key] = v
			}
			row[gi] = v
		}
		out = append(out, row)
	}
	return out
}

func indexKey(idx []int) string {
	b := make([]byte, 0, len(idx)*3)
	for _, i := range idx {
		b = append(b, byte(i), byte(i>>8), ',')
	}
	return string(b)
}

func addAllAndNormalize(rows [][]float64) []float64 {
	out := append([]float64(nil), rows[0]...)
	for _, row := range rows[1:] {
		logprob.AddTo(out, row)
	}
	logprob.NormalizeLog(out)
	return out
}

func addAndNormalize(a, b []float64) []float64 {
	out := append([]float64(nil), a...)
	logprob.AddTo(out, b)
	logprob.NormalizeLog(out)
	return out
}

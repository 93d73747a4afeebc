package model

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/hmm"
	"github.com/grailbio/varcall/logprob"
	"github.com/grailbio/varcall/prior"
)

// Phylogeny is one candidate clone tree: node 0 is the founder; Parent[i]
// gives the parent node of clone i (Parent[0] is -1).  CloneGenotypes indexes
// into the genotype list the model was evaluated with.
type Phylogeny struct {
	CloneGenotypes []int
	Parent         []int
}

// Cell models a phylogeny over single cells, each cell a mixture of a small
// number of clones, with allele dropout.  Inference is variational over
// (tree, clone genotypes, per-cell clone responsibilities), restarted over
// candidate phylogenies.
type Cell struct {
	Prior  prior.GenotypeModel
	DeNovo *prior.DeNovoModel
	// MaxClones bounds the clone count per phylogeny.
	MaxClones int
	// MaxVBSeeds bounds how many founder genotypes phylogenies grow from.
	MaxVBSeeds int
	// DropoutConcentration parameterizes the Beta(1, concentration) prior on
	// per-haplotype dropout; its mean 1/(1+concentration) weights the
	// dropout mixture component.
	DropoutConcentration float64
	// NormalSamples are pinned to the founder (non-mutated) clone.
	NormalSamples []string
	MaxIterations int
	Tolerance     float64
}

// Cell model defaults.
const (
	DefaultMaxClones            = 3
	DefaultMaxCellVBSeeds       = 8
	DefaultDropoutConcentration = 100.0
)

// CellInference is the cell model's output.
type CellInference struct {
	Phylogenies            []Phylogeny
	PhylogenyLogPosteriors []float64
	// CloneResponsibilities[p][sample] is q(clone) for each sample under
	// phylogeny p.
	CloneResponsibilities []map[string][]float64
	// SampleGenotypeLogPosteriors marginalizes clone assignment over
	// phylogenies into a per-sample posterior over the input genotype list.
	SampleGenotypeLogPosteriors map[string][]float64
	ApproxLogEvidence           float64
}

// Evaluate runs phylogeny-marginal inference over the genotype list.  The
// context is polled between phylogeny evaluations.
func (m Cell) Evaluate(ctx context.Context, genotypes []genome.Genotype, indices [][]int, array *hmm.LikelihoodArray) CellInference {
	samples := array.Samples()
	maxClones := m.MaxClones
	if maxClones <= 0 {
		maxClones = DefaultMaxClones
	}
	seeds := m.MaxVBSeeds
	if seeds <= 0 {
		seeds = DefaultMaxCellVBSeeds
	}

	// Candidate clone genotypes: the top seeds by pooled single-sample score.
	pooled := m.pooledScores(genotypes, indices, array)
	ranked := make([]int, len(genotypes))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool { return pooled[ranked[a]] > pooled[ranked[b]] })
	if len(ranked) > seeds {
		ranked = ranked[:seeds]
	}

	phylogenies := enumeratePhylogenies(ranked, maxClones)
	normal := make(map[string]bool, len(m.NormalSamples))
	for _, s := range m.NormalSamples {
		normal[s] = true
	}

	inf := CellInference{
		Phylogenies:            phylogenies,
		PhylogenyLogPosteriors: make([]float64, len(phylogenies)),
		CloneResponsibilities:  make([]map[string][]float64, len(phylogenies)),
	}
	for pi, phylo := range phylogenies {
		score, resp := m.evaluatePhylogeny(phylo, genotypes, indices, samples, normal, array)
		inf.PhylogenyLogPosteriors[pi] = score
		inf.CloneResponsibilities[pi] = resp
		if ctx.Err() != nil && pi+1 < len(phylogenies) {
			// Score the remaining trees by prior-free floor so the
			// marginalization stays well formed.
			for qi := pi + 1; qi < len(phylogenies); qi++ {
				inf.PhylogenyLogPosteriors[qi] = math.Inf(-1)
				inf.CloneResponsibilities[qi] = emptyResponsibilities(samples, len(phylogenies[qi].CloneGenotypes))
			}
			break
		}
	}
	inf.ApproxLogEvidence = floats.LogSumExp(inf.PhylogenyLogPosteriors)
	logprob.NormalizeLog(inf.PhylogenyLogPosteriors)

	// Marginalize into per-sample genotype posteriors.
	inf.SampleGenotypeLogPosteriors = make(map[string][]float64, len(samples))
	phyloProbs := logprob.ExpNormalized(inf.PhylogenyLogPosteriors)
	for _, s := range samples {
		acc := make([]float64, len(genotypes))
		for pi, phylo := range phylogenies {
			resp := inf.CloneResponsibilities[pi][s]
			for ci, gi := range phylo.CloneGenotypes {
				acc[gi] += phyloProbs[pi] * resp[ci]
			}
		}
		lp := make([]float64, len(genotypes))
		for i, p := range acc {
			if p <= 0 {
				lp[i] = math.Inf(-1)
			} else {
				lp[i] = math.Log(p)
			}
		}
		logprob.NormalizeLog(lp)
		inf.SampleGenotypeLogPosteriors[s] = lp
	}
	return inf
}

func emptyResponsibilities(samples []string, nClones int) map[string][]float64 {
	out := make(map[string][]float64, len(samples))
	for _, s := range samples {
		r := make([]float64, nClones)
		r[0] = 1
		out[s] = r
	}
	return out
}

// pooledScores ranks genotypes by summed constant-mixture likelihood across
// samples plus prior.
func (m Cell) pooledScores(genotypes []genome.Genotype, indices [][]int, array *hmm.LikelihoodArray) []float64 {
	cm := NewConstantMixtureModel(array)
	out := make([]float64, len(genotypes))
	for i, g := range genotypes {
		out[i] = m.Prior.LogPrior(g)
	}
	for _, s := range array.Samples() {
		array.Prime(s)
		for gi, idx := range indices {
			out[gi] += cm.Evaluate(idx)
		}
	}
	return out
}

// enumeratePhylogenies lists rooted chains and stars over distinct candidate
// genotypes up to maxClones nodes.  Every candidate founds a single-clone
// tree; larger trees draw founders and descendants from the candidate set.
func enumeratePhylogenies(candidates []int, maxClones int) []Phylogeny {
	var out []Phylogeny
	for _, root := range candidates {
		out = append(out, Phylogeny{CloneGenotypes: []int{root}, Parent: []int{-1}})
	}
	if maxClones >= 2 {
		for _, root := range candidates {
			for _, child := range candidates {
				if child == root {
					continue
				}
				out = append(out, Phylogeny{CloneGenotypes: []int{root, child}, Parent: []int{-1, 0}})
			}
		}
	}
	if maxClones >= 3 {
		for _, root := range candidates {
			for i, a := range candidates {
				if a == root {
					continue
				}
				for _, b := range candidates[i+1:] {
					if b == root || b == a {
						continue
					}
					// Chain root -> a -> b and star root -> {a, b}.
					out = append(out, Phylogeny{CloneGenotypes: []int{root, a, b}, Parent: []int{-1, 0, 1}})
					out = append(out, Phylogeny{CloneGenotypes: []int{root, a, b}, Parent: []int{-1, 0, 0}})
				}
			}
		}
	}
	return out
}

// evaluatePhylogeny scores one tree: clone priors plus mutation edges plus
// the marginal likelihood of assigning each cell to some clone, iterated
// with shared mixing weights.
func (m Cell) evaluatePhylogeny(phylo Phylogeny, genotypes []genome.Genotype, indices [][]int,
	samples []string, normal map[string]bool, array *hmm.LikelihoodArray) (float64, map[string][]float64) {
	nClones := len(phylo.CloneGenotypes)
	maxIter := m.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	tol := m.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}

	// Tree prior: clone genotype priors plus de-novo edges.
	treePrior := 0.0
	for ci, gi := range phylo.CloneGenotypes {
		treePrior += m.Prior.LogPrior(genotypes[gi])
		if p := phylo.Parent[ci]; p >= 0 {
			treePrior += m.cloneEdgeLogProb(genotypes[phylo.CloneGenotypes[p]], genotypes[gi])
		}
	}

	// Per-sample per-clone read likelihood with dropout mixture.
	ll := make(map[string][]float64, len(samples))
	for _, s := range samples {
		array.Prime(s)
		row := make([]float64, nClones)
		for ci, gi := range phylo.CloneGenotypes {
			row[ci] = m.dropoutLikelihood(indices[gi], array)
		}
		ll[s] = row
	}

	// VB over shared clone weights and per-cell responsibilities.
	lnW := logprob.UniformLog(nClones)
	resp := make(map[string][]float64, len(samples))
	prevScore := math.Inf(-1)
	score := treePrior
	for iter := 0; iter < maxIter; iter++ {
		score = treePrior
		counts := make([]float64, nClones)
		for _, s := range samples {
			r := make([]float64, nClones)
			if normal[s] {
				// Normal cells are pinned to the founder lineage.
				for ci := range r {
					r[ci] = math.Inf(-1)
				}
				r[0] = 0
				score += ll[s][0]
			} else {
				for ci := range r {
					r[ci] = lnW[ci] + ll[s][ci]
				}
				score += floats.LogSumExp(r)
				logprob.NormalizeLog(r)
			}
			resp[s] = r
			for ci, lr := range r {
				counts[ci] += math.Exp(lr)
			}
		}
		// Weight update with a unit pseudocount.
		for ci := range lnW {
			lnW[ci] = math.Log(counts[ci] + 1)
		}
		logprob.NormalizeLog(lnW)
		if math.Abs(score-prevScore) < tol {
			break
		}
		prevScore = score
	}
	out := make(map[string][]float64, len(samples))
	for _, s := range samples {
		out[s] = logprob.ExpNormalized(resp[s])
	}
	return score, out
}

// cloneEdgeLogProb scores the mutation distance from parent to child clone as
// the sum over child haplotypes of the best de-novo origin among parent
// haplotypes.
func (m Cell) cloneEdgeLogProb(parent, child genome.Genotype) float64 {
	total := 0.0
	for _, c := range child.Haplotypes() {
		best := math.Inf(-1)
		for _, p := range parent.Haplotypes() {
			if v := m.DeNovo.Evaluate(c, p); v > best {
				best = v
			}
		}
		total += best
	}
	return total
}

// dropoutLikelihood mixes the full-genotype constant-mixture likelihood with
// single-haplotype dropout variants, weighted by the Beta prior mean.
func (m Cell) dropoutLikelihood(idx []int, array *hmm.LikelihoodArray) float64 {
	cm := NewConstantMixtureModel(array)
	full := cm.Evaluate(idx)
	conc := m.DropoutConcentration
	if conc <= 0 {
		conc = DefaultDropoutConcentration
	}
	d := 1 / (1 + conc)
	if len(idx) < 2 {
		return full
	}
	terms := []float64{full + math.Log(1-d)}
	lnShare := math.Log(d) - math.Log(float64(len(idx)))
	for k := range idx {
		dropped := make([]int, 0, len(idx)-1)
		dropped = append(dropped, idx[:k]...)
		dropped = append(dropped, idx[k+1:]...)
		terms = append(terms, cm.Evaluate(dropped)+lnShare)
	}
	return floats.LogSumExp(terms)
}

package model

import (
	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/logprob"
)

// Latents is the common inference output contract: per-sample genotype
// posteriors plus a pooled haplotype posterior.  Each sample's genotype
// posterior sums to one within tolerance; construction checks this and does
// not normalize.  The haplotype posterior holds per-haplotype inclusion
// probabilities, which do not sum to one.
type Latents struct {
	Haplotypes       []*genome.Haplotype
	HaplotypePost    []float64 // linear space, by haplotype index
	Genotypes        []genome.Genotype
	GenotypeIndices  [][]int
	GenotypeLogPost  map[string][]float64 // per sample, normalized log space
	ModelLogEvidence float64

	// Cancer-caller extension: the cancer genotype list with its pooled
	// posterior, parallel to nothing above.
	CancerGenotypes       []genome.CancerGenotype
	CancerGenotypeLogPost []float64

	// Cell-caller extension: candidate phylogenies with their posterior.
	CellPhylogenies []Phylogeny
	CellPhyloPost   []float64

	// ModelPosteriorValue, when set, is the posterior probability that the
	// caller's model explains the window versus its null model.
	ModelPosteriorValue *float64
}

// NewLatents assembles a Latents from per-sample normalized genotype
// log-posteriors, deriving the pooled haplotype posterior as the mean over
// samples of the marginal haplotype inclusion probability.
func NewLatents(haplotypes []*genome.Haplotype, genotypes []genome.Genotype, indices [][]int,
	genotypeLogPost map[string][]float64, logEvidence float64) *Latents {
	l := &Latents{
		Haplotypes:       haplotypes,
		Genotypes:        genotypes,
		GenotypeIndices:  indices,
		GenotypeLogPost:  genotypeLogPost,
		ModelLogEvidence: logEvidence,
	}
	l.HaplotypePost = pooledHaplotypePosteriors(len(haplotypes), indices, genotypeLogPost)
	for _, post := range genotypeLogPost {
		logprob.CheckNormalizedLog(post)
	}
	return l
}

func pooledHaplotypePosteriors(numHaplotypes int, indices [][]int, logPost map[string][]float64) []float64 {
	out := make([]float64, numHaplotypes)
	if len(logPost) == 0 {
		return out
	}
	for _, post := range logPost {
		probs := logprob.ExpNormalized(post)
		for gi, idx := range indices {
			if gi >= len(probs) {
				break
			}
			seen := make(map[int]bool, len(idx))
			for _, h := range idx {
				if !seen[h] {
					out[h] += probs[gi]
					seen[h] = true
				}
			}
		}
	}
	// Mean over samples; clamp tiny numerical overshoot.
	n := float64(len(logPost))
	for i := range out {
		out[i] /= n
		if out[i] > 1 {
			out[i] = 1
		}
	}
	return out
}

// HaplotypePosteriors renders the pooled posterior as a map.
func (l *Latents) HaplotypePosteriors() map[*genome.Haplotype]float64 {
	out := make(map[*genome.Haplotype]float64, len(l.Haplotypes))
	for i, h := range l.Haplotypes {
		out[h] = l.HaplotypePost[i]
	}
	return out
}

// GenotypePosteriors renders one sample's posterior as a map keyed by
// genotype key.
func (l *Latents) GenotypePosteriors(sample string) map[string]float64 {
	post := l.GenotypeLogPost[sample]
	out := make(map[string]float64, len(post))
	probs := logprob.ExpNormalized(post)
	for i, g := range l.Genotypes {
		if i < len(probs) {
			out[g.Key()] += probs[i]
		}
	}
	return out
}

// MAPGenotype returns the index of the maximum a posteriori genotype for the
// sample.
func (l *Latents) MAPGenotype(sample string) int {
	return logprob.MaxIndex(l.GenotypeLogPost[sample])
}

// AllelePosterior marginalizes one sample's genotype posterior over the
// genotypes whose haplotypes include the allele.
func (l *Latents) AllelePosterior(sample string, allele genome.Allele) float64 {
	post := l.GenotypeLogPost[sample]
	probs := logprob.ExpNormalized(post)
	p := 0.0
	for gi, g := range l.Genotypes {
		if gi >= len(probs) {
			break
		}
		if g.ContainsAllele(allele) {
			p += probs[gi]
		}
	}
	if p > 1 {
		p = 1
	}
	return p
}

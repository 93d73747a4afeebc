package model

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/hmm"
	"github.com/grailbio/varcall/logprob"
	"github.com/grailbio/varcall/prior"
)

// Trio is the pedigree model for two parents and one offspring.  The joint
// factors as P(Gm) P(Gf) P(Go | Gm, Gf) Π_s P(reads_s | Gs), with the
// transmission term allowing de-novo mutation off Mendelian inheritance.
// Marginalization enumerates a pruned joint genotype set.
type Trio struct {
	Prior  prior.GenotypeModel
	DeNovo *prior.DeNovoModel
	// MaxJointGenotypes bounds the enumerated (Gm, Gf, Go) triples.
	MaxJointGenotypes int
}

// DefaultMaxJointGenotypes bounds trio joint enumeration.
const DefaultMaxJointGenotypes = 1000000

// TrioInference is the Trio model's output.
type TrioInference struct {
	// Normalized log posteriors over the shared genotype list.
	MotherLogPosteriors []float64
	FatherLogPosteriors []float64
	ChildLogPosteriors  []float64
	LogEvidence         float64
}

// Evaluate runs trio inference.  The array must contain all three samples.
func (m Trio) Evaluate(mother, father, child string, genotypes []genome.Genotype, indices [][]int,
	priors []float64, array *hmm.LikelihoodArray) TrioInference {
	nG := len(genotypes)
	lm := NewConstantMixtureModel(array)
	likelihood := func(sample string) []float64 {
		array.Prime(sample)
		out := make([]float64, nG)
		for gi, idx := range indices {
			out[gi] = lm.Evaluate(idx)
		}
		return out
	}
	llM := likelihood(mother)
	llF := likelihood(father)
	llC := likelihood(child)

	// Prune each axis to the best genotypes by single-sample joint score so
	// the triple enumeration stays within MaxJointGenotypes.
	maxJoint := m.MaxJointGenotypes
	if maxJoint <= 0 {
		maxJoint = DefaultMaxJointGenotypes
	}
	axis := func(ll []float64) []int {
		idx := make([]int, nG)
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return priors[idx[a]]+ll[idx[a]] > priors[idx[b]]+ll[idx[b]]
		})
		return idx
	}
	axM, axF, axC := axis(llM), axis(llF), axis(llC)
	per := cubeRoot(maxJoint)
	if per < 1 {
		per = 1
	}
	if per > nG {
		per = nG
	}
	axM, axF, axC = axM[:per], axF[:per], axC[:per]

	postM := newNegInfVector(nG)
	postF := newNegInfVector(nG)
	postC := newNegInfVector(nG)
	var joint []float64
	type triple struct{ m, f, c int }
	var triples []triple
	for _, gm := range axM {
		for _, gf := range axF {
			base := priors[gm] + priors[gf] + llM[gm] + llF[gf]
			for _, gc := range axC {
				t := base + m.transmissionLogProb(genotypes[gc], genotypes[gm], genotypes[gf]) + llC[gc]
				joint = append(joint, t)
				triples = append(triples, triple{gm, gf, gc})
			}
		}
	}
	evidence := logprob.NormalizeLog(joint)
	for i, t := range joint {
		tr := triples[i]
		postM[tr.m] = logAdd(postM[tr.m], t)
		postF[tr.f] = logAdd(postF[tr.f], t)
		postC[tr.c] = logAdd(postC[tr.c], t)
	}
	logprob.NormalizeLog(postM)
	logprob.NormalizeLog(postF)
	logprob.NormalizeLog(postC)
	return TrioInference{
		MotherLogPosteriors: postM,
		FatherLogPosteriors: postF,
		ChildLogPosteriors:  postC,
		LogEvidence:         evidence,
	}
}

// transmissionLogProb is ln P(child | mother, father): each parent transmits
// a uniformly chosen haplotype, and each transmitted haplotype may mutate
// into the observed child haplotype under the de-novo model.  The child
// genotype is unordered, so both pairings are averaged.
func (m Trio) transmissionLogProb(child, mother, father genome.Genotype) float64 {
	ch := child.Haplotypes()
	if len(ch) != 2 {
		// Non-diploid children fall back to independent draws from the
		// pooled parental haplotypes.
		pool := append(append([]*genome.Haplotype(nil), mother.Haplotypes()...), father.Haplotypes()...)
		total := 0.0
		for _, c := range ch {
			var terms []float64
			for _, p := range pool {
				terms = append(terms, m.DeNovo.Evaluate(c, p))
			}
			total += floats.LogSumExp(terms) - lnLen(pool)
		}
		return total
	}
	fromParent := func(c *genome.Haplotype, parent genome.Genotype) float64 {
		hs := parent.Haplotypes()
		terms := make([]float64, len(hs))
		for i, p := range hs {
			terms[i] = m.DeNovo.Evaluate(c, p)
		}
		return floats.LogSumExp(terms) - lnLen(hs)
	}
	// Pairing A: ch[0] from mother, ch[1] from father; pairing B swapped.
	a := fromParent(ch[0], mother) + fromParent(ch[1], father)
	b := fromParent(ch[1], mother) + fromParent(ch[0], father)
	return floats.LogSumExp([]float64{a, b}) - lnTwo
}

const lnTwo = 0.6931471805599453

func lnLen(hs []*genome.Haplotype) float64 {
	return logFloat(len(hs))
}

// Package model implements the inference models the callers drive:
// individual, population, trio, subclone (variational) and cell.  All models
// consume a primed hmm.LikelihoodArray and produce normalized log-posterior
// vectors over an externally supplied genotype list.
package model

import (
	"math"

	"github.com/grailbio/base/log"
	"gonum.org/v1/gonum/floats"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/hmm"
)

// GenotypeIndices maps each genotype to the indices of its haplotypes within
// the haplotype slice the likelihood array was populated with.  Genotypes
// must be built from the same haplotype pointers.
func GenotypeIndices(genotypes []genome.Genotype, haplotypes []*genome.Haplotype) [][]int {
	byPtr := make(map[*genome.Haplotype]int, len(haplotypes))
	byKey := make(map[string]int, len(haplotypes))
	for i, h := range haplotypes {
		byPtr[h] = i
		byKey[h.Key()] = i
	}
	out := make([][]int, len(genotypes))
	for gi, g := range genotypes {
		hs := g.Haplotypes()
		idx := make([]int, len(hs))
		for k, h := range hs {
			if i, ok := byPtr[h]; ok {
				idx[k] = i
			} else if i, ok := byKey[h.Key()]; ok {
				idx[k] = i
			} else {
				log.Panicf("model: genotype haplotype %s not in haplotype pool", h.Region())
			}
		}
		out[gi] = idx
	}
	return out
}

// CancerGenotypeIndices is GenotypeIndices for cancer genotypes.  Slot order
// is preserved: germline haplotype indices precede somatic ones, matching
// CancerGenotype.Haplotypes and the Dirichlet alpha layout.
func CancerGenotypeIndices(genotypes []genome.CancerGenotype, haplotypes []*genome.Haplotype) (all, germline [][]int) {
	byPtr := make(map[*genome.Haplotype]int, len(haplotypes))
	byKey := make(map[string]int, len(haplotypes))
	for i, h := range haplotypes {
		byPtr[h] = i
		byKey[h.Key()] = i
	}
	lookup := func(h *genome.Haplotype) int {
		if i, ok := byPtr[h]; ok {
			return i
		}
		if i, ok := byKey[h.Key()]; ok {
			return i
		}
		log.Panicf("model: cancer genotype haplotype %s not in haplotype pool", h.Region())
		return -1
	}
	all = make([][]int, len(genotypes))
	germline = make([][]int, len(genotypes))
	for gi, g := range genotypes {
		hs := g.Haplotypes()
		idx := make([]int, len(hs))
		for k, h := range hs {
			idx[k] = lookup(h)
		}
		all[gi] = idx
		germline[gi] = idx[:g.Germline.Ploidy():g.Germline.Ploidy()]
	}
	return all, germline
}

// ConstantMixtureModel scores ln P(reads | genotype) for the primed sample of
// its array under equal within-genotype haplotype mixing: each read is drawn
// from a uniformly chosen haplotype of the genotype.
type ConstantMixtureModel struct {
	array *hmm.LikelihoodArray
}

// NewConstantMixtureModel wraps a likelihood array.  Prime the array before
// calling Evaluate.
func NewConstantMixtureModel(array *hmm.LikelihoodArray) *ConstantMixtureModel {
	return &ConstantMixtureModel{array: array}
}

// Evaluate returns the log likelihood of the genotype given as haplotype
// indices into the array.
func (m *ConstantMixtureModel) Evaluate(haplotypes []int) float64 {
	n := m.array.NumReads()
	if n == 0 {
		return 0
	}
	lnMix := -math.Log(float64(len(haplotypes)))
	rows := make([][]float64, len(haplotypes))
	for k, h := range haplotypes {
		rows[k] = m.array.Likelihoods(h)
	}
	total := 0.0
	buf := make([]float64, len(haplotypes))
	for r := 0; r < n; r++ {
		for k := range rows {
			buf[k] = lnMix + rows[k][r]
		}
		total += floats.LogSumExp(buf)
	}
	return total
}

// VariableMixtureModel is ConstantMixtureModel with explicit mixture weights,
// used by the subclone model where the Dirichlet latents set per-haplotype
// fractions.
type VariableMixtureModel struct {
	array *hmm.LikelihoodArray
	lnMix []float64
}

// NewVariableMixtureModel wraps an array; call SetMixtures before Evaluate.
func NewVariableMixtureModel(array *hmm.LikelihoodArray) *VariableMixtureModel {
	return &VariableMixtureModel{array: array}
}

// SetMixtures installs mixture fractions (linear space, summing to one).
func (m *VariableMixtureModel) SetMixtures(mix []float64) {
	m.lnMix = make([]float64, len(mix))
	for i, w := range mix {
		m.lnMix[i] = math.Log(w)
	}
}

// Evaluate returns the log likelihood of the genotype under the installed
// mixtures.  len(haplotypes) must equal the mixture length.
func (m *VariableMixtureModel) Evaluate(haplotypes []int) float64 {
	if len(haplotypes) != len(m.lnMix) {
		log.Panicf("model: %d haplotypes vs %d mixture components", len(haplotypes), len(m.lnMix))
	}
	n := m.array.NumReads()
	if n == 0 {
		return 0
	}
	rows := make([][]float64, len(haplotypes))
	for k, h := range haplotypes {
		rows[k] = m.array.Likelihoods(h)
	}
	total := 0.0
	buf := make([]float64, len(haplotypes))
	for r := 0; r < n; r++ {
		for k := range rows {
			buf[k] = m.lnMix[k] + rows[k][r]
		}
		total += floats.LogSumExp(buf)
	}
	return total
}

package model

import (
	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/hmm"
	"github.com/grailbio/varcall/logprob"
	"github.com/grailbio/varcall/prior"
)

// Individual is the single-sample model: exact posterior by enumeration,
// P(g | reads) ∝ P(reads | g) P(g), no iteration.
type Individual struct {
	Prior prior.GenotypeModel
}

// IndividualInference is the Individual model's output.
type IndividualInference struct {
	// GenotypeLogPosteriors is normalized in log space.
	GenotypeLogPosteriors []float64
	// GenotypeLogLikelihoods are the raw constant-mixture likelihoods.
	GenotypeLogLikelihoods []float64
	// LogEvidence is ln P(reads) under the model.
	LogEvidence float64
}

// Evaluate runs inference for the primed sample of the array.  indices maps
// each genotype to haplotype rows of the array.
func (m Individual) Evaluate(indices [][]int, priors []float64, array *hmm.LikelihoodArray) IndividualInference {
	lm := NewConstantMixtureModel(array)
	lls := make([]float64, len(indices))
	joint := make([]float64, len(indices))
	for gi, idx := range indices {
		lls[gi] = lm.Evaluate(idx)
		joint[gi] = priors[gi] + lls[gi]
	}
	evidence := logprob.NormalizeLog(joint)
	return IndividualInference{
		GenotypeLogPosteriors:  joint,
		GenotypeLogLikelihoods: lls,
		LogEvidence:            evidence,
	}
}

// EvaluatePriors computes the log prior vector for a genotype list.
func EvaluatePriors(p prior.GenotypeModel, genotypes []genome.Genotype) []float64 {
	out := make([]float64, len(genotypes))
	for i, g := range genotypes {
		out[i] = p.LogPrior(g)
	}
	return out
}

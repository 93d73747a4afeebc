package model

import (
	"github.com/grailbio/varcall/hmm"
)

// Population infers each sample independently under a shared genotype prior;
// the pooled haplotype posterior is the equal-weight marginal over samples.
// There is no coupling between samples beyond the shared prior.
type Population struct {
	Individual Individual
}

// PopulationInference is the Population model's output.
type PopulationInference struct {
	// SampleGenotypeLogPosteriors maps sample to a normalized log-posterior
	// vector over the shared genotype list.
	SampleGenotypeLogPosteriors map[string][]float64
	// SampleLogEvidence maps sample to its ln P(reads).
	SampleLogEvidence map[string]float64
	// LogEvidence sums the per-sample evidences (samples are independent
	// given the prior).
	LogEvidence float64
}

// Evaluate runs per-sample inference over the shared genotype list.
func (m Population) Evaluate(samples []string, indices [][]int, priors []float64,
	array *hmm.LikelihoodArray) PopulationInference {
	out := PopulationInference{
		SampleGenotypeLogPosteriors: make(map[string][]float64, len(samples)),
		SampleLogEvidence:           make(map[string]float64, len(samples)),
	}
	for _, sample := range samples {
		array.Prime(sample)
		inf := m.Individual.Evaluate(indices, priors, array)
		out.SampleGenotypeLogPosteriors[sample] = inf.GenotypeLogPosteriors
		out.SampleLogEvidence[sample] = inf.LogEvidence
		out.LogEvidence += inf.LogEvidence
	}
	return out
}

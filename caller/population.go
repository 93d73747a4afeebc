package caller

import (
	"context"

	"github.com/pkg/errors"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/hmm"
	"github.com/grailbio/varcall/logprob"
	"github.com/grailbio/varcall/model"
	"github.com/grailbio/varcall/prior"
	"github.com/grailbio/varcall/reads"
)

// PopulationParams configure the multi-sample caller.
type PopulationParams struct {
	Samples             []string
	Ploidy              int
	Coalescent          prior.CoalescentParams
	MinVariantPosterior logprob.Phred
	MinRefCallPosterior logprob.Phred
	MaxGenotypes        int
	// DeduplicateWithPriorModel keeps, within each duplicate-haplotype
	// group, the instance the coalescent prior favors.
	DeduplicateWithPriorModel bool
}

// PopulationCaller calls several samples independently under a shared prior.
type PopulationCaller struct {
	params PopulationParams
}

// NewPopulationCaller validates parameters.
func NewPopulationCaller(params PopulationParams) (*PopulationCaller, error) {
	if len(params.Samples) == 0 {
		return nil, errors.New("population caller: at least one sample required")
	}
	if params.Ploidy <= 0 {
		return nil, errors.Errorf("population caller: invalid ploidy %d", params.Ploidy)
	}
	return &PopulationCaller{params: params}, nil
}

// Name implements Caller.
func (c *PopulationCaller) Name() string { return "population" }

// CallTypes implements Caller.
func (c *PopulationCaller) CallTypes() []CallType {
	return []CallType{VariantCallType, ReferenceCallType}
}

// MinCallablePloidy implements Caller.
func (c *PopulationCaller) MinCallablePloidy() int { return 1 }

// MaxCallablePloidy implements Caller.
func (c *PopulationCaller) MaxCallablePloidy() int { return 8 }

// RemoveDuplicates implements Caller.
func (c *PopulationCaller) RemoveDuplicates(haplotypes []*genome.Haplotype, refSeq string) []*genome.Haplotype {
	if c.params.DeduplicateWithPriorModel {
		return DedupHaplotypesWithModel(haplotypes, prior.NewCoalescentModel(refSeq, c.params.Coalescent))
	}
	return DedupHaplotypes(haplotypes)
}

// InferLatents implements Caller.
func (c *PopulationCaller) InferLatents(ctx context.Context, window genome.Region, refSeq string,
	haplotypes []*genome.Haplotype, array *hmm.LikelihoodArray) (*model.Latents, error) {
	genotypes, _ := genome.EnumerateGenotypes(haplotypes, c.params.Ploidy, c.params.MaxGenotypes)
	indices := model.GenotypeIndices(genotypes, haplotypes)
	coal := prior.NewCoalescentModel(refSeq, c.params.Coalescent)
	priors := model.EvaluatePriors(coal, genotypes)
	inf := model.Population{Individual: model.Individual{Prior: coal}}.Evaluate(
		c.params.Samples, indices, priors, array)
	return model.NewLatents(haplotypes, genotypes, indices,
		inf.SampleGenotypeLogPosteriors, inf.LogEvidence), nil
}

// CallVariants implements Caller.
func (c *PopulationCaller) CallVariants(candidates []genome.Variant, latents *model.Latents) []Call {
	return CallSampleVariants(candidates, latents, c.params.Samples, c.params.MinVariantPosterior)
}

// CallReference implements Caller.
func (c *PopulationCaller) CallReference(alleles []genome.Allele, latents *model.Latents,
	pileups reads.PileupMap) []Call {
	return CallSampleReference(alleles, latents, pileups,
		c.params.Samples, c.params.Ploidy, c.params.MinRefCallPosterior)
}

// ModelPosterior implements Caller.
func (c *PopulationCaller) ModelPosterior(latents *model.Latents) (float64, bool) {
	return 0, false
}

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

// CellParams configure the single-cell caller.
type CellParams struct {
	// Samples are the cells; NormalSamples are pinned to the founder clone.
	Samples       []string
	NormalSamples []string
	Ploidy        int
	Coalescent    prior.CoalescentParams
	Mutation      prior.DeNovoParams
	// MaxClones bounds clone count per phylogeny; MaxVBSeeds bounds
	// restarts.
	MaxClones            int
	MaxVBSeeds           int
	DropoutConcentration float64
	MinVariantPosterior  logprob.Phred
	MinRefCallPosterior  logprob.Phred
	MaxGenotypes         int
	// DeduplicateWithPriorModel keeps, within each duplicate-haplotype
	// group, the instance the coalescent prior favors.
	DeduplicateWithPriorModel bool
}

// CellCaller calls variants across single cells under a clonal phylogeny
// with allele dropout.
type CellCaller struct {
	params CellParams
}

// NewCellCaller validates parameters.
func NewCellCaller(params CellParams) (*CellCaller, error) {
	if len(params.Samples) == 0 {
		return nil, errors.New("cell caller: at least one cell sample required")
	}
	if params.Ploidy <= 0 {
		return nil, errors.Errorf("cell caller: invalid ploidy %d", params.Ploidy)
	}
	for _, s := range params.NormalSamples {
		found := false
		for _, all := range params.Samples {
			if s == all {
				found = true
				break
			}
		}
		if !found {
			return nil, errors.Errorf("cell caller: normal sample %q not among samples", s)
		}
	}
	return &CellCaller{params: params}, nil
}

// Name implements Caller.
func (c *CellCaller) Name() string { return "cell" }

// CallTypes implements Caller.
func (c *CellCaller) CallTypes() []CallType {
	return []CallType{VariantCallType, ReferenceCallType, CellCallType}
}

// MinCallablePloidy implements Caller.
func (c *CellCaller) MinCallablePloidy() int { return 1 }

// MaxCallablePloidy implements Caller.
func (c *CellCaller) MaxCallablePloidy() int { return 2 }

// RemoveDuplicates implements Caller.
func (c *CellCaller) RemoveDuplicates(haplotypes []*genome.Haplotype, refSeq string) []*genome.Haplotype {
	if c.params.DeduplicateWithPriorModel {
		return DedupHaplotypesWithModel(haplotypes, prior.NewCoalescentModel(refSeq, c.params.Coalescent))
	}
	return DedupHaplotypes(haplotypes)
}

// InferLatents implements Caller.
func (c *CellCaller) InferLatents(ctx context.Context, window genome.Region, refSeq string,
	haplotypes []*genome.Haplotype, array *hmm.LikelihoodArray) (*model.Latents, error) {
	genotypes, _ := genome.EnumerateGenotypes(haplotypes, c.params.Ploidy, c.params.MaxGenotypes)
	indices := model.GenotypeIndices(genotypes, haplotypes)
	coal := prior.NewCoalescentModel(refSeq, c.params.Coalescent)
	denovo := prior.NewDeNovoModel(c.params.Mutation, len(haplotypes), prior.CacheValue)
	cell := model.Cell{
		Prior:                coal,
		DeNovo:               denovo,
		MaxClones:            c.params.MaxClones,
		MaxVBSeeds:           c.params.MaxVBSeeds,
		DropoutConcentration: c.params.DropoutConcentration,
		NormalSamples:        c.params.NormalSamples,
	}
	inf := cell.Evaluate(ctx, genotypes, indices, array)
	latents := model.NewLatents(haplotypes, genotypes, indices,
		inf.SampleGenotypeLogPosteriors, inf.ApproxLogEvidence)
	latents.CellPhylogenies = inf.Phylogenies
	latents.CellPhyloPost = inf.PhylogenyLogPosteriors
	return latents, nil
}

// CallVariants implements Caller.
func (c *CellCaller) CallVariants(candidates []genome.Variant, latents *model.Latents) []Call {
	bestPhylo := 0.0
	if len(latents.CellPhyloPost) > 0 {
		bestPhylo = expClamped(latents.CellPhyloPost[logprob.MaxIndex(latents.CellPhyloPost)])
	}
	var out []Call
	for _, v := range candidates {
		best := 0.0
		for _, sample := range c.params.Samples {
			if p := latents.AllelePosterior(sample, v.Alt); p > best {
				best = p
			}
		}
		quality := PosteriorQuality(best)
		if quality < c.params.MinVariantPosterior {
			continue
		}
		call := &CellCall{
			VariantCall:        *NewVariantCall(v, quality),
			PhylogenyPosterior: bestPhylo,
		}
		for _, sample := range c.params.Samples {
			post := latents.GenotypeLogPost[sample]
			mapIdx := logprob.MaxIndex(post)
			call.SetGenotypeCall(sample, MakeGenotypeCall(latents.Genotypes[mapIdx], v, GenotypeQuality(post)))
		}
		out = append(out, call)
	}
	return out
}

// CallReference implements Caller.
func (c *CellCaller) CallReference(alleles []genome.Allele, latents *model.Latents,
	pileups reads.PileupMap) []Call {
	return CallSampleReference(alleles, latents, pileups,
		c.params.Samples, c.params.Ploidy, c.params.MinRefCallPosterior)
}

// ModelPosterior implements Caller.
func (c *CellCaller) ModelPosterior(latents *model.Latents) (float64, bool) {
	return 0, false
}

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

// TrioParams configure the trio caller.
type TrioParams struct {
	Mother, Father, Child string
	Ploidy                int
	Coalescent            prior.CoalescentParams
	Mutation              prior.DeNovoParams
	MinVariantPosterior   logprob.Phred
	MinRefCallPosterior   logprob.Phred
	// MinDenovoPosterior gates the DENOVO flag.
	MinDenovoPosterior logprob.Phred
	MaxGenotypes       int
	MaxJointGenotypes  int
	// DeduplicateWithPriorModel keeps, within each duplicate-haplotype
	// group, the instance the coalescent prior favors.
	DeduplicateWithPriorModel bool
}

// TrioCaller jointly calls two parents and an offspring with a de-novo
// transmission model.
type TrioCaller struct {
	params TrioParams
}

// NewTrioCaller validates parameters.
func NewTrioCaller(params TrioParams) (*TrioCaller, error) {
	if params.Mother == "" || params.Father == "" || params.Child == "" {
		return nil, errors.New("trio caller: mother, father and child samples required")
	}
	if params.Mother == params.Father || params.Mother == params.Child || params.Father == params.Child {
		return nil, errors.New("trio caller: samples must be distinct")
	}
	if params.Ploidy <= 0 {
		return nil, errors.Errorf("trio caller: invalid ploidy %d", params.Ploidy)
	}
	return &TrioCaller{params: params}, nil
}

// Name implements Caller.
func (c *TrioCaller) Name() string { return "trio" }

// CallTypes implements Caller.
func (c *TrioCaller) CallTypes() []CallType {
	return []CallType{VariantCallType, ReferenceCallType, DenovoCallType}
}

// MinCallablePloidy implements Caller.
func (c *TrioCaller) MinCallablePloidy() int { return 2 }

// MaxCallablePloidy implements Caller.
func (c *TrioCaller) MaxCallablePloidy() int { return 2 }

// RemoveDuplicates implements Caller.
func (c *TrioCaller) RemoveDuplicates(haplotypes []*genome.Haplotype, refSeq string) []*genome.Haplotype {
	if c.params.DeduplicateWithPriorModel {
		return DedupHaplotypesWithModel(haplotypes, prior.NewCoalescentModel(refSeq, c.params.Coalescent))
	}
	return DedupHaplotypes(haplotypes)
}

func (c *TrioCaller) samples() []string {
	return []string{c.params.Mother, c.params.Father, c.params.Child}
}

// InferLatents implements Caller.
func (c *TrioCaller) InferLatents(ctx context.Context, window genome.Region, refSeq string,
	haplotypes []*genome.Haplotype, array *hmm.LikelihoodArray) (*model.Latents, error) {
	genotypes, _ := genome.EnumerateGenotypes(haplotypes, c.params.Ploidy, c.params.MaxGenotypes)
	indices := model.GenotypeIndices(genotypes, haplotypes)
	coal := prior.NewCoalescentModel(refSeq, c.params.Coalescent)
	priors := model.EvaluatePriors(coal, genotypes)
	denovo := prior.NewDeNovoModel(c.params.Mutation, len(haplotypes), prior.CacheValue)
	trio := model.Trio{Prior: coal, DeNovo: denovo, MaxJointGenotypes: c.params.MaxJointGenotypes}
	inf := trio.Evaluate(c.params.Mother, c.params.Father, c.params.Child,
		genotypes, indices, priors, array)
	return model.NewLatents(haplotypes, genotypes, indices, map[string][]float64{
		c.params.Mother: inf.MotherLogPosteriors,
		c.params.Father: inf.FatherLogPosteriors,
		c.params.Child:  inf.ChildLogPosteriors,
	}, inf.LogEvidence), nil
}

// CallVariants implements Caller.  Variants present in the child but in
// neither parent's called genotype are emitted as DenovoCalls when their de
// novo posterior clears MinDenovoPosterior.
func (c *TrioCaller) CallVariants(candidates []genome.Variant, latents *model.Latents) []Call {
	samples := c.samples()
	var out []Call
	for _, v := range candidates {
		best := 0.0
		for _, sample := range samples {
			if p := latents.AllelePosterior(sample, v.Alt); p > best {
				best = p
			}
		}
		quality := PosteriorQuality(best)
		if quality < c.params.MinVariantPosterior {
			continue
		}
		vc := NewVariantCall(v, quality)
		for _, sample := range samples {
			post := latents.GenotypeLogPost[sample]
			mapIdx := logprob.MaxIndex(post)
			vc.SetGenotypeCall(sample, MakeGenotypeCall(latents.Genotypes[mapIdx], v, GenotypeQuality(post)))
		}
		// De novo: the child carries the alt, both parental posteriors say
		// the parents do not.
		childP := latents.AllelePosterior(c.params.Child, v.Alt)
		denovoP := childP *
			(1 - latents.AllelePosterior(c.params.Mother, v.Alt)) *
			(1 - latents.AllelePosterior(c.params.Father, v.Alt))
		childGC, _ := vc.GenotypeCall(c.params.Child)
		motherGC, _ := vc.GenotypeCall(c.params.Mother)
		fatherGC, _ := vc.GenotypeCall(c.params.Father)
		childHasAlt := genotypeContainsAllele(childGC, v.Alt)
		parentsLackAlt := !genotypeContainsAllele(motherGC, v.Alt) &&
			!genotypeContainsAllele(fatherGC, v.Alt)
		if childHasAlt && parentsLackAlt && PosteriorQuality(denovoP) >= c.params.MinDenovoPosterior {
			out = append(out, &DenovoCall{VariantCall: *vc, DenovoPosterior: denovoP})
		} else {
			out = append(out, vc)
		}
	}
	return out
}

func genotypeContainsAllele(gc *GenotypeCall, a genome.Allele) bool {
	for _, allele := range gc.Genotype.Alleles {
		if allele.Equal(a) {
			return true
		}
	}
	return false
}

// CallReference implements Caller.
func (c *TrioCaller) CallReference(alleles []genome.Allele, latents *model.Latents,
	pileups reads.PileupMap) []Call {
	return CallSampleReference(alleles, latents, pileups,
		c.samples(), c.params.Ploidy, c.params.MinRefCallPosterior)
}

// ModelPosterior implements Caller.
func (c *TrioCaller) ModelPosterior(latents *model.Latents) (float64, bool) {
	return 0, false
}

package caller

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/hmm"
	"github.com/grailbio/varcall/logprob"
	"github.com/grailbio/varcall/model"
	"github.com/grailbio/varcall/prior"
	"github.com/grailbio/varcall/reads"
)

// CancerParams configure the somatic caller.
type CancerParams struct {
	// Samples lists every sample; NormalSamples the subset treated as
	// non-tumor.
	Samples       []string
	NormalSamples []string
	Ploidy        int
	Coalescent    prior.CoalescentParams
	// Mutation parameterizes the somatic mutation model.
	Mutation            prior.DeNovoParams
	MinVariantPosterior logprob.Phred
	MinRefCallPosterior logprob.Phred
	// MinSomaticPosterior gates somatic classification.
	MinSomaticPosterior logprob.Phred
	MaxGenotypes        int
	MaxVBSeeds          int
	// GermlineAlpha and SomaticAlpha set the Dirichlet concentrations per
	// slot class; a small somatic concentration admits low-fraction
	// subclones.
	GermlineAlpha float64
	SomaticAlpha  float64
	// DeduplicateWithPriorModel keeps, within each duplicate-haplotype
	// group, the instance the coalescent prior favors.
	DeduplicateWithPriorModel bool
}

// CancerCaller calls germline and somatic variants in tumor(-normal) data
// with the subclone variational model.
type CancerCaller struct {
	params CancerParams
	normal map[string]bool
}

// NewCancerCaller validates parameters.
func NewCancerCaller(params CancerParams) (*CancerCaller, error) {
	if len(params.Samples) == 0 {
		return nil, errors.New("cancer caller: at least one sample required")
	}
	if params.Ploidy <= 0 {
		return nil, errors.Errorf("cancer caller: invalid ploidy %d", params.Ploidy)
	}
	normal := make(map[string]bool, len(params.NormalSamples))
	for _, s := range params.NormalSamples {
		found := false
		for _, all := range params.Samples {
			if s == all {
				found = true
				break
			}
		}
		if !found {
			return nil, errors.Errorf("cancer caller: normal sample %q not among samples", s)
		}
		normal[s] = true
	}
	if params.GermlineAlpha <= 0 {
		params.GermlineAlpha = 10
	}
	if params.SomaticAlpha <= 0 {
		params.SomaticAlpha = 1
	}
	return &CancerCaller{params: params, normal: normal}, nil
}

// Name implements Caller.
func (c *CancerCaller) Name() string { return "cancer" }

// CallTypes implements Caller.
func (c *CancerCaller) CallTypes() []CallType {
	return []CallType{VariantCallType, ReferenceCallType, SomaticCallType, CancerCallType}
}

// MinCallablePloidy implements Caller.
func (c *CancerCaller) MinCallablePloidy() int { return 1 }

// MaxCallablePloidy implements Caller.
func (c *CancerCaller) MaxCallablePloidy() int { return 4 }

// RemoveDuplicates implements Caller.
func (c *CancerCaller) RemoveDuplicates(haplotypes []*genome.Haplotype, refSeq string) []*genome.Haplotype {
	if c.params.DeduplicateWithPriorModel {
		return DedupHaplotypesWithModel(haplotypes, prior.NewCoalescentModel(refSeq, c.params.Coalescent))
	}
	return DedupHaplotypes(haplotypes)
}

// InferLatents implements Caller.
func (c *CancerCaller) InferLatents(ctx context.Context, window genome.Region, refSeq string,
	haplotypes []*genome.Haplotype, array *hmm.LikelihoodArray) (*model.Latents, error) {
	germlines, _ := genome.EnumerateGenotypes(haplotypes, c.params.Ploidy, c.params.MaxGenotypes)

	// One somatic haplotype per cancer genotype, grouped by germline so
	// germline-sharing runs stay contiguous for range seeds.
	var cancers []genome.CancerGenotype
	for _, g := range germlines {
		for _, h := range haplotypes {
			if g.Contains(h) {
				continue // a somatic copy of a germline haplotype is unobservable
			}
			cancers = append(cancers, genome.CancerGenotype{Germline: g, Somatic: genome.NewGenotype(h)})
		}
	}
	if len(cancers) == 0 {
		// Single-haplotype window: fall back to pure germline genotypes.
		for _, g := range germlines {
			cancers = append(cancers, genome.CancerGenotype{Germline: g})
		}
	}
	indices, germIndices := model.CancerGenotypeIndices(cancers, haplotypes)

	coal := prior.NewCoalescentModel(refSeq, c.params.Coalescent)
	denovo := prior.NewDeNovoModel(c.params.Mutation, len(haplotypes), prior.CacheValue)
	slots := c.params.Ploidy + 1
	sub := model.Subclone{
		Priors: model.SubclonePriors{
			Genotype: prior.NewCancerModel(coal, denovo),
			Alphas: model.UniformAlphas(array.Samples(), c.params.Ploidy, slots-c.params.Ploidy,
				c.params.GermlineAlpha, c.params.SomaticAlpha),
		},
		MaxSeeds: c.params.MaxVBSeeds,
	}
	inf := sub.Evaluate(ctx, cancers, indices, germIndices, array)

	// Germline marginal over the cancer posterior, shared by every sample
	// for the common latents contract.
	germlineIndexOf := make(map[string]int, len(germlines))
	for i, g := range germlines {
		germlineIndexOf[g.Key()] = i
	}
	germMarg := make([]float64, len(germlines))
	cancerProbs := logprob.ExpNormalized(inf.GenotypeLogPosteriors)
	for ci, cg := range cancers {
		germMarg[germlineIndexOf[cg.Germline.Key()]] += cancerProbs[ci]
	}
	germLog := make([]float64, len(germMarg))
	for i, p := range germMarg {
		if p <= 0 {
			germLog[i] = math.Inf(-1)
		} else {
			germLog[i] = math.Log(p)
		}
	}
	logprob.NormalizeLog(germLog)
	perSample := make(map[string][]float64, len(c.params.Samples))
	for _, s := range c.params.Samples {
		perSample[s] = append([]float64(nil), germLog...)
	}
	germIdx := model.GenotypeIndices(germlines, haplotypes)
	latents := model.NewLatents(haplotypes, germlines, germIdx, perSample, inf.ApproxLogEvidence)
	latents.CancerGenotypes = cancers
	latents.CancerGenotypeLogPost = inf.GenotypeLogPosteriors

	// Model posterior: subclone evidence against the germline-only model.
	germOnly := c.germlineEvidence(germlines, germIdx, coal, array)
	pp := 1 / (1 + math.Exp(germOnly-inf.ApproxLogEvidence))
	latents.ModelPosteriorValue = &pp
	return latents, nil
}

func (c *CancerCaller) germlineEvidence(germlines []genome.Genotype, indices [][]int,
	coal prior.GenotypeModel, array *hmm.LikelihoodArray) float64 {
	priors := model.EvaluatePriors(coal, germlines)
	total := 0.0
	ind := model.Individual{Prior: coal}
	for _, s := range array.Samples() {
		array.Prime(s)
		total += ind.Evaluate(indices, priors, array).LogEvidence
	}
	return total
}

// somaticAllelePosterior is the posterior mass on cancer genotypes carrying
// the allele somatically but not in the germline.
func somaticAllelePosterior(latents *model.Latents, a genome.Allele) float64 {
	probs := logprob.ExpNormalized(latents.CancerGenotypeLogPost)
	p := 0.0
	for ci, cg := range latents.CancerGenotypes {
		if cg.Germline.ContainsAllele(a) {
			continue
		}
		somatic := false
		for _, h := range cg.Somatic.Haplotypes() {
			if h.Includes(a) {
				somatic = true
				break
			}
		}
		if somatic {
			p += probs[ci]
		}
	}
	if p > 1 {
		p = 1
	}
	return p
}

// CallVariants implements Caller.
func (c *CancerCaller) CallVariants(candidates []genome.Variant, latents *model.Latents) []Call {
	var out []Call
	mapCancer := logprob.MaxIndex(latents.CancerGenotypeLogPost)
	mapGenotype := latents.CancerGenotypes[mapCancer]
	for _, v := range candidates {
		somaticP := somaticAllelePosterior(latents, v.Alt)
		germlineP := 0.0
		probs := logprob.ExpNormalized(latents.CancerGenotypeLogPost)
		for ci, cg := range latents.CancerGenotypes {
			if cg.Germline.ContainsAllele(v.Alt) {
				germlineP += probs[ci]
			}
		}
		switch {
		case PosteriorQuality(somaticP) >= c.params.MinSomaticPosterior:
			call := &SomaticCall{
				VariantCall:      *NewVariantCall(v, PosteriorQuality(somaticP)),
				SomaticPosterior: somaticP,
			}
			gq := GenotypeQuality(latents.CancerGenotypeLogPost)
			for _, sample := range c.params.Samples {
				if c.normal[sample] {
					call.SetGenotypeCall(sample, MakeGenotypeCall(mapGenotype.Germline, v, gq))
				} else {
					// Tumor genotype includes the somatic component.
					call.SetGenotypeCall(sample, MakeGenotypeCall(mapGenotype.Demote(), v, gq))
				}
			}
			out = append(out, call)
		case PosteriorQuality(germlineP) >= c.params.MinVariantPosterior:
			call := &CancerGenotypeCall{
				VariantCall:       *NewVariantCall(v, PosteriorQuality(germlineP)),
				SomaticHaplotypes: mapGenotype.Somatic.Ploidy(),
			}
			gq := GenotypeQuality(latents.CancerGenotypeLogPost)
			for _, sample := range c.params.Samples {
				call.SetGenotypeCall(sample, MakeGenotypeCall(mapGenotype.Germline, v, gq))
			}
			out = append(out, call)
		}
	}
	return out
}

// CallReference implements Caller.
func (c *CancerCaller) CallReference(alleles []genome.Allele, latents *model.Latents,
	pileups reads.PileupMap) []Call {
	return CallSampleReference(alleles, latents, pileups,
		c.params.Samples, c.params.Ploidy, c.params.MinRefCallPosterior)
}

// ModelPosterior implements Caller.
func (c *CancerCaller) ModelPosterior(latents *model.Latents) (float64, bool) {
	if latents.ModelPosteriorValue == nil {
		return 0, false
	}
	return *latents.ModelPosteriorValue, true
}

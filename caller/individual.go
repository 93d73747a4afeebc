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

// IndividualParams configure the single-sample caller.
type IndividualParams struct {
	Sample              string
	Ploidy              int
	Coalescent          prior.CoalescentParams
	MinVariantPosterior logprob.Phred
	MinRefCallPosterior logprob.Phred
	MaxGenotypes        int
	// DeduplicateWithPriorModel prunes value-duplicate haplotypes keeping the
	// instance the prior model favors; plain sequence dedup otherwise.
	DeduplicateWithPriorModel bool
}

// IndividualCaller calls one diploid or polyploid sample.
type IndividualCaller struct {
	params IndividualParams
}

// NewIndividualCaller validates parameters.
func NewIndividualCaller(params IndividualParams) (*IndividualCaller, error) {
	if params.Sample == "" {
		return nil, errors.New("individual caller: sample required")
	}
	if params.Ploidy <= 0 {
		return nil, errors.Errorf("individual caller: invalid ploidy %d", params.Ploidy)
	}
	return &IndividualCaller{params: params}, nil
}

// Name implements Caller.
func (c *IndividualCaller) Name() string { return "individual" }

// CallTypes implements Caller.
func (c *IndividualCaller) CallTypes() []CallType {
	return []CallType{VariantCallType, ReferenceCallType}
}

// MinCallablePloidy implements Caller.
func (c *IndividualCaller) MinCallablePloidy() int { return 1 }

// MaxCallablePloidy implements Caller.
func (c *IndividualCaller) MaxCallablePloidy() int { return 8 }

// RemoveDuplicates implements Caller.
func (c *IndividualCaller) RemoveDuplicates(haplotypes []*genome.Haplotype, refSeq string) []*genome.Haplotype {
	if c.params.DeduplicateWithPriorModel {
		return DedupHaplotypesWithModel(haplotypes, prior.NewCoalescentModel(refSeq, c.params.Coalescent))
	}
	return DedupHaplotypes(haplotypes)
}

// InferLatents implements Caller.
func (c *IndividualCaller) InferLatents(ctx context.Context, window genome.Region, refSeq string,
	haplotypes []*genome.Haplotype, array *hmm.LikelihoodArray) (*model.Latents, error) {
	genotypes, truncated := genome.EnumerateGenotypes(haplotypes, c.params.Ploidy, c.params.MaxGenotypes)
	if truncated && len(genotypes) == 0 {
		return nil, errors.Errorf("individual caller: no genotypes within cap for %s", window)
	}
	indices := model.GenotypeIndices(genotypes, haplotypes)
	coal := prior.NewCoalescentModel(refSeq, c.params.Coalescent)
	priors := model.EvaluatePriors(coal, genotypes)
	array.Prime(c.params.Sample)
	inf := model.Individual{Prior: coal}.Evaluate(indices, priors, array)
	return model.NewLatents(haplotypes, genotypes, indices,
		map[string][]float64{c.params.Sample: inf.GenotypeLogPosteriors}, inf.LogEvidence), nil
}

// CallVariants implements Caller.
func (c *IndividualCaller) CallVariants(candidates []genome.Variant, latents *model.Latents) []Call {
	return CallSampleVariants(candidates, latents, []string{c.params.Sample}, c.params.MinVariantPosterior)
}

// CallReference implements Caller.
func (c *IndividualCaller) CallReference(alleles []genome.Allele, latents *model.Latents,
	pileups reads.PileupMap) []Call {
	return CallSampleReference(alleles, latents, pileups,
		[]string{c.params.Sample}, c.params.Ploidy, c.params.MinRefCallPosterior)
}

// ModelPosterior implements Caller.
func (c *IndividualCaller) ModelPosterior(latents *model.Latents) (float64, bool) {
	return 0, false
}

// DedupHaplotypes removes value-duplicate haplotypes, keeping first
// occurrences in sorted order.
func DedupHaplotypes(haplotypes []*genome.Haplotype) []*genome.Haplotype {
	return DedupHaplotypesWithModel(haplotypes, prior.UniformModel{})
}

// DedupHaplotypesWithModel removes value-duplicate haplotypes, keeping within
// each duplicate group the instance whose singleton genotype the prior model
// scores highest.  Duplicates materialize the same sequence from different
// allele compositions, so the prior can rank them; ties keep the first
// instance in sorted order.
func DedupHaplotypesWithModel(haplotypes []*genome.Haplotype, model prior.GenotypeModel) []*genome.Haplotype {
	genome.SortHaplotypes(haplotypes)
	var out []*genome.Haplotype
	best := make(map[string]int, len(haplotypes)) // key -> index into out
	scores := make(map[string]float64, len(haplotypes))
	for _, h := range haplotypes {
		key := h.Key()
		score := model.LogPrior(genome.NewGenotype(h))
		if i, ok := best[key]; ok {
			if score > scores[key] {
				out[i] = h
				scores[key] = score
			}
			continue
		}
		best[key] = len(out)
		scores[key] = score
		out = append(out, h)
	}
	return out
}

// CallSampleVariants emits one variant call per candidate whose marginal alt
// posterior clears the threshold in any sample.  Shared by the individual
// and population callers.
func CallSampleVariants(candidates []genome.Variant, latents *model.Latents,
	samples []string, minPosterior logprob.Phred) []Call {
	var out []Call
	for _, v := range candidates {
		best := 0.0
		for _, sample := range samples {
			if p := latents.AllelePosterior(sample, v.Alt); p > best {
				best = p
			}
		}
		quality := PosteriorQuality(best)
		if quality < minPosterior {
			continue
		}
		call := NewVariantCall(v, quality)
		for _, sample := range samples {
			post := latents.GenotypeLogPost[sample]
			mapIdx := logprob.MaxIndex(post)
			call.SetGenotypeCall(sample,
				MakeGenotypeCall(latents.Genotypes[mapIdx], v, GenotypeQuality(post)))
		}
		out = append(out, call)
	}
	return out
}

// CallSampleReference emits reference-block calls for allele runs where every
// sample's hom-ref posterior clears the threshold.  A run that falls below
// the threshold in any sample is skipped whole; runs are not split.
func CallSampleReference(alleles []genome.Allele, latents *model.Latents, pileups reads.PileupMap,
	samples []string, ploidy int, minPosterior logprob.Phred) []Call {
	var out []Call
	for _, ref := range alleles {
		quality := logprob.Phred(0)
		ok := true
		for i, sample := range samples {
			p := homRefPosterior(latents, sample, ref, pileups)
			q := PosteriorQuality(p)
			if i == 0 || q < quality {
				quality = q
			}
			if q < minPosterior {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		call := NewReferenceCall(ref, quality)
		for _, sample := range samples {
			call.SetGenotypeCall(sample, MakeReferenceGenotypeCall(ref, ploidy, quality))
		}
		out = append(out, call)
	}
	return out
}

// homRefPosterior estimates the probability that the sample is homozygous
// reference over the allele: the genotype-marginal mass on genotypes whose
// haplotypes all match the reference there, damped by observed mismatching
// pileup bases.
func homRefPosterior(latents *model.Latents, sample string, ref genome.Allele, pileups reads.PileupMap) float64 {
	post := latents.GenotypeLogPost[sample]
	probs := logprob.ExpNormalized(post)
	p := 0.0
	for gi, g := range latents.Genotypes {
		if gi >= len(probs) {
			break
		}
		all := true
		for _, h := range g.Haplotypes() {
			if !h.Includes(ref) {
				all = false
				break
			}
		}
		if all {
			p += probs[gi]
		}
	}
	if p > 1 {
		p = 1
	}
	// Require pileup agreement: positions with many high-quality mismatches
	// drag the posterior down even if no candidate existed there.
	rows := pileups[sample]
	if len(rows) == 0 {
		return p
	}
	for pos := ref.Region.Begin; pos < ref.Region.End; pos++ {
		idx := pos - rows[0].Pos
		if idx < 0 || idx >= len(rows) {
			continue
		}
		refBase := ref.Sequence[pos-ref.Region.Begin]
		row := rows[idx]
		mism := row.MismatchCount(refBase)
		match := row.MatchCount(refBase)
		if mism > 0 && mism >= match {
			p *= 0.5
		}
	}
	return p
}

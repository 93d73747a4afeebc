package caller

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/grailbio/varcall/assign"
	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/haplogen"
	"github.com/grailbio/varcall/hmm"
	"github.com/grailbio/varcall/measure"
	"github.com/grailbio/varcall/model"
	"github.com/grailbio/varcall/reads"
	"github.com/grailbio/varcall/reference"
	"github.com/grailbio/varcall/vcf"
)

// Caller is the per-window inference contract a concrete caller implements.
// The Pipeline owns everything shared: candidate merging, haplotype
// enumeration, likelihood population, deduplication, phasing, collation.
// Callers are cheap to construct and owned by a single worker; they must not
// be shared across workers.
type Caller interface {
	Name() string
	CallTypes() []CallType
	MinCallablePloidy() int
	MaxCallablePloidy() int
	// RemoveDuplicates prunes duplicate haplotypes from the pool; refSeq is
	// the window reference, available to prior-model-based pruning.
	RemoveDuplicates(haplotypes []*genome.Haplotype, refSeq string) []*genome.Haplotype
	// InferLatents runs the caller's model over the haplotype pool.  The
	// context is polled between inference iterations; on cancellation the
	// best latents so far are returned with a nil error, and the pipeline
	// then fails the window with the context's error.
	InferLatents(ctx context.Context, window genome.Region, refSeq string, haplotypes []*genome.Haplotype,
		array *hmm.LikelihoodArray) (*model.Latents, error)
	// CallVariants derives calls from candidates and inferred latents.
	CallVariants(candidates []genome.Variant, latents *model.Latents) []Call
	// CallReference derives reference-block calls for the given alleles.
	CallReference(alleles []genome.Allele, latents *model.Latents, pileups reads.PileupMap) []Call
	// ModelPosterior optionally reports the posterior that this caller's
	// model explains the window.
	ModelPosterior(latents *model.Latents) (float64, bool)
}

// Components are the external collaborators a Pipeline drives.
type Components struct {
	Reference  reference.Genome
	Reads      reads.Manager
	Generators []haplogen.Generator
	Caller     Caller
	Samples    []string
}

// Params hold pipeline-level knobs shared by all callers.
type Params struct {
	// MaxHaplotypes caps window haplotype enumeration.
	MaxHaplotypes int
	// MaxDepth caps per-position read depth before inference; 0 disables
	// downsampling.
	MaxDepth int
	// TargetReadBufferSize bounds the bytes of read sequence buffered per
	// window; excess reads are dropped deterministically from the end of the
	// sorted order.  0 disables the bound.
	TargetReadBufferSize int
	// RefCalls enables reference block emission.
	RefCalls bool
	// MinBaseQual is the pileup base-quality threshold.
	MinBaseQual byte
	// HMM configures the likelihood engine.
	HMM hmm.Config
	// Assignment configures the read re-assignment pass behind the measure
	// stage.
	Assignment assign.Config
	// Measures decorate output records; nil selects measure.DefaultMeasures.
	Measures []measure.Measure
}

// DefaultParams are the calling defaults.
var DefaultParams = Params{
	MaxHaplotypes: haplogen.DefaultOpts.MaxHaplotypes,
	MaxDepth:      1000,
	MinBaseQual:   10,
	HMM:           hmm.DefaultConfig,
}

// Pipeline drives one caller over calling windows.
type Pipeline struct {
	comps  Components
	params Params
}

// NewPipeline validates and assembles a pipeline.
func NewPipeline(comps Components, params Params) (*Pipeline, error) {
	if comps.Reference == nil || comps.Reads == nil || comps.Caller == nil {
		return nil, errors.New("caller: pipeline requires reference, reads and a caller")
	}
	if len(comps.Samples) == 0 {
		return nil, errors.Errorf("caller: %s requires at least one sample", comps.Caller.Name())
	}
	if params.MaxHaplotypes <= 0 {
		params.MaxHaplotypes = DefaultParams.MaxHaplotypes
	}
	return &Pipeline{comps: comps, params: params}, nil
}

// windowArtifacts carries what the assignment and measure stages need beyond
// the calls themselves.
type windowArtifacts struct {
	window   genome.Region
	bySample map[string][]*reads.AlignedRead
	// genotypes are the per-sample MAP haplotype genotypes, the input to
	// read re-assignment.
	genotypes map[string]genome.Genotype
}

// CallRegion runs the pipeline over one calling window up to call collation
// and returns the calls in output order.
func (p *Pipeline) CallRegion(ctx context.Context, region genome.Region) ([]Call, error) {
	calls, _, err := p.callRegion(ctx, region)
	return calls, err
}

func (p *Pipeline) callRegion(ctx context.Context, region genome.Region) ([]Call, *windowArtifacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	bySample, err := p.comps.Reads.FetchReads(p.comps.Samples, region)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "fetching reads for %s", region)
	}
	var pooled []*reads.AlignedRead
	for s, rs := range bySample {
		if p.params.MaxDepth > 0 {
			rs = reads.Downsample(rs, p.params.MaxDepth)
			bySample[s] = rs
		}
		pooled = append(pooled, rs...)
	}
	if p.params.TargetReadBufferSize > 0 {
		enforceReadBudget(bySample, p.params.TargetReadBufferSize)
	}

	candidates, err := haplogen.MergeCandidates(region, p.comps.Generators, pooled)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "generating candidates for %s", region)
	}

	window := region
	for _, v := range candidates.Variants() {
		if !v.Region().Empty() {
			window = genome.Span(window, v.Region())
		}
	}
	window, refSeq, err := reference.FetchClamped(p.comps.Reference, window)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "fetching reference for %s", window)
	}

	haplotypes, truncated := haplogen.Generate(window, refSeq, candidates.Variants(),
		haplogen.Opts{MaxHaplotypes: p.params.MaxHaplotypes})
	if truncated {
		log.Printf("%s: haplotype enumeration truncated at %d for %s",
			p.comps.Caller.Name(), p.params.MaxHaplotypes, window)
	}
	haplotypes = p.comps.Caller.RemoveDuplicates(haplotypes, refSeq)

	array, err := hmm.Populate(hmm.NewModel(p.params.HMM), haplotypes, bySample, p.comps.Reference)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "populating likelihoods for %s", window)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	latents, err := p.comps.Caller.InferLatents(ctx, window, refSeq, haplotypes, array)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "inferring latents for %s", window)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	calls := p.comps.Caller.CallVariants(candidates.Variants(), latents)
	if p.params.RefCalls {
		alleles := referenceAlleles(region, refSeq, window, calls)
		if len(alleles) > 0 {
			pileups := reads.BuildPileups(bySample, region, p.params.MinBaseQual)
			calls = append(calls, p.comps.Caller.CallReference(alleles, latents, pileups)...)
		}
	}
	if mp, ok := p.comps.Caller.ModelPosterior(latents); ok {
		for _, c := range calls {
			if sc, ok := c.(interface{ SetModelPosterior(float64) }); ok {
				sc.SetModelPosterior(mp)
			}
		}
	}
	PhaseCalls(calls)
	artifacts := &windowArtifacts{
		window:    window,
		bySample:  bySample,
		genotypes: make(map[string]genome.Genotype, len(p.comps.Samples)),
	}
	for _, sample := range p.comps.Samples {
		if post, ok := latents.GenotypeLogPost[sample]; ok && len(post) > 0 {
			artifacts.genotypes[sample] = latents.Genotypes[latents.MAPGenotype(sample)]
		}
	}
	return Collate(calls), artifacts, nil
}

// CallRegionRecords runs the full per-window flow the output stage consumes:
// calls are rendered into records, reads are re-assigned against each
// sample's called haplotypes, and the measure set decorates every record.
func (p *Pipeline) CallRegionRecords(ctx context.Context, region genome.Region) ([]*vcf.Record, error) {
	calls, artifacts, err := p.callRegion(ctx, region)
	if err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, nil
	}
	engine := measure.NewEngine(measure.Inputs{
		Region:        artifacts.window,
		Reference:     p.comps.Reference,
		Samples:       p.comps.Samples,
		ReadsBySample: artifacts.bySample,
		Genotypes:     artifacts.genotypes,
		Assignment:    p.params.Assignment,
	})
	measures := p.params.Measures
	if measures == nil {
		measures = measure.DefaultMeasures()
	}
	records := make([]*vcf.Record, 0, len(calls))
	for _, c := range calls {
		rec := BuildRecord(c, p.comps.Samples)
		results, err := measure.Apply(measures, rec, engine)
		if err != nil {
			return nil, errors.Wrapf(err, "measuring record at %s", c.Region())
		}
		applyMeasureResults(rec, measures, results, p.comps.Samples)
		records = append(records, rec)
	}
	return records, nil
}

// applyMeasureResults writes measure outputs into the record: per-sample
// vectors as FORMAT fields, scalars as INFO keys.
func applyMeasureResults(rec *vcf.Record, measures []measure.Measure, results map[string]interface{}, samples []string) {
	for _, m := range measures {
		value, ok := results[m.Name()]
		if !ok {
			continue
		}
		switch m.Cardinality() {
		case measure.CardinalityNumSamples:
			vs := value.([]int)
			for i, sample := range samples {
				if i < len(vs) {
					rec.SetSampleField(sample, m.Name(), strconv.Itoa(vs[i]))
				}
			}
		case measure.CardinalityOne:
			rec.Info[m.Name()] = fmt.Sprint(value)
		}
	}
}

// enforceReadBudget trims each sample's read list, round-robin from the end
// of sorted order, until total buffered sequence fits the byte budget.
func enforceReadBudget(bySample map[string][]*reads.AlignedRead, budget int) {
	total := 0
	for _, rs := range bySample {
		for _, r := range rs {
			total += len(r.Seq)
		}
	}
	if total <= budget {
		return
	}
	samples := make([]string, 0, len(bySample))
	for s := range bySample {
		samples = append(samples, s)
	}
	sort.Strings(samples)
	for total > budget {
		trimmed := false
		for _, s := range samples {
			rs := bySample[s]
			if len(rs) == 0 {
				continue
			}
			total -= len(rs[len(rs)-1].Seq)
			bySample[s] = rs[:len(rs)-1]
			trimmed = true
			if total <= budget {
				break
			}
		}
		if !trimmed {
			break
		}
	}
}

// referenceAlleles lists maximal runs of region positions not covered by any
// variant call, as reference alleles.
func referenceAlleles(region genome.Region, refSeq string, window genome.Region, calls []Call) []genome.Allele {
	covered := make([]bool, region.Size())
	for _, c := range calls {
		r := c.Region()
		for pos := maxInt(r.Begin, region.Begin); pos < minInt(r.End, region.End); pos++ {
			covered[pos-region.Begin] = true
		}
	}
	var out []genome.Allele
	for i := 0; i < len(covered); {
		if covered[i] {
			i++
			continue
		}
		j := i
		for j < len(covered) && !covered[j] {
			j++
		}
		begin, end := region.Begin+i, region.Begin+j
		out = append(out, genome.Allele{
			Region:   genome.Region{Contig: region.Contig, Begin: begin, End: end},
			Sequence: refSeq[begin-window.Begin : end-window.Begin],
		})
		i = j
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package measure

import (
	"strconv"

	"github.com/grailbio/varcall/assign"
	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/reads"
	"github.com/grailbio/varcall/vcf"
)

func recordRegion(rec *vcf.Record) genome.Region {
	end := rec.Pos + len(rec.Ref)
	if end == rec.Pos {
		end++
	}
	return genome.Region{Contig: rec.Chrom, Begin: rec.Pos, End: end}
}

func recordAlleles(rec *vcf.Record) []genome.Allele {
	region := genome.Region{Contig: rec.Chrom, Begin: rec.Pos, End: rec.Pos + len(rec.Ref)}
	out := []genome.Allele{{Region: region, Sequence: rec.Ref}}
	for _, alt := range rec.Alts {
		out = append(out, genome.Allele{Region: region, Sequence: alt})
	}
	return out
}

// Depth reports per-sample read depth over the record.
type Depth struct{}

// Name implements Measure.
func (Depth) Name() string { return "DP" }

// Describe implements Measure.
func (Depth) Describe() string { return "Number of reads overlapping the call position" }

// Cardinality implements Measure.
func (Depth) Cardinality() ResultCardinality { return CardinalityNumSamples }

// Requirements implements Measure.
func (Depth) Requirements() []string { return []string{FacetSamples, FacetReads} }

// Evaluate implements Measure.
func (Depth) Evaluate(rec *vcf.Record, facets FacetMap) (interface{}, error) {
	samples := facets[FacetSamples].([]string)
	bySample := facets[FacetReads].(map[string][]*reads.AlignedRead)
	region := recordRegion(rec)
	out := make([]int, len(samples))
	for i, sample := range samples {
		for _, r := range bySample[sample] {
			if r.Region().Overlaps(region) {
				out[i]++
			}
		}
	}
	return out, nil
}

// MeanMappingQuality reports per-sample mean MAPQ over the record.
type MeanMappingQuality struct{}

// Name implements Measure.
func (MeanMappingQuality) Name() string { return "MQ" }

// Describe implements Measure.
func (MeanMappingQuality) Describe() string { return "Mean mapping quality of overlapping reads" }

// Cardinality implements Measure.
func (MeanMappingQuality) Cardinality() ResultCardinality { return CardinalityNumSamples }

// Requirements implements Measure.
func (MeanMappingQuality) Requirements() []string { return []string{FacetSamples, FacetReads} }

// Evaluate implements Measure.
func (MeanMappingQuality) Evaluate(rec *vcf.Record, facets FacetMap) (interface{}, error) {
	samples := facets[FacetSamples].([]string)
	bySample := facets[FacetReads].(map[string][]*reads.AlignedRead)
	region := recordRegion(rec)
	out := make([]int, len(samples))
	for i, sample := range samples {
		sum, n := 0, 0
		for _, r := range bySample[sample] {
			if r.Region().Overlaps(region) {
				sum += int(r.MapQ)
				n++
			}
		}
		if n > 0 {
			out[i] = sum / n
		}
	}
	return out, nil
}

// GenotypeQuality extracts the per-sample GQ field already present on the
// record.
type GenotypeQuality struct{}

// Name implements Measure.
func (GenotypeQuality) Name() string { return "GQ" }

// Describe implements Measure.
func (GenotypeQuality) Describe() string { return "Genotype quality" }

// Cardinality implements Measure.
func (GenotypeQuality) Cardinality() ResultCardinality { return CardinalityNumSamples }

// Requirements implements Measure.
func (GenotypeQuality) Requirements() []string { return []string{FacetSamples} }

// Evaluate implements Measure.
func (GenotypeQuality) Evaluate(rec *vcf.Record, facets FacetMap) (interface{}, error) {
	samples := facets[FacetSamples].([]string)
	out := make([]int, len(samples))
	for i, sample := range samples {
		if v, ok := rec.Samples[sample]["GQ"]; ok {
			q, err := strconv.Atoi(v)
			if err == nil {
				out[i] = q
			}
		}
	}
	return out, nil
}

// AssignedDepth counts per-sample reads assignable to the record's called
// alleles.
type AssignedDepth struct{}

// Name implements Measure.
func (AssignedDepth) Name() string { return "ADP" }

// Describe implements Measure.
func (AssignedDepth) Describe() string {
	return "Number of reads overlapping the position that could be assigned to an allele"
}

// Cardinality implements Measure.
func (AssignedDepth) Cardinality() ResultCardinality { return CardinalityNumSamples }

// Requirements implements Measure.
func (AssignedDepth) Requirements() []string {
	return []string{FacetSamples, FacetReadAssignments}
}

// Evaluate implements Measure.
func (AssignedDepth) Evaluate(rec *vcf.Record, facets FacetMap) (interface{}, error) {
	samples := facets[FacetSamples].([]string)
	assignments := facets[FacetReadAssignments].(Assignments)
	alleles := recordAlleles(rec)
	out := make([]int, len(samples))
	for i, sample := range samples {
		support := assignments.Support[sample]
		if support == nil {
			continue
		}
		alleleSupport := assign.AlleleSupportWithAmbiguous(alleles, support, assignments.Ambiguous[sample])
		for _, rs := range alleleSupport {
			out[i] += len(rs)
		}
	}
	return out, nil
}

// STRLength reports the length of the short tandem repeat context
// overlapping the record, zero when none.
type STRLength struct{}

// Name implements Measure.
func (STRLength) Name() string { return "STRL" }

// Describe implements Measure.
func (STRLength) Describe() string { return "Length of overlapping STR" }

// Cardinality implements Measure.
func (STRLength) Cardinality() ResultCardinality { return CardinalityOne }

// Requirements implements Measure.
func (STRLength) Requirements() []string {
	return []string{FacetReferenceContext, FacetAlleles}
}

// Evaluate implements Measure.
func (STRLength) Evaluate(rec *vcf.Record, facets FacetMap) (interface{}, error) {
	ctx := facets[FacetReferenceContext].(ReferenceContext)
	repeats := FindTandemRepeats(ctx.Sequence, ctx.Region, 1, 4)
	// Discount a possible reference pad when testing containment.
	callRegion := recordRegion(rec).Expand(1, 0)
	best := 0
	for _, rep := range repeats {
		if rep.Region.Overlaps(callRegion) && rep.Region.Size() > best {
			best = rep.Region.Size()
		}
	}
	return best, nil
}

// TandemRepeat is one exact repeat run.
type TandemRepeat struct {
	Region genome.Region
	Period int
}

// FindTandemRepeats scans seq (mapped at region) for exact tandem repeats
// with periods in [minPeriod, maxPeriod] spanning at least two full copies.
func FindTandemRepeats(seq string, region genome.Region, minPeriod, maxPeriod int) []TandemRepeat {
	var out []TandemRepeat
	for period := minPeriod; period <= maxPeriod; period++ {
		i := 0
		for i+2*period <= len(seq) {
			j := i
			for j+period < len(seq) && seq[j] == seq[j+period] {
				j++
			}
			runLen := j + period - i
			if runLen >= 2*period && j > i {
				out = append(out, TandemRepeat{
					Region: genome.Region{Contig: region.Contig, Begin: region.Begin + i, End: region.Begin + i + runLen},
					Period: period,
				})
				i = j + period
			} else {
				i++
			}
		}
	}
	return out
}

package caller

import (
	"strconv"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/vcf"
)

// BuildRecord renders a call into an output record for the given sample
// column order.  GT always leads FORMAT; phased genotypes use '|' and carry a
// PS phase-set id anchored at the phase block start.
func BuildRecord(c Call, samples []string) *vcf.Record {
	ref, alts := c.Alleles()
	rec := vcf.NewRecord(c.Region().Contig, c.Region().Begin)
	rec.Ref = ref.Sequence
	for _, a := range alts {
		rec.Alts = append(rec.Alts, a.Sequence)
	}
	rec.Qual = float64(c.Quality())
	for _, sample := range samples {
		gc, ok := c.GenotypeCall(sample)
		if !ok {
			continue
		}
		phased := gc.Phase != nil
		indices := make([]int, len(gc.Genotype.Alleles))
		for i, a := range gc.Genotype.Alleles {
			indices[i] = alleleIndex(a, ref, alts)
		}
		rec.SetSampleField(sample, "GT", vcf.FormatGenotype(indices, phased))
		rec.SetSampleField(sample, "GQ", strconv.Itoa(int(gc.Quality)))
		if phased {
			rec.SetSampleField(sample, "PS", strconv.Itoa(gc.Phase.Region.Begin+1))
		}
	}
	c.Decorate(rec)
	return rec
}

func alleleIndex(a, ref genome.Allele, alts []genome.Allele) int {
	if a.Equal(ref) {
		return 0
	}
	for i, alt := range alts {
		if a.Equal(alt) {
			return i + 1
		}
	}
	return -1
}

// SentinelRecord is the "calling failed" record emitted when a window's
// worker times out or aborts; the run continues.
func SentinelRecord(window genome.Region, reason string) *vcf.Record {
	rec := vcf.NewRecord(window.Contig, window.Begin)
	rec.AddFilter("FAIL")
	rec.Info["END"] = strconv.Itoa(window.End)
	rec.Info["FAILREASON"] = reason
	return rec
}

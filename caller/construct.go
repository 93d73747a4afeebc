package caller

import (
	"math"
	"sort"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/logprob"
)

// alleleAtSite returns the allele a haplotype carries at the variant's site.
func alleleAtSite(h *genome.Haplotype, v genome.Variant) genome.Allele {
	if h.Includes(v.Alt) {
		return v.Alt
	}
	return v.Ref
}

// MakeGenotypeCall renders a haplotype genotype into an allele genotype at
// the variant's site, preserving haplotype slot order so that phased
// rendering stays consistent across sites of one window.
func MakeGenotypeCall(g genome.Genotype, v genome.Variant, quality logprob.Phred) *GenotypeCall {
	hs := g.Haplotypes()
	alleles := make([]genome.Allele, len(hs))
	for i, h := range hs {
		alleles[i] = alleleAtSite(h, v)
	}
	return &GenotypeCall{
		Genotype: genome.AlleleGenotype{Alleles: alleles},
		Quality:  quality,
	}
}

// MakeReferenceGenotypeCall renders a hom-ref genotype call of the given
// ploidy.
func MakeReferenceGenotypeCall(ref genome.Allele, ploidy int, quality logprob.Phred) *GenotypeCall {
	alleles := make([]genome.Allele, ploidy)
	for i := range alleles {
		alleles[i] = ref
	}
	return &GenotypeCall{
		Genotype: genome.AlleleGenotype{Alleles: alleles},
		Quality:  quality,
	}
}

// GenotypeQuality converts the MAP genotype's posterior into a Phred quality
// of the complement.
func GenotypeQuality(logPost []float64) logprob.Phred {
	best := logprob.MaxIndex(logPost)
	p := 0.0
	for i, lp := range logPost {
		if i != best {
			p += expClamped(lp)
		}
	}
	return errorPhred(p)
}

// PosteriorQuality converts an event posterior into Phred of its complement.
func PosteriorQuality(p float64) logprob.Phred {
	return errorPhred(1 - p)
}

func errorPhred(errProb float64) logprob.Phred {
	if errProb < 1e-300 {
		errProb = 1e-300
	}
	if errProb > 1 {
		errProb = 1
	}
	return logprob.PhredFromProbability(errProb)
}

func expClamped(lp float64) float64 {
	if lp < -700 {
		return 0
	}
	return math.Exp(lp)
}

// Collate sorts calls into output order and resolves conflicts: calls over
// identical regions with conflicting genotypes collapse to the
// highest-quality representation, ties broken by (region, lexicographic
// allele).
func Collate(calls []Call) []Call {
	sort.SliceStable(calls, func(i, j int) bool { return compareCalls(calls[i], calls[j]) < 0 })
	var out []Call
	for _, c := range calls {
		if len(out) > 0 {
			prev := out[len(out)-1]
			if prev.Region() == c.Region() && conflicting(prev, c) {
				if c.Quality() > prev.Quality() {
					out[len(out)-1] = c
				}
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func compareCalls(a, b Call) int {
	if c := a.Region().Compare(b.Region()); c != 0 {
		return c
	}
	aRef, aAlts := a.Alleles()
	bRef, bAlts := b.Alleles()
	if c := a2s(aRef) != a2s(bRef); c {
		if a2s(aRef) < a2s(bRef) {
			return -1
		}
		return 1
	}
	aKey, bKey := altKey(aAlts), altKey(bAlts)
	if aKey != bKey {
		if aKey < bKey {
			return -1
		}
		return 1
	}
	return 0
}

func a2s(a genome.Allele) string { return a.Sequence }

func altKey(alts []genome.Allele) string {
	out := ""
	for i, a := range alts {
		if i > 0 {
			out += ","
		}
		out += a.Sequence
	}
	return out
}

// conflicting reports whether two same-region calls disagree on any shared
// sample's genotype.
func conflicting(a, b Call) bool {
	for _, sample := range a.Samples() {
		ga, okA := a.GenotypeCall(sample)
		gb, okB := b.GenotypeCall(sample)
		if !okA || !okB {
			continue
		}
		if !sameAlleleGenotype(ga.Genotype, gb.Genotype) {
			return true
		}
	}
	return false
}

func sameAlleleGenotype(a, b genome.AlleleGenotype) bool {
	if len(a.Alleles) != len(b.Alleles) {
		return false
	}
	as := append([]genome.Allele(nil), a.Alleles...)
	bs := append([]genome.Allele(nil), b.Alleles...)
	sortAlleles(as)
	sortAlleles(bs)
	for i := range as {
		if !as[i].Equal(bs[i]) {
			return false
		}
	}
	return true
}

func sortAlleles(as []genome.Allele) {
	sort.Slice(as, func(i, j int) bool { return as[i].Compare(as[j]) < 0 })
}

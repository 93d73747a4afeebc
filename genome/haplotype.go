package genome

import (
	"sort"
	"strings"

	"github.com/grailbio/base/log"
)

// Haplotype is an ordered list of non-overlapping alleles over a contiguous
// region, materialized as the reference sequence spliced with the allele
// sequences.  Haplotypes are immutable once built; pipelines share them by
// pointer and use pointer identity for map keys within one calling window.
type Haplotype struct {
	region   Region
	alleles  []Allele // region-sorted, non-overlapping
	sequence string   // materialized over region
}

// NewHaplotype splices alleles into the reference sequence of region.  refSeq
// must be the reference sequence of exactly that region.  The alleles are
// sorted by region; overlapping alleles or alleles extending outside the
// region are an internal invariant violation and panic.
func NewHaplotype(region Region, refSeq string, alleles []Allele) *Haplotype {
	if len(refSeq) != region.Size() {
		log.Panicf("haplotype %s: reference sequence length %d != region size %d",
			region, len(refSeq), region.Size())
	}
	sorted := append([]Allele(nil), alleles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Compare(sorted[j]) < 0 })
	var sb strings.Builder
	pos := region.Begin
	for _, a := range sorted {
		if !region.Contains(a.Region) {
			log.Panicf("haplotype %s: allele %s outside region", region, a)
		}
		if a.Region.Begin < pos {
			log.Panicf("haplotype %s: overlapping alleles at %s", region, a.Region)
		}
		sb.WriteString(refSeq[pos-region.Begin : a.Region.Begin-region.Begin])
		sb.WriteString(a.Sequence)
		pos = a.Region.End
	}
	sb.WriteString(refSeq[pos-region.Begin:])
	return &Haplotype{region: region, alleles: sorted, sequence: sb.String()}
}

// Region returns the mapped region of the haplotype.
func (h *Haplotype) Region() Region { return h.region }

// Sequence returns the materialized nucleotide sequence.
func (h *Haplotype) Sequence() string { return h.sequence }

// Alleles returns the haplotype's alleles in region order.  The returned
// slice must not be modified.
func (h *Haplotype) Alleles() []Allele { return h.alleles }

// Key returns a value-equality key: two haplotypes with equal keys cover the
// same region with the same sequence.
func (h *Haplotype) Key() string { return h.region.String() + "|" + h.sequence }

// Equal reports value equality (same region, same materialized sequence).
func (h *Haplotype) Equal(other *Haplotype) bool {
	return h.region == other.region && h.sequence == other.sequence
}

// Includes reports whether the haplotype carries the given allele: either the
// allele is one of the haplotype's own, or the allele region lies inside the
// haplotype, no carried allele overlaps it, and its sequence matches the
// haplotype's materialization there (i.e. a reference allele).
func (h *Haplotype) Includes(a Allele) bool {
	if !h.region.Contains(a.Region) {
		return false
	}
	for _, own := range h.alleles {
		if own.Equal(a) {
			return true
		}
		if own.Region.Overlaps(a.Region) || (own.Region.Empty() && a.Region.Empty() && own.Region.Begin == a.Region.Begin) {
			return false
		}
	}
	// No carried allele touches a.Region, so the materialized sequence there
	// is pure reference shifted by upstream indels.
	offset := a.Region.Begin - h.region.Begin
	for _, own := range h.alleles {
		if own.Region.End <= a.Region.Begin {
			offset += len(own.Sequence) - own.Region.Size()
		}
	}
	if offset < 0 || offset+len(a.Sequence) > len(h.sequence) {
		return false
	}
	return h.sequence[offset:offset+len(a.Sequence)] == a.Sequence
}

// Differences counts SNV and indel differences between the haplotype's
// alleles and the reference over its region.  Alleles identical in length to
// their region count one SNV per mismatching base; others count one indel.
func (h *Haplotype) Differences(refSeq string) (snvs, indels int) {
	for _, a := range h.alleles {
		if len(a.Sequence) == a.Region.Size() {
			off := a.Region.Begin - h.region.Begin
			for i := 0; i < len(a.Sequence); i++ {
				if refSeq[off+i] != a.Sequence[i] {
					snvs++
				}
			}
		} else {
			indels++
		}
	}
	return snvs, indels
}

// ExpandHaplotype rebuilds the haplotype over a wider region given the
// reference sequence of that region.  Used to add alignment padding before
// pair-HMM evaluation.
func ExpandHaplotype(h *Haplotype, region Region, refSeq string) *Haplotype {
	if !region.Contains(h.region) {
		log.Panicf("ExpandHaplotype: %s does not contain %s", region, h.region)
	}
	return NewHaplotype(region, refSeq, h.alleles)
}

// SortHaplotypes sorts by (region, sequence) for deterministic iteration.
// The sort is stable so value-duplicate haplotypes keep their input order.
func SortHaplotypes(haplotypes []*Haplotype) {
	sort.SliceStable(haplotypes, func(i, j int) bool {
		if c := haplotypes[i].region.Compare(haplotypes[j].region); c != 0 {
			return c < 0
		}
		return haplotypes[i].sequence < haplotypes[j].sequence
	})
}

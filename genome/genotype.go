package genome

import (
	"sort"
	"strings"
)

// Genotype is a multiset of haplotypes with fixed ploidy = len.  The backing
// slice is kept sorted by haplotype key so that two genotypes containing the
// same multiset compare equal by Key.
type Genotype struct {
	haplotypes []*Haplotype
}

// NewGenotype builds a genotype from the given haplotypes.
func NewGenotype(haplotypes ...*Haplotype) Genotype {
	hs := append([]*Haplotype(nil), haplotypes...)
	sort.Slice(hs, func(i, j int) bool { return hs[i].Key() < hs[j].Key() })
	return Genotype{haplotypes: hs}
}

// Ploidy returns the number of haplotypes, counting repeats.
func (g Genotype) Ploidy() int { return len(g.haplotypes) }

// Haplotypes returns the sorted haplotype slice.  Do not modify.
func (g Genotype) Haplotypes() []*Haplotype { return g.haplotypes }

// IsHomozygous reports whether all haplotypes are value-equal.
func (g Genotype) IsHomozygous() bool {
	for _, h := range g.haplotypes[1:] {
		if !h.Equal(g.haplotypes[0]) {
			return false
		}
	}
	return true
}

// CopyUnique returns the distinct haplotypes in key order.
func (g Genotype) CopyUnique() []*Haplotype {
	var out []*Haplotype
	for i, h := range g.haplotypes {
		if i == 0 || !h.Equal(g.haplotypes[i-1]) {
			out = append(out, h)
		}
	}
	return out
}

// Contains reports whether the genotype carries a haplotype value-equal to h.
func (g Genotype) Contains(h *Haplotype) bool {
	for _, own := range g.haplotypes {
		if own.Equal(h) {
			return true
		}
	}
	return false
}

// ContainsAllele reports whether any haplotype in the genotype includes the
// allele.
func (g Genotype) ContainsAllele(a Allele) bool {
	for _, h := range g.haplotypes {
		if h.Includes(a) {
			return true
		}
	}
	return false
}

// Key returns a canonical multiset key.
func (g Genotype) Key() string {
	keys := make([]string, len(g.haplotypes))
	for i, h := range g.haplotypes {
		keys[i] = h.Key()
	}
	return strings.Join(keys, "+")
}

// EnumerateGenotypes lists every multiset of the given ploidy drawn from
// haplotypes, in deterministic order.  The count is C(n+p-1, p); callers
// bound it with maxGenotypes (0 means unbounded).  Returns the enumeration
// and whether it was truncated.
func EnumerateGenotypes(haplotypes []*Haplotype, ploidy, maxGenotypes int) ([]Genotype, bool) {
	var out []Genotype
	truncated := false
	idx := make([]int, ploidy)
	var rec func(start, k int)
	rec = func(start, k int) {
		if truncated {
			return
		}
		if k == ploidy {
			if maxGenotypes > 0 && len(out) >= maxGenotypes {
				truncated = true
				return
			}
			hs := make([]*Haplotype, ploidy)
			for i, j := range idx {
				hs[i] = haplotypes[j]
			}
			out = append(out, NewGenotype(hs...))
			return
		}
		for i := start; i < len(haplotypes); i++ {
			idx[k] = i
			rec(i, k+1)
		}
	}
	rec(0, 0)
	return out, truncated
}

// AlleleGenotype is a genotype over alleles at a single site, used for calls.
// Alleles are in haplotype slot order; phase is carried by the enclosing
// call, and rendering keeps slot order whether or not the call is phased.
type AlleleGenotype struct {
	Alleles []Allele
}

// Ploidy returns the number of alleles.
func (g AlleleGenotype) Ploidy() int { return len(g.Alleles) }

// IsHomozygous reports whether all alleles are equal.
func (g AlleleGenotype) IsHomozygous() bool {
	for _, a := range g.Alleles[1:] {
		if !a.Equal(g.Alleles[0]) {
			return false
		}
	}
	return true
}

// CancerGenotype pairs a germline genotype with a somatic haplotype set.
// Somatic haplotypes are treated as distinct from germline ones for
// likelihood purposes even if value-equal.
type CancerGenotype struct {
	Germline Genotype
	Somatic  Genotype
}

// Ploidy returns the total number of haplotypes across both components.
func (g CancerGenotype) Ploidy() int { return g.Germline.Ploidy() + g.Somatic.Ploidy() }

// Haplotypes returns germline haplotypes followed by somatic ones.
func (g CancerGenotype) Haplotypes() []*Haplotype {
	out := append([]*Haplotype(nil), g.Germline.Haplotypes()...)
	return append(out, g.Somatic.Haplotypes()...)
}

// Demote flattens the cancer genotype into a plain genotype.
func (g CancerGenotype) Demote() Genotype {
	return NewGenotype(g.Haplotypes()...)
}

// Key returns a canonical key separating the two components.
func (g CancerGenotype) Key() string { return g.Germline.Key() + "//" + g.Somatic.Key() }

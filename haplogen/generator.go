package haplogen

import (
	"sort"

	"github.com/grailbio/varcall/genome"
)

// Opts bounds haplotype generation.
type Opts struct {
	// MaxHaplotypes caps the number of haplotypes emitted for a window.
	MaxHaplotypes int
}

// DefaultOpts matches typical short-read calling.
var DefaultOpts = Opts{MaxHaplotypes: 200}

// Generate enumerates the haplotypes consistent with the candidate variants
// over the window: every subset of mutually compatible (non-overlapping)
// alternate alleles, spliced into the reference.  The reference haplotype is
// always first.  Enumeration prefers haplotypes with fewer alternate alleles
// so that truncation under MaxHaplotypes drops the most complex combinations
// first; the second return reports whether truncation occurred.
func Generate(window genome.Region, refSeq string, candidates []genome.Variant, opts Opts) ([]*genome.Haplotype, bool) {
	maxHaps := opts.MaxHaplotypes
	if maxHaps <= 0 {
		maxHaps = DefaultOpts.MaxHaplotypes
	}
	inWindow := make([]genome.Variant, 0, len(candidates))
	for _, v := range candidates {
		if window.Contains(v.Region()) || (v.Region().Empty() && window.ContainsPos(v.Region().Begin)) {
			inWindow = append(inWindow, v)
		}
	}
	sort.Slice(inWindow, func(i, j int) bool {
		return genome.CompareVariants(inWindow[i], inWindow[j]) < 0
	})

	// Breadth-first over allele-count layers: layer k holds every compatible
	// selection of k alternate alleles.  Each selection tracks the index of
	// its last variant so extensions stay ordered and overlap checks are a
	// single comparison against the selection's rightmost end.
	type selection struct {
		alleles      []genome.Allele
		lastIdx      int
		lastEnd      int
		lastEmptyPos int // anchor of the last insertion taken, -1 otherwise
	}
	layer := []selection{{lastIdx: -1, lastEnd: -1 << 62, lastEmptyPos: -1}}
	out := []*genome.Haplotype{genome.NewHaplotype(window, refSeq, nil)}
	truncated := false
	for len(layer) > 0 && len(out) < maxHaps {
		var next []selection
		for _, sel := range layer {
			for i := sel.lastIdx + 1; i < len(inWindow); i++ {
				v := inWindow[i]
				if v.Region().Begin < sel.lastEnd {
					continue
				}
				if v.Region().Empty() && v.Region().Begin == sel.lastEmptyPos {
					continue // competing insertions at one anchor
				}
				alleles := append(append([]genome.Allele(nil), sel.alleles...), v.Alt)
				if len(out)+len(next) >= maxHaps {
					truncated = true
					break
				}
				emptyPos := -1
				if v.Region().Empty() {
					emptyPos = v.Region().Begin
				}
				next = append(next, selection{alleles: alleles, lastIdx: i, lastEnd: v.Region().End, lastEmptyPos: emptyPos})
			}
			if truncated {
				break
			}
		}
		for _, sel := range next {
			if len(out) >= maxHaps {
				truncated = true
				break
			}
			out = append(out, genome.NewHaplotype(window, refSeq, sel.alleles))
		}
		layer = next
	}
	return out, truncated
}

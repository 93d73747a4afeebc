// Package haplogen turns candidate variants into the haplotype pool a caller
// enumerates genotypes over: candidate merging and deduplication, overlap
// queries, and bounded haplotype generation.
package haplogen

import (
	"sort"

	"github.com/biogo/store/interval"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/reads"
)

// Generator is the candidate-variant source contract.  Discovery itself
// (assembly, pileup scanning, realignment) lives behind this interface.
type Generator interface {
	// Generate lists candidate variants overlapping region.
	Generate(region genome.Region) ([]genome.Variant, error)
	// RequiresReads reports whether the generator needs reads before
	// Generate is called.
	RequiresReads() bool
	// AddReads feeds reads to reads-dependent generators; a no-op otherwise.
	AddReads(rs []*reads.AlignedRead)
}

// SliceGenerator serves a fixed candidate list; the test and small-input
// generator.
type SliceGenerator struct {
	Variants []genome.Variant
}

// Generate implements Generator.
func (g *SliceGenerator) Generate(region genome.Region) ([]genome.Variant, error) {
	var out []genome.Variant
	for _, v := range g.Variants {
		if v.Region().Overlaps(region) || (v.Region().Empty() && region.ContainsPos(v.Region().Begin)) {
			out = append(out, v)
		}
	}
	return out, nil
}

// RequiresReads implements Generator.
func (g *SliceGenerator) RequiresReads() bool { return false }

// AddReads implements Generator.
func (g *SliceGenerator) AddReads([]*reads.AlignedRead) {}

type candidateEntry struct {
	variant genome.Variant
	id      uintptr
}

func (e candidateEntry) Overlap(r interval.IntRange) bool {
	begin, end := e.variant.Region().Begin, e.variant.Region().End
	if begin == end {
		end++ // empty insertion anchors occupy their anchor position for overlap
	}
	return begin < r.End && r.Start < end
}

func (e candidateEntry) ID() uintptr { return e.id }

func (e candidateEntry) Range() interval.IntRange {
	begin, end := e.variant.Region().Begin, e.variant.Region().End
	if begin == end {
		end++
	}
	return interval.IntRange{Start: begin, End: end}
}

// CandidateSet is a merged, deduplicated candidate collection over one
// region, indexed for overlap queries.
type CandidateSet struct {
	variants []genome.Variant
	trees    map[string]*interval.IntTree
}

// MergeCandidates combines the output of several generators over region into
// a deduplicated, sorted CandidateSet.
func MergeCandidates(region genome.Region, generators []Generator, rs []*reads.AlignedRead) (*CandidateSet, error) {
	seen := make(map[string]bool)
	var merged []genome.Variant
	for _, g := range generators {
		if g.RequiresReads() {
			g.AddReads(rs)
		}
		vs, err := g.Generate(region)
		if err != nil {
			return nil, err
		}
		for _, v := range vs {
			key := v.String()
			if !seen[key] {
				seen[key] = true
				merged = append(merged, v)
			}
		}
	}
	sort.Slice(merged, func(i, j int) bool { return genome.CompareVariants(merged[i], merged[j]) < 0 })
	return NewCandidateSet(merged), nil
}

// NewCandidateSet indexes an already-deduplicated variant list.
func NewCandidateSet(variants []genome.Variant) *CandidateSet {
	s := &CandidateSet{variants: variants, trees: make(map[string]*interval.IntTree)}
	for i, v := range variants {
		tree := s.trees[v.Region().Contig]
		if tree == nil {
			tree = &interval.IntTree{}
			s.trees[v.Region().Contig] = tree
		}
		// Insert without immediate rebalance bookkeeping; AdjustRanges runs
		// once after the batch.
		_ = tree.Insert(candidateEntry{variant: v, id: uintptr(i)}, true)
	}
	for _, tree := range s.trees {
		tree.AdjustRanges()
	}
	return s
}

// Variants returns all candidates in (region, ref, alt) order.
func (s *CandidateSet) Variants() []genome.Variant { return s.variants }

// Overlapping returns the candidates overlapping region, in order.
func (s *CandidateSet) Overlapping(region genome.Region) []genome.Variant {
	tree := s.trees[region.Contig]
	if tree == nil {
		return nil
	}
	probe := candidateEntry{variant: genome.Variant{
		Ref: genome.Allele{Region: region},
		Alt: genome.Allele{Region: region},
	}}
	var out []genome.Variant
	for _, m := range tree.Get(probe) {
		out = append(out, m.(candidateEntry).variant)
	}
	sort.Slice(out, func(i, j int) bool { return genome.CompareVariants(out[i], out[j]) < 0 })
	return out
}

package haplogen

import (
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/varcall/genome"
)

func region(begin, end int) genome.Region {
	return genome.Region{Contig: "chr1", Begin: begin, End: end}
}

func snv(pos int, ref, alt string) genome.Variant {
	return genome.MustVariant(
		genome.Allele{Region: region(pos, pos+1), Sequence: ref},
		genome.Allele{Region: region(pos, pos+1), Sequence: alt},
	)
}

func TestCandidateSetOverlap(t *testing.T) {
	vs := []genome.Variant{snv(5, "A", "C"), snv(5, "A", "G"), snv(9, "C", "T")}
	s := NewCandidateSet(vs)
	expect.EQ(t, len(s.Variants()), 3)

	got := s.Overlapping(region(4, 6))
	require.Equal(t, 2, len(got))
	expect.EQ(t, got[0].Alt.Sequence, "C")
	expect.EQ(t, got[1].Alt.Sequence, "G")
	expect.EQ(t, len(s.Overlapping(region(6, 9))), 0)
	expect.EQ(t, len(s.Overlapping(genome.Region{Contig: "chr2", Begin: 0, End: 100})), 0)
}

func TestMergeCandidatesDeduplicates(t *testing.T) {
	a := &SliceGenerator{Variants: []genome.Variant{snv(5, "A", "C"), snv(9, "C", "T")}}
	b := &SliceGenerator{Variants: []genome.Variant{snv(5, "A", "C"), snv(2, "G", "A")}}
	s, err := MergeCandidates(region(0, 20), []Generator{a, b}, nil)
	require.NoError(t, err)
	got := s.Variants()
	require.Equal(t, 3, len(got))
	// Sorted by (region, ref, alt).
	expect.EQ(t, got[0].Region().Begin, 2)
	expect.EQ(t, got[1].Region().Begin, 5)
	expect.EQ(t, got[2].Region().Begin, 9)
}

const refSeq16 = "ACGTACGTACGTACGT"

func TestGenerateEnumeratesCompatibleSubsets(t *testing.T) {
	window := region(0, 16)
	candidates := []genome.Variant{snv(3, "T", "A"), snv(8, "A", "G")}
	haps, truncated := Generate(window, refSeq16, candidates, DefaultOpts)
	expect.False(t, truncated)
	// {} {3} {8} {3,8}
	require.Equal(t, 4, len(haps))
	expect.EQ(t, haps[0].Sequence(), refSeq16)
	seqs := make(map[string]bool)
	for _, h := range haps {
		seqs[h.Sequence()] = true
	}
	expect.True(t, seqs["ACGAACGTACGTACGT"])
	expect.True(t, seqs["ACGTACGTGCGTACGT"])
	expect.True(t, seqs["ACGAACGTGCGTACGT"])
}

func TestGenerateExcludesOverlapping(t *testing.T) {
	window := region(0, 16)
	// Two alts at the same site cannot co-occur on one haplotype.
	candidates := []genome.Variant{snv(3, "T", "A"), snv(3, "T", "C")}
	haps, truncated := Generate(window, refSeq16, candidates, DefaultOpts)
	expect.False(t, truncated)
	expect.EQ(t, len(haps), 3) // ref + each alt alone
}

func TestGenerateTruncates(t *testing.T) {
	window := region(0, 16)
	var candidates []genome.Variant
	for pos := 1; pos < 15; pos += 2 {
		ref := string(refSeq16[pos])
		alt := "A"
		if ref == "A" {
			alt = "T"
		}
		candidates = append(candidates, snv(pos, ref, alt))
	}
	haps, truncated := Generate(window, refSeq16, candidates, Opts{MaxHaplotypes: 10})
	expect.True(t, truncated)
	expect.True(t, len(haps) <= 10)
	// The reference haplotype survives truncation, and single-allele
	// haplotypes are preferred over complex combinations.
	expect.EQ(t, haps[0].Sequence(), refSeq16)
	expect.EQ(t, len(haps[1].Alleles()), 1)
}

func TestGenerateInsertionAnchor(t *testing.T) {
	window := region(0, 16)
	ins := genome.MustVariant(
		genome.Allele{Region: region(4, 4), Sequence: ""},
		genome.Allele{Region: region(4, 4), Sequence: "TT"},
	)
	haps, _ := Generate(window, refSeq16, []genome.Variant{ins}, DefaultOpts)
	require.Equal(t, 2, len(haps))
	expect.EQ(t, haps[1].Sequence(), "ACGTTTACGTACGTACGT")
}

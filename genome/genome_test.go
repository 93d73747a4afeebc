package genome

import (
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestRegionCompare(t *testing.T) {
	a := Region{"chr1", 10, 20}
	b := Region{"chr1", 10, 25}
	c := Region{"chr2", 0, 5}
	expect.True(t, a.Compare(b) < 0)
	expect.True(t, a.Compare(c) < 0)
	expect.EQ(t, a.Compare(a), 0)
	expect.True(t, c.Compare(b) > 0)
}

func TestRegionOverlap(t *testing.T) {
	a := Region{"chr1", 10, 20}
	expect.True(t, a.Overlaps(Region{"chr1", 19, 30}))
	expect.False(t, a.Overlaps(Region{"chr1", 20, 30}))
	expect.False(t, a.Overlaps(Region{"chr2", 10, 20}))
	expect.True(t, a.Contains(Region{"chr1", 12, 18}))
	expect.False(t, a.Contains(Region{"chr1", 12, 21}))
}

func TestVariantValidation(t *testing.T) {
	ref := Allele{Region{"chr1", 5, 6}, "A"}
	alt := Allele{Region{"chr1", 5, 6}, "C"}
	v, err := NewVariant(ref, alt)
	expect.NoError(t, err)
	expect.True(t, v.IsSNV())
	_, err = NewVariant(ref, ref)
	expect.NotNil(t, err)
	_, err = NewVariant(ref, Allele{Region{"chr1", 6, 7}, "C"})
	expect.NotNil(t, err)

	ins := MustVariant(Allele{Region{"chr1", 5, 6}, "A"}, Allele{Region{"chr1", 5, 6}, "ACT"})
	expect.True(t, ins.IsInsertion() && ins.IsIndel())
}

func TestHaplotypeSplice(t *testing.T) {
	region := Region{"chr1", 0, 8}
	refSeq := "ACGTACGT"
	h := NewHaplotype(region, refSeq, []Allele{
		{Region{"chr1", 2, 3}, "T"},
		{Region{"chr1", 5, 6}, ""}, // deletion of the C
	})
	expect.EQ(t, h.Sequence(), "ACTTAGT")
	expect.EQ(t, h.Region(), region)

	// Carried alternate allele.
	expect.True(t, h.Includes(Allele{Region{"chr1", 2, 3}, "T"}))
	expect.False(t, h.Includes(Allele{Region{"chr1", 2, 3}, "G"}))
	// Reference allele at an untouched position.
	expect.True(t, h.Includes(Allele{Region{"chr1", 3, 4}, "T"}))
	expect.False(t, h.Includes(Allele{Region{"chr1", 3, 4}, "A"}))
}

func TestHaplotypeDifferences(t *testing.T) {
	region := Region{"chr1", 0, 8}
	refSeq := "ACGTACGT"
	h := NewHaplotype(region, refSeq, []Allele{
		{Region{"chr1", 2, 3}, "T"},
		{Region{"chr1", 5, 6}, ""},
	})
	snvs, indels := h.Differences(refSeq)
	expect.EQ(t, snvs, 1)
	expect.EQ(t, indels, 1)
}

func TestGenotypeMultiset(t *testing.T) {
	region := Region{"chr1", 0, 4}
	refSeq := "ACGT"
	h1 := NewHaplotype(region, refSeq, nil)
	h2 := NewHaplotype(region, refSeq, []Allele{{Region{"chr1", 1, 2}, "T"}})
	g := NewGenotype(h1, h2)
	expect.EQ(t, g.Ploidy(), 2)
	expect.False(t, g.IsHomozygous())
	expect.EQ(t, len(g.CopyUnique()), 2)

	hom := NewGenotype(h1, NewHaplotype(region, refSeq, nil))
	expect.True(t, hom.IsHomozygous())
	expect.EQ(t, len(hom.CopyUnique()), 1)

	// Multiset keys ignore construction order.
	expect.EQ(t, NewGenotype(h1, h2).Key(), NewGenotype(h2, h1).Key())
}

func TestEnumerateGenotypes(t *testing.T) {
	region := Region{"chr1", 0, 4}
	refSeq := "ACGT"
	haps := []*Haplotype{
		NewHaplotype(region, refSeq, nil),
		NewHaplotype(region, refSeq, []Allele{{Region{"chr1", 1, 2}, "T"}}),
		NewHaplotype(region, refSeq, []Allele{{Region{"chr1", 2, 3}, "A"}}),
	}
	gs, truncated := EnumerateGenotypes(haps, 2, 0)
	expect.False(t, truncated)
	expect.EQ(t, len(gs), 6) // C(3+1, 2)
	for _, g := range gs {
		expect.EQ(t, g.Ploidy(), 2)
	}
	_, truncated = EnumerateGenotypes(haps, 2, 4)
	expect.True(t, truncated)
}

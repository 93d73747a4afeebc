package measure

import (
	"fmt"
	"strings"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/reads"
	"github.com/grailbio/varcall/reference"
	"github.com/grailbio/varcall/vcf"
)

var (
	testContig = strings.Repeat("ACGTAGGCTACATGCA", 4)
	testRef    = reference.NewInMemory(map[string]string{"chr1": testContig}, []string{"chr1"})
)

func makeRead(name string, pos int, seq string) *reads.AlignedRead {
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = 30
	}
	return &reads.AlignedRead{
		Name: name, Sample: "s", Contig: "chr1", Pos: pos, MapQ: 60,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, len(seq))},
		Seq:   seq, Qual: qual,
	}
}

func testEngine(rs []*reads.AlignedRead, genotype genome.Genotype) *Engine {
	return NewEngine(Inputs{
		Region:        genome.Region{Contig: "chr1", Begin: 20, End: 44},
		Reference:     testRef,
		Samples:       []string{"s"},
		ReadsBySample: map[string][]*reads.AlignedRead{"s": rs},
		Genotypes:     map[string]genome.Genotype{"s": genotype},
	})
}

func hetGenotype() genome.Genotype {
	region := genome.Region{Contig: "chr1", Begin: 16, End: 48}
	refSeq := testContig[16:48]
	alt := "C"
	if testContig[30] == 'C' {
		alt = "T"
	}
	return genome.NewGenotype(
		genome.NewHaplotype(region, refSeq, nil),
		genome.NewHaplotype(region, refSeq, []genome.Allele{
			{Region: genome.Region{Contig: "chr1", Begin: 30, End: 31}, Sequence: alt},
		}),
	)
}

func testRecord() *vcf.Record {
	alt := "C"
	if testContig[30] == 'C' {
		alt = "T"
	}
	rec := vcf.NewRecord("chr1", 30)
	rec.Ref = string(testContig[30])
	rec.Alts = []string{alt}
	rec.SetSampleField("s", "GT", "0/1")
	rec.SetSampleField("s", "GQ", "37")
	return rec
}

func mixedReads(nRef, nAlt int) []*reads.AlignedRead {
	var out []*reads.AlignedRead
	refSeq := testContig[20:44]
	altSeq := []byte(testContig[20:44])
	alt := "C"
	if testContig[30] == 'C' {
		alt = "T"
	}
	altSeq[10] = alt[0]
	for i := 0; i < nRef; i++ {
		out = append(out, makeRead(fmt.Sprintf("r%d", i), 20, refSeq))
	}
	for i := 0; i < nAlt; i++ {
		out = append(out, makeRead(fmt.Sprintf("a%d", i), 20, string(altSeq)))
	}
	return out
}

func TestDepthAndMappingQuality(t *testing.T) {
	engine := testEngine(mixedReads(6, 4), hetGenotype())
	rec := testRecord()
	out, err := Apply([]Measure{Depth{}, MeanMappingQuality{}, GenotypeQuality{}}, rec, engine)
	require.NoError(t, err)
	expect.EQ(t, out["DP"], []int{10})
	expect.EQ(t, out["MQ"], []int{60})
	expect.EQ(t, out["GQ"], []int{37})
}

func TestAssignedDepth(t *testing.T) {
	engine := testEngine(mixedReads(6, 4), hetGenotype())
	rec := testRecord()
	out, err := Apply([]Measure{AssignedDepth{}}, rec, engine)
	require.NoError(t, err)
	// Every read reaches the site and assigns to one haplotype, hence one
	// allele.
	expect.EQ(t, out["ADP"], []int{10})
}

func TestFacetSharingAcrossMeasures(t *testing.T) {
	engine := testEngine(mixedReads(3, 3), hetGenotype())
	rec := testRecord()
	_, err := Apply([]Measure{AssignedDepth{}}, rec, engine)
	require.NoError(t, err)
	first, err := engine.Get(FacetReadAssignments)
	require.NoError(t, err)
	second, err := engine.Get(FacetReadAssignments)
	require.NoError(t, err)
	// Same cached value, not a recomputation.
	expect.EQ(t, fmt.Sprintf("%p", first.(Assignments).Support["s"]),
		fmt.Sprintf("%p", second.(Assignments).Support["s"]))
}

func TestFindTandemRepeats(t *testing.T) {
	region := genome.Region{Contig: "chr1", Begin: 100, End: 100}
	seq := "ACGTTTTTACACACGT"
	region.End = region.Begin + len(seq)
	repeats := FindTandemRepeats(seq, region, 1, 4)

	var homopolymer, dinuc bool
	for _, r := range repeats {
		if r.Period == 1 && r.Region.Size() == 5 && r.Region.Begin == 103 {
			homopolymer = true
		}
		if r.Period == 2 && r.Region.Size() >= 6 {
			dinuc = true
		}
	}
	require.True(t, homopolymer, "expected TTTTT run: %+v", repeats)
	require.True(t, dinuc, "expected ACACAC run: %+v", repeats)
}

func TestSTRLength(t *testing.T) {
	// Build a contig with a clear repeat at the record position.
	contig := strings.Repeat("ACGTAGGCTACATGCA", 2) + "TTTTTTTT" + strings.Repeat("ACGTAGGCTACATGCA", 2)
	ref := reference.NewInMemory(map[string]string{"chrR": contig}, []string{"chrR"})
	engine := NewEngine(Inputs{
		Region:    genome.Region{Contig: "chrR", Begin: 30, End: 44},
		Reference: ref,
		Samples:   nil,
	})
	rec := vcf.NewRecord("chrR", 33)
	rec.Ref = "T"
	rec.Alts = []string{"TT"}
	out, err := Apply([]Measure{STRLength{}}, rec, engine)
	require.NoError(t, err)
	expect.EQ(t, out["STRL"], 8)
}

func TestUnknownFacet(t *testing.T) {
	engine := testEngine(nil, hetGenotype())
	_, err := engine.Get("NoSuchFacet")
	expect.NotNil(t, err)
}

package assign

import (
	"fmt"
	"strings"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/hmm"
	"github.com/grailbio/varcall/reads"
	"github.com/grailbio/varcall/reference"
)

var (
	testContig = strings.Repeat("ACGTAGGCTACATGCA", 4)
	testRef    = reference.NewInMemory(map[string]string{"chr1": testContig}, []string{"chr1"})
	testRegion = genome.Region{Contig: "chr1", Begin: 16, End: 48}
)

func altBase() byte {
	if testContig[30] == 'C' {
		return 'T'
	}
	return 'C'
}

func altAllele() genome.Allele {
	return genome.Allele{Region: genome.Region{Contig: "chr1", Begin: 30, End: 31}, Sequence: string(altBase())}
}

func refAllele() genome.Allele {
	return genome.Allele{Region: genome.Region{Contig: "chr1", Begin: 30, End: 31}, Sequence: string(testContig[30])}
}

func haplotypes() (refHap, altHap *genome.Haplotype) {
	refSeq := testContig[16:48]
	refHap = genome.NewHaplotype(testRegion, refSeq, nil)
	altHap = genome.NewHaplotype(testRegion, refSeq, []genome.Allele{altAllele()})
	return refHap, altHap
}

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

func mixedReads(nRef, nAlt int) []*reads.AlignedRead {
	var out []*reads.AlignedRead
	refSeq := testContig[20:44]
	altSeq := []byte(testContig[20:44])
	altSeq[10] = altBase()
	for i := 0; i < nRef; i++ {
		out = append(out, makeRead(fmt.Sprintf("ref%d", i), 20, refSeq))
	}
	for i := 0; i < nAlt; i++ {
		out = append(out, makeRead(fmt.Sprintf("alt%d", i), 20, string(altSeq)))
	}
	return out
}

func TestHeterozygousSupportPartition(t *testing.T) {
	refHap, altHap := haplotypes()
	g := genome.NewGenotype(refHap, altHap)
	rs := mixedReads(6, 4)
	model := hmm.NewModel(hmm.AssignmentConfig)
	support, ambiguous, err := HaplotypeSupport(g, rs, nil, model, testRef, Config{AmbiguousAction: AmbiguousFirst})
	require.NoError(t, err)

	assigned := 0
	for _, srs := range support {
		assigned += len(srs)
	}
	// Partition invariant: assigned + dropped = input under first.
	expect.EQ(t, assigned, len(rs))
	expect.EQ(t, len(support[refHap]), 6)
	expect.EQ(t, len(support[altHap]), 4)
	expect.EQ(t, len(ambiguous), 0)
}

func TestHomozygousShortCircuit(t *testing.T) {
	refHap, _ := haplotypes()
	refHap2 := genome.NewHaplotype(testRegion, testContig[16:48], nil)
	g := genome.NewGenotype(refHap, refHap2)
	rs := mixedReads(10, 0)
	model := hmm.NewModel(hmm.AssignmentConfig)

	support, _, err := HaplotypeSupport(g, rs, nil, model, testRef, Config{AmbiguousAction: AmbiguousAll})
	require.NoError(t, err)
	require.Equal(t, 1, len(support))
	for _, srs := range support {
		expect.EQ(t, len(srs), 10)
	}

	// Drop on a homozygous genotype empties the map.
	support, _, err = HaplotypeSupport(g, rs, nil, model, testRef, Config{AmbiguousAction: AmbiguousDrop})
	require.NoError(t, err)
	expect.EQ(t, len(support), 0)
}

func TestAmbiguousActions(t *testing.T) {
	refHap, altHap := haplotypes()
	g := genome.NewGenotype(refHap, altHap)
	// A read that doesn't reach the discriminating site ties both haplotypes.
	rs := []*reads.AlignedRead{makeRead("short", 18, testContig[18:28])}
	model := hmm.NewModel(hmm.AssignmentConfig)

	support, ambiguous, err := HaplotypeSupport(g, rs, nil, model, testRef,
		Config{AmbiguousAction: AmbiguousAll, AmbiguousRecord: RecordHaplotypes})
	require.NoError(t, err)
	expect.EQ(t, len(support[refHap]), 1)
	expect.EQ(t, len(support[altHap]), 1)
	require.Equal(t, 1, len(ambiguous))
	expect.EQ(t, len(ambiguous[0].Haplotypes), 2)

	support, ambiguous, err = HaplotypeSupport(g, rs, nil, model, testRef,
		Config{AmbiguousAction: AmbiguousDrop, AmbiguousRecord: RecordReadOnly})
	require.NoError(t, err)
	expect.EQ(t, len(support[refHap])+len(support[altHap]), 0)
	require.Equal(t, 1, len(ambiguous))
	expect.True(t, ambiguous[0].Haplotypes == nil)

	// With only two tied options, the three-or-more record mode stays bare.
	_, ambiguous, err = HaplotypeSupport(g, rs, nil, model, testRef,
		Config{AmbiguousAction: AmbiguousFirst, AmbiguousRecord: RecordHaplotypesIfThreeOrMore})
	require.NoError(t, err)
	require.Equal(t, 1, len(ambiguous))
	expect.True(t, ambiguous[0].Haplotypes == nil)
}

func TestAlleleSupport(t *testing.T) {
	refHap, altHap := haplotypes()
	g := genome.NewGenotype(refHap, altHap)
	rs := mixedReads(6, 4)
	model := hmm.NewModel(hmm.AssignmentConfig)
	support, ambiguous, err := HaplotypeSupport(g, rs, nil, model, testRef, Config{AmbiguousAction: AmbiguousFirst})
	require.NoError(t, err)

	alleles := []genome.Allele{refAllele(), altAllele()}
	as := AlleleSupportWithAmbiguous(alleles, support, ambiguous)
	expect.EQ(t, len(as[refAllele()]), 6)
	expect.EQ(t, len(as[altAllele()]), 4)
}

func TestAmbiguousRescue(t *testing.T) {
	refHap, altHap := haplotypes()
	// Ambiguous between two haplotypes that agree the site is reference.
	other := genome.NewHaplotype(testRegion, testContig[16:48], []genome.Allele{
		{Region: genome.Region{Contig: "chr1", Begin: 40, End: 41}, Sequence: "A"},
	})
	_ = altHap
	read := makeRead("amb", 20, testContig[20:36])
	ambiguous := []AmbiguousRead{{Read: read, Haplotypes: []*genome.Haplotype{refHap, other}}}

	alleles := []genome.Allele{refAllele()}
	as := AlleleSupportWithAmbiguous(alleles, SupportMap{}, ambiguous)
	expect.EQ(t, len(as[refAllele()]), 1)
}

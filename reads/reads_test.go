package reads

import (
	"fmt"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"

	"github.com/grailbio/varcall/genome"
)

func simpleRead(name, sample string, pos int, seq string) *AlignedRead {
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = 30
	}
	cigar := sam.Cigar{sam.NewCigarOp(sam.CigarMatch, len(seq))}
	return &AlignedRead{
		Name: name, Sample: sample, Contig: "chr1", Pos: pos,
		MapQ: 60, Cigar: cigar, Seq: seq, Qual: qual,
	}
}

func TestReadSpan(t *testing.T) {
	r := simpleRead("r1", "s", 10, "ACGT")
	expect.EQ(t, r.End(), 14)
	expect.EQ(t, r.Region(), genome.Region{Contig: "chr1", Begin: 10, End: 14})

	del := simpleRead("r2", "s", 10, "ACGT")
	del.Cigar = sam.Cigar{
		sam.NewCigarOp(sam.CigarMatch, 2),
		sam.NewCigarOp(sam.CigarDeletion, 3),
		sam.NewCigarOp(sam.CigarMatch, 2),
	}
	expect.EQ(t, del.End(), 17)
	expect.EQ(t, del.MaxIndelSize(), 3)
}

func TestSliceManager(t *testing.T) {
	var rs []*AlignedRead
	rs = append(rs, simpleRead("a", "s1", 5, "ACGT"))
	rs = append(rs, simpleRead("b", "s1", 20, "ACGT"))
	rs = append(rs, simpleRead("c", "s2", 6, "ACGT"))
	m := NewSliceManager(rs)

	got, err := m.FetchReads([]string{"s1", "s2"}, genome.Region{Contig: "chr1", Begin: 0, End: 10})
	expect.NoError(t, err)
	expect.EQ(t, len(got["s1"]), 1)
	expect.EQ(t, len(got["s2"]), 1)

	ok, err := m.HasCoverage(genome.Region{Contig: "chr1", Begin: 15, End: 18})
	expect.NoError(t, err)
	expect.False(t, ok)
	ok, _ = m.HasCoverage(genome.Region{Contig: "chr1", Begin: 21, End: 22})
	expect.True(t, ok)
}

func TestBuildPileups(t *testing.T) {
	region := genome.Region{Contig: "chr1", Begin: 0, End: 8}
	var rs []*AlignedRead
	for i := 0; i < 3; i++ {
		rs = append(rs, simpleRead(fmt.Sprintf("r%d", i), "s", 2, "GTAC"))
	}
	low := simpleRead("low", "s", 2, "TTTT")
	for i := range low.Qual {
		low.Qual[i] = 5
	}
	rs = append(rs, low)
	pm := BuildPileups(map[string][]*AlignedRead{"s": rs}, region, 20)
	rows := pm["s"]
	expect.EQ(t, rows[2].Depth, 4)
	expect.EQ(t, rows[2].Counts[byte('G')], 3)
	expect.EQ(t, rows[2].Counts[byte('T')], 0) // below min base quality
	expect.EQ(t, rows[0].Depth, 0)
}

func TestDownsample(t *testing.T) {
	var rs []*AlignedRead
	for i := 0; i < 10; i++ {
		rs = append(rs, simpleRead(fmt.Sprintf("r%02d", i), "s", 5, "ACGT"))
	}
	kept := Downsample(rs, 4)
	expect.EQ(t, len(kept), 4)
	// Deterministic: earliest names kept.
	expect.EQ(t, kept[0].Name, "r00")
	expect.EQ(t, kept[3].Name, "r03")
	expect.EQ(t, len(Downsample(rs, 0)), 10)
}

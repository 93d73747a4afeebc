package hmm

import (
	"strings"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/reads"
	"github.com/grailbio/varcall/reference"
)

func TestKmerTableRoundTrip(t *testing.T) {
	seq := "ACGTACGTTTGCAACGT"
	table := NewKmerTable(seq)
	hashes := KmerHashes(seq)
	require.Equal(t, len(seq)-K+1, len(hashes))
	for off, h := range hashes {
		require.True(t, h >= 0)
		found := false
		for _, p := range table.pos[h] {
			if int(p) == off {
				found = true
			}
		}
		require.True(t, found, "offset %d", off)
	}
}

func TestKmerHashesAmbiguous(t *testing.T) {
	hashes := KmerHashes("ACGTNACGTACG")
	// Windows covering the N are invalid.
	for off := 0; off < 5; off++ {
		expect.EQ(t, hashes[off], int32(-1))
	}
	expect.True(t, hashes[5] >= 0)
}

func TestMapToTarget(t *testing.T) {
	target := "AAAACCCCGGGGTTTTACGTACGT"
	table := NewKmerTable(target)
	query := KmerHashes("CCCCGGGG")
	got := MapToTarget(query, table, 10)
	require.NotEmpty(t, got)
	expect.EQ(t, got[0], 4)
}

func uniformQuals(n int, q byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = q
	}
	return out
}

func TestEvaluateMonotoneInEditDistance(t *testing.T) {
	target := strings.Repeat("ACGT", 12)
	m := NewModel(Config{UseFlankState: false, UseMappingQuality: false})
	m.Reset(target, 0, len(target))

	read := []byte(target[8:28])
	qual := uniformQuals(len(read), 30)
	positions := []int{8}

	prev := m.Evaluate(string(read), qual, 60, positions)
	for _, mutateAt := range []int{3, 9, 15} {
		mutated := append([]byte(nil), read...)
		if mutated[mutateAt] == 'A' {
			mutated[mutateAt] = 'C'
		} else {
			mutated[mutateAt] = 'A'
		}
		read = mutated
		cur := m.Evaluate(string(read), qual, 60, positions)
		require.True(t, cur < prev, "edit %d: %v !< %v", mutateAt, cur, prev)
		prev = cur
	}
}

func TestEvaluateIndelTolerance(t *testing.T) {
	target := "ACGTACGTACGTAACCGGTTACGTACGTACGT"
	m := NewModel(Config{UseFlankState: false, UseMappingQuality: false})
	m.Reset(target, 0, len(target))

	exact := target[4:24]
	qual := uniformQuals(len(exact), 30)
	exactScore := m.Evaluate(exact, qual, 60, []int{4})

	// Delete one base in the middle of the read.
	deleted := exact[:10] + exact[11:]
	delScore := m.Evaluate(deleted, uniformQuals(len(deleted), 30), 60, []int{4})
	expect.True(t, delScore < exactScore)
	// But it must still beat the no-alignment floor.
	expect.True(t, delScore > Floor(len(deleted)))
}

func TestEvaluateFloorWithoutPositions(t *testing.T) {
	m := NewModel(Config{UseFlankState: false, UseMappingQuality: false})
	m.Reset("ACGTACGTACGT", 0, 12)
	got := m.Evaluate("TTTT", uniformQuals(4, 30), 60, nil)
	expect.EQ(t, got, Floor(4))
}

func TestMappingQualityMixing(t *testing.T) {
	target := strings.Repeat("ACGT", 10)
	read := target[4:24]
	qual := uniformQuals(len(read), 30)

	plain := NewModel(Config{UseFlankState: false, UseMappingQuality: false})
	plain.Reset(target, 0, len(target))
	mixed := NewModel(Config{UseFlankState: false, UseMappingQuality: true})
	mixed.Reset(target, 0, len(target))

	// A MAPQ-0 read is equally likely mapped elsewhere; its likelihood must
	// drop toward the floor relative to a confident mapping.
	confident := mixed.Evaluate(read, qual, 60, []int{4})
	doubtful := mixed.Evaluate(read, qual, 0, []int{4})
	expect.True(t, doubtful < confident)
	expect.True(t, confident <= plain.Evaluate(read, qual, 60, []int{4}))
}

func testRead(sample, name string, pos int, seq string) *reads.AlignedRead {
	return &reads.AlignedRead{
		Name: name, Sample: sample, Contig: "chr1", Pos: pos, MapQ: 60,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, len(seq))},
		Seq:   seq, Qual: uniformQuals(len(seq), 30),
	}
}

func TestPopulateDiscriminatesHaplotypes(t *testing.T) {
	contig := strings.Repeat("ACGTAGGCTACATGCA", 4)
	ref := reference.NewInMemory(map[string]string{"chr1": contig}, []string{"chr1"})
	region := genome.Region{Contig: "chr1", Begin: 16, End: 48}
	refSeq := contig[16:48]

	altBase := byte('T')
	if contig[30] == 'T' {
		altBase = 'C'
	}
	hRef := genome.NewHaplotype(region, refSeq, nil)
	hAlt := genome.NewHaplotype(region, refSeq, []genome.Allele{
		{Region: genome.Region{Contig: "chr1", Begin: 30, End: 31}, Sequence: string(altBase)},
	})

	refRead := testRead("s", "ref", 20, contig[20:44])
	altSeq := []byte(contig[20:44])
	altSeq[10] = altBase
	altRead := testRead("s", "alt", 20, string(altSeq))

	model := NewModel(DefaultConfig)
	array, err := Populate(model, []*genome.Haplotype{hRef, hAlt},
		map[string][]*reads.AlignedRead{"s": {refRead, altRead}}, ref)
	require.NoError(t, err)

	array.Prime("s")
	refRow := array.Likelihoods(0)
	altRow := array.Likelihoods(1)
	require.Equal(t, 2, array.NumReads())
	require.True(t, refRow[0] > altRow[0], "ref read should prefer ref haplotype")
	require.True(t, altRow[1] > refRow[1], "alt read should prefer alt haplotype")
}

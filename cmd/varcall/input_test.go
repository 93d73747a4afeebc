package main

import (
	"strings"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestParseReads(t *testing.T) {
	const dump = "# header\n" +
		"r1\ts1\tchr1\t99\t60\t4M\tACGT\tIIII\n" +
		"r2\ts2\tchr1\t120\t37\t2M1D2M\tACGT\t!!!!\n"
	rs, err := parseReads(strings.NewReader(dump))
	require.NoError(t, err)
	require.Equal(t, 2, len(rs))
	expect.EQ(t, rs[0].Name, "r1")
	expect.EQ(t, rs[0].Pos, 99)
	expect.EQ(t, rs[0].MapQ, byte(60))
	expect.EQ(t, rs[0].Qual, []byte{40, 40, 40, 40})
	expect.EQ(t, rs[1].End(), 125) // 2M1D2M spans 5
	expect.EQ(t, rs[1].Qual, []byte{0, 0, 0, 0})
}

func TestParseReadsErrors(t *testing.T) {
	_, err := parseReads(strings.NewReader("r1\ts1\tchr1\t99\t60\t4M\tACGT\n"))
	expect.NotNil(t, err) // 7 columns
	_, err = parseReads(strings.NewReader("r1\ts1\tchr1\tx\t60\t4M\tACGT\tIIII\n"))
	expect.NotNil(t, err) // bad pos
	_, err = parseReads(strings.NewReader("r1\ts1\tchr1\t9\t60\t4Q\tACGT\tIIII\n"))
	expect.NotNil(t, err) // bad cigar
	_, err = parseReads(strings.NewReader("r1\ts1\tchr1\t9\t60\t4M\tACGT\tIII\n"))
	expect.NotNil(t, err) // length mismatch
}

func TestParseCandidates(t *testing.T) {
	const dump = "chr1\t5\tA\tC\nchr1\t9\tAC\t-\nchr2\t3\t-\tTT\n"
	vs, err := parseCandidates(strings.NewReader(dump))
	require.NoError(t, err)
	require.Equal(t, 3, len(vs))
	expect.True(t, vs[0].IsSNV())
	expect.True(t, vs[1].IsDeletion())
	expect.EQ(t, vs[1].Region().Size(), 2)
	expect.True(t, vs[2].IsInsertion())
	expect.True(t, vs[2].Region().Empty())
}

func TestContigPloidy(t *testing.T) {
	n, err := contigPloidy("chrX=1,chrY=1", "chrX", 2)
	require.NoError(t, err)
	expect.EQ(t, n, 1)
	n, err = contigPloidy("chrX=1", "chr2", 2)
	require.NoError(t, err)
	expect.EQ(t, n, 2)
	_, err = contigPloidy("chrX", "chrX", 2)
	expect.NotNil(t, err)
	_, err = contigPloidy("chrX=0", "chrX", 2)
	expect.NotNil(t, err)
}

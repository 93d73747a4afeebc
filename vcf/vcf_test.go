package vcf

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestRecordRender(t *testing.T) {
	r := NewRecord("chr1", 4)
	r.Ref = "A"
	r.Alts = []string{"C"}
	r.Qual = 42.31
	r.Info["DP"] = "20"
	r.Info["SOMATIC"] = ""
	r.SetSampleField("s1", "GQ", "30")
	r.SetSampleField("s1", "GT", "0/1")

	line := r.Render([]string{"s1"})
	fields := strings.Split(line, "\t")
	require.Equal(t, 10, len(fields))
	expect.EQ(t, fields[0], "chr1")
	expect.EQ(t, fields[1], "5") // 1-based
	expect.EQ(t, fields[3], "A")
	expect.EQ(t, fields[4], "C")
	expect.EQ(t, fields[5], "42.3")
	expect.EQ(t, fields[6], "PASS")
	expect.EQ(t, fields[7], "DP=20;SOMATIC") // sorted keys, flag bare
	expect.EQ(t, fields[8], "GT:GQ")         // GT forced first
	expect.EQ(t, fields[9], "0/1:30")
}

func TestRecordMissingSample(t *testing.T) {
	r := NewRecord("chr1", 0)
	r.Ref = "A"
	r.SetSampleField("s1", "GT", "0/0")
	line := r.Render([]string{"s1", "s2"})
	fields := strings.Split(line, "\t")
	expect.EQ(t, fields[9], "0/0")
	expect.EQ(t, fields[10], ".")
}

func TestCompareOrdering(t *testing.T) {
	a := &Record{Chrom: "chr1", Pos: 5, Ref: "A", Alts: []string{"C"}}
	b := &Record{Chrom: "chr1", Pos: 5, Ref: "A", Alts: []string{"G"}}
	c := &Record{Chrom: "chr1", Pos: 9, Ref: "A", Alts: []string{"C"}}
	d := &Record{Chrom: "chr2", Pos: 0, Ref: "A", Alts: []string{"C"}}
	expect.True(t, Compare(a, b) < 0)
	expect.True(t, Compare(b, c) < 0)
	expect.True(t, Compare(c, d) < 0)
	expect.EQ(t, Compare(a, a), 0)
}

func TestFormatGenotype(t *testing.T) {
	expect.EQ(t, FormatGenotype([]int{0, 1}, false), "0/1")
	expect.EQ(t, FormatGenotype([]int{1, 0}, true), "1|0")
	expect.EQ(t, FormatGenotype([]int{-1, -1}, false), "./.")
}

func TestWriterHeaderAndBody(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, []string{"s1"}, WriterOpts{
		Source:  "varcall",
		Contigs: []Contig{{Name: "chr1", Length: 1000}},
	})
	require.NoError(t, err)
	r := NewRecord("chr1", 4)
	r.Ref = "A"
	r.Alts = []string{"C"}
	r.SetSampleField("s1", "GT", "0/1")
	require.NoError(t, w.Write(r))
	require.NoError(t, w.Close())

	out := buf.String()
	expect.True(t, strings.HasPrefix(out, "##fileformat=VCFv4.3\n"))
	expect.True(t, strings.Contains(out, "##contig=<ID=chr1,length=1000>"))
	expect.True(t, strings.Contains(out, "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\ts1"))
	expect.True(t, strings.HasSuffix(out, "chr1\t5\t.\tA\tC\t0.0\tPASS\t.\tGT\t0/1\n"))
}

package runner

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/varcall/caller"
	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/haplogen"
	"github.com/grailbio/varcall/prior"
	"github.com/grailbio/varcall/reads"
	"github.com/grailbio/varcall/reference"
	"github.com/grailbio/varcall/vcf"
)

func TestWindows(t *testing.T) {
	contigs := []genome.Region{
		{Contig: "chr1", Begin: 0, End: 2500},
		{Contig: "chr2", Begin: 0, End: 900},
	}
	ws := Windows(contigs, nil, 1000)
	require.Equal(t, 4, len(ws))
	expect.EQ(t, ws[0], genome.Region{Contig: "chr1", Begin: 0, End: 1000})
	expect.EQ(t, ws[2], genome.Region{Contig: "chr1", Begin: 2000, End: 2500})
	expect.EQ(t, ws[3], genome.Region{Contig: "chr2", Begin: 0, End: 900})

	restricted := Windows(contigs, []genome.Region{{Contig: "chr1", Begin: 100, End: 300}}, 1000)
	require.Equal(t, 1, len(restricted))
	expect.EQ(t, restricted[0], genome.Region{Contig: "chr1", Begin: 100, End: 300})
}

func TestClassify(t *testing.T) {
	expect.EQ(t, Classify(nil), ExitSuccess)
	expect.EQ(t, Classify(&ConfigError{Err: fmt.Errorf("bad ploidy")}), ExitConfig)
	expect.EQ(t, Classify(&InputError{Err: fmt.Errorf("no index")}), ExitInputIO)
	expect.EQ(t, Classify(&OutputError{Err: fmt.Errorf("disk full")}), ExitOutputIO)
	expect.EQ(t, Classify(fmt.Errorf("normalization drift")), ExitInternal)
}

var runContig = strings.Repeat("ACGTAGGCTACATGCA", 8) // 128bp

func runReads(nRef, nAlt int, altSite int) []*reads.AlignedRead {
	var out []*reads.AlignedRead
	start := altSite - 10
	refSeq := runContig[start : start+24]
	altSeq := []byte(refSeq)
	if altSeq[10] == 'C' {
		altSeq[10] = 'T'
	} else {
		altSeq[10] = 'C'
	}
	quals := func(n int) []byte {
		q := make([]byte, n)
		for i := range q {
			q[i] = 30
		}
		return q
	}
	for i := 0; i < nRef+nAlt; i++ {
		seq := refSeq
		if i >= nRef {
			seq = string(altSeq)
		}
		out = append(out, &reads.AlignedRead{
			Name: fmt.Sprintf("r%02d", i), Sample: "s", Contig: "chr1", Pos: start, MapQ: 60,
			Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, len(seq))},
			Seq:   seq, Qual: quals(len(seq)),
		})
	}
	return out
}

func altVariantAt(site int) genome.Variant {
	ref := string(runContig[site])
	alt := "C"
	if ref == "C" {
		alt = "T"
	}
	return genome.MustVariant(
		genome.Allele{Region: genome.Region{Contig: "chr1", Begin: site, End: site + 1}, Sequence: ref},
		genome.Allele{Region: genome.Region{Contig: "chr1", Begin: site, End: site + 1}, Sequence: alt},
	)
}

func TestRunOrderedOutput(t *testing.T) {
	ref := reference.NewInMemory(map[string]string{"chr1": runContig}, []string{"chr1"})
	manager := reads.NewSliceManager(runReads(10, 10, 30))
	factory := func(string) (*caller.Pipeline, error) {
		c, err := caller.NewIndividualCaller(caller.IndividualParams{
			Sample: "s", Ploidy: 2,
			Coalescent:          prior.DefaultCoalescentParams,
			MinVariantPosterior: 2,
		})
		if err != nil {
			return nil, err
		}
		return caller.NewPipeline(caller.Components{
			Reference: ref,
			Reads:     manager,
			Generators: []haplogen.Generator{&haplogen.SliceGenerator{
				Variants: []genome.Variant{altVariantAt(30)},
			}},
			Caller:  c,
			Samples: []string{"s"},
		}, caller.Params{MaxHaplotypes: 20, MinBaseQual: 10})
	}

	var buf bytes.Buffer
	w, err := vcf.NewWriter(&buf, []string{"s"}, vcf.WriterOpts{Source: "varcall"})
	require.NoError(t, err)
	windows := Windows([]genome.Region{{Contig: "chr1", Begin: 0, End: 128}}, nil, 32)
	require.Equal(t, 4, len(windows))
	err = Run(context.Background(), factory, windows, Opts{Threads: 2}, w)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var body []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if line != "" && !strings.HasPrefix(line, "#") {
			body = append(body, line)
		}
	}
	require.Equal(t, 1, len(body), "expected exactly one call, got %v", body)
	fields := strings.Split(body[0], "\t")
	expect.EQ(t, fields[0], "chr1")
	expect.EQ(t, fields[1], "31") // 1-based position of site 30
	// The measure stage decorates records: raw and assigned depths.
	expect.True(t, strings.Contains(fields[8], "DP"))
	expect.True(t, strings.Contains(fields[8], "ADP"))
	expect.True(t, strings.Contains(fields[7], "STRL"))
}

// slowManager delays fetches so the window budget trips.
type slowManager struct {
	reads.Manager
	delay time.Duration
}

func (m *slowManager) FetchReads(samples []string, region genome.Region) (map[string][]*reads.AlignedRead, error) {
	time.Sleep(m.delay)
	return m.Manager.FetchReads(samples, region)
}

func TestRunWindowTimeoutEmitsSentinel(t *testing.T) {
	ref := reference.NewInMemory(map[string]string{"chr1": runContig}, []string{"chr1"})
	slow := &slowManager{Manager: reads.NewSliceManager(runReads(5, 5, 30)), delay: 50 * time.Millisecond}
	factory := func(string) (*caller.Pipeline, error) {
		c, err := caller.NewIndividualCaller(caller.IndividualParams{
			Sample: "s", Ploidy: 2,
			Coalescent:          prior.DefaultCoalescentParams,
			MinVariantPosterior: 2,
		})
		if err != nil {
			return nil, err
		}
		return caller.NewPipeline(caller.Components{
			Reference:  ref,
			Reads:      slow,
			Generators: []haplogen.Generator{&haplogen.SliceGenerator{}},
			Caller:     c,
			Samples:    []string{"s"},
		}, caller.Params{MaxHaplotypes: 20})
	}
	var buf bytes.Buffer
	w, err := vcf.NewWriter(&buf, []string{"s"}, vcf.WriterOpts{})
	require.NoError(t, err)
	windows := Windows([]genome.Region{{Contig: "chr1", Begin: 0, End: 64}}, nil, 64)
	err = Run(context.Background(), factory, windows,
		Opts{Threads: 1, WindowTimeout: time.Millisecond}, w)
	require.NoError(t, err) // aborted windows do not fail the run
	require.NoError(t, w.Close())
	expect.True(t, strings.Contains(buf.String(), "FAIL"))
	expect.True(t, strings.Contains(buf.String(), "FAILREASON=timeout"))
}

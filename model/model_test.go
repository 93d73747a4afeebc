package model

import (
	"fmt"
	"math"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/hmm"
	"github.com/grailbio/varcall/logprob"
	"github.com/grailbio/varcall/prior"
	"github.com/grailbio/varcall/reads"
	"github.com/grailbio/varcall/reference"
)

var (
	testContig = "AGACTATAGGCACTGTCGCATCACAAACGATTAACTGATAAATGAGCCCTTTATGACACGGGCA" // 64bp, no repeated 5-mer
	testRef    = reference.NewInMemory(map[string]string{"chr1": testContig}, []string{"chr1"})
	testRegion = genome.Region{Contig: "chr1", Begin: 16, End: 48}
)

func regionSeq() string { return testContig[16:48] }

func snvAt(pos int, base byte) genome.Allele {
	return genome.Allele{
		Region:   genome.Region{Contig: "chr1", Begin: pos, End: pos + 1},
		Sequence: string(base),
	}
}

// altBaseAt picks a base different from the reference at pos.
func altBaseAt(pos int) byte {
	if testContig[pos] == 'C' {
		return 'T'
	}
	return 'C'
}

func testHaplotypes() (refHap, altHap *genome.Haplotype) {
	refHap = genome.NewHaplotype(testRegion, regionSeq(), nil)
	altHap = genome.NewHaplotype(testRegion, regionSeq(), []genome.Allele{snvAt(30, altBaseAt(30))})
	return refHap, altHap
}

func makeRead(sample, name string, pos int, seq string) *reads.AlignedRead {
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = 30
	}
	return &reads.AlignedRead{
		Name: name, Sample: sample, Contig: "chr1", Pos: pos, MapQ: 60,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, len(seq))},
		Seq:   seq, Qual: qual,
	}
}

// readsAt builds nRef reference reads and nAlt reads carrying the alt base,
// all spanning [20, 44).
func readsAt(sample string, nRef, nAlt int) []*reads.AlignedRead {
	var out []*reads.AlignedRead
	refSeq := testContig[20:44]
	altSeq := []byte(testContig[20:44])
	altSeq[10] = altBaseAt(30)
	for i := 0; i < nRef; i++ {
		out = append(out, makeRead(sample, fmt.Sprintf("%s-ref%d", sample, i), 20, refSeq))
	}
	for i := 0; i < nAlt; i++ {
		out = append(out, makeRead(sample, fmt.Sprintf("%s-alt%d", sample, i), 20, string(altSeq)))
	}
	return out
}

func populate(t require.TestingT, haps []*genome.Haplotype, bySample map[string][]*reads.AlignedRead) *hmm.LikelihoodArray {
	array, err := hmm.Populate(hmm.NewModel(hmm.DefaultConfig), haps, bySample, testRef)
	require.NoError(t, err)
	return array
}

func TestIndividualHetSNV(t *testing.T) {
	refHap, altHap := testHaplotypes()
	haps := []*genome.Haplotype{refHap, altHap}
	genotypes, _ := genome.EnumerateGenotypes(haps, 2, 0)
	indices := GenotypeIndices(genotypes, haps)

	array := populate(t, haps, map[string][]*reads.AlignedRead{"s": readsAt("s", 10, 10)})
	array.Prime("s")

	coal := prior.NewCoalescentModel(regionSeq(), prior.DefaultCoalescentParams)
	inf := Individual{Prior: coal}.Evaluate(indices, EvaluatePriors(coal, genotypes), array)

	logprob.CheckNormalizedLog(inf.GenotypeLogPosteriors)
	mapIdx := logprob.MaxIndex(inf.GenotypeLogPosteriors)
	g := genotypes[mapIdx]
	expect.False(t, g.IsHomozygous())
	expect.True(t, g.Contains(refHap) && g.Contains(altHap))
	// Strong signal: het must carry nearly all the mass.
	expect.True(t, math.Exp(inf.GenotypeLogPosteriors[mapIdx]) > 0.99)
}

func TestIndividualHomRef(t *testing.T) {
	refHap, altHap := testHaplotypes()
	haps := []*genome.Haplotype{refHap, altHap}
	genotypes, _ := genome.EnumerateGenotypes(haps, 2, 0)
	indices := GenotypeIndices(genotypes, haps)
	array := populate(t, haps, map[string][]*reads.AlignedRead{"s": readsAt("s", 20, 0)})
	array.Prime("s")
	coal := prior.NewCoalescentModel(regionSeq(), prior.DefaultCoalescentParams)
	inf := Individual{Prior: coal}.Evaluate(indices, EvaluatePriors(coal, genotypes), array)
	g := genotypes[logprob.MaxIndex(inf.GenotypeLogPosteriors)]
	expect.True(t, g.IsHomozygous())
	expect.True(t, g.Contains(refHap))
}

func TestPopulationIndependence(t *testing.T) {
	refHap, altHap := testHaplotypes()
	haps := []*genome.Haplotype{refHap, altHap}
	genotypes, _ := genome.EnumerateGenotypes(haps, 2, 0)
	indices := GenotypeIndices(genotypes, haps)
	bySample := map[string][]*reads.AlignedRead{
		"a": readsAt("a", 20, 0),
		"b": readsAt("b", 10, 10),
	}
	array := populate(t, haps, bySample)
	coal := prior.NewCoalescentModel(regionSeq(), prior.DefaultCoalescentParams)
	inf := Population{Individual: Individual{Prior: coal}}.Evaluate(
		[]string{"a", "b"}, indices, EvaluatePriors(coal, genotypes), array)

	for _, s := range []string{"a", "b"} {
		logprob.CheckNormalizedLog(inf.SampleGenotypeLogPosteriors[s])
	}
	ga := genotypes[logprob.MaxIndex(inf.SampleGenotypeLogPosteriors["a"])]
	gb := genotypes[logprob.MaxIndex(inf.SampleGenotypeLogPosteriors["b"])]
	expect.True(t, ga.IsHomozygous())
	expect.False(t, gb.IsHomozygous())
}

func TestTrioDeNovo(t *testing.T) {
	refHap, altHap := testHaplotypes()
	haps := []*genome.Haplotype{refHap, altHap}
	genotypes, _ := genome.EnumerateGenotypes(haps, 2, 0)
	indices := GenotypeIndices(genotypes, haps)
	bySample := map[string][]*reads.AlignedRead{
		"mother": readsAt("mother", 30, 0),
		"father": readsAt("father", 30, 0),
		"child":  readsAt("child", 15, 15),
	}
	array := populate(t, haps, bySample)
	coal := prior.NewCoalescentModel(regionSeq(), prior.DefaultCoalescentParams)
	denovo := prior.NewDeNovoModel(prior.DeNovoParams{MutationRate: 1e-6}, 0, prior.CacheValue)
	inf := Trio{Prior: coal, DeNovo: denovo, MaxJointGenotypes: 0}.Evaluate(
		"mother", "father", "child", genotypes, indices, EvaluatePriors(coal, genotypes), array)

	logprob.CheckNormalizedLog(inf.ChildLogPosteriors)
	gm := genotypes[logprob.MaxIndex(inf.MotherLogPosteriors)]
	gf := genotypes[logprob.MaxIndex(inf.FatherLogPosteriors)]
	childIdx := logprob.MaxIndex(inf.ChildLogPosteriors)
	gc := genotypes[childIdx]
	expect.True(t, gm.IsHomozygous() && gm.Contains(refHap))
	expect.True(t, gf.IsHomozygous() && gf.Contains(refHap))
	expect.False(t, gc.IsHomozygous())
	expect.True(t, gc.Contains(altHap))
	expect.True(t, math.Exp(inf.ChildLogPosteriors[childIdx]) > 0.9)
}

func TestLatentsContract(t *testing.T) {
	refHap, altHap := testHaplotypes()
	haps := []*genome.Haplotype{refHap, altHap}
	genotypes, _ := genome.EnumerateGenotypes(haps, 2, 0)
	indices := GenotypeIndices(genotypes, haps)
	array := populate(t, haps, map[string][]*reads.AlignedRead{"s": readsAt("s", 10, 10)})
	array.Prime("s")
	coal := prior.NewCoalescentModel(regionSeq(), prior.DefaultCoalescentParams)
	inf := Individual{Prior: coal}.Evaluate(indices, EvaluatePriors(coal, genotypes), array)

	latents := NewLatents(haps, genotypes, indices,
		map[string][]float64{"s": inf.GenotypeLogPosteriors}, inf.LogEvidence)
	hp := latents.HaplotypePosteriors()
	expect.True(t, hp[refHap] > 0.99)
	expect.True(t, hp[altHap] > 0.99)

	gp := latents.GenotypePosteriors("s")
	sum := 0.0
	for _, p := range gp {
		sum += p
	}
	expect.True(t, math.Abs(sum-1) < 1e-9)

	alt := snvAt(30, altBaseAt(30))
	expect.True(t, latents.AllelePosterior("s", alt) > 0.99)
}

package model

import (
	"context"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/logprob"
	"github.com/grailbio/varcall/prior"
	"github.com/grailbio/varcall/reads"
)

func TestCellModelSeparatesClones(t *testing.T) {
	refHap, altHap := testHaplotypes()
	haps := []*genome.Haplotype{refHap, altHap}
	genotypes, _ := genome.EnumerateGenotypes(haps, 2, 0)
	indices := GenotypeIndices(genotypes, haps)

	// Three cells: a normal pinned to the founder, a clean reference cell,
	// and a mutated cell at heterozygous fraction.
	bySample := map[string][]*reads.AlignedRead{
		"normal": readsAt("normal", 20, 0),
		"cellA":  readsAt("cellA", 18, 0),
		"cellB":  readsAt("cellB", 10, 10),
	}
	array := populate(t, haps, bySample)

	coal := prior.NewCoalescentModel(regionSeq(), prior.DefaultCoalescentParams)
	denovo := prior.NewDeNovoModel(prior.DeNovoParams{MutationRate: 1e-6}, 0, prior.CacheValue)
	cell := Cell{
		Prior:         coal,
		DeNovo:        denovo,
		MaxClones:     2,
		MaxVBSeeds:    4,
		NormalSamples: []string{"normal"},
	}
	inf := cell.Evaluate(context.Background(), genotypes, indices, array)
	require.NotEmpty(t, inf.Phylogenies)
	logprob.CheckNormalizedLog(inf.PhylogenyLogPosteriors)

	for _, s := range []string{"normal", "cellA", "cellB"} {
		logprob.CheckNormalizedLog(inf.SampleGenotypeLogPosteriors[s])
	}
	gNormal := genotypes[logprob.MaxIndex(inf.SampleGenotypeLogPosteriors["normal"])]
	gB := genotypes[logprob.MaxIndex(inf.SampleGenotypeLogPosteriors["cellB"])]
	expect.True(t, gNormal.IsHomozygous())
	expect.True(t, gNormal.Contains(refHap))
	expect.True(t, gB.Contains(altHap))

	// The winning phylogeny explains the mutated cell with a non-founder
	// clone carrying the alt haplotype.
	best := inf.Phylogenies[logprob.MaxIndex(inf.PhylogenyLogPosteriors)]
	carriesAlt := false
	for _, gi := range best.CloneGenotypes {
		if genotypes[gi].Contains(altHap) {
			carriesAlt = true
		}
	}
	expect.True(t, carriesAlt)
}

func TestCellDropoutLikelihoodBounded(t *testing.T) {
	refHap, altHap := testHaplotypes()
	haps := []*genome.Haplotype{refHap, altHap}
	array := populate(t, haps, map[string][]*reads.AlignedRead{"c": readsAt("c", 10, 0)})
	array.Prime("c")

	cell := Cell{DropoutConcentration: 100}
	cm := NewConstantMixtureModel(array)
	het := []int{0, 1}
	full := cm.Evaluate(het)
	mixed := cell.dropoutLikelihood(het, array)
	// Dropout mixing can only help a skewed cell: for pure reference reads
	// the ref-only dropout component dominates the het mixture.
	expect.True(t, mixed > full)
	// Single-haplotype genotypes have nothing to drop.
	expect.EQ(t, cell.dropoutLikelihood([]int{0}, array), cm.Evaluate([]int{0}))
}

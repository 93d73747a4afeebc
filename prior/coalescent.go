// Package prior implements the genotype prior models: a coalescent prior over
// germline genotypes, a single-generation mutation model (DeNovoModel), and
// the cancer prior composing the two.
package prior

import (
	"math"

	"github.com/grailbio/varcall/genome"
)

// GenotypeModel returns a log prior for a genotype of haplotypes.  Models are
// pure and deterministic given their parameters.
type GenotypeModel interface {
	LogPrior(g genome.Genotype) float64
}

// CoalescentParams parameterize the site-frequency spectrum the prior
// expects: per-site heterozygosity for SNVs and indels.
type CoalescentParams struct {
	SNVHeterozygosity   float64
	IndelHeterozygosity float64
}

// DefaultCoalescentParams match typical human germline diversity.
var DefaultCoalescentParams = CoalescentParams{
	SNVHeterozygosity:   0.001,
	IndelHeterozygosity: 0.0001,
}

// CoalescentModel scores genotypes by how well the number of segregating SNV
// and indel sites among the genotype's haplotypes (plus the reference) fits
// the infinite-sites expectation under Watterson's estimator.
type CoalescentModel struct {
	refSeq string
	params CoalescentParams
}

// NewCoalescentModel builds a model against the reference sequence of the
// haplotype region.  refSeq must span the region of every scored haplotype.
func NewCoalescentModel(refSeq string, params CoalescentParams) *CoalescentModel {
	return &CoalescentModel{refSeq: refSeq, params: params}
}

// LogPrior implements GenotypeModel.
func (m *CoalescentModel) LogPrior(g genome.Genotype) float64 {
	snvs, indels := segregatingSites(g.CopyUnique(), m.refSeq)
	// n haplotypes plus the reference sequence.
	n := g.Ploidy() + 1
	a := harmonic(n - 1)
	return geometricLogProb(snvs, a*m.params.SNVHeterozygosity) +
		geometricLogProb(indels, a*m.params.IndelHeterozygosity)
}

// segregatingSites counts distinct non-reference SNV and indel alleles across
// the unique haplotypes.
func segregatingSites(unique []*genome.Haplotype, refSeq string) (snvs, indels int) {
	seen := make(map[string]bool)
	for _, h := range unique {
		off := h.Region().Begin
		for _, a := range h.Alleles() {
			key := a.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			if len(a.Sequence) == a.Region.Size() {
				for i := 0; i < len(a.Sequence); i++ {
					if refSeq[a.Region.Begin-off+i] != a.Sequence[i] {
						snvs++
					}
				}
			} else {
				indels++
			}
		}
	}
	return snvs, indels
}

// geometricLogProb is ln P(k segregating sites) under the standard
// infinite-sites geometric with parameter theta (already scaled by the
// harmonic factor).
func geometricLogProb(k int, theta float64) float64 {
	return float64(k)*math.Log(theta/(1+theta)) - math.Log(1+theta)
}

func harmonic(n int) float64 {
	s := 0.0
	for i := 1; i <= n; i++ {
		s += 1 / float64(i)
	}
	return s
}

// UniformModel assigns every genotype the same prior; used when deduplicating
// haplotypes without a coalescent model and in tests.
type UniformModel struct{}

// LogPrior implements GenotypeModel.
func (UniformModel) LogPrior(genome.Genotype) float64 { return 0 }

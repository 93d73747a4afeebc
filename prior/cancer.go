package prior

import "github.com/grailbio/varcall/genome"

// CancerModel scores a CancerGenotype: the germline component under the
// coalescent prior plus a mutation contribution for each somatic haplotype,
// taken as the best single-generation origin among the germline haplotypes.
type CancerModel struct {
	Germline GenotypeModel
	DeNovo   *DeNovoModel
}

// NewCancerModel composes a germline prior with a mutation model.
func NewCancerModel(germline GenotypeModel, denovo *DeNovoModel) *CancerModel {
	return &CancerModel{Germline: germline, DeNovo: denovo}
}

// LogPrior returns the log prior of the cancer genotype.
func (m *CancerModel) LogPrior(g genome.CancerGenotype) float64 {
	result := m.Germline.LogPrior(g.Germline)
	for _, somatic := range g.Somatic.Haplotypes() {
		best := 0.0
		first := true
		for _, germ := range g.Germline.Haplotypes() {
			v := m.DeNovo.Evaluate(somatic, germ)
			if first || v > best {
				best = v
				first = false
			}
		}
		result += best
	}
	return result
}

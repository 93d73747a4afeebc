// Package assign re-aligns reads against called haplotypes to compute
// per-haplotype and per-allele read support for filtering and annotation.
package assign

import (
	"math/rand"
	"sort"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/hmm"
	"github.com/grailbio/varcall/logprob"
	"github.com/grailbio/varcall/reads"
	"github.com/grailbio/varcall/reference"
)

// AmbiguousAction selects what to do with a read whose MAP haplotype set is
// not a singleton.
type AmbiguousAction int

// AmbiguousAction values.
const (
	AmbiguousFirst AmbiguousAction = iota
	AmbiguousAll
	AmbiguousRandom
	AmbiguousDrop
)

// AmbiguousRecord selects whether ambiguous records retain their candidate
// haplotype list.
type AmbiguousRecord int

// AmbiguousRecord values.
const (
	RecordReadOnly AmbiguousRecord = iota
	RecordHaplotypes
	RecordHaplotypesIfThreeOrMore
)

// Config controls assignment.
type Config struct {
	AmbiguousAction AmbiguousAction
	AmbiguousRecord AmbiguousRecord
	// Seed drives the random choice under AmbiguousRandom; assignments are
	// deterministic given a seed.
	Seed int64
}

// AmbiguousRead is a read whose assignment was not unique, optionally with
// the haplotypes it tied across.
type AmbiguousRead struct {
	Read       *reads.AlignedRead
	Haplotypes []*genome.Haplotype // nil unless the config records them
}

// SupportMap maps haplotype to its supporting reads.
type SupportMap map[*genome.Haplotype][]*reads.AlignedRead

// HaplotypeSupport assigns each read to its maximum a posteriori haplotype
// among the genotype's unique haplotypes.  Homozygous genotypes
// short-circuit: every read supports the single haplotype unless the action
// is drop.  Ties within tolerance follow the configured ambiguous action and
// are reported in the returned ambiguous list.
func HaplotypeSupport(g genome.Genotype, rs []*reads.AlignedRead, logPriors map[*genome.Haplotype]float64,
	model *hmm.Model, ref reference.Genome, config Config) (SupportMap, []AmbiguousRead, error) {
	if len(rs) == 0 {
		return SupportMap{}, nil, nil
	}
	if g.IsHomozygous() {
		out := SupportMap{}
		if config.AmbiguousAction != AmbiguousDrop {
			out[g.Haplotypes()[0]] = rs
		}
		return out, nil, nil
	}
	unique := g.CopyUnique()
	priors := make([]float64, len(unique))
	for i, h := range unique {
		priors[i] = logPriors[h] // zero when absent: flat prior
	}
	array, err := hmm.Populate(model, unique, map[string][]*reads.AlignedRead{"": rs}, ref)
	if err != nil {
		return nil, nil, err
	}
	array.Prime("")
	rows := make([][]float64, len(unique))
	for i := range unique {
		rows[i] = array.Likelihoods(i)
	}

	rng := rand.New(rand.NewSource(config.Seed))
	out := SupportMap{}
	var ambiguous []AmbiguousRead
	var top []int
	for ri, r := range rs {
		top = top[:0]
		best := 0.0
		for hi := range unique {
			cur := rows[hi][ri] + priors[hi]
			switch {
			case len(top) == 0:
				top = append(top, hi)
				best = cur
			case logprob.AlmostEqual(cur, best):
				top = append(top, hi)
			case cur > best:
				top = top[:0]
				top = append(top, hi)
				best = cur
			}
		}
		if len(top) == 1 {
			h := unique[top[0]]
			out[h] = append(out[h], r)
			continue
		}
		switch config.AmbiguousAction {
		case AmbiguousFirst:
			h := unique[top[0]]
			out[h] = append(out[h], r)
		case AmbiguousAll:
			for _, hi := range top {
				h := unique[hi]
				out[h] = append(out[h], r)
			}
		case AmbiguousRandom:
			h := unique[top[rng.Intn(len(top))]]
			out[h] = append(out[h], r)
		case AmbiguousDrop:
		}
		amb := AmbiguousRead{Read: r}
		if config.AmbiguousRecord == RecordHaplotypes ||
			(config.AmbiguousRecord == RecordHaplotypesIfThreeOrMore && len(top) >= 3) {
			for _, hi := range top {
				amb.Haplotypes = append(amb.Haplotypes, unique[hi])
			}
		}
		ambiguous = append(ambiguous, amb)
	}
	return out, ambiguous, nil
}

// AlleleSupportMap maps each target allele to its supporting reads.
type AlleleSupportMap map[genome.Allele][]*reads.AlignedRead

// AlleleSupport derives allele support from haplotype support: a read
// supports every target allele its assigned haplotype includes, provided the
// read overlaps the allele.
func AlleleSupport(alleles []genome.Allele, support SupportMap) AlleleSupportMap {
	out := AlleleSupportMap{}
	for h, rs := range support {
		for _, a := range alleles {
			if !h.Includes(a) {
				continue
			}
			for _, r := range rs {
				if readOverlapsAllele(r, a) {
					out[a] = append(out[a], r)
				}
			}
		}
	}
	for a := range out {
		sortSupport(out[a])
		out[a] = dedupeReads(out[a])
	}
	return out
}

// AlleleSupportWithAmbiguous additionally rescues ambiguous reads whose
// candidate haplotypes all agree on allele membership at the target sites.
func AlleleSupportWithAmbiguous(alleles []genome.Allele, support SupportMap,
	ambiguous []AmbiguousRead) AlleleSupportMap {
	out := AlleleSupport(alleles, support)
	for _, amb := range ambiguous {
		if len(amb.Haplotypes) == 0 || !agreeOnAlleles(amb.Haplotypes, alleles) {
			continue
		}
		for _, a := range alleles {
			if amb.Haplotypes[0].Includes(a) && readOverlapsAllele(amb.Read, a) {
				out[a] = append(out[a], amb.Read)
			}
		}
	}
	for a := range out {
		sortSupport(out[a])
		out[a] = dedupeReads(out[a])
	}
	return out
}

func agreeOnAlleles(haplotypes []*genome.Haplotype, alleles []genome.Allele) bool {
	for _, a := range alleles {
		first := haplotypes[0].Includes(a)
		for _, h := range haplotypes[1:] {
			if h.Includes(a) != first {
				return false
			}
		}
	}
	return true
}

func readOverlapsAllele(r *reads.AlignedRead, a genome.Allele) bool {
	if a.Region.Empty() {
		return r.Region().ContainsPos(a.Region.Begin)
	}
	return r.Region().Overlaps(a.Region)
}

func sortSupport(rs []*reads.AlignedRead) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Pos != rs[j].Pos {
			return rs[i].Pos < rs[j].Pos
		}
		return rs[i].Name < rs[j].Name
	})
}

func dedupeReads(rs []*reads.AlignedRead) []*reads.AlignedRead {
	out := rs[:0]
	for i, r := range rs {
		if i == 0 || rs[i-1] != r {
			out = append(out, r)
		}
	}
	return out
}

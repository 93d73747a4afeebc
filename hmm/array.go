package hmm

import (
	"sort"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/reads"
	"github.com/grailbio/varcall/reference"
)

// LikelihoodArray is the dense (sample, haplotype, read) log-likelihood
// table.  It owns no haplotypes; callers index haplotypes by position in the
// slice they populated the array with.  Prime selects the sample whose rows
// Likelihoods returns, mirroring how the inference models walk one sample at
// a time.
type LikelihoodArray struct {
	samples []string
	reads   map[string][]*reads.AlignedRead
	lls     map[string][][]float64 // sample -> [haplotype][read]
	primed  string
}

// Samples returns the samples the array was populated with.
func (a *LikelihoodArray) Samples() []string { return a.samples }

// Prime selects the sample subsequent Likelihoods and Reads calls refer to.
func (a *LikelihoodArray) Prime(sample string) {
	if _, ok := a.lls[sample]; !ok {
		log.Panicf("hmm: priming on unknown sample %q", sample)
	}
	a.primed = sample
}

// Likelihoods returns the primed sample's log-likelihood row for one
// haplotype, indexed by read.
func (a *LikelihoodArray) Likelihoods(haplotype int) []float64 {
	return a.lls[a.primed][haplotype]
}

// SampleLikelihoods returns the full row set for an explicit sample.
func (a *LikelihoodArray) SampleLikelihoods(sample string) [][]float64 { return a.lls[sample] }

// Reads returns the primed sample's reads, in the order the likelihood rows
// index them.
func (a *LikelihoodArray) Reads() []*reads.AlignedRead { return a.reads[a.primed] }

// SampleReads returns reads for an explicit sample.
func (a *LikelihoodArray) SampleReads(sample string) []*reads.AlignedRead { return a.reads[sample] }

// NumReads returns the primed sample's read count.
func (a *LikelihoodArray) NumReads() int { return len(a.reads[a.primed]) }

// Populate computes the full likelihood table.  Each haplotype is expanded
// with enough reference padding to cover every read plus the maximum indel
// extent before the pair-HMM is primed on it.
func Populate(model *Model, haplotypes []*genome.Haplotype, bySample map[string][]*reads.AlignedRead,
	ref reference.Genome) (*LikelihoodArray, error) {
	a := &LikelihoodArray{
		reads: make(map[string][]*reads.AlignedRead, len(bySample)),
		lls:   make(map[string][][]float64, len(bySample)),
	}
	for sample := range bySample {
		a.samples = append(a.samples, sample)
	}
	sort.Strings(a.samples)
	if len(haplotypes) == 0 {
		return nil, errors.New("hmm: no haplotypes to populate")
	}

	// One padding bound serves every haplotype: the reads region plus the
	// largest indel any read or haplotype can introduce.
	readsRegion := haplotypes[0].Region()
	maxReadIndel := 0
	for _, sample := range a.samples {
		rs := bySample[sample]
		a.reads[sample] = rs
		for _, r := range rs {
			readsRegion = genome.Span(readsRegion, r.Region())
			if n := r.MaxIndelSize(); n > maxReadIndel {
				maxReadIndel = n
			}
		}
	}
	maxHapIndel := 0
	for _, h := range haplotypes {
		n := h.Region().Size() - len(h.Sequence())
		if n < 0 {
			n = -n
		}
		if n > maxHapIndel {
			maxHapIndel = n
		}
	}
	indelFactor := maxReadIndel + maxHapIndel

	type expanded struct {
		seq                  string
		region               genome.Region
		flankBegin, flankEnd int
		kmers                *KmerTable
	}
	exps := make([]expanded, len(haplotypes))
	for i, h := range haplotypes {
		pad := 2*model.PadRequirement() + indelFactor
		lhs := pad
		if d := h.Region().Begin - readsRegion.Begin; d > 0 {
			lhs += d
		}
		rhs := pad
		if d := readsRegion.End - h.Region().End; d > 0 {
			rhs += d
		}
		wide := h.Region().Expand(lhs, rhs)
		region, refSeq, err := reference.FetchClamped(ref, wide)
		if err != nil {
			return nil, errors.Wrapf(err, "expanding haplotype %s", h.Region())
		}
		eh := genome.ExpandHaplotype(h, region, refSeq)
		seq := eh.Sequence()
		flankBegin := h.Region().Begin - region.Begin
		flankEnd := flankBegin + len(h.Sequence())
		exps[i] = expanded{seq: seq, region: region, flankBegin: flankBegin, flankEnd: flankEnd, kmers: NewKmerTable(seq)}
	}

	for _, sample := range a.samples {
		rs := a.reads[sample]
		hashes := make([][]int32, len(rs))
		for j, r := range rs {
			hashes[j] = KmerHashes(r.Seq)
		}
		rows := make([][]float64, len(haplotypes))
		for i := range haplotypes {
			e := &exps[i]
			model.Reset(e.seq, e.flankBegin, e.flankEnd)
			row := make([]float64, len(rs))
			for j, r := range rs {
				positions := MapToTarget(hashes[j], e.kmers, model.cfg.MaxCandidatePositions)
				if len(positions) == 0 {
					// Fall back to the read's declared alignment offset.
					if off := r.Pos - e.region.Begin; off >= 0 && off+len(r.Seq) <= len(e.seq) {
						positions = []int{off}
					}
				}
				row[j] = model.Evaluate(r.Seq, r.Qual, r.MapQ, positions)
			}
			rows[i] = row
		}
		a.lls[sample] = rows
	}
	return a, nil
}

package caller

import (
	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/logprob"
)

// PhaseCalls links heterozygous variant calls within one window into phase
// blocks.  Calls in a window all derive from the same MAP haplotype
// assignment, so their genotype posteriors factor jointly: every sample with
// two or more heterozygous calls gets one block spanning them, scored by the
// weakest member.  Genotype allele order already follows haplotype slots, so
// phased rendering is consistent across the block's sites.
func PhaseCalls(calls []Call) {
	type member struct {
		call Call
		gc   *GenotypeCall
	}
	bySample := make(map[string][]member)
	for _, c := range calls {
		if c.Type() == ReferenceCallType {
			continue
		}
		for _, sample := range c.Samples() {
			gc, ok := c.GenotypeCall(sample)
			if !ok || gc.Genotype.IsHomozygous() {
				continue
			}
			bySample[sample] = append(bySample[sample], member{call: c, gc: gc})
		}
	}
	for _, members := range bySample {
		if len(members) < 2 {
			continue
		}
		span := members[0].call.Region()
		score := members[0].gc.Quality
		for _, m := range members[1:] {
			span = genome.Span(span, m.call.Region())
			if m.gc.Quality < score {
				score = m.gc.Quality
			}
		}
		for _, m := range members {
			m.gc.Phase = &PhaseCall{Region: span, Score: score}
		}
	}
}

// PhaseQualityFloor drops phase links whose score is below the floor.
func PhaseQualityFloor(calls []Call, floor logprob.Phred) {
	for _, c := range calls {
		for _, sample := range c.Samples() {
			if gc, ok := c.GenotypeCall(sample); ok && gc.Phase != nil && gc.Phase.Score < floor {
				gc.Phase = nil
			}
		}
	}
}

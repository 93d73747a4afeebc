package reads

import (
	"github.com/grailbio/hts/sam"

	"github.com/grailbio/varcall/genome"
)

// Pileup summarizes the bases observed at one reference position.
type Pileup struct {
	Pos      int
	Depth    int
	Counts   map[byte]int // base -> count, high-quality bases only
	QualSums map[byte]int // base -> sum of base qualities
}

// MatchCount returns the number of high-quality bases equal to refBase.
func (p *Pileup) MatchCount(refBase byte) int { return p.Counts[refBase] }

// MismatchCount returns the number of high-quality bases not equal to
// refBase.
func (p *Pileup) MismatchCount(refBase byte) int {
	n := 0
	for b, c := range p.Counts {
		if b != refBase {
			n += c
		}
	}
	return n
}

// PileupMap holds per-sample pileups over a region, indexed by
// pos - region.Begin.
type PileupMap map[string][]Pileup

// BuildPileups walks each read's CIGAR once and accumulates per-position base
// counts over region.  Bases below minBaseQual contribute to Depth only.
func BuildPileups(bySample map[string][]*AlignedRead, region genome.Region, minBaseQual byte) PileupMap {
	out := make(PileupMap, len(bySample))
	for sample, rs := range bySample {
		rows := make([]Pileup, region.Size())
		for i := range rows {
			rows[i].Pos = region.Begin + i
			rows[i].Counts = make(map[byte]int)
			rows[i].QualSums = make(map[byte]int)
		}
		for _, r := range rs {
			addReadToPileup(rows, r, region, minBaseQual)
		}
		out[sample] = rows
	}
	return out
}

func addReadToPileup(rows []Pileup, r *AlignedRead, region genome.Region, minBaseQual byte) {
	posInRef := r.Pos
	posInRead := 0
	for _, co := range r.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for i := 0; i < n; i++ {
				p := posInRef + i
				if p < region.Begin || p >= region.End {
					continue
				}
				row := &rows[p-region.Begin]
				row.Depth++
				if posInRead+i < len(r.Qual) && r.Qual[posInRead+i] >= minBaseQual {
					b := r.Seq[posInRead+i]
					row.Counts[b]++
					row.QualSums[b] += int(r.Qual[posInRead+i])
				}
			}
			posInRef += n
			posInRead += n
		case sam.CigarInsertion, sam.CigarSoftClipped:
			posInRead += n
		case sam.CigarDeletion, sam.CigarSkipped:
			posInRef += n
		}
	}
}

// Downsample caps per-position depth at maxDepth, deterministically keeping
// the earliest reads by (position, name).  A zero or negative maxDepth is a
// no-op.
func Downsample(rs []*AlignedRead, maxDepth int) []*AlignedRead {
	if maxDepth <= 0 || len(rs) <= maxDepth {
		return rs
	}
	sorted := append([]*AlignedRead(nil), rs...)
	SortReads(sorted)
	depth := make(map[int]int)
	var out []*AlignedRead
	for _, r := range sorted {
		over := false
		for p := r.Pos; p < r.End(); p++ {
			if depth[p] >= maxDepth {
				over = true
				break
			}
		}
		if over {
			continue
		}
		for p := r.Pos; p < r.End(); p++ {
			depth[p]++
		}
		out = append(out, r)
	}
	return out
}

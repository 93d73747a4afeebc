// Package reads defines the aligned-read model consumed by the calling core
// and the interface through which reads are fetched.  Read ingestion from
// BAM/PAM files lives behind the Manager interface; the core never touches
// alignment files directly.
package reads

import (
	"sort"

	"github.com/grailbio/hts/sam"

	"github.com/grailbio/varcall/genome"
)

// AlignedRead is one aligned sequencing read.  Sequence and qualities are
// indexed together; Cigar describes the mapping of Seq onto the reference
// starting at Pos.
type AlignedRead struct {
	Name   string
	Sample string
	Contig string
	Pos    int
	MapQ   byte
	Flags  sam.Flags
	Cigar  sam.Cigar
	Seq    string
	Qual   []byte
}

// End returns one past the last reference position the read maps to.
func (r *AlignedRead) End() int {
	span := 0
	for _, co := range r.Cigar {
		switch co.Type() {
		case sam.CigarMatch, sam.CigarDeletion, sam.CigarSkipped, sam.CigarEqual, sam.CigarMismatch:
			span += co.Len()
		}
	}
	if span == 0 {
		span = len(r.Seq)
	}
	return r.Pos + span
}

// Region returns the reference region the read maps to.
func (r *AlignedRead) Region() genome.Region {
	return genome.Region{Contig: r.Contig, Begin: r.Pos, End: r.End()}
}

// MaxIndelSize returns the difference between the read's mapped span and its
// sequence length, a cheap bound on the largest indel it can carry.
func (r *AlignedRead) MaxIndelSize() int {
	span := r.End() - r.Pos
	if span > len(r.Seq) {
		return span - len(r.Seq)
	}
	return len(r.Seq) - span
}

// IsDuplicate reports the duplicate flag.
func (r *AlignedRead) IsDuplicate() bool { return r.Flags&sam.Duplicate != 0 }

// IsPaired reports the paired flag.
func (r *AlignedRead) IsPaired() bool { return r.Flags&sam.Paired != 0 }

// SortReads orders reads by (contig, position, name) for deterministic
// processing.
func SortReads(rs []*AlignedRead) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Contig != b.Contig {
			return a.Contig < b.Contig
		}
		if a.Pos != b.Pos {
			return a.Pos < b.Pos
		}
		return a.Name < b.Name
	})
}

// Manager is the read-source contract.  Implementations must be safe for
// concurrent FetchReads calls on disjoint regions.
type Manager interface {
	// FetchReads returns, per sample, the reads overlapping region.
	FetchReads(samples []string, region genome.Region) (map[string][]*AlignedRead, error)
	// HasCoverage reports whether any sample has at least one read in region.
	HasCoverage(region genome.Region) (bool, error)
}

// SliceManager is an in-memory Manager backed by a read slice, used in tests
// and for small inputs.
type SliceManager struct {
	byContig map[string][]*AlignedRead
}

// NewSliceManager builds a SliceManager from reads; the input is copied and
// sorted.
func NewSliceManager(rs []*AlignedRead) *SliceManager {
	sorted := append([]*AlignedRead(nil), rs...)
	SortReads(sorted)
	m := &SliceManager{byContig: make(map[string][]*AlignedRead)}
	for _, r := range sorted {
		m.byContig[r.Contig] = append(m.byContig[r.Contig], r)
	}
	return m
}

// FetchReads implements Manager.
func (m *SliceManager) FetchReads(samples []string, region genome.Region) (map[string][]*AlignedRead, error) {
	want := make(map[string]bool, len(samples))
	out := make(map[string][]*AlignedRead, len(samples))
	for _, s := range samples {
		want[s] = true
		out[s] = nil
	}
	for _, r := range m.byContig[region.Contig] {
		if r.Pos >= region.End {
			break
		}
		if r.End() > region.Begin && want[r.Sample] {
			out[r.Sample] = append(out[r.Sample], r)
		}
	}
	return out, nil
}

// HasCoverage implements Manager.
func (m *SliceManager) HasCoverage(region genome.Region) (bool, error) {
	for _, r := range m.byContig[region.Contig] {
		if r.Pos >= region.End {
			break
		}
		if r.End() > region.Begin {
			return true, nil
		}
	}
	return false, nil
}

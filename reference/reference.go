// Package reference provides random access to a reference genome.  The
// Genome interface is the boundary the calling core sees; the in-memory
// implementation parses FASTA data up front so that Fetch is a cheap
// substring operation shared read-only across workers.
package reference

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/grailbio/varcall/genome"
)

// Genome is the reference contract.  Implementations must be safe for
// concurrent Fetch calls.
type Genome interface {
	// Fetch returns the reference sequence of the region.
	Fetch(region genome.Region) (string, error)
	// Contigs returns contig names in genome order.
	Contigs() []string
	// ContigSize returns the length of the named contig.
	ContigSize(name string) (int, error)
}

type memGenome struct {
	seqs  map[string]string
	names []string
}

// NewInMemory builds a Genome from explicit contig sequences.  names gives
// the contig order; every name must be a key of seqs.
func NewInMemory(seqs map[string]string, names []string) Genome {
	return &memGenome{seqs: seqs, names: names}
}

// NewFromFASTA reads FASTA data into memory.  Sequence names are the
// characters after '>' up to the first space.
func NewFromFASTA(r io.Reader) (Genome, error) {
	g := &memGenome{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 1024*1024*256)
	var name string
	var seq strings.Builder
	flush := func() error {
		if seq.Len() == 0 {
			return nil
		}
		if name == "" {
			return errors.New("malformed FASTA: sequence data before first header")
		}
		g.seqs[name] = seq.String()
		g.names = append(g.names, name)
		seq.Reset()
		return nil
	}
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return nil, err
			}
			name = strings.Split(line[1:], " ")[0]
		} else {
			seq.WriteString(strings.ToUpper(line))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading FASTA data")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return g, nil
}

// Fetch implements Genome.
func (g *memGenome) Fetch(region genome.Region) (string, error) {
	s, ok := g.seqs[region.Contig]
	if !ok {
		return "", errors.Errorf("contig not found: %s", region.Contig)
	}
	if region.Begin < 0 || region.End > len(s) || region.End < region.Begin {
		return "", errors.Errorf("invalid query %s for contig of length %d", region, len(s))
	}
	return s[region.Begin:region.End], nil
}

// Contigs implements Genome.
func (g *memGenome) Contigs() []string { return g.names }

// ContigSize implements Genome.
func (g *memGenome) ContigSize(name string) (int, error) {
	s, ok := g.seqs[name]
	if !ok {
		return 0, errors.Errorf("contig not found: %s", name)
	}
	return len(s), nil
}

// FetchClamped fetches region clipped to the contig bounds; used when
// expanding haplotype padding near contig edges.
func FetchClamped(g Genome, region genome.Region) (genome.Region, string, error) {
	size, err := g.ContigSize(region.Contig)
	if err != nil {
		return genome.Region{}, "", err
	}
	if region.Begin < 0 {
		region.Begin = 0
	}
	if region.End > size {
		region.End = size
	}
	seq, err := g.Fetch(region)
	return region, seq, err
}

// Package bed loads BED files into region lists used to restrict calling.
// Only the first three columns are consumed; further columns are ignored.
package bed

import (
	"bufio"
	"bytes"
	"io"
	"sort"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/grailbio/varcall/genome"
)

// Load parses BED data into a sorted, merged region list.  Gzip'd input is
// detected by magic bytes.  Overlapping and adjacent intervals on the same
// contig are merged.
func Load(r io.Reader) ([]genome.Region, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "opening gzip'd BED")
		}
		defer gz.Close() // nolint: errcheck
		return load(bufio.NewScanner(gz))
	}
	return load(bufio.NewScanner(br))
}

func load(scanner *bufio.Scanner) ([]genome.Region, error) {
	var out []genome.Region
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		fields := bytes.Fields(line)
		if len(fields) < 3 {
			if len(fields) > 0 && (bytes.Equal(fields[0], []byte("track")) || bytes.Equal(fields[0], []byte("browser"))) {
				continue
			}
			return nil, errors.Errorf("BED line %d: fewer than 3 columns", lineNo)
		}
		begin, err := strconv.Atoi(string(fields[1]))
		if err != nil {
			return nil, errors.Wrapf(err, "BED line %d: bad start", lineNo)
		}
		end, err := strconv.Atoi(string(fields[2]))
		if err != nil {
			return nil, errors.Wrapf(err, "BED line %d: bad end", lineNo)
		}
		if end <= begin {
			return nil, errors.Errorf("BED line %d: empty interval [%d, %d)", lineNo, begin, end)
		}
		out = append(out, genome.Region{Contig: string(fields[0]), Begin: begin, End: end})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading BED data")
	}
	return Merge(out), nil
}

// Merge sorts regions and unions overlapping or adjacent ones.
func Merge(regions []genome.Region) []genome.Region {
	if len(regions) == 0 {
		return nil
	}
	sorted := append([]genome.Region(nil), regions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Compare(sorted[j]) < 0 })
	out := sorted[:1]
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.Contig == last.Contig && r.Begin <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
		} else {
			out = append(out, r)
		}
	}
	return out
}

// Intersect clips each region in a to the union given by b (which must be
// sorted and merged).  Used to restrict calling windows to BED targets.
func Intersect(a, b []genome.Region) []genome.Region {
	var out []genome.Region
	for _, r := range a {
		for _, t := range b {
			if !r.Overlaps(t) {
				continue
			}
			clipped := r
			if t.Begin > clipped.Begin {
				clipped.Begin = t.Begin
			}
			if t.End < clipped.End {
				clipped.End = t.End
			}
			out = append(out, clipped)
		}
	}
	return Merge(out)
}

package main

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/reads"
)

// Read ingestion from alignment files lives outside the calling core; the
// binary consumes a simple tab-separated alignment dump instead:
//
//	name  sample  contig  pos(0-based)  mapq  cigar  seq  quals(ASCII+33)
//
// Blank lines and '#' comments are skipped.
func parseReads(r io.Reader) ([]*reads.AlignedRead, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 64*1024*1024)
	var out []*reads.AlignedRead
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		fields := bytes.Split(line, []byte{'\t'})
		if len(fields) != 8 {
			return nil, errors.Errorf("reads line %d: want 8 columns, got %d", lineNo, len(fields))
		}
		pos, err := strconv.Atoi(string(fields[3]))
		if err != nil {
			return nil, errors.Wrapf(err, "reads line %d: bad position", lineNo)
		}
		mapq, err := strconv.Atoi(string(fields[4]))
		if err != nil {
			return nil, errors.Wrapf(err, "reads line %d: bad mapq", lineNo)
		}
		cigar, err := parseCigar(string(fields[5]))
		if err != nil {
			return nil, errors.Wrapf(err, "reads line %d: bad cigar", lineNo)
		}
		seq := string(fields[6])
		qual := make([]byte, len(fields[7]))
		for i, ch := range fields[7] {
			if ch < 33 {
				return nil, errors.Errorf("reads line %d: bad quality character", lineNo)
			}
			qual[i] = ch - 33
		}
		if len(qual) != len(seq) {
			return nil, errors.Errorf("reads line %d: sequence and quality lengths differ", lineNo)
		}
		out = append(out, &reads.AlignedRead{
			Name:   string(fields[0]),
			Sample: string(fields[1]),
			Contig: string(fields[2]),
			Pos:    pos,
			MapQ:   byte(mapq),
			Cigar:  cigar,
			Seq:    seq,
			Qual:   qual,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading alignment dump")
	}
	return out, nil
}

func parseCigar(s string) (sam.Cigar, error) {
	var out sam.Cigar
	n := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch >= '0' && ch <= '9' {
			n = n*10 + int(ch-'0')
			continue
		}
		if n == 0 {
			return nil, errors.Errorf("zero-length CIGAR op %q", ch)
		}
		var op sam.CigarOpType
		switch ch {
		case 'M':
			op = sam.CigarMatch
		case 'I':
			op = sam.CigarInsertion
		case 'D':
			op = sam.CigarDeletion
		case 'N':
			op = sam.CigarSkipped
		case 'S':
			op = sam.CigarSoftClipped
		case 'H':
			op = sam.CigarHardClipped
		case '=':
			op = sam.CigarEqual
		case 'X':
			op = sam.CigarMismatch
		default:
			return nil, errors.Errorf("unknown CIGAR op %q", ch)
		}
		out = append(out, sam.NewCigarOp(op, n))
		n = 0
	}
	if n != 0 {
		return nil, errors.New("trailing CIGAR length without op")
	}
	return out, nil
}

// Candidate variants arrive as a 4-column dump: contig  pos(0-based)  ref  alt.
// A '-' renders an empty allele (pure insertion/deletion form).
func parseCandidates(r io.Reader) ([]genome.Variant, error) {
	scanner := bufio.NewScanner(r)
	var out []genome.Variant
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		fields := bytes.Fields(line)
		if len(fields) != 4 {
			return nil, errors.Errorf("candidates line %d: want 4 columns, got %d", lineNo, len(fields))
		}
		pos, err := strconv.Atoi(string(fields[1]))
		if err != nil {
			return nil, errors.Wrapf(err, "candidates line %d: bad position", lineNo)
		}
		refSeq := dashEmpty(string(fields[2]))
		altSeq := dashEmpty(string(fields[3]))
		region := genome.Region{Contig: string(fields[0]), Begin: pos, End: pos + len(refSeq)}
		v, err := genome.NewVariant(
			genome.Allele{Region: region, Sequence: refSeq},
			genome.Allele{Region: region, Sequence: altSeq},
		)
		if err != nil {
			return nil, errors.Wrapf(err, "candidates line %d", lineNo)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading candidates")
	}
	return out, nil
}

func dashEmpty(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

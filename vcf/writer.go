package vcf

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Writer emits a VCF header followed by records in the order given.
type Writer struct {
	out     *bufio.Writer
	gz      *gzip.Writer
	samples []string
}

// WriterOpts configures a Writer.
type WriterOpts struct {
	// Gzip compresses the output stream.
	Gzip bool
	// Source names the generating tool in the header.
	Source string
	// Contigs lists contig header lines as (name, length) pairs in order.
	Contigs []Contig
}

// Contig is one reference sequence header entry.
type Contig struct {
	Name   string
	Length int
}

// NewWriter writes the header and returns a Writer for the sample columns.
func NewWriter(w io.Writer, samples []string, opts WriterOpts) (*Writer, error) {
	vw := &Writer{samples: samples}
	if opts.Gzip {
		vw.gz = gzip.NewWriter(w)
		vw.out = bufio.NewWriter(vw.gz)
	} else {
		vw.out = bufio.NewWriter(w)
	}
	var sb strings.Builder
	sb.WriteString("##fileformat=VCFv4.3\n")
	if opts.Source != "" {
		fmt.Fprintf(&sb, "##source=%s\n", opts.Source)
	}
	for _, c := range opts.Contigs {
		fmt.Fprintf(&sb, "##contig=<ID=%s,length=%d>\n", c.Name, c.Length)
	}
	sb.WriteString(`##INFO=<ID=SOMATIC,Number=0,Type=Flag,Description="Somatic mutation">
##INFO=<ID=DENOVO,Number=0,Type=Flag,Description="De novo mutation">
##INFO=<ID=PP,Number=1,Type=Float,Description="Model posterior probability">
##INFO=<ID=STRL,Number=1,Type=Integer,Description="Length of overlapping STR">
##FILTER=<ID=FAIL,Description="Calling failed for the enclosing window">
##FILTER=<ID=lowqual,Description="Inference did not converge; best available call">
##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">
##FORMAT=<ID=GQ,Number=1,Type=Integer,Description="Genotype quality">
##FORMAT=<ID=DP,Number=1,Type=Integer,Description="Read depth">
##FORMAT=<ID=ADP,Number=1,Type=Integer,Description="Assigned read depth">
##FORMAT=<ID=MQ,Number=1,Type=Integer,Description="Mean mapping quality">
##FORMAT=<ID=PS,Number=1,Type=String,Description="Phase set">
`)
	sb.WriteString("#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO")
	if len(samples) > 0 {
		sb.WriteString("\tFORMAT")
		for _, s := range samples {
			sb.WriteByte('\t')
			sb.WriteString(s)
		}
	}
	sb.WriteByte('\n')
	if _, err := vw.out.WriteString(sb.String()); err != nil {
		return nil, errors.Wrap(err, "writing VCF header")
	}
	return vw, nil
}

// Write renders one record.
func (w *Writer) Write(r *Record) error {
	if _, err := w.out.WriteString(r.Render(w.samples)); err != nil {
		return err
	}
	return w.out.WriteByte('\n')
}

// Close flushes buffered output and the gzip stream if any.
func (w *Writer) Close() error {
	if err := w.out.Flush(); err != nil {
		return err
	}
	if w.gz != nil {
		return w.gz.Close()
	}
	return nil
}

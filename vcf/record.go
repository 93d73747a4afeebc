// Package vcf models the output record contract and its writer.  Only the
// field-level contract lives here: CHROM through per-sample columns, with
// deterministic ordering and rendering.
package vcf

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MissingValue renders absent fields.
const MissingValue = "."

// Record is one output line.  Pos is 0-based internally and rendered
// 1-based.  Info flag keys carry an empty value.
type Record struct {
	Chrom  string
	Pos    int
	ID     string
	Ref    string
	Alts   []string
	Qual   float64
	Filter []string
	Info   map[string]string
	Format []string
	// Samples maps sample name to FORMAT-keyed values.
	Samples map[string]map[string]string
}

// NewRecord returns a Record with initialized maps and a PASS-less filter.
func NewRecord(chrom string, pos int) *Record {
	return &Record{
		Chrom:   chrom,
		Pos:     pos,
		Info:    make(map[string]string),
		Samples: make(map[string]map[string]string),
	}
}

// SetSampleField sets one per-sample value, extending Format on first use of
// the key.  GT is kept first.
func (r *Record) SetSampleField(sample, key, value string) {
	found := false
	for _, k := range r.Format {
		if k == key {
			found = true
			break
		}
	}
	if !found {
		if key == "GT" {
			r.Format = append([]string{"GT"}, r.Format...)
		} else {
			r.Format = append(r.Format, key)
		}
	}
	m := r.Samples[sample]
	if m == nil {
		m = make(map[string]string)
		r.Samples[sample] = m
	}
	m[key] = value
}

// AddFilter appends a FILTER id once.
func (r *Record) AddFilter(id string) {
	for _, f := range r.Filter {
		if f == id {
			return
		}
	}
	r.Filter = append(r.Filter, id)
}

// Compare orders records by (contig, position, ref, lexicographic alts).
func Compare(a, b *Record) int {
	if a.Chrom != b.Chrom {
		if a.Chrom < b.Chrom {
			return -1
		}
		return 1
	}
	if a.Pos != b.Pos {
		return a.Pos - b.Pos
	}
	if a.Ref != b.Ref {
		if a.Ref < b.Ref {
			return -1
		}
		return 1
	}
	aAlt := strings.Join(a.Alts, ",")
	bAlt := strings.Join(b.Alts, ",")
	if aAlt != bAlt {
		if aAlt < bAlt {
			return -1
		}
		return 1
	}
	return 0
}

// Render writes the record as one tab-separated line for the given sample
// column order.
func (r *Record) Render(samples []string) string {
	var sb strings.Builder
	sb.WriteString(r.Chrom)
	sb.WriteByte('\t')
	sb.WriteString(strconv.Itoa(r.Pos + 1))
	sb.WriteByte('\t')
	sb.WriteString(orMissing(r.ID))
	sb.WriteByte('\t')
	sb.WriteString(orMissing(r.Ref))
	sb.WriteByte('\t')
	if len(r.Alts) == 0 {
		sb.WriteString(MissingValue)
	} else {
		sb.WriteString(strings.Join(r.Alts, ","))
	}
	sb.WriteByte('\t')
	fmt.Fprintf(&sb, "%.1f", r.Qual)
	sb.WriteByte('\t')
	if len(r.Filter) == 0 {
		sb.WriteString("PASS")
	} else {
		sb.WriteString(strings.Join(r.Filter, ";"))
	}
	sb.WriteByte('\t')
	sb.WriteString(r.renderInfo())
	if len(r.Format) > 0 {
		sb.WriteByte('\t')
		sb.WriteString(strings.Join(r.Format, ":"))
		for _, sample := range samples {
			sb.WriteByte('\t')
			values := r.Samples[sample]
			parts := make([]string, len(r.Format))
			for i, key := range r.Format {
				if v, ok := values[key]; ok && v != "" {
					parts[i] = v
				} else {
					parts[i] = MissingValue
				}
			}
			sb.WriteString(strings.Join(parts, ":"))
		}
	}
	return sb.String()
}

func (r *Record) renderInfo() string {
	if len(r.Info) == 0 {
		return MissingValue
	}
	keys := make([]string, 0, len(r.Info))
	for k := range r.Info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := r.Info[k]; v == "" {
			parts = append(parts, k) // flag
		} else {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, ";")
}

func orMissing(s string) string {
	if s == "" {
		return MissingValue
	}
	return s
}

// FormatGenotype renders a GT value: indices joined by '|' when phased, '/'
// otherwise.
func FormatGenotype(indices []int, phased bool) string {
	sep := "/"
	if phased {
		sep = "|"
	}
	parts := make([]string, len(indices))
	for i, idx := range indices {
		if idx < 0 {
			parts[i] = MissingValue
		} else {
			parts[i] = strconv.Itoa(idx)
		}
	}
	return strings.Join(parts, sep)
}

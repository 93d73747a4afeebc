// Package measure implements the pluggable per-record measures computed over
// assigned reads for filtering and annotation, and the facet engine that
// lazily derives the shared views (samples, read assignments, reference
// context, alleles) the measures declare as requirements.
package measure

import (
	"github.com/pkg/errors"

	"github.com/grailbio/varcall/vcf"
)

// ResultCardinality describes a measure's result shape.
type ResultCardinality int

// Result shapes.
const (
	CardinalityOne ResultCardinality = iota
	CardinalityNumSamples
	CardinalityNumAlleles
	CardinalityNumSamplesAlleles
)

// FacetMap supplies named facets to measures.
type FacetMap map[string]interface{}

// Measure is a pure function of a record and its facets.
type Measure interface {
	// Name is the short field id, e.g. "ADP".
	Name() string
	// Describe is the one-line description for headers.
	Describe() string
	Cardinality() ResultCardinality
	// Requirements lists facet names Evaluate needs.
	Requirements() []string
	Evaluate(rec *vcf.Record, facets FacetMap) (interface{}, error)
}

// DefaultMeasures is the set applied to every output record: raw and
// assignment-derived depths, mapping quality, and STR context.
func DefaultMeasures() []Measure {
	return []Measure{Depth{}, MeanMappingQuality{}, AssignedDepth{}, STRLength{}}
}

// Apply evaluates measures over one record, resolving each measure's facet
// requirements through the engine; facets are computed once and shared.
func Apply(measures []Measure, rec *vcf.Record, engine *Engine) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(measures))
	for _, m := range measures {
		facets := make(FacetMap)
		for _, req := range m.Requirements() {
			f, err := engine.Get(req)
			if err != nil {
				return nil, errors.Wrapf(err, "facet %s for measure %s", req, m.Name())
			}
			facets[req] = f
		}
		v, err := m.Evaluate(rec, facets)
		if err != nil {
			return nil, errors.Wrapf(err, "measure %s", m.Name())
		}
		out[m.Name()] = v
	}
	return out, nil
}

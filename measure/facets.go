package measure

import (
	"github.com/pkg/errors"

	"github.com/grailbio/varcall/assign"
	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/hmm"
	"github.com/grailbio/varcall/reads"
	"github.com/grailbio/varcall/reference"
)

// Facet names.
const (
	FacetSamples          = "Samples"
	FacetReads            = "Reads"
	FacetReadAssignments  = "ReadAssignments"
	FacetReferenceContext = "ReferenceContext"
	FacetAlleles          = "Alleles"
)

// Assignments is the ReadAssignments facet value.
type Assignments struct {
	// Support maps sample to its haplotype support map.
	Support map[string]assign.SupportMap
	// Ambiguous maps sample to its ambiguous reads.
	Ambiguous map[string][]assign.AmbiguousRead
}

// ReferenceContext is the reference sequence over the batch region.
type ReferenceContext struct {
	Region   genome.Region
	Sequence string
}

// Inputs are the batch-level raw materials facets derive from.
type Inputs struct {
	Region        genome.Region
	Reference     reference.Genome
	Samples       []string
	ReadsBySample map[string][]*reads.AlignedRead
	// Genotypes are the called haplotype genotypes per sample, used for read
	// assignment.
	Genotypes map[string]genome.Genotype
	// Alleles are the called alleles of the batch.
	Alleles []genome.Allele
	// Assignment configures the re-assignment pass.
	Assignment assign.Config
}

// Engine computes facets lazily and caches them for one record batch.
// Engines are single-threaded; each worker owns its own.
type Engine struct {
	inputs Inputs
	cache  map[string]interface{}
}

// NewEngine builds an engine over one batch's inputs.
func NewEngine(inputs Inputs) *Engine {
	return &Engine{inputs: inputs, cache: make(map[string]interface{})}
}

// Get returns the named facet, computing it on first use.
func (e *Engine) Get(name string) (interface{}, error) {
	if v, ok := e.cache[name]; ok {
		return v, nil
	}
	v, err := e.compute(name)
	if err != nil {
		return nil, err
	}
	e.cache[name] = v
	return v, nil
}

func (e *Engine) compute(name string) (interface{}, error) {
	switch name {
	case FacetSamples:
		return e.inputs.Samples, nil
	case FacetReads:
		return e.inputs.ReadsBySample, nil
	case FacetAlleles:
		return e.inputs.Alleles, nil
	case FacetReferenceContext:
		// Pad the region so repeat context extends past the batch edges.
		region, seq, err := reference.FetchClamped(e.inputs.Reference, e.inputs.Region.Expand(50, 50))
		if err != nil {
			return nil, err
		}
		return ReferenceContext{Region: region, Sequence: seq}, nil
	case FacetReadAssignments:
		out := Assignments{
			Support:   make(map[string]assign.SupportMap, len(e.inputs.Samples)),
			Ambiguous: make(map[string][]assign.AmbiguousRead, len(e.inputs.Samples)),
		}
		model := hmm.NewModel(hmm.AssignmentConfig)
		for _, sample := range e.inputs.Samples {
			g, ok := e.inputs.Genotypes[sample]
			if !ok {
				continue
			}
			support, ambiguous, err := assign.HaplotypeSupport(
				g, e.inputs.ReadsBySample[sample], nil, model, e.inputs.Reference, e.inputs.Assignment)
			if err != nil {
				return nil, err
			}
			out.Support[sample] = support
			out.Ambiguous[sample] = ambiguous
		}
		return out, nil
	default:
		return nil, errors.Errorf("unknown facet %q", name)
	}
}

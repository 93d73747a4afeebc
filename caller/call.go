// Package caller drives the calling pipeline for one window: haplotype
// enumeration, likelihood population, model inference, call construction,
// phasing and collation.  Concrete callers (individual, population, trio,
// cancer, cell) implement the narrow Caller interface; the Pipeline owns the
// shared steps.
package caller

import (
	"fmt"
	"strconv"

	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/logprob"
	"github.com/grailbio/varcall/vcf"
)

// CallType names a call class a caller can produce.
type CallType string

// Call types.
const (
	VariantCallType   CallType = "variant"
	ReferenceCallType CallType = "reference"
	SomaticCallType   CallType = "somatic"
	DenovoCallType    CallType = "denovo"
	CancerCallType    CallType = "cancer"
	CellCallType      CallType = "cell"
)

// PhaseCall links a genotype call into a phase block.
type PhaseCall struct {
	// Region spans the phase block.
	Region genome.Region
	// Score is the phase confidence.
	Score logprob.Phred
}

// GenotypeCall is one sample's called genotype at a site.
type GenotypeCall struct {
	Genotype genome.AlleleGenotype
	Quality  logprob.Phred
	Phase    *PhaseCall
}

// Call is the common call contract.
type Call interface {
	Region() genome.Region
	Quality() logprob.Phred
	ModelPosterior() (float64, bool)
	GenotypeCall(sample string) (*GenotypeCall, bool)
	Samples() []string
	Type() CallType
	// Alleles returns (ref, alts) for record construction.
	Alleles() (genome.Allele, []genome.Allele)
	// Decorate adds call-class fields to a rendered record.
	Decorate(rec *vcf.Record)
}

type baseCall struct {
	region         genome.Region
	quality        logprob.Phred
	modelPosterior *float64
	genotypes      map[string]*GenotypeCall
	sampleOrder    []string
}

func newBaseCall(region genome.Region, quality logprob.Phred) baseCall {
	return baseCall{region: region, quality: quality, genotypes: make(map[string]*GenotypeCall)}
}

func (c *baseCall) Region() genome.Region  { return c.region }
func (c *baseCall) Quality() logprob.Phred { return c.quality }
func (c *baseCall) Samples() []string      { return c.sampleOrder }

func (c *baseCall) ModelPosterior() (float64, bool) {
	if c.modelPosterior == nil {
		return 0, false
	}
	return *c.modelPosterior, true
}

// SetModelPosterior records the optional model posterior.
func (c *baseCall) SetModelPosterior(p float64) { c.modelPosterior = &p }

func (c *baseCall) GenotypeCall(sample string) (*GenotypeCall, bool) {
	gc, ok := c.genotypes[sample]
	return gc, ok
}

// SetGenotypeCall installs one sample's genotype call.
func (c *baseCall) SetGenotypeCall(sample string, gc *GenotypeCall) {
	if _, ok := c.genotypes[sample]; !ok {
		c.sampleOrder = append(c.sampleOrder, sample)
	}
	c.genotypes[sample] = gc
}

func (c *baseCall) decorateCommon(rec *vcf.Record) {
	if p, ok := c.ModelPosterior(); ok {
		rec.Info["PP"] = fmt.Sprintf("%.4f", p)
	}
}

// VariantCall is a germline variant call.
type VariantCall struct {
	baseCall
	Variant genome.Variant
}

// NewVariantCall builds a variant call.
func NewVariantCall(v genome.Variant, quality logprob.Phred) *VariantCall {
	return &VariantCall{baseCall: newBaseCall(v.Region(), quality), Variant: v}
}

// Type implements Call.
func (c *VariantCall) Type() CallType { return VariantCallType }

// Alleles implements Call.
func (c *VariantCall) Alleles() (genome.Allele, []genome.Allele) {
	return c.Variant.Ref, []genome.Allele{c.Variant.Alt}
}

// Decorate implements Call.
func (c *VariantCall) Decorate(rec *vcf.Record) { c.decorateCommon(rec) }

// ReferenceCall is a homozygous-reference block call.
type ReferenceCall struct {
	baseCall
	Reference genome.Allele
}

// NewReferenceCall builds a reference call over the allele's region.
func NewReferenceCall(ref genome.Allele, quality logprob.Phred) *ReferenceCall {
	return &ReferenceCall{baseCall: newBaseCall(ref.Region, quality), Reference: ref}
}

// Type implements Call.
func (c *ReferenceCall) Type() CallType { return ReferenceCallType }

// Alleles implements Call.
func (c *ReferenceCall) Alleles() (genome.Allele, []genome.Allele) {
	return c.Reference, nil
}

// Decorate implements Call.
func (c *ReferenceCall) Decorate(rec *vcf.Record) {
	c.decorateCommon(rec)
	rec.Info["END"] = strconv.Itoa(c.region.End)
}

// SomaticCall marks a variant as somatic.
type SomaticCall struct {
	VariantCall
	// SomaticPosterior is the posterior that the allele is somatic rather
	// than germline.
	SomaticPosterior float64
}

// Type implements Call.
func (c *SomaticCall) Type() CallType { return SomaticCallType }

// Decorate implements Call.
func (c *SomaticCall) Decorate(rec *vcf.Record) {
	c.decorateCommon(rec)
	rec.Info["SOMATIC"] = ""
}

// DenovoCall marks a variant as de novo in the offspring.
type DenovoCall struct {
	VariantCall
	// DenovoPosterior is the posterior that the allele arose de novo.
	DenovoPosterior float64
}

// Type implements Call.
func (c *DenovoCall) Type() CallType { return DenovoCallType }

// Decorate implements Call.
func (c *DenovoCall) Decorate(rec *vcf.Record) {
	c.decorateCommon(rec)
	rec.Info["DENOVO"] = ""
}

// CancerGenotypeCall is a cancer-caller germline call carrying the inferred
// somatic context.
type CancerGenotypeCall struct {
	VariantCall
	// SomaticHaplotypes counts somatic haplotypes in the MAP cancer genotype.
	SomaticHaplotypes int
}

// Type implements Call.
func (c *CancerGenotypeCall) Type() CallType { return CancerCallType }

// CellCall is a cell-caller variant with its phylogeny context.
type CellCall struct {
	VariantCall
	// PhylogenyPosterior is the posterior of the winning phylogeny.
	PhylogenyPosterior float64
}

// Type implements Call.
func (c *CellCall) Type() CallType { return CellCallType }

// Decorate implements Call.
func (c *CellCall) Decorate(rec *vcf.Record) {
	c.decorateCommon(rec)
	rec.Info["PHYLOP"] = fmt.Sprintf("%.4f", c.PhylogenyPosterior)
}

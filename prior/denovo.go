package prior

import (
	"math"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/log"
)

// CachingStrategy selects how DeNovoModel memoizes pairwise evaluations.
type CachingStrategy int

const (
	// CacheNone recomputes every call.
	CacheNone CachingStrategy = iota
	// CacheValue memoizes by haplotype sequence equality.
	CacheValue
	// CacheAddress memoizes by haplotype object identity.  Faster than
	// CacheValue but requires the haplotypes to stay alive while the model
	// is in use; never share an address-cached model across workers.
	CacheAddress
)

// DeNovoParams parameterize the single-generation mutation process.
type DeNovoParams struct {
	MutationRate float64
}

// DefaultDeNovoParams is the usual human germline SNV mutation rate.
var DefaultDeNovoParams = DeNovoParams{MutationRate: 1e-8}

const defaultHaplotypeHint = 1000

// DeNovoModel computes ln P(target | given): the probability that the target
// haplotype arose from the given haplotype by one generation of mutation.
// The zero value is unusable; construct with NewDeNovoModel.
type DeNovoModel struct {
	params  DeNovoParams
	caching CachingStrategy

	lnMatch, lnSNV, lnOpen, lnExtend float64

	valueCache   map[uint64]float64
	addressCache map[hapPair]float64

	// Primed state: dense index cache over a registered haplotype list.
	primed     []Sequencer
	indexOf    map[Sequencer]int
	indexCache [][]float64
	indexSet   [][]bool
}

type hapPair struct{ target, given Sequencer }

// Sequencer is the slice of the haplotype API the mutation model needs.
// genome.Haplotype satisfies it.
type Sequencer interface {
	Sequence() string
}

// NewDeNovoModel builds a model.  haplotypeHint sizes the caches; pass 0 for
// the default.
func NewDeNovoModel(params DeNovoParams, haplotypeHint int, caching CachingStrategy) *DeNovoModel {
	if haplotypeHint <= 0 {
		haplotypeHint = defaultHaplotypeHint
	}
	mu := params.MutationRate
	m := &DeNovoModel{
		params:  params,
		caching: caching,
		lnMatch: math.Log1p(-mu),
		lnSNV:   math.Log(mu),
		// Indels are roughly an order of magnitude rarer than SNVs in the
		// germline mutation process.
		lnOpen:   math.Log(mu) + math.Log(0.1),
		lnExtend: math.Log(0.5),
	}
	switch caching {
	case CacheValue:
		m.valueCache = make(map[uint64]float64, haplotypeHint)
	case CacheAddress:
		m.addressCache = make(map[hapPair]float64, haplotypeHint)
	}
	return m
}

// Prime registers a haplotype list so evaluations between registered
// haplotypes use a dense index cache.
func (m *DeNovoModel) Prime(haplotypes []Sequencer) {
	n := len(haplotypes)
	m.primed = haplotypes
	m.indexOf = make(map[Sequencer]int, n)
	for i, h := range haplotypes {
		m.indexOf[h] = i
	}
	m.indexCache = make([][]float64, n)
	m.indexSet = make([][]bool, n)
	for i := range m.indexCache {
		m.indexCache[i] = make([]float64, n)
		m.indexSet[i] = make([]bool, n)
	}
}

// Unprime drops the primed state.
func (m *DeNovoModel) Unprime() {
	m.primed = nil
	m.indexOf = nil
	m.indexCache = nil
	m.indexSet = nil
}

// IsPrimed reports whether Prime was called.
func (m *DeNovoModel) IsPrimed() bool { return m.primed != nil }

// EvaluateIndex is Evaluate over primed haplotype indices.
func (m *DeNovoModel) EvaluateIndex(target, given int) float64 {
	if !m.indexSet[target][given] {
		m.indexCache[target][given] = m.evaluateUncached(m.primed[target].Sequence(), m.primed[given].Sequence())
		m.indexSet[target][given] = true
	}
	return m.indexCache[target][given]
}

// Evaluate returns ln P(target | given).
func (m *DeNovoModel) Evaluate(target, given Sequencer) float64 {
	if m.primed != nil {
		ti, tok := m.indexOf[target]
		gi, gok := m.indexOf[given]
		if tok && gok {
			return m.EvaluateIndex(ti, gi)
		}
	}
	switch m.caching {
	case CacheValue:
		key := pairHash(target.Sequence(), given.Sequence())
		if v, ok := m.valueCache[key]; ok {
			return v
		}
		v := m.evaluateUncached(target.Sequence(), given.Sequence())
		m.valueCache[key] = v
		return v
	case CacheAddress:
		key := hapPair{target, given}
		if v, ok := m.addressCache[key]; ok {
			return v
		}
		v := m.evaluateUncached(target.Sequence(), given.Sequence())
		m.addressCache[key] = v
		return v
	default:
		return m.evaluateUncached(target.Sequence(), given.Sequence())
	}
}

func pairHash(target, given string) uint64 {
	h1 := farm.Hash64([]byte(target))
	h2 := farm.Hash64([]byte(given))
	return h1*0x9e3779b97f4a7c15 ^ h2
}

// denovoBand bounds the indel extent the alignment explores.
const denovoBand = 8

// evaluateUncached scores a banded global alignment of target against given,
// maximizing the log probability of the mutation path (Viterbi over
// substitution/insertion/deletion states with affine gaps).
func (m *DeNovoModel) evaluateUncached(target, given string) float64 {
	n, g := len(target), len(given)
	if n == 0 || g == 0 {
		log.Panicf("denovo: empty haplotype sequence")
	}
	if d := abs(n - g); d > denovoBand {
		// Beyond the modeled indel extent: floor at an open+extend chain plus
		// all-substitution body.
		return m.lnOpen + float64(d-1)*m.lnExtend + float64(min(n, g))*m.lnSNV
	}
	negInf := math.Inf(-1)
	newRow := func() []float64 {
		row := make([]float64, g+1)
		for j := range row {
			row[j] = negInf
		}
		return row
	}
	prevM, curM := newRow(), newRow()
	prevI, curI := newRow(), newRow()
	prevD, curD := newRow(), newRow()
	prevM[0] = 0
	for j := 1; j <= g; j++ {
		prevD[j] = m.lnOpen + float64(j-1)*m.lnExtend
	}
	for i := 1; i <= n; i++ {
		for j := range curM {
			curM[j], curI[j], curD[j] = negInf, negInf, negInf
		}
		lo := max(i-denovoBand, 0)
		hi := min(i+denovoBand, g)
		if lo == 0 {
			curI[0] = max3(prevM[0]+m.lnOpen, prevI[0]+m.lnExtend, negInf)
		}
		for j := max(lo, 1); j <= hi; j++ {
			sub := m.lnMatch
			if target[i-1] != given[j-1] {
				sub = m.lnSNV
			}
			curM[j] = max3(prevM[j-1], prevI[j-1], prevD[j-1]) + sub
			curI[j] = max3(prevM[j]+m.lnOpen, prevI[j]+m.lnExtend, negInf)
			curD[j] = max3(curM[j-1]+m.lnOpen, curD[j-1]+m.lnExtend, negInf)
		}
		prevM, curM = curM, prevM
		prevI, curI = curI, prevI
		prevD, curD = curD, prevD
	}
	return max3(prevM[g], prevI[g], prevD[g])
}

func max3(a, b, c float64) float64 {
	if b > a {
		a = b
	}
	if c > a {
		a = c
	}
	return a
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

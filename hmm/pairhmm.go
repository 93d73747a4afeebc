package hmm

import (
	"math"

	"github.com/grailbio/base/log"
	"gonum.org/v1/gonum/floats"
)

// Config holds the likelihood model's error-model knobs.
type Config struct {
	// MaxIndelError caps the homopolymer run length that inflates gap-open
	// probabilities; longer runs score no worse than a run of this length.
	MaxIndelError int
	// UseFlankState scores read bases aligned in the lateral flanks (outside
	// the haplotype's own region) with a flat soft-clip emission floor.
	UseFlankState bool
	// UseMappingQuality mixes the read's MAPQ into the alignment prior: with
	// probability 10^(-MAPQ/10) the read is mapped elsewhere and scores the
	// uniform floor.
	UseMappingQuality bool
	// MaxCandidatePositions caps the number of k-mer anchor positions scored
	// per read.
	MaxCandidatePositions int
}

// DefaultConfig is the calling configuration.  Read assignment uses
// AssignmentConfig instead.
var DefaultConfig = Config{
	MaxIndelError:         8,
	UseFlankState:         true,
	UseMappingQuality:     true,
	MaxCandidatePositions: 10,
}

// AssignmentConfig is the cheaper model used when re-assigning reads to
// called haplotypes.
var AssignmentConfig = Config{
	MaxIndelError:         8,
	UseFlankState:         false,
	UseMappingQuality:     false,
	MaxCandidatePositions: 10,
}

const (
	// Gap model, Phred-scaled.  The per-position open penalty relaxes from
	// gapOpenPhred toward gapOpenMinPhred inside homopolymer runs.
	gapOpenPhred    = 45.0
	gapOpenMinPhred = 13.0
	gapOpenStep     = 4.0 // penalty drop per extra run base
	gapExtendPhred  = 9.0

	lnFlat = -1.3862943611198906 // ln(1/4)
	// lnClip is the flank soft-clip emission: flat base emission times a
	// small per-base clip penalty.
	lnClip = lnFlat - 2.3025850929940457 // ln(1/4) + ln(0.1)
)

func phredToLn(q float64) float64 { return -q / 10 * math.Ln10 }

// Model scores reads against one primed haplotype sequence.  Reset must be
// called before Evaluate.  A Model is not safe for concurrent use; each
// worker owns its own.
type Model struct {
	cfg       Config
	target    string
	gapOpen   []float64 // per target position, ln P(open indel)
	gapExtend float64
	noExtend  float64
	// Flank bounds: target positions < flankBegin or >= flankEnd lie in the
	// padding added around the haplotype's own region.
	flankBegin, flankEnd int

	// Scratch rows reused across Evaluate calls.
	m0, m1, i0, i1, d0, d1 []float64
}

// NewModel returns a model with the given configuration.
func NewModel(cfg Config) *Model {
	if cfg.MaxIndelError <= 0 {
		cfg.MaxIndelError = DefaultConfig.MaxIndelError
	}
	if cfg.MaxCandidatePositions <= 0 {
		cfg.MaxCandidatePositions = DefaultConfig.MaxCandidatePositions
	}
	return &Model{cfg: cfg, gapExtend: phredToLn(gapExtendPhred), noExtend: math.Log(1 - math.Exp(phredToLn(gapExtendPhred)))}
}

// PadRequirement returns the minimum padding each side of a haplotype needs
// before Evaluate can score reads against it.
func (m *Model) PadRequirement() int { return m.cfg.MaxIndelError + K }

// Reset primes the model on a padded haplotype sequence.  flankBegin and
// flankEnd delimit the unpadded haplotype within target.
func (m *Model) Reset(target string, flankBegin, flankEnd int) {
	m.target = target
	m.flankBegin = flankBegin
	m.flankEnd = flankEnd
	m.gapOpen = computeGapOpens(target, m.cfg.MaxIndelError, m.gapOpen[:0])
}

// computeGapOpens derives per-position gap-open penalties from homopolymer
// run lengths, the dominant indel error mode in short-read data.
func computeGapOpens(seq string, maxRun int, buf []float64) []float64 {
	out := append(buf, make([]float64, len(seq))...)
	i := 0
	for i < len(seq) {
		j := i + 1
		for j < len(seq) && seq[j] == seq[i] {
			j++
		}
		run := j - i
		if run > maxRun {
			run = maxRun
		}
		phred := gapOpenPhred - gapOpenStep*float64(run-1)
		if phred < gapOpenMinPhred {
			phred = gapOpenMinPhred
		}
		ln := phredToLn(phred)
		for k := i; k < j; k++ {
			out[k] = ln
		}
		i = j
	}
	return out
}

// Floor returns the uniform low log-likelihood assigned to a read that has
// no valid alignment against the target.
func Floor(readLen int) float64 { return float64(readLen) * lnFlat * 2 }

// Evaluate returns ln P(read | target) by running the banded pair-HMM from
// each candidate start offset and combining the per-anchor scores with
// log-sum-exp under a uniform anchor prior.
func (m *Model) Evaluate(seq string, qual []byte, mapQ byte, positions []int) float64 {
	if m.target == "" {
		log.Panicf("hmm: Evaluate called before Reset")
	}
	if len(seq) == 0 || len(seq) != len(qual) {
		return Floor(len(seq))
	}
	scores := make([]float64, 0, len(positions))
	for _, p := range positions {
		if s, ok := m.align(seq, qual, p); ok {
			scores = append(scores, s)
		}
	}
	result := Floor(len(seq))
	if len(scores) > 0 {
		result = floats.LogSumExp(scores) - math.Log(float64(len(scores)))
	}
	if m.cfg.UseMappingQuality {
		lnMapErr := phredToLn(float64(mapQ))
		lnMapOK := math.Log1p(-math.Exp(lnMapErr))
		result = floats.LogSumExp([]float64{result + lnMapOK, Floor(len(seq)) + lnMapErr})
	}
	return result
}

// align runs a banded Viterbi pass of the pair-HMM with the read anchored at
// target offset p: the score is the log probability of the best alignment
// path.  The band half-width is MaxIndelError.  Keeping the per-anchor score
// a max (rather than a path sum) makes reads that never touch a
// discriminating base score identically against both haplotypes, which the
// read assigner's tie detection relies on.
func (m *Model) align(seq string, qual []byte, p int) (float64, bool) {
	n := len(seq)
	b := m.cfg.MaxIndelError
	wBegin := p - b
	if wBegin < 0 {
		wBegin = 0
	}
	wEnd := p + n + b
	if wEnd > len(m.target) {
		wEnd = len(m.target)
	}
	w := wEnd - wBegin
	if w < n {
		return 0, false
	}

	negInf := math.Inf(-1)
	cols := w + 1
	m.m0 = resetRow(m.m0, cols, negInf)
	m.m1 = resetRow(m.m1, cols, negInf)
	m.i0 = resetRow(m.i0, cols, negInf)
	m.i1 = resetRow(m.i1, cols, negInf)
	m.d0 = resetRow(m.d0, cols, negInf)
	m.d1 = resetRow(m.d1, cols, negInf)
	prevM, curM := m.m0, m.m1
	prevI, curI := m.i0, m.i1
	prevD, curD := m.d0, m.d1

	// Free start anywhere in the window: leading target bases are skipped
	// without cost (uniform prior over starts is folded into the anchor
	// combination step).
	for j := 0; j <= w; j++ {
		prevM[j] = 0
	}
	for i := 1; i <= n; i++ {
		for j := 0; j <= w; j++ {
			curM[j], curI[j], curD[j] = negInf, negInf, negInf
		}
		// Banding: read base i may align to window offsets near i.
		lo := i - 1
		if lo < 1 {
			lo = 1
		}
		hi := i + 2*b
		if hi > w {
			hi = w
		}
		for j := lo; j <= hi; j++ {
			tpos := wBegin + j - 1
			e := m.emission(seq[i-1], qual[i-1], tpos)
			open := m.gapOpen[tpos]
			noOpen := math.Log1p(-2 * math.Exp(open))
			// Match: consumes one read and one target base.
			curM[j] = max3(prevM[j-1]+noOpen, prevI[j-1]+m.noExtend, prevD[j-1]+m.noExtend) + e
			// Insertion: consumes one read base only.
			curI[j] = max2(prevM[j]+open, prevI[j]+m.gapExtend) + lnFlat
			// Deletion: consumes one target base only.
			curD[j] = max2(curM[j-1]+open, curD[j-1]+m.gapExtend)
		}
		prevM, curM = curM, prevM
		prevI, curI = curI, prevI
		prevD, curD = curD, prevD
	}
	// Free end: trailing target bases are skipped without cost.
	best := negInf
	for j := 0; j <= w; j++ {
		if prevM[j] > best {
			best = prevM[j]
		}
		if prevI[j] > best {
			best = prevI[j]
		}
	}
	if math.IsInf(best, -1) {
		return 0, false
	}
	return best, true
}

func max2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
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

func resetRow(row []float64, n int, fill float64) []float64 {
	if cap(row) < n {
		row = make([]float64, n)
	}
	row = row[:n]
	for i := range row {
		row[i] = fill
	}
	return row
}

// emission scores read base rb with quality q against target position tpos.
func (m *Model) emission(rb byte, q byte, tpos int) float64 {
	e := phredToLn(float64(q))
	var score float64
	if m.target[tpos] == rb {
		score = math.Log1p(-math.Exp(e))
	} else {
		score = e - math.Log(3)
	}
	if m.cfg.UseFlankState && (tpos < m.flankBegin || tpos >= m.flankEnd) && score < lnClip {
		score = lnClip
	}
	return score
}

// Package hmm implements the haplotype likelihood engine: a k-mer anchored,
// banded pair-HMM that scores a read against a haplotype in log space, and
// the dense per-sample likelihood array the inference models consume.
package hmm

import "sort"

// K is the anchor k-mer length.  With 2 bits per base a k-mer is a perfect
// 12-bit hash, so the position table is a flat 4096-way index.
const K = 6

const numKmers = 1 << (2 * K)

var baseBits [256]int8

func init() {
	for i := range baseBits {
		baseBits[i] = -1
	}
	baseBits['A'], baseBits['a'] = 0, 0
	baseBits['C'], baseBits['c'] = 1, 1
	baseBits['G'], baseBits['g'] = 2, 2
	baseBits['T'], baseBits['t'] = 3, 3
}

// KmerTable maps each k-mer to the positions at which it occurs in a target
// sequence.
type KmerTable struct {
	pos       [numKmers][]int32
	targetLen int
}

// NewKmerTable indexes every k-mer of seq.  Windows containing an ambiguous
// base are skipped.
func NewKmerTable(seq string) *KmerTable {
	t := &KmerTable{targetLen: len(seq)}
	hash := 0
	valid := 0
	const mask = numKmers - 1
	for i := 0; i < len(seq); i++ {
		b := baseBits[seq[i]]
		if b < 0 {
			valid = 0
			hash = 0
			continue
		}
		hash = ((hash << 2) | int(b)) & mask
		valid++
		if valid >= K {
			t.pos[hash] = append(t.pos[hash], int32(i-K+1))
		}
	}
	return t
}

// KmerHashes returns the k-mer hash at every offset of seq, or -1 where the
// window contains an ambiguous base or runs off the end.
func KmerHashes(seq string) []int32 {
	if len(seq) < K {
		return nil
	}
	out := make([]int32, len(seq)-K+1)
	hash := 0
	valid := 0
	const mask = numKmers - 1
	for i := 0; i < len(seq); i++ {
		b := baseBits[seq[i]]
		if b < 0 {
			valid = 0
			hash = 0
		} else {
			hash = ((hash << 2) | int(b)) & mask
			valid++
		}
		if i >= K-1 {
			if valid >= K {
				out[i-K+1] = int32(hash)
			} else {
				out[i-K+1] = -1
			}
		}
	}
	return out
}

// MapToTarget votes each query k-mer hit into a candidate alignment offset
// (target position minus query offset), keeps the maxPositions offsets with
// the most votes (ties by ascending offset), and returns them in ascending
// order.
func MapToTarget(query []int32, t *KmerTable, maxPositions int) []int {
	votes := make(map[int]int)
	for qoff, h := range query {
		if h < 0 {
			continue
		}
		for _, tpos := range t.pos[h] {
			start := int(tpos) - qoff
			if start >= 0 {
				votes[start]++
			}
		}
	}
	if len(votes) == 0 {
		return nil
	}
	type cand struct{ start, votes int }
	cands := make([]cand, 0, len(votes))
	for s, v := range votes {
		cands = append(cands, cand{s, v})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].votes != cands[j].votes {
			return cands[i].votes > cands[j].votes
		}
		return cands[i].start < cands[j].start
	})
	if maxPositions > 0 && len(cands) > maxPositions {
		cands = cands[:maxPositions]
	}
	out := make([]int, len(cands))
	for i, c := range cands {
		out[i] = c.start
	}
	sort.Ints(out)
	return out
}

// Copyright © 2023-2024 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package kmer

import "github.com/bits-and-blooms/bitset"

// RepeatMasker masks short tandem repeats: runs where a k-mer keeps
// recurring with gaps shorter than k.
type RepeatMasker struct {
	minK     int
	maxK     int
	minLen   int
	minCount int
}

// NewRepeatMasker creates a RepeatMasker. For each k, a run is masked if it
// is at least max(minLen, k*minCount) long.
func NewRepeatMasker(minK, maxK, minLen, minCount int) (*RepeatMasker, error) {
	if err := checkKRange(minK, maxK); err != nil {
		return nil, err
	}
	return &RepeatMasker{minK: minK, maxK: maxK, minLen: minLen, minCount: minCount}, nil
}

// Mask masks tandem repeats of seq.
func (m *RepeatMasker) Mask(seq []byte, mask *bitset.BitSet) int {
	before := mask.Count()
	var minLen int
	for k := m.minK; k <= m.maxK; k++ {
		minLen = k * m.minCount
		if m.minLen > minLen {
			minLen = m.minLen
		}
		maskRepeats(seq, mask, k, minLen)
	}
	return int(mask.Count() - before)
}

func maskRepeats(seq []byte, mask *bitset.BitSet, k, minLen int) {
	lim := len(seq) - k
	rs := rangeSetter{bs: mask}
	var n, end int
	for loc := k; loc < lim; loc++ {
		n = RepeatLength(seq, k, loc)
		if n < minLen || n == 0 {
			continue
		}
		end = loc - k + n
		rs.set(loc-k, end)
		if end-minLen > loc {
			loc = end - minLen
		}
	}
}

// RepeatLength returns the length of the tandem run seeded by the k-mer
// seq[loc-k:loc], or 0 if the seed never recurs within k-1 bases or
// contains an ambiguous base.
func RepeatLength(seq []byte, k, loc int) int {
	if loc < k || loc > len(seq) {
		return 0
	}
	key, err := Encode(seq[loc-k : loc])
	if err != nil {
		return 0
	}

	mask := KmerMask(k)
	kmer := key
	var code uint8
	gap, last, lastAmb := 0, -1, -1
	for i := loc; i < len(seq) && gap < k; i++ {
		code = base2bit[seq[i]]
		if code > 3 {
			lastAmb = i
			code = 0
		}
		kmer = (kmer<<2 | uint64(code)) & mask
		if kmer == key && (lastAmb < 0 || i-lastAmb >= k) {
			last = i
			gap = 0
		} else {
			gap++
		}
	}
	if last < 0 {
		return 0
	}
	return last - loc + k + 1
}

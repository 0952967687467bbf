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

// EntropyMasker masks windows whose k-mer Shannon entropy, normalized by
// ln(W), is below a cutoff.
type EntropyMasker struct {
	window   int
	cutoff   float64
	counters []*Counter
}

// NewEntropyMasker creates an EntropyMasker for k in [minK, maxK].
func NewEntropyMasker(minK, maxK, window int, cutoff float64) (*EntropyMasker, error) {
	if err := checkKRange(minK, maxK); err != nil {
		return nil, err
	}
	m := &EntropyMasker{
		window:   window,
		cutoff:   cutoff,
		counters: make([]*Counter, 0, maxK-minK+1),
	}
	for k := minK; k <= maxK; k++ {
		c, err := NewCounter(k, window, true)
		if err != nil {
			return nil, err
		}
		m.counters = append(m.counters, c)
	}
	return m, nil
}

// Mask masks low-entropy windows of seq.
func (m *EntropyMasker) Mask(seq []byte, mask *bitset.BitSet) int {
	before := mask.Count()
	w1 := m.window - 1
	for _, c := range m.counters {
		rs := rangeSetter{bs: mask}

		c.Reset()
		for i, b := range seq {
			c.Add(b)
			if i >= w1 && c.ambiguous == 0 && c.Entropy() < m.cutoff {
				rs.set(i-w1, i+1)
			}
		}
	}
	return int(mask.Count() - before)
}

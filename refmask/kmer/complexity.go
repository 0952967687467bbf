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

// ComplexityMasker masks windows containing too few distinct k-mers.
// Results of all k values in [minK, maxK] are merged.
type ComplexityMasker struct {
	window    int
	minCounts []int
	counters  []*Counter
}

// NewComplexityMasker creates a ComplexityMasker. The k-mer count tables are
// allocated once and reused for every sequence.
func NewComplexityMasker(minK, maxK, window int, ratio float64) (*ComplexityMasker, error) {
	if err := checkKRange(minK, maxK); err != nil {
		return nil, err
	}
	m := &ComplexityMasker{
		window:    window,
		minCounts: make([]int, 0, maxK-minK+1),
		counters:  make([]*Counter, 0, maxK-minK+1),
	}
	for k := minK; k <= maxK; k++ {
		c, err := NewCounter(k, window, false)
		if err != nil {
			return nil, err
		}
		m.counters = append(m.counters, c)
		m.minCounts = append(m.minCounts, MinCount(k, window, ratio))
	}
	return m, nil
}

// Mask masks low-complexity windows of seq.
func (m *ComplexityMasker) Mask(seq []byte, mask *bitset.BitSet) int {
	before := mask.Count()
	w1 := m.window - 1
	for j, c := range m.counters {
		minCount := m.minCounts[j]
		rs := rangeSetter{bs: mask}

		c.Reset()
		for i, b := range seq {
			c.Add(b)
			if i >= w1 && c.ambiguous == 0 && c.distinct < minCount {
				rs.set(i-w1, i+1)
			}
		}
	}
	return int(mask.Count() - before)
}

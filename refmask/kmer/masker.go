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

import (
	"math"

	"github.com/bits-and-blooms/bitset"
)

// Masker marks bases of a sequence in a bit-vector of the same length.
// Mask returns the number of bits that changed from 0 to 1.
type Masker interface {
	Mask(seq []byte, mask *bitset.BitSet) int
}

// rangeSetter sets ranges of a bit-vector, skipping the part of a range
// already set by the previous call. Windows slide forward, so every bit
// is touched at most once per scan.
type rangeSetter struct {
	bs  *bitset.BitSet
	end int
}

func (r *rangeSetter) set(start, end int) {
	if start < r.end {
		start = r.end
	}
	for i := start; i < end; i++ {
		r.bs.Set(uint(i))
	}
	if end > r.end {
		r.end = end
	}
}

// MinCount returns the minimum number of distinct k-mers for a window of
// w bases to be considered complex: ceil(ratio * min(w, 4^k)).
func MinCount(k, w int, ratio float64) int {
	space := w
	if k < 16 && 1<<(uint(k)<<1) < space {
		space = 1 << (uint(k) << 1)
	}
	return int(math.Ceil(ratio * float64(space)))
}

func checkKRange(minK, maxK int) error {
	if minK < 1 || maxK > MaxK || minK > maxK {
		return ErrInvalidK
	}
	return nil
}

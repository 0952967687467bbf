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

import "math"

// Counter counts the k-mers ending in the most recent W positions of a
// sequence. Every update is O(1), and the number of distinct k-mers and,
// optionally, the Shannon entropy of the k-mer distribution are maintained
// incrementally.
//
// A k-mer spanning an ambiguous base is counted with that base encoded as A,
// and makes the window ambiguous for as long as the k-mer stays in it.
//
// A Counter is not safe for concurrent use. It is meant to be owned by one
// worker and reused across sequences via Reset.
type Counter struct {
	k    int
	w    int
	mask uint64

	dense  []uint16          // 4^k counts, for k <= DenseMaxK
	sparse map[uint64]uint16 // for wider k

	kmer    uint64
	n       int // bases added since the last reset
	slot    int // position in the ring
	lastAmb int // position of the last ambiguous base

	distinct  int
	ambiguous int // k-mers in the window spanning ambiguous bases

	// ring buffer of the k-mers in the window
	keys []uint64
	ambs []bool

	// counts of counts, only used for entropy
	entropy bool
	cc      []int32
	table   []float64
	sum     float64 // Σ cc[c] * table[c]
	norm    float64 // -1/ln(W)
}

// NewCounter creates a Counter for k-mers of size k in windows of w bases.
// withEntropy enables the counts-of-counts histogram.
func NewCounter(k, w int, withEntropy bool) (*Counter, error) {
	if k < 1 || k > MaxK {
		return nil, ErrInvalidK
	}
	if w < 1 || w > MaxWindow || (withEntropy && w < 2) {
		return nil, ErrInvalidWindow
	}

	c := &Counter{
		k:       k,
		w:       w,
		mask:    KmerMask(k),
		lastAmb: -1,
		keys:    make([]uint64, w),
		ambs:    make([]bool, w),
	}
	if k <= DenseMaxK {
		c.dense = make([]uint16, 1<<(uint(k)<<1))
	} else {
		c.sparse = make(map[uint64]uint16, w)
	}

	if withEntropy {
		c.entropy = true
		c.cc = make([]int32, w+2)
		c.cc[0] = int32(w)
		c.table = EntropyTable(w)
		c.norm = -1 / math.Log(float64(w))
	}
	return c, nil
}

// EntropyTable returns t[c] = (c/w)*ln(c/w) for c in [0, w+1], with t[0] = 0.
func EntropyTable(w int) []float64 {
	t := make([]float64, w+2)
	mult := 1 / float64(w)
	var p float64
	for i := 1; i < len(t); i++ {
		p = float64(i) * mult
		t[i] = p * math.Log(p)
	}
	return t
}

// K returns the k-mer size.
func (c *Counter) K() int { return c.k }

// Window returns the window size.
func (c *Counter) Window() int { return c.w }

// Add appends one base to the window. The k-mer ending at the new base
// enters the window first, then the one ending W bases earlier leaves it.
func (c *Counter) Add(b byte) {
	code := base2bit[b]
	if code > 3 {
		c.lastAmb = c.n
		code = 0
	}
	c.kmer = (c.kmer<<2 | uint64(code)) & c.mask
	amb := c.lastAmb >= 0 && c.n-c.lastAmb < c.k

	oldKey, oldAmb := c.keys[c.slot], c.ambs[c.slot]
	c.keys[c.slot], c.ambs[c.slot] = c.kmer, amb

	c.increment(c.kmer)
	if amb {
		c.ambiguous++
	}

	if c.n >= c.w {
		c.decrement(oldKey)
		if oldAmb {
			c.ambiguous--
		}
	}

	c.n++
	c.slot++
	if c.slot == c.w {
		c.slot = 0
		if c.entropy {
			c.reanchor()
		}
	}
}

func (c *Counter) increment(key uint64) {
	var v uint16
	if c.dense != nil {
		v = c.dense[key]
		c.dense[key] = v + 1
	} else {
		v = c.sparse[key]
		c.sparse[key] = v + 1
	}
	if v == 0 {
		c.distinct++
	}
	if c.entropy {
		c.cc[v]--
		c.cc[v+1]++
		c.sum += c.table[v+1] - c.table[v]
	}
}

func (c *Counter) decrement(key uint64) {
	var v uint16
	if c.dense != nil {
		v = c.dense[key]
		c.dense[key] = v - 1
	} else {
		v = c.sparse[key]
		if v == 1 {
			delete(c.sparse, key)
		} else {
			c.sparse[key] = v - 1
		}
	}
	if v == 1 {
		c.distinct--
	}
	if c.entropy {
		c.cc[v]--
		c.cc[v-1]++
		c.sum += c.table[v-1] - c.table[v]
	}
}

// reanchor recomputes the running entropy sum from the histogram,
// it is called once every W bases to stop floating-point drift.
func (c *Counter) reanchor() {
	var s float64
	for i := 1; i < len(c.cc); i++ {
		if c.cc[i] != 0 {
			s += float64(c.cc[i]) * c.table[i]
		}
	}
	c.sum = s
}

// Reset empties the window in O(W), by removing the k-mers still in it.
func (c *Counter) Reset() {
	m := c.n
	if m > c.w {
		m = c.w
	}
	for i := 0; i < m; i++ {
		c.decrement(c.keys[i])
	}

	c.kmer = 0
	c.n = 0
	c.slot = 0
	c.lastAmb = -1
	c.ambiguous = 0
	c.sum = 0
}

// Full tells if W bases have been added since the last reset.
func (c *Counter) Full() bool { return c.n >= c.w }

// Ambiguous tells if any k-mer in the window spans an ambiguous base.
func (c *Counter) Ambiguous() bool { return c.ambiguous > 0 }

// Distinct returns the number of distinct k-mers in the window.
func (c *Counter) Distinct() int { return c.distinct }

// Total returns the number of k-mers in the window.
func (c *Counter) Total() int {
	if c.n < c.w {
		return c.n
	}
	return c.w
}

// Count returns the number of occurrences of a k-mer in the window.
func (c *Counter) Count(key uint64) int {
	if c.dense != nil {
		return int(c.dense[key])
	}
	return int(c.sparse[key])
}

// Entropy returns the normalized Shannon entropy of the k-mers in the window,
// from the incrementally maintained sum.
func (c *Counter) Entropy() float64 {
	return c.sum * c.norm
}

// EntropyFromHistogram recomputes the normalized entropy from the whole
// counts-of-counts histogram.
func (c *Counter) EntropyFromHistogram() float64 {
	var s float64
	for i := 1; i < len(c.cc); i++ {
		s += float64(c.cc[i]) * c.table[i]
	}
	return s * c.norm
}

// CountsOfCounts returns the histogram, cc[c] is the number of k-mers
// occurring exactly c times. cc[0] is W minus the number of distinct k-mers.
// The returned slice must not be modified.
func (c *Counter) CountsOfCounts() []int32 {
	return c.cc
}

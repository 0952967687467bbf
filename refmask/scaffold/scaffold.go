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

package scaffold

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/shenwei356/RefMask/refmask/coverage"
)

// ErrConsistency means duplicated scaffold IDs, in the input or in the
// records generated by splitting.
var ErrConsistency = errors.New("scaffold: duplicated ID")

// Scaffold is a reference sequence with its mask and an optional depth array.
//
// Mask and Depth must be modified with the methods here when shared by
// multiple goroutines.
type Scaffold struct {
	ID   string // sequence ID, the first word of the header
	Name []byte // full header
	Seq  []byte
	Qual []byte // optional

	Mask  *bitset.BitSet // 1 for masked bases
	Depth *Depth         // nil if depth thresholds are not used

	seeded uint // masked bits set at loading

	mu sync.Mutex
}

func (s *Scaffold) String() string {
	return fmt.Sprintf("%s, len: %d, masked: %d", s.ID, len(s.Seq), s.Mask.Count())
}

// Len returns the sequence length.
func (s *Scaffold) Len() int { return len(s.Seq) }

// Seeded returns the number of bases masked in the input, i.e.,
// N bases, and lowercase bases if requested.
func (s *Scaffold) Seeded() uint { return s.seeded }

// Masked returns the number of bases masked after loading.
func (s *Scaffold) Masked() uint { return s.Mask.Count() - s.seeded }

// MaskRanges masks ranges and returns the number of newly masked bases.
// It is safe for concurrent use.
func (s *Scaffold) MaskRanges(ranges []coverage.Range) int {
	s.mu.Lock()
	var n int
	for _, rg := range ranges {
		for i := uint(rg.Start); i < uint(rg.End); i++ {
			if !s.Mask.Test(i) {
				s.Mask.Set(i)
				n++
			}
		}
	}
	s.mu.Unlock()
	return n
}

// AddCoverage increases the depth of ranges.
// It is safe for concurrent use.
func (s *Scaffold) AddCoverage(ranges []coverage.Range) {
	if s.Depth == nil {
		return
	}
	s.mu.Lock()
	for _, rg := range ranges {
		s.Depth.AddRange(rg.Start, rg.End)
	}
	s.mu.Unlock()
}

// ResolveDepth masks bases with a depth below minDepth or above maxDepth,
// a negative value disables the threshold. It returns the number of newly
// masked bases and releases the depth array.
func (s *Scaffold) ResolveDepth(minDepth, maxDepth int) int {
	if s.Depth == nil {
		return 0
	}
	s.mu.Lock()
	var n, d int
	for i := 0; i < len(s.Seq); i++ {
		d = s.Depth.At(i)
		if (maxDepth >= 0 && d > maxDepth) || (minDepth >= 0 && d < minDepth) {
			if !s.Mask.Test(uint(i)) {
				s.Mask.Set(uint(i))
				n++
			}
		}
	}
	s.Depth = nil
	s.mu.Unlock()
	return n
}

// Depth is a per-base coverage array with saturating counters.
type Depth struct {
	d16 []uint16
	d32 []uint32
}

// NeedWideDepth tells whether depth thresholds need 32-bit counters.
func NeedWideDepth(minDepth, maxDepth int) bool {
	return minDepth >= math.MaxUint16 || maxDepth >= math.MaxUint16
}

// NewDepth creates a depth array of n bases.
func NewDepth(n int, wide bool) *Depth {
	if wide {
		return &Depth{d32: make([]uint32, n)}
	}
	return &Depth{d16: make([]uint16, n)}
}

// Len returns the number of bases.
func (d *Depth) Len() int {
	if d.d32 != nil {
		return len(d.d32)
	}
	return len(d.d16)
}

// AddRange increases the depth of [start, end) by one.
func (d *Depth) AddRange(start, end int) {
	if d.d32 != nil {
		for i := start; i < end; i++ {
			if d.d32[i] < math.MaxUint32 {
				d.d32[i]++
			}
		}
		return
	}
	for i := start; i < end; i++ {
		if d.d16[i] < math.MaxUint16 {
			d.d16[i]++
		}
	}
}

// At returns the depth of a base.
func (d *Depth) At(i int) int {
	if d.d32 != nil {
		return int(d.d32[i])
	}
	return int(d.d16[i])
}

// StoreOptions contains options for loading scaffolds.
type StoreOptions struct {
	SeedLowercase bool // mask lowercase bases at loading
	WithDepth     bool // create depth arrays
	WideDepth     bool // 32-bit depth counters
}

// Store holds all scaffolds in input order.
type Store struct {
	opts StoreOptions

	scaffolds []*Scaffold
	idx       map[string]*Scaffold

	bases  int
	seeded uint
}

// NewStore creates a Store.
func NewStore(opts StoreOptions) *Store {
	return &Store{
		opts:      opts,
		scaffolds: make([]*Scaffold, 0, 1024),
		idx:       make(map[string]*Scaffold, 1024),
	}
}

// Add adds a scaffold and seeds its mask from 'N' and 'n' bases, and all
// lowercase bases if StoreOptions.SeedLowercase is set. 'n' is always seeded,
// as it is an N in either output mode. The byte slices are not copied.
func (s *Store) Add(id string, name, seq, qual []byte) (*Scaffold, error) {
	if _, ok := s.idx[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrConsistency, id)
	}

	mask := bitset.New(uint(len(seq)))
	var seeded uint
	lc := s.opts.SeedLowercase
	for i, b := range seq {
		if b == 'N' || b == 'n' || (lc && b >= 'a' && b <= 'z') {
			mask.Set(uint(i))
			seeded++
		}
	}

	sc := &Scaffold{
		ID:     id,
		Name:   name,
		Seq:    seq,
		Qual:   qual,
		Mask:   mask,
		seeded: seeded,
	}
	if s.opts.WithDepth {
		sc.Depth = NewDepth(len(seq), s.opts.WideDepth)
	}

	s.scaffolds = append(s.scaffolds, sc)
	s.idx[id] = sc
	s.bases += len(seq)
	s.seeded += seeded
	return sc, nil
}

// Get returns the scaffold of an ID.
func (s *Store) Get(id string) (*Scaffold, bool) {
	sc, ok := s.idx[id]
	return sc, ok
}

// Scaffolds returns all scaffolds in input order.
func (s *Store) Scaffolds() []*Scaffold { return s.scaffolds }

// Len returns the number of scaffolds.
func (s *Store) Len() int { return len(s.scaffolds) }

// Bases returns the total number of bases.
func (s *Store) Bases() int { return s.bases }

// Seeded returns the number of bases masked at loading.
func (s *Store) Seeded() uint { return s.seeded }

// Masked returns the number of bases masked after loading.
func (s *Store) Masked() uint {
	var n uint
	for _, sc := range s.scaffolds {
		n += sc.Masked()
	}
	return n
}

// ResolveDepth converts depth arrays of all scaffolds into mask bits.
// It must be called after all coverage has been added.
func (s *Store) ResolveDepth(minDepth, maxDepth int) int {
	var n int
	for _, sc := range s.scaffolds {
		n += sc.ResolveDepth(minDepth, maxDepth)
	}
	return n
}

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

package coverage

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/rdleal/intervalst/interval"
)

func TestResolveSingleRange(t *testing.T) {
	r := NewResolver(true, 0)
	ops := bytes.Repeat([]byte{'m'}, 100)
	ranges, err := r.Resolve(ops, 50, 149, 200, nil)
	if err != nil {
		t.Error(err)
		return
	}
	if len(ranges) != 1 || ranges[0] != (Range{50, 150}) {
		t.Errorf("unexpected ranges: %v", ranges)
	}
}

func TestResolveModes(t *testing.T) {
	type _case struct {
		ops       string
		start     int
		stop      int
		deletions bool
		pad       int
		refLen    int
		expected  []Range
	}
	cases := []_case{
		{"mmmDDmm", 10, 16, true, 0, 100, []Range{{10, 17}}},
		{"mmmDDmm", 10, 16, false, 0, 100, []Range{{10, 13}, {15, 17}}},
		{"mmmIIImm", 10, 14, false, 0, 100, []Range{{10, 15}}},
		{"CCmmmSsNB", 10, 18, false, 0, 100, []Range{{12, 19}}},
		{"mmXYmmDDDmm", 0, 8, false, 0, 100, []Range{{0, 4}, {7, 9}}},
		{"mmmm", 0, 3, false, 5, 100, []Range{{0, 9}}},
		{"mmmm", 97, 100, false, 2, 100, []Range{{95, 100}}},
		{"mmDDDDDDmm", 20, 29, false, 2, 100, []Range{{18, 24}, {26, 32}}},
		{"mmDDmm", 20, 25, false, 3, 100, []Range{{17, 24}, {24, 29}}},
		{"CCCC", 10, 13, false, 3, 100, []Range{}},
		{"", 10, 9, false, 0, 100, []Range{}},
	}

	for _, c := range cases {
		r := NewResolver(c.deletions, c.pad)
		ranges, err := r.Resolve([]byte(c.ops), c.start, c.stop, c.refLen, nil)
		if err != nil {
			t.Errorf("%s: %s", c.ops, err)
			continue
		}
		if len(ranges) != len(c.expected) {
			t.Errorf("%s: expected %v, returned %v", c.ops, c.expected, ranges)
			continue
		}
		for i, rg := range ranges {
			if rg != c.expected[i] {
				t.Errorf("%s: expected %v, returned %v", c.ops, c.expected, ranges)
				break
			}
		}
	}
}

func TestResolveErrors(t *testing.T) {
	r := NewResolver(true, 0)

	_, err := r.Resolve([]byte("mmQmm"), 0, 4, 100, nil)
	if !errors.Is(err, ErrDecoding) {
		t.Errorf("expected ErrDecoding, got %v", err)
	}

	_, err = r.Resolve([]byte("mmmm"), 0, 4, 100, nil)
	if !errors.Is(err, ErrConsistency) {
		t.Errorf("expected ErrConsistency, got %v", err)
	}

	_, err = r.Resolve([]byte("mmIImm"), 0, 5, 100, nil)
	if !errors.Is(err, ErrConsistency) {
		t.Errorf("insertions consume no reference, expected ErrConsistency, got %v", err)
	}
}

func randOps(r *rand.Rand, n int) []byte {
	alphabet := []byte("mmmmmmmmsSNBIXYDDC")
	ops := make([]byte, 0, n)
	var b byte
	for len(ops) < n {
		b = alphabet[r.Intn(len(alphabet))]
		for l := 1 + r.Intn(8); l > 0 && len(ops) < n; l-- {
			ops = append(ops, b)
		}
	}
	return ops
}

func refSpan(ops []byte) (n int) {
	for _, op := range ops {
		if opTable[op]&consumesRef > 0 {
			n++
		}
	}
	return n
}

func TestMatchedLength(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	r := NewResolver(false, 0)
	var buf []Range
	var err error
	for i := 0; i < 200; i++ {
		ops := randOps(rnd, 20+rnd.Intn(300))
		start := rnd.Intn(1000)
		stop := start + refSpan(ops) - 1

		buf, err = r.Resolve(ops, start, stop, 10000, buf)
		if err != nil {
			t.Error(err)
			return
		}

		var matched, covered int
		for _, op := range ops {
			if opTable[op]&^consumesRef == modeMatch {
				matched++
			}
		}
		for j, rg := range buf {
			covered += rg.Len()
			if j > 0 && buf[j-1].End >= rg.Start {
				t.Errorf("ranges not coalesced: %v", buf)
				return
			}
		}
		if matched != covered {
			t.Errorf("%s: %d matched bases, %d covered", ops, matched, covered)
			return
		}
	}
}

func TestPaddingNeverOverlaps(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	var buf []Range
	var err error

	for i := 0; i < 300; i++ {
		ops := randOps(rnd, 20+rnd.Intn(200))
		refLen := 500
		start := rnd.Intn(refLen) - 100
		stop := start + refSpan(ops) - 1
		pad := rnd.Intn(30)
		r := NewResolver(rnd.Intn(2) == 0, pad)

		buf, err = r.Resolve(ops, start, stop, refLen, buf)
		if err != nil {
			t.Error(err)
			return
		}

		unpadded, _ := NewResolver(r.IncludeDeletions, 0).Resolve(ops, start, stop, refLen, nil)

		if !checkNoOverlap(t, buf, refLen) {
			return
		}

		// padding only extends ranges
		for _, u := range unpadded {
			covered := false
			for _, rg := range buf {
				if rg.Start <= u.Start && u.End <= rg.End {
					covered = true
					break
				}
			}
			if !covered {
				t.Errorf("unpadded range %s lost after padding: %v", u, buf)
				return
			}
		}
	}
}

// checkNoOverlap checks ranges are inside [0, refLen), sorted, and disjoint.
// An interval tree holds closed intervals in doubled coordinates, [2s, 2e-1],
// so that 1-base ranges are valid and touching ranges do not intersect.
func checkNoOverlap(t *testing.T, ranges []Range, refLen int) bool {
	tree := interval.NewSearchTree[int, int](func(x, y int) int { return x - y })
	for j, rg := range ranges {
		if rg.Start < 0 || rg.End > refLen || rg.Start >= rg.End {
			t.Errorf("range %s out of [0, %d)", rg, refLen)
			return false
		}
		if j > 0 && rg.Start < ranges[j-1].End {
			t.Errorf("range %s overlaps the previous one: %v", rg, ranges)
			return false
		}
		if _, ok := tree.AnyIntersection(rg.Start<<1, rg.End<<1-1); ok {
			t.Errorf("range %s overlaps a previous one: %v", rg, ranges)
			return false
		}
		if err := tree.Insert(rg.Start<<1, rg.End<<1-1, j); err != nil {
			t.Error(err)
			return false
		}
	}
	return true
}

func TestPaddingSingleBases(t *testing.T) {
	type _case struct {
		ops      string
		pad      int
		expected []Range
	}
	cases := []_case{
		{"mDm", 0, []Range{{10, 11}, {12, 13}}},
		{"mDm", 1, []Range{{9, 12}, {12, 14}}},
		{"mDDDm", 1, []Range{{9, 12}, {13, 16}}},
		{"m", 0, []Range{{10, 11}}},
	}
	for _, c := range cases {
		ops := []byte(c.ops)
		rs, err := NewResolver(false, c.pad).Resolve(ops, 10, 10+refSpan(ops)-1, 100, nil)
		if err != nil {
			t.Error(err)
			continue
		}
		if !checkNoOverlap(t, rs, 100) {
			continue
		}
		if len(rs) != len(c.expected) {
			t.Errorf("%s, pad %d: expected %v, returned %v", c.ops, c.pad, c.expected, rs)
			continue
		}
		for i := range rs {
			if rs[i] != c.expected[i] {
				t.Errorf("%s, pad %d: expected %v, returned %v", c.ops, c.pad, c.expected, rs)
				break
			}
		}
	}
}

func TestExpandShortMatch(t *testing.T) {
	cases := [][2]string{
		{"m5I2D", "mmmmmIID"},
		{"mmm", "mmm"},
		{"m12", "mmmmmmmmmmmm"},
		{"C2m3S1m", "CCmmmSm"},
		{"", ""},
	}
	for _, c := range cases {
		long, err := ExpandShortMatch([]byte(c[0]), nil)
		if err != nil {
			t.Error(err)
			continue
		}
		if string(long) != c[1] {
			t.Errorf("%s: expected %s, returned %s", c[0], c[1], long)
		}
	}

	if !IsShortMatch([]byte("m5")) || IsShortMatch([]byte("mmDm")) {
		t.Errorf("IsShortMatch")
	}

	if _, err := ExpandShortMatch([]byte("5m"), nil); !errors.Is(err, ErrDecoding) {
		t.Errorf("expected ErrDecoding, got %v", err)
	}
}

func TestResolveShortMatch(t *testing.T) {
	r := NewResolver(false, 0)
	for _, ops := range []string{"m3D2m3", "mmmDDmmm", "m2mD2m3"} {
		rs, err := r.Resolve([]byte(ops), 10, 17, 100, nil)
		if err != nil {
			t.Error(err)
			continue
		}
		if len(rs) != 2 || rs[0] != (Range{10, 13}) || rs[1] != (Range{15, 18}) {
			t.Errorf("%s: unexpected ranges: %v", ops, rs)
		}
	}

	if _, err := r.Resolve([]byte("3m"), 10, 12, 100, nil); !errors.Is(err, ErrDecoding) {
		t.Errorf("expected ErrDecoding, got %v", err)
	}
}

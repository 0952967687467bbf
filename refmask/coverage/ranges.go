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
	"errors"
	"fmt"
)

// ErrDecoding means an unknown symbol in an operation string.
var ErrDecoding = errors.New("coverage: invalid operation symbol")

// ErrConsistency means the reference length consumed by an operation string
// does not match the alignment coordinates.
var ErrConsistency = errors.New("coverage: reference position mismatch")

// Range is a half-open interval [Start, End) on a scaffold.
type Range struct {
	Start int
	End   int
}

// Len returns the length of the range.
func (r Range) Len() int { return r.End - r.Start }

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// run modes
const (
	modeNone uint8 = iota
	modeMatch
	modeInsertion
	modeDeletion
	modeClip
)

// opTable maps an operation symbol to its mode, bit 7 marks
// symbols consuming the reference.
var opTable [256]uint8

const consumesRef = 0x80

func init() {
	for _, b := range []byte("msSNB") { // matches, substitutions, no-calls
		opTable[b] = modeMatch | consumesRef
	}
	for _, b := range []byte("IXY") {
		opTable[b] = modeInsertion
	}
	opTable['D'] = modeDeletion | consumesRef
	opTable['C'] = modeClip | consumesRef
}

// Resolver converts long-form operation strings of alignments into the
// reference ranges they cover.
//
// Matched bases ('m', 's', 'S', 'N', 'B') are always covered, deleted bases
// ('D') only if IncludeDeletions is set. Insertions ('I', 'X', 'Y') do not
// consume the reference, clipped bases ('C') consume it but are not covered.
type Resolver struct {
	IncludeDeletions bool
	Pad              int
}

// NewResolver creates a Resolver.
func NewResolver(includeDeletions bool, pad int) *Resolver {
	if pad < 0 {
		pad = 0
	}
	return &Resolver{IncludeDeletions: includeDeletions, Pad: pad}
}

// Resolve returns the ranges covered by an alignment on a scaffold of length
// refLen. start is the 0-based position of the first operation and stop the
// 0-based position of the last reference base consumed.
// Ranges are appended to buf[:0], which may be nil.
// Run-length encoded operation strings ("m5I2D") are expanded first.
//
// Padding extends the first range leftward and the last range rightward
// freely. An interior range end only extends up to the next range's unpadded
// start, and an interior range start only down to the previous range's padded
// end, so padded ranges never overlap. All ranges are clipped to [0, refLen).
func (r *Resolver) Resolve(ops []byte, start, stop, refLen int, buf []Range) ([]Range, error) {
	ranges := buf[:0]

	if IsShortMatch(ops) {
		var err error
		if ops, err = ExpandShortMatch(ops, nil); err != nil {
			return ranges, err
		}
	}

	var mode, last uint8
	rpos, runStart := start, start
	for i, op := range ops {
		mode = opTable[op]
		if mode == modeNone {
			return ranges[:0], fmt.Errorf("%w: '%c' (%d) at %d of %s", ErrDecoding, op, op, i, ops)
		}
		if i > 0 && mode&^consumesRef != last {
			ranges = r.emit(ranges, last, runStart, rpos)
			runStart = rpos
		}
		if mode&consumesRef > 0 {
			rpos++
		}
		last = mode &^ consumesRef
	}
	if len(ops) > 0 {
		ranges = r.emit(ranges, last, runStart, rpos)
	}

	if rpos != stop+1 {
		return ranges[:0], fmt.Errorf("%w: start %d, stop %d, but ended at %d: %s",
			ErrConsistency, start, stop, rpos-1, ops)
	}

	if r.Pad > 0 {
		pad(ranges, r.Pad)
	}

	return clip(ranges, refLen), nil
}

// emit appends a finished run if it is covered, merging it into the previous
// range if they touch.
func (r *Resolver) emit(ranges []Range, mode uint8, start, end int) []Range {
	if start >= end {
		return ranges
	}
	if mode != modeMatch && !(mode == modeDeletion && r.IncludeDeletions) {
		return ranges
	}
	if n := len(ranges); n > 0 && ranges[n-1].End == start {
		ranges[n-1].End = end
		return ranges
	}
	return append(ranges, Range{Start: start, End: end})
}

func pad(ranges []Range, p int) {
	n := len(ranges)
	var lower, s, e int
	for i := range ranges {
		s = ranges[i].Start - p
		if i > 0 {
			lower = ranges[i-1].End // padded already
			if s < lower {
				s = lower
			}
		}

		e = ranges[i].End + p
		if i < n-1 && e > ranges[i+1].Start { // unpadded yet
			e = ranges[i+1].Start
		}

		ranges[i].Start, ranges[i].End = s, e
	}
}

func clip(ranges []Range, refLen int) []Range {
	j := 0
	for _, rg := range ranges {
		if rg.Start < 0 {
			rg.Start = 0
		}
		if rg.End > refLen {
			rg.End = refLen
		}
		if rg.Start >= rg.End {
			continue
		}
		ranges[j] = rg
		j++
	}
	return ranges[:j]
}

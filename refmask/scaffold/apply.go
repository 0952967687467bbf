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
	"fmt"
	"strconv"

	"github.com/shenwei356/RefMask/refmask/kmer"
)

// ApplyOptions contains options for applying masks.
type ApplyOptions struct {
	Lowercase       bool // lowercase masked bases instead of replacing them with N
	ConvertNonACGTN bool // replace unmasked non-ACGTN symbols with N
}

// Substitute replaces masked bases with N or lowercase letters in place and
// returns the number of symbols it changed because of masking. In the
// lowercase mode, masked symbols other than letters become 'n'.
// Applying it again changes nothing and returns 0.
func Substitute(sc *Scaffold, opts ApplyOptions) int {
	seq := sc.Seq
	mask := sc.Mask
	var n int
	var b byte
	for i := range seq {
		b = seq[i]
		if mask.Test(uint(i)) {
			if opts.Lowercase {
				if b == 'N' || (b >= 'a' && b <= 'z') {
					continue
				}
				if b >= 'A' && b <= 'Z' {
					seq[i] = b + 32
				} else {
					seq[i] = 'n'
				}
				n++
				continue
			}
			if b != 'N' && b != 'n' {
				n++
			}
			seq[i] = 'N'
		} else if opts.ConvertNonACGTN && !kmer.IsACGTN(b) {
			seq[i] = 'N'
		}
	}
	return n
}

// Substitute applies masks of all scaffolds.
func (s *Store) Substitute(opts ApplyOptions) int {
	var n int
	for _, sc := range s.scaffolds {
		n += Substitute(sc, opts)
	}
	return n
}

// Piece is an unmasked fragment of a scaffold.
type Piece struct {
	ID   string
	Name []byte
	Seq  []byte
	Qual []byte
}

// Split returns maximal unmasked fragments of a scaffold, named
// <id>_<index> with index counting from 0. An unmasked scaffold is returned
// as a whole. The byte slices share memory with the scaffold.
func Split(sc *Scaffold) []Piece {
	if sc.Mask.None() {
		return []Piece{{ID: sc.ID, Name: sc.Name, Seq: sc.Seq, Qual: sc.Qual}}
	}

	pieces := make([]Piece, 0, 8)
	n := uint(len(sc.Seq))
	var start, end uint
	var ok bool
	for start < n {
		if start, ok = sc.Mask.NextClear(start); !ok || start >= n {
			break
		}
		if end, ok = sc.Mask.NextSet(start); !ok || end > n {
			end = n
		}

		id := sc.ID + "_" + strconv.Itoa(len(pieces))
		p := Piece{ID: id, Name: []byte(id), Seq: sc.Seq[start:end]}
		if sc.Qual != nil {
			p.Qual = sc.Qual[start:end]
		}
		pieces = append(pieces, p)

		start = end
	}
	return pieces
}

// Split splits all scaffolds in input order and calls fn for every piece.
// It returns the number of bases masked after loading.
func (s *Store) Split(fn func(p Piece) error) (int, error) {
	ids := make(map[string]struct{}, len(s.scaffolds))
	var n uint
	for _, sc := range s.scaffolds {
		for _, p := range Split(sc) {
			if _, ok := ids[p.ID]; ok {
				return int(n), fmt.Errorf("%w: %s", ErrConsistency, p.ID)
			}
			ids[p.ID] = struct{}{}

			if err := fn(p); err != nil {
				return int(n), err
			}
		}
		n += sc.Masked()
	}
	return int(n), nil
}

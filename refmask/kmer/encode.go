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

import "errors"

// MaxK is the largest k supported by the 2-bit packed uint64 keys.
const MaxK = 31

// DenseMaxK is the largest k for which a dense 4^k count table is used.
// Wider k-mers are counted in a hash map.
const DenseMaxK = 12

// MaxWindow is the largest window size, counts are stored in uint16
// and may transiently reach W+1.
const MaxWindow = 65534

// ErrInvalidK means k < 1 or k > MaxK.
var ErrInvalidK = errors.New("kmer: invalid k")

// ErrInvalidWindow means the window size is out of range.
var ErrInvalidWindow = errors.New("kmer: invalid window size")

// ErrAmbiguousBase means a k-mer contains a base other than A, C, G or T.
var ErrAmbiguousBase = errors.New("kmer: ambiguous base")

// base2bit maps A, C, G, T (either case) to 0-3 and everything else to 4.
var base2bit [256]uint8

var acgtn [256]bool

var bit2base = [4]byte{'A', 'C', 'G', 'T'}

func init() {
	for i := range base2bit {
		base2bit[i] = 4
	}
	for i, b := range bit2base {
		base2bit[b] = uint8(i)
		base2bit[b+32] = uint8(i) // lower case
	}
	for _, b := range []byte("ACGTNacgtn") {
		acgtn[b] = true
	}
}

// IsAmbiguous tells if a base is not one of A, C, G, T.
func IsAmbiguous(b byte) bool {
	return base2bit[b] > 3
}

// IsACGTN tells if a base is one of A, C, G, T, N in either case.
func IsACGTN(b byte) bool {
	return acgtn[b]
}

// KmerMask returns the bit mask covering a k-mer of size k.
func KmerMask(k int) uint64 {
	if k >= 32 {
		return ^uint64(0)
	}
	return 1<<(uint(k)<<1) - 1
}

// Encode packs a k-mer into 2-bit codes.
func Encode(s []byte) (code uint64, err error) {
	if len(s) == 0 || len(s) > 32 {
		return 0, ErrInvalidK
	}
	var c uint8
	for _, b := range s {
		c = base2bit[b]
		if c > 3 {
			return 0, ErrAmbiguousBase
		}
		code = code<<2 | uint64(c)
	}
	return code, nil
}

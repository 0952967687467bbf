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
	"fmt"
)

// IsShortMatch tells whether an operation string is run-length encoded,
// i.e., contains digits.
func IsShortMatch(ops []byte) bool {
	for _, b := range ops {
		if b >= '0' && b <= '9' {
			return true
		}
	}
	return false
}

// ExpandShortMatch expands a run-length encoded operation string, where a
// symbol may be followed by a repeat count ("m5I2D" -> "mmmmmIID").
// The result is appended to buf[:0].
func ExpandShortMatch(ops []byte, buf []byte) ([]byte, error) {
	buf = buf[:0]
	var sym byte
	var n int
	flush := func() {
		if sym == 0 {
			return
		}
		if n == 0 {
			n = 1
		}
		for ; n > 0; n-- {
			buf = append(buf, sym)
		}
	}
	for i, b := range ops {
		if b >= '0' && b <= '9' {
			if sym == 0 {
				return buf[:0], fmt.Errorf("%w: count without symbol at %d of %s", ErrDecoding, i, ops)
			}
			n = n*10 + int(b-'0')
			continue
		}
		flush()
		sym, n = b, 0
	}
	flush()
	return buf, nil
}

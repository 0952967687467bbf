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

package alignment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/shenwei356/xopen"
)

// ErrUnsupportedCigar means a CIGAR operation that can not be converted.
var ErrUnsupportedCigar = errors.New("alignment: unsupported CIGAR operation")

// Record is an alignment of a read against a scaffold.
type Record struct {
	RefName string
	Mapped  bool
	Reverse bool

	Start int    // 0-based position of the first aligned reference base
	Stop  int    // 0-based position of the last aligned reference base
	Ops   []byte // long-form operations, one symbol per base
}

func (r *Record) String() string {
	return fmt.Sprintf("%s:%d-%d, mapped: %v, ops: %s", r.RefName, r.Start, r.Stop, r.Mapped, r.Ops)
}

// ExpandCigar converts a CIGAR into long-form operations and appends them
// to buf[:0]. Clipping and padding operations are dropped, so the first
// operation corresponds to the alignment position.
func ExpandCigar(cigar sam.Cigar, buf []byte) ([]byte, error) {
	buf = buf[:0]
	var sym byte
	for _, op := range cigar {
		switch op.Type() {
		case sam.CigarMatch, sam.CigarEqual:
			sym = 'm'
		case sam.CigarMismatch:
			sym = 'S'
		case sam.CigarInsertion:
			sym = 'I'
		case sam.CigarDeletion, sam.CigarSkipped:
			sym = 'D'
		case sam.CigarSoftClipped, sam.CigarHardClipped, sam.CigarPadded:
			continue
		default:
			return buf[:0], fmt.Errorf("%w: %s", ErrUnsupportedCigar, op)
		}
		for n := op.Len(); n > 0; n-- {
			buf = append(buf, sym)
		}
	}
	return buf, nil
}

// FromSAM fills a Record from a SAM record, reusing the memory of r.Ops.
func FromSAM(rec *sam.Record, r *Record) (err error) {
	r.Mapped = rec.Flags&sam.Unmapped == 0 && rec.Ref != nil
	r.Reverse = rec.Flags&sam.Reverse > 0
	r.Ops = r.Ops[:0]
	if !r.Mapped {
		r.RefName = ""
		r.Start, r.Stop = -1, -1
		return nil
	}

	r.RefName = rec.Ref.Name()
	r.Start = rec.Pos
	r.Ops, err = ExpandCigar(rec.Cigar, r.Ops)
	if err != nil {
		return err
	}

	var refLen int
	for _, op := range r.Ops {
		if op != 'I' {
			refLen++
		}
	}
	r.Stop = r.Start + refLen - 1
	return nil
}

// Reader reads alignment records.
type Reader interface {
	// Read reads the next record into r, it returns io.EOF at the end.
	Read(r *Record) error
	Close() error
}

type samRecordReader interface {
	Read() (*sam.Record, error)
}

type reader struct {
	file  string
	r     samRecordReader
	close func() error
}

// IsBAM tells whether a file is in BAM format by its extension.
func IsBAM(file string) bool {
	return strings.ToLower(filepath.Ext(file)) == ".bam"
}

// NewReader opens a SAM (plain or compressed) or BAM file,
// "-" for SAM from stdin.
// threads is the number of goroutines for BAM decompression.
func NewReader(file string, threads int) (Reader, error) {
	if IsBAM(file) {
		fh, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		br, err := bam.NewReader(fh, threads)
		if err != nil {
			fh.Close()
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		return &reader{
			file: file,
			r:    br,
			close: func() error {
				br.Close()
				return fh.Close()
			},
		}, nil
	}

	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, err
	}
	sr, err := sam.NewReader(fh)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return &reader{file: file, r: sr, close: fh.Close}, nil
}

func (rd *reader) Read(r *Record) error {
	rec, err := rd.r.Read()
	if err != nil {
		if err == io.EOF {
			return err
		}
		return fmt.Errorf("%s: %w", rd.file, err)
	}
	if err = FromSAM(rec, r); err != nil {
		return fmt.Errorf("%s: %s: %w", rd.file, rec.Name, err)
	}
	return nil
}

func (rd *reader) Close() error {
	return rd.close()
}

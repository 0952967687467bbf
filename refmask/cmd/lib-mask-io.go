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

package cmd

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/shenwei356/RefMask/refmask/scaffold"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/shenwei356/xopen"
)

func humanizeInt(n int) string {
	return humanize.Comma(int64(n))
}

// loadReference reads all sequences of FASTA/Q files into a Store.
func loadReference(files []string, opt scaffold.StoreOptions) (*scaffold.Store, error) {
	seq.ValidateSeq = false

	store := scaffold.NewStore(opt)
	var record *fastx.Record
	var qual []byte
	for _, file := range files {
		fastxReader, err := fastx.NewReader(nil, file, "")
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read reference file: %s", file)
		}

		for {
			record, err = fastxReader.Read()
			if err != nil {
				if err == io.EOF {
					break
				}
				fastxReader.Close()
				return nil, errors.Wrapf(err, "failed to read reference file: %s", file)
			}

			record = record.Clone()
			qual = record.Seq.Qual
			if len(qual) == 0 {
				qual = nil
			}

			_, err = store.Add(string(record.ID), record.Name, record.Seq.Seq, qual)
			if err != nil {
				fastxReader.Close()
				return nil, errors.Wrapf(err, "%s", file)
			}
		}
		fastxReader.Close()
	}
	return store, nil
}

// recordWriter writes sequences in FASTA or FASTQ format.
type recordWriter struct {
	w         *bufio.Writer
	lineWidth int
	buf       *bytes.Buffer
}

func newRecordWriter(w *bufio.Writer, lineWidth int) *recordWriter {
	return &recordWriter{w: w, lineWidth: lineWidth}
}

// Write writes a record, in FASTQ format if it has qualities.
func (rw *recordWriter) Write(p scaffold.Piece) error {
	name := p.Name
	if len(name) == 0 {
		name = []byte(p.ID)
	}

	if p.Qual != nil {
		rw.w.Write(_mark_fastq)
		rw.w.Write(name)
		rw.w.Write(_mark_newline)
		rw.w.Write(p.Seq)
		rw.w.Write(_mark_newline)
		rw.w.Write(_mark_plus_newline)
		rw.w.Write(p.Qual)
		_, err := rw.w.Write(_mark_newline)
		return err
	}

	var s []byte
	s, rw.buf = wrapByteSlice(p.Seq, rw.lineWidth, rw.buf)
	rw.w.Write(_mark_fasta)
	rw.w.Write(name)
	rw.w.Write(_mark_newline)
	rw.w.Write(s)
	_, err := rw.w.Write(_mark_newline)
	return err
}

// writeBED writes masked regions of all scaffolds in BED3 format.
func writeBED(file string, store *scaffold.Store, level int) (int, error) {
	outfh, gw, w, err := outStream(file, strings.HasSuffix(file, ".gz"), level)
	if err != nil {
		return 0, err
	}

	var n int
	var start, end, l uint
	var ok bool
	buf := make([]byte, 0, 128)
	for _, sc := range store.Scaffolds() {
		l = uint(sc.Len())
		start = 0
		for start < l {
			if start, ok = sc.Mask.NextSet(start); !ok || start >= l {
				break
			}
			if end, ok = sc.Mask.NextClear(start); !ok || end > l {
				end = l
			}

			buf = buf[:0]
			buf = append(buf, sc.ID...)
			buf = append(buf, '\t')
			buf = strconv.AppendUint(buf, uint64(start), 10)
			buf = append(buf, '\t')
			buf = strconv.AppendUint(buf, uint64(end), 10)
			buf = append(buf, '\n')
			outfh.Write(buf)
			n++

			start = end
		}
	}

	return n, closeOutStream(outfh, gw, w)
}

// writeStats writes the summary in TOML format.
func writeStats(file string, stats *MaskStats) error {
	fh, err := xopen.Wopen(file)
	if err != nil {
		return fmt.Errorf("failed to write stats file: %s", err)
	}
	err = toml.NewEncoder(fh).Encode(stats)
	if err != nil {
		fh.Close()
		return fmt.Errorf("failed to write stats file: %s", err)
	}
	return fh.Close()
}

// logStats prints the summary.
func logStats(stats *MaskStats) {
	pct := func(n int) float64 {
		if stats.Bases == 0 {
			return 0
		}
		return float64(n) * 100 / float64(stats.Bases)
	}

	log.Infof("reference sequences: %s, bases: %s", humanizeInt(stats.Scaffolds), humanizeInt(stats.Bases))
	log.Infof("  masked in the input: %s (%.3f%%)", humanizeInt(stats.SeededBases), pct(stats.SeededBases))
	log.Infof("  tandem repeats: %s (%.3f%%)", humanizeInt(stats.RepeatBases), pct(stats.RepeatBases))
	log.Infof("  low complexity: %s (%.3f%%)", humanizeInt(stats.LowComplexityBases), pct(stats.LowComplexityBases))
	if stats.AlignmentFiles > 0 {
		log.Infof("  coverage: %s (%.3f%%)", humanizeInt(stats.CoverageBases), pct(stats.CoverageBases))
	}
	log.Infof("total bases masked: %s (%.3f%%)", humanizeInt(stats.MaskedBases), pct(stats.MaskedBases))
	log.Infof("output records: %s", humanizeInt(stats.OutputRecords))
}

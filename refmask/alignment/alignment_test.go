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
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/biogo/hts/sam"
)

func TestExpandCigar(t *testing.T) {
	cigar := sam.Cigar{
		sam.NewCigarOp(sam.CigarSoftClipped, 3),
		sam.NewCigarOp(sam.CigarMatch, 4),
		sam.NewCigarOp(sam.CigarInsertion, 2),
		sam.NewCigarOp(sam.CigarEqual, 2),
		sam.NewCigarOp(sam.CigarMismatch, 1),
		sam.NewCigarOp(sam.CigarDeletion, 3),
		sam.NewCigarOp(sam.CigarSkipped, 2),
		sam.NewCigarOp(sam.CigarMatch, 1),
		sam.NewCigarOp(sam.CigarHardClipped, 5),
	}
	ops, err := ExpandCigar(cigar, nil)
	if err != nil {
		t.Error(err)
		return
	}
	if expected := "mmmmIImmSDDDDDm"; string(ops) != expected {
		t.Errorf("expected %s, returned %s", expected, ops)
	}

	_, err = ExpandCigar(sam.Cigar{sam.NewCigarOp(sam.CigarBack, 1)}, ops)
	if !errors.Is(err, ErrUnsupportedCigar) {
		t.Errorf("expected ErrUnsupportedCigar, got %v", err)
	}
}

var samText = `@HD	VN:1.6	SO:unsorted
@SQ	SN:chr2	LN:200
r1	0	chr2	51	60	100M	*	0	0	*	*
r2	16	chr2	11	60	5S10M2I5M3D10M4H	*	0	0	*	*
r3	4	*	0	0	*	*	0	0	ACGT	IIII
`

func TestReader(t *testing.T) {
	file := filepath.Join(t.TempDir(), "test.sam")
	if err := os.WriteFile(file, []byte(samText), 0644); err != nil {
		t.Error(err)
		return
	}

	rd, err := NewReader(file, 1)
	if err != nil {
		t.Error(err)
		return
	}
	defer rd.Close()

	var records []Record
	var r Record
	for {
		if err = rd.Read(&r); err != nil {
			if err != io.EOF {
				t.Error(err)
			}
			break
		}
		records = append(records, Record{
			RefName: r.RefName, Mapped: r.Mapped, Reverse: r.Reverse,
			Start: r.Start, Stop: r.Stop, Ops: append([]byte{}, r.Ops...),
		})
	}

	if len(records) != 3 {
		t.Errorf("expected 3 records, returned %d", len(records))
		return
	}

	r1 := records[0]
	if !r1.Mapped || r1.RefName != "chr2" || r1.Start != 50 || r1.Stop != 149 ||
		string(r1.Ops) != strings.Repeat("m", 100) || r1.Reverse {
		t.Errorf("unexpected record: %s", &r1)
	}

	r2 := records[1]
	ops := strings.Repeat("m", 10) + "II" + strings.Repeat("m", 5) + "DDD" + strings.Repeat("m", 10)
	if !r2.Mapped || r2.Start != 10 || r2.Stop != 37 || string(r2.Ops) != ops || !r2.Reverse {
		t.Errorf("unexpected record: %s", &r2)
	}

	if records[2].Mapped {
		t.Errorf("unmapped record reported as mapped")
	}
}

func TestIsBAM(t *testing.T) {
	if !IsBAM("a.BAM") || IsBAM("a.sam.gz") || IsBAM("-") {
		t.Errorf("IsBAM")
	}
}

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
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/shenwei356/RefMask/refmask/scaffold"
	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
)

func testOptions() *MaskOptions {
	return &MaskOptions{
		NumCPUs: 2,

		MaskLowComplexity: true,
		Window:            80,
		MinK:              5,
		MaxK:              5,
		Ratio:             0.35,
		Entropy:           0.70,

		RepeatMinK:     5,
		RepeatMaxK:     5,
		RepeatMinLen:   40,
		RepeatMinCount: 4,

		MinDepth:         -1,
		MaxDepth:         -1,
		IncludeDeletions: true,
		ChunkSize:        1000,

		ConvertNonACGTN: true,
	}
}

func randSeq(r *rand.Rand, n int) []byte {
	s := make([]byte, n)
	for i := range s {
		s[i] = "ACGT"[r.Intn(4)]
	}
	return s
}

func collect(pieces *[]scaffold.Piece) func(p scaffold.Piece) error {
	return func(p scaffold.Piece) error {
		*pieces = append(*pieces, scaffold.Piece{
			ID:  p.ID,
			Seq: append([]byte{}, p.Seq...),
		})
		return nil
	}
}

func writeTestFile(t *testing.T, name, content string) string {
	file := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return file
}

func TestLowComplexityScaffold(t *testing.T) {
	for _, entropyMode := range []bool{false, true} {
		opt := testOptions()
		opt.EntropyMode = entropyMode

		store := scaffold.NewStore(opt.StoreOptions(false))
		store.Add("chr1", []byte("chr1"), bytes.Repeat([]byte("ACGT"), 50), nil)
		store.Add("chr3", []byte("chr3"), randSeq(rand.New(rand.NewSource(1)), 300), nil)

		runner := NewMaskRunner(opt, store)
		if err := runner.Mask(nil); err != nil {
			t.Error(err)
			return
		}

		var pieces []scaffold.Piece
		if err := runner.Apply(collect(&pieces)); err != nil {
			t.Error(err)
			return
		}
		if len(pieces) != 2 {
			t.Errorf("expected 2 records, returned %d", len(pieces))
			return
		}
		if string(pieces[0].Seq) != strings.Repeat("N", 200) {
			t.Errorf("entropy mode: %v, chr1 not fully masked: %s", entropyMode, pieces[0].Seq)
		}
		if runner.Stats.LowComplexityBases < 200 || runner.Stats.AppliedBases != runner.Stats.MaskedBases {
			t.Errorf("unexpected stats: %+v", runner.Stats)
		}
		if runner.Err() != nil {
			t.Error(runner.Err())
		}
	}
}

var samChr2 = `@SQ	SN:chr2	LN:200
@SQ	SN:chrX	LN:100
r1	0	chr2	51	60	100M	*	0	0	*	*
r2	0	chrX	1	60	10M	*	0	0	*	*
r3	16	chrX	5	60	10M	*	0	0	*	*
r4	4	*	0	0	*	*	0	0	ACGT	IIII
`

func TestCoverageScaffold(t *testing.T) {
	file := writeTestFile(t, "chr2.sam", samChr2)

	for _, chunkSize := range []int{1, 1000} {
		opt := testOptions()
		opt.MaskLowComplexity = false
		opt.ChunkSize = chunkSize

		store := scaffold.NewStore(opt.StoreOptions(true))
		sc, _ := store.Add("chr2", []byte("chr2"), randSeq(rand.New(rand.NewSource(2)), 200), nil)

		runner := NewMaskRunner(opt, store)
		if err := runner.Mask([]string{file}); err != nil {
			t.Error(err)
			return
		}
		if err := runner.Err(); err != nil {
			t.Error(err)
			return
		}

		for i := 0; i < 200; i++ {
			if sc.Mask.Test(uint(i)) != (i >= 50 && i < 150) {
				t.Errorf("chunk size: %d, base %d: unexpected mask", chunkSize, i)
				break
			}
		}
		if runner.Stats.CoverageBases != 100 || runner.Stats.Alignments != 4 ||
			runner.Stats.MissingReferences != 1 {
			t.Errorf("chunk size: %d, unexpected stats: %+v", chunkSize, runner.Stats)
		}

		var pieces []scaffold.Piece
		if err := runner.Apply(collect(&pieces)); err != nil {
			t.Error(err)
		}
	}
}

var samDepth = `@SQ	SN:chr2	LN:200
r1	0	chr2	51	60	100M	*	0	0	*	*
r2	0	chr2	101	60	50M2D48M	*	0	0	*	*
`

func TestDepthThresholds(t *testing.T) {
	file := writeTestFile(t, "depth.sam", samDepth)

	type _case struct {
		minDepth, maxDepth int
		deletions          bool
		masked             func(i int) bool
	}
	cases := []_case{
		// depth: [0,50) 0, [50,100) 1, [100,150) 2, [150,200) 1
		{1, -1, true, func(i int) bool { return i < 50 }},
		{-1, 1, true, func(i int) bool { return i >= 100 && i < 150 }},
		// without deletions, [150,152) has a depth of 0
		{1, -1, false, func(i int) bool { return i < 50 || (i >= 150 && i < 152) }},
	}

	for _, c := range cases {
		opt := testOptions()
		opt.MaskLowComplexity = false
		opt.MinDepth, opt.MaxDepth = c.minDepth, c.maxDepth
		opt.IncludeDeletions = c.deletions

		store := scaffold.NewStore(opt.StoreOptions(true))
		sc, _ := store.Add("chr2", []byte("chr2"), randSeq(rand.New(rand.NewSource(3)), 200), nil)

		runner := NewMaskRunner(opt, store)
		runner.Mask([]string{file})
		if err := runner.Err(); err != nil {
			t.Error(err)
			return
		}

		var n int
		for i := 0; i < 200; i++ {
			if c.masked(i) {
				n++
			}
			if sc.Mask.Test(uint(i)) != c.masked(i) {
				t.Errorf("depth: [%d, %d], base %d: unexpected mask", c.minDepth, c.maxDepth, i)
				break
			}
		}
		if runner.Stats.CoverageBases != n {
			t.Errorf("depth: [%d, %d], %d bases masked, expected %d",
				c.minDepth, c.maxDepth, runner.Stats.CoverageBases, n)
		}
	}
}

func TestSplitScaffold(t *testing.T) {
	file := writeTestFile(t, "split.sam", "@SQ\tSN:s1\tLN:50\nr1\t0\ts1\t11\t60\t10M\t*\t0\t0\t*\t*\n")

	opt := testOptions()
	opt.MaskLowComplexity = false
	opt.Split = true

	store := scaffold.NewStore(opt.StoreOptions(true))
	store.Add("s1", []byte("s1 desc"), randSeq(rand.New(rand.NewSource(4)), 50), nil)
	store.Add("s2", []byte("s2 desc"), randSeq(rand.New(rand.NewSource(5)), 30), nil)

	runner := NewMaskRunner(opt, store)
	runner.Mask([]string{file})

	var pieces []scaffold.Piece
	if err := runner.Apply(collect(&pieces)); err != nil {
		t.Error(err)
		return
	}
	if len(pieces) != 3 {
		t.Errorf("expected 3 records, returned %d", len(pieces))
		return
	}
	if pieces[0].ID != "s1_0" || len(pieces[0].Seq) != 10 ||
		pieces[1].ID != "s1_1" || len(pieces[1].Seq) != 30 ||
		pieces[2].ID != "s2" || len(pieces[2].Seq) != 30 {
		t.Errorf("unexpected records: %s:%d, %s:%d, %s:%d",
			pieces[0].ID, len(pieces[0].Seq), pieces[1].ID, len(pieces[1].Seq), pieces[2].ID, len(pieces[2].Seq))
	}
	if runner.Stats.AppliedBases != 10 || runner.Stats.OutputRecords != 3 {
		t.Errorf("unexpected stats: %+v", runner.Stats)
	}
}

func TestRepeatsAndCrossCheck(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	opt := testOptions()
	opt.MaskLowComplexity = false
	opt.MaskRepeats = true
	opt.Lowercase = true

	store := scaffold.NewStore(opt.StoreOptions(false))
	seq := append(randSeq(r, 100), bytes.Repeat([]byte("ACGTT"), 12)...)
	seq = append(seq, bytes.ToLower(randSeq(r, 50))...)
	seq = append(seq, randSeq(r, 100)...)
	seq = append(seq, bytes.Repeat([]byte("AC"), 60)...)
	seq = append(seq, []byte("NNNNRYKM")...)
	store.Add("chr4", []byte("chr4"), seq, nil)

	runner := NewMaskRunner(opt, store)
	if err := runner.Mask(nil); err != nil {
		t.Error(err)
		return
	}
	if runner.Stats.RepeatBases < 55 || runner.Stats.SeededBases != 54 {
		t.Errorf("unexpected stats: %+v", runner.Stats)
	}

	var pieces []scaffold.Piece
	if err := runner.Apply(collect(&pieces)); err != nil {
		t.Error(err)
		return
	}
	s := pieces[0].Seq
	if !bytes.Equal(s[100:160], bytes.ToLower(s[100:160])) {
		t.Errorf("tandem repeat not lowercased: %s", s[100:160])
	}
	if string(s[len(s)-8:]) != "NNNNNNNN" {
		t.Errorf("non-ACGTN bases not converted: %s", s[len(s)-8:])
	}
}

func TestCheckMaskOptions(t *testing.T) {
	if err := CheckMaskOptions(testOptions()); err != nil {
		t.Error(err)
	}

	bad := []func(o *MaskOptions){
		func(o *MaskOptions) { o.Window = 1 },
		func(o *MaskOptions) { o.MinK, o.MaxK = 6, 5 },
		func(o *MaskOptions) { o.Ratio = 1.5 },
		func(o *MaskOptions) { o.MinDepth, o.MaxDepth = 10, 5 },
		func(o *MaskOptions) { o.Split, o.Lowercase = true, true },
		func(o *MaskOptions) { o.ChunkSize = 0 },
		func(o *MaskOptions) { o.MaskRepeats, o.RepeatMinCount = true, 0 },
	}
	for i, fn := range bad {
		opt := testOptions()
		fn(opt)
		if CheckMaskOptions(opt) == nil {
			t.Errorf("invalid options #%d passed the check", i)
		}
	}
}

func TestIO(t *testing.T) {
	dir := t.TempDir()
	fasta := filepath.Join(dir, "ref.fa")
	content := ">chr1 first\nACGTACGTAC\nGTNN\n>chr2\nacgtACGT\n"
	if err := os.WriteFile(fasta, []byte(content), 0644); err != nil {
		t.Error(err)
		return
	}

	store, err := loadReference([]string{fasta}, scaffold.StoreOptions{SeedLowercase: true})
	if err != nil {
		t.Error(err)
		return
	}
	if store.Len() != 2 || store.Bases() != 22 || store.Seeded() != 6 {
		t.Errorf("unexpected store: %d sequences, %d bases, %d seeded", store.Len(), store.Bases(), store.Seeded())
	}
	sc, ok := store.Get("chr1")
	if !ok {
		t.Errorf("sequence not found: chr1")
	} else if string(sc.Name) != "chr1 first" || string(sc.Seq) != "ACGTACGTACGTNN" {
		t.Errorf("unexpected sequence: %s", sc)
	}

	// duplicated IDs
	dup := filepath.Join(dir, "dup.fa")
	os.WriteFile(dup, []byte(">a\nACGT\n>a\nACGT\n"), 0644)
	if _, err = loadReference([]string{dup}, scaffold.StoreOptions{}); err == nil {
		t.Errorf("duplicated IDs not detected")
	}

	// bed
	bed := filepath.Join(dir, "masked.bed")
	n, err := writeBED(bed, store, -1)
	if err != nil {
		t.Error(err)
		return
	}
	data, _ := os.ReadFile(bed)
	if n != 2 || string(data) != "chr1\t12\t14\nchr2\t0\t4\n" {
		t.Errorf("unexpected BED: %s", data)
	}

	// sequences
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	rw := newRecordWriter(w, 4)
	rw.Write(scaffold.Piece{ID: "chr1", Name: []byte("chr1 first"), Seq: []byte("ACGTACGTAC")})
	rw.Write(scaffold.Piece{ID: "q", Seq: []byte("ACG"), Qual: []byte("III")})
	w.Flush()
	if expected := ">chr1 first\nACGT\nACGT\nAC\n@q\nACG\n+\nIII\n"; buf.String() != expected {
		t.Errorf("unexpected output: %s", buf.String())
	}

	// stats
	statsFile := filepath.Join(dir, "stats.toml")
	stats := MaskStats{Scaffolds: 2, Bases: 22, MaskedBases: 6}
	if err = writeStats(statsFile, &stats); err != nil {
		t.Error(err)
		return
	}
	data, _ = os.ReadFile(statsFile)
	var stats2 MaskStats
	if err = toml.Unmarshal(data, &stats2); err != nil || stats2 != stats {
		t.Errorf("stats file: %s, %v", data, err)
	}
}

func TestNameSet(t *testing.T) {
	s := newNameSet()
	if !s.Add("chrX") || s.Add("chrX") || !s.Add("chrY") || s.Len() != 2 {
		t.Errorf("nameSet")
	}
}

var samBroken = `@SQ	SN:chr2	LN:200
r1	0	chr2	51	60	100M	*	0	0	*	*
r2	not-a-flag	chr2	1	60	10M	*	0	0	*	*
r3	0	chr2	1	60	10M	*	0	0	*	*
`

func TestAlignmentReadError(t *testing.T) {
	broken := writeTestFile(t, "broken.sam", samBroken)
	good := writeTestFile(t, "good.sam", "@SQ\tSN:chr2\tLN:200\nr1\t0\tchr2\t191\t60\t10M\t*\t0\t0\t*\t*\n")

	opt := testOptions()
	opt.MaskLowComplexity = false

	store := scaffold.NewStore(opt.StoreOptions(true))
	sc, _ := store.Add("chr2", []byte("chr2"), randSeq(rand.New(rand.NewSource(7)), 200), nil)

	runner := NewMaskRunner(opt, store)
	if err := runner.Mask([]string{broken, good}); err != nil {
		t.Error(err)
		return
	}

	// alignments before the broken line and those in other files are kept
	for i := 0; i < 200; i++ {
		if sc.Mask.Test(uint(i)) != ((i >= 50 && i < 150) || i >= 190) {
			t.Errorf("base %d: unexpected mask", i)
			break
		}
	}
	if runner.Stats.CoverageBases != 110 || runner.Stats.Alignments != 2 {
		t.Errorf("unexpected stats: %+v", runner.Stats)
	}

	// raised at the end
	if runner.Err() == nil || runner.errs.Len() != 1 {
		t.Errorf("the read error is not recorded: %v", runner.Err())
	}
	var pieces []scaffold.Piece
	if err := runner.Apply(collect(&pieces)); err != nil || len(pieces) != 1 {
		t.Errorf("applying masks after an error: %v", err)
	}
}

func TestApplyConsistency(t *testing.T) {
	opt := testOptions()
	store := scaffold.NewStore(opt.StoreOptions(false))
	sc, _ := store.Add("chr1", []byte("chr1"), bytes.Repeat([]byte("ACGT"), 50), nil)
	store.Add("chr3", []byte("chr3"), randSeq(rand.New(rand.NewSource(8)), 300), nil)

	runner := NewMaskRunner(opt, store)
	if err := runner.Mask(nil); err != nil {
		t.Error(err)
		return
	}

	// a bit set outside of all masking steps
	sc2, _ := store.Get("chr3")
	for i := uint(0); i < uint(sc2.Len()); i++ {
		if !sc2.Mask.Test(i) {
			sc2.Mask.Set(i)
			break
		}
	}

	var pieces []scaffold.Piece
	err := runner.Apply(collect(&pieces))
	if !errors.Is(err, ErrConsistency) {
		t.Errorf("expected ErrConsistency, got %v", err)
	}
	if runner.Stats.AppliedBases != runner.Stats.MaskedBases+1 || sc.Masked() != 200 {
		t.Errorf("unexpected stats: %+v", runner.Stats)
	}
}

func TestErrorState(t *testing.T) {
	var s errorState
	if s.Err() != nil || s.Len() != 0 {
		t.Errorf("empty errorState")
	}

	first := errors.New("first")
	s.set(first)
	if s.Err() != first {
		t.Errorf("expected the first error, got %v", s.Err())
	}
	for i := 0; i < 12; i++ {
		s.set(fmt.Errorf("error %d", i))
	}
	if s.Len() != 13 || !errors.Is(s.Err(), first) {
		t.Errorf("%d errors, %v", s.Len(), s.Err())
	}
}

func TestGetFileListFromDir(t *testing.T) {
	dir := t.TempDir()
	for _, file := range []string{"c.sam", "a.SAM", "b.bam", "sub/d.sam.gz", "x.txt", "sub/e.fa"} {
		file = filepath.Join(dir, file)
		os.MkdirAll(filepath.Dir(file), 0755)
		if err := os.WriteFile(file, nil, 0644); err != nil {
			t.Error(err)
			return
		}
	}

	re := regexp.MustCompile(reIgnoreCaseStr + `\.(sam|bam)(\.gz)?$`)
	for _, threads := range []int{1, 4} {
		files, err := getFileListFromDir(dir, re, threads)
		if err != nil {
			t.Error(err)
			return
		}
		expected := []string{"a.SAM", "b.bam", "c.sam", "sub/d.sam.gz"}
		if len(files) != len(expected) {
			t.Errorf("unexpected files: %v", files)
			continue
		}
		for i, file := range expected {
			if files[i] != filepath.Join(dir, file) {
				t.Errorf("unexpected files: %v", files)
				break
			}
		}
	}
}

func TestOutStream(t *testing.T) {
	file := filepath.Join(t.TempDir(), "out.fa.gz")
	outfh, gw, w, err := outStream(file, true, -1)
	if err != nil {
		t.Error(err)
		return
	}
	rw := newRecordWriter(outfh, 0)
	rw.Write(scaffold.Piece{ID: "s1", Seq: []byte("ACGTN")})
	if err = closeOutStream(outfh, gw, w); err != nil {
		t.Error(err)
		return
	}

	fh, err := xopen.Ropen(file)
	if err != nil {
		t.Error(err)
		return
	}
	data, err := io.ReadAll(fh)
	fh.Close()
	if err != nil || string(data) != ">s1\nACGTN\n" {
		t.Errorf("unexpected output: %q, %v", data, err)
	}

	// errors of writing are returned when closing
	if _, err = os.Stat("/dev/full"); err != nil {
		t.Logf("skip writing to /dev/full: %s", err)
		return
	}
	outfh, gw, w, err = outStream("/dev/full", false, -1)
	if err != nil {
		t.Logf("skip writing to /dev/full: %s", err)
		return
	}
	rw = newRecordWriter(outfh, 0)
	rw.Write(scaffold.Piece{ID: "s1", Seq: []byte("ACGTN")})
	if err = closeOutStream(outfh, gw, w); err == nil {
		t.Errorf("expected an error of writing to /dev/full")
	}
}

func TestWithUsage(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{Use: "test", Run: func(cmd *cobra.Command, args []string) {}}
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)

	if err := withUsage(cmd, nil); err != nil || buf.Len() > 0 {
		t.Errorf("usage printed without errors: %s", buf.String())
	}

	err := withUsage(cmd, CheckMaskOptions(&MaskOptions{}))
	if err == nil || !strings.Contains(buf.String(), "Usage:") {
		t.Errorf("usage not printed for %v: %s", err, buf.String())
	}
}

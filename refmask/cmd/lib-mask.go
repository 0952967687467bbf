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
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shenwei356/RefMask/refmask/alignment"
	"github.com/shenwei356/RefMask/refmask/coverage"
	"github.com/shenwei356/RefMask/refmask/kmer"
	"github.com/shenwei356/RefMask/refmask/scaffold"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"github.com/zeebo/wyhash"
)

// ErrConsistency means the number of bases masked in all steps does not
// match the number of bases changed in the output.
var ErrConsistency = errors.New("refmask: masked bases mismatch")

// MaskOptions contains the options for masking.
type MaskOptions struct {
	// general
	NumCPUs  int
	Verbose  bool // show log
	Log2File bool // log file

	// low complexity

	MaskLowComplexity bool
	EntropyMode       bool    // entropy cutoff instead of the ratio of distinct k-mers
	Window            int     // window size
	MinK              int     // k-mer range
	MaxK              int     //
	Ratio             float64 // minimum ratio of distinct k-mers in a window
	Entropy           float64 // minimum normalized entropy of a window

	// tandem repeats

	MaskRepeats    bool
	RepeatMinK     int
	RepeatMaxK     int
	RepeatMinLen   int // minimum length of a repeat run
	RepeatMinCount int // minimum copies of a repeat unit

	// coverage

	MinDepth         int  // mask bases with depth below it, -1 for disabling
	MaxDepth         int  // mask bases with depth above it, -1 for disabling
	IncludeDeletions bool // deleted bases are covered
	Pad              int  // extend covered ranges
	ChunkSize        int  // number of alignments sent to a worker at once

	// output

	Split           bool // split sequences at masked bases
	Lowercase       bool // lowercase masked bases instead of N
	ConvertNonACGTN bool // replace non-ACGTN symbols with N
}

// CheckMaskOptions checks the options.
func CheckMaskOptions(opt *MaskOptions) error {
	if opt.NumCPUs < 1 {
		return fmt.Errorf("invalid number of threads: %d, should be >= 1", opt.NumCPUs)
	}

	if opt.MaskLowComplexity {
		if opt.Window < 2 || opt.Window > kmer.MaxWindow {
			return fmt.Errorf("invalid window size: %d, valid range: [2, %d]", opt.Window, kmer.MaxWindow)
		}
		if opt.MinK < 1 || opt.MaxK > kmer.MaxK || opt.MinK > opt.MaxK {
			return fmt.Errorf("invalid k-mer range: [%d, %d], valid range: [1, %d]", opt.MinK, opt.MaxK, kmer.MaxK)
		}
		if opt.EntropyMode {
			if opt.Entropy < 0 || opt.Entropy > 1 {
				return fmt.Errorf("invalid entropy cutoff: %f, valid range: [0, 1]", opt.Entropy)
			}
		} else if opt.Ratio < 0 || opt.Ratio > 1 {
			return fmt.Errorf("invalid ratio: %f, valid range: [0, 1]", opt.Ratio)
		}
	}

	if opt.MaskRepeats {
		if opt.RepeatMinK < 1 || opt.RepeatMaxK > kmer.MaxK || opt.RepeatMinK > opt.RepeatMaxK {
			return fmt.Errorf("invalid k-mer range for repeats: [%d, %d], valid range: [1, %d]",
				opt.RepeatMinK, opt.RepeatMaxK, kmer.MaxK)
		}
		if opt.RepeatMinLen < 1 {
			return fmt.Errorf("invalid minimum repeat length: %d, should be >= 1", opt.RepeatMinLen)
		}
		if opt.RepeatMinCount < 1 {
			return fmt.Errorf("invalid minimum repeat count: %d, should be >= 1", opt.RepeatMinCount)
		}
	}

	if opt.MinDepth < -1 || opt.MaxDepth < -1 {
		return fmt.Errorf("depth thresholds should be >= 0, or -1 for disabling")
	}
	if opt.MinDepth >= 0 && opt.MaxDepth >= 0 && opt.MinDepth > opt.MaxDepth {
		return fmt.Errorf("minimum depth (%d) should not be greater than maximum depth (%d)", opt.MinDepth, opt.MaxDepth)
	}
	if opt.Pad < 0 {
		return fmt.Errorf("invalid padding: %d, should be >= 0", opt.Pad)
	}
	if opt.ChunkSize < 1 {
		return fmt.Errorf("invalid chunk size: %d, should be >= 1", opt.ChunkSize)
	}

	if opt.Split && opt.Lowercase {
		return fmt.Errorf("splitting sequences and lowercasing masked bases are mutually exclusive")
	}

	return nil
}

// DepthMode tells whether depth thresholds are used.
func (opt *MaskOptions) DepthMode() bool {
	return opt.MinDepth >= 0 || opt.MaxDepth >= 0
}

// StoreOptions returns options for loading scaffolds.
func (opt *MaskOptions) StoreOptions(withAlignments bool) scaffold.StoreOptions {
	depth := withAlignments && opt.DepthMode()
	return scaffold.StoreOptions{
		SeedLowercase: opt.Lowercase,
		WithDepth:     depth,
		WideDepth:     depth && scaffold.NeedWideDepth(opt.MinDepth, opt.MaxDepth),
	}
}

// MaskStats contains the summary of a run.
type MaskStats struct {
	Scaffolds   int `toml:"scaffolds"`
	Bases       int `toml:"bases"`
	SeededBases int `toml:"seeded-bases"`

	RepeatBases        int `toml:"repeat-bases"`
	LowComplexityBases int `toml:"low-complexity-bases"`

	AlignmentFiles    int `toml:"alignment-files"`
	Alignments        int `toml:"alignments"`
	AlignedBases      int `toml:"aligned-bases"`
	CoverageBases     int `toml:"coverage-bases"`
	MissingReferences int `toml:"missing-references"`

	MaskedBases   int `toml:"masked-bases"`
	AppliedBases  int `toml:"applied-bases"`
	OutputRecords int `toml:"output-records"`

	Errors int `toml:"errors"`
}

// MaskRunner runs all masking steps on the scaffolds of a Store.
type MaskRunner struct {
	opt   *MaskOptions
	store *scaffold.Store

	Stats MaskStats

	errs    errorState
	missing *nameSet
}

// NewMaskRunner creates a MaskRunner. The options should be checked with
// CheckMaskOptions.
func NewMaskRunner(opt *MaskOptions, store *scaffold.Store) *MaskRunner {
	r := &MaskRunner{
		opt:     opt,
		store:   store,
		missing: newNameSet(),
	}
	r.Stats.Scaffolds = store.Len()
	r.Stats.Bases = store.Bases()
	r.Stats.SeededBases = int(store.Seeded())
	return r
}

// Err returns the first error in all steps, if any.
func (r *MaskRunner) Err() error {
	return r.errs.Err()
}

// Mask runs all enabled masking steps in order: tandem repeats,
// low complexity, and coverage from alignment files.
func (r *MaskRunner) Mask(alignmentFiles []string) error {
	var err error
	var timeStart time.Time
	verbose := r.opt.Verbose || r.opt.Log2File

	if r.opt.MaskRepeats {
		timeStart = time.Now()
		if verbose {
			log.Info("masking tandem repeats ...")
		}
		r.Stats.RepeatBases, err = r.MaskRepeats()
		if err != nil {
			return err
		}
		if verbose {
			log.Infof("  %s bases masked in %s", humanizeInt(r.Stats.RepeatBases), time.Since(timeStart))
		}
	}

	if r.opt.MaskLowComplexity {
		timeStart = time.Now()
		if verbose {
			if r.opt.EntropyMode {
				log.Info("masking low-entropy regions ...")
			} else {
				log.Info("masking low-complexity regions ...")
			}
		}
		r.Stats.LowComplexityBases, err = r.MaskLowComplexity()
		if err != nil {
			return err
		}
		if verbose {
			log.Infof("  %s bases masked in %s", humanizeInt(r.Stats.LowComplexityBases), time.Since(timeStart))
		}
	}

	if len(alignmentFiles) > 0 {
		timeStart = time.Now()
		if verbose {
			log.Infof("masking from %d alignment file(s) ...", len(alignmentFiles))
		}
		r.Stats.CoverageBases = r.MaskFromAlignments(alignmentFiles)
		if verbose {
			log.Infof("  %s alignments (%s aligned bases) processed",
				humanizeInt(r.Stats.Alignments), humanizeInt(r.Stats.AlignedBases))
			if r.Stats.MissingReferences > 0 {
				log.Infof("  %d reference sequences not found", r.Stats.MissingReferences)
			}
			log.Infof("  %s bases masked in %s", humanizeInt(r.Stats.CoverageBases), time.Since(timeStart))
		}
	}

	r.Stats.MaskedBases = r.Stats.RepeatBases + r.Stats.LowComplexityBases + r.Stats.CoverageBases
	return nil
}

// MaskRepeats masks tandem repeats of all scaffolds.
func (r *MaskRunner) MaskRepeats() (int, error) {
	return r.maskKmers("tandem repeats", func() (kmer.Masker, error) {
		return kmer.NewRepeatMasker(r.opt.RepeatMinK, r.opt.RepeatMaxK, r.opt.RepeatMinLen, r.opt.RepeatMinCount)
	})
}

// MaskLowComplexity masks low-complexity or low-entropy windows of all scaffolds.
func (r *MaskRunner) MaskLowComplexity() (int, error) {
	if r.opt.EntropyMode {
		return r.maskKmers("low entropy", func() (kmer.Masker, error) {
			return kmer.NewEntropyMasker(r.opt.MinK, r.opt.MaxK, r.opt.Window, r.opt.Entropy)
		})
	}
	return r.maskKmers("low complexity", func() (kmer.Masker, error) {
		return kmer.NewComplexityMasker(r.opt.MinK, r.opt.MaxK, r.opt.Window, r.opt.Ratio)
	})
}

// maskKmers runs a k-mer based masker on all scaffolds in parallel.
// Every worker owns a masker, which is reused for all scaffolds it processes.
func (r *MaskRunner) maskKmers(desc string, newMasker func() (kmer.Masker, error)) (int, error) {
	scaffolds := r.store.Scaffolds()
	threads := r.opt.NumCPUs
	if threads > len(scaffolds) {
		threads = len(scaffolds)
	}
	if threads == 0 {
		return 0, nil
	}

	maskers := make([]kmer.Masker, threads)
	var err error
	for i := range maskers {
		maskers[i], err = newMasker()
		if err != nil {
			return 0, errors.Wrapf(err, "masking %s", desc)
		}
	}

	ch := make(chan *scaffold.Scaffold, len(scaffolds))
	for _, sc := range scaffolds {
		ch <- sc
	}
	close(ch)

	// process bar
	var pbs *mpb.Progress
	var bar *mpb.Bar
	var chDuration chan time.Duration
	var doneDuration chan int
	if r.opt.Verbose {
		pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
		bar = pbs.AddBar(int64(len(scaffolds)),
			mpb.PrependDecorators(
				decor.Name("processed sequences: ", decor.WC{W: len("processed sequences: "), C: decor.DindentRight}),
				decor.Name("", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
				decor.EwmaETA(decor.ET_STYLE_GO, 10),
				decor.OnComplete(decor.Name(""), ". done"),
			),
		)

		chDuration = make(chan time.Duration, threads)
		doneDuration = make(chan int)
		go func() {
			for t := range chDuration {
				bar.EwmaIncrBy(1, t)
			}
			doneDuration <- 1
		}()
	}

	counts := make([]int, threads)
	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := maskers[i]
			var t time.Time
			for sc := range ch {
				t = time.Now()
				counts[i] += m.Mask(sc.Seq, sc.Mask)
				if chDuration != nil {
					chDuration <- time.Since(t)
				}
			}
		}(i)
	}
	wg.Wait()

	if r.opt.Verbose {
		close(chDuration)
		<-doneDuration
		pbs.Wait()
	}

	var n int
	for _, c := range counts {
		n += c
	}
	return n, nil
}

// alignmentChunk is a batch of alignments sent to a worker.
type alignmentChunk struct {
	records []alignment.Record
	n       int
}

var poolAlignmentChunk = &sync.Pool{New: func() interface{} {
	return &alignmentChunk{}
}}

// MaskFromAlignments masks or counts the coverage of alignments, and
// resolves depth thresholds after all alignments are added.
// Errors are kept and can be checked with Err().
func (r *MaskRunner) MaskFromAlignments(files []string) int {
	resolver := coverage.NewResolver(r.opt.IncludeDeletions, r.opt.Pad)

	var n int
	for _, file := range files {
		n += r.maskFromAlignmentFile(file, resolver)
	}
	r.Stats.AlignmentFiles += len(files)

	if r.opt.DepthMode() {
		n += r.store.ResolveDepth(r.opt.MinDepth, r.opt.MaxDepth)
	}

	r.Stats.MissingReferences = r.missing.Len()
	return n
}

func (r *MaskRunner) maskFromAlignmentFile(file string, resolver *coverage.Resolver) int {
	threads := r.opt.NumCPUs
	chunkSize := r.opt.ChunkSize
	depthMode := r.opt.DepthMode()

	rd, err := alignment.NewReader(file, threads)
	if err != nil {
		r.errs.set(errors.Wrapf(err, "failed to read alignment file: %s", file))
		return 0
	}

	ch := make(chan *alignmentChunk, threads)

	// reader
	go func() {
		defer close(ch)
		var chunk *alignmentChunk
		var err error
		for {
			chunk = poolAlignmentChunk.Get().(*alignmentChunk)
			if len(chunk.records) < chunkSize {
				chunk.records = make([]alignment.Record, chunkSize)
			}
			chunk.n = 0

			for chunk.n < chunkSize {
				err = rd.Read(&chunk.records[chunk.n])
				if err == nil {
					chunk.n++
					continue
				}
				if errors.Is(err, alignment.ErrUnsupportedCigar) {
					r.errs.set(err)
					continue
				}
				break
			}

			if chunk.n > 0 {
				ch <- chunk
			} else {
				poolAlignmentChunk.Put(chunk)
			}

			if err != nil && !errors.Is(err, alignment.ErrUnsupportedCigar) {
				if err != io.EOF {
					r.errs.set(errors.Wrapf(err, "failed to read alignment file: %s", file))
				}
				break
			}
		}
		if err = rd.Close(); err != nil {
			r.errs.set(errors.Wrapf(err, "failed to close alignment file: %s", file))
		}
	}()

	counts := make([]int, threads)
	records := make([]int, threads)
	bases := make([]int, threads)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ranges []coverage.Range
			var err error
			var rec *alignment.Record
			var sc *scaffold.Scaffold
			var ok bool
			for chunk := range ch {
				for j := 0; j < chunk.n; j++ {
					rec = &chunk.records[j]
					records[i]++
					if !rec.Mapped {
						continue
					}

					if sc, ok = r.store.Get(rec.RefName); !ok {
						if r.missing.Add(rec.RefName) {
							log.Warningf("reference sequence not found: %s", rec.RefName)
						}
						continue
					}

					ranges, err = resolver.Resolve(rec.Ops, rec.Start, rec.Stop, sc.Len(), ranges)
					if err != nil {
						r.errs.set(errors.Wrapf(err, "%s: alignment on %s", file, rec.RefName))
						continue
					}
					bases[i] += rec.Stop - rec.Start + 1

					if depthMode {
						sc.AddCoverage(ranges)
					} else {
						counts[i] += sc.MaskRanges(ranges)
					}
				}
				poolAlignmentChunk.Put(chunk)
			}
		}(i)
	}
	wg.Wait()

	var n int
	for i := range counts {
		n += counts[i]
		r.Stats.Alignments += records[i]
		r.Stats.AlignedBases += bases[i]
	}
	return n
}

// Apply applies masks and calls fn for every output record in input order.
// It checks that the number of changed bases matches the masked bases.
func (r *MaskRunner) Apply(fn func(p scaffold.Piece) error) error {
	var n int
	var err error
	if r.opt.Split {
		n, err = r.store.Split(func(p scaffold.Piece) error {
			r.Stats.OutputRecords++
			return fn(p)
		})
		if err != nil {
			return err
		}
	} else {
		n = r.store.Substitute(scaffold.ApplyOptions{
			Lowercase:       r.opt.Lowercase,
			ConvertNonACGTN: r.opt.ConvertNonACGTN,
		})
		for _, sc := range r.store.Scaffolds() {
			r.Stats.OutputRecords++
			if err = fn(scaffold.Piece{ID: sc.ID, Name: sc.Name, Seq: sc.Seq, Qual: sc.Qual}); err != nil {
				return err
			}
		}
	}
	r.Stats.AppliedBases = n

	if n != r.Stats.MaskedBases {
		return fmt.Errorf("%w: %d (repeats) + %d (low complexity) + %d (coverage) != %d (applied)",
			ErrConsistency, r.Stats.RepeatBases, r.Stats.LowComplexityBases, r.Stats.CoverageBases, n)
	}
	return nil
}

// errorState keeps the first error of concurrent workers.
type errorState struct {
	mu  sync.Mutex
	err error
	n   int
}

// maxLoggedErrors is the number of errors logged when they happen.
const maxLoggedErrors = 10

func (s *errorState) set(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.n++
	if s.n <= maxLoggedErrors {
		log.Error(err)
	}
	s.mu.Unlock()
}

// Err returns the first error, or nil.
func (s *errorState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.n {
	case 0:
		return nil
	case 1:
		return s.err
	}
	return errors.Wrapf(s.err, "%d errors in total, the first one", s.n)
}

// Len returns the number of errors.
func (s *errorState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// nameSet is a concurrent set of strings, sharded by hash values.
type nameSet struct {
	shards [nameSetShards]nameShard
}

const nameSetShards = 64

type nameShard struct {
	mu sync.Mutex
	m  map[string]struct{}
}

func newNameSet() *nameSet {
	s := &nameSet{}
	for i := range s.shards {
		s.shards[i].m = make(map[string]struct{}, 8)
	}
	return s
}

// Add adds a name and returns true if it was absent.
func (s *nameSet) Add(name string) bool {
	shard := &s.shards[wyhash.Hash([]byte(name), 1)%nameSetShards]
	shard.mu.Lock()
	_, ok := shard.m[name]
	if !ok {
		shard.m[name] = struct{}{}
	}
	shard.mu.Unlock()
	return !ok
}

// Len returns the number of names.
func (s *nameSet) Len() int {
	var n int
	for i := range s.shards {
		s.shards[i].mu.Lock()
		n += len(s.shards[i].m)
		s.shards[i].mu.Unlock()
	}
	return n
}

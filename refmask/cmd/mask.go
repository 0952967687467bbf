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
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
)

var maskCmd = &cobra.Command{
	Use:   "mask",
	Short: "Mask reference sequences",
	Long: `Mask reference sequences

Masking criteria (all masks are merged):
  1. Low complexity (default on, --mask-low-entropy):
     a. Entropy mode (default): windows of which the Shannon entropy of
        k-mers, normalized to [0, 1], is below --entropy.
     b. Complexity mode: windows containing less than --ratio * min(W, 4^k)
        distinct k-mers. Giving --ratio switches to this mode unless
        --entropy-mode is given explicitly.
     Windows containing ambiguous bases are never masked.
  2. Short tandem repeats (--mask-repeats), with runs of at least
     max(--repeat-min-len, k * --repeat-min-count) bases.
  3. Read coverage from SAM/BAM files, given via positional arguments,
     a file list (-X/--infile-list), or a directory (-I/--in-dir).
     a. By default, all covered bases are masked.
     b. With --min-depth and/or --max-depth, bases with a depth out of
        the range are masked instead.

Input:
  Reference sequences in plain or compressed FASTA/Q format (-r/--ref).
  N bases are treated as masked, and so are lowercase bases in the
  lowercase mode (--lowercase).

Output:
  1. Masked bases are replaced with N, or lowercased (--lowercase).
  2. Or sequences are split at masked bases (--split), and unmasked
     fragments are named <seq id>_<index>, with index starting from 0.
  3. Optional BED file of masked regions (--bed) and a summary file in
     TOML format (--stats-file).

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}
		verbose := opt.Verbose || opt.Log2File

		timeStart := time.Now()
		defer func() {
			if verbose {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		// ---------------------------------------------------------------
		// flags

		refFile := getFlagString(cmd, "ref")
		if refFile == "" {
			checkError(withUsage(cmd, fmt.Errorf("flag -r/--ref needed")))
		}
		refFile = expandPath(refFile)

		outFile := getFlagString(cmd, "out-file")
		bedFile := getFlagString(cmd, "bed")
		statsFile := getFlagString(cmd, "stats-file")
		lineWidth := getFlagNonNegativeInt(cmd, "line-width")

		minK := getFlagPositiveInt(cmd, "min-k")
		maxK := getFlagPositiveInt(cmd, "max-k")
		repeatMinK := getFlagPositiveInt(cmd, "repeat-min-k")
		repeatMaxK := getFlagPositiveInt(cmd, "repeat-max-k")
		if cmd.Flags().Changed("kmer") {
			k := getFlagPositiveInt(cmd, "kmer")
			minK, maxK, repeatMinK, repeatMaxK = k, k, k, k
		}

		entropyMode := getFlagBool(cmd, "entropy-mode")
		if !cmd.Flags().Changed("entropy-mode") {
			if cmd.Flags().Changed("ratio") && !cmd.Flags().Changed("entropy") {
				entropyMode = false
			}
		}

		mopt := &MaskOptions{
			NumCPUs:  opt.NumCPUs,
			Verbose:  opt.Verbose,
			Log2File: opt.Log2File,

			MaskLowComplexity: getFlagBool(cmd, "mask-low-entropy"),
			EntropyMode:       entropyMode,
			Window:            getFlagPositiveInt(cmd, "window"),
			MinK:              minK,
			MaxK:              maxK,
			Ratio:             getFlagNonNegativeFloat64(cmd, "ratio"),
			Entropy:           getFlagNonNegativeFloat64(cmd, "entropy"),

			MaskRepeats:    getFlagBool(cmd, "mask-repeats"),
			RepeatMinK:     repeatMinK,
			RepeatMaxK:     repeatMaxK,
			RepeatMinLen:   getFlagPositiveInt(cmd, "repeat-min-len"),
			RepeatMinCount: getFlagPositiveInt(cmd, "repeat-min-count"),

			MinDepth:         getFlagInt(cmd, "min-depth"),
			MaxDepth:         getFlagInt(cmd, "max-depth"),
			IncludeDeletions: getFlagBool(cmd, "include-deletions"),
			Pad:              getFlagNonNegativeInt(cmd, "pad"),
			ChunkSize:        getFlagPositiveInt(cmd, "chunk-size"),

			Split:           getFlagBool(cmd, "split"),
			Lowercase:       getFlagBool(cmd, "lowercase"),
			ConvertNonACGTN: getFlagBool(cmd, "convert-non-acgtn"),
		}
		checkError(withUsage(cmd, CheckMaskOptions(mopt)))

		// ---------------------------------------------------------------
		// alignment files

		var err error
		var files []string

		inDir := getFlagString(cmd, "in-dir")
		if inDir != "" {
			isDir, err := pathutil.IsDir(inDir)
			if err != nil {
				checkError(errors.Wrapf(err, "checking -I/--in-dir"))
			}
			if !isDir {
				checkError(fmt.Errorf("value of -I/--in-dir should be a directory: %s", inDir))
			}

			reFileStr := getFlagString(cmd, "file-regexp")
			if !reIgnoreCase.MatchString(reFileStr) {
				reFileStr = reIgnoreCaseStr + reFileStr
			}
			reFile, err := regexp.Compile(reFileStr)
			checkError(errors.Wrapf(err, "failed to parse regular expression for matching file: %s", reFileStr))

			files, err = getFileListFromDir(expandPath(inDir), reFile, opt.NumCPUs)
			if err != nil {
				checkError(errors.Wrapf(err, "walking dir: %s", inDir))
			}
			if len(files) == 0 {
				log.Warningf("no files matching regular expression: %s", reFileStr)
			}
		}
		if len(args) > 0 || getFlagString(cmd, "infile-list") != "" {
			files = append(files, getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)...)
		}
		for _, file := range files {
			if isStdin(file) && isStdin(refFile) {
				checkError(fmt.Errorf("reference and alignment files can not be both stdin"))
			}
		}

		// ---------------------------------------------------------------
		// log

		if verbose {
			log.Infof("RefMask v%s", VERSION)
			log.Info("  https://github.com/shenwei356/RefMask")
			log.Info()
			log.Infof("-------------------- [main parameters] --------------------")
			log.Infof("reference file: %s", refFile)
			log.Infof("alignment files: %d", len(files))
			if mopt.MaskLowComplexity {
				if mopt.EntropyMode {
					log.Infof("low entropy: window: %d, k: [%d, %d], entropy cutoff: %.2f",
						mopt.Window, mopt.MinK, mopt.MaxK, mopt.Entropy)
				} else {
					log.Infof("low complexity: window: %d, k: [%d, %d], ratio: %.2f",
						mopt.Window, mopt.MinK, mopt.MaxK, mopt.Ratio)
				}
			}
			if mopt.MaskRepeats {
				log.Infof("tandem repeats: k: [%d, %d], min length: %d, min count: %d",
					mopt.RepeatMinK, mopt.RepeatMaxK, mopt.RepeatMinLen, mopt.RepeatMinCount)
			}
			if len(files) > 0 {
				log.Infof("coverage: depth range: [%d, %d], include deletions: %v, padding: %d",
					mopt.MinDepth, mopt.MaxDepth, mopt.IncludeDeletions, mopt.Pad)
			}
			log.Infof("output: split: %v, lowercase: %v, convert non-ACGTN: %v",
				mopt.Split, mopt.Lowercase, mopt.ConvertNonACGTN)
			log.Infof("threads: %d", mopt.NumCPUs)
			log.Infof("-------------------- [main parameters] --------------------")
			log.Info()
		}

		// ---------------------------------------------------------------
		// reference

		if verbose {
			log.Info("reading reference sequences ...")
		}
		store, err := loadReference([]string{refFile}, mopt.StoreOptions(len(files) > 0))
		checkError(err)
		if verbose {
			log.Infof("  %s sequences with %s bases loaded, %s bases masked in the input",
				humanizeInt(store.Len()), humanizeInt(store.Bases()), humanizeInt(int(store.Seeded())))
		}

		// ---------------------------------------------------------------
		// masking

		runner := NewMaskRunner(mopt, store)
		checkError(runner.Mask(files))

		if bedFile != "" {
			n, err := writeBED(bedFile, store, opt.CompressionLevel)
			if err != nil {
				checkError(errors.Wrapf(err, "failed to write BED file"))
			}
			if verbose {
				log.Infof("%s masked regions saved to %s", humanizeInt(n), bedFile)
			}
		}

		// ---------------------------------------------------------------
		// output

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)

		rw := newRecordWriter(outfh, lineWidth)
		errApply := runner.Apply(rw.Write)
		errOut := closeOutStream(outfh, gw, w)

		// ---------------------------------------------------------------
		// summary

		runner.Stats.Errors = runner.errs.Len()
		if verbose {
			log.Info()
			logStats(&runner.Stats)
		}
		if statsFile != "" {
			checkError(writeStats(statsFile, &runner.Stats))
		}

		checkError(errApply)
		if errOut != nil {
			checkError(errors.Wrapf(errOut, "failed to write output file: %s", outFile))
		}
		if err = runner.Err(); err != nil {
			checkError(errors.Wrap(err, "terminated in an error state, the output may be corrupt"))
		}
	},
}

func init() {
	RootCmd.AddCommand(maskCmd)

	// -----------------------------  input  -----------------------------

	maskCmd.Flags().StringP("ref", "r", "",
		formatFlagUsage(`Reference sequence file in FASTA/Q format ("-" for stdin).`))

	maskCmd.Flags().StringP("infile-list", "X", "",
		formatFlagUsage(`File of SAM/BAM file list, one file per line.`))

	maskCmd.Flags().StringP("in-dir", "I", "",
		formatFlagUsage(`Directory containing SAM/BAM files. Directory symlinks are followed.`))

	maskCmd.Flags().StringP("file-regexp", "", `\.(sam|bam)(\.gz)?$`,
		formatFlagUsage(`Regular expression for matching SAM/BAM files in -I/--in-dir, case ignored.`))

	// -----------------------------  output  -----------------------------

	maskCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports the ".gz" suffix ("-" for stdout).`))

	maskCmd.Flags().IntP("line-width", "", 70,
		formatFlagUsage(`Line width of output FASTA sequences, 0 for no wrap.`))

	maskCmd.Flags().StringP("bed", "", "",
		formatFlagUsage(`Write masked regions to a BED file, supports the ".gz" suffix.`))

	maskCmd.Flags().StringP("stats-file", "", "",
		formatFlagUsage(`Write a summary to a file in TOML format.`))

	maskCmd.Flags().BoolP("split", "", false,
		formatFlagUsage(`Split sequences at masked bases, instead of replacing them.`))

	maskCmd.Flags().BoolP("lowercase", "", false,
		formatFlagUsage(`Lowercase masked bases instead of replacing them with N. Lowercase bases in the input are treated as masked.`))

	maskCmd.Flags().BoolP("convert-non-acgtn", "", true,
		formatFlagUsage(`Replace unmasked non-ACGTN symbols with N.`))

	// -----------------------------  low complexity  -----------------------------

	maskCmd.Flags().BoolP("mask-low-entropy", "", true,
		formatFlagUsage(`Mask low-entropy or low-complexity regions.`))

	maskCmd.Flags().BoolP("entropy-mode", "", true,
		formatFlagUsage(`Use the entropy cutoff instead of the ratio of distinct k-mers.`))

	maskCmd.Flags().IntP("window", "w", 80,
		formatFlagUsage(`Window size.`))

	maskCmd.Flags().IntP("kmer", "k", 5,
		formatFlagUsage(`K-mer size, setting both k-mer ranges of low complexity and tandem repeats.`))

	maskCmd.Flags().IntP("min-k", "", 5,
		formatFlagUsage(`Minimum k-mer size for low complexity.`))

	maskCmd.Flags().IntP("max-k", "", 5,
		formatFlagUsage(`Maximum k-mer size for low complexity.`))

	maskCmd.Flags().Float64P("ratio", "", 0.35,
		formatFlagUsage(`Minimum ratio of distinct k-mers in a window, in complexity mode.`))

	maskCmd.Flags().Float64P("entropy", "e", 0.70,
		formatFlagUsage(`Minimum normalized entropy of a window, in entropy mode.`))

	// -----------------------------  tandem repeats  -----------------------------

	maskCmd.Flags().BoolP("mask-repeats", "", false,
		formatFlagUsage(`Mask short tandem repeats.`))

	maskCmd.Flags().IntP("repeat-min-k", "", 5,
		formatFlagUsage(`Minimum repeat unit size.`))

	maskCmd.Flags().IntP("repeat-max-k", "", 5,
		formatFlagUsage(`Maximum repeat unit size.`))

	maskCmd.Flags().IntP("repeat-min-len", "", 40,
		formatFlagUsage(`Minimum length of a repeat run.`))

	maskCmd.Flags().IntP("repeat-min-count", "", 4,
		formatFlagUsage(`Minimum copies of a repeat unit.`))

	// -----------------------------  coverage  -----------------------------

	maskCmd.Flags().IntP("min-depth", "", -1,
		formatFlagUsage(`Mask bases with a depth below this value, -1 for disabling.`))

	maskCmd.Flags().IntP("max-depth", "", -1,
		formatFlagUsage(`Mask bases with a depth above this value, -1 for disabling.`))

	maskCmd.Flags().BoolP("include-deletions", "", true,
		formatFlagUsage(`Treat deleted bases in alignments as covered.`))

	maskCmd.Flags().IntP("pad", "", 0,
		formatFlagUsage(`Extend covered ranges by this many bases on both sides.`))

	maskCmd.Flags().IntP("chunk-size", "", 1000,
		formatFlagUsage(`Number of alignments processed by a thread at once.`))

	// ----------------------------------------------------------

	maskCmd.SetUsageTemplate(usageTemplate("-r <ref.fa> [<alignment files> | -X <file list> | -I <dir>] [-o <out.fa>]"))
}

var reIgnoreCaseStr = "(?i)"
var reIgnoreCase = regexp.MustCompile(`\(\?i\)`)

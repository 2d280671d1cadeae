// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package extool runs the external programs that bshap delegates to:
// methylpy for read alignment, methylation calling and DMR finding, and
// bedtools for genome tiling.
package extool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/bshap/encoding/allc"
	"github.com/grailbio/bshap/encoding/methtable"
)

// maxErrOutput is the number of trailing bytes of a failed process's stderr
// included in the error.
const maxErrOutput = 4096

// run runs bin with args. The process's stdout is copied to stdout if it is
// not nil.
func run(ctx context.Context, bin string, args []string, stdout io.Writer) error {
	log.Printf("running %s %s", bin, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		out := stderr.Bytes()
		if len(out) > maxErrOutput {
			out = out[len(out)-maxErrOutput:]
		}
		return errors.E(err, fmt.Sprintf("%s %s failed: %s", bin, strings.Join(args, " "), strings.TrimSpace(string(out))))
	}
	if stderr.Len() > 0 {
		log.Debug.Printf("%s: %s", bin, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// CallMCOpts defines options of MethylpyCallMC.
type CallMCOpts struct {
	// Methylpy is the methylpy executable.
	Methylpy string
	// InFile is the input FASTQ file.
	InFile string
	// SampleID names the output files, e.g. "allc_<SampleID>.tsv.gz".
	SampleID string
	// RefFolder is the prefix of the methylpy reference indices; the "_f" and
	// "_r" suffixes select the converted forward and reverse references.
	RefFolder string
	// RefFasta is the reference FASTA file.
	RefFasta string
	// NumProcs is the number of methylpy processes.
	NumProcs int
	// UnmethylatedControl names the unmethylated control, e.g. "ChrC:".
	UnmethylatedControl string
	// SortMem is the memory limit of sorting, e.g. "2G".
	SortMem string
	// OutDir is the directory of the output files. Empty means the current
	// directory.
	OutDir string
}

// DefaultCallMCOpts is the default value of CallMCOpts.
var DefaultCallMCOpts = CallMCOpts{
	Methylpy:            "methylpy",
	NumProcs:            2,
	UnmethylatedControl: "ChrC:",
	SortMem:             "2G",
}

// Args returns the methylpy arguments of a single-end methylation calling
// run.
func (o CallMCOpts) Args() ([]string, error) {
	switch {
	case o.InFile == "":
		return nil, errors.E(errors.Invalid, "callmc: input fastq file is required")
	case o.SampleID == "":
		return nil, errors.E(errors.Invalid, "callmc: sample id is required")
	case o.RefFolder == "":
		return nil, errors.E(errors.Invalid, "callmc: reference folder is required")
	case o.RefFasta == "":
		return nil, errors.E(errors.Invalid, "callmc: reference fasta is required")
	case o.NumProcs <= 0:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("callmc: number of processes must be positive, but got %d", o.NumProcs))
	}
	args := []string{
		"single-end-pipeline",
		"--read-files", o.InFile,
		"--sample", o.SampleID,
		"--forward-ref", o.RefFolder + "_f",
		"--reverse-ref", o.RefFolder + "_r",
		"--ref-fasta", o.RefFasta,
		"--num-procs", strconv.Itoa(o.NumProcs),
		"--sort-mem", o.SortMem,
		"--remove-clonal", "True",
		"--binom-test", "True",
	}
	if o.UnmethylatedControl != "" {
		args = append(args, "--unmethylated-control", o.UnmethylatedControl)
	}
	if o.OutDir != "" {
		args = append(args, "--path-to-output", o.OutDir)
	}
	return args, nil
}

// MethylpyCallMC aligns the reads of a FASTQ file and calls methylated
// cytosines with methylpy.
func MethylpyCallMC(ctx context.Context, opts CallMCOpts) error {
	args, err := opts.Args()
	if err != nil {
		return err
	}
	return run(ctx, opts.Methylpy, args, nil)
}

// DMRFindOpts defines options of MethylpyDMRFind.
type DMRFindOpts struct {
	// Methylpy is the methylpy executable.
	Methylpy string
	// SampleIDs lists the samples to compare.
	SampleIDs []string
	// Categories assigns a category to each sample. Empty means that every
	// sample is its own category.
	Categories []string
	// Path is the directory holding the allc files of the samples.
	Path string
	// Context is the methylpy mc-type, e.g. "CGN".
	Context string
	// NumProcs is the number of methylpy processes.
	NumProcs int
	// OutPrefix is the prefix of the output files.
	OutPrefix string
}

// DefaultDMRFindOpts is the default value of DMRFindOpts.
var DefaultDMRFindOpts = DMRFindOpts{
	Methylpy: "methylpy",
	Context:  "CGN",
	NumProcs: 2,
}

// Args returns the methylpy DMRfind arguments. allcFiles lists the allc file
// of each sample, in the order of SampleIDs.
func (o DMRFindOpts) Args(allcFiles []string) ([]string, error) {
	switch {
	case len(o.SampleIDs) < 2:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dmrfind: at least two samples are required, but got %d", len(o.SampleIDs)))
	case len(allcFiles) != len(o.SampleIDs):
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dmrfind: %d allc files for %d samples", len(allcFiles), len(o.SampleIDs)))
	case len(o.Categories) > 0 && len(o.Categories) != len(o.SampleIDs):
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dmrfind: %d categories for %d samples", len(o.Categories), len(o.SampleIDs)))
	case o.OutPrefix == "":
		return nil, errors.E(errors.Invalid, "dmrfind: output prefix is required")
	case o.NumProcs <= 0:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dmrfind: number of processes must be positive, but got %d", o.NumProcs))
	}
	args := []string{"DMRfind", "--allc-files"}
	args = append(args, allcFiles...)
	args = append(args, "--samples")
	args = append(args, o.SampleIDs...)
	if len(o.Categories) > 0 {
		args = append(args, "--sample-category")
		args = append(args, o.Categories...)
	}
	args = append(args,
		"--mc-type", o.Context,
		"--num-procs", strconv.Itoa(o.NumProcs),
		"--output-prefix", o.OutPrefix,
	)
	return args, nil
}

// AllcFiles finds the allc file of each sample in o.Path.
func (o DMRFindOpts) AllcFiles(ctx context.Context) ([]string, error) {
	var files []string
	for _, sample := range o.SampleIDs {
		paths, err := allc.ListSampleFiles(ctx, o.Path, sample)
		if err != nil {
			return nil, err
		}
		if len(paths) != 1 {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("dmrfind: expected one allc file for sample %s in %s, but found %d", sample, o.Path, len(paths)))
		}
		files = append(files, paths[0])
	}
	return files, nil
}

// MethylpyDMRFind finds differentially methylated regions among the samples
// with methylpy.
func MethylpyDMRFind(ctx context.Context, opts DMRFindOpts) error {
	files, err := opts.AllcFiles(ctx)
	if err != nil {
		return err
	}
	args, err := opts.Args(files)
	if err != nil {
		return err
	}
	return run(ctx, opts.Methylpy, args, nil)
}

// BedtoolsWindowsArgs returns the "bedtools makewindows" arguments that tile
// the genome described by genomeFile ("name<TAB>length" lines) into windows
// of size bases whose starts are size-overlap apart.
func BedtoolsWindowsArgs(genomeFile string, size, overlap int64) ([]string, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bedtools: invalid window size %d and overlap %d", size, overlap))
	}
	return []string{
		"makewindows",
		"-g", genomeFile,
		"-w", strconv.FormatInt(size, 10),
		"-s", strconv.FormatInt(size-overlap, 10),
	}, nil
}

type bedRow struct {
	Chr        string
	Start, End int64
}

// ParseWindows parses BED3 lines into windows.
func ParseWindows(in io.Reader) ([]methtable.Window, error) {
	r := tsv.NewReader(in)
	r.Comment = '#'
	var windows []methtable.Window
	for {
		var row bedRow
		if err := r.Read(&row); err != nil {
			if err == io.EOF {
				return windows, nil
			}
			return nil, errors.E(errors.Invalid, "bedtools output", err)
		}
		windows = append(windows, methtable.Window{Chr: row.Chr, Start: row.Start, End: row.End})
	}
}

// BedtoolsWindows tiles a genome into windows with "bedtools makewindows".
// bedtools is the path of the bedtools executable.
func BedtoolsWindows(ctx context.Context, bedtools, genomeFile string, size, overlap int64) ([]methtable.Window, error) {
	args, err := BedtoolsWindowsArgs(genomeFile, size, overlap)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := run(ctx, bedtools, args, &out); err != nil {
		return nil, err
	}
	return ParseWindows(&out)
}

// WriteGenomeFile writes the "name<TAB>length" genome file read by bedtools.
func WriteGenomeFile(out io.Writer, names []string, lengths map[string]int64) error {
	w := tsv.NewWriter(out)
	for _, name := range names {
		w.WriteString(name)
		w.WriteInt64(lengths[name])
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

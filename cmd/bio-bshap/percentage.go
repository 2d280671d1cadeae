// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/bshap/bisulfite"
	"github.com/grailbio/bshap/encoding/methtable"
	"github.com/grailbio/bshap/extool"
	"github.com/grailbio/bshap/interval"
	"github.com/guptarohit/asciigraph"
	"v.io/x/lib/cmdline"
)

type percentageFlags struct {
	input, allcPath, region string
	windowSize, overlap     int64
	method, context         string
	output, bedtoolsPath    string
	plot, verbose           bool
}

func newCmdMethylationPercentage() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "methylation_percentage",
		Short: "Average methylation over genomic windows",
		Long: `
methylation_percentage tiles the region (or the whole genome) into windows and
prints one line per window:

  chr  start  end  num_cytosines  value

start and end are 0-based and half-open, as in BED. value is NaN for windows
without usable cytosines.

Averaging methods:
  1 (weighted_mean)    sum(mc_count) / sum(total)
  2 (called_fraction)  fraction of cytosines called methylated
  3 (mean_ratio)       mean of mc_count/total over cytosines with reads`,
	}
	var f percentageFlags
	cmd.Flags.StringVar(&f.input, "input", "", "Input methylation table directory, allc file, or sample id (see -allc-path)")
	cmd.Flags.StringVar(&f.allcPath, "allc-path", "", `How to read -input:
  "table" (or "hdf5"): -input is a methylation table directory.
  "bed": -input is a single allc file, possibly gzipped.
  otherwise: a directory holding the allc files of sample -input.`)
	cmd.Flags.StringVar(&f.region, "region", "0,0,0", `Region to average, "chr,start,end" or a BED file. "0,0,0" means the whole genome`)
	cmd.Flags.Int64Var(&f.windowSize, "window-size", 200, "Window size")
	cmd.Flags.Int64Var(&f.overlap, "overlap", 0, "Overlap between consecutive windows")
	cmd.Flags.StringVar(&f.method, "method", "1", "Averaging method: 1, 2, 3, or its name")
	cmd.Flags.StringVar(&f.context, "context", "", `Restrict to cytosines of the context, e.g. "CG", "CHH", "C[ATC]G" or "CTA"`)
	cmd.Flags.StringVar(&f.output, "output", "", "Output file. Empty means stdout")
	cmd.Flags.StringVar(&f.bedtoolsPath, "bedtools-path", "", "bedtools executable used to tile the genome. By default windows are computed internally")
	cmd.Flags.BoolVar(&f.plot, "plot", false, "Plot the window averages to stderr")
	cmd.Flags.BoolVar(&f.verbose, "v", false, "Show verbose debugging output")
	cmd.Runner = newRunner(func(ctx context.Context, env *cmdline.Env, argv []string) error {
		initLogging(f.verbose)
		return methylationPercentage(ctx, env, f)
	})
	return cmd
}

// openMethInput opens the methylation data of -input. Allc inputs are
// converted into a temporary table that is removed by cleanup.
func openMethInput(ctx context.Context, input, allcPath string) (t *methtable.Table, cleanup func(), err error) {
	cleanup = func() {}
	var records []methtable.Record
	switch allcPath {
	case "table", "hdf5":
		if err = requireTable(ctx, "input", input); err != nil {
			return nil, cleanup, err
		}
		t, err = methtable.Open(ctx, input, interval.Region{})
		return t, cleanup, err
	case "bed":
		if err = requireFile(ctx, "input", input); err != nil {
			return nil, cleanup, err
		}
		records, err = readAllc(ctx, []string{input})
	default:
		// file.Stat fails on directories, local or remote.
		if _, e := file.Stat(ctx, allcPath); e == nil {
			return nil, cleanup, invalidArgs("-allc-path: %s is neither table, bed, nor a directory", allcPath)
		}
		records, err = readSampleAllc(ctx, allcPath, input)
	}
	if err != nil {
		return nil, cleanup, err
	}
	dir, err := ioutil.TempDir("", "bshap-table")
	if err != nil {
		return nil, cleanup, err
	}
	cleanup = func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Error.Printf("remove %s: %v", dir, err)
		}
	}
	if err = methtable.WriteRecords(ctx, dir, records, methtable.DefaultWriteOpts); err != nil {
		return nil, cleanup, err
	}
	t, err = methtable.Open(ctx, dir, interval.Region{})
	return t, cleanup, err
}

func percentageWindows(ctx context.Context, f percentageFlags, regions []interval.Region, t *methtable.Table) ([]methtable.Window, error) {
	if len(regions) > 0 {
		var windows []methtable.Window
		for _, r := range regions {
			w, err := methtable.TileRegion(r, f.windowSize, f.overlap)
			if err != nil {
				return nil, err
			}
			windows = append(windows, w...)
		}
		return windows, nil
	}
	if f.bedtoolsPath == "" {
		return methtable.Windows(t.Chroms(), f.windowSize, f.overlap)
	}
	dir, err := ioutil.TempDir("", "bshap-genome")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir) // nolint: errcheck
	var (
		names   []string
		lengths = map[string]int64{}
	)
	for _, span := range t.Chroms() {
		names = append(names, span.Name)
		lengths[span.Name] = span.MaxPos
	}
	genomePath := filepath.Join(dir, "genome.txt")
	out, err := os.Create(genomePath)
	if err != nil {
		return nil, err
	}
	if err = extool.WriteGenomeFile(out, names, lengths); err != nil {
		out.Close() // nolint: errcheck
		return nil, err
	}
	if err = out.Close(); err != nil {
		return nil, err
	}
	return extool.BedtoolsWindows(ctx, f.bedtoolsPath, genomePath, f.windowSize, f.overlap)
}

func writeSummaries(out io.Writer, method methtable.Method, summaries []methtable.WindowSummary) error {
	w := tsv.NewWriter(out)
	w.WriteString("chr\tstart\tend\tnum_cytosines\t" + method.String())
	if err := w.EndLine(); err != nil {
		return err
	}
	for _, s := range summaries {
		w.WriteString(s.Chr)
		w.WriteInt64(s.Start)
		w.WriteInt64(s.End)
		w.WriteInt64(int64(s.NumRows))
		w.WriteString(strconv.FormatFloat(s.Value, 'g', 6, 64))
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

func plotSummaries(out io.Writer, method methtable.Method, summaries []methtable.WindowSummary) {
	var values []float64
	for _, s := range summaries {
		if !math.IsNaN(s.Value) {
			values = append(values, s.Value)
		}
	}
	if len(values) == 0 {
		fmt.Fprintln(out, "no windows to plot")
		return
	}
	fmt.Fprintln(out, asciigraph.Plot(values, asciigraph.Height(10), asciigraph.Width(80), asciigraph.Precision(2),
		asciigraph.Caption(fmt.Sprintf("%s over %d windows", method, len(values)))))
}

func methylationPercentage(ctx context.Context, env *cmdline.Env, f percentageFlags) (err error) {
	if err = requireFlag("input", f.input); err != nil {
		return err
	}
	if err = requireFlag("allc-path", f.allcPath); err != nil {
		return err
	}
	method, err := methtable.ParseMethod(f.method)
	if err != nil {
		return invalidArgs("-method: %v", err)
	}
	if f.windowSize <= 0 || f.overlap < 0 || f.overlap >= f.windowSize {
		return invalidArgs("-window-size must be positive and -overlap in [0, window-size), but got %d and %d", f.windowSize, f.overlap)
	}
	var pattern string
	if f.context != "" {
		pattern = bisulfite.ContextPattern(f.context)
		if _, err = regexp.Compile(pattern); err != nil {
			return invalidArgs("-context: %v", err)
		}
	}
	regions, err := parseRegions(ctx, "region", f.region)
	if err != nil {
		return err
	}

	t, cleanup, err := openMethInput(ctx, f.input, f.allcPath)
	defer cleanup()
	if err != nil {
		return err
	}
	defer func() {
		if e := t.Close(); e != nil && err == nil {
			err = e
		}
	}()
	view := t
	if pattern != "" {
		if view, err = t.FilterContext(pattern); err != nil {
			return err
		}
		log.Debug.Printf("context %s: %d of %d cytosines", pattern, view.NumRows(), t.NumRows())
	}
	windows, err := percentageWindows(ctx, f, regions, t)
	if err != nil {
		return err
	}
	summaries, err := methtable.SummarizeWindows(view, windows, method)
	if err != nil {
		return err
	}
	out, closeOut, err := createOutput(ctx, f.output, env.Stdout)
	if err != nil {
		return err
	}
	if err = writeSummaries(out, method, summaries); err != nil {
		closeOut() // nolint: errcheck
		return err
	}
	if err = closeOut(); err != nil {
		return err
	}
	if f.plot {
		plotSummaries(env.Stderr, method, summaries)
	}
	log.Printf("methylation_percentage: %d windows of %d cytosines", len(summaries), view.NumRows())
	return nil
}

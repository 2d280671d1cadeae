// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bshap/bisulfite"
	"github.com/grailbio/bshap/encoding/allc"
	"github.com/grailbio/bshap/encoding/fasta"
	"github.com/grailbio/bshap/encoding/methtable"
	"v.io/x/lib/cmdline"
)

type getMethFlags struct {
	input, ref, region, output string
	rowsPerBlock               int
	minMapQ, minBaseQ          int
	verbose                    bool
	opts                       bisulfite.PileupOpts
}

func newCmdGetMeth() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "getmeth",
		Short: "Call per-cytosine methylation from a bisulfite BAM file",
		Long: `
getmeth piles up the reads of a coordinate-sorted bisulfite BAM file and writes
one record per covered cytosine. The output is a methylation table directory,
or an allc text file if -output ends with ".tsv" or ".tsv.gz".`,
	}
	f := getMethFlags{opts: bisulfite.DefaultPileupOpts}
	cmd.Flags.StringVar(&f.input, "input", "", "Input BAM file, sorted by coordinate")
	cmd.Flags.StringVar(&f.ref, "ref", "", "Reference FASTA file. path.fai is used if it exists")
	cmd.Flags.StringVar(&f.region, "region", "0,0,0", `Region to call, "chr,start,end" or the path of a BED file. "0,0,0" means the whole genome`)
	cmd.Flags.StringVar(&f.output, "output", "", "Output methylation table directory, or allc file")
	cmd.Flags.IntVar(&f.rowsPerBlock, "rows-per-block", methtable.DefaultWriteOpts.RowsPerBlock, "Rows per methylation table block")
	cmd.Flags.IntVar(&f.minMapQ, "min-mapq", int(bisulfite.DefaultPileupOpts.MinMapQ), "Reads with MAPQ below this level are skipped")
	cmd.Flags.IntVar(&f.minBaseQ, "min-baseq", int(bisulfite.DefaultPileupOpts.MinBaseQ), "Bases with quality below this level are skipped")
	cmd.Flags.Int64Var(&f.opts.MinCoverage, "min-coverage", bisulfite.DefaultPileupOpts.MinCoverage, "Cytosines covered by fewer reads are not reported")
	cmd.Flags.BoolVar(&f.opts.IncludeDuplicates, "include-duplicates", false, "Use reads flagged as duplicates")
	cmd.Flags.Float64Var(&f.opts.NonConversionRate, "non-conversion-rate", bisulfite.DefaultPileupOpts.NonConversionRate,
		"Expected fraction of unmethylated cytosines that escape bisulfite conversion")
	cmd.Flags.Float64Var(&f.opts.Alpha, "alpha", bisulfite.DefaultPileupOpts.Alpha, "P-value threshold of the binomial test of a methylated site")
	cmd.Flags.BoolVar(&f.verbose, "v", false, "Show verbose debugging output")
	cmd.Runner = newRunner(func(ctx context.Context, env *cmdline.Env, argv []string) error {
		initLogging(f.verbose)
		return getMeth(ctx, f)
	})
	return cmd
}

func isAllcOutput(path string) bool {
	return strings.HasSuffix(path, ".tsv") || strings.HasSuffix(path, ".tsv.gz")
}

func getMeth(ctx context.Context, f getMethFlags) (err error) {
	if err = requireFile(ctx, "input", f.input); err != nil {
		return err
	}
	if err = requireFile(ctx, "ref", f.ref); err != nil {
		return err
	}
	if err = requireFlag("output", f.output); err != nil {
		return err
	}
	if f.minMapQ < 0 || f.minMapQ > 255 || f.minBaseQ < 0 || f.minBaseQ > 255 {
		return invalidArgs("-min-mapq and -min-baseq must be in [0, 255]")
	}
	regions, err := parseRegions(ctx, "region", f.region)
	if err != nil {
		return err
	}
	f.opts.MinMapQ, f.opts.MinBaseQ = byte(f.minMapQ), byte(f.minBaseQ)

	ref, err := fasta.Open(ctx, f.ref)
	if err != nil {
		return err
	}
	defer func() {
		if e := ref.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()

	var stats bisulfite.PileupStats
	if isAllcOutput(f.output) {
		var records []methtable.Record
		if stats, err = bisulfite.Pileup(ctx, f.input, ref, regions, f.opts, func(r methtable.Record) error {
			records = append(records, r)
			return nil
		}); err != nil {
			return err
		}
		err = allc.WriteFile(ctx, f.output, records, true)
	} else {
		var w *methtable.Writer
		if w, err = methtable.NewWriter(ctx, f.output, methtable.WriteOpts{RowsPerBlock: f.rowsPerBlock}); err != nil {
			return err
		}
		if stats, err = bisulfite.Pileup(ctx, f.input, ref, regions, f.opts, w.Append); err != nil {
			w.Discard()
			return err
		}
		if err = w.Close(); err != nil {
			return err
		}
	}
	log.Printf("getmeth %s: %d reads, %d filtered, %d calls, %d cytosines written to %s",
		f.input, stats.Reads, stats.FilteredReads, stats.Calls, stats.Sites, f.output)
	return err
}

func newCmdGetMHL() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "getmhl",
		Short: "Compute the methylation haplotype load (not supported)",
	}
	var (
		input, ref, data, region, strand, output string
		windowSize                               int
		verbose                                  bool
	)
	cmd.Flags.StringVar(&input, "input", "", "Input BAM file")
	cmd.Flags.StringVar(&ref, "ref", "", "Reference FASTA file")
	cmd.Flags.StringVar(&data, "data", "", "Methylation table directory")
	cmd.Flags.IntVar(&windowSize, "window-size", 80, "Window size")
	cmd.Flags.StringVar(&region, "region", "0,0,0", `Region, "chr,start,end"`)
	cmd.Flags.StringVar(&strand, "strand", "0", `Strand of the reads, "+", "-" or "0" for both`)
	cmd.Flags.StringVar(&output, "output", "STDOUT", "Output file")
	cmd.Flags.BoolVar(&verbose, "v", false, "Show verbose debugging output")
	cmd.Runner = newRunner(func(ctx context.Context, env *cmdline.Env, argv []string) error {
		initLogging(verbose)
		if err := requireFile(ctx, "input", input); err != nil {
			return err
		}
		if err := requireFile(ctx, "ref", ref); err != nil {
			return err
		}
		if err := requireFlag("output", output); err != nil {
			return err
		}
		if data != "" {
			if err := requireTable(ctx, "data", data); err != nil {
				return err
			}
		}
		if windowSize <= 0 {
			return invalidArgs("-window-size must be positive, but got %d", windowSize)
		}
		if strand != "0" && strand != "+" && strand != "-" {
			return invalidArgs("-strand must be one of 0, + or -, but got %q", strand)
		}
		if _, err := parseRegions(ctx, "region", region); err != nil {
			return err
		}
		return errors.E(errors.NotSupported, fmt.Sprintf("getmhl %s: methylation haplotype load is not supported", input))
	})
	return cmd
}

func newCmdModifyMDTag() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "modifymdtag",
		Short: "Rewrite MD tags so that genome browsers do not color bisulfite conversions",
	}
	var (
		input, ref, output string
		verbose            bool
	)
	cmd.Flags.StringVar(&input, "input", "", "Input BAM file of bisulfite reads")
	cmd.Flags.StringVar(&ref, "ref", "", "Reference FASTA file")
	cmd.Flags.StringVar(&output, "output", "", "Output BAM file")
	cmd.Flags.BoolVar(&verbose, "v", false, "Show verbose debugging output")
	cmd.Runner = newRunner(func(ctx context.Context, env *cmdline.Env, argv []string) (err error) {
		initLogging(verbose)
		if err = requireFile(ctx, "input", input); err != nil {
			return err
		}
		if err = requireFile(ctx, "ref", ref); err != nil {
			return err
		}
		if err = requireFlag("output", output); err != nil {
			return err
		}
		fa, err := fasta.Open(ctx, ref)
		if err != nil {
			return err
		}
		defer func() {
			if e := fa.Close(ctx); e != nil && err == nil {
				err = e
			}
		}()
		n, err := bisulfite.RewriteBAM(ctx, input, output, fa)
		if err != nil {
			return err
		}
		log.Printf("modifymdtag: wrote %d reads to %s", n, output)
		return nil
	})
	return cmd
}

// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bshap/bisulfite"
	"github.com/grailbio/bshap/encoding/methtable"
	"github.com/grailbio/bshap/extool"
	"v.io/x/lib/cmdline"
)

func newCmdCallMC() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "callmc",
		Short: "Align a FASTQ file and call methylated cytosines with methylpy",
	}
	opts := extool.DefaultCallMCOpts
	var verbose bool
	cmd.Flags.StringVar(&opts.InFile, "input", "", "Input FASTQ file")
	cmd.Flags.StringVar(&opts.SampleID, "sample", "", "Unique sample id, used to name the allc files")
	cmd.Flags.StringVar(&opts.RefFolder, "ref-folder", "", "Prefix of the methylpy reference indices")
	cmd.Flags.StringVar(&opts.RefFasta, "ref", "", "Reference FASTA file")
	cmd.Flags.IntVar(&opts.NumProcs, "nt", opts.NumProcs, "Number of methylpy processes")
	cmd.Flags.StringVar(&opts.UnmethylatedControl, "unmethylated-control", opts.UnmethylatedControl, "Unmethylated control, e.g. ChrC:")
	cmd.Flags.StringVar(&opts.SortMem, "mem", opts.SortMem, "Memory limit for sorting")
	cmd.Flags.StringVar(&opts.OutDir, "output", "", "Output directory. Empty means the current directory")
	cmd.Flags.StringVar(&opts.Methylpy, "methylpy", opts.Methylpy, "methylpy executable")
	cmd.Flags.BoolVar(&verbose, "v", false, "Show verbose debugging output")
	cmd.Runner = newRunner(func(ctx context.Context, env *cmdline.Env, argv []string) error {
		initLogging(verbose)
		if err := requireFile(ctx, "input", opts.InFile); err != nil {
			return err
		}
		if _, err := opts.Args(); err != nil {
			return invalidArgs("%v", err)
		}
		return extool.MethylpyCallMC(ctx, opts)
	})
	return cmd
}

func newCmdDMRFind() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "dmrfind",
		Short: "Find differentially methylated regions with methylpy",
	}
	opts := extool.DefaultDMRFindOpts
	var (
		samples, categories string
		verbose             bool
	)
	cmd.Flags.StringVar(&samples, "samples", "", "Comma-separated sample ids")
	cmd.Flags.StringVar(&categories, "categories", "0", `Comma-separated sample categories indicating replicates. "0" means one category per sample`)
	cmd.Flags.StringVar(&opts.Path, "path", "", "Directory of the allc files")
	cmd.Flags.StringVar(&opts.Context, "context", opts.Context, "Methylation context, e.g. CGN")
	cmd.Flags.IntVar(&opts.NumProcs, "nt", opts.NumProcs, "Number of methylpy processes")
	cmd.Flags.StringVar(&opts.OutPrefix, "output", "", "Output prefix of the DMR files")
	cmd.Flags.StringVar(&opts.Methylpy, "methylpy", opts.Methylpy, "methylpy executable")
	cmd.Flags.BoolVar(&verbose, "v", false, "Show verbose debugging output")
	cmd.Runner = newRunner(func(ctx context.Context, env *cmdline.Env, argv []string) error {
		initLogging(verbose)
		if err := requireFlag("samples", samples); err != nil {
			return err
		}
		if err := requireFlag("path", opts.Path); err != nil {
			return err
		}
		opts.SampleIDs = strings.Split(samples, ",")
		if categories != "" && categories != "0" {
			opts.Categories = strings.Split(categories, ",")
		}
		placeholders := make([]string, len(opts.SampleIDs))
		if _, err := opts.Args(placeholders); err != nil {
			return invalidArgs("%v", err)
		}
		return extool.MethylpyDMRFind(ctx, opts)
	})
	return cmd
}

func newCmdCallLowFreq() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "callLowFreq",
		Short: "Flag low-frequency methylated cytosines in allc files",
		Long: `
callLowFreq reads the allc files of a sample, estimates the bisulfite
non-conversion rate from the unmethylated control, and flags the cytosines that
are not called methylated but whose methylated read count is unlikely under the
non-conversion rate. The result is a methylation table with a lowfreq column.`,
	}
	var (
		sample, path, control, output string
		threshold                     float64
		verbose                       bool
	)
	cmd.Flags.StringVar(&sample, "sample", "", "Sample id of the allc files")
	cmd.Flags.StringVar(&path, "path", "", "Directory of the allc files")
	cmd.Flags.StringVar(&control, "unmethylated-control", "ChrC", "Unmethylated control chromosome")
	cmd.Flags.Float64Var(&threshold, "pvalue", 0.05, "P-value threshold of a low-frequency site")
	cmd.Flags.StringVar(&output, "output", "", "Output methylation table directory")
	cmd.Flags.BoolVar(&verbose, "v", false, "Show verbose debugging output")
	cmd.Runner = newRunner(func(ctx context.Context, env *cmdline.Env, argv []string) error {
		initLogging(verbose)
		if err := requireFlag("sample", sample); err != nil {
			return err
		}
		if err := requireFlag("path", path); err != nil {
			return err
		}
		if err := requireFlag("output", output); err != nil {
			return err
		}
		if threshold <= 0 || threshold > 1 {
			return invalidArgs("-pvalue must be in (0, 1], but got %g", threshold)
		}
		records, err := readSampleAllc(ctx, path, sample)
		if err != nil {
			return err
		}
		rate, err := bisulfite.NonConversionRate(records, control)
		if err != nil {
			return err
		}
		n := bisulfite.CallLowFreq(records, rate, threshold)
		opts := methtable.DefaultWriteOpts
		opts.LowFreq = true
		if err := methtable.WriteRecords(ctx, output, records, opts); err != nil {
			return err
		}
		log.Printf("callLowFreq %s: %d of %d cytosines are low frequency (non-conversion rate %g)", sample, n, len(records), rate)
		return nil
	})
	return cmd
}

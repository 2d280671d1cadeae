// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bshap/bisulfite"
	"github.com/grailbio/bshap/encoding/allc"
	"github.com/grailbio/bshap/encoding/methtable"
	"github.com/grailbio/bshap/interval"
	"v.io/x/lib/cmdline"
)

func newCmdConvert() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "convert",
		Short: "Convert allc files into a methylation table",
	}
	var (
		input, sample, output string
		rowsPerBlock          int
		verbose               bool
	)
	cmd.Flags.StringVar(&input, "input", "", "Input allc file, or a directory of allc files (see -sample)")
	cmd.Flags.StringVar(&sample, "sample", "", "If -input is a directory, the sample whose allc files are converted")
	cmd.Flags.StringVar(&output, "output", "", "Output methylation table directory")
	cmd.Flags.IntVar(&rowsPerBlock, "rows-per-block", methtable.DefaultWriteOpts.RowsPerBlock, "Rows per methylation table block")
	cmd.Flags.BoolVar(&verbose, "v", false, "Show verbose debugging output")
	cmd.Runner = newRunner(func(ctx context.Context, env *cmdline.Env, argv []string) error {
		initLogging(verbose)
		if err := requireFlag("input", input); err != nil {
			return err
		}
		if err := requireFlag("output", output); err != nil {
			return err
		}
		if rowsPerBlock <= 0 {
			return invalidArgs("-rows-per-block must be positive, but got %d", rowsPerBlock)
		}
		var (
			records []methtable.Record
			err     error
		)
		if _, e := file.Stat(ctx, input); e == nil {
			records, err = readAllc(ctx, []string{input})
		} else {
			records, err = readSampleAllc(ctx, input, sample)
		}
		if err != nil {
			return err
		}
		if err = methtable.WriteRecords(ctx, output, records, methtable.WriteOpts{RowsPerBlock: rowsPerBlock}); err != nil {
			return err
		}
		log.Printf("convert: wrote %d cytosines to %s", len(records), output)
		return nil
	})
	return cmd
}

func newCmdView() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "view",
		Short: "Print the rows of a methylation table in allc format",
	}
	var (
		input, region, mcContext, output string
		header, verbose                  bool
	)
	cmd.Flags.StringVar(&input, "input", "", "Input methylation table directory")
	cmd.Flags.StringVar(&region, "region", "0,0,0", `Region to print, "chr,start,end" or a BED file`)
	cmd.Flags.StringVar(&mcContext, "context", "", `Print only the cytosines of the context, e.g. "CG" or "C[ATC]G"`)
	cmd.Flags.StringVar(&output, "output", "", `Output allc file, gzipped if it ends with ".gz". Empty means stdout`)
	cmd.Flags.BoolVar(&header, "header", false, "Print the allc header line")
	cmd.Flags.BoolVar(&verbose, "v", false, "Show verbose debugging output")
	cmd.Runner = newRunner(func(ctx context.Context, env *cmdline.Env, argv []string) error {
		initLogging(verbose)
		if err := requireTable(ctx, "input", input); err != nil {
			return err
		}
		regions, err := parseRegions(ctx, "region", region)
		if err != nil {
			return err
		}
		records, err := viewRecords(ctx, input, regions, mcContext)
		if err != nil {
			return err
		}
		if output != "" {
			return allc.WriteFile(ctx, output, records, header)
		}
		w, err := allc.NewWriter(env.Stdout, header)
		if err != nil {
			return err
		}
		for _, r := range records {
			if err := w.Write(r); err != nil {
				return err
			}
		}
		return w.Flush()
	})
	return cmd
}

func viewRecords(ctx context.Context, dir string, regions []interval.Region, mcContext string) (records []methtable.Record, err error) {
	t, err := methtable.Open(ctx, dir, interval.Region{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := t.Close(); e != nil && err == nil {
			err = e
		}
	}()
	view := t
	if mcContext != "" {
		if view, err = t.FilterContext(bisulfite.ContextPattern(mcContext)); err != nil {
			return nil, invalidArgs("-context: %v", err)
		}
	}
	if len(regions) == 0 {
		return view.Records()
	}
	for _, r := range regions {
		sub, err := view.Filter(r)
		if err != nil {
			return nil, err
		}
		rs, err := sub.Records()
		if err != nil {
			return nil, err
		}
		records = append(records, rs...)
	}
	return records, nil
}

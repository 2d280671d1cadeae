// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bshap/encoding/allc"
	"github.com/grailbio/bshap/encoding/methtable"
	"github.com/grailbio/bshap/interval"
	"v.io/x/lib/cmdline"
)

// Exit codes.
const (
	exitInvalidArgs = 1
	exitFailure     = 2
)

// validationError reports a bad command line. It is detected before any work
// is done.
type validationError struct {
	msg string
}

func (e validationError) Error() string { return e.msg }

func invalidArgs(format string, args ...interface{}) error {
	return validationError{fmt.Sprintf(format, args...)}
}

// exitStatus maps the error of a subcommand to its exit code.
func exitStatus(env *cmdline.Env, err error) error {
	if err == nil {
		return nil
	}
	if ve, ok := err.(validationError); ok {
		fmt.Fprintf(env.Stderr, "Error: %s\n", ve.msg)
		return cmdline.ErrExitCode(exitInvalidArgs)
	}
	log.Error.Printf("%v", err)
	return cmdline.ErrExitCode(exitFailure)
}

func newRunner(fn func(ctx context.Context, env *cmdline.Env, argv []string) error) cmdline.Runner {
	return cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		return exitStatus(env, fn(vcontext.Background(), env, argv))
	})
}

// initLogging sets the log level of a subcommand.
func initLogging(verbose bool) {
	if verbose {
		log.SetLevel(log.Debug)
	} else {
		log.SetLevel(log.Error)
	}
}

// requireFile checks that the flag is set to an existing file.
func requireFile(ctx context.Context, flag, path string) error {
	if path == "" {
		return invalidArgs("-%s not specified", flag)
	}
	if _, err := file.Stat(ctx, path); err != nil {
		return invalidArgs("-%s: file does not exist: %s", flag, path)
	}
	return nil
}

func requireFlag(flag, value string) error {
	if value == "" {
		return invalidArgs("-%s not specified", flag)
	}
	return nil
}

// requireTable checks that dir holds a methylation table.
func requireTable(ctx context.Context, flag, dir string) error {
	if dir == "" {
		return invalidArgs("-%s not specified", flag)
	}
	if _, err := file.Stat(ctx, methtable.IndexPath(dir)); err != nil {
		return invalidArgs("-%s: not a methylation table: %s", flag, dir)
	}
	return nil
}

// parseRegions parses a region argument, either "chr,start,end" or the path
// of a BED file. An empty result means the whole genome.
func parseRegions(ctx context.Context, flag, arg string) ([]interval.Region, error) {
	if interval.IsFile(ctx, arg) {
		regions, err := interval.ReadBED(ctx, arg)
		if err != nil {
			return nil, invalidArgs("-%s: %v", flag, err)
		}
		return regions, nil
	}
	region, err := interval.ParseRegion(arg)
	if err != nil {
		return nil, invalidArgs("-%s: %v", flag, err)
	}
	if region.Empty() {
		return nil, nil
	}
	return []interval.Region{region}, nil
}

// sortRecords orders the records by chromosome, in the order of first
// appearance, then by position.
func sortRecords(records []methtable.Record) {
	rank := map[string]int{}
	for _, r := range records {
		if _, ok := rank[r.Chr]; !ok {
			rank[r.Chr] = len(rank)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		if ri, rj := rank[records[i].Chr], rank[records[j].Chr]; ri != rj {
			return ri < rj
		}
		return records[i].Pos < records[j].Pos
	})
}

// readAllc reads allc files into records sorted in table order.
func readAllc(ctx context.Context, paths []string) ([]methtable.Record, error) {
	var records []methtable.Record
	for _, path := range paths {
		log.Debug.Printf("reading %s", path)
		if err := allc.Scan(ctx, path, func(r methtable.Record) error {
			records = append(records, r)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	sortRecords(records)
	log.Printf("read %d cytosines from %d allc files", len(records), len(paths))
	return records, nil
}

// readSampleAllc reads the allc files of the sample in dir.
func readSampleAllc(ctx context.Context, dir, sample string) ([]methtable.Record, error) {
	paths, err := allc.ListSampleFiles(ctx, dir, sample)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, invalidArgs("no allc files for sample %s in %s", sample, dir)
	}
	return readAllc(ctx, paths)
}

// createOutput opens the output file, or wraps stdout if path is empty or
// "STDOUT".
func createOutput(ctx context.Context, path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "STDOUT" {
		return stdout, func() error { return nil }, nil
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return out.Writer(ctx), func() error { return out.Close(ctx) }, nil
}

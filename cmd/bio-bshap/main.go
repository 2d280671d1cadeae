// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

/*
bio-bshap computes DNA methylation statistics from bisulfite sequencing data.

Per-cytosine methylation calls are stored in methylation tables: columnar
directories written by "getmeth" (from a BAM file), "convert" (from methylpy
allc files) or "callLowFreq". "methylation_percentage" summarizes a table
over genomic windows.

Exit status is 0 on success, 1 if the command line is invalid, and 2 on any
other error. Paths may be local files or "s3://" URLs.
*/

import (
	"os"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"v.io/x/lib/cmdline"
)

// registerS3 lets every path flag accept "s3://bucket/key" URLs.
func registerS3() {
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func newCmdRoot() *cmdline.Command {
	return &cmdline.Command{
		Name:     "bio-bshap",
		Short:    "Tools for bisulfite sequencing methylation data",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdGetMeth(),
			newCmdGetMHL(),
			newCmdMethylationPercentage(),
			newCmdModifyMDTag(),
			newCmdCallMC(),
			newCmdDMRFind(),
			newCmdCallLowFreq(),
			newCmdConvert(),
			newCmdView(),
			newCmdChecksum(),
		},
	}
}

func main() {
	shutdown := grail.Init()
	registerS3()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	env := cmdline.EnvFromOS()
	code := cmdline.ExitCode(cmdline.ParseAndRun(newCmdRoot(), env, os.Args[1:]), env.Stderr)
	shutdown()
	os.Exit(code)
}

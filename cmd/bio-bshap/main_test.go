// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bshap/encoding/methtable"
	"github.com/grailbio/bshap/interval"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
	"v.io/x/lib/cmdline"
)

const (
	testChr1Allc = "chr1\t5\t+\tCGT\t2\t4\t0\n" +
		"chr1\t15\t+\tCGA\t4\t4\t1\n" +
		"chr1\t25\t-\tCTT\t0\t2\t0\n" +
		"chr1\t30\t+\tCGG\t3\t6\t1\n"
	testControlAllc = "ChrC\t3\t+\tCTA\t1\t100\t0\n" +
		"ChrC\t10\t+\tCTA\t0\t100\t0\n"
)

func runCmd(t *testing.T, args ...string) (stdout, stderr string, err error) {
	var out, errOut bytes.Buffer
	env := &cmdline.Env{Stdout: &out, Stderr: &errOut, Vars: map[string]string{}}
	err = cmdline.ParseAndRun(newCmdRoot(), env, args)
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, path, data string) {
	assert.NoError(t, ioutil.WriteFile(path, []byte(data), 0644))
}

// setup writes the allc files of sample s1 and converts them into a table.
func setup(t *testing.T, tempDir string) (allcDir, tableDir string) {
	allcDir = filepath.Join(tempDir, "allc")
	assert.NoError(t, os.MkdirAll(allcDir, 0755))
	writeFile(t, filepath.Join(allcDir, "allc_s1_chr1.tsv"), testChr1Allc)
	writeFile(t, filepath.Join(allcDir, "allc_s1_ChrC.tsv"), testControlAllc)
	writeFile(t, filepath.Join(allcDir, "allc_s10_chr1.tsv"), "chr9\t1\t+\tCGT\t1\t1\t1\n")
	tableDir = filepath.Join(tempDir, "table")
	_, _, err := runCmd(t, "convert", "-input", allcDir, "-sample", "s1", "-output", tableDir)
	assert.NoError(t, err)
	return allcDir, tableDir
}

func TestInvalidArgs(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	allcDir, tableDir := setup(t, tempDir)

	for _, args := range [][]string{
		{"getmeth", "-output", filepath.Join(tempDir, "out")},
		{"getmeth", "-input", filepath.Join(tempDir, "nonexistent.bam")},
		{"methylation_percentage", "-allc-path", "table"},
		{"methylation_percentage", "-input", tableDir, "-allc-path", "table", "-method", "4"},
		{"methylation_percentage", "-input", tableDir, "-allc-path", "table", "-window-size", "10", "-overlap", "10"},
		{"methylation_percentage", "-input", tableDir, "-allc-path", "table", "-region", "chr1,10"},
		{"methylation_percentage", "-input", "s1", "-allc-path", filepath.Join(tempDir, "nonexistent")},
		{"methylation_percentage", "-input", "s1", "-allc-path", filepath.Join(allcDir, "allc_s1_chr1.tsv")},
		{"convert", "-input", filepath.Join(tempDir, "nonexistent"), "-sample", "s1", "-output", filepath.Join(tempDir, "t")},
		{"view", "-input", tempDir},
		{"callLowFreq", "-sample", "s1", "-path", tempDir, "-output", filepath.Join(tempDir, "lf"), "-pvalue", "0"},
		{"dmrfind", "-path", tempDir},
		{"checksum", filepath.Join(tempDir, "allc")},
	} {
		_, stderr, err := runCmd(t, args...)
		expect.EQ(t, err, cmdline.ErrExitCode(exitInvalidArgs), "args: %v", args)
		expect.True(t, strings.HasPrefix(stderr, "Error: "), "args: %v, stderr: %s", args, stderr)
	}
}

func TestGetMHLNotSupported(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	bamPath := filepath.Join(tempDir, "in.bam")
	refPath := filepath.Join(tempDir, "ref.fa")
	writeFile(t, bamPath, "")
	writeFile(t, refPath, ">chr1\nACGT\n")

	_, _, err := runCmd(t, "getmhl", "-input", bamPath, "-ref", refPath)
	expect.EQ(t, err, cmdline.ErrExitCode(exitFailure))
	_, _, err = runCmd(t, "getmhl", "-input", bamPath, "-ref", refPath, "-strand", "x")
	expect.EQ(t, err, cmdline.ErrExitCode(exitInvalidArgs))
}

func TestConvertAndView(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	_, tableDir := setup(t, tempDir)

	stdout, _, err := runCmd(t, "view", "-input", tableDir, "-region", "chr1,0,31")
	assert.NoError(t, err)
	expect.EQ(t, stdout, testChr1Allc)

	stdout, _, err = runCmd(t, "view", "-input", tableDir, "-context", "CG", "-header")
	assert.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 4)
	expect.EQ(t, lines[0], "chr\tpos\tstrand\tmc_class\tmc_count\ttotal\tmethylated")
	expect.EQ(t, lines[1], "chr1\t5\t+\tCGT\t2\t4\t0")

	outPath := filepath.Join(tempDir, "view.tsv.gz")
	_, _, err = runCmd(t, "view", "-input", tableDir, "-region", "ChrC,0,100", "-output", outPath)
	assert.NoError(t, err)
	records, err := readAllc(vcontext.Background(), []string{outPath})
	assert.NoError(t, err)
	expect.EQ(t, len(records), 2)
	expect.EQ(t, records[1].Total, int64(100))
}

func TestMethylationPercentage(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	allcDir, tableDir := setup(t, tempDir)

	want := "chr\tstart\tend\tnum_cytosines\tweighted_mean\n" +
		"chr1\t0\t10\t1\t0.5\n" +
		"chr1\t10\t20\t1\t1\n" +
		"chr1\t20\t30\t2\t0.375\n"
	stdout, _, err := runCmd(t, "methylation_percentage", "-input", tableDir, "-allc-path", "table",
		"-region", "chr1,0,31", "-window-size", "10")
	assert.NoError(t, err)
	expect.EQ(t, stdout, want)

	// The same data read from the allc files of the sample.
	stdout, _, err = runCmd(t, "methylation_percentage", "-input", "s1", "-allc-path", allcDir,
		"-region", "chr1,0,31", "-window-size", "10")
	assert.NoError(t, err)
	expect.EQ(t, stdout, want)

	outPath := filepath.Join(tempDir, "called.tsv")
	_, _, err = runCmd(t, "methylation_percentage", "-input", tableDir, "-allc-path", "hdf5",
		"-region", "chr1,0,31", "-window-size", "10", "-method", "2", "-context", "CG", "-output", outPath)
	assert.NoError(t, err)
	data, err := ioutil.ReadFile(outPath)
	assert.NoError(t, err)
	expect.EQ(t, string(data), "chr\tstart\tend\tnum_cytosines\tcalled_fraction\n"+
		"chr1\t0\t10\t1\t0\n"+
		"chr1\t10\t20\t1\t1\n"+
		"chr1\t20\t30\t1\t1\n")

	// Whole genome: windows run from 1 to the largest position of each chromosome.
	stdout, _, err = runCmd(t, "methylation_percentage", "-input", tableDir, "-allc-path", "table",
		"-window-size", "20", "-method", "mean_ratio")
	assert.NoError(t, err)
	expect.EQ(t, stdout, "chr\tstart\tend\tnum_cytosines\tmean_ratio\n"+
		"ChrC\t0\t10\t2\t0.005\n"+
		"chr1\t0\t20\t2\t0.75\n"+
		"chr1\t20\t30\t2\t0.25\n")
}

func TestChecksum(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	allcDir, tableDir := setup(t, tempDir)

	stdout, _, err := runCmd(t, "checksum", tableDir)
	assert.NoError(t, err)
	var csum tableChecksum
	require.NoError(t, json.Unmarshal([]byte(stdout), &csum))
	require.Len(t, csum.Chroms, 2)
	expect.EQ(t, csum.Chroms[0].Name, "ChrC")
	expect.EQ(t, csum.Chroms[0].NRows, int64(2))
	expect.EQ(t, csum.Chroms[1].Name, "chr1")
	expect.EQ(t, csum.Chroms[1].NRows, int64(4))
	expect.EQ(t, csum.Chroms[1].SumPos, uint64(5+15+25+30))
	expect.EQ(t, csum.Chroms[1].SumLowFreq, uint64(0))

	// The block layout does not change the checksum.
	smallBlocks := filepath.Join(tempDir, "small")
	_, _, err = runCmd(t, "convert", "-input", allcDir, "-sample", "s1", "-output", smallBlocks, "-rows-per-block", "1")
	assert.NoError(t, err)
	stdout2, _, err := runCmd(t, "checksum", smallBlocks)
	assert.NoError(t, err)
	expect.EQ(t, stdout2, stdout)
}

func TestCallLowFreq(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	allcDir, _ := setup(t, tempDir)

	outDir := filepath.Join(tempDir, "lowfreq")
	_, _, err := runCmd(t, "callLowFreq", "-sample", "s1", "-path", allcDir, "-unmethylated-control", "ChrC:", "-output", outDir)
	assert.NoError(t, err)

	ctx := vcontext.Background()
	records, err := methtable.ReadAll(ctx, outDir, interval.Region{})
	assert.NoError(t, err)
	require.Len(t, records, 6)
	var lowFreq []int64
	for _, r := range records {
		if r.LowFreq {
			lowFreq = append(lowFreq, r.Pos)
		}
	}
	// Non-conversion rate is 1/200. Only chr1:5 (2 of 4 reads, unmethylated)
	// is unlikely under it.
	expect.EQ(t, lowFreq, []int64{5})

	_, _, err = runCmd(t, "callLowFreq", "-sample", "s1", "-path", allcDir, "-unmethylated-control", "chrM", "-output", filepath.Join(tempDir, "lf2"))
	expect.EQ(t, err, cmdline.ErrExitCode(exitFailure))
}

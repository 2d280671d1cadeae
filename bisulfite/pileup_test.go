// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bisulfite_test

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bshap/bisulfite"
	"github.com/grailbio/bshap/encoding/fasta"
	"github.com/grailbio/bshap/encoding/methtable"
	"github.com/grailbio/bshap/interval"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

var testHeader, _ = sam.NewHeader(nil, []*sam.Reference{chr1})

func testFasta(t testing.TB) fasta.Fasta {
	fa, err := fasta.New(strings.NewReader(">chr1 test\n" + testRef[:6] + "\n" + testRef[6:] + "\n"))
	require.NoError(t, err)
	return fa
}

func writeBAM(t testing.TB, path string, reads []testRead) {
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := bam.NewWriter(f, testHeader, 1)
	require.NoError(t, err)
	for _, r := range reads {
		require.NoError(t, w.Write(newRecord(t, r)))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

// writeIndex writes the BAM index of path to path.bai.
func writeIndex(t testing.TB, path string) {
	in, err := os.Open(path)
	require.NoError(t, err)
	defer in.Close() // nolint: errcheck
	br, err := bam.NewReader(in, 1)
	require.NoError(t, err)
	var idx bam.Index
	for {
		rec, err := br.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.NoError(t, idx.Add(rec, br.LastChunk()))
	}
	require.NoError(t, br.Close())
	out, err := os.Create(path + ".bai")
	require.NoError(t, err)
	require.NoError(t, bam.WriteIndex(out, &idx))
	require.NoError(t, out.Close())
}

var pileupReads = []testRead{
	{name: "r1", pos: 0, cigar: "12M", seq: "ATGTCCGATTAG"},
	{name: "r2", pos: 0, cigar: "12M", seq: "ACGTTCGATCAG"},
	{name: "r3", pos: 0, cigar: "12M", seq: "ACATCCAATCAA", flags: sam.Reverse},
	{name: "dup", pos: 0, cigar: "12M", seq: "ACGTCCGACCAG", flags: sam.Duplicate},
	{name: "lowmapq", pos: 0, cigar: "12M", seq: "ACGTCCGACCAG", mapQ: 5},
}

var pileupRecords = []methtable.Record{
	{Chr: "chr1", Pos: 2, Strand: '+', MCClass: "CGT", MCCount: 1, Total: 2},
	{Chr: "chr1", Pos: 3, Strand: '-', MCClass: "CGT", MCCount: 0, Total: 1},
	{Chr: "chr1", Pos: 5, Strand: '+', MCClass: "CCG", MCCount: 1, Total: 2},
	{Chr: "chr1", Pos: 6, Strand: '+', MCClass: "CGA", MCCount: 2, Total: 2, Methylated: true},
	{Chr: "chr1", Pos: 7, Strand: '-', MCClass: "CGG", MCCount: 0, Total: 1},
	{Chr: "chr1", Pos: 10, Strand: '+', MCClass: "CAG", MCCount: 1, Total: 2},
	{Chr: "chr1", Pos: 12, Strand: '-', MCClass: "CTG", MCCount: 0, Total: 1},
}

func testPileupOpts() bisulfite.PileupOpts {
	opts := bisulfite.DefaultPileupOpts
	opts.NonConversionRate = 0.1
	opts.Alpha = 0.05
	return opts
}

func runPileup(t *testing.T, bamPath string, regions []interval.Region, opts bisulfite.PileupOpts) ([]methtable.Record, bisulfite.PileupStats, error) {
	var records []methtable.Record
	stats, err := bisulfite.Pileup(vcontext.Background(), bamPath, testFasta(t), regions, opts,
		func(r methtable.Record) error {
			records = append(records, r)
			return nil
		})
	return records, stats, err
}

func TestPileup(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	bamPath := filepath.Join(tempDir, "test.bam")
	writeBAM(t, bamPath, pileupReads)

	records, stats, err := runPileup(t, bamPath, nil, testPileupOpts())
	assert.NoError(t, err)
	expect.EQ(t, records, pileupRecords)
	expect.EQ(t, stats, bisulfite.PileupStats{Reads: 5, FilteredReads: 2, Calls: 11, Sites: 7})

	opts := testPileupOpts()
	opts.MinCoverage = 2
	records, _, err = runPileup(t, bamPath, nil, opts)
	assert.NoError(t, err)
	expect.EQ(t, len(records), 4)

	opts = testPileupOpts()
	opts.IncludeDuplicates = true
	records, _, err = runPileup(t, bamPath, nil, opts)
	assert.NoError(t, err)
	expect.EQ(t, records[0].Total, int64(3))
}

func TestPileupRegions(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	bamPath := filepath.Join(tempDir, "test.bam")
	writeBAM(t, bamPath, pileupReads)

	regions := []interval.Region{
		{Chr: "chr1", Start: 6, End: 10},
		{Chr: "chrX", Start: 0, End: 100},
		{Chr: "chr1", Start: 4, End: 7},
	}
	check := func() {
		records, _, err := runPileup(t, bamPath, regions, testPileupOpts())
		assert.NoError(t, err)
		expect.EQ(t, records, pileupRecords[2:5])

		records, _, err = runPileup(t, bamPath, []interval.Region{{Chr: "chrX", Start: 0, End: 100}}, testPileupOpts())
		assert.NoError(t, err)
		expect.EQ(t, len(records), 0)
	}
	// Without an index, the whole file is scanned.
	check()
	writeIndex(t, bamPath)
	check()
}

func TestPileupUnsorted(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	bamPath := filepath.Join(tempDir, "test.bam")
	writeBAM(t, bamPath, []testRead{
		{name: "r1", pos: 4, cigar: "4M", seq: "CCGA"},
		{name: "r2", pos: 0, cigar: "4M", seq: "ACGT"},
	})
	_, _, err := runPileup(t, bamPath, nil, testPileupOpts())
	expect.True(t, errors.Is(errors.Invalid, err), err)

	_, _, err = runPileup(t, filepath.Join(tempDir, "nonexistent.bam"), nil, testPileupOpts())
	expect.True(t, err != nil)
}

func TestRewriteBAM(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	inPath := filepath.Join(tempDir, "in.bam")
	outPath := filepath.Join(tempDir, "out.bam")
	writeBAM(t, inPath, []testRead{
		{name: "r1", pos: 0, cigar: "12M", seq: "ATGTCCGATTAG", aux: []sam.Aux{auxTag(t, "MD", "1C7C2")}},
		{name: "r2", pos: 0, cigar: "12M", seq: "ACGTCCGTTCAG"},
		{name: "u", pos: -1, cigar: "", seq: "ACGT", flags: sam.Unmapped},
	})
	n, err := bisulfite.RewriteBAM(vcontext.Background(), inPath, outPath, testFasta(t))
	assert.NoError(t, err)
	expect.EQ(t, n, int64(3))

	in, err := os.Open(outPath)
	require.NoError(t, err)
	defer in.Close() // nolint: errcheck
	br, err := bam.NewReader(in, 1)
	require.NoError(t, err)
	var md []interface{}
	for {
		rec, err := br.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if aux := rec.AuxFields.Get(sam.NewTag("MD")); aux != nil {
			md = append(md, aux.Value())
		} else {
			md = append(md, nil)
		}
	}
	expect.EQ(t, md, []interface{}{"12", "7A4", nil})
}

func TestPileupReadWithoutSeq(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	bamPath := filepath.Join(tempDir, "test.bam")
	reads := append([]testRead{{name: "noseq", pos: 0, cigar: "12M", aux: []sam.Aux{auxTag(t, "MD", "12")}}}, pileupReads...)
	writeBAM(t, bamPath, reads)

	records, stats, err := runPileup(t, bamPath, nil, testPileupOpts())
	assert.NoError(t, err)
	expect.EQ(t, records, pileupRecords)
	expect.EQ(t, stats, bisulfite.PileupStats{Reads: 6, FilteredReads: 2, Calls: 11, Sites: 7})

	outPath := filepath.Join(tempDir, "out.bam")
	n, err := bisulfite.RewriteBAM(vcontext.Background(), bamPath, outPath, testFasta(t))
	assert.NoError(t, err)
	expect.EQ(t, n, int64(6))
	in, err := os.Open(outPath)
	require.NoError(t, err)
	defer in.Close() // nolint: errcheck
	br, err := bam.NewReader(in, 1)
	require.NoError(t, err)
	rec, err := br.Read()
	require.NoError(t, err)
	expect.EQ(t, rec.Name, "noseq")
	expect.EQ(t, rec.Seq.Length, 0)
	expect.EQ(t, rec.AuxFields.Get(sam.NewTag("MD")).Value(), "12")
}

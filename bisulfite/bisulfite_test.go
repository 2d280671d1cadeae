// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bisulfite_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bshap/bisulfite"
	"github.com/grailbio/bshap/encoding/methtable"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

// 0-based positions:  0123456789AB
const testRef = "ACGTCCGATCAG"

var chr1, _ = sam.NewReference("chr1", "", "", len(testRef), nil, nil)

type testRead struct {
	name  string
	pos   int
	cigar string
	seq   string
	flags sam.Flags
	mapQ  byte
	aux   []sam.Aux
}

func newRecord(t testing.TB, r testRead) *sam.Record {
	cigar, err := sam.ParseCigar([]byte(r.cigar))
	require.NoError(t, err)
	mapQ := r.mapQ
	if mapQ == 0 {
		mapQ = 60
	}
	rec, err := sam.NewRecord(r.name, chr1, nil, r.pos, -1, 0, mapQ, cigar,
		[]byte(r.seq), bytes.Repeat([]byte{30}, len(r.seq)), r.aux)
	require.NoError(t, err)
	rec.Flags = r.flags
	return rec
}

func auxTag(t testing.TB, tag, value string) sam.Aux {
	aux, err := sam.NewAux(sam.NewTag(tag), value)
	require.NoError(t, err)
	return aux
}

func TestContext(t *testing.T) {
	for _, test := range []struct {
		pos     int
		strand  bisulfite.Strand
		context string
		ok      bool
	}{
		{1, bisulfite.Top, "CGT", true},
		{4, bisulfite.Top, "CCG", true},
		{9, bisulfite.Top, "CAG", true},
		{2, bisulfite.Bottom, "CGT", true},
		{6, bisulfite.Bottom, "CGG", true},
		{11, bisulfite.Bottom, "CTG", true},
		{0, bisulfite.Top, "", false},
		{1, bisulfite.Bottom, "", false},
		{12, bisulfite.Top, "", false},
		{-1, bisulfite.Top, "", false},
	} {
		context, ok := bisulfite.Context(testRef, test.pos, test.strand)
		expect.EQ(t, ok, test.ok, test)
		expect.EQ(t, context, test.context, test)
	}
	// Bases past the ends of the reference.
	context, ok := bisulfite.Context("AC", 1, bisulfite.Top)
	expect.True(t, ok)
	expect.EQ(t, context, "CNN")
	context, ok = bisulfite.Context("gA", 0, bisulfite.Bottom)
	expect.True(t, ok)
	expect.EQ(t, context, "CNN")
}

func TestContextClass(t *testing.T) {
	expect.EQ(t, bisulfite.ContextClass("CGA"), "CG")
	expect.EQ(t, bisulfite.ContextClass("CGN"), "CG")
	expect.EQ(t, bisulfite.ContextClass("CAG"), "CHG")
	expect.EQ(t, bisulfite.ContextClass("CTT"), "CHH")
	expect.EQ(t, bisulfite.ContextClass("CNN"), "")
	expect.EQ(t, bisulfite.ContextClass("AGT"), "")

	expect.EQ(t, bisulfite.ContextPattern("CG"), "CG.")
	expect.EQ(t, bisulfite.ContextPattern("CHG"), "C[ACT]G")
	expect.EQ(t, bisulfite.ContextPattern("CHH"), "C[ACT][ACT]")
	expect.EQ(t, bisulfite.ContextPattern("C[ATC]G"), "C[ATC]G")
}

func TestConversionStrand(t *testing.T) {
	for _, test := range []struct {
		read testRead
		want bisulfite.Strand
	}{
		{testRead{flags: 0}, bisulfite.Top},
		{testRead{flags: sam.Reverse}, bisulfite.Bottom},
		{testRead{flags: sam.Paired | sam.Read1 | sam.Reverse}, bisulfite.Bottom},
		{testRead{flags: sam.Paired | sam.Read2 | sam.Reverse}, bisulfite.Top},
		{testRead{flags: sam.Paired | sam.Read2}, bisulfite.Bottom},
		{testRead{flags: sam.Reverse, aux: []sam.Aux{auxTag(t, "XG", "CT")}}, bisulfite.Top},
		{testRead{flags: 0, aux: []sam.Aux{auxTag(t, "XG", "GA")}}, bisulfite.Bottom},
		{testRead{flags: 0, aux: []sam.Aux{auxTag(t, "YD", "r")}}, bisulfite.Bottom},
		{testRead{flags: sam.Reverse, aux: []sam.Aux{auxTag(t, "YD", "f")}}, bisulfite.Top},
	} {
		test.read.name, test.read.cigar, test.read.seq = "r", "2M", "AC"
		expect.EQ(t, bisulfite.ConversionStrand(newRecord(t, test.read)), test.want, test.read.flags)
	}
}

func TestCallRead(t *testing.T) {
	top := newRecord(t, testRead{name: "top", pos: 0, cigar: "12M", seq: "ATGTCCGATTAG"})
	calls, err := bisulfite.CallRead(top, testRef, bisulfite.CallOpts{})
	assert.NoError(t, err)
	expect.EQ(t, calls, []bisulfite.Call{
		{Pos: 1, Strand: bisulfite.Top, Methylated: false},
		{Pos: 4, Strand: bisulfite.Top, Methylated: true},
		{Pos: 5, Strand: bisulfite.Top, Methylated: true},
		{Pos: 9, Strand: bisulfite.Top, Methylated: false},
	})

	bottom := newRecord(t, testRead{name: "bottom", pos: 0, cigar: "12M", seq: "ACATCCGATCAA", flags: sam.Reverse})
	calls, err = bisulfite.CallRead(bottom, testRef, bisulfite.CallOpts{})
	assert.NoError(t, err)
	expect.EQ(t, calls, []bisulfite.Call{
		{Pos: 2, Strand: bisulfite.Bottom, Methylated: false},
		{Pos: 6, Strand: bisulfite.Bottom, Methylated: true},
		{Pos: 11, Strand: bisulfite.Bottom, Methylated: false},
	})

	// Insertions and soft clips consume read bases only, deletions consume
	// reference bases only.
	indel := newRecord(t, testRead{name: "indel", pos: 3, cigar: "2S1M1I2M2D2M", seq: "GGTACTTT"})
	calls, err = bisulfite.CallRead(indel, testRef, bisulfite.CallOpts{})
	assert.NoError(t, err)
	expect.EQ(t, calls, []bisulfite.Call{
		{Pos: 4, Strand: bisulfite.Top, Methylated: true},
		{Pos: 5, Strand: bisulfite.Top, Methylated: false},
		{Pos: 9, Strand: bisulfite.Top, Methylated: false},
	})

	// Base quality filtering.
	lowQ := newRecord(t, testRead{name: "lowq", pos: 0, cigar: "12M", seq: "ATGTCCGATTAG"})
	lowQ.Qual[4] = 5
	calls, err = bisulfite.CallRead(lowQ, testRef, bisulfite.CallOpts{MinBaseQ: 20})
	assert.NoError(t, err)
	expect.EQ(t, len(calls), 3)

	past := newRecord(t, testRead{name: "past", pos: 8, cigar: "6M", seq: "ATCAGA"})
	_, err = bisulfite.CallRead(past, testRef, bisulfite.CallOpts{})
	expect.True(t, err != nil)

	noSeq := newRecord(t, testRead{name: "noseq", pos: 0, cigar: "12M"})
	calls, err = bisulfite.CallRead(noSeq, testRef, bisulfite.CallOpts{MinBaseQ: 20})
	assert.NoError(t, err)
	expect.EQ(t, len(calls), 0)
}

func TestBinomialPValue(t *testing.T) {
	expect.EQ(t, bisulfite.BinomialPValue(0, 10, 0.1), 1.0)
	expect.EQ(t, bisulfite.BinomialPValue(3, 2, 0.1), 0.0)
	expect.True(t, math.Abs(bisulfite.BinomialPValue(2, 2, 0.1)-0.01) < 1e-9)
	expect.True(t, math.Abs(bisulfite.BinomialPValue(1, 2, 0.1)-0.19) < 1e-9)
	expect.True(t, math.Abs(bisulfite.BinomialPValue(1, 1, 0.005)-0.005) < 1e-9)

	expect.True(t, bisulfite.IsMethylated(2, 2, 0.1, 0.05))
	expect.False(t, bisulfite.IsMethylated(1, 2, 0.1, 0.05))
	expect.False(t, bisulfite.IsMethylated(0, 0, 0.1, 0.05))
}

func TestNonConversionRate(t *testing.T) {
	records := []methtable.Record{
		{Chr: "Chr1", Pos: 1, MCCount: 50, Total: 100},
		{Chr: "ChrC", Pos: 1, MCCount: 1, Total: 100},
		{Chr: "ChrC", Pos: 2, MCCount: 3, Total: 100},
	}
	rate, err := bisulfite.NonConversionRate(records, "ChrC:")
	assert.NoError(t, err)
	expect.True(t, math.Abs(rate-0.02) < 1e-12)
	rate, err = bisulfite.NonConversionRate(records, "ChrC")
	assert.NoError(t, err)
	expect.True(t, math.Abs(rate-0.02) < 1e-12)

	_, err = bisulfite.NonConversionRate(records, "ChrM")
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestCallLowFreq(t *testing.T) {
	records := []methtable.Record{
		{Chr: "chr1", Pos: 1, MCCount: 0, Total: 10},
		{Chr: "chr1", Pos: 2, MCCount: 2, Total: 2},
		{Chr: "chr1", Pos: 3, MCCount: 9, Total: 10, Methylated: true},
		{Chr: "chr1", Pos: 4, MCCount: 1, Total: 2},
		{Chr: "chr1", Pos: 5, MCCount: 0, Total: 0, LowFreq: true},
	}
	n := bisulfite.CallLowFreq(records, 0.1, 0.05)
	expect.EQ(t, n, 1)
	var lowFreq []bool
	for _, r := range records {
		lowFreq = append(lowFreq, r.LowFreq)
	}
	expect.EQ(t, lowFreq, []bool{false, true, false, false, false})
}

// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package methtable

import (
	"fmt"
)

// Record is one row of a methylation table.
type Record struct {
	Chr string
	// Pos is 1-based.
	Pos int64
	// Strand is '+' or '-'.
	Strand byte
	// MCClass is the trinucleotide context on the cytosine's strand, e.g. "CGT".
	MCClass    string
	MCCount    int64
	Total      int64
	Methylated bool
	LowFreq    bool
}

// blockEncoder buffers the values of one column for the rows of one recordio
// block.
//
// Block layout:
//
//   uvarint  number of rows
//   uvarint  length of the default section
//   []byte   default section: numbers and string lengths
//   []byte   blob section: string suffixes
type blockEncoder struct {
	kind       columnKind
	numRows    int
	defaultBuf byteBuffer
	blobBuf    byteBuffer
	// For prefix-delta-encoding strings.
	prevString string
	// For delta-encoding kindDeltaInt.
	prevInt int64
}

func (e *blockEncoder) reset() {
	e.numRows = 0
	e.defaultBuf = e.defaultBuf[:0]
	e.blobBuf = e.blobBuf[:0]
	e.prevString = ""
	e.prevInt = 0
}

// computeDiff returns the length of the common prefix of prev and cur, and
// the remainder of cur.
func computeDiff(prev, cur string) (int, string) {
	minLen := len(prev)
	if len(cur) < minLen {
		minLen = len(cur)
	}
	var i int
	for i = 0; i < minLen; i++ {
		if prev[i] != cur[i] {
			break
		}
	}
	return i, cur[i:]
}

func (e *blockEncoder) putString(s string) {
	prefix, delta := computeDiff(e.prevString, s)
	e.defaultBuf.PutUvarint64(uint64(prefix))
	e.defaultBuf.PutUvarint64(uint64(len(delta)))
	e.blobBuf.PutString(delta)
	e.prevString = s
	e.numRows++
}

func (e *blockEncoder) putInt(v int64) {
	if e.kind == kindDeltaInt {
		e.defaultBuf.PutVarint64(v - e.prevInt)
		e.prevInt = v
	} else {
		e.defaultBuf.PutVarint64(v)
	}
	e.numRows++
}

func (e *blockEncoder) putByte(v byte) {
	e.defaultBuf.PutUint8(v)
	e.numRows++
}

func (e *blockEncoder) putBool(v bool) {
	if v {
		e.putByte(1)
	} else {
		e.putByte(0)
	}
}

// put adds the column's value of the record.
func (e *blockEncoder) put(c Column, r *Record) {
	switch c {
	case ColChr:
		e.putString(r.Chr)
	case ColPos:
		e.putInt(r.Pos)
	case ColStrand:
		e.putByte(r.Strand)
	case ColMCClass:
		e.putString(r.MCClass)
	case ColMCCount:
		e.putInt(r.MCCount)
	case ColTotal:
		e.putInt(r.Total)
	case ColMethylated:
		e.putBool(r.Methylated)
	case ColLowFreq:
		e.putBool(r.LowFreq)
	default:
		panic(c)
	}
}

// encode serializes the block into a newly allocated slice.
func (e *blockEncoder) encode() []byte {
	var header byteBuffer
	header.PutUvarint64(uint64(e.numRows))
	header.PutUvarint64(uint64(len(e.defaultBuf)))
	data := make([]byte, 0, len(header)+len(e.defaultBuf)+len(e.blobBuf))
	data = append(data, header...)
	data = append(data, e.defaultBuf...)
	data = append(data, e.blobBuf...)
	return data
}

// columnData holds the decoded values of one column. Only the field that
// matches the column kind is used.
type columnData struct {
	strs  []string
	ints  []int64
	bytes []byte // kindByte and kindBool
}

func (d *columnData) len(kind columnKind) int {
	switch kind {
	case kindString:
		return len(d.strs)
	case kindInt, kindDeltaInt:
		return len(d.ints)
	default:
		return len(d.bytes)
	}
}

// decodeBlock appends the values stored in the block to dst. It returns the
// number of rows in the block.
func decodeBlock(kind columnKind, block []byte, dst *columnData) (int, error) {
	d := byteDecoder{buf: block}
	numRows := int(d.Uvarint64())
	defaultLen := int(d.Uvarint64())
	if d.err != nil {
		return 0, d.err
	}
	if defaultLen > len(d.buf) {
		return 0, fmt.Errorf("block header claims %d bytes, but only %d remain", defaultLen, len(d.buf))
	}
	def := byteDecoder{buf: d.buf[:defaultLen]}
	blob := byteDecoder{buf: d.buf[defaultLen:]}
	switch kind {
	case kindString:
		prev := ""
		for i := 0; i < numRows; i++ {
			prefix := int(def.Uvarint64())
			deltaLen := int(def.Uvarint64())
			delta := blob.RawBytes(deltaLen)
			if def.err != nil || blob.err != nil {
				break
			}
			if prefix > len(prev) {
				return 0, fmt.Errorf("row %d: string prefix %d exceeds previous length %d", i, prefix, len(prev))
			}
			if prefix != len(prev) || deltaLen != 0 {
				// Repeated values, e.g. chromosome names, share one string.
				prev = prev[:prefix] + string(delta)
			}
			dst.strs = append(dst.strs, prev)
		}
	case kindInt, kindDeltaInt:
		var prev int64
		for i := 0; i < numRows; i++ {
			v := def.Varint64()
			if kind == kindDeltaInt {
				v += prev
				prev = v
			}
			dst.ints = append(dst.ints, v)
		}
	case kindByte, kindBool:
		dst.bytes = append(dst.bytes, def.RawBytes(numRows)...)
	default:
		panic(kind)
	}
	if def.err != nil {
		return 0, def.err
	}
	if blob.err != nil {
		return 0, blob.err
	}
	if len(def.buf) != 0 || len(blob.buf) != 0 {
		return 0, fmt.Errorf("block has %d trailing bytes", len(def.buf)+len(blob.buf))
	}
	return numRows, nil
}

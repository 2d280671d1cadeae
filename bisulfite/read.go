// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bisulfite

import (
	"fmt"

	"github.com/grailbio/hts/sam"
)

var (
	// XG is set by Bismark and bsmap: "CT" for reads converted on the top
	// strand, "GA" for the bottom strand.
	tagXG = sam.NewTag("XG")
	// YD is set by bwa-meth: "f" for the top strand, "r" for the bottom.
	tagYD = sam.NewTag("YD")
)

func auxString(rec *sam.Record, tag sam.Tag) (string, bool) {
	aux := rec.AuxFields.Get(tag)
	if aux == nil {
		return "", false
	}
	switch v := aux.Value().(type) {
	case string:
		return v, true
	case byte:
		return string([]byte{v}), true
	}
	return "", false
}

// ConversionStrand returns the reference strand on which the read's fragment
// was bisulfite converted. The XG and YD tags are used when present.
// Otherwise a directional library is assumed: read 1 aligned forward and
// read 2 aligned in reverse come from the top strand.
func ConversionStrand(rec *sam.Record) Strand {
	if v, ok := auxString(rec, tagXG); ok {
		switch v {
		case "CT":
			return Top
		case "GA":
			return Bottom
		}
	}
	if v, ok := auxString(rec, tagYD); ok {
		switch v {
		case "f":
			return Top
		case "r":
			return Bottom
		}
	}
	reverse := rec.Flags&sam.Reverse != 0
	if rec.Flags&sam.Paired != 0 && rec.Flags&sam.Read2 != 0 {
		reverse = !reverse
	}
	if reverse {
		return Bottom
	}
	return Top
}

// Call is the methylation state of one cytosine observed in one read.
type Call struct {
	// Pos is the 0-based reference position of the cytosine.
	Pos        int
	Strand     Strand
	Methylated bool
}

// CallOpts defines options for CallRead.
type CallOpts struct {
	// MinBaseQ is the minimum base quality of a call. Bases without quality
	// scores pass.
	MinBaseQ byte
}

// CallRead returns the methylation calls of the read, in increasing
// position order. ref is the sequence of the read's reference, upper-cased.
// Only bases aligned to a reference cytosine on the conversion strand yield a
// call; other mismatches are ignored. A read without a stored sequence
// (SEQ "*") has no calls.
func CallRead(rec *sam.Record, ref string, opts CallOpts) ([]Call, error) {
	if rec.Seq.Length == 0 {
		return nil, nil
	}
	strand := ConversionStrand(rec)
	seq := rec.Seq.Expand()
	hasQual := len(rec.Qual) == len(seq) && (len(rec.Qual) == 0 || rec.Qual[0] != 0xff)
	var calls []Call
	err := walkAligned(rec, func(refPos, readPos int) error {
		if refPos >= len(ref) {
			return fmt.Errorf("read %s: position %d is past the end of reference %s (%d)",
				rec.Name, refPos, rec.Ref.Name(), len(ref))
		}
		if hasQual && rec.Qual[readPos] < opts.MinBaseQ {
			return nil
		}
		refBase, readBase := ref[refPos], upper(seq[readPos])
		switch strand {
		case Top:
			if refBase != 'C' {
				return nil
			}
			if readBase == 'C' || readBase == 'T' {
				calls = append(calls, Call{Pos: refPos, Strand: Top, Methylated: readBase == 'C'})
			}
		case Bottom:
			if refBase != 'G' {
				return nil
			}
			if readBase == 'G' || readBase == 'A' {
				calls = append(calls, Call{Pos: refPos, Strand: Bottom, Methylated: readBase == 'G'})
			}
		}
		return nil
	})
	return calls, err
}

// walkAligned calls fn for each read base aligned to a reference base, i.e.
// for the M, = and X cigar operations.
func walkAligned(rec *sam.Record, fn func(refPos, readPos int) error) error {
	refPos, readPos := rec.Pos, 0
	for _, co := range rec.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for i := 0; i < n; i++ {
				if err := fn(refPos+i, readPos+i); err != nil {
					return err
				}
			}
		}
		c := co.Type().Consumes()
		refPos += n * c.Reference
		readPos += n * c.Query
	}
	return nil
}

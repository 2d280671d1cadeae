// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bisulfite

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bshap/encoding/fasta"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

var tagMD = sam.NewTag("MD")

// MDTag computes the MD tag of the read against ref, the sequence of the
// read's reference. Bisulfite conversions on the read's conversion strand
// (reference 'C' read as 'T' on the top strand, reference 'G' read as 'A' on
// the bottom strand) count as matches, so that genome browsers show only real
// mismatches.
func MDTag(rec *sam.Record, ref string) (string, error) {
	if rec.Seq.Length == 0 {
		return "", fmt.Errorf("read %s: no sequence", rec.Name)
	}
	strand := ConversionStrand(rec)
	seq := rec.Seq.Expand()
	var (
		md      strings.Builder
		matches int
		refPos  = rec.Pos
		readPos = 0
	)
	for _, co := range rec.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if refPos+n > len(ref) {
				return "", fmt.Errorf("read %s: alignment end %d is past the end of reference %s (%d)",
					rec.Name, refPos+n, rec.Ref.Name(), len(ref))
			}
			for i := 0; i < n; i++ {
				refBase, readBase := upper(ref[refPos+i]), upper(seq[readPos+i])
				if refBase == readBase ||
					(strand == Top && refBase == 'C' && readBase == 'T') ||
					(strand == Bottom && refBase == 'G' && readBase == 'A') {
					matches++
					continue
				}
				md.WriteString(strconv.Itoa(matches))
				md.WriteByte(refBase)
				matches = 0
			}
		case sam.CigarDeletion:
			if refPos+n > len(ref) {
				return "", fmt.Errorf("read %s: deletion at %d is past the end of reference %s (%d)",
					rec.Name, refPos, rec.Ref.Name(), len(ref))
			}
			md.WriteString(strconv.Itoa(matches))
			md.WriteByte('^')
			for i := 0; i < n; i++ {
				md.WriteByte(upper(ref[refPos+i]))
			}
			matches = 0
		}
		c := co.Type().Consumes()
		refPos += n * c.Reference
		readPos += n * c.Query
	}
	md.WriteString(strconv.Itoa(matches))
	return md.String(), nil
}

// RewriteMD replaces the MD tag of a mapped read with the one computed by
// MDTag. Unmapped reads and reads without a stored sequence are left
// unchanged.
func RewriteMD(rec *sam.Record, ref string) error {
	if rec.Ref == nil || rec.Pos < 0 || rec.Flags&sam.Unmapped != 0 || len(rec.Cigar) == 0 || rec.Seq.Length == 0 {
		return nil
	}
	md, err := MDTag(rec, ref)
	if err != nil {
		return err
	}
	aux, err := sam.NewAux(tagMD, md)
	if err != nil {
		return err
	}
	for i, a := range rec.AuxFields {
		if a.Tag() == tagMD {
			rec.AuxFields[i] = aux
			return nil
		}
	}
	rec.AuxFields = append(rec.AuxFields, aux)
	return nil
}

// RewriteBAM copies the BAM file at inPath to outPath, rewriting the MD tag
// of every mapped read with RewriteMD. It returns the number of reads copied.
func RewriteBAM(ctx context.Context, inPath, outPath string, ref fasta.Fasta) (n int64, err error) {
	in, err := file.Open(ctx, inPath)
	if err != nil {
		return 0, errors.E(err, fmt.Sprintf("open %s", inPath))
	}
	defer file.CloseAndReport(ctx, in, &err)
	br, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return 0, errors.E(errors.Invalid, inPath, err)
	}
	defer br.Close() // nolint: errcheck

	out, err := file.Create(ctx, outPath)
	if err != nil {
		return 0, errors.E(err, fmt.Sprintf("create %s", outPath))
	}
	defer file.CloseAndReport(ctx, out, &err)
	bw, err := bam.NewWriter(out.Writer(ctx), br.Header(), 1)
	if err != nil {
		return 0, err
	}

	var chr, chrSeq string
	for {
		rec, err := br.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			bw.Close() // nolint: errcheck
			return n, errors.E(errors.Invalid, inPath, err)
		}
		if rec.Ref != nil && rec.Flags&sam.Unmapped == 0 {
			if name := rec.Ref.Name(); name != chr {
				if chrSeq, err = chromSeq(ref, name); err != nil {
					bw.Close() // nolint: errcheck
					return n, err
				}
				chr = name
			}
			if err := RewriteMD(rec, chrSeq); err != nil {
				bw.Close() // nolint: errcheck
				return n, err
			}
		}
		if err := bw.Write(rec); err != nil {
			bw.Close() // nolint: errcheck
			return n, err
		}
		n++
	}
	log.Debug.Printf("rewrote MD tags of %d reads from %s to %s", n, inPath, outPath)
	return n, bw.Close()
}

func chromSeq(ref fasta.Fasta, name string) (string, error) {
	n, err := ref.Len(name)
	if err != nil {
		return "", errors.E(errors.NotExist, "reference", err)
	}
	return ref.Get(name, 0, n)
}

// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package allc reads and writes methylpy "allc" files. An allc file is a
// tab-separated table with one line per cytosine:
//
//   chr  pos  strand  mc_class  mc_count  total  methylated
//
// pos is 1-based, strand is '+' or '-', and methylated is 0 or 1. The file may
// start with a header line whose first two fields are "chr" and "pos". Files
// whose name ends with ".gz" are gzip compressed.
package allc

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/bshap/encoding/methtable"
	"github.com/klauspost/compress/gzip"
)

// Header is the optional first line of an allc file.
const Header = "chr\tpos\tstrand\tmc_class\tmc_count\ttotal\tmethylated"

type row struct {
	Chr        string
	Pos        int64
	Strand     string
	MCClass    string
	MCCount    int64
	Total      int64
	Methylated int64
}

// Reader parses an allc stream.
type Reader struct {
	r      *tsv.Reader
	lineno int
}

// NewReader creates a reader for uncompressed allc data.
func NewReader(in io.Reader) *Reader {
	br := bufio.NewReaderSize(in, 1<<16)
	hasHeader := false
	if peek, _ := br.Peek(8); bytes.HasPrefix(peek, []byte("chr\tpos\t")) {
		hasHeader = true
	}
	r := tsv.NewReader(br)
	r.HasHeaderRow = hasHeader
	r.Comment = '#'
	return &Reader{r: r}
}

// Read parses the next line into rec. It returns io.EOF at the end of the
// data.
func (r *Reader) Read(rec *methtable.Record) error {
	var v row
	if err := r.r.Read(&v); err != nil {
		if err == io.EOF {
			return err
		}
		return errors.E(errors.Invalid, fmt.Sprintf("allc line %d", r.lineno+1), err)
	}
	r.lineno++
	if len(v.Strand) != 1 || (v.Strand[0] != '+' && v.Strand[0] != '-') {
		return errors.E(errors.Invalid, fmt.Sprintf("allc line %d: invalid strand '%s'", r.lineno, v.Strand))
	}
	if v.MCCount < 0 || v.Total < v.MCCount {
		return errors.E(errors.Invalid, fmt.Sprintf("allc line %d: invalid counts %d/%d", r.lineno, v.MCCount, v.Total))
	}
	if v.Methylated != 0 && v.Methylated != 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("allc line %d: methylated must be 0 or 1, but found %d", r.lineno, v.Methylated))
	}
	*rec = methtable.Record{
		Chr:        v.Chr,
		Pos:        v.Pos,
		Strand:     v.Strand[0],
		MCClass:    v.MCClass,
		MCCount:    v.MCCount,
		Total:      v.Total,
		Methylated: v.Methylated == 1,
	}
	return nil
}

// Scan reads the allc file at path, possibly gzipped, and calls fn for each
// record. Scan stops at the first error returned by fn.
func Scan(ctx context.Context, path string, fn func(methtable.Record) error) (err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return errors.E(err, fmt.Sprintf("allc: open %s", path))
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader := io.Reader(in.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return errors.E(errors.Invalid, fmt.Sprintf("allc: %s", path), err)
		}
		defer gz.Close() // nolint: errcheck
		reader = gz
	}
	r := NewReader(reader)
	for {
		var rec methtable.Record
		if err := r.Read(&rec); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.E(err, path)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// Read reads all the records of the allc file at path.
func Read(ctx context.Context, path string) ([]methtable.Record, error) {
	var records []methtable.Record
	err := Scan(ctx, path, func(r methtable.Record) error {
		records = append(records, r)
		return nil
	})
	return records, err
}

// Writer writes allc lines.
type Writer struct {
	w *tsv.Writer
}

// NewWriter creates a writer that emits uncompressed allc data. If header is
// true, the first line is Header.
func NewWriter(out io.Writer, header bool) (*Writer, error) {
	w := &Writer{w: tsv.NewWriter(out)}
	if header {
		w.w.WriteString(Header)
		if err := w.w.EndLine(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Write adds one line.
func (w *Writer) Write(r methtable.Record) error {
	w.w.WriteString(r.Chr)
	w.w.WriteInt64(r.Pos)
	w.w.WriteString(string(r.Strand))
	w.w.WriteString(r.MCClass)
	w.w.WriteInt64(r.MCCount)
	w.w.WriteInt64(r.Total)
	if r.Methylated {
		w.w.WriteString("1")
	} else {
		w.w.WriteString("0")
	}
	return w.w.EndLine()
}

// Flush flushes buffered lines to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// WriteFile writes the records to path. The file is gzip compressed if path
// ends with ".gz".
func WriteFile(ctx context.Context, path string, records []methtable.Record, header bool) (err error) {
	var out file.File
	if out, err = file.Create(ctx, path); err != nil {
		return errors.E(err, fmt.Sprintf("allc: create %s", path))
	}
	defer file.CloseAndReport(ctx, out, &err)
	dst := io.Writer(out.Writer(ctx))
	var gz *gzip.Writer
	if fileio.DetermineType(path) == fileio.Gzip {
		gz = gzip.NewWriter(dst)
		dst = gz
	}
	w, err := NewWriter(dst, header)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err = w.Write(r); err != nil {
			return err
		}
	}
	if err = w.Flush(); err != nil {
		return err
	}
	if gz != nil {
		err = gz.Close()
	}
	return err
}

// IsAllcFile checks if the file name looks like an allc file of the sample,
// "allc_<sample>*.tsv" or "allc_<sample>*.tsv.gz". An empty sample matches
// any sample.
func IsAllcFile(path, sample string) bool {
	base := filepath.Base(path)
	prefix := "allc_" + sample
	if !strings.HasPrefix(base, prefix) {
		return false
	}
	// "allc_s1" must not match "allc_s10.tsv".
	if rest := base[len(prefix):]; sample != "" && (rest == "" || (rest[0] != '.' && rest[0] != '_')) {
		return false
	}
	return strings.HasSuffix(base, ".tsv") || strings.HasSuffix(base, ".tsv.gz")
}

// ListSampleFiles lists the allc files of the sample in dir, sorted by name.
// Methylpy writes one file per chromosome, e.g. "allc_sample1_chr1.tsv.gz".
func ListSampleFiles(ctx context.Context, dir, sample string) ([]string, error) {
	var paths []string
	lister := file.List(ctx, dir, false)
	for lister.Scan() {
		if lister.IsDir() {
			continue
		}
		if IsAllcFile(lister.Path(), sample) {
			paths = append(paths, lister.Path())
		}
	}
	if err := lister.Err(); err != nil {
		return nil, errors.E(err, fmt.Sprintf("allc: list %s", dir))
	}
	sort.Strings(paths)
	return paths, nil
}

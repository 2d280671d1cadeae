// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package methtable

import (
	"context"
	"fmt"

	farm "github.com/dgryski/go-farm"
	"github.com/gogo/protobuf/proto"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/bshap/biopb"
)

func init() {
	recordiozstd.Init()
}

// WriteOpts defines options for NewWriter.
type WriteOpts struct {
	// RowsPerBlock is the number of rows stored in one recordio block of each
	// column file.
	RowsPerBlock int
	// Transformers is the list of recordio transformers applied to the column
	// and index files.
	Transformers []string
	// LowFreq causes the optional lowfreq column to be written.
	LowFreq bool
}

// DefaultWriteOpts is the default value of WriteOpts.
var DefaultWriteOpts = WriteOpts{
	RowsPerBlock: 65536,
	Transformers: []string{recordiozstd.Name},
}

// Writer creates a methylation table. Records must be added in table order:
// rows of one chromosome are contiguous, and positions within a chromosome
// strictly increase.
//
// Example:
//   w, err := methtable.NewWriter(ctx, "/tmp/foo.mtab", methtable.DefaultWriteOpts)
//   for _, rec := range records {
//     if err := w.Append(rec); err != nil { ... }
//   }
//   err = w.Close()
type Writer struct {
	ctx  context.Context
	dir  string
	opts WriteOpts
	cols []*columnWriter

	numRows uint64
	chroms  []*biopb.MethChromSpan
	// seenChrs is the set of chromosomes already closed out.
	seenChrs map[string]bool
	err      errors.Once
}

type columnWriter struct {
	col    Column
	path   string
	out    file.File
	rio    recordio.Writer
	enc    blockEncoder
	blocks []*biopb.MethBlockIndexEntry
}

// NewWriter creates a table in directory dir. Existing column files in dir
// are overwritten.
func NewWriter(ctx context.Context, dir string, opts WriteOpts) (*Writer, error) {
	if opts.RowsPerBlock <= 0 {
		opts.RowsPerBlock = DefaultWriteOpts.RowsPerBlock
	}
	if opts.Transformers == nil {
		opts.Transformers = DefaultWriteOpts.Transformers
	}
	w := &Writer{
		ctx:      ctx,
		dir:      dir,
		opts:     opts,
		seenChrs: map[string]bool{},
	}
	for c := Column(0); c < NumColumns; c++ {
		if c == ColLowFreq && !opts.LowFreq {
			continue
		}
		cw := &columnWriter{
			col:  c,
			path: ColumnPath(dir, c),
			enc:  blockEncoder{kind: columnKinds[c]},
		}
		out, err := file.Create(ctx, cw.path)
		if err != nil {
			w.abort()
			return nil, errors.E(err, fmt.Sprintf("methtable: create %s", cw.path))
		}
		cw.out = out
		cw.rio = recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
			Transformers: opts.Transformers,
		})
		cw.rio.AddHeader(recordio.KeyTrailer, true)
		w.cols = append(w.cols, cw)
	}
	return w, nil
}

func (w *Writer) abort() {
	for _, cw := range w.cols {
		if cw.out != nil {
			cw.out.Discard(w.ctx) // nolint: errcheck
		}
	}
	w.cols = nil
}

// Discard abandons the table and removes the partially written column files.
// The writer cannot be used afterwards.
func (w *Writer) Discard() {
	w.abort()
	w.err.Set(errors.E(errors.Invalid, fmt.Sprintf("methtable: %s: writer discarded", w.dir)))
}

// Append adds a row to the table.
func (w *Writer) Append(r Record) error {
	if err := w.err.Err(); err != nil {
		return err
	}
	if r.Chr == "" {
		return errors.E(errors.Invalid, fmt.Sprintf("methtable: row %d: empty chromosome name", w.numRows))
	}
	if r.Strand != '+' && r.Strand != '-' {
		return errors.E(errors.Invalid, fmt.Sprintf("methtable: row %d (%s:%d): invalid strand %q", w.numRows, r.Chr, r.Pos, r.Strand))
	}
	var span *biopb.MethChromSpan
	if n := len(w.chroms); n > 0 {
		span = w.chroms[n-1]
	}
	if span == nil || span.Name != r.Chr {
		if w.seenChrs[r.Chr] {
			return errors.E(errors.Invalid, fmt.Sprintf("methtable: row %d: rows of chromosome %s are not contiguous", w.numRows, r.Chr))
		}
		w.seenChrs[r.Chr] = true
		span = &biopb.MethChromSpan{
			Name:     r.Chr,
			StartRow: w.numRows,
			MinPos:   r.Pos,
		}
		w.chroms = append(w.chroms, span)
	} else if r.Pos <= span.MaxPos {
		return errors.E(errors.Invalid, fmt.Sprintf("methtable: row %d: position %s:%d follows %s:%d", w.numRows, r.Chr, r.Pos, r.Chr, span.MaxPos))
	}
	span.MaxPos = r.Pos
	span.NumRows++

	for _, cw := range w.cols {
		cw.enc.put(cw.col, &r)
		if cw.enc.numRows >= w.opts.RowsPerBlock {
			cw.flush()
		}
	}
	w.numRows++
	return nil
}

// flush appends the buffered rows as one recordio block.
func (cw *columnWriter) flush() {
	if cw.enc.numRows == 0 {
		return
	}
	data := cw.enc.encode()
	cw.blocks = append(cw.blocks, &biopb.MethBlockIndexEntry{
		NumRows:     uint32(cw.enc.numRows),
		Fingerprint: farm.Fingerprint64(data),
	})
	cw.rio.Append(data)
	cw.rio.Flush()
	cw.enc.reset()
}

func (cw *columnWriter) close(ctx context.Context, numRows uint64) error {
	cw.flush()
	index := &biopb.MethColumnIndex{
		Magic:   ColumnIndexMagic,
		Version: DefaultVersion,
		Column:  cw.col.String(),
		NumRows: numRows,
		Blocks:  cw.blocks,
	}
	data, err := proto.Marshal(index)
	if err != nil {
		return err
	}
	cw.rio.SetTrailer(data)
	err = cw.rio.Finish()
	if e := cw.out.Close(ctx); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return errors.E(err, fmt.Sprintf("methtable: close %s", cw.path))
	}
	log.Debug.Printf("%s: wrote %d rows in %d blocks", cw.path, numRows, len(cw.blocks))
	return nil
}

// Close flushes the column files and writes the table index. The table is
// readable only after Close returns successfully.
func (w *Writer) Close() error {
	if err := w.err.Err(); err != nil {
		w.abort()
		return err
	}
	for _, cw := range w.cols {
		w.err.Set(cw.close(w.ctx, w.numRows))
	}
	if err := w.err.Err(); err != nil {
		return err
	}
	index := &biopb.MethTableIndex{
		Magic:   TableIndexMagic,
		Version: DefaultVersion,
		NumRows: w.numRows,
		Chroms:  w.chroms,
	}
	for _, cw := range w.cols {
		index.Columns = append(index.Columns, cw.col.String())
	}
	w.err.Set(writeIndex(w.ctx, w.dir, w.opts.Transformers, index))
	return w.err.Err()
}

// writeIndex serializes the index into a single-block recordio file
// "dir/index". Existing contents of the file are clobbered.
func writeIndex(ctx context.Context, dir string, transformers []string, index *biopb.MethTableIndex) error {
	path := IndexPath(dir)
	data, e := proto.Marshal(index)
	if e != nil {
		return e
	}
	out, e := file.Create(ctx, path)
	if e != nil {
		return errors.E(e, fmt.Sprintf("methtable: create %s", path))
	}
	err := errors.Once{}
	rio := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: transformers,
	})
	rio.Append(data)
	err.Set(rio.Finish())
	err.Set(out.Close(ctx))
	return err.Err()
}

// WriteRecords creates a table at dir holding the given records.
func WriteRecords(ctx context.Context, dir string, records []Record, opts WriteOpts) error {
	w, err := NewWriter(ctx, dir, opts)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := w.Append(r); err != nil {
			w.abort()
			return err
		}
	}
	return w.Close()
}

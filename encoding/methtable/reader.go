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
	"github.com/grailbio/bshap/biopb"
)

func formatError(path string, format string, args ...interface{}) error {
	return errors.E(errors.Invalid, fmt.Sprintf("methtable %s: %s", path, fmt.Sprintf(format, args...)))
}

// ReadIndex reads "dir/index" and validates it.
func ReadIndex(ctx context.Context, dir string) (index *biopb.MethTableIndex, err error) {
	path := IndexPath(dir)
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, fmt.Sprintf("methtable: open %s", path))
	}
	defer file.CloseAndReport(ctx, in, &err)
	rio := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	defer rio.Finish() // nolint: errcheck
	if !rio.Scan() {
		if rio.Err() != nil {
			return nil, formatError(path, "read index: %v", rio.Err())
		}
		return nil, formatError(path, "empty index file")
	}
	index = &biopb.MethTableIndex{}
	if err := proto.Unmarshal(rio.Get().([]byte), index); err != nil {
		return nil, formatError(path, "unmarshal index: %v", err)
	}
	if index.Magic != TableIndexMagic {
		return nil, formatError(path, "wrong index magic %x; expect %x", index.Magic, TableIndexMagic)
	}
	if index.Version != DefaultVersion {
		return nil, formatError(path, "wrong version '%v'; expect '%v'", index.Version, DefaultVersion)
	}
	if err := validateIndex(index); err != nil {
		return nil, formatError(path, "%v", err)
	}
	return index, nil
}

// validateIndex checks that the chromosome spans tile [0, NumRows) and that
// every required column is present.
func validateIndex(index *biopb.MethTableIndex) error {
	var nextRow uint64
	for _, span := range index.Chroms {
		if span.StartRow != nextRow {
			return fmt.Errorf("chromosome %s starts at row %d; expect %d", span.Name, span.StartRow, nextRow)
		}
		if span.NumRows == 0 || span.MinPos > span.MaxPos {
			return fmt.Errorf("chromosome %s: invalid span %v", span.Name, span)
		}
		nextRow += span.NumRows
	}
	if nextRow != index.NumRows {
		return fmt.Errorf("chromosome spans cover %d rows, but the table has %d", nextRow, index.NumRows)
	}
	present := map[string]bool{}
	for _, name := range index.Columns {
		if _, err := ParseColumn(name); err != nil {
			return err
		}
		present[name] = true
	}
	for c := Column(0); c < NumColumns; c++ {
		if !c.Optional() && !present[c.String()] {
			return fmt.Errorf("required column %s is missing", c)
		}
	}
	return nil
}

// hasColumn checks if the table index lists the column.
func hasColumn(index *biopb.MethTableIndex, c Column) bool {
	for _, name := range index.Columns {
		if name == c.String() {
			return true
		}
	}
	return false
}

// readColumn decodes the whole column file. The number of rows must match
// the table index.
func readColumn(ctx context.Context, dir string, c Column, numRows uint64) (data *columnData, err error) {
	path := ColumnPath(dir, c)
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, fmt.Sprintf("methtable: open %s", path))
	}
	defer file.CloseAndReport(ctx, in, &err)
	rio := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	defer rio.Finish() // nolint: errcheck

	trailer := rio.Trailer()
	if len(trailer) == 0 {
		return nil, formatError(path, "file does not contain an index: %v", rio.Err())
	}
	var index biopb.MethColumnIndex
	if err := proto.Unmarshal(trailer, &index); err != nil {
		return nil, formatError(path, "unmarshal column index: %v", err)
	}
	if index.Magic != ColumnIndexMagic {
		return nil, formatError(path, "wrong column magic %x; expect %x", index.Magic, ColumnIndexMagic)
	}
	if index.Version != DefaultVersion {
		return nil, formatError(path, "wrong version '%v'; expect '%v'", index.Version, DefaultVersion)
	}
	if index.Column != c.String() {
		return nil, formatError(path, "file stores column '%s'; expect '%s'", index.Column, c)
	}
	if index.NumRows != numRows {
		return nil, formatError(path, "column has %d rows; the table has %d", index.NumRows, numRows)
	}

	kind := columnKinds[c]
	data = &columnData{}
	switch kind {
	case kindString:
		data.strs = make([]string, 0, numRows)
	case kindInt, kindDeltaInt:
		data.ints = make([]int64, 0, numRows)
	default:
		data.bytes = make([]byte, 0, numRows)
	}
	nBlocks := 0
	for rio.Scan() {
		if nBlocks >= len(index.Blocks) {
			return nil, formatError(path, "file has more blocks than its index (%d)", len(index.Blocks))
		}
		block := rio.Get().([]byte)
		entry := index.Blocks[nBlocks]
		if fp := farm.Fingerprint64(block); fp != entry.Fingerprint {
			return nil, formatError(path, "block %d: checksum mismatch: %x, expect %x", nBlocks, fp, entry.Fingerprint)
		}
		n, err := decodeBlock(kind, block, data)
		if err != nil {
			return nil, formatError(path, "block %d: %v", nBlocks, err)
		}
		if n != int(entry.NumRows) {
			return nil, formatError(path, "block %d: found %d rows; index says %d", nBlocks, n, entry.NumRows)
		}
		nBlocks++
	}
	if err := rio.Err(); err != nil {
		return nil, formatError(path, "read: %v", err)
	}
	if nBlocks != len(index.Blocks) {
		return nil, formatError(path, "found %d blocks; index says %d", nBlocks, len(index.Blocks))
	}
	if got := uint64(data.len(kind)); got != numRows {
		return nil, formatError(path, "decoded %d rows; expect %d", got, numRows)
	}
	log.Debug.Printf("%s: read %d rows in %d blocks", path, numRows, nBlocks)
	return data, nil
}

// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package methtable

import (
	"fmt"

	"github.com/grailbio/base/file"
)

const (
	// DefaultVersion is the string embedded in the index and column trailers.
	DefaultVersion = "MTAB1"
	// TableIndexMagic is the value of MethTableIndex.Magic.
	TableIndexMagic = uint64(0x6d74616208d1c3a5)
	// ColumnIndexMagic is the value of MethColumnIndex.Magic.
	ColumnIndexMagic = uint64(0x6d746162c0a1e0b7)

	indexFileName = "index"
)

// Column identifies one column of a methylation table.
type Column int

const (
	// ColChr is the chromosome name.
	ColChr Column = iota
	// ColPos is the 1-based position of the cytosine.
	ColPos
	// ColStrand is '+' or '-'.
	ColStrand
	// ColMCClass is the sequence context, e.g., "CGA".
	ColMCClass
	// ColMCCount is the number of reads supporting methylation.
	ColMCCount
	// ColTotal is the number of reads covering the cytosine.
	ColTotal
	// ColMethylated is the "called methylated" flag.
	ColMethylated
	// ColLowFreq is the "low frequency" flag. It is optional.
	ColLowFreq
	// NumColumns is the number of column types.
	NumColumns
)

// These names are shared with the tables produced by the rest of the
// toolchain. Don't change them.
var columnNames = [NumColumns]string{
	ColChr:        "chr",
	ColPos:        "pos",
	ColStrand:     "strand",
	ColMCClass:    "mc_class",
	ColMCCount:    "mc_count",
	ColTotal:      "total",
	ColMethylated: "methylated",
	ColLowFreq:    "lowfreq",
}

// columnKind defines how the values of a column are encoded.
type columnKind int

const (
	kindString     columnKind = iota // prefix-delta encoded string
	kindDeltaInt                     // delta encoded varint
	kindInt                          // varint
	kindByte                         // one byte
	kindBool                         // one byte, 0 or 1
)

var columnKinds = [NumColumns]columnKind{
	ColChr:        kindString,
	ColPos:        kindDeltaInt,
	ColStrand:     kindByte,
	ColMCClass:    kindString,
	ColMCCount:    kindInt,
	ColTotal:      kindInt,
	ColMethylated: kindBool,
	ColLowFreq:    kindBool,
}

// String returns the on-disk name of the column.
func (c Column) String() string {
	if c < 0 || c >= NumColumns {
		return fmt.Sprintf("column%d", int(c))
	}
	return columnNames[c]
}

// Optional checks if a table may lack the column.
func (c Column) Optional() bool {
	return c == ColLowFreq
}

// ParseColumn converts a column name, e.g., "mc_count", into a Column.
func ParseColumn(name string) (Column, error) {
	for c, n := range columnNames {
		if n == name {
			return Column(c), nil
		}
	}
	return -1, fmt.Errorf("unknown column '%s'", name)
}

// ColumnPath returns the path of the file storing the given column.
func ColumnPath(dir string, c Column) string {
	return file.Join(dir, c.String())
}

// IndexPath returns the path of the table index file.
func IndexPath(dir string) string {
	return file.Join(dir, indexFileName)
}

// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package methtable

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bshap/biopb"
	"github.com/grailbio/bshap/interval"
)

type columnState int

const (
	unloaded columnState = iota
	loaded
)

// columnCache holds decoded columns. It is shared by a table and all the
// views derived from it.
type columnCache struct {
	state [NumColumns]columnState
	data  [NumColumns]*columnData
}

// Table is a read-only handle to a methylation table. It optionally
// restricts the rows to a subset, in which case every column accessor
// returns only the rows in the subset, in table order.
//
// Columns are decoded lazily on first access and kept in memory until Close.
// A Table and its views are not safe for concurrent use.
type Table struct {
	ctx   context.Context
	dir   string
	index *biopb.MethTableIndex
	cache *columnCache
	// rows is the row subset. nil means all rows.
	rows *roaring.Bitmap
}

// Open opens the table stored in directory dir. If region is nonempty, only
// the rows in the region are visible through the returned table.
func Open(ctx context.Context, dir string, region interval.Region) (*Table, error) {
	index, err := ReadIndex(ctx, dir)
	if err != nil {
		return nil, err
	}
	if index.NumRows > math.MaxUint32 {
		return nil, formatError(dir, "table has %d rows; at most %d are supported", index.NumRows, uint64(math.MaxUint32))
	}
	t := &Table{
		ctx:   ctx,
		dir:   dir,
		index: index,
		cache: &columnCache{},
	}
	log.Debug.Printf("methtable %s: opened, %d rows in %d chromosomes", dir, index.NumRows, len(index.Chroms))
	if region.Empty() {
		return t, nil
	}
	return t.Filter(region)
}

// Path returns the table directory.
func (t *Table) Path() string { return t.dir }

// Chroms returns the per-chromosome row spans of the whole table, in table
// order. The result is not affected by filters.
func (t *Table) Chroms() []*biopb.MethChromSpan { return t.index.Chroms }

// HasLowFreq checks if the table has the optional lowfreq column.
func (t *Table) HasLowFreq() bool { return hasColumn(t.index, ColLowFreq) }

// NumRows returns the number of rows in scope.
func (t *Table) NumRows() int {
	if t.rows == nil {
		return int(t.index.NumRows)
	}
	return int(t.rows.GetCardinality())
}

// Close releases the decoded columns. It invalidates the table and all the
// views derived from it.
func (t *Table) Close() error {
	if t.cache != nil {
		*t.cache = columnCache{}
	}
	t.cache = nil
	return nil
}

// column returns the decoded column, loading it if needed.
func (t *Table) column(c Column) (*columnData, error) {
	if t.cache == nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("methtable %s: table is closed", t.dir))
	}
	switch t.cache.state[c] {
	case loaded:
		return t.cache.data[c], nil
	case unloaded:
		if !hasColumn(t.index, c) {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("methtable %s: table has no column '%s'", t.dir, c))
		}
		data, err := readColumn(t.ctx, t.dir, c, t.index.NumRows)
		if err != nil {
			return nil, err
		}
		t.cache.data[c] = data
		t.cache.state[c] = loaded
		return data, nil
	}
	panic(t.cache.state[c])
}

// restrict returns a view of the rows in both t and sel. It takes ownership
// of sel.
func (t *Table) restrict(sel *roaring.Bitmap) *Table {
	if t.rows != nil {
		sel.And(t.rows)
	}
	return &Table{
		ctx:   t.ctx,
		dir:   t.dir,
		index: t.index,
		cache: t.cache,
		rows:  sel,
	}
}

func (t *Table) findChrom(chr string) *biopb.MethChromSpan {
	for _, span := range t.index.Chroms {
		if span.Name == chr {
			return span
		}
	}
	return nil
}

// Filter returns a view of the rows of t whose chromosome is region.Chr and
// whose position p satisfies region.Start < p < region.End. An empty region
// returns t itself. A chromosome absent from the table yields an empty view.
func (t *Table) Filter(region interval.Region) (*Table, error) {
	if region.Empty() {
		return t, nil
	}
	chrs, err := t.column(ColChr)
	if err != nil {
		return nil, err
	}
	pos, err := t.column(ColPos)
	if err != nil {
		return nil, err
	}
	sel := roaring.New()
	if span := t.findChrom(region.Chr); span != nil {
		lo, hi := span.StartRow, span.StartRow+span.NumRows
		if chrs.strs[lo] != region.Chr || chrs.strs[hi-1] != region.Chr {
			return nil, formatError(t.dir, "rows [%d,%d) do not belong to chromosome %s", lo, hi, region.Chr)
		}
		// Positions are sorted within a chromosome.
		p := pos.ints[lo:hi]
		i := sort.Search(len(p), func(i int) bool { return p[i] > region.Start })
		j := sort.Search(len(p), func(i int) bool { return p[i] >= region.End })
		if i < j {
			sel.AddRange(lo+uint64(i), lo+uint64(j))
		}
	}
	view := t.restrict(sel)
	log.Debug.Printf("methtable %s: region %v: %d rows", t.dir, region, view.NumRows())
	return view, nil
}

// FilterContext returns a view of the rows of t whose mc_class fully matches
// the regular expression, e.g. "C[ATC]G" or "CG.".
func (t *Table) FilterContext(pattern string) (*Table, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("methtable: context pattern %q", pattern), err)
	}
	classes, err := t.column(ColMCClass)
	if err != nil {
		return nil, err
	}
	// The number of distinct contexts is tiny.
	matches := map[string]bool{}
	sel := roaring.New()
	t.forEachRow(func(row uint32) {
		class := classes.strs[row]
		match, ok := matches[class]
		if !ok {
			match = re.MatchString(class)
			matches[class] = match
		}
		if match {
			sel.Add(row)
		}
	})
	return t.restrict(sel), nil
}

// forEachRow calls fn for every row in scope, in table order.
func (t *Table) forEachRow(fn func(row uint32)) {
	if t.rows == nil {
		for row := uint32(0); row < uint32(t.index.NumRows); row++ {
			fn(row)
		}
		return
	}
	it := t.rows.Iterator()
	for it.HasNext() {
		fn(it.Next())
	}
}

// contiguous returns the row range [lo, hi) if the rows in scope form one.
func (t *Table) contiguous() (lo, hi uint64, ok bool) {
	if t.rows == nil {
		return 0, t.index.NumRows, true
	}
	n := t.rows.GetCardinality()
	if n == 0 {
		return 0, 0, true
	}
	lo, hi = uint64(t.rows.Minimum()), uint64(t.rows.Maximum())+1
	return lo, hi, hi-lo == n
}

// selectRows returns the values of the rows in scope. When the rows are
// contiguous the result aliases the cached column.
func selectRows[T any](t *Table, values []T) []T {
	if lo, hi, ok := t.contiguous(); ok {
		return values[lo:hi:hi]
	}
	out := make([]T, 0, t.rows.GetCardinality())
	t.forEachRow(func(row uint32) {
		out = append(out, values[row])
	})
	return out
}

func (t *Table) strings(c Column) ([]string, error) {
	data, err := t.column(c)
	if err != nil {
		return nil, err
	}
	return selectRows(t, data.strs), nil
}

func (t *Table) ints(c Column) ([]int64, error) {
	data, err := t.column(c)
	if err != nil {
		return nil, err
	}
	return selectRows(t, data.ints), nil
}

func (t *Table) bools(c Column) ([]bool, error) {
	data, err := t.column(c)
	if err != nil {
		return nil, err
	}
	out := make([]bool, 0, t.NumRows())
	t.forEachRow(func(row uint32) {
		out = append(out, data.bytes[row] != 0)
	})
	return out, nil
}

// The column accessors below return the values of the rows in scope. The
// results may alias the table's cache and must not be modified.

// Chrs returns the chromosome names.
func (t *Table) Chrs() ([]string, error) { return t.strings(ColChr) }

// Positions returns the 1-based positions.
func (t *Table) Positions() ([]int64, error) { return t.ints(ColPos) }

// MCClass returns the sequence contexts.
func (t *Table) MCClass() ([]string, error) { return t.strings(ColMCClass) }

// MCCount returns the methylated read counts.
func (t *Table) MCCount() ([]int64, error) { return t.ints(ColMCCount) }

// Total returns the total read counts.
func (t *Table) Total() ([]int64, error) { return t.ints(ColTotal) }

// Methylated returns the "called methylated" flags.
func (t *Table) Methylated() ([]bool, error) { return t.bools(ColMethylated) }

// LowFreq returns the "low frequency" flags. It returns an errors.NotExist
// error if the table was written without them.
func (t *Table) LowFreq() ([]bool, error) { return t.bools(ColLowFreq) }

// Strand returns the strands, '+' or '-'.
func (t *Table) Strand() ([]byte, error) {
	data, err := t.column(ColStrand)
	if err != nil {
		return nil, err
	}
	return selectRows(t, data.bytes), nil
}

// Scan calls fn for every row in scope, in table order. Scan stops at the
// first error returned by fn.
func (t *Table) Scan(fn func(r Record) error) error {
	var cols [NumColumns]*columnData
	for c := Column(0); c < NumColumns; c++ {
		if c == ColLowFreq && !t.HasLowFreq() {
			continue
		}
		var err error
		if cols[c], err = t.column(c); err != nil {
			return err
		}
	}
	var err error
	t.forEachRow(func(row uint32) {
		if err != nil {
			return
		}
		r := Record{
			Chr:        cols[ColChr].strs[row],
			Pos:        cols[ColPos].ints[row],
			Strand:     cols[ColStrand].bytes[row],
			MCClass:    cols[ColMCClass].strs[row],
			MCCount:    cols[ColMCCount].ints[row],
			Total:      cols[ColTotal].ints[row],
			Methylated: cols[ColMethylated].bytes[row] != 0,
		}
		if cols[ColLowFreq] != nil {
			r.LowFreq = cols[ColLowFreq].bytes[row] != 0
		}
		err = fn(r)
	})
	return err
}

// Records returns the rows in scope.
func (t *Table) Records() ([]Record, error) {
	records := make([]Record, 0, t.NumRows())
	err := t.Scan(func(r Record) error {
		records = append(records, r)
		return nil
	})
	return records, err
}

// ReadAll reads the rows of the table in dir that fall in the region.
func ReadAll(ctx context.Context, dir string, region interval.Region) ([]Record, error) {
	t, err := Open(ctx, dir, region)
	if err != nil {
		return nil, err
	}
	defer t.Close() // nolint: errcheck
	return t.Records()
}

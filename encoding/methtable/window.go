// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package methtable

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bshap/biopb"
	"github.com/grailbio/bshap/interval"
)

// Window is a genomic interval in BED coordinates: 0-based, half-open. It
// covers the 1-based positions Start+1..End.
type Window struct {
	Chr        string
	Start, End int64
}

// Region returns the strict region selecting the positions of the window.
func (w Window) Region() interval.Region {
	return interval.Region{Chr: w.Chr, Start: w.Start, End: w.End + 1}
}

// String returns "chr:start-end".
func (w Window) String() string {
	return fmt.Sprintf("%s:%d-%d", w.Chr, w.Start, w.End)
}

func validateTiling(size, overlap int64) error {
	if size <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("window size must be positive, but got %d", size))
	}
	if overlap < 0 || overlap >= size {
		return errors.E(errors.Invalid, fmt.Sprintf("window overlap must be in [0, %d), but got %d", size, overlap))
	}
	return nil
}

// TileRegion splits the region into windows of size bases whose starts are
// size-overlap apart. The last window is clipped to the region.
func TileRegion(region interval.Region, size, overlap int64) ([]Window, error) {
	if err := validateTiling(size, overlap); err != nil {
		return nil, err
	}
	if region.End <= region.Start {
		return nil, nil
	}
	// The region covers the 1-based positions Start+1..End-1, i.e. the BED
	// interval [Start, End-1).
	end := region.End - 1
	step := size - overlap
	var windows []Window
	// Compare distances rather than sums so that regions near MaxInt64 do
	// not overflow.
	for s := region.Start; s < end; s += step {
		e := end
		if end-s > size {
			e = s + size
		}
		windows = append(windows, Window{Chr: region.Chr, Start: s, End: e})
		if e == end || end-s <= step {
			break
		}
	}
	return windows, nil
}

// Windows tiles every chromosome in spans, from position 1 to the largest
// position of the chromosome.
func Windows(spans []*biopb.MethChromSpan, size, overlap int64) ([]Window, error) {
	if err := validateTiling(size, overlap); err != nil {
		return nil, err
	}
	var windows []Window
	for _, span := range spans {
		w, err := TileRegion(interval.Region{Chr: span.Name, Start: 0, End: span.MaxPos + 1}, size, overlap)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w...)
	}
	return windows, nil
}

// WindowSummary is the summary statistic of one window.
type WindowSummary struct {
	Window
	// NumRows is the number of cytosines in the window.
	NumRows int
	// Value is NaN when the window has no usable rows.
	Value float64
}

// SummarizeWindows computes the summary statistic of each window over the
// rows of t.
func SummarizeWindows(t *Table, windows []Window, method Method) ([]WindowSummary, error) {
	result := make([]WindowSummary, 0, len(windows))
	for _, w := range windows {
		view, err := t.Filter(w.Region())
		if err != nil {
			return nil, err
		}
		v, err := SummaryStatistic(view, method)
		if err != nil {
			return nil, err
		}
		result = append(result, WindowSummary{Window: w, NumRows: view.NumRows(), Value: v})
	}
	return result, nil
}

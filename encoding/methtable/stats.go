// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package methtable

import (
	"fmt"
	"math"
	"strconv"

	"github.com/grailbio/base/errors"
	"gonum.org/v1/gonum/stat"
)

// Method selects the formula used by SummaryStatistic.
type Method int

const (
	// WeightedMean is sum(mc_count) / sum(total).
	WeightedMean Method = 1
	// CalledFraction is the fraction of rows flagged methylated.
	CalledFraction Method = 2
	// MeanRatio is the mean of mc_count/total over rows with total > 0.
	MeanRatio Method = 3
)

// String returns the name of the method.
func (m Method) String() string {
	switch m {
	case WeightedMean:
		return "weighted_mean"
	case CalledFraction:
		return "called_fraction"
	case MeanRatio:
		return "mean_ratio"
	}
	return fmt.Sprintf("method%d", int(m))
}

// ParseMethod parses "1", "2", "3" or a method name.
func ParseMethod(s string) (Method, error) {
	for _, m := range []Method{WeightedMean, CalledFraction, MeanRatio} {
		if s == m.String() || s == strconv.Itoa(int(m)) {
			return m, nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("unknown summary method '%s'; must be 1, 2 or 3", s))
}

// SummaryStatistic computes the methylation level of the rows in scope of
// the table. It returns NaN if no row is in scope, if sum(total) is zero for
// WeightedMean, and if no row has total > 0 for MeanRatio.
func SummaryStatistic(t *Table, method Method) (float64, error) {
	switch method {
	case WeightedMean, CalledFraction, MeanRatio:
	default:
		return 0, errors.E(errors.Invalid, fmt.Sprintf("methtable: unknown summary method %d", int(method)))
	}
	if t.NumRows() == 0 {
		return math.NaN(), nil
	}
	switch method {
	case WeightedMean:
		mc, err := t.MCCount()
		if err != nil {
			return 0, err
		}
		total, err := t.Total()
		if err != nil {
			return 0, err
		}
		var sumMC, sumTotal int64
		for i := range mc {
			sumMC += mc[i]
			sumTotal += total[i]
		}
		if sumTotal == 0 {
			return math.NaN(), nil
		}
		return float64(sumMC) / float64(sumTotal), nil
	case CalledFraction:
		methylated, err := t.Methylated()
		if err != nil {
			return 0, err
		}
		n := 0
		for _, m := range methylated {
			if m {
				n++
			}
		}
		return float64(n) / float64(len(methylated)), nil
	default:
		mc, err := t.MCCount()
		if err != nil {
			return 0, err
		}
		total, err := t.Total()
		if err != nil {
			return 0, err
		}
		ratios := make([]float64, 0, len(mc))
		for i := range mc {
			if total[i] > 0 {
				ratios = append(ratios, float64(mc[i])/float64(total[i]))
			}
		}
		if len(ratios) == 0 {
			return math.NaN(), nil
		}
		return stat.Mean(ratios, nil), nil
	}
}

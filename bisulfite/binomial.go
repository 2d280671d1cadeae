// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bisulfite

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bshap/encoding/methtable"
	"gonum.org/v1/gonum/stat/distuv"
)

// BinomialPValue returns P(X >= mc) for X ~ Binomial(total, rate): the
// probability of observing at least mc unconverted reads out of total if
// every unconverted read were a conversion failure.
func BinomialPValue(mc, total int64, rate float64) float64 {
	if mc <= 0 {
		return 1
	}
	if mc > total {
		return 0
	}
	b := distuv.Binomial{N: float64(total), P: rate}
	p := 1 - b.CDF(float64(mc-1))
	if p < 0 {
		p = 0
	}
	return p
}

// IsMethylated checks if the site's methylated read count is significantly
// above the non-conversion rate.
func IsMethylated(mc, total int64, rate, alpha float64) bool {
	return total > 0 && BinomialPValue(mc, total, rate) < alpha
}

// NonConversionRate estimates the bisulfite non-conversion rate from the
// sites of an unmethylated control chromosome, e.g. the chloroplast "ChrC"
// or lambda phage DNA, as sum(mc_count)/sum(total). A trailing ':' in control
// is ignored, so methylpy-style "ChrC:" works as well.
func NonConversionRate(records []methtable.Record, control string) (float64, error) {
	if n := len(control); n > 0 && control[n-1] == ':' {
		control = control[:n-1]
	}
	var mc, total int64
	for _, r := range records {
		if r.Chr == control {
			mc += r.MCCount
			total += r.Total
		}
	}
	if total == 0 {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("no reads on the unmethylated control %s", control))
	}
	rate := float64(mc) / float64(total)
	log.Printf("non-conversion rate from %s: %d/%d = %g", control, mc, total, rate)
	return rate, nil
}

// CallLowFreq sets the LowFreq flag of the sites that are not called
// methylated but whose methylated read count is unlikely under the
// non-conversion rate (p < threshold). It returns the number of low-frequency
// sites.
func CallLowFreq(records []methtable.Record, rate, threshold float64) int {
	n := 0
	for i := range records {
		r := &records[i]
		r.LowFreq = !r.Methylated && r.Total > 0 && BinomialPValue(r.MCCount, r.Total, rate) < threshold
		if r.LowFreq {
			n++
		}
	}
	log.Debug.Printf("%d of %d sites are low frequency", n, len(records))
	return n
}

package interval

import (
	"fmt"
	"strconv"
	"strings"
)

// Region selects the cytosines of one chromosome whose position lies strictly
// between Start and End. Both bounds are exclusive: a position equal to
// Start or End is not part of the region. Positions use the same coordinate
// system as the methylation table (1-based, as in allc files).
//
// The zero Region is "empty" and means "no filtering".
type Region struct {
	Chr        string
	Start, End int64
}

// Empty checks if the region is the "no filtering" sentinel.
func (r Region) Empty() bool {
	return r.Chr == ""
}

// Contains checks if the cytosine at (chr, pos) falls in the region.
func (r Region) Contains(chr string, pos int64) bool {
	return chr == r.Chr && pos > r.Start && pos < r.End
}

// String returns the region in the "chr,start,end" form accepted by
// ParseRegion.
func (r Region) String() string {
	if r.Empty() {
		return "0,0,0"
	}
	return fmt.Sprintf("%s,%d,%d", r.Chr, r.Start, r.End)
}

// ParseRegion parses a string of form "chr,start,end", e.g. "Chr1,1,100".
// An empty string and "0,0,0" both yield the empty region.
func ParseRegion(s string) (Region, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0,0,0" {
		return Region{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Region{}, fmt.Errorf("region %q: must be of form 'chr,start,end'", s)
	}
	r := Region{Chr: strings.TrimSpace(parts[0])}
	if r.Chr == "" {
		return Region{}, fmt.Errorf("region %q: empty chromosome name", s)
	}
	var err error
	if r.Start, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64); err != nil {
		return Region{}, fmt.Errorf("region %q: start: %v", s, err)
	}
	if r.End, err = strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64); err != nil {
		return Region{}, fmt.Errorf("region %q: end: %v", s, err)
	}
	if r.Start < 0 || r.End < r.Start {
		return Region{}, fmt.Errorf("region %q: invalid range [%d, %d]", s, r.Start, r.End)
	}
	return r, nil
}

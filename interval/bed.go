package interval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
)

// NewBEDRegions reads BED intervals from the reader. BED intervals are 0-based
// and half-open, so the interval [s, e) covers the 1-based positions s+1..e,
// and becomes Region{chr, s, e+1}. "track", "browser" and '#' lines are
// skipped. Intervals are returned in file order.
func NewBEDRegions(r io.Reader) ([]Region, error) {
	var regions []Region
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 1<<20)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if line == "" || line[0] == '#' || strings.HasPrefix(line, "track") || strings.HasPrefix(line, "browser") {
			continue
		}
		tokens := strings.Fields(line)
		if len(tokens) < 3 {
			return nil, fmt.Errorf("line %d: BED line must have at least 3 columns: %q", lineno, line)
		}
		start, err := strconv.ParseInt(tokens[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid start: %v", lineno, err)
		}
		end, err := strconv.ParseInt(tokens[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid end: %v", lineno, err)
		}
		if start < 0 || end < start {
			return nil, fmt.Errorf("line %d: invalid interval [%d, %d)", lineno, start, end)
		}
		regions = append(regions, Region{Chr: tokens[0], Start: start, End: end + 1})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return regions, nil
}

// ReadBED reads a (possibly gzipped) BED file. See NewBEDRegions.
func ReadBED(ctx context.Context, path string) (regions []Region, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader := io.Reader(in.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		if reader, err = gzip.NewReader(reader); err != nil {
			return nil, err
		}
	}
	if regions, err = NewBEDRegions(reader); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return regions, nil
}

// IsFile checks if the region argument names an existing file, in which case
// it should be read with ReadBED instead of ParseRegion.
func IsFile(ctx context.Context, arg string) bool {
	if arg == "" {
		return false
	}
	_, err := file.Stat(ctx, arg)
	return err == nil
}

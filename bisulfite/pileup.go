// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bisulfite

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bshap/encoding/fasta"
	"github.com/grailbio/bshap/encoding/methtable"
	"github.com/grailbio/bshap/interval"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
)

// PileupOpts defines options for Pileup.
type PileupOpts struct {
	// MinMapQ is the minimum mapping quality of a read.
	MinMapQ byte
	// MinBaseQ is the minimum quality of a base to be called.
	MinBaseQ byte
	// IncludeDuplicates causes reads flagged as duplicates to be used.
	IncludeDuplicates bool
	// MinCoverage is the minimum number of calls for a site to be reported.
	MinCoverage int64
	// NonConversionRate is the expected fraction of unmethylated cytosines
	// that escape conversion.
	NonConversionRate float64
	// Alpha is the p-value threshold of the binomial test that flags a site
	// as methylated.
	Alpha float64
}

// DefaultPileupOpts is the default value of PileupOpts.
var DefaultPileupOpts = PileupOpts{
	MinMapQ:           10,
	MinBaseQ:          13,
	MinCoverage:       1,
	NonConversionRate: 0.005,
	Alpha:             0.01,
}

// PileupStats summarizes a Pileup run.
type PileupStats struct {
	Reads         int64 // reads read from the BAM file
	FilteredReads int64 // reads dropped by the flag and quality filters
	Calls         int64 // cytosine calls
	Sites         int64 // records emitted
}

type siteCounts struct {
	strand    Strand
	mc, total int64
}

type piler struct {
	opts  PileupOpts
	ref   fasta.Fasta
	emit  func(methtable.Record) error
	stats PileupStats

	chr    string
	chrSeq string
	// filter lists the regions whose cytosines are reported. Empty means
	// everything.
	filter []interval.Region
	sites  map[int]*siteCounts
	// lastEmitted is the 0-based position of the last emitted site on chr.
	lastEmitted int
	lastPos     int
	doneChrs    map[string]bool
}

func (p *piler) setChrom(name string) error {
	if name == p.chr {
		return nil
	}
	if err := p.flush(-1); err != nil {
		return err
	}
	if p.chr != "" {
		p.doneChrs[p.chr] = true
	}
	if p.doneChrs[name] {
		return errors.E(errors.Invalid, fmt.Sprintf("reads of %s are not contiguous; the BAM file must be sorted by coordinate", name))
	}
	var err error
	if p.chrSeq, err = chromSeq(p.ref, name); err != nil {
		return err
	}
	p.chr = name
	p.lastEmitted = -1
	p.lastPos = -1
	log.Debug.Printf("pileup: start %s (%d bases)", name, len(p.chrSeq))
	return nil
}

func (p *piler) usable(rec *sam.Record) bool {
	if rec.Ref == nil || rec.Pos < 0 || rec.Flags&(sam.Unmapped|sam.Secondary|sam.Supplementary|sam.QCFail) != 0 {
		return false
	}
	if rec.Flags&sam.Duplicate != 0 && !p.opts.IncludeDuplicates {
		return false
	}
	return rec.MapQ >= p.opts.MinMapQ && rec.MapQ != 255
}

func (p *piler) inFilter(pos int) bool {
	if len(p.filter) == 0 {
		return true
	}
	for _, r := range p.filter {
		if r.Contains(p.chr, int64(pos)+1) {
			return true
		}
	}
	return false
}

// add adds the calls of a read. Reads must arrive in coordinate order.
func (p *piler) add(rec *sam.Record) error {
	p.stats.Reads++
	if !p.usable(rec) {
		p.stats.FilteredReads++
		return nil
	}
	if err := p.setChrom(rec.Ref.Name()); err != nil {
		return err
	}
	if rec.Pos < p.lastPos {
		return errors.E(errors.Invalid, fmt.Sprintf("read %s at %s:%d follows position %d; the BAM file must be sorted by coordinate",
			rec.Name, p.chr, rec.Pos, p.lastPos))
	}
	p.lastPos = rec.Pos
	// No later read can add calls before rec.Pos.
	if err := p.flush(rec.Pos); err != nil {
		return err
	}
	calls, err := CallRead(rec, p.chrSeq, CallOpts{MinBaseQ: p.opts.MinBaseQ})
	if err != nil {
		return err
	}
	for _, c := range calls {
		if c.Pos <= p.lastEmitted || !p.inFilter(c.Pos) {
			continue
		}
		s := p.sites[c.Pos]
		if s == nil {
			s = &siteCounts{strand: c.Strand}
			p.sites[c.Pos] = s
		} else if s.strand != c.Strand {
			continue
		}
		s.total++
		if c.Methylated {
			s.mc++
		}
		p.stats.Calls++
	}
	return nil
}

// flush emits the sites before the 0-based position limit, or all the sites
// if limit is negative.
func (p *piler) flush(limit int) error {
	if len(p.sites) == 0 {
		return nil
	}
	var positions []int
	for pos := range p.sites {
		if limit < 0 || pos < limit {
			positions = append(positions, pos)
		}
	}
	sort.Ints(positions)
	for _, pos := range positions {
		s := p.sites[pos]
		delete(p.sites, pos)
		if s.total < p.opts.MinCoverage {
			continue
		}
		class, ok := Context(p.chrSeq, pos, s.strand)
		if !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("pileup: %s:%d is not a cytosine on strand %c", p.chr, pos+1, s.strand))
		}
		r := methtable.Record{
			Chr:        p.chr,
			Pos:        int64(pos) + 1,
			Strand:     byte(s.strand),
			MCClass:    class,
			MCCount:    s.mc,
			Total:      s.total,
			Methylated: IsMethylated(s.mc, s.total, p.opts.NonConversionRate, p.opts.Alpha),
		}
		if err := p.emit(r); err != nil {
			return err
		}
		p.lastEmitted = pos
		p.stats.Sites++
	}
	return nil
}

// mergeRegions sorts the regions in the order of the references in the
// header and merges overlapping ones. Regions on unknown references are
// dropped.
func mergeRegions(header *sam.Header, regions []interval.Region) []interval.Region {
	refIndex := map[string]int{}
	for i, ref := range header.Refs() {
		refIndex[ref.Name()] = i
	}
	var sorted []interval.Region
	for _, r := range regions {
		if _, ok := refIndex[r.Chr]; !ok {
			log.Printf("pileup: reference %s not found in the BAM header, skipping region %v", r.Chr, r)
			continue
		}
		sorted = append(sorted, r)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := refIndex[sorted[i].Chr], refIndex[sorted[j].Chr]
		if ri != rj {
			return ri < rj
		}
		return sorted[i].Start < sorted[j].Start
	})
	var merged []interval.Region
	for _, r := range sorted {
		if n := len(merged); n > 0 && merged[n-1].Chr == r.Chr && r.Start < merged[n-1].End {
			if r.End > merged[n-1].End {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Pileup reads a coordinate-sorted BAM file and calls emit with one record
// per covered cytosine, in coordinate order. If regions is nonempty, only the
// cytosines in the regions are reported, and the BAM index "<bamPath>.bai" is
// used to skip to the regions when it exists.
func Pileup(ctx context.Context, bamPath string, ref fasta.Fasta, regions []interval.Region,
	opts PileupOpts, emit func(methtable.Record) error) (stats PileupStats, err error) {
	var in file.File
	if in, err = file.Open(ctx, bamPath); err != nil {
		return stats, errors.E(err, fmt.Sprintf("open %s", bamPath))
	}
	defer file.CloseAndReport(ctx, in, &err)
	br, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return stats, errors.E(errors.Invalid, bamPath, err)
	}
	defer br.Close() // nolint: errcheck

	p := &piler{
		opts:     opts,
		ref:      ref,
		emit:     emit,
		sites:    map[int]*siteCounts{},
		doneChrs: map[string]bool{},
	}
	var idx *bam.Index
	if len(regions) > 0 {
		regions = mergeRegions(br.Header(), regions)
		if len(regions) == 0 {
			return p.stats, nil
		}
		if idx, err = readIndex(ctx, bamPath+".bai"); err != nil {
			return p.stats, err
		}
	}
	if idx == nil {
		// Scan the whole file.
		byChr := map[string][]interval.Region{}
		for _, r := range regions {
			byChr[r.Chr] = append(byChr[r.Chr], r)
		}
		for {
			rec, err := br.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return p.stats, errors.E(errors.Invalid, bamPath, err)
			}
			if len(regions) > 0 && rec.Ref != nil {
				rs, ok := byChr[rec.Ref.Name()]
				if !ok {
					continue
				}
				p.filter = rs
			}
			if err := p.add(rec); err != nil {
				return p.stats, err
			}
		}
		err = p.flush(-1)
		return p.stats, err
	}

	refs := map[string]*sam.Reference{}
	for _, r := range br.Header().Refs() {
		refs[r.Name()] = r
	}
	for _, region := range regions {
		if err := p.flush(-1); err != nil {
			return p.stats, err
		}
		p.filter = []interval.Region{region}
		p.lastPos = -1
		beg, end := int(region.Start), int(region.End)-1
		if end <= beg {
			continue
		}
		ref := refs[region.Chr]
		chunks, err := idx.Chunks(ref, beg, end)
		if err == index.ErrInvalid || err == index.ErrNoReference || (err == nil && len(chunks) == 0) {
			log.Debug.Printf("pileup: no reads in %v", region)
			continue
		}
		if err != nil {
			return p.stats, err
		}
		if err := br.Seek(chunks[0].Begin); err != nil {
			return p.stats, err
		}
		// The chromosome may have been visited by the previous region.
		delete(p.doneChrs, region.Chr)
		for {
			rec, err := br.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return p.stats, errors.E(errors.Invalid, bamPath, err)
			}
			if rec.Ref != ref || rec.Pos >= end {
				break
			}
			if err := p.add(rec); err != nil {
				return p.stats, err
			}
		}
	}
	err = p.flush(-1)
	return p.stats, err
}

// readIndex reads a BAM index. It returns nil if the index does not exist.
func readIndex(ctx context.Context, path string) (idx *bam.Index, err error) {
	if _, err := file.Stat(ctx, path); err != nil {
		log.Printf("pileup: %s not found, scanning the whole BAM file", path)
		return nil, nil
	}
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	if idx, err = bam.ReadIndex(in.Reader(ctx)); err != nil {
		return nil, errors.E(errors.Invalid, path, err)
	}
	return idx, nil
}

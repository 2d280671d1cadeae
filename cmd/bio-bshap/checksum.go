// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash"
	"io"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/bshap/encoding/methtable"
	"github.com/grailbio/bshap/interval"
	"v.io/x/lib/cmdline"
)

// chromChecksum is the checksum of the rows of one chromosome. Each Sum field
// is a commutative sum of per-row hashes, so two tables holding the same rows
// have the same checksum regardless of their block layout.
type chromChecksum struct {
	// Name is the name of the chromosome.
	Name string
	// NRows is the number of rows.
	NRows int64
	// SumPos is the sum of all positions.
	SumPos uint64
	// SumStrand is the sum of strand hashes.
	SumStrand uint64
	// SumMCClass is the sum of context hashes.
	SumMCClass uint64
	// SumCounts is the sum of hashes of (mc_count, total).
	SumCounts uint64
	// SumMethylated is the sum of hashes of the methylated flags.
	SumMethylated uint64
	// SumLowFreq is the sum of hashes of the lowfreq flags. It is zero if the
	// table has no lowfreq column.
	SumLowFreq uint64
}

func hashField(h hash.Hash64, pos [8]byte, value []byte) uint64 {
	h.Reset()
	h.Write(pos[:]) // nolint: errcheck
	h.Write(value)  // nolint: errcheck
	return h.Sum64()
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (c *chromChecksum) add(r methtable.Record, h hash.Hash64, lowFreq bool) {
	c.NRows++
	c.SumPos += uint64(r.Pos)

	pos := [8]byte{}
	binary.LittleEndian.PutUint64(pos[:], uint64(r.Pos))

	value := [16]byte{}
	value[0] = r.Strand
	c.SumStrand += hashField(h, pos, value[:1])
	c.SumMCClass += hashField(h, pos, []byte(r.MCClass))
	binary.LittleEndian.PutUint64(value[:8], uint64(r.MCCount))
	binary.LittleEndian.PutUint64(value[8:], uint64(r.Total))
	c.SumCounts += hashField(h, pos, value[:16])
	value[0] = boolByte(r.Methylated)
	c.SumMethylated += hashField(h, pos, value[:1])
	if lowFreq {
		value[0] = boolByte(r.LowFreq)
		c.SumLowFreq += hashField(h, pos, value[:1])
	}
}

// tableChecksum is the checksum of a methylation table.
type tableChecksum struct {
	Chroms []chromChecksum // One per chromosome, in table order.
}

func checksumTable(ctx context.Context, dir string) (csum tableChecksum, err error) {
	t, err := methtable.Open(ctx, dir, interval.Region{})
	if err != nil {
		return csum, err
	}
	defer func() {
		if e := t.Close(); e != nil && err == nil {
			err = e
		}
	}()
	h := seahash.New()
	lowFreq := t.HasLowFreq()
	var cur *chromChecksum
	err = t.Scan(func(r methtable.Record) error {
		if cur == nil || cur.Name != r.Chr {
			csum.Chroms = append(csum.Chroms, chromChecksum{Name: r.Chr})
			cur = &csum.Chroms[len(csum.Chroms)-1]
		}
		cur.add(r, h, lowFreq)
		return nil
	})
	return csum, err
}

func checksum(ctx context.Context, dir string, out io.Writer) error {
	csum, err := checksumTable(ctx, dir)
	if err != nil {
		return err
	}
	js, err := json.MarshalIndent(csum, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(js))
	return err
}

func newCmdChecksum() *cmdline.Command {
	cmd := &cmdline.Command{
		Name: "checksum",
		Short: `Compute a checksum of a methylation table.
The checksum is a JSON string summarizing the rows of each chromosome`,
		ArgsName: "path",
	}
	cmd.Runner = newRunner(func(ctx context.Context, env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return invalidArgs("checksum takes a path, but found %v", argv)
		}
		if err := requireTable(ctx, "path", argv[0]); err != nil {
			return err
		}
		return checksum(ctx, argv[0], env.Stdout)
	})
	return cmd
}

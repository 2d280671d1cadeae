// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package methtable implements a reader and a writer for methylation tables.
//
// A methylation table stores one record per cytosine: chromosome, position,
// strand, sequence context (mc_class), methylated-read count, total-read
// count, a "called methylated" flag and an optional "low frequency" flag. The
// records are stored column by column. A table is a directory:
//
//   sample.mtab/index       biopb.MethTableIndex
//   sample.mtab/chr         string, prefix-delta encoded
//   sample.mtab/pos         varint, delta encoded
//   sample.mtab/strand      one byte, '+' or '-'
//   sample.mtab/mc_class    string, prefix-delta encoded
//   sample.mtab/mc_count    varint
//   sample.mtab/total       varint
//   sample.mtab/methylated  one byte, 0 or 1
//   sample.mtab/lowfreq     one byte, 0 or 1 (optional)
//
// Each column file is a recordio file. Every recordio block stores the values
// of up to WriteOpts.RowsPerBlock consecutive rows, and the recordio trailer
// stores a biopb.MethColumnIndex listing the row count and the farmhash
// fingerprint of each block. Rows of one chromosome are contiguous, and the
// positions within a chromosome are strictly increasing.
//
// Open returns a Table, which loads columns on demand. A table can be
// restricted to a genomic region (see interval.Region) or to a set of
// sequence contexts; the restriction is computed once and applied to every
// column read afterwards. SummaryStatistic computes methylation averages
// over the rows of a table.
package methtable

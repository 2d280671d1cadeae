// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package biopb defines the messages stored in the index and trailer blocks of
// methylation table files. The messages are serialized with gogo/protobuf
// using the struct tags below; field numbers must never be reused.
package biopb

import (
	"github.com/gogo/protobuf/proto"
)

// MethTableIndex is stored in "<table>/index". It describes the whole table.
type MethTableIndex struct {
	// Magic must be methtable.TableIndexMagic.
	Magic uint64 `protobuf:"fixed64,1,opt,name=magic,proto3" json:"magic,omitempty"`
	// Version is the format version string, e.g. "MTAB1".
	Version string `protobuf:"bytes,2,opt,name=version,proto3" json:"version,omitempty"`
	// NumRows is the number of cytosine records. Every column file stores
	// exactly this many values.
	NumRows uint64 `protobuf:"varint,3,opt,name=num_rows,json=numRows,proto3" json:"num_rows,omitempty"`
	// Columns lists the column files present in the table directory.
	Columns []string `protobuf:"bytes,4,rep,name=columns,proto3" json:"columns,omitempty"`
	// Chroms lists the chromosomes in the order they appear in the table.
	Chroms []*MethChromSpan `protobuf:"bytes,5,rep,name=chroms,proto3" json:"chroms,omitempty"`
}

// Reset implements proto.Message.
func (m *MethTableIndex) Reset() { *m = MethTableIndex{} }

// String implements proto.Message.
func (m *MethTableIndex) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*MethTableIndex) ProtoMessage() {}

// MethChromSpan describes the contiguous run of rows of one chromosome.
type MethChromSpan struct {
	Name     string `protobuf:"bytes,1,opt,name=name,proto3" json:"name,omitempty"`
	StartRow uint64 `protobuf:"varint,2,opt,name=start_row,json=startRow,proto3" json:"start_row,omitempty"`
	NumRows  uint64 `protobuf:"varint,3,opt,name=num_rows,json=numRows,proto3" json:"num_rows,omitempty"`
	// MinPos and MaxPos are the smallest and the largest positions found on
	// the chromosome, both inclusive.
	MinPos int64 `protobuf:"varint,4,opt,name=min_pos,json=minPos,proto3" json:"min_pos,omitempty"`
	MaxPos int64 `protobuf:"varint,5,opt,name=max_pos,json=maxPos,proto3" json:"max_pos,omitempty"`
}

// Reset implements proto.Message.
func (m *MethChromSpan) Reset() { *m = MethChromSpan{} }

// String implements proto.Message.
func (m *MethChromSpan) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*MethChromSpan) ProtoMessage() {}

// MethColumnIndex is stored in the trailer of each column file.
type MethColumnIndex struct {
	// Magic must be methtable.ColumnIndexMagic.
	Magic   uint64 `protobuf:"fixed64,1,opt,name=magic,proto3" json:"magic,omitempty"`
	Version string `protobuf:"bytes,2,opt,name=version,proto3" json:"version,omitempty"`
	// Column is the column name, e.g., "mc_count".
	Column  string                 `protobuf:"bytes,3,opt,name=column,proto3" json:"column,omitempty"`
	NumRows uint64                 `protobuf:"varint,4,opt,name=num_rows,json=numRows,proto3" json:"num_rows,omitempty"`
	Blocks  []*MethBlockIndexEntry `protobuf:"bytes,5,rep,name=blocks,proto3" json:"blocks,omitempty"`
}

// Reset implements proto.Message.
func (m *MethColumnIndex) Reset() { *m = MethColumnIndex{} }

// String implements proto.Message.
func (m *MethColumnIndex) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*MethColumnIndex) ProtoMessage() {}

// MethBlockIndexEntry describes one recordio block of a column file. Blocks
// are stored in row order.
type MethBlockIndexEntry struct {
	NumRows uint32 `protobuf:"varint,1,opt,name=num_rows,json=numRows,proto3" json:"num_rows,omitempty"`
	// Fingerprint is the farmhash fingerprint of the uncompressed block payload.
	Fingerprint uint64 `protobuf:"fixed64,2,opt,name=fingerprint,proto3" json:"fingerprint,omitempty"`
}

// Reset implements proto.Message.
func (m *MethBlockIndexEntry) Reset() { *m = MethBlockIndexEntry{} }

// String implements proto.Message.
func (m *MethBlockIndexEntry) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*MethBlockIndexEntry) ProtoMessage() {}

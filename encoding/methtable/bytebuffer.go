// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package methtable

import (
	"encoding/binary"
	"fmt"
)

// byteBuffer is an append-only buffer with varint helpers. It grows
// automatically.
type byteBuffer []byte

// Ensure that b can store at least "bytes" more bytes.
func (b *byteBuffer) alloc(bytes int) []byte {
	blen := len(*b)
	newLen := blen + bytes
	if cap(*b) >= newLen {
		(*b) = (*b)[:newLen]
		return (*b)[blen:]
	}
	newCap := (newLen/16 + 1) * 16
	if newCap < cap(*b)*2 {
		newCap = cap(*b) * 2
	}
	newBuf := make([]byte, newLen, newCap)
	copy(newBuf, *b)
	*b = newBuf
	return (*b)[blen:]
}

// PutUint8 adds one byte to the buffer.
func (b *byteBuffer) PutUint8(value uint8) {
	(b.alloc(1))[0] = value
}

// PutString adds a string, w/o prefixing its length.
func (b *byteBuffer) PutString(data string) {
	copy(b.alloc(len(data)), data)
}

// PutVarint64 adds the value as a signed varint.
func (b *byteBuffer) PutVarint64(value int64) {
	x := b.alloc(binary.MaxVarintLen64)
	n := binary.PutVarint(x, value)
	if delta := binary.MaxVarintLen64 - n; delta != 0 {
		(*b) = (*b)[:len(*b)-delta]
	}
}

// PutUvarint64 adds the value as an unsigned varint.
func (b *byteBuffer) PutUvarint64(value uint64) {
	x := b.alloc(binary.MaxVarintLen64)
	n := binary.PutUvarint(x, value)
	if delta := binary.MaxVarintLen64 - n; delta != 0 {
		(*b) = (*b)[:len(*b)-delta]
	}
}

// byteDecoder reads values written by byteBuffer. Once a read runs past the
// end of the data, every later read returns zero and err is set.
type byteDecoder struct {
	buf []byte
	err error
}

func (d *byteDecoder) underflow(what string) {
	if d.err == nil {
		d.err = fmt.Errorf("truncated block while reading %s", what)
	}
	d.buf = nil
}

// Uint8 reads one byte.
func (d *byteDecoder) Uint8() uint8 {
	if len(d.buf) < 1 {
		d.underflow("uint8")
		return 0
	}
	value := d.buf[0]
	d.buf = d.buf[1:]
	return value
}

// Varint64 reads a signed varint.
func (d *byteDecoder) Varint64() int64 {
	value, n := binary.Varint(d.buf)
	if n <= 0 {
		d.underflow("varint")
		return 0
	}
	d.buf = d.buf[n:]
	return value
}

// Uvarint64 reads an unsigned varint.
func (d *byteDecoder) Uvarint64() uint64 {
	value, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.underflow("uvarint")
		return 0
	}
	d.buf = d.buf[n:]
	return value
}

// RawBytes extracts the next n bytes. The result aliases the decoder's buffer.
func (d *byteDecoder) RawBytes(n int) []byte {
	if n < 0 || len(d.buf) < n {
		d.underflow("bytes")
		return nil
	}
	value := d.buf[:n]
	d.buf = d.buf[n:]
	return value
}

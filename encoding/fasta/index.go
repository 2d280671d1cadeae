package fasta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
)

// faiBuilder accumulates the index entry of the sequence being scanned.
type faiBuilder struct {
	out *tsv.Writer

	name      string
	offset    int64 // Byte offset of the first base.
	length    int64 // Number of bases so far.
	lineBases int   // Bases per line, set by the first line.
	lineWidth int   // Bytes per line including the newline.
	shortLine bool  // A line shorter than lineBases was seen.
}

func (b *faiBuilder) start(name string, offset int64) error {
	if err := b.flush(); err != nil {
		return err
	}
	*b = faiBuilder{out: b.out, name: name, offset: offset}
	return nil
}

func (b *faiBuilder) addLine(fullLine, bases []byte) error {
	if b.name == "" {
		return errors.E(errors.Invalid, "malformed FASTA file: sequence data before the first '>' line")
	}
	if b.lineWidth == 0 {
		b.lineWidth = len(fullLine)
		b.lineBases = len(bases)
	} else if b.shortLine || len(bases) > b.lineBases {
		return errors.E(errors.Invalid, fmt.Sprintf("sequence %s: lines have different lengths", b.name))
	}
	if len(bases) < b.lineBases {
		b.shortLine = true
	}
	b.length += int64(len(bases))
	return nil
}

// flush writes the entry of the current sequence. Sequences without bases
// are skipped.
func (b *faiBuilder) flush() error {
	if b.name == "" || b.lineWidth == 0 {
		return nil
	}
	b.out.WriteString(b.name)
	b.out.WriteInt64(b.length)
	b.out.WriteInt64(b.offset)
	b.out.WriteInt64(int64(b.lineBases))
	b.out.WriteInt64(int64(b.lineWidth))
	return b.out.EndLine()
}

// GenerateIndex writes the index (*.fai) of the FASTA data in the format of
// "samtools faidx" (http://www.htslib.org/doc/faidx.html). The index can be
// passed to NewIndexed to random-access the FASTA file. Open generates one
// when "<path>.fai" does not exist.
func GenerateIndex(out io.Writer, in io.Reader) error {
	var (
		r   = bufio.NewReaderSize(in, 1<<16)
		b   = faiBuilder{out: tsv.NewWriter(out)}
		off int64
	)
	for {
		fullLine, err := r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return err
		}
		off += int64(len(fullLine))
		if line := bytes.TrimRight(fullLine, "\r\n"); len(line) > 0 {
			var e error
			if line[0] == '>' {
				e = b.start(parseSeqName(line), off)
			} else {
				e = b.addLine(fullLine, line)
			}
			if e != nil {
				return e
			}
		}
		if err == io.EOF {
			break
		}
	}
	if off == 0 {
		return errors.E(errors.Invalid, "empty FASTA file")
	}
	if err := b.flush(); err != nil {
		return err
	}
	return b.out.Flush()
}

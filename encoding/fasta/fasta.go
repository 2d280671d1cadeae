// Package fasta reads reference sequences from (optionally indexed) FASTA
// files. See http://www.htslib.org/doc/faidx.html. FASTA files consist of a
// number of named sequences that may be interrupted by newlines:
//
// >chr7
// ACGTAC
// GAGGAC
// >chr8
// ACGT
//
// The sequence name is the stretch of non-space characters immediately after
// '>', so '>chr1 A viral sequence' becomes 'chr1'.
//
// Bases are returned upper-cased. Bisulfite calling compares reference and
// read bases, and soft-masked (lowercase) reference stretches must compare
// the same way as the rest of the genome.
package fasta

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const maxLineLength = 1024 * 1024 * 300 // 300 MB

// Fasta represents FASTA-formatted data, consisting of a set of named
// sequences.
type Fasta interface {
	// Get returns a substring of the given sequence name at the given
	// coordinates, which are treated as a 0-based half-open interval
	// [start, end). Get is thread-safe.
	Get(seqName string, start, end uint64) (string, error)

	// Len returns the length of the given sequence.
	Len(seqName string) (uint64, error)

	// SeqNames returns the names of all sequences, in the order of appearance in
	// the FASTA file.
	SeqNames() []string
}

func parseSeqName(header []byte) string {
	fields := strings.Fields(string(header[1:]))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// memFasta holds all sequences in memory.
type memFasta struct {
	seqs     map[string]string
	seqNames []string
}

// New reads all the FASTA data from the given reader into memory.
func New(r io.Reader) (Fasta, error) {
	f := &memFasta{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, maxLineLength)
	var (
		seqName string
		seq     bytes.Buffer
		started bool
	)
	flush := func() error {
		if !started {
			return nil
		}
		if seqName == "" {
			return errors.Errorf("malformed FASTA file: sequence without a name")
		}
		if _, ok := f.seqs[seqName]; ok {
			return errors.Errorf("duplicate sequence %s", seqName)
		}
		f.seqs[seqName] = seq.String()
		f.seqNames = append(f.seqNames, seqName)
		seq.Reset()
		return nil
	}
	for scanner.Scan() {
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return nil, err
			}
			seqName = parseSeqName(line)
			started = true
			continue
		}
		if !started {
			return nil, errors.Errorf("malformed FASTA file: data before the first '>' line")
		}
		seq.Write(bytes.ToUpper(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA data")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return f, nil
}

// Get implements Fasta.Get().
func (f *memFasta) Get(seqName string, start, end uint64) (string, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("sequence not found: %s", seqName)
	}
	if end <= start {
		return "", errors.Errorf("start must be less than end")
	}
	if end > uint64(len(s)) {
		return "", errors.Errorf("end is past end of sequence %s: %d", seqName, len(s))
	}
	return s[start:end], nil
}

// Len implements Fasta.Len().
func (f *memFasta) Len(seqName string) (uint64, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("sequence not found: %s", seqName)
	}
	return uint64(len(s)), nil
}

// SeqNames implements Fasta.SeqNames().
func (f *memFasta) SeqNames() []string {
	return f.seqNames
}

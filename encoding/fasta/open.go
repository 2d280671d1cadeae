package fasta

import (
	"bytes"
	"context"
	"io"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
)

// File is a FASTA file opened by Open.
type File struct {
	Fasta
	in file.File // nil if the data was read into memory.
}

// Open opens a FASTA file. Uncompressed files are read on demand, using
// "<path>.fai" when it exists and an index generated in memory otherwise.
// Compressed files are read into memory.
func Open(ctx context.Context, path string) (f *File, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() {
		if err != nil {
			in.Close(ctx) // nolint: errcheck
		}
	}()

	var index io.Reader
	faiPath := path + ".fai"
	if _, e := file.Stat(ctx, faiPath); e == nil {
		var idx file.File
		if idx, err = file.Open(ctx, faiPath); err != nil {
			return nil, errors.Wrapf(err, "open %s", faiPath)
		}
		defer file.CloseAndReport(ctx, idx, &err)
		index = idx.Reader(ctx)
	} else if fileio.DetermineType(path) == fileio.Other {
		buf := bytes.Buffer{}
		if err = GenerateIndex(&buf, in.Reader(ctx)); err != nil {
			return nil, errors.Wrapf(err, "index %s", path)
		}
		index = &buf
	}
	if index != nil {
		var fa Fasta
		if fa, err = NewIndexed(in.Reader(ctx), index); err != nil {
			return nil, errors.Wrapf(err, "read index of %s", path)
		}
		log.Debug.Printf("fasta %s: opened with index, %d sequences", path, len(fa.SeqNames()))
		return &File{Fasta: fa, in: in}, nil
	}

	reader, _ := compress.NewReader(in.Reader(ctx))
	fa, err := New(reader)
	if e := reader.Close(); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if err = in.Close(ctx); err != nil {
		return nil, err
	}
	log.Debug.Printf("fasta %s: read %d sequences", path, len(fa.SeqNames()))
	return &File{Fasta: fa}, nil
}

// Close releases the file handle held by an indexed FASTA.
func (f *File) Close(ctx context.Context) error {
	if f.in == nil {
		return nil
	}
	err := f.in.Close(ctx)
	f.in = nil
	return err
}

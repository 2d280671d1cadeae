// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bisulfite extracts methylation calls from bisulfite-sequencing
// alignments.
//
// Bisulfite treatment converts unmethylated cytosines to uracil, which is
// sequenced as thymine, while methylated cytosines stay cytosines. A read
// that originates from the top (forward) strand of the reference therefore
// shows 'C' (methylated) or 'T' (unmethylated) where the reference has 'C',
// and a read from the bottom strand shows 'G' or 'A' where the reference has
// 'G'.
package bisulfite

// Strand of a cytosine or of a bisulfite-converted fragment.
type Strand byte

const (
	// Top is the forward strand of the reference: cytosines are 'C' in the
	// reference.
	Top Strand = '+'
	// Bottom is the reverse strand: cytosines are 'G' in the reference.
	Bottom Strand = '-'
)

func complement(b byte) byte {
	switch b {
	case 'A':
		return 'T'
	case 'C':
		return 'G'
	case 'G':
		return 'C'
	case 'T':
		return 'A'
	}
	return 'N'
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// Context returns the trinucleotide context (mc_class) of the cytosine at the
// 0-based position pos of the reference, read on the cytosine's strand. For
// example, a top-strand 'C' followed by "GA" has context "CGA", and so does a
// bottom-strand 'G' preceded by "TC". Bases past either end of the reference
// are reported as 'N'. ok is false if the reference base is not a cytosine
// on the strand.
func Context(ref string, pos int, strand Strand) (context string, ok bool) {
	if pos < 0 || pos >= len(ref) {
		return "", false
	}
	base := func(i int) byte {
		if i < 0 || i >= len(ref) {
			return 'N'
		}
		return upper(ref[i])
	}
	var c [3]byte
	switch strand {
	case Top:
		if base(pos) != 'C' {
			return "", false
		}
		c = [3]byte{'C', base(pos + 1), base(pos + 2)}
	case Bottom:
		if base(pos) != 'G' {
			return "", false
		}
		c = [3]byte{'C', complement(base(pos - 1)), complement(base(pos - 2))}
	default:
		return "", false
	}
	return string(c[:]), true
}

// ContextClass groups a trinucleotide context into "CG", "CHG" or "CHH",
// where H is any base but G. It returns "" if the context is not a cytosine
// context.
func ContextClass(context string) string {
	if len(context) < 2 || context[0] != 'C' {
		return ""
	}
	if context[1] == 'G' {
		return "CG"
	}
	if len(context) < 3 || context[1] == 'N' || context[2] == 'N' {
		return ""
	}
	if context[2] == 'G' {
		return "CHG"
	}
	return "CHH"
}

// ContextPattern returns the regular expression matching the trinucleotide
// contexts of a class, e.g. "CHG" becomes "C[ACT]G". Other strings, for
// example "C[ATC]G", are returned unchanged.
func ContextPattern(class string) string {
	switch class {
	case "CG":
		return "CG."
	case "CHG":
		return "C[ACT]G"
	case "CHH":
		return "C[ACT][ACT]"
	}
	return class
}

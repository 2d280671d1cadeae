package fasta_test

import (
	"bytes"
	"flag"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bshap/encoding/fasta"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
)

const (
	fastaData  = ">seq1\n" + "ACGTA\nCGtac\nGT\n" + ">seq2 A viral sequence\n" + "ACGT\n" + "ACGT\n"
	fastaIndex = "seq1\t12\t6\t5\t6\n" + "seq2\t8\t44\t4\t5\n"
)

func testFastas(t *testing.T) map[string]fasta.Fasta {
	unindexed, err := fasta.New(strings.NewReader(fastaData))
	assert.NoError(t, err)
	indexed, err := fasta.NewIndexed(strings.NewReader(fastaData), strings.NewReader(fastaIndex))
	assert.NoError(t, err)
	return map[string]fasta.Fasta{"unindexed": unindexed, "indexed": indexed}
}

func TestGet(t *testing.T) {
	tests := []struct {
		seq   string
		start uint64
		end   uint64
		want  string
		ok    bool
	}{
		{"seq1", 1, 2, "C", true},
		{"seq1", 1, 6, "CGTAC", true},
		{"seq1", 0, 12, "ACGTACGTACGT", true},
		{"seq1", 10, 12, "GT", true},
		{"seq1", 7, 10, "TAC", true},
		{"seq2", 0, 8, "ACGTACGT", true},
		{"seq2", 2, 5, "GTA", true},
		{"seq0", 0, 1, "", false},
		{"seq1", 10, 13, "", false},
		{"seq1", 4, 3, "", false},
	}
	for name, fa := range testFastas(t) {
		for _, tt := range tests {
			got, err := fa.Get(tt.seq, tt.start, tt.end)
			if !tt.ok {
				expect.True(t, err != nil, name, tt)
				continue
			}
			expect.NoError(t, err, name, tt)
			expect.EQ(t, got, tt.want, name, tt)
		}
	}
}

func TestLength(t *testing.T) {
	for name, fa := range testFastas(t) {
		n, err := fa.Len("seq1")
		assert.NoError(t, err)
		expect.EQ(t, n, uint64(12), name)
		n, err = fa.Len("seq2")
		assert.NoError(t, err)
		expect.EQ(t, n, uint64(8), name)
		_, err = fa.Len("seq0")
		expect.True(t, err != nil, name)
		expect.EQ(t, fa.SeqNames(), []string{"seq1", "seq2"}, name)
	}
}

func TestMalformed(t *testing.T) {
	for _, data := range []string{
		"ACGT\n>seq1\nACGT\n",
		">seq1\nACGT\n>seq1\nACGT\n",
		">\nACGT\n",
	} {
		_, err := fasta.New(strings.NewReader(data))
		expect.True(t, err != nil, data)
	}
	_, err := fasta.NewIndexed(strings.NewReader(fastaData), strings.NewReader("seq1\t12\t6\t0\t6\n"))
	expect.True(t, err != nil)
	_, err = fasta.NewIndexed(strings.NewReader(fastaData), strings.NewReader("seq1\tfoo\t6\t5\t6\n"))
	expect.True(t, err != nil)
}

func TestFaiToReferenceLengths(t *testing.T) {
	fai := "chr1\t250000000\t6\t60\t61\n" + "chr2\t199000000\t254237294\t60\t61\n"
	lengths, err := fasta.FaiToReferenceLengths(strings.NewReader(fai))
	assert.NoError(t, err)
	expect.EQ(t, lengths, map[string]uint64{"chr1": 250000000, "chr2": 199000000})
}

func TestGenerateIndex(t *testing.T) {
	generateIndex := func(fa string) (faidx string) {
		idx := bytes.Buffer{}
		assert.NoError(t, fasta.GenerateIndex(&idx, strings.NewReader(fa)))
		return idx.String()
	}

	fa := `>E0
GGTGAAATC
CCTGAAATC
AAAATTGCT
>E1 chloroplast
GTCCCTCCCCAGACATGGCCCTGGGAGGC
>E2
CCGCGCCCGCGCCCCCGCCGCC
`
	fai := generateIndex(fa)
	assert.EQ(t, fai, `E0	27	4	9	10
E1	29	50	29	30
E2	22	84	22	23
`)
	indexed, err := fasta.NewIndexed(strings.NewReader(fa), strings.NewReader(fai))
	assert.NoError(t, err)
	seq, err := indexed.Get("E0", 7, 12)
	assert.NoError(t, err)
	assert.EQ(t, seq, "TCCCT")

	// MS-DOS newline encoding.
	assert.EQ(t, generateIndex(">E0\r\nGGGG\r\n>E1\r\nAAAAA\r\n"),
		`E0	4	5	4	6
E1	5	16	5	7
`)
	// No newline at the end.
	assert.EQ(t, generateIndex(">E0\nGGGG\n>E1\nCCCCC\nAAAAA"),
		`E0	4	4	4	5
E1	10	13	5	6
`)
	idx := bytes.Buffer{}
	assert.Regexp(t, fasta.GenerateIndex(&idx, strings.NewReader("")), "empty FASTA")
	for _, bad := range []string{
		"ACGT\n>E0\nACGT\n",
		">E0\nACGT\nACGTA\n",
		">E0\nACGT\nAC\nACGT\n",
	} {
		idx.Reset()
		expect.True(t, fasta.GenerateIndex(&idx, strings.NewReader(bad)) != nil, bad)
	}
}

func TestIndexedNoTrailingNewline(t *testing.T) {
	fa := ">E0\nGGGG\n>E1\nCCCCC\nAAAAA"
	idx := bytes.Buffer{}
	assert.NoError(t, fasta.GenerateIndex(&idx, strings.NewReader(fa)))
	indexed, err := fasta.NewIndexed(strings.NewReader(fa), &idx)
	assert.NoError(t, err)
	seq, err := indexed.Get("E1", 0, 10)
	assert.NoError(t, err)
	expect.EQ(t, seq, "CCCCCAAAAA")
	seq, err = indexed.Get("E1", 8, 10)
	assert.NoError(t, err)
	expect.EQ(t, seq, "AA")
}

func TestOpen(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	plain := filepath.Join(tempDir, "ref.fa")
	assert.NoError(t, ioutil.WriteFile(plain, []byte(fastaData), 0600))
	indexed := filepath.Join(tempDir, "indexed.fa")
	assert.NoError(t, ioutil.WriteFile(indexed, []byte(fastaData), 0600))
	assert.NoError(t, ioutil.WriteFile(indexed+".fai", []byte(fastaIndex), 0600))
	gz := filepath.Join(tempDir, "ref.fa.gz")
	out, err := os.Create(gz)
	assert.NoError(t, err)
	w := gzip.NewWriter(out)
	_, err = w.Write([]byte(fastaData))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, out.Close())

	for _, path := range []string{plain, indexed, gz} {
		fa, err := fasta.Open(ctx, path)
		assert.NoError(t, err, path)
		seq, err := fa.Get("seq1", 5, 10)
		assert.NoError(t, err, path)
		expect.EQ(t, seq, "CGTAC", path)
		expect.EQ(t, fa.SeqNames(), []string{"seq1", "seq2"}, path)
		assert.NoError(t, fa.Close(ctx))
	}
	_, err = fasta.Open(ctx, filepath.Join(tempDir, "nonexistent.fa"))
	expect.True(t, err != nil)
}

var pathFlag = flag.String("path", "", "FASTA file used by benchmarks")

func BenchmarkRead(b *testing.B) {
	if *pathFlag == "" {
		b.Skip("--path not set")
	}
	ctx := vcontext.Background()
	for i := 0; i < b.N; i++ {
		fa, err := fasta.Open(ctx, *pathFlag)
		assert.NoError(b, err)
		for _, seq := range fa.SeqNames() {
			n, err := fa.Len(seq)
			assert.NoError(b, err)
			_, err = fa.Get(seq, 0, n)
			assert.NoError(b, err)
		}
		assert.NoError(b, fa.Close(ctx))
	}
}

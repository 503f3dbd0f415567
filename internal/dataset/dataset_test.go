package dataset

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"github.com/janpfeifer/activeGo/internal/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path"
	"strings"
	"testing"
)

func TestTokenizeAndVocab(t *testing.T) {
	assert.Equal(t, []string{"it", "'s", "a", "great", "movie", "!"}, Tokenize("It's a GREAT movie!"))
	assert.Equal(t, []string{"do", "n't", "stop", ",", "ok", "?"}, Tokenize("Don't stop, ok?"))

	v := NewVocab([][]string{{"b", "a"}}, [][]string{{"c", "a"}})
	assert.Equal(t, []string{"a", "b", "c"}, v.Words)
	assert.Equal(t, int32(3), v.Unknown())
	assert.Equal(t, int32(4), v.Pad())
	assert.Equal(t, []int32{2, 0, 3}, v.Encode([]string{"c", "a", "zzz"}))
}

func TestSynthetic(t *testing.T) {
	ds, err := Load("synthetic:train=50,dev=10,test=20,vocab=30,num_classes=3", "", 7)
	require.NoError(t, err)
	assert.Equal(t, 50, ds.Train.Len())
	assert.Equal(t, 10, ds.Dev.Len())
	assert.Equal(t, 20, ds.Test.Len())
	assert.Equal(t, 3, ds.NumClasses())
	assert.Equal(t, int32(31), ds.PadValue)
	assert.Equal(t, 32, ds.Features.Dim)
	assert.LessOrEqual(t, ds.MaxLen, 12)

	// Same seed, same data.
	ds2, err := Load("synthetic:train=50,dev=10,test=20,vocab=30,num_classes=3", "", 7)
	require.NoError(t, err)
	assert.Equal(t, ds.Train, ds2.Train)

	_, err = Load("synthetic:unknown_param=1", "", 7)
	require.Error(t, err)
	_, err = Load("imagenet", "", 7)
	require.Error(t, err)
}

func writeLines(t *testing.T, filePath string, lines ...string) {
	require.NoError(t, os.MkdirAll(path.Dir(filePath), 0755))
	require.NoError(t, os.WriteFile(filePath, []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

func TestMR(t *testing.T) {
	dir := t.TempDir()
	var pos, neg []string
	for range 20 {
		pos = append(pos, "a wonderful , moving film")
		neg = append(neg, "a dull and tedious mess")
	}
	writeLines(t, path.Join(dir, "MR", "rt-polarity.pos"), pos...)
	writeLines(t, path.Join(dir, "MR", "rt-polarity.neg"), neg...)
	ds, err := Load("mr", dir, 1)
	require.NoError(t, err)
	assert.Equal(t, 32, ds.Train.Len())
	assert.Equal(t, 4, ds.Dev.Len())
	assert.Equal(t, 4, ds.Test.Len())
	assert.Equal(t, 5, ds.MaxLen)
	assert.Equal(t, features.KindBagOfTokens, ds.Features.Kind)
	assert.Contains(t, ds.Vocab.WordToIdx, "wonderful")
}

func TestTREC(t *testing.T) {
	dir := t.TempDir()
	var train []string
	for range 10 {
		train = append(train, "DESC:manner How did serfdom develop ?", "NUM:date When was Ozzy born ?")
	}
	writeLines(t, path.Join(dir, "TREC", "TREC_train.txt"), train...)
	writeLines(t, path.Join(dir, "TREC", "TREC_test.txt"), "HUM:ind Who killed Kennedy ?")
	ds, err := Load("trec", dir, 1)
	require.NoError(t, err)
	assert.Equal(t, 18, ds.Train.Len())
	assert.Equal(t, 2, ds.Dev.Len())
	assert.Equal(t, []int32{3}, ds.Test.Y)
	assert.Equal(t, 6, ds.NumClasses())

	writeLines(t, path.Join(dir, "TREC", "TREC_test.txt"), "BAD:line here")
	_, err = Load("trec", dir, 1)
	require.Error(t, err)
}

func writeIDX(t *testing.T, filePath string, magic uint32, dims []uint32, data []byte, compress bool) {
	buf := &bytes.Buffer{}
	require.NoError(t, binary.Write(buf, binary.BigEndian, magic))
	for _, d := range dims {
		require.NoError(t, binary.Write(buf, binary.BigEndian, d))
	}
	buf.Write(data)
	content := buf.Bytes()
	if compress {
		gzBuf := &bytes.Buffer{}
		w := gzip.NewWriter(gzBuf)
		_, err := w.Write(content)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		content = gzBuf.Bytes()
		filePath += ".gz"
	}
	require.NoError(t, os.WriteFile(filePath, content, 0644))
}

func TestMNIST(t *testing.T) {
	dir := path.Join(t.TempDir(), "MNIST")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, split := range []struct {
		prefix string
		n      int
	}{{"train", 12}, {"t10k", 3}} {
		pixels := make([]byte, split.n*4)
		labels := make([]byte, split.n)
		for ii := range labels {
			labels[ii] = byte(ii % 10)
			pixels[ii*4] = 255
		}
		images, labelsFile := mnistFileNames(split.prefix)
		writeIDX(t, path.Join(dir, images), idxImagesMagic, []uint32{uint32(split.n), 2, 2}, pixels, false)
		writeIDX(t, path.Join(dir, labelsFile), idxLabelsMagic, []uint32{uint32(split.n)}, labels, true)
	}
	ds, err := Load("mnist:dev=2", path.Dir(dir), 1)
	require.NoError(t, err)
	assert.Equal(t, 10, ds.Train.Len())
	assert.Equal(t, 2, ds.Dev.Len())
	assert.Equal(t, 3, ds.Test.Len())
	assert.Equal(t, 4, ds.MaxLen)
	assert.Equal(t, []int32{255, 0, 0, 0}, ds.Train.X[0])
	assert.Equal(t, []int32{0, 1}, ds.Dev.Y)
	assert.Equal(t, features.KindDense, ds.Features.Kind)
}

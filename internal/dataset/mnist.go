package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"github.com/janpfeifer/activeGo/internal/features"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/pkg/errors"
	"io"
	"os"
	"path"
)

const (
	idxImagesMagic = 0x00000803
	idxLabelsMagic = 0x00000801

	// mnistPadValue is never a valid pixel intensity.
	mnistPadValue = int32(-1)
)

// openMaybeGzip opens filePath, or filePath+".gz" if the first doesn't exist.
func openMaybeGzip(filePath string) (io.ReadCloser, error) {
	f, err := os.Open(filePath)
	if err == nil {
		return f, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to open %s", filePath)
	}
	f, err = os.Open(filePath + ".gz")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s or %s.gz", filePath, filePath)
	}
	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "failed to decompress %s.gz", filePath)
	}
	return struct {
		io.Reader
		io.Closer
	}{gz, f}, nil
}

// readIDX reads an idx file with the given magic number, returning the dimensions and the raw bytes.
func readIDX(filePath string, magic uint32) (dims []int, data []byte, err error) {
	r, err := openMaybeGzip(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = r.Close() }()

	var gotMagic uint32
	if err = binary.Read(r, binary.BigEndian, &gotMagic); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to read header of %s", filePath)
	}
	if gotMagic != magic {
		return nil, nil, errors.Errorf("%s has magic number 0x%08x, wanted 0x%08x", filePath, gotMagic, magic)
	}
	numDims := int(magic & 0xFF)
	size := 1
	for range numDims {
		var dim uint32
		if err = binary.Read(r, binary.BigEndian, &dim); err != nil {
			return nil, nil, errors.Wrapf(err, "failed to read dimensions of %s", filePath)
		}
		dims = append(dims, int(dim))
		size *= int(dim)
	}
	data = make([]byte, size)
	if _, err = io.ReadFull(r, data); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to read %d bytes of data from %s", size, filePath)
	}
	return dims, data, nil
}

func readMNISTSplit(dir, prefix string) (Split, int, error) {
	imagesFile, labelsFile := mnistFileNames(prefix)
	dims, pixels, err := readIDX(path.Join(dir, imagesFile), idxImagesMagic)
	if err != nil {
		return Split{}, 0, err
	}
	labelsDims, labels, err := readIDX(path.Join(dir, labelsFile), idxLabelsMagic)
	if err != nil {
		return Split{}, 0, err
	}
	if dims[0] != labelsDims[0] {
		return Split{}, 0, errors.Errorf("MNIST %s has %d images but %d labels", prefix, dims[0], labelsDims[0])
	}
	imageSize := dims[1] * dims[2]
	split := Split{X: make([][]int32, dims[0]), Y: make([]int32, dims[0])}
	for ii := range split.X {
		row := make([]int32, imageSize)
		for jj, p := range pixels[ii*imageSize : (ii+1)*imageSize] {
			row[jj] = int32(p)
		}
		split.X[ii] = row
		split.Y[ii] = int32(labels[ii])
	}
	return split, imageSize, nil
}

// LoadMNIST loads the MNIST digits from <dataPath>/MNIST/{train,t10k}-{images-idx3,labels-idx1}-ubyte[.gz].
// Pixels are used as tokens (0-255), and the last "dev" examples (default 10000) of the train file are
// used as dev. Param "limit" truncates the train split, useful for quick experiments.
func LoadMNIST(dataPath string, _ uint64, params parameters.Params) (*Dataset, error) {
	dir, err := parameters.PopParamOr(params, "dir", path.Join(dataPath, "MNIST"))
	if err != nil {
		return nil, err
	}
	devSize, err := parameters.PopParamOr(params, "dev", 10000)
	if err != nil {
		return nil, err
	}
	limit, err := parameters.PopParamOr(params, "limit", 0)
	if err != nil {
		return nil, err
	}
	trainAndDev, imageSize, err := readMNISTSplit(dir, "train")
	if err != nil {
		return nil, err
	}
	test, _, err := readMNISTSplit(dir, "t10k")
	if err != nil {
		return nil, err
	}
	if devSize <= 0 || devSize >= trainAndDev.Len() {
		return nil, errors.Errorf("invalid MNIST dev size %d for %d train examples", devSize, trainAndDev.Len())
	}
	cut := trainAndDev.Len() - devSize
	train := Split{X: trainAndDev.X[:cut], Y: trainAndDev.Y[:cut]}
	if limit > 0 && limit < train.Len() {
		train = Split{X: train.X[:limit], Y: train.Y[:limit]}
	}
	classNames := make([]string, 10)
	for ii := range classNames {
		classNames[ii] = fmt.Sprintf("%d", ii)
	}
	return &Dataset{
		Name:       "mnist",
		Train:      train,
		Dev:        Split{X: trainAndDev.X[cut:], Y: trainAndDev.Y[cut:]},
		Test:       test,
		ClassNames: classNames,
		MaxLen:     imageSize,
		PadValue:   mnistPadValue,
		Features: features.Spec{
			Kind:     features.KindDense,
			Dim:      imageSize,
			PadValue: mnistPadValue,
			Scale:    1.0 / 255,
		},
	}, nil
}

// mnistFileNames returns the images and labels file names (without the optional .gz) for prefix "train" or "t10k".
func mnistFileNames(prefix string) (images, labels string) {
	return prefix + "-images-idx3-ubyte", prefix + "-labels-idx1-ubyte"
}

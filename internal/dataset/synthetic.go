package dataset

import (
	"fmt"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/pkg/errors"
	"math/rand/v2"
)

// LoadSynthetic generates a text-like dataset: each class favors its own slice of the vocabulary, and
// with probability "noise" a token is drawn from the whole vocabulary instead. Sentence lengths vary
// uniformly in [min_len, max_len].
//
// Params (and defaults): num_classes=3, vocab=60, train=600, dev=150, test=150, min_len=4, max_len=12, noise=0.3.
func LoadSynthetic(_ string, seed uint64, params parameters.Params) (*Dataset, error) {
	numClasses, err := parameters.PopParamOr(params, "num_classes", 3)
	if err != nil {
		return nil, err
	}
	vocabSize, err := parameters.PopParamOr(params, "vocab", 60)
	if err != nil {
		return nil, err
	}
	sizes := make(map[string]int, 3)
	for key, defaultSize := range map[string]int{"train": 600, "dev": 150, "test": 150} {
		if sizes[key], err = parameters.PopParamOr(params, key, defaultSize); err != nil {
			return nil, err
		}
	}
	minLen, err := parameters.PopParamOr(params, "min_len", 4)
	if err != nil {
		return nil, err
	}
	maxLen, err := parameters.PopParamOr(params, "max_len", 12)
	if err != nil {
		return nil, err
	}
	noise, err := parameters.PopParamOr(params, "noise", 0.3)
	if err != nil {
		return nil, err
	}
	if numClasses < 2 || vocabSize < numClasses || minLen < 1 || maxLen < minLen {
		return nil, errors.Errorf("invalid synthetic dataset configuration: num_classes=%d, vocab=%d, min_len=%d, max_len=%d",
			numClasses, vocabSize, minLen, maxLen)
	}

	vocab := &Vocab{Words: make([]string, vocabSize), WordToIdx: make(map[string]int32, vocabSize)}
	for ii := range vocabSize {
		vocab.Words[ii] = fmt.Sprintf("w%04d", ii)
		vocab.WordToIdx[vocab.Words[ii]] = int32(ii)
	}
	classNames := make([]string, numClasses)
	for ii := range classNames {
		classNames[ii] = fmt.Sprintf("class%d", ii)
	}

	rng := rand.New(rand.NewPCG(seed, 0x5EED))
	tokensPerClass := vocabSize / numClasses
	generate := func(n int) Split {
		s := Split{X: make([][]int32, n), Y: make([]int32, n)}
		for ii := range n {
			class := rng.IntN(numClasses)
			length := minLen + rng.IntN(maxLen-minLen+1)
			row := make([]int32, length)
			for jj := range row {
				if rng.Float64() < noise {
					row[jj] = int32(rng.IntN(vocabSize))
				} else {
					row[jj] = int32(class*tokensPerClass + rng.IntN(tokensPerClass))
				}
			}
			s.X[ii] = row
			s.Y[ii] = int32(class)
		}
		return s
	}
	ds := &Dataset{
		Name:       "synthetic",
		Vocab:      vocab,
		ClassNames: classNames,
		Train:      generate(sizes["train"]),
		Dev:        generate(sizes["dev"]),
		Test:       generate(sizes["test"]),
	}
	ds.finalizeText()
	return ds, nil
}

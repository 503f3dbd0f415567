package dataset

import (
	"bufio"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/pkg/errors"
	"math/rand/v2"
	"os"
	"path"
	"strings"
)

// readLines of a text file, skipping empty lines.
func readLines(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", filePath)
	}
	defer func() { _ = f.Close() }()
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed reading %s", filePath)
	}
	return lines, nil
}

// labeledText is a tokenized sentence and its label, before encoding.
type labeledText struct {
	tokens []string
	label  int32
}

// splitByFractions shuffles examples with the seed and splits them into consecutive parts with the given fractions.
// The last part takes whatever is left.
func splitByFractions(examples []labeledText, seed uint64, fractions ...float64) [][]labeledText {
	rng := rand.New(rand.NewPCG(seed, 0))
	rng.Shuffle(len(examples), func(i, j int) { examples[i], examples[j] = examples[j], examples[i] })
	parts := make([][]labeledText, 0, len(fractions)+1)
	start := 0
	for _, fraction := range fractions {
		end := min(start+int(fraction*float64(len(examples))), len(examples))
		parts = append(parts, examples[start:end])
		start = end
	}
	return append(parts, examples[start:])
}

func tokensOf(examples []labeledText) [][]string {
	out := make([][]string, len(examples))
	for ii, e := range examples {
		out[ii] = e.tokens
	}
	return out
}

func encodeSplit(v *Vocab, examples []labeledText) Split {
	s := Split{X: make([][]int32, len(examples)), Y: make([]int32, len(examples))}
	for ii, e := range examples {
		s.X[ii] = v.Encode(e.tokens)
		s.Y[ii] = e.label
	}
	return s
}

// newTextDataset builds the vocabulary over all splits, and encodes them.
func newTextDataset(name string, classNames []string, train, dev, test []labeledText) *Dataset {
	vocab := NewVocab(tokensOf(train), tokensOf(dev), tokensOf(test))
	ds := &Dataset{
		Name:       name,
		Vocab:      vocab,
		ClassNames: classNames,
		Train:      encodeSplit(vocab, train),
		Dev:        encodeSplit(vocab, dev),
		Test:       encodeSplit(vocab, test),
	}
	ds.finalizeText()
	return ds
}

// LoadMR loads the movie reviews polarity dataset from <dataPath>/MR/rt-polarity.{pos,neg}.
// It is shuffled with the seed and split 80/10/10 into train, dev and test.
func LoadMR(dataPath string, seed uint64, params parameters.Params) (*Dataset, error) {
	dir, err := parameters.PopParamOr(params, "dir", path.Join(dataPath, "MR"))
	if err != nil {
		return nil, err
	}
	var examples []labeledText
	for label, fileName := range []string{"rt-polarity.neg", "rt-polarity.pos"} {
		lines, err := readLines(path.Join(dir, fileName))
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			examples = append(examples, labeledText{tokens: Tokenize(line), label: int32(label)})
		}
	}
	parts := splitByFractions(examples, seed, 0.8, 0.1)
	return newTextDataset("mr", []string{"negative", "positive"}, parts[0], parts[1], parts[2]), nil
}

// trecClasses are the coarse TREC question classes.
var trecClasses = []string{"ABBR", "DESC", "ENTY", "HUM", "LOC", "NUM"}

// LoadTREC loads the TREC question classification dataset from <dataPath>/TREC/TREC_{train,test}.txt.
// Each line is "<COARSE>:<fine> question". 10% of the (shuffled) train file is used as dev.
func LoadTREC(dataPath string, seed uint64, params parameters.Params) (*Dataset, error) {
	dir, err := parameters.PopParamOr(params, "dir", path.Join(dataPath, "TREC"))
	if err != nil {
		return nil, err
	}
	classToIdx := make(map[string]int32, len(trecClasses))
	for ii, c := range trecClasses {
		classToIdx[c] = int32(ii)
	}
	read := func(fileName string) ([]labeledText, error) {
		filePath := path.Join(dir, fileName)
		lines, err := readLines(filePath)
		if err != nil {
			return nil, err
		}
		examples := make([]labeledText, 0, len(lines))
		for lineNum, line := range lines {
			labelPart, question, found := strings.Cut(line, " ")
			coarse, _, _ := strings.Cut(labelPart, ":")
			label, known := classToIdx[coarse]
			if !found || !known {
				return nil, errors.Errorf("%s:%d: invalid TREC line %q", filePath, lineNum+1, line)
			}
			examples = append(examples, labeledText{tokens: Tokenize(question), label: label})
		}
		return examples, nil
	}
	trainAndDev, err := read("TREC_train.txt")
	if err != nil {
		return nil, err
	}
	test, err := read("TREC_test.txt")
	if err != nil {
		return nil, err
	}
	parts := splitByFractions(trainAndDev, seed, 0.9)
	return newTextDataset("trec", trecClasses, parts[0], parts[1], test), nil
}

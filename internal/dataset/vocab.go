package dataset

import (
	"github.com/janpfeifer/activeGo/internal/generics"
	"regexp"
	"strings"
)

// Vocab maps words to token ids. Id Size() is used for unknown words and Size()+1 for padding.
type Vocab struct {
	Words     []string
	WordToIdx map[string]int32
}

// NewVocab builds a vocabulary with the sorted distinct words of all given sentences.
func NewVocab(sentences ...[][]string) *Vocab {
	words := generics.MakeSet[string]()
	for _, group := range sentences {
		for _, sentence := range group {
			words.Insert(sentence...)
		}
	}
	v := &Vocab{Words: generics.Sorted(words)}
	v.WordToIdx = make(map[string]int32, len(v.Words))
	for ii, w := range v.Words {
		v.WordToIdx[w] = int32(ii)
	}
	return v
}

// Size returns the number of known words.
func (v *Vocab) Size() int { return len(v.Words) }

// Unknown returns the id used for words not in the vocabulary.
func (v *Vocab) Unknown() int32 { return int32(len(v.Words)) }

// Pad returns the id used for padding.
func (v *Vocab) Pad() int32 { return int32(len(v.Words) + 1) }

// Encode a tokenized sentence.
func (v *Vocab) Encode(sentence []string) []int32 {
	ids := make([]int32, len(sentence))
	for ii, w := range sentence {
		id, found := v.WordToIdx[w]
		if !found {
			id = v.Unknown()
		}
		ids[ii] = id
	}
	return ids
}

// EncodeAll encodes a list of tokenized sentences.
func (v *Vocab) EncodeAll(sentences [][]string) [][]int32 {
	return generics.SliceMap(sentences, v.Encode)
}

var cleanRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`[^A-Za-z0-9(),!?'\x60]`), " "},
	{regexp.MustCompile(`'s`), " 's"},
	{regexp.MustCompile(`'ve`), " 've"},
	{regexp.MustCompile(`n't`), " n't"},
	{regexp.MustCompile(`'re`), " 're"},
	{regexp.MustCompile(`'d`), " 'd"},
	{regexp.MustCompile(`'ll`), " 'll"},
	{regexp.MustCompile(`,`), " , "},
	{regexp.MustCompile(`!`), " ! "},
	{regexp.MustCompile(`\(`), " ( "},
	{regexp.MustCompile(`\)`), " ) "},
	{regexp.MustCompile(`\?`), " ? "},
}

// Tokenize cleans a raw sentence (separates punctuation and contractions, drops unusual characters)
// and splits it into lower-cased words.
func Tokenize(sentence string) []string {
	for _, rule := range cleanRules {
		sentence = rule.re.ReplaceAllString(sentence, rule.repl)
	}
	return strings.Fields(strings.ToLower(sentence))
}

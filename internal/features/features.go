// Package features converts the materialized token rows of a batch into dense float vectors that
// the models consume.
//
// Two interpretations of the tokens are supported:
//
//   - KindBagOfTokens: tokens are vocabulary ids, and the feature vector holds the frequency of each
//     id in the row (padding excluded). Used for text.
//   - KindDense: tokens are already values (e.g. pixel intensities), the feature vector is the row
//     itself scaled by Spec.Scale, with padding mapped to 0. Used for MNIST.
package features

import (
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/pkg/errors"
	"strings"
)

// Kind of featurization.
type Kind int

const (
	KindBagOfTokens Kind = iota
	KindDense
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindBagOfTokens:
		return "bag_of_tokens"
	case KindDense:
		return "dense"
	}
	return "unknown"
}

// ParseKind converts the names returned by Kind.String back to a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case "bag_of_tokens", "bow", "":
		return KindBagOfTokens, nil
	case "dense":
		return KindDense, nil
	}
	return KindBagOfTokens, errors.Errorf("unknown features kind %q, valid values are \"bag_of_tokens\" or \"dense\"", name)
}

// Spec describes how to featurize rows.
type Spec struct {
	Kind Kind

	// Dim is the dimension of the feature vector: the number of distinct tokens (including unknown
	// and padding ids) for KindBagOfTokens, or the row length for KindDense.
	Dim int

	// PadValue used in the rows, it is never counted as a feature.
	PadValue int32

	// Scale applied to KindDense values.
	Scale float32
}

// Validate the Spec.
func (s Spec) Validate() error {
	if s.Dim <= 0 {
		return errors.Errorf("features spec %s has invalid dimension %d", s.Kind, s.Dim)
	}
	if s.Kind == KindBagOfTokens && int(s.PadValue) >= s.Dim {
		return errors.Errorf("features spec %s has dimension %d, too small for pad value %d", s.Kind, s.Dim, s.PadValue)
	}
	return nil
}

// Sparse returns the non-zero positions of the feature vector for the row and their values.
// Positions may repeat for KindBagOfTokens, in which case the values should be summed.
// Tokens outside [0, Dim) are ignored.
func (s Spec) Sparse(row []int32) (positions []int, values []float32) {
	switch s.Kind {
	case KindDense:
		for ii, v := range row {
			if v == s.PadValue || ii >= s.Dim || v == 0 {
				continue
			}
			positions = append(positions, ii)
			values = append(values, float32(v)*s.Scale)
		}
	default:
		var count int
		for _, v := range row {
			if v != s.PadValue && v >= 0 && int(v) < s.Dim {
				count++
			}
		}
		if count == 0 {
			return
		}
		weight := 1 / float32(count)
		for _, v := range row {
			if v == s.PadValue || v < 0 || int(v) >= s.Dim {
				continue
			}
			positions = append(positions, int(v))
			values = append(values, weight)
		}
	}
	return
}

// Row returns the dense feature vector of one row.
func (s Spec) Row(row []int32) []float32 {
	out := make([]float32, s.Dim)
	s.fill(row, out)
	return out
}

func (s Spec) fill(row []int32, out []float32) {
	positions, values := s.Sparse(row)
	for ii, pos := range positions {
		out[pos] += values[ii]
	}
}

// Flat returns the features of all rows of the batch in one flat slice shaped [batch.Len() * Dim],
// optionally with extra zero rows up to paddedRows (if larger than batch.Len()).
func (s Spec) Flat(batch *pool.Batch, paddedRows int) []float32 {
	rows := max(batch.Len(), paddedRows)
	flat := make([]float32, rows*s.Dim)
	for ii, row := range batch.Features {
		s.fill(row, flat[ii*s.Dim:(ii+1)*s.Dim])
	}
	return flat
}

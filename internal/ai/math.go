package ai

import (
	"github.com/chewxy/math32"
	"github.com/janpfeifer/activeGo/internal/generics"
	"slices"
)

// Softmax returns the Softmax of the given logits in a numerically stable way.
func Softmax(logits []float32) (probs []float32) {
	probs = make([]float32, len(logits))
	if len(logits) == 0 {
		return
	}
	// Subtracting the max logit keeps the probabilities the same, with smaller exponentials.
	maxValue := slices.Max(logits)
	for ii, value := range logits {
		probs[ii] = math32.Exp(value - maxValue)
	}
	sum := generics.Sum(probs)
	for ii := range probs {
		probs[ii] /= sum
	}
	return
}

// Softmin is the Softmax of the negated values: smaller values get larger weights.
func Softmin(values []float32) []float32 {
	negated := make([]float32, len(values))
	for ii, v := range values {
		negated[ii] = -v
	}
	return Softmax(negated)
}

// LogSoftmax returns log(Softmax(logits)) computed directly from the logits.
func LogSoftmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxValue := slices.Max(logits)
	var sum float32
	for _, value := range logits {
		sum += math32.Exp(value - maxValue)
	}
	logSum := maxValue + math32.Log(sum)
	for ii, value := range logits {
		out[ii] = value - logSum
	}
	return out
}

// Entropy of a probability distribution: -sum_c p_c log(p_c), in nats.
//
// Zero (or negative, from rounding) probabilities contribute 0, the limit of p*log(p) when p->0.
func Entropy(probs []float32) float32 {
	var h float32
	for _, p := range probs {
		if p <= 0 {
			continue
		}
		h -= p * math32.Log(p)
	}
	if h < 0 {
		// Rounding on a one-hot distribution.
		h = 0
	}
	return h
}

// CrossEntropy returns the loss -log(softmax(logits)[label]).
func CrossEntropy(logits []float32, label int) float32 {
	return -LogSoftmax(logits)[label]
}

// ArgMax returns the position of the largest value, the first one in case of ties.
func ArgMax(values []float32) int {
	best := 0
	for ii, v := range values {
		if v > values[best] {
			best = ii
		}
	}
	return best
}

// OneHotEncoding returns a slice of float32 with one element set to 1, and all others to 0.
func OneHotEncoding(total, selected int) (vec []float32) {
	vec = make([]float32, total)
	vec[selected] = 1
	return
}

// L2Norm of all the given parameters taken together.
func L2Norm(params [][]float32) float32 {
	var sum float32
	for _, p := range params {
		for _, v := range p {
			sum += v * v
		}
	}
	return math32.Sqrt(sum)
}

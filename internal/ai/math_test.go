package ai

import (
	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"math/rand/v2"
	"testing"
)

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float32{1, 1, 1, 1})
	assert.InDeltaSlice(t, []float32{0.25, 0.25, 0.25, 0.25}, probs, 1e-6)

	// Large logits don't overflow.
	probs = Softmax([]float32{1000, 0})
	assert.InDelta(t, 1.0, probs[0], 1e-6)
	assert.InDelta(t, 0.0, probs[1], 1e-6)

	weights := Softmin([]float32{0, 10})
	assert.Greater(t, weights[0], weights[1])
}

func TestEntropyBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	for numClasses := 2; numClasses <= 10; numClasses++ {
		maxEntropy := math32.Log(float32(numClasses))
		for range 100 {
			logits := make([]float32, numClasses)
			for ii := range logits {
				logits[ii] = float32(rng.NormFloat64() * 3)
			}
			h := Entropy(Softmax(logits))
			assert.GreaterOrEqual(t, h, float32(0))
			assert.LessOrEqual(t, h, maxEntropy+1e-5)
		}
		uniform := Softmax(make([]float32, numClasses))
		assert.InDelta(t, maxEntropy, Entropy(uniform), 1e-5)
	}

	// Degenerate distributions: 0*log(0) := 0.
	assert.Equal(t, float32(0), Entropy([]float32{1, 0, 0}))
	assert.False(t, math32.IsNaN(Entropy([]float32{0.5, 0.5, 0})))
	assert.InDelta(t, math32.Log(2), Entropy([]float32{0.5, 0.5, 0}), 1e-6)
}

func TestCrossEntropy(t *testing.T) {
	logits := []float32{2, 0.5, -1}
	probs := Softmax(logits)
	assert.InDelta(t, -math32.Log(probs[1]), CrossEntropy(logits, 1), 1e-5)
	assert.Equal(t, 0, ArgMax(logits))
	assert.Equal(t, 1, ArgMax([]float32{0, 3, 3}))
	assert.Equal(t, []float32{0, 0, 1}, OneHotEncoding(3, 2))
	assert.InDelta(t, 5.0, L2Norm([][]float32{{3}, {4}}), 1e-6)
}

package linear

import (
	"fmt"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/features"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand/v2"
	"path"
	"sync"
	"testing"
)

var denseSpec = features.Spec{Kind: features.KindDense, Dim: 3, PadValue: -1, Scale: 0.01}

// TestGradient compares the analytical gradient with finite differences of the loss.
func TestGradient(t *testing.T) {
	weights := []float32{
		// Feature 0..2 x 3 classes:
		0.2, -0.1, 0.4,
		-0.3, 0.5, 0.0,
		0.1, 0.1, -0.2,
		// Bias:
		0.05, -0.05, 0.1,
	}
	model, err := NewWithWeights(denseSpec, 3, weights)
	require.NoError(t, err)

	row := []int32{50, -20, 80}
	lossFn := func() float32 {
		batch := pool.NewBatch([][]int32{row}, []int32{2}, []int{0}, 3, -1)
		logits, err := model.Forward(batch)
		require.NoError(t, err)
		return ai.CrossEntropy(logits[0], 2)
	}
	grad, err := model.Gradient(row, 2)
	require.NoError(t, err)
	require.Len(t, grad, len(weights))

	const epsilon = 1e-2
	for ii := range model.weights {
		original := model.weights[ii]
		model.weights[ii] = original + epsilon
		lossPlus := lossFn()
		model.weights[ii] = original - epsilon
		lossMinus := lossFn()
		model.weights[ii] = original
		numerical := (lossPlus - lossMinus) / (2 * epsilon)
		assert.InDelta(t, numerical, grad[ii], 1e-3, "weight #%d", ii)
	}
}

// TestLearn checks that it is able to learn a separable 3 classes problem.
func TestLearn(t *testing.T) {
	const numExamples = 600
	rng := rand.New(rand.NewPCG(42, 0))
	centers := [][]float64{{80, 0, 0}, {0, 80, 0}, {0, 0, 80}}
	var rows [][]int32
	var labels []int32
	for ii := range numExamples {
		class := ii % 3
		row := make([]int32, 3)
		for jj := range row {
			row[jj] = int32(centers[class][jj] + rng.NormFloat64()*10)
		}
		rows = append(rows, row)
		labels = append(labels, int32(class))
	}
	model, err := New(denseSpec, 3, parameters.NewFromConfigString("learning_rate=1.0,l2=0"))
	require.NoError(t, err)
	assert.False(t, model.Ready())

	indices := make([]int, numExamples)
	for ii := range indices {
		indices[ii] = ii
	}
	batch := pool.NewBatch(rows, labels, indices, 3, -1)
	var loss float32
	for step := range 300 {
		loss, err = model.TrainStep(batch)
		require.NoError(t, err)
		if step%50 == 0 {
			fmt.Printf("step %d: loss=%.4f\n", step, loss)
		}
	}
	assert.True(t, model.Ready())
	assert.Less(t, loss, float32(0.3))

	logits, err := model.Forward(batch)
	require.NoError(t, err)
	var correct int
	for ii, l := range logits {
		if ai.ArgMax(l) == int(labels[ii]) {
			correct++
		}
	}
	assert.Greater(t, float64(correct)/numExamples, 0.95)

	// State round trip and Reset.
	state, err := model.State()
	require.NoError(t, err)
	require.NoError(t, model.Reset())
	assert.False(t, model.Ready())
	require.NoError(t, model.LoadState(state))
	assert.True(t, model.Ready())
	assert.Equal(t, state, model.Parameters()[0])

	// Save and load.
	fileName := path.Join(t.TempDir(), "model.txt")
	require.NoError(t, model.Save(fileName))
	require.NoError(t, model.Save(fileName)) // Creates backup.
	other, err := New(denseSpec, 3, nil)
	require.NoError(t, err)
	require.NoError(t, other.Load(fileName))
	assert.InDeltaSlice(t, model.Parameters()[0], other.Parameters()[0], 1e-6)
}

func TestEmbed(t *testing.T) {
	spec := features.Spec{Kind: features.KindBagOfTokens, Dim: 10, PadValue: 9}
	model, err := New(spec, 2, parameters.NewFromConfigString("embed_dim=4"))
	require.NoError(t, err)
	batch := pool.NewBatch([][]int32{{1, 2}, {1, 2, 9}, {7}}, []int32{0, 0, 1}, []int{0, 1, 2}, 4, 9)
	embeddings, err := model.Embed(batch)
	require.NoError(t, err)
	require.Len(t, embeddings, 3)
	assert.Len(t, embeddings[0], 4+2)
	// Padding doesn't change the embedding.
	assert.InDeltaSlice(t, embeddings[0], embeddings[1], 1e-6)
	assert.NotEqual(t, embeddings[0], embeddings[2])

	// Training moves the logits part of the embeddings, the projection part is fixed.
	balanced := pool.NewBatch([][]int32{{1, 2}, {7}}, []int32{0, 1}, []int{0, 2}, 4, 9)
	for range 5 {
		_, err = model.TrainStep(balanced)
		require.NoError(t, err)
	}
	trained, err := model.Embed(batch)
	require.NoError(t, err)
	assert.InDeltaSlice(t, embeddings[2][:4], trained[2][:4], 1e-6)
	assert.Greater(t, trained[2][5]-trained[2][4], embeddings[2][5]-embeddings[2][4])
	logits, err := model.Forward(batch)
	require.NoError(t, err)
	assert.InDeltaSlice(t, logits[2], trained[2][4:], 1e-6)
}

func TestSetLearningRateWhileTraining(t *testing.T) {
	spec := features.Spec{Kind: features.KindBagOfTokens, Dim: 10, PadValue: 9}
	model, err := New(spec, 2, parameters.Params{})
	require.NoError(t, err)
	batch := pool.NewBatch([][]int32{{1, 2}, {7}}, []int32{0, 1}, []int{0, 1}, 4, 9)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ii := range 100 {
			model.SetLearningRate(0.1 / float32(ii+1))
		}
	}()
	for range 100 {
		_, err := model.TrainStep(batch)
		require.NoError(t, err)
		assert.Positive(t, model.LearningRate())
	}
	wg.Wait()
	assert.InDelta(t, 0.001, model.LearningRate(), 1e-6)
}

package selection

import (
	"github.com/janpfeifer/activeGo/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand/v2"
	"testing"
)

func TestSelectTies(t *testing.T) {
	sv := scoring.ScoreVector{Indices: []int{0, 1, 2, 3}, Scores: []float32{0.1, 0.9, 0.5, 0.9}}
	for range 10 {
		assert.Equal(t, []int{1, 3}, Select(sv, 2))
	}
	assert.Equal(t, []int{1, 3, 2}, Select(sv, 3))

	// Ties are broken by index even if the candidates are not in index order.
	sv = scoring.ScoreVector{Indices: []int{9, 4, 7}, Scores: []float32{1, 1, 1}}
	assert.Equal(t, []int{4, 7}, Select(sv, 2))
}

func TestSelectClamped(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	for n := range 20 {
		sv := scoring.ScoreVector{Indices: make([]int, n), Scores: make([]float32, n)}
		for ii := range n {
			sv.Indices[ii] = ii * 3
			sv.Scores[ii] = rng.Float32()
		}
		got := Select(sv, 10)
		assert.Len(t, got, min(n, 10))
		for ii := 1; ii < len(got); ii++ {
			assert.GreaterOrEqual(t, sv.Scores[got[ii-1]/3], sv.Scores[got[ii]/3])
		}
	}
	assert.Empty(t, Select(scoring.ScoreVector{Indices: []int{1}, Scores: []float32{1}}, 0))
}

func TestSelectAll(t *testing.T) {
	indices := make([]int, 57)
	for ii := range indices {
		indices[ii] = 100 + ii
	}
	got := Select(scoring.ScoreVector{Indices: indices, All: true}, 10)
	assert.Equal(t, indices, got)
}

func TestClampToBudget(t *testing.T) {
	assert.Equal(t, []int{1, 2}, ClampToBudget([]int{1, 2, 3}, 2))
	assert.Equal(t, []int{1, 2, 3}, ClampToBudget([]int{1, 2, 3}, 5))
	assert.Empty(t, ClampToBudget([]int{1, 2, 3}, 0))
}

func TestNeighbors(t *testing.T) {
	embeddings := map[int][]float64{
		0: {0}, 1: {5}, 2: {1}, 3: {-1}, 4: {2}, 5: {10},
	}
	got, err := Neighbors(0, []int{1, 2, 3, 4, 5, 0}, embeddings, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3}, got)

	// Anchor not among candidates (already labeled).
	got, err = Neighbors(0, []int{5, 4, 1}, embeddings, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 1}, got)

	// A lower index with the same embedding doesn't displace the anchor.
	embeddings[6] = []float64{-1}
	got, err = Neighbors(6, []int{6, 3, 2}, embeddings, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 3}, got)
	got, err = Neighbors(6, []int{6, 3, 2}, embeddings, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{6}, got)
	got, err = Neighbors(6, []int{6, 3}, embeddings, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Neighbors(7, []int{1}, embeddings, 1)
	require.Error(t, err)
	_, err = Neighbors(0, []int{8}, embeddings, 1)
	require.Error(t, err)
}

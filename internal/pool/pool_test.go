package pool

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand/v2"
	"testing"
)

func makeFeatures(lengths ...int) (features [][]int32, targets []int32) {
	for ii, l := range lengths {
		row := make([]int32, l)
		for jj := range row {
			row[jj] = int32(ii*100 + jj + 1)
		}
		features = append(features, row)
		targets = append(targets, int32(ii%2))
	}
	return
}

func TestMaterializePadding(t *testing.T) {
	const pad = int32(-1)
	features, targets := makeFeatures(3, 7, 5)
	p, err := New(features, targets, 7, pad)
	require.NoError(t, err)

	batch, err := p.Materialize([]int{0, 1, 2})
	require.NoError(t, err)
	rows, cols := batch.Shape()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 7, cols)
	assert.Equal(t, []int32{1, 2, 3, pad, pad, pad, pad}, batch.Features[0])
	assert.Equal(t, features[1], batch.Features[1])
	assert.Equal(t, []int32{201, 202, 203, 204, 205, pad, pad}, batch.Features[2])
	assert.Equal(t, []int32{0, 1, 0}, batch.Targets)

	// Truncation.
	p, err = New(features, targets, 4, pad)
	require.NoError(t, err)
	batch, err = p.Materialize([]int{1})
	require.NoError(t, err)
	assert.Equal(t, []int32{101, 102, 103, 104}, batch.Features[0])

	_, err = p.Materialize([]int{3})
	require.ErrorIs(t, err, ErrInvalidIndex)
}

func TestMove(t *testing.T) {
	features, targets := makeFeatures(1, 1, 1, 1, 1)
	p, err := New(features, targets, 1, 0)
	require.NoError(t, err)

	require.NoError(t, p.Move([]int{3, 1}))
	assert.Equal(t, []int{3, 1}, p.Labeled())
	assert.Equal(t, []int{0, 2, 4}, p.Unlabeled())
	assert.True(t, p.IsLabeled(3))
	assert.False(t, p.IsLabeled(0))

	// Invalid moves leave the pool untouched.
	for _, bad := range [][]int{{3}, {0, 1}, {0, 0}, {5}, {-1}} {
		err = p.Move(bad)
		require.ErrorIs(t, err, ErrInvalidIndex, "move %v", bad)
		assert.Equal(t, []int{3, 1}, p.Labeled())
		assert.Equal(t, []int{0, 2, 4}, p.Unlabeled())
	}

	p.Reset()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, p.Unlabeled())
	assert.Empty(t, p.Labeled())
}

func TestDisjointness(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	lengths := make([]int, 200)
	for ii := range lengths {
		lengths[ii] = 1 + rng.IntN(10)
	}
	features, targets := makeFeatures(lengths...)
	p, err := New(features, targets, 10, 0)
	require.NoError(t, err)

	for p.NumUnlabeled() > 0 {
		unlabeled := p.Unlabeled()
		rng.Shuffle(len(unlabeled), func(i, j int) { unlabeled[i], unlabeled[j] = unlabeled[j], unlabeled[i] })
		n := min(1+rng.IntN(17), len(unlabeled))
		require.NoError(t, p.Move(unlabeled[:n]))
		require.NoError(t, p.CheckInvariants())
		assert.Equal(t, p.Total(), p.NumLabeled()+p.NumUnlabeled())
		for _, idx := range p.Unlabeled() {
			require.False(t, p.IsLabeled(idx))
		}
	}
	assert.Equal(t, 200, p.NumLabeled())
}

func TestChunks(t *testing.T) {
	indices := []int{9, 4, 7, 1, 3}
	chunks := Chunks(indices, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{3}, chunks[2].Indices)
	assert.Equal(t, 7, Flat(chunks, BatchIndex{Round: 1, Offset: 0}))
	assert.Equal(t, 3, Flat(chunks, BatchIndex{Round: 2, Offset: 0}))
	assert.Len(t, Chunks(nil, 3), 0)
	assert.Len(t, Chunks(indices, 0), 1)
}

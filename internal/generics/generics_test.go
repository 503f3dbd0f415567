package generics

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand/v2"
	"slices"
	"testing"
)

func TestSortedKeys(t *testing.T) {
	counts := map[string]int{"trec": 6, "mnist": 10, "mr": 2}
	for range 20 {
		require.Equal(t, []string{"mnist", "mr", "trec"}, slices.Collect(SortedKeys(counts)))
	}
}

func TestSet(t *testing.T) {
	labeled := MakeSet[int](4)
	assert.Len(t, labeled, 0)
	labeled.Insert(12, 3, 12)
	assert.Len(t, labeled, 2)
	assert.True(t, labeled.Has(3))
	assert.False(t, labeled.Has(4))
	assert.Equal(t, []int{3, 12}, Sorted(labeled))
}

func TestSliceOrdering(t *testing.T) {
	scores := []float32{0.2, 0.9, 0.5, 0.9}
	// Ties keep the lower position first in both directions.
	assert.Equal(t, []int{1, 3, 2, 0}, SliceOrdering(scores, true))
	assert.Equal(t, []int{0, 2, 1, 3}, SliceOrdering(scores, false))
	assert.Empty(t, SliceOrdering([]int{}, true))
}

func TestSumAndPermutation(t *testing.T) {
	assert.Equal(t, 6, Sum([]int{1, 2, 3}))
	assert.InDelta(t, 1.5, Sum([]float32{0.5, 1.0}), 1e-6)

	words := []string{"a", "b", "c", "d"}
	perm := rand.New(rand.NewPCG(1, 2)).Perm(len(words))
	shuffled := Permutation(words, perm)
	assert.ElementsMatch(t, words, shuffled)
	for ii, pos := range perm {
		assert.Equal(t, words[pos], shuffled[ii])
	}
	lengths := SliceMap(words, func(w string) int { return len(w) })
	assert.Equal(t, []int{1, 1, 1, 1}, lengths)
}

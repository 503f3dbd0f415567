package vecmath

import (
	"github.com/stretchr/testify/assert"
	"math"
	"testing"
)

func TestDistances(t *testing.T) {
	a, b := []float64{0, 3}, []float64{4, 0}
	assert.InDelta(t, 5.0, Distance(a, b), 1e-9)
	assert.InDelta(t, 1.0, CosineDistance(a, b), 1e-9)
	assert.InDelta(t, 0.0, CosineDistance(a, []float64{0, 1}), 1e-9)
	assert.Equal(t, 1.0, CosineDistance(a, []float64{0, 0}))
	assert.Equal(t, []float64{2, 1.5}, Mean([][]float64{a, b}))
	assert.Nil(t, Mean(nil))
	assert.Equal(t, []float64{1, 2}, ToFloat64([]float32{1, 2}))
}

func TestNearest(t *testing.T) {
	points := Matrix([][]float32{{0}, {2}, {-1}, {1}, {-2}})
	got := Nearest([]float64{0}, points, 3)
	assert.Equal(t, []Neighbor{{0, 0}, {2, 1}, {3, 1}}, got)

	got = Nearest([]float64{0}, points, 2, 0)
	assert.Equal(t, []Neighbor{{2, 1}, {3, 1}}, got)

	assert.Len(t, Nearest([]float64{0}, points, 10), 5)
	assert.Empty(t, Nearest([]float64{0}, points, 0))
	assert.Empty(t, Nearest([]float64{0}, points, -1))
	assert.Equal(t, 1.0, MinDistance([]float64{3}, points))
	assert.True(t, math.IsInf(MinDistance([]float64{3}, nil), 1))
}

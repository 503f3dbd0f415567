package features

import (
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestBagOfTokens(t *testing.T) {
	spec := Spec{Kind: KindBagOfTokens, Dim: 6, PadValue: 5}
	require.NoError(t, spec.Validate())
	row := spec.Row([]int32{1, 3, 1, 5, 5})
	assert.InDeltaSlice(t, []float32{0, 2.0 / 3, 0, 1.0 / 3, 0, 0}, row, 1e-6)

	// All padding: zero vector.
	assert.Equal(t, make([]float32, 6), spec.Row([]int32{5, 5}))
	require.Error(t, Spec{Kind: KindBagOfTokens, Dim: 5, PadValue: 5}.Validate())
}

func TestDense(t *testing.T) {
	spec := Spec{Kind: KindDense, Dim: 4, PadValue: -1, Scale: 1.0 / 255}
	row := spec.Row([]int32{255, 0, 51, -1})
	assert.InDeltaSlice(t, []float32{1, 0, 0.2, 0}, row, 1e-6)

	features := [][]int32{{255, 255}, {0}}
	batch := pool.NewBatch(features, []int32{0, 1}, []int{0, 1}, 4, -1)
	flat := spec.Flat(batch, 3)
	require.Len(t, flat, 12)
	assert.InDeltaSlice(t, []float32{1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, flat, 1e-6)

	kind, err := ParseKind("dense")
	require.NoError(t, err)
	assert.Equal(t, KindDense, kind)
	_, err = ParseKind("sparse")
	require.Error(t, err)
}

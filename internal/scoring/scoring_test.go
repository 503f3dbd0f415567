package scoring

import (
	"context"
	"github.com/chewxy/math32"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

// fakeModel returns fixed logits per sample: the first token of each row is the sample id.
type fakeModel struct {
	logits map[int32][]float32
	ready  bool
}

var (
	_ ai.GradientModel = (*fakeModel)(nil)
	_ ai.Encoder       = (*fakeModel)(nil)
)

func (m *fakeModel) String() string           { return "fake" }
func (m *fakeModel) NumClasses() int          { return 2 }
func (m *fakeModel) Eval()                    {}
func (m *fakeModel) Train()                   {}
func (m *fakeModel) Reset() error             { m.ready = false; return nil }
func (m *fakeModel) Ready() bool              { return m.ready }
func (m *fakeModel) State() (ai.State, error) { return nil, nil }
func (m *fakeModel) LoadState(ai.State) error { return nil }
func (m *fakeModel) Parameters() [][]float32  { return nil }
func (m *fakeModel) TrainStep(*pool.Batch) (float32, error) {
	m.ready = true
	return 0, nil
}

func (m *fakeModel) Forward(batch *pool.Batch) ([][]float32, error) {
	out := make([][]float32, batch.Len())
	for ii, row := range batch.Features {
		out[ii] = m.logits[row[0]]
	}
	return out, nil
}

// Gradient has norm equal to the label+1 times the sample id.
func (m *fakeModel) Gradient(row []int32, label int) ([]float32, error) {
	return []float32{float32(label+1) * float32(row[0]), 0}, nil
}

// Embed places each sample at position (id, 0).
func (m *fakeModel) Embed(batch *pool.Batch) ([][]float32, error) {
	out := make([][]float32, batch.Len())
	for ii, row := range batch.Features {
		out[ii] = []float32{float32(row[0]), 0}
	}
	return out, nil
}

func newTestPool(t *testing.T, n int) *pool.Pool {
	features := make([][]int32, n)
	targets := make([]int32, n)
	for ii := range features {
		features[ii] = []int32{int32(ii)}
	}
	p, err := pool.New(features, targets, 1, -1)
	require.NoError(t, err)
	return p
}

func TestEntropy(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 3)
	model := &fakeModel{logits: map[int32][]float32{
		0: {0, 0},   // Uniform: max entropy.
		1: {100, 0}, // Certain.
		2: {1, 0},
	}}
	s, err := New("entropy")
	require.NoError(t, err)
	candidates := NewCandidates(p, 2)

	_, err = s.Score(ctx, model, candidates)
	require.ErrorIs(t, err, ai.ErrModelNotReady)

	model.ready = true
	sv, err := s.Score(ctx, model, candidates)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, sv.Indices)
	assert.InDelta(t, math32.Log(2), sv.Scores[0], 1e-5)
	assert.InDelta(t, 0, sv.Scores[1], 1e-5)
	assert.Greater(t, sv.Scores[2], sv.Scores[1])
	assert.Less(t, sv.Scores[2], sv.Scores[0])
	assert.False(t, sv.All)
}

func TestEGL(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 4)
	require.NoError(t, p.Move([]int{0}))
	model := &fakeModel{ready: true, logits: map[int32][]float32{
		1: {0, 0},
		2: {0, 0},
		3: {100, 0},
	}}
	s, err := New("egl:parallelism=2")
	require.NoError(t, err)
	sv, err := s.Score(ctx, model, NewCandidates(p, 0))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, sv.Indices)
	// Uniform over labels {0, 1}: 0.5*1*id + 0.5*2*id = 1.5*id.
	assert.InDelta(t, 1.5, sv.Scores[0], 1e-5)
	assert.InDelta(t, 3.0, sv.Scores[1], 1e-5)
	// Certain about label 0: 1*id.
	assert.InDelta(t, 3.0, sv.Scores[2], 1e-4)
}

func TestNearestNeighbor(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 6)
	require.NoError(t, p.Move([]int{0, 5}))
	model := &fakeModel{}
	s, err := New("nn")
	require.NoError(t, err)
	_, err = s.Score(ctx, model, NewCandidates(p, 3))
	require.ErrorIs(t, err, ai.ErrModelNotReady)

	model.ready = true
	sv, err := s.Score(ctx, model, NewCandidates(p, 3))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, sv.Indices)
	assert.InDeltaSlice(t, []float32{1, 2, 2, 1}, sv.Scores, 1e-6)
}

func TestRandomAndAll(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 57)
	s, err := New("random:seed=3")
	require.NoError(t, err)
	// Random doesn't need a model.
	sv1, err := s.Score(ctx, nil, NewCandidates(p, 0))
	require.NoError(t, err)
	s.(*Random).Reseed(3)
	sv2, err := s.Score(ctx, nil, NewCandidates(p, 0))
	require.NoError(t, err)
	assert.Equal(t, sv1, sv2)
	for _, score := range sv1.Scores {
		assert.GreaterOrEqual(t, score, float32(0))
		assert.Less(t, score, float32(1))
	}

	all, err := New("all")
	require.NoError(t, err)
	sv, err := all.Score(ctx, nil, NewCandidates(p, 0))
	require.NoError(t, err)
	assert.True(t, sv.All)
	assert.Len(t, sv.Indices, 57)

	_, err = New("unknown")
	require.Error(t, err)
	_, err = New("random:bad=1")
	require.Error(t, err)
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := &fakeModel{ready: true, logits: map[int32][]float32{0: {0, 0}}}
	_, err := (&Entropy{}).Score(ctx, model, NewCandidates(newTestPool(t, 1), 0))
	require.ErrorIs(t, err, context.Canceled)
}

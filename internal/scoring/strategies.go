package scoring

import (
	"context"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/janpfeifer/activeGo/internal/vecmath"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"
)

// Entropy scores candidates by the entropy of the model's predicted class distribution.
type Entropy struct{}

var _ Strategy = (*Entropy)(nil)

// Name implements Strategy.
func (*Entropy) Name() string { return "entropy" }

// Score implements Strategy.
func (*Entropy) Score(ctx context.Context, model ai.Model, c *Candidates) (ScoreVector, error) {
	return scoreRows(ctx, model, c, func(_ *pool.Batch, logits [][]float32, scores []float32) error {
		for ii, l := range logits {
			scores[ii] = ai.Entropy(ai.Softmax(l))
		}
		return nil
	})
}

// EGL (expected gradient length) scores candidates by the norm of the gradient labeling them would induce,
// averaged over the possible labels weighted by the predicted probability of each label.
type EGL struct {
	// Parallelism is the number of rows whose gradients are computed concurrently.
	Parallelism int
}

var _ Strategy = (*EGL)(nil)

// NewEGL creates an EGL strategy. Param "parallelism" defaults to the number of CPUs.
func NewEGL(params parameters.Params) (Strategy, error) {
	parallelism, err := parameters.PopParamOr(params, "parallelism", runtime.NumCPU())
	if err != nil {
		return nil, err
	}
	return &EGL{Parallelism: max(parallelism, 1)}, nil
}

// Name implements Strategy.
func (*EGL) Name() string { return "egl" }

// Score implements Strategy. The model must implement ai.GradientModel.
func (e *EGL) Score(ctx context.Context, model ai.Model, c *Candidates) (ScoreVector, error) {
	gm, ok := model.(ai.GradientModel)
	if !ok {
		return ScoreVector{}, errors.Errorf("expected gradient length scoring requires a model with gradients, %s doesn't provide them", model)
	}
	return scoreRows(ctx, model, c, func(batch *pool.Batch, logits [][]float32, scores []float32) error {
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(max(e.Parallelism, 1))
		for ii := range logits {
			g.Go(func() error {
				if err := gCtx.Err(); err != nil {
					return err
				}
				probs := ai.Softmax(logits[ii])
				var expected float32
				for label, p := range probs {
					if p == 0 {
						continue
					}
					grad, err := gm.Gradient(batch.Features[ii], label)
					if err != nil {
						return errors.WithMessagef(err, "gradient of sample %d", batch.Indices[ii])
					}
					expected += p * ai.L2Norm([][]float32{grad})
				}
				scores[ii] = expected
				return nil
			})
		}
		return g.Wait()
	})
}

// NearestNeighbor scores candidates by the distance from their embedding to the closest labeled sample's
// embedding: far away candidates cover regions of the space not yet labeled.
type NearestNeighbor struct{}

var _ Strategy = (*NearestNeighbor)(nil)

// Name implements Strategy.
func (*NearestNeighbor) Name() string { return "nn" }

// Score implements Strategy. The model must implement ai.Encoder.
func (*NearestNeighbor) Score(ctx context.Context, model ai.Model, c *Candidates) (ScoreVector, error) {
	enc, ok := model.(ai.Encoder)
	if !ok {
		return ScoreVector{}, errors.Errorf("nearest neighbor scoring requires a model with embeddings, %s doesn't provide them", model)
	}
	if err := ai.CheckReady(model); err != nil {
		return ScoreVector{}, err
	}
	model.Eval()
	embed := func(indices []int) ([][]float64, error) {
		embeddings := make([][]float64, 0, len(indices))
		err := c.ForEachChunk(ctx, indices, func(_ pool.Chunk, batch *pool.Batch) error {
			e, err := enc.Embed(batch)
			if err != nil {
				return err
			}
			embeddings = append(embeddings, vecmath.Matrix(e)...)
			return nil
		})
		return embeddings, err
	}
	labeled, err := embed(c.Pool.Labeled())
	if err != nil {
		return ScoreVector{}, errors.WithMessage(err, "embedding labeled samples")
	}
	candidates, err := embed(c.Indices)
	if err != nil {
		return ScoreVector{}, errors.WithMessage(err, "embedding candidates")
	}
	sv := ScoreVector{Indices: slices.Clone(c.Indices), Scores: make([]float32, len(c.Indices))}
	for ii, e := range candidates {
		d := vecmath.MinDistance(e, labeled)
		if math.IsInf(d, 1) {
			d = math.MaxFloat32
		}
		sv.Scores[ii] = float32(d)
	}
	return sv, nil
}

// Random scores candidates with uniform random values in [0, 1). It doesn't use the model.
type Random struct {
	rng *rand.Rand
}

var _ Strategy = (*Random)(nil)

// NewRandom creates a Random strategy. Param "seed" defaults to 42.
func NewRandom(params parameters.Params) (Strategy, error) {
	seed, err := parameters.PopParamOr(params, "seed", uint64(42))
	if err != nil {
		return nil, err
	}
	r := &Random{}
	r.Reseed(seed)
	return r, nil
}

// Reseed resets the random source, making the following scores reproducible.
func (r *Random) Reseed(seed uint64) {
	r.rng = rand.New(rand.NewPCG(seed, 0))
}

// Name implements Strategy.
func (*Random) Name() string { return "random" }

// Score implements Strategy.
func (r *Random) Score(ctx context.Context, _ ai.Model, c *Candidates) (ScoreVector, error) {
	if err := ctx.Err(); err != nil {
		return ScoreVector{}, err
	}
	if r.rng == nil {
		r.Reseed(42)
	}
	sv := ScoreVector{Indices: slices.Clone(c.Indices), Scores: make([]float32, len(c.Indices))}
	for ii := range sv.Scores {
		sv.Scores[ii] = r.rng.Float32()
	}
	return sv, nil
}

// SelectAll doesn't score: it marks every candidate for selection.
type SelectAll struct{}

var _ Strategy = SelectAll{}

// Name implements Strategy.
func (SelectAll) Name() string { return "all" }

// Score implements Strategy.
func (SelectAll) Score(ctx context.Context, _ ai.Model, c *Candidates) (ScoreVector, error) {
	if err := ctx.Err(); err != nil {
		return ScoreVector{}, err
	}
	return ScoreVector{Indices: slices.Clone(c.Indices), All: true}, nil
}

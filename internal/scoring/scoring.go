// Package scoring implements the strategies that rank unlabeled samples by how informative labeling
// them is expected to be: higher scores are more informative.
//
// Strategies are created by name with New, e.g. "entropy", "egl", "nn", "random:seed=3" or "all".
package scoring

import (
	"context"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/pkg/errors"
	"slices"
)

// ScoreVector holds one score per candidate index. If All is set, Scores is empty and every candidate
// should be selected.
type ScoreVector struct {
	Indices []int
	Scores  []float32
	All     bool
}

// Strategy scores candidates for labeling.
type Strategy interface {
	// Name of the strategy.
	Name() string

	// Score returns the informativeness of each candidate, given the current model.
	// Strategies that use the model return an error wrapping ai.ErrModelNotReady if the model is not Ready.
	Score(ctx context.Context, model ai.Model, candidates *Candidates) (ScoreVector, error)
}

// Candidates to be scored: the unlabeled indices of a pool, materialized in chunks when needed.
type Candidates struct {
	Pool *pool.Pool

	// Indices of the candidates, in pool order.
	Indices []int

	// ChunkSize is the maximum number of rows materialized at once.
	ChunkSize int
}

// DefaultChunkSize used when Candidates.ChunkSize is not set.
const DefaultChunkSize = 256

// NewCandidates returns all unlabeled samples of p as candidates.
func NewCandidates(p *pool.Pool, chunkSize int) *Candidates {
	return &Candidates{Pool: p, Indices: p.Unlabeled(), ChunkSize: chunkSize}
}

// ForEachChunk materializes indices in chunks and calls fn for each of them, checking ctx between chunks.
// It is also used for the labeled samples, by the strategies that need them.
func (c *Candidates) ForEachChunk(ctx context.Context, indices []int, fn func(chunk pool.Chunk, batch *pool.Batch) error) error {
	chunkSize := c.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	for _, chunk := range pool.Chunks(indices, chunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := c.Pool.Materialize(chunk.Indices)
		if err != nil {
			return err
		}
		if err = fn(chunk, batch); err != nil {
			return err
		}
	}
	return nil
}

// scoreRows is a helper for strategies that compute scores from the logits of each row independently.
func scoreRows(ctx context.Context, model ai.Model, c *Candidates, fn func(batch *pool.Batch, logits [][]float32, scores []float32) error) (ScoreVector, error) {
	if err := ai.CheckReady(model); err != nil {
		return ScoreVector{}, err
	}
	model.Eval()
	sv := ScoreVector{Indices: slices.Clone(c.Indices), Scores: make([]float32, len(c.Indices))}
	var offset int
	err := c.ForEachChunk(ctx, sv.Indices, func(chunk pool.Chunk, batch *pool.Batch) error {
		logits, err := model.Forward(batch)
		if err != nil {
			return errors.WithMessagef(err, "forward of chunk %d", chunk.Round)
		}
		if err = fn(batch, logits, sv.Scores[offset:offset+batch.Len()]); err != nil {
			return err
		}
		offset += batch.Len()
		return nil
	})
	if err != nil {
		return ScoreVector{}, err
	}
	return sv, nil
}

// Factory creates a Strategy from its params.
type Factory func(params parameters.Params) (Strategy, error)

var registry = map[string]Factory{
	"entropy": func(parameters.Params) (Strategy, error) { return &Entropy{}, nil },
	"egl":     NewEGL,
	"nn":      func(parameters.Params) (Strategy, error) { return &NearestNeighbor{}, nil },
	"random":  NewRandom,
	"all":     func(parameters.Params) (Strategy, error) { return SelectAll{}, nil },
}

// Register a new strategy name, so it can be created with New.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// New creates a strategy from a configuration string "<name>[:k=v,...]".
func New(config string) (Strategy, error) {
	name, params := parameters.SplitModuleConfig(config)
	factory, found := registry[name]
	if !found {
		return nil, errors.Errorf("unknown scoring strategy %q", name)
	}
	s, err := factory(params)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create scoring strategy %q", name)
	}
	if err = parameters.CheckAllConsumed(params, "scoring strategy "+name); err != nil {
		return nil, err
	}
	return s, nil
}

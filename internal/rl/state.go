package rl

import (
	"context"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/generics"
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/janpfeifer/activeGo/internal/scoring"
	"github.com/janpfeifer/activeGo/internal/vecmath"
	"github.com/pkg/errors"
)

// encoding of all the samples of a pool by a model, from which the state vectors are built.
type encoding struct {
	// embeddings and predictions (class probabilities) indexed by the flat pool index.
	embeddings  [][]float64
	predictions [][]float64
	mean        []float64
}

// encode all samples of p, labeled or not. Predictions are only computed if withPredictions is set.
func encode(ctx context.Context, model ai.Encoder, p *pool.Pool, chunkSize int, withPredictions bool) (*encoding, error) {
	all := make([]int, p.Total())
	for ii := range all {
		all[ii] = ii
	}
	enc := &encoding{embeddings: make([][]float64, len(all))}
	if withPredictions {
		enc.predictions = make([][]float64, len(all))
	}
	model.Eval()
	candidates := &scoring.Candidates{Pool: p, ChunkSize: chunkSize}
	err := candidates.ForEachChunk(ctx, all, func(chunk pool.Chunk, batch *pool.Batch) error {
		embeddings, err := model.Embed(batch)
		if err != nil {
			return errors.WithMessage(err, "embedding samples")
		}
		for ii, idx := range chunk.Indices {
			enc.embeddings[idx] = vecmath.ToFloat64(embeddings[ii])
		}
		if !withPredictions {
			return nil
		}
		logits, err := model.Forward(batch)
		if err != nil {
			return errors.WithMessage(err, "predicting samples")
		}
		for ii, idx := range chunk.Indices {
			enc.predictions[idx] = vecmath.ToFloat64(ai.Softmax(logits[ii]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	enc.mean = vecmath.Mean(enc.embeddings)
	return enc, nil
}

// softminTopK returns the softmin of the distances from points[idx] to its k closest points, padded
// with zeros if there are fewer than k other points. It also returns the neighbours.
func softminTopK(points [][]float64, idx, k int) ([]float32, []vecmath.Neighbor) {
	neighbors := vecmath.Nearest(points[idx], points, k, idx)
	distances := generics.SliceMap(neighbors, func(n vecmath.Neighbor) float32 { return float32(n.Distance) })
	out := make([]float32, k)
	if len(distances) > 0 {
		copy(out, ai.Softmin(distances))
	}
	return out, neighbors
}

// state returns the state vector of the sample idx, laid out as:
// softmin(top-k distances), [intra-neighbour mean distances], [softmin(top-k prediction distances)],
// [distance to the mean embedding], [prediction entropy].
func (enc *encoding) state(cfg Config, idx int) []float32 {
	state := make([]float32, 0, cfg.StateDim())
	topK, neighbors := softminTopK(enc.embeddings, idx, cfg.TopK)
	state = append(state, topK...)

	if cfg.State.IntraNeighbor {
		intra := make([]float32, cfg.TopK)
		if len(neighbors) > 1 {
			for ii, n := range neighbors {
				var sum float64
				for jj, other := range neighbors {
					if ii != jj {
						sum += vecmath.Distance(enc.embeddings[n.Pos], enc.embeddings[other.Pos])
					}
				}
				intra[ii] = float32(sum / float64(len(neighbors)-1))
			}
		}
		state = append(state, intra...)
	}

	if cfg.State.PredictionTopK > 0 {
		predTopK, _ := softminTopK(enc.predictions, idx, cfg.State.PredictionTopK)
		state = append(state, predTopK...)
	}

	if cfg.State.GlobalMean {
		state = append(state, float32(vecmath.Distance(enc.embeddings[idx], enc.mean)))
	}

	if cfg.State.Entropy {
		probs := generics.SliceMap(enc.predictions[idx], func(p float64) float32 { return float32(p) })
		state = append(state, ai.Entropy(probs))
	}
	return state
}

// needsPredictions returns whether the state vectors use the model predictions.
func (c StateConfig) needsPredictions() bool {
	return c.PredictionTopK > 0 || c.Entropy
}

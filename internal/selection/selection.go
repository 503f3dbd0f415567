// Package selection picks which candidates get labeled next, either by ranking scores or by expanding
// a query around an anchor sample.
package selection

import (
	"github.com/janpfeifer/activeGo/internal/generics"
	"github.com/janpfeifer/activeGo/internal/scoring"
	"github.com/janpfeifer/activeGo/internal/vecmath"
	"github.com/pkg/errors"
	"slices"
)

// Select returns the batchSize candidates with the highest scores, in decreasing score order.
// Ties are broken by the lower index. If there are fewer candidates than batchSize, all are returned.
//
// If sv.All is set, every candidate is returned in pool order, regardless of batchSize.
func Select(sv scoring.ScoreVector, batchSize int) []int {
	if sv.All {
		return slices.Clone(sv.Indices)
	}
	batchSize = max(min(batchSize, len(sv.Indices)), 0)
	if batchSize == 0 {
		return []int{}
	}

	// Sort positions by index first, so a stable sort on the scores breaks ties by index.
	byIndex := generics.SliceOrdering(sv.Indices, false)
	scores := generics.Permutation(sv.Scores, byIndex)
	order := generics.SliceOrdering(scores, true)
	selected := make([]int, batchSize)
	for ii, pos := range order[:batchSize] {
		selected[ii] = sv.Indices[byIndex[pos]]
	}
	return selected
}

// ClampToBudget truncates indices so that at most remaining more samples are labeled.
func ClampToBudget(indices []int, remaining int) []int {
	if remaining <= 0 {
		return indices[:0]
	}
	if len(indices) > remaining {
		return indices[:remaining]
	}
	return indices
}

// Neighbors expands a query around anchor: it returns up to k candidates whose embeddings are closest
// to the anchor's embedding, closest first, ties broken by lower index. If the anchor is itself a
// candidate it always comes first, even if other candidates share its embedding.
//
// embeddings maps a flat index to its embedding, and it must include the anchor and all candidates.
func Neighbors(anchor int, candidates []int, embeddings map[int][]float64, k int) ([]int, error) {
	anchorEmbedding, found := embeddings[anchor]
	if !found {
		return nil, errors.Errorf("no embedding for query anchor %d", anchor)
	}
	if k <= 0 {
		return nil, nil
	}
	sorted := slices.Clone(candidates)
	slices.Sort(sorted)
	points := make([][]float64, len(sorted))
	anchorPos := -1
	for ii, idx := range sorted {
		points[ii], found = embeddings[idx]
		if !found {
			return nil, errors.Errorf("no embedding for candidate %d", idx)
		}
		if idx == anchor {
			anchorPos = ii
		}
	}
	selected := make([]int, 0, min(k, len(sorted)))
	if anchorPos >= 0 {
		selected = append(selected, anchor)
		k--
	}
	for _, n := range vecmath.Nearest(anchorEmbedding, points, k, anchorPos) {
		selected = append(selected, sorted[n.Pos])
	}
	return selected, nil
}

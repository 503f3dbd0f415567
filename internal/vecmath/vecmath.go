// Package vecmath holds the distance and neighbor computations over embeddings, on top of gonum.
package vecmath

import (
	"cmp"
	"gonum.org/v1/gonum/floats"
	"math"
	"slices"
)

// ToFloat64 converts a float32 vector.
func ToFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for ii, x := range v {
		out[ii] = float64(x)
	}
	return out
}

// Matrix converts a list of float32 vectors.
func Matrix(vectors [][]float32) [][]float64 {
	out := make([][]float64, len(vectors))
	for ii, v := range vectors {
		out[ii] = ToFloat64(v)
	}
	return out
}

// Distance is the euclidean distance between a and b.
func Distance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// CosineDistance is 1 - cos(a, b). Zero vectors are at distance 1 of everything.
func CosineDistance(a, b []float64) float64 {
	normA, normB := floats.Norm(a, 2), floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - floats.Dot(a, b)/(normA*normB)
}

// Mean of the vectors, element-wise. It returns nil for an empty list.
func Mean(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	mean := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		floats.Add(mean, v)
	}
	floats.Scale(1/float64(len(vectors)), mean)
	return mean
}

// Neighbor is a candidate position and its distance to a query.
type Neighbor struct {
	Pos      int
	Distance float64
}

// Nearest returns the k points (positions in points) closest to query, sorted by distance, ties broken by
// lower position. Positions in exclude are skipped. If there are fewer than k points, all are returned,
// and if k <= 0 none are.
func Nearest(query []float64, points [][]float64, k int, exclude ...int) []Neighbor {
	if k <= 0 {
		return nil
	}
	neighbors := make([]Neighbor, 0, len(points))
	for pos, p := range points {
		if slices.Contains(exclude, pos) {
			continue
		}
		neighbors = append(neighbors, Neighbor{Pos: pos, Distance: Distance(query, p)})
	}
	slices.SortStableFunc(neighbors, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Pos, b.Pos)
	})
	if k < len(neighbors) {
		neighbors = neighbors[:k]
	}
	return neighbors
}

// MinDistance returns the smallest distance from query to any of the points, or +Inf if there are none.
func MinDistance(query []float64, points [][]float64) float64 {
	best := math.Inf(1)
	for _, p := range points {
		best = min(best, Distance(query, p))
	}
	return best
}

// Package vectormath provides the cosine-similarity primitives shared by
// the clustering and novelty components.
package vectormath

import "math"

// Cosine computes cosine similarity between two vectors. A zero vector
// yields 0 by convention so that callers stay total over arbitrary
// embeddings.
func Cosine(left, right []float32) float64 {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}

	var dot, leftSq, rightSq float64
	for i := 0; i < n; i++ {
		l := float64(left[i])
		r := float64(right[i])
		dot += l * r
		leftSq += l * l
		rightSq += r * r
	}
	for i := n; i < len(left); i++ {
		l := float64(left[i])
		leftSq += l * l
	}
	for i := n; i < len(right); i++ {
		r := float64(right[i])
		rightSq += r * r
	}

	if leftSq == 0 || rightSq == 0 {
		return 0
	}
	return dot / (math.Sqrt(leftSq) * math.Sqrt(rightSq))
}

// CosineMatrix computes the pairwise cosine similarity matrix for a
// batch of vectors. Each vector is normalized once so the total cost is
// O(n*d + n^2*d) instead of re-normalizing per pair. The matrix is
// symmetric with a unit diagonal for nonzero vectors; rows for zero
// vectors are all zero.
func CosineMatrix(vectors [][]float32) [][]float64 {
	n := len(vectors)
	normalized := make([][]float64, n)
	for i, v := range vectors {
		normalized[i] = normalize(v)
	}

	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sim := dot(normalized[i], normalized[j])
			matrix[i][j] = sim
			matrix[j][i] = sim
		}
	}
	return matrix
}

func normalize(v []float32) []float64 {
	out := make([]float64, len(v))
	var sq float64
	for i, x := range v {
		f := float64(x)
		out[i] = f
		sq += f * f
	}
	if sq == 0 {
		return out
	}
	norm := math.Sqrt(sq)
	for i := range out {
		out[i] /= norm
	}
	return out
}

func dot(left, right []float64) float64 {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += left[i] * right[i]
	}
	return sum
}

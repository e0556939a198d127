// Package clustering groups item embeddings into story clusters using
// threshold-based greedy single-link clustering. Items join a cluster
// when they are similar to any current member, so clusters are connected
// components of the "similarity >= threshold" graph rather than cliques.
// The routine has no randomized components: identical embeddings, order,
// and thresholds always reproduce identical labels and representatives.
package clustering

import (
	"math"

	"horse.fit/intel-pipeline/internal/vectormath"
)

const (
	// DefaultThreshold is the cosine similarity at or above which two
	// items belong to the same story.
	DefaultThreshold = 0.85

	// DefaultMergeThreshold is the stricter centroid similarity used by
	// the optional second merge pass.
	DefaultMergeThreshold = 0.9

	// DefaultMinClusterSize discards singleton clusters; their items are
	// labeled noise and treated as independent themes downstream.
	DefaultMinClusterSize = 2

	// NoiseLabel marks items that belong to no retained cluster.
	NoiseLabel = -1
)

// Cluster is one group of semantically related items, identified by the
// indices of its members in the input embedding slice.
type Cluster struct {
	ID                int
	ItemIndices       []int
	Centroid          []float32
	RepresentativeIdx int
}

// Result carries the clusters plus a per-item label slice (NoiseLabel
// for unclustered items) and the noise indices.
type Result struct {
	Clusters     []Cluster
	Labels       []int
	NoiseIndices []int
}

// Options tunes a clustering run. Zero values fall back to the package
// defaults.
type Options struct {
	MinClusterSize int
	Threshold      float64
}

// ClusterEmbeddings partitions a batch of embeddings into story
// clusters. Cost is O(n^2 * d); fine for single-week batches.
func ClusterEmbeddings(embeddings [][]float32, opts Options) Result {
	minSize := opts.MinClusterSize
	if minSize <= 0 {
		minSize = DefaultMinClusterSize
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	n := len(embeddings)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = NoiseLabel
	}

	if n < minSize {
		return Result{Labels: labels, NoiseIndices: allIndices(n)}
	}

	similarity := vectormath.CosineMatrix(embeddings)

	var groups [][]int
	assigned := make([]bool, n)

	for i := 0; i < n; i++ {
		if assigned[i] {
			continue
		}

		members := []int{i}
		assigned[i] = true

		// Later items join when similar to any current member, so a
		// chain A~B, B~C lands in one cluster even if A~C is below
		// threshold.
		for j := i + 1; j < n; j++ {
			if assigned[j] {
				continue
			}
			for _, member := range members {
				if similarity[j][member] >= threshold {
					members = append(members, j)
					assigned[j] = true
					break
				}
			}
		}

		if len(members) >= minSize {
			groups = append(groups, members)
		}
	}

	clusters := make([]Cluster, 0, len(groups))
	for id, members := range groups {
		for _, idx := range members {
			labels[idx] = id
		}
		clusters = append(clusters, buildCluster(id, members, embeddings))
	}

	var noise []int
	for i, label := range labels {
		if label == NoiseLabel {
			noise = append(noise, i)
		}
	}

	return Result{Clusters: clusters, Labels: labels, NoiseIndices: noise}
}

// MergeClusters coalesces clusters whose centroids are mutually similar
// above mergeThreshold. It exists to collapse clusters kept apart only
// by the single-link scan order. Cluster IDs are reassigned to the
// merged positions.
func MergeClusters(clusters []Cluster, embeddings [][]float32, mergeThreshold float64) []Cluster {
	if len(clusters) <= 1 {
		return clusters
	}
	if mergeThreshold <= 0 {
		mergeThreshold = DefaultMergeThreshold
	}

	centroids := make([][]float32, len(clusters))
	for i, c := range clusters {
		centroids[i] = c.Centroid
	}
	similarity := vectormath.CosineMatrix(centroids)

	merged := make([]bool, len(clusters))
	result := make([]Cluster, 0, len(clusters))

	for i := range clusters {
		if merged[i] {
			continue
		}
		merged[i] = true

		indices := append([]int(nil), clusters[i].ItemIndices...)
		for j := i + 1; j < len(clusters); j++ {
			if merged[j] {
				continue
			}
			if similarity[i][j] >= mergeThreshold {
				indices = append(indices, clusters[j].ItemIndices...)
				merged[j] = true
			}
		}

		result = append(result, buildCluster(len(result), indices, embeddings))
	}

	return result
}

func buildCluster(id int, indices []int, embeddings [][]float32) Cluster {
	centroid := meanVector(indices, embeddings)

	representative := indices[0]
	best := math.MaxFloat64
	for _, idx := range indices {
		if d := squaredDistance(embeddings[idx], centroid); d < best {
			best = d
			representative = idx
		}
	}

	return Cluster{
		ID:                id,
		ItemIndices:       indices,
		Centroid:          centroid,
		RepresentativeIdx: representative,
	}
}

func meanVector(indices []int, embeddings [][]float32) []float32 {
	if len(indices) == 0 {
		return nil
	}

	dim := len(embeddings[indices[0]])
	sums := make([]float64, dim)
	for _, idx := range indices {
		v := embeddings[idx]
		for i := 0; i < dim && i < len(v); i++ {
			sums[i] += float64(v[i])
		}
	}

	centroid := make([]float32, dim)
	count := float64(len(indices))
	for i, sum := range sums {
		centroid[i] = float32(sum / count)
	}
	return centroid
}

func squaredDistance(v []float32, centroid []float32) float64 {
	n := len(v)
	if len(centroid) < n {
		n = len(centroid)
	}
	var sum float64
	for i := 0; i < n; i++ {
		diff := float64(v[i]) - float64(centroid[i])
		sum += diff * diff
	}
	return sum
}

func allIndices(n int) []int {
	if n == 0 {
		return nil
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

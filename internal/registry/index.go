package registry

import (
	"github.com/coder/hnsw"

	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/facematch"
)

// hnswIndex wraps an HNSW graph over the snapshot descriptors. Node keys are
// positions in the snapshot slice. The graph is never mutated after build.
type hnswIndex struct {
	graph *hnsw.Graph[int]
	dims  int
}

// newHNSWIndex builds the index. Descriptors whose length differs from the
// first one are left out; they can never be within threshold of a query anyway.
func newHNSWIndex(ids []facematch.Identity) *hnswIndex {
	g := hnsw.NewGraph[int]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = constants.HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance

	dims := 0
	for i, id := range ids {
		if len(id.Descriptor) == 0 {
			continue
		}
		if dims == 0 {
			dims = len(id.Descriptor)
		}
		if len(id.Descriptor) != dims {
			continue
		}
		g.Add(hnsw.MakeNode(i, id.Descriptor))
	}

	if g.Len() == 0 {
		return nil
	}
	return &hnswIndex{graph: g, dims: dims}
}

// candidates returns the snapshot positions of up to k approximate nearest
// neighbours. The order of the result carries no meaning.
func (h *hnswIndex) candidates(query []float32, k int) []int {
	if len(query) != h.dims || k <= 0 {
		return nil
	}
	nodes := h.graph.Search(query, min(k, h.graph.Len()))
	positions := make([]int, len(nodes))
	for i, n := range nodes {
		positions[i] = n.Key
	}
	return positions
}

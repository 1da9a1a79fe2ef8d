package repo

import "github.com/strandvcs/strand/pkg/object"

// generationMaxHeap orders commits by descending generation number so the
// merge-base search always expands the deepest frontier first. Ties break
// on hash for determinism.
type generationHeapItem struct {
	hash       object.Hash
	generation uint64
}

type generationMaxHeap []generationHeapItem

func (h generationMaxHeap) Len() int { return len(h) }

func (h generationMaxHeap) Less(i, j int) bool {
	if h[i].generation == h[j].generation {
		return h[i].hash < h[j].hash
	}
	return h[i].generation > h[j].generation
}

func (h generationMaxHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *generationMaxHeap) Push(x any) {
	*h = append(*h, x.(generationHeapItem))
}

func (h *generationMaxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

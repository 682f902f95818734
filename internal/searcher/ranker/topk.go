package ranker

import "container/heap"

// TopK returns the k best documents in rank order without sorting every
// candidate. k <= 0 returns all of them.
func TopK(scores map[uint32]int, k int) []ScoredDoc {
	if k <= 0 || k >= len(scores) {
		return Rank(scores)
	}
	h := make(minHeap, 0, k+1)
	for docID, score := range scores {
		doc := ScoredDoc{DocID: docID, Score: score}
		if h.Len() < k {
			heap.Push(&h, doc)
			continue
		}
		if Less(doc, h[0]) {
			h[0] = doc
			heap.Fix(&h, 0)
		}
	}
	result := make([]ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(ScoredDoc)
	}
	return result
}

// minHeap keeps the worst-ranked document at the root.
type minHeap []ScoredDoc

func (h minHeap) Len() int { return len(h) }

func (h minHeap) Less(i, j int) bool { return Less(h[j], h[i]) }

func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) {
	*h = append(*h, x.(ScoredDoc))
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Package hnswheap implements the min- and max-candidate heaps that HNSW's
// SearchLayer (spec.md §4.2) needs: a heap ordered by distance to a query
// point, with
// (blkno, offno) ascending as the tie-break spec.md §4.2 requires for
// deterministic ordering across sessions. IVFFlat's scan does not use these
// heaps: it collects every hit of the probed lists and sorts them.
//
// This generalizes the teacher repository's CandidateHeap, which declared
// a single struct with a string-tagged comparison direction but never
// actually satisfied container/heap.Interface consistently (Less inverted
// the sign instead of swapping comparands, and Push/Pop conflated the two
// orderings). MinHeap and MaxHeap are now distinct types over the same
// Candidate element, each a proper container/heap.Interface.
package hnswheap

import (
	"container/heap"

	"github.com/lblclass/annidx/storage"
)

// Candidate pairs a stable element address with its distance to the
// current query, the unit SearchLayer operates on.
type Candidate struct {
	Ptr      storage.ItemPointer
	Distance float64
}

// less implements the tie-break rule shared by both heap orderings.
func less(a, b Candidate) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Ptr.Less(b.Ptr)
}

// MinHeap pops the closest candidate first; SearchLayer's C (candidates to
// expand) uses this ordering.
type MinHeap []Candidate

func (h MinHeap) Len() int            { return len(h) }
func (h MinHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h MinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *MinHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *MinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Peek returns the minimum element without removing it.
func (h MinHeap) Peek() Candidate { return h[0] }

// MaxHeap pops the farthest candidate first; SearchLayer's W (the bounded
// working set of size ef) uses this ordering so the farthest element is
// the one trimmed when W overflows.
type MaxHeap []Candidate

func (h MaxHeap) Len() int            { return len(h) }
func (h MaxHeap) Less(i, j int) bool  { return less(h[j], h[i]) }
func (h MaxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *MaxHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *MaxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Peek returns the maximum element without removing it.
func (h MaxHeap) Peek() Candidate { return h[0] }

// NewMinHeap returns an initialized, empty min-heap.
func NewMinHeap() *MinHeap {
	h := make(MinHeap, 0)
	heap.Init(&h)
	return &h
}

// NewMaxHeap returns an initialized, empty max-heap.
func NewMaxHeap() *MaxHeap {
	h := make(MaxHeap, 0)
	heap.Init(&h)
	return &h
}

// Sorted drains h (a MaxHeap) into ascending-distance order. Used by
// SearchLayer to turn its bounded working set into the ordered sequence
// spec.md §4.2 step 3 requires as the return value.
func (h *MaxHeap) Sorted() []Candidate {
	n := h.Len()
	out := make([]Candidate, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Candidate)
	}
	return out
}

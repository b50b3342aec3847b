package hnsw

import (
	"container/heap"

	"github.com/lblclass/annidx/storage"
	hnswheap "github.com/lblclass/annidx/util/heap"
	"github.com/lblclass/annidx/vecdist"
)

// selectNeighborsHeuristic is Algorithm 4 of the HNSW paper (spec.md
// §4.3): picks up to m neighbors from candidates, preferring a candidate
// over ones already selected only when it is closer to the query than to
// every already-selected neighbor. This keeps the graph's connections
// spread across directions instead of clustering on the single nearest
// cluster of points. extendCandidates and keepPrunedConnections mirror
// the paper's optional extensions; both default on, matching pgvector's
// and openGauss's fixed configuration (no reloption exposes them).
func selectNeighborsHeuristic(bm *storage.BufferManager, opc vecdist.OpClass, query vecdist.Vector, candidates []hnswheap.Candidate, m int, level int, extendCandidates, keepPrunedConnections bool) ([]hnswheap.Candidate, error) {
	working := hnswheap.NewMinHeap()
	seen := make(map[storage.ItemPointer]bool, len(candidates)*2)
	for _, c := range candidates {
		seen[c.Ptr] = true
		heap.Push(working, c)
	}

	if extendCandidates {
		for _, c := range candidates {
			el, err := readElement(bm, c.Ptr)
			if err != nil {
				return nil, err
			}
			if level > el.Level {
				continue
			}
			for _, nPtr := range el.Neighbors[level] {
				if seen[nPtr] {
					continue
				}
				seen[nPtr] = true
				neighbor, err := readElement(bm, nPtr)
				if err != nil {
					return nil, err
				}
				if neighbor.Dead {
					continue
				}
				d, err := opc.Distance(query, neighbor.Vector)
				if err != nil {
					return nil, err
				}
				heap.Push(working, hnswheap.Candidate{Ptr: nPtr, Distance: d})
			}
		}
	}

	var selected []hnswheap.Candidate
	var discarded []hnswheap.Candidate

	for working.Len() > 0 && len(selected) < m {
		cand := heap.Pop(working).(hnswheap.Candidate)

		closerToQueryThanToSelected := true
		candEl, err := readElement(bm, cand.Ptr)
		if err != nil {
			return nil, err
		}
		for _, s := range selected {
			sEl, err := readElement(bm, s.Ptr)
			if err != nil {
				return nil, err
			}
			dToSelected, err := opc.Distance(candEl.Vector, sEl.Vector)
			if err != nil {
				return nil, err
			}
			if dToSelected < cand.Distance {
				closerToQueryThanToSelected = false
				break
			}
		}

		if closerToQueryThanToSelected {
			selected = append(selected, cand)
		} else {
			discarded = append(discarded, cand)
		}
	}

	if keepPrunedConnections {
		for _, cand := range discarded {
			if len(selected) >= m {
				break
			}
			selected = append(selected, cand)
		}
	}

	return selected, nil
}

// selectNeighborsSimple returns the m closest candidates by distance,
// the baseline strategy (spec.md §4.3). connectBidirectional uses it to
// prune a neighbor's list back to its cap after adding a reverse edge.
func selectNeighborsSimple(candidates []hnswheap.Candidate, m int) []hnswheap.Candidate {
	h := hnswheap.NewMinHeap()
	for _, c := range candidates {
		heap.Push(h, c)
	}
	out := make([]hnswheap.Candidate, 0, m)
	for h.Len() > 0 && len(out) < m {
		out = append(out, heap.Pop(h).(hnswheap.Candidate))
	}
	return out
}

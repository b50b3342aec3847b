package hnsw

import (
	"container/heap"

	"github.com/lblclass/annidx/storage"
	hnswheap "github.com/lblclass/annidx/util/heap"
	"github.com/lblclass/annidx/vecdist"
)

// searchLayer is Algorithm 2 of the HNSW paper (spec.md §4.2): starting
// from entryPoints, expand the nearest unvisited candidate's neighbors at
// level, maintaining a bounded working set of size ef, until no
// unexpanded candidate can still improve it. Dead elements (vacuumed TIDs)
// are skipped but their neighbor edges are still traversed, since vacuum
// preserves connectivity rather than re-linking around the hole.
func searchLayer(bm *storage.BufferManager, opc vecdist.OpClass, query vecdist.Vector, entryPoints []storage.ItemPointer, ef int, level int) ([]hnswheap.Candidate, error) {
	visited := make(map[storage.ItemPointer]bool, ef*4)
	candidates := hnswheap.NewMinHeap()
	found := hnswheap.NewMaxHeap()

	consider := func(ptr storage.ItemPointer) error {
		visited[ptr] = true
		el, err := readElement(bm, ptr)
		if err != nil {
			return err
		}
		d, err := opc.Distance(query, el.Vector)
		if err != nil {
			return err
		}
		c := hnswheap.Candidate{Ptr: ptr, Distance: d}
		if el.Dead {
			// Queue a dead element for expansion but never add it to found.
			if found.Len() < ef || c.Distance < found.Peek().Distance {
				heap.Push(candidates, c)
			}
			return nil
		}
		switch {
		case found.Len() < ef:
			heap.Push(candidates, c)
			heap.Push(found, c)
		case c.Distance < found.Peek().Distance:
			heap.Push(candidates, c)
			heap.Push(found, c)
			heap.Pop(found)
		}
		return nil
	}

	for _, ep := range entryPoints {
		if visited[ep] {
			continue
		}
		if err := consider(ep); err != nil {
			return nil, err
		}
	}

	for candidates.Len() > 0 {
		nearest := heap.Pop(candidates).(hnswheap.Candidate)
		if found.Len() >= ef && nearest.Distance > found.Peek().Distance {
			break
		}

		el, err := readElement(bm, nearest.Ptr)
		if err != nil {
			return nil, err
		}
		if level > el.Level {
			continue
		}
		for _, nPtr := range el.Neighbors[level] {
			if visited[nPtr] {
				continue
			}
			if err := consider(nPtr); err != nil {
				return nil, err
			}
		}
	}

	return found.Sorted(), nil
}

// greedyDescend runs searchLayer with ef=1 at every layer from the
// graph's top level down to (but not including) target, returning the
// single nearest element found at each step as the next layer's entry
// point (spec.md §4.4 steps 1-2, used both by Insert to find where to
// start linking and by KNNSearch to reach the base layer).
func greedyDescend(bm *storage.BufferManager, opc vecdist.OpClass, query vecdist.Vector, entry storage.ItemPointer, fromLevel, toLevel int) (storage.ItemPointer, error) {
	current := entry
	for level := fromLevel; level > toLevel; level-- {
		found, err := searchLayer(bm, opc, query, []storage.ItemPointer{current}, 1, level)
		if err != nil {
			return storage.ItemPointer{}, err
		}
		if len(found) == 0 {
			break
		}
		current = found[0].Ptr
	}
	return current, nil
}

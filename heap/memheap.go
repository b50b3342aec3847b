package heap

import (
	"sync"

	"github.com/lblclass/annidx/vecdist"
)

type memRow struct {
	vec  vecdist.Vector
	dead bool
}

// MemHeap is an in-memory Heap, used by tests and small-scale demos.
type MemHeap struct {
	mu    sync.RWMutex
	order []TID
	rows  map[TID]*memRow
}

// NewMemHeap returns an empty in-memory heap.
func NewMemHeap() *MemHeap {
	return &MemHeap{rows: make(map[TID]*memRow)}
}

func (h *MemHeap) Insert(v vecdist.Vector) (TID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tid := NewTID()
	h.rows[tid] = &memRow{vec: v}
	h.order = append(h.order, tid)
	return tid, nil
}

func (h *MemHeap) Get(tid TID) (vecdist.Vector, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rows[tid]
	if !ok {
		return vecdist.Vector{}, ErrNotFound
	}
	if r.dead {
		return vecdist.Vector{}, ErrDead
	}
	return r.vec, nil
}

func (h *MemHeap) Delete(tid TID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rows[tid]
	if !ok {
		return ErrNotFound
	}
	r.dead = true
	return nil
}

func (h *MemHeap) Scan(fn func(Row) bool) error {
	h.mu.RLock()
	order := append([]TID(nil), h.order...)
	h.mu.RUnlock()

	for _, tid := range order {
		h.mu.RLock()
		r, ok := h.rows[tid]
		h.mu.RUnlock()
		if !ok || r.dead {
			continue
		}
		if !fn(Row{TID: tid, Vector: r.vec}) {
			break
		}
	}
	return nil
}

func (h *MemHeap) Count() (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, r := range h.rows {
		if !r.dead {
			n++
		}
	}
	return n, nil
}

func (h *MemHeap) Close() error { return nil }

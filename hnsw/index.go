// Package hnsw implements the Hierarchical Navigable Small World index
// (spec.md §4): layered proximity graph construction, greedy/beam search,
// the neighbor-selection heuristic, and a concurrent insert protocol with
// ordered cross-page locking. It generalizes the teacher package's
// single-process, never-persisted graph (see DESIGN.md) into one backed by
// storage.BufferManager, so element pages, neighbor lists, and the meta
// record survive a process restart and support concurrent writers.
package hnsw

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lblclass/annidx/heap"
	"github.com/lblclass/annidx/options"
	"github.com/lblclass/annidx/storage"
	hnswheap "github.com/lblclass/annidx/util/heap"
	"github.com/lblclass/annidx/vecdist"
	"github.com/lblclass/annidx/wal"
)

// Index is an open handle onto an HNSW graph: the buffer manager backing
// its pages, the opclass governing distance and vector encoding, and a
// private RNG for level assignment (rand.Rand is not safe for concurrent
// use, so access is serialized by rngMu independently of page locking). wal
// brackets every multi-page neighbor-list mutation and traces Insert and
// KNNSearch (spec.md §4.5, §9); it defaults to a no-op logger/tracer until
// SetLogger is called.
type Index struct {
	bm  *storage.BufferManager
	opc vecdist.OpClass

	rngMu sync.Mutex
	rng   *rand.Rand

	wal *wal.WAL
}

// SetLogger rebuilds idx's WAL to narrate through logger instead of the
// no-op default Open installs. Build calls this so progress and bracket
// commits share the caller's logger.
func (idx *Index) SetLogger(logger zerolog.Logger) {
	idx.wal = wal.New(logger, nil)
}

// Create initializes a new, empty HNSW graph's meta page (block 0).
func Create(bm *storage.BufferManager, opc vecdist.OpClass, opts options.HNSWOptions, dimensions int) (*Index, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	buf, err := bm.NewBuffer(storage.PageTypeMeta)
	if err != nil {
		return nil, fmt.Errorf("hnsw: allocate meta page: %w", err)
	}
	if buf.BlockNo() != 0 {
		buf.Release()
		return nil, fmt.Errorf("hnsw: meta page must be the first page allocated, got block %d", buf.BlockNo())
	}
	m := Meta{
		Magic:          MagicNumber,
		Version:        Version,
		Dimensions:     dimensions,
		M:              opts.M,
		EfConstruction: opts.EfConstruction,
		EntryBlkno:     storage.InvalidBlockNumber,
		InsertPage:     storage.InvalidBlockNumber,
	}
	if _, err := buf.Page().AddItem(encodeMeta(m)); err != nil {
		buf.Release()
		return nil, fmt.Errorf("hnsw: write meta page: %w", err)
	}
	buf.MarkDirty()
	if err := buf.Release(); err != nil {
		return nil, err
	}
	return Open(bm, opc)
}

// Open attaches to an existing HNSW graph, validating its meta record.
func Open(bm *storage.BufferManager, opc vecdist.OpClass) (*Index, error) {
	if _, err := readMeta(bm); err != nil {
		return nil, err
	}
	return &Index{bm: bm, opc: opc, rng: rand.New(rand.NewSource(1)), wal: wal.New(zerolog.Nop(), nil)}, nil
}

// normalizationML returns mL = 1/ln(M), the level-assignment constant of
// spec.md §4.4.
func normalizationML(m int) float64 {
	return 1.0 / math.Log(float64(m))
}

// generateLevel draws a random level via the exponential decay
// level = floor(-ln(U) * mL), matching spec.md §4.4 and the original HNSW
// paper's Algorithm 1 line 4.
func generateLevel(rng *rand.Rand, m int) int {
	mL := normalizationML(m)
	var u float64
	for u == 0 {
		u = rng.Float64()
	}
	return int(math.Floor(-math.Log(u) * mL))
}

func (idx *Index) nextLevel(m int) int {
	idx.rngMu.Lock()
	defer idx.rngMu.Unlock()
	return generateLevel(idx.rng, m)
}

// writeNewElement allocates a fresh page, encodes el onto it, and returns
// the element's stable address. Each element owns its own page (see
// DESIGN.md); this keeps neighbor-list growth within one exclusive lock.
func writeNewElement(bm *storage.BufferManager, el Element) (storage.ItemPointer, error) {
	buf, err := bm.NewBuffer(storage.PageTypeHNSWElement)
	if err != nil {
		return storage.ItemPointer{}, err
	}
	offno, err := buf.Page().AddItem(encodeElement(el, el.Vector.Kind()))
	if err != nil {
		buf.Release()
		return storage.ItemPointer{}, err
	}
	buf.MarkDirty()
	ptr := storage.ItemPointer{BlockNo: buf.BlockNo(), OffNo: offno}
	if err := buf.Release(); err != nil {
		return storage.ItemPointer{}, err
	}
	return ptr, nil
}

func ptrsOf(cands []hnswheap.Candidate) []storage.ItemPointer {
	out := make([]storage.ItemPointer, len(cands))
	for i, c := range cands {
		out[i] = c.Ptr
	}
	return out
}

// connectBidirectional links newPtr to each of selected at level, then
// updates every selected neighbor's reverse edge, pruning back down to
// capForLevel(level, m) when an update pushes a neighbor over its cap
// (spec.md §4.4 step 4, §4.5's ordered cross-page locking). All pages
// touched by one call are locked together via LockPagesInOrder, then
// tracked in a WAL bracket so the whole set of neighbor-list writes commits
// or aborts as one unit.
func (idx *Index) connectBidirectional(newPtr storage.ItemPointer, selected []hnswheap.Candidate, level, m int) (err error) {
	bm, opc := idx.bm, idx.opc
	blocks := []uint64{newPtr.BlockNo}
	for _, s := range selected {
		blocks = append(blocks, s.Ptr.BlockNo)
	}
	bufs, _, err := bm.LockPagesInOrder(blocks)
	if err != nil {
		return err
	}
	bracket := idx.wal.Begin("hnsw.connect")
	for _, b := range bufs {
		bracket.Track(b)
	}
	defer func() {
		if err != nil {
			bracket.Abort()
			return
		}
		err = bracket.Commit()
	}()

	byBlock := make(map[uint64]*storage.Buffer, len(bufs))
	for _, b := range bufs {
		byBlock[b.BlockNo()] = b
	}

	elAt := func(ptr storage.ItemPointer) (Element, error) {
		buf := byBlock[ptr.BlockNo]
		item, ok := buf.Page().GetItem(ptr.OffNo)
		if !ok {
			return Element{}, fmt.Errorf("hnsw: element %v has no record", ptr)
		}
		return decodeElement(item, ptr)
	}
	putAt := func(ptr storage.ItemPointer, el Element) {
		buf := byBlock[ptr.BlockNo]
		buf.Page().ClearItem(ptr.OffNo, encodeElement(el, el.Vector.Kind()))
		buf.MarkDirty()
	}

	newEl, err := elAt(newPtr)
	if err != nil {
		return err
	}
	newEl.Neighbors[level] = ptrsOf(selected)
	putAt(newPtr, newEl)

	getVector := func(ptr storage.ItemPointer) (vecdist.Vector, error) {
		if ptr == newPtr {
			return newEl.Vector, nil
		}
		if buf, ok := byBlock[ptr.BlockNo]; ok {
			item, ok := buf.Page().GetItem(ptr.OffNo)
			if !ok {
				return vecdist.Vector{}, fmt.Errorf("hnsw: element %v has no record", ptr)
			}
			el, err := decodeElement(item, ptr)
			if err != nil {
				return vecdist.Vector{}, err
			}
			return el.Vector, nil
		}
		el, err := readElement(bm, ptr)
		if err != nil {
			return vecdist.Vector{}, err
		}
		return el.Vector, nil
	}

	for _, s := range selected {
		nEl, err := elAt(s.Ptr)
		if err != nil {
			return err
		}
		if level > nEl.Level {
			continue
		}
		merged := append(append([]storage.ItemPointer{}, nEl.Neighbors[level]...), newPtr)
		neighborCap := capForLevel(level, m)
		if len(merged) <= neighborCap {
			nEl.Neighbors[level] = merged
			putAt(s.Ptr, nEl)
			continue
		}

		cands := make([]hnswheap.Candidate, 0, len(merged))
		for _, p := range merged {
			v, err := getVector(p)
			if err != nil {
				return err
			}
			d, err := opc.Distance(nEl.Vector, v)
			if err != nil {
				return err
			}
			cands = append(cands, hnswheap.Candidate{Ptr: p, Distance: d})
		}
		nEl.Neighbors[level] = ptrsOf(selectNeighborsSimple(cands, neighborCap))
		putAt(s.Ptr, nEl)
	}

	return nil
}

// findDuplicate reports whether the graph already holds a live element with
// the given tid and a vector exactly equal to vec, searching the base layer
// from the current entry point with an ef_construction-wide beam (spec.md
// §4.4's duplicate no-op: "if an exact equal vector and equal TID is
// observed during insertion, the insert is a no-op"). It has no separate
// TID index to consult, so it relies on the observation that a row
// re-inserted unchanged lands at distance 0 from itself and is always
// found by even a narrow beam search around its own position.
func (idx *Index) findDuplicate(vec vecdist.Vector, tid heap.TID, meta Meta, opts options.HNSWOptions) (bool, error) {
	if !meta.entryPtr().Valid() {
		return false, nil
	}
	entry, err := greedyDescend(idx.bm, idx.opc, vec, meta.entryPtr(), meta.EntryLevel, 0)
	if err != nil {
		return false, err
	}
	candidates, err := searchLayer(idx.bm, idx.opc, vec, []storage.ItemPointer{entry}, opts.EfConstruction, 0)
	if err != nil {
		return false, err
	}
	for _, c := range candidates {
		el, err := readElement(idx.bm, c.Ptr)
		if err != nil {
			return false, err
		}
		if el.Dead {
			continue
		}
		if el.TID == tid && el.Vector.Equal(vec) {
			return true, nil
		}
	}
	return false, nil
}

// Insert runs spec.md §4.4: pick a random level, then for every layer from
// the graph's current top level down to 0, beam-search for candidates and
// link the new element to the m closest by the heuristic (ef_construction
// for every touched layer, simple search for layers above the new
// element's own level). The entry point advances only when the new
// element's level exceeds the prior entry point's, the last step of the
// algorithm and the only one that mutates global index state. An exact
// duplicate (same TID, same vector) is a no-op rather than a second insert.
func (idx *Index) Insert(tid heap.TID, vec vecdist.Vector, opts options.HNSWOptions) error {
	span := idx.wal.StartSpan("hnsw.insert")
	defer span.Finish()

	if err := opts.Validate(); err != nil {
		return err
	}

	meta, err := readMeta(idx.bm)
	if err != nil {
		return err
	}
	dup, err := idx.findDuplicate(vec, tid, meta, opts)
	if err != nil {
		return err
	}
	if dup {
		return nil
	}

	level := idx.nextLevel(opts.M)

	el := Element{
		TID:       tid,
		Level:     level,
		Vector:    vec,
		Neighbors: make([][]storage.ItemPointer, level+1),
	}
	for l := range el.Neighbors {
		el.Neighbors[l] = nil
	}
	ptr, err := writeNewElement(idx.bm, el)
	if err != nil {
		return err
	}

	if !meta.entryPtr().Valid() {
		meta.EntryBlkno = ptr.BlockNo
		meta.EntryOffno = ptr.OffNo
		meta.EntryLevel = level
		return writeMeta(idx.bm, meta)
	}

	entry := meta.entryPtr()
	entryLevel := meta.EntryLevel

	current := entry
	if level < entryLevel {
		current, err = greedyDescend(idx.bm, idx.opc, vec, entry, entryLevel, level)
		if err != nil {
			return err
		}
	}

	for l := min(level, entryLevel); l >= 0; l-- {
		candidates, err := searchLayer(idx.bm, idx.opc, vec, []storage.ItemPointer{current}, opts.EfConstruction, l)
		if err != nil {
			return err
		}
		selected, err := selectNeighborsHeuristic(idx.bm, idx.opc, vec, candidates, capForLevel(l, opts.M), l, true, true)
		if err != nil {
			return err
		}
		if err := idx.connectBidirectional(ptr, selected, l, opts.M); err != nil {
			return err
		}
		if len(selected) > 0 {
			current = selected[0].Ptr
		}
	}

	if level > entryLevel {
		meta.EntryBlkno = ptr.BlockNo
		meta.EntryOffno = ptr.OffNo
		meta.EntryLevel = level
		if err := writeMeta(idx.bm, meta); err != nil {
			return err
		}
	}
	return nil
}

// Result is one hit returned by KNNSearch.
type Result struct {
	TID      heap.TID
	Distance float64
}

// KNNSearch runs spec.md §4.2's scan path: greedy descent to the base
// layer, then a beam search of width max(efSearch, k), truncated to the
// k closest live elements.
func (idx *Index) KNNSearch(query vecdist.Vector, k int, efSearch int) ([]Result, error) {
	span := idx.wal.StartSpan("hnsw.knn_search")
	defer span.Finish()

	if err := options.ValidateEfSearch(efSearch); err != nil {
		return nil, err
	}
	meta, err := readMeta(idx.bm)
	if err != nil {
		return nil, err
	}
	if !meta.entryPtr().Valid() {
		return nil, nil
	}

	ef := efSearch
	if k > ef {
		ef = k
	}

	entry, err := greedyDescend(idx.bm, idx.opc, query, meta.entryPtr(), meta.EntryLevel, 0)
	if err != nil {
		return nil, err
	}
	found, err := searchLayer(idx.bm, idx.opc, query, []storage.ItemPointer{entry}, ef, 0)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, k)
	for _, c := range found {
		if len(out) == k {
			break
		}
		el, err := readElement(idx.bm, c.Ptr)
		if err != nil {
			return nil, err
		}
		if el.Dead {
			continue
		}
		out = append(out, Result{TID: el.TID, Distance: c.Distance})
	}
	return out, nil
}

// Close releases the index's underlying storage.
func (idx *Index) Close() error { return idx.bm.Close() }

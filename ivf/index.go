package ivf

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/lblclass/annidx/heap"
	"github.com/lblclass/annidx/options"
	"github.com/lblclass/annidx/storage"
	"github.com/lblclass/annidx/vecdist"
	"github.com/lblclass/annidx/wal"
)

// Index is the open handle to an on-disk IVFFlat index: the decoded meta
// page plus the centroid list directory, cached in memory at Open time the
// way a real backend caches the small, hot list directory across scans. wal
// brackets posting-chain extensions and traces Insert/Scan (spec.md §9); it
// defaults to a no-op logger/tracer until SetLogger is called.
type Index struct {
	bm      *storage.BufferManager
	opc     vecdist.OpClass
	meta    Meta
	entries []ListEntry
	ptrs    []storage.ItemPointer
	wal     *wal.WAL
}

// SetLogger rebuilds idx's WAL to narrate through logger instead of the
// no-op default Open installs.
func (idx *Index) SetLogger(logger zerolog.Logger) {
	idx.wal = wal.New(logger, nil)
}

// Open reads an existing IVFFlat index's meta page and list directory.
func Open(bm *storage.BufferManager, opc vecdist.OpClass) (*Index, error) {
	meta, err := readMeta(bm)
	if err != nil {
		return nil, err
	}
	entries, ptrs, err := loadListDirectory(bm, meta.ListDirStart, meta.Lists, opc.Kind)
	if err != nil {
		return nil, err
	}
	return &Index{bm: bm, opc: opc, meta: meta, entries: entries, ptrs: ptrs, wal: wal.New(zerolog.Nop(), nil)}, nil
}

// Insert assigns v to its nearest centroid list and appends a posting for
// it (spec.md §4.9), without touching the centroids themselves.
func (idx *Index) Insert(tid heap.TID, v vecdist.Vector) error {
	span := idx.wal.StartSpan("ivf.insert")
	defer span.Finish()

	best, err := idx.nearestList(v)
	if err != nil {
		return err
	}
	entry := idx.entries[best]
	start, insert, err := appendPosting(idx.bm, idx.wal, entry.StartPage, entry.InsertPage, Posting{TID: tid, Vector: v})
	if err != nil {
		return err
	}
	entry.StartPage, entry.InsertPage = start, insert
	idx.entries[best] = entry
	return updateListEntry(idx.bm, idx.ptrs[best], entry)
}

func (idx *Index) nearestList(v vecdist.Vector) (int, error) {
	best, bestDist := -1, 0.0
	for i, e := range idx.entries {
		d, err := idx.opc.Distance(v, e.Center)
		if err != nil {
			return 0, err
		}
		if best == -1 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best == -1 {
		return 0, fmt.Errorf("ivf: index has no lists")
	}
	return best, nil
}

// Result is one scored hit, lowest distance first.
type Result struct {
	TID      heap.TID
	Distance float64
}

// Scan runs the probe-based top-k search of spec.md §4.9: order the lists
// by distance to query, visit the closest `probes` of them, and return the
// k closest postings found across those lists.
func (idx *Index) Scan(query vecdist.Vector, k, probes int) ([]Result, error) {
	span := idx.wal.StartSpan("ivf.scan")
	defer span.Finish()

	if err := options.ValidateProbes(probes, len(idx.entries)); err != nil {
		return nil, err
	}

	type listDist struct {
		id   int
		dist float64
	}
	ordered := make([]listDist, len(idx.entries))
	for i, e := range idx.entries {
		d, err := idx.opc.Distance(query, e.Center)
		if err != nil {
			return nil, err
		}
		ordered[i] = listDist{id: i, dist: d}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].dist < ordered[j].dist })
	if probes > len(ordered) {
		probes = len(ordered)
	}

	var hits []Result
	for _, l := range ordered[:probes] {
		entry := idx.entries[l.id]
		if entry.StartPage == storage.InvalidBlockNumber {
			continue
		}
		err := scanList(idx.bm, entry.StartPage, idx.opc.Kind, func(p Posting) bool {
			d, derr := idx.opc.Distance(query, p.Vector)
			if derr != nil {
				return true
			}
			hits = append(hits, Result{TID: p.TID, Distance: d})
			return true
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Lists returns the number of centroid lists the index was built with.
func (idx *Index) Lists() int { return len(idx.entries) }

func (idx *Index) Close() error { return nil }

package ivf

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"

	"github.com/lblclass/annidx/heap"
	"github.com/lblclass/annidx/options"
	"github.com/lblclass/annidx/storage"
	"github.com/lblclass/annidx/vecdist"
	"github.com/lblclass/annidx/wal"
)

// BuildStats mirrors the `{heap_tuples, index_tuples}` pair spec.md §6's
// `build` operation returns.
type BuildStats struct {
	HeapTuples  int
	IndexTuples int
}

// assignment is the "virtual tuple" `(list_id, tid, vector)` of spec.md
// §4.8, kept in memory and sorted by list id in place of a real external
// sort/tuplesort dependency (see DESIGN.md for why no pack library covers
// this).
type assignment struct {
	listID int
	tid    heap.TID
	vector vecdist.Vector
}

// prepareCentroids runs sampling, k-means++ seeding, and Lloyd refinement
// (spec.md §4.7), returning exactly opts.Lists centroids. When the sample
// holds fewer rows than lists it logs a recall warning and pads the
// centroid set; duplicate vectors are counted as separate samples, so a
// sample with enough rows but fewer distinct vectors gets no warning.
func prepareCentroids(h heap.Heap, opts options.IVFOptions, opc vecdist.OpClass, rng *rand.Rand, logger zerolog.Logger) ([]vecdist.Vector, DebugMetrics, error) {
	sampleSize := SampleSize(opts.Lists)
	samples, err := ReservoirSample(h, sampleSize, rng)
	if err != nil {
		return nil, DebugMetrics{}, fmt.Errorf("ivf: sample heap: %w", err)
	}
	if len(samples) == 0 {
		return nil, DebugMetrics{}, fmt.Errorf("ivf: cannot build an index over an empty heap")
	}

	if opc.KMeansNorm != nil {
		for i, s := range samples {
			normalized, err := opc.KMeansNorm(s)
			if err != nil {
				return nil, DebugMetrics{}, fmt.Errorf("ivf: normalize sample %d: %w", i, err)
			}
			samples[i] = normalized
		}
	}

	if len(samples) < opts.Lists {
		logger.Warn().Int("samples", len(samples)).Int("lists", opts.Lists).
			Msg("ivf: fewer distinct samples than lists, recall will be degraded")
	}

	k := opts.Lists
	if k > len(samples) {
		k = len(samples)
	}
	seeds, err := kmeansPlusPlus(samples, k, opc, rng)
	if err != nil {
		return nil, DebugMetrics{}, fmt.Errorf("ivf: seed centroids: %w", err)
	}
	centers, metrics, err := LloydRefine(samples, seeds, opc)
	if err != nil {
		return nil, DebugMetrics{}, fmt.Errorf("ivf: refine centroids: %w", err)
	}
	centers = PadCentroids(centers, opts.Lists)

	logger.Debug().Int("lists", len(centers)).Float64("inertia", metrics.Inertia).
		Float64("davies_bouldin", metrics.DaviesBouldin).Msg("ivf: centroids ready")
	return centers, metrics, nil
}

// assignAll computes, for every live heap row, the index of the nearest
// centroid (ties broken toward the lower list id), then sorts the
// resulting virtual tuples by list id ascending, matching the external
// sort spec.md §4.8 describes before the load phase.
func assignAll(h heap.Heap, centers []vecdist.Vector, opc vecdist.OpClass) ([]assignment, error) {
	var out []assignment
	err := h.Scan(func(row heap.Row) bool {
		best, bestDist := 0, 0.0
		for i, c := range centers {
			d, derr := opc.Distance(row.Vector, c)
			if derr != nil {
				return true // skip rows the opclass rejects (e.g. zero vector under cosine)
			}
			if i == 0 || d < bestDist {
				best, bestDist = i, d
			}
		}
		out = append(out, assignment{listID: best, tid: row.TID, vector: row.Vector})
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].listID < out[j].listID })
	return out, nil
}

// loadAssignments appends every assignment to its list's entry-page
// chain in list-id order (spec.md §4.8 load), updating each list's
// directory entry once all of its postings have landed. w is the WAL
// appendPosting brackets chain-extension writes through.
func loadAssignments(bm *storage.BufferManager, w *wal.WAL, assigns []assignment, entries []ListEntry, ptrs []storage.ItemPointer) (int, error) {
	loaded := 0
	i := 0
	for i < len(assigns) {
		listID := assigns[i].listID
		entry := entries[listID]
		for i < len(assigns) && assigns[i].listID == listID {
			start, insert, err := appendPosting(bm, w, entry.StartPage, entry.InsertPage, Posting{TID: assigns[i].tid, Vector: assigns[i].vector})
			if err != nil {
				return loaded, fmt.Errorf("ivf: load list %d: %w", listID, err)
			}
			entry.StartPage, entry.InsertPage = start, insert
			loaded++
			i++
		}
		entries[listID] = entry
		if err := updateListEntry(bm, ptrs[listID], entry); err != nil {
			return loaded, err
		}
	}
	return loaded, nil
}

// Build runs the full IVFFlat build pipeline of spec.md §4.7-§4.8: k-means
// centroid computation, then a serial assign/sort/load pass. Use
// BuildParallel for the worker-coordinated path.
func Build(bm *storage.BufferManager, opc vecdist.OpClass, opts options.IVFOptions, dimensions int, h heap.Heap, logger zerolog.Logger, rng *rand.Rand) (*Index, BuildStats, error) {
	if err := opts.Validate(); err != nil {
		return nil, BuildStats{}, err
	}
	if dimensions == 1 && opc.KMeansNorm != nil {
		return nil, BuildStats{}, fmt.Errorf("ivf: dimension 1 is rejected for spherical opclasses")
	}

	w := wal.New(logger, nil)
	span := w.StartSpan("ivf.build")
	defer span.Finish()

	centers, _, err := prepareCentroids(h, opts, opc, rng, logger)
	if err != nil {
		return nil, BuildStats{}, err
	}

	meta, err := createMetaAndLists(bm, opts, dimensions, centers)
	if err != nil {
		return nil, BuildStats{}, err
	}

	entries, ptrs, err := loadListDirectory(bm, meta.ListDirStart, meta.Lists, opc.Kind)
	if err != nil {
		return nil, BuildStats{}, err
	}

	assigns, err := assignAll(h, centers, opc)
	if err != nil {
		return nil, BuildStats{}, err
	}
	indexTuples, err := loadAssignments(bm, w, assigns, entries, ptrs)
	if err != nil {
		return nil, BuildStats{}, err
	}

	heapTuples, err := h.Count()
	if err != nil {
		return nil, BuildStats{}, err
	}

	idx, err := Open(bm, opc)
	if err != nil {
		return nil, BuildStats{}, err
	}
	idx.SetLogger(logger)
	logger.Info().Int("heap_tuples", heapTuples).Int("index_tuples", indexTuples).Msg("ivf: build complete")
	return idx, BuildStats{HeapTuples: heapTuples, IndexTuples: indexTuples}, nil
}

// CreateEmpty writes the meta page and a list directory of zero vectors
// for an index with no rows yet (spec.md §6's build-on-empty-relation
// path). The centroids are meaningless placeholders until a real Build
// runs once enough rows exist to sample from.
func CreateEmpty(bm *storage.BufferManager, opc vecdist.OpClass, opts options.IVFOptions, dimensions int) (*Index, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	zero := make([]vecdist.Vector, opts.Lists)
	for i := range zero {
		switch opc.Kind {
		case vecdist.KindBit:
			zero[i] = vecdist.NewBitVector(make([]bool, dimensions))
		case vecdist.KindFloat16:
			zero[i] = vecdist.NewFloat16Vector(make([]float32, dimensions))
		default:
			zero[i] = vecdist.NewFloat32Vector(make([]float32, dimensions))
		}
	}
	if _, err := createMetaAndLists(bm, opts, dimensions, zero); err != nil {
		return nil, err
	}
	return Open(bm, opc)
}

func createMetaAndLists(bm *storage.BufferManager, opts options.IVFOptions, dimensions int, centers []vecdist.Vector) (Meta, error) {
	metaBuf, err := bm.NewBuffer(storage.PageTypeMeta)
	if err != nil {
		return Meta{}, fmt.Errorf("ivf: allocate meta page: %w", err)
	}
	if metaBuf.BlockNo() != 0 {
		metaBuf.Release()
		return Meta{}, fmt.Errorf("ivf: meta page must be the first page allocated, got block %d", metaBuf.BlockNo())
	}

	listDirStart, _, err := createListDirectory(bm, centers)
	if err != nil {
		metaBuf.Release()
		return Meta{}, err
	}

	m := Meta{
		Magic:        MagicNumber,
		Version:      Version,
		Dimensions:   dimensions,
		Lists:        opts.Lists,
		ListDirStart: listDirStart,
	}
	if _, err := metaBuf.Page().AddItem(encodeMeta(m)); err != nil {
		metaBuf.Release()
		return Meta{}, fmt.Errorf("ivf: write meta page: %w", err)
	}
	metaBuf.MarkDirty()
	if err := metaBuf.Release(); err != nil {
		return Meta{}, err
	}
	return m, nil
}

package amadapter

import (
	"fmt"
	"math/rand"

	"github.com/opentracing/opentracing-go"
	"github.com/rs/zerolog"

	"github.com/lblclass/annidx/heap"
	"github.com/lblclass/annidx/hnsw"
	"github.com/lblclass/annidx/ivf"
	"github.com/lblclass/annidx/options"
	"github.com/lblclass/annidx/storage"
	"github.com/lblclass/annidx/vecdist"
)

// Method identifies which index type an AM handle dispatches to, the
// stand-in for choosing between the hnsw_handler and ivfflat_handler
// catalog entries spec.md §6 describes.
type Method int

const (
	MethodHNSW Method = iota
	MethodIVFFlat
)

func (m Method) String() string {
	if m == MethodHNSW {
		return "hnsw"
	}
	return "ivfflat"
}

// Stats mirrors the `{heap_tuples, index_tuples}` pair every build/vacuum
// operation in spec.md §6 reports back to the host.
type Stats struct {
	HeapTuples  int
	IndexTuples int
}

// AM is one opened index access method handle: a method, its backing
// storage and opclass, and whichever concrete index (hnsw.Index or
// ivf.Index) Build/Open populated.
type AM struct {
	Method  Method
	BM      *storage.BufferManager
	OpClass vecdist.OpClass
	Logger  zerolog.Logger

	HNSWOpts options.HNSWOptions
	IVFOpts  options.IVFOptions

	hnswIdx *hnsw.Index
	ivfIdx  *ivf.Index
}

// Validate checks am's reloptions against the ranges spec.md §3/§6 define
// for am's method, returning ErrInvalidParameter on violation.
func (am *AM) Validate() (err error) {
	defer recoverInternal("Validate", &err)
	switch am.Method {
	case MethodHNSW:
		if verr := am.HNSWOpts.Validate(); verr != nil {
			return invalidParameter("Validate", verr)
		}
	case MethodIVFFlat:
		if verr := am.IVFOpts.Validate(); verr != nil {
			return invalidParameter("Validate", verr)
		}
	default:
		return invalidParameter("Validate", fmt.Errorf("unknown method %v", am.Method))
	}
	return nil
}

// Options returns the reloptions am was opened with, for a caller that
// wants to report them back (e.g. \d+ in a host shell).
func (am *AM) Options() (options.HNSWOptions, options.IVFOptions) {
	return am.HNSWOpts, am.IVFOpts
}

// Build runs the method's full build pipeline over h (spec.md §4.3 for
// HNSW, §4.7-§4.8 for IVFFlat), dispatching to the parallel IVF path when
// IVFOpts.ParallelWorkers > 0.
func (am *AM) Build(h heap.Heap, dimensions int) (stats Stats, err error) {
	span := opentracing.GlobalTracer().StartSpan("amadapter.build")
	span.SetTag("method", am.Method.String())
	defer span.Finish()
	defer recoverInternal("Build", &err)
	if err := am.Validate(); err != nil {
		return Stats{}, err
	}
	switch am.Method {
	case MethodHNSW:
		idx, berr := hnsw.Build(am.BM, am.OpClass, am.HNSWOpts, dimensions, h, am.Logger, 1000)
		if berr != nil {
			return Stats{}, internalError("Build", berr)
		}
		am.hnswIdx = idx
		n, cerr := h.Count()
		if cerr != nil {
			return Stats{}, internalError("Build", cerr)
		}
		return Stats{HeapTuples: n, IndexTuples: n}, nil

	case MethodIVFFlat:
		rng := rand.New(rand.NewSource(1))
		var idx *ivf.Index
		var ivfStats ivf.BuildStats
		if am.IVFOpts.ParallelWorkers > 0 {
			idx, ivfStats, err = ivf.BuildParallel(am.BM, am.OpClass, am.IVFOpts, dimensions, h, am.Logger, rng)
		} else {
			idx, ivfStats, err = ivf.Build(am.BM, am.OpClass, am.IVFOpts, dimensions, h, am.Logger, rng)
		}
		if err != nil {
			return Stats{}, internalError("Build", err)
		}
		am.ivfIdx = idx
		return Stats{HeapTuples: ivfStats.HeapTuples, IndexTuples: ivfStats.IndexTuples}, nil
	}
	return Stats{}, invalidParameter("Build", fmt.Errorf("unknown method %v", am.Method))
}

// BuildEmpty creates the meta pages for an index with no rows yet (the
// unlogged-table / CONCURRENTLY stand-in build target of spec.md §6). For
// IVFFlat this defers real centroid computation: the directory is seeded
// with zero vectors and reassigned the first time enough rows exist to
// run Build again.
func (am *AM) BuildEmpty(dimensions int) (err error) {
	defer recoverInternal("BuildEmpty", &err)
	if err := am.Validate(); err != nil {
		return err
	}
	switch am.Method {
	case MethodHNSW:
		idx, cerr := hnsw.Create(am.BM, am.OpClass, am.HNSWOpts, dimensions)
		if cerr != nil {
			return internalError("BuildEmpty", cerr)
		}
		am.hnswIdx = idx
		return nil
	case MethodIVFFlat:
		idx, cerr := ivf.CreateEmpty(am.BM, am.OpClass, am.IVFOpts, dimensions)
		if cerr != nil {
			return internalError("BuildEmpty", cerr)
		}
		am.ivfIdx = idx
		return nil
	}
	return invalidParameter("BuildEmpty", fmt.Errorf("unknown method %v", am.Method))
}

// Insert adds one row to an already-built index (spec.md §4.4 for HNSW,
// §4.9 for IVFFlat).
func (am *AM) Insert(tid heap.TID, v vecdist.Vector) (err error) {
	span := opentracing.GlobalTracer().StartSpan("amadapter.insert")
	span.SetTag("method", am.Method.String())
	defer span.Finish()
	defer recoverInternal("Insert", &err)
	switch am.Method {
	case MethodHNSW:
		if am.hnswIdx == nil {
			return featureNotSupported("Insert", fmt.Errorf("hnsw index not built"))
		}
		if ierr := am.hnswIdx.Insert(tid, v, am.HNSWOpts); ierr != nil {
			return invalidParameter("Insert", ierr)
		}
		return nil
	case MethodIVFFlat:
		if am.ivfIdx == nil {
			return featureNotSupported("Insert", fmt.Errorf("ivfflat index not built"))
		}
		if ierr := am.ivfIdx.Insert(tid, v); ierr != nil {
			return invalidParameter("Insert", ierr)
		}
		return nil
	}
	return invalidParameter("Insert", fmt.Errorf("unknown method %v", am.Method))
}

// BulkDelete marks every TID isDead reports true for as logically deleted
// (spec.md §4.6). Only HNSW performs a real bulkdelete pass here. IVFFlat
// postings carry no dead flag (see DESIGN.md): its call always reports
// zero deletions, and ivf.Index.Scan still returns those postings.
func (am *AM) BulkDelete(isDead func(heap.TID) bool) (stats Stats, err error) {
	defer recoverInternal("BulkDelete", &err)
	switch am.Method {
	case MethodHNSW:
		if am.hnswIdx == nil {
			return Stats{}, featureNotSupported("BulkDelete", fmt.Errorf("hnsw index not built"))
		}
		vstats, verr := hnsw.BulkDelete(am.BM, isDead)
		if verr != nil {
			return Stats{}, internalError("BulkDelete", verr)
		}
		return Stats{HeapTuples: vstats.Scanned, IndexTuples: vstats.Scanned - vstats.Deleted}, nil
	case MethodIVFFlat:
		return Stats{}, nil
	}
	return Stats{}, invalidParameter("BulkDelete", fmt.Errorf("unknown method %v", am.Method))
}

// VacuumCleanup runs the post-bulkdelete bookkeeping pass spec.md §6
// reserves this call for. Neither index keeps a free-space map or
// relation-level statistics that would need recomputing here, so this is
// intentionally a no-op reporting zero; a real backend would refresh
// planner statistics in its place.
func (am *AM) VacuumCleanup() (Stats, error) {
	return Stats{}, nil
}

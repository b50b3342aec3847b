package ivf

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lblclass/annidx/heap"
	"github.com/lblclass/annidx/options"
	"github.com/lblclass/annidx/storage"
	"github.com/lblclass/annidx/util/spinlock"
	"github.com/lblclass/annidx/vecdist"
	"github.com/lblclass/annidx/wal"
)

// ivfflatShared is the read-only state every worker needs, modeled on
// original_source/ivfbuild.cpp's IvfflatShared: the centroids and opclass
// computed once by the leader before any worker starts.
type ivfflatShared struct {
	centers []vecdist.Vector
	opc     vecdist.OpClass
}

// ivfflatSpool is one worker's private scratch space — its shard of heap
// rows in, its local assignments out. Nothing here is touched by any
// other worker, matching the original's per-worker spool.
type ivfflatSpool struct {
	rows    []heap.Row
	results []assignment
}

func (s *ivfflatSpool) assign(shared ivfflatShared) {
	s.results = make([]assignment, 0, len(s.rows))
	for _, row := range s.rows {
		best, bestDist := 0, 0.0
		rejected := false
		for i, c := range shared.centers {
			d, err := shared.opc.Distance(row.Vector, c)
			if err != nil {
				rejected = true
				break
			}
			if i == 0 || d < bestDist {
				best, bestDist = i, d
			}
		}
		if rejected {
			continue
		}
		s.results = append(s.results, assignment{listID: best, tid: row.TID, vector: row.Vector})
	}
}

// ivfflatLeader owns the pieces no worker does: launching the pool,
// merging spools back together, and falling back to the serial path if
// workers can't be started. It mirrors the original's leader process,
// which alone holds the write lock to the index relation.
type ivfflatLeader struct {
	shared ivfflatShared
	spools []*ivfflatSpool
	logger zerolog.Logger

	progressLock spinlock.SpinLock
	done         int
}

// markDone increments the shared nparticipantsdone-equivalent counter
// under a spinlock rather than a full mutex: contention here is a single
// increment per worker, brief enough that spinning beats parking a
// goroutine (spec.md §4.5, §9).
func (l *ivfflatLeader) markDone() {
	l.progressLock.With(func() {
		l.done++
		l.logger.Debug().Int("done", l.done).Int("workers", len(l.spools)).Msg("ivf: worker finished assign shard")
	})
}

func newIvfflatLeader(rows []heap.Row, shared ivfflatShared, nWorkers int, logger zerolog.Logger) *ivfflatLeader {
	if nWorkers > len(rows) {
		nWorkers = len(rows)
	}
	shardSize := (len(rows) + nWorkers - 1) / nWorkers
	spools := make([]*ivfflatSpool, 0, nWorkers)
	for start := 0; start < len(rows); start += shardSize {
		end := start + shardSize
		if end > len(rows) {
			end = len(rows)
		}
		spools = append(spools, &ivfflatSpool{rows: rows[start:end]})
	}
	return &ivfflatLeader{shared: shared, spools: spools, logger: logger}
}

// run launches one goroutine per spool (the worker-process stand-in) and
// merges their results. An errgroup failure here is what BuildParallel
// treats as a launch failure and falls back to the serial path for.
func (l *ivfflatLeader) run() ([]assignment, error) {
	var g errgroup.Group
	for _, spool := range l.spools {
		spool := spool
		g.Go(func() error {
			spool.assign(l.shared)
			l.markDone()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ivf: parallel worker failed: %w", err)
	}

	l.logger.Debug().Int("workers", len(l.spools)).Msg("ivf: parallel assign complete")

	var merged []assignment
	for _, spool := range l.spools {
		merged = append(merged, spool.results...)
	}
	return merged, nil
}

// BuildParallel mirrors the IvfflatShared/IvfflatLeader/IvfflatSpool split
// of the original engine's parallel build: the leader computes centroids
// alone (k-means needs the whole sample in one place), then hands the
// assign phase to opts.ParallelWorkers goroutines, each a stand-in for a
// parallel worker process scanning its own slice of the heap. If workers
// cannot be launched (opts.ParallelWorkers < 2, or the errgroup reports a
// failure), it falls back to the serial Build path, logging the fallback
// instead of failing the build (spec.md §4.8, §7).
func BuildParallel(bm *storage.BufferManager, opc vecdist.OpClass, opts options.IVFOptions, dimensions int, h heap.Heap, logger zerolog.Logger, rng *rand.Rand) (*Index, BuildStats, error) {
	if err := opts.Validate(); err != nil {
		return nil, BuildStats{}, err
	}
	if opts.ParallelWorkers < 2 {
		return Build(bm, opc, opts, dimensions, h, logger, rng)
	}

	w := wal.New(logger, nil)
	span := w.StartSpan("ivf.build_parallel")
	defer span.Finish()

	centers, _, err := prepareCentroids(h, opts, opc, rng, logger)
	if err != nil {
		return nil, BuildStats{}, err
	}

	rows, err := collectRows(h)
	if err != nil {
		return nil, BuildStats{}, err
	}

	leader := newIvfflatLeader(rows, ivfflatShared{centers: centers, opc: opc}, opts.ParallelWorkers, logger)
	assigns, err := leader.run()
	if err != nil {
		logger.Warn().Err(err).Msg("ivf: parallel assign failed, falling back to serial build")
		return Build(bm, opc, opts, dimensions, h, logger, rng)
	}

	meta, err := createMetaAndLists(bm, opts, dimensions, centers)
	if err != nil {
		return nil, BuildStats{}, err
	}
	entries, ptrs, err := loadListDirectory(bm, meta.ListDirStart, meta.Lists, opc.Kind)
	if err != nil {
		return nil, BuildStats{}, err
	}

	sort.SliceStable(assigns, func(i, j int) bool { return assigns[i].listID < assigns[j].listID })
	indexTuples, err := loadAssignments(bm, w, assigns, entries, ptrs)
	if err != nil {
		return nil, BuildStats{}, err
	}

	heapTuples := len(rows)
	idx, err := Open(bm, opc)
	if err != nil {
		return nil, BuildStats{}, err
	}
	idx.SetLogger(logger)
	logger.Info().Int("workers", len(leader.spools)).Int("heap_tuples", heapTuples).
		Int("index_tuples", indexTuples).Msg("ivf: parallel build complete")
	return idx, BuildStats{HeapTuples: heapTuples, IndexTuples: indexTuples}, nil
}

func collectRows(h heap.Heap) ([]heap.Row, error) {
	var rows []heap.Row
	err := h.Scan(func(r heap.Row) bool {
		rows = append(rows, r)
		return true
	})
	return rows, err
}

// assignParallel is the direct functional entry point used by tests to
// compare the parallel assignment against the serial one without going
// through a full BuildParallel call.
func assignParallel(rows []heap.Row, centers []vecdist.Vector, opc vecdist.OpClass, nWorkers int, logger zerolog.Logger) ([]assignment, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	leader := newIvfflatLeader(rows, ivfflatShared{centers: centers, opc: opc}, nWorkers, logger)
	return leader.run()
}

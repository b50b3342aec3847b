package hnsw

import (
	"github.com/rs/zerolog"

	"github.com/lblclass/annidx/heap"
	"github.com/lblclass/annidx/options"
	"github.com/lblclass/annidx/storage"
	"github.com/lblclass/annidx/vecdist"
)

// Build creates a fresh HNSW graph over every live row in h, inserting
// rows one at a time in scan order (spec.md §4.4's incremental Insert is
// also the build algorithm; HNSW has no separate bulk-load fast path the
// way IVFFlat's k-means does). logger narrates progress at Info level
// every logEvery rows, a single periodic progress line rather than
// per-row logging.
func Build(bm *storage.BufferManager, opc vecdist.OpClass, opts options.HNSWOptions, dimensions int, h heap.Heap, logger zerolog.Logger, logEvery int) (*Index, error) {
	idx, err := Create(bm, opc, opts, dimensions)
	if err != nil {
		return nil, err
	}
	idx.SetLogger(logger)

	count := 0
	scanErr := h.Scan(func(row heap.Row) bool {
		if err = idx.Insert(row.TID, row.Vector, opts); err != nil {
			return false
		}
		count++
		if logEvery > 0 && count%logEvery == 0 {
			logger.Info().Int("rows", count).Msg("hnsw: build progress")
		}
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	if err != nil {
		return nil, err
	}
	logger.Info().Int("rows", count).Msg("hnsw: build complete")
	return idx, nil
}

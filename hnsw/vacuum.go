package hnsw

import (
	"fmt"

	"github.com/lblclass/annidx/heap"
	"github.com/lblclass/annidx/storage"
)

// VacuumStats summarizes one BulkDelete pass.
type VacuumStats struct {
	Scanned int
	Deleted int
}

// BulkDelete walks every element page and clears the TID of any element
// for which isDead returns true, per spec.md §4.6: the vector and
// neighbor lists are left in place so the graph stays connected for
// elements that still route searches through the deleted node. A
// genuine compaction that reclaims space and relinks around dead nodes
// is deferred to a future full reindex, matching the host's own
// REINDEX-driven cleanup model.
func BulkDelete(bm *storage.BufferManager, isDead func(heap.TID) bool) (VacuumStats, error) {
	var stats VacuumStats
	n, err := bm.NumPages()
	if err != nil {
		return stats, err
	}
	for blockno := uint64(1); blockno < n; blockno++ {
		buf, err := bm.ReadExclusive(blockno)
		if err != nil {
			return stats, fmt.Errorf("hnsw: vacuum read block %d: %w", blockno, err)
		}
		if buf.Page().Type != storage.PageTypeHNSWElement {
			buf.Release()
			continue
		}
		dirty := false
		for offno := uint16(1); offno <= uint16(buf.Page().NumItems()); offno++ {
			item, ok := buf.Page().GetItem(offno)
			if !ok {
				continue
			}
			el, err := decodeElement(item, storage.ItemPointer{BlockNo: blockno, OffNo: offno})
			if err != nil {
				buf.Release()
				return stats, err
			}
			stats.Scanned++
			if el.Dead || !isDead(el.TID) {
				continue
			}
			el.Dead = true
			el.TID = heap.TID{}
			buf.Page().ClearItem(offno, encodeElement(el, el.Vector.Kind()))
			dirty = true
			stats.Deleted++
		}
		if dirty {
			buf.MarkDirty()
		}
		if err := buf.Release(); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

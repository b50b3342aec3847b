package heap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lblclass/annidx/vecdist"
)

func testHeaps(t *testing.T) map[string]Heap {
	t.Helper()
	dir := t.TempDir()
	bh, err := OpenBadgerHeap(filepath.Join(dir, "badger"), vecdist.KindFloat32)
	require.NoError(t, err)
	t.Cleanup(func() { bh.Close() })
	return map[string]Heap{
		"mem":    NewMemHeap(),
		"badger": bh,
	}
}

func TestHeapInsertGetRoundTrip(t *testing.T) {
	for name, h := range testHeaps(t) {
		t.Run(name, func(t *testing.T) {
			v := vecdist.NewFloat32Vector([]float32{1, 2, 3})
			tid, err := h.Insert(v)
			require.NoError(t, err)

			got, err := h.Get(tid)
			require.NoError(t, err)
			assert.Equal(t, v.Dim(), got.Dim())
		})
	}
}

func TestHeapDeleteMarksDeadNotRemoved(t *testing.T) {
	for name, h := range testHeaps(t) {
		t.Run(name, func(t *testing.T) {
			v := vecdist.NewFloat32Vector([]float32{1, 2})
			tid, err := h.Insert(v)
			require.NoError(t, err)
			require.NoError(t, h.Delete(tid))

			_, err = h.Get(tid)
			assert.ErrorIs(t, err, ErrDead)

			count, err := h.Count()
			require.NoError(t, err)
			assert.Equal(t, 0, count)
		})
	}
}

func TestHeapScanVisitsAllLiveRows(t *testing.T) {
	for name, h := range testHeaps(t) {
		t.Run(name, func(t *testing.T) {
			var tids []TID
			for i := 0; i < 5; i++ {
				tid, err := h.Insert(vecdist.NewFloat32Vector([]float32{float32(i)}))
				require.NoError(t, err)
				tids = append(tids, tid)
			}
			require.NoError(t, h.Delete(tids[0]))

			seen := 0
			require.NoError(t, h.Scan(func(Row) bool {
				seen++
				return true
			}))
			assert.Equal(t, 4, seen)
		})
	}
}

func TestHeapGetUnknownTIDReturnsNotFound(t *testing.T) {
	for name, h := range testHeaps(t) {
		t.Run(name, func(t *testing.T) {
			_, err := h.Get(NewTID())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

package ivf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lblclass/annidx/heap"
	"github.com/lblclass/annidx/storage"
	"github.com/lblclass/annidx/vecdist"
)

func TestPostingEncodeDecodeRoundTrip(t *testing.T) {
	p := Posting{TID: heap.NewTID(), Vector: vec2(1, 2)}
	got, err := decodePosting(encodePosting(p), vecdist.KindFloat32)
	require.NoError(t, err)
	assert.Equal(t, p.TID, got.TID)
	assert.Equal(t, p.Vector, got.Vector)
}

func TestAppendPostingCreatesFirstPage(t *testing.T) {
	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	start, insert, err := appendPosting(bm, nil, storage.InvalidBlockNumber, storage.InvalidBlockNumber, Posting{TID: heap.NewTID(), Vector: vec2(0, 0)})
	require.NoError(t, err)
	assert.Equal(t, start, insert)
	assert.NotEqual(t, storage.InvalidBlockNumber, start)
}

func TestAppendPostingExtendsChainWhenPageFull(t *testing.T) {
	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	start, insert := uint64(storage.InvalidBlockNumber), uint64(storage.InvalidBlockNumber)
	var err error
	count := 0
	var tids []heap.TID
	for i := 0; i < 2000; i++ {
		tid := heap.NewTID()
		tids = append(tids, tid)
		start, insert, err = appendPosting(bm, nil, start, insert, Posting{TID: tid, Vector: vec2(float32(i), float32(i))})
		require.NoError(t, err)
		count++
	}

	seen := map[heap.TID]bool{}
	err = scanList(bm, start, vecdist.KindFloat32, func(p Posting) bool {
		seen[p.TID] = true
		return true
	})
	require.NoError(t, err)
	assert.Len(t, seen, count)
	for _, tid := range tids {
		assert.True(t, seen[tid])
	}
}

func TestScanListStopsEarly(t *testing.T) {
	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	start, insert := uint64(storage.InvalidBlockNumber), uint64(storage.InvalidBlockNumber)
	var err error
	for i := 0; i < 5; i++ {
		start, insert, err = appendPosting(bm, nil, start, insert, Posting{TID: heap.NewTID(), Vector: vec2(float32(i), 0)})
		require.NoError(t, err)
	}
	seen := 0
	err = scanList(bm, start, vecdist.KindFloat32, func(p Posting) bool {
		seen++
		return seen < 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)
}

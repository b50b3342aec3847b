package wal

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lblclass/annidx/storage"
)

func TestBracketCommitWritesThroughAndRecordsReplay(t *testing.T) {
	store := storage.NewMemoryPageStore()
	bm := storage.NewBufferManager(store)
	w := New(zerolog.Nop(), nil)

	buf, err := bm.NewBuffer(storage.PageTypeHNSWElement)
	require.NoError(t, err)
	_, err = buf.Page().AddItem([]byte("v1"))
	require.NoError(t, err)
	buf.MarkDirty()

	b := w.Begin("hnsw.insert")
	b.Track(buf)
	require.NoError(t, b.Commit())

	assert.Equal(t, uint64(1), w.LSN())

	got, err := store.Read(buf.BlockNo())
	require.NoError(t, err)
	item, ok := got.GetItem(1)
	require.True(t, ok)
	assert.Equal(t, "v1", string(item))
}

func TestAbortReleasesWithoutError(t *testing.T) {
	store := storage.NewMemoryPageStore()
	bm := storage.NewBufferManager(store)
	w := New(zerolog.Nop(), nil)

	buf, err := bm.NewBuffer(storage.PageTypeHNSWElement)
	require.NoError(t, err)

	b := w.Begin("hnsw.insert")
	b.Track(buf)
	b.Abort()
	assert.Equal(t, uint64(0), w.LSN())
}

func TestReplayReappliesRecordsToFreshStore(t *testing.T) {
	srcStore := storage.NewMemoryPageStore()
	bm := storage.NewBufferManager(srcStore)
	w := New(zerolog.Nop(), nil)

	buf, err := bm.NewBuffer(storage.PageTypeIVFEntry)
	require.NoError(t, err)
	_, err = buf.Page().AddItem([]byte("recovered"))
	require.NoError(t, err)
	buf.MarkDirty()

	b := w.Begin("ivf.load")
	b.Track(buf)
	require.NoError(t, b.Commit())

	dstStore := storage.NewMemoryPageStore()
	for i := uint64(0); i <= buf.BlockNo(); i++ {
		_, err := dstStore.Allocate()
		require.NoError(t, err)
	}
	require.NoError(t, w.Replay(dstStore))

	got, err := dstStore.Read(buf.BlockNo())
	require.NoError(t, err)
	item, ok := got.GetItem(1)
	require.True(t, ok)
	assert.Equal(t, "recovered", string(item))
}

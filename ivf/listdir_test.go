package ivf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lblclass/annidx/storage"
	"github.com/lblclass/annidx/vecdist"
)

func TestListEntryEncodeDecodeRoundTrip(t *testing.T) {
	entry := ListEntry{StartPage: 3, InsertPage: 7, Center: vec2(1.5, -2.5)}
	raw := encodeListEntry(entry)
	got, err := decodeListEntry(raw, vecdist.KindFloat32)
	require.NoError(t, err)
	assert.Equal(t, entry, got)
}

func TestDecodeListEntryRejectsTruncatedRecord(t *testing.T) {
	_, err := decodeListEntry([]byte{1, 2, 3}, vecdist.KindFloat32)
	assert.Error(t, err)
}

func TestCreateAndLoadListDirectoryRoundTrip(t *testing.T) {
	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	centers := []vecdist.Vector{vec2(0, 0), vec2(1, 1), vec2(2, 2)}
	head, ptrs, err := createListDirectory(bm, centers)
	require.NoError(t, err)
	require.Len(t, ptrs, 3)

	entries, loadedPtrs, err := loadListDirectory(bm, head, 3, vecdist.KindFloat32)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ptrs, loadedPtrs)
	for i, e := range entries {
		assert.Equal(t, centers[i], e.Center)
		assert.Equal(t, storage.InvalidBlockNumber, e.StartPage)
	}
}

func TestUpdateListEntryPersistsInPlace(t *testing.T) {
	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	head, ptrs, err := createListDirectory(bm, []vecdist.Vector{vec2(0, 0)})
	require.NoError(t, err)

	updated := ListEntry{StartPage: 9, InsertPage: 9, Center: vec2(0, 0)}
	require.NoError(t, updateListEntry(bm, ptrs[0], updated))

	entries, _, err := loadListDirectory(bm, head, 1, vecdist.KindFloat32)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), entries[0].StartPage)
	assert.Equal(t, uint64(9), entries[0].InsertPage)
}

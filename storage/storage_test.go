package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageAddAndGetItem(t *testing.T) {
	p := NewPage(PageTypeHNSWElement)
	off1, err := p.AddItem([]byte("hello"))
	require.NoError(t, err)
	off2, err := p.AddItem([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, uint16(1), off1)
	assert.Equal(t, uint16(2), off2)

	got, ok := p.GetItem(off1)
	require.True(t, ok)
	assert.Equal(t, "hello", string(got))
}

func TestPageEncodeDecodeRoundTrip(t *testing.T) {
	p := NewPage(PageTypeIVFEntry)
	p.NextBlkno = 42
	_, err := p.AddItem([]byte{1, 2, 3})
	require.NoError(t, err)

	blob := p.Encode()
	require.Len(t, blob, PageSize)

	got, err := DecodePage(blob)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.NextBlkno)
	assert.Equal(t, PageTypeIVFEntry, got.Type)
	item, ok := got.GetItem(1)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, item)
}

func TestPageAddItemFailsWhenFull(t *testing.T) {
	p := NewPage(PageTypeHNSWElement)
	big := make([]byte, PageSize)
	_, err := p.AddItem(big)
	assert.ErrorIs(t, err, ErrNoSpace)
}

func TestClearItemPreservesSlotOffsets(t *testing.T) {
	p := NewPage(PageTypeHNSWElement)
	off1, _ := p.AddItem([]byte("a"))
	off2, _ := p.AddItem([]byte("bb"))
	p.ClearItem(off1, []byte{})

	_, ok := p.GetItem(off1)
	assert.True(t, ok)
	v, _ := p.GetItem(off1)
	assert.Empty(t, v)

	v2, ok := p.GetItem(off2)
	require.True(t, ok)
	assert.Equal(t, "bb", string(v2))
}

func TestItemPointerOrdering(t *testing.T) {
	a := ItemPointer{BlockNo: 1, OffNo: 5}
	b := ItemPointer{BlockNo: 1, OffNo: 7}
	c := ItemPointer{BlockNo: 2, OffNo: 1}
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
}

func TestBufferManagerExclusiveThenSharedRoundTrip(t *testing.T) {
	bm := NewBufferManager(NewMemoryPageStore())
	buf, err := bm.NewBuffer(PageTypeHNSWElement)
	require.NoError(t, err)
	_, err = buf.Page().AddItem([]byte("payload"))
	require.NoError(t, err)
	buf.MarkDirty()
	require.NoError(t, buf.Release())

	shared, err := bm.ReadShared(buf.BlockNo())
	require.NoError(t, err)
	defer shared.Release()
	item, ok := shared.Page().GetItem(1)
	require.True(t, ok)
	assert.Equal(t, "payload", string(item))
}

func TestBufferManagerSerializesExclusiveAccess(t *testing.T) {
	bm := NewBufferManager(NewMemoryPageStore())
	buf, err := bm.NewBuffer(PageTypeHNSWElement)
	require.NoError(t, err)
	buf.MarkDirty()
	require.NoError(t, buf.Release())

	var wg sync.WaitGroup
	var mu sync.Mutex
	order := []int{}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b, err := bm.ReadExclusive(buf.BlockNo())
			require.NoError(t, err)
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			b.MarkDirty()
			_ = b.Release()
		}(i)
	}
	wg.Wait()
	assert.Len(t, order, 4)
}

func TestLockPagesInOrderPreventsDeadlockOrdering(t *testing.T) {
	bm := NewBufferManager(NewMemoryPageStore())
	var blocknos []uint64
	for i := 0; i < 3; i++ {
		buf, err := bm.NewBuffer(PageTypeHNSWElement)
		require.NoError(t, err)
		buf.MarkDirty()
		require.NoError(t, buf.Release())
		blocknos = append(blocknos, buf.BlockNo())
	}
	reversed := []uint64{blocknos[2], blocknos[0], blocknos[1]}
	bufs, release, err := bm.LockPagesInOrder(reversed)
	require.NoError(t, err)
	defer release()
	require.Len(t, bufs, 3)
	assert.Equal(t, blocknos[0], bufs[0].BlockNo())
	assert.Equal(t, blocknos[1], bufs[1].BlockNo())
	assert.Equal(t, blocknos[2], bufs[2].BlockNo())
}

func TestSQLitePageStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	store, err := OpenSQLitePageStore(path, "hnsw")
	require.NoError(t, err)
	blockno, err := store.Allocate()
	require.NoError(t, err)
	p := NewPage(PageTypeHNSWElement)
	p.NextBlkno = 7
	_, err = p.AddItem([]byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, store.Write(blockno, p))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLitePageStore(path, "hnsw")
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.NumPages()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	got, err := reopened.Read(blockno)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.NextBlkno)
	item, ok := got.GetItem(1)
	require.True(t, ok)
	assert.Equal(t, "persisted", string(item))

	_ = os.Remove(path)
}

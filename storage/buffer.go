package storage

import (
	"fmt"
	"sync"
)

// PageStore is the persistence backend a BufferManager reads pages from and
// flushes pages to. It stands in for the host's smgr/relation file layer.
type PageStore interface {
	// Allocate extends the relation by one page and returns its block number.
	Allocate() (blockno uint64, err error)
	Read(blockno uint64) (*Page, error)
	Write(blockno uint64, page *Page) error
	NumPages() (uint64, error)
	Close() error
}

// lockTranche is the small pool of lightweight per-page locks described in
// spec.md §4.5. Locks are created lazily and never removed, which keeps the
// implementation simple: a page's lock lives for the lifetime of the
// BufferManager, not the lifetime of any single access.
type lockTranche struct {
	mu    sync.Mutex
	locks map[uint64]*sync.RWMutex
}

func newLockTranche() *lockTranche {
	return &lockTranche{locks: make(map[uint64]*sync.RWMutex)}
}

func (lt *lockTranche) get(blockno uint64) *sync.RWMutex {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	l, ok := lt.locks[blockno]
	if !ok {
		l = &sync.RWMutex{}
		lt.locks[blockno] = l
	}
	return l
}

// BufferManager pins and content-locks pages from a PageStore. Readers take
// shared locks for the duration of a single-element visit; writers take
// exclusive locks scoped to one buffer at a time, and cross-element updates
// must acquire pages in ascending (blkno) order to avoid deadlock (spec.md
// §4.5).
type BufferManager struct {
	store PageStore
	locks *lockTranche

	// entryMu is reserved for the single advisory entry-point lock (spec.md
	// §4.5). It is unexported and nothing acquires it: hnsw promotes its
	// entry point by rewriting the meta page under that page's exclusive
	// content lock.
	entryMu sync.Mutex
}

// NewBufferManager wraps a PageStore with the lock tranche.
func NewBufferManager(store PageStore) *BufferManager {
	return &BufferManager{store: store, locks: newLockTranche()}
}

// Buffer is a pinned, locked page. Release must be called exactly once on
// every exit path, including error (spec.md §9 "Scoped resource release").
type Buffer struct {
	bm        *BufferManager
	blockno   uint64
	page      *Page
	exclusive bool
	dirty     bool
	released  bool
}

func (b *Buffer) BlockNo() uint64 { return b.blockno }
func (b *Buffer) Page() *Page     { return b.page }

// MarkDirty flags the buffer's page for write-back on Release. Only valid
// on an exclusively locked buffer.
func (b *Buffer) MarkDirty() {
	if !b.exclusive {
		panic("storage: MarkDirty called on a shared buffer")
	}
	b.dirty = true
}

// Release unlocks and unpins the buffer, flushing it if dirty.
func (b *Buffer) Release() error {
	if b.released {
		return nil
	}
	b.released = true
	var err error
	if b.exclusive {
		if b.dirty {
			err = b.bm.store.Write(b.blockno, b.page)
		}
		b.bm.locks.get(b.blockno).Unlock()
	} else {
		b.bm.locks.get(b.blockno).RUnlock()
	}
	return err
}

// ReadExclusive pins blockno and takes an exclusive content lock, the mode
// every HNSW/IVF page mutation uses.
func (bm *BufferManager) ReadExclusive(blockno uint64) (*Buffer, error) {
	lock := bm.locks.get(blockno)
	lock.Lock()
	page, err := bm.store.Read(blockno)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return &Buffer{bm: bm, blockno: blockno, page: page, exclusive: true}, nil
}

// ReadShared pins blockno and takes a shared content lock, the mode scans
// use so that readers never stall writers beyond a single page visit.
func (bm *BufferManager) ReadShared(blockno uint64) (*Buffer, error) {
	lock := bm.locks.get(blockno)
	lock.RLock()
	page, err := bm.store.Read(blockno)
	if err != nil {
		lock.RUnlock()
		return nil, err
	}
	return &Buffer{bm: bm, blockno: blockno, page: page, exclusive: false}, nil
}

// NewBuffer allocates a fresh page and returns it already exclusively
// locked, ready for initialization and a single MarkDirty+Release.
func (bm *BufferManager) NewBuffer(t PageType) (*Buffer, error) {
	blockno, err := bm.store.Allocate()
	if err != nil {
		return nil, err
	}
	lock := bm.locks.get(blockno)
	lock.Lock()
	page := NewPage(t)
	return &Buffer{bm: bm, blockno: blockno, page: page, exclusive: true, dirty: true}, nil
}

// NumPages reports the current relation size in pages.
func (bm *BufferManager) NumPages() (uint64, error) { return bm.store.NumPages() }

// LockPagesInOrder acquires exclusive locks on a set of block numbers in
// ascending order, locking a repeated block number once, preventing the deadlock spec.md §4.5 calls
// out for cross-element neighbor updates. The returned release function
// unlocks every buffer in reverse acquisition order.
func (bm *BufferManager) LockPagesInOrder(blocknos []uint64) ([]*Buffer, func(), error) {
	ordered := append([]uint64(nil), blocknos...)
	ordered = sortUint64sDedupStable(ordered)

	bufs := make([]*Buffer, 0, len(ordered))
	release := func() {
		for i := len(bufs) - 1; i >= 0; i-- {
			_ = bufs[i].Release()
		}
	}
	for _, blockno := range ordered {
		buf, err := bm.ReadExclusive(blockno)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("storage: lock page %d: %w", blockno, err)
		}
		bufs = append(bufs, buf)
	}
	return bufs, release, nil
}

func sortUint64sDedupStable(s []uint64) []uint64 {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
	out := s[:0]
	for _, v := range s {
		if len(out) == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

func (bm *BufferManager) Close() error { return bm.store.Close() }

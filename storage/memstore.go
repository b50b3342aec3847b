package storage

import (
	"fmt"
	"sync"
)

// MemoryPageStore is an in-memory PageStore, used by tests and by callers
// that don't need persistence across process restarts.
type MemoryPageStore struct {
	mu    sync.Mutex
	pages []*Page
}

// NewMemoryPageStore returns an empty in-memory page store.
func NewMemoryPageStore() *MemoryPageStore {
	return &MemoryPageStore{}
}

func (s *MemoryPageStore) Allocate() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, nil)
	return uint64(len(s.pages) - 1), nil
}

func (s *MemoryPageStore) Read(blockno uint64) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if blockno >= uint64(len(s.pages)) {
		return nil, fmt.Errorf("storage: block %d out of range", blockno)
	}
	p := s.pages[blockno]
	if p == nil {
		return nil, fmt.Errorf("storage: block %d not yet written", blockno)
	}
	// Round-trip through Encode/Decode so callers observe exactly the
	// durable representation, matching the SQLite-backed store.
	return DecodePage(p.Encode())
}

func (s *MemoryPageStore) Write(blockno uint64, page *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if blockno >= uint64(len(s.pages)) {
		return fmt.Errorf("storage: block %d out of range", blockno)
	}
	s.pages[blockno] = page
	return nil
}

func (s *MemoryPageStore) NumPages() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.pages)), nil
}

func (s *MemoryPageStore) Close() error { return nil }

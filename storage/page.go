// Package storage implements the page-backed on-disk layout described in
// spec.md §3 and §6: a fixed-size page format with a generic header and
// opaque trailer, and a buffer manager abstraction that stands in for the
// host DBMS's buffer manager (out of scope per spec.md §1, described here
// only to the extent the core needs a concrete backing to run against).
package storage

import (
	"encoding/binary"
	"errors"
)

// PageSize is the fixed page size used throughout the module. Real
// Postgres/openGauss pages are 8KB; this module uses the same constant so
// page-capacity math (free space, item sizes) reads the same way.
const PageSize = 8192

// pageHeaderSize covers the free-space pointer; opaqueSize covers the
// trailer {nextBlkno, pageType, unused}.
const (
	pageHeaderSize = 4  // uint32 free-space pointer (offset of first free byte)
	opaqueSize     = 16 // nextBlkno(8) + pageType(4) + unused(4)
	itemHeaderSize = 2  // uint16 length prefix per stored item
)

// InvalidBlockNumber marks the absence of a block, matching
// InvalidBlockNumber in the host's block addressing scheme.
const InvalidBlockNumber uint64 = ^uint64(0)

// InvalidOffsetNumber marks the absence of a slot on a page.
const InvalidOffsetNumber uint16 = 0

// PageType distinguishes the opaque trailer's meaning.
type PageType uint32

const (
	PageTypeMeta PageType = iota
	PageTypeHNSWElement
	PageTypeHNSWNeighbors
	PageTypeIVFList
	PageTypeIVFEntry
)

// ItemPointer is the stable, non-owning address of a stored item: a
// (blockno, offset) pair resolved on demand through the buffer manager
// (spec.md §9 "Cyclic graph references").
type ItemPointer struct {
	BlockNo uint64
	OffNo   uint16
}

// Valid reports whether the pointer addresses a real block.
func (ip ItemPointer) Valid() bool {
	return ip.BlockNo != InvalidBlockNumber
}

// Less provides the canonical (blkno, offno) ascending tie-break order
// required by spec.md §4.2 and the lock-ordering rule of §4.5.
func (ip ItemPointer) Less(other ItemPointer) bool {
	if ip.BlockNo != other.BlockNo {
		return ip.BlockNo < other.BlockNo
	}
	return ip.OffNo < other.OffNo
}

// Page is an in-memory decoded view of one fixed-size disk page: a header
// with a free-space pointer, a packed item area, and an opaque trailer.
type Page struct {
	freeStart uint32 // offset of first free byte, after the header
	items     [][]byte
	NextBlkno uint64
	Type      PageType
}

// NewPage returns an empty page of the given type.
func NewPage(t PageType) *Page {
	return &Page{
		freeStart: pageHeaderSize,
		NextBlkno: InvalidBlockNumber,
		Type:      t,
	}
}

// FreeSpace reports how many bytes remain available for item storage
// before the opaque trailer, mirroring PageGetFreeSpace.
func (p *Page) FreeSpace() int {
	used := pageHeaderSize + opaqueSize
	for _, it := range p.items {
		used += itemHeaderSize + len(it)
	}
	free := PageSize - used
	if free < 0 {
		return 0
	}
	return free
}

// ErrNoSpace is returned by AddItem when the page cannot hold another item.
var ErrNoSpace = errors.New("storage: page has insufficient free space")

// AddItem appends item to the page, returning its 1-based offset number
// (mirroring PageAddItem, which never returns offset 0 / InvalidOffsetNumber
// on success).
func (p *Page) AddItem(item []byte) (uint16, error) {
	if itemHeaderSize+len(item) > p.FreeSpace() {
		return InvalidOffsetNumber, ErrNoSpace
	}
	p.items = append(p.items, append([]byte(nil), item...))
	return uint16(len(p.items)), nil
}

// GetItem returns the item stored at offno (1-based), or false if absent.
func (p *Page) GetItem(offno uint16) ([]byte, bool) {
	if offno == InvalidOffsetNumber || int(offno) > len(p.items) {
		return nil, false
	}
	return p.items[offno-1], true
}

// ClearItem replaces the item at offno with replacement in place without
// shifting subsequent offsets. HNSW vacuum (spec.md §4.6) uses it to
// rewrite an element as dead while preserving its vector and neighbor
// lists; meta and neighbor-list updates rewrite their records the same way.
func (p *Page) ClearItem(offno uint16, replacement []byte) {
	if offno == InvalidOffsetNumber || int(offno) > len(p.items) {
		return
	}
	p.items[offno-1] = replacement
}

// NumItems reports how many item slots (including cleared ones) exist.
func (p *Page) NumItems() int { return len(p.items) }

// Encode serializes the page to a fixed PageSize byte slice.
func (p *Page) Encode() []byte {
	buf := make([]byte, PageSize)
	offset := pageHeaderSize
	itemOffsets := make([]uint16, len(p.items))
	for i, it := range p.items {
		itemOffsets[i] = uint16(offset)
		binary.LittleEndian.PutUint16(buf[offset:], uint16(len(it)))
		copy(buf[offset+itemHeaderSize:], it)
		offset += itemHeaderSize + len(it)
	}
	binary.LittleEndian.PutUint32(buf[0:], uint32(offset))

	trailer := PageSize - opaqueSize
	binary.LittleEndian.PutUint64(buf[trailer:], p.NextBlkno)
	binary.LittleEndian.PutUint32(buf[trailer+8:], uint32(p.Type))
	// The item area is self-describing (length-prefixed records walked
	// sequentially), so offsets are not persisted separately.
	return buf
}

// DecodePage parses a page previously produced by Encode.
func DecodePage(raw []byte) (*Page, error) {
	if len(raw) != PageSize {
		return nil, errors.New("storage: page blob has wrong size")
	}
	freeStart := binary.LittleEndian.Uint32(raw[0:])
	trailer := PageSize - opaqueSize
	p := &Page{
		freeStart: freeStart,
		NextBlkno: binary.LittleEndian.Uint64(raw[trailer:]),
		Type:      PageType(binary.LittleEndian.Uint32(raw[trailer+8:])),
	}
	offset := pageHeaderSize
	for offset < int(freeStart) {
		length := binary.LittleEndian.Uint16(raw[offset:])
		offset += itemHeaderSize
		item := append([]byte(nil), raw[offset:offset+int(length)]...)
		p.items = append(p.items, item)
		offset += int(length)
	}
	return p, nil
}

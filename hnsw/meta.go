package hnsw

import (
	"encoding/binary"
	"fmt"

	"github.com/lblclass/annidx/storage"
)

// MagicNumber and Version distinguish an HNSW meta page from an IVFFlat
// one and let readers refuse an unknown format (spec.md §6).
const (
	MagicNumber uint32 = 0x48_4e_53_57 // "HNSW"
	Version     uint32 = 1
)

// Meta is the HNSW meta page record (spec.md §3): the graph's shape
// parameters and its current entry point.
type Meta struct {
	Magic          uint32
	Version        uint32
	Dimensions     int
	M              int
	EfConstruction int

	EntryBlkno uint64 // storage.InvalidBlockNumber if the graph is empty
	EntryOffno uint16
	EntryLevel int

	// InsertPage is retained for on-disk format fidelity with spec.md §3's
	// meta record. Because this implementation gives each element its own
	// page (see DESIGN.md), Create sets it to storage.InvalidBlockNumber and
	// nothing updates or consults it afterwards.
	InsertPage uint64
}

func (m Meta) entryPtr() storage.ItemPointer {
	return storage.ItemPointer{BlockNo: m.EntryBlkno, OffNo: m.EntryOffno}
}

// encodeMeta serializes a Meta record for storage on block 0.
func encodeMeta(m Meta) []byte {
	buf := make([]byte, 4*4+4+4+8+2+4+8)
	off := 0
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	putU32(m.Magic)
	putU32(m.Version)
	putU32(uint32(m.Dimensions))
	putU32(uint32(m.M))
	putU32(uint32(m.EfConstruction))
	binary.LittleEndian.PutUint64(buf[off:], m.EntryBlkno)
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], m.EntryOffno)
	off += 2
	putU32(uint32(m.EntryLevel))
	binary.LittleEndian.PutUint64(buf[off:], m.InsertPage)
	off += 8
	return buf[:off]
}

func decodeMeta(raw []byte) (Meta, error) {
	need := 5*4 + 8 + 2 + 4 + 8
	if len(raw) < need {
		return Meta{}, fmt.Errorf("hnsw: meta record too short")
	}
	off := 0
	getU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(raw[off:])
		off += 4
		return v
	}
	var m Meta
	m.Magic = getU32()
	m.Version = getU32()
	m.Dimensions = int(getU32())
	m.M = int(getU32())
	m.EfConstruction = int(getU32())
	m.EntryBlkno = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	m.EntryOffno = binary.LittleEndian.Uint16(raw[off:])
	off += 2
	m.EntryLevel = int(getU32())
	m.InsertPage = binary.LittleEndian.Uint64(raw[off:])
	off += 8

	if m.Magic != MagicNumber {
		return Meta{}, fmt.Errorf("hnsw: unrecognized meta magic 0x%x", m.Magic)
	}
	if m.Version != Version {
		return Meta{}, fmt.Errorf("hnsw: unsupported meta version %d", m.Version)
	}
	return m, nil
}

// readMeta loads and decodes the meta page (block 0).
func readMeta(bm *storage.BufferManager) (Meta, error) {
	buf, err := bm.ReadShared(0)
	if err != nil {
		return Meta{}, fmt.Errorf("hnsw: read meta page: %w", err)
	}
	defer buf.Release()
	item, ok := buf.Page().GetItem(1)
	if !ok {
		return Meta{}, fmt.Errorf("hnsw: meta page has no record")
	}
	return decodeMeta(item)
}

// writeMeta overwrites the meta page record in place.
func writeMeta(bm *storage.BufferManager, m Meta) error {
	buf, err := bm.ReadExclusive(0)
	if err != nil {
		return fmt.Errorf("hnsw: lock meta page: %w", err)
	}
	defer buf.Release()
	buf.Page().ClearItem(1, encodeMeta(m))
	buf.MarkDirty()
	return nil
}

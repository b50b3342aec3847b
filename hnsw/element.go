package hnsw

import (
	"encoding/binary"
	"fmt"

	"github.com/lblclass/annidx/heap"
	"github.com/lblclass/annidx/storage"
	"github.com/lblclass/annidx/vecdist"
)

// Element is a persistent HNSW node (spec.md §3): a TID, a level chosen at
// insert time, the indexed vector, and a neighbor list per level. Vacuum
// sets Dead and clears the TID (all-zero), while the element's vector and
// neighbor lists remain so graph connectivity survives until a reindex
// (spec.md §4.6).
type Element struct {
	Ptr       storage.ItemPointer
	TID       heap.TID
	Dead      bool
	Level     int
	Vector    vecdist.Vector
	Neighbors [][]storage.ItemPointer // Neighbors[l] for l in 0..Level
}

// capForLevel returns the per-level neighbor cap: M0=2M at level 0, M at
// higher levels (spec.md §3).
func capForLevel(level, m int) int {
	if level == 0 {
		return 2 * m
	}
	return m
}

// encodeElement serializes an element for storage in a single page item.
func encodeElement(e Element, kind vecdist.Kind) []byte {
	vecBlob := e.Vector.Encode()
	buf := make([]byte, 0, 16+1+4+4+len(vecBlob)+64)

	buf = append(buf, e.TID.Bytes()...) // 16 bytes
	var deadByte byte
	if e.Dead {
		deadByte = 1
	}
	buf = append(buf, deadByte)
	buf = append(buf, byte(kind))

	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(e.Level))
	buf = append(buf, tmp4[:]...)

	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(vecBlob)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, vecBlob...)

	for l := 0; l <= e.Level; l++ {
		ns := e.Neighbors[l]
		binary.LittleEndian.PutUint32(tmp4[:], uint32(len(ns)))
		buf = append(buf, tmp4[:]...)
		for _, n := range ns {
			var ptrBuf [10]byte
			binary.LittleEndian.PutUint64(ptrBuf[0:8], n.BlockNo)
			binary.LittleEndian.PutUint16(ptrBuf[8:10], n.OffNo)
			buf = append(buf, ptrBuf[:]...)
		}
	}
	return buf
}

func decodeElement(raw []byte, ptr storage.ItemPointer) (Element, error) {
	if len(raw) < 16+1+1+4+4 {
		return Element{}, fmt.Errorf("hnsw: element record too short")
	}
	off := 0
	tid, err := heap.TIDFromBytes(raw[off : off+16])
	if err != nil {
		return Element{}, fmt.Errorf("hnsw: decode element tid: %w", err)
	}
	off += 16
	dead := raw[off] == 1
	off++
	kind := vecdist.Kind(raw[off])
	off++
	level := int(binary.LittleEndian.Uint32(raw[off:]))
	off += 4
	vecLen := int(binary.LittleEndian.Uint32(raw[off:]))
	off += 4
	if off+vecLen > len(raw) {
		return Element{}, fmt.Errorf("hnsw: element vector blob truncated")
	}
	vec, err := vecdist.Decode(kind, raw[off:off+vecLen])
	if err != nil {
		return Element{}, fmt.Errorf("hnsw: decode element vector: %w", err)
	}
	off += vecLen

	neighbors := make([][]storage.ItemPointer, level+1)
	for l := 0; l <= level; l++ {
		if off+4 > len(raw) {
			return Element{}, fmt.Errorf("hnsw: element neighbor count truncated at level %d", l)
		}
		count := int(binary.LittleEndian.Uint32(raw[off:]))
		off += 4
		list := make([]storage.ItemPointer, count)
		for i := 0; i < count; i++ {
			if off+10 > len(raw) {
				return Element{}, fmt.Errorf("hnsw: element neighbor list truncated at level %d", l)
			}
			list[i] = storage.ItemPointer{
				BlockNo: binary.LittleEndian.Uint64(raw[off : off+8]),
				OffNo:   binary.LittleEndian.Uint16(raw[off+8 : off+10]),
			}
			off += 10
		}
		neighbors[l] = list
	}

	return Element{
		Ptr:       ptr,
		TID:       tid,
		Dead:      dead,
		Level:     level,
		Vector:    vec,
		Neighbors: neighbors,
	}, nil
}

// elementPointerOffno is the fixed offset every element record occupies on
// its own dedicated page (see DESIGN.md for why elements aren't packed
// multiple-per-page).
const elementPointerOffno uint16 = 1

// readElement loads and decodes the element at ptr under a shared lock,
// releasing the lock before returning (the "single-element visit" of
// spec.md §4.5). The vector kind is embedded in the stored record, so the
// caller does not need to supply the index's opclass to decode it.
func readElement(bm *storage.BufferManager, ptr storage.ItemPointer) (Element, error) {
	buf, err := bm.ReadShared(ptr.BlockNo)
	if err != nil {
		return Element{}, fmt.Errorf("hnsw: read element %v: %w", ptr, err)
	}
	defer buf.Release()
	item, ok := buf.Page().GetItem(ptr.OffNo)
	if !ok {
		return Element{}, fmt.Errorf("hnsw: element %v has no record", ptr)
	}
	return decodeElement(item, ptr)
}

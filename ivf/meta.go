// Package ivf implements the IVFFlat (Inverted File with Flat
// quantization) index of spec.md §4.7-§4.9: k-means++ seeding with Lloyd
// refinement to produce centroids, a parallel assign/sort/load build
// pipeline modeled on the IvfflatShared/IvfflatLeader/IvfflatSpool split
// from the original openGauss implementation, and a probe-based scan.
package ivf

import (
	"encoding/binary"
	"fmt"

	"github.com/lblclass/annidx/storage"
)

// MagicNumber and Version distinguish an IVFFlat meta page from an HNSW
// one (spec.md §6); readers refuse an unrecognized value of either.
const (
	MagicNumber uint32 = 0x49_56_46_4c // "IVFL"
	Version     uint32 = 1
)

// Meta is the IVFFlat meta page record (spec.md §3).
type Meta struct {
	Magic      uint32
	Version    uint32
	Dimensions int
	Lists      int

	// ListDirStart is the head block of the centroid list directory chain
	// (see DESIGN.md: this implementation keeps list entries in their own
	// page chain rather than inline in the meta page, since lists can
	// number in the thousands).
	ListDirStart uint64
}

func encodeMeta(m Meta) []byte {
	buf := make([]byte, 4*4+8)
	off := 0
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	putU32(m.Magic)
	putU32(m.Version)
	putU32(uint32(m.Dimensions))
	putU32(uint32(m.Lists))
	binary.LittleEndian.PutUint64(buf[off:], m.ListDirStart)
	off += 8
	return buf[:off]
}

func decodeMeta(raw []byte) (Meta, error) {
	need := 4*4 + 8
	if len(raw) < need {
		return Meta{}, fmt.Errorf("ivf: meta record too short")
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
	m.Lists = int(getU32())
	m.ListDirStart = binary.LittleEndian.Uint64(raw[off:])
	off += 8

	if m.Magic != MagicNumber {
		return Meta{}, fmt.Errorf("ivf: unrecognized meta magic 0x%x", m.Magic)
	}
	if m.Version != Version {
		return Meta{}, fmt.Errorf("ivf: unsupported meta version %d", m.Version)
	}
	return m, nil
}

func readMeta(bm *storage.BufferManager) (Meta, error) {
	buf, err := bm.ReadShared(0)
	if err != nil {
		return Meta{}, fmt.Errorf("ivf: read meta page: %w", err)
	}
	defer buf.Release()
	item, ok := buf.Page().GetItem(1)
	if !ok {
		return Meta{}, fmt.Errorf("ivf: meta page has no record")
	}
	return decodeMeta(item)
}

func writeMeta(bm *storage.BufferManager, m Meta) error {
	buf, err := bm.ReadExclusive(0)
	if err != nil {
		return fmt.Errorf("ivf: lock meta page: %w", err)
	}
	defer buf.Release()
	buf.Page().ClearItem(1, encodeMeta(m))
	buf.MarkDirty()
	return nil
}

package ivf

import (
	"encoding/binary"
	"fmt"

	"github.com/lblclass/annidx/storage"
	"github.com/lblclass/annidx/vecdist"
)

// ListEntry is one centroid list directory record (spec.md §3):
// `{startPage, insertPage, center_vector}`. startPage/insertPage are
// storage.InvalidBlockNumber until the list receives its first posting.
type ListEntry struct {
	StartPage  uint64
	InsertPage uint64
	Center     vecdist.Vector
}

func encodeListEntry(e ListEntry) []byte {
	blob := e.Center.Encode()
	buf := make([]byte, 0, 16+4+len(blob))
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], e.StartPage)
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], e.InsertPage)
	buf = append(buf, tmp8[:]...)
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(blob)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, blob...)
	return buf
}

func decodeListEntry(raw []byte, kind vecdist.Kind) (ListEntry, error) {
	if len(raw) < 16+4 {
		return ListEntry{}, fmt.Errorf("ivf: list entry record too short")
	}
	off := 0
	startPage := binary.LittleEndian.Uint64(raw[off:])
	off += 8
	insertPage := binary.LittleEndian.Uint64(raw[off:])
	off += 8
	blobLen := int(binary.LittleEndian.Uint32(raw[off:]))
	off += 4
	if off+blobLen > len(raw) {
		return ListEntry{}, fmt.Errorf("ivf: list entry center blob truncated")
	}
	center, err := vecdist.Decode(kind, raw[off:off+blobLen])
	if err != nil {
		return ListEntry{}, fmt.Errorf("ivf: decode list center: %w", err)
	}
	return ListEntry{StartPage: startPage, InsertPage: insertPage, Center: center}, nil
}

// createListDirectory writes one ListEntry per center across a chain of
// PageTypeIVFList pages, returning the head block number and the stable
// address of every entry for direct in-place updates later.
func createListDirectory(bm *storage.BufferManager, centers []vecdist.Vector) (uint64, []storage.ItemPointer, error) {
	ptrs := make([]storage.ItemPointer, 0, len(centers))
	var head uint64 = storage.InvalidBlockNumber
	var prev *storage.Buffer

	cur, err := bm.NewBuffer(storage.PageTypeIVFList)
	if err != nil {
		return 0, nil, err
	}
	head = cur.BlockNo()

	for _, c := range centers {
		entry := ListEntry{StartPage: storage.InvalidBlockNumber, InsertPage: storage.InvalidBlockNumber, Center: c}
		raw := encodeListEntry(entry)
		offno, err := cur.Page().AddItem(raw)
		if err != nil {
			// Current page is full: link a new one and retry.
			next, aerr := bm.NewBuffer(storage.PageTypeIVFList)
			if aerr != nil {
				cur.Release()
				if prev != nil {
					prev.Release()
				}
				return 0, nil, aerr
			}
			cur.Page().NextBlkno = next.BlockNo()
			cur.MarkDirty()
			if err := cur.Release(); err != nil {
				next.Release()
				return 0, nil, err
			}
			cur = next
			offno, err = cur.Page().AddItem(raw)
			if err != nil {
				cur.Release()
				return 0, nil, fmt.Errorf("ivf: list entry does not fit on a fresh page: %w", err)
			}
		}
		cur.MarkDirty()
		ptrs = append(ptrs, storage.ItemPointer{BlockNo: cur.BlockNo(), OffNo: offno})
	}
	if err := cur.Release(); err != nil {
		return 0, nil, err
	}
	return head, ptrs, nil
}

// loadListDirectory walks the directory chain starting at head and
// decodes every entry, in list-id order.
func loadListDirectory(bm *storage.BufferManager, head uint64, lists int, kind vecdist.Kind) ([]ListEntry, []storage.ItemPointer, error) {
	entries := make([]ListEntry, 0, lists)
	ptrs := make([]storage.ItemPointer, 0, lists)

	blockno := head
	for blockno != storage.InvalidBlockNumber && len(entries) < lists {
		buf, err := bm.ReadShared(blockno)
		if err != nil {
			return nil, nil, fmt.Errorf("ivf: read list directory page %d: %w", blockno, err)
		}
		for offno := uint16(1); offno <= uint16(buf.Page().NumItems()) && len(entries) < lists; offno++ {
			item, ok := buf.Page().GetItem(offno)
			if !ok {
				continue
			}
			entry, err := decodeListEntry(item, kind)
			if err != nil {
				buf.Release()
				return nil, nil, err
			}
			entries = append(entries, entry)
			ptrs = append(ptrs, storage.ItemPointer{BlockNo: blockno, OffNo: offno})
		}
		next := buf.Page().NextBlkno
		buf.Release()
		blockno = next
	}
	if len(entries) != lists {
		return nil, nil, fmt.Errorf("ivf: list directory has %d entries, want %d", len(entries), lists)
	}
	return entries, ptrs, nil
}

// updateListEntry rewrites a single directory entry in place.
func updateListEntry(bm *storage.BufferManager, ptr storage.ItemPointer, entry ListEntry) error {
	buf, err := bm.ReadExclusive(ptr.BlockNo)
	if err != nil {
		return fmt.Errorf("ivf: lock list directory page %d: %w", ptr.BlockNo, err)
	}
	defer buf.Release()
	buf.Page().ClearItem(ptr.OffNo, encodeListEntry(entry))
	buf.MarkDirty()
	return nil
}

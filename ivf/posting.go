package ivf

import (
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lblclass/annidx/heap"
	"github.com/lblclass/annidx/storage"
	"github.com/lblclass/annidx/vecdist"
	"github.com/lblclass/annidx/wal"
)

// Posting is one `{tid, vector}` item stored on an entry page (spec.md
// §3).
type Posting struct {
	TID    heap.TID
	Vector vecdist.Vector
}

func encodePosting(p Posting) []byte {
	blob := p.Vector.Encode()
	buf := make([]byte, 0, 16+4+len(blob))
	buf = append(buf, p.TID.Bytes()...)
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(blob)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, blob...)
	return buf
}

func decodePosting(raw []byte, kind vecdist.Kind) (Posting, error) {
	if len(raw) < 16+4 {
		return Posting{}, fmt.Errorf("ivf: posting record too short")
	}
	tid, err := heap.TIDFromBytes(raw[0:16])
	if err != nil {
		return Posting{}, fmt.Errorf("ivf: decode posting tid: %w", err)
	}
	blobLen := int(binary.LittleEndian.Uint32(raw[16:20]))
	if 20+blobLen > len(raw) {
		return Posting{}, fmt.Errorf("ivf: posting vector blob truncated")
	}
	v, err := vecdist.Decode(kind, raw[20:20+blobLen])
	if err != nil {
		return Posting{}, fmt.Errorf("ivf: decode posting vector: %w", err)
	}
	return Posting{TID: tid, Vector: v}, nil
}

// appendPosting appends p to the entry-page chain for a list, allocating
// a fresh page and extending the chain when the current tail is full
// (spec.md §4.8 load, §4.9 insert). It returns the (possibly unchanged)
// startPage/insertPage pair the caller must persist into the list's
// directory entry. Extending the chain touches two pages at once (the old
// tail's NextBlkno and the new tail's contents), so that step runs inside a
// WAL bracket; w may be nil, in which case it is treated as a no-op WAL.
func appendPosting(bm *storage.BufferManager, w *wal.WAL, startPage, insertPage uint64, p Posting) (newStart, newInsert uint64, err error) {
	if w == nil {
		w = noopWAL()
	}
	raw := encodePosting(p)

	if insertPage == storage.InvalidBlockNumber {
		buf, err := bm.NewBuffer(storage.PageTypeIVFEntry)
		if err != nil {
			return 0, 0, err
		}
		if _, err := buf.Page().AddItem(raw); err != nil {
			buf.Release()
			return 0, 0, fmt.Errorf("ivf: posting does not fit on a fresh entry page: %w", err)
		}
		buf.MarkDirty()
		blockno := buf.BlockNo()
		if err := buf.Release(); err != nil {
			return 0, 0, err
		}
		return blockno, blockno, nil
	}

	buf, err := bm.ReadExclusive(insertPage)
	if err != nil {
		return 0, 0, fmt.Errorf("ivf: lock entry page %d: %w", insertPage, err)
	}
	if _, aerr := buf.Page().AddItem(raw); aerr == nil {
		buf.MarkDirty()
		if err := buf.Release(); err != nil {
			return 0, 0, err
		}
		return startPage, insertPage, nil
	}

	next, err := bm.NewBuffer(storage.PageTypeIVFEntry)
	if err != nil {
		buf.Release()
		return 0, 0, err
	}
	bracket := w.Begin("ivf.extend_chain")
	bracket.Track(buf)
	bracket.Track(next)
	if _, err := next.Page().AddItem(raw); err != nil {
		bracket.Abort()
		return 0, 0, fmt.Errorf("ivf: posting does not fit on a fresh entry page: %w", err)
	}
	next.MarkDirty()
	buf.Page().NextBlkno = next.BlockNo()
	buf.MarkDirty()
	nextBlockno := next.BlockNo()
	if err := bracket.Commit(); err != nil {
		return 0, 0, err
	}
	return startPage, nextBlockno, nil
}

// noopWAL returns a WAL that logs and traces nowhere, for call sites (the
// tests) that pass a nil WAL to appendPosting.
func noopWAL() *wal.WAL {
	return wal.New(zerolog.Nop(), nil)
}

// scanList calls fn for every posting stored in the chain starting at
// startPage, stopping early if fn returns false.
func scanList(bm *storage.BufferManager, startPage uint64, kind vecdist.Kind, fn func(Posting) bool) error {
	blockno := startPage
	for blockno != storage.InvalidBlockNumber {
		buf, err := bm.ReadShared(blockno)
		if err != nil {
			return fmt.Errorf("ivf: read entry page %d: %w", blockno, err)
		}
		cont := true
		for offno := uint16(1); offno <= uint16(buf.Page().NumItems()); offno++ {
			item, ok := buf.Page().GetItem(offno)
			if !ok {
				continue
			}
			p, err := decodePosting(item, kind)
			if err != nil {
				buf.Release()
				return err
			}
			if !fn(p) {
				cont = false
				break
			}
		}
		next := buf.Page().NextBlkno
		buf.Release()
		if !cont {
			return nil
		}
		blockno = next
	}
	return nil
}

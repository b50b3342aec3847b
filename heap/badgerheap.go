package heap

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/lblclass/annidx/vecdist"
)

// BadgerHeap is a Badger-backed Heap (github.com/dgraph-io/badger/v4),
// grounded on kasuganosora-sqlexec's pkg/resource/badger transactional
// key-value resource. Each row is stored as key=tid.Bytes(), value =
// [kind byte][dead byte][vecdist-encoded blob].
type BadgerHeap struct {
	db   *badger.DB
	kind vecdist.Kind
}

// OpenBadgerHeap opens (or creates) a Badger database at dir, storing
// vectors of the given kind.
func OpenBadgerHeap(dir string, kind vecdist.Kind) (*BadgerHeap, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("heap: open badger: %w", err)
	}
	return &BadgerHeap{db: db, kind: kind}, nil
}

func encodeRow(v vecdist.Vector, dead bool) []byte {
	blob := v.Encode()
	out := make([]byte, 2+len(blob))
	out[0] = byte(v.Kind())
	if dead {
		out[1] = 1
	}
	copy(out[2:], blob)
	return out
}

func decodeRow(raw []byte) (vecdist.Vector, bool, error) {
	if len(raw) < 2 {
		return vecdist.Vector{}, false, fmt.Errorf("heap: corrupt row value")
	}
	kind := vecdist.Kind(raw[0])
	dead := raw[1] == 1
	v, err := vecdist.Decode(kind, raw[2:])
	if err != nil {
		return vecdist.Vector{}, false, err
	}
	return v, dead, nil
}

func (h *BadgerHeap) Insert(v vecdist.Vector) (TID, error) {
	tid := NewTID()
	err := h.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tid.Bytes(), encodeRow(v, false))
	})
	if err != nil {
		return TID{}, fmt.Errorf("heap: insert: %w", err)
	}
	return tid, nil
}

func (h *BadgerHeap) Get(tid TID) (vecdist.Vector, error) {
	var v vecdist.Vector
	var dead bool
	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tid.Bytes())
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			var derr error
			v, dead, derr = decodeRow(raw)
			return derr
		})
	})
	if err != nil {
		return vecdist.Vector{}, err
	}
	if dead {
		return vecdist.Vector{}, ErrDead
	}
	return v, nil
}

func (h *BadgerHeap) Delete(tid TID) error {
	return h.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(tid.Bytes())
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var v vecdist.Vector
		if err := item.Value(func(raw []byte) error {
			var derr error
			v, _, derr = decodeRow(raw)
			return derr
		}); err != nil {
			return err
		}
		return txn.Set(tid.Bytes(), encodeRow(v, true))
	})
}

func (h *BadgerHeap) Scan(fn func(Row) bool) error {
	return h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			tid, err := TIDFromBytes(item.KeyCopy(nil))
			if err != nil {
				return err
			}
			var v vecdist.Vector
			var dead bool
			if err := item.Value(func(raw []byte) error {
				var derr error
				v, dead, derr = decodeRow(raw)
				return derr
			}); err != nil {
				return err
			}
			if dead {
				continue
			}
			if !fn(Row{TID: tid, Vector: v}) {
				break
			}
		}
		return nil
	})
}

func (h *BadgerHeap) Count() (int, error) {
	n := 0
	err := h.Scan(func(Row) bool {
		n++
		return true
	})
	return n, err
}

func (h *BadgerHeap) Close() error { return h.db.Close() }

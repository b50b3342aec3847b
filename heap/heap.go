// Package heap stands in for the host table access layer (spec.md §1, out
// of scope beyond its interface): an append-only, TID-addressable store of
// vector rows that HNSW/IVF build and insert scan. Real deployments embed
// these engines inside a DBMS that already owns this layer; this package
// gives the core something real to scan so it is runnable standalone.
package heap

import (
	"errors"

	"github.com/google/uuid"

	"github.com/lblclass/annidx/vecdist"
)

// TID is the opaque row identifier spec.md describes as host-supplied.
// Rather than Postgres's (blockno, offsetno) pair, this stand-in heap
// identifies rows by UUID, generated by Insert (mirroring how a real heap
// tuple's ctid is assigned by the table AM, not chosen by the index).
type TID struct {
	id uuid.UUID
}

// NewTID generates a fresh row identifier.
func NewTID() TID { return TID{id: uuid.New()} }

// TIDFromBytes reconstructs a TID previously produced by Bytes.
func TIDFromBytes(b []byte) (TID, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return TID{}, err
	}
	return TID{id: id}, nil
}

func (t TID) Bytes() []byte { return t.id[:] }
func (t TID) String() string { return t.id.String() }

// ErrNotFound is returned by Get for a TID the heap never held.
var ErrNotFound = errors.New("heap: tid not found")

// ErrDead is returned by Get for a TID a vacuum predicate has marked dead;
// HNSW vacuum (spec.md §4.6) clears the TID from the element but keeps the
// element's vector and neighbor lists, so a dead row is distinguished from
// an absent one.
var ErrDead = errors.New("heap: tid is dead")

// Row is one heap tuple: a TID and its indexed vector.
type Row struct {
	TID    TID
	Vector vecdist.Vector
}

// Heap is the host-table-layer stand-in that build and insert scan.
type Heap interface {
	// Insert appends a row and returns its assigned TID.
	Insert(v vecdist.Vector) (TID, error)
	// Get returns the row for tid, ErrNotFound if it never existed, or
	// ErrDead if a prior Delete marked it dead.
	Get(tid TID) (vecdist.Vector, error)
	// Delete marks tid dead without physically removing it, matching
	// spec.md §4.6's vacuum semantics (bulkdelete clears TIDs, it doesn't
	// shrink the heap).
	Delete(tid TID) error
	// Scan calls fn for every live row, stopping early if fn returns false.
	// MemHeap visits rows in insertion order; BadgerHeap visits them in
	// TID byte order, which is not insertion order.
	Scan(fn func(Row) bool) error
	// Count reports the number of live rows.
	Count() (int, error)
	Close() error
}

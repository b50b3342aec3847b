// Package vecdist implements the vector-type and distance dispatch layer:
// typed vector containers plus the {distance, norm, kmeansNorm, itemSize,
// maxDimensions} table that HNSW and IVFFlat consult through an opclass
// handle rather than type-switching on concrete vector kinds.
package vecdist

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind identifies a concrete vector element type.
type Kind int

const (
	KindFloat32 Kind = iota
	KindFloat16
	KindBit
)

func (k Kind) String() string {
	switch k {
	case KindFloat32:
		return "float32"
	case KindFloat16:
		return "float16"
	case KindBit:
		return "bit"
	default:
		return "unknown"
	}
}

// Vector is an immutable, length-prefixed array of a concrete element type
// with a fixed dimensionality. Values are never mutated after construction;
// updates are always delete-and-reinsert at the HNSW/IVF layer.
type Vector struct {
	kind Kind
	dim  int
	f32  []float32 // KindFloat32
	f16  []uint16  // KindFloat16, IEEE 754 binary16 bit patterns
	bits []byte    // KindBit, packed MSB-first, dim is the bit count
}

// NewFloat32Vector copies data into a new dense single-precision vector.
func NewFloat32Vector(data []float32) Vector {
	cp := make([]float32, len(data))
	copy(cp, data)
	return Vector{kind: KindFloat32, dim: len(data), f32: cp}
}

// NewFloat16Vector copies data into a new half-precision vector.
func NewFloat16Vector(data []float32) Vector {
	bits := make([]uint16, len(data))
	for i, v := range data {
		bits[i] = float32ToFloat16(v)
	}
	return Vector{kind: KindFloat16, dim: len(data), f16: bits}
}

// NewBitVector packs dim bits (one bool per dimension, MSB-first per byte)
// into a new binary vector.
func NewBitVector(bits []bool) Vector {
	packed := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			packed[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return Vector{kind: KindBit, dim: len(bits), bits: packed}
}

func (v Vector) Kind() Kind { return v.kind }
func (v Vector) Dim() int   { return v.dim }

// Float32At returns the i-th component as float64, valid for
// KindFloat32 and KindFloat16 vectors.
func (v Vector) Float32At(i int) float64 {
	switch v.kind {
	case KindFloat32:
		return float64(v.f32[i])
	case KindFloat16:
		return float64(float16ToFloat32(v.f16[i]))
	default:
		panic(fmt.Sprintf("vecdist: Float32At called on %s vector", v.kind))
	}
}

// BitAt returns the i-th bit of a KindBit vector.
func (v Vector) BitAt(i int) bool {
	if v.kind != KindBit {
		panic(fmt.Sprintf("vecdist: BitAt called on %s vector", v.kind))
	}
	return v.bits[i/8]&(1<<(7-uint(i%8))) != 0
}

// IsZero reports whether every component of the vector is zero, used by
// cosine opclasses to reject degenerate vectors before insert.
func (v Vector) IsZero() bool {
	switch v.kind {
	case KindFloat32:
		for _, x := range v.f32 {
			if x != 0 {
				return false
			}
		}
		return true
	case KindFloat16:
		for _, b := range v.f16 {
			if b&0x7fff != 0 {
				return false
			}
		}
		return true
	case KindBit:
		for _, b := range v.bits {
			if b != 0 {
				return false
			}
		}
		return true
	}
	return true
}

// Equal reports whether v and other have the same kind, dimension, and
// component values, used by HNSW insert's exact-duplicate check (spec.md
// §4.4: "if an exact equal vector and equal TID is observed during
// insertion, the insert is a no-op").
func (v Vector) Equal(other Vector) bool {
	if v.kind != other.kind || v.dim != other.dim {
		return false
	}
	switch v.kind {
	case KindFloat32:
		for i, x := range v.f32 {
			if x != other.f32[i] {
				return false
			}
		}
		return true
	case KindFloat16:
		for i, x := range v.f16 {
			if x != other.f16[i] {
				return false
			}
		}
		return true
	case KindBit:
		if len(v.bits) != len(other.bits) {
			return false
		}
		for i, b := range v.bits {
			if b != other.bits[i] {
				return false
			}
		}
		return true
	}
	return false
}

// Encode serializes the vector as a length-prefixed blob matching the
// in-memory item size of its opclass: a little-endian uint16 dimension
// count followed by the raw element bytes.
func (v Vector) Encode() []byte {
	buf := make([]byte, 2, 2+v.byteLen())
	binary.LittleEndian.PutUint16(buf, uint16(v.dim))
	switch v.kind {
	case KindFloat32:
		for _, x := range v.f32 {
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(x))
			buf = append(buf, tmp[:]...)
		}
	case KindFloat16:
		for _, x := range v.f16 {
			var tmp [2]byte
			binary.LittleEndian.PutUint16(tmp[:], x)
			buf = append(buf, tmp[:]...)
		}
	case KindBit:
		buf = append(buf, v.bits...)
	}
	return buf
}

func (v Vector) byteLen() int {
	switch v.kind {
	case KindFloat32:
		return v.dim * 4
	case KindFloat16:
		return v.dim * 2
	case KindBit:
		return len(v.bits)
	}
	return 0
}

// Decode parses a blob produced by Encode for the given kind.
func Decode(kind Kind, blob []byte) (Vector, error) {
	if len(blob) < 2 {
		return Vector{}, fmt.Errorf("vecdist: blob too short to contain a dimension prefix")
	}
	dim := int(binary.LittleEndian.Uint16(blob))
	rest := blob[2:]
	switch kind {
	case KindFloat32:
		if len(rest) != dim*4 {
			return Vector{}, fmt.Errorf("vecdist: float32 blob length mismatch: want %d got %d", dim*4, len(rest))
		}
		out := make([]float32, dim)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(rest[i*4:]))
		}
		return Vector{kind: KindFloat32, dim: dim, f32: out}, nil
	case KindFloat16:
		if len(rest) != dim*2 {
			return Vector{}, fmt.Errorf("vecdist: float16 blob length mismatch: want %d got %d", dim*2, len(rest))
		}
		out := make([]uint16, dim)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(rest[i*2:])
		}
		return Vector{kind: KindFloat16, dim: dim, f16: out}, nil
	case KindBit:
		want := (dim + 7) / 8
		if len(rest) != want {
			return Vector{}, fmt.Errorf("vecdist: bit blob length mismatch: want %d got %d", want, len(rest))
		}
		out := make([]byte, want)
		copy(out, rest)
		return Vector{kind: KindBit, dim: dim, bits: out}, nil
	default:
		return Vector{}, fmt.Errorf("vecdist: unknown vector kind %d", kind)
	}
}

// float32ToFloat16 converts via round-to-nearest-even, matching the
// IEEE 754 binary16 layout (1 sign, 5 exponent, 10 mantissa bits).
func float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint(14 - exp)
		h := uint16(mant >> shift)
		rem, half := mant&(1<<shift-1), uint32(1)<<(shift-1)
		if rem > half || (rem == half && h&1 == 1) {
			h++
		}
		return sign | h
	case exp >= 0x1f:
		if (bits>>23)&0xff == 0xff {
			if mant != 0 {
				return sign | 0x7e00 // NaN
			}
			return sign | 0x7c00 // Inf
		}
		return sign | 0x7c00 // overflow to Inf
	default:
		h := sign | uint16(exp)<<10 | uint16(mant>>13)
		if rem := mant & 0x1fff; rem > 0x1000 || (rem == 0x1000 && h&1 == 1) {
			h++ // a carry out of the mantissa correctly bumps the exponent
		}
		return h
	}
}

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := (h >> 10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch {
	case exp == 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: normalize.
		e := -1
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		bits := sign | uint32(int32(e+1+127-15))<<23 | mant<<13
		return math.Float32frombits(bits)
	case exp == 0x1f:
		bits := sign | 0xff<<23 | mant<<13
		return math.Float32frombits(bits)
	default:
		bits := sign | uint32(int32(exp)-15+127)<<23 | mant<<13
		return math.Float32frombits(bits)
	}
}

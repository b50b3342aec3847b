package vecdist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat32VectorEncodeDecodeRoundTrip(t *testing.T) {
	v := NewFloat32Vector([]float32{1.5, -2.25, 0, 3.75})
	blob := v.Encode()

	got, err := Decode(KindFloat32, blob)
	require.NoError(t, err)
	assert.Equal(t, v.Dim(), got.Dim())
	for i := 0; i < v.Dim(); i++ {
		assert.InDelta(t, v.Float32At(i), got.Float32At(i), 1e-9)
	}
}

func TestFloat16RoundTripPreservesCommonValues(t *testing.T) {
	values := []float32{0, 1, -1, 0.5, 100.25, -3.5}
	v := NewFloat16Vector(values)
	for i, want := range values {
		assert.InDelta(t, float64(want), v.Float32At(i), 0.05)
	}
}

func TestBitVectorPackAndRead(t *testing.T) {
	bits := []bool{true, false, true, true, false, false, false, true, true}
	v := NewBitVector(bits)
	require.Equal(t, len(bits), v.Dim())
	for i, want := range bits {
		assert.Equal(t, want, v.BitAt(i), "bit %d", i)
	}
}

func TestIsZero(t *testing.T) {
	assert.True(t, NewFloat32Vector([]float32{0, 0, 0}).IsZero())
	assert.False(t, NewFloat32Vector([]float32{0, 0.001, 0}).IsZero())
	assert.True(t, NewBitVector([]bool{false, false}).IsZero())
	assert.False(t, NewBitVector([]bool{false, true}).IsZero())
}

func TestL2Squared(t *testing.T) {
	a := NewFloat32Vector([]float32{0, 0})
	b := NewFloat32Vector([]float32{3, 4})
	d, err := l2Squared(a, b)
	require.NoError(t, err)
	assert.Equal(t, 25.0, d)
}

func TestCosineRejectsZeroVector(t *testing.T) {
	a := NewFloat32Vector([]float32{0, 0})
	b := NewFloat32Vector([]float32{1, 1})
	_, err := cosineDistance(a, b)
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestCosineIdenticalVectorsAreZeroDistance(t *testing.T) {
	a := NewFloat32Vector([]float32{1, 2, 3})
	b := NewFloat32Vector([]float32{2, 4, 6})
	d, err := cosineDistance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-9)
}

func TestHammingDistance(t *testing.T) {
	a := NewBitVector([]bool{true, false, true, false})
	b := NewBitVector([]bool{true, true, false, false})
	d, err := hammingDistance(a, b)
	require.NoError(t, err)
	assert.Equal(t, 2.0, d)
}

func TestDimensionMismatchRejected(t *testing.T) {
	a := NewFloat32Vector([]float32{1, 2})
	b := NewFloat32Vector([]float32{1, 2, 3})
	_, err := l2Squared(a, b)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestNormalizeToUnitSphere(t *testing.T) {
	v := NewFloat32Vector([]float32{3, 4})
	normed, err := normalizeToUnitSphere(v)
	require.NoError(t, err)
	n, err := l2Norm(normed)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, n, 1e-6)
}

package ivf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lblclass/annidx/storage"
)

func TestIVFMetaEncodeDecodeRoundTrip(t *testing.T) {
	m := Meta{Magic: MagicNumber, Version: Version, Dimensions: 8, Lists: 100, ListDirStart: 1}
	got, err := decodeMeta(encodeMeta(m))
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestIVFDecodeMetaRejectsUnknownMagic(t *testing.T) {
	m := Meta{Magic: 0xdeadbeef, Version: Version}
	_, err := decodeMeta(encodeMeta(m))
	assert.Error(t, err)
}

func TestIVFDecodeMetaRejectsUnknownVersion(t *testing.T) {
	m := Meta{Magic: MagicNumber, Version: 99}
	_, err := decodeMeta(encodeMeta(m))
	assert.Error(t, err)
}

func TestIVFWriteReadMetaRoundTrip(t *testing.T) {
	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	buf, err := bm.NewBuffer(storage.PageTypeMeta)
	require.NoError(t, err)
	m := Meta{Magic: MagicNumber, Version: Version, Dimensions: 4, Lists: 10, ListDirStart: 0}
	_, err = buf.Page().AddItem(encodeMeta(m))
	require.NoError(t, err)
	buf.MarkDirty()
	require.NoError(t, buf.Release())

	got, err := readMeta(bm)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	m.Lists = 20
	require.NoError(t, writeMeta(bm, m))
	got, err = readMeta(bm)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Lists)
}

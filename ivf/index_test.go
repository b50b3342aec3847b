package ivf

import (
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lblclass/annidx/heap"
	"github.com/lblclass/annidx/options"
	"github.com/lblclass/annidx/storage"
	"github.com/lblclass/annidx/vecdist"
)

func TestOpenRejectsUnwrittenMeta(t *testing.T) {
	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	_, err := Open(bm, vecdist.Float32L2OpClass())
	assert.Error(t, err)
}

func TestInsertAfterBuildLandsInNearestList(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	h, _ := twoClusterHeap(t, rng, 15)

	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	idx, _, err := Build(bm, vecdist.Float32L2OpClass(), options.IVFOptions{Lists: 2}, 2, h, zerolog.Nop(), rng)
	require.NoError(t, err)

	tid := heap.NewTID()
	require.NoError(t, idx.Insert(tid, vec2(20.1, 20.1)))

	results, err := idx.Scan(vec2(20, 20), 100, 1)
	require.NoError(t, err)
	found := false
	for _, r := range results {
		if r.TID == tid {
			found = true
		}
	}
	assert.True(t, found, "inserted row should be reachable through the cluster it was assigned to")
}

func TestScanRejectsProbesOutOfRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	h, _ := twoClusterHeap(t, rng, 5)
	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	idx, _, err := Build(bm, vecdist.Float32L2OpClass(), options.IVFOptions{Lists: 2}, 2, h, zerolog.Nop(), rng)
	require.NoError(t, err)

	_, err = idx.Scan(vec2(0, 0), 5, 0)
	assert.Error(t, err)
	_, err = idx.Scan(vec2(0, 0), 5, 3)
	assert.Error(t, err)
}

func TestBuildRejectsDimensionOneForSphericalOpclass(t *testing.T) {
	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	h := heap.NewMemHeap()
	_, err := h.Insert(vecdist.NewFloat32Vector([]float32{1}))
	require.NoError(t, err)

	_, _, err = Build(bm, vecdist.Float32CosineOpClass(), options.IVFOptions{Lists: 1}, 1, h, zerolog.Nop(), rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestBuildAllowsDimensionOneForL2Opclass(t *testing.T) {
	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	h := heap.NewMemHeap()
	for _, x := range []float32{0, 1, 2} {
		_, err := h.Insert(vecdist.NewFloat32Vector([]float32{x}))
		require.NoError(t, err)
	}
	_, _, err := Build(bm, vecdist.Float32L2OpClass(), options.IVFOptions{Lists: 1}, 1, h, zerolog.Nop(), rand.New(rand.NewSource(1)))
	assert.NoError(t, err)
}

func TestScanWithKGreaterThanNReturnsAllAvailable(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	h, _ := twoClusterHeap(t, rng, 5)
	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	idx, stats, err := Build(bm, vecdist.Float32L2OpClass(), options.IVFOptions{Lists: 2}, 2, h, zerolog.Nop(), rng)
	require.NoError(t, err)

	results, err := idx.Scan(vec2(0, 0), stats.IndexTuples*10, 2)
	require.NoError(t, err)
	assert.Len(t, results, stats.IndexTuples)
}

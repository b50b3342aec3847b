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

// TestParallelBuildMatchesSerialAssignment is spec.md §8 scenario 6: the
// parallel build path must assign every row to the same list the serial
// path would, given the same centroids.
func TestParallelBuildMatchesSerialAssignment(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h, _ := twoClusterHeap(t, rng, 40)

	rows, err := collectRows(h)
	require.NoError(t, err)

	opc := vecdist.Float32L2OpClass()
	centers, _, err := prepareCentroids(h, options.IVFOptions{Lists: 2}, opc, rand.New(rand.NewSource(42)), zerolog.Nop())
	require.NoError(t, err)

	serial, err := assignAll(h, centers, opc)
	require.NoError(t, err)
	parallel, err := assignParallel(rows, centers, opc, 4, zerolog.Nop())
	require.NoError(t, err)

	serialByTID := make(map[heap.TID]int, len(serial))
	for _, a := range serial {
		serialByTID[a.tid] = a.listID
	}
	require.Len(t, parallel, len(serial))
	for _, a := range parallel {
		assert.Equal(t, serialByTID[a.tid], a.listID)
	}
}

func TestBuildParallelFallsBackToSerialBelowTwoWorkers(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	h, _ := twoClusterHeap(t, rng, 10)

	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	opts := options.IVFOptions{Lists: 2, ParallelWorkers: 1}
	idx, stats, err := BuildParallel(bm, vecdist.Float32L2OpClass(), opts, 2, h, zerolog.Nop(), rng)
	require.NoError(t, err)
	assert.Equal(t, 20, stats.HeapTuples)
	assert.Equal(t, 2, idx.Lists())
}

func TestBuildParallelProducesSameCountAsSerial(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	h, _ := twoClusterHeap(t, rng, 20)

	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	opts := options.IVFOptions{Lists: 2, ParallelWorkers: 4}
	idx, stats, err := BuildParallel(bm, vecdist.Float32L2OpClass(), opts, 2, h, zerolog.Nop(), rng)
	require.NoError(t, err)
	assert.Equal(t, 40, stats.HeapTuples)
	assert.Equal(t, 40, stats.IndexTuples)
	assert.Equal(t, 2, idx.Lists())
}

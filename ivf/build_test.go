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

func vec2(x, y float32) vecdist.Vector {
	return vecdist.NewFloat32Vector([]float32{x, y})
}

// twoClusterHeap is spec.md §8 scenario 2/3: two well-separated Gaussian
// blobs, one centered near (0,0), the other near (20,20).
func twoClusterHeap(t *testing.T, rng *rand.Rand, perCluster int) (*heap.MemHeap, map[heap.TID]int) {
	t.Helper()
	h := heap.NewMemHeap()
	cluster := make(map[heap.TID]int, perCluster*2)
	centers := [][2]float32{{0, 0}, {20, 20}}
	for c, center := range centers {
		for i := 0; i < perCluster; i++ {
			x := center[0] + float32(rng.NormFloat64()*0.5)
			y := center[1] + float32(rng.NormFloat64()*0.5)
			tid, err := h.Insert(vec2(x, y))
			require.NoError(t, err)
			cluster[tid] = c
		}
	}
	return h, cluster
}

func TestBuildAssignsTwoClustersToDistinctLists(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	h, cluster := twoClusterHeap(t, rng, 30)

	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	opts := options.IVFOptions{Lists: 2}
	idx, stats, err := Build(bm, vecdist.Float32L2OpClass(), opts, 2, h, zerolog.Nop(), rng)
	require.NoError(t, err)
	assert.Equal(t, 60, stats.HeapTuples)
	assert.Equal(t, 60, stats.IndexTuples)
	assert.Equal(t, 2, idx.Lists())

	results, err := idx.Scan(vec2(0, 0), 30, 1)
	require.NoError(t, err)
	require.Len(t, results, 30)
	for _, r := range results {
		assert.Equal(t, 0, cluster[r.TID], "probe near (0,0) leaked a far-cluster point")
	}
}

func TestBuildSingleProbeCanMissTheOtherCluster(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	h, cluster := twoClusterHeap(t, rng, 25)

	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	opts := options.IVFOptions{Lists: 2}
	idx, _, err := Build(bm, vecdist.Float32L2OpClass(), opts, 2, h, zerolog.Nop(), rng)
	require.NoError(t, err)

	// probes=2 (all lists) must recover both clusters; probes=1 should
	// stay within the queried cluster.
	all, err := idx.Scan(vec2(20, 20), 50, 2)
	require.NoError(t, err)
	seen := map[int]bool{}
	for _, r := range all {
		seen[cluster[r.TID]] = true
	}
	assert.True(t, seen[0])
	assert.True(t, seen[1])

	near, err := idx.Scan(vec2(20, 20), 25, 1)
	require.NoError(t, err)
	for _, r := range near {
		assert.Equal(t, 1, cluster[r.TID])
	}
}

func TestBuildRejectsInvalidOptions(t *testing.T) {
	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	h := heap.NewMemHeap()
	_, err := h.Insert(vec2(0, 0))
	require.NoError(t, err)

	_, _, err = Build(bm, vecdist.Float32L2OpClass(), options.IVFOptions{Lists: 0}, 2, h, zerolog.Nop(), rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestBuildRejectsEmptyHeap(t *testing.T) {
	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	h := heap.NewMemHeap()
	_, _, err := Build(bm, vecdist.Float32L2OpClass(), options.IVFOptions{Lists: 1}, 2, h, zerolog.Nop(), rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

// TestBuildPadsCentroidsWhenHeapSmallerThanLists exercises spec.md §4.7's
// N < lists fallback: more lists requested than there are heap rows.
func TestBuildPadsCentroidsWhenHeapSmallerThanLists(t *testing.T) {
	bm := storage.NewBufferManager(storage.NewMemoryPageStore())
	h := heap.NewMemHeap()
	for _, p := range [][2]float32{{0, 0}, {1, 1}, {2, 2}} {
		_, err := h.Insert(vec2(p[0], p[1]))
		require.NoError(t, err)
	}
	idx, stats, err := Build(bm, vecdist.Float32L2OpClass(), options.IVFOptions{Lists: 10}, 2, h, zerolog.Nop(), rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.HeapTuples)
	assert.Equal(t, 10, idx.Lists())
}

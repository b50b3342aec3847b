package ivf

import (
	"math"
	"math/rand"

	"github.com/lblclass/annidx/heap"
	"github.com/lblclass/annidx/vecdist"
)

// SampleSize returns S = max(lists*50, 10000), the reservoir sample size
// spec.md §4.7 requires before seeding.
func SampleSize(lists int) int {
	s := lists * 50
	if s < 10000 {
		s = 10000
	}
	return s
}

// ReservoirSample draws up to size rows uniformly from h's live rows
// without knowing the row count in advance (Algorithm R).
func ReservoirSample(h heap.Heap, size int, rng *rand.Rand) ([]vecdist.Vector, error) {
	sample := make([]vecdist.Vector, 0, size)
	seen := 0
	err := h.Scan(func(row heap.Row) bool {
		seen++
		if len(sample) < size {
			sample = append(sample, row.Vector)
		} else {
			j := rng.Intn(seen)
			if j < size {
				sample[j] = row.Vector
			}
		}
		return true
	})
	return sample, err
}

// kmeansPlusPlus seeds k centroids from samples: the first chosen
// uniformly, each subsequent one with probability proportional to its
// squared distance to the nearest already-chosen centroid (spec.md §4.7).
func kmeansPlusPlus(samples []vecdist.Vector, k int, opc vecdist.OpClass, rng *rand.Rand) ([]vecdist.Vector, error) {
	centers := make([]vecdist.Vector, 0, k)
	centers = append(centers, samples[rng.Intn(len(samples))])

	minDist := make([]float64, len(samples))
	for i, s := range samples {
		d, err := seedDistance(opc, s, centers[0])
		if err != nil {
			return nil, err
		}
		minDist[i] = d
	}

	for len(centers) < k && len(centers) < len(samples) {
		total := 0.0
		for _, d := range minDist {
			total += d
		}
		var next int
		if total == 0 {
			next = rng.Intn(len(samples))
		} else {
			target := rng.Float64() * total
			acc := 0.0
			for i, d := range minDist {
				acc += d
				if acc >= target {
					next = i
					break
				}
			}
		}
		centers = append(centers, samples[next])
		for i, s := range samples {
			d, err := seedDistance(opc, s, samples[next])
			if err != nil {
				return nil, err
			}
			if d < minDist[i] {
				minDist[i] = d
			}
		}
	}
	return centers, nil
}

func seedDistance(opc vecdist.OpClass, a, b vecdist.Vector) (float64, error) {
	d, err := opc.Distance(a, b)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		d = -d // negative-inner-product opclasses: treat magnitude as the seeding weight
	}
	return d, nil
}

// DebugMetrics are the k-means quality figures spec.md §4.7 computes in
// debug builds; this implementation always computes them and gates their
// emission on log level instead of a build flag (see DESIGN.md).
type DebugMetrics struct {
	Inertia       float64
	DaviesBouldin float64
}

const (
	maxLloydIterations = 500
	stableFraction     = 0.99
)

// LloydRefine runs the Lloyd iteration of spec.md §4.7 starting from the
// k-means++ seed: reassign every sample to its nearest centroid, recompute
// centroids as the mean (re-normalized to the unit sphere for spherical
// opclasses), and stop once at least 99% of samples keep their prior
// assignment or maxLloydIterations is reached.
func LloydRefine(samples []vecdist.Vector, seeds []vecdist.Vector, opc vecdist.OpClass) ([]vecdist.Vector, DebugMetrics, error) {
	k := len(seeds)
	centers := append([]vecdist.Vector(nil), seeds...)
	assignment := make([]int, len(samples))
	for i := range assignment {
		assignment[i] = -1
	}

	for iter := 0; iter < maxLloydIterations; iter++ {
		newAssignment := make([]int, len(samples))
		changed := 0
		for i, s := range samples {
			best, bestDist := 0, math.Inf(1)
			for c, center := range centers {
				d, err := opc.Distance(s, center)
				if err != nil {
					return nil, DebugMetrics{}, err
				}
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			newAssignment[i] = best
			if assignment[i] != best {
				changed++
			}
		}
		assignment = newAssignment

		sums := make([][]float64, k)
		counts := make([]int, k)
		dim := samples[0].Dim()
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, s := range samples {
			c := assignment[i]
			counts[c]++
			for d := 0; d < dim; d++ {
				sums[c][d] += s.Float32At(d)
			}
		}
		for c := range centers {
			if counts[c] == 0 {
				continue // keep the previous centroid rather than produce a NaN mean
			}
			mean := make([]float32, dim)
			for d := 0; d < dim; d++ {
				mean[d] = float32(sums[c][d] / float64(counts[c]))
			}
			next := vecdist.NewFloat32Vector(mean)
			if opc.KMeansNorm != nil {
				normalized, err := opc.KMeansNorm(next)
				if err == nil {
					next = normalized
				}
			}
			centers[c] = next
		}

		if len(samples) > 0 && float64(len(samples)-changed)/float64(len(samples)) >= stableFraction {
			break
		}
	}

	metrics := computeDebugMetrics(samples, centers, assignment, opc)
	return centers, metrics, nil
}

func computeDebugMetrics(samples []vecdist.Vector, centers []vecdist.Vector, assignment []int, opc vecdist.OpClass) DebugMetrics {
	inertia := 0.0
	for i, s := range samples {
		d, err := opc.Distance(s, centers[assignment[i]])
		if err == nil {
			inertia += d
		}
	}

	k := len(centers)
	if k < 2 {
		return DebugMetrics{Inertia: inertia}
	}
	avgIntra := make([]float64, k)
	counts := make([]int, k)
	for i, s := range samples {
		c := assignment[i]
		d, err := opc.Distance(s, centers[c])
		if err == nil {
			avgIntra[c] += d
			counts[c]++
		}
	}
	for c := range avgIntra {
		if counts[c] > 0 {
			avgIntra[c] /= float64(counts[c])
		}
	}

	dbSum := 0.0
	for i := 0; i < k; i++ {
		worst := 0.0
		for j := 0; j < k; j++ {
			if i == j {
				continue
			}
			sep, err := opc.Distance(centers[i], centers[j])
			if err != nil || sep == 0 {
				continue
			}
			r := (avgIntra[i] + avgIntra[j]) / sep
			if r > worst {
				worst = r
			}
		}
		dbSum += worst
	}
	return DebugMetrics{Inertia: inertia, DaviesBouldin: dbSum / float64(k)}
}

// PadCentroids appends copies of centers, cycling from the first, until
// len(centers) == lists,
// the recall-warning fallback of spec.md §4.7 for `N < lists`.
func PadCentroids(centers []vecdist.Vector, lists int) []vecdist.Vector {
	if len(centers) == 0 || len(centers) >= lists {
		return centers
	}
	out := append([]vecdist.Vector(nil), centers...)
	for len(out) < lists {
		out = append(out, centers[len(out)%len(centers)])
	}
	return out
}

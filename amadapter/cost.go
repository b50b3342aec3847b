package amadapter

import (
	"fmt"
	"math"
)

// PlannerStats stands in for the host planner's PlannerInfo/IndexPath: the
// row-count and query-shape facts CostEstimate needs (spec.md §4.10).
type PlannerStats struct {
	// N is the estimated number of live rows the index covers.
	N int
	// K is the requested result size (LIMIT / k in `ORDER BY dist LIMIT k`).
	K int
}

// Cost is the estimated tuple-visit count CostEstimate returns; the host
// planner would combine this with its own I/O cost constants, which are
// out of scope here (spec.md §1).
type Cost struct {
	VisitedTuples float64
}

// CostEstimate implements spec.md §4.10's two formulas: for HNSW,
// visited ≈ (entry_level+2)×M with entry_level ≈ ln(N)×mL; for IVFFlat,
// visited ≈ N×(probes/lists).
func (am *AM) CostEstimate(stats PlannerStats) (Cost, error) {
	if stats.N <= 0 {
		return Cost{}, nil
	}
	switch am.Method {
	case MethodHNSW:
		m := am.HNSWOpts.M
		if m < 2 {
			m = 2
		}
		mL := 1.0 / math.Log(float64(m))
		entryLevel := math.Log(float64(stats.N)) * mL
		visited := (entryLevel + 2) * float64(m)
		return Cost{VisitedTuples: visited}, nil
	case MethodIVFFlat:
		lists := am.IVFOpts.Lists
		if lists < 1 {
			lists = 1
		}
		probes := 1
		visited := float64(stats.N) * (float64(probes) / float64(lists))
		return Cost{VisitedTuples: visited}, nil
	}
	return Cost{}, invalidParameter("CostEstimate", fmt.Errorf("unknown method %v", am.Method))
}

package amadapter

import (
	"fmt"

	"github.com/opentracing/opentracing-go"

	"github.com/lblclass/annidx/heap"
	"github.com/lblclass/annidx/hnsw"
	"github.com/lblclass/annidx/ivf"
	"github.com/lblclass/annidx/options"
	"github.com/lblclass/annidx/vecdist"
)

// Hit is one scan result, method-agnostic.
type Hit struct {
	TID      heap.TID
	Distance float64
}

// ScanDesc is the open cursor over a k-NN scan (spec.md §6's IndexScanDesc
// stand-in): a query, the session parameters it ran with, and the ordered
// hits GetTuple walks through one at a time.
type ScanDesc struct {
	am      *AM
	query   vecdist.Vector
	k       int
	session options.SessionParams

	hits []Hit
	pos  int
}

// BeginScan runs the full k-NN search for query immediately (spec.md §4.4
// HNSW search / §4.9 IVFFlat probe scan both materialize their ordered
// result before the first GetTuple, rather than streaming), validating
// session against am's method-appropriate range.
func (am *AM) BeginScan(query vecdist.Vector, k int, session options.SessionParams) (desc *ScanDesc, err error) {
	span := opentracing.GlobalTracer().StartSpan("amadapter.begin_scan")
	span.SetTag("method", am.Method.String())
	defer span.Finish()
	defer recoverInternal("BeginScan", &err)
	if k <= 0 {
		return nil, invalidParameter("BeginScan", fmt.Errorf("k must be positive, got %d", k))
	}

	desc = &ScanDesc{am: am, query: query, k: k, session: session}
	if err := desc.run(); err != nil {
		return nil, err
	}
	return desc, nil
}

// Rescan re-runs the scan for a new query without reopening the index,
// matching spec.md §6's amrescan entry point.
func (d *ScanDesc) Rescan(query vecdist.Vector) (err error) {
	defer recoverInternal("Rescan", &err)
	d.query = query
	d.pos = 0
	d.hits = nil
	return d.run()
}

func (d *ScanDesc) run() error {
	switch d.am.Method {
	case MethodHNSW:
		if d.am.hnswIdx == nil {
			return featureNotSupported("BeginScan", fmt.Errorf("hnsw index not built"))
		}
		if verr := options.ValidateEfSearch(d.session.EfSearch); verr != nil {
			return invalidParameter("BeginScan", verr)
		}
		results, serr := d.am.hnswIdx.KNNSearch(d.query, d.k, d.session.EfSearch)
		if serr != nil {
			return internalError("BeginScan", serr)
		}
		d.hits = fromHNSWResults(results)
		return nil
	case MethodIVFFlat:
		if d.am.ivfIdx == nil {
			return featureNotSupported("BeginScan", fmt.Errorf("ivfflat index not built"))
		}
		if verr := options.ValidateProbes(d.session.Probes, d.am.ivfIdx.Lists()); verr != nil {
			return invalidParameter("BeginScan", verr)
		}
		results, serr := d.am.ivfIdx.Scan(d.query, d.k, d.session.Probes)
		if serr != nil {
			return internalError("BeginScan", serr)
		}
		d.hits = fromIVFResults(results)
		return nil
	}
	return invalidParameter("BeginScan", fmt.Errorf("unknown method %v", d.am.Method))
}

// GetTuple returns the next hit in distance order, or ok=false once the
// scan is exhausted (spec.md §6 amgettuple / end-of-scan signaling).
func (d *ScanDesc) GetTuple() (hit Hit, ok bool) {
	if d.pos >= len(d.hits) {
		return Hit{}, false
	}
	hit = d.hits[d.pos]
	d.pos++
	return hit, true
}

// EndScan releases the scan descriptor's state (spec.md §6 amendscan).
// There is nothing beyond the in-memory hit slice to release here, but the
// method exists so callers don't need to special-case cleanup by AM type.
func (d *ScanDesc) EndScan() error {
	d.hits = nil
	d.pos = 0
	return nil
}

func fromHNSWResults(results []hnsw.Result) []Hit {
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{TID: r.TID, Distance: r.Distance}
	}
	return hits
}

func fromIVFResults(results []ivf.Result) []Hit {
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{TID: r.TID, Distance: r.Distance}
	}
	return hits
}
